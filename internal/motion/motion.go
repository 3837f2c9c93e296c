// Package motion advances simulated entities along great circles.
package motion

import (
	"math/rand/v2"
	"time"

	"github.com/tracksynth/tracksynth/internal/geo"
	"github.com/tracksynth/tracksynth/pkg/core"
)

const (
	// KnotsToKmPerSec converts a speed in knots to km/s.
	KnotsToKmPerSec = 0.000514444
	// KphToKmPerSec converts a speed in km/h to km/s.
	KphToKmPerSec = 0.000277778

	// HeadingDrift is the maximum heading perturbation per step, in degrees.
	HeadingDrift = 1.0
)

// UnitScale returns the km/s factor for one unit of speed of the class.
func UnitScale(c core.Class) float64 {
	if c == core.ClassGPS {
		return KphToKmPerSec
	}
	return KnotsToKmPerSec
}

// Displacement returns the distance in km covered at speed for elapsed.
func Displacement(c core.Class, speed float64, elapsed time.Duration) float64 {
	if speed <= 0 || elapsed <= 0 {
		return 0
	}
	return speed * UnitScale(c) * elapsed.Seconds()
}

// Advance moves pos along heading for elapsed at speed and then perturbs the
// heading by up to HeadingDrift degrees. It does not mutate anything.
func Advance(c core.Class, pos core.Position, heading, speed float64, elapsed time.Duration, rng *rand.Rand) (core.Position, float64) {
	next := geo.Destination(pos, heading, Displacement(c, speed, elapsed))
	drift := (rng.Float64()*2 - 1) * HeadingDrift
	return next, geo.NormalizeBearing(heading + drift)
}

// Step applies Advance to e in place.
func Step(e *core.Entity, elapsed time.Duration, rng *rand.Rand) {
	e.Position, e.Heading = Advance(e.Class, e.Position, e.Heading, e.Speed, elapsed, rng)
}
