// Package fleet builds the set of simulated entities a run works on.
package fleet

import (
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/tracksynth/tracksynth/pkg/core"
)

// Strategy selects the fleet layout.
type Strategy string

const (
	// Fixed is a handful of entities per class, used for duration-bound runs.
	Fixed Strategy = "fixed"
	// Recycled is a large pool reused over and over for quota-bound runs.
	Recycled Strategy = "recycled"
)

// ProfilesFor returns the default profiles of a strategy.
func ProfilesFor(s Strategy) ([]Profile, error) {
	switch s {
	case Fixed:
		return DefaultProfiles(), nil
	case Recycled:
		return BulkProfiles(), nil
	default:
		return nil, fmt.Errorf("unknown fleet strategy: %q", s)
	}
}

// Fleet is an ordered, index-addressable collection of entities. Indexes
// are stable for the lifetime of the fleet and are used as tie breakers by
// the scheduler.
type Fleet struct {
	entities []core.Entity
	counts   map[core.Class]int
}

// New seeds a fleet from profiles using rng for every random draw.
func New(profiles []Profile, rng *rand.Rand) (*Fleet, error) {
	ids := newIdentities(rng)
	f := &Fleet{counts: make(map[core.Class]int)}

	for _, p := range profiles {
		if err := p.Validate(); err != nil {
			return nil, err
		}
		for i := 0; i < p.Count; i++ {
			f.entities = append(f.entities, spawn(p, ids, rng))
			f.counts[p.Class]++
		}
	}
	return f, nil
}

func spawn(p Profile, ids *identities, rng *rand.Rand) core.Entity {
	e := core.Entity{
		Class: p.Class,
		ID:    ids.id(p.Class),
		Position: core.Position{
			Lat: uniform(rng, p.Lat),
			Lon: uniform(rng, p.Lon),
		},
		Heading:      rng.Float64() * 360,
		Speed:        uniform(rng, p.Speed),
		Interval:     p.Interval,
		NextEmission: time.Duration(rng.Float64() * float64(p.StartupWindow)),
	}

	switch p.Class {
	case core.ClassAIS:
		e.Name = ids.vesselName()
		e.Callsign = ids.vesselCallsign()
		e.TypeCode = p.TypeCode
	case core.ClassADSB:
		e.Callsign = ids.flightCallsign()
		e.Altitude = p.Altitude
	}
	return e
}

func uniform(rng *rand.Rand, r Range) float64 {
	return r.Min + rng.Float64()*(r.Max-r.Min)
}

// Len returns the number of entities.
func (f *Fleet) Len() int {
	return len(f.entities)
}

// At returns the entity at index i. The pointer stays valid for the
// lifetime of the fleet.
func (f *Fleet) At(i int) *core.Entity {
	return &f.entities[i]
}

// Entities enumerates every entity in index order.
func (f *Fleet) Entities() []*core.Entity {
	out := make([]*core.Entity, len(f.entities))
	for i := range f.entities {
		out[i] = &f.entities[i]
	}
	return out
}

// CountByClass returns how many entities each class has.
func (f *Fleet) CountByClass() map[core.Class]int {
	out := make(map[core.Class]int, len(f.counts))
	for c, n := range f.counts {
		out[c] = n
	}
	return out
}

// Has reports whether at least one entity of class c exists.
func (f *Fleet) Has(c core.Class) bool {
	return f.counts[c] > 0
}
