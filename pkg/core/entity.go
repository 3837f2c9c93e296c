// pkg/core/entity.go
package core

import "time"

// Position is a WGS84 coordinate in decimal degrees.
type Position struct {
	Lat float64
	Lon float64
}

// Entity is a single simulated asset. Identity and descriptive fields
// never change after creation; Position and Heading are only mutated by
// the motion model.
type Entity struct {
	Class    Class
	ID       string // MMSI, ICAO hex address or vehicle id
	Name     string // vessels only
	Callsign string // vessels and aircraft
	TypeCode int    // AIS ship type, vessels only

	Position Position
	Heading  float64 // degrees, [0,360)
	Speed    float64 // knots for AIS/ADSB, km/h for GPS
	Altitude float64 // feet, aircraft only

	// Interval is the nominal time between two emissions.
	Interval time.Duration
	// NextEmission is the simulated offset from run start of the next emission.
	NextEmission time.Duration
}
