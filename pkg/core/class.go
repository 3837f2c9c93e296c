// pkg/core/class.go
package core

import "fmt"

// Class is the discriminator for the kind of asset an entity represents.
// Motion and encoding dispatch on it.
type Class string

const (
	ClassAIS  Class = "AIS"  // maritime vessel
	ClassADSB Class = "ADSB" // aircraft
	ClassGPS  Class = "GPS"  // ground vehicle
)

// Classes returns every known class in a stable order.
func Classes() []Class {
	return []Class{ClassAIS, ClassADSB, ClassGPS}
}

// ParseClass converts a source_type string into a Class.
func ParseClass(s string) (Class, error) {
	switch Class(s) {
	case ClassAIS, ClassADSB, ClassGPS:
		return Class(s), nil
	default:
		return "", fmt.Errorf("unknown source type: %q", s)
	}
}

// SpeedUnit reports the unit entity speeds are expressed in for the class.
func (c Class) SpeedUnit() string {
	if c == ClassGPS {
		return "kph"
	}
	return "kn"
}

func (c Class) String() string {
	return string(c)
}
