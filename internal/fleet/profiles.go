package fleet

import (
	"fmt"
	"os"
	"time"

	"github.com/tracksynth/tracksynth/pkg/core"
	"gopkg.in/yaml.v3"
)

// Range is a closed interval values are drawn uniformly from.
type Range struct {
	Min float64 `yaml:"min"`
	Max float64 `yaml:"max"`
}

// Profile describes how entities of one class are seeded.
type Profile struct {
	Class         core.Class    `yaml:"class"`
	Count         int           `yaml:"count"`
	Lat           Range         `yaml:"lat"`
	Lon           Range         `yaml:"lon"`
	Speed         Range         `yaml:"speed"`
	Interval      time.Duration `yaml:"interval"`
	StartupWindow time.Duration `yaml:"startupWindow"`
	Altitude      float64       `yaml:"altitude"`
	TypeCode      int           `yaml:"typeCode"`
}

// DefaultProfiles is the small fixed fleet used for duration-bound runs.
func DefaultProfiles() []Profile {
	return []Profile{
		{
			Class: core.ClassAIS, Count: 3,
			Lat: Range{20, 22}, Lon: Range{70, 72}, Speed: Range{10, 20},
			Interval: 2 * time.Second, StartupWindow: 500 * time.Millisecond,
			TypeCode: 70,
		},
		{
			Class: core.ClassADSB, Count: 3,
			Lat: Range{18, 25}, Lon: Range{68, 75}, Speed: Range{400, 550},
			Interval: 500 * time.Millisecond, StartupWindow: 500 * time.Millisecond,
			Altitude: 35000,
		},
		{
			Class: core.ClassGPS, Count: 2,
			Lat: Range{21.0, 21.1}, Lon: Range{72.5, 72.6}, Speed: Range{20, 60},
			Interval: time.Second, StartupWindow: 500 * time.Millisecond,
		},
	}
}

// BulkProfiles is the recycled fleet used for quota-bound runs.
func BulkProfiles() []Profile {
	return []Profile{
		{
			Class: core.ClassAIS, Count: 100,
			Lat: Range{20, 22}, Lon: Range{70, 72}, Speed: Range{10, 20},
			Interval: 5 * time.Second, StartupWindow: time.Second,
			TypeCode: 70,
		},
		{
			Class: core.ClassADSB, Count: 100,
			Lat: Range{18, 24}, Lon: Range{68, 74}, Speed: Range{400, 550},
			Interval: 500 * time.Millisecond, StartupWindow: time.Second,
			Altitude: 35000,
		},
		{
			Class: core.ClassGPS, Count: 100,
			Lat: Range{21.0, 21.2}, Lon: Range{72.5, 72.7}, Speed: Range{30, 100},
			Interval: time.Second, StartupWindow: time.Second,
		},
	}
}

// WithCount returns a copy of profiles where every class has count entities.
// A non-positive count leaves the profiles unchanged.
func WithCount(profiles []Profile, count int) []Profile {
	out := make([]Profile, len(profiles))
	copy(out, profiles)
	if count <= 0 {
		return out
	}
	for i := range out {
		out[i].Count = count
	}
	return out
}

type profileFile struct {
	Profiles []Profile `yaml:"profiles"`
}

// LoadProfiles reads class profiles from a YAML file. Classes present in the
// file replace the matching entry of base; other classes are kept.
func LoadProfiles(path string, base []Profile) ([]Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading profiles: %w", err)
	}

	var f profileFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing profiles: %w", err)
	}

	out := make([]Profile, len(base))
	copy(out, base)
	for _, p := range f.Profiles {
		if err := p.Validate(); err != nil {
			return nil, err
		}
		replaced := false
		for i := range out {
			if out[i].Class == p.Class {
				out[i] = p
				replaced = true
			}
		}
		if !replaced {
			out = append(out, p)
		}
	}
	return out, nil
}

// Validate checks that a profile can seed entities.
func (p Profile) Validate() error {
	if _, err := core.ParseClass(string(p.Class)); err != nil {
		return err
	}
	switch {
	case p.Count < 0:
		return fmt.Errorf("%s profile: negative count", p.Class)
	case p.Interval <= 0:
		return fmt.Errorf("%s profile: interval must be positive", p.Class)
	case p.StartupWindow < 0:
		return fmt.Errorf("%s profile: negative startup window", p.Class)
	case p.Speed.Min < 0 || p.Speed.Max < p.Speed.Min:
		return fmt.Errorf("%s profile: invalid speed range", p.Class)
	case p.Lat.Min < -90 || p.Lat.Max > 90 || p.Lat.Max < p.Lat.Min:
		return fmt.Errorf("%s profile: invalid latitude range", p.Class)
	case p.Lon.Min < -180 || p.Lon.Max > 180 || p.Lon.Max < p.Lon.Min:
		return fmt.Errorf("%s profile: invalid longitude range", p.Class)
	case p.Altitude < 0:
		return fmt.Errorf("%s profile: negative altitude", p.Class)
	}
	return nil
}
