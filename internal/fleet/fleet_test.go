package fleet

import (
	"math/rand/v2"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/tracksynth/tracksynth/pkg/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	mmsiPattern    = regexp.MustCompile(`^2\d{6}00$`)
	icaoPattern    = regexp.MustCompile(`^[0-9A-F]{6}$`)
	vehiclePattern = regexp.MustCompile(`^GPS-\d{2}`)
)

func seeded(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed))
}

func TestNew_DefaultFleet(t *testing.T) {
	f, err := New(DefaultProfiles(), seeded(7))
	require.NoError(t, err)

	assert.Equal(t, 8, f.Len())
	assert.Equal(t, map[core.Class]int{core.ClassAIS: 3, core.ClassADSB: 3, core.ClassGPS: 2}, f.CountByClass())

	for _, e := range f.Entities() {
		assert.GreaterOrEqual(t, e.Heading, 0.0)
		assert.Less(t, e.Heading, 360.0)
		assert.Less(t, e.NextEmission, 500*time.Millisecond)

		switch e.Class {
		case core.ClassAIS:
			assert.Regexp(t, mmsiPattern, e.ID)
			assert.NotEmpty(t, e.Name)
			assert.Equal(t, strings.ToUpper(e.Name), e.Name)
			assert.Len(t, e.Callsign, 4)
			assert.Equal(t, 70, e.TypeCode)
			assert.Equal(t, 2*time.Second, e.Interval)
			assert.InDelta(t, 21, e.Position.Lat, 1)
			assert.InDelta(t, 71, e.Position.Lon, 1)
			assert.InDelta(t, 15, e.Speed, 5)
		case core.ClassADSB:
			assert.Regexp(t, icaoPattern, e.ID)
			assert.Regexp(t, `^AX\d{3}$`, e.Callsign)
			assert.Equal(t, 35000.0, e.Altitude)
			assert.Equal(t, 500*time.Millisecond, e.Interval)
		case core.ClassGPS:
			assert.Regexp(t, vehiclePattern, e.ID)
			assert.Zero(t, e.Altitude)
			assert.Equal(t, time.Second, e.Interval)
			assert.InDelta(t, 40, e.Speed, 20)
		}
	}
}

func TestNew_UniqueIdentities(t *testing.T) {
	f, err := New(BulkProfiles(), seeded(3))
	require.NoError(t, err)
	require.Equal(t, 300, f.Len())

	seen := make(map[string]bool)
	for _, e := range f.Entities() {
		assert.False(t, seen[e.ID], "duplicate id %s", e.ID)
		seen[e.ID] = true
		assert.Less(t, e.NextEmission, time.Second)
	}
}

func TestNew_SameSeedSameFleet(t *testing.T) {
	a, err := New(DefaultProfiles(), seeded(42))
	require.NoError(t, err)
	b, err := New(DefaultProfiles(), seeded(42))
	require.NoError(t, err)

	for i := 0; i < a.Len(); i++ {
		assert.Equal(t, *a.At(i), *b.At(i))
	}
}

func TestNew_InvalidProfile(t *testing.T) {
	profiles := DefaultProfiles()
	profiles[0].Interval = 0

	_, err := New(profiles, seeded(1))
	assert.Error(t, err)
}

func TestAt_ReturnsStablePointer(t *testing.T) {
	f, err := New(DefaultProfiles(), seeded(1))
	require.NoError(t, err)

	f.At(0).Heading = 12
	assert.Equal(t, 12.0, f.Entities()[0].Heading)
}

func TestHas(t *testing.T) {
	profiles := DefaultProfiles()[:1]
	f, err := New(profiles, seeded(1))
	require.NoError(t, err)

	assert.True(t, f.Has(core.ClassAIS))
	assert.False(t, f.Has(core.ClassGPS))
}

func TestProfilesFor(t *testing.T) {
	p, err := ProfilesFor(Recycled)
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, p[0].Interval)

	_, err = ProfilesFor("bogus")
	assert.Error(t, err)
}

func TestWithCount(t *testing.T) {
	base := DefaultProfiles()
	out := WithCount(base, 10)

	for _, p := range out {
		assert.Equal(t, 10, p.Count)
	}
	assert.Equal(t, 3, base[0].Count, "base must not be modified")
	assert.Equal(t, base, WithCount(base, 0))
}

func TestLoadProfiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "profiles.yaml")
	doc := `
profiles:
  - class: GPS
    count: 5
    lat: {min: 48.1, max: 48.2}
    lon: {min: 11.5, max: 11.6}
    speed: {min: 10, max: 30}
    interval: 250ms
    startupWindow: 100ms
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0644))

	profiles, err := LoadProfiles(path, DefaultProfiles())
	require.NoError(t, err)
	require.Len(t, profiles, 3)

	gps := profiles[2]
	assert.Equal(t, core.ClassGPS, gps.Class)
	assert.Equal(t, 5, gps.Count)
	assert.Equal(t, 250*time.Millisecond, gps.Interval)
	assert.Equal(t, Range{Min: 48.1, Max: 48.2}, gps.Lat)
	assert.Equal(t, DefaultProfiles()[0], profiles[0])
}

func TestLoadProfiles_Errors(t *testing.T) {
	dir := t.TempDir()

	_, err := LoadProfiles(filepath.Join(dir, "missing.yaml"), DefaultProfiles())
	assert.Error(t, err)

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("profiles:\n  - class: BOAT\n    interval: 1s\n"), 0644))
	_, err = LoadProfiles(bad, DefaultProfiles())
	assert.Error(t, err)
}
