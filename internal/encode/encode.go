// Package encode turns entity state into class specific wire messages.
package encode

import (
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/tracksynth/tracksynth/pkg/core"
)

// Result is the outcome of encoding one message.
type Result struct {
	Raw string
	Err error
}

func ok(raw string) Result {
	return Result{Raw: raw}
}

func failed(err error) Result {
	return Result{Err: err}
}

// Message returns the raw message, or the error marker if encoding failed.
func (r Result) Message() string {
	if r.Err != nil {
		return core.EncodingErrorMarker
	}
	return r.Raw
}

// Raw encodes the wire message for e at ts.
func Raw(e *core.Entity, ts time.Time, rng *rand.Rand) Result {
	switch e.Class {
	case core.ClassAIS:
		return AIS(e, ts)
	case core.ClassADSB:
		return ADSB(e, rng)
	case core.ClassGPS:
		return GPRMC(e, ts)
	default:
		return failed(fmt.Errorf("no encoder for class %q", e.Class))
	}
}

// Encode builds the output record for e at ts. The record is always
// usable; when the wire message could not be built it carries the error
// marker and the cause is returned alongside.
func Encode(e *core.Entity, ts time.Time, rng *rand.Rand) (core.Record, error) {
	res := Raw(e, ts, rng)

	rec := core.Record{
		SourceType: e.Class,
		ID:         e.ID,
		Timestamp:  core.FormatTimestamp(ts),
		Time:       ts.UTC(),
		Latitude:   core.Round(e.Position.Lat, 6),
		Longitude:  core.Round(e.Position.Lon, 6),
		Speed:      core.Round(e.Speed, 1),
		Heading:    roundHeading(e.Heading),
		RawMsg:     res.Message(),
	}

	switch e.Class {
	case core.ClassAIS:
		rec.Course = roundHeading(e.Heading)
		rec.Heading = float64(int(e.Heading))
		rec.Name = e.Name
		rec.Callsign = e.Callsign
		rec.TypeCode = e.TypeCode
	case core.ClassADSB:
		rec.AltitudeFt = int(e.Altitude)
		rec.Callsign = e.Callsign
	}

	return rec, res.Err
}

// VerifyRaw checks that a received raw message is well formed for its class.
func VerifyRaw(c core.Class, raw string) error {
	if raw == core.EncodingErrorMarker {
		return fmt.Errorf("record carries the encoding error marker")
	}
	switch c {
	case core.ClassAIS:
		if !strings.HasPrefix(raw, "!AIVDM,") {
			return fmt.Errorf("not an AIVDM sentence: %q", raw)
		}
		return Verify(raw)
	case core.ClassGPS:
		if !strings.HasPrefix(raw, "$GPRMC,") {
			return fmt.Errorf("not a GPRMC sentence: %q", raw)
		}
		return Verify(raw)
	case core.ClassADSB:
		if len(raw) != 20 || !strings.HasPrefix(raw, "*8D") || !strings.HasSuffix(raw, ";") || !validICAO(raw[3:9]) {
			return fmt.Errorf("not an AVR frame: %q", raw)
		}
		return nil
	default:
		return fmt.Errorf("unknown class %q", c)
	}
}
