package encode

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/tracksynth/tracksynth/internal/geo"
	"github.com/tracksynth/tracksynth/pkg/core"
)

// ErrChecksum is returned by Verify when a sentence checksum does not match.
var ErrChecksum = errors.New("checksum mismatch")

const kphPerKnot = 1.852

// Checksum returns the NMEA checksum of body: the XOR of every byte,
// rendered as two uppercase hex digits. body must not include the leading
// '$' or '!' nor the '*'.
func Checksum(body string) string {
	var cs byte
	for i := 0; i < len(body); i++ {
		cs ^= body[i]
	}
	return fmt.Sprintf("%02X", cs)
}

// Frame wraps body into a sentence with the given start delimiter.
func Frame(start byte, body string) string {
	return string(start) + body + "*" + Checksum(body)
}

// Verify checks the framing and checksum of a '$' or '!' sentence.
func Verify(sentence string) error {
	if len(sentence) < 4 || (sentence[0] != '$' && sentence[0] != '!') {
		return fmt.Errorf("not an NMEA sentence: %q", sentence)
	}
	star := strings.LastIndexByte(sentence, '*')
	if star < 0 || len(sentence)-star-1 != 2 {
		return fmt.Errorf("missing checksum: %q", sentence)
	}
	want := strings.ToUpper(sentence[star+1:])
	if got := Checksum(sentence[1:star]); got != want {
		return fmt.Errorf("%w: got %s want %s", ErrChecksum, got, want)
	}
	return nil
}

// DegreesMinutes renders |deg| as ddmm.mmmm (or dddmm.mmmm) zero padded to width.
func DegreesMinutes(deg float64, width int) string {
	deg = math.Abs(deg)
	d := math.Floor(deg)
	m := math.Round((deg-d)*60*10000) / 10000
	if m >= 60 {
		d++
		m = 0
	}
	return fmt.Sprintf("%0*.4f", width, d*100+m)
}

// nmeaTime renders hhmmss.ss, truncating to hundredths of a second.
func nmeaTime(ts time.Time) string {
	ts = ts.UTC()
	return fmt.Sprintf("%s.%02d", ts.Format("150405"), ts.Nanosecond()/int(10*time.Millisecond))
}

func hemisphere(v float64, pos, neg string) string {
	if v < 0 {
		return neg
	}
	return pos
}

// GPRMC builds a recommended minimum sentence for a ground vehicle. Speed is
// converted from km/h to knots.
func GPRMC(e *core.Entity, ts time.Time) Result {
	if !geo.Valid(e.Position) {
		return failed(fmt.Errorf("gprmc %s: %w", e.ID, geo.ErrInvalidCoordinates))
	}
	if e.Speed < 0 || math.IsNaN(e.Speed) {
		return failed(fmt.Errorf("gprmc %s: invalid speed %v", e.ID, e.Speed))
	}

	ts = ts.UTC()
	body := strings.Join([]string{
		"GPRMC",
		nmeaTime(ts),
		"A",
		DegreesMinutes(e.Position.Lat, 9),
		hemisphere(e.Position.Lat, "N", "S"),
		DegreesMinutes(e.Position.Lon, 10),
		hemisphere(e.Position.Lon, "E", "W"),
		fmt.Sprintf("%.1f", e.Speed/kphPerKnot),
		fmt.Sprintf("%.1f", roundHeading(e.Heading)),
		ts.Format("020106"),
		"",
		"",
	}, ",")
	return ok(Frame('$', body))
}

// roundHeading rounds to one decimal, keeping the result inside [0,360).
func roundHeading(h float64) float64 {
	h = core.Round(h, 1)
	if h >= 360 {
		return 0
	}
	return h
}
