package encode

import (
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/tracksynth/tracksynth/internal/geo"
	"github.com/tracksynth/tracksynth/pkg/core"
)

const (
	aisMessageBits = 168
	aisMaxSpeed    = 102.2 // knots; 1023 means "not available"
)

// bitWriter packs unsigned and two's complement fields MSB first.
type bitWriter struct {
	bits []byte
}

func (w *bitWriter) putUint(v uint64, width int) {
	for i := width - 1; i >= 0; i-- {
		w.bits = append(w.bits, byte(v>>uint(i))&1)
	}
}

func (w *bitWriter) putInt(v int64, width int) {
	w.putUint(uint64(v)&(1<<uint(width)-1), width)
}

// armor converts the bit string into the AIS six bit ASCII payload.
func (w *bitWriter) armor() string {
	bits := w.bits
	for len(bits)%6 != 0 {
		bits = append(bits, 0)
	}
	out := make([]byte, 0, len(bits)/6)
	for i := 0; i < len(bits); i += 6 {
		var v byte
		for _, b := range bits[i : i+6] {
			v = v<<1 | b
		}
		c := v + 48
		if c > 87 {
			c += 8
		}
		out = append(out, c)
	}
	return string(out)
}

func validMMSI(id string) (uint64, error) {
	if len(id) == 0 || len(id) > 9 {
		return 0, fmt.Errorf("invalid mmsi %q", id)
	}
	v, err := strconv.ParseUint(id, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid mmsi %q: %w", id, err)
	}
	return v, nil
}

// AIS builds a type 1 position report for a vessel and frames it as a
// single fragment !AIVDM sentence on channel A.
func AIS(e *core.Entity, ts time.Time) Result {
	mmsi, err := validMMSI(e.ID)
	if err != nil {
		return failed(err)
	}
	if !geo.Valid(e.Position) {
		return failed(fmt.Errorf("ais %s: %w", e.ID, geo.ErrInvalidCoordinates))
	}
	if e.Speed < 0 || math.IsNaN(e.Speed) || math.IsNaN(e.Heading) {
		return failed(fmt.Errorf("ais %s: invalid speed or heading", e.ID))
	}

	heading := geo.NormalizeBearing(e.Heading)
	speed := math.Min(e.Speed, aisMaxSpeed)

	w := &bitWriter{bits: make([]byte, 0, aisMessageBits)}
	w.putUint(1, 6) // message type
	w.putUint(0, 2) // repeat indicator
	w.putUint(mmsi, 30)
	// navigation status 0 is "under way using engine", rate of turn 0
	w.putUint(0, 4)
	w.putInt(0, 8)
	w.putUint(uint64(math.Round(speed*10)), 10)
	w.putUint(0, 1) // position accuracy
	w.putInt(int64(math.Round(e.Position.Lon*600000)), 28)
	w.putInt(int64(math.Round(e.Position.Lat*600000)), 27)
	w.putUint(uint64(math.Round(heading*10))%3600, 12)
	w.putUint(uint64(heading), 9)
	w.putUint(uint64(ts.UTC().Second()), 6)
	// maneuver, spare, RAIM and radio status are left zero
	w.putUint(0, 2)
	w.putUint(0, 3)
	w.putUint(0, 1)
	w.putUint(0, 19)

	body := "AIVDM,1,1,,A," + w.armor() + ",0"
	return ok(Frame('!', body))
}
