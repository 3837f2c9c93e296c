package encode

import (
	"fmt"
	"math/rand/v2"
	"strings"

	"github.com/tracksynth/tracksynth/pkg/core"
)

// ADSB builds an AVR style frame for an aircraft. Only the framing and the
// ICAO address are meaningful; the payload digits are random.
func ADSB(e *core.Entity, rng *rand.Rand) Result {
	if !validICAO(e.ID) {
		return failed(fmt.Errorf("invalid icao address %q", e.ID))
	}
	return ok(fmt.Sprintf("*8D%s9944%06d;", strings.ToUpper(e.ID), 100000+rng.IntN(900000)))
}

func validICAO(id string) bool {
	if len(id) != 6 {
		return false
	}
	for _, c := range id {
		switch {
		case c >= '0' && c <= '9', c >= 'A' && c <= 'F', c >= 'a' && c <= 'f':
		default:
			return false
		}
	}
	return true
}
