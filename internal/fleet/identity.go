package fleet

import (
	"fmt"
	"math/rand/v2"
	"strings"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/tracksynth/tracksynth/pkg/core"
)

const maxIdentityAttempts = 1000

// identities hands out unique, realistic looking identifiers per class.
type identities struct {
	faker *gofakeit.Faker
	rng   *rand.Rand
	seen  map[string]struct{}
}

func newIdentities(rng *rand.Rand) *identities {
	// gofakeit treats a zero seed as "random", keep it non-zero so a seeded
	// rng produces the same names every run
	return &identities{
		faker: gofakeit.New(rng.Uint64() | 1),
		rng:   rng,
		seen:  make(map[string]struct{}),
	}
}

func (g *identities) id(c core.Class) string {
	var gen func() string
	switch c {
	case core.ClassAIS:
		gen = func() string { return g.faker.Numerify("2######00") }
	case core.ClassADSB:
		gen = func() string { return fmt.Sprintf("%06X", g.rng.IntN(1<<24)) }
	default:
		gen = func() string { return g.faker.Numerify("GPS-##") }
	}

	for i := 0; i < maxIdentityAttempts; i++ {
		id := gen()
		if _, dup := g.seen[id]; !dup {
			g.seen[id] = struct{}{}
			return id
		}
	}
	// pattern space exhausted, disambiguate with a counter
	id := fmt.Sprintf("%s-%d", gen(), len(g.seen))
	g.seen[id] = struct{}{}
	return id
}

func (g *identities) vesselName() string {
	return strings.ToUpper(g.faker.Company())
}

func (g *identities) vesselCallsign() string {
	return strings.ToUpper(g.faker.Lexify("????"))
}

func (g *identities) flightCallsign() string {
	return g.faker.Numerify("AX###")
}
