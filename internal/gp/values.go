package gp

import (
	"math/rand"

	"github.com/google/go-cmp/cmp"
)

// indexOfValue finds value in a domain list. Domain values may be slices, so
// equality is structural.
func indexOfValue(values []any, value any) int {
	for i, v := range values {
		if cmp.Equal(v, value) {
			return i
		}
	}
	return -1
}

func sampleValue(rng *rand.Rand, values []any) any {
	return values[rng.Intn(len(values))]
}

// resampleValue draws a value different from current when the domain offers
// one.
func resampleValue(rng *rand.Rand, values []any, current any) any {
	idx := indexOfValue(values, current)
	if idx < 0 || len(values) == 1 {
		return sampleValue(rng, values)
	}
	pick := rng.Intn(len(values) - 1)
	if pick >= idx {
		pick++
	}
	return values[pick]
}

func sampleParams(rng *rand.Rand, domain Domain) Params {
	if len(domain) == 0 {
		return nil
	}
	params := make(Params, len(domain))
	for _, name := range domain.Keys() {
		params[name] = sampleValue(rng, domain[name])
	}
	return params
}
