package jobs

import (
	"fmt"
	"math"
	"math/rand"
	"strconv"
	"strings"

	"papercut/internal/domain"
)

// RandomSeed returns a pseudo-random seed in [1, 2^32-1].
func RandomSeed() uint32 {
	return uint32(rand.Int63n(math.MaxUint32)) + 1
}

// ResolveSeed returns the caller's seed, or a random one when none (or zero)
// was supplied.
func ResolveSeed(seed *uint32) uint32 {
	if seed == nil || *seed == 0 {
		return RandomSeed()
	}
	return *seed
}

// SeedFromInt validates an optional integer seed from a request body.
func SeedFromInt(v *int64) (*uint32, error) {
	if v == nil {
		return nil, nil
	}
	if *v < 0 || *v > math.MaxUint32 {
		return nil, fmt.Errorf("%w: %d is outside [0, %d]", domain.ErrInvalidSeed, *v, uint32(math.MaxUint32))
	}
	s := uint32(*v)
	return &s, nil
}

// ParseSeed validates an optional seed form field.
func ParseSeed(raw string) (*uint32, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: %q is not an integer", domain.ErrInvalidSeed, raw)
	}
	return SeedFromInt(&v)
}
