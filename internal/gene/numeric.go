package gene

import (
	"math"
	"math/bits"
	"math/rand"

	"golang.org/x/exp/constraints"
)

const (
	resampleProbability = 0.1
	maxFloatDecades     = 6
)

func clamp[T constraints.Integer | constraints.Float](v, lo, hi T) T {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// span returns max-min as an unsigned distance, correct for the full int64 range.
func span(min, max int64) uint64 {
	return uint64(max) - uint64(min)
}

func randInt(rng *rand.Rand, min, max int64) int64 {
	s := span(min, max)
	if s == math.MaxUint64 {
		return int64(rng.Uint64())
	}
	return int64(uint64(min) + rng.Uint64()%(s+1))
}

func saturatingAdd(a int64, delta uint64) int64 {
	if delta > uint64(math.MaxInt64)-uint64(a) {
		return math.MaxInt64
	}
	return int64(uint64(a) + delta)
}

func saturatingSub(a int64, delta uint64) int64 {
	// uint64(a)+1<<63 is a-MinInt64 in unsigned arithmetic.
	if delta > uint64(a)+(1<<63) {
		return math.MinInt64
	}
	return int64(uint64(a) - delta)
}

// walkInt moves value by a power-of-two step. Strength in (0,1] widens the
// largest step relative to the width of the range.
func walkInt(rng *rand.Rand, value, min, max int64, strength float64) int64 {
	width := bits.Len64(span(min, max))
	if width == 0 {
		return value
	}
	limit := 1 + int(clamp(strength, 0, 1)*float64(width-1))
	step := uint64(1) << uint(rng.Intn(limit))
	up := rng.Intn(2) == 0
	if value == max {
		up = false
	} else if value == min {
		up = true
	}
	if up {
		return clamp(saturatingAdd(value, step), min, max)
	}
	return clamp(saturatingSub(value, step), min, max)
}

func randFloat(rng *rand.Rand, min, max float64) float64 {
	u := rng.Float64()
	return clamp(min*(1-u)+max*u, min, max)
}

func walkFloat(rng *rand.Rand, value, min, max, strength float64) float64 {
	width := max - min
	if width == 0 {
		return value
	}
	if math.IsInf(width, 0) {
		width = math.MaxFloat64
	}
	scale := clamp(strength, 0, 1) * width * math.Pow(10, -float64(rng.Intn(maxFloatDecades)))
	delta := (rng.Float64()*2 - 1) * scale
	next := clamp(value+delta, min, max)
	if next == value {
		return randFloat(rng, min, max)
	}
	return next
}
