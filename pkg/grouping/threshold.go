package grouping

import (
	"math"
	"strconv"
)

// Threshold is a similarity threshold in tenths: 3 is 0.3. Sweeps step by
// one tenth, so integer arithmetic keeps tags and file names exact.
type Threshold int

// ThresholdOf rounds f to the nearest tenth.
func ThresholdOf(f float64) Threshold {
	return Threshold(math.Round(f * 10))
}

// Float64 returns the threshold as the engine expects it.
func (t Threshold) Float64() float64 {
	return float64(t) / 10
}

// String formats the threshold with one decimal, e.g. "0.3".
func (t Threshold) String() string {
	return strconv.FormatFloat(t.Float64(), 'f', 1, 64)
}

// Range returns the thresholds in [from, to) stepped by one tenth.
func Range(from, to Threshold) []Threshold {
	if to <= from {
		return nil
	}

	out := make([]Threshold, 0, to-from)
	for t := from; t < to; t++ {
		out = append(out, t)
	}

	return out
}
