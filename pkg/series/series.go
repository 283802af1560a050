// Package series holds the small value types shared by the engine port and the
// result ledger: subsequence spans and ranked nearest-neighbor matches.
package series

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// Span delimits a subsequence [Start, End) of the time series at Index.
type Span struct {
	Index int `json:"index" msgpack:"index"`
	Start int `json:"start" msgpack:"start"`
	End   int `json:"end"   msgpack:"end"`
}

// Match is one ranked answer to a similarity query.
type Match struct {
	Data Span    `json:"data" msgpack:"data"`
	Dist float64 `json:"dist" msgpack:"dist"`
}

// Accuracy scores approximate matches against exact ones as
// 1 - mean(relative distance error), comparing the two lists rank by rank.
// Ranks missing from approx count as a full error. An exact distance of zero
// is matched only by an approximate distance of zero.
func Accuracy(approx, exact []Match) float64 {
	if len(exact) == 0 {
		return 1
	}

	errs := make([]float64, len(exact))

	for i, want := range exact {
		if i >= len(approx) {
			errs[i] = 1

			continue
		}

		errs[i] = relativeError(approx[i].Dist, want.Dist)
	}

	return 1 - stat.Mean(errs, nil)
}

func relativeError(got, want float64) float64 {
	if want == 0 {
		if got == 0 {
			return 0
		}

		return 1
	}

	return math.Abs(got-want) / math.Abs(want)
}
