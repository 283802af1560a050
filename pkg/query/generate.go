package query

import (
	"errors"
	"fmt"
	"math/rand/v2"
)

// minValidLength is the shortest series that still has a pair of offsets
// with end - start > 1.
const minValidLength = 3

// ErrNoValidSubsequence is returned when a dataset shape admits no valid query.
var ErrNoValidSubsequence = errors.New("no valid subsequence for dataset shape")

// Shape is the item count and item length of a dataset.
type Shape struct {
	Count  int
	Length int
}

// Generate draws n valid queries from a dataset of the given shape.
// Candidates are drawn in batches of n: a uniformly random series index and
// two uniformly random offsets whose min and max become Start and End.
// Candidates with End - Start <= 1 are rejected; batches repeat until n
// survivors exist and the first n are kept.
func Generate(rng *rand.Rand, n int, shape Shape) ([]Query, error) {
	if n <= 0 {
		return nil, nil
	}

	if shape.Count <= 0 || shape.Length < minValidLength {
		return nil, fmt.Errorf("%w: count=%d length=%d", ErrNoValidSubsequence, shape.Count, shape.Length)
	}

	out := make([]Query, 0, n)

	for len(out) < n {
		for range n {
			idx := rng.IntN(shape.Count)
			a := rng.IntN(shape.Length)
			b := rng.IntN(shape.Length)

			start, end := min(a, b), max(a, b)
			if end-start <= 1 {
				continue
			}

			out = append(out, Query{Index: idx, Start: start, End: end})
		}
	}

	return out[:n], nil
}
