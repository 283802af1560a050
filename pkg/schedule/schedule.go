// Package schedule decides which datasets a batch run processes and in what
// order. Cheaper datasets come first so a time-boxed or preempted run makes
// the most forward progress.
package schedule

import (
	"cmp"
	"slices"

	"github.com/Sumatoshi-tech/genexbench/pkg/catalog"
)

// Bounds filters datasets by subsequence count. A negative bound is unset.
type Bounds struct {
	Min int64
	Max int64
}

// Unbounded admits every dataset.
var Unbounded = Bounds{Min: -1, Max: -1}

// Admits reports whether a dataset with n subsequences falls within b.
func (b Bounds) Admits(n int64) bool {
	if b.Min >= 0 && n < b.Min {
		return false
	}

	if b.Max >= 0 && n > b.Max {
		return false
	}

	return true
}

// Source is the read side of a catalog the scheduler needs.
type Source interface {
	Names() []string
	Get(name string) (catalog.Dataset, bool)
}

// Order returns the primary datasets of src admitted by bounds, sorted by
// ascending subsequence count and then by name. Sibling entries are never
// scheduled on their own.
func Order(src Source, bounds Bounds) []string {
	type candidate struct {
		name  string
		count int64
	}

	var picked []candidate

	for _, name := range src.Names() {
		if catalog.IsSibling(name) {
			continue
		}

		ds, ok := src.Get(name)
		if !ok || !bounds.Admits(ds.Subsequence) {
			continue
		}

		picked = append(picked, candidate{name: name, count: ds.Subsequence})
	}

	slices.SortFunc(picked, func(a, b candidate) int {
		return cmp.Or(cmp.Compare(a.count, b.count), cmp.Compare(a.name, b.name))
	})

	out := make([]string, len(picked))
	for i, c := range picked {
		out[i] = c.name
	}

	return out
}
