package query_test

import (
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sumatoshi-tech/genexbench/pkg/query"
)

func newRand(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed))
}

func TestGenerate_NeverDegenerate(t *testing.T) {
	t.Parallel()

	for _, length := range []int{3, 4, 10, 150} {
		queries, err := query.Generate(newRand(7), 500, query.Shape{Count: 20, Length: length})
		require.NoError(t, err)
		require.Len(t, queries, 500)

		for _, q := range queries {
			assert.Greater(t, q.End-q.Start, 1, "length %d: %v", length, q)
			assert.GreaterOrEqual(t, q.Start, 0)
			assert.Less(t, q.End, length)
			assert.GreaterOrEqual(t, q.Index, 0)
			assert.Less(t, q.Index, 20)
			assert.False(t, q.Outside)
		}
	}
}

func TestGenerate_ShortSeriesIsAnError(t *testing.T) {
	t.Parallel()

	for _, length := range []int{0, 1, 2} {
		_, err := query.Generate(newRand(1), 4, query.Shape{Count: 5, Length: length})
		require.ErrorIs(t, err, query.ErrNoValidSubsequence)
	}

	_, err := query.Generate(newRand(1), 4, query.Shape{Count: 0, Length: 50})
	require.ErrorIs(t, err, query.ErrNoValidSubsequence)
}

func TestGenerate_ZeroQueries(t *testing.T) {
	t.Parallel()

	queries, err := query.Generate(newRand(1), 0, query.Shape{Count: 0, Length: 0})
	require.NoError(t, err)
	assert.Empty(t, queries)
}

func TestGenerate_DeterministicForSeed(t *testing.T) {
	t.Parallel()

	shape := query.Shape{Count: 10, Length: 60}

	a, err := query.Generate(newRand(42), 25, shape)
	require.NoError(t, err)

	b, err := query.Generate(newRand(42), 25, shape)
	require.NoError(t, err)

	assert.Equal(t, a, b)
}
