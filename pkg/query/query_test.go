package query_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sumatoshi-tech/genexbench/pkg/query"
)

func TestQuery_JSONUsesIntegerOutside(t *testing.T) {
	t.Parallel()

	data, err := json.Marshal(query.Query{Index: 3, Start: 10, End: 40, Outside: true})
	require.NoError(t, err)

	assert.JSONEq(t, `{"index":3,"start":10,"end":40,"outside":1}`, string(data))

	var back query.Query

	require.NoError(t, json.Unmarshal([]byte(`{"index":3,"start":10,"end":40,"outside":0}`), &back))
	assert.Equal(t, query.Query{Index: 3, Start: 10, End: 40}, back)
}

func TestQuery_Validate(t *testing.T) {
	t.Parallel()

	require.NoError(t, query.Query{Index: 0, Start: 1, End: 3}.Validate())
	require.ErrorIs(t, query.Query{Index: 0, Start: 1, End: 2}.Validate(), query.ErrInvalidQuery)
	require.ErrorIs(t, query.Query{Index: -1, Start: 1, End: 9}.Validate(), query.ErrInvalidQuery)
}

func TestQuery_IsComparableKey(t *testing.T) {
	t.Parallel()

	seen := map[query.Query]int{}
	seen[query.Query{Index: 3, Start: 10, End: 40}]++
	seen[query.Query{Index: 3, Start: 10, End: 40}]++
	seen[query.Query{Index: 3, Start: 10, End: 40, Outside: true}]++

	assert.Len(t, seen, 2)
}

func TestQuery_String(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "[3, 10, 40, 1]", query.Query{Index: 3, Start: 10, End: 40, Outside: true}.String())
}
