// Package query generates, persists, and reloads the fixed query set of
// a dataset. Once written, a dataset's query file is reused verbatim by every
// later run so results from different methods stay comparable.
package query

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/Sumatoshi-tech/genexbench/pkg/series"
)

// Query is one search target: the subsequence [Start, End) of series Index, drawn from
// the in-distribution dataset or, when Outside is set, from its sibling.
// Query is comparable and serves directly as a lookup key.
type Query struct {
	Index   int
	Start   int
	End     int
	Outside bool
}

// ErrInvalidQuery is returned when a query violates End > Start+1.
var ErrInvalidQuery = errors.New("invalid query")

// wireQuery is the persisted shape; outside is stored as 0/1.
type wireQuery struct {
	Index   int `json:"index"`
	Start   int `json:"start"`
	End     int `json:"end"`
	Outside int `json:"outside"`
}

// Span returns the subsequence the query searches for.
func (q Query) Span() series.Span {
	return series.Span{Index: q.Index, Start: q.Start, End: q.End}
}

// Validate checks the subsequence is long enough to be a real query.
func (q Query) Validate() error {
	if q.Index < 0 || q.Start < 0 || q.End-q.Start <= 1 {
		return fmt.Errorf("%w: %s", ErrInvalidQuery, q)
	}

	return nil
}

// String renders the query the way it appears in log lines.
func (q Query) String() string {
	return "[" + strconv.Itoa(q.Index) + ", " + strconv.Itoa(q.Start) + ", " +
		strconv.Itoa(q.End) + ", " + strconv.Itoa(boolToInt(q.Outside)) + "]"
}

// MarshalJSON encodes the query as {"index","start","end","outside"}.
func (q Query) MarshalJSON() ([]byte, error) {
	return json.Marshal(wireQuery{
		Index:   q.Index,
		Start:   q.Start,
		End:     q.End,
		Outside: boolToInt(q.Outside),
	})
}

// UnmarshalJSON decodes the persisted query shape.
func (q *Query) UnmarshalJSON(data []byte) error {
	var w wireQuery

	err := json.Unmarshal(data, &w)
	if err != nil {
		return fmt.Errorf("decode query: %w", err)
	}

	*q = Query{Index: w.Index, Start: w.Start, End: w.End, Outside: w.Outside != 0}

	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}

	return 0
}
