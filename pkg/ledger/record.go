package ledger

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	"github.com/Sumatoshi-tech/genexbench/pkg/query"
)

// Record holds every method's result for one query under one distance.
// Fields are only ever added; unknown fields found on disk are carried along.
type Record struct {
	Query query.Query

	entries map[string]Entry
	extra   map[string]json.RawMessage
}

func newRecord(q query.Query) *Record {
	return &Record{Query: q, entries: make(map[string]Entry)}
}

// Has reports whether a result for method is present.
func (r *Record) Has(method string) bool {
	_, ok := r.entries[method]

	return ok
}

// Entry returns the result recorded for method.
func (r *Record) Entry(method string) (Entry, bool) {
	e, ok := r.entries[method]

	return e, ok
}

// Methods lists the recorded methods in sorted order.
func (r *Record) Methods() []string {
	out := make([]string, 0, len(r.entries))
	for m := range r.entries {
		out = append(out, m)
	}

	slices.Sort(out)

	return out
}

// merge copies fields of other that r does not have yet.
func (r *Record) merge(other *Record) {
	for m, e := range other.entries {
		if !r.Has(m) {
			r.entries[m] = e
		}
	}

	for k, v := range other.extra {
		if r.extra == nil {
			r.extra = make(map[string]json.RawMessage)
		}

		if _, ok := r.extra[k]; !ok {
			r.extra[k] = v
		}
	}
}

// MarshalJSON writes {"query": ..., "result_<m>": ..., "time_<m>": ...}.
// Keys are emitted in sorted order so unchanged records encode identically.
func (r *Record) MarshalJSON() ([]byte, error) {
	fields := make(map[string]json.RawMessage, 1+2*len(r.entries)+len(r.extra))

	for k, v := range r.extra {
		fields[k] = v
	}

	q, err := json.Marshal(r.Query)
	if err != nil {
		return nil, err
	}

	fields[queryField] = q

	for m, e := range r.entries {
		result, timing, encErr := e.encode()
		if encErr != nil {
			return nil, fmt.Errorf("method %s: %w", m, encErr)
		}

		fields[resultPrefix+m] = result

		if timing != nil {
			fields[timePrefix+m] = timing
		}
	}

	return json.Marshal(fields)
}

// UnmarshalJSON reads a persisted record, pairing each result_<m> with its time_<m>.
func (r *Record) UnmarshalJSON(data []byte) error {
	var fields map[string]json.RawMessage

	err := json.Unmarshal(data, &fields)
	if err != nil {
		return fmt.Errorf("decode record: %w", err)
	}

	rawQuery, ok := fields[queryField]
	if !ok {
		return fmt.Errorf("%w: record without query", ErrCorrupt)
	}

	*r = *newRecord(query.Query{})

	err = json.Unmarshal(rawQuery, &r.Query)
	if err != nil {
		return err
	}

	for key, raw := range fields {
		method, isResult := strings.CutPrefix(key, resultPrefix)
		if !isResult {
			continue
		}

		entry, decErr := decodeEntry(raw, fields[timePrefix+method])
		if decErr != nil {
			return fmt.Errorf("field %s: %w", key, decErr)
		}

		r.entries[method] = entry
	}

	for key, raw := range fields {
		if key == queryField || strings.HasPrefix(key, resultPrefix) {
			continue
		}

		if method, isTime := strings.CutPrefix(key, timePrefix); isTime && r.Has(method) {
			continue
		}

		if r.extra == nil {
			r.extra = make(map[string]json.RawMessage)
		}

		r.extra[key] = raw
	}

	return nil
}
