package ledger

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Sumatoshi-tech/genexbench/pkg/series"
)

// Field name prefixes of a persisted record.
const (
	resultPrefix = "result_"
	timePrefix   = "time_"
	queryField   = "query"
)

// Kind tags the shape of an Entry.
type Kind uint8

const (
	// KindMatches is a ranked match list with one scalar timing.
	KindMatches Kind = iota + 1
	// KindCurve is an accuracy curve with one timing per curve point.
	KindCurve
)

// ErrUnknownShape is returned when a result field is neither a match list nor a curve.
var ErrUnknownShape = errors.New("unrecognized result shape")

// Entry is one method's result for one query.
type Entry struct {
	Kind Kind

	// Matches and Elapsed (seconds) are set for KindMatches.
	Matches []series.Match
	Elapsed float64

	// Curve and CurveElapsed (seconds per point) are set for KindCurve.
	Curve        []float64
	CurveElapsed []float64

	// untimed marks entries loaded without a time_ field, so re-encoding
	// does not invent one.
	untimed bool
}

// MatchesEntry builds a KindMatches entry.
func MatchesEntry(matches []series.Match, elapsed time.Duration) Entry {
	if matches == nil {
		matches = []series.Match{}
	}

	return Entry{Kind: KindMatches, Matches: matches, Elapsed: elapsed.Seconds()}
}

// CurveEntry builds a KindCurve entry.
func CurveEntry(curve []float64, elapsed []time.Duration) Entry {
	secs := make([]float64, len(elapsed))
	for i, d := range elapsed {
		secs[i] = d.Seconds()
	}

	if curve == nil {
		curve = []float64{}
	}

	return Entry{Kind: KindCurve, Curve: curve, CurveElapsed: secs}
}

func (e Entry) encode() (result, timing json.RawMessage, err error) {
	switch e.Kind {
	case KindMatches:
		result, err = json.Marshal(e.Matches)
		if err == nil {
			timing, err = json.Marshal(e.Elapsed)
		}
	case KindCurve:
		result, err = json.Marshal(e.Curve)
		if err == nil {
			timing, err = json.Marshal(e.CurveElapsed)
		}
	default:
		return nil, nil, fmt.Errorf("%w: kind %d", ErrUnknownShape, e.Kind)
	}

	if err != nil {
		return nil, nil, fmt.Errorf("encode entry: %w", err)
	}

	if e.untimed {
		timing = nil
	}

	return result, timing, nil
}

// decodeEntry infers the shape from the timing field when present (a number
// for match lists, an array for curves) and from the result otherwise.
func decodeEntry(result, timing json.RawMessage) (Entry, error) {
	if len(timing) > 0 {
		if firstByte(timing) == '[' {
			return decodeCurve(result, timing)
		}

		return decodeMatches(result, timing)
	}

	entry, err := decodeMatches(result, nil)
	if err != nil {
		entry, err = decodeCurve(result, nil)
	}

	if err != nil {
		return Entry{}, err
	}

	entry.untimed = true

	return entry, nil
}

func decodeMatches(result, timing json.RawMessage) (Entry, error) {
	var e Entry

	e.Kind = KindMatches

	err := json.Unmarshal(result, &e.Matches)
	if err != nil {
		return Entry{}, fmt.Errorf("%w: %w", ErrUnknownShape, err)
	}

	if e.Matches == nil {
		e.Matches = []series.Match{}
	}

	if len(timing) > 0 {
		err = json.Unmarshal(timing, &e.Elapsed)
		if err != nil {
			return Entry{}, fmt.Errorf("%w: %w", ErrUnknownShape, err)
		}
	}

	return e, nil
}

func decodeCurve(result, timing json.RawMessage) (Entry, error) {
	var e Entry

	e.Kind = KindCurve

	err := json.Unmarshal(result, &e.Curve)
	if err != nil {
		return Entry{}, fmt.Errorf("%w: %w", ErrUnknownShape, err)
	}

	if len(timing) > 0 {
		err = json.Unmarshal(timing, &e.CurveElapsed)
		if err != nil {
			return Entry{}, fmt.Errorf("%w: %w", ErrUnknownShape, err)
		}
	}

	return e, nil
}

func firstByte(raw json.RawMessage) byte {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return 0
	}

	return trimmed[0]
}
