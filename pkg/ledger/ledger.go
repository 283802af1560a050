// Package ledger persists experiment results per dataset. A ledger file maps
// each distance name to an ordered list of records; each record is keyed by
// its query and grows one method field at a time across runs. The ledger is
// rewritten in full after every recorded unit, so an interruption loses at
// most the unit in flight.
package ledger

import (
	"errors"
	"fmt"
	"path/filepath"
	"slices"

	"github.com/Sumatoshi-tech/genexbench/pkg/persist"
	"github.com/Sumatoshi-tech/genexbench/pkg/query"
)

// Sentinel errors for ledger operations.
var (
	// ErrCorrupt means a ledger file exists but cannot be trusted. Loading
	// stops here rather than starting over and discarding prior results.
	ErrCorrupt = errors.New("corrupt ledger")
	// ErrAlreadyRecorded means the record already holds the method's result.
	ErrAlreadyRecorded = errors.New("result already recorded")
)

// document is the on-disk shape: distance -> records.
type document map[string][]*Record

type bucket struct {
	records []*Record
	index   map[query.Query]*Record
}

// Store is the in-memory view of one ledger file.
type Store struct {
	name      string
	persister *persist.Persister[document]
	buckets   map[string]*bucket
	merged    int
}

// Path returns the ledger file of name under dir.
func Path(dir, name string) string {
	return filepath.Join(dir, name+".json")
}

// Open loads the ledger name from dir, or returns an empty store when no file
// exists yet. A file that fails to parse or validate yields ErrCorrupt.
// Records that repeat a query within a distance are folded into the first one.
func Open(dir, name string) (*Store, error) {
	s := &Store{
		name:      name,
		persister: persist.NewPersister[document](Path(dir, name), &validatingCodec{}),
		buckets:   make(map[string]*bucket),
	}

	if !s.persister.Exists() {
		return s, nil
	}

	doc, err := s.persister.Load()
	if err != nil {
		if !errors.Is(err, ErrCorrupt) {
			err = fmt.Errorf("%w: %w", ErrCorrupt, err)
		}

		return nil, fmt.Errorf("open ledger %s: %w", name, err)
	}

	for distance, records := range *doc {
		b := s.bucket(distance)

		for _, rec := range records {
			if rec == nil {
				return nil, fmt.Errorf("open ledger %s: %w: null record under %s", name, ErrCorrupt, distance)
			}

			if existing, ok := b.index[rec.Query]; ok {
				existing.merge(rec)
				s.merged++

				continue
			}

			b.records = append(b.records, rec)
			b.index[rec.Query] = rec
		}
	}

	return s, nil
}

// Name returns the ledger name.
func (s *Store) Name() string {
	return s.name
}

// Path returns the backing file.
func (s *Store) Path() string {
	return s.persister.Path()
}

// DuplicatesMerged reports how many duplicate records Open folded together.
func (s *Store) DuplicatesMerged() int {
	return s.merged
}

func (s *Store) bucket(distance string) *bucket {
	b, ok := s.buckets[distance]
	if !ok {
		b = &bucket{index: make(map[query.Query]*Record)}
		s.buckets[distance] = b
	}

	return b
}

// Find returns the record of q under distance, if any.
func (s *Store) Find(distance string, q query.Query) (*Record, bool) {
	b, ok := s.buckets[distance]
	if !ok {
		return nil, false
	}

	rec, ok := b.index[q]

	return rec, ok
}

// Has reports whether method's result for q under distance is recorded.
func (s *Store) Has(distance string, q query.Query, method string) bool {
	rec, ok := s.Find(distance, q)

	return ok && rec.Has(method)
}

// Upsert records method's result for q under distance, creating the record
// when q has none yet. Existing fields are never replaced: recording a method
// twice yields ErrAlreadyRecorded. Call Flush to persist.
func (s *Store) Upsert(distance string, q query.Query, method string, entry Entry) error {
	b := s.bucket(distance)

	rec, ok := b.index[q]
	if !ok {
		rec = newRecord(q)
		b.records = append(b.records, rec)
		b.index[q] = rec
	}

	if rec.Has(method) {
		return fmt.Errorf("%w: %s %s %s", ErrAlreadyRecorded, distance, q, method)
	}

	delete(rec.extra, resultPrefix+method)
	delete(rec.extra, timePrefix+method)

	rec.entries[method] = entry

	return nil
}

// Flush rewrites the ledger file atomically with the full store contents.
func (s *Store) Flush() error {
	doc := make(document, len(s.buckets))
	for distance, b := range s.buckets {
		doc[distance] = b.records
	}

	err := s.persister.Save(&doc)
	if err != nil {
		return fmt.Errorf("flush ledger %s: %w", s.name, err)
	}

	return nil
}

// Distances lists the distance buckets in sorted order.
func (s *Store) Distances() []string {
	out := make([]string, 0, len(s.buckets))
	for d := range s.buckets {
		out = append(out, d)
	}

	slices.Sort(out)

	return out
}

// Records returns the records under distance in insertion order.
func (s *Store) Records(distance string) []*Record {
	b, ok := s.buckets[distance]
	if !ok {
		return nil
	}

	return slices.Clone(b.records)
}

// Count returns how many records under distance hold method's result.
func (s *Store) Count(distance, method string) int {
	n := 0

	for _, rec := range s.Records(distance) {
		if rec.Has(method) {
			n++
		}
	}

	return n
}
