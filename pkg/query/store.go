package query

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"path/filepath"
	"strconv"

	"github.com/Sumatoshi-tech/genexbench/pkg/persist"
)

// fileSuffix names a dataset's query file: <experiment_root>/<name>_query.csv.
const fileSuffix = "_query.csv"

// header is the column layout of a query file.
var header = []string{"index", "start", "end", "outside"}

// Sentinel errors for query files.
var (
	ErrBadHeader = errors.New("query file has unexpected header")
	ErrBadRow    = errors.New("query file has malformed row")
	ErrShortFile = errors.New("query file is truncated")
)

// Store hands out the persisted query set of each dataset, generating and
// saving it on first use.
type Store struct {
	dir    string
	rng    *rand.Rand
	logger *slog.Logger
}

// NewStore creates a query store rooted at dir. A zero seed draws a random one.
func NewStore(dir string, seed uint64, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}

	if seed == 0 {
		seed = rand.Uint64()
	}

	return &Store{
		dir:    dir,
		rng:    rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		logger: logger,
	}
}

// Path returns the query file path of a dataset.
func (s *Store) Path(name string) string {
	return filepath.Join(s.dir, name+fileSuffix)
}

// GetOrGenerate returns the dataset's query set. An existing file is loaded
// as is, whatever n asks for; a file whose rows are not the generated split
// yields ErrShortFile. Otherwise n/2 in-distribution and n - n/2
// out-of-distribution queries are generated, concatenated in that order,
// and persisted atomically.
func (s *Store) GetOrGenerate(name string, n int, in, out Shape) ([]Query, error) {
	path := s.Path(name)

	if persist.Exists(path) {
		queries, err := ReadFile(path)
		if err != nil {
			return nil, err
		}

		err = checkSplit(queries)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrShortFile, path, err)
		}

		s.logger.Info("found query file", slog.String("dataset", name), slog.Int("queries", len(queries)))

		return queries, nil
	}

	nin := n / 2
	nout := n - nin

	inQueries, err := Generate(s.rng, nin, in)
	if err != nil {
		return nil, fmt.Errorf("generate in-distribution queries for %s: %w", name, err)
	}

	outQueries, err := Generate(s.rng, nout, out)
	if err != nil {
		return nil, fmt.Errorf("generate out-of-distribution queries for %s: %w", name, err)
	}

	for i := range outQueries {
		outQueries[i].Outside = true
	}

	queries := append(inQueries, outQueries...)

	err = WriteFile(path, queries)
	if err != nil {
		return nil, err
	}

	s.logger.Info("generated queries", slog.String("dataset", name), slog.Int("queries", len(queries)))

	return queries, nil
}

// checkSplit verifies queries are len/2 in-distribution rows followed by the
// outside rows, the order GetOrGenerate writes them in. A file cut short
// loses part of its outside tail and fails here.
func checkSplit(queries []Query) error {
	if len(queries) == 0 {
		return errors.New("no queries")
	}

	nin := len(queries) / 2

	for i, q := range queries {
		if q.Outside != (i >= nin) {
			return fmt.Errorf("row %d has outside=%t, want %d in-distribution of %d", i, q.Outside, nin, len(queries))
		}
	}

	return nil
}

// csvCodec is a persist.Codec for query files.
type csvCodec struct{}

func (csvCodec) Extension() string { return ".csv" }

func (csvCodec) Encode(w io.Writer, state any) error {
	queries, ok := state.(*[]Query)
	if !ok {
		return fmt.Errorf("query codec: unexpected state %T", state)
	}

	return Write(w, *queries)
}

func (csvCodec) Decode(r io.Reader, state any) error {
	queries, ok := state.(*[]Query)
	if !ok {
		return fmt.Errorf("query codec: unexpected state %T", state)
	}

	out, err := Read(r)
	if err != nil {
		return err
	}

	*queries = out

	return nil
}

// ReadFile loads a query file.
func ReadFile(path string) ([]Query, error) {
	var queries []Query

	err := persist.LoadFile(path, csvCodec{}, &queries)
	if err != nil {
		return nil, fmt.Errorf("read query file: %w", err)
	}

	return queries, nil
}

// Read parses a query file with header index,start,end,outside.
func Read(r io.Reader) ([]Query, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = len(header)

	head, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBadHeader, err)
	}

	for i, col := range header {
		if head[i] != col {
			return nil, fmt.Errorf("%w: %v", ErrBadHeader, head)
		}
	}

	var queries []Query

	for {
		row, readErr := reader.Read()
		if errors.Is(readErr, io.EOF) {
			break
		}

		if readErr != nil {
			return nil, fmt.Errorf("%w: %w", ErrBadRow, readErr)
		}

		q, parseErr := parseRow(row)
		if parseErr != nil {
			return nil, parseErr
		}

		queries = append(queries, q)
	}

	return queries, nil
}

func parseRow(row []string) (Query, error) {
	var vals [4]int

	for i, cell := range row {
		v, err := strconv.Atoi(cell)
		if err != nil {
			return Query{}, fmt.Errorf("%w: %v: %w", ErrBadRow, row, err)
		}

		vals[i] = v
	}

	return Query{Index: vals[0], Start: vals[1], End: vals[2], Outside: vals[3] != 0}, nil
}

// WriteFile persists queries to path, atomically replacing any existing
// file: a crash leaves either no file or a complete one.
func WriteFile(path string, queries []Query) error {
	err := persist.SaveFile(path, csvCodec{}, &queries)
	if err != nil {
		return fmt.Errorf("write query file: %w", err)
	}

	return nil
}

// Write encodes queries as CSV with a header row.
func Write(w io.Writer, queries []Query) error {
	writer := csv.NewWriter(w)

	err := writer.Write(header)
	if err != nil {
		return fmt.Errorf("write query header: %w", err)
	}

	for _, q := range queries {
		err = writer.Write([]string{
			strconv.Itoa(q.Index),
			strconv.Itoa(q.Start),
			strconv.Itoa(q.End),
			strconv.Itoa(boolToInt(q.Outside)),
		})
		if err != nil {
			return fmt.Errorf("write query row: %w", err)
		}
	}

	writer.Flush()

	err = writer.Error()
	if err != nil {
		return fmt.Errorf("flush query file: %w", err)
	}

	return nil
}
