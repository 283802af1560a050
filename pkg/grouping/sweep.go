package grouping

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/Sumatoshi-tech/genexbench/pkg/persist"
)

var sweepHeader = []string{"dist_name", "st", "group_count", "path", "size_path", "duration"}

// ErrBadSweepFile is returned when a sweep record file cannot be parsed.
var ErrBadSweepFile = errors.New("malformed sweep record file")

// Record is one completed grouping unit.
type Record struct {
	Distance   string
	Threshold  Threshold
	GroupCount int
	Path       string
	SizePath   string
	Duration   time.Duration
}

// sweepCodec is a persist.Codec for sweep record files.
type sweepCodec struct{}

func (sweepCodec) Extension() string { return ".csv" }

func (sweepCodec) Encode(w io.Writer, state any) error {
	records, ok := state.(*[]Record)
	if !ok {
		return fmt.Errorf("sweep codec: unexpected state %T", state)
	}

	writer := csv.NewWriter(w)

	err := writer.Write(sweepHeader)
	if err != nil {
		return fmt.Errorf("write sweep header: %w", err)
	}

	for _, r := range *records {
		err = writer.Write([]string{
			r.Distance,
			r.Threshold.String(),
			strconv.Itoa(r.GroupCount),
			r.Path,
			r.SizePath,
			strconv.FormatFloat(r.Duration.Seconds(), 'f', -1, 64),
		})
		if err != nil {
			return fmt.Errorf("write sweep row: %w", err)
		}
	}

	writer.Flush()

	return writer.Error()
}

func (sweepCodec) Decode(r io.Reader, state any) error {
	records, ok := state.(*[]Record)
	if !ok {
		return fmt.Errorf("sweep codec: unexpected state %T", state)
	}

	reader := csv.NewReader(r)
	reader.FieldsPerRecord = len(sweepHeader)

	rows, err := reader.ReadAll()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrBadSweepFile, err)
	}

	if len(rows) == 0 {
		return fmt.Errorf("%w: empty", ErrBadSweepFile)
	}

	for i, name := range sweepHeader {
		if rows[0][i] != name {
			return fmt.Errorf("%w: header %v", ErrBadSweepFile, rows[0])
		}
	}

	out := make([]Record, 0, len(rows)-1)

	for _, row := range rows[1:] {
		rec, parseErr := parseSweepRow(row)
		if parseErr != nil {
			return parseErr
		}

		out = append(out, rec)
	}

	*records = out

	return nil
}

func parseSweepRow(row []string) (Record, error) {
	st, err := strconv.ParseFloat(row[1], 64)
	if err != nil {
		return Record{}, fmt.Errorf("%w: st %q", ErrBadSweepFile, row[1])
	}

	count, err := strconv.Atoi(row[2])
	if err != nil {
		return Record{}, fmt.Errorf("%w: group_count %q", ErrBadSweepFile, row[2])
	}

	secs, err := strconv.ParseFloat(row[5], 64)
	if err != nil {
		return Record{}, fmt.Errorf("%w: duration %q", ErrBadSweepFile, row[5])
	}

	return Record{
		Distance:   row[0],
		Threshold:  ThresholdOf(st),
		GroupCount: count,
		Path:       row[3],
		SizePath:   row[4],
		Duration:   time.Duration(secs * float64(time.Second)),
	}, nil
}

// Sweep accumulates the records of one sweep and rewrites its CSV file in
// full after every append.
type Sweep struct {
	persister *persist.Persister[[]Record]
	records   []Record
}

// NewSweep starts an empty sweep backed by path. Nothing is written until
// the first Append.
func NewSweep(path string) *Sweep {
	return &Sweep{persister: persist.NewPersister[[]Record](path, sweepCodec{})}
}

// Path returns the sweep file.
func (s *Sweep) Path() string {
	return s.persister.Path()
}

// Records returns the records appended so far.
func (s *Sweep) Records() []Record {
	return append([]Record(nil), s.records...)
}

// Append adds r and rewrites the sweep file.
func (s *Sweep) Append(r Record) error {
	s.records = append(s.records, r)

	err := s.persister.Save(&s.records)
	if err != nil {
		return fmt.Errorf("write sweep records: %w", err)
	}

	return nil
}

// ReadSweep loads a sweep record file.
func ReadSweep(path string) ([]Record, error) {
	if !persist.Exists(path) {
		return nil, fmt.Errorf("read sweep %s: %w", path, os.ErrNotExist)
	}

	records, err := persist.NewPersister[[]Record](path, sweepCodec{}).Load()
	if err != nil {
		return nil, err
	}

	return *records, nil
}
