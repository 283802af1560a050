// Package engine defines the port through which the orchestrator drives the
// external similarity-search engine. Every call blocks until the engine
// answers; the orchestrator never overlaps two calls.
package engine

import (
	"context"
	"errors"

	"github.com/Sumatoshi-tech/genexbench/pkg/series"
)

// Operation names, shared by the wire protocol, the watchdog, and the test fake.
const (
	OpLoadDataset          = "loadDataset"
	OpUnloadDataset        = "unloadDataset"
	OpNormalize            = "normalize"
	OpPrepareApproximation = "prepareApproximation"
	OpQueryBruteforce      = "queryBruteforce"
	OpQueryApprox          = "queryApprox"
	OpQueryGrouped1NN      = "queryGrouped1NN"
	OpQueryGroupedKNN      = "queryGroupedKNN"
	OpBuildGrouping        = "buildGrouping"
	OpSaveGrouping         = "saveGrouping"
	OpSaveGroupingSizes    = "saveGroupingSizes"
	OpLoadGrouping         = "loadGrouping"
)

// ErrEngine wraps failures reported by the engine itself.
var ErrEngine = errors.New("engine error")

// LoadOptions describe the text layout of a dataset file.
type LoadOptions struct {
	Delimiter   string
	LabelColumn int
	SkipColumns int
}

// DefaultLoadOptions matches the UCR archive layout: comma separated, label
// in the last column, first column skipped.
var DefaultLoadOptions = LoadOptions{Delimiter: ",", LabelColumn: -1, SkipColumns: 1}

// DatasetInfo is the shape the engine reports after loading a dataset.
type DatasetInfo struct {
	Count  int64 `msgpack:"count"`
	Length int64 `msgpack:"length"`
}

// Request addresses one similarity query: the subsequence Span of
// QueryDataset is searched for in Dataset.
type Request struct {
	Dataset      string
	QueryDataset string
	Span         series.Span
}

// Port is the set of engine operations the orchestrator consumes.
type Port interface {
	LoadDataset(ctx context.Context, name, path string, opts LoadOptions) (DatasetInfo, error)
	UnloadDataset(ctx context.Context, name string) error
	Normalize(ctx context.Context, name string) error
	PrepareApproximation(ctx context.Context, name string, blockSize int) error

	QueryBruteforce(ctx context.Context, k int, req Request, distance string) ([]series.Match, error)
	QueryApprox(ctx context.Context, k int, req Request, distance string) ([]series.Match, error)
	QueryGrouped1NN(ctx context.Context, req Request) ([]series.Match, error)
	QueryGroupedKNN(ctx context.Context, k int, extent float64, req Request) ([]series.Match, error)

	BuildGrouping(ctx context.Context, dataset string, threshold float64, distance string, threads int) (int, error)
	SaveGrouping(ctx context.Context, dataset, path string) error
	SaveGroupingSizes(ctx context.Context, dataset, path string) error
	LoadGrouping(ctx context.Context, dataset, path string) (int, error)
}

// Aborter is implemented by ports that can tear down their session while a
// call is in flight. After Abort every call fails.
type Aborter interface {
	Abort() error
}
