package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/Sumatoshi-tech/genexbench/pkg/series"
)

// ErrOffline is returned by every call to Offline.
var ErrOffline = errors.New("engine is offline")

// Offline is a Port that rejects every call. Dry runs plan against it so a
// stray engine call fails instead of starting the engine process.
type Offline struct{}

var _ Port = Offline{}

func offline(op string) error {
	return fmt.Errorf("%s: %w", op, ErrOffline)
}

// LoadDataset implements Port.
func (Offline) LoadDataset(context.Context, string, string, LoadOptions) (DatasetInfo, error) {
	return DatasetInfo{}, offline(OpLoadDataset)
}

// UnloadDataset implements Port.
func (Offline) UnloadDataset(context.Context, string) error { return offline(OpUnloadDataset) }

// Normalize implements Port.
func (Offline) Normalize(context.Context, string) error { return offline(OpNormalize) }

// PrepareApproximation implements Port.
func (Offline) PrepareApproximation(context.Context, string, int) error {
	return offline(OpPrepareApproximation)
}

// QueryBruteforce implements Port.
func (Offline) QueryBruteforce(context.Context, int, Request, string) ([]series.Match, error) {
	return nil, offline(OpQueryBruteforce)
}

// QueryApprox implements Port.
func (Offline) QueryApprox(context.Context, int, Request, string) ([]series.Match, error) {
	return nil, offline(OpQueryApprox)
}

// QueryGrouped1NN implements Port.
func (Offline) QueryGrouped1NN(context.Context, Request) ([]series.Match, error) {
	return nil, offline(OpQueryGrouped1NN)
}

// QueryGroupedKNN implements Port.
func (Offline) QueryGroupedKNN(context.Context, int, float64, Request) ([]series.Match, error) {
	return nil, offline(OpQueryGroupedKNN)
}

// BuildGrouping implements Port.
func (Offline) BuildGrouping(context.Context, string, float64, string, int) (int, error) {
	return 0, offline(OpBuildGrouping)
}

// SaveGrouping implements Port.
func (Offline) SaveGrouping(context.Context, string, string) error { return offline(OpSaveGrouping) }

// SaveGroupingSizes implements Port.
func (Offline) SaveGroupingSizes(context.Context, string, string) error {
	return offline(OpSaveGroupingSizes)
}

// LoadGrouping implements Port.
func (Offline) LoadGrouping(context.Context, string, string) (int, error) {
	return 0, offline(OpLoadGrouping)
}
