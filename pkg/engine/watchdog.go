package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/Sumatoshi-tech/genexbench/pkg/series"
)

// ErrStalled is returned when an engine call does not return within the
// watchdog timeout.
var ErrStalled = errors.New("engine stalled: call did not return within timeout")

// Watchdog wraps a Port so that every call fails with ErrStalled once the
// timeout elapses. The engine cannot be preempted, so a stall aborts the
// wrapped port when it is an Aborter; later calls then fail fast instead of
// queueing behind the stalled one.
type Watchdog struct {
	next    Port
	timeout time.Duration
	logger  *slog.Logger

	mu           sync.Mutex
	stalledCount int
}

// WithTimeout returns p guarded by a Watchdog, or p itself when timeout is
// zero or negative (disabled).
func WithTimeout(p Port, timeout time.Duration, logger *slog.Logger) Port {
	if timeout <= 0 {
		return p
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Watchdog{next: p, timeout: timeout, logger: logger}
}

// StalledCount returns the total number of stall events observed.
func (wd *Watchdog) StalledCount() int {
	wd.mu.Lock()
	defer wd.mu.Unlock()

	return wd.stalledCount
}

type outcome[T any] struct {
	val T
	err error
}

func guard[T any](ctx context.Context, wd *Watchdog, op string, call func(context.Context) (T, error)) (T, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan outcome[T], 1)

	go func() {
		v, err := call(ctx)
		done <- outcome[T]{val: v, err: err}
	}()

	timer := time.NewTimer(wd.timeout)
	defer timer.Stop()

	var zero T

	select {
	case res := <-done:
		return res.val, res.err
	case <-timer.C:
		wd.handleStall(ctx, op)

		return zero, StallError(op, wd.timeout)
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

func guardErr(ctx context.Context, wd *Watchdog, op string, call func(context.Context) error) error {
	_, err := guard(ctx, wd, op, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, call(ctx)
	})

	return err
}

// handleStall records a stall event and aborts the wrapped port.
func (wd *Watchdog) handleStall(ctx context.Context, op string) {
	wd.mu.Lock()
	wd.stalledCount++
	count := wd.stalledCount
	wd.mu.Unlock()

	wd.logger.WarnContext(ctx, "engine stall detected",
		slog.String("op", op),
		slog.Int("stall_count", count),
		slog.Duration("timeout", wd.timeout),
	)

	trace.SpanFromContext(ctx).AddEvent("engine.stall_detected", trace.WithAttributes(
		attribute.String("op", op),
		attribute.Int("stall_count", count),
	))

	a, ok := wd.next.(Aborter)
	if !ok {
		return
	}

	err := a.Abort()
	if err != nil {
		wd.logger.WarnContext(ctx, "engine abort failed", slog.String("op", op), slog.Any("error", err))
	}
}

// StallError creates a descriptive error for a stalled engine call.
func StallError(op string, timeout time.Duration) error {
	return fmt.Errorf("%w: op=%s timeout=%s; the engine process may need a restart", ErrStalled, op, timeout)
}

// LoadDataset implements Port.
func (wd *Watchdog) LoadDataset(ctx context.Context, name, path string, opts LoadOptions) (DatasetInfo, error) {
	return guard(ctx, wd, OpLoadDataset, func(ctx context.Context) (DatasetInfo, error) {
		return wd.next.LoadDataset(ctx, name, path, opts)
	})
}

// UnloadDataset implements Port.
func (wd *Watchdog) UnloadDataset(ctx context.Context, name string) error {
	return guardErr(ctx, wd, OpUnloadDataset, func(ctx context.Context) error {
		return wd.next.UnloadDataset(ctx, name)
	})
}

// Normalize implements Port.
func (wd *Watchdog) Normalize(ctx context.Context, name string) error {
	return guardErr(ctx, wd, OpNormalize, func(ctx context.Context) error {
		return wd.next.Normalize(ctx, name)
	})
}

// PrepareApproximation implements Port.
func (wd *Watchdog) PrepareApproximation(ctx context.Context, name string, blockSize int) error {
	return guardErr(ctx, wd, OpPrepareApproximation, func(ctx context.Context) error {
		return wd.next.PrepareApproximation(ctx, name, blockSize)
	})
}

// QueryBruteforce implements Port.
func (wd *Watchdog) QueryBruteforce(ctx context.Context, k int, req Request, distance string) ([]series.Match, error) {
	return guard(ctx, wd, OpQueryBruteforce, func(ctx context.Context) ([]series.Match, error) {
		return wd.next.QueryBruteforce(ctx, k, req, distance)
	})
}

// QueryApprox implements Port.
func (wd *Watchdog) QueryApprox(ctx context.Context, k int, req Request, distance string) ([]series.Match, error) {
	return guard(ctx, wd, OpQueryApprox, func(ctx context.Context) ([]series.Match, error) {
		return wd.next.QueryApprox(ctx, k, req, distance)
	})
}

// QueryGrouped1NN implements Port.
func (wd *Watchdog) QueryGrouped1NN(ctx context.Context, req Request) ([]series.Match, error) {
	return guard(ctx, wd, OpQueryGrouped1NN, func(ctx context.Context) ([]series.Match, error) {
		return wd.next.QueryGrouped1NN(ctx, req)
	})
}

// QueryGroupedKNN implements Port.
func (wd *Watchdog) QueryGroupedKNN(ctx context.Context, k int, extent float64, req Request) ([]series.Match, error) {
	return guard(ctx, wd, OpQueryGroupedKNN, func(ctx context.Context) ([]series.Match, error) {
		return wd.next.QueryGroupedKNN(ctx, k, extent, req)
	})
}

// BuildGrouping implements Port.
func (wd *Watchdog) BuildGrouping(ctx context.Context, dataset string, threshold float64, distance string, threads int) (int, error) {
	return guard(ctx, wd, OpBuildGrouping, func(ctx context.Context) (int, error) {
		return wd.next.BuildGrouping(ctx, dataset, threshold, distance, threads)
	})
}

// SaveGrouping implements Port.
func (wd *Watchdog) SaveGrouping(ctx context.Context, dataset, path string) error {
	return guardErr(ctx, wd, OpSaveGrouping, func(ctx context.Context) error {
		return wd.next.SaveGrouping(ctx, dataset, path)
	})
}

// SaveGroupingSizes implements Port.
func (wd *Watchdog) SaveGroupingSizes(ctx context.Context, dataset, path string) error {
	return guardErr(ctx, wd, OpSaveGroupingSizes, func(ctx context.Context) error {
		return wd.next.SaveGroupingSizes(ctx, dataset, path)
	})
}

// LoadGrouping implements Port.
func (wd *Watchdog) LoadGrouping(ctx context.Context, dataset, path string) (int, error) {
	return guard(ctx, wd, OpLoadGrouping, func(ctx context.Context) (int, error) {
		return wd.next.LoadGrouping(ctx, dataset, path)
	})
}
