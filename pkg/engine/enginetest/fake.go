// Package enginetest provides an in-memory engine.Port for tests. It counts
// every call per operation and can be told to fail an operation after a
// number of successful calls.
package enginetest

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/Sumatoshi-tech/genexbench/pkg/engine"
	"github.com/Sumatoshi-tech/genexbench/pkg/series"
)

// Sentinel errors reported by the fake.
var (
	ErrNotLoaded   = errors.New("dataset not loaded")
	ErrUnknownFile = errors.New("no dataset registered for path")
	ErrNoGrouping  = errors.New("dataset has no grouping")
	ErrInjected    = errors.New("injected failure")
	errBadArtifact = errors.New("malformed grouping artifact")
)

type failure struct {
	after int
	err   error
}

// Fake is an in-memory engine. The zero value is not usable; call New.
type Fake struct {
	mu sync.Mutex

	files    map[string]engine.DatasetInfo
	loaded   map[string]engine.DatasetInfo
	groups   map[string]int
	calls    map[string]int
	failures map[string]failure
	history  []string

	// GroupCount computes the artifact count returned by BuildGrouping.
	GroupCount func(dataset string, threshold float64, distance string) int
}

// New returns an empty fake.
func New() *Fake {
	f := &Fake{
		files:    make(map[string]engine.DatasetInfo),
		loaded:   make(map[string]engine.DatasetInfo),
		groups:   make(map[string]int),
		calls:    make(map[string]int),
		failures: make(map[string]failure),
	}

	f.GroupCount = func(_ string, threshold float64, _ string) int {
		return int(math.Round(threshold*100)) + 1
	}

	return f
}

// AddFile registers the shape LoadDataset reports for path.
func (f *Fake) AddFile(path string, info engine.DatasetInfo) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.files[path] = info
}

// FailAfter makes op fail with err once it has succeeded n more times.
// A nil err injects ErrInjected.
func (f *Fake) FailAfter(op string, n int, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err == nil {
		err = ErrInjected
	}

	f.failures[op] = failure{after: f.calls[op] + n, err: err}
}

// Heal removes every injected failure.
func (f *Fake) Heal() {
	f.mu.Lock()
	defer f.mu.Unlock()

	clear(f.failures)
}

// Calls returns how many times op was invoked, failed calls included.
func (f *Fake) Calls(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.calls[op]
}

// TotalCalls returns the number of calls across all operations.
func (f *Fake) TotalCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return len(f.history)
}

// History returns every call as "op arg..." in call order.
func (f *Fake) History() []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]string(nil), f.history...)
}

// Loaded reports whether name is currently loaded.
func (f *Fake) Loaded(name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	_, ok := f.loaded[name]

	return ok
}

// LoadedNames counts the loaded datasets.
func (f *Fake) LoadedNames() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return len(f.loaded)
}

// enter counts the call and reports an injected failure, if due.
// The caller must hold f.mu.
func (f *Fake) enter(op string, args ...string) error {
	f.calls[op]++
	f.history = append(f.history, strings.TrimSpace(op+" "+strings.Join(args, " ")))

	if fl, ok := f.failures[op]; ok && f.calls[op] > fl.after {
		return fmt.Errorf("%w: %s", fl.err, op)
	}

	return nil
}

func (f *Fake) requireLoaded(names ...string) error {
	for _, name := range names {
		if _, ok := f.loaded[name]; !ok {
			return fmt.Errorf("%w: %s", ErrNotLoaded, name)
		}
	}

	return nil
}

func (f *Fake) LoadDataset(_ context.Context, name, path string, _ engine.LoadOptions) (engine.DatasetInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	err := f.enter(engine.OpLoadDataset, name)
	if err != nil {
		return engine.DatasetInfo{}, err
	}

	info, ok := f.files[path]
	if !ok {
		return engine.DatasetInfo{}, fmt.Errorf("%w: %s", ErrUnknownFile, path)
	}

	f.loaded[name] = info

	return info, nil
}

func (f *Fake) UnloadDataset(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	err := f.enter(engine.OpUnloadDataset, name)
	if err != nil {
		return err
	}

	delete(f.loaded, name)
	delete(f.groups, name)

	return nil
}

func (f *Fake) Normalize(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	err := f.enter(engine.OpNormalize, name)
	if err != nil {
		return err
	}

	return f.requireLoaded(name)
}

func (f *Fake) PrepareApproximation(_ context.Context, name string, blockSize int) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	err := f.enter(engine.OpPrepareApproximation, name, strconv.Itoa(blockSize))
	if err != nil {
		return err
	}

	return f.requireLoaded(name)
}

// matches fabricates k answers whose distances grow with rank and scale by
// skew, so exact (skew 1) and approximate (skew > 1) results differ
// predictably.
func matches(k int, req engine.Request, skew float64) []series.Match {
	out := make([]series.Match, k)

	width := req.Span.End - req.Span.Start
	for i := range out {
		out[i] = series.Match{
			Data: series.Span{Index: i, Start: req.Span.Start, End: req.Span.Start + width},
			Dist: float64(i+1) * 0.5 * skew,
		}
	}

	return out
}

func (f *Fake) query(op string, req engine.Request, args ...string) error {
	err := f.enter(op, append([]string{req.Dataset, req.QueryDataset, spanString(req.Span)}, args...)...)
	if err != nil {
		return err
	}

	return f.requireLoaded(req.Dataset, req.QueryDataset)
}

func (f *Fake) QueryBruteforce(_ context.Context, k int, req engine.Request, distance string) ([]series.Match, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	err := f.query(engine.OpQueryBruteforce, req, distance)
	if err != nil {
		return nil, err
	}

	return matches(k, req, 1), nil
}

func (f *Fake) QueryApprox(_ context.Context, k int, req engine.Request, distance string) ([]series.Match, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	err := f.query(engine.OpQueryApprox, req, distance)
	if err != nil {
		return nil, err
	}

	return matches(k, req, 1.25), nil
}

func (f *Fake) QueryGrouped1NN(_ context.Context, req engine.Request) ([]series.Match, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	err := f.query(engine.OpQueryGrouped1NN, req)
	if err != nil {
		return nil, err
	}

	if _, ok := f.groups[req.Dataset]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoGrouping, req.Dataset)
	}

	return matches(1, req, 1), nil
}

// QueryGroupedKNN answers more precisely as extent grows; from extent 1 on it
// matches brute force exactly.
func (f *Fake) QueryGroupedKNN(_ context.Context, k int, extent float64, req engine.Request) ([]series.Match, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	err := f.query(engine.OpQueryGroupedKNN, req, strconv.FormatFloat(extent, 'f', 1, 64))
	if err != nil {
		return nil, err
	}

	if _, ok := f.groups[req.Dataset]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoGrouping, req.Dataset)
	}

	skew := 1.0
	if extent < 1 {
		skew = 2 - extent
	}

	return matches(k, req, skew), nil
}

func (f *Fake) BuildGrouping(_ context.Context, dataset string, threshold float64, distance string, threads int) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	err := f.enter(engine.OpBuildGrouping, dataset, strconv.FormatFloat(threshold, 'f', 1, 64), distance, strconv.Itoa(threads))
	if err != nil {
		return 0, err
	}

	err = f.requireLoaded(dataset)
	if err != nil {
		return 0, err
	}

	n := f.GroupCount(dataset, threshold, distance)
	f.groups[dataset] = n

	return n, nil
}

func (f *Fake) SaveGrouping(_ context.Context, dataset, path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	err := f.enter(engine.OpSaveGrouping, dataset, filepath.Base(path))
	if err != nil {
		return err
	}

	n, ok := f.groups[dataset]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoGrouping, dataset)
	}

	return writeArtifact(path, n)
}

func (f *Fake) SaveGroupingSizes(_ context.Context, dataset, path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	err := f.enter(engine.OpSaveGroupingSizes, dataset, filepath.Base(path))
	if err != nil {
		return err
	}

	n, ok := f.groups[dataset]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoGrouping, dataset)
	}

	return writeArtifact(path, n)
}

func (f *Fake) LoadGrouping(_ context.Context, dataset, path string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	err := f.enter(engine.OpLoadGrouping, dataset, filepath.Base(path))
	if err != nil {
		return 0, err
	}

	err = f.requireLoaded(dataset)
	if err != nil {
		return 0, err
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("load grouping: %w", err)
	}

	n, err := strconv.Atoi(strings.TrimSpace(string(raw)))
	if err != nil {
		return 0, fmt.Errorf("%w: %s", errBadArtifact, path)
	}

	f.groups[dataset] = n

	return n, nil
}

// WriteGroupingArtifact creates a grouping file LoadGrouping accepts.
func WriteGroupingArtifact(path string, groups int) error {
	return writeArtifact(path, groups)
}

func writeArtifact(path string, groups int) error {
	err := os.MkdirAll(filepath.Dir(path), 0o750)
	if err != nil {
		return err
	}

	return os.WriteFile(path, []byte(strconv.Itoa(groups)+"\n"), 0o600)
}

func spanString(s series.Span) string {
	return fmt.Sprintf("%d:%d:%d", s.Index, s.Start, s.End)
}

var _ engine.Port = (*Fake)(nil)
