// Package experiment runs one similarity-search method over the queries
// of a dataset and records every answer in the dataset's result ledger. Each
// answer is flushed as soon as it arrives, so a rerun after an interruption
// issues only the queries that have no recorded result yet.
package experiment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	nooptrace "go.opentelemetry.io/otel/trace/noop"

	"github.com/Sumatoshi-tech/genexbench/pkg/catalog"
	"github.com/Sumatoshi-tech/genexbench/pkg/engine"
	"github.com/Sumatoshi-tech/genexbench/pkg/grouping"
	"github.com/Sumatoshi-tech/genexbench/pkg/ledger"
	"github.com/Sumatoshi-tech/genexbench/pkg/observability"
	"github.com/Sumatoshi-tech/genexbench/pkg/query"
)

// Method selects the search method of a run.
type Method string

// Methods.
const (
	Bruteforce Method = "bf"
	PAA        Method = "paa"
	Genex      Method = "genex"
)

// Defaults of the experiment parameters.
const (
	DefaultPAABlockSize = 3
	DefaultK            = 15
	extentSteps         = 50
)

// ErrUnknownMethod is returned for a method Run does not implement.
var ErrUnknownMethod = errors.New("unknown method")

// ParseMethod maps a method name to a Method.
func ParseMethod(name string) (Method, error) {
	switch m := Method(name); m {
	case Bruteforce, PAA, Genex:
		return m, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownMethod, name)
	}
}

// DefaultThresholds are the grouping thresholds genex runs read, 0.1 to 0.5.
func DefaultThresholds() []grouping.Threshold {
	return grouping.Range(1, 6)
}

// DefaultExtents is the extent sweep of the k-NN curve, 0.1 to 5.0.
func DefaultExtents() []float64 {
	out := make([]float64, extentSteps)
	for i := range out {
		out[i] = grouping.Threshold(i + 1).Float64()
	}

	return out
}

// GenexTag is the record field tag of genex results at st.
func GenexTag(st grouping.Threshold) string {
	return string(Genex) + "_" + st.String()
}

// CurveLedgerName names the ledger holding genex k-NN accuracy curves.
func CurveLedgerName(dataset string, k int) string {
	return dataset + "_" + strconv.Itoa(k) + "NN"
}

// Config wires a Runner.
type Config struct {
	// ExperimentRoot holds the result ledgers.
	ExperimentRoot string
	// DatasetRoot holds the dataset files.
	DatasetRoot  string
	Groups       grouping.Layout
	LoadOptions  engine.LoadOptions
	PAABlockSize int
	Thresholds   []grouping.Threshold
	Extents      []float64

	Logger  *slog.Logger
	Tracer  trace.Tracer
	Metrics *observability.RunMetrics
}

// Job is one dataset's worth of work.
type Job struct {
	Dataset   string
	Distances []string
	K         int
	Queries   []query.Query
	DryRun    bool
}

// Result reports what a run did.
type Result struct {
	Dataset string
	// Executed counts recorded units: one per query answer or k-NN curve.
	Executed int
	// Skipped counts units already recorded or lacking a brute-force baseline.
	Skipped int
	// Planned counts the units a dry run would execute.
	Planned int
	// MissingArtifacts counts (distance, threshold) pairs without a grouping file.
	MissingArtifacts int
	// Ledgers lists the ledger files the run wrote.
	Ledgers []string
}

// Runner drives the engine through the queries of a job.
type Runner struct {
	port engine.Port
	cfg  Config
}

// New returns a Runner.
func New(port engine.Port, cfg Config) *Runner {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	if cfg.Tracer == nil {
		cfg.Tracer = nooptrace.NewTracerProvider().Tracer("")
	}

	if cfg.PAABlockSize <= 0 {
		cfg.PAABlockSize = DefaultPAABlockSize
	}

	if cfg.Thresholds == nil {
		cfg.Thresholds = DefaultThresholds()
	}

	if cfg.Extents == nil {
		cfg.Extents = DefaultExtents()
	}

	return &Runner{port: port, cfg: cfg}
}

// Run executes method over job. Ledgers are opened before any engine call; a
// corrupt ledger aborts the run with ledger.ErrCorrupt. Datasets are loaded
// only once a unit actually needs the engine and are always unloaded before
// Run returns.
func (r *Runner) Run(ctx context.Context, method Method, job Job) (res Result, err error) {
	ctx, span := r.cfg.Tracer.Start(ctx, "experiment.Run", trace.WithAttributes(
		attribute.String("dataset", job.Dataset),
		attribute.String("method", string(method)),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}

		span.End()
	}()

	s := &session{
		Runner: r,
		method: method,
		job:    job,
		logger: r.cfg.Logger.With(slog.String("dataset", job.Dataset), slog.String("method", string(method))),
		res:    &res,
	}

	res.Dataset = job.Dataset

	s.results, err = ledger.Open(r.cfg.ExperimentRoot, job.Dataset)
	if err != nil {
		return res, err
	}

	if method == Genex {
		s.curves, err = ledger.Open(r.cfg.ExperimentRoot, CurveLedgerName(job.Dataset, job.K))
		if err != nil {
			return res, err
		}
	}

	defer func() {
		err = errors.Join(err, s.unload(ctx))
	}()

	switch method {
	case Bruteforce, PAA:
		err = s.runKNN(ctx)
	case Genex:
		err = s.runGenex(ctx)
	default:
		err = fmt.Errorf("%w: %q", ErrUnknownMethod, method)
	}

	return res, err
}

// session is the state of one Run.
type session struct {
	*Runner

	method  Method
	job     Job
	logger  *slog.Logger
	res     *Result
	results *ledger.Store
	curves  *ledger.Store

	loaded      []string
	groupsPath  string
	wroteLedger map[string]bool
}

func (s *session) sibling() string {
	return catalog.SiblingName(s.job.Dataset)
}

func (s *session) request(q query.Query) engine.Request {
	target := s.job.Dataset
	if q.Outside {
		target = s.sibling()
	}

	return engine.Request{Dataset: s.job.Dataset, QueryDataset: target, Span: q.Span()}
}

// ensureLoaded loads and normalizes the dataset and its sibling on first use.
func (s *session) ensureLoaded(ctx context.Context) error {
	if len(s.loaded) > 0 {
		return nil
	}

	files := []struct{ name, path string }{
		{s.job.Dataset, catalog.DataFile(s.cfg.DatasetRoot, s.job.Dataset)},
		{s.sibling(), catalog.SiblingFile(s.cfg.DatasetRoot, s.job.Dataset)},
	}

	for _, f := range files {
		info, err := s.port.LoadDataset(ctx, f.name, f.path, s.cfg.LoadOptions)
		if err != nil {
			return s.engineErr(ctx, fmt.Errorf("load %s: %w", f.name, err))
		}

		s.loaded = append(s.loaded, f.name)

		err = s.port.Normalize(ctx, f.name)
		if err != nil {
			return s.engineErr(ctx, fmt.Errorf("normalize %s: %w", f.name, err))
		}

		s.logger.InfoContext(ctx, "loaded and normalized dataset",
			slog.String("name", f.name), slog.Int64("count", info.Count), slog.Int64("length", info.Length))
	}

	if s.method == PAA {
		err := s.port.PrepareApproximation(ctx, s.job.Dataset, s.cfg.PAABlockSize)
		if err != nil {
			return s.engineErr(ctx, fmt.Errorf("prepare PAA of %s: %w", s.job.Dataset, err))
		}

		s.logger.InfoContext(ctx, "generated PAA", slog.Int("block_size", s.cfg.PAABlockSize))
	}

	return nil
}

// unload releases whatever ensureLoaded loaded, even after a failure.
func (s *session) unload(ctx context.Context) error {
	ctx = context.WithoutCancel(ctx)

	var errs []error

	for _, name := range s.loaded {
		err := s.port.UnloadDataset(ctx, name)
		if err != nil {
			errs = append(errs, fmt.Errorf("unload %s: %w", name, err))

			continue
		}

		s.logger.InfoContext(ctx, "unloaded dataset", slog.String("name", name))
	}

	s.loaded = nil

	return errors.Join(errs...)
}

func (s *session) engineErr(ctx context.Context, err error) error {
	s.cfg.Metrics.RecordEngineFailure(ctx, string(s.method))

	return err
}

// record upserts one entry and flushes the store at once.
func (s *session) record(store *ledger.Store, distance string, q query.Query, tag string, entry ledger.Entry) error {
	err := store.Upsert(distance, q, tag, entry)
	if err != nil {
		return err
	}

	err = store.Flush()
	if err != nil {
		return err
	}

	if s.wroteLedger == nil {
		s.wroteLedger = make(map[string]bool)
	}

	if !s.wroteLedger[store.Path()] {
		s.wroteLedger[store.Path()] = true
		s.res.Ledgers = append(s.res.Ledgers, store.Path())
	}

	s.res.Executed++

	return nil
}

func (s *session) skip(ctx context.Context, label, reason, msg string, attrs ...any) {
	s.logger.InfoContext(ctx, msg, attrs...)
	s.cfg.Metrics.RecordSkip(ctx, label, reason)
	s.res.Skipped++
}

func (s *session) plan(ctx context.Context, label string, attrs ...any) {
	s.logger.InfoContext(ctx, "would run", attrs...)
	s.cfg.Metrics.RecordSkip(ctx, label, observability.SkipDryRun)
	s.res.Planned++
}

func queryAttrs(distance string, q query.Query, pos, total int) []any {
	return []any{
		slog.String("distance", distance),
		slog.String("query", q.String()),
		slog.String("progress", strconv.Itoa(pos+1)+"/"+strconv.Itoa(total)),
	}
}

func timed[T any](call func() (T, error)) (T, time.Duration, error) {
	start := time.Now()
	v, err := call()

	return v, time.Since(start), err
}
