// Package grouping sweeps similarity thresholds and distances for one dataset,
// building and saving a grouping artifact per (distance, threshold) unit.
// Completed units are tagged in the catalog's progress field, which is saved
// after every unit so an interrupted sweep resumes where it stopped.
package grouping

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	nooptrace "go.opentelemetry.io/otel/trace/noop"

	"github.com/Sumatoshi-tech/genexbench/pkg/catalog"
	"github.com/Sumatoshi-tech/genexbench/pkg/engine"
	"github.com/Sumatoshi-tech/genexbench/pkg/observability"
)

// Method labels grouping units in metrics.
const Method = "group"

const dirPerm = 0o750

// Progress is the progress ledger the scheduler reads and extends.
type Progress interface {
	HasProgress(name, tag string) bool
	AddProgress(name, tag string) error
	ClearProgress(name string)
	Save() error
}

// Unit is one (distance, threshold) pair of a sweep.
type Unit struct {
	Distance  string
	Threshold Threshold
}

// Options select the units of one sweep.
type Options struct {
	From      Threshold
	To        Threshold
	Distances []string
	Threads   int
	StartOver bool
	DryRun    bool
}

// Result reports what a sweep did.
type Result struct {
	Dataset string
	// Records holds the units executed, in order.
	Records []Record
	// Planned holds the units a dry run would execute.
	Planned []Unit
	// Skipped counts units already marked done.
	Skipped int
	// SweepPath is the record file, empty when nothing ran.
	SweepPath string
}

// Config wires a Scheduler.
type Config struct {
	Layout      Layout
	DatasetRoot string
	LoadOptions engine.LoadOptions
	Logger      *slog.Logger
	Tracer      trace.Tracer
	Metrics     *observability.RunMetrics
	Now         func() time.Time
}

// Scheduler runs threshold sweeps against the engine.
type Scheduler struct {
	port     engine.Port
	progress Progress
	cfg      Config
}

// New returns a Scheduler recording progress into progress.
func New(port engine.Port, progress Progress, cfg Config) *Scheduler {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	if cfg.Tracer == nil {
		cfg.Tracer = nooptrace.NewTracerProvider().Tracer("")
	}

	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &Scheduler{port: port, progress: progress, cfg: cfg}
}

// Run sweeps [opts.From, opts.To) for every distance of opts over dataset.
// An engine failure stops the sweep; units finished before it stay recorded.
func (s *Scheduler) Run(ctx context.Context, dataset string, opts Options) (res Result, err error) {
	ctx, span := s.cfg.Tracer.Start(ctx, "grouping.Run", trace.WithAttributes(
		attribute.String("dataset", dataset),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}

		span.End()
	}()

	logger := s.cfg.Logger.With(slog.String("dataset", dataset))
	res.Dataset = dataset

	if opts.StartOver {
		logger.InfoContext(ctx, "start over flag is set, resetting progress")
		s.progress.ClearProgress(dataset)

		if !opts.DryRun {
			err = s.progress.Save()
			if err != nil {
				return res, fmt.Errorf("reset progress of %s: %w", dataset, err)
			}
		}
	}

	var pending []Unit

	for _, d := range opts.Distances {
		for _, st := range Range(opts.From, opts.To) {
			u := Unit{Distance: d, Threshold: st}

			if s.progress.HasProgress(dataset, ProgressTag(dataset, d, st)) {
				logger.InfoContext(ctx, "already grouped", unitAttrs(u)...)
				s.cfg.Metrics.RecordSkip(ctx, Method, observability.SkipRecorded)

				res.Skipped++

				continue
			}

			pending = append(pending, u)
		}
	}

	if opts.DryRun {
		for _, u := range pending {
			logger.InfoContext(ctx, "would group", append(unitAttrs(u), slog.Int("threads", opts.Threads))...)
			s.cfg.Metrics.RecordSkip(ctx, Method, observability.SkipDryRun)
		}

		res.Planned = pending

		return res, nil
	}

	if len(pending) == 0 {
		return res, nil
	}

	return s.sweep(ctx, logger, dataset, pending, opts.Threads, res)
}

func (s *Scheduler) sweep(
	ctx context.Context, logger *slog.Logger, dataset string, units []Unit, threads int, res Result,
) (_ Result, err error) {
	info, err := s.port.LoadDataset(ctx, dataset, catalog.DataFile(s.cfg.DatasetRoot, dataset), s.cfg.LoadOptions)
	if err != nil {
		s.cfg.Metrics.RecordEngineFailure(ctx, Method)

		return res, fmt.Errorf("load %s: %w", dataset, err)
	}

	logger.InfoContext(ctx, "loaded dataset", slog.Int64("count", info.Count), slog.Int64("length", info.Length))

	defer func() {
		unloadErr := s.port.UnloadDataset(context.WithoutCancel(ctx), dataset)
		if unloadErr != nil {
			err = errors.Join(err, fmt.Errorf("unload %s: %w", dataset, unloadErr))

			return
		}

		logger.InfoContext(ctx, "unloaded dataset")
	}()

	sweep := NewSweep(s.cfg.Layout.SweepPath(dataset, s.cfg.Now()))
	res.SweepPath = sweep.Path()

	for _, u := range units {
		rec, unitErr := s.runUnit(ctx, logger, dataset, u, threads)
		if unitErr != nil {
			return res, unitErr
		}

		res.Records = append(res.Records, rec)

		err = sweep.Append(rec)
		if err != nil {
			return res, err
		}

		logger.InfoContext(ctx, "saved grouping record", slog.String("path", sweep.Path()))

		err = s.progress.AddProgress(dataset, ProgressTag(dataset, u.Distance, u.Threshold))
		if err == nil {
			err = s.progress.Save()
		}

		if err != nil {
			return res, fmt.Errorf("record progress of %s: %w", dataset, err)
		}
	}

	return res, nil
}

func (s *Scheduler) runUnit(ctx context.Context, logger *slog.Logger, dataset string, u Unit, threads int) (Record, error) {
	ctx, span := s.cfg.Tracer.Start(ctx, "grouping.unit", trace.WithAttributes(
		attribute.String("distance", u.Distance),
		attribute.Float64("threshold", u.Threshold.Float64()),
	))
	defer span.End()

	logger.InfoContext(ctx, "grouping", append(unitAttrs(u), slog.Int("threads", threads))...)

	start := time.Now()

	count, err := s.port.BuildGrouping(ctx, dataset, u.Threshold.Float64(), u.Distance, threads)
	if err != nil {
		s.cfg.Metrics.RecordEngineFailure(ctx, Method)
		span.SetStatus(codes.Error, err.Error())

		return Record{}, fmt.Errorf("group [%s, %s, %s]: %w", dataset, u.Distance, u.Threshold, err)
	}

	elapsed := time.Since(start)

	logger.InfoContext(ctx, "finished grouping",
		append(unitAttrs(u), slog.Int("group_count", count), slog.Duration("elapsed", elapsed))...)

	rec := Record{
		Distance:   u.Distance,
		Threshold:  u.Threshold,
		GroupCount: count,
		Path:       s.cfg.Layout.GroupsPath(dataset, u.Distance, u.Threshold),
		SizePath:   s.cfg.Layout.SizesPath(dataset, u.Distance, u.Threshold),
		Duration:   elapsed,
	}

	err = os.MkdirAll(s.cfg.Layout.Dir(dataset, u.Distance), dirPerm)
	if err != nil {
		return Record{}, fmt.Errorf("create grouping dir: %w", err)
	}

	err = s.port.SaveGrouping(ctx, dataset, rec.Path)
	if err == nil {
		err = s.port.SaveGroupingSizes(ctx, dataset, rec.SizePath)
	}

	if err != nil {
		s.cfg.Metrics.RecordEngineFailure(ctx, Method)

		return Record{}, fmt.Errorf("save grouping [%s, %s, %s]: %w", dataset, u.Distance, u.Threshold, err)
	}

	s.cfg.Metrics.RecordUnit(ctx, Method, elapsed)
	span.SetAttributes(attribute.Int("genexbench.group_count", count))

	return rec, nil
}

func unitAttrs(u Unit) []any {
	return []any{slog.String("distance", u.Distance), slog.String("threshold", u.Threshold.String())}
}
