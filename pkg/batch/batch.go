// Package batch drives a method or a grouping sweep over every scheduled
// dataset in turn. The first failure stops the batch and, outside dry runs,
// is reported through the notification sink; a finished batch sends a summary.
package batch

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dustin/go-humanize"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	nooptrace "go.opentelemetry.io/otel/trace/noop"

	"github.com/Sumatoshi-tech/genexbench/pkg/archive"
	"github.com/Sumatoshi-tech/genexbench/pkg/catalog"
	"github.com/Sumatoshi-tech/genexbench/pkg/experiment"
	"github.com/Sumatoshi-tech/genexbench/pkg/grouping"
	"github.com/Sumatoshi-tech/genexbench/pkg/notify"
	"github.com/Sumatoshi-tech/genexbench/pkg/observability"
	"github.com/Sumatoshi-tech/genexbench/pkg/query"
	"github.com/Sumatoshi-tech/genexbench/pkg/schedule"
)

// Config wires a Driver.
type Config struct {
	Catalog  *catalog.Catalog
	Queries  *query.Store
	Notifier notify.Sink
	// Archiver snapshots the files a dataset's run wrote. Nil disables it.
	Archiver *archive.Archiver

	Logger  *slog.Logger
	Tracer  trace.Tracer
	Metrics *observability.RunMetrics
}

// ExperimentOptions select one experiment batch.
type ExperimentOptions struct {
	Method    experiment.Method
	Distances []string
	K         int
	NQuery    int
	Bounds    schedule.Bounds
	DryRun    bool
	// Email receives the failure and summary notifications. Empty disables them.
	Email string
}

// GroupingOptions select one grouping batch.
type GroupingOptions struct {
	Sweep  grouping.Options
	Bounds schedule.Bounds
	Email  string
}

// Driver runs batches.
type Driver struct {
	cfg Config
}

// New returns a Driver.
func New(cfg Config) *Driver {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	if cfg.Tracer == nil {
		cfg.Tracer = nooptrace.NewTracerProvider().Tracer("")
	}

	if cfg.Notifier == nil {
		cfg.Notifier = notify.Discard{}
	}

	return &Driver{cfg: cfg}
}

// RunExperiments answers the queries of every scheduled dataset with
// opts.Method. Each dataset's query set is loaded, or generated and saved on
// first use, from its catalog shape.
func (d *Driver) RunExperiments(ctx context.Context, runner *experiment.Runner, opts ExperimentOptions) (Summary, error) {
	sum := Summary{Method: string(opts.Method), DryRun: opts.DryRun}

	err := d.each(ctx, string(opts.Method), opts.Bounds, opts.DryRun, func(ctx context.Context, name string) ([]string, error) {
		primary, sibling, err := d.cfg.Catalog.Pair(name)
		if err != nil {
			return nil, err
		}

		queries, err := d.cfg.Queries.GetOrGenerate(name, opts.NQuery,
			query.Shape{Count: int(primary.Count), Length: int(primary.Length)},
			query.Shape{Count: int(sibling.Count), Length: int(sibling.Length)})
		if err != nil {
			return nil, err
		}

		res, err := runner.Run(ctx, opts.Method, experiment.Job{
			Dataset:   name,
			Distances: opts.Distances,
			K:         opts.K,
			Queries:   queries,
			DryRun:    opts.DryRun,
		})
		sum.Experiments = append(sum.Experiments, res)

		return res.Ledgers, err
	})

	return d.finish(ctx, sum, opts.Email, err)
}

// RunGrouping sweeps thresholds over every scheduled dataset.
func (d *Driver) RunGrouping(ctx context.Context, sched *grouping.Scheduler, opts GroupingOptions) (Summary, error) {
	sum := Summary{Method: grouping.Method, DryRun: opts.Sweep.DryRun}

	err := d.each(ctx, grouping.Method, opts.Bounds, opts.Sweep.DryRun, func(ctx context.Context, name string) ([]string, error) {
		res, err := sched.Run(ctx, name, opts.Sweep)
		sum.Groupings = append(sum.Groupings, res)

		if res.SweepPath == "" {
			return nil, err
		}

		return []string{res.SweepPath, d.cfg.Catalog.Path()}, err
	})

	return d.finish(ctx, sum, opts.Email, err)
}

// unitFunc processes one dataset and returns the files it wrote.
type unitFunc func(ctx context.Context, name string) ([]string, error)

func (d *Driver) each(ctx context.Context, method string, bounds schedule.Bounds, dryRun bool, fn unitFunc) error {
	names := schedule.Order(d.cfg.Catalog, bounds)

	d.cfg.Logger.InfoContext(ctx, "scheduled datasets",
		slog.String("method", method), slog.Int("datasets", len(names)),
		slog.Int64("subseq_min", bounds.Min), slog.Int64("subseq_max", bounds.Max))

	for _, name := range names {
		err := d.one(ctx, method, name, dryRun, fn)
		if err != nil {
			return err
		}
	}

	return nil
}

func (d *Driver) one(ctx context.Context, method, name string, dryRun bool, fn unitFunc) (err error) {
	ds, _ := d.cfg.Catalog.Get(name)

	ctx, span := d.cfg.Tracer.Start(ctx, "batch.dataset", trace.WithAttributes(
		attribute.String("dataset", name),
		attribute.String("method", method),
		attribute.Int64("subsequence", ds.Subsequence),
	))
	defer func() {
		status := observability.StatusOK
		if err != nil {
			status = observability.StatusError

			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}

		d.cfg.Metrics.RecordDataset(ctx, method, status)
		span.End()
	}()

	d.cfg.Logger.InfoContext(ctx, "processing dataset",
		slog.String("dataset", name), slog.String("subsequences", humanize.Comma(ds.Subsequence)))

	written, err := fn(ctx, name)

	if !dryRun && len(written) > 0 {
		_, archiveErr := d.cfg.Archiver.Snapshot(ctx, name, written)
		if archiveErr != nil {
			d.cfg.Logger.WarnContext(ctx, "archive failed", slog.String("dataset", name), slog.Any("error", archiveErr))
		}
	}

	if err != nil {
		return fmt.Errorf("%s on %s: %w", method, name, err)
	}

	return nil
}

// finish notifies about the batch outcome. Dry runs never notify.
func (d *Driver) finish(ctx context.Context, sum Summary, email string, err error) (Summary, error) {
	if err != nil {
		d.cfg.Logger.ErrorContext(ctx, Title(sum.Method)+" stopped", slog.Any("error", err))

		if !sum.DryRun {
			d.cfg.Notifier.Notify(ctx, email, sum.FailureSubject(), sum.FailureBody(err))
		}

		return sum, err
	}

	d.cfg.Logger.InfoContext(ctx, sum.Headline())

	if !sum.DryRun {
		d.cfg.Notifier.Notify(ctx, email, sum.SuccessSubject(), sum.Body())
	}

	return sum, nil
}
