package experiment

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/Sumatoshi-tech/genexbench/pkg/grouping"
	"github.com/Sumatoshi-tech/genexbench/pkg/ledger"
	"github.com/Sumatoshi-tech/genexbench/pkg/observability"
	"github.com/Sumatoshi-tech/genexbench/pkg/persist"
	"github.com/Sumatoshi-tech/genexbench/pkg/query"
	"github.com/Sumatoshi-tech/genexbench/pkg/series"
)

// genexKNNLabel labels k-NN curve units in metrics.
const genexKNNLabel = "genex_knn"

// runKNN answers every query with brute force or PAA.
func (s *session) runKNN(ctx context.Context) error {
	tag := string(s.method)
	total := len(s.job.Queries)

	for _, d := range s.job.Distances {
		for i, q := range s.job.Queries {
			attrs := queryAttrs(d, q, i, total)

			if s.results.Has(d, q, tag) {
				s.skip(ctx, tag, observability.SkipRecorded, "query is already run", attrs...)

				continue
			}

			if s.job.DryRun {
				s.plan(ctx, tag, attrs...)

				continue
			}

			err := s.ensureLoaded(ctx)
			if err != nil {
				return err
			}

			err = s.answer(ctx, tag, d, q, attrs, func(ctx context.Context) ([]series.Match, error) {
				if s.method == PAA {
					return s.port.QueryApprox(ctx, s.job.K, s.request(q), d)
				}

				return s.port.QueryBruteforce(ctx, s.job.K, s.request(q), d)
			})
			if err != nil {
				return err
			}
		}
	}

	return nil
}

// answer runs one query, then records and flushes its matches under tag.
func (s *session) answer(
	ctx context.Context, tag, distance string, q query.Query, attrs []any,
	call func(context.Context) ([]series.Match, error),
) error {
	attrs = slices.Clip(attrs)

	ctx, span := s.cfg.Tracer.Start(ctx, "experiment.query", trace.WithAttributes(
		attribute.String("distance", distance),
		attribute.String("method", tag),
		attribute.String("query.span", q.String()),
	))
	defer span.End()

	s.logger.InfoContext(ctx, "running query", attrs...)

	matches, elapsed, err := timed(func() ([]series.Match, error) { return call(ctx) })
	if err != nil {
		return s.engineErr(ctx, fmt.Errorf("%s query %s under %s on %s: %w", tag, q, distance, s.job.Dataset, err))
	}

	err = s.record(s.results, distance, q, tag, ledger.MatchesEntry(matches, elapsed))
	if err != nil {
		return err
	}

	s.cfg.Metrics.RecordUnit(ctx, tag, elapsed)
	s.logger.InfoContext(ctx, "finished query", append(attrs, slog.Duration("elapsed", elapsed))...)

	return nil
}

// runGenex answers every query with grouped 1-NN search at each threshold
// whose grouping file exists, and sweeps the k-NN extent for queries that
// already have a brute-force answer.
func (s *session) runGenex(ctx context.Context) error {
	for _, d := range s.job.Distances {
		for _, st := range s.cfg.Thresholds {
			path := s.cfg.Groups.GroupsPath(s.job.Dataset, d, st)

			if !persist.Exists(path) {
				s.logger.InfoContext(ctx, "group file not found, moving on",
					slog.String("distance", d), slog.String("threshold", st.String()), slog.String("path", path))
				s.cfg.Metrics.RecordSkip(ctx, string(Genex), observability.SkipArtifactMissing)
				s.res.MissingArtifacts++

				continue
			}

			err := s.runThreshold(ctx, d, st, path)
			if err != nil {
				return err
			}
		}
	}

	return nil
}

func (s *session) runThreshold(ctx context.Context, distance string, st grouping.Threshold, path string) error {
	tag := GenexTag(st)
	total := len(s.job.Queries)

	for i, q := range s.job.Queries {
		attrs := append(queryAttrs(distance, q, i, total), slog.String("threshold", st.String()))

		if s.results.Has(distance, q, tag) {
			s.skip(ctx, string(Genex), observability.SkipRecorded, "1-NN query is already run", attrs...)
		} else if s.job.DryRun {
			s.plan(ctx, string(Genex), attrs...)
		} else {
			err := s.ensureGroups(ctx, path)
			if err != nil {
				return err
			}

			err = s.answer(ctx, tag, distance, q, attrs, func(ctx context.Context) ([]series.Match, error) {
				return s.port.QueryGrouped1NN(ctx, s.request(q))
			})
			if err != nil {
				return err
			}
		}

		err := s.curve(ctx, distance, st, q, attrs)
		if err != nil {
			return err
		}
	}

	return nil
}

// curve records the k-NN accuracy curve of q at st against its brute-force answer.
func (s *session) curve(ctx context.Context, distance string, st grouping.Threshold, q query.Query, attrs []any) error {
	tag := GenexTag(st)
	attrs = append(slices.Clip(attrs), slog.Int("k", s.job.K))

	if s.curves.Has(distance, q, tag) {
		s.skip(ctx, genexKNNLabel, observability.SkipRecorded, "k-NN curve is already run", attrs...)

		return nil
	}

	rec, ok := s.results.Find(distance, q)

	var baseline ledger.Entry
	if ok {
		baseline, ok = rec.Entry(string(Bruteforce))
	}

	if !ok {
		s.skip(ctx, genexKNNLabel, observability.SkipNoBaseline, "k-NN curve has no brute-force result", attrs...)

		return nil
	}

	if s.job.DryRun {
		s.plan(ctx, genexKNNLabel, attrs...)

		return nil
	}

	err := s.ensureGroups(ctx, s.cfg.Groups.GroupsPath(s.job.Dataset, distance, st))
	if err != nil {
		return err
	}

	ctx, span := s.cfg.Tracer.Start(ctx, "experiment.curve", trace.WithAttributes(
		attribute.String("distance", distance),
		attribute.Float64("threshold", st.Float64()),
		attribute.String("query.span", q.String()),
	))
	defer span.End()

	s.logger.InfoContext(ctx, "running k-NN extent sweep", attrs...)

	accuracy := make([]float64, 0, len(s.cfg.Extents))
	elapsed := make([]time.Duration, 0, len(s.cfg.Extents))

	var total time.Duration

	for _, extent := range s.cfg.Extents {
		matches, took, callErr := timed(func() ([]series.Match, error) {
			return s.port.QueryGroupedKNN(ctx, s.job.K, extent, s.request(q))
		})
		if callErr != nil {
			return s.engineErr(ctx, fmt.Errorf("genex %d-NN query %s at extent %.1f under %s on %s: %w",
				s.job.K, q, extent, distance, s.job.Dataset, callErr))
		}

		accuracy = append(accuracy, series.Accuracy(matches, baseline.Matches))
		elapsed = append(elapsed, took)
		total += took
	}

	err = s.record(s.curves, distance, q, tag, ledger.CurveEntry(accuracy, elapsed))
	if err != nil {
		return err
	}

	s.cfg.Metrics.RecordUnit(ctx, genexKNNLabel, total)
	s.logger.InfoContext(ctx, "finished k-NN extent sweep", append(attrs, slog.Duration("elapsed", total))...)

	return nil
}

// ensureGroups loads the datasets and then the grouping at path, unless it is
// the grouping already in the engine.
func (s *session) ensureGroups(ctx context.Context, path string) error {
	err := s.ensureLoaded(ctx)
	if err != nil {
		return err
	}

	if s.groupsPath == path {
		return nil
	}

	n, err := s.port.LoadGrouping(ctx, s.job.Dataset, path)
	if err != nil {
		return s.engineErr(ctx, fmt.Errorf("load grouping %s: %w", path, err))
	}

	s.groupsPath = path
	s.logger.InfoContext(ctx, "loaded group file", slog.String("path", path), slog.Int("groups", n))

	return nil
}
