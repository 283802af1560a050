package commands

import (
	"context"
	"io"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/Sumatoshi-tech/genexbench/pkg/batch"
	"github.com/Sumatoshi-tech/genexbench/pkg/catalog"
	"github.com/Sumatoshi-tech/genexbench/pkg/config"
	"github.com/Sumatoshi-tech/genexbench/pkg/experiment"
	"github.com/Sumatoshi-tech/genexbench/pkg/grouping"
	"github.com/Sumatoshi-tech/genexbench/pkg/observability"
	"github.com/Sumatoshi-tech/genexbench/pkg/query"
	"github.com/Sumatoshi-tech/genexbench/pkg/schedule"
)

// batchFlags are the flags every batch command shares.
type batchFlags struct {
	distances   []string
	dryRun      bool
	email       string
	subseqMin   int64
	subseqMax   int64
	metricsAddr string
}

func (bf *batchFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringSliceVar(&bf.distances, "dist", nil, "distances to run, comma separated (default: experiment.distances)")
	cmd.Flags().BoolVar(&bf.dryRun, "dry-run", false, "list the work without calling the engine or writing anything")
	cmd.Flags().StringVar(&bf.email, "email-addr", "", "notification recipient (default: notify.to)")
	cmd.Flags().Int64Var(&bf.subseqMin, "subseq-count-min", -1, "skip datasets with fewer subsequences (-1 = unset)")
	cmd.Flags().Int64Var(&bf.subseqMax, "subseq-count-max", -1, "skip datasets with more subsequences (-1 = unset)")
	cmd.Flags().StringVar(&bf.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on HOST:PORT while running")
}

func (bf *batchFlags) bounds() schedule.Bounds {
	return schedule.Bounds{Min: bf.subseqMin, Max: bf.subseqMax}
}

func (bf *batchFlags) mode() observability.AppMode {
	if bf.dryRun {
		return observability.ModeDryRun
	}

	return observability.ModeRun
}

func (bf *batchFlags) recipient(cfg *config.Config) string {
	if bf.email != "" {
		return bf.email
	}

	return cfg.Notify.To
}

// driver wires a batch driver over cat to e.
func (e *env) driver(cat *catalog.Catalog) (*batch.Driver, error) {
	arch, err := e.archiver()
	if err != nil {
		return nil, err
	}

	return batch.New(batch.Config{
		Catalog:  cat,
		Queries:  query.NewStore(e.cfg.Paths.ExperimentRoot, e.cfg.Experiment.Seed, e.logger),
		Notifier: e.notifier(),
		Archiver: arch,
		Logger:   e.logger,
		Tracer:   e.providers.Tracer,
		Metrics:  e.metrics,
	}), nil
}

func newMethodCommand(g *globals, method experiment.Method, use, short string) *cobra.Command {
	var (
		flags  batchFlags
		k      int
		nQuery int
	)

	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := g.setup(flags.mode(), flags.metricsAddr, func(cfg *config.Config) {
				if changed(cmd, "k") {
					cfg.Experiment.K = k
				}

				if changed(cmd, "nquery") {
					cfg.Experiment.NQuery = nQuery
				}

				if len(flags.distances) > 0 {
					cfg.Experiment.Distances = flags.distances
				}
			})
			if err != nil {
				return err
			}
			defer e.close()

			return e.serve(cmd.Context(), func(ctx context.Context) error {
				return runMethod(ctx, cmd.OutOrStdout(), e, method, &flags)
			})
		},
	}

	flags.register(cmd)
	cmd.Flags().IntVar(&k, "k", config.DefaultK, "neighbours per query (default: experiment.k)")
	cmd.Flags().IntVar(&nQuery, "nquery", config.DefaultNQuery, "queries per dataset on first generation (default: experiment.nquery)")

	return cmd
}

func runMethod(ctx context.Context, out io.Writer, e *env, method experiment.Method, flags *batchFlags) error {
	cat, err := e.catalog()
	if err != nil {
		return err
	}

	drv, err := e.driver(cat)
	if err != nil {
		return err
	}

	port, err := e.engine(ctx, flags.dryRun)
	if err != nil {
		return err
	}

	runner := experiment.New(port, experiment.Config{
		ExperimentRoot: e.cfg.Paths.ExperimentRoot,
		DatasetRoot:    e.cfg.Paths.DatasetRoot,
		Groups:         grouping.Layout{Root: e.cfg.Paths.GroupsRoot},
		LoadOptions:    e.loadOptions(),
		PAABlockSize:   e.cfg.Experiment.PAABlockSize,
		Thresholds:     thresholds(e.cfg.Experiment.Thresholds),
		Logger:         e.logger,
		Tracer:         e.providers.Tracer,
		Metrics:        e.metrics,
	})

	sum, err := drv.RunExperiments(ctx, runner, batch.ExperimentOptions{
		Method:    method,
		Distances: e.cfg.Experiment.Distances,
		K:         e.cfg.Experiment.K,
		NQuery:    e.cfg.Experiment.NQuery,
		Bounds:    flags.bounds(),
		DryRun:    flags.dryRun,
		Email:     flags.recipient(e.cfg),
	})

	if flags.dryRun {
		writeExperimentPlan(out, sum)
	}

	return err
}

// thresholds converts configured thresholds; none selects the default set.
func thresholds(values []float64) []grouping.Threshold {
	if len(values) == 0 {
		return nil
	}

	out := make([]grouping.Threshold, len(values))
	for i, v := range values {
		out[i] = grouping.ThresholdOf(v)
	}

	return out
}

func writeExperimentPlan(w io.Writer, sum batch.Summary) {
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.SetStyle(table.StyleLight)
	tw.SetTitle(batch.Title(sum.Method) + " dry run")
	tw.AppendHeader(table.Row{"Dataset", "Planned", "Done", "Missing group files"})

	planned := 0

	for _, r := range sum.Experiments {
		planned += r.Planned
		tw.AppendRow(table.Row{r.Dataset, humanize.Comma(int64(r.Planned)), humanize.Comma(int64(r.Skipped)), r.MissingArtifacts})
	}

	tw.AppendFooter(table.Row{"Total", humanize.Comma(int64(planned)), "", ""})
	tw.Render()
}

func newGroupCommand(g *globals) *cobra.Command {
	var (
		flags     batchFlags
		fromST    float64
		toST      float64
		threads   int
		startOver bool
	)

	cmd := &cobra.Command{
		Use:   "group",
		Short: "Build and save groupings over a threshold sweep for every dataset",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := g.setup(flags.mode(), flags.metricsAddr, func(cfg *config.Config) {
				if changed(cmd, "from-st") {
					cfg.Grouping.FromST = fromST
				}

				if changed(cmd, "to-st") {
					cfg.Grouping.ToST = toST
				}

				if changed(cmd, "threads") {
					cfg.Engine.Threads = threads
				}

				if len(flags.distances) > 0 {
					cfg.Experiment.Distances = flags.distances
				}
			})
			if err != nil {
				return err
			}
			defer e.close()

			return e.serve(cmd.Context(), func(ctx context.Context) error {
				return runGroup(ctx, cmd.OutOrStdout(), e, &flags, startOver)
			})
		},
	}

	flags.register(cmd)
	cmd.Flags().Float64Var(&fromST, "from-st", config.DefaultFromST, "first threshold of the sweep (default: grouping.from_st)")
	cmd.Flags().Float64Var(&toST, "to-st", config.DefaultToST, "end of the sweep, exclusive (default: grouping.to_st)")
	cmd.Flags().IntVar(&threads, "threads", config.DefaultThreads, "engine thread hint (default: engine.threads)")
	cmd.Flags().BoolVar(&startOver, "start-over", false, "forget recorded progress and rebuild every grouping")

	return cmd
}

func runGroup(ctx context.Context, out io.Writer, e *env, flags *batchFlags, startOver bool) error {
	cat, err := e.catalog()
	if err != nil {
		return err
	}

	drv, err := e.driver(cat)
	if err != nil {
		return err
	}

	port, err := e.engine(ctx, flags.dryRun)
	if err != nil {
		return err
	}

	sched := grouping.New(port, cat, grouping.Config{
		Layout:      grouping.Layout{Root: e.cfg.Paths.GroupsRoot},
		DatasetRoot: e.cfg.Paths.DatasetRoot,
		LoadOptions: e.loadOptions(),
		Logger:      e.logger,
		Tracer:      e.providers.Tracer,
		Metrics:     e.metrics,
	})

	sum, err := drv.RunGrouping(ctx, sched, batch.GroupingOptions{
		Sweep: grouping.Options{
			From:      grouping.ThresholdOf(e.cfg.Grouping.FromST),
			To:        grouping.ThresholdOf(e.cfg.Grouping.ToST),
			Distances: e.cfg.Experiment.Distances,
			Threads:   e.cfg.Engine.Threads,
			StartOver: startOver,
			DryRun:    flags.dryRun,
		},
		Bounds: flags.bounds(),
		Email:  flags.recipient(e.cfg),
	})

	if flags.dryRun {
		writeGroupingPlan(out, sum)
	}

	return err
}

func writeGroupingPlan(w io.Writer, sum batch.Summary) {
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.SetStyle(table.StyleLight)
	tw.SetTitle(batch.Title(sum.Method) + " dry run")
	tw.AppendHeader(table.Row{"Dataset", "Units", "Done"})

	for _, r := range sum.Groupings {
		units := make([]string, len(r.Planned))
		for i, u := range r.Planned {
			units[i] = u.Distance + " " + u.Threshold.String()
		}

		tw.AppendRow(table.Row{r.Dataset, strings.Join(units, ", "), r.Skipped})
	}

	tw.Render()
}
