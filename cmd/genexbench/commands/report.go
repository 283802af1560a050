package commands

import (
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/Sumatoshi-tech/genexbench/pkg/config"
	"github.com/Sumatoshi-tech/genexbench/pkg/observability"
	"github.com/Sumatoshi-tech/genexbench/pkg/persist"
	"github.com/Sumatoshi-tech/genexbench/pkg/query"
	"github.com/Sumatoshi-tech/genexbench/pkg/report"
)

func newStatusCommand(g *globals) *cobra.Command {
	var (
		format  string
		noColor bool
		k       int
	)

	cmd := &cobra.Command{
		Use:   "status [dataset...]",
		Short: "Show recorded queries, results and groupings per dataset",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := g.setup(observability.ModeReport, "", func(cfg *config.Config) {
				if changed(cmd, "k") {
					cfg.Experiment.K = k
				}
			})
			if err != nil {
				return err
			}
			defer e.close()

			cat, err := e.catalog()
			if err != nil {
				return err
			}

			st, err := report.Collect(report.Sources{
				Catalog:        cat,
				Queries:        query.NewStore(e.cfg.Paths.ExperimentRoot, e.cfg.Experiment.Seed, e.logger),
				ExperimentRoot: e.cfg.Paths.ExperimentRoot,
				K:              e.cfg.Experiment.K,
			}, args)
			if err != nil {
				return err
			}

			return report.Write(cmd.OutOrStdout(), st, format, !noColor && !color.NoColor)
		},
	}

	cmd.Flags().StringVar(&format, "format", report.FormatText, "output format: text, json, yaml")
	cmd.Flags().BoolVar(&noColor, "no-color", false, "disable colored text output")
	cmd.Flags().IntVar(&k, "k", config.DefaultK, "k of the genex curve ledger (default: experiment.k)")

	return cmd
}

// pageCodec renders the chart page of the dataset passed as state.
type pageCodec struct {
	experimentRoot string
	k              int
}

func (c pageCodec) Encode(w io.Writer, state any) error {
	dataset, ok := state.(string)
	if !ok {
		return fmt.Errorf("plot: unexpected state %T", state)
	}

	return report.Plot(w, c.experimentRoot, dataset, c.k)
}

func (pageCodec) Decode(io.Reader, any) error {
	return fmt.Errorf("plot: %w", report.ErrUnknownFormat)
}

func (pageCodec) Extension() string { return ".html" }

func newPlotCommand(g *globals) *cobra.Command {
	var (
		out string
		k   int
	)

	cmd := &cobra.Command{
		Use:   "plot <dataset>",
		Short: "Write accuracy and timing charts of one dataset as HTML",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := g.setup(observability.ModeReport, "", func(cfg *config.Config) {
				if changed(cmd, "k") {
					cfg.Experiment.K = k
				}
			})
			if err != nil {
				return err
			}
			defer e.close()

			dataset := args[0]
			if out == "" {
				out = dataset + pageCodec{}.Extension()
			}

			err = persist.SaveFile(out, pageCodec{experimentRoot: e.cfg.Paths.ExperimentRoot, k: e.cfg.Experiment.K}, dataset)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", out)

			return nil
		},
	}

	cmd.Flags().StringVarP(&out, "out", "o", "", "output file (default: <dataset>.html)")
	cmd.Flags().IntVar(&k, "k", config.DefaultK, "k of the genex curve ledger (default: experiment.k)")

	return cmd
}
