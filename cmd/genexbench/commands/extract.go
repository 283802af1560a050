package commands

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/Sumatoshi-tech/genexbench/pkg/extract"
	"github.com/Sumatoshi-tech/genexbench/pkg/observability"
)

func newExtractCommand(g *globals) *cobra.Command {
	var datasetRoot string

	cmd := &cobra.Command{
		Use:   "extract",
		Short: "Record the size and length of every dataset in the catalog",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := g.setup(observability.ModeRun, "", nil)
			if err != nil {
				return err
			}
			defer e.close()

			if datasetRoot == "" {
				datasetRoot = e.cfg.Paths.DatasetRoot
			}

			cat, err := e.catalog()
			if err != nil {
				return err
			}

			port, err := e.engine(cmd.Context(), false)
			if err != nil {
				return err
			}

			x := extract.New(port, cat, e.loadOptions(), e.logger, e.providers.Tracer)

			n, err := x.Run(cmd.Context(), datasetRoot)
			if err != nil {
				return fmt.Errorf("extract: %w", err)
			}

			e.logger.InfoContext(cmd.Context(), "catalog written",
				slog.String("path", cat.Path()), slog.Int("datasets", n))
			fmt.Fprintf(cmd.OutOrStdout(), "%d dataset file(s) recorded in %s\n", n, cat.Path())

			return nil
		},
	}

	cmd.Flags().StringVar(&datasetRoot, "dataset-root", "", "dataset root (default: paths.dataset_root)")

	return cmd
}
