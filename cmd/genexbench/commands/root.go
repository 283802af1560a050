// Package commands implements the genexbench subcommands.
package commands

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/Sumatoshi-tech/genexbench/pkg/engine"
	"github.com/Sumatoshi-tech/genexbench/pkg/experiment"
	"github.com/Sumatoshi-tech/genexbench/pkg/version"
)

// globals holds the persistent flags shared by every subcommand.
type globals struct {
	configPath string
	logLevel   string
	logJSON    bool

	// port replaces the engine subprocess when set.
	port engine.Port
	// logOutput replaces stderr for log lines when set.
	logOutput io.Writer
}

// RootOption configures the root command.
type RootOption func(*globals)

// WithEngine runs every subcommand against port instead of starting the
// engine process.
func WithEngine(port engine.Port) RootOption {
	return func(g *globals) { g.port = port }
}

// WithLogOutput sends log lines to w.
func WithLogOutput(w io.Writer) RootOption {
	return func(g *globals) { g.logOutput = w }
}

// NewRootCommand builds the genexbench command tree.
func NewRootCommand(opts ...RootOption) *cobra.Command {
	g := &globals{}
	for _, opt := range opts {
		opt(g)
	}

	rootCmd := &cobra.Command{
		Use:   "genexbench",
		Short: "Resumable similarity-search experiments over time-series archives",
		Long: `genexbench runs brute-force, PAA and GENEX similarity-search experiments and
grouping threshold sweeps over every dataset of an archive. Every finished
query and grouping is checkpointed, so an interrupted run resumes where it
stopped.

Commands:
  extract     Build the dataset catalog
  bruteforce  Exact k-NN over every dataset
  paa         PAA approximate k-NN over every dataset
  genex       Grouped 1-NN and k-NN accuracy sweeps over every dataset
  group       Grouping threshold sweep over every dataset
  status      Progress tables
  plot        Accuracy and timing charts of one dataset`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&g.configPath, "config", "", "config file (default: genexbench.yaml in ., ./config or /etc/genexbench)")
	rootCmd.PersistentFlags().StringVar(&g.logLevel, "log-level", "", "log level: debug, info, warn, error (overrides logging.level)")
	rootCmd.PersistentFlags().BoolVar(&g.logJSON, "log-json", false, "JSON log lines (overrides logging.format)")

	rootCmd.AddCommand(newExtractCommand(g))
	rootCmd.AddCommand(newMethodCommand(g, experiment.Bruteforce, "bruteforce",
		"Answer every query with exact brute-force k-NN search"))
	rootCmd.AddCommand(newMethodCommand(g, experiment.PAA, "paa",
		"Answer every query with PAA approximate k-NN search"))
	rootCmd.AddCommand(newMethodCommand(g, experiment.Genex, "genex",
		"Answer every query with grouped 1-NN search and sweep the k-NN extent"))
	rootCmd.AddCommand(newGroupCommand(g))
	rootCmd.AddCommand(newStatusCommand(g))
	rootCmd.AddCommand(newPlotCommand(g))
	rootCmd.AddCommand(versionCmd())

	return rootCmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version.String())
		},
	}
}
