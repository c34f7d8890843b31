package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

const version = "1.0.0"

const defaultConfigPath = "sync.toml"

type options struct {
	configPath string
	tables     []string
	once       bool
	verbose    bool
}

// NewRootCommand builds the ch-ferry command line.
func NewRootCommand() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:   "ch-ferry",
		Short: "Copy MySQL/SQLite tables into ClickHouse",
		Long: `ch-ferry copies whole tables from a relational source into ClickHouse over HTTP.

Each table is introspected, recreated on the ClickHouse side with mapped column types,
copied in ordered batches as TSV and verified by comparing row counts.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(cmd.Context(), opts)
		},
	}

	flags := root.Flags()
	flags.StringVar(&opts.configPath, "config", defaultConfigPath, "path to sync.toml configuration file")
	flags.StringSliceVar(&opts.tables, "tables", nil, "comma separated subset of source tables to sync")
	flags.BoolVar(&opts.once, "once", false, "run a single sync even when a schedule is configured")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "enable debug logging")

	return root
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
