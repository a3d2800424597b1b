// Package main provides the metacam-ingest CLI entry point.
// metacam-ingest watches a drive folder for MetaCam 3D-capture packages,
// downloads, validates, and reconstructs each one, and records the
// outcome to a spreadsheet, a local tracker, and optional audit history.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/otherjamesbrown/metacam-ingest/cmd"
)

var (
	cfgFile string
	runCmd  = cmd.NewRunCommand(nil)
)

var rootCmd = &cobra.Command{
	Use:   "metacam-ingest",
	Short: "MetaCam 3D-capture ingestion orchestrator",
	Long: `metacam-ingest polls a drive folder for MetaCam capture packages,
downloads and validates each one, drives the native reconstruction
binaries against it, and records the outcome to a spreadsheet, a local
tracker file, and (if configured) Postgres-backed audit history.

Run with no subcommand to start the daemon loop; see 'run --help' for
single-pass, connection-test, and single-file modes.`,
	PersistentPreRun: func(c *cobra.Command, args []string) {
		cmd.SetConfigFile(cfgFile)
	},
	RunE: func(c *cobra.Command, args []string) error {
		return runCmd.RunE(c, args)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "path to a YAML config overlay (default: $CONFIG_FILE or built-in defaults)")
	rootCmd.Flags().AddFlagSet(runCmd.Flags())

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(cmd.NewSecretsCommand(nil))
	rootCmd.AddCommand(cmd.NewHistoryCommand(nil))
}

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
