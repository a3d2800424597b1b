// Package cmd provides CLI commands for the metacam-ingest tool.
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/otherjamesbrown/metacam-ingest/config"
	"github.com/otherjamesbrown/metacam-ingest/internal/wiring"
	"github.com/otherjamesbrown/metacam-ingest/pkg/drivemonitor"
	"github.com/otherjamesbrown/metacam-ingest/pkg/logging"
)

// Run command flags.
var (
	runOnce           bool
	runInterval       time.Duration
	runLogLevel       string
	runTestConnection bool
	runFile           string
)

// RunCommandDeps holds the dependencies for the run command.
type RunCommandDeps struct {
	LoadConfig func(configFile string) (*config.Config, error)
	Build      func(ctx context.Context, cfg *config.Config, secretsPassphrase string) (*wiring.Graph, error)
}

// DefaultRunDeps returns the default dependencies for production use.
func DefaultRunDeps() *RunCommandDeps {
	return &RunCommandDeps{
		LoadConfig: config.Load,
		Build:      wiring.Build,
	}
}

// NewRunCommand creates the run command: the daemon loop, or a single
// pass, or connection test, or single-file processing, depending on
// which flags are set.
func NewRunCommand(deps *RunCommandDeps) *cobra.Command {
	if deps == nil {
		deps = DefaultRunDeps()
	}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the ingestion pipeline",
		Long: `Run polls the configured drive folder for new MetaCam capture
packages, downloads, validates, and processes each one, and records the
outcome to the sheet, tracker, and (if configured) audit history.

With --once, poll exactly one pass and exit rather than looping forever.
With --test-connection, only verify the drive and sheet are reachable
and exit 0 or 1 without touching the pipeline.
With --file, process a single local archive directly, skipping the
drive monitor entirely.`,
		RunE: func(c *cobra.Command, args []string) error {
			return runRun(c.Context(), deps)
		},
	}

	cmd.Flags().BoolVar(&runOnce, "once", false, "poll and process a single pass, then exit")
	cmd.Flags().DurationVar(&runInterval, "interval", 0, "override the configured poll interval")
	cmd.Flags().StringVar(&runLogLevel, "log-level", "", "override the configured log level")
	cmd.Flags().BoolVar(&runTestConnection, "test-connection", false, "verify drive and sheet reachability, then exit")
	cmd.Flags().StringVar(&runFile, "file", "", "process a single local archive, skipping the monitor")

	return cmd
}

func runRun(ctx context.Context, deps *RunCommandDeps) error {
	cfg, err := deps.LoadConfig(rootConfigFile)
	if err != nil {
		return fmt.Errorf("run: %w", err)
	}
	if runLogLevel != "" {
		cfg.LogLevel = runLogLevel
	}
	if runInterval > 0 {
		cfg.CheckInterval = runInterval
	}

	g, err := deps.Build(ctx, cfg, "")
	if err != nil {
		return fmt.Errorf("run: %w", err)
	}
	defer g.Close()

	if runTestConnection {
		return testConnection(ctx, g)
	}

	if runFile != "" {
		return processFile(ctx, g, runFile)
	}

	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if runOnce {
		items, err := g.Monitor.PollOnce(ctx)
		if err != nil {
			return fmt.Errorf("run: polling once: %w", err)
		}
		in := make(chan drivemonitor.Descriptor, len(items))
		for _, item := range items {
			in <- item
		}
		close(in)
		g.Orch.Run(ctx, in)
		return nil
	}

	in := make(chan drivemonitor.Descriptor)
	pollCtx, cancelPoll := context.WithCancel(ctx)
	go g.Monitor.Run(pollCtx, in)

	g.Orch.Run(ctx, in)
	cancelPoll()
	return nil
}

func testConnection(ctx context.Context, g *wiring.Graph) error {
	if _, err := g.Drive.List(ctx); err != nil {
		g.Logger.Error("drive unreachable", logging.F("error", err.Error()))
		return fmt.Errorf("test-connection: drive: %w", err)
	}
	if err := g.Sheets.Flush(ctx); err != nil {
		g.Logger.Error("sheet unreachable", logging.F("error", err.Error()))
		return fmt.Errorf("test-connection: sheet: %w", err)
	}
	g.Logger.Info("drive and sheet both reachable")
	return nil
}

func processFile(ctx context.Context, g *wiring.Graph, path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("process-file: %w", err)
	}
	if _, err := os.Stat(abs); err != nil {
		return fmt.Errorf("process-file: %w", err)
	}

	orch := g.OrchestratorWithDownloader(wiring.NewFileDownloader(abs))
	in := make(chan drivemonitor.Descriptor, 1)
	in <- drivemonitor.Descriptor{RemoteID: filepath.Base(abs), Name: filepath.Base(abs)}
	close(in)
	orch.Run(ctx, in)
	return nil
}
