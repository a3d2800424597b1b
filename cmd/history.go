package cmd

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/otherjamesbrown/metacam-ingest/config"
	"github.com/otherjamesbrown/metacam-ingest/pkg/audit"
)

var historyLimit int

// HistoryCommandDeps holds the dependencies for the history commands.
type HistoryCommandDeps struct {
	LoadConfig func(configFile string) (*config.Config, error)
	OpenRepo   func(ctx context.Context, cfg *config.Config) (*audit.Repository, func(), error)
}

// DefaultHistoryDeps returns the default dependencies for production use.
func DefaultHistoryDeps() *HistoryCommandDeps {
	return &HistoryCommandDeps{
		LoadConfig: config.Load,
		OpenRepo:   openAuditRepo,
	}
}

func openAuditRepo(ctx context.Context, cfg *config.Config) (*audit.Repository, func(), error) {
	if cfg.AuditDSN == "" {
		return nil, nil, fmt.Errorf("history: AUDIT_DSN is not configured")
	}
	dbCfg, err := audit.ConfigFromDSN(cfg.AuditDSN)
	if err != nil {
		return nil, nil, err
	}
	pool, err := audit.ConnectWithRetry(ctx, dbCfg, 3, 0)
	if err != nil {
		return nil, nil, err
	}
	return audit.NewRepository(pool), func() { audit.Close(pool) }, nil
}

// NewHistoryCommand creates the root history command with its subcommands.
func NewHistoryCommand(deps *HistoryCommandDeps) *cobra.Command {
	if deps == nil {
		deps = DefaultHistoryDeps()
	}

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Inspect the audit history of processed packages",
	}
	cmd.PersistentFlags().IntVarP(&historyLimit, "limit", "l", 20, "maximum number of entries to show")

	cmd.AddCommand(newHistoryRecentCommand(deps))
	cmd.AddCommand(newHistoryShowCommand(deps))

	return cmd
}

func newHistoryRecentCommand(deps *HistoryCommandDeps) *cobra.Command {
	return &cobra.Command{
		Use:   "recent",
		Short: "List the most recent terminal package outcomes",
		RunE: func(c *cobra.Command, args []string) error {
			cfg, err := deps.LoadConfig(rootConfigFile)
			if err != nil {
				return err
			}
			repo, closeFn, err := deps.OpenRepo(c.Context(), cfg)
			if err != nil {
				return err
			}
			defer closeFn()

			entries, err := repo.Recent(c.Context(), historyLimit)
			if err != nil {
				return err
			}
			printHistoryTable(entries)
			return nil
		},
	}
}

func newHistoryShowCommand(deps *HistoryCommandDeps) *cobra.Command {
	return &cobra.Command{
		Use:   "show <remote-id>",
		Short: "Show every recorded outcome for a single remote id",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			cfg, err := deps.LoadConfig(rootConfigFile)
			if err != nil {
				return err
			}
			repo, closeFn, err := deps.OpenRepo(c.Context(), cfg)
			if err != nil {
				return err
			}
			defer closeFn()

			entries, err := repo.ByRemoteID(c.Context(), args[0])
			if err != nil {
				return err
			}
			printHistoryTable(entries)
			return nil
		},
	}
}

func printHistoryTable(entries []audit.Entry) {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "RECORDED AT\tREMOTE ID\tPACKAGE\tSTATE\tOUTCOME\tSCORE\tERROR")
	for _, e := range entries {
		score := "N/A"
		if e.ValidationScore != nil {
			score = strconv.FormatFloat(*e.ValidationScore, 'f', 1, 64)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			e.RecordedAt.Format("2006-01-02T15:04:05Z07:00"),
			e.RemoteID, e.PackageName, e.State, e.Outcome, score, e.ErrorMessage)
	}
	w.Flush()
}
