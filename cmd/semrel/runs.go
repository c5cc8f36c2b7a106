package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/example/semrel/internal/engine"
	"github.com/example/semrel/internal/ledger"
)

func newRunsCommand() *cobra.Command {
	var repo string
	var globalConfig string
	var limit int
	cmd := &cobra.Command{
		Use:   "runs [RUN_ID]",
		Short: "Show release runs recorded in the ledger",
		Args:  cobra.MaximumNArgs(1),
		Example: `  # Recent runs
  semrel runs --limit 20

  # Steps and events of one run
  semrel runs 2024-05-01T08-00-00.000000000Z`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			root, cfg, err := engine.LoadConfig(ctx, engine.OpenOptions{Dir: repo, GlobalConfig: globalConfig})
			if err != nil {
				return &exitError{code: 2, err: err}
			}
			out := cmd.OutOrStdout()
			if !cfg.LedgerEnabled() {
				fmt.Fprintln(out, "ledger is disabled")
				return nil
			}
			if !ledgerExists(root, cfg.Ledger.Path) {
				fmt.Fprintln(out, "no runs recorded")
				return nil
			}
			store, err := ledger.Open(root, cfg.Ledger.Path, true)
			if err != nil {
				return err
			}
			defer store.Close()

			if len(args) == 0 {
				runs, err := store.ListRuns(ctx, limit)
				if err != nil {
					return err
				}
				return ledger.PrintRunsTable(out, runs)
			}
			return printRunDetail(cmd, out, store, strings.TrimSpace(args[0]))
		},
	}
	cmd.Flags().StringVar(&repo, "repo", ".", "Path inside the repository")
	cmd.Flags().StringVar(&globalConfig, "global-config", "", "Global configuration file (default ~/.semrel/config.yaml)")
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum number of runs to list")
	return cmd
}

func ledgerExists(root, rel string) bool {
	path := strings.TrimSpace(rel)
	if path == "" {
		path = ledger.DefaultRelPath
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(root, path)
	}
	_, err := os.Stat(path)
	return err == nil
}

func printRunDetail(cmd *cobra.Command, out io.Writer, store *ledger.Store, runID string) error {
	ctx := cmd.Context()
	steps, err := store.Steps(ctx, runID)
	if err != nil {
		return err
	}
	events, err := store.Events(ctx, runID)
	if err != nil {
		return err
	}
	if len(steps) == 0 && len(events) == 0 {
		return fmt.Errorf("run %s not found", runID)
	}
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "STEP\tSTATUS\tDURATION\tDETAIL")
	for _, s := range steps {
		detail := s.ArtifactRef
		if d := s.Detail(); d != "" {
			detail = d
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", s.Step, s.Status, s.Duration.Round(time.Millisecond), detail)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintln(out)
	tw = tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tEVENT\tPHASE\tSTEP\tMESSAGE")
	for _, ev := range events {
		msg := ev.Message
		if ev.Error != "" {
			msg = strings.TrimSpace(msg + " " + ev.Error)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", ev.TS.Format(time.RFC3339), ev.Type, dash(ev.Phase), dash(ev.Step), msg)
	}
	return tw.Flush()
}

func dash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}
