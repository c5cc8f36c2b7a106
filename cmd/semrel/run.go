package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/example/semrel/internal/engine"
	"github.com/example/semrel/internal/featureflags"
	"github.com/example/semrel/internal/gitinfo"
	"github.com/example/semrel/internal/ledger"
	"github.com/example/semrel/internal/logging"
	"github.com/example/semrel/internal/notes"
	"github.com/example/semrel/internal/pipeline"
	"github.com/example/semrel/internal/release"
	"github.com/example/semrel/internal/ui"
)

type runOptions struct {
	dryRun       bool
	branch       string
	repo         string
	envFile      string
	globalConfig string
	noLedger     bool
	showNotes    bool
}

func newRunCommand(logLevel *string) *cobra.Command {
	var opts runOptions
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Compute the next release of the current branch and publish it",
		Args:  cobra.NoArgs,
		Example: `  # Release whatever the current branch warrants
  semrel run

  # Preview a pre-release for a CI branch
  semrel run --branch beta/login --dry-run`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRelease(cmd, opts, *logLevel)
		},
	}
	cmd.Flags().BoolVar(&opts.dryRun, "dry-run", false, "Verify only; report version and notes without preparing or publishing")
	cmd.Flags().StringVar(&opts.branch, "branch", "", "Branch to release (defaults to CI variables, then the checked out branch)")
	cmd.Flags().StringVar(&opts.repo, "repo", ".", "Path inside the repository to release")
	cmd.Flags().StringVar(&opts.envFile, "env-file", "", "Dotenv file loaded before credentials are resolved (must exist)")
	cmd.Flags().StringVar(&opts.globalConfig, "global-config", "", "Global configuration file (default ~/.semrel/config.yaml)")
	cmd.Flags().BoolVar(&opts.noLedger, "no-ledger", false, "Do not record the run in the release ledger")
	cmd.Flags().BoolVar(&opts.showNotes, "notes", false, "Print the release notes after the summary")
	return cmd
}

func runRelease(cmd *cobra.Command, opts runOptions, logLevel string) error {
	ctx := cmd.Context()
	log, err := logging.New(logLevel)
	if err != nil {
		return &exitError{code: 2, err: err}
	}
	var observers []pipeline.Observer
	if errOut := cmd.ErrOrStderr(); ui.IsTerminal(errOut) {
		observers = append(observers, ui.NewStepProgress(errOut))
	}
	ws, err := engine.Open(ctx, engine.OpenOptions{
		Dir:          opts.repo,
		GlobalConfig: opts.globalConfig,
		EnvFile:      opts.envFile,
		NoLedger:     opts.noLedger,
		Owner:        ledger.DefaultOwner(),
		Log:          log,
		Observers:    observers,
	})
	if err != nil {
		return &exitError{code: 2, err: err}
	}
	defer ws.Close()

	branch, err := gitinfo.CurrentBranch(ctx, ws.Root, opts.branch)
	if err != nil {
		return &exitError{code: 2, err: err}
	}
	out := ws.Engine.Run(ctx, branch, opts.dryRun)

	stdout := cmd.OutOrStdout()
	width := ui.WidthOr(stdout, ui.DefaultWidth)
	if err := ui.WriteSummary(stdout, out, ui.SummaryOptions{Width: width}); err != nil {
		return err
	}
	if out.Notes != "" && (opts.dryRun || opts.showNotes) {
		if err := writeNotes(cmd, stdout, out.Notes, width); err != nil {
			return err
		}
	}
	return outcomeError(out)
}

func writeNotes(cmd *cobra.Command, w io.Writer, md string, width int) error {
	fmt.Fprintln(w)
	if featureflags.FromContext(cmd.Context()).Enabled(featureflags.FeatureNotesPreview) && ui.IsTerminal(w) {
		rendered, err := notes.Preview(md, width)
		if err != nil {
			return err
		}
		_, err = io.WriteString(w, rendered)
		return err
	}
	_, err := io.WriteString(w, strings.TrimRight(md, "\n")+"\n")
	return err
}

// outcomeError is how a non-zero outcome surfaces to the shell.
func outcomeError(out release.Outcome) error {
	if code := out.ExitCode(); code != 0 {
		return &exitError{code: code, err: out.Err}
	}
	return nil
}
