// main.go bootstraps semrel: it builds the root Cobra command and executes it with a signal-aware context.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/example/semrel/internal/credentials"
	"github.com/example/semrel/internal/errdefs"
	"github.com/example/semrel/internal/featureflags"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	rootCmd := newRootCommand()
	err := rootCmd.ExecuteContext(ctx)
	handleError(os.Stderr, err)
	os.Exit(exitCode(err))
}

// exitError carries the process status of a finished run.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit status %d", e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error { return e.err }

func exitCode(err error) int {
	if err == nil || errors.Is(err, pflag.ErrHelp) {
		return 0
	}
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	var cfgErr *errdefs.ConfigError
	if errors.As(err, &cfgErr) {
		return 2
	}
	return 1
}

func newRootCommand() *cobra.Command {
	logLevel := "info"
	var featureFlagValues []string
	var applyViper func() error
	cmd := &cobra.Command{
		Use:           "semrel",
		Short:         "Commit-driven semantic releases across stable and pre-release channels",
		Long:          "semrel decides whether the current branch needs a release, computes its version and notes from conventional commits, and runs the configured publish steps.",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := applyViper(); err != nil {
				return err
			}
			flags, err := featureflags.Resolve(featureFlagValues, featureflags.EnabledFromEnv(nil))
			if err != nil {
				return err
			}
			ctx := featureflags.ContextWithFlags(cmd.Context(), flags)
			cmd.Root().SetContext(ctx)
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", logLevel, "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().StringSliceVar(&featureFlagValues, "feature", nil, "Enable experimental semrel features (repeat or pass comma-separated names)")
	if err := cmd.PersistentFlags().MarkHidden("feature"); err != nil {
		cobra.CheckErr(err)
	}

	runCmd := newRunCommand(&logLevel)
	channelsCmd := newChannelsCommand()
	runsCmd := newRunsCommand()
	cmd.AddCommand(runCmd, channelsCmd, runsCmd, newVersionCommand())
	cmd.Example = `  # Release the current branch
  semrel run

  # Show the next version and notes without publishing
  semrel run --dry-run

  # List recent runs recorded in the ledger
  semrel runs`
	applyViper = bindViper(cmd, runCmd, channelsCmd, runsCmd)
	return cmd
}

// bindViper returns a hook that fills unset flags from SEMREL_* variables and the
// optional CLI config file. It runs once the command line has been parsed.
func bindViper(commands ...*cobra.Command) func() error {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.SetEnvPrefix("SEMREL")
	v.AutomaticEnv()
	configFile := os.Getenv("SEMREL_CONFIG")
	configureConfigFile(v, configFile)

	return func() error {
		for _, cmd := range commands {
			if err := v.BindPFlags(cmd.Flags()); err != nil {
				return err
			}
			if err := v.BindPFlags(cmd.PersistentFlags()); err != nil {
				return err
			}
		}
		if err := readConfigFile(v, configFile != ""); err != nil {
			return &errdefs.ConfigError{Field: "SEMREL_CONFIG", Err: err}
		}
		for _, cmd := range commands {
			for _, fs := range []*pflag.FlagSet{cmd.Flags(), cmd.PersistentFlags()} {
				fs.VisitAll(func(f *pflag.Flag) {
					if f.Changed || !v.IsSet(f.Name) {
						return
					}
					if val := fmt.Sprintf("%v", v.Get(f.Name)); val != "" {
						_ = f.Value.Set(val)
					}
				})
			}
		}
		return nil
	}
}

func configureConfigFile(v *viper.Viper, explicitPath string) {
	if explicitPath != "" {
		v.SetConfigFile(explicitPath)
		return
	}
	v.SetConfigName("cli")
	for _, dir := range configSearchDirs() {
		v.AddConfigPath(dir)
	}
}

func readConfigFile(v *viper.Viper, strict bool) error {
	if err := v.ReadInConfig(); err != nil {
		var cfgErr viper.ConfigFileNotFoundError
		if errors.As(err, &cfgErr) && !strict {
			return nil
		}
		return err
	}
	return nil
}

func configSearchDirs() []string {
	added := make(map[string]struct{})
	var dirs []string
	add := func(path string) {
		if path == "" {
			return
		}
		if _, ok := added[path]; ok {
			return
		}
		added[path] = struct{}{}
		dirs = append(dirs, path)
	}
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		add(filepath.Join(xdg, "semrel"))
	}
	if home, err := os.UserHomeDir(); err == nil && home != "" {
		add(filepath.Join(home, ".config", "semrel"))
		add(filepath.Join(home, ".semrel"))
	}
	return dirs
}

func handleError(w io.Writer, err error) {
	if err == nil || errors.Is(err, pflag.ErrHelp) {
		return
	}
	var ee *exitError
	if errors.As(err, &ee) && ee.err == nil {
		return
	}
	message := err.Error()
	var cfgErr *errdefs.ConfigError
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		message = fmt.Sprintf("%s\nHint: raise the step timeout with stepOptions.<step>.timeout.", err)
	case errors.Is(err, credentials.ErrEmpty):
		message = fmt.Sprintf("%s\nHint: export the variable or add it to %s.", err, ".semrel.env")
	case errors.As(err, &cfgErr):
		message = fmt.Sprintf("%s\nHint: check .semrel.yaml in the repository root.", err)
	}
	fmt.Fprintf(w, "Error: %s\n", message)
}
