package main

import (
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/example/semrel/internal/channel"
	"github.com/example/semrel/internal/engine"
)

func newChannelsCommand() *cobra.Command {
	var repo string
	var globalConfig string
	var branch string
	cmd := &cobra.Command{
		Use:   "channels",
		Short: "List the configured release channels",
		Args:  cobra.NoArgs,
		Example: `  # Show channels and which one a branch maps to
  semrel channels --branch beta/login`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, cfg, err := engine.LoadConfig(cmd.Context(), engine.OpenOptions{Dir: repo, GlobalConfig: globalConfig})
			if err != nil {
				return &exitError{code: 2, err: err}
			}
			settings, err := engine.SettingsFromConfig(cfg)
			if err != nil {
				return &exitError{code: 2, err: err}
			}
			out := cmd.OutOrStdout()
			tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tMATCH\tKIND\tIDENTIFIER")
			for _, ch := range settings.Channels.Channels() {
				id := ch.Identifier()
				if id == "" {
					id = "-"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", ch.Name, ch.Pattern(), ch.Kind(), id)
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			if branch == "" {
				return nil
			}
			ch, err := settings.Channels.Resolve(branch)
			switch {
			case errors.Is(err, channel.ErrNotReleased):
				fmt.Fprintf(out, "\nbranch %s is not a release channel\n", branch)
			case err != nil:
				return err
			default:
				fmt.Fprintf(out, "\nbranch %s releases on channel %s\n", branch, ch.Name)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&repo, "repo", ".", "Path inside the repository")
	cmd.Flags().StringVar(&globalConfig, "global-config", "", "Global configuration file (default ~/.semrel/config.yaml)")
	cmd.Flags().StringVar(&branch, "branch", "", "Resolve this branch against the channel table")
	return cmd
}
