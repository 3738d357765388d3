// Package cli assembles the trackhive command tree: one subpackage per
// command (show, status, sync, list, get), wired together in
// NewRootCommand.
package cli

import (
	"github.com/spf13/cobra"

	"github.com/trackhive/trackhive/internal/cli/getcmd"
	"github.com/trackhive/trackhive/internal/cli/listcmd"
	"github.com/trackhive/trackhive/internal/cli/showcmd"
	"github.com/trackhive/trackhive/internal/cli/statuscmd"
	"github.com/trackhive/trackhive/internal/cli/synccmd"
)

var (
	version = "dev"
	commit  = "unknown"
)

// SetVersion records build-time version metadata for the version command.
func SetVersion(v, c string) {
	version, commit = v, c
}

// NewRootCommand builds the trackhive root command with every subcommand
// attached.
func NewRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "trackhive",
		Short:         "trackhive - self-hosted experiment tracking",
		Long:          "trackhive is a self-hosted experiment tracker, wire-compatible with the hosted trackio dashboard API.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.AddCommand(showcmd.NewCommand())
	cmd.AddCommand(statuscmd.NewCommand())
	cmd.AddCommand(synccmd.NewCommand())
	cmd.AddCommand(listcmd.NewCommand())
	cmd.AddCommand(getcmd.NewCommand())
	cmd.AddCommand(newVersionCommand())

	return cmd
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the trackhive version",
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.Printf("trackhive %s (%s)\n", version, commit)
			return nil
		},
	}
}
