// Package app provides the deskauth command line.
package app

import (
	"github.com/spf13/cobra"
)

// NewRootCmd creates the root command with all subcommands attached.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "deskauth",
		Short: "Web sign-in broker for desktop editors",
		Long: `deskauth serves browser sign-in pages and hands the resulting session to a
desktop editor through its custom URI scheme. The editor redeems a short-lived,
single-use exchange token for its own session token.

Configuration is read from DESKAUTH_* environment variables; flags override them.`,
		SilenceUsage:      true,
		DisableAutoGenTag: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}

	root.AddCommand(newServeCmd())
	root.AddCommand(newClientsCmd())
	root.AddCommand(newVersionCmd())

	return root
}
