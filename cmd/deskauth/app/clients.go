package app

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/aloks98/deskauth"
	"github.com/aloks98/deskauth/handoff"
	broker "github.com/aloks98/deskauth/internal/app"
)

func newClientsCmd() *cobra.Command {
	var clientsFile string

	cmd := &cobra.Command{
		Use:   "clients",
		Short: "List the supported desktop clients",
		Long:  `Lists every desktop client the server can hand a session to, with its URI scheme.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var opts []deskauth.Option
			if cmd.Flags().Changed("clients-file") {
				opts = append(opts, deskauth.WithClientsFile(clientsFile))
			}
			cfg, err := broker.LoadConfig(opts...)
			if err != nil {
				return err
			}

			registry, err := handoff.LoadRegistry(cfg.ClientsFile)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 3, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tSCHEME")
			for _, c := range registry.Clients() {
				fmt.Fprintf(w, "%s\t%s\t%s://\n", c.ID, c.Name, c.Scheme)
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVar(&clientsFile, "clients-file", "", "YAML file adding desktop clients")

	return cmd
}
