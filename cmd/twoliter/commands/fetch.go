package commands

import (
	"github.com/spf13/cobra"
)

func (c *CLI) newFetchCmd() *cobra.Command {
	var arch string
	cmd := &cobra.Command{
		Use:   "fetch",
		Short: "Verify the lock and extract external kits",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.app.Fetch(cmd.Context(), arch)
		},
	}
	cmd.Flags().StringVar(&arch, "arch", "x86_64", "Target architecture")
	return cmd
}
