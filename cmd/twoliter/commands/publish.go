package commands

import (
	"github.com/spf13/cobra"
)

func (c *CLI) newPublishCmd() *cobra.Command {
	publishCmd := &cobra.Command{
		Use:   "publish",
		Short: "Publish project artifacts",
	}

	publishCmd.AddCommand(&cobra.Command{
		Use:   "kit [name] [vendor]",
		Short: "Push a built kit and its metadata to the vendor's registry",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.app.PublishKit(cmd.Context(), args[0], args[1])
		},
	})

	return publishCmd
}
