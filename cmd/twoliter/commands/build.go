package commands

import (
	"github.com/spf13/cobra"
)

func (c *CLI) newBuildCmd() *cobra.Command {
	buildCmd := &cobra.Command{
		Use:   "build",
		Short: "Build project artifacts",
	}

	variantCmd := &cobra.Command{
		Use:   "variant [name]",
		Short: "Build a variant image and everything it depends on",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.app.BuildVariant(cmd.Context(), args[0])
		},
	}

	var kitArch string
	kitCmd := &cobra.Command{
		Use:   "kit [name]",
		Short: "Build a local kit and the packages it includes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.app.BuildKit(cmd.Context(), args[0], kitArch)
		},
	}
	kitCmd.Flags().StringVar(&kitArch, "arch", "x86_64", "Target architecture")

	buildCmd.AddCommand(variantCmd)
	buildCmd.AddCommand(kitCmd)
	return buildCmd
}
