// Package commands implements the CLI commands for twoliter.
package commands

import (
	"context"

	"github.com/spf13/cobra"

	"go.trai.ch/twoliter/internal/app"
)

// CLI represents the command line interface for twoliter.
type CLI struct {
	app     *app.App
	rootCmd *cobra.Command
}

// New creates a new CLI instance with the given app.
func New(a *app.App) *CLI {
	rootCmd := &cobra.Command{
		Use:           "twoliter",
		Short:         "A build orchestrator for custom variants of Bottlerocket",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringP("project-path", "p", "", "Path to Twoliter.toml (ancestors of the working directory are searched when unset)")
	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, _ []string) error {
		path, err := cmd.Flags().GetString("project-path")
		if err != nil {
			return err
		}
		if path != "" {
			a.SetProjectPath(path)
		}
		return nil
	}

	c := &CLI{app: a, rootCmd: rootCmd}

	rootCmd.AddCommand(c.newUpdateCmd())
	rootCmd.AddCommand(c.newBuildCmd())
	rootCmd.AddCommand(c.newFetchCmd())
	rootCmd.AddCommand(c.newPublishCmd())
	rootCmd.AddCommand(c.newVersionCmd())

	return c
}

// Execute runs the root command with the given context.
func (c *CLI) Execute(ctx context.Context) error {
	c.rootCmd.SetContext(ctx)
	return c.rootCmd.Execute()
}

// SetArgs sets the arguments for the root command. Used for testing.
func (c *CLI) SetArgs(args []string) {
	c.rootCmd.SetArgs(args)
}
