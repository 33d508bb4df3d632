package root

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/moddy-bot/moddy/apps/cli/cmdutil"
)

// rootCmd is the base command for the Moddy operator CLI. Subcommands are attached in wire.go.
var rootCmd = &cobra.Command{
	Use:           "moddyctl",
	Short:         "Moddy operator CLI",
	Long:          "Operator utilities for the Moddy store (schema, attributes, data, audit log, error log, API tokens).",
	SilenceErrors: true,
	SilenceUsage:  true,
}

func init() {
	rootCmd.PersistentFlags().Int64(cmdutil.FlagActor, 0, "Discord user id recorded as changed_by (0 records the system actor)")
	rootCmd.PersistentFlags().String(cmdutil.FlagLogLevel, "warn", "log level (debug, info, warn, error)")
}

// Execute runs the CLI.
func Execute() error {
	return rootCmd.ExecuteContext(context.Background())
}

// Root returns the mutable root command for wiring from subpackages.
func Root() *cobra.Command {
	return rootCmd
}
