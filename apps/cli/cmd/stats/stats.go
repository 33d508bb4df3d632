package stats

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/moddy-bot/moddy/apps/cli/cmdutil"
)

func Command() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print table counts and cohort sizes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := cmdutil.Open(cmd)
			if err != nil {
				return err
			}
			defer env.Close()

			stats, err := env.Entities().Stats(env.Context(cmd))
			if err != nil {
				return fmt.Errorf("get stats: %w", err)
			}
			return cmdutil.PrintJSON(cmd.OutOrStdout(), stats)
		},
	}
}
