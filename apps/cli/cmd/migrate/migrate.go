package migrate

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/moddy-bot/moddy/apps/cli/cmdutil"
	"github.com/moddy-bot/moddy/platform/go/persistence"
)

// Command applies the embedded schema. Every statement is idempotent.
func Command() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := cmdutil.Open(cmd)
			if err != nil {
				return err
			}
			defer env.Close()

			if err := persistence.ApplySchema(env.Context(cmd), env.Pool); err != nil {
				return fmt.Errorf("apply schema: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "schema applied")
			return nil
		},
	}
}
