package errorlog

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/moddy-bot/moddy/apps/cli/cmdutil"
	errorlogservice "github.com/moddy-bot/moddy/domains/errorlog/be/service"
	"github.com/moddy-bot/moddy/platform/go/persistence"
)

// Command groups error log inspection and retention.
func Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "errors",
		Short: "Inspect and prune the error log",
	}
	cmd.AddCommand(showCommand(), cleanupCommand())
	return cmd
}

func showCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show <code>",
		Short: "Print the error recorded under an 8-character code",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, closeFn, err := open(cmd)
			if err != nil {
				return err
			}
			defer closeFn()

			rec, err := svc.Lookup(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return cmdutil.PrintJSON(cmd.OutOrStdout(), rec)
		},
	}
}

func cleanupCommand() *cobra.Command {
	var olderThan time.Duration
	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Delete error records older than the retention window",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, closeFn, err := open(cmd)
			if err != nil {
				return err
			}
			defer closeFn()

			deleted, err := svc.Cleanup(cmd.Context(), olderThan)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %d error records\n", deleted)
			return nil
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", errorlogservice.DefaultRetention, "retention window, whole days")
	return cmd
}

func open(cmd *cobra.Command) (errorlogservice.Service, func(), error) {
	env, err := cmdutil.Open(cmd)
	if err != nil {
		return nil, nil, err
	}
	store, err := persistence.NewErrorLog(env.Pool)
	if err != nil {
		env.Close()
		return nil, nil, err
	}
	return errorlogservice.New(store), env.Close, nil
}
