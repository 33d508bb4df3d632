package history

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/moddy-bot/moddy/apps/cli/cmdutil"
	entitiesservice "github.com/moddy-bot/moddy/domains/entities/be/service"
)

// Command prints attribute audit rows, newest first.
func Command() *cobra.Command {
	var (
		opts   entitiesservice.HistoryOptions
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show the attribute change log",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := cmdutil.Open(cmd)
			if err != nil {
				return err
			}
			defer env.Close()

			changes, err := env.Entities().History(env.Context(cmd), opts)
			if err != nil {
				return cmdutil.FormatError(err)
			}
			if asJSON {
				return cmdutil.PrintJSON(cmd.OutOrStdout(), changes)
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tWHEN\tENTITY\tATTRIBUTE\tOLD\tNEW\tBY\tREASON")
			for _, c := range changes {
				fmt.Fprintf(tw, "%d\t%s\t%s:%d\t%s\t%s\t%s\t%d\t%s\n",
					c.ID, c.ChangedAt.Format(time.RFC3339), c.EntityType, c.EntityID,
					c.AttributeName, text(c.OldValue), text(c.NewValue), c.ChangedBy, c.Reason)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&opts.EntityType, "type", "", "user or guild")
	cmd.Flags().Int64Var(&opts.EntityID, "id", 0, "entity id")
	cmd.Flags().StringVar(&opts.Name, "attribute", "", "attribute name")
	cmd.Flags().IntVar(&opts.Limit, "limit", 50, "maximum rows")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

func text(v *string) string {
	if v == nil {
		return "-"
	}
	return *v
}
