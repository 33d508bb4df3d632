package data

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/moddy-bot/moddy/apps/cli/cmd/attr"
	"github.com/moddy-bot/moddy/apps/cli/cmdutil"
	entitiesservice "github.com/moddy-bot/moddy/domains/entities/be/service"
)

// Command groups data document edits.
func Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "data",
		Short: "Edit entity data documents",
	}
	cmd.AddCommand(setCommand())
	return cmd
}

func setCommand() *cobra.Command {
	var segments []string
	cmd := &cobra.Command{
		Use:   "set <user|guild> <id> <dotted.path> <json-value>",
		Short: "Set a value inside the data document, creating intermediate objects",
		Long: "Set a value inside the data document. Use --segment (repeatable) instead of the\n" +
			"dotted path when a key itself contains a dot; the path argument is then ignored.",
		Args: cobra.ExactArgs(4),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := attr.ParseID(args[1])
			if err != nil {
				return err
			}
			env, err := cmdutil.Open(cmd)
			if err != nil {
				return err
			}
			defer env.Close()

			entity, err := env.Entities().UpdateData(env.Context(cmd), entitiesservice.UpdateDataInput{
				EntityType: args[0],
				EntityID:   id,
				DottedPath: args[2],
				Segments:   segments,
				Value:      cmdutil.ParseLiteral(args[3]),
			})
			if err != nil {
				return cmdutil.FormatError(err)
			}
			if err := cmdutil.PrintJSON(cmd.OutOrStdout(), entity.Data); err != nil {
				return fmt.Errorf("print data: %w", err)
			}
			return nil
		},
	}
	cmd.Flags().StringArrayVar(&segments, "segment", nil, "explicit path segment (repeatable)")
	return cmd
}
