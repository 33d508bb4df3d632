package attr

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/moddy-bot/moddy/apps/cli/cmdutil"
	entitiesservice "github.com/moddy-bot/moddy/domains/entities/be/service"
)

// Command groups attribute inspection and audited writes.
func Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "attr",
		Short: "Read and change entity attributes",
	}
	cmd.AddCommand(getCommand(), setCommand(), unsetCommand(), listCommand())
	return cmd
}

func getCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "get <user|guild> <id> <name>",
		Short: "Print one attribute",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := ParseID(args[1])
			if err != nil {
				return err
			}
			env, err := cmdutil.Open(cmd)
			if err != nil {
				return err
			}
			defer env.Close()

			value, err := env.Entities().GetAttribute(env.Context(cmd), args[0], id, args[2])
			if err != nil {
				return cmdutil.FormatError(err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), value.String())
			return nil
		},
	}
}

func setCommand() *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "set <user|guild> <id> <name> <value>",
		Short: "Set an attribute (true sets a flag; false or null removes it)",
		Args:  cobra.ExactArgs(4),
		RunE: func(cmd *cobra.Command, args []string) error {
			return write(cmd, args[0], args[1], args[2], cmdutil.ParseLiteral(args[3]), reason)
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "reason recorded in the audit log")
	return cmd
}

func unsetCommand() *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "unset <user|guild> <id> <name>",
		Short: "Remove an attribute",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return write(cmd, args[0], args[1], args[2], nil, reason)
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "reason recorded in the audit log")
	return cmd
}

func listCommand() *cobra.Command {
	var value string
	cmd := &cobra.Command{
		Use:   "list <user|guild> <name>",
		Short: "List entity ids holding an attribute",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := cmdutil.Open(cmd)
			if err != nil {
				return err
			}
			defer env.Close()

			query := entitiesservice.CohortQuery{EntityType: args[0], Name: args[1]}
			if cmd.Flags().Changed("value") {
				query.Value = cmdutil.ParseLiteral(value)
				query.HasValue = true
			}
			ids, err := env.Entities().Cohort(env.Context(cmd), query)
			if err != nil {
				return cmdutil.FormatError(err)
			}
			for _, id := range ids {
				fmt.Fprintln(cmd.OutOrStdout(), id)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&value, "value", "", "match this exact value instead of presence")
	return cmd
}

func write(cmd *cobra.Command, entityType, rawID, name string, value any, reason string) error {
	id, err := ParseID(rawID)
	if err != nil {
		return err
	}
	env, err := cmdutil.Open(cmd)
	if err != nil {
		return err
	}
	defer env.Close()

	stored, err := env.Entities().SetAttribute(env.Context(cmd), entitiesservice.SetAttributeInput{
		EntityType: entityType,
		EntityID:   id,
		Name:       name,
		Value:      value,
		Reason:     reason,
	})
	if err != nil {
		return cmdutil.FormatError(err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s %d %s = %s\n", entityType, id, entitiesservice.NormalizeAttributeName(name), stored)
	return nil
}

// ParseID reads a positive platform id.
func ParseID(raw string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q: must be a positive integer", raw)
	}
	return id, nil
}
