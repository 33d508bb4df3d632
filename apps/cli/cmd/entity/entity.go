package entity

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/moddy-bot/moddy/apps/cli/cmd/attr"
	"github.com/moddy-bot/moddy/apps/cli/cmdutil"
)

// Command groups whole-entity operations.
func Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "entity",
		Short: "Show or reset users and guilds",
	}
	cmd.AddCommand(showCommand(), resetCommand())
	return cmd
}

// showCommand prints an entity, creating it on first access.
func showCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show <user|guild> <id>",
		Short: "Print an entity's attributes and data",
		Args:  cobra.ExactArgs(2),
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

			entity, err := env.Entities().Get(env.Context(cmd), args[0], id)
			if err != nil {
				return cmdutil.FormatError(err)
			}
			return cmdutil.PrintJSON(cmd.OutOrStdout(), entity)
		},
	}
}

// resetCommand clears attributes (audited) and data.
func resetCommand() *cobra.Command {
	var (
		reason string
		yes    bool
	)
	cmd := &cobra.Command{
		Use:   "reset <user|guild> <id>",
		Short: "Remove every attribute and clear the data document",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return errors.New("refusing to reset without --yes")
			}
			id, err := attr.ParseID(args[1])
			if err != nil {
				return err
			}
			env, err := cmdutil.Open(cmd)
			if err != nil {
				return err
			}
			defer env.Close()

			removed, err := env.Entities().Reset(env.Context(cmd), args[0], id, reason)
			if err != nil {
				return cmdutil.FormatError(err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "reset %s %d: %d attributes removed\n", args[0], id, removed)
			return nil
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "reason recorded in the audit log")
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm the reset")
	return cmd
}
