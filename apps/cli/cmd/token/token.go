package token

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/moddy-bot/moddy/platform/go/auth/devtoken"
	"github.com/moddy-bot/moddy/platform/go/setups"
)

// Command groups internal API token helpers.
func Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Internal API tokens",
	}
	cmd.AddCommand(issueCommand())
	return cmd
}

func issueCommand() *cobra.Command {
	var params devtoken.Params
	cmd := &cobra.Command{
		Use:   "issue",
		Short: "Mint an HS256 token signed with INTERNAL_API_SECRET",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := setups.LoadDotEnv(); err != nil {
				return err
			}
			secret := os.Getenv("INTERNAL_API_SECRET")
			if secret == "" {
				return errors.New("INTERNAL_API_SECRET is not set")
			}
			params.Secret = []byte(secret)

			token, err := devtoken.Build(params, time.Now().UTC())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&params.Subject, "subject", "moddyctl", "calling service name (sub)")
	cmd.Flags().Int64Var(&params.ActorID, "actor-id", 0, "Discord user the caller acts for")
	cmd.Flags().BoolVar(&params.Staff, "staff", false, "grant staff-only routes")
	cmd.Flags().DurationVar(&params.ExpiresIn, "expires-in", time.Hour, "token lifetime (e.g. 30m, 2h)")
	return cmd
}
