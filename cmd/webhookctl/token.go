package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/yonotravel/bookingd/internal/httpapi"
)

func newTokenCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a session token for calling the booking API",
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := newViper(cmd, flagSigningKey, flagIssuer, flagSubject, flagRole, flagTTL)
			if err != nil {
				return err
			}
			authenticator, err := httpapi.NewAuthenticator(v.GetString(flagSigningKey), v.GetString(flagIssuer), "session")
			if err != nil {
				return err
			}
			subject := v.GetString(flagSubject)
			if subject == "" {
				return fmt.Errorf("%s is required", flagSubject)
			}
			token, err := authenticator.Issue(subject, v.GetString(flagRole), v.GetDuration(flagTTL))
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().String(flagSigningKey, "", "HS256 signing key shared with bookingd (required)")
	cmd.Flags().String(flagIssuer, "bookingd", "token issuer")
	cmd.Flags().String(flagSubject, "", "user id (required)")
	cmd.Flags().String(flagRole, httpapi.RoleAgent, "customer, agent or admin")
	cmd.Flags().Duration(flagTTL, time.Hour, "token lifetime")
	return cmd
}
