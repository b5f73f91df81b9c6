package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/trezcool/fatracker/core/principal"
)

func (cli *commandLine) resetPasswordCmd() *cobra.Command {
	var username, kind string

	cmd := &cobra.Command{
		Use:   "resetpassword",
		Short: "Reset a principal's password; the password is prompted next",
		RunE: func(cmd *cobra.Command, args []string) error {
			if username == "" {
				return usageError(cmd)
			}
			pwd, err := cli.promptPassword("Enter password:")
			if err != nil {
				return err
			}
			if pwd == "" {
				return usageError(cmd)
			}
			if err = cli.principals.ResetPassword(cmd.Context(), username, principal.Kind(kind), pwd); err != nil {
				return err
			}
			fmt.Fprintf(cli.out, "password of %s updated\n", username)
			return nil
		},
	}
	cmd.Flags().StringVar(&username, "username", "", "email or registration number")
	cmd.Flags().StringVar(&kind, "kind", "", "staff|student, when the username is ambiguous")
	return cmd
}
