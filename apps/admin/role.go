package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/trezcool/fatracker/core/principal"
)

func (cli *commandLine) roleCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "role",
		Short: "Grant or revoke staff roles",
		RunE: func(cmd *cobra.Command, args []string) error {
			return usageError(cmd)
		},
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "add STAFF_ID ROLE",
			Short: "Grant ROLE to a staff member",
			RunE: func(cmd *cobra.Command, args []string) error {
				staffID, role, err := roleArgs(cmd, args)
				if err != nil {
					return err
				}
				a, err := cli.principals.EnsureRole(cmd.Context(), staffID, role)
				if err != nil {
					return err
				}
				fmt.Fprintf(cli.out, "staff %d holds %s (assignment %d)\n", staffID, role, a.ID)
				return nil
			},
		},
		&cobra.Command{
			Use:   "remove STAFF_ID ROLE",
			Short: "Revoke ROLE from a staff member; refused while they coordinate or teach with it",
			RunE: func(cmd *cobra.Command, args []string) error {
				staffID, role, err := roleArgs(cmd, args)
				if err != nil {
					return err
				}
				if err = cli.principals.RemoveRole(cmd.Context(), staffID, role); err != nil {
					return err
				}
				fmt.Fprintf(cli.out, "staff %d no longer holds %s\n", staffID, role)
				return nil
			},
		},
	)
	return cmd
}

func roleArgs(cmd *cobra.Command, args []string) (int64, principal.Role, error) {
	if len(args) != 2 {
		return 0, "", usageError(cmd)
	}
	staffID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return 0, "", fmt.Errorf("staff id must be a number (got '%s')", args[0])
	}
	role, err := principal.ParseRole(strings.ToUpper(args[1]))
	if err != nil {
		return 0, "", err
	}
	return staffID, role, nil
}
