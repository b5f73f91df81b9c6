package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/trezcool/fatracker/core/principal"
)

func (cli *commandLine) addStaffCmd() *cobra.Command {
	var data principal.NewStaff
	var roles []string

	cmd := &cobra.Command{
		Use:   "addstaff",
		Short: "Create a staff member; leave the password empty to email a generated one",
		RunE: func(cmd *cobra.Command, args []string) error {
			if data.Name == "" || data.Email == "" {
				return usageError(cmd)
			}
			for _, r := range roles {
				role, err := principal.ParseRole(strings.ToUpper(r))
				if err != nil {
					return err
				}
				data.Roles = append(data.Roles, role)
			}
			pwd, err := cli.promptPassword("Enter password (empty to generate):")
			if err != nil {
				return err
			}
			data.Password = pwd

			p, err := cli.principals.CreateStaff(cmd.Context(), data)
			if err != nil {
				return err
			}
			fmt.Fprintf(cli.out, "created %s %v\n", p, p.Roles.Slice())
			return nil
		},
	}
	cmd.Flags().StringVar(&data.Name, "name", "", "full name")
	cmd.Flags().StringVar(&data.Email, "email", "", "email address, used to log in")
	cmd.Flags().StringSliceVar(&roles, "role", nil, "ADMIN|PRINCIPAL|COORDINATOR|PROFESSOR, repeatable")
	return cmd
}

func (cli *commandLine) addStudentCmd() *cobra.Command {
	var data principal.NewStudent

	cmd := &cobra.Command{
		Use:   "addstudent",
		Short: "Create a student; the password is prompted next",
		RunE: func(cmd *cobra.Command, args []string) error {
			if data.Name == "" || data.Email == "" || data.Registration == "" {
				return usageError(cmd)
			}
			pwd, err := cli.promptPassword("Enter password:")
			if err != nil {
				return err
			}
			if pwd == "" {
				return usageError(cmd)
			}
			data.Password = pwd

			p, err := cli.principals.CreateStudent(cmd.Context(), data)
			if err != nil {
				return err
			}
			fmt.Fprintf(cli.out, "created %s\n", p)
			return nil
		},
	}
	cmd.Flags().StringVar(&data.Name, "name", "", "full name")
	cmd.Flags().StringVar(&data.Email, "email", "", "email address")
	cmd.Flags().StringVar(&data.Registration, "registration", "", "registration number, used to log in")
	return cmd
}
