package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"syscall"

	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/trezcool/fatracker/core/principal"
)

var (
	readPasswordFunc = term.ReadPassword // mockable

	errHelp = errors.New("help provided")
)

type commandLine struct {
	db         *sqlx.DB // nil unless the command needs it
	principals *principal.Service
	out        io.Writer
}

func (cli *commandLine) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "admin",
		Short:         "FaTracker administration commands",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			_ = cmd.Usage()
			return errHelp
		},
	}
	root.SetOut(cli.out)
	root.SetErr(cli.out)

	root.AddCommand(
		cli.migrateCmd(),
		cli.addStaffCmd(),
		cli.addStudentCmd(),
		cli.resetPasswordCmd(),
		cli.roleCmd(),
	)
	return root
}

// run executes the command described by args; args[0] is the program name.
func (cli *commandLine) run(ctx context.Context, args []string) error {
	root := cli.rootCmd()
	root.SetArgs(args[1:])
	return root.ExecuteContext(ctx)
}

// promptPassword reads a password from the terminal without echoing it.
func (cli *commandLine) promptPassword(prompt string) (string, error) {
	fmt.Fprint(cli.out, prompt)
	pwd, err := readPasswordFunc(int(syscall.Stdin))
	fmt.Fprintln(cli.out)
	if err != nil {
		return "", err
	}
	return string(pwd), nil
}

// usageError prints cmd's usage and returns errHelp.
func usageError(cmd *cobra.Command) error {
	_ = cmd.Usage()
	return errHelp
}
