package main

import (
	"github.com/spf13/cobra"

	"github.com/trezcool/fatracker/storage/database"
)

var gooseRunFunc = database.RunMigrations // mockable

func (cli *commandLine) migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate COMMAND [ARGS...]",
		Short: "Run a goose migration command (up, up-by-one, up-to, down, down-to, redo, reset, status, version, create, fix)",
		// goose validates its own arguments
		DisableFlagParsing: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return usageError(cmd)
			}
			return gooseRunFunc(cmd.Context(), cli.db, args[0], args[1:]...)
		},
	}
}
