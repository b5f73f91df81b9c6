package main

import (
	"context"
	"log"
	"os"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"

	"github.com/trezcool/fatracker/core"
	"github.com/trezcool/fatracker/core/principal"
	"github.com/trezcool/fatracker/services/email"
	"github.com/trezcool/fatracker/services/logger"
	"github.com/trezcool/fatracker/storage/database"
	"github.com/trezcool/fatracker/storage/database/sqlx"
)

var errMemoryDB = errors.New("admin commands need a postgres database (database.engine=postgres)")

func main() {
	std := log.New(os.Stdout, "ADMIN : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile)
	if err := start(std); err != nil {
		if err != errHelp {
			std.Printf("\nerror: %+v\n", err)
		}
		os.Exit(1)
	}
}

func start(std *log.Logger) error {
	ctx := context.Background()

	conf, err := core.NewConfig()
	if err != nil {
		return errors.Wrap(err, "loading config")
	}
	if conf.Database.InMemory() {
		return errMemoryDB
	}

	logger := logsvc.NewRollbarLogger(std, conf)
	defer logger.Close()

	// set up DB
	if err = database.CreateIfNotExist(ctx, conf); err != nil {
		return errors.Wrap(err, "creating database")
	}
	db, err := database.Open(ctx, conf)
	if err != nil {
		return errors.Wrap(err, "opening database")
	}
	defer db.Close()

	// set up services
	var mailSvc core.EmailService
	if conf.Debug {
		mailSvc = emailsvc.NewConsoleService(conf, logger)
	} else {
		mailSvc = emailsvc.NewSendgridService(conf, logger)
	}
	if w, ok := mailSvc.(core.EmailWaiter); ok {
		defer w.Wait() // flush generated passwords before exiting
	}
	validate := validator.New()
	translator := core.NewTranslator()
	core.InitValidators(validate, translator)
	principal.InitValidators(validate, translator)

	// start CLI
	cli := commandLine{
		db:         db,
		principals: principal.NewService(sqlxrepos.NewPrincipalRepository(db), mailSvc, logger, validate),
		out:        os.Stdout,
	}
	return cli.run(ctx, os.Args)
}
