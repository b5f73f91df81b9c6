package main

import (
	"context"
	"expvar"
	"fmt"
	"io"
	"log"
	"net/http"
	_ "net/http/pprof" // register the /debug/pprof handlers
	"os"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"

	"github.com/trezcool/fatracker/apps/api/echo"
	"github.com/trezcool/fatracker/core"
	"github.com/trezcool/fatracker/core/academic"
	"github.com/trezcool/fatracker/core/access"
	"github.com/trezcool/fatracker/core/auth"
	"github.com/trezcool/fatracker/core/principal"
	"github.com/trezcool/fatracker/services/email"
	"github.com/trezcool/fatracker/services/logger"
	"github.com/trezcool/fatracker/storage/cache"
	"github.com/trezcool/fatracker/storage/database"
	"github.com/trezcool/fatracker/storage/database/inmem"
	"github.com/trezcool/fatracker/storage/database/sqlx"
)

type repositories struct {
	principals principal.Repository
	academic   academic.Repository
	ownership  academic.OwnershipRepository
	close      func() error
}

func main() {
	std := log.New(os.Stdout, "API : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile)
	if err := start(std); err != nil {
		std.Printf("\nerror: %+v\n", err)
		os.Exit(1)
	}
}

func start(std *log.Logger) error {
	ctx := context.Background()

	// =========================================================================
	// Set up Dependencies

	conf, err := core.NewConfig()
	if err != nil {
		return errors.Wrap(err, "loading config")
	}

	logger := logsvc.NewRollbarLogger(std, conf)
	logger.Enable(!conf.Debug)
	defer logger.Close()

	repos, err := setUpRepositories(ctx, conf)
	if err != nil {
		return errors.Wrap(err, "setting up database")
	}
	defer func() {
		if err := repos.close(); err != nil {
			logger.Error("closing database", err)
		}
	}()

	sessions, err := setUpCache(ctx, conf)
	if err != nil {
		return errors.Wrap(err, "setting up cache")
	}
	defer func() {
		if err := sessions.Close(); err != nil {
			logger.Error("closing cache", err)
		}
	}()

	if err = core.ParseEmailTemplates(); err != nil {
		return errors.Wrap(err, "parsing email templates")
	}
	var mailSvc core.EmailService
	if conf.Debug {
		mailSvc = emailsvc.NewConsoleService(conf, logger)
	} else {
		mailSvc = emailsvc.NewSendgridService(conf, logger)
	}
	if w, ok := mailSvc.(core.EmailWaiter); ok {
		defer w.Wait()
	}

	validate := validator.New()
	translator := core.NewTranslator()
	core.InitValidators(validate, translator)
	principal.InitValidators(validate, translator)

	principalSvc := principal.NewService(repos.principals, mailSvc, logger, validate)
	authSvc := auth.NewService(repos.principals, sessions, auth.NewTokenIssuer(conf), mailSvc, logger, conf)
	academicSvc := academic.NewService(
		repos.academic,
		repos.ownership,
		access.NewResolver(repos.ownership),
		principalSvc,
		repos.principals,
		validate,
		logger,
	)

	// =========================================================================
	// Initialize App

	logger.Info(fmt.Sprintf("Application initializing : version %q", conf.Build))
	defer logger.Info("Application stopped")

	// =========================================================================
	// Start Debug Service
	//
	// /debug/pprof - Added to the default mux by importing the net/http/pprof package.
	// /debug/vars - Added to the default mux by importing the expvar package.

	expvar.NewString("build").Set(conf.Build)
	expvar.NewString("env").Set(conf.Env)
	expvar.NewString("database").Set(conf.Database.Engine)
	expvar.NewString("cache").Set(conf.Cache.Backend)

	go func() {
		if err := http.ListenAndServe(conf.Server.DebugHost, http.DefaultServeMux); err != nil {
			logger.Error(fmt.Sprintf("debug server closed: %v", err), err)
		}
	}()

	// =========================================================================
	// Start API Service

	server := echoapi.NewServer(echoapi.ServerDeps{
		Conf:         conf,
		Logger:       logger,
		AuthSvc:      authSvc,
		AcademicSvc:  academicSvc,
		PrincipalSvc: principalSvc,
		Validate:     validate,
		Translator:   translator,
	})

	go server.Start()

	// =========================================================================
	// Shutdown

	select {
	case err = <-server.Errors():
		return errors.Wrap(err, "server error")

	case sig := <-server.ShutdownSignal():
		logger.Info(fmt.Sprintf("%v: Start shutdown...", sig))

		// give outstanding requests a deadline for completion
		ctx, cancel := context.WithTimeout(ctx, conf.Server.ShutdownTimeout)
		defer cancel()

		// asking listener to shutdown and shed load
		if err = server.Shutdown(ctx); err != nil {
			logger.Error(fmt.Sprintf("could not stop server gracefully: %v", err), err)

			if err = server.Close(); err != nil {
				return errors.Wrap(err, "could not force stop server")
			}
		}
	}
	return nil
}

// setUpRepositories returns the in-memory store (database.engine=memory) or the migrated postgres repositories.
func setUpRepositories(ctx context.Context, conf *core.Config) (repositories, error) {
	if conf.Database.InMemory() {
		db := inmemdb.NewDB()
		return repositories{
			principals: db,
			academic:   db,
			ownership:  db,
			close:      func() error { return nil },
		}, nil
	}

	if err := database.CreateIfNotExist(ctx, conf); err != nil {
		return repositories{}, err
	}
	db, err := database.Open(ctx, conf)
	if err != nil {
		return repositories{}, err
	}
	if err = database.Migrate(ctx, db); err != nil {
		_ = db.Close()
		return repositories{}, err
	}

	return repositories{
		principals: sqlxrepos.NewPrincipalRepository(db),
		academic:   sqlxrepos.NewAcademicRepository(db),
		ownership:  sqlxrepos.NewOwnershipRepository(db),
		close:      db.Close,
	}, nil
}

type sessionCache interface {
	core.Cache
	io.Closer
}

// setUpCache returns the session cache backing two-factor challenges.
func setUpCache(ctx context.Context, conf *core.Config) (sessionCache, error) {
	switch conf.Cache.Backend {
	case "memory":
		return cachestore.NewMemory(conf.Cache.Shards), nil
	case "redis":
		client, err := cachestore.OpenRedis(ctx, conf.Redis)
		if err != nil {
			return nil, err
		}
		return cachestore.NewRedis(client), nil
	}
	return nil, errors.Errorf("unknown cache backend %q", conf.Cache.Backend)
}
