package echoapi

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/labstack/gommon/log"

	"github.com/trezcool/fatracker/core"
	"github.com/trezcool/fatracker/core/academic"
	"github.com/trezcool/fatracker/core/auth"
	"github.com/trezcool/fatracker/core/principal"
)

type (
	ServerDeps struct {
		Conf         *core.Config
		Logger       core.Logger
		AuthSvc      *auth.Service
		AcademicSvc  *academic.Service
		PrincipalSvc *principal.Service
		Validate     *validator.Validate
		Translator   ut.Translator
	}

	Server struct {
		deps     ServerDeps
		app      *echo.Echo
		errors   chan error
		shutdown chan os.Signal
	}
)

func NewServer(deps ServerDeps) *Server {
	s := &Server{
		deps:     deps,
		app:      echo.New(),
		errors:   make(chan error, 1),
		shutdown: make(chan os.Signal, 1),
	}
	signal.Notify(s.shutdown, os.Interrupt, syscall.SIGTERM)
	s.setup()
	return s
}

func (s *Server) setup() {
	conf := s.deps.Conf

	s.app.HideBanner = true
	s.app.Debug = conf.Debug
	s.app.HTTPErrorHandler = newAppHTTPErrorHandler(s.deps.Logger, s.deps.Translator, s.signalShutdown)

	// client origin: socket address unless we sit behind a trusted proxy
	if conf.Server.TrustProxy {
		s.app.IPExtractor = echo.ExtractIPFromXFFHeader()
	} else {
		s.app.IPExtractor = echo.ExtractIPDirect()
	}

	s.app.Pre(middleware.RemoveTrailingSlash())
	if !conf.TestMode {
		s.app.Use(middleware.Logger())
	}
	// do not recover in DEV|TEST mode
	if !(conf.Debug || conf.TestMode) {
		s.app.Use(middleware.RecoverWithConfig(middleware.RecoverConfig{LogLevel: log.ERROR}))
	}

	s.app.GET("/", home)

	authed := authMiddleware(s.deps.AuthSvc)
	registerAuthAPI(s.app.Group("/auth"), authed, s.deps.AuthSvc, s.deps.Validate)
	registerAcademicAPI(s.app, authed, s.deps.AcademicSvc, s.deps.Validate)
	registerPrincipalAPI(s.app, authed, s.deps.PrincipalSvc, s.deps.AcademicSvc, s.deps.Validate)
}

func (s *Server) Start() {
	s.errors <- s.app.Start(s.deps.Conf.Server.Addr)
}

// Errors receives the error that made Start return.
func (s *Server) Errors() <-chan error {
	return s.errors
}

// ShutdownSignal receives SIGINT, SIGTERM and the signal raised when a handler returns a shutdown error.
func (s *Server) ShutdownSignal() <-chan os.Signal {
	return s.shutdown
}

func (s *Server) Shutdown(ctx context.Context) error {
	signal.Stop(s.shutdown)
	return s.app.Shutdown(ctx)
}

func (s *Server) Close() error {
	return s.app.Close()
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { // for tests
	s.app.ServeHTTP(w, r)
}

func (s *Server) signalShutdown() {
	select {
	case s.shutdown <- syscall.SIGTERM:
	default: // already shutting down
	}
}

func home(ctx echo.Context) error {
	return ctx.String(http.StatusOK, "Welcome to FaTracker API!")
}
