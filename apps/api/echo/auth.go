package echoapi

import (
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/fatracker/core"
	"github.com/trezcool/fatracker/core/access"
	"github.com/trezcool/fatracker/core/auth"
	"github.com/trezcool/fatracker/core/principal"
)

const (
	contextPrincipalKey = "principal"
	bearerPrefix        = "Bearer "
)

type authApi struct {
	svc      *auth.Service
	validate *validator.Validate
}

func registerAuthAPI(g *echo.Group, authed echo.MiddlewareFunc, svc *auth.Service, validate *validator.Validate) {
	api := authApi{svc: svc, validate: validate}

	// un-authed endpoints
	g.POST("/login", api.login)
	g.POST("/validate/:sessionId", api.validateCode)
	g.POST("/resend/:sessionId", api.resend)

	// authed endpoints
	g.GET("/me", api.me, authed)
}

// authMiddleware authenticates the token of the Authorization header, with or without a "Bearer " prefix,
// and stores the principal it was issued for in the context.
func authMiddleware(svc *auth.Service) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			token := strings.TrimSpace(ctx.Request().Header.Get(echo.HeaderAuthorization))
			token = strings.TrimSpace(strings.TrimPrefix(token, bearerPrefix))
			if token == "" {
				return auth.ErrUnauthorized
			}
			p, err := svc.Authenticate(ctx.Request().Context(), token)
			if err != nil {
				return err
			}
			ctx.Set(contextPrincipalKey, p)
			return next(ctx)
		}
	}
}

// roleMiddleware lets through principals holding any of roles; it must run after authMiddleware.
func roleMiddleware(roles ...principal.Role) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			p, err := mustContextPrincipal(ctx)
			if err != nil {
				return err
			}
			if !p.Roles.HasAny(roles...) {
				return access.ErrForbidden
			}
			return next(ctx)
		}
	}
}

func contextPrincipal(ctx echo.Context) (principal.Principal, bool) {
	p, ok := ctx.Get(contextPrincipalKey).(principal.Principal)
	return p, ok
}

// mustContextPrincipal returns the principal set by authMiddleware.
func mustContextPrincipal(ctx echo.Context) (principal.Principal, error) {
	if p, ok := contextPrincipal(ctx); ok {
		return p, nil
	}
	return principal.Principal{}, auth.ErrUnauthorized
}

// Handlers

func (api *authApi) login(ctx echo.Context) error {
	var data LoginRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to LoginRequest")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	res, err := api.svc.Login(
		ctx.Request().Context(),
		auth.Credentials{Username: data.Username, Password: data.Password, Kind: principal.Kind(data.Kind)},
		ctx.RealIP(),
	)
	if err != nil {
		return errors.Wrap(err, "logging in")
	}
	if res.Challenged() {
		return ctx.JSON(http.StatusOK, SessionResponse{SessionID: res.SessionID})
	}
	return ctx.JSON(http.StatusOK, TokenResponse{Token: res.Token, Type: res.Type})
}

func (api *authApi) validateCode(ctx echo.Context) error {
	sessionID, err := sessionParam(ctx)
	if err != nil {
		return err
	}
	var data ValidateRequest
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to ValidateRequest")
	}
	if err = data.Validate(api.validate); err != nil {
		return err
	}

	res, err := api.svc.Validate(ctx.Request().Context(), sessionID, data.Code, ctx.RealIP())
	if err != nil {
		return errors.Wrap(err, "validating code")
	}
	return ctx.JSON(http.StatusOK, TokenResponse{Token: res.Token, Type: res.Type})
}

func (api *authApi) resend(ctx echo.Context) error {
	sessionID, err := sessionParam(ctx)
	if err != nil {
		return err
	}
	sessionID, err = api.svc.Resend(ctx.Request().Context(), sessionID, ctx.RealIP())
	if err != nil {
		return errors.Wrap(err, "resending code")
	}
	return ctx.JSON(http.StatusOK, SessionResponse{SessionID: sessionID})
}

func (api *authApi) me(ctx echo.Context) error {
	p, err := mustContextPrincipal(ctx)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, p)
}

// sessionParam returns the :sessionId path param; a malformed id can never match a session.
func sessionParam(ctx echo.Context) (string, error) {
	id, err := uuid.Parse(ctx.Param("sessionId"))
	if err != nil {
		return "", auth.ErrInvalidSession
	}
	return id.String(), nil
}

type (
	LoginRequest struct {
		Username string `json:"username" validate:"required"`
		Password string `json:"password" validate:"required"`
		Kind     string `json:"kind" validate:"omitempty,principal_kind"`
	}

	ValidateRequest struct {
		Code string `json:"code" validate:"required,otp_code"`
	}

	SessionResponse struct {
		SessionID string `json:"sessionId"`
	}

	TokenResponse struct {
		Token string         `json:"token"`
		Type  principal.Kind `json:"type"`
	}
)

func (lr *LoginRequest) Validate(validate *validator.Validate) error {
	lr.Username = core.CleanString(lr.Username)
	lr.Kind = core.CleanString(lr.Kind, true /* lower */)
	return validate.Struct(lr)
}

func (vr *ValidateRequest) Validate(validate *validator.Validate) error {
	vr.Code = core.CleanString(vr.Code)
	return validate.Struct(vr)
}
