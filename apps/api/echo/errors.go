package echoapi

import (
	"net/http"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/fatracker/core"
	"github.com/trezcool/fatracker/core/academic"
	"github.com/trezcool/fatracker/core/access"
	"github.com/trezcool/fatracker/core/auth"
	"github.com/trezcool/fatracker/core/principal"
)

// statusCode returns the response status of a domain error, or 0 if err is not one.
func statusCode(err error) int {
	switch err {
	case auth.ErrInvalidCredentials, auth.ErrInvalidSession, auth.ErrInvalidCode,
		academic.ErrNotStaff, academic.ErrNotStudent, academic.ErrLeaderNotMember, principal.ErrRoleNotAssignable:
		return http.StatusBadRequest
	case auth.ErrUnauthorized:
		return http.StatusUnauthorized
	case access.ErrForbidden:
		return http.StatusForbidden
	case academic.ErrNotFound, academic.ErrStudentNotFound, principal.ErrNotFound:
		return http.StatusNotFound
	case academic.ErrCourseExists, academic.ErrSectionExists, academic.ErrAlreadyEnrolled,
		academic.ErrAlreadyInGroup, principal.ErrRoleInUse:
		return http.StatusConflict
	}
	return 0
}

// newAppHTTPErrorHandler returns a custom echo.HTTPErrorHandler that knows how to handle our errors.
// signalShutdown is called in order to gracefully shutdown the Server whenever a core.shutdown error is caught.
func newAppHTTPErrorHandler(logger core.Logger, translator ut.Translator, signalShutdown func()) echo.HTTPErrorHandler {
	return func(err error, ctx echo.Context) {
		var code int
		var message interface{}

		var vErr *core.ValidationError
		cause := errors.Cause(err)

		switch origErr := cause.(type) {
		case *echo.HTTPError:
			if origErr.Internal != nil {
				if herr, ok := origErr.Internal.(*echo.HTTPError); ok {
					origErr = herr
				}
			}
			code = origErr.Code
			message = origErr.Message
		case validator.ValidationErrors:
			code = http.StatusBadRequest
			message = core.TranslateValidationErrors(origErr, translator)
		default:
			if errors.As(err, &vErr) {
				code = http.StatusBadRequest
				if fields := vErr.FieldMap(); fields != nil {
					message = fields
				} else {
					message = vErr.Error()
				}
				break
			}
			if status := statusCode(cause); status != 0 {
				code = status
				message = cause.Error()
				break
			}

			// any other error is a server error
			code = http.StatusInternalServerError
			msg := http.StatusText(http.StatusInternalServerError)
			message = msg

			args := []interface{}{errors.Wrap(err, msg)}
			if p, ok := contextPrincipal(ctx); ok {
				args = append(args, p)
			}
			logger.Error(msg, args...)

			// shutting down...
			if core.IsShutdown(err) {
				signalShutdown()
			}
		}

		if ctx.Echo().Debug && code == http.StatusInternalServerError {
			message = err.Error()
		}
		if m, ok := message.(string); ok {
			message = echo.Map{"error": m}
		}

		// Send response
		if !ctx.Response().Committed {
			if ctx.Request().Method == http.MethodHead { // Issue #608
				err = ctx.NoContent(code)
			} else {
				err = ctx.JSON(code, message)
			}
			if err != nil {
				ctx.Echo().Logger.Error(err)
			}
		}
	}
}
