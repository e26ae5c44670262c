package middleware

import (
	"net/http"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/healthtrack/healthtrack/internal/platform/auth"
)

// Recovery turns a handler panic into a 500 {"detail"} error and logs it with
// the request id, route and calling clinician. The error is returned up the
// chain so the access log and metrics see the 500.
func Recovery(logger zerolog.Logger) echo.MiddlewareFunc {
	return echomw.RecoverWithConfig(echomw.RecoverConfig{
		StackSize:           4 << 10,
		DisableStackAll:     true,
		DisableErrorHandler: true,
		LogErrorFunc: func(c echo.Context, err error, stack []byte) error {
			ev := logger.Error().
				Err(err).
				Str("method", c.Request().Method).
				Str("route", c.Path()).
				Bytes("stack", stack)
			if rid, ok := c.Get("request_id").(string); ok {
				ev = ev.Str("request_id", rid)
			}
			if id, ok := auth.IdentityFromContext(c.Request().Context()); ok {
				ev = ev.Str("clinician_id", id.ClinicianID.String())
			}
			ev.Msg("panic recovered")

			return echo.NewHTTPError(http.StatusInternalServerError, map[string]string{"detail": "internal server error"}).SetInternal(err)
		},
	})
}
