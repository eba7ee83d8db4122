package middleware

import (
	"runtime/debug"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/ehr/careflow/internal/platform/apperr"
)

// Recovery turns a panicking handler into an INTERNAL error response. The
// unit of work the handler had open is rolled back by its deferred cleanup
// before the panic reaches here.
func Recovery(logger zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) (err error) {
			defer func() {
				r := recover()
				if r == nil {
					return
				}
				l := logger
				if rid, ok := c.Get("request_id").(string); ok {
					l = logger.With().Str("request_id", rid).Logger()
				}
				l.Error().
					Interface("panic", r).
					Bytes("stack", debug.Stack()).
					Str("path", c.Request().URL.Path).
					Msg("handler panicked")
				err = apperr.ToHTTP(apperr.New(apperr.CodeInternal, "internal error"))
			}()
			return next(c)
		}
	}
}
