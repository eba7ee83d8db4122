package middleware

import (
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

// Logger writes one line per request and attaches a request-scoped logger to
// the request context so services can log through zerolog.Ctx.
func Logger(logger zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			req := c.Request()
			rid, _ := c.Get("request_id").(string)

			reqLogger := logger.With().Str("request_id", rid).Logger()
			c.SetRequest(req.WithContext(reqLogger.WithContext(req.Context())))

			err := next(c)

			status := c.Response().Status
			evt := reqLogger.Info()
			if err != nil {
				evt = reqLogger.Error().Err(err)
				if he, ok := err.(*echo.HTTPError); ok {
					status = he.Code
					if status < 500 {
						evt = reqLogger.Warn().Err(err)
					}
				}
			}

			evt.
				Str("method", req.Method).
				Str("path", req.URL.Path).
				Int("status", status).
				Dur("latency", time.Since(start)).
				Str("remote_ip", c.RealIP()).
				Msg("request")

			return err
		}
	}
}
