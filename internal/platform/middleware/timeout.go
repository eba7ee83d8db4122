package middleware

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/ehr/careflow/internal/platform/apperr"
)

// RequestTimeout bounds each request with a context deadline. A handler still
// running when the deadline passes gets a 504 in its place; the unit of work
// it started observes the cancelled context and rolls back.
func RequestTimeout(timeout time.Duration) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if timeout <= 0 {
				return next(c)
			}
			ctx, cancel := context.WithTimeout(c.Request().Context(), timeout)
			defer cancel()
			c.SetRequest(c.Request().WithContext(ctx))

			done := make(chan error, 1)
			go func() {
				done <- next(c)
			}()

			select {
			case err := <-done:
				return err
			case <-ctx.Done():
				if errors.Is(ctx.Err(), context.DeadlineExceeded) {
					return echo.NewHTTPError(http.StatusGatewayTimeout, map[string]interface{}{
						"code":    apperr.CodeInternal,
						"message": "request exceeded the allowed time",
					})
				}
				return ctx.Err()
			}
		}
	}
}
