package middleware

import (
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
)

// SecurityConfig tunes SecurityHeaders. A zero HSTSMaxAge leaves
// Strict-Transport-Security off, for plain HTTP development servers.
type SecurityConfig struct {
	HSTSMaxAge time.Duration
}

// DefaultSecurityConfig enables HSTS for one year.
func DefaultSecurityConfig() SecurityConfig {
	return SecurityConfig{HSTSMaxAge: 365 * 24 * time.Hour}
}

// SecurityHeaders marks every response as an uncacheable, unframeable JSON
// document carrying patient data.
func SecurityHeaders(cfg SecurityConfig) echo.MiddlewareFunc {
	hsts := ""
	if secs := int64(cfg.HSTSMaxAge / time.Second); secs > 0 {
		hsts = "max-age=" + strconv.FormatInt(secs, 10) + "; includeSubDomains"
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			h := c.Response().Header()
			h.Set(echo.HeaderXContentTypeOptions, "nosniff")
			h.Set(echo.HeaderXFrameOptions, "DENY")
			h.Set(echo.HeaderContentSecurityPolicy, "default-src 'none'; frame-ancestors 'none'")
			h.Set(echo.HeaderReferrerPolicy, "no-referrer")
			h.Set(echo.HeaderCacheControl, "no-store")
			if hsts != "" {
				h.Set(echo.HeaderStrictTransportSecurity, hsts)
			}
			return next(c)
		}
	}
}
