package middleware

import (
	"math"
	"net/http"
	"strconv"
	"sync"

	"github.com/labstack/echo/v4"
	"golang.org/x/time/rate"
)

type RateLimitConfig struct {
	RequestsPerSecond float64
	BurstSize         int
}

func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerSecond: 50,
		BurstSize:         100,
	}
}

// limiterStore keeps one limiter per hospital and client address.
type limiterStore struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	config   RateLimitConfig
}

func (s *limiterStore) get(key string) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.limiters[key]
	if !ok {
		l = rate.NewLimiter(rate.Limit(s.config.RequestsPerSecond), s.config.BurstSize)
		s.limiters[key] = l
	}
	return l
}

// RateLimit answers 429 with Retry-After once a client drains its burst.
func RateLimit(cfg RateLimitConfig) echo.MiddlewareFunc {
	store := &limiterStore{limiters: make(map[string]*rate.Limiter), config: cfg}
	limitHeader := strconv.FormatFloat(cfg.RequestsPerSecond, 'f', 0, 64)

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			key := c.RealIP()
			if hospitalID, ok := c.Get("jwt_hospital_id").(string); ok && hospitalID != "" {
				key = hospitalID + ":" + key
			}

			h := c.Response().Header()
			h.Set("X-RateLimit-Limit", limitHeader)

			r := store.get(key).Reserve()
			if delay := r.Delay(); !r.OK() || delay > 0 {
				r.Cancel()
				retry := 1
				if r.OK() {
					retry = int(math.Ceil(delay.Seconds()))
				}
				h.Set("Retry-After", strconv.Itoa(retry))
				h.Set("X-RateLimit-Remaining", "0")
				return echo.NewHTTPError(http.StatusTooManyRequests, "rate limit exceeded")
			}
			return next(c)
		}
	}
}
