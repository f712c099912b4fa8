package middleware

import (
	"math"
	"net/http"
	"strconv"
	"sync"

	"github.com/labstack/echo/v4"
	"golang.org/x/time/rate"
)

// RateLimitConfig controls the per-client request budget.
type RateLimitConfig struct {
	RequestsPerSecond float64
	BurstSize         int
}

// DefaultRateLimitConfig returns the settings applied when the server
// config leaves rate limiting unset.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerSecond: 100,
		BurstSize:         200,
	}
}

// clientLimiters hands out one rate.Limiter per client IP. Entries are never
// evicted; the map grows with the number of distinct clients seen.
type clientLimiters struct {
	mu   sync.Mutex
	byIP map[string]*rate.Limiter
	cfg  RateLimitConfig
}

func (cl *clientLimiters) limiter(ip string) *rate.Limiter {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	lim, ok := cl.byIP[ip]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(cl.cfg.RequestsPerSecond), cl.cfg.BurstSize)
		cl.byIP[ip] = lim
	}
	return lim
}

// RateLimit returns middleware that throttles requests per client IP.
// Rejected requests get a 429 with a Retry-After hint.
func RateLimit(cfg RateLimitConfig) echo.MiddlewareFunc {
	if cfg.RequestsPerSecond <= 0 || cfg.BurstSize <= 0 {
		cfg = DefaultRateLimitConfig()
	}
	limiters := &clientLimiters{byIP: make(map[string]*rate.Limiter), cfg: cfg}
	limitHeader := strconv.FormatFloat(cfg.RequestsPerSecond, 'f', -1, 64)

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			h := c.Response().Header()
			h.Set("X-RateLimit-Limit", limitHeader)

			res := limiters.limiter(c.RealIP()).Reserve()
			if d := res.Delay(); d > 0 {
				res.Cancel()
				h.Set("Retry-After", strconv.Itoa(int(math.Ceil(d.Seconds()))))
				h.Set("X-RateLimit-Remaining", "0")
				return echo.NewHTTPError(http.StatusTooManyRequests, "rate limit exceeded")
			}
			return next(c)
		}
	}
}
