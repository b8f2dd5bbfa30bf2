// Package echomw provides Echo middleware for rate limiting.
//
// Separated from the middleware package so that importing the HTTP
// middleware does not pull in github.com/labstack/echo.
//
// Usage:
//
//	limiter, _ := engine.Bind(ratelimiter.Config{Algorithm: ratelimiter.TokenBucket, Capacity: 1000, RefillRate: 50})
//	e := echo.New()
//	e.Use(echomw.RateLimit(limiter, echomw.KeyByRealIP))
package echomw

import (
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	ratelimiter "github.com/corerate/ratelimiter"
)

// KeyFunc extracts the rate limiting key from an Echo context.
type KeyFunc func(c echo.Context) string

// DeniedHandler is called when a request is rate limited.
type DeniedHandler func(c echo.Context, decision ratelimiter.Decision) error

// ErrorHandler is called when the limiter returns an error.
type ErrorHandler func(c echo.Context, err error) error

// Config holds the rate limit middleware configuration.
type Config struct {
	// Limiter is the rate limiter instance (required).
	Limiter ratelimiter.Limiter

	// KeyFunc extracts the rate limit key (required).
	KeyFunc KeyFunc

	// DeniedHandler is called on denial. Default: 429 JSON.
	DeniedHandler DeniedHandler

	// ErrorHandler is called on limiter error. Default: pass-through (fail open).
	ErrorHandler ErrorHandler

	// ExcludePaths are request paths that bypass rate limiting.
	ExcludePaths map[string]bool

	// Headers controls whether X-RateLimit-Remaining is set on admitted
	// responses. Default: true. Not part of the core contract.
	Headers *bool
}

// RateLimit creates Echo middleware with default settings.
func RateLimit(limiter ratelimiter.Limiter, keyFunc KeyFunc) echo.MiddlewareFunc {
	return RateLimitWithConfig(Config{
		Limiter: limiter,
		KeyFunc: keyFunc,
	})
}

// RateLimitWithConfig creates Echo middleware with full configuration control.
func RateLimitWithConfig(cfg Config) echo.MiddlewareFunc {
	if cfg.Limiter == nil {
		panic("echomw: Limiter is required")
	}
	if cfg.KeyFunc == nil {
		panic("echomw: KeyFunc is required")
	}
	if cfg.DeniedHandler == nil {
		cfg.DeniedHandler = defaultDeniedHandler
	}
	sendHeaders := cfg.Headers == nil || *cfg.Headers

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if cfg.ExcludePaths != nil && cfg.ExcludePaths[c.Request().URL.Path] {
				return next(c)
			}

			key := cfg.KeyFunc(c)
			decision, err := cfg.Limiter.Allow(c.Request().Context(), key)
			if err != nil {
				if cfg.ErrorHandler == nil {
					return next(c) // fail open
				}
				return cfg.ErrorHandler(c, err)
			}

			if !decision.Admitted {
				if decision.RetryAfterSeconds > 0 {
					c.Response().Header().Set("Retry-After", strconv.FormatInt(decision.RetryAfterSeconds, 10))
				}
				return cfg.DeniedHandler(c, decision)
			}

			if sendHeaders {
				c.Response().Header().Set("X-RateLimit-Remaining", strconv.FormatInt(decision.Remaining, 10))
			}

			return next(c)
		}
	}
}

// ─── Built-in Key Extractors ─────────────────────────────────────────────────

// KeyByRealIP uses Echo's RealIP() which respects X-Forwarded-For / X-Real-IP.
func KeyByRealIP(c echo.Context) string {
	return c.RealIP()
}

// KeyByHeader returns a KeyFunc that extracts from a request header.
func KeyByHeader(header string) KeyFunc {
	return func(c echo.Context) string {
		return c.Request().Header.Get(header)
	}
}

// KeyByParam returns a KeyFunc that extracts from a path parameter.
func KeyByParam(param string) KeyFunc {
	return func(c echo.Context) string {
		return c.Param(param)
	}
}

// KeyByPathAndIP combines the request path and real IP.
func KeyByPathAndIP(c echo.Context) string {
	return c.Path() + ":" + c.RealIP()
}

// ─── Internals ───────────────────────────────────────────────────────────────

type deniedBody struct {
	Timestamp         string `json:"timestamp"`
	Status            int    `json:"status"`
	Error             string `json:"error"`
	Message           string `json:"message"`
	RetryAfterSeconds int64  `json:"retryAfterSeconds"`
}

func defaultDeniedHandler(c echo.Context, decision ratelimiter.Decision) error {
	return c.JSON(429, deniedBody{
		Timestamp:         time.Now().UTC().Format(time.RFC3339),
		Status:            429,
		Error:             "Too Many Requests",
		Message:           decision.Message,
		RetryAfterSeconds: decision.RetryAfterSeconds,
	})
}
