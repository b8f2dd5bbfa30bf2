// Package fibermw provides Fiber middleware for rate limiting.
//
// Separated from the middleware package so that importing the HTTP
// middleware does not pull in github.com/gofiber/fiber. Fiber uses
// fasthttp (not net/http), so a dedicated adapter is required.
//
// Usage:
//
//	limiter, _ := engine.Bind(ratelimiter.Config{Algorithm: ratelimiter.TokenBucket, Capacity: 1000, RefillRate: 50})
//	app := fiber.New()
//	app.Use(fibermw.RateLimit(limiter, fibermw.KeyByIP))
package fibermw

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"

	ratelimiter "github.com/corerate/ratelimiter"
)

// KeyFunc extracts the rate limiting key from a Fiber context.
type KeyFunc func(c *fiber.Ctx) string

// DeniedHandler is called when a request is rate limited.
type DeniedHandler func(c *fiber.Ctx, decision ratelimiter.Decision) error

// ErrorHandler is called when the limiter returns an error.
type ErrorHandler func(c *fiber.Ctx, err error) error

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

// RateLimit creates Fiber middleware with default settings.
func RateLimit(limiter ratelimiter.Limiter, keyFunc KeyFunc) fiber.Handler {
	return RateLimitWithConfig(Config{
		Limiter: limiter,
		KeyFunc: keyFunc,
	})
}

// RateLimitWithConfig creates Fiber middleware with full configuration control.
func RateLimitWithConfig(cfg Config) fiber.Handler {
	if cfg.Limiter == nil {
		panic("fibermw: Limiter is required")
	}
	if cfg.KeyFunc == nil {
		panic("fibermw: KeyFunc is required")
	}
	if cfg.DeniedHandler == nil {
		cfg.DeniedHandler = defaultDeniedHandler
	}
	if cfg.ErrorHandler == nil {
		cfg.ErrorHandler = defaultErrorHandler
	}
	sendHeaders := cfg.Headers == nil || *cfg.Headers

	return func(c *fiber.Ctx) error {
		if cfg.ExcludePaths != nil && cfg.ExcludePaths[c.Path()] {
			return c.Next()
		}

		key := cfg.KeyFunc(c)
		decision, err := cfg.Limiter.Allow(c.UserContext(), key)
		if err != nil {
			return cfg.ErrorHandler(c, err)
		}

		if !decision.Admitted {
			if decision.RetryAfterSeconds > 0 {
				c.Set("Retry-After", strconv.FormatInt(decision.RetryAfterSeconds, 10))
			}
			return cfg.DeniedHandler(c, decision)
		}

		if sendHeaders {
			c.Set("X-RateLimit-Remaining", strconv.FormatInt(decision.Remaining, 10))
		}

		return c.Next()
	}
}

// ─── Built-in Key Extractors ─────────────────────────────────────────────────

// KeyByIP uses Fiber's IP() method which respects proxy headers.
func KeyByIP(c *fiber.Ctx) string {
	return c.IP()
}

// KeyByHeader returns a KeyFunc that extracts from a request header.
func KeyByHeader(header string) KeyFunc {
	return func(c *fiber.Ctx) string {
		return c.Get(header)
	}
}

// KeyByParam returns a KeyFunc that extracts from a route parameter.
func KeyByParam(param string) KeyFunc {
	return func(c *fiber.Ctx) string {
		return c.Params(param)
	}
}

// KeyByPathAndIP combines the request path and client IP.
func KeyByPathAndIP(c *fiber.Ctx) string {
	return c.Path() + ":" + c.IP()
}

// ─── Internals ───────────────────────────────────────────────────────────────

type deniedBody struct {
	Timestamp         string `json:"timestamp"`
	Status            int    `json:"status"`
	Error             string `json:"error"`
	Message           string `json:"message"`
	RetryAfterSeconds int64  `json:"retryAfterSeconds"`
}

func defaultDeniedHandler(c *fiber.Ctx, decision ratelimiter.Decision) error {
	return c.Status(fiber.StatusTooManyRequests).JSON(deniedBody{
		Timestamp:         time.Now().UTC().Format(time.RFC3339),
		Status:            429,
		Error:             "Too Many Requests",
		Message:           decision.Message,
		RetryAfterSeconds: decision.RetryAfterSeconds,
	})
}

func defaultErrorHandler(c *fiber.Ctx, _ error) error {
	return c.Next()
}
