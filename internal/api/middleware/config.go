// Package middleware provides HTTP middleware components for the seriesd API.
package middleware

import (
	"time"

	"github.com/seriesd-io/seriesd/internal/config"
)

// RateLimitConfig holds rate limiter settings, loaded from environment
// variables with sensible single-node defaults.
type RateLimitConfig struct {
	// GlobalRPS limits total requests per second across all callers.
	GlobalRPS int

	// GlobalBurst overrides the global burst capacity (0 = 2x GlobalRPS).
	GlobalBurst int

	// UserRPS limits requests per second per authenticated user.
	UserRPS int

	// UserBurst overrides the per-user burst capacity (0 = 2x UserRPS).
	UserBurst int

	// UnAuthRPS limits requests per second for unauthenticated callers.
	UnAuthRPS int

	// UnAuthBurst overrides the unauthenticated burst capacity.
	UnAuthBurst int

	// MaxUsers bounds the per-user limiter map.
	MaxUsers int

	// CleanupInterval is how often idle per-user limiters are swept.
	CleanupInterval time.Duration

	// IdleTimeout is how long a user may be idle before its limiter is
	// dropped.
	IdleTimeout time.Duration
}

// LoadRateLimitConfig loads rate limiter settings from the environment.
func LoadRateLimitConfig() *RateLimitConfig {
	return &RateLimitConfig{
		GlobalRPS:       config.GetEnvInt("SERIESD_RATELIMIT_GLOBAL_RPS", defaultGlobalRPS),
		GlobalBurst:     config.GetEnvInt("SERIESD_RATELIMIT_GLOBAL_BURST", 0),
		UserRPS:         config.GetEnvInt("SERIESD_RATELIMIT_USER_RPS", defaultUserRPS),
		UserBurst:       config.GetEnvInt("SERIESD_RATELIMIT_USER_BURST", 0),
		UnAuthRPS:       config.GetEnvInt("SERIESD_RATELIMIT_UNAUTH_RPS", defaultUnAuthRPS),
		UnAuthBurst:     config.GetEnvInt("SERIESD_RATELIMIT_UNAUTH_BURST", 0),
		MaxUsers:        config.GetEnvInt("SERIESD_RATELIMIT_MAX_USERS", defaultMaxUsers),
		CleanupInterval: config.GetEnvDuration("SERIESD_RATELIMIT_CLEANUP_INTERVAL", rateLimiterCleanupInterval),
		IdleTimeout:     config.GetEnvDuration("SERIESD_RATELIMIT_IDLE_TIMEOUT", rateLimiterIdleTimeout),
	}
}
