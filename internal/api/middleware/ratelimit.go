// Package middleware provides HTTP middleware components for the seriesd API.
package middleware

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	burstCapacityMultiplier = 2
	defaultMaxUsers         = 100
	defaultGlobalRPS        = 100
	defaultUserRPS          = 50
	defaultUnAuthRPS        = 10

	rateLimiterCleanupInterval = 5 * time.Minute
	rateLimiterIdleTimeout     = 1 * time.Hour
)

type (
	// RateLimiter provides rate limiting for incoming requests.
	//
	// For authenticated requests, user identifies the caller.
	// For unauthenticated requests, user is the empty string.
	RateLimiter interface {
		// Allow checks if a request should be allowed based on rate limits.
		// Returns true if allowed, false if rate limited.
		Allow(user string) bool
	}

	// InMemoryRateLimiter implements RateLimiter using golang.org/x/time/rate.
	//
	// Provides three-tier rate limiting:
	//  1. Global limit (applied to all requests)
	//  2. Per-user limit (applied to authenticated requests)
	//  3. Unauthenticated limit (applied to requests without a user)
	//
	// Uses token bucket algorithm with configurable burst capacity. Memory
	// cleanup runs periodically; users idle longer than IdleTimeout are
	// removed. Suitable for single-node deployments.
	InMemoryRateLimiter struct {
		global          *rate.Limiter
		perUser         map[string]*userLimiter
		unauthenticated *rate.Limiter
		mu              sync.RWMutex
		cleanupTicker   *time.Ticker
		done            chan struct{}
		closeOnce       sync.Once

		userRPS     int
		userBurst   int
		idleTimeout time.Duration
		maxUsers    int
	}

	// userLimiter pairs a limiter with its last use for idle cleanup.
	userLimiter struct {
		limiter  *rate.Limiter
		lastSeen time.Time
	}
)

// NewInMemoryRateLimiter creates a three-tier in-memory rate limiter and
// starts its background cleanup goroutine. Call Close to stop it.
//
// Zero-valued tuning fields fall back to package defaults.
func NewInMemoryRateLimiter(cfg *RateLimitConfig) *InMemoryRateLimiter {
	cleanupInterval := cfg.CleanupInterval
	if cleanupInterval == 0 {
		cleanupInterval = rateLimiterCleanupInterval
	}

	idleTimeout := cfg.IdleTimeout
	if idleTimeout == 0 {
		idleTimeout = rateLimiterIdleTimeout
	}

	maxUsers := cfg.MaxUsers
	if maxUsers == 0 {
		maxUsers = defaultMaxUsers
	}

	limiter := &InMemoryRateLimiter{
		global:          rate.NewLimiter(rate.Limit(cfg.GlobalRPS), burstCapacity(cfg.GlobalRPS, cfg.GlobalBurst)),
		perUser:         make(map[string]*userLimiter),
		unauthenticated: rate.NewLimiter(rate.Limit(cfg.UnAuthRPS), burstCapacity(cfg.UnAuthRPS, cfg.UnAuthBurst)),
		cleanupTicker:   time.NewTicker(cleanupInterval),
		done:            make(chan struct{}),
		userRPS:         cfg.UserRPS,
		userBurst:       burstCapacity(cfg.UserRPS, cfg.UserBurst),
		idleTimeout:     idleTimeout,
		maxUsers:        maxUsers,
	}

	go limiter.cleanupLoop()

	return limiter
}

// Allow checks all applicable tiers for the request.
func (l *InMemoryRateLimiter) Allow(user string) bool {
	if !l.global.Allow() {
		return false
	}

	if user == "" {
		return l.unauthenticated.Allow()
	}

	return l.userLimiter(user).Allow()
}

// userLimiter returns (creating if necessary) the per-user limiter.
func (l *InMemoryRateLimiter) userLimiter(user string) *rate.Limiter {
	l.mu.RLock()
	entry, exists := l.perUser[user]
	l.mu.RUnlock()

	if exists {
		l.mu.Lock()
		entry.lastSeen = time.Now()
		l.mu.Unlock()

		return entry.limiter
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	// Re-check under the write lock
	if entry, exists := l.perUser[user]; exists {
		entry.lastSeen = time.Now()

		return entry.limiter
	}

	// Bound memory: beyond maxUsers new callers share the unauthenticated tier
	if len(l.perUser) >= l.maxUsers {
		return l.unauthenticated
	}

	entry = &userLimiter{
		limiter:  rate.NewLimiter(rate.Limit(l.userRPS), l.userBurst),
		lastSeen: time.Now(),
	}
	l.perUser[user] = entry

	return entry.limiter
}

// cleanupLoop periodically removes idle per-user limiters.
func (l *InMemoryRateLimiter) cleanupLoop() {
	for {
		select {
		case <-l.done:
			return
		case <-l.cleanupTicker.C:
			cutoff := time.Now().Add(-l.idleTimeout)

			l.mu.Lock()
			for user, entry := range l.perUser {
				if entry.lastSeen.Before(cutoff) {
					delete(l.perUser, user)
				}
			}
			l.mu.Unlock()
		}
	}
}

// Close stops the background cleanup goroutine. Safe to call multiple times.
func (l *InMemoryRateLimiter) Close() error {
	l.closeOnce.Do(func() {
		l.cleanupTicker.Stop()
		close(l.done)
	})

	return nil
}

// burstCapacity returns the explicit override or 2 x rate.
func burstCapacity(rps, override int) int {
	if override > 0 {
		return override
	}

	return rps * burstCapacityMultiplier
}

// RateLimit creates a middleware enforcing the limiter on every non-public
// endpoint. Rate-limited requests receive an RFC 7807 429 response.
func RateLimit(limiter RateLimiter, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if publicEndpoints[r.URL.Path] {
				next.ServeHTTP(w, r)

				return
			}

			if limiter.Allow(GetUser(r.Context())) {
				next.ServeHTTP(w, r)

				return
			}

			logger.Warn("Request rate limited",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.String("request_id", GetRequestID(r.Context())),
			)

			w.Header().Set("Retry-After", "1")
			writeProblem(w, r, logger, http.StatusTooManyRequests, "Request rate limit exceeded")
		})
	}
}
