// Package middleware provides HTTP middleware components for the seriesd API.
package middleware

import (
	"net/http"
	"strconv"
	"strings"
)

// CORSConfig is the view of the api package's CORS settings this middleware
// needs. Defined as an interface to avoid importing api back into middleware.
type CORSConfig interface {
	GetAllowedOrigins() []string
	GetAllowedMethods() []string
	GetAllowedHeaders() []string
	GetMaxAge() int
}

// CORS handles cross-origin requests, including OPTIONS preflights. The
// method, header and max-age values are static per server so they are joined
// once up front; only the origin check runs per request.
func CORS(config CORSConfig) func(http.Handler) http.Handler {
	origins := config.GetAllowedOrigins()
	wildcard := len(origins) == 1 && origins[0] == "*"

	methods := strings.Join(config.GetAllowedMethods(), ", ")
	headers := strings.Join(config.GetAllowedHeaders(), ", ")
	maxAge := ""
	if config.GetMaxAge() > 0 {
		maxAge = strconv.Itoa(config.GetMaxAge())
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if origin := allowedOrigin(r, origins, wildcard); origin != "" {
				w.Header().Set("Access-Control-Allow-Origin", origin)
			}
			if methods != "" {
				w.Header().Set("Access-Control-Allow-Methods", methods)
			}
			if headers != "" {
				w.Header().Set("Access-Control-Allow-Headers", headers)
			}
			if maxAge != "" {
				w.Header().Set("Access-Control-Max-Age", maxAge)
			}

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// allowedOrigin returns the Access-Control-Allow-Origin value for the
// request, or "" when the origin is not allowed.
func allowedOrigin(r *http.Request, origins []string, wildcard bool) string {
	if len(origins) == 0 {
		return ""
	}
	if wildcard {
		return "*"
	}

	origin := r.Header.Get("Origin")
	for _, allowed := range origins {
		if origin == allowed {
			return origin
		}
	}
	return ""
}
