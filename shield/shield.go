// Package shield provides reusable HTTP middleware for the conversion
// service: security headers, rate limiting, body limits, request IDs, and
// HEAD method handling.
//
// Usage:
//
//	r := chi.NewRouter()
//	for _, mw := range shield.DefaultAPIStack(nil) {
//	    r.Use(mw)
//	}
package shield

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

type contextKey string

// requestIDKey is the context key for the per-request ID.
const requestIDKey contextKey = "shield_request_id"

// RequestIDFrom retrieves the request ID set by RequestID, or "" when the
// middleware did not run.
func RequestIDFrom(ctx context.Context) string {
	v, _ := ctx.Value(requestIDKey).(string)
	return v
}

// RequestID assigns each request a UUID, stores it in the context, and echoes
// it in the X-Request-ID response header. An inbound X-Request-ID is reused
// so IDs survive proxy hops.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		ctx := context.WithValue(r.Context(), requestIDKey, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// DefaultAPIStack returns the standard middleware stack for the conversion
// API. Middleware is ordered: HeadToGet → SecurityHeaders → MaxFormBody →
// RequestID → RateLimiter. Pass nil rules to disable rate limiting.
func DefaultAPIStack(rules map[string]RateLimitConfig) []func(http.Handler) http.Handler {
	stack := []func(http.Handler) http.Handler{
		HeadToGet,
		SecurityHeaders(DefaultHeaders()),
		MaxFormBody(64 * 1024),
		RequestID,
	}
	if len(rules) > 0 {
		stack = append(stack, NewRateLimiter(rules).Middleware)
	}
	return stack
}
