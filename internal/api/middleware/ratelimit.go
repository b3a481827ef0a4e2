package middleware

import (
	"log/slog"
	"net/http"
	"strconv"

	"golang.org/x/time/rate"
)

type (
	// Limiter decides whether a request may proceed. *rate.Limiter satisfies it.
	Limiter interface {
		Allow() bool
	}
)

// NewLimiter returns a token bucket allowing rps requests per second with a burst of twice
// that. A non-positive rps returns nil, which disables rate limiting.
func NewLimiter(rps int) Limiter {
	if rps <= 0 {
		return nil
	}

	return rate.NewLimiter(rate.Limit(rps), rps*2) //nolint: mnd
}

// RateLimit rejects requests beyond the limiter's budget with 429 Too Many Requests.
func RateLimit(limiter Limiter, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if limiter.Allow() {
				next.ServeHTTP(w, r)

				return
			}

			correlationID := GetCorrelationID(r.Context())

			logger.Warn("Rate limit exceeded",
				slog.String("path", r.URL.Path),
				slog.String("remote_addr", r.RemoteAddr),
				slog.String("correlation_id", correlationID),
			)

			w.Header().Set("Retry-After", strconv.Itoa(1))
			writeProblem(w, r, http.StatusTooManyRequests, "request rate limit exceeded")
		})
	}
}
