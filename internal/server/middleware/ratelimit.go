package middleware

import (
	"net/http"
	"time"

	"github.com/go-chi/httprate"
)

// RateLimit returns an HTTP middleware that limits requests per IP address
// to the specified number per minute. Uses a sliding window algorithm.
//
// This is transport-level abuse protection for the engine's own endpoints
// (login, verification). The per-key hourly budget from tenant policy is a
// separate mechanism enforced inside the engine against the shared store.
func RateLimit(requestsPerMinute int) func(http.Handler) http.Handler {
	return httprate.LimitByIP(requestsPerMinute, time.Minute)
}
