package ratelimit

import (
	"encoding/json"
	"net"
	"net/http"
	"strconv"
)

// KeyFunc extracts the bucket key from a request. An empty key skips
// limiting for that request.
type KeyFunc func(r *http.Request) string

// ClientAddr keys requests by the remote host, without the port.
func ClientAddr(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// SetHeaders writes the quota headers for a decision.
//
//	X-RateLimit-Limit     maximum requests allowed in the window
//	X-RateLimit-Remaining tokens remaining in the current window
//	X-RateLimit-Reset     Unix timestamp when the bucket is fully replenished
func SetHeaders(w http.ResponseWriter, d Decision) {
	if d.Limit == 0 {
		return
	}
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt.Unix(), 10))
}

// Middleware returns an HTTP middleware that enforces limiter on every
// request, keyed by keyFn. Rejected requests get HTTP 429 and a JSON error
// body; onReject callbacks run first.
func Middleware(limiter *Limiter, keyFn KeyFunc, onReject ...func()) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := keyFn(r)
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}

			d := limiter.Take("client:"+key, 0)
			SetHeaders(w, d)
			if !d.Allowed {
				for _, fn := range onReject {
					fn()
				}
				WriteRejection(w)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// WriteRejection writes the 429 response body.
func WriteRejection(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusTooManyRequests)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]string{
			"code":    "RATE_LIMITED",
			"message": "Rate limit exceeded. Try again later.",
		},
	})
}
