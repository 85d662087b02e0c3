package ratelimit

import (
	"net/http"
	"strconv"
	"time"
)

// KeyFunc extracts the rate limit key from a request. An empty key skips
// limiting.
type KeyFunc func(*http.Request) string

// Middleware enforces limiter per key. Rejected requests get the rate limit
// headers and are passed to onLimit, which writes the response; a nil onLimit
// writes a plain 429.
func Middleware(limiter *Limiter, keyFunc KeyFunc, onLimit func(http.ResponseWriter, *http.Request, Result)) func(http.Handler) http.Handler {
	if limiter == nil || keyFunc == nil {
		panic("ratelimit: limiter and keyFunc are required")
	}
	if onLimit == nil {
		onLimit = func(w http.ResponseWriter, _ *http.Request, _ Result) {
			http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := keyFunc(r)
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}

			res, err := limiter.Allow(r.Context(), key)
			if err != nil {
				next.ServeHTTP(w, r)
				return
			}

			h := w.Header()
			h.Set("X-RateLimit-Limit", strconv.Itoa(res.Limit))
			h.Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
			h.Set("X-RateLimit-Reset", strconv.FormatInt(res.ResetAt.Unix(), 10))

			if !res.Allowed {
				retry := res.RetryAfter(limiter.now())
				h.Set("Retry-After", strconv.Itoa(int(retry/time.Second)))
				onLimit(w, r, res)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
