package middleware

import (
	"encoding/json"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"
)

type bucket struct {
	count int
	until time.Time
}

// RateLimit allows limit requests per client IP in each fixed window of
// length per. Rejected requests get 429 with Retry-After. A limit of zero or
// less disables limiting.
func RateLimit(limit int, per time.Duration) func(http.Handler) http.Handler {
	return rateLimit(limit, per, time.Now)
}

func rateLimit(limit int, per time.Duration, now func() time.Time) func(http.Handler) http.Handler {
	if limit <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	var mu sync.Mutex
	buckets := make(map[string]*bucket)
	var lastSweep time.Time
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := ClientIP(r)
			mu.Lock()
			t := now()
			if t.Sub(lastSweep) > per {
				for key, b := range buckets {
					if t.After(b.until) {
						delete(buckets, key)
					}
				}
				lastSweep = t
			}
			b, ok := buckets[ip]
			if !ok || t.After(b.until) {
				b = &bucket{count: 0, until: t.Add(per)}
				buckets[ip] = b
			}
			if b.count >= limit {
				retry := int(math.Ceil(b.until.Sub(t).Seconds()))
				mu.Unlock()
				if retry < 1 {
					retry = 1
				}
				w.Header().Set("Retry-After", strconv.Itoa(retry))
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				_ = json.NewEncoder(w).Encode(map[string]any{"success": false, "error": "too many requests"})
				return
			}
			b.count++
			mu.Unlock()
			next.ServeHTTP(w, r)
		})
	}
}
