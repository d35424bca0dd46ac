package middleware

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"
)

type window struct {
	hits    int
	resetAt time.Time
}

// RateLimit caps requests per client IP inside a fixed window. Expired
// windows are pruned once per period so memory stays bounded by the set of
// recently active clients.
func RateLimit(limit int, per time.Duration) func(http.Handler) http.Handler {
	var (
		mu        sync.Mutex
		windows   = make(map[string]*window)
		lastPrune time.Time
	)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := clientIPForRateLimit(r)
			now := time.Now()

			mu.Lock()
			if now.Sub(lastPrune) > per {
				for key, win := range windows {
					if now.After(win.resetAt) {
						delete(windows, key)
					}
				}
				lastPrune = now
			}
			win, ok := windows[ip]
			if !ok || now.After(win.resetAt) {
				win = &window{resetAt: now.Add(per)}
				windows[ip] = win
			}
			if win.hits >= limit {
				mu.Unlock()
				w.WriteHeader(http.StatusTooManyRequests)
				return
			}
			win.hits++
			mu.Unlock()

			next.ServeHTTP(w, r)
		})
	}
}

// clientIPForRateLimit trusts the first parseable X-Forwarded-For entry, then
// the remote host. An unparseable remote address is used verbatim so the
// request still lands in some bucket.
func clientIPForRateLimit(r *http.Request) string {
	for _, part := range strings.Split(r.Header.Get("X-Forwarded-For"), ",") {
		candidate := strings.TrimSpace(part)
		if candidate != "" && net.ParseIP(candidate) != nil {
			return candidate
		}
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil && net.ParseIP(host) != nil {
		return host
	}
	return r.RemoteAddr
}
