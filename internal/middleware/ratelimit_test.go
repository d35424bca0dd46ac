package middleware

import (
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestRateLimitCapsEachClientWindow(t *testing.T) {
	okHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	})
	limited := RateLimit(2, time.Minute)(okHandler)

	send := func(remoteAddr string) int {
		req := httptest.NewRequest(http.MethodPost, "/jobs", nil)
		req.RemoteAddr = remoteAddr
		rec := httptest.NewRecorder()
		limited.ServeHTTP(rec, req)
		return rec.Code
	}

	for i := 0; i < 2; i++ {
		if code := send("198.51.100.10:1234"); code != http.StatusAccepted {
			t.Fatalf("request %d status = %d, want %d", i+1, code, http.StatusAccepted)
		}
	}
	if code := send("198.51.100.10:1234"); code != http.StatusTooManyRequests {
		t.Fatalf("over-limit status = %d, want %d", code, http.StatusTooManyRequests)
	}
	// A different client gets its own window.
	if code := send("203.0.113.7:1234"); code != http.StatusAccepted {
		t.Fatalf("second client status = %d, want %d", code, http.StatusAccepted)
	}
}

func TestClientIPForRateLimit(t *testing.T) {
	tests := []struct {
		name       string
		forwarded  string
		remoteAddr string
		want       string
	}{
		{
			name:       "forwarded header wins",
			forwarded:  "203.0.113.1",
			remoteAddr: "198.51.100.10:1234",
			want:       "203.0.113.1",
		},
		{
			name:       "first forwarded entry wins",
			forwarded:  " 203.0.113.1 , 198.51.100.2 ",
			remoteAddr: "198.51.100.10:1234",
			want:       "203.0.113.1",
		},
		{
			name:       "garbage forwarded entry is skipped",
			forwarded:  "not-an-ip",
			remoteAddr: "198.51.100.10:1234",
			want:       "198.51.100.10",
		},
		{
			name:       "no forwarded header uses remote host",
			remoteAddr: "198.51.100.10:1234",
			want:       "198.51.100.10",
		},
		{
			name:       "ipv6 forwarded",
			forwarded:  "2001:db8::1",
			remoteAddr: net.JoinHostPort("2001:db8::2", "443"),
			want:       "2001:db8::1",
		},
		{
			name:       "ipv6 remote fallback",
			forwarded:  "not-an-ip",
			remoteAddr: net.JoinHostPort("2001:db8::2", "443"),
			want:       "2001:db8::2",
		},
		{
			name:       "portless remote used verbatim",
			remoteAddr: "203.0.113.1",
			want:       "203.0.113.1",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tc.remoteAddr
			if tc.forwarded != "" {
				req.Header.Set("X-Forwarded-For", tc.forwarded)
			}
			if got := clientIPForRateLimit(req); got != tc.want {
				t.Fatalf("clientIPForRateLimit() = %q, want %q", got, tc.want)
			}
		})
	}
}
