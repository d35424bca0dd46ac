package middleware

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// RequestCounter receives the matched route pattern and response status of
// every served request.
type RequestCounter func(route string, status int)

// CountRequests reports each request to counter once the handler returns.
// It must sit inside the chi router so the matched pattern is available;
// unmatched requests fall back to the raw path.
func CountRequests(counter RequestCounter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rw, r)
			route := chi.RouteContext(r.Context()).RoutePattern()
			if route == "" {
				route = r.URL.Path
			}
			counter(route, rw.status)
		})
	}
}
