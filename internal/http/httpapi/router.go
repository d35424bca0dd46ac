// Package httpapi assembles the router: middleware chain, JSON endpoints,
// the websocket stream and the metrics scrape.
package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"enricher/internal/http/handlers"
	"enricher/internal/middleware"
)

// Options carries router-level settings that do not belong to any handler.
type Options struct {
	AllowedOrigins  []string
	RateLimitPerMin int
	DefaultLocale   string
	CountryLookup   middleware.CountryLookup
}

// NewRouter wires the full HTTP surface around the handler set.
func NewRouter(app *handlers.App, opts Options) http.Handler {
	r := chi.NewRouter()

	r.Use(
		middleware.RequestID,
		chimw.RealIP,
		chimw.Recoverer,
		middleware.Logger(app.Logger),
		middleware.CountRequests(app.Metrics.CountRequest),
		middleware.CORS(opts.AllowedOrigins),
		middleware.I18N(opts.DefaultLocale, opts.CountryLookup),
	)

	r.Get("/healthz", app.Health)
	r.Method(http.MethodGet, "/metrics", app.Metrics.Handler())
	r.Get("/ws", app.Hub.ServeHTTP)

	r.Group(func(r chi.Router) {
		if opts.RateLimitPerMin > 0 {
			r.Use(middleware.RateLimit(opts.RateLimitPerMin, time.Minute))
		}

		r.Route("/jobs", func(r chi.Router) {
			r.Post("/", app.EnqueueJob)
			r.Post("/backfill", app.RunBackfill)
		})
		r.Route("/entities", func(r chi.Router) {
			r.Get("/", app.ListEntities)
			r.Get("/{id}", app.GetEntity)
		})
		r.Route("/queue", func(r chi.Router) {
			r.Get("/", app.QueueStatus)
			r.Post("/clear", app.ClearQueue)
		})
	})

	return r
}
