// Package handlers holds the HTTP handler set. Handlers validate, delegate
// to the scheduler or store, and render JSON; they never call providers
// directly.
package handlers

import (
	"encoding/json"
	"net/http"

	"enricher/internal/backfill"
	"enricher/internal/infra"
	"enricher/internal/metrics"
	"enricher/internal/queue"
	"enricher/internal/store"
	"enricher/internal/ws"
)

// App bundles the dependencies shared by every handler.
type App struct {
	Store      store.Store
	Scheduler  *queue.Scheduler
	Backfiller *backfill.Runner
	Hub        *ws.Hub
	Metrics    *metrics.Registry
	Logger     infra.Logger
}

type errorResponse struct {
	Error string `json:"error"`
}

func (a *App) json(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		a.Logger.Warn().Err(err).Msg("handlers: encode response")
	}
}

func (a *App) jsonError(w http.ResponseWriter, status int, message string) {
	a.json(w, status, errorResponse{Error: message})
}

// Health is the liveness probe.
func (a *App) Health(w http.ResponseWriter, r *http.Request) {
	a.json(w, http.StatusOK, map[string]string{"status": "ok"})
}
