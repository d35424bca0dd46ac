package handlers

import (
	"errors"
	"net/http"
	"sort"

	"github.com/go-chi/chi/v5"

	"enricher/internal/domain"
)

// ListEntities returns every known entity snapshot, oldest ID first.
func (a *App) ListEntities(w http.ResponseWriter, r *http.Request) {
	entities, err := a.Store.List(r.Context())
	if err != nil {
		a.jsonError(w, http.StatusInternalServerError, "could not list entities")
		return
	}
	sort.Slice(entities, func(i, j int) bool { return entities[i].ID < entities[j].ID })
	a.json(w, http.StatusOK, map[string]any{"entities": entities, "count": len(entities)})
}

// GetEntity returns one entity snapshot by ID.
func (a *App) GetEntity(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	entity, err := a.Store.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrEntityNotFound) {
			a.jsonError(w, http.StatusNotFound, "entity not found")
			return
		}
		a.jsonError(w, http.StatusInternalServerError, "could not load entity")
		return
	}
	a.json(w, http.StatusOK, entity)
}
