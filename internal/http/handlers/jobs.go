package handlers

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"enricher/internal/domain"
	"enricher/internal/middleware"
)

const backfillTimeout = 30 * time.Minute

type jobRequest struct {
	EntityID   string        `json:"entity_id"`
	Action     string        `json:"action"`
	Brief      string        `json:"brief,omitempty"`
	Image      *imagePayload `json:"image,omitempty"`
	AfterBlock *int          `json:"after_block,omitempty"`
	DataBase64 string        `json:"data_base64,omitempty"`
	Filename   string        `json:"filename,omitempty"`
	AltText    string        `json:"alt_text,omitempty"`
}

type imagePayload struct {
	URL      string `json:"url"`
	RemoteID string `json:"remote_id,omitempty"`
	AltText  string `json:"alt_text,omitempty"`
}

type jobResponse struct {
	JobID    string `json:"job_id"`
	EntityID string `json:"entity_id"`
	Action   string `json:"action"`
}

var busyMessages = map[string]string{
	"en": "This item already has a job in progress.",
	"id": "Item ini sudah punya pekerjaan yang sedang berjalan.",
}

// EnqueueJob admits one job for an entity. An entity with a job already
// pending or running is rejected with 409.
func (a *App) EnqueueJob(w http.ResponseWriter, r *http.Request) {
	var req jobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.jsonError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.EntityID) == "" {
		a.jsonError(w, http.StatusBadRequest, "entity_id is required")
		return
	}
	action, err := req.toAction()
	if err != nil {
		a.jsonError(w, http.StatusBadRequest, err.Error())
		return
	}

	job := &domain.Job{ID: uuid.NewString(), EntityID: req.EntityID, Action: action}
	if a.Scheduler.Enqueue(job) == 0 {
		locale := middleware.LocaleFromContext(r.Context())
		message, ok := busyMessages[locale]
		if !ok {
			message = busyMessages["en"]
		}
		a.jsonError(w, http.StatusConflict, message)
		return
	}
	a.json(w, http.StatusAccepted, jobResponse{JobID: job.ID, EntityID: job.EntityID, Action: action.Name()})
}

// RunBackfill kicks off a scan-and-enqueue pass in the background. Progress
// lands on the websocket and in the logs.
func (a *App) RunBackfill(w http.ResponseWriter, r *http.Request) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), backfillTimeout)
		defer cancel()
		if _, err := a.Backfiller.Run(ctx); err != nil {
			a.Logger.Error().Err(err).Msg("handlers: backfill pass failed")
		}
	}()
	a.json(w, http.StatusAccepted, map[string]string{"status": "backfill started"})
}

// QueueStatus reports scheduler counters.
func (a *App) QueueStatus(w http.ResponseWriter, r *http.Request) {
	a.json(w, http.StatusOK, map[string]int{
		"pending": a.Scheduler.Pending(),
		"active":  a.Scheduler.Active(),
	})
}

// ClearQueue drops every pending job. Running jobs finish on their own.
func (a *App) ClearQueue(w http.ResponseWriter, r *http.Request) {
	dropped := a.Scheduler.Clear()
	a.json(w, http.StatusOK, map[string]int{"dropped": dropped})
}

func (r jobRequest) toAction() (domain.Action, error) {
	switch r.Action {
	case "generate":
		return domain.GenerateAction{Brief: r.Brief}, nil
	case "insert":
		image, err := r.imageRef()
		if err != nil {
			return nil, err
		}
		return domain.InsertAction{Image: image}, nil
	case "insert_at":
		image, err := r.imageRef()
		if err != nil {
			return nil, err
		}
		if r.AfterBlock == nil {
			return nil, fmt.Errorf("after_block is required for insert_at")
		}
		return domain.InsertAtAction{Image: image, AfterBlock: *r.AfterBlock}, nil
	case "set_featured":
		return domain.SetFeaturedAction{}, nil
	case "upload_and_insert":
		if r.DataBase64 == "" {
			return nil, fmt.Errorf("data_base64 is required for upload_and_insert")
		}
		data, err := base64.StdEncoding.DecodeString(r.DataBase64)
		if err != nil {
			return nil, fmt.Errorf("data_base64 is not valid base64")
		}
		return domain.UploadInsertAction{Data: data, Filename: r.Filename, AltText: r.AltText}, nil
	default:
		return nil, fmt.Errorf("unknown action %q", r.Action)
	}
}

func (r jobRequest) imageRef() (domain.AssetRef, error) {
	if r.Image == nil || strings.TrimSpace(r.Image.URL) == "" {
		return domain.AssetRef{}, fmt.Errorf("image.url is required for %s", r.Action)
	}
	return domain.AssetRef{URL: r.Image.URL, RemoteID: r.Image.RemoteID, AltText: r.Image.AltText}, nil
}
