package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sakif/adprofit/internal/syncer"
)

// SyncRunner starts background syncs and reports their status.
type SyncRunner interface {
	Start(ctx context.Context, req syncer.Request) (*syncer.Run, error)
	Get(ctx context.Context, userID, runID string) (*syncer.Run, error)
}

type SyncHandler struct {
	runner SyncRunner
	logger *slog.Logger
}

func NewSyncHandler(runner SyncRunner, logger *slog.Logger) *SyncHandler {
	return &SyncHandler{runner: runner, logger: logger}
}

// StartSyncResponse acknowledges an accepted sync.
type StartSyncResponse struct {
	RunID  string `json:"runId"`
	Status string `json:"status"`
}

// HandleStart accepts a sync request and returns 202 immediately. Malformed
// input (400), an unknown integration (404) and a user still throttled by an
// earlier run (429) are rejected before any provider is called.
func (h *SyncHandler) HandleStart(w http.ResponseWriter, r *http.Request) {
	uid, err := userID(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var req syncer.Request
	if err := decodeJSON(w, r, &req, true); err != nil {
		writeError(w, err)
		return
	}
	req.UserID = uid

	run, err := h.runner.Start(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, StartSyncResponse{RunID: run.ID, Status: "started"})
}

func (h *SyncHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	uid, err := userID(r)
	if err != nil {
		writeError(w, err)
		return
	}

	run, err := h.runner.Get(r.Context(), uid, chi.URLParam(r, "runID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}
