package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sakif/adprofit/internal/model"
	"github.com/sakif/adprofit/internal/service"
)

type IntegrationService interface {
	Connect(ctx context.Context, userID string, in service.ConnectInput) (*model.Integration, error)
	List(ctx context.Context, userID string) ([]model.Integration, error)
	Disable(ctx context.Context, userID, id string) error
}

type IntegrationHandler struct {
	svc    IntegrationService
	logger *slog.Logger
}

func NewIntegrationHandler(svc IntegrationService, logger *slog.Logger) *IntegrationHandler {
	return &IntegrationHandler{svc: svc, logger: logger}
}

func (h *IntegrationHandler) HandleConnect(w http.ResponseWriter, r *http.Request) {
	uid, err := userID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var in service.ConnectInput
	if err := decodeJSON(w, r, &in, false); err != nil {
		writeError(w, err)
		return
	}

	integration, err := h.svc.Connect(r.Context(), uid, in)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, integration)
}

func (h *IntegrationHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	uid, err := userID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	list, err := h.svc.List(r.Context(), uid)
	if err != nil {
		writeError(w, err)
		return
	}
	if list == nil {
		list = []model.Integration{}
	}
	writeJSON(w, http.StatusOK, list)
}

// HandleDisable soft-removes the integration; synced data stays.
func (h *IntegrationHandler) HandleDisable(w http.ResponseWriter, r *http.Request) {
	uid, err := userID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := h.svc.Disable(r.Context(), uid, chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
