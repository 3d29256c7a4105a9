package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/sakif/adprofit/internal/model"
	"github.com/sakif/adprofit/internal/service"
)

type ProfitSheetService interface {
	Upsert(ctx context.Context, userID string, in service.EntryInput) (*model.ProfitSheetEntry, error)
	Report(ctx context.Context, userID string, q service.ReportQuery) ([]model.ProfitSheetRow, error)
}

type ProfitSheetHandler struct {
	svc    ProfitSheetService
	logger *slog.Logger
}

func NewProfitSheetHandler(svc ProfitSheetService, logger *slog.Logger) *ProfitSheetHandler {
	return &ProfitSheetHandler{svc: svc, logger: logger}
}

func (h *ProfitSheetHandler) HandleUpsert(w http.ResponseWriter, r *http.Request) {
	uid, err := userID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var in service.EntryInput
	if err := decodeJSON(w, r, &in, false); err != nil {
		writeError(w, err)
		return
	}

	entry, err := h.svc.Upsert(r.Context(), uid, in)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

// HandleReport serves GET /api/profit-sheet?integration_id=&from=&to=&ad_account_id=.
func (h *ProfitSheetHandler) HandleReport(w http.ResponseWriter, r *http.Request) {
	uid, err := userID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	q := r.URL.Query()
	rows, err := h.svc.Report(r.Context(), uid, service.ReportQuery{
		IntegrationID: q.Get("integration_id"),
		AdAccountID:   q.Get("ad_account_id"),
		From:          q.Get("from"),
		To:            q.Get("to"),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rows)
}
