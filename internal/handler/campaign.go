package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sakif/adprofit/internal/decision"
	"github.com/sakif/adprofit/internal/model"
	"github.com/sakif/adprofit/internal/service"
)

type CampaignService interface {
	Campaigns(ctx context.Context, userID string) ([]model.Campaign, error)
	Records(ctx context.Context, userID, campaignID string) ([]model.DailyCampaignRecord, error)
	Evaluate(ctx context.Context, userID, campaignID, market string) ([]decision.Window, error)
	Summary(ctx context.Context, userID, market string) (*service.Summary, error)
}

type CampaignHandler struct {
	svc    CampaignService
	logger *slog.Logger
}

func NewCampaignHandler(svc CampaignService, logger *slog.Logger) *CampaignHandler {
	return &CampaignHandler{svc: svc, logger: logger}
}

func (h *CampaignHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	uid, err := userID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	campaigns, err := h.svc.Campaigns(r.Context(), uid)
	if err != nil {
		writeError(w, err)
		return
	}
	if campaigns == nil {
		campaigns = []model.Campaign{}
	}
	writeJSON(w, http.StatusOK, campaigns)
}

func (h *CampaignHandler) HandleRecords(w http.ResponseWriter, r *http.Request) {
	uid, err := userID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	records, err := h.svc.Records(r.Context(), uid, chi.URLParam(r, "campaignID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

type evaluateRequest struct {
	Market string `json:"market"`
}

// EvaluateResponse lists the campaign's complete windows and their verdicts.
type EvaluateResponse struct {
	CampaignID string            `json:"campaignId"`
	Windows    []decision.Window `json:"windows"`
}

// HandleEvaluate serves POST /api/campaigns/{campaignID}/decisions. The body
// is optional; without a market the server default applies.
func (h *CampaignHandler) HandleEvaluate(w http.ResponseWriter, r *http.Request) {
	uid, err := userID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var body evaluateRequest
	if err := decodeJSON(w, r, &body, true); err != nil {
		writeError(w, err)
		return
	}

	id := chi.URLParam(r, "campaignID")
	windows, err := h.svc.Evaluate(r.Context(), uid, id, body.Market)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, EvaluateResponse{CampaignID: id, Windows: windows})
}

func (h *CampaignHandler) HandleSummary(w http.ResponseWriter, r *http.Request) {
	uid, err := userID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	sum, err := h.svc.Summary(r.Context(), uid, r.URL.Query().Get("market"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}
