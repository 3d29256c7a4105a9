package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sakif/adprofit/internal/apperror"
	"github.com/sakif/adprofit/internal/model"
	"github.com/sakif/adprofit/internal/service"
)

type ProductService interface {
	List(ctx context.Context, userID string, limit, offset int) ([]model.Product, error)
	UpdateCostPrice(ctx context.Context, userID, productID string, cost float64) (*service.CostUpdate, error)
}

type ProductHandler struct {
	svc    ProductService
	logger *slog.Logger
}

func NewProductHandler(svc ProductService, logger *slog.Logger) *ProductHandler {
	return &ProductHandler{svc: svc, logger: logger}
}

// HandleList serves GET /api/products?limit=&offset=.
func (h *ProductHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	uid, err := userID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	limit, err := queryInt(r, "limit")
	if err != nil {
		writeError(w, err)
		return
	}
	offset, err := queryInt(r, "offset")
	if err != nil {
		writeError(w, err)
		return
	}

	products, err := h.svc.List(r.Context(), uid, limit, offset)
	if err != nil {
		writeError(w, err)
		return
	}
	if products == nil {
		products = []model.Product{}
	}
	writeJSON(w, http.StatusOK, products)
}

type costPriceRequest struct {
	CostPrice *float64 `json:"cost_price"`
}

// HandleUpdateCost serves PUT /api/products/{id}/cost-price.
func (h *ProductHandler) HandleUpdateCost(w http.ResponseWriter, r *http.Request) {
	uid, err := userID(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var body costPriceRequest
	if err := decodeJSON(w, r, &body, false); err != nil {
		writeError(w, err)
		return
	}
	if body.CostPrice == nil {
		writeError(w, apperror.ValidationFailed("cost_price", "cost_price is required"))
		return
	}

	res, err := h.svc.UpdateCostPrice(r.Context(), uid, chi.URLParam(r, "id"), *body.CostPrice)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
