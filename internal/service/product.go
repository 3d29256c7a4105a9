package service

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"

	"github.com/sakif/adprofit/internal/decision"
	"github.com/sakif/adprofit/internal/model"
	"github.com/sakif/adprofit/internal/profit"
	"github.com/sakif/adprofit/internal/repository"
	"github.com/sakif/adprofit/internal/syncer"
)

// ProductService manages the product catalogue and cost prices.
type ProductService struct {
	products      repository.ProductRepository
	records       repository.CampaignRepository
	defaultMarket string
	logger        *slog.Logger
}

func NewProductService(products repository.ProductRepository, records repository.CampaignRepository, defaultMarket string, logger *slog.Logger) *ProductService {
	return &ProductService{products: products, records: records, defaultMarket: defaultMarket, logger: logger}
}

func (s *ProductService) List(ctx context.Context, userID string, limit, offset int) ([]model.Product, error) {
	products, err := s.products.ListProducts(ctx, userID, repository.ListOptions{Limit: clampLimit(limit), Offset: max(offset, 0)})
	if err != nil {
		return nil, fmt.Errorf("listing products: %w", err)
	}
	return products, nil
}

// CostUpdate is the outcome of UpdateCostPrice.
type CostUpdate struct {
	Product        *model.Product `json:"product"`
	RecordsUpdated int            `json:"recordsUpdated"`
}

// UpdateCostPrice stores a user-entered cost price and cascades it to every
// daily campaign record whose campaign name best matches this product among
// all of the user's products. Spend and units sold are left as they are;
// COG, margin and ROAS are recomputed, and the affected campaigns are
// re-evaluated for the default market so stored verdicts follow the margins.
func (s *ProductService) UpdateCostPrice(ctx context.Context, userID, productID string, cost float64) (*CostUpdate, error) {
	if err := money("cost_price", cost); err != nil {
		return nil, err
	}

	p, err := s.products.GetProduct(ctx, userID, productID)
	if err != nil {
		return nil, err
	}

	margin := profit.ProfitMargin(p.SellingPrice, cost)
	if err := s.products.UpdateProductCost(ctx, userID, p.ID, cost, margin); err != nil {
		return nil, fmt.Errorf("updating cost price: %w", err)
	}
	p.CostPrice = &cost
	p.ProfitMargin = margin

	n, err := s.cascade(ctx, userID, p)
	if err != nil {
		// The cost itself is saved; the next edit or sync brings the records back in line.
		return nil, fmt.Errorf("recomputing campaign records: %w", err)
	}

	s.logger.Info("cost price updated",
		slog.String("product_id", p.ID),
		slog.Float64("cost_price", cost),
		slog.Int("records_updated", n),
	)
	return &CostUpdate{Product: p, RecordsUpdated: n}, nil
}

func (s *ProductService) cascade(ctx context.Context, userID string, changed *model.Product) (int, error) {
	products, err := s.products.ListProducts(ctx, userID, repository.ListOptions{})
	if err != nil {
		return 0, err
	}
	for i := range products {
		if products[i].ID == changed.ID {
			products[i] = *changed
		}
	}
	index := syncer.NewProductIndex(products)

	records, err := s.records.ListRecords(ctx, userID, repository.RecordFilter{})
	if err != nil {
		return 0, err
	}

	var updated []model.DailyCampaignRecord
	campaigns := make(map[string]struct{})
	for _, r := range records {
		p, _ := index.Match(r.CampaignName)
		if p == nil || p.ID != changed.ID {
			continue
		}
		id := p.ID
		r.ProductID = &id
		if r.ProductPrice == 0 {
			r.ProductPrice = p.SellingPrice
		}
		r.COG = p.Cost()
		if clamped := syncer.ApplyMetrics(&r); len(clamped) > 0 {
			s.logger.Warn("non-finite metrics clamped to 0",
				slog.String("campaign_id", r.CampaignID),
				slog.Any("fields", clamped),
			)
		}
		updated = append(updated, r)
		campaigns[r.CampaignID] = struct{}{}
	}

	if err := s.records.UpdateRecordMetrics(ctx, updated); err != nil {
		return 0, err
	}
	if err := s.redecide(ctx, userID, campaigns); err != nil {
		return 0, err
	}
	return len(updated), nil
}

// redecide re-evaluates each campaign from its freshly stored records.
func (s *ProductService) redecide(ctx context.Context, userID string, campaigns map[string]struct{}) error {
	if len(campaigns) == 0 {
		return nil
	}
	tier, err := decision.TierFor("", s.defaultMarket)
	if err != nil {
		return err
	}
	for _, id := range slices.Sorted(maps.Keys(campaigns)) {
		records, err := s.records.ListRecords(ctx, userID, repository.RecordFilter{CampaignID: id})
		if err != nil {
			return err
		}
		windows := decision.Evaluate(records, tier)
		if decision.Apply(records, windows) == 0 {
			continue
		}
		var decided []model.DailyCampaignRecord
		for _, r := range records {
			if r.Decision != nil {
				decided = append(decided, r)
			}
		}
		if err := s.records.SaveDecisions(ctx, decided); err != nil {
			return fmt.Errorf("saving decisions of %s: %w", id, err)
		}
	}
	return nil
}
