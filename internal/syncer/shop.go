package syncer

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"time"

	"github.com/sakif/adprofit/internal/apperror"
	"github.com/sakif/adprofit/internal/currency"
	"github.com/sakif/adprofit/internal/model"
	"github.com/sakif/adprofit/internal/profit"
	"github.com/sakif/adprofit/internal/provider"
	"github.com/sakif/adprofit/internal/provider/shopify"
)

// shopFetch is everything read from one Shopify store. halted is set when
// the store refused the token or stayed throttled, ending its fetch early.
type shopFetch struct {
	integration model.Integration
	shop        shopify.Shop
	products    []shopify.Product
	orders      []shopify.Order
	costs       map[string]float64 // by inventory item id, store currency
	halted      error
	side        Result
}

// fetchShops reads each store in turn. Shopify throttles per store, so a
// rate limit only ends the fetch of the store that reported it.
func (e *Engine) fetchShops(ctx context.Context, integrations []model.Integration, rng provider.Range) []*shopFetch {
	out := make([]*shopFetch, 0, len(integrations))
	for _, in := range integrations {
		if ctx.Err() != nil {
			break
		}
		out = append(out, e.fetchShop(ctx, in, rng))
	}
	return out
}

func (e *Engine) fetchShop(ctx context.Context, in model.Integration, rng provider.Range) *shopFetch {
	sf := &shopFetch{integration: in}
	domain := in.Metadata.ShopDomain
	if domain == "" {
		sf.side.fail("integration", in.ID, apperror.ValidationFailed("shop_domain", "shopify integration has no shop domain"))
		return sf
	}
	token := e.vault.Decrypt(in.AccessToken)

	// failed records err and reports whether the store must not be called again.
	failed := func(entity string, err error) bool {
		sf.side.fail(entity, domain, err)
		if halts(err) {
			sf.halted = err
			return true
		}
		return false
	}

	shop, err := e.shopify.Shop(ctx, domain, token)
	if err != nil {
		if failed("shop", err) {
			return sf
		}
		shop = shopify.Shop{Domain: domain, Name: in.Metadata.ShopName, Currency: in.Metadata.Currency}
	}
	sf.shop = shop

	products, err := e.shopify.Products(ctx, domain, token)
	sf.products = products.Items
	if products.Truncated {
		sf.side.Truncated = append(sf.side.Truncated, Truncation{Provider: "shopify", Resource: "products", Scope: domain, Next: products.Next})
	}
	if err != nil && failed("product", err) {
		return sf
	}

	orders, err := e.shopify.Orders(ctx, domain, token, rng)
	sf.orders = orders.Items
	if orders.Truncated {
		sf.side.Truncated = append(sf.side.Truncated, Truncation{Provider: "shopify", Resource: "orders", Scope: domain, Next: orders.Next})
	}
	if err != nil && failed("order", err) {
		return sf
	}

	var itemIDs []string
	for _, p := range sf.products {
		if p.InventoryItemID != "" {
			itemIDs = append(itemIDs, p.InventoryItemID)
		}
	}
	if len(itemIDs) > 0 {
		costs, err := e.shopify.UnitCosts(ctx, domain, token, itemIDs)
		if err != nil {
			failed("unit_cost", err)
		}
		sf.costs = costs
	}
	return sf
}

// productSales accumulates one product's order lines within the sync range.
type productSales struct {
	quantity int
	revenue  float64 // EUR
	lastSold time.Time
}

func (e *Engine) reconcileShop(ctx context.Context, userID string, sf *shopFetch, fx *currency.Normalizer, res *Result) {
	in := sf.integration
	storeCurrency := sf.shop.Currency
	if storeCurrency == "" {
		storeCurrency = in.Metadata.Currency
	}

	if sf.shop.Name != "" || sf.shop.Currency != "" {
		meta := in.Metadata
		meta.ShopName = sf.shop.Name
		meta.Currency = sf.shop.Currency
		if sf.shop.Domain != "" {
			meta.ShopDomain = sf.shop.Domain
		}
		if err := e.store.UpdateIntegrationMetadata(ctx, userID, in.ID, meta); err != nil {
			res.fail("integration", in.ID, err)
		}
	}

	sales := make(map[string]*productSales)
	for _, o := range sf.orders {
		if o.Cancelled {
			continue
		}
		orderCurrency := o.Currency
		if orderCurrency == "" {
			orderCurrency = storeCurrency
		}
		for _, li := range o.LineItems {
			s := sales[li.ProductID]
			if s == nil {
				s = &productSales{}
				sales[li.ProductID] = s
			}
			s.quantity += li.Quantity
			s.revenue += fx.ToReporting(li.Price*float64(li.Quantity), orderCurrency)
			if o.CreatedAt.After(s.lastSold) {
				s.lastSold = o.CreatedAt
			}
		}
	}

	unitCost := make(map[string]float64) // EUR by external product id
	seen := make(map[string]bool, len(sf.products))
	for _, sp := range sf.products {
		if seen[sp.ID] {
			res.Products.Skipped++
			continue
		}
		seen[sp.ID] = true

		p, created, err := e.upsertProduct(ctx, userID, in.ID, sp, sf.costs, sales[sp.ID], storeCurrency, fx)
		if err != nil {
			res.Products.Errored++
			res.fail("product", sp.ID, err)
			continue
		}
		res.Products.add(created)
		unitCost[sp.ID] = p.Cost()
	}

	e.storeTotals(ctx, userID, in.ID, sf.orders, unitCost, storeCurrency, fx, res)
}

// upsertProduct merges a fetched product with its stored row. A stored
// non-zero cost price always wins over the fetched one, and the margin is
// recomputed from whichever cost is kept.
func (e *Engine) upsertProduct(ctx context.Context, userID, integrationID string, sp shopify.Product, costs map[string]float64, s *productSales, storeCurrency string, fx *currency.Normalizer) (*model.Product, bool, error) {
	existing, err := e.store.GetProductByExternalID(ctx, userID, integrationID, sp.ID)
	if err != nil && !errors.Is(err, apperror.ErrNotFound) {
		return nil, false, err
	}

	p := &model.Product{
		UserID:        userID,
		IntegrationID: integrationID,
		ExternalID:    sp.ID,
		Name:          sp.Title,
		SKU:           sp.SKU,
		SellingPrice:  fx.ToReporting(sp.Price, storeCurrency),
	}

	fetched, hasFetched := costs[sp.InventoryItemID]
	switch {
	case existing != nil && existing.HasManualCost():
		p.CostPrice = existing.CostPrice
	case hasFetched && fetched > 0:
		c := fx.ToReporting(fetched, storeCurrency)
		p.CostPrice = &c
	case existing != nil:
		p.CostPrice = existing.CostPrice
	}
	p.ProfitMargin = profit.ProfitMargin(p.SellingPrice, p.Cost())

	if s != nil {
		p.QuantitySold = s.quantity
		p.TotalRevenue = profit.Round2(s.revenue)
		last := s.lastSold.UTC()
		p.LastSoldAt = &last
	}
	if existing != nil && existing.LastSoldAt != nil {
		if p.LastSoldAt == nil || existing.LastSoldAt.After(*p.LastSoldAt) {
			p.LastSoldAt = existing.LastSoldAt
		}
	}

	created, err := e.store.UpsertProduct(ctx, p)
	if err != nil {
		return nil, false, err
	}
	if existing != nil && existing.HasManualCost() && hasFetched && fetched != existing.Cost() {
		e.logger.Debug("kept stored cost price",
			slog.String("product_id", p.ID),
			slog.Float64("stored", existing.Cost()),
			slog.Float64("fetched", fetched),
		)
	}
	return p, created, nil
}

// storeTotals writes one row per UTC order day. Cancelled orders are left
// out; refunds count on the order's day.
func (e *Engine) storeTotals(ctx context.Context, userID, integrationID string, orders []shopify.Order, unitCost map[string]float64, storeCurrency string, fx *currency.Normalizer, res *Result) {
	days := make(map[time.Time]*model.StoreDailyTotals)
	for _, o := range orders {
		if o.Cancelled {
			continue
		}
		orderCurrency := o.Currency
		if orderCurrency == "" {
			orderCurrency = storeCurrency
		}
		day := provider.Day(o.CreatedAt)
		t := days[day]
		if t == nil {
			t = &model.StoreDailyTotals{UserID: userID, IntegrationID: integrationID, Date: day}
			days[day] = t
		}
		t.Orders++
		t.Revenue += fx.ToReporting(o.Total, orderCurrency)
		t.Refunds += fx.ToReporting(o.Refunded, orderCurrency)
		for _, li := range o.LineItems {
			t.UnitsSold += li.Quantity
			t.COG += float64(li.Quantity) * unitCost[li.ProductID]
		}
	}

	keys := make([]time.Time, 0, len(days))
	for d := range days {
		keys = append(keys, d)
	}
	slices.SortFunc(keys, func(a, b time.Time) int { return a.Compare(b) })

	for _, d := range keys {
		t := days[d]
		t.Revenue = profit.Round2(t.Revenue)
		t.Refunds = profit.Round2(t.Refunds)
		t.COG = profit.Round2(t.COG)
		if err := e.store.UpsertStoreTotals(ctx, t); err != nil {
			res.fail("store_day", d.Format(model.DateLayout), err)
			continue
		}
		res.StoreDays++
	}
}
