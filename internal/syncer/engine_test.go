package syncer

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/adprofit/internal/apperror"
	"github.com/sakif/adprofit/internal/currency"
	"github.com/sakif/adprofit/internal/model"
	"github.com/sakif/adprofit/internal/provider"
	"github.com/sakif/adprofit/internal/provider/facebook"
	"github.com/sakif/adprofit/internal/provider/shopify"
	"github.com/sakif/adprofit/internal/repository"
	"github.com/sakif/adprofit/internal/repository/sqldb"
)

// ===== FAKES =====

type fakeShopify struct {
	shop     shopify.Shop
	shopErr  error
	products []shopify.Product
	orders   []shopify.Order
	costs    map[string]float64
	calls    atomic.Int32
}

func (f *fakeShopify) Shop(context.Context, string, string) (shopify.Shop, error) {
	f.calls.Add(1)
	return f.shop, f.shopErr
}

func (f *fakeShopify) Orders(context.Context, string, string, provider.Range) (provider.Collected[shopify.Order], error) {
	f.calls.Add(1)
	return provider.Collected[shopify.Order]{Items: f.orders, Pages: 1}, nil
}

func (f *fakeShopify) Products(context.Context, string, string) (provider.Collected[shopify.Product], error) {
	f.calls.Add(1)
	return provider.Collected[shopify.Product]{Items: f.products, Pages: 1}, nil
}

func (f *fakeShopify) UnitCosts(context.Context, string, string, []string) (map[string]float64, error) {
	f.calls.Add(1)
	return f.costs, nil
}

type fakeFacebook struct {
	accounts     []facebook.AdAccount
	accountsErr  error
	insights     map[string][]facebook.Insight
	insightErr   map[string]error
	insightNext  map[string]string // cursor left when the page cap is hit
	campaigns    map[string][]facebook.Campaign
	images       map[string]string
	imageErr     error
	calls        atomic.Int32
	insightCalls []string
}

func (f *fakeFacebook) AdAccounts(context.Context, string) (provider.Collected[facebook.AdAccount], error) {
	f.calls.Add(1)
	if f.accountsErr != nil {
		return provider.Collected[facebook.AdAccount]{}, f.accountsErr
	}
	return provider.Collected[facebook.AdAccount]{Items: f.accounts, Pages: 1}, nil
}

func (f *fakeFacebook) Insights(_ context.Context, _, accountID string, _ provider.Range) (provider.Collected[facebook.Insight], error) {
	f.calls.Add(1)
	f.insightCalls = append(f.insightCalls, accountID)
	out := provider.Collected[facebook.Insight]{Items: f.insights[accountID], Pages: 1}
	if next := f.insightNext[accountID]; next != "" {
		out.Truncated, out.Next = true, next
	}
	return out, f.insightErr[accountID]
}

func (f *fakeFacebook) Campaigns(_ context.Context, _, accountID string) (provider.Collected[facebook.Campaign], error) {
	f.calls.Add(1)
	return provider.Collected[facebook.Campaign]{Items: f.campaigns[accountID], Pages: 1}, nil
}

func (f *fakeFacebook) CampaignImage(_ context.Context, _, campaignID string) (string, error) {
	f.calls.Add(1)
	if f.imageErr != nil {
		return "", f.imageErr
	}
	return f.images[campaignID], nil
}

type staticRates struct{ logger *slog.Logger }

func (s staticRates) Load(context.Context) *currency.Normalizer {
	return currency.NewNormalizer(map[string]float64{"USD": 0.5}, currency.SourceStatic, s.logger, nil)
}

type plainVault struct{}

func (plainVault) Decrypt(s string) string { return s }

// ===== FIXTURES =====

type fixture struct {
	engine *Engine
	db     *sqldb.DB
	shop   *fakeShopify
	fb     *fakeFacebook
	store  *model.Integration
	ads    *model.Integration
}

func date(s string) time.Time {
	t, err := time.Parse(model.DateLayout, s)
	if err != nil {
		panic(err)
	}
	return t
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := sqldb.NewSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	ctx := context.Background()
	store := &model.Integration{
		UserID: "u1", Provider: model.ProviderShopify, AccessToken: "shp-token",
		Metadata: model.IntegrationMetadata{ShopDomain: "mycoolshop.myshopify.com", ShopName: "MyCoolShop", Currency: "USD"},
	}
	require.NoError(t, db.CreateIntegration(ctx, store))
	ads := &model.Integration{UserID: "u1", Provider: model.ProviderFacebook, AccessToken: "fb-token"}
	require.NoError(t, db.CreateIntegration(ctx, ads))

	shop := &fakeShopify{
		shop: shopify.Shop{Name: "MyCoolShop", Domain: "mycoolshop.myshopify.com", Currency: "USD"},
		products: []shopify.Product{
			{ID: "101", Title: "Blue Mug", SKU: "BM", Price: 20, InventoryItemID: "9001"},
			{ID: "102", Title: "Red Lamp", SKU: "RL", Price: 40, InventoryItemID: "9002"},
			{ID: "101", Title: "Blue Mug", SKU: "BM", Price: 20, InventoryItemID: "9001"},
		},
		orders: []shopify.Order{
			{ID: "1", CreatedAt: time.Date(2024, 3, 5, 10, 0, 0, 0, time.UTC), Currency: "USD", Total: 40,
				LineItems: []shopify.LineItem{{ProductID: "101", Quantity: 2, Price: 20}}},
			{ID: "2", CreatedAt: time.Date(2024, 3, 5, 15, 0, 0, 0, time.UTC), Currency: "USD", Total: 40, Refunded: 10,
				LineItems: []shopify.LineItem{{ProductID: "102", Quantity: 1, Price: 40}}},
			{ID: "3", CreatedAt: time.Date(2024, 3, 6, 9, 0, 0, 0, time.UTC), Currency: "USD", Total: 99, Cancelled: true,
				LineItems: []shopify.LineItem{{ProductID: "102", Quantity: 5, Price: 40}}},
		},
		costs: map[string]float64{"9001": 4},
	}

	fb := &fakeFacebook{
		accounts: []facebook.AdAccount{
			{ID: "111", Name: "Other Biz", Currency: "USD"},
			{ID: "222", Name: "MyCoolShop Ads", Currency: "EUR"},
		},
		insights: map[string][]facebook.Insight{
			"222": {
				{AccountID: "222", CampaignID: "c1", CampaignName: "Blue Mug - Summer", Date: date("2024-03-03"),
					Spend: 10, Clicks: 20, CPC: 0.5, AddToCart: 2, Purchases: 1},
				{AccountID: "222", CampaignID: "c1", CampaignName: "Blue Mug - Summer", Date: date("2024-03-04"),
					Spend: 11, Clicks: 20, CPC: 0.55, Purchases: 1},
				// later page for the same day replaces the row above
				{AccountID: "222", CampaignID: "c1", CampaignName: "Blue Mug - Summer", Date: date("2024-03-04"),
					Spend: 12, Clicks: 24, CPC: 0.5, Purchases: 1},
			},
		},
		campaigns: map[string][]facebook.Campaign{
			"222": {{ID: "c1", Name: "Blue Mug - Summer", Status: "ACTIVE", AccountID: "222"}},
		},
		images: map[string]string{"c1": "https://img.example/c1.jpg"},
	}

	logger := discardLogger()
	e := NewEngine(db, shop, fb, staticRates{logger}, plainVault{},
		Options{EnrichBatch: 10, DefaultMarket: "mid"}, logger, nil)
	e.now = func() time.Time { return time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC) }

	return &fixture{engine: e, db: db, shop: shop, fb: fb, store: store, ads: ads}
}

func (f *fixture) run(t *testing.T) *Result {
	t.Helper()
	res, err := f.engine.Run(context.Background(), Request{UserID: "u1", DatePreset: provider.PresetLast7d})
	require.NoError(t, err)
	require.NotNil(t, res)
	return res
}

// ===== RUN =====

func TestRunReconcilesBothProviders(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res := f.run(t)

	assert.Equal(t, StatusCompleted, res.Status())
	assert.Equal(t, "2024-03-03", res.From)
	assert.Equal(t, "2024-03-09", res.To)
	assert.Equal(t, currency.SourceStatic, res.FXSource)
	assert.Equal(t, Counts{Created: 2, Skipped: 1}, res.Products)
	assert.Equal(t, Counts{Created: 2, Skipped: 1}, res.Records)
	assert.Equal(t, []string{"222"}, res.AdAccounts, "store name picks the matching ad account")
	assert.Equal(t, []string{"222"}, f.fb.insightCalls)
	assert.Equal(t, 1, res.StoreDays)
	assert.Equal(t, 1, res.Campaigns)
	assert.Equal(t, 1, res.Enriched)
	assert.Equal(t, 1, res.Decisions)

	mug, err := f.db.GetProductByExternalID(ctx, "u1", f.store.ID, "101")
	require.NoError(t, err)
	assert.Equal(t, 10.0, mug.SellingPrice)
	require.NotNil(t, mug.CostPrice)
	assert.Equal(t, 2.0, *mug.CostPrice)
	assert.InDelta(t, 80.0, mug.ProfitMargin, 0.001)
	assert.Equal(t, 2, mug.QuantitySold)
	assert.Equal(t, 20.0, mug.TotalRevenue)
	require.NotNil(t, mug.LastSoldAt)
	assert.True(t, mug.LastSoldAt.Equal(time.Date(2024, 3, 5, 10, 0, 0, 0, time.UTC)))

	lamp, err := f.db.GetProductByExternalID(ctx, "u1", f.store.ID, "102")
	require.NoError(t, err)
	assert.Nil(t, lamp.CostPrice)
	assert.Equal(t, 1, lamp.QuantitySold, "cancelled orders do not count")

	totals, err := f.db.ListStoreTotals(ctx, "u1", f.store.ID, date("2024-03-01"), date("2024-03-31"))
	require.NoError(t, err)
	require.Len(t, totals, 1)
	assert.Equal(t, 2, totals[0].Orders)
	assert.Equal(t, 3, totals[0].UnitsSold)
	assert.Equal(t, 40.0, totals[0].Revenue)
	assert.Equal(t, 5.0, totals[0].Refunds)
	assert.Equal(t, 4.0, totals[0].COG)

	records, err := f.db.ListRecords(ctx, "u1", repository.RecordFilter{CampaignID: "c1"})
	require.NoError(t, err)
	require.Len(t, records, 2)
	first := records[0]
	require.NotNil(t, first.ProductID)
	assert.Equal(t, mug.ID, *first.ProductID)
	assert.Equal(t, 10.0, first.ProductPrice)
	assert.Equal(t, 2.0, first.COG)
	assert.Equal(t, 1, first.UnitsSold)
	assert.Equal(t, -2.0, first.MarginEUR)
	assert.Equal(t, -20.0, first.MarginPct)
	assert.Equal(t, 1.0, first.ROAS)
	assert.Equal(t, 12.0, records[1].TotalSpend)
	for _, r := range records {
		require.NotNil(t, r.Decision)
		assert.Equal(t, model.DecisionMaintain, *r.Decision)
		assert.Contains(t, r.Reason, "2024-03-03 to 2024-03-04")
	}

	campaigns, err := f.db.ListCampaigns(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, campaigns, 1)
	assert.Equal(t, "https://img.example/c1.jpg", campaigns[0].ImageURL)
	assert.Equal(t, "ACTIVE", campaigns[0].Status)

	ads, err := f.db.GetIntegration(ctx, "u1", f.ads.ID)
	require.NoError(t, err)
	assert.Len(t, ads.Metadata.AdAccounts, 2, "every visible ad account is remembered")
}

func TestRunIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.run(t)
	second := f.run(t)

	assert.Equal(t, Counts{Updated: 2, Skipped: 1}, second.Products)
	assert.Equal(t, Counts{Updated: 2, Skipped: 1}, second.Records)

	products, err := f.db.ListProducts(ctx, "u1", repository.ListOptions{})
	require.NoError(t, err)
	assert.Len(t, products, 2)

	records, err := f.db.ListRecords(ctx, "u1", repository.RecordFilter{})
	require.NoError(t, err)
	assert.Len(t, records, 2)
	assert.Equal(t, 2, products[0].QuantitySold, "window totals replace, never accumulate")
}

func TestRunPreservesStoredCostPrice(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	manual := 5.0
	_, err := f.db.UpsertProduct(ctx, &model.Product{
		UserID: "u1", IntegrationID: f.store.ID, ExternalID: "101", Name: "Blue Mug",
		SellingPrice: 10, CostPrice: &manual,
	})
	require.NoError(t, err)
	f.shop.costs = map[string]float64{"9001": 14} // 7.00 EUR

	f.run(t)

	got, err := f.db.GetProductByExternalID(ctx, "u1", f.store.ID, "101")
	require.NoError(t, err)
	require.NotNil(t, got.CostPrice)
	assert.Equal(t, 5.0, *got.CostPrice)
	assert.InDelta(t, 50.0, got.ProfitMargin, 0.001, "margin uses the preserved cost")
}

func TestRunPartialFailure(t *testing.T) {
	f := newFixture(t)
	f.fb.insightErr = map[string]error{"222": errors.New("graph exploded")}
	f.fb.insights = nil

	res := f.run(t)

	assert.Equal(t, StatusPartial, res.Status())
	require.Len(t, res.Errors, 1)
	assert.Equal(t, "insight", res.Errors[0].Entity)
	assert.Equal(t, "222", res.Errors[0].ID)
	assert.Equal(t, 2, res.Products.Created, "the store side still lands")
}

func TestRunShopAuthErrorSkipsStore(t *testing.T) {
	f := newFixture(t)
	f.shop.shopErr = apperror.Unauthorized("invalid shopify token")

	res := f.run(t)

	assert.Equal(t, StatusPartial, res.Status())
	assert.Equal(t, "shop", res.Errors[0].Entity)
	assert.Equal(t, int32(1), f.shop.calls.Load(), "no further calls after an auth error")
	assert.Zero(t, res.Products.Created)
}

func TestRunRateLimitedInsightsKeepRetryHint(t *testing.T) {
	f := newFixture(t)
	f.fb.insightErr = map[string]error{"222": apperror.RateLimited("facebook", 7*time.Minute)}
	f.fb.insights = nil

	res := f.run(t)

	assert.Equal(t, StatusPartial, res.Status(), "the store side still synced")
	require.Len(t, res.Errors, 1)
	got := res.Errors[0]
	assert.Equal(t, "insight", got.Entity)
	assert.Equal(t, "rate_limited", got.Kind)
	assert.Equal(t, 420, got.RetryAfterSeconds)
	assert.Equal(t, int32(2), f.fb.calls.Load(), "no campaign or image calls after throttling")
}

func TestRunFailsWhenEveryIntegrationIsRefused(t *testing.T) {
	f := newFixture(t)
	f.shop.shopErr = apperror.Unauthorized("invalid shopify token")
	f.fb.insightErr = map[string]error{"222": apperror.RateLimited("facebook", 7*time.Minute)}

	res, err := f.engine.Run(context.Background(), Request{UserID: "u1", DatePreset: provider.PresetLast7d})

	require.ErrorIs(t, err, apperror.ErrRateLimited)
	wait, ok := apperror.RetryAfter(err)
	require.True(t, ok)
	assert.Equal(t, 7*time.Minute, wait)

	require.NotNil(t, res)
	kinds := make([]string, len(res.Errors))
	for i, e := range res.Errors {
		kinds[i] = e.Kind
	}
	assert.ElementsMatch(t, []string{"auth", "rate_limited"}, kinds)
}

func TestRunRateLimitStopsOtherAdIntegrations(t *testing.T) {
	f := newFixture(t)
	second := &model.Integration{UserID: "u1", Provider: model.ProviderFacebook, AccessToken: "fb-token-2"}
	require.NoError(t, f.db.CreateIntegration(context.Background(), second))
	f.fb.accountsErr = apperror.RateLimited("facebook", time.Minute)

	res := f.run(t)

	assert.Equal(t, int32(1), f.fb.calls.Load(), "graph is not called again once throttled")
	require.Len(t, res.Errors, 2)
	for _, e := range res.Errors {
		assert.Equal(t, "rate_limited", e.Kind)
		assert.Equal(t, 60, e.RetryAfterSeconds)
	}
	assert.Equal(t, 2, res.Products.Created)
}

func TestRunReportsTruncationCursor(t *testing.T) {
	f := newFixture(t)
	f.fb.insightNext = map[string]string{"222": "QVFIUjNk"}

	res := f.run(t)

	assert.Equal(t, []Truncation{{Provider: "facebook", Resource: "insights", Scope: "222", Next: "QVFIUjNk"}}, res.Truncated)
}

func TestRunImageRateLimitEndsEnrichment(t *testing.T) {
	f := newFixture(t)
	f.fb.imageErr = apperror.RateLimited("facebook", time.Minute)

	res := f.run(t)

	assert.Zero(t, res.Enriched)
	assert.Equal(t, 1, res.Campaigns, "the campaign is stored without its image")
	require.NotEmpty(t, res.Errors)
	assert.Equal(t, "rate_limited", res.Errors[len(res.Errors)-1].Kind)
}

func TestValidateResolvesIntegrations(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	foreign := &model.Integration{UserID: "u2", Provider: model.ProviderFacebook, AccessToken: "x"}
	require.NoError(t, f.db.CreateIntegration(ctx, foreign))

	assert.NoError(t, f.engine.Validate(ctx, Request{UserID: "u1"}))
	assert.ErrorIs(t, f.engine.Validate(ctx, Request{UserID: "u1", IntegrationID: "nope"}), apperror.ErrNotFound)
	assert.ErrorIs(t, f.engine.Validate(ctx, Request{UserID: "u1", IntegrationID: foreign.ID}), apperror.ErrNotFound)

	require.NoError(t, f.db.DisableIntegration(ctx, "u1", f.ads.ID, time.Now()))
	assert.ErrorIs(t, f.engine.Validate(ctx, Request{UserID: "u1", IntegrationID: f.ads.ID}), apperror.ErrValidation)

	require.NoError(t, f.db.DisableIntegration(ctx, "u1", f.store.ID, time.Now()))
	assert.ErrorIs(t, f.engine.Validate(ctx, Request{UserID: "u1"}), apperror.ErrValidation)

	assert.Zero(t, f.shop.calls.Load()+f.fb.calls.Load(), "validation never calls a provider")
}

func TestRunExplicitAdAccount(t *testing.T) {
	f := newFixture(t)

	res, err := f.engine.Run(context.Background(), Request{
		UserID: "u1", IntegrationID: f.ads.ID, AdAccountID: "act_111", DatePreset: provider.PresetLast7d,
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"111"}, res.AdAccounts)
	assert.Zero(t, f.shop.calls.Load(), "only the requested integration is synced")
}

func TestRunRejectsInvalidRequest(t *testing.T) {
	tests := []struct {
		name string
		req  Request
		want error
	}{
		{"unknown preset", Request{UserID: "u1", DatePreset: "last_century"}, apperror.ErrValidation},
		{"half range", Request{UserID: "u1", DateFrom: "2024-03-01"}, apperror.ErrValidation},
		{"unknown market", Request{UserID: "u1", Market: "galactic"}, apperror.ErrValidation},
		{"missing user", Request{}, apperror.ErrAuth},
		{"unknown integration", Request{UserID: "u1", IntegrationID: "nope"}, apperror.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			_, err := f.engine.Run(context.Background(), tt.req)
			assert.ErrorIs(t, err, tt.want)
			assert.Zero(t, f.shop.calls.Load()+f.fb.calls.Load(), "no provider call on invalid input")
		})
	}
}

func TestRunWithoutIntegrations(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.db.DisableIntegration(ctx, "u1", f.store.ID, time.Now()))
	require.NoError(t, f.db.DisableIntegration(ctx, "u1", f.ads.ID, time.Now()))

	_, err := f.engine.Run(ctx, Request{UserID: "u1"})
	assert.ErrorIs(t, err, apperror.ErrValidation)
}

// ===== ACCOUNT SELECTION =====

func TestSelectAccounts(t *testing.T) {
	accounts := []facebook.AdAccount{
		{ID: "111", Name: "Other Biz"},
		{ID: "222", Name: "MyCoolShop Ads"},
	}
	tests := []struct {
		name      string
		requested string
		store     string
		want      []string
	}{
		{"explicit", "act_111", "MyCoolShop", []string{"111"}},
		{"explicit unknown", "333", "", []string{"333"}},
		{"matched by store", "", "MyCoolShop", []string{"222"}},
		{"no store name", "", "", []string{"111", "222"}},
		{"no match", "", "xyz", []string{"111", "222"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, _ := selectAccounts(accounts, tt.requested, tt.store)
			ids := make([]string, len(got))
			for i, a := range got {
				ids[i] = a.ID
			}
			assert.Equal(t, tt.want, ids)
		})
	}
}

func TestApplyMetrics(t *testing.T) {
	r := &model.DailyCampaignRecord{UnitsSold: 4, ProductPrice: 25, COG: 8, TotalSpend: 40}
	clamped := ApplyMetrics(r)

	assert.Empty(t, clamped)
	assert.Equal(t, 2.5, r.ROAS)
	assert.Equal(t, 28.0, r.MarginEUR)
	assert.Equal(t, 28.0, r.MarginPct)
}
