package sqldb

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/adprofit/internal/apperror"
	"github.com/sakif/adprofit/internal/model"
	"github.com/sakif/adprofit/internal/repository"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := NewSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func createIntegration(t *testing.T, db *DB, userID string, provider model.Provider) *model.Integration {
	t.Helper()
	in := &model.Integration{
		UserID:      userID,
		Provider:    provider,
		AccessToken: "enc-token",
		Metadata:    model.IntegrationMetadata{ShopDomain: "shop.myshopify.com", Currency: "USD"},
	}
	require.NoError(t, db.CreateIntegration(context.Background(), in))
	return in
}

func day(s string) time.Time {
	t, err := time.Parse(model.DateLayout, s)
	if err != nil {
		panic(err)
	}
	return t
}

func ptr[T any](v T) *T { return &v }

// ===== DB =====

func TestRebind(t *testing.T) {
	pg := &DB{dialect: dialectPostgres}
	assert.Equal(t, "SELECT a FROM t WHERE b = $1 AND c = $2", pg.rebind("SELECT a FROM t WHERE b = ? AND c = ?"))

	lite := &DB{dialect: dialectSQLite}
	assert.Equal(t, "WHERE b = ?", lite.rebind("WHERE b = ?"))
}

func TestMigrateIsIdempotent(t *testing.T) {
	db := newTestDB(t)
	require.NoError(t, db.migrate())
	assert.Equal(t, "sqlite", db.Backend())
	assert.NoError(t, db.Ping(context.Background()))
}

// ===== INTEGRATIONS =====

func TestIntegrationLifecycle(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	shop := createIntegration(t, db, "u1", model.ProviderShopify)
	fb := createIntegration(t, db, "u1", model.ProviderFacebook)
	createIntegration(t, db, "u2", model.ProviderShopify)

	got, err := db.GetIntegration(ctx, "u1", shop.ID)
	require.NoError(t, err)
	assert.Equal(t, "shop.myshopify.com", got.Metadata.ShopDomain)
	assert.Equal(t, "enc-token", got.AccessToken)
	assert.True(t, got.Active())

	_, err = db.GetIntegration(ctx, "u2", shop.ID)
	assert.ErrorIs(t, err, apperror.ErrNotFound, "other users must not see the row")

	all, err := db.ListIntegrations(ctx, "u1", "")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	onlyFB, err := db.ListIntegrations(ctx, "u1", model.ProviderFacebook)
	require.NoError(t, err)
	require.Len(t, onlyFB, 1)
	assert.Equal(t, fb.ID, onlyFB[0].ID)

	meta := model.IntegrationMetadata{AdAccounts: []model.AdAccount{{ID: "123", Name: "Main", Currency: "GBP"}}}
	require.NoError(t, db.UpdateIntegrationMetadata(ctx, "u1", fb.ID, meta))
	got, err = db.GetIntegration(ctx, "u1", fb.ID)
	require.NoError(t, err)
	assert.Equal(t, meta.AdAccounts, got.Metadata.AdAccounts)

	first := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, db.DisableIntegration(ctx, "u1", fb.ID, first))
	require.NoError(t, db.DisableIntegration(ctx, "u1", fb.ID, first.Add(time.Hour)))

	got, err = db.GetIntegration(ctx, "u1", fb.ID)
	require.NoError(t, err)
	require.NotNil(t, got.DisabledAt)
	assert.True(t, got.DisabledAt.Equal(first))

	active, err := db.ListIntegrations(ctx, "u1", "")
	require.NoError(t, err)
	assert.Len(t, active, 1)

	assert.ErrorIs(t, db.DisableIntegration(ctx, "u1", "missing", first), apperror.ErrNotFound)
}

// ===== PRODUCTS =====

func TestUpsertProduct(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	in := createIntegration(t, db, "u1", model.ProviderShopify)

	p := &model.Product{
		UserID: "u1", IntegrationID: in.ID, ExternalID: "p-1",
		Name: "Blue Mug", SellingPrice: 20, QuantitySold: 3, TotalRevenue: 60,
	}
	created, err := db.UpsertProduct(ctx, p)
	require.NoError(t, err)
	assert.True(t, created)
	firstID := p.ID

	again := &model.Product{
		UserID: "u1", IntegrationID: in.ID, ExternalID: "p-1",
		Name: "Blue Mug v2", SellingPrice: 22, CostPrice: ptr(5.0), ProfitMargin: 77.27,
		QuantitySold: 3, TotalRevenue: 66,
	}
	created, err = db.UpsertProduct(ctx, again)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, firstID, again.ID)

	list, err := db.ListProducts(ctx, "u1", repository.ListOptions{})
	require.NoError(t, err)
	require.Len(t, list, 1, "upsert on the same key must not duplicate")
	assert.Equal(t, "Blue Mug v2", list[0].Name)
	require.NotNil(t, list[0].CostPrice)
	assert.Equal(t, 5.0, *list[0].CostPrice)

	require.NoError(t, db.UpdateProductCost(ctx, "u1", firstID, 8, 63.64))
	got, err := db.GetProductByExternalID(ctx, "u1", in.ID, "p-1")
	require.NoError(t, err)
	assert.Equal(t, 8.0, got.Cost())
	assert.Equal(t, 63.64, got.ProfitMargin)

	_, err = db.GetProduct(ctx, "u2", firstID)
	assert.ErrorIs(t, err, apperror.ErrNotFound)
	assert.ErrorIs(t, db.UpdateProductCost(ctx, "u2", firstID, 1, 1), apperror.ErrNotFound)
}

func TestListProductsPaging(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	in := createIntegration(t, db, "u1", model.ProviderShopify)

	for _, name := range []string{"a", "b", "c"} {
		_, err := db.UpsertProduct(ctx, &model.Product{UserID: "u1", IntegrationID: in.ID, ExternalID: name, Name: name})
		require.NoError(t, err)
	}

	page, err := db.ListProducts(ctx, "u1", repository.ListOptions{Limit: 2, Offset: 1})
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "b", page[0].Name)
	assert.Equal(t, "c", page[1].Name)
}

// ===== CAMPAIGN RECORDS =====

func TestUpsertRecordKeepsDecision(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	rec := &model.DailyCampaignRecord{
		UserID: "u1", CampaignID: "c1", CampaignName: "Blue Mug", AdAccountID: "act1",
		Date: day("2024-03-01"), TotalSpend: 10, Clicks: 20, CPC: 0.5,
	}
	created, err := db.UpsertRecord(ctx, rec)
	require.NoError(t, err)
	assert.True(t, created)

	kill := model.DecisionKill
	rec.Decision = &kill
	rec.Reason = "KILL: test"
	require.NoError(t, db.SaveDecisions(ctx, []model.DailyCampaignRecord{*rec}))

	resync := &model.DailyCampaignRecord{
		UserID: "u1", CampaignID: "c1", CampaignName: "Blue Mug", AdAccountID: "act1",
		Date: day("2024-03-01"), TotalSpend: 12, Clicks: 24, CPC: 0.5,
	}
	created, err = db.UpsertRecord(ctx, resync)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, rec.ID, resync.ID)

	got, err := db.ListRecords(ctx, "u1", repository.RecordFilter{CampaignID: "c1"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 12.0, got[0].TotalSpend)
	require.NotNil(t, got[0].Decision)
	assert.Equal(t, model.DecisionKill, *got[0].Decision)
	assert.Equal(t, "KILL: test", got[0].Reason)
	assert.True(t, got[0].Date.Equal(day("2024-03-01")))
}

func TestListRecordsFilter(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	for _, r := range []model.DailyCampaignRecord{
		{UserID: "u1", CampaignID: "c1", AdAccountID: "a", Date: day("2024-03-01")},
		{UserID: "u1", CampaignID: "c1", AdAccountID: "a", Date: day("2024-03-02")},
		{UserID: "u1", CampaignID: "c2", AdAccountID: "b", Date: day("2024-03-02")},
		{UserID: "u2", CampaignID: "c3", AdAccountID: "a", Date: day("2024-03-02")},
	} {
		r := r
		_, err := db.UpsertRecord(ctx, &r)
		require.NoError(t, err)
	}

	tests := []struct {
		name   string
		filter repository.RecordFilter
		want   int
	}{
		{"all", repository.RecordFilter{}, 3},
		{"campaign", repository.RecordFilter{CampaignID: "c1"}, 2},
		{"account", repository.RecordFilter{AdAccountID: "b"}, 1},
		{"from", repository.RecordFilter{From: day("2024-03-02")}, 2},
		{"to", repository.RecordFilter{To: day("2024-03-01")}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := db.ListRecords(ctx, "u1", tt.filter)
			require.NoError(t, err)
			assert.Len(t, got, tt.want)
		})
	}

	ids, err := db.ListCampaignIDs(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, []string{"c1", "c2"}, ids)
}

func TestUpdateRecordMetrics(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	rec := &model.DailyCampaignRecord{UserID: "u1", CampaignID: "c1", Date: day("2024-03-01"), TotalSpend: 10}
	_, err := db.UpsertRecord(ctx, rec)
	require.NoError(t, err)

	rec.ProductID = ptr("prod-1")
	rec.COG = 8
	rec.MarginEUR = 2
	rec.MarginPct = 10
	require.NoError(t, db.UpdateRecordMetrics(ctx, []model.DailyCampaignRecord{*rec}))

	got, err := db.ListRecords(ctx, "u1", repository.RecordFilter{})
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.NotNil(t, got[0].ProductID)
	assert.Equal(t, "prod-1", *got[0].ProductID)
	assert.Equal(t, 8.0, got[0].COG)
	assert.Equal(t, 10.0, got[0].TotalSpend, "spend is not touched")
}

func TestUpsertCampaignKeepsImage(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.UpsertCampaign(ctx, &model.Campaign{UserID: "u1", CampaignID: "c1", Name: "A", ImageURL: "https://img/1"}))
	require.NoError(t, db.UpsertCampaign(ctx, &model.Campaign{UserID: "u1", CampaignID: "c1", Name: "A2", Status: "PAUSED"}))

	list, err := db.ListCampaigns(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "A2", list[0].Name)
	assert.Equal(t, "PAUSED", list[0].Status)
	assert.Equal(t, "https://img/1", list[0].ImageURL)
}

// ===== PROFIT SHEET =====

func TestProfitSheetEntries(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	e := &model.ProfitSheetEntry{UserID: "u1", IntegrationID: "i1", AdAccountID: "a", Date: day("2024-03-01"), OtherExpenses: 5}
	require.NoError(t, db.UpsertProfitSheetEntry(ctx, e))
	id := e.ID

	e2 := &model.ProfitSheetEntry{UserID: "u1", IntegrationID: "i1", AdAccountID: "a", Date: day("2024-03-01"), OtherExpenses: 7, ManualRefunds: 2}
	require.NoError(t, db.UpsertProfitSheetEntry(ctx, e2))
	assert.Equal(t, id, e2.ID)

	require.NoError(t, db.UpsertProfitSheetEntry(ctx, &model.ProfitSheetEntry{UserID: "u1", IntegrationID: "i1", AdAccountID: "b", Date: day("2024-03-02")}))

	all, err := db.ListProfitSheetEntries(ctx, "u1", "i1", "", day("2024-03-01"), day("2024-03-31"))
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, 7.0, all[0].OtherExpenses)
	assert.Equal(t, 2.0, all[0].ManualRefunds)

	onlyA, err := db.ListProfitSheetEntries(ctx, "u1", "i1", "a", day("2024-03-01"), day("2024-03-31"))
	require.NoError(t, err)
	assert.Len(t, onlyA, 1)
}

func TestStoreTotals(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.UpsertStoreTotals(ctx, &model.StoreDailyTotals{UserID: "u1", IntegrationID: "i1", Date: day("2024-03-01"), Orders: 1, Revenue: 10}))
	require.NoError(t, db.UpsertStoreTotals(ctx, &model.StoreDailyTotals{UserID: "u1", IntegrationID: "i1", Date: day("2024-03-01"), Orders: 2, Revenue: 30, Refunds: 5}))
	require.NoError(t, db.UpsertStoreTotals(ctx, &model.StoreDailyTotals{UserID: "u1", IntegrationID: "i1", Date: day("2024-04-01"), Orders: 9}))

	got, err := db.ListStoreTotals(ctx, "u1", "i1", day("2024-03-01"), day("2024-03-31"))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 2, got[0].Orders)
	assert.Equal(t, 30.0, got[0].Revenue)
	assert.Equal(t, 5.0, got[0].Refunds)
}
