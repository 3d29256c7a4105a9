// Package repository declares the persistence contracts. Implementations live
// in sub-packages (sqldb); services depend only on these interfaces.
//
// Every method is scoped by user id. A row owned by another user behaves
// exactly like a missing row (apperror.ErrNotFound).
package repository

import (
	"context"
	"time"

	"github.com/sakif/adprofit/internal/model"
)

type ListOptions struct {
	Limit  int
	Offset int
}

// RecordFilter narrows ListRecords. Zero fields do not filter.
type RecordFilter struct {
	CampaignID  string
	AdAccountID string
	From        time.Time
	To          time.Time
}

type IntegrationRepository interface {
	CreateIntegration(ctx context.Context, in *model.Integration) error
	GetIntegration(ctx context.Context, userID, id string) (*model.Integration, error)
	// ListIntegrations returns active integrations; an empty provider lists all.
	ListIntegrations(ctx context.Context, userID string, provider model.Provider) ([]model.Integration, error)
	UpdateIntegrationMetadata(ctx context.Context, userID, id string, meta model.IntegrationMetadata) error
	DisableIntegration(ctx context.Context, userID, id string, at time.Time) error
}

type ProductRepository interface {
	GetProduct(ctx context.Context, userID, id string) (*model.Product, error)
	GetProductByExternalID(ctx context.Context, userID, integrationID, externalID string) (*model.Product, error)
	ListProducts(ctx context.Context, userID string, opts ListOptions) ([]model.Product, error)
	// UpsertProduct inserts or updates on (user, integration, external id)
	// and reports whether a new row was created.
	UpsertProduct(ctx context.Context, p *model.Product) (created bool, err error)
	UpdateProductCost(ctx context.Context, userID, id string, cost, margin float64) error
}

type CampaignRepository interface {
	// UpsertRecord inserts or updates on (user, campaign, date) and reports
	// whether a new row was created. Stored decisions are left untouched.
	UpsertRecord(ctx context.Context, r *model.DailyCampaignRecord) (created bool, err error)
	ListRecords(ctx context.Context, userID string, f RecordFilter) ([]model.DailyCampaignRecord, error)
	ListCampaignIDs(ctx context.Context, userID string) ([]string, error)
	// UpdateRecordMetrics rewrites the product link and derived money columns
	// of each record in one transaction.
	UpdateRecordMetrics(ctx context.Context, records []model.DailyCampaignRecord) error
	// SaveDecisions rewrites decision and reason of each record in one transaction.
	SaveDecisions(ctx context.Context, records []model.DailyCampaignRecord) error

	UpsertCampaign(ctx context.Context, c *model.Campaign) error
	ListCampaigns(ctx context.Context, userID string) ([]model.Campaign, error)
}

type ProfitSheetRepository interface {
	UpsertProfitSheetEntry(ctx context.Context, e *model.ProfitSheetEntry) error
	ListProfitSheetEntries(ctx context.Context, userID, integrationID, adAccountID string, from, to time.Time) ([]model.ProfitSheetEntry, error)
	UpsertStoreTotals(ctx context.Context, t *model.StoreDailyTotals) error
	ListStoreTotals(ctx context.Context, userID, integrationID string, from, to time.Time) ([]model.StoreDailyTotals, error)
}

// Store is everything the application persists.
type Store interface {
	IntegrationRepository
	ProductRepository
	CampaignRepository
	ProfitSheetRepository
	Ping(ctx context.Context) error
	Close() error
}
