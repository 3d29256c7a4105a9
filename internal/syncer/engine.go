// Package syncer pulls Shopify and Facebook data into per-day aggregates.
//
// A run has two phases:
//
//	FETCH      both providers are read in parallel, one goroutine each.
//	           Pagination against a single endpoint stays sequential.
//	RECONCILE  pages are converted to EUR, matched and written with
//	           idempotent upserts, then campaign decisions are recomputed.
//
// A failing store, ad account or lookup is recorded in the Result and the
// run carries on with what it has. A refused token or a rate limit stops all
// further calls for that integration. The run fails as a whole on an invalid
// request, a missing integration, an expired deadline, or when every
// integration was refused or throttled.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/sakif/adprofit/internal/apperror"
	"github.com/sakif/adprofit/internal/currency"
	"github.com/sakif/adprofit/internal/decision"
	"github.com/sakif/adprofit/internal/model"
	"github.com/sakif/adprofit/internal/provider"
	"github.com/sakif/adprofit/internal/provider/facebook"
	"github.com/sakif/adprofit/internal/provider/shopify"
	"github.com/sakif/adprofit/internal/repository"
	"github.com/sakif/adprofit/internal/telemetry"
)

// ShopifyAPI is the subset of *shopify.Client the engine reads from.
type ShopifyAPI interface {
	Shop(ctx context.Context, shop, token string) (shopify.Shop, error)
	Orders(ctx context.Context, shop, token string, r provider.Range) (provider.Collected[shopify.Order], error)
	Products(ctx context.Context, shop, token string) (provider.Collected[shopify.Product], error)
	UnitCosts(ctx context.Context, shop, token string, inventoryItemIDs []string) (map[string]float64, error)
}

// FacebookAPI is the subset of *facebook.Client the engine reads from.
type FacebookAPI interface {
	AdAccounts(ctx context.Context, token string) (provider.Collected[facebook.AdAccount], error)
	Insights(ctx context.Context, token, accountID string, r provider.Range) (provider.Collected[facebook.Insight], error)
	Campaigns(ctx context.Context, token, accountID string) (provider.Collected[facebook.Campaign], error)
	CampaignImage(ctx context.Context, token, campaignID string) (string, error)
}

// RateLoader yields the FX snapshot for one run.
type RateLoader interface {
	Load(ctx context.Context) *currency.Normalizer
}

type Decrypter interface {
	Decrypt(ciphertext string) string
}

// Request is the input of one sync run.
type Request struct {
	UserID        string `json:"-"`
	IntegrationID string `json:"integration_id"`
	AdAccountID   string `json:"ad_account_id"`
	DatePreset    string `json:"date_preset"`
	DateFrom      string `json:"date_from"`
	DateTo        string `json:"date_to"`
	Market        string `json:"market"`
}

type Options struct {
	EnrichBatch   int
	EnrichDelay   time.Duration
	DefaultMarket string
}

type Engine struct {
	store    repository.Store
	shopify  ShopifyAPI
	facebook FacebookAPI
	fx       RateLoader
	vault    Decrypter
	opts     Options
	logger   *slog.Logger
	metrics  *telemetry.Metrics
	now      func() time.Time
}

func NewEngine(store repository.Store, shop ShopifyAPI, fb FacebookAPI, fx RateLoader, vault Decrypter, opts Options, logger *slog.Logger, metrics *telemetry.Metrics) *Engine {
	if opts.EnrichBatch <= 0 {
		opts.EnrichBatch = 10
	}
	return &Engine{
		store:    store,
		shopify:  shop,
		facebook: fb,
		fx:       fx,
		vault:    vault,
		opts:     opts,
		logger:   logger,
		metrics:  metrics,
		now:      time.Now,
	}
}

// Validate rejects a malformed request, or one naming an integration the user
// cannot sync, before anything external is touched.
func (e *Engine) Validate(ctx context.Context, req Request) error {
	if _, _, err := e.resolve(req); err != nil {
		return err
	}
	_, _, _, err := e.integrations(ctx, req)
	return err
}

func (e *Engine) resolve(req Request) (provider.Range, decision.Tier, error) {
	if req.UserID == "" {
		return provider.Range{}, decision.Tier{}, apperror.Unauthorized("missing user")
	}
	rng, err := provider.ResolveRange(req.DatePreset, req.DateFrom, req.DateTo, e.now())
	if err != nil {
		return provider.Range{}, decision.Tier{}, err
	}
	tier, err := decision.TierFor(req.Market, e.opts.DefaultMarket)
	if err != nil {
		return provider.Range{}, decision.Tier{}, err
	}
	return rng, tier, nil
}

// Run executes one sync synchronously. The returned Result is non-nil
// whenever the run got past validation, even if err is set.
func (e *Engine) Run(ctx context.Context, req Request) (*Result, error) {
	rng, tier, err := e.resolve(req)
	if err != nil {
		return nil, err
	}

	shops, ads, storeName, err := e.integrations(ctx, req)
	if err != nil {
		return nil, err
	}

	res := &Result{
		From:       rng.From.Format(model.DateLayout),
		To:         rng.To.Format(model.DateLayout),
		AdAccounts: []string{},
	}
	fx := e.fx.Load(ctx)
	res.FXSource = fx.Source()

	log := e.logger.With(slog.String("user_id", req.UserID), slog.String("range", rng.String()))
	log.Info("sync fetching",
		slog.Int("shops", len(shops)),
		slog.Int("ad_integrations", len(ads)),
		slog.String("fx_source", res.FXSource),
	)

	var (
		shopData []*shopFetch
		adData   []*adFetch
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		shopData = e.fetchShops(gctx, shops, rng)
		return gctx.Err()
	})
	g.Go(func() error {
		adData = e.fetchAds(gctx, ads, req.AdAccountID, storeName, rng)
		return gctx.Err()
	})
	if err := g.Wait(); err != nil {
		return res, fmt.Errorf("syncer: fetching provider data: %w", err)
	}

	for _, sf := range shopData {
		res.merge(&sf.side)
		if sf.halted != nil {
			// Incomplete pages would overwrite window totals; the next run retries.
			continue
		}
		e.reconcileShop(ctx, req.UserID, sf, fx, res)
	}

	products, err := e.store.ListProducts(ctx, req.UserID, repository.ListOptions{})
	if err != nil {
		res.fail("product", "", err)
	}
	index := NewProductIndex(products)

	touched := make(map[string]struct{})
	for _, af := range adData {
		res.merge(&af.side)
		e.reconcileAds(ctx, req.UserID, af, index, fx, res, touched)
	}

	e.decide(ctx, req.UserID, touched, tier, res)
	e.record(res)

	if err := ctx.Err(); err != nil {
		return res, fmt.Errorf("syncer: run interrupted: %w", err)
	}
	if err := refused(shopData, adData); err != nil {
		log.Warn("sync refused by every integration", slog.String("error", err.Error()))
		return res, fmt.Errorf("syncer: every integration was refused: %w", err)
	}
	log.Info("sync reconciled",
		slog.Int("products", res.Products.Created+res.Products.Updated),
		slog.Int("records", res.Records.Created+res.Records.Updated),
		slog.Int("decisions", res.Decisions),
		slog.Int("errors", res.Errored()),
		slog.Int("warnings", len(res.Warnings)),
	)
	return res, nil
}

// integrations returns the active integrations to sync, split by provider,
// plus the best known store name for ad-account auto-linking.
func (e *Engine) integrations(ctx context.Context, req Request) (shops, ads []model.Integration, storeName string, err error) {
	all, err := e.store.ListIntegrations(ctx, req.UserID, "")
	if err != nil {
		return nil, nil, "", fmt.Errorf("syncer: listing integrations: %w", err)
	}

	if req.IntegrationID != "" {
		in, err := e.store.GetIntegration(ctx, req.UserID, req.IntegrationID)
		if err != nil {
			return nil, nil, "", err
		}
		if !in.Active() {
			return nil, nil, "", apperror.ValidationFailed("integration_id", "integration is disabled")
		}
		all = []model.Integration{*in}
		if in.Provider == model.ProviderFacebook {
			// Store name still comes from the user's shops.
			if stores, err := e.store.ListIntegrations(ctx, req.UserID, model.ProviderShopify); err == nil && len(stores) > 0 {
				storeName = shopLabel(stores[0])
			}
		}
	}

	for _, in := range all {
		switch in.Provider {
		case model.ProviderShopify:
			shops = append(shops, in)
		case model.ProviderFacebook:
			ads = append(ads, in)
		}
	}
	if len(shops) == 0 && len(ads) == 0 {
		return nil, nil, "", apperror.ValidationFailed("integration_id", "no active integrations to sync")
	}
	if storeName == "" && len(shops) > 0 {
		storeName = shopLabel(shops[0])
	}
	return shops, ads, storeName, nil
}

func shopLabel(in model.Integration) string {
	if in.Metadata.ShopName != "" {
		return in.Metadata.ShopName
	}
	return in.Metadata.ShopDomain
}

func (e *Engine) decide(ctx context.Context, userID string, touched map[string]struct{}, tier decision.Tier, res *Result) {
	for _, id := range slices.Sorted(maps.Keys(touched)) {
		records, err := e.store.ListRecords(ctx, userID, repository.RecordFilter{CampaignID: id})
		if err != nil {
			res.fail("decision", id, err)
			continue
		}
		windows := decision.Evaluate(records, tier)
		if decision.Apply(records, windows) == 0 {
			continue
		}
		if err := e.store.SaveDecisions(ctx, decided(records)); err != nil {
			res.fail("decision", id, err)
			continue
		}
		res.Decisions += len(windows)
	}
}

func decided(records []model.DailyCampaignRecord) []model.DailyCampaignRecord {
	out := records[:0:0]
	for _, r := range records {
		if r.Decision != nil {
			out = append(out, r)
		}
	}
	return out
}

func (e *Engine) record(res *Result) {
	e.metrics.SyncItems("product", "created", res.Products.Created)
	e.metrics.SyncItems("product", "updated", res.Products.Updated)
	e.metrics.SyncItems("product", "skipped", res.Products.Skipped)
	e.metrics.SyncItems("product", "errored", res.Products.Errored)
	e.metrics.SyncItems("record", "created", res.Records.Created)
	e.metrics.SyncItems("record", "updated", res.Records.Updated)
	e.metrics.SyncItems("record", "skipped", res.Records.Skipped)
	e.metrics.SyncItems("record", "errored", res.Records.Errored)
	e.metrics.SyncItems("store_day", "updated", res.StoreDays)
}

// halts reports whether err means the provider will not serve the
// integration for now: the token was refused or retries ran out on a rate
// limit. Remaining calls for that integration are skipped.
func halts(err error) bool {
	return errors.Is(err, apperror.ErrAuth) || errors.Is(err, apperror.ErrRateLimited)
}

// refused returns the halting error when every integration halted, and nil
// otherwise. A rate limit is preferred so the caller gets a retry hint.
func refused(shops []*shopFetch, ads []*adFetch) error {
	var halted []error
	for _, sf := range shops {
		if sf.halted == nil {
			return nil
		}
		halted = append(halted, sf.halted)
	}
	for _, af := range ads {
		if af.halted == nil {
			return nil
		}
		halted = append(halted, af.halted)
	}
	if len(halted) == 0 {
		return nil
	}
	for _, err := range halted {
		if errors.Is(err, apperror.ErrRateLimited) {
			return err
		}
	}
	return halted[0]
}
