package syncer

import (
	"context"
	"errors"
	"log/slog"
	"maps"
	"slices"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/sakif/adprofit/internal/apperror"
	"github.com/sakif/adprofit/internal/currency"
	"github.com/sakif/adprofit/internal/matcher"
	"github.com/sakif/adprofit/internal/model"
	"github.com/sakif/adprofit/internal/profit"
	"github.com/sakif/adprofit/internal/provider"
	"github.com/sakif/adprofit/internal/provider/facebook"
)

// adFetch is everything read through one Facebook integration. halted is
// set when Graph refused the token or stayed throttled.
type adFetch struct {
	integration model.Integration
	token       string
	listed      []facebook.AdAccount // every account the token can see; nil if listing failed
	selected    []facebook.AdAccount
	insights    []facebook.Insight
	campaigns   []facebook.Campaign
	halted      error
	side        Result
}

// fetchAds reads each Facebook integration in turn. Graph rate limits are
// app wide, so once one integration is throttled the rest are not called.
func (e *Engine) fetchAds(ctx context.Context, integrations []model.Integration, requested, storeName string, rng provider.Range) []*adFetch {
	out := make([]*adFetch, 0, len(integrations))
	var throttled error
	for _, in := range integrations {
		if ctx.Err() != nil {
			break
		}
		if throttled != nil {
			af := &adFetch{integration: in, halted: throttled}
			af.side.fail("integration", in.ID, throttled)
			out = append(out, af)
			continue
		}
		af := e.fetchAd(ctx, in, requested, storeName, rng)
		if errors.Is(af.halted, apperror.ErrRateLimited) {
			throttled = af.halted
		}
		out = append(out, af)
	}
	return out
}

func (e *Engine) fetchAd(ctx context.Context, in model.Integration, requested, storeName string, rng provider.Range) *adFetch {
	af := &adFetch{integration: in, token: e.vault.Decrypt(in.AccessToken)}

	// failed records err and reports whether Graph must not be called again.
	failed := func(entity, id string, err error) bool {
		af.side.fail(entity, id, err)
		if halts(err) {
			af.halted = err
			return true
		}
		return false
	}

	accounts, err := e.facebook.AdAccounts(ctx, af.token)
	if err != nil {
		if failed("ad_account", in.ID, err) {
			return af
		}
		// Fall back to what an earlier sync discovered.
		for _, a := range in.Metadata.AdAccounts {
			accounts.Items = append(accounts.Items, facebook.AdAccount{ID: a.ID, Name: a.Name, Currency: a.Currency})
		}
	} else {
		af.listed = accounts.Items
	}

	var m matcher.Result
	af.selected, m = selectAccounts(accounts.Items, requested, storeName)
	if m.Matched() {
		e.logger.Info("ad account linked to store",
			slog.String("store", storeName),
			slog.String("ad_account_id", m.MatchID),
			slog.String("confidence", string(m.Confidence)),
			slog.Int("score", m.Score),
		)
	}

	for _, acc := range af.selected {
		if ctx.Err() != nil {
			break
		}
		af.side.AdAccounts = append(af.side.AdAccounts, acc.ID)

		insights, err := e.facebook.Insights(ctx, af.token, acc.ID, rng)
		for _, ins := range insights.Items {
			if ins.Currency == "" {
				ins.Currency = acc.Currency
			}
			af.insights = append(af.insights, ins)
		}
		if insights.Truncated {
			af.side.Truncated = append(af.side.Truncated, Truncation{Provider: "facebook", Resource: "insights", Scope: acc.ID, Next: insights.Next})
		}
		if err != nil && failed("insight", acc.ID, err) {
			return af
		}

		campaigns, err := e.facebook.Campaigns(ctx, af.token, acc.ID)
		af.campaigns = append(af.campaigns, campaigns.Items...)
		if campaigns.Truncated {
			af.side.Truncated = append(af.side.Truncated, Truncation{Provider: "facebook", Resource: "campaigns", Scope: acc.ID, Next: campaigns.Next})
		}
		if err != nil && failed("campaign", acc.ID, err) {
			return af
		}
	}
	return af
}

// selectAccounts picks the ad accounts to sync. An explicit request wins;
// otherwise, with several accounts and a known store name, the account whose
// name best matches the store is used alone. Without a match all accounts
// are synced.
func selectAccounts(accounts []facebook.AdAccount, requested, storeName string) ([]facebook.AdAccount, matcher.Result) {
	if requested != "" {
		id := facebook.StripAccountPrefix(requested)
		for _, a := range accounts {
			if a.ID == id {
				return []facebook.AdAccount{a}, matcher.Result{}
			}
		}
		return []facebook.AdAccount{{ID: id}}, matcher.Result{}
	}
	if len(accounts) <= 1 || storeName == "" {
		return accounts, matcher.Result{}
	}

	candidates := make([]matcher.Candidate, len(accounts))
	for i, a := range accounts {
		candidates[i] = matcher.Candidate{ID: a.ID, Name: a.Name}
	}
	m := matcher.BestMatch(storeName, candidates)
	if !m.Matched() {
		return accounts, m
	}
	for _, a := range accounts {
		if a.ID == m.MatchID {
			return []facebook.AdAccount{a}, m
		}
	}
	return accounts, m
}

func (e *Engine) reconcileAds(ctx context.Context, userID string, af *adFetch, index *ProductIndex, fx *currency.Normalizer, res *Result, touched map[string]struct{}) {
	in := af.integration
	if af.listed != nil {
		meta := in.Metadata
		meta.AdAccounts = make([]model.AdAccount, 0, len(af.listed))
		for _, a := range af.listed {
			meta.AdAccounts = append(meta.AdAccounts, model.AdAccount{ID: a.ID, Name: a.Name, Currency: a.Currency})
		}
		if err := e.store.UpdateIntegrationMetadata(ctx, userID, in.ID, meta); err != nil {
			res.fail("integration", in.ID, err)
		}
	}

	// One row per campaign day; a later page wins over an earlier one.
	type key struct{ campaign, day string }
	pos := make(map[key]int, len(af.insights))
	var rows []facebook.Insight
	for _, ins := range af.insights {
		k := key{ins.CampaignID, ins.Date.Format(model.DateLayout)}
		if i, dup := pos[k]; dup {
			rows[i] = ins
			res.Records.Skipped++
			continue
		}
		pos[k] = len(rows)
		rows = append(rows, ins)
	}

	seen := make(map[string]bool)
	for _, ins := range rows {
		rec := e.buildRecord(userID, ins, index, fx, res)
		created, err := e.store.UpsertRecord(ctx, rec)
		if err != nil {
			res.Records.Errored++
			res.fail("record", ins.CampaignID+"/"+ins.Date.Format(model.DateLayout), err)
			continue
		}
		res.Records.add(created)
		touched[ins.CampaignID] = struct{}{}
		seen[ins.CampaignID] = true
	}

	e.syncCampaigns(ctx, userID, af, rows, seen, res)
}

// buildRecord converts one insight row to EUR and derives its metrics. Units
// sold are the purchases Facebook attributes to the campaign; price and COG
// come from the product the campaign name matches.
func (e *Engine) buildRecord(userID string, ins facebook.Insight, index *ProductIndex, fx *currency.Normalizer, res *Result) *model.DailyCampaignRecord {
	spend := fx.ToReporting(ins.Spend, ins.Currency)
	cpc := profit.CPC(spend, ins.Clicks)
	if ins.CPC > 0 {
		cpc = fx.ToReporting(ins.CPC, ins.Currency)
	}

	rec := &model.DailyCampaignRecord{
		UserID:       userID,
		CampaignID:   ins.CampaignID,
		CampaignName: ins.CampaignName,
		AdAccountID:  ins.AccountID,
		Date:         provider.Day(ins.Date),
		TotalSpend:   spend,
		Clicks:       ins.Clicks,
		CPC:          cpc,
		AddToCart:    ins.AddToCart,
		Purchases:    ins.Purchases,
		UnitsSold:    ins.Purchases,
	}
	if p, _ := index.Match(ins.CampaignName); p != nil {
		id := p.ID
		rec.ProductID = &id
		rec.ProductPrice = p.SellingPrice
		rec.COG = p.Cost()
	}

	if clamped := ApplyMetrics(rec); len(clamped) > 0 {
		e.metrics.Clamped(clamped...)
		res.warn("record %s/%s: non-finite %v clamped to 0", rec.CampaignID, rec.Date.Format(model.DateLayout), clamped)
	}
	return rec
}

// ApplyMetrics recomputes the derived money columns of r from its units,
// product price, unit COG and spend, returning any clamped field names.
func ApplyMetrics(r *model.DailyCampaignRecord) []string {
	m := profit.Compute(r.UnitsSold, r.ProductPrice, r.COG, r.TotalSpend)
	r.ROAS = profit.Round2(m.ROAS)
	r.MarginEUR = profit.Round2(m.MarginEUR)
	r.MarginPct = profit.Round2(m.MarginPct)
	return m.Clamped
}

// syncCampaigns upserts the catalogue entries of the campaigns that had
// insights in range, enriching each with its creative image.
func (e *Engine) syncCampaigns(ctx context.Context, userID string, af *adFetch, rows []facebook.Insight, seen map[string]bool, res *Result) {
	byID := make(map[string]*model.Campaign)
	for _, c := range af.campaigns {
		if seen[c.ID] {
			byID[c.ID] = &model.Campaign{UserID: userID, CampaignID: c.ID, AdAccountID: c.AccountID, Name: c.Name, Status: c.Status}
		}
	}
	for _, ins := range rows {
		if _, ok := byID[ins.CampaignID]; !ok && seen[ins.CampaignID] {
			byID[ins.CampaignID] = &model.Campaign{UserID: userID, CampaignID: ins.CampaignID, AdAccountID: ins.AccountID, Name: ins.CampaignName}
		}
	}
	if len(byID) == 0 {
		return
	}

	campaigns := make([]*model.Campaign, 0, len(byID))
	for _, id := range slices.Sorted(maps.Keys(byID)) {
		campaigns = append(campaigns, byID[id])
	}
	e.enrich(ctx, af.token, campaigns, res)

	for _, c := range campaigns {
		if err := e.store.UpsertCampaign(ctx, c); err != nil {
			res.fail("campaign", c.CampaignID, err)
			continue
		}
		res.Campaigns++
	}
}

// enrich looks up creative images in batches. Lookups within a batch run
// concurrently; batches are spaced by the enrichment delay. A refused token
// or a rate limit cancels the batch and ends enrichment for this run.
func (e *Engine) enrich(ctx context.Context, token string, campaigns []*model.Campaign, res *Result) {
	limit := rate.Inf
	if e.opts.EnrichDelay > 0 {
		limit = rate.Every(e.opts.EnrichDelay)
	}
	limiter := rate.NewLimiter(limit, 1)

	for start := 0; start < len(campaigns); start += e.opts.EnrichBatch {
		if err := limiter.Wait(ctx); err != nil {
			res.fail("campaign_image", "", err)
			return
		}
		batch := campaigns[start:min(start+e.opts.EnrichBatch, len(campaigns))]
		errs := make([]error, len(batch))

		g, gctx := errgroup.WithContext(ctx)
		for i, c := range batch {
			g.Go(func() error {
				url, err := e.facebook.CampaignImage(gctx, token, c.CampaignID)
				if err != nil {
					if halts(err) {
						return err
					}
					errs[i] = err
					return nil
				}
				c.ImageURL = url
				return nil
			})
		}
		halted := g.Wait()

		for i, c := range batch {
			switch {
			case c.ImageURL != "":
				res.Enriched++
			case halted != nil && errors.Is(errs[i], context.Canceled):
				// cancelled alongside the halting lookup
			case errs[i] != nil:
				res.fail("campaign_image", c.CampaignID, errs[i])
			}
		}
		if halted != nil {
			res.fail("campaign_image", "", halted)
			return
		}
	}
}
