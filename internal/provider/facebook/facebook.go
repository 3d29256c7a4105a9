// Package facebook reads ad accounts, daily campaign insights, campaigns and
// creative images from the Graph API (Marketing API).
//
// Requests authenticate with a bearer token through an oauth2 transport.
// Cursor pagination follows paging.cursors.after while paging.next is set.
package facebook

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/sakif/adprofit/internal/apperror"
	"github.com/sakif/adprofit/internal/model"
	"github.com/sakif/adprofit/internal/provider"
	"github.com/sakif/adprofit/internal/telemetry"
)

const (
	providerName = "facebook"

	insightsPageLimit = 500
	defaultPageLimit  = 100

	defaultRetryAfter = 60 * time.Second

	codeInvalidToken  = 190
	codePermission    = 200
	codeAppNoAccess   = 10
	subcodeAccountCap = 2446079
)

// Error codes Graph uses for throttling.
var rateLimitCodes = map[int]bool{4: true, 17: true, 32: true, 613: true, 80004: true}

// Action types counted as conversions. Graph reports the same conversion
// under several types, so the first type present wins instead of summing.
var (
	purchaseTypes  = []string{"omni_purchase", "purchase", "offsite_conversion.fb_pixel_purchase"}
	addToCartTypes = []string{"omni_add_to_cart", "add_to_cart", "offsite_conversion.fb_pixel_add_to_cart"}
)

// Client is safe for concurrent use.
type Client struct {
	httpClient *http.Client
	baseURL    string
	version    string
	maxPages   int
	logger     *slog.Logger
	metrics    *telemetry.Metrics
	backoff    provider.Backoff
}

// New creates a Client for graphURL (e.g. https://graph.facebook.com) and an
// API version such as v19.0.
func New(httpClient *http.Client, graphURL, version string, maxPages int, logger *slog.Logger, metrics *telemetry.Metrics) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	return &Client{
		httpClient: httpClient,
		baseURL:    strings.TrimSuffix(graphURL, "/"),
		version:    version,
		maxPages:   maxPages,
		logger:     logger,
		metrics:    metrics,
		backoff:    provider.DefaultBackoff,
	}
}

// AdAccounts lists the ad accounts the token can read.
func (c *Client) AdAccounts(ctx context.Context, token string) (provider.Collected[AdAccount], error) {
	api := c.api(ctx, token)
	q := url.Values{
		"fields": {"account_id,name,currency,account_status"},
		"limit":  {strconv.Itoa(defaultPageLimit)},
	}
	return provider.Paginate(ctx, c.maxPages, func(ctx context.Context, cursor string) (provider.Page[AdAccount], error) {
		var resp adAccountsResponse
		if _, err := api.GetJSON(ctx, c.endpoint("me/adaccounts", q, cursor), nil, c.classify, &resp); err != nil {
			return provider.Page[AdAccount]{}, fmt.Errorf("facebook: listing ad accounts: %w", err)
		}
		page := provider.Page[AdAccount]{Next: resp.Paging.nextCursor()}
		for _, a := range resp.Data {
			page.Items = append(page.Items, AdAccount{
				ID:       StripAccountPrefix(a.AccountID),
				Name:     a.Name,
				Currency: strings.ToUpper(a.Currency),
				Status:   a.AccountStatus,
			})
		}
		return page, nil
	})
}

// Insights returns one row per campaign per day within r.
func (c *Client) Insights(ctx context.Context, token, accountID string, r provider.Range) (provider.Collected[Insight], error) {
	api := c.api(ctx, token)
	timeRange, _ := json.Marshal(map[string]string{
		"since": r.From.Format(model.DateLayout),
		"until": r.To.Format(model.DateLayout),
	})
	q := url.Values{
		"level":          {"campaign"},
		"time_increment": {"1"},
		"time_range":     {string(timeRange)},
		"fields":         {"account_id,account_currency,campaign_id,campaign_name,spend,clicks,cpc,actions,action_values,date_start"},
		"limit":          {strconv.Itoa(insightsPageLimit)},
	}
	path := "act_" + StripAccountPrefix(accountID) + "/insights"

	return provider.Paginate(ctx, c.maxPages, func(ctx context.Context, cursor string) (provider.Page[Insight], error) {
		var resp insightsResponse
		if _, err := api.GetJSON(ctx, c.endpoint(path, q, cursor), nil, c.classify, &resp); err != nil {
			return provider.Page[Insight]{}, fmt.Errorf("facebook: fetching insights for %s: %w", accountID, err)
		}
		page := provider.Page[Insight]{Next: resp.Paging.nextCursor()}
		for _, row := range resp.Data {
			date, err := time.Parse(model.DateLayout, row.DateStart)
			if err != nil {
				c.logger.Warn("skipping insight row with bad date",
					slog.String("campaign_id", row.CampaignID),
					slog.String("date_start", row.DateStart),
				)
				continue
			}
			account := StripAccountPrefix(row.AccountID)
			if account == "" {
				account = StripAccountPrefix(accountID)
			}
			page.Items = append(page.Items, Insight{
				AccountID:     account,
				CampaignID:    row.CampaignID,
				CampaignName:  row.CampaignName,
				Date:          date,
				Currency:      strings.ToUpper(row.AccountCurrency),
				Spend:         float64(row.Spend),
				Clicks:        int(row.Clicks),
				CPC:           float64(row.CPC),
				AddToCart:     int(firstAction(row.Actions, addToCartTypes)),
				Purchases:     int(firstAction(row.Actions, purchaseTypes)),
				PurchaseValue: firstAction(row.ActionValues, purchaseTypes),
			})
		}
		return page, nil
	})
}

// Campaigns lists the campaigns of an ad account.
func (c *Client) Campaigns(ctx context.Context, token, accountID string) (provider.Collected[Campaign], error) {
	api := c.api(ctx, token)
	q := url.Values{
		"fields": {"id,name,status,effective_status"},
		"limit":  {strconv.Itoa(defaultPageLimit)},
	}
	account := StripAccountPrefix(accountID)
	path := "act_" + account + "/campaigns"

	return provider.Paginate(ctx, c.maxPages, func(ctx context.Context, cursor string) (provider.Page[Campaign], error) {
		var resp campaignsResponse
		if _, err := api.GetJSON(ctx, c.endpoint(path, q, cursor), nil, c.classify, &resp); err != nil {
			return provider.Page[Campaign]{}, fmt.Errorf("facebook: listing campaigns for %s: %w", accountID, err)
		}
		page := provider.Page[Campaign]{Next: resp.Paging.nextCursor()}
		for _, cp := range resp.Data {
			status := cp.EffectiveStatus
			if status == "" {
				status = cp.Status
			}
			page.Items = append(page.Items, Campaign{ID: cp.ID, Name: cp.Name, Status: status, AccountID: account})
		}
		return page, nil
	})
}

// CampaignImage returns the creative image of the campaign's first ad, or ""
// when it has none.
func (c *Client) CampaignImage(ctx context.Context, token, campaignID string) (string, error) {
	q := url.Values{
		"fields": {"creative{image_url,thumbnail_url}"},
		"limit":  {"1"},
	}
	var resp adsResponse
	if _, err := c.api(ctx, token).GetJSON(ctx, c.endpoint(campaignID+"/ads", q, ""), nil, c.classify, &resp); err != nil {
		return "", fmt.Errorf("facebook: fetching creative for campaign %s: %w", campaignID, err)
	}
	if len(resp.Data) == 0 {
		return "", nil
	}
	cr := resp.Data[0].Creative
	if cr.ImageURL != "" {
		return cr.ImageURL, nil
	}
	return cr.ThumbnailURL, nil
}

// StripAccountPrefix removes a leading "act_".
func StripAccountPrefix(id string) string {
	return strings.TrimPrefix(strings.TrimSpace(id), "act_")
}

// api binds token to an oauth2 transport layered over the shared client.
func (c *Client) api(ctx context.Context, token string) *provider.Client {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
	httpClient := oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{
		AccessToken: token,
		TokenType:   "Bearer",
	}))
	httpClient.Timeout = c.httpClient.Timeout
	return &provider.Client{
		HTTP:     httpClient,
		Provider: providerName,
		Backoff:  c.backoff,
		Logger:   c.logger,
		Metrics:  c.metrics,
	}
}

func (c *Client) endpoint(path string, q url.Values, cursor string) string {
	v := url.Values{}
	for k, vals := range q {
		v[k] = vals
	}
	if cursor != "" {
		v.Set("after", cursor)
	}
	u := fmt.Sprintf("%s/%s/%s", c.baseURL, c.version, strings.TrimPrefix(path, "/"))
	if len(v) > 0 {
		u += "?" + v.Encode()
	}
	return u
}

// classify maps Graph error payloads onto the shared error kinds.
func (c *Client) classify(resp *http.Response, body []byte) error {
	var ge graphError
	if json.Unmarshal(body, &ge) != nil || ge.Error.Code == 0 {
		return nil
	}
	e := ge.Error
	switch {
	case rateLimitCodes[e.Code] || e.ErrorSubcode == subcodeAccountCap:
		return apperror.RateLimited(providerName, retryAfter(resp.Header))
	case e.Code == codeInvalidToken || e.Code == codePermission || e.Code == codeAppNoAccess:
		return apperror.Unauthorized("facebook: " + e.Message)
	}
	return nil
}

// retryAfter reads the longest estimated_time_to_regain_access (minutes)
// from the business use case usage header.
func retryAfter(h http.Header) time.Duration {
	longest := 0
	for _, usages := range decodeUsage(h.Get("X-Business-Use-Case-Usage")) {
		for _, u := range usages {
			longest = max(longest, u.EstimatedTimeToRegainAccess)
		}
	}
	if longest <= 0 {
		return defaultRetryAfter
	}
	return time.Duration(longest) * time.Minute
}

func firstAction(stats []actionStat, types []string) float64 {
	for _, t := range types {
		for _, s := range stats {
			if s.ActionType == t {
				return float64(s.Value)
			}
		}
	}
	return 0
}
