// Package shopify reads shop, order, product and unit-cost data from the
// Shopify Admin REST API.
//
// Pagination follows the Link header (rel="next", page_info cursor). Once a
// page_info cursor is in play Shopify accepts only limit alongside it, so
// follow-up requests drop every other filter.
package shopify

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/sakif/adprofit/internal/apperror"
	"github.com/sakif/adprofit/internal/provider"
	"github.com/sakif/adprofit/internal/telemetry"
)

const (
	providerName = "shopify"
	pageLimit    = 250
	costBatch    = 100
)

// Client talks to one API version of the Admin API. It is safe for
// concurrent use.
type Client struct {
	api        *provider.Client
	apiVersion string
	maxPages   int

	// BaseURL replaces https://{shop} when set.
	BaseURL string
}

// New creates a Client.
func New(httpClient *http.Client, apiVersion string, maxPages int, logger *slog.Logger, metrics *telemetry.Metrics) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		api: &provider.Client{
			HTTP:     httpClient,
			Provider: providerName,
			Backoff:  provider.DefaultBackoff,
			Logger:   logger,
			Metrics:  metrics,
		},
		apiVersion: apiVersion,
		maxPages:   maxPages,
	}
}

// NormalizeShopDomain accepts "store", "store.myshopify.com" or a full URL
// and returns "store.myshopify.com".
func NormalizeShopDomain(shop string) (string, error) {
	s := strings.ToLower(strings.TrimSpace(shop))
	s = strings.TrimPrefix(s, "https://")
	s = strings.TrimPrefix(s, "http://")
	s = strings.TrimSuffix(s, "/")
	if s != "" && !strings.Contains(s, ".") {
		s += ".myshopify.com"
	}
	if !shopDomainRe.MatchString(s) {
		return "", apperror.ValidationFailed("shop_domain", "shop domain must look like your-store.myshopify.com")
	}
	return s, nil
}

var shopDomainRe = regexp.MustCompile(`^[a-z0-9][a-z0-9-]*\.myshopify\.com$`)

// Shop returns the store profile.
func (c *Client) Shop(ctx context.Context, shop, token string) (Shop, error) {
	var resp shopResponse
	if _, err := c.api.GetJSON(ctx, c.endpoint(shop, "shop.json", nil), c.header(token), nil, &resp); err != nil {
		return Shop{}, fmt.Errorf("shopify: fetching shop: %w", err)
	}
	domain := resp.Shop.MyshopifyDomain
	if domain == "" {
		domain = shop
	}
	return Shop{
		Name:     resp.Shop.Name,
		Domain:   domain,
		Currency: strings.ToUpper(resp.Shop.Currency),
	}, nil
}

// Orders returns orders created within r, newest pages first as Shopify
// serves them.
func (c *Client) Orders(ctx context.Context, shop, token string, r provider.Range) (provider.Collected[Order], error) {
	first := url.Values{
		"status":         {"any"},
		"created_at_min": {r.Since().Format(time.RFC3339)},
		"created_at_max": {r.Until().Format(time.RFC3339)},
	}
	return provider.Paginate(ctx, c.maxPages, func(ctx context.Context, cursor string) (provider.Page[Order], error) {
		var resp ordersResponse
		hdr, err := c.api.GetJSON(ctx, c.pageURL(shop, "orders.json", first, cursor), c.header(token), nil, &resp)
		if err != nil {
			return provider.Page[Order]{}, fmt.Errorf("shopify: fetching orders: %w", err)
		}

		page := provider.Page[Order]{Next: NextPageInfo(hdr.Get("Link"))}
		for _, o := range resp.Orders {
			created, err := time.Parse(time.RFC3339, o.CreatedAt)
			if err != nil {
				c.api.Logger.Warn("skipping order with unparsable created_at",
					slog.Int64("order_id", o.ID),
					slog.String("created_at", o.CreatedAt),
				)
				continue
			}
			order := Order{
				ID:        strconv.FormatInt(o.ID, 10),
				Name:      o.Name,
				CreatedAt: created,
				Currency:  strings.ToUpper(o.Currency),
				Total:     money(o.TotalPrice),
				Cancelled: o.CancelledAt != nil,
			}
			for _, li := range o.LineItems {
				if li.ProductID == nil {
					continue // custom line without a catalogue product
				}
				order.LineItems = append(order.LineItems, LineItem{
					ProductID: strconv.FormatInt(*li.ProductID, 10),
					Title:     li.Title,
					SKU:       li.SKU,
					Quantity:  li.Quantity,
					Price:     money(li.Price),
				})
			}
			for _, rf := range o.Refunds {
				for _, tx := range rf.Transactions {
					if tx.Kind == "refund" && (tx.Status == "" || tx.Status == "success") {
						order.Refunded += money(tx.Amount)
					}
				}
			}
			page.Items = append(page.Items, order)
		}
		return page, nil
	})
}

// Products returns the catalogue.
func (c *Client) Products(ctx context.Context, shop, token string) (provider.Collected[Product], error) {
	return provider.Paginate(ctx, c.maxPages, func(ctx context.Context, cursor string) (provider.Page[Product], error) {
		var resp productsResponse
		hdr, err := c.api.GetJSON(ctx, c.pageURL(shop, "products.json", nil, cursor), c.header(token), nil, &resp)
		if err != nil {
			return provider.Page[Product]{}, fmt.Errorf("shopify: fetching products: %w", err)
		}

		page := provider.Page[Product]{Next: NextPageInfo(hdr.Get("Link"))}
		for _, p := range resp.Products {
			prod := Product{ID: strconv.FormatInt(p.ID, 10), Title: p.Title}
			if len(p.Variants) > 0 {
				v := p.Variants[0]
				prod.SKU = v.SKU
				prod.Price = money(v.Price)
				if v.InventoryItemID != 0 {
					prod.InventoryItemID = strconv.FormatInt(v.InventoryItemID, 10)
				}
			}
			page.Items = append(page.Items, prod)
		}
		return page, nil
	})
}

// UnitCosts returns the supplier cost recorded on each inventory item, keyed
// by inventory item id. Items without a cost are omitted. A failed batch is
// returned as an error together with the costs gathered so far.
func (c *Client) UnitCosts(ctx context.Context, shop, token string, inventoryItemIDs []string) (map[string]float64, error) {
	costs := make(map[string]float64, len(inventoryItemIDs))
	for start := 0; start < len(inventoryItemIDs); start += costBatch {
		end := min(start+costBatch, len(inventoryItemIDs))
		q := url.Values{
			"ids":   {strings.Join(inventoryItemIDs[start:end], ",")},
			"limit": {strconv.Itoa(costBatch)},
		}
		var resp inventoryItemsResponse
		if _, err := c.api.GetJSON(ctx, c.endpoint(shop, "inventory_items.json", q), c.header(token), nil, &resp); err != nil {
			return costs, fmt.Errorf("shopify: fetching inventory costs: %w", err)
		}
		for _, it := range resp.InventoryItems {
			if it.Cost == nil || *it.Cost == "" {
				continue
			}
			costs[strconv.FormatInt(it.ID, 10)] = money(*it.Cost)
		}
	}
	return costs, nil
}

func (c *Client) header(token string) http.Header {
	return http.Header{"X-Shopify-Access-Token": {token}}
}

func (c *Client) endpoint(shop, resource string, q url.Values) string {
	base := c.BaseURL
	if base == "" {
		base = "https://" + shop
	}
	u := fmt.Sprintf("%s/admin/api/%s/%s", strings.TrimSuffix(base, "/"), c.apiVersion, resource)
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	return u
}

func (c *Client) pageURL(shop, resource string, first url.Values, cursor string) string {
	q := url.Values{"limit": {strconv.Itoa(pageLimit)}}
	if cursor != "" {
		q.Set("page_info", cursor)
		return c.endpoint(shop, resource, q)
	}
	for k, v := range first {
		q[k] = v
	}
	return c.endpoint(shop, resource, q)
}

var linkNextRe = regexp.MustCompile(`<([^>]+)>;\s*rel="?next"?`)

// NextPageInfo extracts the page_info cursor of the rel="next" link, or "".
func NextPageInfo(link string) string {
	m := linkNextRe.FindStringSubmatch(link)
	if m == nil {
		return ""
	}
	u, err := url.Parse(m[1])
	if err != nil {
		return ""
	}
	return u.Query().Get("page_info")
}

func money(s string) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0
	}
	return f
}
