package shopify

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/adprofit/internal/apperror"
	"github.com/sakif/adprofit/internal/provider"
)

func newTestClient(t *testing.T, h http.HandlerFunc, maxPages int) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c := New(srv.Client(), "2024-01", maxPages, slog.New(slog.NewTextHandler(io.Discard, nil)), nil)
	c.BaseURL = srv.URL
	c.api.Backoff = provider.Backoff{Attempts: 2, Base: time.Millisecond}
	return c
}

var march = provider.Range{
	From: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
	To:   time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC),
}

func TestNormalizeShopDomain(t *testing.T) {
	tests := []struct {
		in, want string
		wantErr  bool
	}{
		{in: "mycoolshop", want: "mycoolshop.myshopify.com"},
		{in: "https://MyCoolShop.myshopify.com/", want: "mycoolshop.myshopify.com"},
		{in: "shop.example.com", wantErr: true},
		{in: "bad shop", wantErr: true},
		{in: "", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := NormalizeShopDomain(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, apperror.ErrValidation)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNextPageInfo(t *testing.T) {
	link := `<https://s.myshopify.com/admin/api/2024-01/orders.json?limit=250&page_info=prev1>; rel="previous", ` +
		`<https://s.myshopify.com/admin/api/2024-01/orders.json?limit=250&page_info=next2>; rel="next"`
	assert.Equal(t, "next2", NextPageInfo(link))
	assert.Equal(t, "", NextPageInfo(`<https://x/orders.json?page_info=p>; rel="previous"`))
	assert.Equal(t, "", NextPageInfo(""))
}

func TestShop(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/admin/api/2024-01/shop.json", r.URL.Path)
		assert.Equal(t, "tok", r.Header.Get("X-Shopify-Access-Token"))
		io.WriteString(w, `{"shop":{"name":"My Cool Shop","myshopify_domain":"mycoolshop.myshopify.com","currency":"usd"}}`)
	}, 10)

	shop, err := c.Shop(context.Background(), "mycoolshop.myshopify.com", "tok")
	require.NoError(t, err)
	assert.Equal(t, Shop{Name: "My Cool Shop", Domain: "mycoolshop.myshopify.com", Currency: "USD"}, shop)
}

func TestOrders_FollowsLinkHeader(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "250", q.Get("limit"))
		switch q.Get("page_info") {
		case "":
			assert.Equal(t, "any", q.Get("status"))
			assert.Equal(t, "2024-03-01T00:00:00Z", q.Get("created_at_min"))
			assert.Equal(t, "2024-03-02T23:59:59Z", q.Get("created_at_max"))
			w.Header().Set("Link", fmt.Sprintf(`<%s/admin/api/2024-01/orders.json?limit=250&page_info=p2>; rel="next"`, "http://"+r.Host))
			io.WriteString(w, `{"orders":[{"id":1,"name":"#1001","created_at":"2024-03-01T10:00:00-05:00","currency":"USD","total_price":"40.00",
				"line_items":[{"product_id":11,"title":"Mug","quantity":2,"price":"20.00"},{"product_id":null,"title":"Tip","quantity":1,"price":"1.00"}],
				"refunds":[{"transactions":[{"kind":"refund","status":"success","amount":"5.50"},{"kind":"refund","status":"failure","amount":"9.00"}]}]}]}`)
		case "p2":
			assert.Empty(t, q.Get("status"), "page_info requests carry no filters")
			io.WriteString(w, `{"orders":[{"id":2,"name":"#1002","created_at":"2024-03-02T08:00:00Z","currency":"usd","total_price":"20.00","cancelled_at":"2024-03-02T09:00:00Z","line_items":[]}]}`)
		default:
			t.Errorf("unexpected cursor %q", q.Get("page_info"))
		}
	}, 10)

	got, err := c.Orders(context.Background(), "s.myshopify.com", "tok", march)
	require.NoError(t, err)
	require.Len(t, got.Items, 2)
	assert.Equal(t, 2, got.Pages)
	assert.False(t, got.Truncated)

	o := got.Items[0]
	assert.Equal(t, "1", o.ID)
	assert.Equal(t, 40.0, o.Total)
	assert.Equal(t, 5.5, o.Refunded)
	assert.Equal(t, []LineItem{{ProductID: "11", Title: "Mug", Quantity: 2, Price: 20}}, o.LineItems)
	assert.True(t, o.CreatedAt.Equal(time.Date(2024, 3, 1, 15, 0, 0, 0, time.UTC)))
	assert.True(t, got.Items[1].Cancelled)
	assert.Equal(t, "USD", got.Items[1].Currency)
}

func TestOrders_PageCap(t *testing.T) {
	calls := 0
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Link", fmt.Sprintf(`<http://%s/x?page_info=p%d>; rel="next"`, r.Host, calls))
		io.WriteString(w, `{"orders":[]}`)
	}, 3)

	got, err := c.Orders(context.Background(), "s.myshopify.com", "tok", march)
	require.NoError(t, err)
	assert.True(t, got.Truncated)
	assert.Equal(t, 3, calls)
}

func TestOrders_RateLimited(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "4")
		w.WriteHeader(http.StatusTooManyRequests)
	}, 10)

	_, err := c.Orders(context.Background(), "s.myshopify.com", "tok", march)
	ra, ok := apperror.RetryAfter(err)
	require.True(t, ok)
	assert.Equal(t, 4*time.Second, ra)
}

func TestProductsAndUnitCosts(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/admin/api/2024-01/products.json":
			io.WriteString(w, `{"products":[
				{"id":11,"title":"Mug","variants":[{"sku":"MUG-1","price":"20.00","inventory_item_id":901}]},
				{"id":12,"title":"Gift Card","variants":[]}]}`)
		case "/admin/api/2024-01/inventory_items.json":
			assert.Equal(t, "901,902", r.URL.Query().Get("ids"))
			io.WriteString(w, `{"inventory_items":[{"id":901,"cost":"6.25"},{"id":902,"cost":null}]}`)
		default:
			http.NotFound(w, r)
		}
	}, 10)

	products, err := c.Products(context.Background(), "s.myshopify.com", "tok")
	require.NoError(t, err)
	require.Len(t, products.Items, 2)
	assert.Equal(t, Product{ID: "11", Title: "Mug", SKU: "MUG-1", Price: 20, InventoryItemID: "901"}, products.Items[0])
	assert.Equal(t, "", products.Items[1].InventoryItemID)

	costs, err := c.UnitCosts(context.Background(), "s.myshopify.com", "tok", []string{"901", "902"})
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{"901": 6.25}, costs)
}

func TestShop_Unauthorized(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		io.WriteString(w, `{"errors":"[API] Invalid API key or access token"}`)
	}, 10)

	_, err := c.Shop(context.Background(), "s.myshopify.com", "bad")
	assert.ErrorIs(t, err, apperror.ErrAuth)
}
