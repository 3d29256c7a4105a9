package currency

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/adprofit/internal/cache"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestToReporting_StaticTable(t *testing.T) {
	n := NewNormalizer(StaticRates(), SourceStatic, testLogger(), nil)

	tests := []struct {
		name   string
		amount float64
		code   string
		want   float64
	}{
		{"eur passthrough", 12.5, "EUR", 12.5},
		{"usd", 100, "USD", 92},
		{"lower-case code", 100, "usd", 92},
		{"padded code", 10, " gbp ", 11.7},
		{"empty code is eur", 3, "", 3},
		{"rounded to 4 decimals", 1, "HUF", 0.0025},
		{"unknown is 1:1", 50, "XYZ", 50},
		{"nan", math.NaN(), "USD", 0},
		{"inf", math.Inf(-1), "USD", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, n.ToReporting(tt.amount, tt.code), 1e-9)
		})
	}
}

func TestToReporting_RoundsResult(t *testing.T) {
	n := NewNormalizer(map[string]float64{"USD": 0.923456789}, SourceLive, testLogger(), nil)
	assert.Equal(t, 0.9235, n.ToReporting(1, "USD"))
}

func serveRates(t *testing.T, status int, body any) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(status)
		switch b := body.(type) {
		case string:
			io.WriteString(w, b)
		default:
			json.NewEncoder(w).Encode(b)
		}
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func TestLoad_LiveEURBasedFeedIsInverted(t *testing.T) {
	srv, _ := serveRates(t, http.StatusOK, map[string]any{
		"result":    "success",
		"base_code": "EUR",
		"rates":     map[string]float64{"EUR": 1, "USD": 1.25, "GBP": 0.8},
	})
	l := NewLoader(srv.Client(), srv.URL, nil, time.Hour, testLogger(), nil)

	n := l.Load(context.Background())

	assert.Equal(t, SourceLive, n.Source())
	assert.InDelta(t, 80, n.ToReporting(100, "USD"), 1e-9)
	assert.InDelta(t, 125, n.ToReporting(100, "GBP"), 1e-9)
}

func TestLoad_LiveUSDBasedFeedCrossRates(t *testing.T) {
	srv, _ := serveRates(t, http.StatusOK, map[string]any{
		"base":  "USD",
		"rates": map[string]float64{"EUR": 0.5, "GBP": 0.25},
	})
	n := NewLoader(srv.Client(), srv.URL, nil, time.Hour, testLogger(), nil).Load(context.Background())

	rate, ok := n.Rate("usd")
	require.True(t, ok)
	assert.InDelta(t, 0.5, rate, 1e-12)
	rate, _ = n.Rate("GBP")
	assert.InDelta(t, 2.0, rate, 1e-12)
}

func TestLoad_FallsBackToStatic(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   any
	}{
		{"server error", http.StatusBadGateway, "upstream down"},
		{"failure payload", http.StatusOK, map[string]any{"result": "error", "error-type": "quota"}},
		{"malformed json", http.StatusOK, "{not json"},
		{"no eur leg", http.StatusOK, map[string]any{"base": "USD", "rates": map[string]float64{"GBP": 0.8}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _ := serveRates(t, tt.status, tt.body)
			n := NewLoader(srv.Client(), srv.URL, nil, time.Hour, testLogger(), nil).Load(context.Background())

			assert.Equal(t, SourceStatic, n.Source())
			assert.InDelta(t, 92, n.ToReporting(100, "USD"), 1e-9)
		})
	}
}

func TestLoad_UnreachableFeed(t *testing.T) {
	l := NewLoader(nil, "http://127.0.0.1:1/rates", nil, time.Hour, testLogger(), nil)
	n := l.Load(context.Background())
	assert.Equal(t, SourceStatic, n.Source())
}

func TestLoad_UsesCacheAcrossRuns(t *testing.T) {
	srv, hits := serveRates(t, http.StatusOK, map[string]any{
		"base_code": "EUR",
		"rates":     map[string]float64{"USD": 2},
	})
	c := cache.NewMemory()
	l := NewLoader(srv.Client(), srv.URL, c, time.Hour, testLogger(), nil)

	first := l.Load(context.Background())
	second := l.Load(context.Background())

	assert.Equal(t, SourceLive, first.Source())
	assert.Equal(t, SourceCache, second.Source())
	assert.Equal(t, int32(1), hits.Load())
	assert.InDelta(t, 5, second.ToReporting(10, "USD"), 1e-9)
}
