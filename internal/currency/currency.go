// Package currency converts provider amounts into EUR.
//
// A Loader fetches live rates at most once per sync run and hands back an
// immutable Normalizer snapshot. Any failure on the way (network, bad status,
// malformed payload, missing EUR leg) falls back to the static table, so
// conversion itself never fails.
package currency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/sakif/adprofit/internal/cache"
	"github.com/sakif/adprofit/internal/telemetry"
)

// Snapshot sources.
const (
	SourceLive   = "live"
	SourceCache  = "cache"
	SourceStatic = "static"
)

const (
	cacheKey     = "fx:eur-per-unit"
	resultDigits = 4
)

// Normalizer converts amounts with one fixed set of rates.
// It is safe for concurrent use.
type Normalizer struct {
	rates   map[string]float64 // EUR per unit, upper-case codes
	source  string
	logger  *slog.Logger
	metrics *telemetry.Metrics

	mu     sync.Mutex
	warned map[string]bool
}

// NewNormalizer builds a snapshot over rates (EUR per unit of each code).
func NewNormalizer(rates map[string]float64, source string, logger *slog.Logger, metrics *telemetry.Metrics) *Normalizer {
	norm := make(map[string]float64, len(rates)+1)
	for code, r := range rates {
		if r > 0 && !math.IsInf(r, 0) {
			norm[strings.ToUpper(code)] = r
		}
	}
	norm[Reporting] = 1
	return &Normalizer{
		rates:   norm,
		source:  source,
		logger:  logger,
		metrics: metrics,
		warned:  make(map[string]bool),
	}
}

// Source reports where the snapshot's rates came from.
func (n *Normalizer) Source() string { return n.source }

// Rate returns EUR per unit of code and whether code is known.
func (n *Normalizer) Rate(code string) (float64, bool) {
	r, ok := n.rates[strings.ToUpper(strings.TrimSpace(code))]
	return r, ok
}

// ToReporting converts amount from code into EUR, rounded to 4 decimals.
//
// Unknown codes convert 1:1 and are logged once per code per snapshot.
// Non-finite amounts convert to 0.
func (n *Normalizer) ToReporting(amount float64, code string) float64 {
	if math.IsNaN(amount) || math.IsInf(amount, 0) {
		n.logger.Warn("non-finite amount replaced with 0",
			slog.String("currency", code),
		)
		n.metrics.Clamped("fx_amount")
		return 0
	}

	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		code = Reporting
	}
	rate, ok := n.rates[code]
	if !ok {
		rate = 1
		n.warnUnknown(code)
	}

	out, _ := decimal.NewFromFloat(amount).
		Mul(decimal.NewFromFloat(rate)).
		Round(resultDigits).
		Float64()
	return out
}

func (n *Normalizer) warnUnknown(code string) {
	n.metrics.UnknownCurrency(code)
	n.mu.Lock()
	seen := n.warned[code]
	n.warned[code] = true
	n.mu.Unlock()
	if !seen {
		n.logger.Warn("unknown currency, converting 1:1 to EUR",
			slog.String("currency", code),
			slog.String("fx_source", n.source),
		)
	}
}

// Loader produces Normalizer snapshots from a live feed with caching.
type Loader struct {
	client  *http.Client
	url     string
	cache   cache.Cache
	ttl     time.Duration
	logger  *slog.Logger
	metrics *telemetry.Metrics
}

// NewLoader creates a Loader. An empty url disables the live feed; a nil
// cache disables caching.
func NewLoader(client *http.Client, url string, c cache.Cache, ttl time.Duration, logger *slog.Logger, metrics *telemetry.Metrics) *Loader {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &Loader{client: client, url: url, cache: c, ttl: ttl, logger: logger, metrics: metrics}
}

// Load returns a snapshot. It never fails.
func (l *Loader) Load(ctx context.Context) *Normalizer {
	if l.cache != nil {
		if b, err := l.cache.Get(ctx, cacheKey); err == nil {
			var rates map[string]float64
			if json.Unmarshal(b, &rates) == nil && len(rates) > 0 {
				l.metrics.FXLoaded(SourceCache)
				return NewNormalizer(rates, SourceCache, l.logger, l.metrics)
			}
		} else if !errors.Is(err, cache.ErrMiss) {
			l.logger.Warn("fx cache read failed", slog.String("error", err.Error()))
		}
	}

	if l.url != "" {
		rates, err := l.fetch(ctx)
		if err == nil {
			if l.cache != nil {
				if b, mErr := json.Marshal(rates); mErr == nil {
					if err := l.cache.Set(ctx, cacheKey, b, l.ttl); err != nil {
						l.logger.Warn("fx cache write failed", slog.String("error", err.Error()))
					}
				}
			}
			l.metrics.FXLoaded(SourceLive)
			return NewNormalizer(rates, SourceLive, l.logger, l.metrics)
		}
		l.logger.Warn("live fx rates unavailable, using static table",
			slog.String("error", err.Error()),
		)
	}

	l.metrics.FXLoaded(SourceStatic)
	return NewNormalizer(StaticRates(), SourceStatic, l.logger, l.metrics)
}

// feed covers the common open FX payload shapes: rates are quoted as units
// of each currency per one unit of the base.
type feed struct {
	Result   string             `json:"result"`
	Success  *bool              `json:"success"`
	Base     string             `json:"base"`
	BaseCode string             `json:"base_code"`
	Rates    map[string]float64 `json:"rates"`
}

func (l *Loader) fetch(ctx context.Context) (map[string]float64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.url, nil)
	if err != nil {
		return nil, fmt.Errorf("currency: building request: %w", err)
	}
	resp, err := l.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("currency: fetching rates: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("currency: rate feed returned %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}

	var f feed
	if err := json.NewDecoder(resp.Body).Decode(&f); err != nil {
		return nil, fmt.Errorf("currency: decoding rates: %w", err)
	}
	if (f.Result != "" && f.Result != "success") || (f.Success != nil && !*f.Success) {
		return nil, fmt.Errorf("currency: rate feed reported failure")
	}
	return toEURPerUnit(f)
}

// toEURPerUnit turns base-quoted rates into EUR per one unit of each code.
// For a EUR-based feed this is a plain inversion.
func toEURPerUnit(f feed) (map[string]float64, error) {
	base := strings.ToUpper(f.BaseCode)
	if base == "" {
		base = strings.ToUpper(f.Base)
	}
	if base == "" {
		return nil, errors.New("currency: rate feed has no base currency")
	}

	quotes := make(map[string]float64, len(f.Rates)+1)
	for code, r := range f.Rates {
		quotes[strings.ToUpper(code)] = r
	}
	quotes[base] = 1

	eurPerBase, ok := quotes[Reporting]
	if !ok || !(eurPerBase > 0) {
		return nil, fmt.Errorf("currency: rate feed based on %s has no EUR quote", base)
	}

	out := make(map[string]float64, len(quotes))
	for code, perBase := range quotes {
		if !(perBase > 0) || math.IsInf(perBase, 0) {
			continue
		}
		out[code] = eurPerBase / perBase
	}
	if len(out) < 2 {
		return nil, errors.New("currency: rate feed has no usable rates")
	}
	return out, nil
}
