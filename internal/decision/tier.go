package decision

import (
	"strings"

	"github.com/sakif/adprofit/internal/apperror"
)

// Tier scales the first-window thresholds by market size. All amounts are EUR.
type Tier struct {
	Name         string  `json:"name"`
	Spend1       float64 `json:"spend1"`
	Spend2       float64 `json:"spend2"`
	CPCThreshold float64 `json:"cpcThreshold"`
}

var tiers = map[string]Tier{
	"low":  {Name: "low", Spend1: 8, Spend2: 15, CPCThreshold: 0.30},
	"mid":  {Name: "mid", Spend1: 15, Spend2: 30, CPCThreshold: 0.50},
	"high": {Name: "high", Spend1: 25, Spend2: 50, CPCThreshold: 0.80},
}

// TierFor resolves a market name. An empty name resolves to fallback.
func TierFor(market, fallback string) (Tier, error) {
	name := strings.ToLower(strings.TrimSpace(market))
	if name == "" {
		name = strings.ToLower(strings.TrimSpace(fallback))
	}
	t, ok := tiers[name]
	if !ok {
		return Tier{}, apperror.ValidationFailed("market", "market must be one of low, mid, high")
	}
	return t, nil
}
