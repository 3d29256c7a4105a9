package model

import "time"

// Product is a catalogue entry synced from Shopify.
// Unique on (UserID, IntegrationID, ExternalID).
//
// CostPrice is a pointer because "unknown" and "zero" mean the same thing to
// the sync (both may be overwritten) but must be distinguishable in JSON.
type Product struct {
	ID            string     `json:"id"`
	UserID        string     `json:"userId"`
	IntegrationID string     `json:"integrationId"`
	ExternalID    string     `json:"externalId"`
	Name          string     `json:"name"`
	SKU           string     `json:"sku"`
	SellingPrice  float64    `json:"sellingPrice"`
	CostPrice     *float64   `json:"costPrice"`
	ProfitMargin  float64    `json:"profitMargin"` // percent of selling price
	QuantitySold  int        `json:"quantitySold"`
	TotalRevenue  float64    `json:"totalRevenue"`
	LastSoldAt    *time.Time `json:"lastSoldAt"`
	CreatedAt     time.Time  `json:"createdAt"`
	UpdatedAt     time.Time  `json:"updatedAt"`
}

// HasManualCost reports whether the stored cost price must survive a sync.
func (p *Product) HasManualCost() bool {
	return p.CostPrice != nil && *p.CostPrice != 0
}

// Cost returns the cost price, or 0 when unset.
func (p *Product) Cost() float64 {
	if p.CostPrice == nil {
		return 0
	}
	return *p.CostPrice
}
