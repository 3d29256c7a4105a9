package model

import "time"

// ProfitSheetEntry holds manual adjustments for one store/ad-account day.
// Unique on (UserID, IntegrationID, AdAccountID, Date).
type ProfitSheetEntry struct {
	ID            string    `json:"id"`
	UserID        string    `json:"userId"`
	IntegrationID string    `json:"integrationId"`
	AdAccountID   string    `json:"adAccountId"`
	Date          time.Time `json:"date"`
	OtherExpenses float64   `json:"otherExpenses"`
	ManualRefunds float64   `json:"manualRefunds"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// StoreDailyTotals are the Shopify-derived totals for one store day, in EUR.
// Unique on (UserID, IntegrationID, Date).
type StoreDailyTotals struct {
	UserID        string    `json:"userId"`
	IntegrationID string    `json:"integrationId"`
	Date          time.Time `json:"date"`
	Orders        int       `json:"orders"`
	UnitsSold     int       `json:"unitsSold"`
	Revenue       float64   `json:"revenue"`
	Refunds       float64   `json:"refunds"`
	COG           float64   `json:"cog"`
}

// ProfitSheetRow is one computed day of the profit sheet report.
type ProfitSheetRow struct {
	Date           string  `json:"date"`
	Revenue        float64 `json:"revenue"`
	COG            float64 `json:"cog"`
	AdSpend        float64 `json:"adSpend"`
	OtherExpenses  float64 `json:"otherExpenses"`
	ProviderRefund float64 `json:"providerRefunds"`
	ManualRefunds  float64 `json:"manualRefunds"`
	TotalRefunds   float64 `json:"totalRefunds"`
	TransactionFee float64 `json:"transactionFee"`
	Profit         float64 `json:"profit"`
}
