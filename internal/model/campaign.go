package model

import "time"

// DateLayout is the calendar-date format used for record keys and API params.
const DateLayout = "2006-01-02"

// Decision is the lifecycle verdict for a campaign window.
type Decision string

const (
	DecisionKill     Decision = "KILL"
	DecisionMaintain Decision = "MAINTAIN"
	DecisionScale    Decision = "SCALE"
)

// Valid reports whether d is a known decision label.
func (d Decision) Valid() bool {
	switch d {
	case DecisionKill, DecisionMaintain, DecisionScale:
		return true
	}
	return false
}

// DailyCampaignRecord is the per-day aggregate for one campaign.
// Unique on (UserID, CampaignID, Date).
type DailyCampaignRecord struct {
	ID           string    `json:"id"`
	UserID       string    `json:"userId"`
	CampaignID   string    `json:"campaignId"`
	CampaignName string    `json:"campaignName"`
	AdAccountID  string    `json:"adAccountId"`
	Date         time.Time `json:"date"`
	TotalSpend   float64   `json:"totalSpend"`
	Clicks       int       `json:"clicks"`
	CPC          float64   `json:"cpc"`
	AddToCart    int       `json:"addToCart"`
	Purchases    int       `json:"purchases"`
	ProductID    *string   `json:"productId"`
	ProductPrice float64   `json:"productPrice"`
	COG          float64   `json:"cog"` // cost of goods per unit
	UnitsSold    int       `json:"unitsSold"`
	ROAS         float64   `json:"roas"`
	MarginEUR    float64   `json:"marginEur"`
	MarginPct    float64   `json:"marginPct"`
	Decision     *Decision `json:"decision"`
	Reason       string    `json:"decisionReason"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// Campaign is the catalogue entry for a Facebook campaign, filled during sync.
type Campaign struct {
	UserID      string    `json:"userId"`
	CampaignID  string    `json:"campaignId"`
	AdAccountID string    `json:"adAccountId"`
	Name        string    `json:"name"`
	Status      string    `json:"status"`
	ImageURL    string    `json:"imageUrl"`
	UpdatedAt   time.Time `json:"updatedAt"`
}
