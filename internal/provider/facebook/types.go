package facebook

import (
	"bytes"
	"encoding/json"
	"strconv"
	"time"
)

// AdAccount is an ad account visible to the token.
type AdAccount struct {
	ID       string // numeric id without the "act_" prefix
	Name     string
	Currency string
	Status   int
}

// Insight is one campaign-day of delivery. Money is in the account currency.
type Insight struct {
	AccountID     string
	CampaignID    string
	CampaignName  string
	Date          time.Time
	Currency      string
	Spend         float64
	Clicks        int
	CPC           float64
	AddToCart     int
	Purchases     int
	PurchaseValue float64
}

// Campaign is a catalogue entry of an ad account.
type Campaign struct {
	ID        string
	Name      string
	Status    string
	AccountID string
}

// Graph API numbers arrive as JSON strings most of the time and as numbers
// some of the time.
type number float64

func (n *number) UnmarshalJSON(b []byte) error {
	b = bytes.Trim(b, `"`)
	if len(b) == 0 || string(b) == "null" {
		*n = 0
		return nil
	}
	f, err := strconv.ParseFloat(string(b), 64)
	if err != nil {
		return err
	}
	*n = number(f)
	return nil
}

type paging struct {
	Cursors struct {
		After string `json:"after"`
	} `json:"cursors"`
	Next string `json:"next"`
}

// nextCursor is the after cursor, but only when Graph says more pages exist.
func (p paging) nextCursor() string {
	if p.Next == "" {
		return ""
	}
	return p.Cursors.After
}

type adAccountsResponse struct {
	Data []struct {
		AccountID     string `json:"account_id"`
		Name          string `json:"name"`
		Currency      string `json:"currency"`
		AccountStatus int    `json:"account_status"`
	} `json:"data"`
	Paging paging `json:"paging"`
}

type actionStat struct {
	ActionType string `json:"action_type"`
	Value      number `json:"value"`
}

type insightsResponse struct {
	Data []struct {
		AccountID       string       `json:"account_id"`
		AccountCurrency string       `json:"account_currency"`
		CampaignID      string       `json:"campaign_id"`
		CampaignName    string       `json:"campaign_name"`
		DateStart       string       `json:"date_start"`
		Spend           number       `json:"spend"`
		Clicks          number       `json:"clicks"`
		CPC             number       `json:"cpc"`
		Actions         []actionStat `json:"actions"`
		ActionValues    []actionStat `json:"action_values"`
	} `json:"data"`
	Paging paging `json:"paging"`
}

type campaignsResponse struct {
	Data []struct {
		ID              string `json:"id"`
		Name            string `json:"name"`
		Status          string `json:"status"`
		EffectiveStatus string `json:"effective_status"`
	} `json:"data"`
	Paging paging `json:"paging"`
}

type adsResponse struct {
	Data []struct {
		Creative struct {
			ImageURL     string `json:"image_url"`
			ThumbnailURL string `json:"thumbnail_url"`
		} `json:"creative"`
	} `json:"data"`
}

type graphError struct {
	Error struct {
		Message      string `json:"message"`
		Type         string `json:"type"`
		Code         int    `json:"code"`
		ErrorSubcode int    `json:"error_subcode"`
	} `json:"error"`
}

// businessUseCaseUsage is the X-Business-Use-Case-Usage header payload,
// keyed by business id.
type businessUseCaseUsage map[string][]struct {
	Type                        string `json:"type"`
	EstimatedTimeToRegainAccess int    `json:"estimated_time_to_regain_access"` // minutes
}

func decodeUsage(h string) businessUseCaseUsage {
	var u businessUseCaseUsage
	if h == "" || json.Unmarshal([]byte(h), &u) != nil {
		return nil
	}
	return u
}
