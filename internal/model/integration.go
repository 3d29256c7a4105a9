package model

import "time"

// Provider identifies which external platform an Integration talks to.
type Provider string

const (
	ProviderShopify  Provider = "shopify"
	ProviderFacebook Provider = "facebook"
)

// Valid reports whether p is one of the supported providers.
func (p Provider) Valid() bool {
	return p == ProviderShopify || p == ProviderFacebook
}

// Integration is one connected external account owned by a user.
// AccessToken holds the vault-encrypted credential, never the plaintext.
type Integration struct {
	ID          string              `json:"id"`
	UserID      string              `json:"userId"`
	Provider    Provider            `json:"provider"`
	AccessToken string              `json:"-"`
	ExpiresAt   *time.Time          `json:"expiresAt"`
	Metadata    IntegrationMetadata `json:"metadata"`
	DisabledAt  *time.Time          `json:"disabledAt"` // soft removal
	CreatedAt   time.Time           `json:"createdAt"`
	UpdatedAt   time.Time           `json:"updatedAt"`
}

// Active reports whether the integration can be used for syncing.
func (i *Integration) Active() bool {
	return i.DisabledAt == nil
}

// IntegrationMetadata is provider-discovered information stored alongside the token.
// Shopify integrations fill the shop fields, Facebook integrations fill AdAccounts.
type IntegrationMetadata struct {
	ShopDomain string      `json:"shopDomain,omitempty"`
	ShopName   string      `json:"shopName,omitempty"`
	Currency   string      `json:"currency,omitempty"`
	AdAccounts []AdAccount `json:"adAccounts,omitempty"`
}

// AdAccount is a Facebook ad account reachable through a Facebook integration.
type AdAccount struct {
	ID       string `json:"id"` // without the "act_" prefix
	Name     string `json:"name"`
	Currency string `json:"currency"`
}
