package shopify

import "time"

// Shop is the store profile.
type Shop struct {
	Name     string
	Domain   string // myshopify domain
	Currency string
}

// Order is a normalised Shopify order. Amounts are in the order currency.
type Order struct {
	ID        string
	Name      string
	CreatedAt time.Time
	Currency  string
	Total     float64
	Refunded  float64
	Cancelled bool
	LineItems []LineItem
}

// LineItem is one product line of an order.
type LineItem struct {
	ProductID string
	Title     string
	SKU       string
	Quantity  int
	Price     float64 // per unit
}

// Product is a normalised catalogue product. Price, SKU and cost come from
// its first variant.
type Product struct {
	ID              string
	Title           string
	SKU             string
	Price           float64
	InventoryItemID string
}

// Wire schemas. Shopify REST sends money as decimal strings and ids as
// integers.

type shopResponse struct {
	Shop struct {
		Name            string `json:"name"`
		Domain          string `json:"domain"`
		MyshopifyDomain string `json:"myshopify_domain"`
		Currency        string `json:"currency"`
	} `json:"shop"`
}

type ordersResponse struct {
	Orders []struct {
		ID          int64   `json:"id"`
		Name        string  `json:"name"`
		CreatedAt   string  `json:"created_at"`
		Currency    string  `json:"currency"`
		TotalPrice  string  `json:"total_price"`
		CancelledAt *string `json:"cancelled_at"`
		LineItems   []struct {
			ProductID *int64 `json:"product_id"`
			Title     string `json:"title"`
			SKU       string `json:"sku"`
			Quantity  int    `json:"quantity"`
			Price     string `json:"price"`
		} `json:"line_items"`
		Refunds []struct {
			Transactions []struct {
				Kind   string `json:"kind"`
				Status string `json:"status"`
				Amount string `json:"amount"`
			} `json:"transactions"`
		} `json:"refunds"`
	} `json:"orders"`
}

type productsResponse struct {
	Products []struct {
		ID       int64  `json:"id"`
		Title    string `json:"title"`
		Variants []struct {
			SKU             string `json:"sku"`
			Price           string `json:"price"`
			InventoryItemID int64  `json:"inventory_item_id"`
		} `json:"variants"`
	} `json:"products"`
}

type inventoryItemsResponse struct {
	InventoryItems []struct {
		ID   int64   `json:"id"`
		Cost *string `json:"cost"`
	} `json:"inventory_items"`
}
