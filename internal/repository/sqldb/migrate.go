package sqldb

import (
	"fmt"
	"strings"
)

// schema uses {{TS}} and {{REAL}} for the column types that differ between
// engines. Every statement is idempotent.
var schema = []struct {
	name string
	sql  string
}{
	{"integrations", `
		CREATE TABLE IF NOT EXISTS integrations (
			id           TEXT PRIMARY KEY,
			user_id      TEXT NOT NULL,
			provider     TEXT NOT NULL,
			access_token TEXT NOT NULL,
			expires_at   {{TS}},
			metadata     TEXT NOT NULL DEFAULT '{}',
			disabled_at  {{TS}},
			created_at   {{TS}} NOT NULL,
			updated_at   {{TS}} NOT NULL
		)`},
	{"integrations user index", `
		CREATE INDEX IF NOT EXISTS idx_integrations_user ON integrations(user_id, provider)`},
	{"products", `
		CREATE TABLE IF NOT EXISTS products (
			id             TEXT PRIMARY KEY,
			user_id        TEXT NOT NULL,
			integration_id TEXT NOT NULL REFERENCES integrations(id),
			external_id    TEXT NOT NULL,
			name           TEXT NOT NULL DEFAULT '',
			sku            TEXT NOT NULL DEFAULT '',
			selling_price  {{REAL}} NOT NULL DEFAULT 0,
			cost_price     {{REAL}},
			profit_margin  {{REAL}} NOT NULL DEFAULT 0,
			quantity_sold  INTEGER NOT NULL DEFAULT 0,
			total_revenue  {{REAL}} NOT NULL DEFAULT 0,
			last_sold_at   {{TS}},
			created_at     {{TS}} NOT NULL,
			updated_at     {{TS}} NOT NULL,
			UNIQUE (user_id, integration_id, external_id)
		)`},
	{"daily_campaign_records", `
		CREATE TABLE IF NOT EXISTS daily_campaign_records (
			id              TEXT PRIMARY KEY,
			user_id         TEXT NOT NULL,
			campaign_id     TEXT NOT NULL,
			campaign_name   TEXT NOT NULL DEFAULT '',
			ad_account_id   TEXT NOT NULL DEFAULT '',
			date            TEXT NOT NULL,
			total_spend     {{REAL}} NOT NULL DEFAULT 0,
			clicks          INTEGER NOT NULL DEFAULT 0,
			cpc             {{REAL}} NOT NULL DEFAULT 0,
			add_to_cart     INTEGER NOT NULL DEFAULT 0,
			purchases       INTEGER NOT NULL DEFAULT 0,
			product_id      TEXT,
			product_price   {{REAL}} NOT NULL DEFAULT 0,
			cog             {{REAL}} NOT NULL DEFAULT 0,
			units_sold      INTEGER NOT NULL DEFAULT 0,
			roas            {{REAL}} NOT NULL DEFAULT 0,
			margin_eur      {{REAL}} NOT NULL DEFAULT 0,
			margin_pct      {{REAL}} NOT NULL DEFAULT 0,
			decision        TEXT,
			decision_reason TEXT NOT NULL DEFAULT '',
			created_at      {{TS}} NOT NULL,
			updated_at      {{TS}} NOT NULL,
			UNIQUE (user_id, campaign_id, date)
		)`},
	{"records account index", `
		CREATE INDEX IF NOT EXISTS idx_records_account_date ON daily_campaign_records(user_id, ad_account_id, date)`},
	{"campaigns", `
		CREATE TABLE IF NOT EXISTS campaigns (
			user_id       TEXT NOT NULL,
			campaign_id   TEXT NOT NULL,
			ad_account_id TEXT NOT NULL DEFAULT '',
			name          TEXT NOT NULL DEFAULT '',
			status        TEXT NOT NULL DEFAULT '',
			image_url     TEXT NOT NULL DEFAULT '',
			updated_at    {{TS}} NOT NULL,
			PRIMARY KEY (user_id, campaign_id)
		)`},
	{"profit_sheet_entries", `
		CREATE TABLE IF NOT EXISTS profit_sheet_entries (
			id             TEXT PRIMARY KEY,
			user_id        TEXT NOT NULL,
			integration_id TEXT NOT NULL,
			ad_account_id  TEXT NOT NULL DEFAULT '',
			date           TEXT NOT NULL,
			other_expenses {{REAL}} NOT NULL DEFAULT 0,
			manual_refunds {{REAL}} NOT NULL DEFAULT 0,
			created_at     {{TS}} NOT NULL,
			updated_at     {{TS}} NOT NULL,
			UNIQUE (user_id, integration_id, ad_account_id, date)
		)`},
	{"store_daily_totals", `
		CREATE TABLE IF NOT EXISTS store_daily_totals (
			user_id        TEXT NOT NULL,
			integration_id TEXT NOT NULL,
			date           TEXT NOT NULL,
			orders         INTEGER NOT NULL DEFAULT 0,
			units_sold     INTEGER NOT NULL DEFAULT 0,
			revenue        {{REAL}} NOT NULL DEFAULT 0,
			refunds        {{REAL}} NOT NULL DEFAULT 0,
			cog            {{REAL}} NOT NULL DEFAULT 0,
			PRIMARY KEY (user_id, integration_id, date)
		)`},
}

func (db *DB) migrate() error {
	ts, real := "DATETIME", "REAL"
	if db.dialect == dialectPostgres {
		ts, real = "TIMESTAMPTZ", "DOUBLE PRECISION"
	}
	r := strings.NewReplacer("{{TS}}", ts, "{{REAL}}", real)

	for _, m := range schema {
		if _, err := db.conn.Exec(r.Replace(m.sql)); err != nil {
			return fmt.Errorf("creating %s: %w", m.name, err)
		}
	}
	return nil
}
