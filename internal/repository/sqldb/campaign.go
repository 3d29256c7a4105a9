package sqldb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/xid"

	"github.com/sakif/adprofit/internal/model"
	"github.com/sakif/adprofit/internal/repository"
)

const recordColumns = `id, user_id, campaign_id, campaign_name, ad_account_id, date, total_spend, clicks, cpc,
	add_to_cart, purchases, product_id, product_price, cog, units_sold, roas, margin_eur, margin_pct,
	decision, decision_reason, created_at, updated_at`

// UpsertRecord writes the fetched and derived columns of r. An existing row
// keeps its id, created_at, decision and reason.
func (db *DB) UpsertRecord(ctx context.Context, r *model.DailyCampaignRecord) (bool, error) {
	var created bool
	err := db.inTx(ctx, func(tx *sql.Tx) error {
		now := time.Now().UTC()
		day := dateKey(r.Date)

		var id string
		var createdAt time.Time
		err := db.queryRow(ctx, tx,
			`SELECT id, created_at FROM daily_campaign_records
			 WHERE user_id = ? AND campaign_id = ? AND date = ?`,
			r.UserID, r.CampaignID, day,
		).Scan(&id, &createdAt)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			created = true
			r.ID = xid.New().String()
			r.CreatedAt = now
		case err != nil:
			return fmt.Errorf("sqldb: looking up record %s/%s: %w", r.CampaignID, day, err)
		default:
			r.ID = id
			r.CreatedAt = createdAt
		}
		r.UpdatedAt = now

		var decision sql.NullString
		if r.Decision != nil {
			decision = sql.NullString{String: string(*r.Decision), Valid: true}
		}

		_, err = db.exec(ctx, tx,
			`INSERT INTO daily_campaign_records (`+recordColumns+`)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT (user_id, campaign_id, date) DO UPDATE SET
			   campaign_name = excluded.campaign_name,
			   ad_account_id = excluded.ad_account_id,
			   total_spend = excluded.total_spend,
			   clicks = excluded.clicks,
			   cpc = excluded.cpc,
			   add_to_cart = excluded.add_to_cart,
			   purchases = excluded.purchases,
			   product_id = excluded.product_id,
			   product_price = excluded.product_price,
			   cog = excluded.cog,
			   units_sold = excluded.units_sold,
			   roas = excluded.roas,
			   margin_eur = excluded.margin_eur,
			   margin_pct = excluded.margin_pct,
			   updated_at = excluded.updated_at`,
			r.ID, r.UserID, r.CampaignID, r.CampaignName, r.AdAccountID, day,
			r.TotalSpend, r.Clicks, r.CPC, r.AddToCart, r.Purchases,
			nullString(r.ProductID), r.ProductPrice, r.COG, r.UnitsSold,
			r.ROAS, r.MarginEUR, r.MarginPct, decision, r.Reason,
			r.CreatedAt, r.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("sqldb: upserting record %s/%s: %w", r.CampaignID, day, err)
		}
		return nil
	})
	return created, err
}

// ListRecords returns records ordered by campaign then date.
func (db *DB) ListRecords(ctx context.Context, userID string, f repository.RecordFilter) ([]model.DailyCampaignRecord, error) {
	q := `SELECT ` + recordColumns + ` FROM daily_campaign_records WHERE user_id = ?`
	args := []any{userID}
	if f.CampaignID != "" {
		q += ` AND campaign_id = ?`
		args = append(args, f.CampaignID)
	}
	if f.AdAccountID != "" {
		q += ` AND ad_account_id = ?`
		args = append(args, f.AdAccountID)
	}
	if !f.From.IsZero() {
		q += ` AND date >= ?`
		args = append(args, dateKey(f.From))
	}
	if !f.To.IsZero() {
		q += ` AND date <= ?`
		args = append(args, dateKey(f.To))
	}
	q += ` ORDER BY campaign_id, date`

	rows, err := db.query(ctx, db.conn, q, args...)
	if err != nil {
		return nil, fmt.Errorf("sqldb: listing records: %w", err)
	}
	defer rows.Close()

	out := []model.DailyCampaignRecord{}
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("sqldb: scanning record: %w", err)
		}
		out = append(out, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqldb: iterating records: %w", err)
	}
	return out, nil
}

func (db *DB) ListCampaignIDs(ctx context.Context, userID string) ([]string, error) {
	rows, err := db.query(ctx, db.conn,
		`SELECT DISTINCT campaign_id FROM daily_campaign_records WHERE user_id = ? ORDER BY campaign_id`,
		userID)
	if err != nil {
		return nil, fmt.Errorf("sqldb: listing campaign ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("sqldb: scanning campaign id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (db *DB) UpdateRecordMetrics(ctx context.Context, records []model.DailyCampaignRecord) error {
	if len(records) == 0 {
		return nil
	}
	now := time.Now().UTC()
	return db.inTx(ctx, func(tx *sql.Tx) error {
		for _, r := range records {
			_, err := db.exec(ctx, tx,
				`UPDATE daily_campaign_records SET
				   product_id = ?, product_price = ?, cog = ?, units_sold = ?,
				   roas = ?, margin_eur = ?, margin_pct = ?, updated_at = ?
				 WHERE user_id = ? AND campaign_id = ? AND date = ?`,
				nullString(r.ProductID), r.ProductPrice, r.COG, r.UnitsSold,
				r.ROAS, r.MarginEUR, r.MarginPct, now,
				r.UserID, r.CampaignID, dateKey(r.Date),
			)
			if err != nil {
				return fmt.Errorf("sqldb: updating metrics of %s/%s: %w", r.CampaignID, dateKey(r.Date), err)
			}
		}
		return nil
	})
}

func (db *DB) SaveDecisions(ctx context.Context, records []model.DailyCampaignRecord) error {
	if len(records) == 0 {
		return nil
	}
	now := time.Now().UTC()
	return db.inTx(ctx, func(tx *sql.Tx) error {
		for _, r := range records {
			var decision sql.NullString
			if r.Decision != nil {
				decision = sql.NullString{String: string(*r.Decision), Valid: true}
			}
			_, err := db.exec(ctx, tx,
				`UPDATE daily_campaign_records SET decision = ?, decision_reason = ?, updated_at = ?
				 WHERE user_id = ? AND campaign_id = ? AND date = ?`,
				decision, r.Reason, now, r.UserID, r.CampaignID, dateKey(r.Date),
			)
			if err != nil {
				return fmt.Errorf("sqldb: saving decision of %s/%s: %w", r.CampaignID, dateKey(r.Date), err)
			}
		}
		return nil
	})
}

func (db *DB) UpsertCampaign(ctx context.Context, c *model.Campaign) error {
	c.UpdatedAt = time.Now().UTC()
	_, err := db.exec(ctx, db.conn,
		`INSERT INTO campaigns (user_id, campaign_id, ad_account_id, name, status, image_url, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (user_id, campaign_id) DO UPDATE SET
		   ad_account_id = excluded.ad_account_id,
		   name = excluded.name,
		   status = excluded.status,
		   image_url = CASE WHEN excluded.image_url = '' THEN campaigns.image_url ELSE excluded.image_url END,
		   updated_at = excluded.updated_at`,
		c.UserID, c.CampaignID, c.AdAccountID, c.Name, c.Status, c.ImageURL, c.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("sqldb: upserting campaign %s: %w", c.CampaignID, err)
	}
	return nil
}

func (db *DB) ListCampaigns(ctx context.Context, userID string) ([]model.Campaign, error) {
	rows, err := db.query(ctx, db.conn,
		`SELECT user_id, campaign_id, ad_account_id, name, status, image_url, updated_at
		 FROM campaigns WHERE user_id = ? ORDER BY name, campaign_id`,
		userID)
	if err != nil {
		return nil, fmt.Errorf("sqldb: listing campaigns: %w", err)
	}
	defer rows.Close()

	out := []model.Campaign{}
	for rows.Next() {
		var c model.Campaign
		if err := rows.Scan(&c.UserID, &c.CampaignID, &c.AdAccountID, &c.Name, &c.Status, &c.ImageURL, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("sqldb: scanning campaign: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqldb: iterating campaigns: %w", err)
	}
	return out, nil
}

func scanRecord(s scanner) (*model.DailyCampaignRecord, error) {
	var (
		r         model.DailyCampaignRecord
		day       string
		productID sql.NullString
		decision  sql.NullString
	)
	err := s.Scan(&r.ID, &r.UserID, &r.CampaignID, &r.CampaignName, &r.AdAccountID, &day,
		&r.TotalSpend, &r.Clicks, &r.CPC, &r.AddToCart, &r.Purchases,
		&productID, &r.ProductPrice, &r.COG, &r.UnitsSold, &r.ROAS, &r.MarginEUR, &r.MarginPct,
		&decision, &r.Reason, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if r.Date, err = parseDateKey(day); err != nil {
		return nil, fmt.Errorf("parsing date %q: %w", day, err)
	}
	r.ProductID = ptrString(productID)
	if decision.Valid {
		d := model.Decision(decision.String)
		r.Decision = &d
	}
	return &r, nil
}
