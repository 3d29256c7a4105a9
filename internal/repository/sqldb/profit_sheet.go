package sqldb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/xid"

	"github.com/sakif/adprofit/internal/model"
)

func (db *DB) UpsertProfitSheetEntry(ctx context.Context, e *model.ProfitSheetEntry) error {
	return db.inTx(ctx, func(tx *sql.Tx) error {
		now := time.Now().UTC()
		day := dateKey(e.Date)

		var id string
		var createdAt time.Time
		err := db.queryRow(ctx, tx,
			`SELECT id, created_at FROM profit_sheet_entries
			 WHERE user_id = ? AND integration_id = ? AND ad_account_id = ? AND date = ?`,
			e.UserID, e.IntegrationID, e.AdAccountID, day,
		).Scan(&id, &createdAt)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			e.ID = xid.New().String()
			e.CreatedAt = now
		case err != nil:
			return fmt.Errorf("sqldb: looking up profit sheet entry %s: %w", day, err)
		default:
			e.ID = id
			e.CreatedAt = createdAt
		}
		e.UpdatedAt = now

		_, err = db.exec(ctx, tx,
			`INSERT INTO profit_sheet_entries
			   (id, user_id, integration_id, ad_account_id, date, other_expenses, manual_refunds, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT (user_id, integration_id, ad_account_id, date) DO UPDATE SET
			   other_expenses = excluded.other_expenses,
			   manual_refunds = excluded.manual_refunds,
			   updated_at = excluded.updated_at`,
			e.ID, e.UserID, e.IntegrationID, e.AdAccountID, day,
			e.OtherExpenses, e.ManualRefunds, e.CreatedAt, e.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("sqldb: upserting profit sheet entry %s: %w", day, err)
		}
		return nil
	})
}

// ListProfitSheetEntries returns entries in [from, to] ordered by date. An
// empty adAccountID matches every ad account.
func (db *DB) ListProfitSheetEntries(ctx context.Context, userID, integrationID, adAccountID string, from, to time.Time) ([]model.ProfitSheetEntry, error) {
	q := `SELECT id, user_id, integration_id, ad_account_id, date, other_expenses, manual_refunds, created_at, updated_at
	      FROM profit_sheet_entries
	      WHERE user_id = ? AND integration_id = ? AND date >= ? AND date <= ?`
	args := []any{userID, integrationID, dateKey(from), dateKey(to)}
	if adAccountID != "" {
		q += ` AND ad_account_id = ?`
		args = append(args, adAccountID)
	}
	q += ` ORDER BY date, ad_account_id`

	rows, err := db.query(ctx, db.conn, q, args...)
	if err != nil {
		return nil, fmt.Errorf("sqldb: listing profit sheet entries: %w", err)
	}
	defer rows.Close()

	out := []model.ProfitSheetEntry{}
	for rows.Next() {
		var (
			e   model.ProfitSheetEntry
			day string
		)
		if err := rows.Scan(&e.ID, &e.UserID, &e.IntegrationID, &e.AdAccountID, &day,
			&e.OtherExpenses, &e.ManualRefunds, &e.CreatedAt, &e.UpdatedAt); err != nil {
			return nil, fmt.Errorf("sqldb: scanning profit sheet entry: %w", err)
		}
		if e.Date, err = parseDateKey(day); err != nil {
			return nil, fmt.Errorf("sqldb: parsing date %q: %w", day, err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqldb: iterating profit sheet entries: %w", err)
	}
	return out, nil
}

func (db *DB) UpsertStoreTotals(ctx context.Context, t *model.StoreDailyTotals) error {
	_, err := db.exec(ctx, db.conn,
		`INSERT INTO store_daily_totals (user_id, integration_id, date, orders, units_sold, revenue, refunds, cog)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (user_id, integration_id, date) DO UPDATE SET
		   orders = excluded.orders,
		   units_sold = excluded.units_sold,
		   revenue = excluded.revenue,
		   refunds = excluded.refunds,
		   cog = excluded.cog`,
		t.UserID, t.IntegrationID, dateKey(t.Date), t.Orders, t.UnitsSold, t.Revenue, t.Refunds, t.COG,
	)
	if err != nil {
		return fmt.Errorf("sqldb: upserting store totals %s: %w", dateKey(t.Date), err)
	}
	return nil
}

func (db *DB) ListStoreTotals(ctx context.Context, userID, integrationID string, from, to time.Time) ([]model.StoreDailyTotals, error) {
	rows, err := db.query(ctx, db.conn,
		`SELECT user_id, integration_id, date, orders, units_sold, revenue, refunds, cog
		 FROM store_daily_totals
		 WHERE user_id = ? AND integration_id = ? AND date >= ? AND date <= ?
		 ORDER BY date`,
		userID, integrationID, dateKey(from), dateKey(to))
	if err != nil {
		return nil, fmt.Errorf("sqldb: listing store totals: %w", err)
	}
	defer rows.Close()

	out := []model.StoreDailyTotals{}
	for rows.Next() {
		var (
			t   model.StoreDailyTotals
			day string
		)
		if err := rows.Scan(&t.UserID, &t.IntegrationID, &day, &t.Orders, &t.UnitsSold, &t.Revenue, &t.Refunds, &t.COG); err != nil {
			return nil, fmt.Errorf("sqldb: scanning store totals: %w", err)
		}
		if t.Date, err = parseDateKey(day); err != nil {
			return nil, fmt.Errorf("sqldb: parsing date %q: %w", day, err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqldb: iterating store totals: %w", err)
	}
	return out, nil
}
