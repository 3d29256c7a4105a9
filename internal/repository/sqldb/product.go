package sqldb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/xid"

	"github.com/sakif/adprofit/internal/apperror"
	"github.com/sakif/adprofit/internal/model"
	"github.com/sakif/adprofit/internal/repository"
)

const productColumns = `id, user_id, integration_id, external_id, name, sku, selling_price, cost_price,
	profit_margin, quantity_sold, total_revenue, last_sold_at, created_at, updated_at`

func (db *DB) GetProduct(ctx context.Context, userID, id string) (*model.Product, error) {
	row := db.queryRow(ctx, db.conn,
		`SELECT `+productColumns+` FROM products WHERE user_id = ? AND id = ?`, userID, id)
	p, err := scanProduct(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperror.NotFound("product", id)
	}
	if err != nil {
		return nil, fmt.Errorf("sqldb: getting product %s: %w", id, err)
	}
	return p, nil
}

func (db *DB) GetProductByExternalID(ctx context.Context, userID, integrationID, externalID string) (*model.Product, error) {
	return db.productByKey(ctx, db.conn, userID, integrationID, externalID)
}

func (db *DB) productByKey(ctx context.Context, q queryer, userID, integrationID, externalID string) (*model.Product, error) {
	row := db.queryRow(ctx, q,
		`SELECT `+productColumns+` FROM products
		 WHERE user_id = ? AND integration_id = ? AND external_id = ?`,
		userID, integrationID, externalID)
	p, err := scanProduct(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperror.NotFound("product", externalID)
	}
	if err != nil {
		return nil, fmt.Errorf("sqldb: getting product by external id %s: %w", externalID, err)
	}
	return p, nil
}

func (db *DB) ListProducts(ctx context.Context, userID string, opts repository.ListOptions) ([]model.Product, error) {
	q := `SELECT ` + productColumns + ` FROM products WHERE user_id = ? ORDER BY name, id`
	args := []any{userID}
	if opts.Limit > 0 {
		q += ` LIMIT ? OFFSET ?`
		args = append(args, opts.Limit, max(opts.Offset, 0))
	}

	rows, err := db.query(ctx, db.conn, q, args...)
	if err != nil {
		return nil, fmt.Errorf("sqldb: listing products: %w", err)
	}
	defer rows.Close()

	out := []model.Product{}
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("sqldb: scanning product: %w", err)
		}
		out = append(out, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqldb: iterating products: %w", err)
	}
	return out, nil
}

// UpsertProduct writes every column of p. On an existing key the stored id
// and created_at are kept and copied back onto p.
func (db *DB) UpsertProduct(ctx context.Context, p *model.Product) (bool, error) {
	var created bool
	err := db.inTx(ctx, func(tx *sql.Tx) error {
		now := time.Now().UTC()
		existing, err := db.productByKey(ctx, tx, p.UserID, p.IntegrationID, p.ExternalID)
		switch {
		case errors.Is(err, apperror.ErrNotFound):
			created = true
			p.ID = xid.New().String()
			p.CreatedAt = now
		case err != nil:
			return err
		default:
			p.ID = existing.ID
			p.CreatedAt = existing.CreatedAt
		}
		p.UpdatedAt = now

		_, err = db.exec(ctx, tx,
			`INSERT INTO products (`+productColumns+`)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT (user_id, integration_id, external_id) DO UPDATE SET
			   name = excluded.name,
			   sku = excluded.sku,
			   selling_price = excluded.selling_price,
			   cost_price = excluded.cost_price,
			   profit_margin = excluded.profit_margin,
			   quantity_sold = excluded.quantity_sold,
			   total_revenue = excluded.total_revenue,
			   last_sold_at = excluded.last_sold_at,
			   updated_at = excluded.updated_at`,
			p.ID, p.UserID, p.IntegrationID, p.ExternalID, p.Name, p.SKU, p.SellingPrice,
			nullFloat(p.CostPrice), p.ProfitMargin, p.QuantitySold, p.TotalRevenue,
			nullTime(p.LastSoldAt), p.CreatedAt, p.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("sqldb: upserting product %s: %w", p.ExternalID, err)
		}
		return nil
	})
	return created, err
}

func (db *DB) UpdateProductCost(ctx context.Context, userID, id string, cost, margin float64) error {
	res, err := db.exec(ctx, db.conn,
		`UPDATE products SET cost_price = ?, profit_margin = ?, updated_at = ?
		 WHERE user_id = ? AND id = ?`,
		cost, margin, time.Now().UTC(), userID, id,
	)
	if err != nil {
		return fmt.Errorf("sqldb: updating product %s cost: %w", id, err)
	}
	return requireAffected(res, "product", id)
}

func scanProduct(s scanner) (*model.Product, error) {
	var (
		p        model.Product
		cost     sql.NullFloat64
		lastSold sql.NullTime
	)
	err := s.Scan(&p.ID, &p.UserID, &p.IntegrationID, &p.ExternalID, &p.Name, &p.SKU,
		&p.SellingPrice, &cost, &p.ProfitMargin, &p.QuantitySold, &p.TotalRevenue,
		&lastSold, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	p.CostPrice = ptrFloat(cost)
	p.LastSoldAt = ptrTime(lastSold)
	return &p, nil
}
