package sqldb

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/xid"

	"github.com/sakif/adprofit/internal/apperror"
	"github.com/sakif/adprofit/internal/model"
)

const integrationColumns = `id, user_id, provider, access_token, expires_at, metadata, disabled_at, created_at, updated_at`

// CreateIntegration inserts a new integration, assigning id and timestamps.
func (db *DB) CreateIntegration(ctx context.Context, in *model.Integration) error {
	meta, err := json.Marshal(in.Metadata)
	if err != nil {
		return fmt.Errorf("sqldb: encoding integration metadata: %w", err)
	}

	now := time.Now().UTC()
	in.ID = xid.New().String()
	in.CreatedAt = now
	in.UpdatedAt = now

	_, err = db.exec(ctx, db.conn,
		`INSERT INTO integrations (`+integrationColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		in.ID, in.UserID, string(in.Provider), in.AccessToken,
		nullTime(in.ExpiresAt), string(meta), nullTime(in.DisabledAt),
		in.CreatedAt, in.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("sqldb: inserting integration: %w", err)
	}
	return nil
}

// GetIntegration returns the integration even when disabled; callers decide
// whether a disabled one is usable.
func (db *DB) GetIntegration(ctx context.Context, userID, id string) (*model.Integration, error) {
	row := db.queryRow(ctx, db.conn,
		`SELECT `+integrationColumns+` FROM integrations WHERE user_id = ? AND id = ?`,
		userID, id,
	)
	in, err := scanIntegration(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperror.NotFound("integration", id)
	}
	if err != nil {
		return nil, fmt.Errorf("sqldb: getting integration %s: %w", id, err)
	}
	return in, nil
}

func (db *DB) ListIntegrations(ctx context.Context, userID string, provider model.Provider) ([]model.Integration, error) {
	q := `SELECT ` + integrationColumns + ` FROM integrations
	      WHERE user_id = ? AND disabled_at IS NULL`
	args := []any{userID}
	if provider != "" {
		q += ` AND provider = ?`
		args = append(args, string(provider))
	}
	q += ` ORDER BY created_at, id`

	rows, err := db.query(ctx, db.conn, q, args...)
	if err != nil {
		return nil, fmt.Errorf("sqldb: listing integrations: %w", err)
	}
	defer rows.Close()

	out := []model.Integration{}
	for rows.Next() {
		in, err := scanIntegration(rows)
		if err != nil {
			return nil, fmt.Errorf("sqldb: scanning integration: %w", err)
		}
		out = append(out, *in)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqldb: iterating integrations: %w", err)
	}
	return out, nil
}

func (db *DB) UpdateIntegrationMetadata(ctx context.Context, userID, id string, meta model.IntegrationMetadata) error {
	raw, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("sqldb: encoding integration metadata: %w", err)
	}
	res, err := db.exec(ctx, db.conn,
		`UPDATE integrations SET metadata = ?, updated_at = ? WHERE user_id = ? AND id = ?`,
		string(raw), time.Now().UTC(), userID, id,
	)
	if err != nil {
		return fmt.Errorf("sqldb: updating integration %s metadata: %w", id, err)
	}
	return requireAffected(res, "integration", id)
}

// DisableIntegration soft-deletes. Disabling twice keeps the first timestamp.
func (db *DB) DisableIntegration(ctx context.Context, userID, id string, at time.Time) error {
	res, err := db.exec(ctx, db.conn,
		`UPDATE integrations SET disabled_at = COALESCE(disabled_at, ?), updated_at = ?
		 WHERE user_id = ? AND id = ?`,
		at.UTC(), time.Now().UTC(), userID, id,
	)
	if err != nil {
		return fmt.Errorf("sqldb: disabling integration %s: %w", id, err)
	}
	return requireAffected(res, "integration", id)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanIntegration(s scanner) (*model.Integration, error) {
	var (
		in        model.Integration
		provider  string
		meta      string
		expiresAt sql.NullTime
		disabled  sql.NullTime
	)
	err := s.Scan(&in.ID, &in.UserID, &provider, &in.AccessToken, &expiresAt, &meta, &disabled, &in.CreatedAt, &in.UpdatedAt)
	if err != nil {
		return nil, err
	}
	in.Provider = model.Provider(provider)
	in.ExpiresAt = ptrTime(expiresAt)
	in.DisabledAt = ptrTime(disabled)
	if meta != "" {
		if err := json.Unmarshal([]byte(meta), &in.Metadata); err != nil {
			return nil, fmt.Errorf("decoding metadata: %w", err)
		}
	}
	return &in, nil
}

func requireAffected(res sql.Result, resource, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqldb: checking rows affected: %w", err)
	}
	if n == 0 {
		return apperror.NotFound(resource, id)
	}
	return nil
}
