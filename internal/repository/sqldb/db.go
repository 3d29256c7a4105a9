// Package sqldb implements the repository interfaces on database/sql.
//
// Two backends share one code path:
//   - SQLite through modernc.org/sqlite (pure Go, default, ":memory:" in tests)
//   - Postgres through the pgx stdlib driver when DATABASE_URL is set
//
// Queries are written with ? placeholders and rebound to $n for Postgres.
// Upserts use INSERT ... ON CONFLICT DO UPDATE, which both engines accept.
// Calendar dates are stored as YYYY-MM-DD text so day keys compare the same
// way everywhere.
package sqldb

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"github.com/sakif/adprofit/internal/model"
	"github.com/sakif/adprofit/internal/repository"
)

type dialect int

const (
	dialectSQLite dialect = iota
	dialectPostgres
)

// DB wraps a connection pool and implements repository.Store.
type DB struct {
	conn    *sql.DB
	dialect dialect
}

var _ repository.Store = (*DB)(nil)

// Open connects to Postgres when databaseURL is set, otherwise to the SQLite
// file at sqlitePath.
func Open(ctx context.Context, databaseURL, sqlitePath string) (*DB, error) {
	if databaseURL != "" {
		return NewPostgres(ctx, databaseURL)
	}
	return NewSQLite(sqlitePath)
}

// NewSQLite opens (or creates) a SQLite database and runs migrations.
func NewSQLite(path string) (*DB, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqldb: opening sqlite: %w", err)
	}
	// :memory: gives every pooled connection its own database.
	if path == ":memory:" {
		conn.SetMaxOpenConns(1)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqldb: pinging sqlite: %w", err)
	}

	for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA foreign_keys=ON", "PRAGMA busy_timeout=5000"} {
		if _, err := conn.Exec(pragma); err != nil {
			conn.Close()
			return nil, fmt.Errorf("sqldb: %s: %w", pragma, err)
		}
	}
	return finishOpen(conn, dialectSQLite)
}

// NewPostgres connects through pgx and runs migrations.
func NewPostgres(ctx context.Context, url string) (*DB, error) {
	conn, err := sql.Open("pgx", url)
	if err != nil {
		return nil, fmt.Errorf("sqldb: opening postgres: %w", err)
	}
	conn.SetMaxOpenConns(20)
	conn.SetMaxIdleConns(10)
	conn.SetConnMaxIdleTime(5 * time.Minute)
	conn.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := conn.PingContext(pingCtx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqldb: pinging postgres: %w", err)
	}
	return finishOpen(conn, dialectPostgres)
}

func finishOpen(conn *sql.DB, d dialect) (*DB, error) {
	db := &DB{conn: conn, dialect: d}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqldb: running migrations: %w", err)
	}
	return db, nil
}

func (db *DB) Close() error { return db.conn.Close() }

func (db *DB) Ping(ctx context.Context) error { return db.conn.PingContext(ctx) }

// Backend names the engine in use, for startup logs.
func (db *DB) Backend() string {
	if db.dialect == dialectPostgres {
		return "postgres"
	}
	return "sqlite"
}

// rebind rewrites ? placeholders to $1..$n for Postgres.
func (db *DB) rebind(q string) string {
	if db.dialect != dialectPostgres {
		return q
	}
	var b strings.Builder
	b.Grow(len(q) + 16)
	n := 0
	for i := 0; i < len(q); i++ {
		if q[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(q[i])
	}
	return b.String()
}

type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (db *DB) exec(ctx context.Context, q queryer, query string, args ...any) (sql.Result, error) {
	return q.ExecContext(ctx, db.rebind(query), args...)
}

func (db *DB) query(ctx context.Context, q queryer, query string, args ...any) (*sql.Rows, error) {
	return q.QueryContext(ctx, db.rebind(query), args...)
}

func (db *DB) queryRow(ctx context.Context, q queryer, query string, args ...any) *sql.Row {
	return q.QueryRowContext(ctx, db.rebind(query), args...)
}

// inTx runs fn in a transaction, rolling back on error.
func (db *DB) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

func dateKey(t time.Time) string { return t.UTC().Format(model.DateLayout) }

func parseDateKey(s string) (time.Time, error) {
	// Postgres drivers may hand back a full timestamp for a text column
	// that was populated by an older schema.
	if len(s) > len(model.DateLayout) {
		s = s[:len(model.DateLayout)]
	}
	return time.Parse(model.DateLayout, s)
}

func nullFloat(p *float64) sql.NullFloat64 {
	if p == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *p, Valid: true}
}

func nullTime(p *time.Time) sql.NullTime {
	if p == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: p.UTC(), Valid: true}
}

func nullString(p *string) sql.NullString {
	if p == nil || *p == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: *p, Valid: true}
}

func ptrFloat(n sql.NullFloat64) *float64 {
	if !n.Valid {
		return nil
	}
	f := n.Float64
	return &f
}

func ptrTime(n sql.NullTime) *time.Time {
	if !n.Valid {
		return nil
	}
	t := n.Time.UTC()
	return &t
}

func ptrString(n sql.NullString) *string {
	if !n.Valid {
		return nil
	}
	s := n.String
	return &s
}
