// Package postgres mirrors reviewed transactions into a Postgres table.
package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dvloznov/expense-review-bot/internal/domain"
)

// DB is the subset of *pgxpool.Pool the sink uses.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

var _ DB = (*pgxpool.Pool)(nil)

// Sink upserts reviewed transactions keyed by transaction ID, so a retried
// job rewrites the same row.
type Sink struct {
	db    DB
	table string
	now   func() time.Time
}

// Connect opens a pool for dsn and returns a sink writing to table. The
// caller closes the returned pool.
func Connect(ctx context.Context, dsn, table string) (*Sink, *pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("postgres.Connect: creating pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("postgres.Connect: ping: %w", err)
	}
	return NewSink(pool, table), pool, nil
}

// NewSink writes to table through db.
func NewSink(db DB, table string) *Sink {
	return &Sink{db: db, table: table, now: time.Now}
}

// Name implements persistence.Sink.
func (s *Sink) Name() string { return "postgres" }

func (s *Sink) ident() string {
	return pgx.Identifier(strings.Split(s.table, ".")).Sanitize()
}

// Migrate creates the table when it does not exist.
func (s *Sink) Migrate(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			transaction_id TEXT PRIMARY KEY,
			date           TEXT NOT NULL,
			time           TEXT NOT NULL,
			recipient      TEXT NOT NULL,
			amount         NUMERIC NOT NULL,
			bank           TEXT NOT NULL,
			mode           TEXT NOT NULL,
			category       TEXT,
			is_shared      BOOLEAN,
			user_share     NUMERIC NOT NULL,
			reviewed_at    TIMESTAMPTZ NOT NULL
		)`, s.ident())

	if _, err := s.db.Exec(ctx, query); err != nil {
		return fmt.Errorf("postgres.Migrate: %w", err)
	}
	return nil
}

// Write implements persistence.Sink.
func (s *Sink) Write(ctx context.Context, tx domain.Transaction) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (
			transaction_id, date, time, recipient, amount, bank, mode,
			category, is_shared, user_share, reviewed_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (transaction_id) DO UPDATE SET
			category    = EXCLUDED.category,
			is_shared   = EXCLUDED.is_shared,
			user_share  = EXCLUDED.user_share,
			reviewed_at = EXCLUDED.reviewed_at`, s.ident())

	_, err := s.db.Exec(ctx, query,
		tx.TransactionID,
		tx.Date,
		tx.Time,
		tx.Recipient,
		tx.Amount,
		tx.Bank,
		tx.Mode,
		tx.Category,
		tx.IsShared,
		tx.UserShare,
		s.now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("postgres.Write: upserting %s: %w", tx.TransactionID, err)
	}
	return nil
}
