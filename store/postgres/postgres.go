/*
Package postgres provides a PostgreSQL implementation of the storage interfaces
for deployments where several server instances share one database.

PURPOSE:
  Same contracts as store/sqlite, with row locks instead of a process-wide
  write lock, so the serialization guarantee holds across processes.

LOCKING:
  Tx.GetEmployee and Tx.GetItem read with SELECT ... FOR UPDATE. The row
  stays locked until the unit commits or rolls back, so a second unit for
  the same employee waits and then sees the committed counter. The version
  column is still checked on write; it catches callers that skipped the read.

INTERFACES IMPLEMENTED:
  leave.Store:       Store
  stock.Store:       StockStore, via Store.Stock()
  reservation.Store: BookingStore, via Store.Bookings()

USAGE:
  store, err := postgres.New(ctx, postgres.Config{URL: os.Getenv("LEAVE_DATABASE_URL")})
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()
  if err := store.Migrate(ctx); err != nil {
      log.Fatal(err)
  }
*/
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Postgres error codes we translate.
const (
	codeUniqueViolation     = "23505"
	codeForeignKeyViolation = "23503"
)

// Config holds database configuration
type Config struct {
	URL             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

// Store implements leave.Store on a pgx connection pool.
type Store struct {
	pool *pgxpool.Pool
}

// New creates a connection pool and verifies it.
func New(ctx context.Context, cfg Config) (*Store, error) {
	config, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}

	config.MaxConns = 25
	if cfg.MaxConns > 0 {
		config.MaxConns = cfg.MaxConns
	}
	config.MinConns = 2
	if cfg.MinConns > 0 {
		config.MinConns = cfg.MinConns
	}
	config.MaxConnLifetime = time.Hour
	if cfg.MaxConnLifetime > 0 {
		config.MaxConnLifetime = cfg.MaxConnLifetime
	}
	config.MaxConnIdleTime = 30 * time.Minute
	if cfg.MaxConnIdleTime > 0 {
		config.MaxConnIdleTime = cfg.MaxConnIdleTime
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &Store{pool: pool}, nil
}

// NewFromPool wraps an existing pool. The caller keeps ownership of it.
func NewFromPool(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) Close() {
	s.pool.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *Store) Stock() *StockStore {
	return &StockStore{pool: s.pool}
}

func (s *Store) Bookings() *BookingStore {
	return &BookingStore{pool: s.pool}
}

// Migrate creates the schema if it does not exist.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, schema)
	if err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}
	return nil
}

const schema = `
CREATE TABLE IF NOT EXISTS employees (
	id BIGINT GENERATED BY DEFAULT AS IDENTITY PRIMARY KEY,
	name TEXT NOT NULL,
	entitlement_days INTEGER NOT NULL,
	days_used INTEGER NOT NULL DEFAULT 0 CHECK (days_used >= 0),
	version BIGINT NOT NULL DEFAULT 1,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS leave_records (
	id BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
	employee_id BIGINT NOT NULL REFERENCES employees(id),
	category TEXT NOT NULL,
	start_date DATE NOT NULL,
	end_date DATE NOT NULL,
	note TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL,
	CHECK (end_date >= start_date)
);

CREATE INDEX IF NOT EXISTS idx_leave_records_employee ON leave_records(employee_id, start_date);
CREATE INDEX IF NOT EXISTS idx_leave_records_period ON leave_records(start_date, end_date);

CREATE TABLE IF NOT EXISTS leave_audit (
	seq BIGINT GENERATED ALWAYS AS IDENTITY,
	id UUID PRIMARY KEY,
	at TIMESTAMPTZ NOT NULL,
	actor TEXT NOT NULL DEFAULT '',
	action TEXT NOT NULL,
	employee_id BIGINT NOT NULL,
	record_id BIGINT,
	delta INTEGER NOT NULL,
	days_used_after INTEGER NOT NULL,
	clamped INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_leave_audit_employee ON leave_audit(employee_id, seq);

CREATE TABLE IF NOT EXISTS items (
	id BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
	name TEXT NOT NULL,
	unit TEXT NOT NULL DEFAULT '',
	on_hand NUMERIC NOT NULL DEFAULT 0 CHECK (on_hand >= 0),
	version BIGINT NOT NULL DEFAULT 1,
	created_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS movements (
	id BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
	item_id BIGINT NOT NULL REFERENCES items(id),
	kind TEXT NOT NULL,
	quantity NUMERIC NOT NULL CHECK (quantity > 0),
	note TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_movements_item ON movements(item_id);

CREATE TABLE IF NOT EXISTS bookings (
	id BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
	room_id TEXT NOT NULL,
	title TEXT NOT NULL DEFAULT '',
	holder TEXT NOT NULL DEFAULT '',
	start_at TIMESTAMPTZ NOT NULL,
	end_at TIMESTAMPTZ NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_bookings_room_start ON bookings(room_id, start_at);
`

// =============================================================================
// HELPERS
// =============================================================================

// querier is satisfied by *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type scanner interface {
	Scan(dest ...any) error
}

func hasCode(err error, code string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == code
}

func nullID(v int64) *int64 {
	if v == 0 {
		return nil
	}
	return &v
}
