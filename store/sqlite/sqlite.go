/*
Package sqlite provides a SQLite-backed implementation of the storage interfaces.

PURPOSE:
  Persists employees, leave records, the balance audit trail, stock items
  and room bookings in one SQLite file. Each domain gets its own store type
  (the Tx contracts differ), all sharing one *sql.DB and one write lock.

INTERFACES IMPLEMENTED:
  leave.Store:       Store (this type)
  stock.Store:       StockStore, via Store.Stock()
  reservation.Store: BookingStore, via Store.Bookings()

ATOMIC UNIT:
  WithTx opens a database transaction. The record row, the counter row and
  the audit row are written through the same *sql.Tx and committed together.
  Any error returned by fn rolls the whole unit back.

OPTIMISTIC VERSIONING:
  employees.version and items.version are bumped on every counter write.
  The UPDATE is conditional on the version the caller read, so a write based
  on a stale read affects zero rows and reports ErrConcurrentModification.

KEY TABLES:
  employees:     Entitlement, days_used counter, version
  leave_records: One row per leave; dates stored as YYYY-MM-DD
  leave_audit:   Append-only trail of counter changes
  items:         Stock items with on_hand as decimal text
  movements:     Receipts and issues
  bookings:      Room bookings with fixed-width UTC timestamps

CONCURRENCY:
  Uses sync.RWMutex: one writer at a time, concurrent readers. SQLite itself
  allows a single writer, so the lock avoids SQLITE_BUSY under load.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging):
  - Readers don't block the writer
  - Single writer at a time
  - Better crash recovery

USAGE:
  store, err := sqlite.New("./data/leave.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  ledger := leave.NewLedger(store)

MIGRATION:
  Schema is auto-migrated on New().

SEE ALSO:
  - leave/store.go: Interface definitions
  - store/memory: In-memory implementation for testing
  - store/postgres: Multi-instance deployments
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	sqlite3 "github.com/mattn/go-sqlite3"
)

// timeLayout is fixed width so that stored timestamps compare correctly as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Store implements leave.Store and owns the shared connection.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		// every new connection would get its own empty database
		db.SetMaxOpenConns(1)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks that the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Stock returns the stock store sharing this connection.
func (s *Store) Stock() *StockStore {
	return &StockStore{s: s}
}

// Bookings returns the booking store sharing this connection.
func (s *Store) Bookings() *BookingStore {
	return &BookingStore{s: s}
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Employees and their annual entitlement counter
	CREATE TABLE IF NOT EXISTS employees (
		id INTEGER PRIMARY KEY,
		name TEXT NOT NULL,
		entitlement_days INTEGER NOT NULL,
		days_used INTEGER NOT NULL DEFAULT 0 CHECK (days_used >= 0),
		version INTEGER NOT NULL DEFAULT 1,
		created_at TEXT NOT NULL
	);

	-- Leave records (dates inclusive, YYYY-MM-DD)
	CREATE TABLE IF NOT EXISTS leave_records (
		id INTEGER PRIMARY KEY,
		employee_id INTEGER NOT NULL REFERENCES employees(id),
		category TEXT NOT NULL,
		start_date TEXT NOT NULL,
		end_date TEXT NOT NULL,
		note TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		CHECK (end_date >= start_date)
	);

	CREATE INDEX IF NOT EXISTS idx_leave_records_employee
		ON leave_records(employee_id, start_date);
	CREATE INDEX IF NOT EXISTS idx_leave_records_period
		ON leave_records(start_date, end_date);

	-- Audit trail of counter changes (append-only)
	CREATE TABLE IF NOT EXISTS leave_audit (
		id TEXT PRIMARY KEY,
		at TEXT NOT NULL,
		actor TEXT NOT NULL DEFAULT '',
		action TEXT NOT NULL,
		employee_id INTEGER NOT NULL,
		record_id INTEGER,
		delta INTEGER NOT NULL,
		days_used_after INTEGER NOT NULL,
		clamped INTEGER NOT NULL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_leave_audit_employee
		ON leave_audit(employee_id);

	-- Stock items and movements
	CREATE TABLE IF NOT EXISTS items (
		id INTEGER PRIMARY KEY,
		name TEXT NOT NULL,
		unit TEXT NOT NULL DEFAULT '',
		on_hand TEXT NOT NULL DEFAULT '0',
		version INTEGER NOT NULL DEFAULT 1,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS movements (
		id INTEGER PRIMARY KEY,
		item_id INTEGER NOT NULL REFERENCES items(id),
		kind TEXT NOT NULL,
		quantity TEXT NOT NULL,
		note TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_movements_item
		ON movements(item_id);

	-- Room bookings, half-open [start_at, end_at)
	CREATE TABLE IF NOT EXISTS bookings (
		id INTEGER PRIMARY KEY,
		room_id TEXT NOT NULL,
		title TEXT NOT NULL DEFAULT '',
		holder TEXT NOT NULL DEFAULT '',
		start_at TEXT NOT NULL,
		end_at TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_bookings_room_start
		ON bookings(room_id, start_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type scanner interface {
	Scan(dest ...any) error
}

// inTx runs fn inside a database transaction holding the write lock.
func (s *Store) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(sqlTx); err != nil {
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// =============================================================================
// HELPERS
// =============================================================================

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(timeLayout, s)
	return t
}

func nullInt(v int64) sql.NullInt64 {
	return sql.NullInt64{Int64: v, Valid: v != 0}
}

func isUniqueConstraintError(err error) bool {
	var se sqlite3.Error
	if !errors.As(err, &se) {
		return false
	}
	return se.ExtendedCode == sqlite3.ErrConstraintUnique ||
		se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
}

func isForeignKeyError(err error) bool {
	var se sqlite3.Error
	return errors.As(err, &se) && se.ExtendedCode == sqlite3.ErrConstraintForeignKey
}

// affectedOne reports whether an UPDATE or DELETE touched a row.
func affectedOne(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
