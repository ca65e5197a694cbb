/*
Package sqlite provides a SQLite-backed implementation of ledger.Repository.

PURPOSE:
  Persists debts, payments and their allocation lists, and the audit of
  reconciliation applies. The same schema ports to PostgreSQL with only
  minor dialect differences.

INTERFACES IMPLEMENTED:
  ledger.Repository:  LoadAll, Subscribe, CommitBatch, SaveDebt, SavePayment, GetPayment
  ledger.RunRecorder: Reconciliation run audit

KEY TABLES:
  debts:               One row per debt entry, keyed by serial number
  payments:            Payment header (amounts as decimal TEXT)
  allocations:         Ordered allocation rows per payment
  reconciliation_runs: One row per apply attempt

ATOMIC COMMITS:
  CommitBatch() runs in a single SQL transaction. Each payment's current
  allocations are re-read inside the transaction and compared with what
  the plan expected; on the first mismatch the transaction is rolled back
  and *ledger.StaleStateError is returned.

DECIMALS:
  Amounts are stored as TEXT via decimal.String() so no precision is lost.

CONCURRENCY:
  Uses sync.RWMutex for thread-safety. SQLite is opened with WAL so readers
  do not block each other.

USAGE:
  store, err := sqlite.New("./data/settlement.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

SEE ALSO:
  - ledger/store.go: Interface definitions
  - ledger/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/warp/settlement-engine/ledger"
)

// Store implements ledger.Repository using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex

	ledger.Broadcaster
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A second connection to ":memory:" would see an empty database.
	db.SetMaxOpenConns(1)

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

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS debts (
		serial_no TEXT PRIMARY KEY,
		id TEXT NOT NULL,
		date TEXT,
		party TEXT,
		original_amount TEXT NOT NULL,
		adjusted_original TEXT,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS payments (
		id TEXT PRIMARY KEY,
		date TEXT NOT NULL,
		amount TEXT NOT NULL,
		settlement_amount TEXT,
		cash_discount_amount TEXT NOT NULL DEFAULT '0',
		cash_discount_applied BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_payments_date
		ON payments(date);

	CREATE TABLE IF NOT EXISTS allocations (
		payment_id TEXT NOT NULL REFERENCES payments(id) ON DELETE CASCADE,
		position INTEGER NOT NULL,
		debt_serial_no TEXT NOT NULL,
		amount TEXT NOT NULL,
		cash_discount_amount TEXT NOT NULL DEFAULT '0',
		PRIMARY KEY (payment_id, position)
	);

	-- Per-debt folds (breakdown, reconciliation) scan by serial
	CREATE INDEX IF NOT EXISTS idx_allocations_debt
		ON allocations(debt_serial_no);

	CREATE TABLE IF NOT EXISTS reconciliation_runs (
		id TEXT PRIMARY KEY,
		plan_id TEXT NOT NULL,
		status TEXT NOT NULL,
		payments_touched INTEGER DEFAULT 0,
		unresolved INTEGER DEFAULT 0,
		error TEXT,
		started_at TEXT NOT NULL,
		completed_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_reconciliation_runs_started
		ON reconciliation_runs(started_at DESC);
	`

	_, err := s.db.Exec(schema)
	return err
}

// timeLayout is fixed-width so stored times sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// =============================================================================
// SNAPSHOT (ledger.Repository)
// =============================================================================

// LoadAll returns every debt and payment.
func (s *Store) LoadAll(ctx context.Context) (ledger.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loadAll(ctx, s.db)
}

func (s *Store) loadAll(ctx context.Context, q queryer) (ledger.Snapshot, error) {
	debts, err := s.queryDebts(ctx, q)
	if err != nil {
		return ledger.Snapshot{}, err
	}
	payments, err := s.queryPayments(ctx, q, `
		SELECT id, date, amount, settlement_amount, cash_discount_amount, cash_discount_applied
		FROM payments
		ORDER BY date ASC, rowid ASC
	`)
	if err != nil {
		return ledger.Snapshot{}, err
	}
	return ledger.Snapshot{Debts: debts, Payments: payments}, nil
}

// Subscribe delivers a fresh snapshot after every write.
func (s *Store) Subscribe(ctx context.Context) (<-chan ledger.Snapshot, error) {
	return s.Broadcaster.Subscribe(ctx), nil
}

func (s *Store) publish(ctx context.Context) {
	if s.Subscribers() == 0 {
		return
	}
	snap, err := s.LoadAll(ctx)
	if err != nil {
		return
	}
	s.Publish(snap)
}

// =============================================================================
// DEBTS
// =============================================================================

// SaveDebt inserts or replaces a debt, keyed by serial number.
func (s *Store) SaveDebt(ctx context.Context, debt ledger.DebtEntry) error {
	if err := debt.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	query := `
		INSERT INTO debts (serial_no, id, date, party, original_amount, adjusted_original, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(serial_no) DO UPDATE SET
			id = excluded.id,
			date = excluded.date,
			party = excluded.party,
			original_amount = excluded.original_amount,
			adjusted_original = excluded.adjusted_original
	`
	_, err := s.db.ExecContext(ctx, query,
		string(debt.SerialNo),
		string(debt.ID),
		formatTime(debt.Date),
		debt.Party,
		debt.OriginalAmount.String(),
		nullDecimal(debt.AdjustedOriginal),
		time.Now().UTC().Format(time.RFC3339),
	)
	s.mu.Unlock()
	if err != nil {
		return fmt.Errorf("failed to save debt: %w", err)
	}

	s.publish(ctx)
	return nil
}

func (s *Store) queryDebts(ctx context.Context, q queryer) ([]ledger.DebtEntry, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT serial_no, id, date, party, original_amount, adjusted_original
		FROM debts
		ORDER BY rowid ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query debts: %w", err)
	}
	defer rows.Close()

	var debts []ledger.DebtEntry
	for rows.Next() {
		var (
			d        ledger.DebtEntry
			date     sql.NullString
			party    sql.NullString
			original string
			adjusted sql.NullString
		)
		if err := rows.Scan(&d.SerialNo, &d.ID, &date, &party, &original, &adjusted); err != nil {
			return nil, fmt.Errorf("failed to scan debt: %w", err)
		}
		d.Date = parseTime(date.String)
		d.Party = party.String
		if d.OriginalAmount, err = decimal.NewFromString(original); err != nil {
			return nil, fmt.Errorf("debt %s: %w", d.SerialNo, err)
		}
		if d.AdjustedOriginal, err = parseNullDecimal(adjusted); err != nil {
			return nil, fmt.Errorf("debt %s: %w", d.SerialNo, err)
		}
		debts = append(debts, d)
	}
	return debts, rows.Err()
}

// =============================================================================
// PAYMENTS
// =============================================================================

// SavePayment inserts or replaces a payment and its allocation list.
func (s *Store) SavePayment(ctx context.Context, p ledger.Payment) error {
	if err := p.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		now := time.Now().UTC().Format(time.RFC3339)
		_, err := tx.ExecContext(ctx, `
			INSERT INTO payments (id, date, amount, settlement_amount, cash_discount_amount,
			                      cash_discount_applied, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				date = excluded.date,
				amount = excluded.amount,
				settlement_amount = excluded.settlement_amount,
				cash_discount_amount = excluded.cash_discount_amount,
				cash_discount_applied = excluded.cash_discount_applied,
				updated_at = excluded.updated_at
		`,
			string(p.ID),
			formatTime(p.Date),
			p.Amount.String(),
			nullDecimal(p.SettlementAmount),
			p.CashDiscountAmount.String(),
			p.CashDiscountApplied,
			now, now,
		)
		if err != nil {
			return fmt.Errorf("failed to save payment: %w", err)
		}
		return s.replaceAllocations(ctx, tx, p.ID, p.Allocations)
	})
	s.mu.Unlock()
	if err != nil {
		return err
	}

	s.publish(ctx)
	return nil
}

// GetPayment returns a payment with its allocations.
func (s *Store) GetPayment(ctx context.Context, id ledger.PaymentID) (ledger.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getPayment(ctx, s.db, id)
}

func (s *Store) getPayment(ctx context.Context, q queryer, id ledger.PaymentID) (ledger.Payment, error) {
	payments, err := s.queryPayments(ctx, q, `
		SELECT id, date, amount, settlement_amount, cash_discount_amount, cash_discount_applied
		FROM payments
		WHERE id = ?
	`, string(id))
	if err != nil {
		return ledger.Payment{}, err
	}
	if len(payments) == 0 {
		return ledger.Payment{}, fmt.Errorf("payment %s: %w", id, ledger.ErrNotFound)
	}
	return payments[0], nil
}

func (s *Store) queryPayments(ctx context.Context, q queryer, query string, args ...any) ([]ledger.Payment, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query payments: %w", err)
	}

	var payments []ledger.Payment
	for rows.Next() {
		var (
			p          ledger.Payment
			date       string
			amount     string
			settlement sql.NullString
			cd         string
		)
		if err := rows.Scan(&p.ID, &date, &amount, &settlement, &cd, &p.CashDiscountApplied); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan payment: %w", err)
		}
		p.Date = parseTime(date)
		if p.Amount, err = decimal.NewFromString(amount); err != nil {
			rows.Close()
			return nil, fmt.Errorf("payment %s: %w", p.ID, err)
		}
		if p.SettlementAmount, err = parseNullDecimal(settlement); err != nil {
			rows.Close()
			return nil, fmt.Errorf("payment %s: %w", p.ID, err)
		}
		if p.CashDiscountAmount, err = decimal.NewFromString(cd); err != nil {
			rows.Close()
			return nil, fmt.Errorf("payment %s: %w", p.ID, err)
		}
		payments = append(payments, p)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	// Allocations are read after the payment cursor is closed: the pool is
	// limited to one connection.
	for i := range payments {
		allocs, err := s.queryAllocations(ctx, q, payments[i].ID)
		if err != nil {
			return nil, err
		}
		payments[i].Allocations = allocs
	}
	return payments, nil
}

func (s *Store) queryAllocations(ctx context.Context, q queryer, id ledger.PaymentID) ([]ledger.Allocation, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT debt_serial_no, amount, cash_discount_amount
		FROM allocations
		WHERE payment_id = ?
		ORDER BY position ASC
	`, string(id))
	if err != nil {
		return nil, fmt.Errorf("failed to query allocations: %w", err)
	}
	defer rows.Close()

	var allocs []ledger.Allocation
	for rows.Next() {
		var serial, amount, cd string
		if err := rows.Scan(&serial, &amount, &cd); err != nil {
			return nil, fmt.Errorf("failed to scan allocation: %w", err)
		}
		principal, err := decimal.NewFromString(amount)
		if err != nil {
			return nil, fmt.Errorf("allocation %s/%s: %w", id, serial, err)
		}
		discount, err := decimal.NewFromString(cd)
		if err != nil {
			return nil, fmt.Errorf("allocation %s/%s: %w", id, serial, err)
		}
		a, err := ledger.NewAllocation(ledger.SerialNo(serial), principal, discount)
		if err != nil {
			return nil, fmt.Errorf("allocation %s/%s: %w", id, serial, err)
		}
		allocs = append(allocs, a)
	}
	return allocs, rows.Err()
}

func (s *Store) replaceAllocations(ctx context.Context, tx *sql.Tx, id ledger.PaymentID, allocs []ledger.Allocation) error {
	if _, err := tx.ExecContext(ctx, "DELETE FROM allocations WHERE payment_id = ?", string(id)); err != nil {
		return fmt.Errorf("failed to clear allocations: %w", err)
	}
	for i, a := range allocs {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO allocations (payment_id, position, debt_serial_no, amount, cash_discount_amount)
			VALUES (?, ?, ?, ?, ?)
		`, string(id), i, string(a.DebtSerialNo), a.Amount.String(), a.CashDiscountAmount.String())
		if err != nil {
			return fmt.Errorf("failed to insert allocation: %w", err)
		}
	}
	return nil
}

// =============================================================================
// COMMIT BATCH (ledger.Repository)
// =============================================================================

// CommitBatch replaces allocation lists atomically, re-validating each
// update's expected allocations inside the transaction.
func (s *Store) CommitBatch(ctx context.Context, updates []ledger.AllocationUpdate) error {
	s.mu.Lock()
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		for _, u := range updates {
			current, err := s.getPayment(ctx, tx, u.PaymentID)
			if errors.Is(err, ledger.ErrNotFound) {
				return &ledger.StaleStateError{PaymentID: u.PaymentID}
			}
			if err != nil {
				return err
			}
			if err := ledger.CheckExpected(current, u); err != nil {
				return err
			}
			if err := s.replaceAllocations(ctx, tx, u.PaymentID, u.Allocations); err != nil {
				return err
			}
			_, err = tx.ExecContext(ctx, "UPDATE payments SET updated_at = ? WHERE id = ?",
				time.Now().UTC().Format(time.RFC3339), string(u.PaymentID))
			if err != nil {
				return fmt.Errorf("failed to touch payment: %w", err)
			}
		}
		return nil
	})
	s.mu.Unlock()
	if err != nil {
		return err
	}

	s.publish(ctx)
	return nil
}

// withTx executes fn within a database transaction. Callers hold s.mu.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// =============================================================================
// RECONCILIATION RUNS (ledger.RunRecorder)
// =============================================================================

// SaveReconciliationRun records an apply attempt.
func (s *Store) SaveReconciliationRun(ctx context.Context, r ledger.ReconciliationRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO reconciliation_runs
		(id, plan_id, status, payments_touched, unresolved, error, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		r.ID, r.PlanID, string(r.Status), r.PaymentsTouched, r.Unresolved,
		nullString(r.Error),
		r.StartedAt.UTC().Format(timeLayout),
		r.CompletedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("failed to save reconciliation run: %w", err)
	}
	return nil
}

// ListReconciliationRuns returns the most recent runs first.
func (s *Store) ListReconciliationRuns(ctx context.Context, limit int) ([]ledger.ReconciliationRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, plan_id, status, payments_touched, unresolved, error, started_at, completed_at
		FROM reconciliation_runs
		ORDER BY started_at DESC, rowid DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query reconciliation runs: %w", err)
	}
	defer rows.Close()

	var runs []ledger.ReconciliationRun
	for rows.Next() {
		var (
			r                      ledger.ReconciliationRun
			status                 string
			errText                sql.NullString
			startedAt, completedAt string
		)
		if err := rows.Scan(&r.ID, &r.PlanID, &status, &r.PaymentsTouched, &r.Unresolved,
			&errText, &startedAt, &completedAt); err != nil {
			return nil, fmt.Errorf("failed to scan reconciliation run: %w", err)
		}
		r.Status = ledger.RunStatus(status)
		r.Error = errText.String
		r.StartedAt, _ = time.Parse(timeLayout, startedAt)
		r.CompletedAt, _ = time.Parse(timeLayout, completedAt)
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// =============================================================================
// HELPERS
// =============================================================================

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullDecimal(d *decimal.Decimal) sql.NullString {
	if d == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: d.String(), Valid: true}
}

func parseNullDecimal(ns sql.NullString) (*decimal.Decimal, error) {
	if !ns.Valid {
		return nil, nil
	}
	d, err := decimal.NewFromString(ns.String)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, _ := time.Parse(timeLayout, s)
	return t
}
