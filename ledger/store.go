/*
store.go - Persistence contract for debts, payments and allocation updates

PURPOSE:
  Defines the interface between the engine and whatever store holds the
  ledger. The engine never imports a concrete store; SQLite and in-memory
  implementations live in store/sqlite and ledger/store.

KEY INTERFACES:
  Repository:  LoadAll, Subscribe, CommitBatch plus capture-side writes
  RunRecorder: Optional audit log of reconciliation applies

ATOMIC BATCHES:
  CommitBatch() is all-or-nothing. Every AllocationUpdate carries the
  allocations the caller expects to find (Expected). Inside the store's
  transaction each payment's current allocations are compared to Expected
  and the whole batch fails with *StaleStateError on the first mismatch.
  Nothing is written in that case.

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go: SQLite
  - ledger/store/memory.go: In-memory for testing

SEE ALSO:
  - reconcile/apply.go: The only engine code path that writes
*/
package ledger

import (
	"context"
	"time"
)

// =============================================================================
// REPOSITORY
// =============================================================================

// AllocationUpdate replaces one payment's allocation list.
type AllocationUpdate struct {
	PaymentID   PaymentID
	Expected    []Allocation
	Allocations []Allocation
}

// Repository loads snapshots and commits allocation updates.
type Repository interface {
	// LoadAll returns every debt and payment.
	LoadAll(ctx context.Context) (Snapshot, error)

	// Subscribe delivers a fresh snapshot after every write. The channel is
	// closed when ctx is done.
	Subscribe(ctx context.Context) (<-chan Snapshot, error)

	// CommitBatch writes every update or none of them.
	CommitBatch(ctx context.Context, updates []AllocationUpdate) error

	// SaveDebt inserts or replaces a debt entry.
	SaveDebt(ctx context.Context, debt DebtEntry) error

	// SavePayment inserts or replaces a payment with its allocations.
	SavePayment(ctx context.Context, payment Payment) error

	// GetPayment returns ErrNotFound when the payment does not exist.
	GetPayment(ctx context.Context, id PaymentID) (Payment, error)
}

// =============================================================================
// RECONCILIATION RUNS - Audit of applies
// =============================================================================

type RunStatus string

const (
	RunApplied RunStatus = "applied"
	RunStale   RunStatus = "stale"
	RunFailed  RunStatus = "failed"
)

// ReconciliationRun records one apply attempt.
type ReconciliationRun struct {
	ID              string
	PlanID          string
	Status          RunStatus
	PaymentsTouched int
	Unresolved      int
	Error           string
	StartedAt       time.Time
	CompletedAt     time.Time
}

// RunRecorder is implemented by stores that keep an audit of applies.
type RunRecorder interface {
	SaveReconciliationRun(ctx context.Context, run ReconciliationRun) error
	ListReconciliationRuns(ctx context.Context, limit int) ([]ReconciliationRun, error)
}

// CheckExpected compares current allocations with what an update expects.
func CheckExpected(current Payment, u AllocationUpdate) error {
	if !EqualAllocations(current.Allocations, u.Expected) {
		return &StaleStateError{PaymentID: u.PaymentID}
	}
	return nil
}
