// Package store provides in-memory Repository implementations.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/warp/settlement-engine/ledger"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu       sync.RWMutex
	debts    []ledger.DebtEntry
	payments []ledger.Payment // ordered by Date, then insertion
	runs     []ledger.ReconciliationRun

	ledger.Broadcaster
}

func NewMemory() *Memory {
	return &Memory{}
}

// NewMemoryFrom seeds a store with a snapshot.
func NewMemoryFrom(s ledger.Snapshot) *Memory {
	m := NewMemory()
	for _, d := range s.Debts {
		m.saveDebtLocked(d)
	}
	for _, p := range s.Payments {
		m.savePaymentLocked(p)
	}
	return m
}

func (m *Memory) LoadAll(_ context.Context) (ledger.Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshotLocked(), nil
}

func (m *Memory) Subscribe(ctx context.Context) (<-chan ledger.Snapshot, error) {
	return m.Broadcaster.Subscribe(ctx), nil
}

func (m *Memory) SaveDebt(_ context.Context, debt ledger.DebtEntry) error {
	if err := debt.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	m.saveDebtLocked(debt)
	snap := m.snapshotLocked()
	m.mu.Unlock()

	m.Publish(snap)
	return nil
}

func (m *Memory) SavePayment(_ context.Context, payment ledger.Payment) error {
	if err := payment.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	m.savePaymentLocked(payment)
	snap := m.snapshotLocked()
	m.mu.Unlock()

	m.Publish(snap)
	return nil
}

func (m *Memory) GetPayment(_ context.Context, id ledger.PaymentID) (ledger.Payment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	i := m.paymentIndexLocked(id)
	if i < 0 {
		return ledger.Payment{}, ledger.ErrNotFound
	}
	return m.payments[i].Clone(), nil
}

// CommitBatch replaces allocation lists atomically.
func (m *Memory) CommitBatch(_ context.Context, updates []ledger.AllocationUpdate) error {
	m.mu.Lock()

	// Check every precondition first (atomic check)
	for _, u := range updates {
		i := m.paymentIndexLocked(u.PaymentID)
		if i < 0 {
			m.mu.Unlock()
			return &ledger.StaleStateError{PaymentID: u.PaymentID}
		}
		if err := ledger.CheckExpected(m.payments[i], u); err != nil {
			m.mu.Unlock()
			return err
		}
	}

	// Write all (atomic write)
	for _, u := range updates {
		i := m.paymentIndexLocked(u.PaymentID)
		m.payments[i].Allocations = ledger.CloneAllocations(u.Allocations)
	}
	snap := m.snapshotLocked()
	m.mu.Unlock()

	m.Publish(snap)
	return nil
}

func (m *Memory) saveDebtLocked(debt ledger.DebtEntry) {
	for i, d := range m.debts {
		if d.SerialNo == debt.SerialNo {
			m.debts[i] = debt
			return
		}
	}
	m.debts = append(m.debts, debt)
}

func (m *Memory) savePaymentLocked(p ledger.Payment) {
	p = p.Clone()
	if i := m.paymentIndexLocked(p.ID); i >= 0 {
		m.payments = append(m.payments[:i], m.payments[i+1:]...)
	}

	// Binary search for insertion point, keeps payments ordered by date
	i := sort.Search(len(m.payments), func(i int) bool {
		return m.payments[i].Date.After(p.Date)
	})
	m.payments = append(m.payments, ledger.Payment{})
	copy(m.payments[i+1:], m.payments[i:])
	m.payments[i] = p
}

func (m *Memory) paymentIndexLocked(id ledger.PaymentID) int {
	for i, p := range m.payments {
		if p.ID == id {
			return i
		}
	}
	return -1
}

func (m *Memory) snapshotLocked() ledger.Snapshot {
	return ledger.Snapshot{Debts: m.debts, Payments: m.payments}.Clone()
}

// =============================================================================
// RECONCILIATION RUNS
// =============================================================================

func (m *Memory) SaveReconciliationRun(_ context.Context, run ledger.ReconciliationRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs = append(m.runs, run)
	return nil
}

// ListReconciliationRuns returns the most recent runs first.
func (m *Memory) ListReconciliationRuns(_ context.Context, limit int) ([]ledger.ReconciliationRun, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []ledger.ReconciliationRun
	for i := len(m.runs) - 1; i >= 0; i-- {
		if limit > 0 && len(out) >= limit {
			break
		}
		out = append(out, m.runs[i])
	}
	return out, nil
}
