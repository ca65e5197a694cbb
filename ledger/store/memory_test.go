package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/settlement-engine/ledger"
	"github.com/warp/settlement-engine/ledger/store"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func day(n int) time.Time {
	return time.Date(2025, time.March, n, 0, 0, 0, 0, time.UTC)
}

func alloc(serial, amount string) ledger.Allocation {
	return ledger.Allocation{DebtSerialNo: ledger.SerialNo(serial), Amount: dec(amount), CashDiscountAmount: decimal.Zero}
}

func seeded(t *testing.T) *store.Memory {
	t.Helper()
	return store.NewMemoryFrom(ledger.Snapshot{
		Debts: []ledger.DebtEntry{
			{ID: "d1", SerialNo: "A", OriginalAmount: dec("1000")},
			{ID: "d2", SerialNo: "B", OriginalAmount: dec("500")},
		},
		Payments: []ledger.Payment{
			{ID: "p2", Date: day(2), Amount: dec("300"), Allocations: []ledger.Allocation{alloc("B", "300")}},
			{ID: "p1", Date: day(1), Amount: dec("600"), Allocations: []ledger.Allocation{alloc("A", "600")}},
		},
	})
}

func TestMemory_LoadAllOrdersPaymentsByDate(t *testing.T) {
	m := seeded(t)

	snap, err := m.LoadAll(context.Background())
	require.NoError(t, err)

	require.Len(t, snap.Payments, 2)
	assert.Equal(t, ledger.PaymentID("p1"), snap.Payments[0].ID)
	assert.Equal(t, ledger.PaymentID("p2"), snap.Payments[1].ID)
}

func TestMemory_SavePaymentRejectsInvalid(t *testing.T) {
	m := store.NewMemory()

	err := m.SavePayment(context.Background(), ledger.Payment{ID: "p1", Date: day(1), Amount: decimal.Zero})
	assert.ErrorIs(t, err, ledger.ErrInvalidRecord)
}

func TestMemory_GetPaymentNotFound(t *testing.T) {
	m := seeded(t)

	_, err := m.GetPayment(context.Background(), "missing")
	assert.True(t, ledger.IsNotFound(err))
}

func TestMemory_CommitBatch_WritesAll(t *testing.T) {
	// GIVEN: Two payments
	// WHEN: Committing updates for both with correct expectations
	// THEN: Both allocation lists are replaced

	ctx := context.Background()
	m := seeded(t)

	err := m.CommitBatch(ctx, []ledger.AllocationUpdate{
		{PaymentID: "p1", Expected: []ledger.Allocation{alloc("A", "600")}, Allocations: []ledger.Allocation{alloc("A", "500")}},
		{PaymentID: "p2", Expected: []ledger.Allocation{alloc("B", "300")}, Allocations: []ledger.Allocation{alloc("B", "250")}},
	})
	require.NoError(t, err)

	p1, _ := m.GetPayment(ctx, "p1")
	p2, _ := m.GetPayment(ctx, "p2")
	assert.True(t, p1.Allocations[0].Amount.Equal(dec("500")))
	assert.True(t, p2.Allocations[0].Amount.Equal(dec("250")))
}

func TestMemory_CommitBatch_StaleWritesNothing(t *testing.T) {
	// GIVEN: Two payments, the second edited since planning
	// WHEN: Committing a batch that expects the old second allocation
	// THEN: StaleState, and the first payment is untouched too

	ctx := context.Background()
	m := seeded(t)

	err := m.CommitBatch(ctx, []ledger.AllocationUpdate{
		{PaymentID: "p1", Expected: []ledger.Allocation{alloc("A", "600")}, Allocations: []ledger.Allocation{alloc("A", "500")}},
		{PaymentID: "p2", Expected: []ledger.Allocation{alloc("B", "999")}, Allocations: []ledger.Allocation{alloc("B", "250")}},
	})

	var stale *ledger.StaleStateError
	require.ErrorAs(t, err, &stale)
	assert.Equal(t, ledger.PaymentID("p2"), stale.PaymentID)

	p1, _ := m.GetPayment(ctx, "p1")
	assert.True(t, p1.Allocations[0].Amount.Equal(dec("600")))
}

func TestMemory_CommitBatch_MissingPaymentIsStale(t *testing.T) {
	m := seeded(t)

	err := m.CommitBatch(context.Background(), []ledger.AllocationUpdate{
		{PaymentID: "gone", Allocations: nil},
	})
	assert.ErrorIs(t, err, ledger.ErrStaleState)
}

func TestMemory_SubscribeReceivesSnapshotAfterWrite(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m := seeded(t)

	ch, err := m.Subscribe(ctx)
	require.NoError(t, err)

	require.NoError(t, m.SaveDebt(ctx, ledger.DebtEntry{ID: "d3", SerialNo: "C", OriginalAmount: dec("10")}))

	select {
	case snap := <-ch:
		assert.Len(t, snap.Debts, 3)
	case <-time.After(time.Second):
		t.Fatal("no snapshot delivered")
	}
}

func TestMemory_ReconciliationRunsNewestFirst(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()

	for _, id := range []string{"r1", "r2", "r3"} {
		require.NoError(t, m.SaveReconciliationRun(ctx, ledger.ReconciliationRun{ID: id, Status: ledger.RunApplied}))
	}

	runs, err := m.ListReconciliationRuns(ctx, 2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "r3", runs[0].ID)
	assert.Equal(t, "r2", runs[1].ID)
}
