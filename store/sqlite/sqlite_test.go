package sqlite_test

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/settlement-engine/ledger"
	"github.com/warp/settlement-engine/reconcile"
	"github.com/warp/settlement-engine/store/sqlite"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func newStore(t *testing.T) *sqlite.Store {
	t.Helper()
	s, err := sqlite.New(":memory:")
	require.NoError(t, err, "Failed to create store")
	t.Cleanup(func() { s.Close() })
	return s
}

func seed(t *testing.T, s *sqlite.Store) {
	t.Helper()
	ctx := context.Background()

	require.NoError(t, s.SaveDebt(ctx, ledger.DebtEntry{
		ID: "d1", SerialNo: "INV-1", Party: "Acme", OriginalAmount: dec("10000"),
		Date: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	}))
	require.NoError(t, s.SavePayment(ctx, ledger.Payment{
		ID: "p2", Date: time.Date(2025, 2, 2, 0, 0, 0, 0, time.UTC), Amount: dec("5000"),
		Allocations: []ledger.Allocation{{DebtSerialNo: "INV-1", Amount: dec("5000"), CashDiscountAmount: decimal.Zero}},
	}))
	require.NoError(t, s.SavePayment(ctx, ledger.Payment{
		ID: "p1", Date: time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC), Amount: dec("6000"),
		Allocations: []ledger.Allocation{{DebtSerialNo: "INV-1", Amount: dec("6000"), CashDiscountAmount: decimal.Zero}},
	}))
}

func TestStore_RoundTripsDebtsAndPayments(t *testing.T) {
	// GIVEN: A debt with an adjusted original and a payment with settlement
	//        amount and cash discount
	// WHEN: Loading the snapshot
	// THEN: Every field survives, decimals exactly

	ctx := context.Background()
	s := newStore(t)

	debt := ledger.DebtEntry{ID: "d1", SerialNo: "INV-9", Party: "Acme", OriginalAmount: dec("1234.56")}.
		WithAdjustedOriginal(dec("1200.10"))
	require.NoError(t, s.SaveDebt(ctx, debt))

	p := ledger.Payment{
		ID:                  "p1",
		Date:                time.Date(2025, 3, 4, 10, 30, 0, 0, time.UTC),
		Amount:              dec("1100.10"),
		SettlementAmount:    ledger.Ptr(dec("1100.00")),
		CashDiscountAmount:  dec("100.10"),
		CashDiscountApplied: true,
		Allocations: []ledger.Allocation{
			{DebtSerialNo: "INV-9", Amount: dec("1100.00"), CashDiscountAmount: dec("100.10")},
		},
	}
	require.NoError(t, s.SavePayment(ctx, p))

	snap, err := s.LoadAll(ctx)
	require.NoError(t, err)

	require.Len(t, snap.Debts, 1)
	got := snap.Debts[0]
	assert.Equal(t, ledger.SerialNo("INV-9"), got.SerialNo)
	assert.Equal(t, "Acme", got.Party)
	assert.True(t, got.OriginalAmount.Equal(dec("1234.56")))
	require.NotNil(t, got.AdjustedOriginal)
	assert.True(t, got.EffectiveOriginal().Equal(dec("1200.10")))

	require.Len(t, snap.Payments, 1)
	gp := snap.Payments[0]
	assert.True(t, gp.Date.Equal(p.Date))
	assert.True(t, gp.Amount.Equal(dec("1100.10")))
	require.NotNil(t, gp.SettlementAmount)
	assert.True(t, gp.UsedAmount().Equal(dec("1100")))
	assert.True(t, gp.CashDiscountApplied)
	assert.True(t, ledger.EqualAllocations(p.Allocations, gp.Allocations))

	b := ledger.ComputeBreakdown(got, snap.Payments)
	assert.True(t, b.Outstanding.IsZero(), "outstanding %s", b.Outstanding)
}

func TestStore_PaymentsOrderedByDate(t *testing.T) {
	s := newStore(t)
	seed(t, s)

	snap, err := s.LoadAll(context.Background())
	require.NoError(t, err)

	require.Len(t, snap.Payments, 2)
	assert.Equal(t, ledger.PaymentID("p1"), snap.Payments[0].ID)
	assert.Equal(t, ledger.PaymentID("p2"), snap.Payments[1].ID)
}

func TestStore_SavePaymentReplacesAllocations(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	seed(t, s)

	p, err := s.GetPayment(ctx, "p2")
	require.NoError(t, err)
	p.Allocations = []ledger.Allocation{{DebtSerialNo: "INV-1", Amount: dec("4000"), CashDiscountAmount: decimal.Zero}}
	require.NoError(t, s.SavePayment(ctx, p))

	got, err := s.GetPayment(ctx, "p2")
	require.NoError(t, err)
	require.Len(t, got.Allocations, 1)
	assert.True(t, got.Allocations[0].Amount.Equal(dec("4000")))
}

func TestStore_RejectsInvalidStoredAllocation(t *testing.T) {
	// GIVEN: A database file whose allocation row was edited outside the store
	// WHEN: Reading the payment back
	// THEN: The row fails validation instead of loading a negative amount

	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "ledger.db")
	s, err := sqlite.New(path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	seed(t, s)

	raw, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	defer raw.Close()
	_, err = raw.ExecContext(ctx, "UPDATE allocations SET amount = '-5' WHERE payment_id = 'p2'")
	require.NoError(t, err)

	_, err = s.GetPayment(ctx, "p2")
	require.Error(t, err)
	var recErr *ledger.RecordError
	assert.ErrorAs(t, err, &recErr)
	assert.Equal(t, "amount", recErr.Field)
}

func TestStore_GetPaymentNotFound(t *testing.T) {
	s := newStore(t)

	_, err := s.GetPayment(context.Background(), "nope")
	assert.ErrorIs(t, err, ledger.ErrNotFound)
}

func TestStore_CommitBatch_StaleRollsBack(t *testing.T) {
	// GIVEN: Two payments and a batch whose second expectation is wrong
	// WHEN: Committing
	// THEN: StaleState and the first payment keeps its allocation

	ctx := context.Background()
	s := newStore(t)
	seed(t, s)

	err := s.CommitBatch(ctx, []ledger.AllocationUpdate{
		{
			PaymentID:   "p1",
			Expected:    []ledger.Allocation{{DebtSerialNo: "INV-1", Amount: dec("6000"), CashDiscountAmount: decimal.Zero}},
			Allocations: []ledger.Allocation{{DebtSerialNo: "INV-1", Amount: dec("1"), CashDiscountAmount: decimal.Zero}},
		},
		{
			PaymentID:   "p2",
			Expected:    []ledger.Allocation{{DebtSerialNo: "INV-1", Amount: dec("4999"), CashDiscountAmount: decimal.Zero}},
			Allocations: []ledger.Allocation{{DebtSerialNo: "INV-1", Amount: dec("1"), CashDiscountAmount: decimal.Zero}},
		},
	})

	var stale *ledger.StaleStateError
	require.ErrorAs(t, err, &stale)
	assert.Equal(t, ledger.PaymentID("p2"), stale.PaymentID)

	p1, err := s.GetPayment(ctx, "p1")
	require.NoError(t, err)
	assert.True(t, p1.Allocations[0].Amount.Equal(dec("6000")))
}

func TestStore_CommitBatch_MissingPaymentIsStale(t *testing.T) {
	s := newStore(t)

	err := s.CommitBatch(context.Background(), []ledger.AllocationUpdate{{PaymentID: "ghost"}})
	assert.ErrorIs(t, err, ledger.ErrStaleState)
}

func TestStore_ReconcileEndToEnd(t *testing.T) {
	// GIVEN: Scenario A persisted in SQLite
	// WHEN: Planning and applying through the store
	// THEN: The ledger is healthy, a run is recorded, a re-plan is empty

	ctx := context.Background()
	s := newStore(t)
	seed(t, s)

	snap, err := s.LoadAll(ctx)
	require.NoError(t, err)
	require.Len(t, ledger.ValidateLedger(snap), 1)

	plan := reconcile.NewPlanner().Plan(snap, reconcile.Options{})
	require.NoError(t, reconcile.NewApplier(s, nil).Apply(ctx, plan))

	after, err := s.LoadAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, ledger.ValidateLedger(after))

	p2, err := s.GetPayment(ctx, "p2")
	require.NoError(t, err)
	assert.True(t, p2.Allocations[0].Amount.Equal(dec("4000")))

	runs, err := s.ListReconciliationRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, ledger.RunApplied, runs[0].Status)
	assert.Equal(t, plan.ID, runs[0].PlanID)

	assert.True(t, reconcile.NewPlanner().Plan(after, reconcile.Options{}).IsEmpty())
}

func TestStore_ListReconciliationRunsNewestFirst(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	base := time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)

	for i, id := range []string{"r1", "r2", "r3"} {
		require.NoError(t, s.SaveReconciliationRun(ctx, ledger.ReconciliationRun{
			ID:          id,
			PlanID:      "plan",
			Status:      ledger.RunStale,
			Error:       "stale state",
			StartedAt:   base.Add(time.Duration(i) * time.Minute),
			CompletedAt: base.Add(time.Duration(i)*time.Minute + time.Second),
		}))
	}

	runs, err := s.ListReconciliationRuns(ctx, 2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "r3", runs[0].ID)
	assert.Equal(t, "stale state", runs[0].Error)
	assert.True(t, runs[0].StartedAt.Equal(base.Add(2*time.Minute)))

	all, err := s.ListReconciliationRuns(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestStore_SubscribePublishesAfterCommit(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s := newStore(t)

	ch, err := s.Subscribe(ctx)
	require.NoError(t, err)

	require.NoError(t, s.SaveDebt(ctx, ledger.DebtEntry{ID: "d1", SerialNo: "A", OriginalAmount: dec("1")}))

	select {
	case snap := <-ch:
		require.Len(t, snap.Debts, 1)
		assert.Equal(t, ledger.SerialNo("A"), snap.Debts[0].SerialNo)
	case <-time.After(time.Second):
		t.Fatal("no snapshot delivered")
	}
}
