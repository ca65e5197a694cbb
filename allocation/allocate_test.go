package allocation_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/settlement-engine/allocation"
	"github.com/warp/settlement-engine/ledger"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func exact(serial, amount string) allocation.DebtRef {
	return allocation.DebtRef{SerialNo: ledger.SerialNo(serial), Amount: dec(amount)}
}

func owed(serial, outstanding string) allocation.DebtRef {
	return allocation.DebtRef{SerialNo: ledger.SerialNo(serial), Outstanding: dec(outstanding)}
}

func sums(allocs []ledger.Allocation) (principal, cd decimal.Decimal) {
	principal, cd = decimal.Zero, decimal.Zero
	for _, a := range allocs {
		principal = principal.Add(a.Amount)
		cd = cd.Add(a.CashDiscountAmount)
	}
	return principal, cd
}

// =============================================================================
// EXACT STRATEGY
// =============================================================================

func TestAllocate_Exact_SplitsCashDiscountProportionally(t *testing.T) {
	// GIVEN: Scenario C - payment 9500 with 500 CD across 6000 / 3500
	// WHEN: Allocating with the exact strategy
	// THEN: CD splits 316 / 184

	allocs, err := allocation.Allocate(dec("9500"), dec("500"),
		[]allocation.DebtRef{exact("A", "6000"), exact("B", "3500")}, allocation.StrategyExact)
	require.NoError(t, err)
	require.Len(t, allocs, 2)

	assert.Equal(t, ledger.SerialNo("A"), allocs[0].DebtSerialNo)
	assert.True(t, allocs[0].Amount.Equal(dec("6000")))
	assert.True(t, allocs[0].CashDiscountAmount.Equal(dec("316")), "got %s", allocs[0].CashDiscountAmount)
	assert.True(t, allocs[1].Amount.Equal(dec("3500")))
	assert.True(t, allocs[1].CashDiscountAmount.Equal(dec("184")), "got %s", allocs[1].CashDiscountAmount)
}

func TestAllocate_Exact_SumMismatch(t *testing.T) {
	cases := []struct {
		name    string
		payment string
		targets []allocation.DebtRef
		wantErr error
	}{
		{"more than payment", "1000", []allocation.DebtRef{exact("A", "700"), exact("B", "400")}, ledger.ErrInsufficientAmount},
		{"less than payment", "1000", []allocation.DebtRef{exact("A", "700"), exact("B", "200")}, ledger.ErrAllocationMismatch},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := allocation.Allocate(dec(tc.payment), decimal.Zero, tc.targets, allocation.StrategyExact)

			assert.ErrorIs(t, err, tc.wantErr)
			var sumErr *ledger.AllocationSumError
			require.ErrorAs(t, err, &sumErr)
			assert.True(t, sumErr.Payment.Equal(dec(tc.payment)))
		})
	}
}

func TestAllocate_Exact_SkipsZeroTargets(t *testing.T) {
	allocs, err := allocation.Allocate(dec("500"), decimal.Zero,
		[]allocation.DebtRef{exact("A", "0"), exact("B", "500")}, allocation.StrategyExact)
	require.NoError(t, err)

	require.Len(t, allocs, 1)
	assert.Equal(t, ledger.SerialNo("B"), allocs[0].DebtSerialNo)
}

// =============================================================================
// SEQUENTIAL FILL STRATEGY
// =============================================================================

func TestAllocate_SequentialFill_FillsInOrder(t *testing.T) {
	// GIVEN: 1500 against A (1000 owed) then B (800 owed)
	// WHEN: Sequential fill
	// THEN: A is paid in full and B receives the remaining 500

	allocs, err := allocation.Allocate(dec("1500"), decimal.Zero,
		[]allocation.DebtRef{owed("A", "1000"), owed("B", "800")}, allocation.StrategySequentialFill)
	require.NoError(t, err)

	require.Len(t, allocs, 2)
	assert.True(t, allocs[0].Amount.Equal(dec("1000")))
	assert.True(t, allocs[1].Amount.Equal(dec("500")))
}

func TestAllocate_SequentialFill_StopsWhenExhausted(t *testing.T) {
	allocs, err := allocation.Allocate(dec("400"), decimal.Zero,
		[]allocation.DebtRef{owed("A", "1000"), owed("B", "800")}, allocation.StrategySequentialFill)
	require.NoError(t, err)

	require.Len(t, allocs, 1, "targets with a zero share are omitted")
	assert.True(t, allocs[0].Amount.Equal(dec("400")))
}

func TestAllocate_SequentialFill_SkipsSettledTargets(t *testing.T) {
	allocs, err := allocation.Allocate(dec("100"), decimal.Zero,
		[]allocation.DebtRef{owed("A", "0"), owed("B", "800")}, allocation.StrategySequentialFill)
	require.NoError(t, err)

	require.Len(t, allocs, 1)
	assert.Equal(t, ledger.SerialNo("B"), allocs[0].DebtSerialNo)
}

func TestAllocate_SequentialFill_Overpayment(t *testing.T) {
	// GIVEN: 2000 against 1800 of total outstanding
	// WHEN: Sequential fill
	// THEN: ErrOverpayment, nothing returned

	allocs, err := allocation.Allocate(dec("2000"), decimal.Zero,
		[]allocation.DebtRef{owed("A", "1000"), owed("B", "800")}, allocation.StrategySequentialFill)

	assert.ErrorIs(t, err, ledger.ErrOverpayment)
	assert.Nil(t, allocs)
}

func TestAllocate_SequentialFill_DiscountNeverOverSettles(t *testing.T) {
	// GIVEN: 950 paid with 50 CD against a 1000 debt
	// WHEN: Sequential fill
	// THEN: Principal 950 + CD 50 settles exactly 1000

	allocs, err := allocation.Allocate(dec("950"), dec("50"),
		[]allocation.DebtRef{owed("A", "1000")}, allocation.StrategySequentialFill)
	require.NoError(t, err)

	require.Len(t, allocs, 1)
	assert.True(t, allocs[0].Amount.Equal(dec("950")))
	assert.True(t, allocs[0].CashDiscountAmount.Equal(dec("50")))
	assert.True(t, allocs[0].Settled().Equal(dec("1000")))
}

func TestAllocate_SequentialFill_ExactSettlementWithDiscount(t *testing.T) {
	// GIVEN: Payments whose principal plus CD settles the targets exactly,
	//        with a P / (P + CD) ratio that does not terminate
	// WHEN: Sequential fill
	// THEN: The whole payment is placed and every target settles to zero

	cases := []struct {
		name    string
		payment string
		cd      string
		targets []allocation.DebtRef
		want    []string // principal per target
	}{
		{"201 settled by 200 + 1", "200", "1", []allocation.DebtRef{owed("A", "201")}, []string{"200"}},
		{"7 settled by 6 + 1", "6", "1", []allocation.DebtRef{owed("A", "7")}, []string{"6"}},
		{"two equal targets", "400", "2", []allocation.DebtRef{owed("A", "201"), owed("B", "201")}, []string{"200", "200"}},
		{"uneven targets", "206", "2", []allocation.DebtRef{owed("A", "201"), owed("B", "7")}, []string{"199", "7"}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			allocs, err := allocation.Allocate(dec(tc.payment), dec(tc.cd), tc.targets, allocation.StrategySequentialFill)
			require.NoError(t, err)
			require.Len(t, allocs, len(tc.want))

			principal, cd := sums(allocs)
			assert.True(t, principal.Equal(dec(tc.payment)), "principal %s", principal)
			assert.True(t, cd.Equal(dec(tc.cd)), "cd %s", cd)

			for i, a := range allocs {
				assert.True(t, a.Amount.Equal(dec(tc.want[i])), "%s principal %s", a.DebtSerialNo, a.Amount)
				assert.True(t, a.Settled().Equal(tc.targets[i].Outstanding),
					"%s settled %s of %s", a.DebtSerialNo, a.Settled(), tc.targets[i].Outstanding)
			}
		})
	}
}

// =============================================================================
// PROPERTIES
// =============================================================================

func TestAllocate_ConservesPaymentAndDiscount(t *testing.T) {
	cases := []struct {
		name     string
		payment  string
		cd       string
		targets  []allocation.DebtRef
		strategy allocation.Strategy
	}{
		{"exact two", "9500", "500", []allocation.DebtRef{exact("A", "6000"), exact("B", "3500")}, allocation.StrategyExact},
		{"exact three", "1000", "7", []allocation.DebtRef{exact("A", "333"), exact("B", "333"), exact("C", "334")}, allocation.StrategyExact},
		{"sequential", "2500", "0", []allocation.DebtRef{owed("A", "1000"), owed("B", "1000"), owed("C", "1000")}, allocation.StrategySequentialFill},
		{"sequential cd", "1900", "100", []allocation.DebtRef{owed("A", "1000"), owed("B", "1000")}, allocation.StrategySequentialFill},
		{"sequential cd non-terminating ratio", "400", "2", []allocation.DebtRef{owed("A", "201"), owed("B", "201")}, allocation.StrategySequentialFill},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			allocs, err := allocation.Allocate(dec(tc.payment), dec(tc.cd), tc.targets, tc.strategy)
			require.NoError(t, err)

			principal, cd := sums(allocs)
			assert.True(t, principal.Equal(dec(tc.payment)), "principal %s", principal)
			assert.True(t, cd.Equal(dec(tc.cd)), "cd %s", cd)
			for _, a := range allocs {
				assert.False(t, a.Amount.IsNegative())
				assert.False(t, a.CashDiscountAmount.IsNegative())
			}
		})
	}
}

func TestAllocate_DoesNotMutateTargets(t *testing.T) {
	targets := []allocation.DebtRef{owed("A", "1000"), owed("B", "800")}

	_, err := allocation.Allocate(dec("1500"), decimal.Zero, targets, allocation.StrategySequentialFill)
	require.NoError(t, err)

	assert.True(t, targets[0].Outstanding.Equal(dec("1000")))
	assert.True(t, targets[1].Outstanding.Equal(dec("800")))
}

func TestAllocate_InvalidInput(t *testing.T) {
	cases := []struct {
		name     string
		payment  string
		cd       string
		targets  []allocation.DebtRef
		strategy allocation.Strategy
		wantErr  error
	}{
		{"zero payment", "0", "0", []allocation.DebtRef{owed("A", "1")}, allocation.StrategySequentialFill, ledger.ErrInvalidAmount},
		{"negative cd", "10", "-1", []allocation.DebtRef{owed("A", "10")}, allocation.StrategySequentialFill, ledger.ErrInvalidAmount},
		{"no targets", "10", "0", nil, allocation.StrategyExact, ledger.ErrNoTargets},
		{"empty serial", "10", "0", []allocation.DebtRef{owed("", "10")}, allocation.StrategySequentialFill, ledger.ErrInvalidRecord},
		{"unknown strategy", "10", "0", []allocation.DebtRef{owed("A", "10")}, allocation.Strategy("greedy"), ledger.ErrInvalidRecord},
		{"negative exact amount", "10", "0", []allocation.DebtRef{exact("A", "-5"), exact("B", "15")}, allocation.StrategyExact, ledger.ErrInvalidRecord},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := allocation.Allocate(dec(tc.payment), dec(tc.cd), tc.targets, tc.strategy)
			assert.ErrorIs(t, err, tc.wantErr)
			assert.True(t, ledger.IsClientError(err))
		})
	}
}

func TestParseStrategy(t *testing.T) {
	s, ok := allocation.ParseStrategy("exact")
	assert.True(t, ok)
	assert.Equal(t, allocation.StrategyExact, s)

	s, ok = allocation.ParseStrategy("sequential_fill")
	assert.True(t, ok)
	assert.Equal(t, allocation.StrategySequentialFill, s)

	_, ok = allocation.ParseStrategy("random")
	assert.False(t, ok)
}

// =============================================================================
// CASH DISCOUNT APPORTIONMENT
// =============================================================================

func TestApportionCashDiscount(t *testing.T) {
	cases := []struct {
		name    string
		cd      string
		base    string
		amounts []string
		want    []string
	}{
		{"scenario c", "500", "9500", []string{"6000", "3500"}, []string{"316", "184"}},
		{"single target takes all", "37.5", "100", []string{"100"}, []string{"37.5"}},
		{"small discount", "1", "3", []string{"1", "1", "1"}, []string{"0", "0", "1"}},
		{"clamped to remaining", "2", "4", []string{"3", "3"}, []string{"2", "0"}},
		{"zero base", "10", "0", []string{"0", "0"}, []string{"0", "0"}},
		{"zero discount", "0", "100", []string{"60", "40"}, []string{"0", "0"}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			amounts := make([]decimal.Decimal, len(tc.amounts))
			for i, a := range tc.amounts {
				amounts[i] = dec(a)
			}

			got := allocation.ApportionCashDiscount(dec(tc.cd), dec(tc.base), amounts)

			require.Len(t, got, len(tc.want))
			for i, w := range tc.want {
				assert.True(t, got[i].Equal(dec(w)), "share %d: want %s got %s", i, w, got[i])
			}
		})
	}
}

// =============================================================================
// DEBT PAYMENT BREAKDOWN
// =============================================================================

func TestDebtPaymentBreakdown_RoundTripsAllocate(t *testing.T) {
	// GIVEN: A payment allocated with Allocate (Scenario C)
	// WHEN: Breaking down each debt it touches
	// THEN: The per-debt shares sum back to the payment's CD exactly

	allocs, err := allocation.Allocate(dec("9500"), dec("500"),
		[]allocation.DebtRef{exact("A", "6000"), exact("B", "3500")}, allocation.StrategyExact)
	require.NoError(t, err)

	p := ledger.Payment{
		ID:                  "p1",
		Date:                time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC),
		Amount:              dec("9500"),
		CashDiscountAmount:  dec("500"),
		CashDiscountApplied: true,
		Allocations:         allocs,
	}

	a := allocation.DebtPaymentBreakdown(ledger.DebtEntry{SerialNo: "A"}, []ledger.Payment{p})
	b := allocation.DebtPaymentBreakdown(ledger.DebtEntry{SerialNo: "B"}, []ledger.Payment{p})

	require.Len(t, a, 1)
	require.Len(t, b, 1)
	assert.True(t, a[0].ActualPaid.Equal(dec("6000")))
	assert.True(t, a[0].CashDiscount.Equal(allocs[0].CashDiscountAmount))
	assert.True(t, b[0].CashDiscount.Equal(allocs[1].CashDiscountAmount))
	assert.True(t, a[0].CashDiscount.Add(b[0].CashDiscount).Equal(dec("500")))
	assert.True(t, a[0].Settled().Equal(dec("6316")))
}

func TestDebtPaymentBreakdown_IgnoresUnflaggedDiscount(t *testing.T) {
	p := ledger.Payment{
		ID:          "p1",
		Date:        time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC),
		Amount:      dec("100"),
		Allocations: []ledger.Allocation{{DebtSerialNo: "A", Amount: dec("100"), CashDiscountAmount: dec("5")}},
	}

	got := allocation.DebtPaymentBreakdown(ledger.DebtEntry{SerialNo: "A"}, []ledger.Payment{p})

	require.Len(t, got, 1)
	assert.True(t, got[0].CashDiscount.IsZero())
	assert.True(t, got[0].RecordedCashDiscount.Equal(dec("5")))
}

func TestDebtPaymentBreakdown_SkipsUnrelatedPayments(t *testing.T) {
	payments := []ledger.Payment{
		{ID: "p1", Amount: dec("10"), Allocations: []ledger.Allocation{{DebtSerialNo: "B", Amount: dec("10")}}},
		{ID: "p2", Amount: dec("20"), Allocations: []ledger.Allocation{{DebtSerialNo: "A", Amount: dec("20")}}},
	}

	got := allocation.DebtPaymentBreakdown(ledger.DebtEntry{SerialNo: "A"}, payments)

	require.Len(t, got, 1)
	assert.Equal(t, ledger.PaymentID("p2"), got[0].PaymentID)
}
