/*
Package allocation splits a payment across caller-selected debts.

PURPOSE:
  The caller decides WHICH debts a payment settles and in what order. This
  package decides HOW MUCH each one receives and how the payment's cash
  discount is apportioned.

STRATEGIES:
  Exact:          The caller supplies each target's amount. The engine only
                  checks that the amounts add up to the payment.
  SequentialFill: The engine walks the targets in order, filling each one
                  until its outstanding is zeroed or the payment runs out.
                  The last target touched receives the remainder.

CASH DISCOUNT:
  cd_i = cashDiscount * amount_i / paymentAmount, rounded to whole units.
  The last allocated target absorbs the rounding residual so that
  sum(cd_i) == cashDiscount exactly.

  Under SequentialFill the principal placed on the first k targets is
  capped at floor(sum(outstanding_1..k) * P / (P + CD)), so that principal
  plus its discount share does not push a debt negative. The product is
  taken before the division and floored on the running total, so a payment
  that exactly settles its targets is always placed in full.

EXAMPLE:
  Payment 9500, CD 500, exact split 6000 / 3500:
    cd_1 = round(500 * 6000 / 9500) = 316
    cd_2 = 500 - 316              = 184

SEE ALSO:
  - breakdown.go: The reverse computation for reporting
  - ledger/types.go: Allocation
*/
package allocation

import (
	"github.com/shopspring/decimal"

	"github.com/warp/settlement-engine/ledger"
)

// =============================================================================
// STRATEGY
// =============================================================================

type Strategy string

const (
	StrategyExact          Strategy = "exact"
	StrategySequentialFill Strategy = "sequential_fill"
)

// ParseStrategy maps a wire name to a Strategy.
func ParseStrategy(s string) (Strategy, bool) {
	switch Strategy(s) {
	case StrategyExact, StrategySequentialFill:
		return Strategy(s), true
	}
	return "", false
}

// DebtRef is one caller-selected target.
type DebtRef struct {
	SerialNo ledger.SerialNo

	// Outstanding bounds the fill under SequentialFill.
	Outstanding decimal.Decimal

	// Amount is the requested principal under Exact.
	Amount decimal.Decimal
}

// =============================================================================
// ALLOCATE
// =============================================================================

// Allocate computes the per-debt split of a payment. It never mutates its
// inputs. Targets with a zero share are left out of the result.
func Allocate(paymentAmount, cashDiscount decimal.Decimal, targets []DebtRef, strategy Strategy) ([]ledger.Allocation, error) {
	if !paymentAmount.IsPositive() {
		return nil, ledger.ErrInvalidAmount
	}
	if cashDiscount.IsNegative() {
		return nil, ledger.ErrInvalidAmount
	}
	if len(targets) == 0 {
		return nil, ledger.ErrNoTargets
	}
	for _, t := range targets {
		if t.SerialNo == "" {
			return nil, &ledger.RecordError{Record: "allocation", Field: "debt_serial_no", Reason: "is required"}
		}
	}

	var (
		allocs []ledger.Allocation
		err    error
	)
	switch strategy {
	case StrategyExact:
		allocs, err = allocateExact(paymentAmount, targets)
	case StrategySequentialFill:
		allocs, err = allocateSequential(paymentAmount, cashDiscount, targets)
	default:
		return nil, &ledger.RecordError{Record: "allocation", Field: "strategy", Reason: "unknown " + string(strategy)}
	}
	if err != nil {
		return nil, err
	}

	shares := ApportionCashDiscount(cashDiscount, paymentAmount, principals(allocs))
	for i := range allocs {
		allocs[i].CashDiscountAmount = shares[i]
	}
	return allocs, nil
}

func allocateExact(paymentAmount decimal.Decimal, targets []DebtRef) ([]ledger.Allocation, error) {
	total := decimal.Zero
	var allocs []ledger.Allocation
	for _, t := range targets {
		if t.Amount.IsNegative() {
			return nil, &ledger.RecordError{Record: "allocation", ID: string(t.SerialNo), Field: "amount", Reason: "must not be negative"}
		}
		total = total.Add(t.Amount)
		if t.Amount.IsZero() {
			continue
		}
		allocs = append(allocs, ledger.Allocation{DebtSerialNo: t.SerialNo, Amount: t.Amount})
	}

	switch {
	case total.GreaterThan(paymentAmount):
		return nil, &ledger.AllocationSumError{Kind: ledger.ErrInsufficientAmount, Payment: paymentAmount, Allocated: total}
	case total.LessThan(paymentAmount):
		return nil, &ledger.AllocationSumError{Kind: ledger.ErrAllocationMismatch, Payment: paymentAmount, Allocated: total}
	}
	return allocs, nil
}

func allocateSequential(paymentAmount, cashDiscount decimal.Decimal, targets []DebtRef) ([]ledger.Allocation, error) {
	gross := paymentAmount.Add(cashDiscount)

	// Capacity is floored on the running total, not per target, so the
	// flooring loses less than one unit across the whole fill.
	cumOutstanding := decimal.Zero
	placed := decimal.Zero
	var allocs []ledger.Allocation
	for _, t := range targets {
		if !placed.LessThan(paymentAmount) {
			break
		}
		if !t.Outstanding.IsPositive() {
			continue
		}
		cumOutstanding = cumOutstanding.Add(t.Outstanding)

		cumCapacity := cumOutstanding
		if cashDiscount.IsPositive() {
			cumCapacity, _ = cumOutstanding.Mul(paymentAmount).QuoRem(gross, 0)
		}
		take := decimal.Min(cumCapacity.Sub(placed), paymentAmount.Sub(placed))
		if !take.IsPositive() {
			continue
		}
		allocs = append(allocs, ledger.Allocation{DebtSerialNo: t.SerialNo, Amount: take})
		placed = placed.Add(take)
	}

	if placed.LessThan(paymentAmount) {
		return nil, &ledger.AllocationSumError{
			Kind:      ledger.ErrOverpayment,
			Payment:   paymentAmount,
			Allocated: placed,
		}
	}
	return allocs, nil
}

func principals(allocs []ledger.Allocation) []decimal.Decimal {
	out := make([]decimal.Decimal, len(allocs))
	for i, a := range allocs {
		out[i] = a.Amount
	}
	return out
}

// =============================================================================
// CASH DISCOUNT APPORTIONMENT
// =============================================================================

// ApportionCashDiscount splits cashDiscount in proportion amount_i / base.
// Every share but the last is rounded to whole units; the last absorbs the
// residual so the shares sum to cashDiscount exactly. A zero base yields
// zero shares.
func ApportionCashDiscount(cashDiscount, base decimal.Decimal, amounts []decimal.Decimal) []decimal.Decimal {
	shares := make([]decimal.Decimal, len(amounts))
	for i := range shares {
		shares[i] = decimal.Zero
	}
	if len(amounts) == 0 || cashDiscount.IsZero() || base.IsZero() {
		return shares
	}

	assigned := decimal.Zero
	last := len(amounts) - 1
	for i := 0; i < last; i++ {
		share := ledger.RoundUnit(cashDiscount.Mul(amounts[i]).Div(base))
		// Never hand out more than is left, so the last share stays >= 0.
		share = decimal.Min(share, cashDiscount.Sub(assigned))
		shares[i] = share
		assigned = assigned.Add(share)
	}
	shares[last] = cashDiscount.Sub(assigned)
	return shares
}
