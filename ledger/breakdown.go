/*
breakdown.go - Per-debt totals derived from payment history

PURPOSE:
  Answers "how much of this debt is still owed?" by folding every payment's
  allocations for the debt. There is no stored balance that can drift; the
  breakdown is always recomputed from the snapshot.

FORMULA:
  TotalPaid         = sum(allocation.Amount)              for matching allocations
  TotalCashDiscount = sum(allocation.CashDiscountAmount)  for matching allocations
  Outstanding       = EffectiveOriginal - TotalPaid - TotalCashDiscount

A negative Outstanding is an anomaly (see validate.go), never a valid state.
*/
package ledger

import "github.com/shopspring/decimal"

// Breakdown is the derived state of one debt.
type Breakdown struct {
	SerialNo          SerialNo
	EffectiveOriginal decimal.Decimal
	TotalPaid         decimal.Decimal
	TotalCashDiscount decimal.Decimal
	Outstanding       decimal.Decimal
}

// Settled returns paid plus cash discount.
func (b Breakdown) Settled() decimal.Decimal {
	return b.TotalPaid.Add(b.TotalCashDiscount)
}

// IsOverAllocated reports a negative outstanding balance.
func (b Breakdown) IsOverAllocated() bool {
	return b.Outstanding.IsNegative()
}

// IsSettled reports a debt with nothing left to pay.
func (b Breakdown) IsSettled() bool {
	return !b.Outstanding.IsPositive()
}

// ComputeBreakdown folds every payment allocation that names the debt.
func ComputeBreakdown(debt DebtEntry, payments []Payment) Breakdown {
	paid := decimal.Zero
	cd := decimal.Zero
	for _, p := range payments {
		for _, a := range p.Allocations {
			if a.DebtSerialNo != debt.SerialNo {
				continue
			}
			paid = paid.Add(a.Amount)
			cd = cd.Add(a.CashDiscountAmount)
		}
	}

	original := debt.EffectiveOriginal()
	return Breakdown{
		SerialNo:          debt.SerialNo,
		EffectiveOriginal: original,
		TotalPaid:         paid,
		TotalCashDiscount: cd,
		Outstanding:       original.Sub(paid).Sub(cd),
	}
}

// ComputeBreakdowns returns one breakdown per debt, in snapshot order.
func ComputeBreakdowns(s Snapshot) []Breakdown {
	out := make([]Breakdown, len(s.Debts))
	for i, d := range s.Debts {
		out[i] = ComputeBreakdown(d, s.Payments)
	}
	return out
}
