package allocation

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/settlement-engine/ledger"
)

// =============================================================================
// DEBT PAYMENT BREAKDOWN - Reverse of Allocate, for reporting
// =============================================================================

// Contribution is what one payment did for one debt.
type Contribution struct {
	PaymentID ledger.PaymentID
	Date      time.Time

	// ActualPaid is the allocation's principal.
	ActualPaid decimal.Decimal

	// CashDiscount is this debt's share of the payment's cash discount,
	// derived with the same rule Allocate uses going forward.
	CashDiscount decimal.Decimal

	// RecordedCashDiscount is what the allocation itself carries.
	RecordedCashDiscount decimal.Decimal
}

// Settled is principal plus the derived discount share.
func (c Contribution) Settled() decimal.Decimal {
	return c.ActualPaid.Add(c.CashDiscount)
}

// DebtPaymentBreakdown lists every payment that allocates to the debt, in
// the order given.
//
// The discount share is cashDiscount * actualPaid / sum(allocations) when
// the payment has cash discount applied, else zero. Shares are computed for
// the whole payment with ApportionCashDiscount and this debt's share is
// picked out, so summing over all debts a payment touches gives back the
// payment's cash discount exactly.
func DebtPaymentBreakdown(debt ledger.DebtEntry, payments []ledger.Payment) []Contribution {
	var out []Contribution
	for _, p := range payments {
		idx := -1
		for i, a := range p.Allocations {
			if a.DebtSerialNo == debt.SerialNo {
				idx = i
				break
			}
		}
		if idx < 0 {
			continue
		}

		alloc := p.Allocations[idx]
		cd := decimal.Zero
		if p.CashDiscountApplied {
			shares := ApportionCashDiscount(p.CashDiscountAmount, p.AllocatedAmount(), principals(p.Allocations))
			cd = shares[idx]
		}

		out = append(out, Contribution{
			PaymentID:            p.ID,
			Date:                 p.Date,
			ActualPaid:           alloc.Amount,
			CashDiscount:         cd,
			RecordedCashDiscount: alloc.CashDiscountAmount,
		})
	}
	return out
}
