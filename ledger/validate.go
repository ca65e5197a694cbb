/*
validate.go - Anomaly detection over a ledger snapshot

PURPOSE:
  Reports ledger drift as data so a caller can display it and a human can
  decide what to do. Validation never fails and never mutates.

ANOMALY KINDS:
  over_allocation:   A debt's outstanding balance is negative.
                     Excess = -Outstanding.
  over_commitment:   A payment allocates more principal than its used amount
                     (settlement amount when present, else amount), beyond
                     Tolerance. Excess = allocated - used.
  orphan_allocation: A payment allocates to a serial number that no debt
                     carries. Excess = the orphaned principal. Ledger-wide only.

SEE ALSO:
  - breakdown.go: Outstanding derivation
  - reconcile/planner.go: Repairs over-allocation and over-commitment
*/
package ledger

import (
	"fmt"

	"github.com/shopspring/decimal"
)

type AnomalyKind string

const (
	AnomalyOverAllocation   AnomalyKind = "over_allocation"
	AnomalyOverCommitment   AnomalyKind = "over_commitment"
	AnomalyOrphanAllocation AnomalyKind = "orphan_allocation"
)

// Anomaly is one detected inconsistency.
type Anomaly struct {
	Kind         AnomalyKind
	DebtSerialNo SerialNo  // set for over_allocation and orphan_allocation
	PaymentID    PaymentID // set for over_commitment and orphan_allocation
	Excess       decimal.Decimal
}

func (a Anomaly) String() string {
	switch a.Kind {
	case AnomalyOverAllocation:
		return fmt.Sprintf("debt %s over-allocated by %s", a.DebtSerialNo, a.Excess)
	case AnomalyOverCommitment:
		return fmt.Sprintf("payment %s over-committed by %s", a.PaymentID, a.Excess)
	default:
		return fmt.Sprintf("payment %s allocates %s to unknown debt %s", a.PaymentID, a.Excess, a.DebtSerialNo)
	}
}

// Err maps the anomaly to its sentinel error.
func (a Anomaly) Err() error {
	switch a.Kind {
	case AnomalyOverAllocation:
		return fmt.Errorf("%w: %s", ErrOverAllocation, a)
	case AnomalyOverCommitment:
		return fmt.Errorf("%w: %s", ErrOverCommitment, a)
	default:
		return fmt.Errorf("%w: %s", ErrNotFound, a)
	}
}

// OverCommitment returns how far a payment's allocations exceed its used
// amount. The second result is false when they do not.
func OverCommitment(p Payment) (decimal.Decimal, bool) {
	excess := p.AllocatedAmount().Sub(p.UsedAmount())
	if !excess.IsPositive() {
		return decimal.Zero, false
	}
	return excess, true
}

// Validate checks one debt against its payment history. It flags a negative
// outstanding balance and every payment touching the debt that is
// over-committed.
func Validate(debt DebtEntry, payments []Payment) []Anomaly {
	var anomalies []Anomaly

	b := ComputeBreakdown(debt, payments)
	if b.IsOverAllocated() {
		anomalies = append(anomalies, Anomaly{
			Kind:         AnomalyOverAllocation,
			DebtSerialNo: debt.SerialNo,
			Excess:       b.Outstanding.Neg(),
		})
	}

	for _, p := range payments {
		if !p.References(debt.SerialNo) {
			continue
		}
		if a, ok := overCommitmentAnomaly(p); ok {
			anomalies = append(anomalies, a)
		}
	}
	return anomalies
}

// ValidateLedger checks the whole snapshot. Each debt and each payment is
// reported at most once per kind.
func ValidateLedger(s Snapshot) []Anomaly {
	var anomalies []Anomaly

	known := make(map[SerialNo]bool, len(s.Debts))
	for _, d := range s.Debts {
		known[d.SerialNo] = true
		b := ComputeBreakdown(d, s.Payments)
		if b.IsOverAllocated() {
			anomalies = append(anomalies, Anomaly{
				Kind:         AnomalyOverAllocation,
				DebtSerialNo: d.SerialNo,
				Excess:       b.Outstanding.Neg(),
			})
		}
	}

	for _, p := range s.Payments {
		if a, ok := overCommitmentAnomaly(p); ok {
			anomalies = append(anomalies, a)
		}
		for _, alloc := range p.Allocations {
			if !known[alloc.DebtSerialNo] {
				anomalies = append(anomalies, Anomaly{
					Kind:         AnomalyOrphanAllocation,
					DebtSerialNo: alloc.DebtSerialNo,
					PaymentID:    p.ID,
					Excess:       alloc.Amount,
				})
			}
		}
	}
	return anomalies
}

func overCommitmentAnomaly(p Payment) (Anomaly, bool) {
	excess, over := OverCommitment(p)
	if !over || !excess.GreaterThan(Tolerance) {
		return Anomaly{}, false
	}
	return Anomaly{Kind: AnomalyOverCommitment, PaymentID: p.ID, Excess: excess}, true
}
