/*
Package reconcile detects over-allocated debts and plans their repair.

PURPOSE:
  When the sum of allocations and cash discounts against a debt exceeds
  what it is owed, the debt's outstanding goes negative. The planner
  proposes smaller allocation lists that bring every such debt back to
  zero, and optionally rescales payments whose allocations exceed their
  used amount. Plans are returned for review; nothing is written here.

TRIM PASS (per over-allocated debt, excess = -outstanding):
  1. Payments touching the debt, most recent first (ties: higher ID first).
  2. reduction = min(allocation.Amount, excess)
  3. If what remains rounds to zero the entry is dropped, unless it still
     carries cash discount, in which case it is kept at zero principal.
  4. Whatever excess survives every payment is recorded as Unresolved.

CAP PASS (Options.CapAllocationsToPaymentTotal):
  For every payment with sum(allocations) > used amount:
    scaled_i = round(amount_i * used / sum)
  then the residual against floor(used) is spread one unit at a time over
  the largest allocations first. No allocation goes below zero.

IDEMPOTENCE:
  Planning a snapshot that has no anomalies yields an empty plan.

SEE ALSO:
  - plan.go: Plan types and state machine
  - apply.go: Atomic commit
*/
package reconcile

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/warp/settlement-engine/ledger"
)

// Options tunes a planning run.
type Options struct {
	// CapAllocationsToPaymentTotal enables the proportional rescale pass.
	CapAllocationsToPaymentTotal bool
}

// Planner builds plans. The zero value is usable.
type Planner struct {
	Clock func() time.Time
	NewID func() string
}

func NewPlanner() *Planner {
	return &Planner{Clock: time.Now, NewID: uuid.NewString}
}

func (pl *Planner) now() time.Time {
	if pl == nil || pl.Clock == nil {
		return time.Now().UTC()
	}
	return pl.Clock().UTC()
}

func (pl *Planner) id() string {
	if pl == nil || pl.NewID == nil {
		return uuid.NewString()
	}
	return pl.NewID()
}

// Plan inspects the snapshot and proposes repairs. The snapshot is not
// modified.
func (pl *Planner) Plan(s ledger.Snapshot, opts Options) *Plan {
	plan := &Plan{ID: pl.id(), CreatedAt: pl.now(), State: StatePlanning}

	work := s.Clone()
	notes := make(map[ledger.PaymentID][]string)

	for _, debt := range work.Debts {
		b := ledger.ComputeBreakdown(debt, work.Payments)
		if !b.IsOverAllocated() {
			continue
		}

		status := DebtStatus{SerialNo: debt.SerialNo, Excess: b.Outstanding.Neg(), State: StateDetected}
		_ = transition(&status.State, StatePlanning)

		remaining := trimDebt(work.Payments, debt.SerialNo, status.Excess, notes)
		if remaining.IsPositive() {
			u := Unresolved{SerialNo: debt.SerialNo, Remaining: remaining}
			plan.Unresolved = append(plan.Unresolved, u)
			plan.Notes = append(plan.Notes, u.Err().Error())
		}

		_ = transition(&status.State, StatePlanned)
		plan.Debts = append(plan.Debts, status)
	}

	if opts.CapAllocationsToPaymentTotal {
		for i := range work.Payments {
			capPayment(&work.Payments[i], notes)
		}
	}

	for i, orig := range s.Payments {
		after := work.Payments[i]
		if ledger.EqualAllocations(orig.Allocations, after.Allocations) {
			continue
		}
		plan.Changes = append(plan.Changes, PaymentChange{
			PaymentID: orig.ID,
			Before:    ledger.CloneAllocations(orig.Allocations),
			After:     ledger.CloneAllocations(after.Allocations),
			Notes:     notes[orig.ID],
		})
	}

	_ = transition(&plan.State, StatePlanned)
	return plan
}

// =============================================================================
// TRIM PASS
// =============================================================================

// trimDebt reduces allocations to serial across payments, most recent
// first, and returns the excess it could not absorb.
func trimDebt(payments []ledger.Payment, serial ledger.SerialNo, excess decimal.Decimal, notes map[ledger.PaymentID][]string) decimal.Decimal {
	var order []int
	for i, p := range payments {
		if p.References(serial) {
			order = append(order, i)
		}
	}
	sort.SliceStable(order, func(a, b int) bool {
		pa, pb := payments[order[a]], payments[order[b]]
		if !pa.Date.Equal(pb.Date) {
			return pa.Date.After(pb.Date)
		}
		return pa.ID > pb.ID
	})

	for _, i := range order {
		if !excess.IsPositive() {
			break
		}
		p := &payments[i]
		j := allocationIndex(p.Allocations, serial)
		current := p.Allocations[j]

		reduction := decimal.Min(current.Amount, excess)
		if !reduction.IsPositive() {
			continue
		}

		after := current.Amount.Sub(reduction)
		removed := reduction
		var note string
		switch {
		case ledger.IsZeroUnit(after) && current.CashDiscountAmount.IsZero():
			p.Allocations = append(p.Allocations[:j], p.Allocations[j+1:]...)
			removed = current.Amount
			note = fmt.Sprintf("dropped allocation to %s (was %s) to clear over-allocation", serial, current.Amount)
		case ledger.IsZeroUnit(after):
			p.Allocations[j].Amount = decimal.Zero
			removed = current.Amount
			note = fmt.Sprintf("reduced allocation to %s from %s to 0, kept for cash discount %s", serial, current.Amount, current.CashDiscountAmount)
		default:
			p.Allocations[j].Amount = after
			note = fmt.Sprintf("trimmed allocation to %s from %s to %s to clear over-allocation", serial, current.Amount, after)
		}
		notes[p.ID] = append(notes[p.ID], note)
		excess = excess.Sub(removed)
	}

	if excess.IsNegative() {
		return decimal.Zero
	}
	return excess
}

func allocationIndex(allocs []ledger.Allocation, serial ledger.SerialNo) int {
	for i, a := range allocs {
		if a.DebtSerialNo == serial {
			return i
		}
	}
	return -1
}

// =============================================================================
// CAP PASS
// =============================================================================

// capPayment rescales an over-committed payment so its allocations fit its
// used amount.
func capPayment(p *ledger.Payment, notes map[ledger.PaymentID][]string) {
	if _, over := ledger.OverCommitment(*p); !over {
		return
	}
	used := p.UsedAmount()
	sum := p.AllocatedAmount()

	amounts := make([]decimal.Decimal, len(p.Allocations))
	for i, a := range p.Allocations {
		amounts[i] = a.Amount
	}
	scaled := ScaleToFit(amounts, used.Floor())

	var kept []ledger.Allocation
	for i, a := range p.Allocations {
		a.Amount = scaled[i]
		if a.Amount.IsZero() && a.CashDiscountAmount.IsZero() {
			continue
		}
		kept = append(kept, a)
	}
	p.Allocations = kept

	notes[p.ID] = append(notes[p.ID], fmt.Sprintf(
		"scaled allocations from %s to %s to fit used amount %s", sum, ledger.Sum(scaled...), used))
}

// ScaleToFit scales amounts proportionally so they sum to target (whole
// units). Each value is rounded to whole units; the rounding residual is
// spread one unit at a time over the largest values first, and no value
// goes negative.
func ScaleToFit(amounts []decimal.Decimal, target decimal.Decimal) []decimal.Decimal {
	target = target.Floor()
	out := make([]decimal.Decimal, len(amounts))
	total := ledger.Sum(amounts...)
	if len(amounts) == 0 || !total.IsPositive() {
		for i := range out {
			out[i] = decimal.Zero
		}
		return out
	}

	for i, a := range amounts {
		out[i] = ledger.RoundUnit(a.Mul(target).Div(total))
	}

	// Largest first; ties keep their original order.
	order := make([]int, len(out))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return out[order[a]].GreaterThan(out[order[b]])
	})

	one := decimal.NewFromInt(1)
	residual := target.Sub(ledger.Sum(out...))
	for !residual.IsZero() {
		moved := false
		for _, i := range order {
			if residual.IsZero() {
				break
			}
			if residual.IsPositive() {
				out[i] = out[i].Add(one)
				residual = residual.Sub(one)
				moved = true
				continue
			}
			if out[i].GreaterThanOrEqual(one) {
				out[i] = out[i].Sub(one)
				residual = residual.Add(one)
				moved = true
			}
		}
		if !moved {
			break
		}
	}
	return out
}
