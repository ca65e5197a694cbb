/*
plan.go - Reconciliation plans and their lifecycle

PURPOSE:
  A Plan is pure data: the allocation lists each affected payment has now
  (Before) and should have after repair (After), with a human-readable note
  per change. Producing a plan changes nothing; Apply is a separate step.

STATE MACHINE (per debt, mirrored on the plan):

  Detected -> Planning -> Planned -> Applied
                                  \-> Discarded

  Applied and Discarded are terminal. Any other move returns
  ErrInvalidTransition.

SEE ALSO:
  - planner.go: Builds plans
  - apply.go: Commits plans atomically
*/
package reconcile

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/settlement-engine/ledger"
)

// =============================================================================
// STATE
// =============================================================================

type State string

const (
	StateDetected  State = "detected"
	StatePlanning  State = "planning"
	StatePlanned   State = "planned"
	StateApplied   State = "applied"
	StateDiscarded State = "discarded"
)

var transitions = map[State][]State{
	StateDetected: {StatePlanning},
	StatePlanning: {StatePlanned},
	StatePlanned:  {StateApplied, StateDiscarded},
}

// CanTransition reports whether from -> to is allowed.
func CanTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

func transition(from *State, to State) error {
	if !CanTransition(*from, to) {
		return fmt.Errorf("%w: %s -> %s", ledger.ErrInvalidTransition, *from, to)
	}
	*from = to
	return nil
}

// =============================================================================
// PLAN
// =============================================================================

// PaymentChange is the planned replacement of one payment's allocations.
type PaymentChange struct {
	PaymentID ledger.PaymentID
	Before    []ledger.Allocation
	After     []ledger.Allocation
	Notes     []string
}

// DebtStatus tracks one over-allocated debt through the state machine.
type DebtStatus struct {
	SerialNo ledger.SerialNo
	Excess   decimal.Decimal // excess when detected
	State    State
}

// Unresolved is an excess that trimming could not absorb.
type Unresolved struct {
	SerialNo  ledger.SerialNo
	Remaining decimal.Decimal
}

func (u Unresolved) Err() error {
	return fmt.Errorf("%w: debt %s still over-allocated by %s", ledger.ErrUnresolvedAnomaly, u.SerialNo, u.Remaining)
}

// Plan is the full proposal for one snapshot.
type Plan struct {
	ID        string
	CreatedAt time.Time
	State     State

	Changes    []PaymentChange
	Debts      []DebtStatus
	Unresolved []Unresolved
	Notes      []string
}

// IsEmpty reports a plan with nothing to write.
func (p *Plan) IsEmpty() bool {
	return len(p.Changes) == 0
}

// Change returns the planned change for a payment, if any.
func (p *Plan) Change(id ledger.PaymentID) (PaymentChange, bool) {
	for _, c := range p.Changes {
		if c.PaymentID == id {
			return c, true
		}
	}
	return PaymentChange{}, false
}

// Updates converts the plan into repository writes.
func (p *Plan) Updates() []ledger.AllocationUpdate {
	out := make([]ledger.AllocationUpdate, len(p.Changes))
	for i, c := range p.Changes {
		out[i] = ledger.AllocationUpdate{
			PaymentID:   c.PaymentID,
			Expected:    ledger.CloneAllocations(c.Before),
			Allocations: ledger.CloneAllocations(c.After),
		}
	}
	return out
}

// Discard moves a planned plan to Discarded.
func (p *Plan) Discard() error {
	return p.moveTo(StateDiscarded)
}

func (p *Plan) markApplied() error {
	return p.moveTo(StateApplied)
}

func (p *Plan) moveTo(to State) error {
	if err := transition(&p.State, to); err != nil {
		return err
	}
	for i := range p.Debts {
		if p.Debts[i].State == StatePlanned {
			p.Debts[i].State = to
		}
	}
	return nil
}
