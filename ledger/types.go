/*
Package ledger provides the value types and derivations of the settlement engine.

PURPOSE:
  A debt ledger is paid down by payments. Each payment carries a list of
  allocations naming the debts it settles. Nothing in this package mutates
  caller data or performs I/O: balances are always derived by folding the
  payments over a debt.

KEY CONCEPTS IN THIS FILE (types.go):
  - DebtEntry: An invoice/purchase record with an original amount owed
  - Payment: One disbursement, possibly split across several debts
  - Allocation: The share of one payment attributed to one debt
  - Snapshot: The read-only view the engine works on

DESIGN PRINCIPLES:
  1. Precision: Uses decimal.Decimal for every amount
  2. Strict records: Required fields are checked at construction
  3. Derived state: totals and outstanding are never stored here

USAGE:
  debt, err := ledger.NewDebtEntry("d-1", "S-001", decimal.NewFromInt(10000))
  pay, err := ledger.NewPayment("p-1", date, decimal.NewFromInt(6000),
      ledger.Allocation{DebtSerialNo: "S-001", Amount: decimal.NewFromInt(6000)})
  b := ledger.ComputeBreakdown(debt, []ledger.Payment{pay})

SEE ALSO:
  - breakdown.go: Per-debt totals
  - validate.go: Anomaly detection
  - store.go: Repository contract
*/
package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type DebtID string
type PaymentID string

// SerialNo is the human-facing debt reference. Allocations point at debts
// by serial number, not by ID.
type SerialNo string

// =============================================================================
// DEBT ENTRY
// =============================================================================

// DebtEntry is one record being paid down.
type DebtEntry struct {
	ID             DebtID
	SerialNo       SerialNo
	Date           time.Time
	Party          string
	OriginalAmount decimal.Decimal

	// AdjustedOriginal supersedes OriginalAmount when set (government-required
	// corrections to the billed amount).
	AdjustedOriginal *decimal.Decimal
}

// NewDebtEntry builds a validated debt entry.
func NewDebtEntry(id DebtID, serial SerialNo, original decimal.Decimal) (DebtEntry, error) {
	d := DebtEntry{ID: id, SerialNo: serial, OriginalAmount: original}
	if err := d.Validate(); err != nil {
		return DebtEntry{}, err
	}
	return d, nil
}

// EffectiveOriginal returns the adjusted original when present.
func (d DebtEntry) EffectiveOriginal() decimal.Decimal {
	if d.AdjustedOriginal != nil {
		return *d.AdjustedOriginal
	}
	return d.OriginalAmount
}

// WithAdjustedOriginal returns a copy carrying the adjusted amount.
func (d DebtEntry) WithAdjustedOriginal(v decimal.Decimal) DebtEntry {
	d.AdjustedOriginal = &v
	return d
}

// Validate checks required fields.
func (d DebtEntry) Validate() error {
	switch {
	case d.ID == "":
		return &RecordError{Record: "debt", Field: "id", Reason: "is required"}
	case d.SerialNo == "":
		return &RecordError{Record: "debt", ID: string(d.ID), Field: "serial_no", Reason: "is required"}
	case d.OriginalAmount.IsNegative():
		return &RecordError{Record: "debt", ID: string(d.ID), Field: "original_amount", Reason: "must not be negative"}
	case d.AdjustedOriginal != nil && d.AdjustedOriginal.IsNegative():
		return &RecordError{Record: "debt", ID: string(d.ID), Field: "adjusted_original", Reason: "must not be negative"}
	}
	return nil
}

// =============================================================================
// ALLOCATION
// =============================================================================

// Allocation is the portion of one payment attributed to one debt.
type Allocation struct {
	DebtSerialNo       SerialNo
	Amount             decimal.Decimal
	CashDiscountAmount decimal.Decimal
}

// NewAllocation builds a validated allocation.
func NewAllocation(serial SerialNo, amount, cashDiscount decimal.Decimal) (Allocation, error) {
	a := Allocation{DebtSerialNo: serial, Amount: amount, CashDiscountAmount: cashDiscount}
	if err := a.Validate(); err != nil {
		return Allocation{}, err
	}
	return a, nil
}

// Settled is principal plus cash discount.
func (a Allocation) Settled() decimal.Decimal {
	return a.Amount.Add(a.CashDiscountAmount)
}

// Equal compares field by field using decimal equality.
func (a Allocation) Equal(b Allocation) bool {
	return a.DebtSerialNo == b.DebtSerialNo &&
		a.Amount.Equal(b.Amount) &&
		a.CashDiscountAmount.Equal(b.CashDiscountAmount)
}

func (a Allocation) Validate() error {
	switch {
	case a.DebtSerialNo == "":
		return &RecordError{Record: "allocation", Field: "debt_serial_no", Reason: "is required"}
	case a.Amount.IsNegative():
		return &RecordError{Record: "allocation", ID: string(a.DebtSerialNo), Field: "amount", Reason: "must not be negative"}
	case a.CashDiscountAmount.IsNegative():
		return &RecordError{Record: "allocation", ID: string(a.DebtSerialNo), Field: "cash_discount_amount", Reason: "must not be negative"}
	}
	return nil
}

// EqualAllocations compares two allocation lists position by position.
func EqualAllocations(a, b []Allocation) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !a[i].Equal(b[i]) {
			return false
		}
	}
	return true
}

// CloneAllocations returns an independent copy.
func CloneAllocations(in []Allocation) []Allocation {
	if in == nil {
		return nil
	}
	out := make([]Allocation, len(in))
	copy(out, in)
	return out
}

// =============================================================================
// PAYMENT
// =============================================================================

// Payment is one payment transaction, possibly covering several debts.
type Payment struct {
	ID     PaymentID
	Date   time.Time
	Amount decimal.Decimal

	// SettlementAmount replaces Amount as the used amount when the payment
	// rail settled a different figure than was requested.
	SettlementAmount *decimal.Decimal

	CashDiscountAmount  decimal.Decimal
	CashDiscountApplied bool
	Allocations         []Allocation
}

// NewPayment builds a validated payment without cash discount.
func NewPayment(id PaymentID, date time.Time, amount decimal.Decimal, allocations ...Allocation) (Payment, error) {
	p := Payment{ID: id, Date: date, Amount: amount, Allocations: allocations}
	if err := p.Validate(); err != nil {
		return Payment{}, err
	}
	return p, nil
}

// UsedAmount is the settlement amount when present, else the amount.
func (p Payment) UsedAmount() decimal.Decimal {
	if p.SettlementAmount != nil {
		return *p.SettlementAmount
	}
	return p.Amount
}

// AllocatedAmount sums the principal of every allocation.
func (p Payment) AllocatedAmount() decimal.Decimal {
	total := decimal.Zero
	for _, a := range p.Allocations {
		total = total.Add(a.Amount)
	}
	return total
}

// AllocationFor returns the allocation for a debt serial, if any.
func (p Payment) AllocationFor(serial SerialNo) (Allocation, bool) {
	for _, a := range p.Allocations {
		if a.DebtSerialNo == serial {
			return a, true
		}
	}
	return Allocation{}, false
}

// References reports whether the payment allocates to the debt.
func (p Payment) References(serial SerialNo) bool {
	_, ok := p.AllocationFor(serial)
	return ok
}

// Clone returns a deep copy.
func (p Payment) Clone() Payment {
	p.Allocations = CloneAllocations(p.Allocations)
	if p.SettlementAmount != nil {
		v := *p.SettlementAmount
		p.SettlementAmount = &v
	}
	return p
}

func (p Payment) Validate() error {
	id := string(p.ID)
	switch {
	case p.ID == "":
		return &RecordError{Record: "payment", Field: "id", Reason: "is required"}
	case p.Date.IsZero():
		return &RecordError{Record: "payment", ID: id, Field: "date", Reason: "is required"}
	case !p.Amount.IsPositive():
		return &RecordError{Record: "payment", ID: id, Field: "amount", Reason: "must be positive"}
	case p.SettlementAmount != nil && p.SettlementAmount.IsNegative():
		return &RecordError{Record: "payment", ID: id, Field: "settlement_amount", Reason: "must not be negative"}
	case p.CashDiscountAmount.IsNegative():
		return &RecordError{Record: "payment", ID: id, Field: "cash_discount_amount", Reason: "must not be negative"}
	case !p.CashDiscountApplied && !p.CashDiscountAmount.IsZero():
		return &RecordError{Record: "payment", ID: id, Field: "cash_discount_amount", Reason: "requires cash_discount_applied"}
	}

	seen := make(map[SerialNo]bool, len(p.Allocations))
	for _, a := range p.Allocations {
		if err := a.Validate(); err != nil {
			return err
		}
		if seen[a.DebtSerialNo] {
			return &RecordError{Record: "payment", ID: id, Field: "allocations", Reason: "duplicate debt " + string(a.DebtSerialNo)}
		}
		seen[a.DebtSerialNo] = true
	}
	return nil
}

// =============================================================================
// SNAPSHOT - What the engine plans against
// =============================================================================

// Snapshot is an immutable view of the ledger at load time.
type Snapshot struct {
	Debts    []DebtEntry
	Payments []Payment
}

// Debt finds a debt by serial number.
func (s Snapshot) Debt(serial SerialNo) (DebtEntry, bool) {
	for _, d := range s.Debts {
		if d.SerialNo == serial {
			return d, true
		}
	}
	return DebtEntry{}, false
}

// Payment finds a payment by ID.
func (s Snapshot) Payment(id PaymentID) (Payment, bool) {
	for _, p := range s.Payments {
		if p.ID == id {
			return p, true
		}
	}
	return Payment{}, false
}

// PaymentsFor returns the payments that allocate to the debt, in snapshot order.
func (s Snapshot) PaymentsFor(serial SerialNo) []Payment {
	var out []Payment
	for _, p := range s.Payments {
		if p.References(serial) {
			out = append(out, p)
		}
	}
	return out
}

// Clone deep-copies the snapshot so callers may mutate the result.
func (s Snapshot) Clone() Snapshot {
	out := Snapshot{
		Debts:    make([]DebtEntry, len(s.Debts)),
		Payments: make([]Payment, len(s.Payments)),
	}
	copy(out.Debts, s.Debts)
	for i, p := range s.Payments {
		out.Payments[i] = p.Clone()
	}
	return out
}
