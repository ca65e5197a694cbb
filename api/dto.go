/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the ledger model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

MONEY:
  Amounts are decimal.Decimal, which marshals as a JSON string ("1234.50")
  and accepts either a string or a number on input. Floats never touch
  currency.

TYPES:
  Debts:          DebtDTO, CreateDebtRequest, DebtDetailDTO, ContributionDTO
  Payments:       PaymentDTO, AllocationDTO, CreatePaymentRequest, TargetRequest
  Combinations:   CombinationRequest, CandidateDTO
  Reconciliation: AnomalyDTO, PlanRequest, PlanDTO, PaymentChangeDTO, RunDTO

VALIDATION:
  Validation is done in handlers and in the ledger constructors, not in DTOs.

SEE ALSO:
  - handlers.go: Uses these types
  - ledger/types.go: Domain model
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/settlement-engine/allocation"
	"github.com/warp/settlement-engine/combination"
	"github.com/warp/settlement-engine/ledger"
	"github.com/warp/settlement-engine/reconcile"
)

// =============================================================================
// DEBTS
// =============================================================================

// DebtDTO is a debt with its current breakdown.
type DebtDTO struct {
	ID                string           `json:"id"`
	SerialNo          string           `json:"serial_no"`
	Date              *time.Time       `json:"date,omitempty"`
	Party             string           `json:"party,omitempty"`
	OriginalAmount    decimal.Decimal  `json:"original_amount"`
	AdjustedOriginal  *decimal.Decimal `json:"adjusted_original,omitempty"`
	EffectiveOriginal decimal.Decimal  `json:"effective_original"`
	TotalPaid         decimal.Decimal  `json:"total_paid"`
	TotalCashDiscount decimal.Decimal  `json:"total_cash_discount"`
	Outstanding       decimal.Decimal  `json:"outstanding"`
	Status            string           `json:"status"` // open, settled, over_allocated
}

// CreateDebtRequest is the body for POST /api/debts.
type CreateDebtRequest struct {
	ID               string           `json:"id,omitempty"` // generated when empty
	SerialNo         string           `json:"serial_no"`
	Date             *time.Time       `json:"date,omitempty"`
	Party            string           `json:"party,omitempty"`
	OriginalAmount   decimal.Decimal  `json:"original_amount"`
	AdjustedOriginal *decimal.Decimal `json:"adjusted_original,omitempty"`
}

// ContributionDTO is one payment's share of a debt.
type ContributionDTO struct {
	PaymentID            string          `json:"payment_id"`
	Date                 time.Time       `json:"date"`
	ActualPaid           decimal.Decimal `json:"actual_paid"`
	CashDiscount         decimal.Decimal `json:"cash_discount"`
	RecordedCashDiscount decimal.Decimal `json:"recorded_cash_discount"`
	Settled              decimal.Decimal `json:"settled"`
}

// DebtDetailDTO is the response for GET /api/debts/{serial}.
type DebtDetailDTO struct {
	Debt          DebtDTO           `json:"debt"`
	Contributions []ContributionDTO `json:"contributions"`
	Anomalies     []AnomalyDTO      `json:"anomalies"`
}

// =============================================================================
// PAYMENTS
// =============================================================================

// AllocationDTO is one allocation line.
type AllocationDTO struct {
	DebtSerialNo       string          `json:"debt_serial_no"`
	Amount             decimal.Decimal `json:"amount"`
	CashDiscountAmount decimal.Decimal `json:"cash_discount_amount"`
}

// PaymentDTO is a payment in API responses.
type PaymentDTO struct {
	ID                  string           `json:"id"`
	Date                time.Time        `json:"date"`
	Amount              decimal.Decimal  `json:"amount"`
	SettlementAmount    *decimal.Decimal `json:"settlement_amount,omitempty"`
	UsedAmount          decimal.Decimal  `json:"used_amount"`
	CashDiscountAmount  decimal.Decimal  `json:"cash_discount_amount"`
	CashDiscountApplied bool             `json:"cash_discount_applied"`
	Allocations         []AllocationDTO  `json:"allocations"`
}

// TargetRequest selects one debt for a new payment.
type TargetRequest struct {
	SerialNo string          `json:"serial_no"`
	Amount   decimal.Decimal `json:"amount"` // exact strategy only
}

// CreatePaymentRequest is the body for POST /api/payments and
// POST /api/payments/preview.
type CreatePaymentRequest struct {
	ID                 string           `json:"id,omitempty"` // generated when empty
	Date               *time.Time       `json:"date,omitempty"`
	Amount             decimal.Decimal  `json:"amount"`
	SettlementAmount   *decimal.Decimal `json:"settlement_amount,omitempty"`
	CashDiscountAmount decimal.Decimal  `json:"cash_discount_amount"`
	Strategy           string           `json:"strategy"` // exact, sequential_fill
	Targets            []TargetRequest  `json:"targets"`
}

// PreviewResponse is the result of a dry-run allocation.
type PreviewResponse struct {
	UsedAmount  decimal.Decimal `json:"used_amount"`
	Allocations []AllocationDTO `json:"allocations"`
}

// =============================================================================
// COMBINATIONS
// =============================================================================

// CombinationRequest is the body for POST /api/combinations.
type CombinationRequest struct {
	TargetAmount   decimal.Decimal `json:"target_amount"`
	MinRate        int             `json:"min_rate"`
	MaxRate        int             `json:"max_rate"`
	RoundToHundred bool            `json:"round_to_hundred"`
}

// CandidateDTO is one suggested (quantity, rate) pair.
type CandidateDTO struct {
	Quantity      decimal.Decimal `json:"quantity"`
	Rate          int             `json:"rate"`
	RoundedAmount decimal.Decimal `json:"rounded_amount"`
	Remainder     decimal.Decimal `json:"remainder"`
}

// =============================================================================
// RECONCILIATION
// =============================================================================

// AnomalyDTO is one detected inconsistency.
type AnomalyDTO struct {
	Kind         string          `json:"kind"`
	DebtSerialNo string          `json:"debt_serial_no,omitempty"`
	PaymentID    string          `json:"payment_id,omitempty"`
	Excess       decimal.Decimal `json:"excess"`
	Message      string          `json:"message"`
}

// PlanRequest is the body for POST /api/reconciliation/plans. An empty body
// uses the configured default.
type PlanRequest struct {
	CapAllocations *bool `json:"cap_allocations,omitempty"`
}

// PaymentChangeDTO is one planned allocation rewrite.
type PaymentChangeDTO struct {
	PaymentID string          `json:"payment_id"`
	Before    []AllocationDTO `json:"before"`
	After     []AllocationDTO `json:"after"`
	Notes     []string        `json:"notes,omitempty"`
}

// DebtStatusDTO tracks one over-allocated debt.
type DebtStatusDTO struct {
	SerialNo string          `json:"serial_no"`
	Excess   decimal.Decimal `json:"excess"`
	State    string          `json:"state"`
}

// UnresolvedDTO is an excess the plan could not absorb.
type UnresolvedDTO struct {
	SerialNo  string          `json:"serial_no"`
	Remaining decimal.Decimal `json:"remaining"`
}

// PlanDTO is a reconciliation plan.
type PlanDTO struct {
	ID         string             `json:"id"`
	CreatedAt  time.Time          `json:"created_at"`
	State      string             `json:"state"`
	Empty      bool               `json:"empty"`
	Changes    []PaymentChangeDTO `json:"changes"`
	Debts      []DebtStatusDTO    `json:"debts"`
	Unresolved []UnresolvedDTO    `json:"unresolved"`
	Notes      []string           `json:"notes"`
}

// RunDTO is one recorded apply attempt.
type RunDTO struct {
	ID              string    `json:"id"`
	PlanID          string    `json:"plan_id"`
	Status          string    `json:"status"`
	PaymentsTouched int       `json:"payments_touched"`
	Unresolved      int       `json:"unresolved"`
	Error           string    `json:"error,omitempty"`
	StartedAt       time.Time `json:"started_at"`
	CompletedAt     time.Time `json:"completed_at"`
}

// ErrorResponse is returned for all errors.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func debtStatus(b ledger.Breakdown) string {
	switch {
	case b.IsOverAllocated():
		return "over_allocated"
	case b.IsSettled():
		return "settled"
	default:
		return "open"
	}
}

func toDebtDTO(d ledger.DebtEntry, b ledger.Breakdown) DebtDTO {
	dto := DebtDTO{
		ID:                string(d.ID),
		SerialNo:          string(d.SerialNo),
		Party:             d.Party,
		OriginalAmount:    d.OriginalAmount,
		AdjustedOriginal:  d.AdjustedOriginal,
		EffectiveOriginal: b.EffectiveOriginal,
		TotalPaid:         b.TotalPaid,
		TotalCashDiscount: b.TotalCashDiscount,
		Outstanding:       b.Outstanding,
		Status:            debtStatus(b),
	}
	if !d.Date.IsZero() {
		date := d.Date
		dto.Date = &date
	}
	return dto
}

func toAllocationDTOs(allocs []ledger.Allocation) []AllocationDTO {
	out := make([]AllocationDTO, len(allocs))
	for i, a := range allocs {
		out[i] = AllocationDTO{
			DebtSerialNo:       string(a.DebtSerialNo),
			Amount:             a.Amount,
			CashDiscountAmount: a.CashDiscountAmount,
		}
	}
	return out
}

func toPaymentDTO(p ledger.Payment) PaymentDTO {
	return PaymentDTO{
		ID:                  string(p.ID),
		Date:                p.Date,
		Amount:              p.Amount,
		SettlementAmount:    p.SettlementAmount,
		UsedAmount:          p.UsedAmount(),
		CashDiscountAmount:  p.CashDiscountAmount,
		CashDiscountApplied: p.CashDiscountApplied,
		Allocations:         toAllocationDTOs(p.Allocations),
	}
}

func toContributionDTOs(cs []allocation.Contribution) []ContributionDTO {
	out := make([]ContributionDTO, len(cs))
	for i, c := range cs {
		out[i] = ContributionDTO{
			PaymentID:            string(c.PaymentID),
			Date:                 c.Date,
			ActualPaid:           c.ActualPaid,
			CashDiscount:         c.CashDiscount,
			RecordedCashDiscount: c.RecordedCashDiscount,
			Settled:              c.Settled(),
		}
	}
	return out
}

// ToCandidateDTOs converts search results for output.
func ToCandidateDTOs(cs []combination.Candidate) []CandidateDTO {
	out := make([]CandidateDTO, len(cs))
	for i, c := range cs {
		out[i] = CandidateDTO{
			Quantity:      c.Quantity,
			Rate:          c.Rate,
			RoundedAmount: c.RoundedAmount,
			Remainder:     c.Remainder,
		}
	}
	return out
}

// ToAnomalyDTOs converts validation results for output.
func ToAnomalyDTOs(as []ledger.Anomaly) []AnomalyDTO {
	out := make([]AnomalyDTO, len(as))
	for i, a := range as {
		out[i] = AnomalyDTO{
			Kind:         string(a.Kind),
			DebtSerialNo: string(a.DebtSerialNo),
			PaymentID:    string(a.PaymentID),
			Excess:       a.Excess,
			Message:      a.String(),
		}
	}
	return out
}

// ToPlanDTO converts a plan for output.
func ToPlanDTO(p *reconcile.Plan) PlanDTO {
	dto := PlanDTO{
		ID:         p.ID,
		CreatedAt:  p.CreatedAt,
		State:      string(p.State),
		Empty:      p.IsEmpty(),
		Changes:    make([]PaymentChangeDTO, len(p.Changes)),
		Debts:      make([]DebtStatusDTO, len(p.Debts)),
		Unresolved: make([]UnresolvedDTO, len(p.Unresolved)),
		Notes:      p.Notes,
	}
	if dto.Notes == nil {
		dto.Notes = []string{}
	}
	for i, c := range p.Changes {
		dto.Changes[i] = PaymentChangeDTO{
			PaymentID: string(c.PaymentID),
			Before:    toAllocationDTOs(c.Before),
			After:     toAllocationDTOs(c.After),
			Notes:     c.Notes,
		}
	}
	for i, d := range p.Debts {
		dto.Debts[i] = DebtStatusDTO{SerialNo: string(d.SerialNo), Excess: d.Excess, State: string(d.State)}
	}
	for i, u := range p.Unresolved {
		dto.Unresolved[i] = UnresolvedDTO{SerialNo: string(u.SerialNo), Remaining: u.Remaining}
	}
	return dto
}

func toRunDTO(r ledger.ReconciliationRun) RunDTO {
	return RunDTO{
		ID:              r.ID,
		PlanID:          r.PlanID,
		Status:          string(r.Status),
		PaymentsTouched: r.PaymentsTouched,
		Unresolved:      r.Unresolved,
		Error:           r.Error,
		StartedAt:       r.StartedAt,
		CompletedAt:     r.CompletedAt,
	}
}
