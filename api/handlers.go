/*
handlers.go - HTTP API handlers for the settlement engine

PURPOSE:
  Exposes the allocation, combination and reconciliation engines via REST.
  Handles HTTP request/response, JSON serialization, and delegates to the
  engine packages. Handlers never compute money themselves.

ENDPOINTS:
  Debts:
    GET    /api/debts                         List debts with breakdowns
    POST   /api/debts                         Create or replace a debt
    GET    /api/debts/{serial}                Breakdown + per-payment contributions

  Payments:
    GET    /api/payments                      List payments (?debt=serial filter)
    POST   /api/payments                      Allocate and store a new payment
    POST   /api/payments/preview              Allocate without storing
    GET    /api/payments/{id}                 Get one payment

  Combinations:
    POST   /api/combinations                  Ranked (quantity, rate) suggestions

  Reconciliation:
    GET    /api/anomalies                     Ledger-wide validation
    POST   /api/reconciliation/plans          Produce a plan (never writes)
    GET    /api/reconciliation/plans/{id}     Get a produced plan
    POST   /api/reconciliation/plans/{id}/apply    Commit a plan atomically
    POST   /api/reconciliation/plans/{id}/discard  Drop a plan
    GET    /api/reconciliation/runs           Apply audit log

ARCHITECTURE:
  Handler struct holds all dependencies:
  - Repo: ledger.Repository (SQLite in production)
  - Planner / Applier: reconciliation engine
  - plans: produced plans awaiting apply or discard, keyed by plan ID

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input (ledger.IsClientError)
  - 404: Record or plan not found
  - 409: Stale state at apply, plan already applied/discarded
  - 500: Internal errors

SECURITY NOTE:
  Currently NO authentication or authorization. All endpoints are public.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
  - scheduler.go: Background anomaly detection
*/
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/warp/settlement-engine/allocation"
	"github.com/warp/settlement-engine/combination"
	"github.com/warp/settlement-engine/ledger"
	"github.com/warp/settlement-engine/observability"
	"github.com/warp/settlement-engine/reconcile"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	Repo    ledger.Repository
	Logger  *zap.Logger
	Planner *reconcile.Planner
	Applier *reconcile.Applier
	Clock   func() time.Time

	// CapAllocations is the default for plan requests that do not say.
	CapAllocations bool

	// MaxPlans bounds how many produced plans are kept for apply or discard.
	MaxPlans int

	mu        sync.Mutex
	plans     map[string]*planEntry
	planOrder []string
}

// DefaultMaxPlans is the number of produced plans kept in memory.
const DefaultMaxPlans = 256

// planEntry pairs a plan with its last rendered view. busy marks an apply
// in progress; the plan itself is only touched by whoever set busy.
type planEntry struct {
	plan *reconcile.Plan
	dto  PlanDTO
	busy bool
}

// NewHandler creates a new handler.
func NewHandler(repo ledger.Repository, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		Repo:     repo,
		Logger:   logger,
		Planner:  reconcile.NewPlanner(),
		Applier:  reconcile.NewApplier(repo, logger),
		Clock:    time.Now,
		MaxPlans: DefaultMaxPlans,
		plans:    make(map[string]*planEntry),
	}
}

func (h *Handler) now() time.Time {
	if h.Clock == nil {
		return time.Now().UTC()
	}
	return h.Clock().UTC()
}

// =============================================================================
// DEBT ENDPOINTS
// =============================================================================

// ListDebts returns all debts with their breakdowns.
// GET /api/debts
func (h *Handler) ListDebts(w http.ResponseWriter, r *http.Request) {
	snap, err := h.Repo.LoadAll(r.Context())
	if err != nil {
		h.writeDomainError(w, "failed to load ledger", err)
		return
	}

	dtos := make([]DebtDTO, len(snap.Debts))
	for i, d := range snap.Debts {
		dtos[i] = toDebtDTO(d, ledger.ComputeBreakdown(d, snap.Payments))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateDebt stores a debt entry.
// POST /api/debts
func (h *Handler) CreateDebt(w http.ResponseWriter, r *http.Request) {
	var req CreateDebtRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	id := req.ID
	if id == "" {
		id = uuid.NewString()
	}
	debt := ledger.DebtEntry{
		ID:               ledger.DebtID(id),
		SerialNo:         ledger.SerialNo(req.SerialNo),
		Party:            req.Party,
		OriginalAmount:   req.OriginalAmount,
		AdjustedOriginal: req.AdjustedOriginal,
	}
	if req.Date != nil {
		debt.Date = req.Date.UTC()
	}
	if err := debt.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, "invalid debt", err)
		return
	}

	if err := h.Repo.SaveDebt(r.Context(), debt); err != nil {
		h.writeDomainError(w, "failed to save debt", err)
		return
	}

	h.Logger.Info("Debt saved",
		zap.String("serial_no", string(debt.SerialNo)),
		zap.String("effective_original", debt.EffectiveOriginal().String()))

	b := ledger.ComputeBreakdown(debt, nil)
	if snap, err := h.Repo.LoadAll(r.Context()); err == nil {
		b = ledger.ComputeBreakdown(debt, snap.Payments)
	}
	writeJSON(w, http.StatusCreated, toDebtDTO(debt, b))
}

// GetDebt returns a debt's breakdown and the payments that contributed to it.
// GET /api/debts/{serial}
func (h *Handler) GetDebt(w http.ResponseWriter, r *http.Request) {
	serial := ledger.SerialNo(chi.URLParam(r, "serial"))

	snap, err := h.Repo.LoadAll(r.Context())
	if err != nil {
		h.writeDomainError(w, "failed to load ledger", err)
		return
	}

	debt, ok := snap.Debt(serial)
	if !ok {
		writeError(w, http.StatusNotFound, "debt not found", nil)
		return
	}

	payments := snap.PaymentsFor(serial)
	writeJSON(w, http.StatusOK, DebtDetailDTO{
		Debt:          toDebtDTO(debt, ledger.ComputeBreakdown(debt, payments)),
		Contributions: toContributionDTOs(allocation.DebtPaymentBreakdown(debt, payments)),
		Anomalies:     ToAnomalyDTOs(ledger.Validate(debt, payments)),
	})
}

// =============================================================================
// PAYMENT ENDPOINTS
// =============================================================================

// ListPayments returns payments, optionally only those touching one debt.
// GET /api/payments?debt={serial}
func (h *Handler) ListPayments(w http.ResponseWriter, r *http.Request) {
	snap, err := h.Repo.LoadAll(r.Context())
	if err != nil {
		h.writeDomainError(w, "failed to load ledger", err)
		return
	}

	payments := snap.Payments
	if serial := r.URL.Query().Get("debt"); serial != "" {
		payments = snap.PaymentsFor(ledger.SerialNo(serial))
	}

	dtos := make([]PaymentDTO, len(payments))
	for i, p := range payments {
		dtos[i] = toPaymentDTO(p)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetPayment returns one payment.
// GET /api/payments/{id}
func (h *Handler) GetPayment(w http.ResponseWriter, r *http.Request) {
	id := ledger.PaymentID(chi.URLParam(r, "id"))

	p, err := h.Repo.GetPayment(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, "failed to get payment", err)
		return
	}
	writeJSON(w, http.StatusOK, toPaymentDTO(p))
}

// CreatePayment allocates a new payment across the selected debts and stores
// it.
// POST /api/payments
func (h *Handler) CreatePayment(w http.ResponseWriter, r *http.Request) {
	var req CreatePaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	payment, err := h.buildPayment(r, req)
	if err != nil {
		h.writeDomainError(w, "allocation rejected", err)
		return
	}

	if err := h.Repo.SavePayment(r.Context(), payment); err != nil {
		h.writeDomainError(w, "failed to save payment", err)
		return
	}

	h.Logger.Info("Payment allocated",
		zap.String("payment_id", string(payment.ID)),
		zap.String("used_amount", payment.UsedAmount().String()),
		zap.String("cash_discount", payment.CashDiscountAmount.String()),
		zap.Int("allocations", len(payment.Allocations)))

	writeJSON(w, http.StatusCreated, toPaymentDTO(payment))
}

// PreviewPayment runs the allocation without storing anything.
// POST /api/payments/preview
func (h *Handler) PreviewPayment(w http.ResponseWriter, r *http.Request) {
	var req CreatePaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	payment, err := h.buildPayment(r, req)
	if err != nil {
		h.writeDomainError(w, "allocation rejected", err)
		return
	}
	writeJSON(w, http.StatusOK, PreviewResponse{
		UsedAmount:  payment.UsedAmount(),
		Allocations: toAllocationDTOs(payment.Allocations),
	})
}

// buildPayment resolves targets against the current ledger and runs
// Allocate over the payment's used amount.
func (h *Handler) buildPayment(r *http.Request, req CreatePaymentRequest) (ledger.Payment, error) {
	strategy := allocation.StrategySequentialFill
	if req.Strategy != "" {
		s, ok := allocation.ParseStrategy(req.Strategy)
		if !ok {
			return ledger.Payment{}, &ledger.RecordError{Record: "payment", Field: "strategy", Reason: "unknown " + req.Strategy}
		}
		strategy = s
	}

	snap, err := h.Repo.LoadAll(r.Context())
	if err != nil {
		return ledger.Payment{}, err
	}

	refs := make([]allocation.DebtRef, 0, len(req.Targets))
	for _, t := range req.Targets {
		serial := ledger.SerialNo(t.SerialNo)
		debt, ok := snap.Debt(serial)
		if !ok {
			return ledger.Payment{}, fmt.Errorf("%w: debt %s", ledger.ErrNotFound, t.SerialNo)
		}
		b := ledger.ComputeBreakdown(debt, snap.Payments)
		refs = append(refs, allocation.DebtRef{SerialNo: serial, Outstanding: b.Outstanding, Amount: t.Amount})
	}

	id := req.ID
	if id == "" {
		id = uuid.NewString()
	}
	payment := ledger.Payment{
		ID:                  ledger.PaymentID(id),
		Date:                h.now(),
		Amount:              req.Amount,
		SettlementAmount:    req.SettlementAmount,
		CashDiscountAmount:  req.CashDiscountAmount,
		CashDiscountApplied: req.CashDiscountAmount.IsPositive(),
	}
	if req.Date != nil {
		payment.Date = req.Date.UTC()
	}

	allocs, err := allocation.Allocate(payment.UsedAmount(), payment.CashDiscountAmount, refs, strategy)
	observability.RecordAllocation(string(strategy), err == nil)
	if err != nil {
		return ledger.Payment{}, err
	}
	payment.Allocations = allocs

	if err := payment.Validate(); err != nil {
		return ledger.Payment{}, err
	}
	return payment, nil
}

// =============================================================================
// COMBINATION ENDPOINTS
// =============================================================================

// SuggestCombinations runs the exhaustive (quantity, rate) search.
// POST /api/combinations
func (h *Handler) SuggestCombinations(w http.ResponseWriter, r *http.Request) {
	var req CombinationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	start := time.Now()
	candidates, err := combination.Generate(combination.Request{
		TargetAmount:   req.TargetAmount,
		MinRate:        req.MinRate,
		MaxRate:        req.MaxRate,
		RoundToHundred: req.RoundToHundred,
	})
	if err != nil {
		h.writeDomainError(w, "invalid combination request", err)
		return
	}
	observability.ObserveCombinationSearch(time.Since(start), len(candidates))

	writeJSON(w, http.StatusOK, ToCandidateDTOs(candidates))
}

// =============================================================================
// RECONCILIATION ENDPOINTS
// =============================================================================

// ListAnomalies validates the whole ledger.
// GET /api/anomalies
func (h *Handler) ListAnomalies(w http.ResponseWriter, r *http.Request) {
	snap, err := h.Repo.LoadAll(r.Context())
	if err != nil {
		h.writeDomainError(w, "failed to load ledger", err)
		return
	}

	anomalies := ledger.ValidateLedger(snap)
	observability.SetAnomalies(countByKind(anomalies))
	writeJSON(w, http.StatusOK, ToAnomalyDTOs(anomalies))
}

// CreatePlan produces a reconciliation plan for the current ledger. Nothing
// is written until the plan is applied.
// POST /api/reconciliation/plans
func (h *Handler) CreatePlan(w http.ResponseWriter, r *http.Request) {
	var req PlanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	capAllocs := h.CapAllocations
	if req.CapAllocations != nil {
		capAllocs = *req.CapAllocations
	}

	snap, err := h.Repo.LoadAll(r.Context())
	if err != nil {
		h.writeDomainError(w, "failed to load ledger", err)
		return
	}

	plan := h.Planner.Plan(snap, reconcile.Options{CapAllocationsToPaymentTotal: capAllocs})
	observability.RecordPlan("api", plan.IsEmpty())

	dto := ToPlanDTO(plan)
	h.storePlan(plan, dto)

	h.Logger.Info("Reconciliation plan created",
		zap.String("plan_id", plan.ID),
		zap.Int("changes", len(plan.Changes)),
		zap.Int("unresolved", len(plan.Unresolved)),
		zap.Bool("cap_allocations", capAllocs))

	writeJSON(w, http.StatusCreated, dto)
}

// GetPlan returns a previously produced plan.
// GET /api/reconciliation/plans/{id}
func (h *Handler) GetPlan(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	entry, ok := h.plans[chi.URLParam(r, "id")]
	var dto PlanDTO
	if ok {
		dto = entry.dto
	}
	h.mu.Unlock()

	if !ok {
		writeError(w, http.StatusNotFound, "plan not found", nil)
		return
	}
	writeJSON(w, http.StatusOK, dto)
}

// ApplyPlan commits a plan. A stale plan is rejected with 409 and the
// caller should produce a new one. The handler lock is not held while the
// batch is committed.
// POST /api/reconciliation/plans/{id}/apply
func (h *Handler) ApplyPlan(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	h.mu.Lock()
	entry, ok := h.plans[id]
	if !ok {
		h.mu.Unlock()
		writeError(w, http.StatusNotFound, "plan not found", nil)
		return
	}
	if entry.busy {
		h.mu.Unlock()
		writeError(w, http.StatusConflict, "plan is being applied", nil)
		return
	}
	entry.busy = true
	h.mu.Unlock()

	err := h.Applier.Apply(r.Context(), entry.plan)

	h.mu.Lock()
	entry.busy = false
	entry.dto = ToPlanDTO(entry.plan)
	dto := entry.dto
	h.mu.Unlock()

	if err != nil {
		h.writeDomainError(w, "failed to apply plan", err)
		return
	}
	writeJSON(w, http.StatusOK, dto)
}

// DiscardPlan drops a plan without writing.
// POST /api/reconciliation/plans/{id}/discard
func (h *Handler) DiscardPlan(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	defer h.mu.Unlock()

	entry, ok := h.plans[chi.URLParam(r, "id")]
	if !ok {
		writeError(w, http.StatusNotFound, "plan not found", nil)
		return
	}
	if entry.busy {
		writeError(w, http.StatusConflict, "plan is being applied", nil)
		return
	}

	if err := entry.plan.Discard(); err != nil {
		h.writeDomainError(w, "failed to discard plan", err)
		return
	}
	entry.dto = ToPlanDTO(entry.plan)
	h.Logger.Info("Reconciliation plan discarded", zap.String("plan_id", entry.plan.ID))
	writeJSON(w, http.StatusOK, entry.dto)
}

// storePlan keeps a produced plan and evicts the oldest ones beyond
// MaxPlans, finished plans first.
func (h *Handler) storePlan(plan *reconcile.Plan, dto PlanDTO) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.plans[plan.ID] = &planEntry{plan: plan, dto: dto}
	h.planOrder = append(h.planOrder, plan.ID)

	limit := h.MaxPlans
	if limit <= 0 {
		limit = DefaultMaxPlans
	}
	for _, finishedOnly := range []bool{true, false} {
		kept := h.planOrder[:0]
		for _, id := range h.planOrder {
			e := h.plans[id]
			evict := len(h.plans) > limit && !e.busy && id != plan.ID &&
				(!finishedOnly || e.plan.State != reconcile.StatePlanned)
			if evict {
				delete(h.plans, id)
				continue
			}
			kept = append(kept, id)
		}
		h.planOrder = kept
	}
}

// ListReconciliationRuns returns the apply audit log, newest first.
// GET /api/reconciliation/runs?limit=50
func (h *Handler) ListReconciliationRuns(w http.ResponseWriter, r *http.Request) {
	rec, ok := h.Repo.(ledger.RunRecorder)
	if !ok {
		writeJSON(w, http.StatusOK, []RunDTO{})
		return
	}

	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "invalid limit", err)
			return
		}
		limit = n
	}

	runs, err := rec.ListReconciliationRuns(r.Context(), limit)
	if err != nil {
		h.writeDomainError(w, "failed to list runs", err)
		return
	}

	dtos := make([]RunDTO, len(runs))
	for i, run := range runs {
		dtos[i] = toRunDTO(run)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// Health reports liveness.
// GET /healthz
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// HELPERS
// =============================================================================

func countByKind(anomalies []ledger.Anomaly) map[string]int {
	counts := map[string]int{
		string(ledger.AnomalyOverAllocation):   0,
		string(ledger.AnomalyOverCommitment):   0,
		string(ledger.AnomalyOrphanAllocation): 0,
	}
	for _, a := range anomalies {
		counts[string(a.Kind)]++
	}
	return counts
}

// statusFor maps engine errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case ledger.IsRetryable(err):
		return http.StatusConflict
	case errors.Is(err, ledger.ErrInvalidTransition):
		return http.StatusConflict
	case ledger.IsNotFound(err):
		return http.StatusNotFound
	case ledger.IsClientError(err):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeDomainError(w http.ResponseWriter, message string, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.Logger.Error(message, zap.Error(err))
	}
	writeError(w, status, message, err)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

