package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/warp/settlement-engine/ledger"
	"github.com/warp/settlement-engine/observability"
)

// =============================================================================
// APPLIER - The only write path of the engine
// =============================================================================

// Applier commits plans through a Repository.
//
// INVARIANTS:
//   - All-or-nothing: every change in the plan is written, or none is.
//   - Preconditions: each change's Before must still match the stored
//     allocations, otherwise the apply fails with ErrStaleState and the
//     caller must re-plan.
type Applier struct {
	Repo   ledger.Repository
	Logger *zap.Logger
	Clock  func() time.Time
}

func NewApplier(repo ledger.Repository, logger *zap.Logger) *Applier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Applier{Repo: repo, Logger: logger, Clock: time.Now}
}

func (a *Applier) now() time.Time {
	if a.Clock == nil {
		return time.Now().UTC()
	}
	return a.Clock().UTC()
}

// Apply writes the plan. An empty plan is marked applied without a write.
func (a *Applier) Apply(ctx context.Context, plan *Plan) error {
	if plan.State != StatePlanned {
		return fmt.Errorf("%w: plan %s is %s", ledger.ErrInvalidTransition, plan.ID, plan.State)
	}

	run := ledger.ReconciliationRun{
		ID:              uuid.NewString(),
		PlanID:          plan.ID,
		PaymentsTouched: len(plan.Changes),
		Unresolved:      len(plan.Unresolved),
		StartedAt:       a.now(),
	}

	var err error
	if !plan.IsEmpty() {
		err = a.Repo.CommitBatch(ctx, plan.Updates())
	}
	run.CompletedAt = a.now()

	switch {
	case err == nil:
		run.Status = ledger.RunApplied
	case errors.Is(err, ledger.ErrStaleState):
		run.Status = ledger.RunStale
		run.Error = err.Error()
		run.PaymentsTouched = 0
	default:
		run.Status = ledger.RunFailed
		run.Error = err.Error()
		run.PaymentsTouched = 0
	}
	observability.RecordApply(string(run.Status), run.PaymentsTouched)
	a.recordRun(ctx, run)

	if err != nil {
		a.Logger.Warn("Reconciliation apply aborted",
			zap.String("plan_id", plan.ID),
			zap.String("status", string(run.Status)),
			zap.Error(err))
		return err
	}

	if err := plan.markApplied(); err != nil {
		return err
	}
	a.Logger.Info("Reconciliation plan applied",
		zap.String("plan_id", plan.ID),
		zap.Int("payments", len(plan.Changes)),
		zap.Int("unresolved", len(plan.Unresolved)))
	return nil
}

func (a *Applier) recordRun(ctx context.Context, run ledger.ReconciliationRun) {
	rec, ok := a.Repo.(ledger.RunRecorder)
	if !ok {
		return
	}
	if err := rec.SaveReconciliationRun(ctx, run); err != nil {
		a.Logger.Error("Failed to record reconciliation run",
			zap.String("run_id", run.ID),
			zap.Error(err))
	}
}
