/*
scheduler.go - Periodic ledger drift detection

PURPOSE:
  Periodically loads the ledger, validates it and produces a reconciliation
  plan so that drift shows up in logs and metrics without anyone asking.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Also re-checks whenever the repository publishes a new snapshot
  - Exports anomaly counts per kind as gauges
  - NEVER applies a plan. Repairs go through the API or the CLI so a human
    reviews them first.

CONFIGURATION:
  - CheckInterval: How often to check (default: 1 hour)
  - Enabled: Whether scheduler is active (default: true)
  - CapAllocations: Whether produced plans include the rescale pass

USAGE:
  scheduler := NewReconciliationScheduler(repo, logger)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: CreatePlan / ApplyPlan endpoints (manual reconciliation)
  - reconcile/planner.go: Planner
*/
package api

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/warp/settlement-engine/ledger"
	"github.com/warp/settlement-engine/observability"
	"github.com/warp/settlement-engine/reconcile"
)

// CheckResult summarizes one detection pass.
type CheckResult struct {
	Anomalies []ledger.Anomaly
	Plan      *reconcile.Plan
}

// ReconciliationScheduler runs detection in the background.
type ReconciliationScheduler struct {
	Repo           ledger.Repository
	Planner        *reconcile.Planner
	Logger         *zap.Logger
	CheckInterval  time.Duration
	Enabled        bool
	CapAllocations bool

	// OnCheck, when set, receives every completed pass.
	OnCheck func(CheckResult)

	ticker *time.Ticker
	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewReconciliationScheduler creates a new scheduler.
func NewReconciliationScheduler(repo ledger.Repository, logger *zap.Logger) *ReconciliationScheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReconciliationScheduler{
		Repo:          repo,
		Planner:       reconcile.NewPlanner(),
		Logger:        logger,
		CheckInterval: 1 * time.Hour,
		Enabled:       true,
	}
}

// Start begins the scheduler.
func (rs *ReconciliationScheduler) Start() {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if !rs.Enabled {
		rs.Logger.Info("Reconciliation scheduler disabled, not starting")
		return
	}
	if rs.ticker != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	updates, err := rs.Repo.Subscribe(ctx)
	if err != nil {
		rs.Logger.Warn("Snapshot subscription unavailable, using interval only", zap.Error(err))
	}

	rs.cancel = cancel
	rs.ticker = time.NewTicker(rs.CheckInterval)
	rs.wg.Add(1)

	go rs.run(ctx, updates)

	rs.Logger.Info("Reconciliation scheduler started", zap.Duration("interval", rs.CheckInterval))
}

// Stop stops the scheduler and waits for an in-flight pass to finish.
func (rs *ReconciliationScheduler) Stop() {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if rs.ticker != nil {
		rs.ticker.Stop()
		rs.cancel()
		rs.wg.Wait()
		rs.ticker = nil
		rs.Logger.Info("Reconciliation scheduler stopped")
	}
}

func (rs *ReconciliationScheduler) run(ctx context.Context, updates <-chan ledger.Snapshot) {
	defer rs.wg.Done()

	// Run immediately on start
	rs.CheckNow(ctx)

	for {
		select {
		case <-rs.ticker.C:
			rs.CheckNow(ctx)
		case snap, ok := <-updates:
			if !ok {
				updates = nil
				continue
			}
			rs.check(snap)
		case <-ctx.Done():
			return
		}
	}
}

// CheckNow loads the ledger and runs one detection pass.
func (rs *ReconciliationScheduler) CheckNow(ctx context.Context) (CheckResult, error) {
	snap, err := rs.Repo.LoadAll(ctx)
	if err != nil {
		rs.Logger.Error("Reconciliation check failed to load ledger", zap.Error(err))
		return CheckResult{}, err
	}
	return rs.check(snap), nil
}

func (rs *ReconciliationScheduler) check(snap ledger.Snapshot) CheckResult {
	anomalies := ledger.ValidateLedger(snap)
	observability.SetAnomalies(countByKind(anomalies))

	plan := rs.Planner.Plan(snap, reconcile.Options{CapAllocationsToPaymentTotal: rs.CapAllocations})
	observability.RecordPlan("scheduler", plan.IsEmpty())

	if len(anomalies) > 0 || !plan.IsEmpty() {
		rs.Logger.Warn("Ledger drift detected",
			zap.Int("anomalies", len(anomalies)),
			zap.String("plan_id", plan.ID),
			zap.Int("changes", len(plan.Changes)),
			zap.Int("unresolved", len(plan.Unresolved)))
		for _, a := range anomalies {
			rs.Logger.Debug("Anomaly", zap.String("kind", string(a.Kind)), zap.String("detail", a.String()))
		}
	} else {
		rs.Logger.Debug("Ledger consistent",
			zap.Int("debts", len(snap.Debts)),
			zap.Int("payments", len(snap.Payments)))
	}

	result := CheckResult{Anomalies: anomalies, Plan: plan}
	if rs.OnCheck != nil {
		rs.OnCheck(result)
	}
	return result
}
