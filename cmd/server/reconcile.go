package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/warp/settlement-engine/api"
	"github.com/warp/settlement-engine/ledger"
	"github.com/warp/settlement-engine/observability"
	"github.com/warp/settlement-engine/reconcile"
	"github.com/warp/settlement-engine/store/sqlite"
)

func init() {
	rootCmd.AddCommand(reconcileCmd)
	reconcileCmd.Flags().Bool("apply", false, "Commit the plan after printing it")
	reconcileCmd.Flags().Bool("cap", false, "Rescale allocations that exceed their payment's used amount")
}

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Plan a ledger repair and print it as JSON",
	Long: `Loads the ledger, reports anomalies and prints the reconciliation plan.
Nothing is written unless --apply is given. A plan whose inputs changed
between planning and apply is rejected and nothing is written.`,
	Args: cobra.NoArgs,
	RunE: runReconcile,
}

type reconcileOutput struct {
	Anomalies []api.AnomalyDTO `json:"anomalies"`
	Plan      api.PlanDTO      `json:"plan"`
}

func runReconcile(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	apply, _ := cmd.Flags().GetBool("apply")
	capAllocs, _ := cmd.Flags().GetBool("cap")
	capAllocs = capAllocs || cfg.Reconciliation.CapAllocations

	logger, err := newLogger(cfg.Logger)
	if err != nil {
		return err
	}
	defer logger.Sync()

	store, err := sqlite.New(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer store.Close()

	ctx := cmd.Context()
	snap, err := store.LoadAll(ctx)
	if err != nil {
		return fmt.Errorf("failed to load ledger: %w", err)
	}

	anomalies := ledger.ValidateLedger(snap)
	plan := reconcile.NewPlanner().Plan(snap, reconcile.Options{CapAllocationsToPaymentTotal: capAllocs})
	observability.RecordPlan("cli", plan.IsEmpty())

	if apply {
		if err := reconcile.NewApplier(store, logger).Apply(ctx, plan); err != nil {
			if ledger.IsRetryable(err) {
				return fmt.Errorf("ledger changed while planning, run again: %w", err)
			}
			return err
		}
	}

	out := reconcileOutput{Anomalies: api.ToAnomalyDTOs(anomalies), Plan: api.ToPlanDTO(plan)}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		return err
	}

	logger.Debug("Reconcile command finished",
		zap.String("plan_id", plan.ID),
		zap.String("state", string(plan.State)),
		zap.Int("anomalies", len(anomalies)))
	return nil
}
