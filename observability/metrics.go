// Package observability exposes Prometheus metrics for the settlement engine.
package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Reconciliation metrics
	reconciliationPlansTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settlement_reconciliation_plans_total",
		Help: "Total reconciliation plans produced",
	}, []string{
		"source", // api, scheduler, cli
		"empty",  // true, false
	})

	reconciliationAppliesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settlement_reconciliation_applies_total",
		Help: "Total reconciliation apply attempts",
	}, []string{
		"status", // applied, stale, failed
	})

	reconciliationPaymentsTouched = promauto.NewCounter(prometheus.CounterOpts{
		Name: "settlement_reconciliation_payments_touched_total",
		Help: "Payments whose allocations were rewritten by reconciliation",
	})

	ledgerAnomalies = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "settlement_ledger_anomalies",
		Help: "Anomalies found by the most recent ledger validation",
	}, []string{
		"kind", // over_allocation, over_commitment, orphan_allocation
	})

	// Combination search metrics
	combinationSearchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "settlement_combination_search_duration_seconds",
		Help:    "Time spent in exhaustive combination searches",
		Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
	})

	combinationResults = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "settlement_combination_results",
		Help:    "Number of candidates returned per search",
		Buckets: []float64{0, 1, 10, 50, 100, 200},
	})

	// Allocation metrics
	allocationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settlement_allocations_total",
		Help: "Allocation requests by strategy and outcome",
	}, []string{
		"strategy", // exact, sequential_fill
		"status",   // ok, rejected
	})
)

// RecordPlan counts a produced plan.
func RecordPlan(source string, empty bool) {
	e := "false"
	if empty {
		e = "true"
	}
	reconciliationPlansTotal.WithLabelValues(source, e).Inc()
}

// RecordApply counts an apply attempt and the payments it rewrote.
func RecordApply(status string, paymentsTouched int) {
	reconciliationAppliesTotal.WithLabelValues(status).Inc()
	if status == "applied" {
		reconciliationPaymentsTouched.Add(float64(paymentsTouched))
	}
}

// SetAnomalies publishes the latest anomaly counts per kind.
func SetAnomalies(counts map[string]int) {
	ledgerAnomalies.Reset()
	for kind, n := range counts {
		ledgerAnomalies.WithLabelValues(kind).Set(float64(n))
	}
}

// ObserveCombinationSearch records one search.
func ObserveCombinationSearch(d time.Duration, results int) {
	combinationSearchDuration.Observe(d.Seconds())
	combinationResults.Observe(float64(results))
}

// RecordAllocation counts one Allocate call.
func RecordAllocation(strategy string, ok bool) {
	status := "ok"
	if !ok {
		status = "rejected"
	}
	allocationsTotal.WithLabelValues(strategy, status).Inc()
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
