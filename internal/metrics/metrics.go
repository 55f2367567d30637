// Package metrics exposes the copy-trading engine's Prometheus surface on
// a private registry, grounded on metrics/metrics.go's
// promauto.With(Registry) + namespaced GaugeVec/CounterVec/HistogramVec
// style.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/shadowmirror/copytrader/internal/domain"
)

// Registry is the private registry internal/api's /metrics handler
// serves, kept separate from the default global registry the way the
// teacher's metrics package does.
var Registry = prometheus.NewRegistry()

var (
	cycleDuration = promauto.With(Registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "copytrader",
			Subsystem: "engine",
			Name:      "cycle_duration_seconds",
			Help:      "Per-instance reconcile+admit+slmanager cycle duration",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"instance"},
	)

	cycleErrors = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "copytrader",
			Subsystem: "engine",
			Name:      "cycle_errors_total",
			Help:      "Cycles that returned an error",
		},
		[]string{"instance"},
	)

	crashBackoff = promauto.With(Registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "copytrader",
			Subsystem: "engine",
			Name:      "consecutive_crashes",
			Help:      "Current consecutive-crash count, spec §7's halt-after-3 counter",
		},
		[]string{"instance"},
	)

	positionsAdmitted = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "copytrader",
			Subsystem: "admission",
			Name:      "positions_admitted_total",
			Help:      "Positions given a live entry order this cycle",
		},
		[]string{"instance", "trader_id"},
	)

	positionsDropped = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "copytrader",
			Subsystem: "admission",
			Name:      "positions_dropped_total",
			Help:      "Positions marked ignored by the admission step (lower kc, etc)",
		},
		[]string{"instance", "trader_id", "reason"},
	)

	traderKC = promauto.With(Registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "copytrader",
			Subsystem: "trader",
			Name:      "kelly_criterion",
			Help:      "Current Kelly-criterion value per trader per instance",
		},
		[]string{"instance", "trader_id"},
	)

	traderPenalty = promauto.With(Registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "copytrader",
			Subsystem: "trader",
			Name:      "penalty_multiplier",
			Help:      "Current stop-loss penalty multiplier per trader per instance",
		},
		[]string{"instance", "trader_id"},
	)

	openPositions = promauto.With(Registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "copytrader",
			Subsystem: "position",
			Name:      "open_count",
			Help:      "Currently active mirrored positions per instance",
		},
		[]string{"instance"},
	)

	triggerFillsTotal = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "copytrader",
			Subsystem: "slmanager",
			Name:      "trigger_fills_total",
			Help:      "Stop-loss/take-profit trigger orders observed filled",
		},
		[]string{"instance", "kind"},
	)
)

// ObserveCycle records one completed
// instance cycle's duration and error outcome.
func ObserveCycle(instance domain.Instance, d time.Duration, err error) {
	cycleDuration.WithLabelValues(string(instance)).Observe(d.Seconds())
	if err != nil {
		cycleErrors.WithLabelValues(string(instance)).Inc()
	}
}

// ObserveCrashBackoff records the running
// consecutive-crash count spec §7's halt policy keys off.
func ObserveCrashBackoff(instance domain.Instance, consecutiveCrashes int) {
	crashBackoff.WithLabelValues(string(instance)).Set(float64(consecutiveCrashes))
}

// RecordAdmission records one AdmissionDecision (admitted or dropped)
// from the per-cycle decision audit.
func RecordAdmission(instance domain.Instance, traderID, reason string, admitted bool) {
	if admitted {
		positionsAdmitted.WithLabelValues(string(instance), traderID).Inc()
		return
	}
	positionsDropped.WithLabelValues(string(instance), traderID, reason).Inc()
}

// SetTraderKC records a trader's current Kelly-criterion reading.
func SetTraderKC(instance domain.Instance, traderID string, kc float64) {
	traderKC.WithLabelValues(string(instance), traderID).Set(kc)
}

// SetTraderPenalty records a trader's current stop-loss penalty multiplier.
func SetTraderPenalty(instance domain.Instance, traderID string, penalty float64) {
	traderPenalty.WithLabelValues(string(instance), traderID).Set(penalty)
}

// SetOpenPositions records the current active mirrored-position count.
func SetOpenPositions(instance domain.Instance, count int) {
	openPositions.WithLabelValues(string(instance)).Set(float64(count))
}

// RecordTriggerFill records one observed SL/TP trigger fill.
func RecordTriggerFill(instance domain.Instance, kind string) {
	triggerFillsTotal.WithLabelValues(string(instance), kind).Inc()
}
