// Package filter implements spec §4.2's ordered ignore-reason state
// machine and the cross-trader conflict resolution pass that runs once
// per cycle after per-position gating.
package filter

import (
	"time"

	"github.com/shadowmirror/copytrader/internal/config"
	"github.com/shadowmirror/copytrader/internal/domain"
)

// Reason is the ignore reason attached to a position, one-to-one with
// spec §4.2's state machine steps.
type Reason string

const (
	ReasonNone           Reason = ""
	ReasonFirstRun       Reason = "first_run"
	ReasonObserved       Reason = "observed"
	ReasonNegativeROISet Reason = "negative_roi_set"
	ReasonMissingROI     Reason = "missing_roi"
	ReasonNegativeROI    Reason = "negative_roi"
	ReasonLowTradeCount  Reason = "low_trade_count"
	ReasonNegativeKC     Reason = "negative_kc"
	ReasonHedged         Reason = "hedged"
	ReasonCrossOpposite  Reason = "cross_opposite"
	ReasonDuplicate      Reason = "duplicate"
	ReasonExpired        Reason = "expired"
	// ReasonLowerKC is spec §4.6's selector-driven ignore reason: a
	// trader's positions are dropped once another trader's KC clears the
	// 20% hysteresis band, literally "lower kc" per spec §8 scenario 6.
	ReasonLowerKC Reason = "lower kc"
)

const minClosedTrades = 30

// TraderWindowStats is the subset of TraderStats the filter needs for
// one date-range window.
type TraderWindowStats struct {
	DateRange  string
	YieldRatio float64
	Found      bool
}

// Input bundles everything the filter needs to gate one new upstream
// position, gathered by the reconciler before calling Evaluate.
type Input struct {
	Trader     domain.Trader
	Windows    []TraderWindowStats // per-date-range ROI readings, e.g. "7d","30d","total"
	KC         domain.KCStats
	IsFirstRun bool
}

// Evaluate runs spec §4.2's ordered, first-trigger-wins gate for one new
// upstream position and returns the reason it should be ignored, or
// ReasonNone if it is admitted.
func Evaluate(cfg *config.Config, in Input) Reason {
	if in.IsFirstRun {
		return ReasonFirstRun
	}

	if cfg.IgnoreObservedTraders && in.Trader.IsObserved && !in.Trader.IsFollowed {
		return ReasonObserved
	}

	if cfg.IgnoreNegAllTimeframesROI {
		if reason := negativeROISet(in.Windows); reason != ReasonNone {
			return reason
		}
	}

	if cfg.IgnoreNegTotalROI {
		total, ok := findWindow(in.Windows, "total")
		if !ok {
			return ReasonMissingROI
		}
		if total.YieldRatio <= 0 {
			return ReasonNegativeROI
		}
	}

	if in.KC.TradesCount < minClosedTrades {
		return ReasonLowTradeCount
	}

	if in.KC.KellyCriterion() <= 0 {
		return ReasonNegativeKC
	}

	return ReasonNone
}

// negativeROISet implements the "negative ROI set" step: any configured
// window with non-positive ROI produces a composite reason naming every
// failing timeframe.
func negativeROISet(windows []TraderWindowStats) Reason {
	var failing []string
	for _, w := range windows {
		if !w.Found || w.YieldRatio <= 0 {
			failing = append(failing, w.DateRange)
		}
	}
	if len(failing) == 0 {
		return ReasonNone
	}
	reason := ReasonNegativeROISet
	for _, f := range failing {
		reason += Reason(":" + f)
	}
	return reason
}

func findWindow(windows []TraderWindowStats, dateRange string) (TraderWindowStats, bool) {
	for _, w := range windows {
		if w.DateRange == dateRange {
			return w, w.Found
		}
	}
	return TraderWindowStats{}, false
}

// Expired reports whether a copied-but-unfilled position has outlived
// max_time_to_fill, per spec §4.2's final step and §8's boundary test
// (exactly at the threshold does trigger expiry on the next cycle).
func Expired(insertedOn time.Time, maxTimeToFill time.Duration, now time.Time) bool {
	return !now.Before(insertedOn.Add(maxTimeToFill))
}
