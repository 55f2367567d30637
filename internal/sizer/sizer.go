// Package sizer implements spec §4.4's single- and multi-copy position
// sizing formulas in shopspring/decimal fixed point, and the lot-step
// snapping rule shared by every sizing path.
package sizer

import (
	"github.com/shopspring/decimal"
)

var (
	hundred    = decimal.NewFromInt(100)
	minNotional = decimal.NewFromInt(5)
)

// Bounds is the configured dynamic size band (`max_pos_size_perc`,
// `min_pos_size_perc` in spec §6).
type Bounds struct {
	Min decimal.Decimal
	Max decimal.Decimal
}

// PercentOfEquity computes spec §4.4's base single-copy size: x = clamp(x0
// + win_lose_res*incr_decr_perc, MIN, MAX), then usdt_per_pos = B * x/100.
func PercentOfEquity(totalEquity, allocationOfTotalBalance, baseX0, incrDecrPerc decimal.Decimal, winLoseRes int, bounds Bounds) decimal.Decimal {
	b := totalEquity.Mul(allocationOfTotalBalance).Div(hundred)
	x := baseX0.Add(decimal.NewFromInt(int64(winLoseRes)).Mul(incrDecrPerc))
	x = clamp(x, bounds.Min, bounds.Max)
	return b.Mul(x).Div(hundred)
}

// RawQty converts a USDT allocation into raw contract quantity before lot
// snapping: (usdt_per_pos / entry_price) * leverage.
func RawQty(usdtPerPos, entryPrice decimal.Decimal, leverage int) decimal.Decimal {
	if entryPrice.IsZero() {
		return decimal.Zero
	}
	return usdtPerPos.Div(entryPrice).Mul(decimal.NewFromInt(int64(leverage)))
}

// MultiCopyBalance implements spec §4.4's multi-copy variant:
// total_kc = min(1, Σ KC(t)), B_kc = B * total_kc.
func MultiCopyBalance(totalEquity, allocationOfTotalBalance decimal.Decimal, sumKC decimal.Decimal) decimal.Decimal {
	b := totalEquity.Mul(allocationOfTotalBalance).Div(hundred)
	totalKC := decimal.Min(decimal.NewFromInt(1), sumKC)
	return b.Mul(totalKC)
}

// MultiCopyShare computes one trader's normalized Kelly share: KC(t)/Σ if
// Σ>1, else KC(t) itself.
func MultiCopyShare(kcTrader, sumKC decimal.Decimal) decimal.Decimal {
	if sumKC.GreaterThan(decimal.NewFromInt(1)) {
		if sumKC.IsZero() {
			return decimal.Zero
		}
		return kcTrader.Div(sumKC)
	}
	return kcTrader
}

// PerPositionSize divides a trader's allocated share across their
// currently admitted open position count.
func PerPositionSize(bKC, share decimal.Decimal, openPositions int) decimal.Decimal {
	if openPositions <= 0 {
		return decimal.Zero
	}
	return bKC.Mul(share).Div(decimal.NewFromInt(int64(openPositions)))
}

// SingleCopyBalance implements spec §4.4's single-copy variant:
// B_kc = B * min(1, KC(t*)/penalty(t*)).
func SingleCopyBalance(totalEquity, allocationOfTotalBalance, kcLeader, penalty decimal.Decimal) decimal.Decimal {
	b := totalEquity.Mul(allocationOfTotalBalance).Div(hundred)
	if penalty.IsZero() {
		return decimal.Zero
	}
	ratio := decimal.Min(decimal.NewFromInt(1), kcLeader.Div(penalty))
	return b.Mul(ratio)
}

func clamp(x, min, max decimal.Decimal) decimal.Decimal {
	if x.LessThan(min) {
		return min
	}
	if x.GreaterThan(max) {
		return max
	}
	return x
}

// SnapToStep implements spec §4.4/§8's lot-step rule: round raw to the
// nearest step multiple (ties break upward/toward ceiling), clamp to
// min_qty, then force a round-up if the resulting notional is below the
// 5 USDT minimum.
func SnapToStep(raw, step, minQty, price decimal.Decimal) decimal.Decimal {
	if step.IsZero() {
		return raw
	}

	steps := raw.Div(step)
	floor := steps.Floor()
	rem := steps.Sub(floor)

	half := decimal.NewFromFloat(0.5)
	var rounded decimal.Decimal
	if rem.GreaterThanOrEqual(half) {
		rounded = floor.Add(decimal.NewFromInt(1)).Mul(step)
	} else {
		rounded = floor.Mul(step)
	}

	if rounded.LessThan(minQty) {
		rounded = minQty
	}

	if !price.IsZero() && rounded.Mul(price).LessThan(minNotional) {
		rounded = floor.Add(decimal.NewFromInt(1)).Mul(step)
		if rounded.LessThan(minQty) {
			rounded = minQty
		}
	}

	return rounded
}
