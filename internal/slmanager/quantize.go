package slmanager

import "github.com/shopspring/decimal"

// quantizeLike rounds price to the same number of decimal places as
// prior (spec §4.7: "quantize to the same decimal places as the prior SL
// price if any"). defaultPlaces is used when there is no prior trigger
// to match against yet.
func quantizeLike(price, prior decimal.Decimal, defaultPlaces int32) decimal.Decimal {
	places := defaultPlaces
	if !prior.IsZero() {
		places = -prior.Exponent()
		if places < 0 {
			places = 0
		}
	}
	return price.Round(places)
}

// driftExceeds reports whether newVal differs from oldVal by strictly
// more than 1% of oldVal — spec §8's exact-1% boundary test requires
// exactly 1.0% drift to NOT trigger a cancel+re-create.
func driftExceeds(newVal, oldVal decimal.Decimal) bool {
	if oldVal.IsZero() {
		return !newVal.IsZero()
	}
	diff := newVal.Sub(oldVal).Abs()
	ratio := diff.Div(oldVal.Abs())
	return ratio.GreaterThan(driftThreshold)
}
