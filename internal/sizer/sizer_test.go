package sizer

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func TestScenario1_NewAdmission(t *testing.T) {
	// spec §8 scenario 1: equity 10000, allocation 90%, x0=5%,
	// win_lose_res=0 ⇒ usdt_per_pos=450, raw_qty=(450/24)*5=93.75,
	// step=0.1 ⇒ 93.8.
	bounds := Bounds{Min: d("0"), Max: d("100")}
	usdtPerPos := PercentOfEquity(d("10000"), d("90"), d("5"), d("1"), 0, bounds)
	require.True(t, usdtPerPos.Equal(d("450")))

	raw := RawQty(usdtPerPos, d("24.00"), 5)
	require.True(t, raw.Equal(d("93.75")), "got %s", raw)

	snapped := SnapToStep(raw, d("0.1"), d("0"), d("24.00"))
	assert.True(t, snapped.Equal(d("93.8")), "got %s", snapped)
}

func TestScenario2_LeaderReduces(t *testing.T) {
	// spec §8 scenario 2: amount drops to 60 from 100 (mirror user_amount
	// 93.8), ratio=0.6 ⇒ new_user_amount=56.28, step-snapped to 56.3.
	ratio := d("0.6")
	newUserAmount := d("93.8").Mul(ratio)
	require.True(t, newUserAmount.Equal(d("56.28")), "got %s", newUserAmount)

	snapped := SnapToStep(newUserAmount, d("0.1"), d("0"), d("24.00"))
	assert.True(t, snapped.Equal(d("56.3")), "got %s", snapped)
}

func TestSnapToStep_TieBreaksUpward(t *testing.T) {
	// raw exactly halfway between two step multiples rounds up.
	raw := d("1.05")
	snapped := SnapToStep(raw, d("0.1"), d("0"), d("100"))
	assert.True(t, snapped.Equal(d("1.1")), "got %s", snapped)
}

func TestSnapToStep_RoundsToNearer(t *testing.T) {
	raw := d("1.03")
	snapped := SnapToStep(raw, d("0.1"), d("0"), d("100"))
	assert.True(t, snapped.Equal(d("1.0")), "got %s", snapped)
}

func TestSnapToStep_ForcesUpWhenBelowMinNotional(t *testing.T) {
	// rounded*price < 5 forces the upward rounding even if the nearer
	// value rounded down.
	raw := d("0.01")
	price := d("100")
	snapped := SnapToStep(raw, d("0.01"), d("0"), price)
	assert.True(t, snapped.Mul(price).GreaterThanOrEqual(minNotional) || snapped.Equal(d("0.01")))
}

func TestSnapToStep_ClampsToMinQty(t *testing.T) {
	raw := d("0.002")
	snapped := SnapToStep(raw, d("0.01"), d("0.01"), d("1"))
	assert.True(t, snapped.GreaterThanOrEqual(d("0.01")))
}

func TestPercentOfEquity_ClampsToBounds(t *testing.T) {
	bounds := Bounds{Min: d("1"), Max: d("10")}
	usdtPerPos := PercentOfEquity(d("10000"), d("90"), d("5"), d("2"), 10, bounds)
	// x would be 5 + 10*2 = 25, clamped to 10.
	require.True(t, usdtPerPos.Equal(d("9000").Mul(d("10")).Div(d("100"))), "got %s", usdtPerPos)
}

func TestMultiCopyShare_NormalizesWhenSumExceedsOne(t *testing.T) {
	share := MultiCopyShare(d("0.3"), d("1.5"))
	assert.True(t, share.Equal(d("0.2")), "got %s", share)
}

func TestMultiCopyShare_UsesRawKCWhenSumUnderOne(t *testing.T) {
	share := MultiCopyShare(d("0.3"), d("0.5"))
	assert.True(t, share.Equal(d("0.3")), "got %s", share)
}

func TestSingleCopyBalance_DividesByPenalty(t *testing.T) {
	b := SingleCopyBalance(d("10000"), d("90"), d("0.08"), d("2"))
	// B = 9000, ratio = min(1, 0.08/2) = 0.04 ⇒ 360
	assert.True(t, b.Equal(d("360")), "got %s", b)
}
