package filter

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/shadowmirror/copytrader/internal/config"
	"github.com/shadowmirror/copytrader/internal/domain"
)

func baseConfig() *config.Config {
	return &config.Config{
		IgnoreNegTotalROI:         true,
		IgnoreNegAllTimeframesROI: false,
		IgnoreObservedTraders:     true,
	}
}

func TestEvaluate_FirstRunAlwaysWins(t *testing.T) {
	cfg := baseConfig()
	reason := Evaluate(cfg, Input{IsFirstRun: true})
	assert.Equal(t, ReasonFirstRun, reason)
}

func TestEvaluate_ObservedOnly(t *testing.T) {
	cfg := baseConfig()
	in := Input{
		Trader:  domain.Trader{IsObserved: true, IsFollowed: false},
		Windows: []TraderWindowStats{{DateRange: "total", YieldRatio: 0.5, Found: true}},
		KC:      domain.KCStats{TradesCount: 40, AvgRoe: 0.1, RoeStdDev: 1},
	}
	assert.Equal(t, ReasonObserved, Evaluate(cfg, in))
}

func TestEvaluate_MissingTotalROI(t *testing.T) {
	cfg := baseConfig()
	in := Input{
		Trader: domain.Trader{IsFollowed: true},
		KC:     domain.KCStats{TradesCount: 40, AvgRoe: 0.1, RoeStdDev: 1},
	}
	assert.Equal(t, ReasonMissingROI, Evaluate(cfg, in))
}

func TestEvaluate_NegativeTotalROI(t *testing.T) {
	cfg := baseConfig()
	in := Input{
		Trader:  domain.Trader{IsFollowed: true},
		Windows: []TraderWindowStats{{DateRange: "total", YieldRatio: -0.01, Found: true}},
		KC:      domain.KCStats{TradesCount: 40, AvgRoe: 0.1, RoeStdDev: 1},
	}
	assert.Equal(t, ReasonNegativeROI, Evaluate(cfg, in))
}

func TestEvaluate_LowTradeCount(t *testing.T) {
	cfg := baseConfig()
	in := Input{
		Trader:  domain.Trader{IsFollowed: true},
		Windows: []TraderWindowStats{{DateRange: "total", YieldRatio: 0.2, Found: true}},
		KC:      domain.KCStats{TradesCount: 5, AvgRoe: 0.1, RoeStdDev: 1},
	}
	assert.Equal(t, ReasonLowTradeCount, Evaluate(cfg, in))
}

func TestEvaluate_NegativeKC(t *testing.T) {
	cfg := baseConfig()
	in := Input{
		Trader:  domain.Trader{IsFollowed: true},
		Windows: []TraderWindowStats{{DateRange: "total", YieldRatio: 0.2, Found: true}},
		KC:      domain.KCStats{TradesCount: 40, AvgRoe: -0.1, RoeStdDev: 1},
	}
	assert.Equal(t, ReasonNegativeKC, Evaluate(cfg, in))
}

func TestEvaluate_Admitted(t *testing.T) {
	cfg := baseConfig()
	in := Input{
		Trader:  domain.Trader{IsFollowed: true},
		Windows: []TraderWindowStats{{DateRange: "total", YieldRatio: 0.2, Found: true}},
		KC:      domain.KCStats{TradesCount: 40, AvgRoe: 0.1, RoeStdDev: 1},
	}
	assert.Equal(t, ReasonNone, Evaluate(cfg, in))
}

func TestExpired_ExactBoundaryTriggers(t *testing.T) {
	// spec §8: a still-unfilled copied position at T = insert_ts +
	// max_time_to_fill is marked expired on the next cycle — exactly at
	// the boundary, not only strictly past it.
	insertedOn := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	maxTimeToFill := 60 * time.Second
	now := insertedOn.Add(maxTimeToFill)

	assert.True(t, Expired(insertedOn, maxTimeToFill, now))
	assert.False(t, Expired(insertedOn, maxTimeToFill, now.Add(-time.Nanosecond)))
}

func TestResolveConflicts_Hedged(t *testing.T) {
	now := time.Now()
	older := domain.MirroredPosition{ID: 1, TraderID: "T", Symbol: "SOL-USDT", Side: domain.SideLong, UTime: now.Add(-time.Hour)}
	newer := domain.MirroredPosition{ID: 2, TraderID: "T", Symbol: "SOL-USDT", Side: domain.SideShort, UTime: now}

	conflicts := ResolveConflicts([]domain.MirroredPosition{older, newer}, nil, nil)
	assert.Len(t, conflicts, 1)
	assert.Equal(t, ReasonHedged, conflicts[0].Reason)
	assert.Equal(t, int64(1), conflicts[0].Loser.ID)
}

func TestResolveConflicts_CrossOppositeByWinLoseRes(t *testing.T) {
	a := domain.MirroredPosition{ID: 1, TraderID: "T1", Symbol: "SOL-USDT", Side: domain.SideLong}
	b := domain.MirroredPosition{ID: 2, TraderID: "T2", Symbol: "SOL-USDT", Side: domain.SideShort}
	stats := map[string]domain.SuccessStats{
		"T1": {TraderID: "T1", WinCount: 2, LoseCount: 5},
		"T2": {TraderID: "T2", WinCount: 8, LoseCount: 1},
	}

	conflicts := ResolveConflicts([]domain.MirroredPosition{a, b}, stats, nil)
	assert.Len(t, conflicts, 1)
	assert.Equal(t, ReasonCrossOpposite, conflicts[0].Reason)
	assert.Equal(t, "T1", conflicts[0].Loser.TraderID)
}

func TestResolveConflicts_DuplicateKeepsEarliestID(t *testing.T) {
	a := domain.MirroredPosition{ID: 5, TraderID: "T1", Symbol: "SOL-USDT", Side: domain.SideLong}
	b := domain.MirroredPosition{ID: 9, TraderID: "T2", Symbol: "SOL-USDT", Side: domain.SideLong}

	conflicts := ResolveConflicts([]domain.MirroredPosition{a, b}, nil, nil)
	assert.Len(t, conflicts, 1)
	assert.Equal(t, ReasonDuplicate, conflicts[0].Reason)
	assert.Equal(t, int64(9), conflicts[0].Loser.ID)
}
