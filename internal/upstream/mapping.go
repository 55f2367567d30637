package upstream

import (
	"strings"
	"time"

	"github.com/shadowmirror/copytrader/internal/domain"
)

// ToTrader maps one performance-list row onto the domain Trader shape.
// Field mapping is one-to-one per spec §6; nothing here renames or
// derives values beyond trimming surrounding whitespace from strings.
func ToTrader(r rawTrader) domain.Trader {
	return domain.Trader{
		TraderID:          nullIfBlank(r.ID),
		Nickname:          nullIfBlank(r.NickName),
		AUM:                r.AUM,
		FollowPnl:         r.FollowPnl,
		NumberOfFollowers: r.NumberOfFollowers,
		YieldRatio:        r.YieldRatio,
		WinRatio:          r.WinRatio,
		Symbol:            nullIfBlank(r.Symbol),
	}
}

// ToUpstreamPosition maps one open/historical position row. Side is
// case-normalized since the upstream API has been observed to emit both
// "LONG" and "long".
func ToUpstreamPosition(traderID string, r rawOpenPosition) domain.UpstreamPosition {
	return domain.UpstreamPosition{
		TradeItemID: r.TradeItemID,
		TraderID:    traderID,
		Symbol:      nullIfBlank(r.Symbol),
		Side:        normalizeSide(r.PositionSide),
		Leverage:    r.Leverage,
		OpenAvgPx:   r.OpenAvgPx,
		MarkPx:      r.MarkPx,
		Pnl:         r.Pnl,
		PnlRatio:    r.PnlRatio,
		SubPos:      r.SubPos,
		OpenTime:    msToTime(r.OpenTime),
		UTime:       msToTime(r.UTime),
	}
}

// ToTraderStats maps one trade-stats snapshot for a given dateRange.
func ToTraderStats(traderID, dateRange string, r rawTradeStats) domain.TraderStats {
	return domain.TraderStats{
		TraderID:          traderID,
		DateRange:         dateRange,
		FollowerNum:       r.FollowerNum,
		CurrentFollowPnl: r.CurrentFollowPnl,
		AUM:                r.AUM,
		AvgPositionValue: r.AvgPositionValue,
		CostVal:           r.CostVal,
		WinRatio:          r.WinRatio,
		LossDays:          r.LossDays,
		ProfitDays:        r.ProfitDays,
		YieldRatio:        r.YieldRatio,
	}
}

func normalizeSide(raw string) domain.Side {
	if strings.EqualFold(raw, "short") {
		return domain.SideShort
	}
	return domain.SideLong
}

// nullIfBlank trims surrounding whitespace. A blank value becomes the
// empty string, which the store writes as '' rather than SQL NULL.
func nullIfBlank(s string) string {
	return strings.TrimSpace(s)
}

func msToTime(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
