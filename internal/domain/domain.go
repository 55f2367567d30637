// Package domain holds the entity types shared across the copy-trading
// engine. Field names follow the original database schema column names
// rather than the looser vocabulary used to describe them in prose, so a
// reader moving between SQL and Go sees the same identifiers (this
// resolves SPEC_FULL's field-reconciliation open question: roe ->
// PnlRatio, entry_price -> OpenAvgPx, position_id -> BinPosID, amount ->
// SubPos, insert_timestamp -> InsertedOn, update_timestamp -> UTime).
package domain

import "time"

// Side is a position direction.
type Side string

const (
	SideLong  Side = "long"
	SideShort Side = "short"
)

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == SideLong {
		return SideShort
	}
	return SideLong
}

// Instance identifies one of the running copy-trading slots (x1/x2/x3).
type Instance string

// PositionTable is the instance's mirrored-position table name
// ("position_x1", ...), used as the foreign-key discriminator on the
// shared stop_losses/take_profits/penalties/success_stats tables.
func (i Instance) PositionTable() string { return "position_" + string(i) }

// Trader is a leaderboard account being observed and/or copied.
type Trader struct {
	TraderID        string
	Nickname        string
	IsInit          bool
	IsFollowed      bool
	IsObserved      bool
	IsIgnored       bool
	AUM             float64
	FollowPnl       float64
	NumberOfFollowers int
	YieldRatio      float64
	WinRatio        float64
	Symbol          string
	LastPosDatetime time.Time
	InsertedOn      time.Time
	UpdatedOn       time.Time
}

// TraderStats is the per-(trader,date-range) performance snapshot pulled
// from the leaderboard's trade-stats endpoint.
type TraderStats struct {
	TraderID          string
	DateRange         string // "7d" | "30d" | "90d" | "total" etc.
	FollowerNum       int
	CurrentFollowPnl  float64
	AUM               float64
	AvgPositionValue  float64
	CostVal           float64
	WinRatio          float64
	LossDays          int
	ProfitDays        int
	YieldRatio        float64
	UpdatedOn         time.Time
}

// UpstreamPosition is one currently open position reported by a trader on
// the leaderboard. It is fully replaced on each upstream refresh cycle —
// it never carries local state. TradeItemID is the leaderboard's own
// position identifier; it is the OrigPositionID a MirroredPosition links
// back to.
type UpstreamPosition struct {
	ID          int64
	TradeItemID int64
	TraderID    string
	Symbol      string
	Side        Side
	Leverage    int
	OpenAvgPx   float64
	MarkPx      float64
	Pnl         float64
	PnlRatio    float64
	SubPos      float64 // the leader's own quantity, on their own books
	OpenTime    time.Time
	UTime       time.Time // update_timestamp on the upstream side
	InsertedOn  time.Time
}

// MirroredPosition is a local position mirroring an UpstreamPosition onto
// one exchange account. BinPosID is the exchange-side order/position
// identifier recovered from the client-order-id once an order fills.
// State is a 6-flag vector per SPEC_FULL: IsActive/IsCopied/IsFilled/
// IsIgnored(+reason)/IsCanceled/IsClosed.
type MirroredPosition struct {
	ID              int64  // okx_pos_id in the source schema: the PK, seeded from the upstream TradeItemID
	BinPosID        string // exchange order id, once known
	TraderID        string
	Symbol          string
	Side            Side
	Leverage        int

	IsActive        bool
	IsCopied        bool
	IsFilled        bool
	IsIgnored       bool
	IgnoredReason   string
	IsCanceled      bool
	IsClosed        bool

	OpenAvgPx       float64
	CloseAvgPx      float64
	MarkPx          float64
	Pnl             float64
	PnlRatio        float64
	LiquidationPx   float64

	SubPos          float64 // upstream quantity, mirrored 1:1 from the leader's book
	UserAmount      float64 // the user's own sized quantity actually on the exchange

	InsertedOn      time.Time
	UTime           time.Time
}

// Terminal reports whether this position has reached a terminal state that
// stops it from being reconciled any further.
func (p MirroredPosition) Terminal() bool {
	return p.IsClosed || p.IsCanceled || (p.IsIgnored && p.IgnoredReason != "expired")
}

// TriggerKind discriminates a stop-loss from a take-profit order.
type TriggerKind string

const (
	TriggerStopLoss   TriggerKind = "sl"
	TriggerTakeProfit TriggerKind = "tp"
)

// TriggerOrder is a resting conditional order (SL or TP) attached to a
// MirroredPosition, keyed by (PositionTable, OrigPositionID, Kind).
type TriggerOrder struct {
	ID              int64
	PositionTable   string
	OrigPositionID  int64
	PositionID      string // local exchange trigger-order id
	Symbol          string
	Kind            TriggerKind
	Side            Side
	IsActive        bool
	IsFilled        bool
	Price           float64
	Amount          float64
}

// SuccessStats is the running win/loss record that feeds the Kelly
// criterion and the filter's negative-KC gate.
type SuccessStats struct {
	TraderID      string
	PositionTable string
	IsActive      bool
	WinCount      int
	LoseCount     int
	UpdatedOn     time.Time
}

// WinLoseRes is the tie-breaker value the conflict-resolution step of the
// filter consults and the input the sizer's dynamic band modulates on:
// win_count - lose_count.
func (s SuccessStats) WinLoseRes() int { return s.WinCount - s.LoseCount }

// WinRate is win_count / (win_count + lose_count), or zero with no trades.
func (s SuccessStats) WinRate() float64 {
	total := s.WinCount + s.LoseCount
	if total == 0 {
		return 0
	}
	return float64(s.WinCount) / float64(total)
}

// Penalty tracks the doubling stop-loss penalty: it starts at 2 and
// doubles each time the trader's mirrored position is closed by a
// stop-loss hit, per instance.
type Penalty struct {
	TraderID      string
	PositionTable string
	PenaltyType   string
	PenaltyValue  float64
}

// NextOnSLHit returns the penalty value after one more stop-loss hit.
func (p Penalty) NextOnSLHit() float64 {
	if p.PenaltyValue <= 0 {
		return 2
	}
	return p.PenaltyValue * 2
}

// KCStats is the Kelly-criterion working set computed from a trailing
// 365-day window of closed mirrored trades for one trader, per instance.
type KCStats struct {
	TraderID      string
	PositionTable string
	TradesCount   int
	RoeSum        float64
	AvgRoe        float64
	RoeStdDev     float64
}

// KellyCriterion is avg_roe / std_dev^2, guarded against division by zero
// the way the SQL's NULLIF(STDDEV*STDDEV, 0) guards it.
func (k KCStats) KellyCriterion() float64 {
	variance := k.RoeStdDev * k.RoeStdDev
	if variance == 0 {
		return 0
	}
	return k.AvgRoe / variance
}

// LotFilter is the exchange's quantity/notional constraints for a symbol.
type LotFilter struct {
	Symbol         string
	StepSize       float64
	MinQty         float64
	MinNotional    float64
	PricePrecision int
}
