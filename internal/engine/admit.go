package engine

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/shadowmirror/copytrader/internal/config"
	"github.com/shadowmirror/copytrader/internal/domain"
	"github.com/shadowmirror/copytrader/internal/exchange"
	"github.com/shadowmirror/copytrader/internal/filter"
	"github.com/shadowmirror/copytrader/internal/logger"
	"github.com/shadowmirror/copytrader/internal/selector"
	"github.com/shadowmirror/copytrader/internal/sizer"
)

// AdmitAndCopy implements spec §4.4/§4.6's per-cycle admission step: pick
// which non-ignored upstream-derived positions actually get a live order
// on the exchange this cycle, sizing them per the instance's configured
// mode, and sweeping dropped traders' positions to ignored="lower kc" in
// single-copy mode's hysteresis switch.
func (inst *Instance) AdmitAndCopy(ctx context.Context) ([]AdmissionDecision, []AdmissionDecision, error) {
	ic, ok := inst.Cfg.Instances[string(inst.ID)]
	if !ok {
		return nil, nil, fmt.Errorf("engine[%s]: no instance config", inst.ID)
	}

	mode := ic.Mode
	if mode == "" {
		mode = config.ModeSingleCopy
	}

	var admitted, dropped []AdmissionDecision
	var err error
	if mode == config.ModeMultiCopy {
		admitted, dropped, err = inst.admitMulti(ctx, ic)
	} else {
		admitted, dropped, err = inst.admitSingle(ctx, ic)
	}
	for i := range admitted {
		admitted[i].Mode = mode
	}
	for i := range dropped {
		dropped[i].Mode = mode
	}
	return admitted, dropped, err
}

// candidateSet groups every active, non-ignored position by trader, the
// scope both admission modes pick their candidates from.
func (inst *Instance) candidateSet() (map[string][]domain.MirroredPosition, error) {
	active, err := inst.Positions.Active()
	if err != nil {
		return nil, err
	}
	byTrader := map[string][]domain.MirroredPosition{}
	for _, p := range active {
		if p.IsIgnored || p.Terminal() {
			continue
		}
		byTrader[p.TraderID] = append(byTrader[p.TraderID], p)
	}
	return byTrader, nil
}

func (inst *Instance) copyTraderBy() selector.CopyTraderBy {
	if inst.Cfg.CopyTraderBy == string(selector.ByTradeCount) {
		return selector.ByTradeCount
	}
	return selector.ByKC
}

// admitSingle implements spec §4.6's single-copy path: the selector picks
// one leader trader per cycle, only that trader's pending positions get
// sized and opened, and every other candidate's positions are dropped.
func (inst *Instance) admitSingle(ctx context.Context, ic config.InstanceConfig) ([]AdmissionDecision, []AdmissionDecision, error) {
	byTrader, err := inst.candidateSet()
	if err != nil {
		return nil, nil, err
	}
	if len(byTrader) == 0 {
		return nil, nil, nil
	}

	candidates := make([]selector.Candidate, 0, len(byTrader))
	for traderID, positions := range byTrader {
		kc, err := inst.Stats.KC(traderID)
		if err != nil {
			return nil, nil, err
		}
		candidates = append(candidates, selector.Candidate{
			TraderID:        traderID,
			KC:              kc,
			CurrentlyCopied: anyCopied(positions),
		})
	}

	decision, err := selector.Select(inst.copyTraderBy(), candidates)
	if err != nil {
		return nil, nil, fmt.Errorf("selector: %w", err)
	}

	var dropped []AdmissionDecision
	for _, traderID := range decision.Dropped {
		d, err := inst.dropTrader(ctx, traderID, byTrader[traderID])
		if err != nil {
			logger.Warnf("engine[%s]: drop trader %s: %v", inst.ID, traderID, err)
			continue
		}
		dropped = append(dropped, d...)
	}

	if decision.Leader == "" || !inst.enabled() {
		return nil, dropped, nil
	}

	pending, err := inst.Positions.PendingAdmission()
	if err != nil {
		return nil, dropped, err
	}

	var leaderPending []domain.MirroredPosition
	for _, p := range pending {
		if p.TraderID == decision.Leader {
			leaderPending = append(leaderPending, p)
		}
	}
	if len(leaderPending) == 0 {
		return nil, dropped, nil
	}

	successStats, err := inst.Stats.SuccessStats(decision.Leader)
	if err != nil {
		return nil, dropped, err
	}
	balance, err := inst.Gateway.GetBalance(ctx)
	if err != nil {
		return nil, dropped, err
	}

	bounds := sizer.Bounds{
		Min: decimal.NewFromFloat(ic.CopyPositions.MinPosSizePerc),
		Max: decimal.NewFromFloat(ic.CopyPositions.MaxPosSizePerc),
	}
	usdtPerPos := sizer.PercentOfEquity(
		balance.TotalEquity,
		decimal.NewFromFloat(ic.CopyPositions.EquityOfTotalEquity),
		decimal.NewFromFloat(ic.CopyPositions.EquityPerSinglePos),
		decimal.NewFromFloat(ic.CopyPositions.IncrDecrPerc),
		successStats.WinLoseRes(),
		bounds,
	)

	results := inst.Pool.Run(len(leaderPending), func(i int) (interface{}, error) {
		return inst.admitOne(ctx, leaderPending[i], usdtPerPos)
	})

	admitted := make([]AdmissionDecision, 0, len(results))
	for i, res := range results {
		if res.Err != nil {
			logger.Warnf("engine[%s]: admit position %d: %v", inst.ID, leaderPending[i].ID, res.Err)
			continue
		}
		if d, ok := res.Value.(AdmissionDecision); ok {
			admitted = append(admitted, d)
		}
	}
	return admitted, dropped, nil
}

// admitMulti implements spec §4.4's multi-copy path: every admitted
// trader gets a Kelly-weighted slice of the instance's allocated balance,
// split evenly across their own open position count, no exclusivity.
func (inst *Instance) admitMulti(ctx context.Context, ic config.InstanceConfig) ([]AdmissionDecision, []AdmissionDecision, error) {
	byTrader, err := inst.candidateSet()
	if err != nil {
		return nil, nil, err
	}
	if len(byTrader) == 0 {
		return nil, nil, nil
	}

	kcByTrader := map[string]decimal.Decimal{}
	sumKC := decimal.Zero
	for traderID := range byTrader {
		kc, err := inst.Stats.KC(traderID)
		if err != nil {
			return nil, nil, err
		}
		k := decimal.NewFromFloat(kc.KellyCriterion())
		kcByTrader[traderID] = k
		if k.IsPositive() {
			sumKC = sumKC.Add(k)
		}
	}

	balance, err := inst.Gateway.GetBalance(ctx)
	if err != nil {
		return nil, nil, err
	}
	bKC := sizer.MultiCopyBalance(balance.TotalEquity, decimal.NewFromFloat(ic.CopyPositions.EquityOfTotalEquity), sumKC)

	pending, err := inst.Positions.PendingAdmission()
	if err != nil {
		return nil, nil, err
	}

	pendingByTrader := map[string][]domain.MirroredPosition{}
	for _, p := range pending {
		pendingByTrader[p.TraderID] = append(pendingByTrader[p.TraderID], p)
	}

	var admitted, dropped []AdmissionDecision
	for traderID, traderPending := range pendingByTrader {
		kc := kcByTrader[traderID]
		if !kc.IsPositive() {
			d, err := inst.dropTrader(ctx, traderID, traderPending)
			if err != nil {
				logger.Warnf("engine[%s]: drop trader %s (non-positive KC): %v", inst.ID, traderID, err)
				continue
			}
			dropped = append(dropped, d...)
			continue
		}

		if !inst.enabled() {
			continue
		}

		share := sizer.MultiCopyShare(kc, sumKC)
		perPos := sizer.PerPositionSize(bKC, share, len(byTrader[traderID]))

		results := inst.Pool.Run(len(traderPending), func(i int) (interface{}, error) {
			return inst.admitOne(ctx, traderPending[i], perPos)
		})
		for i, res := range results {
			if res.Err != nil {
				logger.Warnf("engine[%s]: admit position %d: %v", inst.ID, traderPending[i].ID, res.Err)
				continue
			}
			if d, ok := res.Value.(AdmissionDecision); ok {
				admitted = append(admitted, d)
			}
		}
	}
	return admitted, dropped, nil
}

// admitOne sizes and opens one pending position's entry order, persisting
// is_copied=true and the exchange-assigned order id on success.
func (inst *Instance) admitOne(ctx context.Context, p domain.MirroredPosition, usdtPerPos decimal.Decimal) (AdmissionDecision, error) {
	leverage := p.Leverage
	if leverage <= 0 {
		leverage = 1
	}

	lot, err := inst.Gateway.GetLotFilter(ctx, p.Symbol)
	if err != nil {
		return AdmissionDecision{}, err
	}

	entry := decimal.NewFromFloat(p.OpenAvgPx)
	raw := sizer.RawQty(usdtPerPos, entry, leverage)
	qty := sizer.SnapToStep(raw, decimal.NewFromFloat(lot.StepSize), decimal.NewFromFloat(lot.MinQty), entry)

	if err := inst.Gateway.SetLeverage(ctx, p.Symbol, leverage); err != nil && !exchange.IsTransient(err) {
		return AdmissionDecision{}, err
	}

	qty64, _ := qty.Float64()
	ack, err := inst.Gateway.OpenLimitOrder(ctx, exchange.OpenOrderRequest{
		Symbol:        p.Symbol,
		Side:          p.Side,
		Price:         entry,
		Quantity:      qty,
		Leverage:      leverage,
		ClientOrderID: clientOrderID(p.ID, "entry"),
	})
	if err != nil {
		return AdmissionDecision{}, err
	}

	p.IsCopied = true
	p.BinPosID = ack.OrderID
	p.UserAmount = qty64
	if err := inst.Positions.Update(p); err != nil {
		return AdmissionDecision{}, err
	}

	return AdmissionDecision{TraderID: p.TraderID, Symbol: p.Symbol, Qty: qty64}, nil
}

// dropTrader implements spec §4.6's "non-leader traders' positions are
// ignored='lower kc' and their copied orders canceled/closed": every
// active non-ignored position of a dropped trader is marked ignored,
// canceling the exchange order first when one is resting and unfilled,
// or closing the position with a reduce-only market order when it filled.
func (inst *Instance) dropTrader(ctx context.Context, traderID string, positions []domain.MirroredPosition) ([]AdmissionDecision, error) {
	if len(positions) == 0 {
		return nil, nil
	}
	results := inst.Pool.Run(len(positions), func(i int) (interface{}, error) {
		return nil, inst.dropOne(ctx, positions[i])
	})

	var out []AdmissionDecision
	for i, res := range results {
		if res.Err != nil {
			logger.Warnf("engine[%s]: drop position %d for trader %s: %v", inst.ID, positions[i].ID, traderID, res.Err)
			continue
		}
		out = append(out, AdmissionDecision{TraderID: traderID, Symbol: positions[i].Symbol, Reason: string(filter.ReasonLowerKC)})
	}
	return out, nil
}

func (inst *Instance) dropOne(ctx context.Context, p domain.MirroredPosition) error {
	if p.IsCopied && !p.IsFilled {
		if err := inst.Gateway.CancelOrder(ctx, p.Symbol, p.BinPosID); err != nil && !exchange.IsTransient(err) {
			return err
		}
		p.IsCanceled = true
	} else if p.IsFilled && !p.IsClosed {
		if _, err := inst.Gateway.CloseMarket(ctx, exchange.CloseRequest{
			Symbol:        p.Symbol,
			Side:          p.Side.Opposite(),
			Quantity:      decimal.NewFromFloat(p.UserAmount),
			ClientOrderID: clientOrderID(p.ID, "close"),
		}); err != nil && !exchange.IsTransient(err) {
			return err
		}
		p.IsClosed = true
		p.IsActive = false
		p.UserAmount = 0
	}
	p.IsIgnored = true
	p.IgnoredReason = string(filter.ReasonLowerKC)
	return inst.Positions.Update(p)
}

func anyCopied(positions []domain.MirroredPosition) bool {
	for _, p := range positions {
		if p.IsCopied {
			return true
		}
	}
	return false
}

func clientOrderID(mirrorID int64, kind string) string {
	return exchange.ClientOrderID(mirrorID, kind)
}
