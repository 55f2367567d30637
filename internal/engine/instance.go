package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shadowmirror/copytrader/internal/config"
	"github.com/shadowmirror/copytrader/internal/domain"
	"github.com/shadowmirror/copytrader/internal/exchange"
	"github.com/shadowmirror/copytrader/internal/logger"
	"github.com/shadowmirror/copytrader/internal/metrics"
	"github.com/shadowmirror/copytrader/internal/reconciler"
	"github.com/shadowmirror/copytrader/internal/slmanager"
	"github.com/shadowmirror/copytrader/internal/store"
)

// defaultScanInterval is used when an instance's config omits
// scan_interval.
const defaultScanInterval = 30 * time.Second

// maxConsecutiveCrashes is spec §7's "halts after 3 consecutive" cycle
// crash-backoff policy.
const maxConsecutiveCrashes = 3

// Instance drives one x1/x2/x3 copy-trading slot end to end: the
// seven-phase Reconciler cycle, admission (AdmitAndCopy), and the SL/TP
// Manager's maintenance pass, on a single ticker-select-stopchannel loop
// grounded on trader/auto_trader.go's AutoTrader.Run/Stop shape.
type Instance struct {
	ID  domain.Instance
	Cfg *config.Config

	Store     *store.Store
	Positions *store.PositionStore
	Traders   *store.TraderStore
	Stats     *store.StatsStore

	Gateway    exchange.Gateway
	Pool       *exchange.Pool
	Reconciler *reconciler.Reconciler
	SLManager  *slmanager.Manager

	scanInterval time.Duration

	mu                 sync.Mutex
	isRunning          bool
	stopCh             chan struct{}
	wg                 sync.WaitGroup
	cycleCount         int
	consecutiveCrashes int
	records            []CycleRecord
}

// New builds an Instance for id, opening its per-instance sub-stores on
// the shared Store and wiring the Reconciler/SLManager it drives each
// cycle.
func New(id domain.Instance, cfg *config.Config, s *store.Store, gw exchange.Gateway) (*Instance, error) {
	pool := exchange.NewPool(10)

	positions, err := s.Positions(id)
	if err != nil {
		return nil, fmt.Errorf("engine[%s]: open position store: %w", id, err)
	}
	stats, err := s.Stats(id)
	if err != nil {
		return nil, fmt.Errorf("engine[%s]: open stats store: %w", id, err)
	}

	rec, err := reconciler.New(id, cfg, s, gw, pool)
	if err != nil {
		return nil, fmt.Errorf("engine[%s]: build reconciler: %w", id, err)
	}
	slm, err := slmanager.New(id, cfg, s, gw, pool)
	if err != nil {
		return nil, fmt.Errorf("engine[%s]: build sl/tp manager: %w", id, err)
	}

	interval := defaultScanInterval
	if ic, ok := cfg.Instances[string(id)]; ok && ic.ScanInterval != "" {
		if d, err := time.ParseDuration(ic.ScanInterval); err == nil {
			interval = d
		}
	}

	return &Instance{
		ID:           id,
		Cfg:          cfg,
		Store:        s,
		Positions:    positions,
		Traders:      s.Trader(),
		Stats:        stats,
		Gateway:      gw,
		Pool:         pool,
		Reconciler:   rec,
		SLManager:    slm,
		scanInterval: interval,
		stopCh:       make(chan struct{}),
	}, nil
}

// Run blocks until ctx is canceled or Stop is called, running one
// RunCycle + AdmitAndCopy + SL/TP maintenance pass per tick.
func (inst *Instance) Run(ctx context.Context) error {
	inst.mu.Lock()
	inst.isRunning = true
	inst.stopCh = make(chan struct{})
	inst.mu.Unlock()

	inst.wg.Add(1)
	defer inst.wg.Done()

	logger.Infof("engine[%s]: starting, scan_interval=%v", inst.ID, inst.scanInterval)

	if err := inst.runOneCycle(ctx); err != nil {
		logger.Errorf("engine[%s]: initial cycle failed: %v", inst.ID, err)
	}

	ticker := time.NewTicker(inst.scanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-inst.stopCh:
			logger.Infof("engine[%s]: stop signal received, exiting control loop", inst.ID)
			return nil
		case <-ticker.C:
			if err := inst.runOneCycle(ctx); err != nil {
				logger.Errorf("engine[%s]: cycle failed: %v", inst.ID, err)
				halt, delay := inst.recordCrash()
				if halt {
					logger.Errorf("engine[%s]: %d consecutive crashes, halting", inst.ID, inst.consecutiveCrashes)
					return fmt.Errorf("engine[%s]: halted after %d consecutive crashes: %w", inst.ID, inst.consecutiveCrashes, err)
				}
				select {
				case <-time.After(delay):
				case <-ctx.Done():
					return nil
				case <-inst.stopCh:
					return nil
				}
			} else {
				inst.consecutiveCrashes = 0
			}
		}
	}
}

// Stop signals Run's loop to exit and waits for it to return.
func (inst *Instance) Stop() {
	inst.mu.Lock()
	if !inst.isRunning {
		inst.mu.Unlock()
		return
	}
	inst.isRunning = false
	close(inst.stopCh)
	inst.mu.Unlock()

	inst.wg.Wait()
	logger.Infof("engine[%s]: stopped", inst.ID)
}

// runOneCycle runs the full per-cycle pipeline and records the outcome,
// regardless of whether it errors, for the crash-backoff accounting in
// Run's caller.
func (inst *Instance) runOneCycle(ctx context.Context) error {
	start := time.Now()
	inst.cycleCount++

	record := CycleRecord{
		Instance: inst.ID,
		Cycle:    inst.cycleCount,
		StartedAt: start,
	}

	err := inst.runPipeline(ctx, &record)

	record.Duration = time.Since(start)
	record.Err = err
	inst.appendRecord(record)
	metrics.ObserveCycle(inst.ID, record.Duration, err)

	return err
}

func (inst *Instance) runPipeline(ctx context.Context, record *CycleRecord) error {
	if !inst.enabled() {
		// Reconciliation and decision audit still run every cycle even
		// when the master switch is off (spec §6's `{instance}_copy_positions`
		// gate only suppresses live order placement, in AdmitAndCopy).
		logger.Infof("engine[%s]: cycle %d running in observe-only mode (copy_positions disabled)", inst.ID, inst.cycleCount)
	}

	if err := inst.Reconciler.RunCycle(ctx); err != nil {
		return fmt.Errorf("reconciler: %w", err)
	}

	admitted, dropped, err := inst.AdmitAndCopy(ctx)
	if err != nil {
		return fmt.Errorf("admission: %w", err)
	}
	record.Admitted = admitted
	record.Dropped = dropped
	for _, d := range admitted {
		metrics.RecordAdmission(inst.ID, d.TraderID, d.Reason, true)
	}
	for _, d := range dropped {
		metrics.RecordAdmission(inst.ID, d.TraderID, d.Reason, false)
	}

	if err := inst.SLManager.RunCycle(ctx); err != nil {
		return fmt.Errorf("slmanager: %w", err)
	}
	return nil
}

func (inst *Instance) enabled() bool {
	ic, ok := inst.Cfg.Instances[string(inst.ID)]
	return ok && ic.Enabled
}

// recordCrash increments the consecutive-crash counter and returns
// (halt, delay) per spec §7: delay = crash_count * base_delay * 4, halt
// once the count reaches maxConsecutiveCrashes.
func (inst *Instance) recordCrash() (bool, time.Duration) {
	inst.consecutiveCrashes++
	metrics.ObserveCrashBackoff(inst.ID, inst.consecutiveCrashes)
	if inst.consecutiveCrashes >= maxConsecutiveCrashes {
		return true, 0
	}
	delay := time.Duration(inst.consecutiveCrashes) * inst.scanInterval * 4
	return false, delay
}

func (inst *Instance) appendRecord(r CycleRecord) {
	inst.mu.Lock()
	defer inst.mu.Unlock()
	inst.records = append(inst.records, r)
	if len(inst.records) > 200 {
		inst.records = inst.records[len(inst.records)-200:]
	}
}

// RecentCycles returns up to the last 200 cycle records, newest last —
// the backing data for the HTTP status surface's decision-audit view.
func (inst *Instance) RecentCycles() []CycleRecord {
	inst.mu.Lock()
	defer inst.mu.Unlock()
	out := make([]CycleRecord, len(inst.records))
	copy(out, inst.records)
	return out
}
