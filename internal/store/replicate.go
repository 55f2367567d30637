package store

import (
	"fmt"

	"github.com/shadowmirror/copytrader/internal/domain"
)

// ReplicateInstance copies every position_* and kc_stats_* row from src
// into dst, the CLI's `<instance_to_replicate>` operation (spec §6):
// a destination instance starting from a source instance's book instead
// of empty tables. It refuses to run when the destination already has
// active positions; other rows already in the destination make an INSERT
// fail on its primary-key or unique constraint, and the copy steps are not
// wrapped in one transaction, so steps before the failing one stay applied.
func (s *Store) ReplicateInstance(src, dst domain.Instance) error {
	if src == dst {
		return fmt.Errorf("replicate: source and destination instance are the same (%s)", src)
	}

	dstPositions, err := s.Positions(dst)
	if err != nil {
		return fmt.Errorf("replicate: open destination position store: %w", err)
	}
	existing, err := dstPositions.Active()
	if err != nil {
		return fmt.Errorf("replicate: check destination is empty: %w", err)
	}
	if len(existing) > 0 {
		return fmt.Errorf("replicate: destination instance %s already has active positions", dst)
	}

	if _, err := s.Positions(src); err != nil {
		return fmt.Errorf("replicate: open source position store: %w", err)
	}
	if _, err := s.Stats(dst); err != nil {
		return fmt.Errorf("replicate: open destination stats store: %w", err)
	}
	if _, err := s.Stats(src); err != nil {
		return fmt.Errorf("replicate: open source stats store: %w", err)
	}

	srcPosTable := src.PositionTable()
	dstPosTable := dst.PositionTable()
	if _, err := s.db.Exec(fmt.Sprintf(`
		INSERT INTO %s (okx_pos_id, bin_pos_id, trader_id, symbol, side, leverage,
			is_active, is_copied, is_filled, is_ignored, is_ignored_reason, is_canceled, is_closed,
			open_avg_px, close_avg_px, mark_px, pnl, pnl_ratio, liquidation_px, sub_pos, user_amount)
		SELECT okx_pos_id, bin_pos_id, trader_id, symbol, side, leverage,
			is_active, is_copied, is_filled, is_ignored, is_ignored_reason, is_canceled, is_closed,
			open_avg_px, close_avg_px, mark_px, pnl, pnl_ratio, liquidation_px, sub_pos, user_amount
		FROM %s
	`, dstPosTable, srcPosTable)); err != nil {
		return fmt.Errorf("replicate: copy %s: %w", srcPosTable, err)
	}

	srcKC := "kc_stats_" + string(src)
	dstKC := "kc_stats_" + string(dst)
	if _, err := s.db.Exec(fmt.Sprintf(`
		INSERT INTO %s (trader_id, trades_count, roe_sum, avg_roe, roe_std_dev)
		SELECT trader_id, trades_count, roe_sum, avg_roe, roe_std_dev FROM %s
	`, dstKC, srcKC)); err != nil {
		return fmt.Errorf("replicate: copy %s: %w", srcKC, err)
	}

	if _, err := s.db.Exec(`
		INSERT INTO success_stats (trader_id, position_table, is_active, win_count, lose_count)
		SELECT trader_id, ?, is_active, win_count, lose_count FROM success_stats WHERE position_table = ?
	`, dstPosTable, srcPosTable); err != nil {
		return fmt.Errorf("replicate: copy success_stats: %w", err)
	}
	if _, err := s.db.Exec(`
		INSERT INTO penalties (trader_id, position_table, penalty_type, penalty_value)
		SELECT trader_id, ?, penalty_type, penalty_value FROM penalties WHERE position_table = ?
	`, dstPosTable, srcPosTable); err != nil {
		return fmt.Errorf("replicate: copy penalties: %w", err)
	}

	return nil
}
