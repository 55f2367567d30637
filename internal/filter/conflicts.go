package filter

import (
	"github.com/shadowmirror/copytrader/internal/domain"
)

// Conflict names one losing position and the reason it must be ignored,
// as decided by ResolveConflicts.
type Conflict struct {
	Loser  domain.MirroredPosition
	Reason Reason
}

// ResolveConflicts implements spec §4.2's conflict-resolution step: it
// runs once per cycle over every active, non-ignored position in an
// instance (not per-position, since detecting a pair needs the whole
// set), and reports the losing side of every hedged/cross-opposite/
// duplicate pair it finds.
//
// successStats and traders are keyed by trader_id; a missing entry is
// treated as zero win_lose_res / zero yield ratio, which only matters
// for the tie-break comparisons below.
func ResolveConflicts(positions []domain.MirroredPosition, successStats map[string]domain.SuccessStats, traders map[string]domain.Trader) []Conflict {
	var out []Conflict
	ignored := make(map[int64]bool)

	for i := 0; i < len(positions); i++ {
		for j := i + 1; j < len(positions); j++ {
			a, b := positions[i], positions[j]
			if a.Symbol != b.Symbol {
				continue
			}
			if ignored[a.ID] || ignored[b.ID] {
				continue
			}

			switch {
			case a.TraderID == b.TraderID && a.Side != b.Side:
				loser := hedgedLoser(a, b)
				out = append(out, Conflict{Loser: loser, Reason: ReasonHedged})
				ignored[loser.ID] = true

			case a.TraderID != b.TraderID && a.Side != b.Side:
				loser := crossOppositeLoser(a, b, successStats, traders)
				out = append(out, Conflict{Loser: loser, Reason: ReasonCrossOpposite})
				ignored[loser.ID] = true

			case a.TraderID != b.TraderID && a.Side == b.Side:
				loser := duplicateLoser(a, b)
				out = append(out, Conflict{Loser: loser, Reason: ReasonDuplicate})
				ignored[loser.ID] = true
			}
		}
	}
	return out
}

// hedgedLoser keeps the later update_timestamp, per spec §4.2.
func hedgedLoser(a, b domain.MirroredPosition) domain.MirroredPosition {
	if a.UTime.Before(b.UTime) {
		return a
	}
	return b
}

// crossOppositeLoser compares win_lose_res first, falling back to total
// ROI (the trader's yield ratio) when tied.
func crossOppositeLoser(a, b domain.MirroredPosition, successStats map[string]domain.SuccessStats, traders map[string]domain.Trader) domain.MirroredPosition {
	resA, resB := successStats[a.TraderID].WinLoseRes(), successStats[b.TraderID].WinLoseRes()
	if resA != resB {
		if resA < resB {
			return a
		}
		return b
	}

	yieldA, yieldB := traders[a.TraderID].YieldRatio, traders[b.TraderID].YieldRatio
	if yieldA < yieldB {
		return a
	}
	return b
}

// duplicateLoser keeps the earliest inserted row (lowest primary key).
func duplicateLoser(a, b domain.MirroredPosition) domain.MirroredPosition {
	if a.ID < b.ID {
		return b
	}
	return a
}
