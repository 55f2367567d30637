// Package matcher implements the four-key priority match between a
// trader's upstream positions and their locally mirrored positions
// (spec §4.1). It is a pure function over in-memory slices — no I/O —
// so the reconciler can unit test it exhaustively against boundary
// cases before ever touching the store or the exchange.
package matcher

import (
	"math"

	"github.com/shadowmirror/copytrader/internal/domain"
)

// Kind classifies one mirrored position (or one unmatched upstream
// position) against its counterpart for a single trader.
type Kind int

const (
	// PartialClose: same key, upstream amount decreased.
	PartialClose Kind = iota
	// Unchanged: same key, amount and update timestamp equal.
	Unchanged
	// Resized: same key, leverage equal but amount/price otherwise
	// differs without a clean partial-close signal — still the same
	// position, never re-entered.
	Resized
	// Assumed: same (trader, symbol, side) and matching update
	// timestamp, but neither of the stronger signals applied.
	Assumed
	// New: an upstream position with no mirrored counterpart.
	New
	// Disappeared: a mirrored position with no upstream counterpart.
	Disappeared
)

// Classification pairs one mirrored position (if any) with its matched
// upstream position (if any) and the priority key that matched them.
type Classification struct {
	Kind      Kind
	Mirrored  *domain.MirroredPosition
	Upstream  *domain.UpstreamPosition
}

// amountEpsilon absorbs float round-trip noise from the upstream feed;
// anything smaller than this is "the same amount".
const amountEpsilon = 1e-9

// Match classifies every mirrored position against the upstream set for
// one trader, then reports any upstream positions left unmatched as New.
// Both slices are expected to already be scoped to a single trader_id;
// Match itself matches on (symbol, side) within that scope, per spec
// §4.1's priority list.
func Match(upstream []domain.UpstreamPosition, mirrored []domain.MirroredPosition) []Classification {
	used := make([]bool, len(upstream))
	out := make([]Classification, 0, len(upstream)+len(mirrored))

	for i := range mirrored {
		m := &mirrored[i]
		idx, kind, ok := bestMatch(m, upstream, used)
		if !ok {
			out = append(out, Classification{Kind: Disappeared, Mirrored: m})
			continue
		}
		used[idx] = true
		out = append(out, Classification{Kind: kind, Mirrored: m, Upstream: &upstream[idx]})
	}

	for i := range upstream {
		if !used[i] {
			out = append(out, Classification{Kind: New, Upstream: &upstream[i]})
		}
	}
	return out
}

// bestMatch finds the highest-priority unused upstream position that
// shares (symbol, side) with m, applying spec §4.1's four keys in
// priority order. Priority 1 (partial-close) is preferred over 2
// (unchanged) over 3 (resized) over 4 (assumed) when more than one
// would technically apply.
func bestMatch(m *domain.MirroredPosition, upstream []domain.UpstreamPosition, used []bool) (int, Kind, bool) {
	bestIdx := -1
	bestKind := Kind(-1)

	for i := range upstream {
		if used[i] {
			continue
		}
		u := &upstream[i]
		if u.Symbol != m.Symbol || u.Side != m.Side {
			continue
		}

		kind, ok := matchKind(m, u)
		if !ok {
			continue
		}
		if bestIdx == -1 || kind < bestKind {
			bestIdx, bestKind = i, kind
		}
	}

	if bestIdx == -1 {
		return -1, 0, false
	}
	return bestIdx, bestKind, true
}

func matchKind(m *domain.MirroredPosition, u *domain.UpstreamPosition) (Kind, bool) {
	samePrice := floatEqual(u.OpenAvgPx, m.OpenAvgPx)
	sameUpdate := u.UTime.Equal(m.UTime)
	sameAmount := floatEqual(u.SubPos, m.SubPos)
	decreasingAmount := u.SubPos < m.SubPos-amountEpsilon

	switch {
	case samePrice && decreasingAmount:
		return PartialClose, true
	case samePrice && sameAmount && sameUpdate:
		return Unchanged, true
	case sameLeverage(m, u):
		return Resized, true
	case sameUpdate:
		return Assumed, true
	default:
		return 0, false
	}
}

func sameLeverage(m *domain.MirroredPosition, u *domain.UpstreamPosition) bool {
	return m.Leverage == u.Leverage && m.Leverage != 0
}

func floatEqual(a, b float64) bool {
	return math.Abs(a-b) < amountEpsilon
}
