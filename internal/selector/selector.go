// Package selector implements spec §4.6's single-copy-mode trader
// selection: argmax Kelly criterion (or trade count) with a 20%
// hysteresis band against whichever trader is currently copied. The
// multi-copy Kelly-weight allocation is not in this package; it lives in
// internal/engine's admission step and internal/sizer.
package selector

import (
	"errors"
	"fmt"

	"github.com/shadowmirror/copytrader/internal/ctrlerr"
	"github.com/shadowmirror/copytrader/internal/domain"
)

// CopyTraderBy selects the ranking metric spec §6's copy_trader_by
// config key chooses between.
type CopyTraderBy string

const (
	ByKC         CopyTraderBy = "KC"
	ByTradeCount CopyTraderBy = "TC"
)

// hysteresisRatio is spec §4.6/§8's 20% switch threshold: the leader
// must beat the current trader by more than this ratio to take over.
const hysteresisRatio = 1.2

// Candidate is one trader eligible for single-copy selection: it must
// have at least one non-ignored, non-closed active mirrored position.
type Candidate struct {
	TraderID       string
	KC             domain.KCStats
	CurrentlyCopied bool // has at least one active is_copied, non-closed position
}

// Decision is the outcome of one cycle's selector pass.
type Decision struct {
	// Leader is the trader the selector wants actively copied this
	// cycle — equal to Current if hysteresis keeps the incumbent.
	Leader string
	// Switched is true when Leader differs from the incumbent Current.
	Switched bool
	// Dropped lists every other candidate's trader id: their positions
	// must be ignored="lower kc" and any copied orders canceled/closed.
	Dropped []string
}

func metric(by CopyTraderBy, k domain.KCStats) float64 {
	if by == ByTradeCount {
		return float64(k.TradesCount)
	}
	return k.KellyCriterion()
}

// Select implements spec §4.6. candidates must already be restricted to
// traders with at least one non-ignored, non-closed active mirrored
// position. If more than one candidate is flagged CurrentlyCopied, that
// is the "two different currently-copied traders" invariant violation
// spec §7/§8 names — Select returns ctrlerr.ErrInvariantViolation and
// aborts rather than guessing.
func Select(by CopyTraderBy, candidates []Candidate) (Decision, error) {
	if len(candidates) == 0 {
		return Decision{}, nil
	}

	var current *Candidate
	for i := range candidates {
		if candidates[i].CurrentlyCopied {
			if current != nil {
				return Decision{}, fmt.Errorf("selector: traders %s and %s both currently copied: %w",
					current.TraderID, candidates[i].TraderID, ctrlerr.ErrInvariantViolation)
			}
			current = &candidates[i]
		}
	}

	leader := argmax(by, candidates)

	decision := Decision{Leader: leader.TraderID}
	if current == nil {
		decision.Switched = true
	} else if leader.TraderID == current.TraderID {
		decision.Leader = current.TraderID
	} else {
		switchOver := switches(by, metric(by, leader.KC), metric(by, current.KC))
		if switchOver {
			decision.Leader = leader.TraderID
			decision.Switched = true
		} else {
			decision.Leader = current.TraderID
		}
	}

	for _, c := range candidates {
		if c.TraderID != decision.Leader {
			decision.Dropped = append(decision.Dropped, c.TraderID)
		}
	}
	return decision, nil
}

// switches reports whether the leader's metric beats the incumbent's by
// the spec's hysteresis rule: KC mode requires strictly > 1.2x (ties stay with
// the incumbent per spec §8's "20% KC hysteresis: current stays when
// KC(leader) = 1.2 × KC(current)"); trade-count mode requires a strict >.
func switches(by CopyTraderBy, leaderMetric, currentMetric float64) bool {
	if by == ByTradeCount {
		return leaderMetric > currentMetric
	}
	return leaderMetric > currentMetric*hysteresisRatio
}

func argmax(by CopyTraderBy, candidates []Candidate) Candidate {
	best := candidates[0]
	bestMetric := metric(by, best.KC)
	for _, c := range candidates[1:] {
		m := metric(by, c.KC)
		if m > bestMetric {
			best, bestMetric = c, m
		}
	}
	return best
}

// ErrNoCandidates is returned by callers that require at least one
// eligible trader but found none; Select itself tolerates an empty input
// and returns a zero Decision instead, since "nobody eligible this cycle"
// is a normal steady state, not an error.
var ErrNoCandidates = errors.New("selector: no eligible candidates")
