package exchange

import (
	"errors"
	"strings"
)

// Sentinel errors adapters wrap exchange-reported failures into, so the
// Reconciler can treat "transient exchange" outcomes (spec §7) as
// idempotent no-ops instead of aborting a phase.
var (
	ErrRateLimited    = errors.New("exchange: rate limited")
	ErrOrderNotFound  = errors.New("exchange: order not found")
	ErrAlreadyClosed  = errors.New("exchange: position already closed")
	ErrNetwork        = errors.New("exchange: network error")
)

// IsTransient reports whether err belongs to spec §7's "transient
// exchange" bucket: rate-limit, network blip, or order-not-found on a
// cancel — all normal, non-fatal outcomes the state machine re-evaluates
// on the next cycle rather than treating as a hard failure.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrRateLimited) || errors.Is(err, ErrOrderNotFound) ||
		errors.Is(err, ErrAlreadyClosed) || errors.Is(err, ErrNetwork) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, needle := range []string{"rate limit", "timeout", "connection reset", "order not found", "unknown order", "no position"} {
		if strings.Contains(msg, needle) {
			return true
		}
	}
	return false
}
