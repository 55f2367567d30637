// Package ctrlerr holds the control-loop error taxonomy spec §7 classifies
// every cycle failure into. It is split out from internal/engine (which
// re-exports these same values as its public error surface) so that
// internal/selector — which raises ErrInvariantViolation but must not
// import internal/engine, the package that in turn drives the selector —
// can depend on the taxonomy without creating an import cycle.
package ctrlerr

import "errors"

// Kind is the coarse error classification spec §7 drives retry/abort
// policy from.
type Kind int

const (
	KindUnknown Kind = iota
	KindTransientUpstream
	KindTransientExchange
	KindInvariantViolation
	KindFatal
)

// Sentinel errors every package in this module wraps its own errors
// around with fmt.Errorf("...: %w", ...), so Classify (via errors.Is)
// can recover the taxonomy regardless of how deep the wrap chain is.
var (
	// ErrTransientUpstream marks a non-200/malformed-JSON/timeout from
	// the leaderboard API — retried per call with linear backoff.
	ErrTransientUpstream = errors.New("transient upstream error")

	// ErrTransientExchange marks a rate-limit, network, or
	// order-not-found-on-cancel outcome from the exchange — treated as
	// an idempotent no-op, re-evaluated next cycle.
	ErrTransientExchange = errors.New("transient exchange error")

	// ErrInvariantViolation marks a logical invariant break (e.g. two
	// different "currently copied" traders) — aborts only the current
	// cycle's decision phase.
	ErrInvariantViolation = errors.New("invariant violation")

	// ErrFatal marks a condition the process cannot recover from: bad
	// CLI argument, missing credentials, DB connect failure at startup.
	ErrFatal = errors.New("fatal error")
)

// Classify recovers the taxonomy kind from a wrapped error chain.
func Classify(err error) Kind {
	switch {
	case err == nil:
		return KindUnknown
	case errors.Is(err, ErrTransientUpstream):
		return KindTransientUpstream
	case errors.Is(err, ErrTransientExchange):
		return KindTransientExchange
	case errors.Is(err, ErrInvariantViolation):
		return KindInvariantViolation
	case errors.Is(err, ErrFatal):
		return KindFatal
	default:
		return KindUnknown
	}
}
