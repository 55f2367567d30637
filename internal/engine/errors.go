// Package engine ties the store, exchange gateway, matcher, filter,
// sizer, reconciler, selector, and SL/TP manager into one per-instance
// control loop (spec §2, §5), grounded on trader/auto_trader.go's
// ticker-select-stopchannel shape.
package engine

import (
	"github.com/shadowmirror/copytrader/internal/ctrlerr"
)

// Kind, Classify and the Err* sentinels are re-exported from ctrlerr
// rather than declared here directly: internal/selector raises
// ErrInvariantViolation but must not import this package (engine drives
// the selector, so engine -> selector -> engine would be a cycle).
// ctrlerr is the shared leaf both packages depend on; this alias keeps
// "engine.ErrInvariantViolation" a valid, identical sentinel for every
// other caller (errors.Is compares the same underlying value either way).
type Kind = ctrlerr.Kind

const (
	KindUnknown            = ctrlerr.KindUnknown
	KindTransientUpstream  = ctrlerr.KindTransientUpstream
	KindTransientExchange  = ctrlerr.KindTransientExchange
	KindInvariantViolation = ctrlerr.KindInvariantViolation
	KindFatal              = ctrlerr.KindFatal
)

var (
	ErrTransientUpstream  = ctrlerr.ErrTransientUpstream
	ErrTransientExchange  = ctrlerr.ErrTransientExchange
	ErrInvariantViolation = ctrlerr.ErrInvariantViolation
	ErrFatal              = ctrlerr.ErrFatal
)

// Classify recovers the taxonomy kind from a wrapped error chain.
func Classify(err error) Kind { return ctrlerr.Classify(err) }
