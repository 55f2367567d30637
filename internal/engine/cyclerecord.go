package engine

import (
	"time"

	"github.com/shadowmirror/copytrader/internal/domain"
)

// CycleRecord is the per-cycle decision-audit entry spec §6's status
// endpoint surfaces: one row per tick, independent of whether the cycle
// errored, so an operator can see exactly what AdmitAndCopy decided.
type CycleRecord struct {
	Instance  domain.Instance `json:"instance"`
	Cycle     int             `json:"cycle"`
	StartedAt time.Time       `json:"started_at"`
	Duration  time.Duration   `json:"duration"`
	Err       error           `json:"-"`

	Admitted []AdmissionDecision `json:"admitted,omitempty"`
	Dropped  []AdmissionDecision `json:"dropped,omitempty"`
}

// ErrString is the JSON-friendly rendering of Err, since error doesn't
// marshal meaningfully on its own.
func (c CycleRecord) ErrString() string {
	if c.Err == nil {
		return ""
	}
	return c.Err.Error()
}

// AdmissionDecision records one trader's admit/drop outcome for one
// cycle: which mode drove it, what size was computed, and — for drops —
// why, using the same filter.Reason vocabulary the per-position gate
// uses so the two audit trails read consistently.
type AdmissionDecision struct {
	TraderID string  `json:"trader_id"`
	Symbol   string  `json:"symbol,omitempty"`
	Mode     string  `json:"mode"`
	KC       float64 `json:"kc,omitempty"`
	Reason   string  `json:"reason,omitempty"`
	Qty      float64 `json:"qty,omitempty"`
}
