package api

import (
	"net/http"
	"sort"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/shadowmirror/copytrader/internal/domain"
	"github.com/shadowmirror/copytrader/internal/engine"
)

// engineCycleView is CycleRecord's JSON-safe rendering: error becomes a
// plain string field instead of the unmarshalable error interface.
type engineCycleView struct {
	Instance  domain.Instance           `json:"instance"`
	Cycle     int                       `json:"cycle"`
	StartedAt time.Time                 `json:"started_at"`
	Duration  time.Duration             `json:"duration"`
	Err       string                    `json:"error,omitempty"`
	Admitted  []engine.AdmissionDecision `json:"admitted,omitempty"`
	Dropped   []engine.AdmissionDecision `json:"dropped,omitempty"`
}

func toCycleView(r engine.CycleRecord) engineCycleView {
	return engineCycleView{
		Instance:  r.Instance,
		Cycle:     r.Cycle,
		StartedAt: r.StartedAt,
		Duration:  r.Duration,
		Err:       r.ErrString(),
		Admitted:  r.Admitted,
		Dropped:   r.Dropped,
	}
}

func (s *Server) handleListInstances(c *gin.Context) {
	ids := make([]string, 0, len(s.instances))
	for id := range s.instances {
		ids = append(ids, string(id))
	}
	sort.Strings(ids)
	c.JSON(http.StatusOK, gin.H{"instances": ids})
}

func (s *Server) lookupInstance(c *gin.Context) (string, bool) {
	id := c.Param("id")
	if _, ok := s.instances[domain.Instance(id)]; !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown instance: " + id})
		return "", false
	}
	return id, true
}

// handleInstanceStatus reports one instance's enabled/mode config and its
// most recent cycle outcome, the status view SPEC_FULL's HTTP surface
// names.
func (s *Server) handleInstanceStatus(c *gin.Context) {
	id, ok := s.lookupInstance(c)
	if !ok {
		return
	}
	inst := s.instances[domain.Instance(id)]
	ic := s.cfg.Instances[id]

	cycles := inst.RecentCycles()
	var last *engineCycleView
	if len(cycles) > 0 {
		v := toCycleView(cycles[len(cycles)-1])
		last = &v
	}

	c.JSON(http.StatusOK, gin.H{
		"instance":      id,
		"enabled":       ic.Enabled,
		"mode":          ic.Mode,
		"scan_interval": ic.ScanInterval,
		"last_cycle":    last,
	})
}

// handleInstanceCycles returns the decision-audit trail: every buffered
// CycleRecord including each cycle's AdmitAndCopy admit/drop decisions.
func (s *Server) handleInstanceCycles(c *gin.Context) {
	id, ok := s.lookupInstance(c)
	if !ok {
		return
	}
	inst := s.instances[domain.Instance(id)]

	cycles := inst.RecentCycles()
	views := make([]engineCycleView, 0, len(cycles))
	for _, rec := range cycles {
		views = append(views, toCycleView(rec))
	}
	c.JSON(http.StatusOK, gin.H{"cycles": views})
}

// handleInstancePositions lists every active mirrored position for one
// instance, the read surface an operator uses to cross-check the
// decision audit against exchange state.
func (s *Server) handleInstancePositions(c *gin.Context) {
	id, ok := s.lookupInstance(c)
	if !ok {
		return
	}
	positions, err := s.store.Positions(domain.Instance(id))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	active, err := positions.Active()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"positions": active})
}

func (s *Server) handleTrader(c *gin.Context) {
	traderID := c.Param("id")
	t, err := s.store.Trader().Get(traderID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "trader not found"})
		return
	}
	c.JSON(http.StatusOK, t)
}

// handleTraderKC reports one trader's Kelly-criterion working set for a
// given instance via the ?instance= query param, the figure the selector
// and sizer both key off.
func (s *Server) handleTraderKC(c *gin.Context) {
	traderID := c.Param("id")
	instanceID := c.Query("instance")
	if instanceID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "instance query param required"})
		return
	}
	stats, err := s.store.Stats(domain.Instance(instanceID))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	kc, err := stats.KC(traderID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	penalty, err := stats.Penalty(traderID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"trader_id": traderID,
		"kc":        kc.KellyCriterion(),
		"penalty":   penalty,
		"stats":     kc,
	})
}
