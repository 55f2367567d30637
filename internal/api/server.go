// Package api exposes the HTTP status/control surface SPEC_FULL.md
// names, grounded on api/tactics.go's gin.Engine + handler-struct-holding
// -store + gin.H JSON response style, re-scoped from tactic CRUD onto
// this engine's per-instance status/decision-audit endpoints.
package api

import (
	"net/http"
	"os"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shadowmirror/copytrader/internal/config"
	"github.com/shadowmirror/copytrader/internal/domain"
	"github.com/shadowmirror/copytrader/internal/engine"
	"github.com/shadowmirror/copytrader/internal/metrics"
	"github.com/shadowmirror/copytrader/internal/store"
)

// Server holds every dependency the HTTP handlers need: the shared Store
// for read-only trader/position queries, the running Instances for
// status/control, and the JWT secret the auth middleware verifies
// against.
type Server struct {
	store     *store.Store
	cfg       *config.Config
	instances map[domain.Instance]*engine.Instance
	jwtSecret []byte
}

// NewServer builds a Server over the already-running instances. jwtSecret
// may be empty, in which case RequireAuth rejects every request (fail
// closed, never fail open on a missing secret).
func NewServer(cfg *config.Config, s *store.Store, instances map[domain.Instance]*engine.Instance) *Server {
	var secret []byte
	if cfg.JWTSecretEnv != "" {
		secret = []byte(os.Getenv(cfg.JWTSecretEnv))
	}
	return &Server{store: s, cfg: cfg, instances: instances, jwtSecret: secret}
}

// Router builds the gin.Engine with every route SPEC_FULL's HTTP surface
// names, mirroring the teacher's flat route-registration style.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", s.handleHealthz)
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{})))

	instances := r.Group("/instances", s.RequireAuth())
	instances.GET("", s.handleListInstances)
	instances.GET("/:id/status", s.handleInstanceStatus)
	instances.GET("/:id/cycles", s.handleInstanceCycles)
	instances.GET("/:id/positions", s.handleInstancePositions)

	traders := r.Group("/traders", s.RequireAuth())
	traders.GET("/:id", s.handleTrader)
	traders.GET("/:id/kc", s.handleTraderKC)

	return r
}

func (s *Server) handleHealthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
