package main

import (
	"net/http"
	"time"

	"github.com/shadowmirror/copytrader/internal/api"
	"github.com/shadowmirror/copytrader/internal/config"
	"github.com/shadowmirror/copytrader/internal/domain"
	"github.com/shadowmirror/copytrader/internal/engine"
	"github.com/shadowmirror/copytrader/internal/store"
)

// buildAPIServer wraps internal/api's gin router in a plain *http.Server
// so main can start and gracefully Shutdown it alongside the engine loop.
func buildAPIServer(cfg *config.Config, db *store.Store, instances map[domain.Instance]*engine.Instance) *http.Server {
	srv := api.NewServer(cfg, db, instances)
	addr := cfg.HTTPAddr
	if addr == "" {
		addr = ":8080"
	}
	return &http.Server{
		Addr:              addr,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
}
