// Command mirror is the engine's process entry point (spec §6's CLI):
// `mirror <instance> [instance_to_replicate]` starts one x1/x2/x3
// copy-trading slot's control loop plus the shared upstream observer and
// HTTP status surface, or `mirror diag` prints a one-shot operator
// diagnostics table instead of starting the loop.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shadowmirror/copytrader/internal/config"
	"github.com/shadowmirror/copytrader/internal/domain"
	"github.com/shadowmirror/copytrader/internal/engine"
	"github.com/shadowmirror/copytrader/internal/exchange"
	"github.com/shadowmirror/copytrader/internal/logger"
	"github.com/shadowmirror/copytrader/internal/store"
	"github.com/shadowmirror/copytrader/internal/upstream"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

// run contains the whole CLI so tests can exercise argument handling
// without calling os.Exit directly.
func run(args []string) int {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "usage: mirror <x1|x2|x3|diag> [instance_to_replicate]")
		return 1
	}

	cfgPath := os.Getenv("MIRROR_CONFIG")
	if cfgPath == "" {
		cfgPath = "config.yaml"
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "mirror: load config: %v\n", err)
		return 1
	}
	logger.SetLevel(os.Getenv("MIRROR_LOG_LEVEL"))

	db, err := store.Open(cfg.DBPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "mirror: open store: %v\n", err)
		return 1
	}
	defer db.Close()

	if args[0] == "diag" {
		return runDiag(cfg, db)
	}

	instance := domain.Instance(args[0])
	if !validInstance(instance) {
		fmt.Fprintf(os.Stderr, "mirror: bad instance %q, must be one of x1, x2, x3\n", args[0])
		return 1
	}
	ic, ok := cfg.Instances[string(instance)]
	if !ok {
		fmt.Fprintf(os.Stderr, "mirror: no config block for instance %q\n", instance)
		return 1
	}

	if len(args) >= 2 {
		src := domain.Instance(args[1])
		if !validInstance(src) {
			fmt.Fprintf(os.Stderr, "mirror: bad replication source %q\n", args[1])
			return 1
		}
		if err := db.ReplicateInstance(src, instance); err != nil {
			fmt.Fprintf(os.Stderr, "mirror: replicate %s -> %s: %v\n", src, instance, err)
			return 1
		}
		logger.Infof("mirror: replicated %s into %s", src, instance)
	}

	gw, err := buildGateway(ic.Credentials, cfg.RateLimitPerSec)
	if err != nil {
		fmt.Fprintf(os.Stderr, "mirror: build exchange gateway: %v\n", err)
		return 1
	}

	inst, err := engine.New(instance, cfg, db, gw)
	if err != nil {
		fmt.Fprintf(os.Stderr, "mirror: build engine instance: %v\n", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	obs, err := buildObserver(cfg, db)
	if err != nil {
		fmt.Fprintf(os.Stderr, "mirror: build upstream observer: %v\n", err)
		return 1
	}
	go func() {
		if err := obs.Run(ctx); err != nil {
			logger.Errorf("mirror: upstream observer stopped: %v", err)
		}
	}()

	instances := map[domain.Instance]*engine.Instance{instance: inst}
	srv := buildAPIServer(cfg, db, instances)
	go func() {
		if err := srv.ListenAndServe(); err != nil {
			logger.Errorf("mirror: http server stopped: %v", err)
		}
	}()

	runErr := inst.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)

	if runErr != nil {
		fmt.Fprintf(os.Stderr, "mirror: halted: %v\n", runErr)
		return 1
	}
	return 0
}

func validInstance(i domain.Instance) bool {
	switch i {
	case "x1", "x2", "x3":
		return true
	default:
		return false
	}
}

// buildGateway dispatches to the concrete Gateway implementation named by
// an instance's credentials block, wrapping it in the shared rate
// limiter the way every venue client is used throughout the engine.
func buildGateway(creds config.ExchangeCredentials, ratePerSec int) (exchange.Gateway, error) {
	apiKey := os.Getenv(creds.APIKeyEnv)
	apiSecret := os.Getenv(creds.APISecEnv)

	var gw exchange.Gateway
	switch creds.Exchange {
	case "binance":
		gw = exchange.NewBinanceGateway(apiKey, apiSecret)
	case "bybit":
		gw = exchange.NewBybitGateway(apiKey, apiSecret)
	case "hyperliquid":
		hl, err := exchange.NewHyperliquidGateway(apiKey)
		if err != nil {
			return nil, fmt.Errorf("hyperliquid: %w", err)
		}
		gw = hl
	default:
		return nil, fmt.Errorf("unknown exchange %q", creds.Exchange)
	}

	if ratePerSec <= 0 {
		ratePerSec = 10
	}
	return exchange.NewRateLimited(gw, ratePerSec), nil
}

func buildObserver(cfg *config.Config, db *store.Store) (*upstream.Observer, error) {
	client := upstream.New(upstream.Config{
		BaseURL: cfg.UpstreamBaseURL,
		APIKey:  os.Getenv(cfg.UpstreamAPIKeyEnv),
		APIHost: os.Getenv(cfg.UpstreamAPIHostEnv),
	})

	interval := 60 * time.Second
	if cfg.UpstreamPollInterval != "" {
		if d, err := time.ParseDuration(cfg.UpstreamPollInterval); err == nil {
			interval = d
		}
	}
	pages := cfg.UpstreamPollPages
	if pages <= 0 {
		pages = 1
	}

	return upstream.NewObserver(client, db.Trader(), db.Upstream(), cfg, interval, pages), nil
}
