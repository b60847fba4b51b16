package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"shardswap/pkg"
	"shardswap/pkg/config"
	"shardswap/pkg/refresh"
	"shardswap/pkg/routing"
	"shardswap/pkg/shard"
	"shardswap/pkg/sol"
	"shardswap/pkg/state"
	"shardswap/pkg/subscription"
)

var (
	rpcEndpoints = flag.String("rpc", "", "comma-separated Solana RPC endpoints (RPC_ENDPOINTS if empty)")
	port         = flag.Int("port", 8080, "HTTP server port")
	rateLimit    = flag.Int("ratelimit", 20, "RPC requests per second per endpoint")
	cacheTTL     = flag.Duration("ttl", state.DefaultTTL, "pool state cache TTL")
	shardConfig  = flag.String("shards", "", "shard registry JSON path (SHARD_CONFIG if empty)")
)

func main() {
	if err := config.LoadEnv(".env"); err != nil {
		fmt.Fprintf(os.Stderr, "load .env: %v\n", err)
	}
	flag.Parse()

	log, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	if err := run(log); err != nil {
		log.Fatal("quote service failed", zap.Error(err))
	}
}

func run(log *zap.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	endpoints := parseEndpoints()
	if len(endpoints) == 0 {
		return fmt.Errorf("no RPC endpoints configured: set RPC_ENDPOINTS or use -rpc")
	}

	configPath := *shardConfig
	if configPath == "" {
		configPath = config.GetShardConfigPath()
	}
	registry, err := config.LoadShardRegistry(configPath)
	if err != nil {
		return err
	}
	log.Info("shard registry loaded",
		zap.String("path", configPath),
		zap.Int("shards", registry.Size()),
		zap.Strings("pairs", registry.Pairs()))

	rpcPool, err := sol.NewRPCPool(ctx, endpoints, config.GetJitoEndpoint(), *rateLimit)
	if err != nil {
		return err
	}

	fetcher := state.NewFetcher(rpcPool)
	cache := state.NewCache(fetcher.Fetch, *cacheTTL, log)

	promReg := prometheus.NewRegistry()
	metrics := routing.NewMetrics(promReg)

	var backend routing.RouteDecider
	if url := config.GetBackendURL(); url != "" {
		backend = routing.NewBackendClient(url, routing.DefaultBackendTimeout)
		log.Info("backend routing enabled", zap.String("url", url))
	} else {
		log.Info("no backend configured, routing locally only")
	}
	orchestrator := routing.NewOrchestrator(registry, cache, backend, metrics, log)

	scheduler := refresh.NewScheduler(refreshAll(registry, cache), cache, logNotifier{log}, log)
	go scheduler.Run(ctx)

	if wsURL := config.GetWSEndpoint(); wsURL != "" {
		watcher, err := subscription.NewWatcher(ctx, wsURL, cache, log)
		if err != nil {
			// Streaming is an optimization on top of TTL polling; the
			// service still works without it.
			log.Warn("reserve streaming unavailable", zap.Error(err))
		} else {
			defer watcher.Close()
			if err := watcher.WatchRegistry(registry); err != nil {
				log.Warn("reserve streaming incomplete", zap.Error(err))
			}
		}
	}

	srv := &server{
		orchestrator: orchestrator,
		scheduler:    scheduler,
		cache:        cache,
		registry:     registry,
		log:          log,
		startTime:    time.Now(),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/quote", srv.handleQuote)
	mux.HandleFunc("/health", srv.handleHealth)
	mux.HandleFunc("/refresh", srv.handleRefresh)
	mux.Handle("/metrics", promhttp.HandlerFor(promReg, promhttp.HandlerOpts{}))
	mux.HandleFunc("/", srv.handleRoot)

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", *port),
		Handler: corsMiddleware(mux),
	}

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		<-sigChan

		log.Info("shutting down")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Warn("shutdown error", zap.Error(err))
		}
		cancel()
	}()

	log.Info("quote service listening", zap.Int("port", *port))
	if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}

// refreshAll forces every shard's state through a live fetch. A shard that
// degrades to config fallback counts as a failure so the scheduler backs
// off instead of hammering a broken RPC.
func refreshAll(registry *shard.Registry, cache *state.Cache) refresh.RefreshFunc {
	return func(ctx context.Context) error {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(4)

		shards := registry.AllShards()
		degraded := make([]bool, len(shards))
		for i, sh := range shards {
			i, sh := i, sh
			g.Go(func() error {
				cache.Invalidate(sh.PoolAddress)
				st := cache.Get(gctx, sh)
				degraded[i] = !st.Trusted()
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}

		failures := 0
		for _, d := range degraded {
			if d {
				failures++
			}
		}
		if failures > 0 {
			return fmt.Errorf("%d of %d shards degraded to config fallback", failures, len(shards))
		}
		return nil
	}
}

func parseEndpoints() []string {
	if *rpcEndpoints == "" {
		return config.GetRPCEndpoints()
	}
	parts := strings.Split(*rpcEndpoints, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// logNotifier routes scheduler escalations into the structured log. A UI
// deployment would swap in a toast/banner implementation.
type logNotifier struct {
	log *zap.Logger
}

func (n logNotifier) Notify(severity pkg.Severity, message string) {
	switch severity {
	case pkg.SeverityWarning:
		n.log.Warn(message)
	case pkg.SeverityError:
		n.log.Error(message)
	default:
		n.log.Info(message)
	}
}
