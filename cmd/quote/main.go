package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"shardswap/pkg/config"
	"shardswap/pkg/routing"
	"shardswap/pkg/sol"
	"shardswap/pkg/state"
)

var (
	rpcEndpoints = flag.String("rpc", "", "comma-separated Solana RPC endpoints (RPC_ENDPOINTS if empty)")
	input        = flag.String("input", "", "input token symbol (required)")
	output       = flag.String("output", "", "output token symbol (required)")
	amount       = flag.Float64("amount", 0, "input amount in human units (required)")
	trader       = flag.String("trader", "", "trader address forwarded to the routing backend")
	shardConfig  = flag.String("shards", "", "shard registry JSON path (SHARD_CONFIG if empty)")
	rateLimit    = flag.Int("ratelimit", 20, "RPC requests per second per endpoint")
	timeout      = flag.Duration("timeout", 15*time.Second, "overall quote timeout")
	jsonOutput   = flag.Bool("json", true, "output as JSON")
)

func main() {
	if err := config.LoadEnv(".env"); err != nil {
		fmt.Fprintf(os.Stderr, "load .env: %v\n", err)
	}
	flag.Parse()

	if *input == "" || *output == "" || *amount <= 0 {
		fmt.Fprintln(os.Stderr, "Error: missing required arguments")
		fmt.Fprintln(os.Stderr, "\nUsage:")
		flag.PrintDefaults()
		fmt.Fprintln(os.Stderr, "\nExample:")
		fmt.Fprintln(os.Stderr, "  quote -input SOL -output USDC -amount 1.5")
		os.Exit(1)
	}

	if err := run(); err != nil {
		outputError(err)
		os.Exit(1)
	}
}

func run() error {
	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
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

	rpcPool, err := sol.NewRPCPool(ctx, endpoints, "", *rateLimit)
	if err != nil {
		return err
	}
	fetcher := state.NewFetcher(rpcPool)
	cache := state.NewCache(fetcher.Fetch, state.DefaultTTL, nil)

	var backend routing.RouteDecider
	if url := config.GetBackendURL(); url != "" {
		backend = routing.NewBackendClient(url, routing.DefaultBackendTimeout)
	}
	orchestrator := routing.NewOrchestrator(registry, cache, backend, nil, zap.NewNop())

	q, err := orchestrator.GetQuote(ctx, *input, *output, *amount, *trader)
	if err != nil {
		return err
	}

	if *jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(q)
	}

	fmt.Printf("%g %s -> %g %s\n", q.InAmountHuman, q.InputSymbol, q.OutAmountHuman, q.OutputSymbol)
	fmt.Printf("  routing:      %s", q.RoutingMethod)
	if q.BackendReason != "" {
		fmt.Printf(" (%s)", q.BackendReason)
	}
	fmt.Println()
	for _, leg := range q.Route {
		fmt.Printf("  shard %d:      %s\n", leg.ShardNumber, leg.PoolAddress)
	}
	fmt.Printf("  price impact: %.4f%%\n", q.PriceImpactPct)
	fmt.Printf("  fee:          %g %s\n", q.FeeHuman, q.InputSymbol)
	if !q.StateTrusted {
		fmt.Println("  WARNING: quoted from config-derived reserves, not chain-verified")
	}
	return nil
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

func outputError(err error) {
	if *jsonOutput {
		json.NewEncoder(os.Stdout).Encode(map[string]string{"error": err.Error()})
		return
	}
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
}
