package routing

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"sync"
	"time"

	cosmath "cosmossdk.io/math"
	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"

	"shardswap/pkg/quote"
	"shardswap/pkg/shard"
	"shardswap/pkg/state"
)

// TokenNotConfiguredError names a symbol missing from the registry.
type TokenNotConfiguredError struct {
	Symbol string
}

func (e *TokenNotConfiguredError) Error() string {
	return fmt.Sprintf("token %q is not configured", e.Symbol)
}

// StateReader is the cache surface the orchestrator reads through.
type StateReader interface {
	Get(ctx context.Context, sh shard.Shard) state.PoolState
}

// Orchestrator produces quotes backend-first with a correctness-preserving
// local fallback. Backend unavailability alone never surfaces to the
// caller: only NoRouteError or TokenNotConfiguredError escape.
//
// It holds no per-quote state; construct one per app (or per test) and
// reset its metrics explicitly.
type Orchestrator struct {
	registry *shard.Registry
	cache    StateReader
	backend  RouteDecider // nil disables the backend path
	metrics  *Metrics
	log      *zap.Logger
	now      func() time.Time
}

func NewOrchestrator(registry *shard.Registry, cache StateReader, backend RouteDecider, metrics *Metrics, log *zap.Logger) *Orchestrator {
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Orchestrator{
		registry: registry,
		cache:    cache,
		backend:  backend,
		metrics:  metrics,
		log:      log,
		now:      time.Now,
	}
}

// Metrics exposes the orchestrator's performance counters.
func (o *Orchestrator) Metrics() *Metrics {
	return o.metrics
}

// GetQuote resolves the pair, tries the backend decision service, and on
// any backend failure computes the route locally from cached pool state.
func (o *Orchestrator) GetQuote(ctx context.Context, inputSymbol, outputSymbol string, amountHuman float64, trader string) (*quote.Quote, error) {
	inTok, ok := o.registry.Token(inputSymbol)
	if !ok {
		return nil, &TokenNotConfiguredError{Symbol: inputSymbol}
	}
	outTok, ok := o.registry.Token(outputSymbol)
	if !ok {
		return nil, &TokenNotConfiguredError{Symbol: outputSymbol}
	}

	shards := o.registry.ShardsForPair(inTok.Mint, outTok.Mint)
	if len(shards) == 0 {
		return nil, &quote.NoRouteError{InputMint: inTok.Mint, OutputMint: outTok.Mint}
	}
	isForward := inTok.Mint.Equals(shards[0].MintA)

	amountIn, err := humanToBase(amountHuman, inTok.Decimals)
	if err != nil {
		return nil, fmt.Errorf("amount %v %s: %w", amountHuman, inTok.Symbol, err)
	}

	// Backend attempt is an explicit result value, not control flow: a
	// failed branch maps onto the local computation.
	if o.backend != nil {
		start := o.now()
		q, backendErr := o.backendQuote(ctx, shards, inTok, outTok, amountIn, amountHuman, trader)
		elapsed := o.now().Sub(start)
		if backendErr == nil {
			o.metrics.RecordBackendSuccess(elapsed)
			return q, nil
		}
		o.metrics.RecordBackendFailure(elapsed)
		o.log.Warn("backend routing failed, falling back to local",
			zap.String("pair", inTok.Symbol+"/"+outTok.Symbol),
			zap.String("category", string(state.Categorize(backendErr))),
			zap.Error(backendErr))
	}

	start := o.now()
	q, localErr := o.localQuote(ctx, shards, inTok, outTok, amountIn, amountHuman, isForward)
	o.metrics.RecordFallback(o.now().Sub(start), localErr == nil)
	return q, localErr
}

// backendQuote asks the remote decision service and validates its answer
// against local configuration. A recommended pool that is not in the
// registry is a backend failure, not a silent accept.
func (o *Orchestrator) backendQuote(ctx context.Context, shards []shard.Shard, inTok, outTok shard.Token, amountIn uint64, amountHuman float64, trader string) (*quote.Quote, error) {
	tokenA, tokenB := shards[0].MintA, shards[0].MintB

	route, err := o.backend.RequestRoute(ctx, BackendRequest{
		TokenA:      tokenA.String(),
		TokenB:      tokenB.String(),
		InputToken:  inTok.Mint.String(),
		InputAmount: strconv.FormatUint(amountIn, 10),
		Trader:      trader,
	})
	if err != nil {
		return nil, err
	}

	poolAddr, err := solana.PublicKeyFromBase58(route.ShardAddress)
	if err != nil {
		return nil, fmt.Errorf("backend returned invalid pool address %q: %w", route.ShardAddress, err)
	}
	sh, known := o.registry.ShardByAddress(poolAddr)
	if !known {
		return nil, fmt.Errorf("backend recommended pool %s not present in shard registry", poolAddr)
	}

	expected, ok := cosmath.NewIntFromString(route.ExpectedOutput)
	if !ok || expected.IsNegative() || !expected.IsUint64() {
		return nil, fmt.Errorf("backend returned invalid expected output %q", route.ExpectedOutput)
	}
	outAmount := expected.Uint64()

	return &quote.Quote{
		InputMint:      inTok.Mint,
		OutputMint:     outTok.Mint,
		InputSymbol:    inTok.Symbol,
		OutputSymbol:   outTok.Symbol,
		InAmount:       strconv.FormatUint(amountIn, 10),
		OutAmount:      strconv.FormatUint(outAmount, 10),
		InAmountHuman:  amountHuman,
		OutAmountHuman: baseToHuman(outAmount, outTok.Decimals),
		FeeHuman:       amountHuman * float64(sh.FeeNumerator) / float64(sh.FeeDenominator),
		PriceImpactPct: route.PriceImpact * 100,
		Route: []quote.ShardRoute{{
			PoolAddress:    sh.PoolAddress,
			ShardNumber:    sh.ShardNumber,
			InAmount:       strconv.FormatUint(amountIn, 10),
			OutAmount:      strconv.FormatUint(outAmount, 10),
			ExecutionPrice: float64(outAmount) / float64(amountIn),
		}},
		RoutingMethod: quote.RoutingBackend,
		BackendReason: route.Reason,
		StateTrusted:  true,
	}, nil
}

// localQuote fans out cached state reads for every shard of the pair and
// runs best-shard selection. All reads complete before selection; partial
// results are never used.
func (o *Orchestrator) localQuote(ctx context.Context, shards []shard.Shard, inTok, outTok shard.Token, amountIn uint64, amountHuman float64, isForward bool) (*quote.Quote, error) {
	candidates := make([]quote.Candidate, len(shards))
	var wg sync.WaitGroup
	for i, sh := range shards {
		wg.Add(1)
		go func(i int, sh shard.Shard) {
			defer wg.Done()
			candidates[i] = quote.Candidate{Shard: sh, State: o.cache.Get(ctx, sh)}
		}(i, sh)
	}
	wg.Wait()

	route, err := quote.SelectBestShard(candidates, amountIn, isForward, inTok.Mint, outTok.Mint)
	if err != nil {
		return nil, err
	}

	var chosen quote.Candidate
	for _, c := range candidates {
		if c.Shard.PoolAddress.Equals(route.PoolAddress) {
			chosen = c
			break
		}
	}

	outAmount, _ := strconv.ParseUint(route.OutAmount, 10, 64)
	reserveIn, reserveOut := orient(chosen.State, isForward)
	impact := quote.PriceImpact(amountIn, outAmount, reserveIn, reserveOut)

	return &quote.Quote{
		InputMint:      inTok.Mint,
		OutputMint:     outTok.Mint,
		InputSymbol:    inTok.Symbol,
		OutputSymbol:   outTok.Symbol,
		InAmount:       route.InAmount,
		OutAmount:      route.OutAmount,
		InAmountHuman:  amountHuman,
		OutAmountHuman: baseToHuman(outAmount, outTok.Decimals),
		FeeHuman:       amountHuman * float64(chosen.State.FeeNumerator) / float64(chosen.State.FeeDenominator),
		PriceImpactPct: impact,
		Route:          []quote.ShardRoute{route},
		RoutingMethod:  quote.RoutingLocal,
		StateTrusted:   chosen.State.Trusted(),
	}, nil
}

func orient(st state.PoolState, isForward bool) (reserveIn, reserveOut uint64) {
	if isForward {
		return st.ReserveA, st.ReserveB
	}
	return st.ReserveB, st.ReserveA
}

// humanToBase converts a human amount to integer base units using decimal
// string arithmetic; float multiplication would drift on large amounts.
func humanToBase(amountHuman float64, decimals uint8) (uint64, error) {
	if amountHuman <= 0 || math.IsNaN(amountHuman) || math.IsInf(amountHuman, 0) {
		return 0, fmt.Errorf("amount must be a positive finite number")
	}
	dec, err := cosmath.LegacyNewDecFromStr(strconv.FormatFloat(amountHuman, 'f', -1, 64))
	if err != nil {
		return 0, fmt.Errorf("parse amount: %w", err)
	}
	base := dec.Mul(cosmath.LegacyNewDec(10).Power(uint64(decimals))).TruncateInt()
	if !base.IsUint64() {
		return 0, fmt.Errorf("amount overflows base units")
	}
	v := base.Uint64()
	if v == 0 {
		return 0, fmt.Errorf("amount rounds to zero base units")
	}
	return v, nil
}

func baseToHuman(amount uint64, decimals uint8) float64 {
	return float64(amount) / math.Pow10(int(decimals))
}
