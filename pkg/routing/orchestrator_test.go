package routing

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shardswap/pkg/quote"
	"shardswap/pkg/shard"
	"shardswap/pkg/state"
)

var (
	wsolMint = solana.MustPublicKeyFromBase58("So11111111111111111111111111111111111111112")
	usdcMint = solana.MustPublicKeyFromBase58("EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v")
)

type fakeCache struct {
	states map[solana.PublicKey]state.PoolState
	gets   int
}

func (f *fakeCache) Get(ctx context.Context, sh shard.Shard) state.PoolState {
	f.gets++
	return f.states[sh.PoolAddress]
}

type fakeDecider struct {
	route *BackendRoute
	err   error
	calls int
}

func (f *fakeDecider) RequestRoute(ctx context.Context, req BackendRequest) (*BackendRoute, error) {
	f.calls++
	return f.route, f.err
}

func newTestRegistry(t *testing.T) (*shard.Registry, []shard.Shard) {
	t.Helper()
	shards := []shard.Shard{
		{
			PoolAddress:     solana.NewWallet().PublicKey(),
			MintA:           wsolMint,
			MintB:           usdcMint,
			ReserveAccountA: solana.NewWallet().PublicKey(),
			ReserveAccountB: solana.NewWallet().PublicKey(),
			FeeNumerator:    3,
			FeeDenominator:  1000,
			ShardNumber:     0,
		},
		{
			PoolAddress:     solana.NewWallet().PublicKey(),
			MintA:           wsolMint,
			MintB:           usdcMint,
			ReserveAccountA: solana.NewWallet().PublicKey(),
			ReserveAccountB: solana.NewWallet().PublicKey(),
			FeeNumerator:    3,
			FeeDenominator:  1000,
			ShardNumber:     1,
		},
	}
	reg, err := shard.NewRegistry(shards, []shard.Token{
		{Symbol: "SOL", Mint: wsolMint, Decimals: 9},
		{Symbol: "USDC", Mint: usdcMint, Decimals: 6},
	})
	require.NoError(t, err)
	return reg, shards
}

func chainState(reserveA, reserveB uint64) state.PoolState {
	return state.PoolState{
		ReserveA:       reserveA,
		ReserveB:       reserveB,
		FeeNumerator:   3,
		FeeDenominator: 1000,
		Origin:         state.OriginChain,
		FetchedAt:      time.Now(),
	}
}

func TestGetQuoteBackendPath(t *testing.T) {
	reg, shards := newTestRegistry(t)
	decider := &fakeDecider{route: &BackendRoute{
		ShardID:        1,
		ShardAddress:   shards[1].PoolAddress.String(),
		ExpectedOutput: "9950000",
		PriceImpact:    0.004,
		Reason:         "deepest reserves within staleness budget",
	}}
	cache := &fakeCache{}

	o := NewOrchestrator(reg, cache, decider, nil, nil)
	q, err := o.GetQuote(context.Background(), "SOL", "USDC", 0.001, "")
	require.NoError(t, err)

	assert.Equal(t, quote.RoutingBackend, q.RoutingMethod)
	assert.Equal(t, "deepest reserves within staleness budget", q.BackendReason)
	assert.Equal(t, "1000000", q.InAmount)
	assert.Equal(t, "9950000", q.OutAmount)
	assert.InDelta(t, 9.95, q.OutAmountHuman, 1e-9)
	assert.InDelta(t, 0.4, q.PriceImpactPct, 1e-9)
	require.Len(t, q.Route, 1)
	assert.Equal(t, shards[1].PoolAddress, q.Route[0].PoolAddress)
	assert.True(t, q.StateTrusted)

	// Backend served; the cache was never consulted.
	assert.Zero(t, cache.gets)

	snap := o.Metrics().Snapshot()
	assert.Equal(t, uint64(1), snap.BackendAttempts)
	assert.Equal(t, uint64(1), snap.BackendSuccesses)
	assert.Zero(t, snap.Fallbacks)
}

func TestGetQuoteFallsBackOnBackendError(t *testing.T) {
	reg, shards := newTestRegistry(t)
	cache := &fakeCache{states: map[solana.PublicKey]state.PoolState{
		shards[0].PoolAddress: chainState(50_000_000_000, 500_000_000_000),
		shards[1].PoolAddress: chainState(5_000_000_000, 50_000_000_000),
	}}
	decider := &fakeDecider{err: errors.New("connection refused")}

	o := NewOrchestrator(reg, cache, decider, nil, nil)
	q, err := o.GetQuote(context.Background(), "SOL", "USDC", 0.001, "trader")
	require.NoError(t, err, "backend unavailability must never surface")

	assert.Equal(t, quote.RoutingLocal, q.RoutingMethod)
	assert.True(t, q.StateTrusted)

	// The fallback result must match direct best-shard selection on the
	// same states.
	want, selErr := quote.SelectBestShard([]quote.Candidate{
		{Shard: shards[0], State: cache.states[shards[0].PoolAddress]},
		{Shard: shards[1], State: cache.states[shards[1].PoolAddress]},
	}, 1_000_000, true, wsolMint, usdcMint)
	require.NoError(t, selErr)
	require.Len(t, q.Route, 1)
	assert.Equal(t, want, q.Route[0])

	snap := o.Metrics().Snapshot()
	assert.Equal(t, uint64(1), snap.BackendFailures)
	assert.Equal(t, uint64(1), snap.Fallbacks)
}

func TestGetQuoteRejectsUnknownBackendPool(t *testing.T) {
	reg, shards := newTestRegistry(t)
	cache := &fakeCache{states: map[solana.PublicKey]state.PoolState{
		shards[0].PoolAddress: chainState(50_000_000_000, 500_000_000_000),
		shards[1].PoolAddress: chainState(5_000_000_000, 50_000_000_000),
	}}
	// Backend recommends a pool absent from the local registry.
	decider := &fakeDecider{route: &BackendRoute{
		ShardAddress:   solana.NewWallet().PublicKey().String(),
		ExpectedOutput: "1",
	}}

	o := NewOrchestrator(reg, cache, decider, nil, nil)
	q, err := o.GetQuote(context.Background(), "SOL", "USDC", 0.001, "")
	require.NoError(t, err)

	assert.Equal(t, quote.RoutingLocal, q.RoutingMethod)
	assert.Equal(t, uint64(1), o.Metrics().Snapshot().BackendFailures)
}

func TestGetQuoteLocalOnly(t *testing.T) {
	reg, shards := newTestRegistry(t)
	cache := &fakeCache{states: map[solana.PublicKey]state.PoolState{
		shards[0].PoolAddress: chainState(50_000_000_000, 500_000_000_000),
		shards[1].PoolAddress: chainState(5_000_000_000, 50_000_000_000),
	}}

	o := NewOrchestrator(reg, cache, nil, nil, nil)
	q, err := o.GetQuote(context.Background(), "usdc", "sol", 10, "")
	require.NoError(t, err)

	assert.Equal(t, quote.RoutingLocal, q.RoutingMethod)
	assert.Equal(t, "10000000", q.InAmount)
	// USDC is token B: reverse orientation.
	assert.Equal(t, "996980", q.OutAmount)
	assert.Equal(t, 2, cache.gets)
}

func TestGetQuoteUntrustedStateIsFlagged(t *testing.T) {
	reg, shards := newTestRegistry(t)
	degraded := state.ConfigFallback(shard.Shard{
		SeedReserveA: 50_000_000_000, SeedReserveB: 500_000_000_000,
		FeeNumerator: 3, FeeDenominator: 1000,
	})
	cache := &fakeCache{states: map[solana.PublicKey]state.PoolState{
		shards[0].PoolAddress: degraded,
		shards[1].PoolAddress: degraded,
	}}

	o := NewOrchestrator(reg, cache, nil, nil, nil)
	q, err := o.GetQuote(context.Background(), "SOL", "USDC", 0.001, "")
	require.NoError(t, err)
	assert.False(t, q.StateTrusted, "config-derived reserves must be flagged")
}

func TestGetQuoteErrors(t *testing.T) {
	reg, _ := newTestRegistry(t)
	o := NewOrchestrator(reg, &fakeCache{}, nil, nil, nil)

	_, err := o.GetQuote(context.Background(), "DOGE", "USDC", 1, "")
	var notConfigured *TokenNotConfiguredError
	require.ErrorAs(t, err, &notConfigured)
	assert.Equal(t, "DOGE", notConfigured.Symbol)

	// Empty reserves everywhere: a clearly-attributable no-route error.
	_, err = o.GetQuote(context.Background(), "SOL", "USDC", 0.001, "")
	var noRoute *quote.NoRouteError
	assert.ErrorAs(t, err, &noRoute)

	_, err = o.GetQuote(context.Background(), "SOL", "USDC", -1, "")
	assert.Error(t, err)
}

func TestHumanToBase(t *testing.T) {
	v, err := humanToBase(1.5, 9)
	require.NoError(t, err)
	assert.Equal(t, uint64(1_500_000_000), v)

	v, err = humanToBase(0.000001, 6)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), v)

	_, err = humanToBase(0.0000001, 6)
	assert.Error(t, err, "sub-base-unit amounts round to zero")

	_, err = humanToBase(0, 9)
	assert.Error(t, err)
}

func TestBackendClientAgainstServer(t *testing.T) {
	poolAddr := solana.NewWallet().PublicKey().String()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		w.Write([]byte(`{"success":true,"data":{"shard":{"id":2,"address":"` + poolAddr + `"},"expectedOutput":"12345","priceImpact":0.0031,"reason":"ok"}}`))
	}))
	defer srv.Close()

	c := NewBackendClient(srv.URL, time.Second)
	route, err := c.RequestRoute(context.Background(), BackendRequest{InputAmount: "1"})
	require.NoError(t, err)
	assert.Equal(t, 2, route.ShardID)
	assert.Equal(t, poolAddr, route.ShardAddress)
	assert.Equal(t, "12345", route.ExpectedOutput)
	assert.InDelta(t, 0.0031, route.PriceImpact, 1e-9)
}

func TestBackendClientFailures(t *testing.T) {
	cases := map[string]http.HandlerFunc{
		"http error": func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "boom", http.StatusBadGateway)
		},
		"malformed body": func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("not json"))
		},
		"unsuccessful envelope": func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"success":false,"error":"no shard available"}`))
		},
	}

	for name, handler := range cases {
		t.Run(name, func(t *testing.T) {
			srv := httptest.NewServer(handler)
			defer srv.Close()

			c := NewBackendClient(srv.URL, time.Second)
			_, err := c.RequestRoute(context.Background(), BackendRequest{})
			assert.Error(t, err)
		})
	}
}

func TestMetricsSnapshotAndReset(t *testing.T) {
	m := NewMetrics(nil)
	m.RecordBackendSuccess(10 * time.Millisecond)
	m.RecordBackendFailure(5 * time.Millisecond)
	m.RecordFallback(20*time.Millisecond, true)
	m.RecordFallback(1*time.Millisecond, false)

	snap := m.Snapshot()
	assert.Equal(t, uint64(2), snap.BackendAttempts)
	assert.Equal(t, uint64(1), snap.BackendSuccesses)
	assert.Equal(t, uint64(1), snap.BackendFailures)
	assert.Equal(t, uint64(2), snap.Fallbacks)
	assert.Equal(t, uint64(1), snap.LocalFailures)
	assert.Equal(t, 15*time.Millisecond, snap.BackendDuration)
	assert.Equal(t, 21*time.Millisecond, snap.LocalDuration)

	m.Reset()
	assert.Equal(t, Snapshot{}, m.Snapshot())
}
