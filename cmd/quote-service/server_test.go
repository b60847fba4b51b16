package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"shardswap/pkg/quote"
	"shardswap/pkg/refresh"
	"shardswap/pkg/routing"
	"shardswap/pkg/shard"
	"shardswap/pkg/state"
)

func newTestServer(t *testing.T) *server {
	t.Helper()

	wsol := solana.MustPublicKeyFromBase58("So11111111111111111111111111111111111111112")
	usdc := solana.MustPublicKeyFromBase58("EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v")
	registry, err := shard.NewRegistry([]shard.Shard{{
		PoolAddress:     solana.NewWallet().PublicKey(),
		MintA:           wsol,
		MintB:           usdc,
		ReserveAccountA: solana.NewWallet().PublicKey(),
		ReserveAccountB: solana.NewWallet().PublicKey(),
		FeeNumerator:    3,
		FeeDenominator:  1000,
	}}, []shard.Token{
		{Symbol: "SOL", Mint: wsol, Decimals: 9},
		{Symbol: "USDC", Mint: usdc, Decimals: 6},
	})
	require.NoError(t, err)

	fetch := func(ctx context.Context, sh shard.Shard) (state.PoolState, error) {
		return state.PoolState{
			ReserveA:       50_000_000_000,
			ReserveB:       500_000_000_000,
			FeeNumerator:   3,
			FeeDenominator: 1000,
			Origin:         state.OriginChain,
			FetchedAt:      time.Now(),
		}, nil
	}
	cache := state.NewCache(fetch, state.DefaultTTL, nil)
	scheduler := refresh.NewScheduler(func(ctx context.Context) error { return nil }, cache, nil, nil)

	return &server{
		orchestrator: routing.NewOrchestrator(registry, cache, nil, nil, zap.NewNop()),
		scheduler:    scheduler,
		cache:        cache,
		registry:     registry,
		log:          zap.NewNop(),
		startTime:    time.Now(),
	}
}

func TestHandleQuote(t *testing.T) {
	srv := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/quote?input=SOL&output=USDC&amount=0.001", nil)
	rec := httptest.NewRecorder()
	srv.handleQuote(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var q quote.Quote
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &q))
	assert.Equal(t, quote.RoutingLocal, q.RoutingMethod)
	assert.Equal(t, "9969801", q.OutAmount)
	assert.True(t, q.StateTrusted)
}

func TestHandleQuoteErrors(t *testing.T) {
	srv := newTestServer(t)

	cases := []struct {
		name string
		url  string
		code int
	}{
		{"missing params", "/quote?input=SOL", http.StatusBadRequest},
		{"bad amount", "/quote?input=SOL&output=USDC&amount=zero", http.StatusBadRequest},
		{"negative amount", "/quote?input=SOL&output=USDC&amount=-1", http.StatusBadRequest},
		{"unknown token", "/quote?input=DOGE&output=USDC&amount=1", http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			srv.handleQuote(rec, httptest.NewRequest(http.MethodGet, tc.url, nil))
			assert.Equal(t, tc.code, rec.Code)

			var e errorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &e))
			assert.NotEmpty(t, e.Error)
		})
	}

	rec := httptest.NewRecorder()
	srv.handleQuote(rec, httptest.NewRequest(http.MethodPost, "/quote", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestHandleHealth(t *testing.T) {
	srv := newTestServer(t)

	rec := httptest.NewRecorder()
	srv.handleHealth(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var h healthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &h))
	assert.Equal(t, "stale", h.Status, "no successful refresh yet")
	assert.Equal(t, 1, h.Shards)

	// A manual refresh succeeds and the service reports healthy.
	require.NoError(t, srv.scheduler.ManualRefresh(context.Background()))
	rec = httptest.NewRecorder()
	srv.handleHealth(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &h))
	assert.Equal(t, "healthy", h.Status)
}

func TestHandleRefresh(t *testing.T) {
	srv := newTestServer(t)

	rec := httptest.NewRecorder()
	srv.handleRefresh(rec, httptest.NewRequest(http.MethodGet, "/refresh", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	rec = httptest.NewRecorder()
	srv.handleRefresh(rec, httptest.NewRequest(http.MethodPost, "/refresh", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}
