package quote

import (
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shardswap/pkg/shard"
	"shardswap/pkg/state"
)

func candidate(n int, reserveA, reserveB uint64) Candidate {
	return Candidate{
		Shard: shard.Shard{
			PoolAddress: solana.NewWallet().PublicKey(),
			ShardNumber: n,
		},
		State: state.PoolState{
			ReserveA:       reserveA,
			ReserveB:       reserveB,
			FeeNumerator:   3,
			FeeDenominator: 1000,
			Origin:         state.OriginChain,
		},
	}
}

func TestSelectBestShardPicksLargestOutput(t *testing.T) {
	in, out := solana.NewWallet().PublicKey(), solana.NewWallet().PublicKey()
	deep := candidate(0, 50_000_000_000, 500_000_000_000)
	shallow := candidate(1, 5_000_000_000, 50_000_000_000)

	route, err := SelectBestShard([]Candidate{shallow, deep}, 1_000_000, true, in, out)
	require.NoError(t, err)

	// Same spot price but the deeper pool slips less.
	assert.Equal(t, deep.Shard.PoolAddress, route.PoolAddress)
	assert.Equal(t, "9969801", route.OutAmount)
	assert.Equal(t, "1000000", route.InAmount)
	assert.InDelta(t, 9.9698, route.ExecutionPrice, 0.0001)
}

func TestSelectBestShardDeterministic(t *testing.T) {
	in, out := solana.NewWallet().PublicKey(), solana.NewWallet().PublicKey()
	cands := []Candidate{
		candidate(2, 10_000_000_000, 90_000_000_000),
		candidate(0, 50_000_000_000, 500_000_000_000),
		candidate(1, 20_000_000_000, 210_000_000_000),
	}

	first, err := SelectBestShard(cands, 5_000_000, true, in, out)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		again, err := SelectBestShard(cands, 5_000_000, true, in, out)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestSelectBestShardFullTiePrefersLowestShardNumber(t *testing.T) {
	in, out := solana.NewWallet().PublicKey(), solana.NewWallet().PublicKey()
	// Identical shards: output and impact tie exactly.
	a := candidate(3, 50_000_000_000, 500_000_000_000)
	b := candidate(1, 50_000_000_000, 500_000_000_000)
	c := candidate(2, 50_000_000_000, 500_000_000_000)

	route, err := SelectBestShard([]Candidate{a, b, c}, 1_000_000, true, in, out)
	require.NoError(t, err)
	assert.Equal(t, 1, route.ShardNumber)
}

func TestSelectBestShardReverseOrientation(t *testing.T) {
	in, out := solana.NewWallet().PublicKey(), solana.NewWallet().PublicKey()
	c := candidate(0, 50_000_000_000, 500_000_000_000)

	// Trading token B in: reserves must be flipped.
	route, err := SelectBestShard([]Candidate{c}, 10_000_000, false, in, out)
	require.NoError(t, err)

	want := SwapOutput(10_000_000, 500_000_000_000, 50_000_000_000, 3, 1000)
	assert.Equal(t, ShardRoute{
		PoolAddress:    c.Shard.PoolAddress,
		ShardNumber:    0,
		InAmount:       "10000000",
		OutAmount:      "996980",
		ExecutionPrice: float64(want) / 10_000_000,
	}, route)
}

func TestSelectBestShardNoRoute(t *testing.T) {
	in, out := solana.NewWallet().PublicKey(), solana.NewWallet().PublicKey()

	_, err := SelectBestShard(nil, 1_000_000, true, in, out)
	var noRoute *NoRouteError
	require.ErrorAs(t, err, &noRoute)
	assert.Equal(t, in, noRoute.InputMint)
	assert.Contains(t, err.Error(), "no route found")

	// Candidates whose reserves are all zero cannot form a route either.
	empty := candidate(0, 0, 0)
	_, err = SelectBestShard([]Candidate{empty}, 1_000_000, true, in, out)
	assert.ErrorAs(t, err, &noRoute)
}
