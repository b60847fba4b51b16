package state

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"shardswap/pkg"
	"shardswap/pkg/shard"
)

// Fetcher reads a shard's live reserves from the chain. It never caches;
// caching is the Cache's concern.
type Fetcher struct {
	client pkg.ReserveClient
	now    func() time.Time
}

func NewFetcher(client pkg.ReserveClient) *Fetcher {
	return &Fetcher{client: client, now: time.Now}
}

// Fetch issues both reserve-balance reads in parallel and joins them; a
// partial result is never returned.
func (f *Fetcher) Fetch(ctx context.Context, sh shard.Shard) (PoolState, error) {
	var reserveA, reserveB uint64

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		reserveA, err = f.client.GetTokenAccountBalance(gctx, sh.ReserveAccountA)
		return err
	})
	g.Go(func() error {
		var err error
		reserveB, err = f.client.GetTokenAccountBalance(gctx, sh.ReserveAccountB)
		return err
	})
	if err := g.Wait(); err != nil {
		return PoolState{}, &FetchError{
			Pool:     sh.PoolAddress.String(),
			Category: Categorize(err),
			Err:      err,
		}
	}

	return PoolState{
		ReserveA:       reserveA,
		ReserveB:       reserveB,
		FeeNumerator:   sh.FeeNumerator,
		FeeDenominator: sh.FeeDenominator,
		Origin:         OriginChain,
		FetchedAt:      f.now(),
	}, nil
}

// FetchWithSupply additionally reads the LP mint supply, for consumers that
// price pool shares.
func (f *Fetcher) FetchWithSupply(ctx context.Context, sh shard.Shard) (PoolState, error) {
	st, err := f.Fetch(ctx, sh)
	if err != nil {
		return PoolState{}, err
	}
	supply, err := f.client.GetTokenSupply(ctx, sh.LPMint)
	if err != nil {
		return PoolState{}, &FetchError{
			Pool:     sh.PoolAddress.String(),
			Category: Categorize(err),
			Err:      err,
		}
	}
	st.LPSupply = supply
	return st, nil
}
