package state

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeReserveClient serves canned balances per account.
type fakeReserveClient struct {
	balances map[solana.PublicKey]uint64
	supplies map[solana.PublicKey]uint64
	err      error
}

func (f *fakeReserveClient) GetTokenAccountBalance(ctx context.Context, account solana.PublicKey) (uint64, error) {
	if f.err != nil {
		return 0, f.err
	}
	bal, ok := f.balances[account]
	if !ok {
		return 0, fmt.Errorf("could not find account %s", account)
	}
	return bal, nil
}

func (f *fakeReserveClient) GetTokenSupply(ctx context.Context, mint solana.PublicKey) (uint64, error) {
	if f.err != nil {
		return 0, f.err
	}
	return f.supplies[mint], nil
}

func TestFetcherReadsBothReserves(t *testing.T) {
	sh := newTestShard()
	client := &fakeReserveClient{
		balances: map[solana.PublicKey]uint64{
			sh.ReserveAccountA: 50_000_000_000,
			sh.ReserveAccountB: 500_000_000_000,
		},
		supplies: map[solana.PublicKey]uint64{sh.LPMint: 7},
	}

	f := NewFetcher(client)
	st, err := f.Fetch(context.Background(), sh)
	require.NoError(t, err)

	assert.Equal(t, uint64(50_000_000_000), st.ReserveA)
	assert.Equal(t, uint64(500_000_000_000), st.ReserveB)
	assert.Equal(t, uint64(3), st.FeeNumerator)
	assert.True(t, st.Trusted())
	assert.False(t, st.FetchedAt.IsZero())

	st, err = f.FetchWithSupply(context.Background(), sh)
	require.NoError(t, err)
	assert.Equal(t, uint64(7), st.LPSupply)
}

func TestFetcherCategorizesFailures(t *testing.T) {
	sh := newTestShard()
	f := NewFetcher(&fakeReserveClient{err: errors.New("429 too many requests")})

	_, err := f.Fetch(context.Background(), sh)
	require.Error(t, err)

	var fe *FetchError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, CategoryRateLimited, fe.Category)
	assert.True(t, fe.Retryable())
	assert.Equal(t, sh.PoolAddress.String(), fe.Pool)
}

func TestCategorize(t *testing.T) {
	cases := []struct {
		err  error
		want Category
	}{
		{context.DeadlineExceeded, CategoryTimeout},
		{errors.New("request timed out"), CategoryTimeout},
		{errors.New("429 Too Many Requests"), CategoryRateLimited},
		{errors.New("could not find account xyz"), CategoryInvalidAccount},
		{errors.New("dial tcp: connection refused"), CategoryNetwork},
		{errors.New("something else entirely"), CategoryUnknown},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, Categorize(tc.err), "error: %v", tc.err)
	}

	assert.False(t, (&FetchError{Category: CategoryInvalidAccount}).Retryable())
}
