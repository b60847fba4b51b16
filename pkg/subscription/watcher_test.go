package subscription

import (
	"encoding/base64"
	"encoding/binary"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"shardswap/pkg/shard"
)

type sinkSpy struct {
	updates []struct {
		pool    solana.PublicKey
		account solana.PublicKey
		balance uint64
	}
}

func (s *sinkSpy) ApplyReserveUpdate(sh shard.Shard, account solana.PublicKey, balance uint64) bool {
	s.updates = append(s.updates, struct {
		pool    solana.PublicKey
		account solana.PublicKey
		balance uint64
	}{sh.PoolAddress, account, balance})
	return true
}

func tokenAccountData(t *testing.T, amount uint64) []byte {
	t.Helper()
	raw := make([]byte, 165) // full SPL token account size
	binary.LittleEndian.PutUint64(raw[64:72], amount)
	return []byte(base64.StdEncoding.EncodeToString(raw))
}

func TestDecodeTokenBalance(t *testing.T) {
	balance, err := decodeTokenBalance(tokenAccountData(t, 123_456_789))
	require.NoError(t, err)
	assert.Equal(t, uint64(123_456_789), balance)

	_, err = decodeTokenBalance([]byte("!!!not-base64!!!"))
	assert.Error(t, err)

	short := []byte(base64.StdEncoding.EncodeToString(make([]byte, 32)))
	_, err = decodeTokenBalance(short)
	assert.ErrorContains(t, err, "too short")
}

func TestHandleUpdatePushesToSink(t *testing.T) {
	sink := &sinkSpy{}
	w := &Watcher{
		sink:    sink,
		log:     zap.NewNop(),
		watched: make(map[solana.PublicKey][]uint64),
	}

	sh := shard.Shard{
		PoolAddress:     solana.NewWallet().PublicKey(),
		ReserveAccountA: solana.NewWallet().PublicKey(),
		ReserveAccountB: solana.NewWallet().PublicKey(),
	}

	w.handleUpdate(sh, sh.ReserveAccountA, tokenAccountData(t, 42_000_000), 99)
	require.Len(t, sink.updates, 1)
	assert.Equal(t, sh.PoolAddress, sink.updates[0].pool)
	assert.Equal(t, sh.ReserveAccountA, sink.updates[0].account)
	assert.Equal(t, uint64(42_000_000), sink.updates[0].balance)

	// Undecodable pushes nothing.
	w.handleUpdate(sh, sh.ReserveAccountB, []byte("garbage"), 100)
	assert.Len(t, sink.updates, 1)
}
