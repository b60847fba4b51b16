package subscription

import (
	"context"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"

	"shardswap/pkg/shard"
)

// SPL token account layout: the u64 amount sits at byte 64.
const (
	tokenAccountMinLen  = 72
	tokenAmountOffset   = 64
	tokenAccountDataEnd = tokenAmountOffset + 8
)

// ReserveSink consumes pushed reserve balances. state.Cache implements
// it; the watcher never stores balances itself.
type ReserveSink interface {
	ApplyReserveUpdate(sh shard.Shard, account solana.PublicKey, balance uint64) bool
}

// Watcher streams reserve-account balance changes for a set of shards
// into the state cache, so cached entries stay current between TTL
// refreshes without extra RPC polling.
type Watcher struct {
	client *Client
	sink   ReserveSink
	log    *zap.Logger

	mu      sync.Mutex
	watched map[solana.PublicKey][]uint64 // pool -> local subscription IDs
}

func NewWatcher(ctx context.Context, wsURL string, sink ReserveSink, log *zap.Logger) (*Watcher, error) {
	if log == nil {
		log = zap.NewNop()
	}
	client, err := NewClient(ctx, wsURL, log)
	if err != nil {
		return nil, fmt.Errorf("reserve watcher: %w", err)
	}
	return &Watcher{
		client:  client,
		sink:    sink,
		log:     log,
		watched: make(map[solana.PublicKey][]uint64),
	}, nil
}

// WatchShard subscribes to both reserve accounts of one shard. Watching
// an already-watched shard is a no-op.
func (w *Watcher) WatchShard(sh shard.Shard) error {
	w.mu.Lock()
	if _, ok := w.watched[sh.PoolAddress]; ok {
		w.mu.Unlock()
		return nil
	}
	w.mu.Unlock()

	var ids []uint64
	for _, account := range []solana.PublicKey{sh.ReserveAccountA, sh.ReserveAccountB} {
		account := account
		id, err := w.client.SubscribeAccount(account, func(acc solana.PublicKey, data []byte, slot uint64) {
			w.handleUpdate(sh, acc, data, slot)
		})
		if err != nil {
			for _, prev := range ids {
				_ = w.client.Unsubscribe(prev)
			}
			return fmt.Errorf("subscribe reserve %s of pool %s: %w", account, sh.PoolAddress, err)
		}
		ids = append(ids, id)
	}

	w.mu.Lock()
	w.watched[sh.PoolAddress] = ids
	w.mu.Unlock()

	w.log.Info("watching shard reserves",
		zap.String("pool", sh.PoolAddress.String()),
		zap.Int("shard", sh.ShardNumber))
	return nil
}

// WatchRegistry subscribes every shard in the registry.
func (w *Watcher) WatchRegistry(reg *shard.Registry) error {
	for _, sh := range reg.AllShards() {
		if err := w.WatchShard(sh); err != nil {
			return err
		}
	}
	return nil
}

// UnwatchShard drops both reserve subscriptions of one shard.
func (w *Watcher) UnwatchShard(pool solana.PublicKey) {
	w.mu.Lock()
	ids := w.watched[pool]
	delete(w.watched, pool)
	w.mu.Unlock()

	for _, id := range ids {
		if err := w.client.Unsubscribe(id); err != nil {
			w.log.Warn("unsubscribe failed", zap.Uint64("id", id), zap.Error(err))
		}
	}
}

func (w *Watcher) handleUpdate(sh shard.Shard, account solana.PublicKey, encoded []byte, slot uint64) {
	balance, err := decodeTokenBalance(encoded)
	if err != nil {
		w.log.Warn("bad reserve account data",
			zap.String("account", account.String()),
			zap.Uint64("slot", slot),
			zap.Error(err))
		return
	}

	if applied := w.sink.ApplyReserveUpdate(sh, account, balance); applied {
		w.log.Debug("reserve updated from stream",
			zap.String("pool", sh.PoolAddress.String()),
			zap.String("account", account.String()),
			zap.Uint64("balance", balance),
			zap.Uint64("slot", slot))
	}
}

// decodeTokenBalance extracts the amount field from a base64-encoded SPL
// token account.
func decodeTokenBalance(encoded []byte) (uint64, error) {
	data, err := base64.StdEncoding.DecodeString(string(encoded))
	if err != nil {
		return 0, fmt.Errorf("decode base64: %w", err)
	}
	if len(data) < tokenAccountMinLen {
		return 0, fmt.Errorf("token account data too short: %d bytes", len(data))
	}
	return binary.LittleEndian.Uint64(data[tokenAmountOffset:tokenAccountDataEnd]), nil
}

// Stats reports watcher health for diagnostics endpoints.
func (w *Watcher) Stats() (watchedShards int, connected bool) {
	w.mu.Lock()
	watchedShards = len(w.watched)
	w.mu.Unlock()
	return watchedShards, w.client.IsConnected()
}

// Close drops all subscriptions and the underlying connection.
func (w *Watcher) Close() error {
	w.mu.Lock()
	pools := make([]solana.PublicKey, 0, len(w.watched))
	for pool := range w.watched {
		pools = append(pools, pool)
	}
	w.mu.Unlock()

	for _, pool := range pools {
		w.UnwatchShard(pool)
	}
	return w.client.Close()
}
