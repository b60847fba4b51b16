package sol

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/gagliardetto/solana-go"
)

// RPCPool spreads requests across multiple RPC endpoints. Quoting fan-out
// and the refresh scheduler share one RPC budget; round-robin keeps any
// single endpoint under its rate limit.
type RPCPool struct {
	clients []*Client
	index   uint64
}

// NewRPCPool creates a client per endpoint, each with its own rate limiter.
func NewRPCPool(ctx context.Context, endpoints []string, jitoRpc string, reqLimitPerSecond int) (*RPCPool, error) {
	if len(endpoints) == 0 {
		return nil, fmt.Errorf("no RPC endpoints")
	}

	pool := &RPCPool{clients: make([]*Client, 0, len(endpoints))}
	for _, endpoint := range endpoints {
		client, err := NewClient(ctx, endpoint, jitoRpc, reqLimitPerSecond)
		if err != nil {
			return nil, err
		}
		pool.clients = append(pool.clients, client)
	}
	return pool, nil
}

// GetClient returns the next client in round-robin order.
func (p *RPCPool) GetClient() *Client {
	if len(p.clients) == 1 {
		return p.clients[0]
	}
	idx := atomic.AddUint64(&p.index, 1) % uint64(len(p.clients))
	return p.clients[idx]
}

// Size returns the number of clients in the pool.
func (p *RPCPool) Size() int {
	return len(p.clients)
}

// GetTokenAccountBalance reads through the next client in the pool.
func (p *RPCPool) GetTokenAccountBalance(ctx context.Context, account solana.PublicKey) (uint64, error) {
	return p.GetClient().GetTokenAccountBalance(ctx, account)
}

// GetTokenSupply reads through the next client in the pool.
func (p *RPCPool) GetTokenSupply(ctx context.Context, mint solana.PublicKey) (uint64, error) {
	return p.GetClient().GetTokenSupply(ctx, mint)
}
