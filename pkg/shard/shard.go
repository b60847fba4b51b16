package shard

import (
	"fmt"
	"sort"
	"strings"

	"github.com/gagliardetto/solana-go"
)

// Default trade fee for pools that do not override it (0.3%).
const (
	DefaultFeeNumerator   = 3
	DefaultFeeDenominator = 1000
)

// Shard identifies one pool instance of a trading pair. The same pair is
// replicated across multiple shards; every field is immutable after load.
type Shard struct {
	PoolAddress     solana.PublicKey
	Authority       solana.PublicKey
	MintA           solana.PublicKey
	MintB           solana.PublicKey
	ReserveAccountA solana.PublicKey
	ReserveAccountB solana.PublicKey
	LPMint          solana.PublicKey
	FeeAccount      solana.PublicKey
	FeeNumerator    uint64
	FeeDenominator  uint64

	// SeedReserveA/B are last-known reserves from static configuration,
	// used only for degraded quoting when live reads fail. Never
	// trustworthy for slippage-sensitive decisions.
	SeedReserveA uint64
	SeedReserveB uint64

	// ShardNumber is used for display and tie-break logging only.
	ShardNumber int
}

// Pair returns the canonical pair key for this shard.
func (s Shard) Pair() string {
	return PairKey(s.MintA, s.MintB)
}

// PairKey builds an order-independent key for a mint pair.
func PairKey(a, b solana.PublicKey) string {
	as, bs := a.String(), b.String()
	if as > bs {
		as, bs = bs, as
	}
	return as + "/" + bs
}

// Token carries the static metadata for one tradable token.
type Token struct {
	Symbol   string
	Mint     solana.PublicKey
	Decimals uint8
}

// Registry holds the static shard and token configuration. It is built once
// at startup from configuration and never mutated afterwards.
type Registry struct {
	shards map[string][]Shard         // pair key -> shards
	byPool map[solana.PublicKey]Shard // pool address -> shard
	tokens map[string]Token           // upper-cased symbol -> token
	byMint map[solana.PublicKey]Token // mint -> token
}

func NewRegistry(shards []Shard, tokens []Token) (*Registry, error) {
	r := &Registry{
		shards: make(map[string][]Shard),
		byPool: make(map[solana.PublicKey]Shard),
		tokens: make(map[string]Token),
		byMint: make(map[solana.PublicKey]Token),
	}

	for _, t := range tokens {
		sym := strings.ToUpper(t.Symbol)
		if _, dup := r.tokens[sym]; dup {
			return nil, fmt.Errorf("duplicate token symbol %q", t.Symbol)
		}
		r.tokens[sym] = t
		r.byMint[t.Mint] = t
	}

	for _, s := range shards {
		if s.PoolAddress.IsZero() {
			return nil, fmt.Errorf("shard %d has no pool address", s.ShardNumber)
		}
		if _, dup := r.byPool[s.PoolAddress]; dup {
			return nil, fmt.Errorf("duplicate pool address %s", s.PoolAddress)
		}
		if s.FeeDenominator == 0 {
			s.FeeNumerator = DefaultFeeNumerator
			s.FeeDenominator = DefaultFeeDenominator
		}
		key := s.Pair()
		r.shards[key] = append(r.shards[key], s)
		r.byPool[s.PoolAddress] = s
	}

	// Stable order so quoting fan-out and logs are deterministic.
	for _, list := range r.shards {
		sort.Slice(list, func(i, j int) bool { return list[i].ShardNumber < list[j].ShardNumber })
	}

	return r, nil
}

// ShardsForPair returns every shard trading the given mint pair, in shard
// number order. The returned slice must not be mutated.
func (r *Registry) ShardsForPair(a, b solana.PublicKey) []Shard {
	return r.shards[PairKey(a, b)]
}

// ShardByAddress looks a shard up by its pool address. Used to validate
// backend routing decisions against local configuration.
func (r *Registry) ShardByAddress(pool solana.PublicKey) (Shard, bool) {
	s, ok := r.byPool[pool]
	return s, ok
}

// Token resolves a token by symbol (case-insensitive).
func (r *Registry) Token(symbol string) (Token, bool) {
	t, ok := r.tokens[strings.ToUpper(symbol)]
	return t, ok
}

// TokenByMint resolves a token by its mint address.
func (r *Registry) TokenByMint(mint solana.PublicKey) (Token, bool) {
	t, ok := r.byMint[mint]
	return t, ok
}

// AllShards returns every configured shard in pool-address-independent,
// shard-number order.
func (r *Registry) AllShards() []Shard {
	out := make([]Shard, 0, len(r.byPool))
	for _, key := range r.Pairs() {
		out = append(out, r.shards[key]...)
	}
	return out
}

// Pairs returns every configured pair key.
func (r *Registry) Pairs() []string {
	keys := make([]string, 0, len(r.shards))
	for k := range r.shards {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Size returns the number of configured shards.
func (r *Registry) Size() int {
	return len(r.byPool)
}
