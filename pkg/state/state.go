package state

import (
	"time"

	"shardswap/pkg/shard"
)

// Origin tags where a PoolState came from. Consumers must not base
// slippage-sensitive decisions on config-derived state.
type Origin uint8

const (
	// OriginConfig means the state was synthesized from static
	// configuration after a fetch failure. The zero value is deliberately
	// the untrusted one.
	OriginConfig Origin = iota
	// OriginChain means the reserves were read live from the chain.
	OriginChain
)

func (o Origin) String() string {
	if o == OriginChain {
		return "chain"
	}
	return "config"
}

// PoolState is the dynamic view of one shard's pool.
type PoolState struct {
	ReserveA       uint64
	ReserveB       uint64
	LPSupply       uint64
	FeeNumerator   uint64
	FeeDenominator uint64
	Origin         Origin
	FetchedAt      time.Time
}

// Trusted reports whether this state was chain-verified.
func (s PoolState) Trusted() bool {
	return s.Origin == OriginChain
}

// Age returns how old the state is at the given instant. Config-derived
// state has no meaningful age.
func (s PoolState) Age(now time.Time) time.Duration {
	if !s.Trusted() {
		return 0
	}
	return now.Sub(s.FetchedAt)
}

// ConfigFallback builds the degraded state used when a live fetch fails:
// seed reserves and fee schedule from static configuration, tagged so no
// consumer can mistake it for chain truth.
func ConfigFallback(sh shard.Shard) PoolState {
	return PoolState{
		ReserveA:       sh.SeedReserveA,
		ReserveB:       sh.SeedReserveB,
		FeeNumerator:   sh.FeeNumerator,
		FeeDenominator: sh.FeeDenominator,
		Origin:         OriginConfig,
	}
}
