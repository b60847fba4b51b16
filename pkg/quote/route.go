package quote

import (
	"fmt"

	"github.com/gagliardetto/solana-go"

	"shardswap/pkg/shard"
	"shardswap/pkg/state"
)

// RoutingMethod records which path produced a quote.
type RoutingMethod string

const (
	RoutingBackend RoutingMethod = "backend"
	RoutingLocal   RoutingMethod = "local"
)

// ShardRoute is one segment of a route. Routing is single-shard, so a
// Quote always carries exactly one.
type ShardRoute struct {
	PoolAddress    solana.PublicKey `json:"poolAddress"`
	ShardNumber    int              `json:"shardNumber"`
	InAmount       string           `json:"inAmount"`
	OutAmount      string           `json:"outAmount"`
	ExecutionPrice float64          `json:"executionPrice"`
}

// Quote is a value object describing one proposed swap. It is advisory
// only: reserves may move the moment it is produced, and execution must
// re-validate against fresh state before committing funds.
type Quote struct {
	InputMint      solana.PublicKey `json:"inputMint"`
	OutputMint     solana.PublicKey `json:"outputMint"`
	InputSymbol    string           `json:"inputSymbol"`
	OutputSymbol   string           `json:"outputSymbol"`
	InAmount       string           `json:"inAmount"`
	OutAmount      string           `json:"outAmount"`
	InAmountHuman  float64          `json:"inAmountHuman"`
	OutAmountHuman float64          `json:"outAmountHuman"`
	FeeHuman       float64          `json:"feeHuman"`
	PriceImpactPct float64          `json:"priceImpactPct"`
	Route          []ShardRoute     `json:"route"`
	RoutingMethod  RoutingMethod    `json:"routingMethod"`
	BackendReason  string           `json:"backendReason,omitempty"`

	// StateTrusted is false when any reserve data behind this quote was
	// config-derived rather than chain-verified.
	StateTrusted bool `json:"stateTrusted"`
}

// NoRouteError names the pair that could not be routed.
type NoRouteError struct {
	InputMint  solana.PublicKey
	OutputMint solana.PublicKey
}

func (e *NoRouteError) Error() string {
	return fmt.Sprintf("no route found for %s -> %s", e.InputMint, e.OutputMint)
}

// Candidate pairs a shard with its current pool state.
type Candidate struct {
	Shard shard.Shard
	State state.PoolState
}

// SelectBestShard picks the single best shard for a trade. isForward means
// the input token is the shard's token A. Ordering is a deterministic total
// order: strictly larger output wins, exact output ties prefer the lower
// price impact, and a full tie falls to the lowest shard number.
func SelectBestShard(candidates []Candidate, amountIn uint64, isForward bool, inputMint, outputMint solana.PublicKey) (ShardRoute, error) {
	var (
		best       shard.Shard
		bestOut    uint64
		bestImpact float64
		found      bool
	)

	for _, c := range candidates {
		reserveIn, reserveOut := c.State.ReserveA, c.State.ReserveB
		if !isForward {
			reserveIn, reserveOut = reserveOut, reserveIn
		}
		if reserveIn == 0 || reserveOut == 0 {
			continue
		}

		out := SwapOutput(amountIn, reserveIn, reserveOut, c.State.FeeNumerator, c.State.FeeDenominator)
		if out == 0 {
			continue
		}
		impact := PriceImpact(amountIn, out, reserveIn, reserveOut)

		better := !found || out > bestOut
		if found && out == bestOut {
			// Exact output tie: lower impact wins, then lower shard number.
			better = impact < bestImpact ||
				(impact == bestImpact && c.Shard.ShardNumber < best.ShardNumber)
		}
		if !better {
			continue
		}

		best = c.Shard
		bestOut = out
		bestImpact = impact
		found = true
	}

	if !found {
		return ShardRoute{}, &NoRouteError{InputMint: inputMint, OutputMint: outputMint}
	}

	return ShardRoute{
		PoolAddress:    best.PoolAddress,
		ShardNumber:    best.ShardNumber,
		InAmount:       fmt.Sprintf("%d", amountIn),
		OutAmount:      fmt.Sprintf("%d", bestOut),
		ExecutionPrice: float64(bestOut) / float64(amountIn),
	}, nil
}
