package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/gagliardetto/solana-go"

	"shardswap/pkg/shard"
)

// shardFile is the on-disk shape of the shard registry. Addresses are
// base58; fees are optional and default to 0.3%.
type shardFile struct {
	Tokens []tokenEntry `json:"tokens"`
	Shards []shardEntry `json:"shards"`
}

type tokenEntry struct {
	Symbol   string `json:"symbol"`
	Mint     string `json:"mint"`
	Decimals uint8  `json:"decimals"`
}

type shardEntry struct {
	ShardNumber     int    `json:"shardNumber"`
	PoolAddress     string `json:"poolAddress"`
	Authority       string `json:"authority"`
	MintA           string `json:"mintA"`
	MintB           string `json:"mintB"`
	ReserveAccountA string `json:"reserveAccountA"`
	ReserveAccountB string `json:"reserveAccountB"`
	LPMint          string `json:"lpMint"`
	FeeAccount      string `json:"feeAccount"`
	FeeNumerator    uint64 `json:"feeNumerator,omitempty"`
	FeeDenominator  uint64 `json:"feeDenominator,omitempty"`
	SeedReserveA    uint64 `json:"seedReserveA,omitempty"`
	SeedReserveB    uint64 `json:"seedReserveB,omitempty"`
}

// LoadShardRegistry reads the static shard and token configuration from a
// JSON file and builds the immutable registry.
func LoadShardRegistry(path string) (*shard.Registry, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read shard config %s: %w", path, err)
	}
	return ParseShardRegistry(raw)
}

// ParseShardRegistry builds a registry from raw JSON bytes.
func ParseShardRegistry(raw []byte) (*shard.Registry, error) {
	var file shardFile
	if err := json.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parse shard config: %w", err)
	}

	tokens := make([]shard.Token, 0, len(file.Tokens))
	for _, t := range file.Tokens {
		mint, err := solana.PublicKeyFromBase58(t.Mint)
		if err != nil {
			return nil, fmt.Errorf("token %s: invalid mint: %w", t.Symbol, err)
		}
		tokens = append(tokens, shard.Token{Symbol: t.Symbol, Mint: mint, Decimals: t.Decimals})
	}

	shards := make([]shard.Shard, 0, len(file.Shards))
	for _, e := range file.Shards {
		s, err := parseShard(e)
		if err != nil {
			return nil, fmt.Errorf("shard %d: %w", e.ShardNumber, err)
		}
		shards = append(shards, s)
	}

	return shard.NewRegistry(shards, tokens)
}

func parseShard(e shardEntry) (shard.Shard, error) {
	var s shard.Shard
	var err error

	parse := func(field, value string) solana.PublicKey {
		if err != nil {
			return solana.PublicKey{}
		}
		var key solana.PublicKey
		key, err = solana.PublicKeyFromBase58(value)
		if err != nil {
			err = fmt.Errorf("invalid %s %q: %w", field, value, err)
		}
		return key
	}

	s.PoolAddress = parse("poolAddress", e.PoolAddress)
	s.Authority = parse("authority", e.Authority)
	s.MintA = parse("mintA", e.MintA)
	s.MintB = parse("mintB", e.MintB)
	s.ReserveAccountA = parse("reserveAccountA", e.ReserveAccountA)
	s.ReserveAccountB = parse("reserveAccountB", e.ReserveAccountB)
	s.LPMint = parse("lpMint", e.LPMint)
	s.FeeAccount = parse("feeAccount", e.FeeAccount)
	if err != nil {
		return shard.Shard{}, err
	}

	s.FeeNumerator = e.FeeNumerator
	s.FeeDenominator = e.FeeDenominator
	s.SeedReserveA = e.SeedReserveA
	s.SeedReserveB = e.SeedReserveB
	s.ShardNumber = e.ShardNumber
	return s, nil
}
