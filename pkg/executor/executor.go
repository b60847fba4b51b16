package executor

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"go.uber.org/zap"
	"lukechampine.com/uint128"

	"shardswap/pkg"
	"shardswap/pkg/quote"
	"shardswap/pkg/shard"
	"shardswap/pkg/state"
)

// Sentinel failures a caller can branch on. Everything here is terminal:
// the execution path never retries or degrades on its own.
var (
	// ErrUserRejected means the wallet declined to sign. A cancellation,
	// not a fault.
	ErrUserRejected = errors.New("user rejected transaction signature")

	// ErrInsufficientSOL means the fee payer cannot cover network fees.
	ErrInsufficientSOL = errors.New("insufficient SOL for transaction fees")

	// ErrInsufficientTokenBalance means the source token account holds
	// less than amountIn.
	ErrInsufficientTokenBalance = errors.New("insufficient token balance")

	// ErrTokenAccountMissing means a required associated token account
	// does not exist yet.
	ErrTokenAccountMissing = errors.New("token account does not exist")
)

// SimulationError reports a pre-submission simulation failure together
// with the age of the pool state the transaction was built from.
type SimulationError struct {
	DataAge time.Duration
	Logs    []string
	Err     error
}

func (e *SimulationError) Error() string {
	return fmt.Sprintf("transaction simulation failed (pool state %s old): %v", e.DataAge.Round(time.Millisecond), e.Err)
}

func (e *SimulationError) Unwrap() error { return e.Err }

// SlippageError reports an on-chain rate worse than the protected minimum.
type SlippageError struct {
	Expected    uint64
	Minimum     uint64
	SlippagePct float64
}

func (e *SlippageError) Error() string {
	return fmt.Sprintf("slippage exceeded: expected %d, minimum %d at %.2f%% tolerance", e.Expected, e.Minimum, e.SlippagePct)
}

// StateFetcher is the uncached read path. The executor deliberately holds
// only this, never the cache: execution decisions must come from a fresh
// chain read.
type StateFetcher interface {
	Fetch(ctx context.Context, sh shard.Shard) (state.PoolState, error)
}

// ChainClient is the transaction surface of the RPC client.
type ChainClient interface {
	GetLatestBlockhash(ctx context.Context) (solana.Hash, error)
	SimulateTransaction(ctx context.Context, tx *solana.Transaction) (*rpc.SimulateTransactionResponse, error)
	SendTransaction(ctx context.Context, tx *solana.Transaction) (solana.Signature, error)
}

// Executor turns a quote into a submitted swap transaction. Between quote
// and submission it re-reads reserves and derives the slippage minimum
// from the fresh numbers, so the protection window shrinks to one RPC
// round trip.
type Executor struct {
	registry *shard.Registry
	fetcher  StateFetcher
	client   ChainClient
	log      *zap.Logger
	now      func() time.Time
}

func New(registry *shard.Registry, fetcher StateFetcher, client ChainClient, log *zap.Logger) *Executor {
	if log == nil {
		log = zap.NewNop()
	}
	return &Executor{
		registry: registry,
		fetcher:  fetcher,
		client:   client,
		log:      log,
		now:      time.Now,
	}
}

// Execute re-validates the quote against fresh reserves, builds the swap
// with a slippage-protected minimum output, signs via the wallet, and
// submits. slippagePct is a percentage in [0, 100).
func (e *Executor) Execute(ctx context.Context, wallet pkg.Wallet, q *quote.Quote, slippagePct float64) (solana.Signature, error) {
	if q == nil || len(q.Route) == 0 {
		return solana.Signature{}, fmt.Errorf("quote has no route")
	}
	if slippagePct < 0 || slippagePct >= 100 {
		return solana.Signature{}, fmt.Errorf("slippage %.2f%% out of range [0, 100)", slippagePct)
	}

	leg := q.Route[0]
	sh, ok := e.registry.ShardByAddress(leg.PoolAddress)
	if !ok {
		return solana.Signature{}, fmt.Errorf("quoted pool %s not in shard registry", leg.PoolAddress)
	}
	amountIn, err := strconv.ParseUint(leg.InAmount, 10, 64)
	if err != nil || amountIn == 0 {
		return solana.Signature{}, fmt.Errorf("quote has invalid input amount %q", leg.InAmount)
	}
	isForward := q.InputMint.Equals(sh.MintA)

	// Fresh read, never the cache. The quote's reserves may be seconds
	// old; the minimum below must come from what the chain says now.
	fresh, err := e.fetcher.Fetch(ctx, sh)
	if err != nil {
		return solana.Signature{}, fmt.Errorf("pre-execution reserve read: %w", err)
	}

	reserveIn, reserveOut := fresh.ReserveA, fresh.ReserveB
	if !isForward {
		reserveIn, reserveOut = fresh.ReserveB, fresh.ReserveA
	}
	freshOut := quote.SwapOutput(amountIn, reserveIn, reserveOut, fresh.FeeNumerator, fresh.FeeDenominator)
	if freshOut == 0 {
		return solana.Signature{}, fmt.Errorf("pool %s cannot fill %d base units", sh.PoolAddress, amountIn)
	}

	minimumOut := slippageMinimum(freshOut, slippagePct)

	quotedOut, _ := strconv.ParseUint(leg.OutAmount, 10, 64)
	if freshOut < minimumOutOf(quotedOut, slippagePct) {
		// Reserves moved against the trader beyond tolerance since the
		// quote; reject before paying fees for a doomed transaction.
		return solana.Signature{}, &SlippageError{
			Expected:    quotedOut,
			Minimum:     minimumOutOf(quotedOut, slippagePct),
			SlippagePct: slippagePct,
		}
	}

	user := wallet.PublicKey()
	outputMint := sh.MintB
	if !isForward {
		outputMint = sh.MintA
	}
	userSource, _, err := solana.FindAssociatedTokenAddress(user, q.InputMint)
	if err != nil {
		return solana.Signature{}, fmt.Errorf("derive source token account: %w", err)
	}
	userDest, _, err := solana.FindAssociatedTokenAddress(user, outputMint)
	if err != nil {
		return solana.Signature{}, fmt.Errorf("derive destination token account: %w", err)
	}

	blockhash, err := e.client.GetLatestBlockhash(ctx)
	if err != nil {
		return solana.Signature{}, fmt.Errorf("fetch blockhash: %w", err)
	}

	inst := NewSwapInstruction(sh, user, userSource, userDest, amountIn, minimumOut, isForward)
	tx, err := solana.NewTransaction(
		[]solana.Instruction{inst},
		blockhash,
		solana.TransactionPayer(user),
	)
	if err != nil {
		return solana.Signature{}, fmt.Errorf("build transaction: %w", err)
	}

	signed, err := wallet.SignTransaction(tx)
	if err != nil {
		if isRejection(err) {
			return solana.Signature{}, fmt.Errorf("%w: %v", ErrUserRejected, err)
		}
		return solana.Signature{}, fmt.Errorf("sign transaction: %w", err)
	}

	if err := e.simulate(ctx, signed, fresh, freshOut, minimumOut, slippagePct); err != nil {
		return solana.Signature{}, err
	}

	sig, err := e.client.SendTransaction(ctx, signed)
	if err != nil {
		return solana.Signature{}, fmt.Errorf("submit swap: %w", err)
	}

	e.log.Info("swap submitted",
		zap.String("pool", sh.PoolAddress.String()),
		zap.Int("shard", sh.ShardNumber),
		zap.Uint64("amountIn", amountIn),
		zap.Uint64("minimumOut", minimumOut),
		zap.String("signature", sig.String()))
	return sig, nil
}

// simulate runs the transaction against current state and maps program
// rejections onto the failure taxonomy.
func (e *Executor) simulate(ctx context.Context, tx *solana.Transaction, fresh state.PoolState, freshOut, minimumOut uint64, slippagePct float64) error {
	res, err := e.client.SimulateTransaction(ctx, tx)
	if err != nil {
		return &SimulationError{DataAge: fresh.Age(e.now()), Err: err}
	}
	if res == nil || res.Value == nil || res.Value.Err == nil {
		return nil
	}

	simErr := fmt.Errorf("%v", res.Value.Err)
	detail := strings.ToLower(simErr.Error() + " " + strings.Join(res.Value.Logs, " "))
	switch {
	case strings.Contains(detail, "insufficient lamports"):
		return fmt.Errorf("%w: %v", ErrInsufficientSOL, simErr)
	case strings.Contains(detail, "insufficient funds"):
		return fmt.Errorf("%w: %v", ErrInsufficientTokenBalance, simErr)
	case strings.Contains(detail, "accountnotfound"), strings.Contains(detail, "could not find account"), strings.Contains(detail, "invalidaccountdata"):
		return fmt.Errorf("%w: %v", ErrTokenAccountMissing, simErr)
	case strings.Contains(detail, "slippage"), strings.Contains(detail, "exceedsdesiredslippagelimit"):
		return &SlippageError{Expected: freshOut, Minimum: minimumOut, SlippagePct: slippagePct}
	default:
		return &SimulationError{DataAge: fresh.Age(e.now()), Logs: res.Value.Logs, Err: simErr}
	}
}

// slippageMinimum floors out·(1 − pct/100) in pure integer arithmetic.
// Tolerance resolves to basis points; finer settings are not meaningful
// against integer base units.
func slippageMinimum(out uint64, slippagePct float64) uint64 {
	bps := uint64(slippagePct * 100)
	return uint128.From64(out).Mul64(10_000 - bps).Div64(10_000).Lo
}

func minimumOutOf(out uint64, slippagePct float64) uint64 {
	if out == 0 {
		return 0
	}
	return slippageMinimum(out, slippagePct)
}

func isRejection(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "reject") || strings.Contains(msg, "denied") || strings.Contains(msg, "declined") || strings.Contains(msg, "cancel")
}
