package sol

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	jitorpc "github.com/jito-labs/jito-go-rpc"
	"github.com/mr-tron/base58"
	"golang.org/x/time/rate"
)

// Client wraps a Solana JSON-RPC client with per-endpoint rate limiting and
// an optional Jito block-engine path for priority transaction submission.
type Client struct {
	endpoint string
	rpc      *rpc.Client
	limiter  *rate.Limiter
	jito     *jitorpc.JitoJsonRpcClient
}

// NewClient creates a rate-limited client for one RPC endpoint. jitoRpc may
// be empty; reqLimitPerSecond <= 0 disables throttling.
func NewClient(ctx context.Context, endpoint string, jitoRpc string, reqLimitPerSecond int) (*Client, error) {
	if endpoint == "" {
		return nil, fmt.Errorf("empty RPC endpoint")
	}

	c := &Client{
		endpoint: endpoint,
		rpc:      rpc.New(endpoint),
	}
	if reqLimitPerSecond > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(reqLimitPerSecond), reqLimitPerSecond)
	}
	if jitoRpc != "" {
		c.jito = jitorpc.NewJitoJsonRpcClient(jitoRpc, "")
	}
	return c, nil
}

// Endpoint returns the RPC endpoint URL this client talks to.
func (c *Client) Endpoint() string {
	return c.endpoint
}

func (c *Client) wait(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	return c.limiter.Wait(ctx)
}

// GetTokenAccountBalance returns the raw base-unit balance of an SPL token
// account.
func (c *Client) GetTokenAccountBalance(ctx context.Context, account solana.PublicKey) (uint64, error) {
	if err := c.wait(ctx); err != nil {
		return 0, err
	}
	res, err := c.rpc.GetTokenAccountBalance(ctx, account, rpc.CommitmentConfirmed)
	if err != nil {
		return 0, fmt.Errorf("getTokenAccountBalance %s: %w", account, err)
	}
	if res == nil || res.Value == nil {
		return 0, fmt.Errorf("getTokenAccountBalance %s: empty result", account)
	}
	amount, err := strconv.ParseUint(res.Value.Amount, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("getTokenAccountBalance %s: bad amount %q: %w", account, res.Value.Amount, err)
	}
	return amount, nil
}

// GetTokenSupply returns the total supply of a mint in base units.
func (c *Client) GetTokenSupply(ctx context.Context, mint solana.PublicKey) (uint64, error) {
	if err := c.wait(ctx); err != nil {
		return 0, err
	}
	res, err := c.rpc.GetTokenSupply(ctx, mint, rpc.CommitmentConfirmed)
	if err != nil {
		return 0, fmt.Errorf("getTokenSupply %s: %w", mint, err)
	}
	if res == nil || res.Value == nil {
		return 0, fmt.Errorf("getTokenSupply %s: empty result", mint)
	}
	supply, err := strconv.ParseUint(res.Value.Amount, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("getTokenSupply %s: bad amount %q: %w", mint, res.Value.Amount, err)
	}
	return supply, nil
}

// GetMultipleAccountsWithOpts fetches several accounts in one batch request.
func (c *Client) GetMultipleAccountsWithOpts(ctx context.Context, accounts []solana.PublicKey) (*rpc.GetMultipleAccountsResult, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	return c.rpc.GetMultipleAccountsWithOpts(ctx, accounts, &rpc.GetMultipleAccountsOpts{
		Commitment: rpc.CommitmentConfirmed,
	})
}

// GetAccountInfoWithOpts fetches a single account.
func (c *Client) GetAccountInfoWithOpts(ctx context.Context, account solana.PublicKey) (*rpc.GetAccountInfoResult, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	return c.rpc.GetAccountInfoWithOpts(ctx, account, &rpc.GetAccountInfoOpts{
		Commitment: rpc.CommitmentConfirmed,
	})
}

// GetLatestBlockhash returns a recent blockhash for transaction building.
func (c *Client) GetLatestBlockhash(ctx context.Context) (solana.Hash, error) {
	if err := c.wait(ctx); err != nil {
		return solana.Hash{}, err
	}
	res, err := c.rpc.GetLatestBlockhash(ctx, rpc.CommitmentFinalized)
	if err != nil {
		return solana.Hash{}, fmt.Errorf("getLatestBlockhash: %w", err)
	}
	return res.Value.Blockhash, nil
}

// SimulateTransaction runs the transaction against current state without
// submitting it.
func (c *Client) SimulateTransaction(ctx context.Context, tx *solana.Transaction) (*rpc.SimulateTransactionResponse, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	return c.rpc.SimulateTransactionWithOpts(ctx, tx, &rpc.SimulateTransactionOpts{
		Commitment: rpc.CommitmentConfirmed,
	})
}

// SendTransaction submits a signed transaction. When a Jito endpoint is
// configured the transaction goes through the block engine; otherwise it is
// sent over plain RPC with preflight enabled.
func (c *Client) SendTransaction(ctx context.Context, tx *solana.Transaction) (solana.Signature, error) {
	if c.jito != nil {
		return c.sendViaJito(tx)
	}
	if err := c.wait(ctx); err != nil {
		return solana.Signature{}, err
	}
	sig, err := c.rpc.SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{
		PreflightCommitment: rpc.CommitmentConfirmed,
	})
	if err != nil {
		return solana.Signature{}, fmt.Errorf("sendTransaction: %w", err)
	}
	return sig, nil
}

func (c *Client) sendViaJito(tx *solana.Transaction) (solana.Signature, error) {
	raw, err := tx.MarshalBinary()
	if err != nil {
		return solana.Signature{}, fmt.Errorf("marshal transaction: %w", err)
	}
	encoded := base58.Encode(raw)

	resp, err := c.jito.SendTxn([]interface{}{encoded}, false)
	if err != nil {
		return solana.Signature{}, fmt.Errorf("jito sendTransaction: %w", err)
	}

	var sigStr string
	if err := json.Unmarshal(resp, &sigStr); err != nil {
		return solana.Signature{}, fmt.Errorf("jito sendTransaction: bad response: %w", err)
	}
	sig, err := solana.SignatureFromBase58(sigStr)
	if err != nil {
		return solana.Signature{}, fmt.Errorf("jito sendTransaction: bad signature %q: %w", sigStr, err)
	}
	return sig, nil
}
