package routing

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// DefaultBackendTimeout bounds one routing decision round trip. The local
// fallback makes a slow backend an availability problem, not a latency one.
const DefaultBackendTimeout = 3 * time.Second

// BackendRequest is the body sent to the remote routing decision endpoint.
type BackendRequest struct {
	TokenA      string `json:"tokenA"`
	TokenB      string `json:"tokenB"`
	InputToken  string `json:"inputToken"`
	InputAmount string `json:"inputAmount"`
	Trader      string `json:"trader,omitempty"`
}

// BackendRoute is a successful routing decision.
type BackendRoute struct {
	ShardID        int     `json:"-"`
	ShardAddress   string  `json:"-"`
	ExpectedOutput string  `json:"expectedOutput"`
	PriceImpact    float64 `json:"priceImpact"` // fraction, 0..1
	Reason         string  `json:"reason"`
}

type backendEnvelope struct {
	Success bool `json:"success"`
	Data    *struct {
		Shard struct {
			ID      int    `json:"id"`
			Address string `json:"address"`
		} `json:"shard"`
		ExpectedOutput string  `json:"expectedOutput"`
		PriceImpact    float64 `json:"priceImpact"`
		Reason         string  `json:"reason"`
	} `json:"data"`
	Error string `json:"error,omitempty"`
}

// RouteDecider is the remote decision service boundary. *BackendClient
// implements it; tests inject fakes.
type RouteDecider interface {
	RequestRoute(ctx context.Context, req BackendRequest) (*BackendRoute, error)
}

// BackendClient talks to the remote routing decision API.
type BackendClient struct {
	url  string
	http *http.Client
}

func NewBackendClient(url string, timeout time.Duration) *BackendClient {
	if timeout <= 0 {
		timeout = DefaultBackendTimeout
	}
	return &BackendClient{
		url:  url,
		http: &http.Client{Timeout: timeout},
	}
}

// RequestRoute posts the pair and amount and decodes the decision. Any
// non-2xx status, malformed body, or unsuccessful envelope is an error;
// the caller decides whether to fall back.
func (c *BackendClient) RequestRoute(ctx context.Context, req BackendRequest) (*BackendRoute, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode routing request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build routing request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("routing backend unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("routing backend returned %s", resp.Status)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read routing response: %w", err)
	}

	var env backendEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("malformed routing response: %w", err)
	}
	if !env.Success || env.Data == nil {
		return nil, fmt.Errorf("routing backend rejected request: %s", env.Error)
	}

	return &BackendRoute{
		ShardID:        env.Data.Shard.ID,
		ShardAddress:   env.Data.Shard.Address,
		ExpectedOutput: env.Data.ExpectedOutput,
		PriceImpact:    env.Data.PriceImpact,
		Reason:         env.Data.Reason,
	}, nil
}
