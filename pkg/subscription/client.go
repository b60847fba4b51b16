package subscription

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// AccountUpdateHandler receives raw account data pushed by the node.
type AccountUpdateHandler func(account solana.PublicKey, data []byte, slot uint64)

// Client maintains one websocket connection to a Solana node and
// multiplexes accountSubscribe streams over it. It reconnects and
// resubscribes on its own; subscribers only see updates.
type Client struct {
	url            string
	log            *zap.Logger
	reconnectDelay time.Duration
	ctx            context.Context
	cancel         context.CancelFunc

	mu            sync.RWMutex
	conn          *websocket.Conn
	connected     bool
	nextID        uint64
	subscriptions map[uint64]*subscription
	handlers      map[uint64]AccountUpdateHandler
}

// subscription correlates our request ID with the node-assigned one.
type subscription struct {
	id      uint64
	account solana.PublicKey
	nodeSub uint64 // 0 until the node confirms
}

type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      uint64        `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      uint64          `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type notificationMessage struct {
	Method string `json:"method"`
	Params struct {
		Result struct {
			Context struct {
				Slot uint64 `json:"slot"`
			} `json:"context"`
			Value struct {
				Data []interface{} `json:"data"` // [base64, encoding]
			} `json:"value"`
		} `json:"result"`
		Subscription uint64 `json:"subscription"`
	} `json:"params"`
}

// NewClient dials wsURL and starts the reader and reconnect loops.
func NewClient(ctx context.Context, wsURL string, log *zap.Logger) (*Client, error) {
	if log == nil {
		log = zap.NewNop()
	}
	clientCtx, cancel := context.WithCancel(ctx)

	c := &Client{
		url:            wsURL,
		log:            log,
		reconnectDelay: 5 * time.Second,
		ctx:            clientCtx,
		cancel:         cancel,
		nextID:         1,
		subscriptions:  make(map[uint64]*subscription),
		handlers:       make(map[uint64]AccountUpdateHandler),
	}
	if err := c.connect(); err != nil {
		cancel()
		return nil, err
	}

	go c.readLoop()
	go c.reconnectLoop()
	return c, nil
}

func (c *Client) connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	conn, _, err := websocket.DefaultDialer.Dial(c.url, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", c.url, err)
	}
	c.conn = conn
	c.connected = true
	c.log.Info("websocket connected", zap.String("url", c.url))
	return nil
}

// SubscribeAccount starts an accountSubscribe stream for one account.
// The returned ID is local; pass it to Unsubscribe.
func (c *Client) SubscribeAccount(account solana.PublicKey, handler AccountUpdateHandler) (uint64, error) {
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.mu.Unlock()

	if err := c.send(subscribeRequest(id, account)); err != nil {
		return 0, err
	}

	c.mu.Lock()
	c.handlers[id] = handler
	c.subscriptions[id] = &subscription{id: id, account: account}
	c.mu.Unlock()
	return id, nil
}

// Unsubscribe tears down one stream.
func (c *Client) Unsubscribe(id uint64) error {
	c.mu.Lock()
	sub, ok := c.subscriptions[id]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("subscription %d not found", id)
	}
	nodeSub := sub.nodeSub
	delete(c.subscriptions, id)
	delete(c.handlers, id)
	c.mu.Unlock()

	if nodeSub == 0 {
		// Never confirmed by the node; nothing to tear down remotely.
		return nil
	}
	return c.send(rpcRequest{
		JSONRPC: "2.0",
		ID:      id,
		Method:  "accountUnsubscribe",
		Params:  []interface{}{nodeSub},
	})
}

func subscribeRequest(id uint64, account solana.PublicKey) rpcRequest {
	return rpcRequest{
		JSONRPC: "2.0",
		ID:      id,
		Method:  "accountSubscribe",
		Params: []interface{}{
			account.String(),
			map[string]interface{}{
				"encoding":   "base64",
				"commitment": "confirmed",
			},
		},
	}
}

func (c *Client) send(req rpcRequest) error {
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()
	if conn == nil {
		return fmt.Errorf("not connected")
	}

	data, err := json.Marshal(req)
	if err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, data)
}

func (c *Client) readLoop() {
	for {
		select {
		case <-c.ctx.Done():
			return
		default:
		}

		c.mu.RLock()
		conn := c.conn
		c.mu.RUnlock()
		if conn == nil {
			time.Sleep(100 * time.Millisecond)
			continue
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			c.log.Warn("websocket read failed", zap.Error(err))
			c.mu.Lock()
			c.connected = false
			c.mu.Unlock()
			time.Sleep(100 * time.Millisecond)
			continue
		}
		c.handleMessage(message)
	}
}

func (c *Client) handleMessage(data []byte) {
	var notification notificationMessage
	if err := json.Unmarshal(data, &notification); err == nil && notification.Method == "accountNotification" {
		c.dispatch(notification)
		return
	}

	var response rpcResponse
	if err := json.Unmarshal(data, &response); err != nil {
		c.log.Warn("unparseable websocket message", zap.Error(err))
		return
	}
	if response.Error != nil {
		c.log.Warn("websocket rpc error",
			zap.Int("code", response.Error.Code),
			zap.String("message", response.Error.Message))
		return
	}

	// A bare integer result confirms a subscription.
	var nodeSub uint64
	if err := json.Unmarshal(response.Result, &nodeSub); err != nil {
		return
	}
	c.mu.Lock()
	if sub, ok := c.subscriptions[response.ID]; ok {
		sub.nodeSub = nodeSub
	}
	c.mu.Unlock()
}

func (c *Client) dispatch(notification notificationMessage) {
	c.mu.RLock()
	var handler AccountUpdateHandler
	var account solana.PublicKey
	for _, sub := range c.subscriptions {
		if sub.nodeSub == notification.Params.Subscription {
			handler = c.handlers[sub.id]
			account = sub.account
			break
		}
	}
	c.mu.RUnlock()
	if handler == nil {
		return
	}

	raw := notification.Params.Result.Value.Data
	if len(raw) < 1 {
		return
	}
	encoded, ok := raw[0].(string)
	if !ok {
		return
	}
	handler(account, []byte(encoded), notification.Params.Result.Context.Slot)
}

func (c *Client) reconnectLoop() {
	ticker := time.NewTicker(c.reconnectDelay)
	defer ticker.Stop()
	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			c.mu.RLock()
			connected := c.connected
			c.mu.RUnlock()
			if connected {
				continue
			}

			if err := c.reconnect(); err != nil {
				c.log.Warn("websocket reconnect failed", zap.Error(err))
			} else {
				c.log.Info("websocket reconnected")
			}
		}
	}
}

func (c *Client) reconnect() error {
	if err := c.connect(); err != nil {
		return err
	}

	c.mu.RLock()
	subs := make([]*subscription, 0, len(c.subscriptions))
	for _, sub := range c.subscriptions {
		subs = append(subs, sub)
	}
	c.mu.RUnlock()

	for _, sub := range subs {
		if err := c.send(subscribeRequest(sub.id, sub.account)); err != nil {
			c.log.Warn("resubscribe failed",
				zap.String("account", sub.account.String()),
				zap.Error(err))
		}
	}
	return nil
}

// IsConnected reports current connection health.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

// Close tears down the connection and both background loops.
func (c *Client) Close() error {
	c.cancel()
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}
