package ethrpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"vault-factory-lab/internal/logging"
	"vault-factory-lab/internal/observability"
)

// ErrClientClosed is returned by a closed WSClient.
var ErrClientClosed = errors.New("client closed")

// WSClientConfig tunes the connection to the node's WebSocket endpoint.
type WSClientConfig struct {
	ReconnectDelay    time.Duration // first backoff interval after a drop
	MaxReconnectDelay time.Duration // backoff ceiling
	PingInterval      time.Duration
	// ReadTimeout must exceed PingInterval; a quiet node still answers pings.
	ReadTimeout      time.Duration
	WriteTimeout     time.Duration
	SubscribeTimeout time.Duration // wait for the eth_subscribe id
	BufferSize       int           // per-subscription channel capacity
}

// DefaultWSConfig suits a local or hosted mainnet node.
func DefaultWSConfig() WSClientConfig {
	return WSClientConfig{
		ReconnectDelay:    1 * time.Second,
		MaxReconnectDelay: 30 * time.Second,
		PingInterval:      30 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      10 * time.Second,
		SubscribeTimeout:  30 * time.Second,
		BufferSize:        1024,
	}
}

// subscription is one eth_subscribe("logs") kept across reconnects.
type subscription struct {
	filter LogFilter
	ch     chan Log
}

// WSClient subscribes to logs with eth_subscribe over gorilla/websocket. It
// reconnects with exponential backoff and resubscribes every filter.
type WSClient struct {
	endpoint string
	config   WSClientConfig
	log      *logging.Logger
	metrics  *observability.Metrics

	conn      *websocket.Conn
	connMu    sync.Mutex
	closed    atomic.Bool
	requestID atomic.Uint64

	// subs maps the node's subscription id to its subscription
	subs   map[string]*subscription
	subsMu sync.RWMutex

	// pending maps request ID to the channel waiting for its response
	pending   map[uint64]chan wsResponse
	pendingMu sync.Mutex

	done chan struct{}
	wg   sync.WaitGroup

	reconnecting atomic.Bool
}

// WSOption configures WSClient.
type WSOption func(*WSClient)

// WithWSLogger sets the logger.
func WithWSLogger(log *logging.Logger) WSOption {
	return func(c *WSClient) {
		c.log = log
	}
}

// WithWSMetrics sets the metrics sink.
func WithWSMetrics(m *observability.Metrics) WSOption {
	return func(c *WSClient) {
		c.metrics = m
	}
}

// NewWSClient dials endpoint and starts the read and ping loops. A nil
// config uses DefaultWSConfig.
func NewWSClient(ctx context.Context, endpoint string, config *WSClientConfig, opts ...WSOption) (*WSClient, error) {
	cfg := DefaultWSConfig()
	if config != nil {
		cfg = *config
	}

	c := &WSClient{
		endpoint: endpoint,
		config:   cfg,
		log:      logging.NewNop(),
		subs:     make(map[string]*subscription),
		pending:  make(map[uint64]chan wsResponse),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.Named("ws")
	c.metrics = observability.Or(c.metrics)

	if err := c.connect(ctx); err != nil {
		return nil, err
	}

	c.wg.Add(2)
	go c.readLoop()
	go c.pingLoop()

	return c, nil
}

// connect dials and swaps in the new connection.
func (c *WSClient) connect(ctx context.Context) error {
	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}
	conn, _, err := dialer.DialContext(ctx, c.endpoint, nil)
	if err != nil {
		return fmt.Errorf("websocket dial: %w", err)
	}

	c.connMu.Lock()
	c.conn = conn
	c.connMu.Unlock()
	return nil
}

// SubscribeLogs subscribes to logs matching filter. The channel is closed
// by Close.
func (c *WSClient) SubscribeLogs(ctx context.Context, filter LogFilter) (<-chan Log, error) {
	id, err := c.subscribe(ctx, filter)
	if err != nil {
		return nil, err
	}

	ch := make(chan Log, c.config.BufferSize)
	c.subsMu.Lock()
	c.subs[id] = &subscription{filter: filter, ch: ch}
	c.subsMu.Unlock()
	return ch, nil
}

// subscribe sends eth_subscribe and waits for the subscription id.
func (c *WSClient) subscribe(ctx context.Context, filter LogFilter) (string, error) {
	if c.closed.Load() {
		return "", ErrClientClosed
	}

	reqID := c.requestID.Add(1)
	req := rpcRequest{
		JSONRPC: "2.0",
		ID:      reqID,
		Method:  "eth_subscribe",
		Params:  []interface{}{"logs", filter.params()},
	}

	respCh := make(chan wsResponse, 1)
	c.pendingMu.Lock()
	c.pending[reqID] = respCh
	c.pendingMu.Unlock()
	forget := func() {
		c.pendingMu.Lock()
		delete(c.pending, reqID)
		c.pendingMu.Unlock()
	}

	if err := c.write(req); err != nil {
		forget()
		return "", err
	}

	timer := time.NewTimer(c.config.SubscribeTimeout)
	defer timer.Stop()

	select {
	case resp, ok := <-respCh:
		if !ok {
			return "", ErrClientClosed
		}
		if resp.Error != nil {
			return "", resp.Error
		}
		var id string
		if err := json.Unmarshal(resp.Result, &id); err != nil {
			return "", fmt.Errorf("unmarshal subscription id: %w", err)
		}
		return id, nil
	case <-timer.C:
		forget()
		return "", fmt.Errorf("subscription timeout after %s", c.config.SubscribeTimeout)
	case <-c.done:
		return "", ErrClientClosed
	case <-ctx.Done():
		forget()
		return "", ctx.Err()
	}
}

func (c *WSClient) write(v interface{}) error {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	if c.conn == nil {
		return fmt.Errorf("not connected")
	}
	c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
	if err := c.conn.WriteJSON(v); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	return nil
}

// Close closes the WebSocket connection and every subscription channel.
func (c *WSClient) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	close(c.done)

	c.connMu.Lock()
	if c.conn != nil {
		c.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.conn.Close()
	}
	c.connMu.Unlock()

	c.wg.Wait()

	c.subsMu.Lock()
	for id, sub := range c.subs {
		close(sub.ch)
		delete(c.subs, id)
	}
	c.subsMu.Unlock()

	c.pendingMu.Lock()
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
	c.pendingMu.Unlock()
	return nil
}

// readLoop dispatches every frame; a read error hands the connection to a
// single reconnect goroutine.
func (c *WSClient) readLoop() {
	defer c.wg.Done()

	for !c.closed.Load() {
		c.connMu.Lock()
		conn := c.conn
		c.connMu.Unlock()

		if conn == nil {
			if !c.wait(100 * time.Millisecond) {
				return
			}
			continue
		}

		conn.SetReadDeadline(time.Now().Add(c.config.ReadTimeout))
		_, message, err := conn.ReadMessage()
		if err != nil {
			if c.closed.Load() {
				return
			}
			c.log.Warn("websocket read failed", zap.Error(err))
			if !c.reconnecting.Swap(true) {
				c.wg.Add(1)
				go c.reconnect()
			}
			if !c.wait(100 * time.Millisecond) {
				return
			}
			continue
		}

		c.handleMessage(message)
	}
}

// wait sleeps for d and reports false if the client closed meanwhile.
func (c *WSClient) wait(d time.Duration) bool {
	select {
	case <-c.done:
		return false
	case <-time.After(d):
		return true
	}
}

// reconnect redials with exponential backoff until it succeeds or the
// client closes, then resubscribes.
func (c *WSClient) reconnect() {
	defer c.wg.Done()
	defer c.reconnecting.Store(false)

	c.connMu.Lock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.connMu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-c.done:
			cancel()
		case <-ctx.Done():
		}
	}()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.config.ReconnectDelay
	b.MaxInterval = c.config.MaxReconnectDelay
	b.MaxElapsedTime = 0

	err := backoff.Retry(func() error {
		dialCtx, dialCancel := context.WithTimeout(ctx, 30*time.Second)
		defer dialCancel()
		return c.connect(dialCtx)
	}, backoff.WithContext(b, ctx))
	if err != nil {
		return
	}
	if c.closed.Load() {
		c.connMu.Lock()
		c.conn.Close()
		c.connMu.Unlock()
		return
	}
	c.log.Info("websocket reconnected")
	c.resubscribeAll(ctx)
}

// resubscribeAll moves every subscription to a fresh id after reconnect.
func (c *WSClient) resubscribeAll(ctx context.Context) {
	c.subsMu.RLock()
	old := make(map[string]*subscription, len(c.subs))
	for id, sub := range c.subs {
		old[id] = sub
	}
	c.subsMu.RUnlock()

	for oldID, sub := range old {
		subCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		newID, err := c.subscribe(subCtx, sub.filter)
		cancel()
		if err != nil {
			c.log.Warn("resubscribe failed", zap.String("subscription", oldID), zap.Error(err))
			continue
		}

		c.subsMu.Lock()
		delete(c.subs, oldID)
		c.subs[newID] = sub
		c.subsMu.Unlock()
	}
}

// handleMessage routes a response to its pending request and a
// notification to its subscription.
func (c *WSClient) handleMessage(message []byte) {
	var msg wsMessage
	if err := json.Unmarshal(message, &msg); err != nil {
		c.log.Warn("malformed websocket message", zap.Error(err))
		return
	}

	if msg.Method == "eth_subscription" && msg.Params != nil {
		c.handleNotification(msg.Params)
		return
	}
	if msg.ID == nil {
		return
	}

	c.pendingMu.Lock()
	ch, ok := c.pending[*msg.ID]
	if ok {
		delete(c.pending, *msg.ID)
	}
	c.pendingMu.Unlock()
	if ok {
		ch <- wsResponse{Result: msg.Result, Error: msg.Error}
	}
}

// handleNotification blocks until the subscriber takes the log; events are
// never dropped.
func (c *WSClient) handleNotification(p *wsNotificationParams) {
	var l Log
	if err := json.Unmarshal(p.Result, &l); err != nil {
		c.log.Warn("malformed log notification", zap.Error(err))
		return
	}

	c.subsMu.RLock()
	sub, ok := c.subs[p.Subscription]
	c.subsMu.RUnlock()
	if !ok {
		return
	}

	c.metrics.RecordWSLog()
	select {
	case sub.ch <- l:
	case <-c.done:
	}
}

// pingLoop keeps idle connections open through proxies.
func (c *WSClient) pingLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.connMu.Lock()
			if c.conn != nil {
				c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
				// a dead connection surfaces in readLoop
				_ = c.conn.WriteMessage(websocket.PingMessage, nil)
			}
			c.connMu.Unlock()
		}
	}
}

// JSON-RPC frames as received over the socket.

type wsMessage struct {
	JSONRPC string                `json:"jsonrpc"`
	ID      *uint64               `json:"id,omitempty"`
	Method  string                `json:"method,omitempty"`
	Result  json.RawMessage       `json:"result,omitempty"`
	Error   *RPCError             `json:"error,omitempty"`
	Params  *wsNotificationParams `json:"params,omitempty"`
}

type wsNotificationParams struct {
	Subscription string          `json:"subscription"`
	Result       json.RawMessage `json:"result"`
}

type wsResponse struct {
	Result json.RawMessage
	Error  *RPCError
}
