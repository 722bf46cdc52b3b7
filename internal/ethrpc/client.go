// Package ethrpc talks to an Ethereum node over JSON-RPC. Client covers the
// HTTP calls, FactoryClient the vault factory views and entry points, and
// WSClient with Watcher follow factory deployments over eth_subscribe.
package ethrpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"go.uber.org/zap"

	"vault-factory-lab/internal/logging"
	"vault-factory-lab/internal/observability"
)

// Default configuration values.
const (
	DefaultTimeout     = 10 * time.Second
	DefaultMaxRetries  = 3
	DefaultRetryDelay  = 500 * time.Millisecond
	DefaultMaxDelay    = 10 * time.Second
	DefaultBackoffMult = 2.0
)

// ErrRateLimited is returned when the node keeps answering 429.
var ErrRateLimited = errors.New("rate limited (429)")

// RPCError is an error object returned by the node. It is never retried.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    string `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("RPC error %d: %s", e.Code, e.Message)
}

// Client is a JSON-RPC 2.0 client over HTTP. Reads are retried with
// exponential backoff; writes are attempted once.
type Client struct {
	endpoint    string
	client      *http.Client
	maxRetries  uint64
	retryDelay  time.Duration
	maxDelay    time.Duration
	backoffMult float64
	requestID   atomic.Uint64

	log     *logging.Logger
	metrics *observability.Metrics
}

// ClientOption configures Client.
type ClientOption func(*Client)

// WithTimeout sets HTTP client timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.client.Timeout = d
	}
}

// WithMaxRetries sets maximum retry attempts for reads.
func WithMaxRetries(n uint64) ClientOption {
	return func(c *Client) {
		c.maxRetries = n
	}
}

// WithRetryDelay sets initial retry delay.
func WithRetryDelay(d time.Duration) ClientOption {
	return func(c *Client) {
		c.retryDelay = d
	}
}

// WithMaxDelay sets maximum retry delay.
func WithMaxDelay(d time.Duration) ClientOption {
	return func(c *Client) {
		c.maxDelay = d
	}
}

// WithHTTPClient sets custom http.Client.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) {
		c.client = client
	}
}

// WithLogger sets the logger.
func WithLogger(log *logging.Logger) ClientOption {
	return func(c *Client) {
		c.log = log
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *observability.Metrics) ClientOption {
	return func(c *Client) {
		c.metrics = m
	}
}

// NewClient creates a new JSON-RPC HTTP client.
func NewClient(endpoint string, opts ...ClientOption) *Client {
	c := &Client{
		endpoint:    endpoint,
		client:      &http.Client{Timeout: DefaultTimeout},
		maxRetries:  DefaultMaxRetries,
		retryDelay:  DefaultRetryDelay,
		maxDelay:    DefaultMaxDelay,
		backoffMult: DefaultBackoffMult,
		log:         logging.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.Named("ethrpc")
	c.metrics = observability.Or(c.metrics)
	return c
}

func (c *Client) backoff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.retryDelay
	b.MaxInterval = c.maxDelay
	b.Multiplier = c.backoffMult
	b.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(b, c.maxRetries), ctx)
}

// call performs a read call with retries and exponential backoff.
func (c *Client) call(ctx context.Context, method string, params []interface{}, result interface{}) error {
	start := time.Now()
	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		err := c.do(ctx, method, params, result)
		var rpcErr *RPCError
		if errors.As(err, &rpcErr) {
			return backoff.Permanent(err)
		}
		if err != nil {
			c.log.Debug("rpc attempt failed",
				zap.String("method", method),
				zap.Int("attempt", attempt),
				zap.Error(err))
		}
		return err
	}, c.backoff(ctx))
	c.metrics.RecordRPC(method, time.Since(start).Seconds(), err)

	var rpcErr *RPCError
	if err != nil && !errors.As(err, &rpcErr) && ctx.Err() == nil {
		return fmt.Errorf("max retries exceeded: %w", err)
	}
	return err
}

// send performs a single attempt. Used for state-changing calls.
func (c *Client) send(ctx context.Context, method string, params []interface{}, result interface{}) error {
	start := time.Now()
	err := c.do(ctx, method, params, result)
	c.metrics.RecordRPC(method, time.Since(start).Seconds(), err)
	return err
}

func (c *Client) do(ctx context.Context, method string, params []interface{}, result interface{}) error {
	if params == nil {
		params = []interface{}{}
	}
	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      c.requestID.Add(1),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return backoff.Permanent(fmt.Errorf("marshal request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return backoff.Permanent(fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	respBody, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return ErrRateLimited
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(respBody))
	}

	var rpcResp rpcResponse
	if err := json.Unmarshal(respBody, &rpcResp); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}
	if rpcResp.Error != nil {
		return rpcResp.Error
	}
	if result != nil && rpcResp.Result != nil {
		if err := json.Unmarshal(rpcResp.Result, result); err != nil {
			return backoff.Permanent(fmt.Errorf("unmarshal result: %w", err))
		}
	}
	return nil
}

// BlockNumber returns the number of the latest block.
func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	var result hexutil.Uint64
	if err := c.call(ctx, "eth_blockNumber", nil, &result); err != nil {
		return 0, err
	}
	return uint64(result), nil
}

// Call executes a read-only message call at block ("latest" if empty).
func (c *Client) Call(ctx context.Context, msg CallMsg, block string) ([]byte, error) {
	if block == "" {
		block = BlockLatest
	}
	var result hexutil.Bytes
	if err := c.call(ctx, "eth_call", []interface{}{msg, block}, &result); err != nil {
		return nil, err
	}
	return result, nil
}

// GetLogs returns the logs matching f.
func (c *Client) GetLogs(ctx context.Context, f LogFilter) ([]Log, error) {
	var result []Log
	if err := c.call(ctx, "eth_getLogs", []interface{}{f.params()}, &result); err != nil {
		return nil, err
	}
	return result, nil
}

// SendTransaction submits tx for signing by the node. It is never retried:
// a timeout may still have reached the mempool.
func (c *Client) SendTransaction(ctx context.Context, tx TxArgs) (common.Hash, error) {
	var hash common.Hash
	if err := c.send(ctx, "eth_sendTransaction", []interface{}{tx}, &hash); err != nil {
		return common.Hash{}, err
	}
	return hash, nil
}
