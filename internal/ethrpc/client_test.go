package ethrpc

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"vault-factory-lab/internal/observability"
)

func TestClient_BlockNumber(t *testing.T) {
	server := newNode(t, func(req nodeRequest) (interface{}, *RPCError) {
		if req.Method != "eth_blockNumber" {
			t.Errorf("expected method eth_blockNumber, got %s", req.Method)
		}
		if len(req.Params) != 0 {
			t.Errorf("expected no params, got %d", len(req.Params))
		}
		return "0x1b4", nil
	})

	client := NewClient(server.URL)
	n, err := client.BlockNumber(context.Background())
	if err != nil {
		t.Fatalf("BlockNumber: %v", err)
	}
	if n != 436 {
		t.Errorf("expected block 436, got %d", n)
	}
}

func TestClient_Call(t *testing.T) {
	to := common.HexToAddress("0x1111111111111111111111111111111111111111")
	server := newNode(t, func(req nodeRequest) (interface{}, *RPCError) {
		if req.Method != "eth_call" {
			t.Errorf("expected method eth_call, got %s", req.Method)
		}
		gotTo, data := req.callParams(t)
		if gotTo != to {
			t.Errorf("expected to %s, got %s", to.Hex(), gotTo.Hex())
		}
		if len(data) != 4 {
			t.Errorf("expected 4 bytes of calldata, got %d", len(data))
		}
		var block string
		json.Unmarshal(req.Params[1], &block)
		if block != BlockLatest {
			t.Errorf("expected block tag latest, got %s", block)
		}
		return "0xdeadbeef", nil
	})

	client := NewClient(server.URL)
	out, err := client.Call(context.Background(), CallMsg{To: to, Data: []byte{1, 2, 3, 4}}, "")
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if len(out) != 4 || out[0] != 0xde {
		t.Errorf("unexpected output %x", out)
	}
}

func TestClient_GetLogs(t *testing.T) {
	from, to := uint64(10), uint64(20)
	server := newNode(t, func(req nodeRequest) (interface{}, *RPCError) {
		var filter map[string]interface{}
		if err := json.Unmarshal(req.Params[0], &filter); err != nil {
			t.Fatalf("decode filter: %v", err)
		}
		if filter["fromBlock"] != "0xa" || filter["toBlock"] != "0x14" {
			t.Errorf("unexpected block range %v..%v", filter["fromBlock"], filter["toBlock"])
		}
		return []map[string]interface{}{{
			"address":         "0x2222222222222222222222222222222222222222",
			"topics":          []string{NewAutomatedVaultTopic.Hex()},
			"data":            "0x",
			"blockNumber":     "0xc",
			"transactionHash": common.HexToHash("0xab").Hex(),
			"logIndex":        "0x1",
			"removed":         false,
		}}, nil
	})

	client := NewClient(server.URL)
	logs, err := client.GetLogs(context.Background(), LogFilter{FromBlock: &from, ToBlock: &to})
	if err != nil {
		t.Fatalf("GetLogs: %v", err)
	}
	if len(logs) != 1 {
		t.Fatalf("expected 1 log, got %d", len(logs))
	}
	if logs[0].BlockNumber != 12 {
		t.Errorf("expected block 12, got %d", logs[0].BlockNumber)
	}
	if logs[0].Topics[0] != NewAutomatedVaultTopic {
		t.Errorf("unexpected topic %s", logs[0].Topics[0].Hex())
	}
}

func TestClient_Retry(t *testing.T) {
	var attempts atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		count := attempts.Add(1)
		if count < 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}

		var req nodeRequest
		json.NewDecoder(r.Body).Decode(&req)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"jsonrpc": "2.0",
			"id":      req.ID,
			"result":  "0x63",
		})
	}))
	defer server.Close()

	client := NewClient(server.URL,
		WithMaxRetries(3),
		WithRetryDelay(10*time.Millisecond),
	)

	n, err := client.BlockNumber(context.Background())
	if err != nil {
		t.Fatalf("BlockNumber: %v", err)
	}
	if n != 99 {
		t.Errorf("expected block 99, got %d", n)
	}
	if attempts.Load() != 3 {
		t.Errorf("expected 3 attempts, got %d", attempts.Load())
	}
}

func TestClient_RetryExhausted(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	metrics := observability.NewMetrics("", prometheus.NewRegistry())
	client := NewClient(server.URL,
		WithMaxRetries(2),
		WithRetryDelay(5*time.Millisecond),
		WithMetrics(metrics),
	)

	_, err := client.BlockNumber(context.Background())
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
	if attempts.Load() != 3 {
		t.Errorf("expected 3 attempts, got %d", attempts.Load())
	}
	if got := testutil.ToFloat64(metrics.RPCCallsTotal.WithLabelValues("eth_blockNumber", "error")); got != 1 {
		t.Errorf("expected 1 failed request recorded, got %v", got)
	}
}

func TestClient_RPCError(t *testing.T) {
	var attempts atomic.Int32
	server := newNode(t, func(req nodeRequest) (interface{}, *RPCError) {
		attempts.Add(1)
		return nil, &RPCError{Code: -32000, Message: "execution reverted"}
	})

	client := NewClient(server.URL, WithRetryDelay(5*time.Millisecond))
	_, err := client.Call(context.Background(), CallMsg{}, BlockLatest)
	if err == nil {
		t.Fatal("expected error, got nil")
	}

	var rpcErr *RPCError
	if !errors.As(err, &rpcErr) {
		t.Fatalf("expected RPCError, got %T", err)
	}
	if rpcErr.Code != -32000 {
		t.Errorf("expected code -32000, got %d", rpcErr.Code)
	}
	if attempts.Load() != 1 {
		t.Errorf("expected RPC error not to be retried, got %d attempts", attempts.Load())
	}
}

func TestClient_SendTransactionNotRetried(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	client := NewClient(server.URL, WithRetryDelay(5*time.Millisecond))
	_, err := client.SendTransaction(context.Background(), TxArgs{})
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if attempts.Load() != 1 {
		t.Errorf("expected 1 attempt, got %d", attempts.Load())
	}
}

func TestClient_ContextCancellation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer server.Close()

	client := NewClient(server.URL)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if _, err := client.BlockNumber(ctx); err == nil {
		t.Fatal("expected error on canceled context")
	}
}
