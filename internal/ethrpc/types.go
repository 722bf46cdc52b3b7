package ethrpc

import (
	"encoding/json"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Block tags
const (
	BlockLatest  = "latest"
	BlockPending = "pending"
)

// CallMsg is the call object of eth_call.
type CallMsg struct {
	From *common.Address `json:"from,omitempty"`
	To   common.Address  `json:"to"`
	Data hexutil.Bytes   `json:"data"`
}

// TxArgs is the transaction object of eth_sendTransaction. The node signs
// with the unlocked From account.
type TxArgs struct {
	From  common.Address  `json:"from"`
	To    common.Address  `json:"to"`
	Data  hexutil.Bytes   `json:"data"`
	Gas   *hexutil.Uint64 `json:"gas,omitempty"`
	Value *hexutil.Big    `json:"value,omitempty"`
}

// Log is a contract log as returned by eth_getLogs and eth_subscribe.
type Log struct {
	Address     common.Address `json:"address"`
	Topics      []common.Hash  `json:"topics"`
	Data        hexutil.Bytes  `json:"data"`
	BlockNumber hexutil.Uint64 `json:"blockNumber"`
	TxHash      common.Hash    `json:"transactionHash"`
	Index       hexutil.Uint   `json:"logIndex"`
	Removed     bool           `json:"removed"`
}

// LogFilter selects logs by emitter and topics. Topics[i] matches any of
// its hashes; an empty position matches everything.
type LogFilter struct {
	Addresses []common.Address
	Topics    [][]common.Hash
	FromBlock *uint64 // nil means latest
	ToBlock   *uint64 // nil means latest
}

// params renders f as the filter object shared by eth_getLogs and
// eth_subscribe("logs").
func (f LogFilter) params() map[string]interface{} {
	p := map[string]interface{}{}
	if len(f.Addresses) > 0 {
		p["address"] = f.Addresses
	}
	if len(f.Topics) > 0 {
		topics := make([]interface{}, len(f.Topics))
		for i, alt := range f.Topics {
			if len(alt) > 0 {
				topics[i] = alt
			}
		}
		p["topics"] = topics
	}
	if f.FromBlock != nil {
		p["fromBlock"] = hexutil.EncodeUint64(*f.FromBlock)
	}
	if f.ToBlock != nil {
		p["toBlock"] = hexutil.EncodeUint64(*f.ToBlock)
	}
	return p
}

// rpcRequest represents a JSON-RPC 2.0 request.
type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      uint64        `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

// rpcResponse represents a JSON-RPC 2.0 response.
type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      uint64          `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}
