package sim

import (
	"github.com/ethereum/go-ethereum/common"

	"vault-factory-lab/internal/chain"
	"vault-factory-lab/internal/external"
)

type tradeKey struct {
	strategy common.Address
	tokenIn  common.Address
	tokenOut common.Address
}

// TradeFactory records which swaps each strategy has enabled. Execution is
// simulated by the harvest settlement step.
type TradeFactory struct {
	address common.Address
	enabled map[tradeKey]bool
}

var _ external.TradeFactory = (*TradeFactory)(nil)

func DeployTradeFactory(tx *chain.Tx) *TradeFactory {
	f := &TradeFactory{address: tx.Create(), enabled: make(map[tradeKey]bool)}
	tx.Register(f.address, f)
	return f
}

func (f *TradeFactory) Address() common.Address { return f.address }

// Enable registers tokenIn->tokenOut for the calling strategy.
func (f *TradeFactory) Enable(tx *chain.Tx, tokenIn, tokenOut common.Address) error {
	chain.SetMap(tx, f.enabled, tradeKey{tx.From(), tokenIn, tokenOut}, true)
	return nil
}

func (f *TradeFactory) IsEnabled(strategy, tokenIn, tokenOut common.Address) bool {
	return f.enabled[tradeKey{strategy, tokenIn, tokenOut}]
}

// KeeperWrapper lets anyone harvest a strategy that uses it as keeper.
type KeeperWrapper struct {
	address common.Address
}

type harvestable interface {
	Harvest(tx *chain.Tx) error
}

func DeployKeeperWrapper(tx *chain.Tx) *KeeperWrapper {
	k := &KeeperWrapper{address: tx.Create()}
	tx.Register(k.address, k)
	return k
}

func (k *KeeperWrapper) Address() common.Address { return k.address }

// Harvest calls strategy's harvest as the wrapper.
func (k *KeeperWrapper) Harvest(tx *chain.Tx, strategy common.Address) error {
	s, ok := chain.ContractAt[harvestable](tx.Ledger(), strategy)
	if !ok {
		return chain.ErrNoContract
	}
	return s.Harvest(tx.As(k.address))
}
