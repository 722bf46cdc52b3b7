package strategy

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"vault-factory-lab/internal/chain"
)

// Cloned is emitted by a template when it deploys a clone.
type Cloned struct {
	Clone    common.Address
	Template common.Address
	Kind     Kind
}

func (Cloned) EventName() string { return "Cloned" }

// DeployTemplate deploys an original strategy. The sender becomes
// strategist, rewards and keeper. Originals serve as clone templates and
// can run on their own.
func DeployTemplate(tx *chain.Tx, vault, tradeFactory common.Address, params InitParams) (*Strategy, error) {
	if params == nil {
		return nil, ErrMissingParams
	}
	s := &Strategy{
		address:    tx.Create(),
		ledger:     tx.Ledger(),
		kind:       params.Kind(),
		isOriginal: true,
	}
	err := s.initialize(tx, Init{
		Vault:        vault,
		Strategist:   tx.From(),
		Rewards:      tx.From(),
		Keeper:       tx.From(),
		TradeFactory: tradeFactory,
		Params:       params,
	})
	if err != nil {
		return nil, fmt.Errorf("deploy %s template: %w", params.Kind(), err)
	}
	tx.Register(s.address, s)
	return s, nil
}

// Clone deploys a new strategy of the template's kind from the template's
// address. Clones cannot be cloned.
func (s *Strategy) Clone(tx *chain.Tx, init Init) (*Strategy, error) {
	if !s.isOriginal {
		return nil, fmt.Errorf("clone %s: %w", s.address.Hex(), ErrNotTemplate)
	}
	if init.Params == nil {
		return nil, ErrMissingParams
	}
	if init.Params.Kind() != s.kind {
		return nil, fmt.Errorf("%w: template is %s, params are %s", ErrKindMismatch, s.kind, init.Params.Kind())
	}

	clone := &Strategy{
		address:  tx.As(s.address).Create(),
		ledger:   s.ledger,
		kind:     s.kind,
		template: s.address,
	}
	if err := clone.initialize(tx, init); err != nil {
		return nil, fmt.Errorf("initialize %s clone: %w", s.kind, err)
	}
	tx.Register(clone.address, clone)
	tx.Emit(s.address, Cloned{Clone: clone.address, Template: s.address, Kind: s.kind})
	return clone, nil
}

// FromTemplate clones the template registered at template. The params in
// init select the expected kind.
func FromTemplate(tx *chain.Tx, template common.Address, init Init) (*Strategy, error) {
	if init.Params == nil {
		return nil, ErrMissingParams
	}
	switch init.Params.Kind() {
	case KindConvex, KindCurve:
	default:
		return nil, ErrUnknownKind
	}
	t, ok := chain.ContractAt[*Strategy](tx.Ledger(), template)
	if !ok {
		return nil, fmt.Errorf("template %s: %w", template.Hex(), ErrNotTemplate)
	}
	return t.Clone(tx, init)
}
