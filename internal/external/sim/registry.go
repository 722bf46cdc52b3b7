package sim

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"vault-factory-lab/internal/chain"
	"vault-factory-lab/internal/external"
)

// NewVault is emitted for endorsed vaults, NewExperimentalVault for the
// rest.
type NewVault struct {
	Token common.Address
	Vault common.Address
}

func (NewVault) EventName() string { return "NewVault" }

type NewExperimentalVault struct {
	Token common.Address
	Vault common.Address
}

func (NewExperimentalVault) EventName() string { return "NewExperimentalVault" }

// Registry creates vaults and tracks the latest endorsed vault per token.
type Registry struct {
	address common.Address
	owner   common.Address

	approvedVaultsOwner map[common.Address]bool
	vaultEndorsers      map[common.Address]bool
	latest              map[common.Address]common.Address
	vaults              map[common.Address][]common.Address
}

var _ external.VaultRegistry = (*Registry)(nil)

// DeployRegistry creates a registry owned by the sender.
func DeployRegistry(tx *chain.Tx) *Registry {
	r := &Registry{
		address:             tx.Create(),
		owner:               tx.From(),
		approvedVaultsOwner: make(map[common.Address]bool),
		vaultEndorsers:      make(map[common.Address]bool),
		latest:              make(map[common.Address]common.Address),
		vaults:              make(map[common.Address][]common.Address),
	}
	tx.Register(r.address, r)
	return r
}

func (r *Registry) Address() common.Address { return r.address }
func (r *Registry) Owner() common.Address   { return r.owner }

func (r *Registry) ApprovedVaultsOwner(account common.Address) bool {
	return r.approvedVaultsOwner[account]
}

func (r *Registry) VaultEndorsers(account common.Address) bool {
	return r.vaultEndorsers[account]
}

// LatestVault is the latest endorsed vault for token, or the zero address.
func (r *Registry) LatestVault(token common.Address) common.Address {
	return r.latest[token]
}

// Vaults lists every vault created for token, endorsed or not.
func (r *Registry) Vaults(token common.Address) []common.Address {
	return append([]common.Address(nil), r.vaults[token]...)
}

func (r *Registry) SetApprovedVaultsOwner(tx *chain.Tx, account common.Address, approved bool) error {
	if tx.From() != r.owner {
		return chain.ErrUnauthorized
	}
	chain.SetMap(tx, r.approvedVaultsOwner, account, approved)
	return nil
}

func (r *Registry) SetVaultEndorsers(tx *chain.Tx, account common.Address, endorser bool) error {
	if tx.From() != r.owner {
		return chain.ErrUnauthorized
	}
	chain.SetMap(tx, r.vaultEndorsers, account, endorser)
	return nil
}

// NewVault creates and endorses a vault. The caller must be an endorser and
// governance an approved vault owner; only one endorsed vault per token.
func (r *Registry) NewVault(tx *chain.Tx, token, governance, guardian, rewards common.Address, name, symbol string) (external.Vault, error) {
	if !r.vaultEndorsers[tx.From()] || !r.approvedVaultsOwner[governance] {
		return nil, chain.ErrUnauthorized
	}
	if r.latest[token] != (common.Address{}) {
		return nil, fmt.Errorf("new vault for %s: %w", token.Hex(), external.ErrVaultAlreadyEndorsed)
	}
	v, err := r.create(tx, token, governance, guardian, rewards, name, symbol)
	if err != nil {
		return nil, err
	}
	chain.SetMap(tx, r.latest, token, v.Address())
	tx.Emit(r.address, NewVault{Token: token, Vault: v.Address()})
	return v, nil
}

// NewExperimentalVault creates a vault that is not endorsed.
func (r *Registry) NewExperimentalVault(tx *chain.Tx, token, governance, guardian, rewards common.Address, name, symbol string) (external.Vault, error) {
	v, err := r.create(tx, token, governance, guardian, rewards, name, symbol)
	if err != nil {
		return nil, err
	}
	tx.Emit(r.address, NewExperimentalVault{Token: token, Vault: v.Address()})
	return v, nil
}

func (r *Registry) create(tx *chain.Tx, token, governance, guardian, rewards common.Address, name, symbol string) (*Vault, error) {
	v := DeployVault(tx.As(r.address))
	if err := v.Initialize(tx, token, governance, rewards, name, symbol, guardian); err != nil {
		return nil, fmt.Errorf("initialize vault: %w", err)
	}
	chain.SetMap(tx, r.vaults, token, append(r.Vaults(token), v.Address()))
	return v, nil
}
