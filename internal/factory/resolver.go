package factory

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"vault-factory-lab/internal/chain"
	"vault-factory-lab/internal/external"
)

// GetPid returns the newest booster pool id staking gauge, or NoPid.
func (f *Factory) GetPid(gauge common.Address) *uint256.Int {
	pid, ok := f.pid(gauge)
	if !ok {
		return NoPid.Clone()
	}
	return uint256.NewInt(pid)
}

func (f *Factory) pid(gauge common.Address) (uint64, bool) {
	booster, ok := chain.ContractAt[external.Booster](f.ledger, f.params.Booster)
	if !ok {
		return 0, false
	}
	for i := booster.PoolLength(); i > 0; i-- {
		info, err := booster.PoolInfo(i - 1)
		if err != nil {
			continue
		}
		if info.Gauge == gauge {
			return i - 1, true
		}
	}
	return 0, false
}

// CanCreateVaultPermissionlessly reports whether anyone may deploy for
// gauge: it has a booster pool, no standard vault, and a free proxy slot.
func (f *Factory) CanCreateVaultPermissionlessly(gauge common.Address) bool {
	if _, ok := f.pid(gauge); !ok {
		return false
	}
	if f.LatestStandardVaultFromGauge(gauge) != (common.Address{}) {
		return false
	}
	return !f.DoesStrategyProxyHaveGauge(gauge)
}

// DoesStrategyProxyHaveGauge reports whether the shared proxy already
// pairs a strategy with gauge.
func (f *Factory) DoesStrategyProxyHaveGauge(gauge common.Address) bool {
	proxy, ok := chain.ContractAt[external.StrategyProxy](f.ledger, f.proxy)
	if !ok {
		return false
	}
	return proxy.Strategies(gauge) != (common.Address{})
}

// LatestStandardVaultFromGauge returns the standard vault for gauge. Vaults
// endorsed in the registry by anyone else count too.
func (f *Factory) LatestStandardVaultFromGauge(gauge common.Address) common.Address {
	if v := f.index[gauge]; v != (common.Address{}) {
		return v
	}
	g, ok := chain.ContractAt[external.Gauge](f.ledger, gauge)
	if !ok {
		return common.Address{}
	}
	registry, ok := chain.ContractAt[external.VaultRegistry](f.ledger, f.params.Registry)
	if !ok {
		return common.Address{}
	}
	return registry.LatestVault(g.LPToken())
}

// AllDeployedVaults lists every vault this factory created, custom ones
// included, in creation order.
func (f *Factory) AllDeployedVaults() []common.Address {
	return append([]common.Address(nil), f.vaults...)
}

func (f *Factory) NumVaults() int {
	return len(f.vaults)
}
