// Package fixtures builds a complete simulated deployment environment on a
// fresh ledger: reward tokens, gauges and booster pools, the voter and its
// proxy, the vault registry, oracles, strategy templates and a factory.
package fixtures

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"vault-factory-lab/internal/chain"
	"vault-factory-lab/internal/external/sim"
	"vault-factory-lab/internal/factory"
	"vault-factory-lab/internal/strategy"
)

// RewardSpec describes an extra gauge reward token.
type RewardSpec struct {
	Symbol    string
	PerSecond uint64 // wei per second
}

// PoolSpec describes one liquidity pool and its gauge.
type PoolSpec struct {
	Name          string      // lookup key
	Symbol        string      // LP token symbol
	CRVPerSecond  uint64      // wei per second
	Extra         *RewardSpec // optional extra reward
	OnConvex      bool        // gauge has a booster pool
	EndorsedVault bool        // registry already holds an endorsed vault
}

// Config controls Build.
type Config struct {
	Genesis        time.Time
	Pools          []PoolSpec
	Target         string // pool the templates are deployed against
	CVXPerCRVBPS   uint64
	WhaleLP        uint64 // whole LP tokens minted to the whale per pool
	ProfitWhaleLP  uint64 // whole LP tokens minted to the profit whale per pool
	CRVPriceInUsdc uint64 // USDC smallest units per whole CRV

	HealthCheckProfitLimitBPS uint64
	HealthCheckLossLimitBPS   uint64
}

// DefaultConfig mirrors a mainnet-like layout: a pool ahead of the target
// so pid resolution has something to scan past, a pool with a vault that
// predates the factory, and a gauge that was never added to the booster.
func DefaultConfig() Config {
	return Config{
		Genesis: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		Pools: []PoolSpec{
			{Name: "bbUSD", Symbol: "bb-a-USD", CRVPerSecond: 1e14, OnConvex: true},
			{Name: "rETH", Symbol: "rETH-WETH", CRVPerSecond: 1e15, OnConvex: true,
				Extra: &RewardSpec{Symbol: "RPL", PerSecond: 1e14}},
			{Name: "FUD", Symbol: "FIAT-USD", CRVPerSecond: 1e14, OnConvex: true, EndorsedVault: true},
			{Name: "SDT", Symbol: "SDT-ETH", CRVPerSecond: 1e14, OnConvex: true},
			{Name: "random", Symbol: "RND-LP", CRVPerSecond: 1e14},
		},
		Target:         "rETH",
		CVXPerCRVBPS:   5_000,
		WhaleLP:        100,
		ProfitWhaleLP:  10,
		CRVPriceInUsdc: 500_000, // 0.50 USDC

		HealthCheckProfitLimitBPS: 1_000,
		HealthCheckLossLimitBPS:   1,
	}
}

// Pool is a deployed PoolSpec.
type Pool struct {
	Spec  PoolSpec
	LP    *chain.Token
	Gauge *sim.Gauge
	Extra *chain.Token // nil without an extra reward
	Pid   *uint64      // nil when not on the booster
	Vault common.Address
}

// Accounts are the externally owned actors of a world.
type Accounts struct {
	Gov           common.Address
	Management    common.Address
	Guardian      common.Address
	Treasury      common.Address
	RegistryOwner common.Address
	ConvexVoter   common.Address
	Whale         common.Address
	ProfitWhale   common.Address
	Rando         common.Address
}

// World is everything Build deployed.
type World struct {
	Ledger   *chain.Ledger
	Accounts Accounts

	CRV           *chain.Token
	CVX           *chain.Token
	Booster       *sim.Booster
	Voter         *sim.Voter
	Proxy         *sim.StrategyProxy
	Registry      *sim.Registry
	TradeFactory  *sim.TradeFactory
	KeeperWrapper *sim.KeeperWrapper
	HealthCheck   *sim.HealthCheck
	BaseFeeOracle *sim.BaseFeeOracle
	PriceOracle   *sim.PriceOracle

	// PriceOracleAddress is where PriceOracle is reachable on the ledger.
	PriceOracleAddress common.Address

	Pools          []*Pool
	TemplateVault  *sim.Vault
	ConvexTemplate *strategy.Strategy
	CurveTemplate  *strategy.Strategy
	Factory        *factory.Factory
}

// NewAccounts derives the default actors.
func NewAccounts() Accounts {
	return Accounts{
		Gov:           chain.Account("gov"),
		Management:    chain.Account("management"),
		Guardian:      chain.Account("guardian"),
		Treasury:      chain.Account("treasury"),
		RegistryOwner: chain.Account("registry-owner"),
		ConvexVoter:   chain.Account("convex-voter"),
		Whale:         chain.Account("whale"),
		ProfitWhale:   chain.Account("profit-whale"),
		Rando:         chain.Account("rando"),
	}
}

// Build deploys a world described by cfg.
func Build(ctx context.Context, cfg Config) (*World, error) {
	w := &World{
		Ledger:      chain.NewLedger(cfg.Genesis),
		Accounts:    NewAccounts(),
		PriceOracle: sim.NewPriceOracle(),
	}
	acc := w.Accounts

	steps := []struct {
		name string
		from common.Address
		fn   func(tx *chain.Tx) error
	}{
		{"core contracts", acc.Gov, func(tx *chain.Tx) error { return w.deployCore(tx, cfg) }},
		{"pools", acc.Gov, func(tx *chain.Tx) error { return w.deployPools(tx, cfg) }},
		{"registry", acc.RegistryOwner, w.deployRegistry},
		{"preexisting vaults", acc.RegistryOwner, w.endorsePreexisting},
		{"templates", acc.Gov, func(tx *chain.Tx) error { return w.deployTemplates(tx, cfg) }},
		{"factory", acc.Gov, w.deployFactory},
	}
	for _, s := range steps {
		if _, err := w.Ledger.Transact(ctx, s.from, s.fn); err != nil {
			return nil, fmt.Errorf("build %s: %w", s.name, err)
		}
	}

	w.PriceOracle.SetPrice(w.CRV.Address(), uint256.NewInt(cfg.CRVPriceInUsdc))
	return w, nil
}

func (w *World) deployCore(tx *chain.Tx, cfg Config) error {
	w.CRV = chain.DeployToken(tx, "Curve DAO Token", "CRV", 18)
	w.CVX = chain.DeployToken(tx, "Convex Token", "CVX", 18)

	w.Booster = sim.DeployBooster(tx, w.CRV, w.CVX, cfg.CVXPerCRVBPS)
	if err := w.CVX.SetMinter(tx, w.Booster.Address(), true); err != nil {
		return err
	}

	w.Voter = sim.DeployVoter(tx)
	w.Proxy = sim.DeployStrategyProxy(tx, w.Voter, w.CRV)

	w.TradeFactory = sim.DeployTradeFactory(tx)
	w.KeeperWrapper = sim.DeployKeeperWrapper(tx)
	w.HealthCheck = sim.DeployHealthCheck(tx, cfg.HealthCheckProfitLimitBPS, cfg.HealthCheckLossLimitBPS)
	w.BaseFeeOracle = sim.DeployBaseFeeOracle(tx, w.Accounts.Management)

	w.PriceOracleAddress = chain.Account("price-oracle")
	tx.Register(w.PriceOracleAddress, w.PriceOracle)
	return nil
}

func (w *World) deployPools(tx *chain.Tx, cfg Config) error {
	for _, spec := range cfg.Pools {
		p := &Pool{Spec: spec}
		p.LP = chain.DeployToken(tx, spec.Symbol+" LP", spec.Symbol, 18)
		p.Gauge = sim.DeployGauge(tx, p.LP, w.CRV, uint256.NewInt(spec.CRVPerSecond))
		if err := w.CRV.SetMinter(tx, p.Gauge.Address(), true); err != nil {
			return err
		}

		if spec.Extra != nil {
			p.Extra = chain.DeployToken(tx, spec.Extra.Symbol, spec.Extra.Symbol, 18)
			p.Gauge.AddReward(tx, p.Extra, uint256.NewInt(spec.Extra.PerSecond))
			if err := p.Extra.SetMinter(tx, p.Gauge.Address(), true); err != nil {
				return err
			}
		}

		if spec.OnConvex {
			pid, err := w.Booster.AddPool(tx, p.Gauge)
			if err != nil {
				return fmt.Errorf("add pool %s: %w", spec.Name, err)
			}
			p.Pid = &pid
		}

		if err := p.LP.Mint(tx, w.Accounts.Whale, chain.Units(cfg.WhaleLP, 18)); err != nil {
			return err
		}
		if err := p.LP.Mint(tx, w.Accounts.ProfitWhale, chain.Units(cfg.ProfitWhaleLP, 18)); err != nil {
			return err
		}
		w.Pools = append(w.Pools, p)
	}
	return nil
}

func (w *World) deployRegistry(tx *chain.Tx) error {
	w.Registry = sim.DeployRegistry(tx)
	return nil
}

// endorsePreexisting creates the vaults that exist before the factory,
// owned and endorsed by gov.
func (w *World) endorsePreexisting(tx *chain.Tx) error {
	gov := w.Accounts.Gov
	if err := w.Registry.SetApprovedVaultsOwner(tx, gov, true); err != nil {
		return err
	}
	if err := w.Registry.SetVaultEndorsers(tx, gov, true); err != nil {
		return err
	}
	for _, p := range w.Pools {
		if !p.Spec.EndorsedVault {
			continue
		}
		v, err := w.Registry.NewVault(tx.As(gov), p.LP.Address(), gov, w.Accounts.Guardian, w.Accounts.Treasury, "", "")
		if err != nil {
			return fmt.Errorf("endorse %s vault: %w", p.Spec.Name, err)
		}
		p.Vault = v.Address()
	}
	return nil
}

func (w *World) deployTemplates(tx *chain.Tx, cfg Config) error {
	target := w.Pool(cfg.Target)
	if target == nil || target.Pid == nil {
		return fmt.Errorf("target pool %q must exist on the booster", cfg.Target)
	}

	v, err := w.Registry.NewExperimentalVault(tx, target.LP.Address(), w.Accounts.Gov, w.Accounts.Guardian, w.Accounts.Treasury, "", "")
	if err != nil {
		return err
	}
	w.TemplateVault = v.(*sim.Vault)

	w.ConvexTemplate, err = strategy.DeployTemplate(tx, v.Address(), w.TradeFactory.Address(), strategy.ConvexParams{
		Pid:                    *target.Pid,
		HarvestProfitMinInUsdc: factory.DefaultHarvestProfitMinInUsdc,
		HarvestProfitMaxInUsdc: factory.DefaultHarvestProfitMaxInUsdc,
		Booster:                w.Booster.Address(),
		ConvexToken:            w.CVX.Address(),
	})
	if err != nil {
		return err
	}
	w.CurveTemplate, err = strategy.DeployTemplate(tx, v.Address(), w.TradeFactory.Address(), strategy.CurveParams{
		Proxy:                  w.Proxy.Address(),
		Gauge:                  target.Gauge.Address(),
		HarvestProfitMinInUsdc: factory.DefaultHarvestProfitMinInUsdc,
		HarvestProfitMaxInUsdc: factory.DefaultHarvestProfitMaxInUsdc,
	})
	return err
}

func (w *World) deployFactory(tx *chain.Tx) error {
	acc := w.Accounts
	w.Factory = factory.Deploy(tx, factory.Config{
		Owner:          acc.Gov,
		Registry:       w.Registry.Address(),
		ConvexTemplate: w.ConvexTemplate.Address(),
		CurveTemplate:  w.CurveTemplate.Address(),
		Proxy:          w.Proxy.Address(),
		ConvexToken:    w.CVX.Address(),

		Booster:           w.Booster.Address(),
		ConvexPoolManager: acc.Gov,
		Governance:        acc.Gov,
		Management:        acc.Management,
		Guardian:          acc.Guardian,
		Treasury:          acc.Treasury,
		Keeper:            w.KeeperWrapper.Address(),
		HealthCheck:       w.HealthCheck.Address(),
		TradeFactory:      w.TradeFactory.Address(),
		BaseFeeOracle:     w.BaseFeeOracle.Address(),
		CurveVoter:        w.Voter.Address(),
		ConvexVoter:       acc.ConvexVoter,
	})
	return nil
}

// Pool returns the pool named name, or nil.
func (w *World) Pool(name string) *Pool {
	for _, p := range w.Pools {
		if p.Spec.Name == name {
			return p
		}
	}
	return nil
}

// EndorseFactory lets the factory own and endorse registry vaults.
func (w *World) EndorseFactory(ctx context.Context) error {
	_, err := w.Ledger.Transact(ctx, w.Accounts.RegistryOwner, func(tx *chain.Tx) error {
		if err := w.Registry.SetApprovedVaultsOwner(tx, w.Factory.Address(), true); err != nil {
			return err
		}
		return w.Registry.SetVaultEndorsers(tx, w.Factory.Address(), true)
	})
	return err
}

// ConnectProxy points the voter at the proxy and lets the factory pair
// strategies on it.
func (w *World) ConnectProxy(ctx context.Context) error {
	_, err := w.Ledger.Transact(ctx, w.Accounts.Gov, func(tx *chain.Tx) error {
		if err := w.Voter.SetStrategy(tx, w.Proxy.Address()); err != nil {
			return err
		}
		return w.Proxy.SetFactory(tx, w.Factory.Address())
	})
	return err
}

// Vault returns the simulated vault at addr.
func (w *World) Vault(addr common.Address) (*sim.Vault, bool) {
	return chain.ContractAt[*sim.Vault](w.Ledger, addr)
}

// Strategy returns the strategy at addr.
func (w *World) Strategy(addr common.Address) (*strategy.Strategy, bool) {
	return chain.ContractAt[*strategy.Strategy](w.Ledger, addr)
}
