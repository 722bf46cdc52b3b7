package factory

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"vault-factory-lab/internal/chain"
	"vault-factory-lab/internal/domain"
	"vault-factory-lab/internal/external"
	"vault-factory-lab/internal/idhash"
	"vault-factory-lab/internal/strategy"
)

// NewAutomatedVault is emitted once per deployment. A skipped leg is the
// zero address.
type NewAutomatedVault struct {
	Vault          common.Address
	ConvexStrategy common.Address
	CurveStrategy  common.Address
	Gauge          common.Address
}

func (NewAutomatedVault) EventName() string { return "NewAutomatedVault" }

// deployment is one resolved request.
type deployment struct {
	gauge  external.Gauge
	lp     common.Address
	pid    uint64
	hasPid bool
	name   string
	symbol string
	custom bool
	path   domain.DeploymentPath
}

// CreateNewVaultsAndStrategies deploys the standard vault for gauge. Anyone
// may call it while the gauge is eligible.
func (f *Factory) CreateNewVaultsAndStrategies(tx *chain.Tx, gauge common.Address) (domain.DeploymentRecord, error) {
	if f.LatestStandardVaultFromGauge(gauge) != (common.Address{}) {
		return domain.DeploymentRecord{}, ErrVaultExists
	}
	pid, ok := f.pid(gauge)
	if !ok || f.DoesStrategyProxyHaveGauge(gauge) {
		return domain.DeploymentRecord{}, fmt.Errorf("gauge %s: %w", gauge.Hex(), ErrNotEligible)
	}
	g, ok := chain.ContractAt[external.Gauge](tx.Ledger(), gauge)
	if !ok {
		return domain.DeploymentRecord{}, fmt.Errorf("gauge %s: %w", gauge.Hex(), ErrNotAGauge)
	}
	lp, ok := chain.ContractAt[external.ERC20](tx.Ledger(), g.LPToken())
	if !ok {
		return domain.DeploymentRecord{}, fmt.Errorf("lp token %s: %w", g.LPToken().Hex(), chain.ErrNoContract)
	}

	return f.deploy(tx, deployment{
		gauge:  g,
		lp:     lp.Address(),
		pid:    pid,
		hasPid: true,
		name:   lp.Symbol() + " yVault",
		symbol: "yv" + lp.Symbol(),
		path:   domain.PathStandard,
	})
}

// CreateNewVaultsAndStrategiesPermissioned deploys a vault with a custom
// name and symbol. Owner or management only. A gauge without a booster
// pool gets no convex leg; a gauge that already has a standard vault gets
// an experimental one that is not indexed.
func (f *Factory) CreateNewVaultsAndStrategiesPermissioned(tx *chain.Tx, gauge common.Address, name, symbol string) (domain.DeploymentRecord, error) {
	if err := f.onlyAuthorized(tx); err != nil {
		return domain.DeploymentRecord{}, err
	}
	g, ok := chain.ContractAt[external.Gauge](tx.Ledger(), gauge)
	if !ok || g.LPToken() == (common.Address{}) {
		return domain.DeploymentRecord{}, fmt.Errorf("%s: %w", gauge.Hex(), ErrNotAGauge)
	}
	if f.DoesStrategyProxyHaveGauge(gauge) {
		return domain.DeploymentRecord{}, ErrProxyAlreadyPaired
	}
	pid, hasPid := f.pid(gauge)

	return f.deploy(tx, deployment{
		gauge:  g,
		lp:     g.LPToken(),
		pid:    pid,
		hasPid: hasPid,
		name:   name,
		symbol: symbol,
		custom: f.LatestStandardVaultFromGauge(gauge) != (common.Address{}),
		path:   domain.PathPermissioned,
	})
}

// deploy wires the vault and its legs. It runs inside the caller's unit of
// work, so any failure reverts the whole deployment.
func (f *Factory) deploy(tx *chain.Tx, d deployment) (domain.DeploymentRecord, error) {
	p := f.Snapshot()
	templates := f.Templates()
	self := tx.As(f.address)

	v, err := f.createVault(self, p, d)
	if err != nil {
		return domain.DeploymentRecord{}, err
	}
	if err := setupVault(self, v, p); err != nil {
		return domain.DeploymentRecord{}, fmt.Errorf("configure vault: %w", err)
	}

	secondary := templates.Enabled(strategy.KindCurve)

	var convexLeg, curveLeg common.Address
	if templates.Enabled(strategy.KindConvex) && d.hasPid {
		debtRatio := uint64(external.MaxBPS)
		if secondary {
			debtRatio -= p.SecondaryDebtRatio
		}
		s, err := f.deployConvexLeg(self, v, p, templates, d, debtRatio)
		if err != nil {
			return domain.DeploymentRecord{}, err
		}
		convexLeg = s.Address()
	}
	if secondary {
		s, err := f.deployCurveLeg(self, v, p, templates, d)
		if err != nil {
			return domain.DeploymentRecord{}, err
		}
		curveLeg = s.Address()
	}

	if err := v.SetGovernance(self, p.Governance); err != nil {
		return domain.DeploymentRecord{}, fmt.Errorf("hand off vault governance: %w", err)
	}

	gauge := d.gauge.Address()
	if !d.custom {
		chain.SetMap(tx, f.index, gauge, v.Address())
	}
	chain.Append(tx, &f.vaults, v.Address())
	tx.Emit(f.address, NewAutomatedVault{
		Vault:          v.Address(),
		ConvexStrategy: convexLeg,
		CurveStrategy:  curveLeg,
		Gauge:          gauge,
	})

	rec := domain.DeploymentRecord{
		DeploymentID:   idhash.ComputeDeploymentID(f.address, v.Address(), gauge, tx.Block()),
		Factory:        f.address,
		Vault:          v.Address(),
		ConvexStrategy: convexLeg,
		CurveStrategy:  curveLeg,
		Gauge:          gauge,
		LPToken:        d.lp,
		Path:           d.path,
		Custom:         d.custom,
		Name:           v.Name(),
		Symbol:         v.Symbol(),
		Block:          tx.Block(),
		Timestamp:      int64(tx.Time()),
	}
	if d.hasPid {
		pid := d.pid
		rec.Pid = &pid
	}
	return rec, nil
}

func (f *Factory) createVault(tx *chain.Tx, p Params, d deployment) (external.Vault, error) {
	registry, ok := chain.ContractAt[external.VaultRegistry](tx.Ledger(), p.Registry)
	if !ok {
		return nil, fmt.Errorf("registry %s: %w", p.Registry.Hex(), chain.ErrNoContract)
	}
	create := registry.NewVault
	if d.custom {
		create = registry.NewExperimentalVault
	}
	v, err := create(tx, d.lp, f.address, p.Guardian, p.Treasury, d.name, d.symbol)
	if err != nil {
		return nil, fmt.Errorf("create vault: %w", err)
	}
	return v, nil
}

func setupVault(tx *chain.Tx, v external.Vault, p Params) error {
	if err := v.SetManagement(tx, p.Management); err != nil {
		return err
	}
	if err := v.SetDepositLimit(tx, p.DepositLimit); err != nil {
		return err
	}
	if err := v.SetManagementFee(tx, p.ManagementFee); err != nil {
		return err
	}
	return v.SetPerformanceFee(tx, p.PerformanceFee)
}

func (f *Factory) legInit(v external.Vault, p Params, params strategy.InitParams) strategy.Init {
	return strategy.Init{
		Vault:        v.Address(),
		Strategist:   p.Management,
		Rewards:      p.Treasury,
		Keeper:       p.Keeper,
		TradeFactory: p.TradeFactory,
		Params:       params,
	}
}

// setupLeg applies the settings shared by both legs.
func setupLeg(tx *chain.Tx, s *strategy.Strategy, p Params) error {
	if err := s.SetHealthCheck(tx, p.HealthCheck); err != nil {
		return err
	}
	if err := s.SetBaseFeeOracle(tx, p.BaseFeeOracle); err != nil {
		return err
	}
	if err := s.SetCurveVoter(tx, p.CurveVoter); err != nil {
		return err
	}
	if p.KeepCRV > 0 {
		return s.SetLocalKeepCRV(tx, p.KeepCRV)
	}
	return nil
}

func (f *Factory) deployConvexLeg(tx *chain.Tx, v external.Vault, p Params, templates TemplateBinding, d deployment, debtRatio uint64) (*strategy.Strategy, error) {
	s, err := cloneLeg(tx, templates, f.legInit(v, p, strategy.ConvexParams{
		Pid:                    d.pid,
		HarvestProfitMinInUsdc: p.HarvestProfitMinInUsdc,
		HarvestProfitMaxInUsdc: p.HarvestProfitMaxInUsdc,
		Booster:                p.Booster,
		ConvexToken:            f.convexToken,
	}))
	if err != nil {
		return nil, err
	}
	if err := setupLeg(tx, s, p); err != nil {
		return nil, fmt.Errorf("configure convex strategy: %w", err)
	}
	if err := s.SetConvexVoter(tx, p.ConvexVoter); err != nil {
		return nil, fmt.Errorf("configure convex strategy: %w", err)
	}
	if p.KeepCVX > 0 {
		if err := s.SetLocalKeepCVX(tx, p.KeepCVX); err != nil {
			return nil, fmt.Errorf("configure convex strategy: %w", err)
		}
	}
	if err := v.AddStrategy(tx, s.Address(), debtRatio, chain.Zero(), chain.MaxUint(), 0); err != nil {
		return nil, fmt.Errorf("add convex strategy: %w", err)
	}
	return s, nil
}

func (f *Factory) deployCurveLeg(tx *chain.Tx, v external.Vault, p Params, templates TemplateBinding, d deployment) (*strategy.Strategy, error) {
	proxy, ok := chain.ContractAt[external.StrategyProxy](tx.Ledger(), f.proxy)
	if !ok {
		return nil, fmt.Errorf("strategy proxy %s: %w", f.proxy.Hex(), chain.ErrNoContract)
	}
	gauge := d.gauge.Address()
	if proxy.Strategies(gauge) != (common.Address{}) {
		return nil, ErrProxyAlreadyPaired
	}

	s, err := cloneLeg(tx, templates, f.legInit(v, p, strategy.CurveParams{
		Proxy:                  f.proxy,
		Gauge:                  gauge,
		HarvestProfitMinInUsdc: p.HarvestProfitMinInUsdc,
		HarvestProfitMaxInUsdc: p.HarvestProfitMaxInUsdc,
	}))
	if err != nil {
		return nil, err
	}
	if err := setupLeg(tx, s, p); err != nil {
		return nil, fmt.Errorf("configure curve strategy: %w", err)
	}

	// Strategy first, then the proxy, so both agree on the reward list.
	if rewards := d.gauge.RewardTokens(); len(rewards) > 0 {
		if err := s.UpdateRewards(tx, rewards); err != nil {
			return nil, fmt.Errorf("update curve strategy rewards: %w", err)
		}
		for _, token := range rewards {
			if err := proxy.ApproveRewardToken(tx, token); err != nil {
				return nil, fmt.Errorf("approve reward token %s: %w", token.Hex(), err)
			}
		}
	}
	if err := proxy.ApproveStrategy(tx, gauge, s.Address()); err != nil {
		return nil, fmt.Errorf("pair curve strategy: %w", err)
	}

	if err := v.AddStrategy(tx, s.Address(), p.SecondaryDebtRatio, chain.Zero(), chain.MaxUint(), 0); err != nil {
		return nil, fmt.Errorf("add curve strategy: %w", err)
	}
	return s, nil
}
