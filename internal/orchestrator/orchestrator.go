// Package orchestrator runs the end-to-end factory scenario.
// It coordinates: world → deploy → verify → deposit → harvest → status →
// persist → reporting
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"vault-factory-lab/internal/chain"
	"vault-factory-lab/internal/config"
	"vault-factory-lab/internal/domain"
	"vault-factory-lab/internal/external/sim"
	"vault-factory-lab/internal/factory"
	"vault-factory-lab/internal/fixtures"
	"vault-factory-lab/internal/harvest"
	"vault-factory-lab/internal/logging"
	"vault-factory-lab/internal/observability"
	"vault-factory-lab/internal/reporting"
	"vault-factory-lab/internal/storage"
	"vault-factory-lab/internal/strategy"
	"vault-factory-lab/internal/verification"
)

// ErrUnknownPool is returned when a scenario names a pool the world does
// not have.
var ErrUnknownPool = errors.New("unknown pool")

// PermissionedDeploy describes the permissioned deployment made after the
// standard one.
type PermissionedDeploy struct {
	Pool   string
	Name   string
	Symbol string
}

// DefaultPermissioned deploys a custom vault next to the pre-endorsed FUD
// vault.
var DefaultPermissioned = PermissionedDeploy{Pool: "FUD", Name: "FUD Vault", Symbol: "yvCurve-FUD"}

// Orchestrator coordinates the scenario execution.
type Orchestrator struct {
	// Stores
	deploymentStore storage.DeploymentStore
	harvestStore    storage.HarvestStore

	// Configs
	world        fixtures.Config
	scenario     config.ScenarioConfig
	permissioned *PermissionedDeploy

	log     *logging.Logger
	metrics *observability.Metrics
	now     func() time.Time
}

// Options for creating Orchestrator.
type Options struct {
	// Required stores
	DeploymentStore storage.DeploymentStore
	HarvestStore    storage.HarvestStore

	// World defaults to fixtures.DefaultConfig with Scenario.Target as
	// the target pool.
	World    *fixtures.Config
	Scenario config.ScenarioConfig
	// Permissioned is skipped when nil.
	Permissioned *PermissionedDeploy

	Logger  *logging.Logger
	Metrics *observability.Metrics
	// Clock stamps the report; defaults to time.Now.
	Clock func() time.Time
}

// New creates a new Orchestrator.
func New(opts Options) *Orchestrator {
	world := fixtures.DefaultConfig()
	if opts.World != nil {
		world = *opts.World
	}
	if opts.Scenario.Target != "" {
		world.Target = opts.Scenario.Target
	}
	log := opts.Logger
	if log == nil {
		log = logging.NewNop()
	}
	now := opts.Clock
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Orchestrator{
		deploymentStore: opts.DeploymentStore,
		harvestStore:    opts.HarvestStore,
		world:           world,
		scenario:        opts.Scenario,
		permissioned:    opts.Permissioned,
		log:             log.Named("orchestrator"),
		metrics:         observability.Or(opts.Metrics),
		now:             now,
	}
}

// StrategyStatus is the final state of one harvested strategy.
type StrategyStatus struct {
	Strategy common.Address
	Kind     string
	harvest.Status
}

// RunResult contains results from orchestrator execution.
type RunResult struct {
	Params       factory.Params
	Deployments  []domain.DeploymentRecord
	Verification *verification.VerificationReport
	Outcomes     []domain.HarvestOutcome
	Statuses     []StrategyStatus
	ReportFiles  []string
	Errors       []string // divergences; the run still completes
}

// run holds the state shared between phases.
type run struct {
	world  *fixtures.World
	target domain.DeploymentRecord
	vault  *sim.Vault
	legs   []*strategy.Strategy
	engine *harvest.Engine
	result *RunResult
}

// Run executes the full scenario.
// Phases:
//  1. Build the world and connect the factory
//  2. Apply scenario parameters to the factory
//  3. Deploy the target vault, then the permissioned one
//  4. Verify parameter propagation
//  5. Accept governance and deposit
//  6. Harvest N cycles
//  7. Check status
//  8. Persist outcomes and write reports
func (o *Orchestrator) Run(ctx context.Context) (*RunResult, error) {
	r := &run{result: &RunResult{}}

	phases := []struct {
		name string
		fn   func(ctx context.Context, r *run) error
	}{
		{"world", o.buildWorld},
		{"configure", o.configureFactory},
		{"deploy", o.deploy},
		{"verify", o.verify},
		{"deposit", o.deposit},
		{"harvest", o.harvest},
		{"status", o.checkStatus},
		{"persist", o.persist},
		{"report", o.report},
	}
	for i, p := range phases {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		o.log.Info("phase started", zap.Int("phase", i+1), zap.String("name", p.name))
		start := time.Now()
		err := p.fn(ctx, r)
		status := "ok"
		if err != nil {
			status = "error"
		}
		o.metrics.RecordScenarioPhase(p.name, status, time.Since(start).Seconds())
		if err != nil {
			o.log.Error("phase failed", zap.String("name", p.name), zap.Error(err))
			return nil, fmt.Errorf("phase %d (%s) failed: %w", i+1, p.name, err)
		}
	}

	o.metrics.LastSuccessfulRun.SetToCurrentTime()
	o.log.Info("scenario completed",
		zap.Int("deployments", len(r.result.Deployments)),
		zap.Int("harvests", len(r.result.Outcomes)),
		zap.Int("errors", len(r.result.Errors)))
	return r.result, nil
}

func (o *Orchestrator) buildWorld(ctx context.Context, r *run) error {
	w, err := fixtures.Build(ctx, o.world)
	if err != nil {
		return err
	}
	if err := w.EndorseFactory(ctx); err != nil {
		return err
	}
	if err := w.ConnectProxy(ctx); err != nil {
		return err
	}
	r.world = w
	r.engine = harvest.New(harvest.Options{
		Ledger:       w.Ledger,
		Gov:          w.Accounts.Gov,
		UseYSwaps:    o.scenario.UseYSwaps,
		ProfitWhale:  w.Accounts.ProfitWhale,
		ProfitAmount: o.scenario.ProfitAmountWei(),
		Logger:       o.log,
		Metrics:      o.metrics,
	})
	return nil
}

// configureFactory applies keep rates and the secondary debt ratio as the
// factory owner. The resulting snapshot is what every deployment is
// verified against.
func (o *Orchestrator) configureFactory(ctx context.Context, r *run) error {
	f := r.world.Factory
	_, err := r.world.Ledger.Transact(ctx, r.world.Accounts.Gov, func(tx *chain.Tx) error {
		if err := f.SetKeepCRV(tx, o.scenario.KeepCRV, f.CurveVoter()); err != nil {
			return err
		}
		if err := f.SetKeepCVX(tx, o.scenario.KeepCVX, f.ConvexVoter()); err != nil {
			return err
		}
		return f.SetSecondaryDebtRatio(tx, o.scenario.SecondaryDebtRatio)
	})
	if err != nil {
		return err
	}
	r.result.Params = f.Snapshot()
	return nil
}

func (o *Orchestrator) deploy(ctx context.Context, r *run) error {
	w := r.world
	target := w.Pool(o.world.Target)
	if target == nil {
		return fmt.Errorf("target %q: %w", o.world.Target, ErrUnknownPool)
	}

	rec, err := o.deployOne(ctx, r, domain.PathStandard, w.Accounts.Whale, func(tx *chain.Tx) (domain.DeploymentRecord, error) {
		return w.Factory.CreateNewVaultsAndStrategies(tx, target.Gauge.Address())
	})
	if err != nil {
		return err
	}
	r.target = rec

	if p := o.permissioned; p != nil {
		pool := w.Pool(p.Pool)
		if pool == nil {
			return fmt.Errorf("permissioned %q: %w", p.Pool, ErrUnknownPool)
		}
		_, err := o.deployOne(ctx, r, domain.PathPermissioned, w.Accounts.Management, func(tx *chain.Tx) (domain.DeploymentRecord, error) {
			return w.Factory.CreateNewVaultsAndStrategiesPermissioned(tx, pool.Gauge.Address(), p.Name, p.Symbol)
		})
		if err != nil {
			return err
		}
	}

	vault, ok := w.Vault(r.target.Vault)
	if !ok {
		return fmt.Errorf("vault %s: %w", r.target.Vault.Hex(), chain.ErrNoContract)
	}
	r.vault = vault
	for _, addr := range r.target.Legs() {
		s, ok := w.Strategy(addr)
		if !ok {
			return fmt.Errorf("strategy %s: %w", addr.Hex(), chain.ErrNoContract)
		}
		r.legs = append(r.legs, s)
	}
	return nil
}

func (o *Orchestrator) deployOne(ctx context.Context, r *run, path domain.DeploymentPath, from common.Address, create func(tx *chain.Tx) (domain.DeploymentRecord, error)) (domain.DeploymentRecord, error) {
	var rec domain.DeploymentRecord
	_, err := r.world.Ledger.Transact(ctx, from, func(tx *chain.Tx) error {
		var err error
		rec, err = create(tx)
		return err
	})
	o.metrics.RecordDeployment(string(path), err)
	if err != nil {
		return rec, fmt.Errorf("deploy %s: %w", path, err)
	}
	start := time.Now()
	err = o.deploymentStore.Insert(ctx, &rec)
	o.metrics.RecordDBQuery("deployments", "insert", time.Since(start).Seconds(), err)
	switch {
	case errors.Is(err, storage.ErrDuplicateKey):
		// Same world, same ids: stored by an earlier run.
		o.log.Debug("deployment already stored", zap.String("deployment_id", rec.DeploymentID))
	case err != nil:
		return rec, fmt.Errorf("store deployment: %w", err)
	}
	r.result.Deployments = append(r.result.Deployments, rec)

	o.log.Info("vault deployed",
		zap.String("path", string(path)),
		zap.String("vault", rec.Vault.Hex()),
		zap.String("name", rec.Name),
		zap.Uint64("block", rec.Block))
	return rec, nil
}

// verify checks every stored deployment. Divergences are recorded, not
// fatal.
func (o *Orchestrator) verify(ctx context.Context, r *run) error {
	v := verification.NewLedgerVerifier(verification.LedgerVerifierOptions{
		Ledger: r.world.Ledger,
		Store:  o.deploymentStore,
		Logger: o.log,
	})
	report, err := v.VerifyAll(ctx, r.result.Params)
	if err != nil {
		return err
	}
	r.result.Verification = report
	for _, res := range report.Results {
		for _, d := range res.Divergences {
			r.result.Errors = append(r.result.Errors, fmt.Sprintf("%s: %s", res.Vault.Hex(), d))
		}
	}
	return nil
}

// deposit hands vault governance to gov so the harvest engine may manage
// the strategies, then deposits from the whale.
func (o *Orchestrator) deposit(ctx context.Context, r *run) error {
	w := r.world
	if _, err := w.Ledger.Transact(ctx, w.Accounts.Gov, r.vault.AcceptGovernance); err != nil {
		return fmt.Errorf("accept governance: %w", err)
	}

	lp := w.Pool(o.world.Target).LP
	amount := chain.Units(o.scenario.DepositLP, lp.Decimals())
	_, err := w.Ledger.Transact(ctx, w.Accounts.Whale, func(tx *chain.Tx) error {
		if err := lp.Approve(tx, r.vault.Address(), chain.MaxUint()); err != nil {
			return err
		}
		_, err := r.vault.Deposit(tx, amount)
		return err
	})
	if err != nil {
		return fmt.Errorf("deposit: %w", err)
	}
	o.log.Info("deposited", zap.String("vault", r.vault.Address().Hex()), zap.String("amount", amount.Dec()))
	return nil
}

// harvest runs the configured number of cycles over every leg, sleeping
// between cycles so rewards accrue.
func (o *Orchestrator) harvest(ctx context.Context, r *run) error {
	for cycle := 1; cycle <= o.scenario.HarvestCycles; cycle++ {
		if cycle > 1 {
			r.world.Ledger.Sleep(o.scenario.SleepTime)
		}
		for _, s := range r.legs {
			out, err := r.engine.Harvest(ctx, s)
			if err != nil {
				return fmt.Errorf("cycle %d: harvest %s: %w", cycle, s.Kind(), err)
			}
			r.result.Outcomes = append(r.result.Outcomes, out)
		}
	}
	return nil
}

func (o *Orchestrator) checkStatus(_ context.Context, r *run) error {
	for _, s := range r.legs {
		st, err := r.engine.CheckStatus(s)
		if err != nil {
			return err
		}
		r.result.Statuses = append(r.result.Statuses, StrategyStatus{
			Strategy: s.Address(),
			Kind:     s.Kind().String(),
			Status:   st,
		})
	}
	return nil
}

// persist stores the outcomes not already stored by an earlier run.
func (o *Orchestrator) persist(ctx context.Context, r *run) error {
	stored := make(map[string]bool)
	for _, s := range r.legs {
		existing, err := o.harvestStore.GetByStrategy(ctx, s.Address())
		if err != nil {
			return fmt.Errorf("load harvest outcomes: %w", err)
		}
		for _, e := range existing {
			stored[e.OutcomeID] = true
		}
	}

	var outcomes []*domain.HarvestOutcome
	for i := range r.result.Outcomes {
		if out := &r.result.Outcomes[i]; !stored[out.OutcomeID] {
			outcomes = append(outcomes, out)
		}
	}
	if skipped := len(r.result.Outcomes) - len(outcomes); skipped > 0 {
		o.log.Debug("harvest outcomes already stored", zap.Int("skipped", skipped))
	}
	start := time.Now()
	err := o.harvestStore.InsertBulk(ctx, outcomes)
	o.metrics.RecordDBQuery("harvest_outcomes", "insert_bulk", time.Since(start).Seconds(), err)
	if err != nil {
		return fmt.Errorf("store harvest outcomes: %w", err)
	}
	return nil
}

// report is skipped when no output directory is configured.
func (o *Orchestrator) report(ctx context.Context, r *run) error {
	if o.scenario.OutputDir == "" {
		return nil
	}
	report, err := reporting.NewGenerator(o.deploymentStore, o.harvestStore).
		WithClock(o.now).
		Generate(ctx, r.result.Verification)
	if err != nil {
		return err
	}
	paths, err := reporting.WriteFiles(o.scenario.OutputDir, report)
	if err != nil {
		return err
	}
	r.result.ReportFiles = paths
	o.metrics.ReportsGenerated.Add(float64(len(paths)))
	o.log.Info("reports written", zap.Strings("files", paths))
	return nil
}

// TotalProfit sums the profit reported across all outcomes.
func (r *RunResult) TotalProfit() *uint256.Int {
	total := new(uint256.Int)
	for _, out := range r.Outcomes {
		if out.Profit != nil {
			total.Add(total, out.Profit)
		}
	}
	return total
}
