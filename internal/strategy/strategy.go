// Package strategy implements the clonable yield strategies the factory
// deploys behind a vault. A strategy stakes the vault's want through a
// venue (the booster for KindConvex, the shared voter proxy for KindCurve)
// and reports profit and loss to the vault on harvest.
package strategy

import (
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"vault-factory-lab/internal/chain"
	"vault-factory-lab/internal/external"
)

// Strategy errors
var (
	ErrUnknownKind        = errors.New("unknown strategy kind")
	ErrMissingParams      = errors.New("strategy params required")
	ErrKindMismatch       = errors.New("strategy kind mismatch")
	ErrNotTemplate        = errors.New("not a clonable template")
	ErrAlreadyInitialized = errors.New("strategy already initialized")
	ErrWrongWant          = errors.New("pool token does not match vault token")
	ErrWrongKind          = errors.New("setting not supported by strategy kind")
	ErrKeepTooHigh        = errors.New("keep above max bps")
	ErrNotVault           = errors.New("!vault")
	ErrHealthCheck        = errors.New("!healthcheck")
)

const (
	// DefaultMaxReportDelay forces a harvest at least once a year.
	DefaultMaxReportDelay = 365 * 24 * time.Hour
)

// DefaultCreditThreshold is 50k want in 18-decimal units.
var DefaultCreditThreshold = uint256.MustFromDecimal("50000000000000000000000")

// Harvested is emitted at the end of every successful harvest.
type Harvested struct {
	Profit          *uint256.Int
	Loss            *uint256.Int
	DebtPayment     *uint256.Int
	DebtOutstanding *uint256.Int
}

func (Harvested) EventName() string { return "Harvested" }

// EmergencyExitEnabled is emitted when a strategy enters emergency exit.
type EmergencyExitEnabled struct{}

func (EmergencyExitEnabled) EventName() string { return "EmergencyExitEnabled" }

// Strategy is a deployed strategy instance. Every field it reads at
// harvest time was copied in at initialization or set through its own
// setters; it never reads factory state.
type Strategy struct {
	address    common.Address
	ledger     *chain.Ledger
	kind       Kind
	isOriginal bool
	template   common.Address
	venue      venue

	vault        external.Vault
	want         external.ERC20
	crv          external.ERC20
	cvx          external.ERC20
	tradeFactory common.Address

	strategist    common.Address
	rewards       common.Address
	keeper        common.Address
	healthCheck   common.Address
	doHealthCheck bool
	baseFeeOracle common.Address
	priceOracle   common.Address

	claimRewards            bool
	emergencyExit           bool
	forceHarvestTriggerOnce bool
	maxReportDelay          uint64
	creditThreshold         *uint256.Int
	harvestProfitMinInUsdc  *uint256.Int
	harvestProfitMaxInUsdc  *uint256.Int

	localKeepCRV  uint64
	localKeepCVX  uint64
	curveVoter    common.Address
	convexVoter   common.Address
	rewardsTokens []common.Address
}

var _ external.VaultStrategy = (*Strategy)(nil)

func (s *Strategy) initialize(tx *chain.Tx, init Init) error {
	if s.vault != nil {
		return ErrAlreadyInitialized
	}
	vault, ok := chain.ContractAt[external.Vault](tx.Ledger(), init.Vault)
	if !ok {
		return fmt.Errorf("vault %s: %w", init.Vault.Hex(), chain.ErrNoContract)
	}
	want, ok := chain.ContractAt[external.ERC20](tx.Ledger(), vault.Token())
	if !ok {
		return fmt.Errorf("want %s: %w", vault.Token().Hex(), chain.ErrNoContract)
	}

	chain.Set(tx, &s.vault, vault)
	chain.Set(tx, &s.want, want)
	chain.Set(tx, &s.strategist, init.Strategist)
	chain.Set(tx, &s.rewards, init.Rewards)
	chain.Set(tx, &s.keeper, init.Keeper)
	chain.Set(tx, &s.maxReportDelay, uint64(DefaultMaxReportDelay/time.Second))
	chain.Set(tx, &s.creditThreshold, DefaultCreditThreshold.Clone())
	chain.Set(tx, &s.harvestProfitMinInUsdc, chain.Zero())
	chain.Set(tx, &s.harvestProfitMaxInUsdc, chain.Zero())

	if err := want.Approve(tx.As(s.address), vault.Address(), chain.MaxUint()); err != nil {
		return err
	}
	v, err := newVenue(tx, s, init.Params)
	if err != nil {
		return err
	}
	chain.Set(tx, &s.venue, v)

	if init.TradeFactory != (common.Address{}) {
		return s.setTradeFactory(tx, init.TradeFactory)
	}
	return nil
}

// setTradeFactory enables reward->want swaps for every known reward token.
func (s *Strategy) setTradeFactory(tx *chain.Tx, tradeFactory common.Address) error {
	tf, ok := chain.ContractAt[external.TradeFactory](tx.Ledger(), tradeFactory)
	if !ok {
		return fmt.Errorf("trade factory %s: %w", tradeFactory.Hex(), chain.ErrNoContract)
	}
	chain.Set(tx, &s.tradeFactory, tradeFactory)
	for _, token := range s.RewardTokens() {
		if err := tf.Enable(tx.As(s.address), token, s.want.Address()); err != nil {
			return err
		}
	}
	return nil
}

// Name is the human label of the strategy.
func (s *Strategy) Name() string {
	switch s.kind {
	case KindConvex:
		return "StrategyConvex" + s.want.Symbol()
	case KindCurve:
		return "StrategyCurveBoosted" + s.want.Symbol()
	default:
		return "Strategy" + s.want.Symbol()
	}
}

func (s *Strategy) Address() common.Address       { return s.address }
func (s *Strategy) Kind() Kind                    { return s.kind }
func (s *Strategy) IsOriginal() bool              { return s.isOriginal }
func (s *Strategy) Template() common.Address      { return s.template }
func (s *Strategy) Vault() common.Address         { return s.vault.Address() }
func (s *Strategy) Want() common.Address          { return s.want.Address() }
func (s *Strategy) TradeFactory() common.Address  { return s.tradeFactory }
func (s *Strategy) Strategist() common.Address    { return s.strategist }
func (s *Strategy) Rewards() common.Address       { return s.rewards }
func (s *Strategy) Keeper() common.Address        { return s.keeper }
func (s *Strategy) HealthCheck() common.Address   { return s.healthCheck }
func (s *Strategy) DoHealthCheck() bool           { return s.doHealthCheck }
func (s *Strategy) BaseFeeOracle() common.Address { return s.baseFeeOracle }
func (s *Strategy) PriceOracle() common.Address   { return s.priceOracle }
func (s *Strategy) ClaimRewards() bool            { return s.claimRewards }
func (s *Strategy) EmergencyExit() bool           { return s.emergencyExit }
func (s *Strategy) ForceHarvestTriggerOnce() bool { return s.forceHarvestTriggerOnce }
func (s *Strategy) MaxReportDelay() uint64        { return s.maxReportDelay }
func (s *Strategy) LocalKeepCRV() uint64          { return s.localKeepCRV }
func (s *Strategy) LocalKeepCVX() uint64          { return s.localKeepCVX }
func (s *Strategy) CurveVoter() common.Address    { return s.curveVoter }
func (s *Strategy) ConvexVoter() common.Address   { return s.convexVoter }

func (s *Strategy) CreditThreshold() *uint256.Int        { return s.creditThreshold.Clone() }
func (s *Strategy) HarvestProfitMinInUsdc() *uint256.Int { return s.harvestProfitMinInUsdc.Clone() }
func (s *Strategy) HarvestProfitMaxInUsdc() *uint256.Int { return s.harvestProfitMaxInUsdc.Clone() }

// RewardsTokens lists the extra reward tokens registered on the strategy.
func (s *Strategy) RewardsTokens() []common.Address {
	return append([]common.Address(nil), s.rewardsTokens...)
}

// RewardTokens lists every token the strategy may hold besides want: CRV,
// CVX for convex strategies, then the extra reward tokens.
func (s *Strategy) RewardTokens() []common.Address {
	out := []common.Address{s.crv.Address()}
	if s.cvx != nil {
		out = append(out, s.cvx.Address())
	}
	return append(out, s.rewardsTokens...)
}

// DepositContract returns the booster and pool id for strategies that
// stake through a booster.
func (s *Strategy) DepositContract() (booster common.Address, pid uint64, ok bool) {
	return depositContract(s.venue)
}

// StakedBalance is the want staked in the venue.
func (s *Strategy) StakedBalance() *uint256.Int {
	return s.venue.stakedBalance(s)
}

// BalanceOfWant is the idle want held by the strategy.
func (s *Strategy) BalanceOfWant() *uint256.Int {
	return s.want.BalanceOf(s.address)
}

func (s *Strategy) EstimatedTotalAssets() *uint256.Int {
	return new(uint256.Int).Add(s.BalanceOfWant(), s.StakedBalance())
}

// IsActive reports whether the strategy has a debt allocation or assets.
func (s *Strategy) IsActive() bool {
	return s.vault.Strategies(s.address).DebtRatio > 0 || !s.EstimatedTotalAssets().IsZero()
}

// ClaimableProfitInUsdc values the claimable CRV with the configured price
// oracle. Without an oracle it is zero.
func (s *Strategy) ClaimableProfitInUsdc() *uint256.Int {
	if s.priceOracle == (common.Address{}) {
		return chain.Zero()
	}
	oracle, ok := chain.ContractAt[external.PriceOracle](s.ledger, s.priceOracle)
	if !ok {
		return chain.Zero()
	}
	price := oracle.PriceInUsdc(s.crv.Address())
	return chain.MulDiv(s.venue.claimableCRV(s), price, chain.Units(1, s.crv.Decimals()))
}

func (s *Strategy) isBaseFeeAcceptable() bool {
	if s.baseFeeOracle == (common.Address{}) {
		return true
	}
	oracle, ok := chain.ContractAt[external.BaseFeeOracle](s.ledger, s.baseFeeOracle)
	if !ok {
		return false
	}
	return oracle.IsCurrentBaseFeeAcceptable()
}

// HarvestTrigger reports whether a keeper should harvest now. The call
// cost is ignored; gas pricing is delegated to the base-fee oracle.
func (s *Strategy) HarvestTrigger(_ *uint256.Int) bool {
	if !s.IsActive() {
		return false
	}
	claimable := s.ClaimableProfitInUsdc()
	if !s.harvestProfitMaxInUsdc.IsZero() && claimable.Gt(s.harvestProfitMaxInUsdc) {
		return true
	}
	if !s.isBaseFeeAcceptable() {
		return false
	}
	if s.forceHarvestTriggerOnce {
		return true
	}
	if !claimable.IsZero() && claimable.Gt(s.harvestProfitMinInUsdc) {
		return true
	}
	if s.vault.CreditAvailable(s.address).Gt(s.creditThreshold) {
		return true
	}
	lastReport := s.vault.Strategies(s.address).LastReport
	return s.ledger.Now()-lastReport > s.maxReportDelay
}
