package harvest

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

var (
	// ErrIdleWant means a harvest left want sitting in the strategy.
	ErrIdleWant = errors.New("idle want after harvest")
	// ErrSettlementNoProfit means the simulated trade settlement swept
	// rewards but the strategy ended up without want to report.
	ErrSettlementNoProfit = errors.New("settlement produced no profit")
)

// Invariant names used in InvariantViolation and metrics.
const (
	InvariantIdleWant         = "idle_want"
	InvariantSettlementProfit = "settlement_profit"
)

// InvariantViolation is a fatal harvest failure. The harvest's unit of
// work has been rolled back.
type InvariantViolation struct {
	Invariant string
	Strategy  common.Address
	Err       error
}

func (e *InvariantViolation) Error() string {
	return fmt.Sprintf("harvest invariant %s violated by %s: %v", e.Invariant, e.Strategy.Hex(), e.Err)
}

func (e *InvariantViolation) Unwrap() error { return e.Err }
