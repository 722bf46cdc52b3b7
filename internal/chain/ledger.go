// Package chain provides a single-writer, journaled ledger that stands in for
// the blockchain state the factory and strategies run against.
//
// Every unit of work runs inside Ledger.Transact. Writes register an undo
// closure on the transaction; a unit that returns an error is rolled back
// entirely and its events are dropped.
package chain

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

var (
	// ErrUnauthorized is the generic access-control revert.
	ErrUnauthorized = errors.New("!authorized")
	// ErrNoContract is returned when an address has no registered contract.
	ErrNoContract = errors.New("no contract at address")
)

// Ledger holds contract instances by address plus the block clock.
type Ledger struct {
	mu sync.RWMutex

	block atomic.Uint64
	now   atomic.Uint64

	contracts map[common.Address]any
	nonces    map[common.Address]uint64
}

// NewLedger creates an empty ledger whose clock starts at genesis.
func NewLedger(genesis time.Time) *Ledger {
	l := &Ledger{
		contracts: make(map[common.Address]any),
		nonces:    make(map[common.Address]uint64),
	}
	l.now.Store(uint64(genesis.Unix()))
	return l
}

// BlockNumber returns the latest mined block.
func (l *Ledger) BlockNumber() uint64 {
	return l.block.Load()
}

// Now returns the current block timestamp in unix seconds.
func (l *Ledger) Now() uint64 {
	return l.now.Load()
}

// Sleep advances the clock without mining.
func (l *Ledger) Sleep(d time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.now.Add(uint64(d / time.Second))
}

// Mine mines n empty blocks.
func (l *Ledger) Mine(n uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.block.Add(n)
}

// View runs fn under the read lock so that it observes a state between
// transactions. Contract read methods may be called directly when the
// caller already serializes with writers.
func (l *Ledger) View(fn func() error) error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return fn()
}

// Contract returns the contract registered at addr.
func (l *Ledger) Contract(addr common.Address) (any, bool) {
	c, ok := l.contracts[addr]
	return c, ok
}

// ContractAt returns the contract at addr if it has type T.
func ContractAt[T any](l *Ledger, addr common.Address) (T, bool) {
	var zero T
	c, ok := l.contracts[addr]
	if !ok {
		return zero, false
	}
	t, ok := c.(T)
	return t, ok
}

// Transact executes fn as one indivisible unit of work sent by from. Each
// call mines one block. When fn fails every journaled write is undone and
// the error is returned unchanged.
func (l *Ledger) Transact(ctx context.Context, from common.Address, fn func(tx *Tx) error) (*Receipt, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	tx := &Tx{
		ctx:    ctx,
		ledger: l,
		from:   from,
		origin: from,
		block:  l.block.Add(1),
		time:   l.now.Load(),
		undo:   new([]func()),
		logs:   new([]Log),
	}

	if err := fn(tx); err != nil {
		tx.rollback(0, 0)
		return nil, err
	}

	return &Receipt{
		Block: tx.block,
		Time:  tx.time,
		From:  from,
		Logs:  *tx.logs,
	}, nil
}

// Account derives a deterministic externally-owned address from a label.
func Account(label string) common.Address {
	return common.BytesToAddress(crypto.Keccak256([]byte(label)))
}
