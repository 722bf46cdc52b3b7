package chain

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Tx is the execution context of one unit of work. Nested calls made on
// behalf of another sender share the journal through As.
type Tx struct {
	ctx    context.Context
	ledger *Ledger

	from   common.Address
	origin common.Address
	block  uint64
	time   uint64

	undo *[]func()
	logs *[]Log
}

// Context returns the context the unit of work was started with.
func (tx *Tx) Context() context.Context { return tx.ctx }

// From is the immediate caller (msg.sender).
func (tx *Tx) From() common.Address { return tx.from }

// Origin is the account that started the unit of work.
func (tx *Tx) Origin() common.Address { return tx.origin }

// Block is the number of the block the unit of work is mined in.
func (tx *Tx) Block() uint64 { return tx.block }

// Time is the block timestamp in unix seconds.
func (tx *Tx) Time() uint64 { return tx.time }

// Ledger returns the ledger the unit of work runs against.
func (tx *Tx) Ledger() *Ledger { return tx.ledger }

// As returns a view of the same unit of work with sender as the immediate
// caller. Contracts use it when they call into other contracts.
func (tx *Tx) As(sender common.Address) *Tx {
	nested := *tx
	nested.from = sender
	return &nested
}

// OnRevert registers an undo step run if the unit of work fails.
func (tx *Tx) OnRevert(undo func()) {
	*tx.undo = append(*tx.undo, undo)
}

// Emit appends an event emitted by addr. Events of failed units are dropped.
func (tx *Tx) Emit(addr common.Address, ev Event) {
	*tx.logs = append(*tx.logs, Log{Address: addr, Index: len(*tx.logs), Event: ev})
}

// Try runs fn and, if it fails, undoes only what fn wrote. The outer unit
// of work continues.
func (tx *Tx) Try(fn func(tx *Tx) error) error {
	undoMark, logMark := len(*tx.undo), len(*tx.logs)
	if err := fn(tx); err != nil {
		tx.rollback(undoMark, logMark)
		return err
	}
	return nil
}

// Create reserves the next contract address of the current sender.
func (tx *Tx) Create() common.Address {
	nonce := tx.ledger.nonces[tx.from]
	addr := crypto.CreateAddress(tx.from, nonce)
	SetMap(tx, tx.ledger.nonces, tx.from, nonce+1)
	return addr
}

// Register makes c reachable at addr.
func (tx *Tx) Register(addr common.Address, c any) {
	SetMap(tx, tx.ledger.contracts, addr, c)
}

// Contract returns the contract at addr.
func (tx *Tx) Contract(addr common.Address) (any, bool) {
	return tx.ledger.Contract(addr)
}

func (tx *Tx) rollback(undoMark, logMark int) {
	undo := *tx.undo
	for i := len(undo) - 1; i >= undoMark; i-- {
		undo[i]()
	}
	*tx.undo = undo[:undoMark]
	*tx.logs = (*tx.logs)[:logMark]
}

// Set writes v into *p and journals the previous value.
func Set[T any](tx *Tx, p *T, v T) {
	old := *p
	*p = v
	tx.OnRevert(func() { *p = old })
}

// SetMap writes m[k] = v and journals the previous entry, including its
// absence.
func SetMap[K comparable, V any](tx *Tx, m map[K]V, k K, v V) {
	old, existed := m[k]
	m[k] = v
	tx.OnRevert(func() {
		if existed {
			m[k] = old
		} else {
			delete(m, k)
		}
	})
}

// Append appends v to *s and journals the previous length.
func Append[T any](tx *Tx, s *[]T, v T) {
	n := len(*s)
	*s = append(*s, v)
	tx.OnRevert(func() { *s = (*s)[:n] })
}
