package chain

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

var (
	ErrInsufficientBalance   = errors.New("insufficient balance")
	ErrInsufficientAllowance = errors.New("insufficient allowance")
)

// Transfer is emitted for every balance move, including mints.
type Transfer struct {
	From  common.Address
	To    common.Address
	Value *uint256.Int
}

func (Transfer) EventName() string { return "Transfer" }

type allowanceKey struct {
	owner   common.Address
	spender common.Address
}

// Token is a minimal fungible token. Balances are replaced, never mutated in
// place, so the journal can restore them.
type Token struct {
	address  common.Address
	name     string
	symbol   string
	decimals uint8

	owner      common.Address
	minters    map[common.Address]bool
	balances   map[common.Address]*uint256.Int
	allowances map[allowanceKey]*uint256.Int
	supply     *uint256.Int
}

// DeployToken creates a token owned by the sender of tx. The owner may mint.
func DeployToken(tx *Tx, name, symbol string, decimals uint8) *Token {
	t := &Token{
		address:    tx.Create(),
		name:       name,
		symbol:     symbol,
		decimals:   decimals,
		owner:      tx.From(),
		minters:    map[common.Address]bool{tx.From(): true},
		balances:   make(map[common.Address]*uint256.Int),
		allowances: make(map[allowanceKey]*uint256.Int),
		supply:     Zero(),
	}
	tx.Register(t.address, t)
	return t
}

func (t *Token) Address() common.Address { return t.address }
func (t *Token) Name() string            { return t.name }
func (t *Token) Symbol() string          { return t.symbol }
func (t *Token) Decimals() uint8         { return t.decimals }
func (t *Token) TotalSupply() *uint256.Int {
	return t.supply.Clone()
}

// BalanceOf returns a copy of the balance of account.
func (t *Token) BalanceOf(account common.Address) *uint256.Int {
	if b, ok := t.balances[account]; ok {
		return b.Clone()
	}
	return Zero()
}

// Allowance returns what spender may still move on behalf of owner.
func (t *Token) Allowance(owner, spender common.Address) *uint256.Int {
	if a, ok := t.allowances[allowanceKey{owner, spender}]; ok {
		return a.Clone()
	}
	return Zero()
}

// Transfer moves amount from the caller to to.
func (t *Token) Transfer(tx *Tx, to common.Address, amount *uint256.Int) error {
	return t.move(tx, tx.From(), to, amount)
}

// TransferFrom moves amount from from to to using the caller's allowance.
// A maximal allowance is never decremented.
func (t *Token) TransferFrom(tx *Tx, from, to common.Address, amount *uint256.Int) error {
	key := allowanceKey{from, tx.From()}
	allowed := t.Allowance(from, tx.From())
	if !IsMax(allowed) {
		if allowed.Lt(amount) {
			return fmt.Errorf("%s transferFrom: %w", t.symbol, ErrInsufficientAllowance)
		}
		SetMap(tx, t.allowances, key, new(uint256.Int).Sub(allowed, amount))
	}
	return t.move(tx, from, to, amount)
}

// Approve sets the caller's allowance for spender.
func (t *Token) Approve(tx *Tx, spender common.Address, amount *uint256.Int) error {
	SetMap(tx, t.allowances, allowanceKey{tx.From(), spender}, amount.Clone())
	return nil
}

// Mint creates amount for to. Only minters may call it.
func (t *Token) Mint(tx *Tx, to common.Address, amount *uint256.Int) error {
	if !t.minters[tx.From()] {
		return fmt.Errorf("%s mint: %w", t.symbol, ErrUnauthorized)
	}
	Set(tx, &t.supply, new(uint256.Int).Add(t.supply, amount))
	SetMap(tx, t.balances, to, new(uint256.Int).Add(t.BalanceOf(to), amount))
	tx.Emit(t.address, Transfer{From: common.Address{}, To: to, Value: amount.Clone()})
	return nil
}

// SetMinter grants or revokes minting. Only the owner may call it.
func (t *Token) SetMinter(tx *Tx, minter common.Address, allowed bool) error {
	if tx.From() != t.owner {
		return fmt.Errorf("%s setMinter: %w", t.symbol, ErrUnauthorized)
	}
	SetMap(tx, t.minters, minter, allowed)
	return nil
}

func (t *Token) move(tx *Tx, from, to common.Address, amount *uint256.Int) error {
	bal := t.BalanceOf(from)
	if bal.Lt(amount) {
		return fmt.Errorf("%s transfer %s from %s: %w", t.symbol, amount.Dec(), from.Hex(), ErrInsufficientBalance)
	}
	if from == to || amount.IsZero() {
		tx.Emit(t.address, Transfer{From: from, To: to, Value: amount.Clone()})
		return nil
	}
	SetMap(tx, t.balances, from, new(uint256.Int).Sub(bal, amount))
	SetMap(tx, t.balances, to, new(uint256.Int).Add(t.BalanceOf(to), amount))
	tx.Emit(t.address, Transfer{From: from, To: to, Value: amount.Clone()})
	return nil
}
