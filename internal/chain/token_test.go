package chain

import (
	"context"
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func deployTestToken(t *testing.T, l *Ledger) *Token {
	t.Helper()
	var tok *Token
	_, err := l.Transact(context.Background(), Account("deployer"), func(tx *Tx) error {
		tok = DeployToken(tx, "Curve LP", "crvLP", 18)
		return tok.Mint(tx, Account("whale"), Units(100, 18))
	})
	require.NoError(t, err)
	return tok
}

func TestTokenTransfer(t *testing.T) {
	l := NewLedger(genesis)
	tok := deployTestToken(t, l)
	whale, bob := Account("whale"), Account("bob")

	receipt, err := l.Transact(context.Background(), whale, func(tx *Tx) error {
		return tok.Transfer(tx, bob, Units(40, 18))
	})
	require.NoError(t, err)

	assert.Equal(t, Units(60, 18), tok.BalanceOf(whale))
	assert.Equal(t, Units(40, 18), tok.BalanceOf(bob))

	ev, ok := FindEvent[Transfer](receipt)
	require.True(t, ok)
	assert.Equal(t, bob, ev.To)
}

func TestTokenTransferInsufficientBalance(t *testing.T) {
	l := NewLedger(genesis)
	tok := deployTestToken(t, l)

	_, err := l.Transact(context.Background(), Account("bob"), func(tx *Tx) error {
		return tok.Transfer(tx, Account("whale"), uint256.NewInt(1))
	})
	require.ErrorIs(t, err, ErrInsufficientBalance)
}

func TestTokenTransferFromAllowance(t *testing.T) {
	l := NewLedger(genesis)
	tok := deployTestToken(t, l)
	whale, vault := Account("whale"), Account("vault")
	ctx := context.Background()

	_, err := l.Transact(ctx, whale, func(tx *Tx) error {
		return tok.Approve(tx, vault, Units(10, 18))
	})
	require.NoError(t, err)

	_, err = l.Transact(ctx, vault, func(tx *Tx) error {
		return tok.TransferFrom(tx, whale, vault, Units(11, 18))
	})
	require.ErrorIs(t, err, ErrInsufficientAllowance)

	_, err = l.Transact(ctx, vault, func(tx *Tx) error {
		return tok.TransferFrom(tx, whale, vault, Units(4, 18))
	})
	require.NoError(t, err)
	assert.Equal(t, Units(6, 18), tok.Allowance(whale, vault))

	_, err = l.Transact(ctx, whale, func(tx *Tx) error {
		return tok.Approve(tx, vault, MaxUint())
	})
	require.NoError(t, err)
	_, err = l.Transact(ctx, vault, func(tx *Tx) error {
		return tok.TransferFrom(tx, whale, vault, Units(50, 18))
	})
	require.NoError(t, err)
	assert.True(t, IsMax(tok.Allowance(whale, vault)))
}

func TestTokenMintRequiresMinter(t *testing.T) {
	l := NewLedger(genesis)
	tok := deployTestToken(t, l)

	_, err := l.Transact(context.Background(), Account("rando"), func(tx *Tx) error {
		return tok.Mint(tx, Account("rando"), uint256.NewInt(1))
	})
	require.ErrorIs(t, err, ErrUnauthorized)
	assert.Equal(t, Units(100, 18), tok.TotalSupply())
}

func TestToDecimal(t *testing.T) {
	d := ToDecimal(Units(3, 6), 6)
	assert.Equal(t, "3", d.String())
	assert.Equal(t, "0.000001", ToDecimal(uint256.NewInt(1), 6).String())
}
