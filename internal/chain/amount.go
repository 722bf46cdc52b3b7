package chain

import (
	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
)

// MaxUint returns a fresh 2^256-1.
func MaxUint() *uint256.Int {
	return new(uint256.Int).SetAllOne()
}

// IsMax reports whether v is 2^256-1.
func IsMax(v *uint256.Int) bool {
	return v != nil && v.Eq(MaxUint())
}

// Units returns n whole tokens expressed in the smallest unit of a token
// with the given decimals.
func Units(n uint64, decimals uint8) *uint256.Int {
	scale := new(uint256.Int).Exp(uint256.NewInt(10), uint256.NewInt(uint64(decimals)))
	return new(uint256.Int).Mul(uint256.NewInt(n), scale)
}

// Zero returns a fresh zero amount.
func Zero() *uint256.Int {
	return new(uint256.Int)
}

// Min returns a copy of the smaller of a and b.
func Min(a, b *uint256.Int) *uint256.Int {
	if a.Lt(b) {
		return a.Clone()
	}
	return b.Clone()
}

// SubFloor returns a-b, or zero when b > a.
func SubFloor(a, b *uint256.Int) *uint256.Int {
	if b.Gt(a) {
		return Zero()
	}
	return new(uint256.Int).Sub(a, b)
}

// MulDiv returns a*b/d, computed at 512-bit precision.
func MulDiv(a, b, d *uint256.Int) *uint256.Int {
	if d.IsZero() {
		return Zero()
	}
	z, _ := new(uint256.Int).MulDivOverflow(a, b, d)
	return z
}

// ToDecimal renders an on-ledger amount in whole-token units. It is used for
// reporting only; accounting stays in smallest units.
func ToDecimal(amount *uint256.Int, decimals uint8) decimal.Decimal {
	if amount == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(amount.ToBig(), -int32(decimals))
}
