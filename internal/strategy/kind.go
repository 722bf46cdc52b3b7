package strategy

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Kind tags a strategy family. The factory wires at most one strategy of
// each kind per vault.
type Kind int

const (
	KindUnknown Kind = iota
	// KindConvex stakes through the booster. It is the primary leg.
	KindConvex
	// KindCurve stakes through the shared voter proxy. It is the secondary
	// leg.
	KindCurve
)

// Kinds lists the deployable kinds in withdrawal-queue order.
var Kinds = []Kind{KindConvex, KindCurve}

func (k Kind) String() string {
	switch k {
	case KindConvex:
		return "convex"
	case KindCurve:
		return "curve"
	default:
		return "unknown"
	}
}

// ParseKind is the inverse of String.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "convex":
		return KindConvex, nil
	case "curve":
		return KindCurve, nil
	default:
		return KindUnknown, fmt.Errorf("%w: %q", ErrUnknownKind, s)
	}
}

// InitParams is the kind-specific half of a strategy initializer.
type InitParams interface {
	Kind() Kind
}

// ConvexParams initializes a KindConvex strategy.
type ConvexParams struct {
	Pid                    uint64
	HarvestProfitMinInUsdc *uint256.Int
	HarvestProfitMaxInUsdc *uint256.Int
	Booster                common.Address
	ConvexToken            common.Address
}

func (ConvexParams) Kind() Kind { return KindConvex }

// CurveParams initializes a KindCurve strategy.
type CurveParams struct {
	Proxy                  common.Address
	Gauge                  common.Address
	HarvestProfitMinInUsdc *uint256.Int
	HarvestProfitMaxInUsdc *uint256.Int
}

func (CurveParams) Kind() Kind { return KindCurve }

// Init carries the roles shared by every kind plus the kind's params.
type Init struct {
	Vault        common.Address
	Strategist   common.Address
	Rewards      common.Address
	Keeper       common.Address
	TradeFactory common.Address
	Params       InitParams
}
