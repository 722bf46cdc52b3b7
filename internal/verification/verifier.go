// Package verification checks that deployed vaults and strategies carry the
// factory parameters they were created from. A deployment verifies when
// every field read back from the ledger equals the value derived from the
// parameter snapshot.
package verification

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"vault-factory-lab/internal/domain"
	"vault-factory-lab/internal/factory"
)

// FieldDivergence represents a mismatch between the expected and the
// on-ledger value of one field.
type FieldDivergence struct {
	Field    string // dotted path, e.g. "convex.keeper"
	Expected any    // derived from the parameter snapshot
	Actual   any    // read from the ledger
}

func (d FieldDivergence) String() string {
	return fmt.Sprintf("%s: expected %v, got %v", d.Field, d.Expected, d.Actual)
}

// VerificationResult contains the result of verifying a single deployment.
type VerificationResult struct {
	DeploymentID string
	Vault        common.Address
	Match        bool              // true if all fields match
	Checked      int               // number of fields compared
	Divergences  []FieldDivergence // list of divergent fields
}

// VerificationReport contains results for batch verification.
type VerificationReport struct {
	TotalDeployments     int
	MatchedDeployments   int
	DivergentDeployments int
	Results              []VerificationResult
}

// Verifier verifies deployments against factory parameters.
type Verifier interface {
	// VerifyDeployment compares one deployment with the parameters it was
	// created from.
	VerifyDeployment(ctx context.Context, rec *domain.DeploymentRecord, p factory.Params) (*VerificationResult, error)

	// VerifyAll verifies every stored deployment against p.
	VerifyAll(ctx context.Context, p factory.Params) (*VerificationReport, error)
}

// comparison accumulates divergences field by field.
type comparison struct {
	checked     int
	divergences []FieldDivergence
}

func (c *comparison) add(field string, expected, actual any) {
	c.divergences = append(c.divergences, FieldDivergence{
		Field:    field,
		Expected: expected,
		Actual:   actual,
	})
}

func (c *comparison) address(field string, expected, actual common.Address) {
	c.checked++
	if expected != actual {
		c.add(field, expected.Hex(), actual.Hex())
	}
}

func (c *comparison) bps(field string, expected, actual uint64) {
	c.checked++
	if expected != actual {
		c.add(field, expected, actual)
	}
}

func (c *comparison) text(field, expected, actual string) {
	c.checked++
	if expected != actual {
		c.add(field, expected, actual)
	}
}

func (c *comparison) flag(field string, expected, actual bool) {
	c.checked++
	if expected != actual {
		c.add(field, expected, actual)
	}
}

func (c *comparison) amount(field string, expected, actual *uint256.Int) {
	c.checked++
	if !amountEquals(expected, actual) {
		c.add(field, amountString(expected), amountString(actual))
	}
}

// amountEquals treats nil as zero.
func amountEquals(a, b *uint256.Int) bool {
	if a == nil {
		a = new(uint256.Int)
	}
	if b == nil {
		b = new(uint256.Int)
	}
	return a.Eq(b)
}

func amountString(a *uint256.Int) string {
	if a == nil {
		return "0"
	}
	return a.Dec()
}
