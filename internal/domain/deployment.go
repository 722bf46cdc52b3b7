package domain

import "github.com/ethereum/go-ethereum/common"

// DeploymentPath is the factory entry point a vault was created through.
type DeploymentPath string

// Deployment paths
const (
	PathStandard     DeploymentPath = "STANDARD"
	PathPermissioned DeploymentPath = "PERMISSIONED"
)

// DeploymentRecord describes one vault deployed by a factory together with
// its strategy legs. A skipped leg is the zero address.
// Corresponds to deployments table in PostgreSQL.
type DeploymentRecord struct {
	DeploymentID   string         // PRIMARY KEY, deterministic hash
	Factory        common.Address // deploying factory
	Vault          common.Address // new vault
	ConvexStrategy common.Address // primary leg (zero if skipped)
	CurveStrategy  common.Address // secondary leg (zero if skipped)
	Gauge          common.Address // source gauge
	LPToken        common.Address // vault want
	Pid            *uint64        // booster pool id (nullable)
	Path           DeploymentPath // STANDARD | PERMISSIONED
	Custom         bool           // experimental vault, not indexed
	Name           string         // vault name
	Symbol         string         // vault symbol
	Block          uint64         // block the deployment was mined in
	Timestamp      int64          // block timestamp (unix seconds)
}

// Legs returns the non-zero strategy addresses in withdrawal-queue order.
func (r *DeploymentRecord) Legs() []common.Address {
	var legs []common.Address
	for _, s := range []common.Address{r.ConvexStrategy, r.CurveStrategy} {
		if s != (common.Address{}) {
			legs = append(legs, s)
		}
	}
	return legs
}
