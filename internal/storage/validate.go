package storage

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"vault-factory-lab/internal/domain"
)

// ValidateDeployment checks the fields every backend requires.
func ValidateDeployment(r *domain.DeploymentRecord) error {
	switch {
	case r == nil:
		return fmt.Errorf("%w: nil deployment", ErrInvalidInput)
	case r.DeploymentID == "":
		return fmt.Errorf("%w: empty deployment_id", ErrInvalidInput)
	case r.Vault == (common.Address{}):
		return fmt.Errorf("%w: zero vault", ErrInvalidInput)
	case r.Path != domain.PathStandard && r.Path != domain.PathPermissioned:
		return fmt.Errorf("%w: unknown path %q", ErrInvalidInput, r.Path)
	}
	return nil
}

// ValidateHarvest checks the fields every backend requires.
func ValidateHarvest(o *domain.HarvestOutcome) error {
	switch {
	case o == nil:
		return fmt.Errorf("%w: nil outcome", ErrInvalidInput)
	case o.OutcomeID == "":
		return fmt.Errorf("%w: empty outcome_id", ErrInvalidInput)
	case o.Profit == nil || o.Loss == nil || o.DebtPayment == nil || o.DebtOutstanding == nil:
		return fmt.Errorf("%w: outcome %s missing amounts", ErrInvalidInput, o.OutcomeID)
	}
	return nil
}
