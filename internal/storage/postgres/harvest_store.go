package postgres

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"vault-factory-lab/internal/domain"
	"vault-factory-lab/internal/storage"
)

// HarvestStore implements storage.HarvestStore using PostgreSQL. Amounts are
// NUMERIC(78,0) columns exchanged as decimal strings.
type HarvestStore struct {
	pool *Pool
}

// NewHarvestStore creates a new HarvestStore.
func NewHarvestStore(pool *Pool) *HarvestStore {
	return &HarvestStore{pool: pool}
}

// Compile-time interface check.
var _ storage.HarvestStore = (*HarvestStore)(nil)

const insertHarvestQuery = `
	INSERT INTO harvest_outcomes (
		outcome_id, vault, strategy, kind, block, block_time,
		profit, loss, debt_payment, debt_outstanding, profit_units, loss_units,
		pre_sync_error, swept, donated
	) VALUES (
		$1, $2, $3, $4, $5, $6,
		$7::numeric, $8::numeric, $9::numeric, $10::numeric, $11::numeric, $12::numeric,
		$13, $14, $15::numeric
	)
`

const selectHarvestColumns = `
	outcome_id, vault, strategy, kind, block, block_time,
	profit::text, loss::text, debt_payment::text, debt_outstanding::text,
	profit_units::text, loss_units::text,
	pre_sync_error, swept, donated::text
`

// Insert adds a new outcome. Returns ErrDuplicateKey if outcome_id exists.
func (s *HarvestStore) Insert(ctx context.Context, o *domain.HarvestOutcome) error {
	if err := storage.ValidateHarvest(o); err != nil {
		return err
	}

	_, err := s.pool.Exec(ctx, insertHarvestQuery, harvestArgs(o)...)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert harvest outcome: %w", err)
	}
	return nil
}

// InsertBulk adds multiple outcomes atomically. Fails entire batch on any duplicate.
func (s *HarvestStore) InsertBulk(ctx context.Context, outcomes []*domain.HarvestOutcome) error {
	if len(outcomes) == 0 {
		return nil
	}
	for _, o := range outcomes {
		if err := storage.ValidateHarvest(o); err != nil {
			return err
		}
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, o := range outcomes {
		if _, err := tx.Exec(ctx, insertHarvestQuery, harvestArgs(o)...); err != nil {
			if isDuplicateKeyError(err) {
				return storage.ErrDuplicateKey
			}
			return fmt.Errorf("insert harvest outcome %s: %w", o.OutcomeID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// GetByStrategy retrieves all outcomes for a strategy, ordered by block ASC.
func (s *HarvestStore) GetByStrategy(ctx context.Context, strategy common.Address) ([]*domain.HarvestOutcome, error) {
	query := `
		SELECT ` + selectHarvestColumns + `
		FROM harvest_outcomes
		WHERE strategy = $1
		ORDER BY block ASC, outcome_id ASC
	`

	rows, err := s.pool.Query(ctx, query, strategy.Hex())
	if err != nil {
		return nil, fmt.Errorf("get harvest outcomes by strategy: %w", err)
	}
	defer rows.Close()

	return scanHarvests(rows)
}

// List retrieves all outcomes, ordered by block ASC then outcome_id.
func (s *HarvestStore) List(ctx context.Context) ([]*domain.HarvestOutcome, error) {
	query := `
		SELECT ` + selectHarvestColumns + `
		FROM harvest_outcomes
		ORDER BY block ASC, outcome_id ASC
	`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list harvest outcomes: %w", err)
	}
	defer rows.Close()

	return scanHarvests(rows)
}

func harvestArgs(o *domain.HarvestOutcome) []any {
	var donated *string
	if o.Donated != nil {
		d := o.Donated.Dec()
		donated = &d
	}
	return []any{
		o.OutcomeID,
		o.Vault.Hex(),
		o.Strategy.Hex(),
		o.Kind,
		int64(o.Block),
		o.Timestamp,
		o.Profit.Dec(),
		o.Loss.Dec(),
		o.DebtPayment.Dec(),
		o.DebtOutstanding.Dec(),
		o.ProfitUnits.String(),
		o.LossUnits.String(),
		o.PreSyncError,
		o.Swept,
		donated,
	}
}

func scanHarvests(rows pgx.Rows) ([]*domain.HarvestOutcome, error) {
	var result []*domain.HarvestOutcome
	for rows.Next() {
		var o domain.HarvestOutcome
		var vault, strategy string
		var block int64
		var profit, loss, debtPayment, debtOutstanding, profitUnits, lossUnits string
		var donated *string

		err := rows.Scan(
			&o.OutcomeID,
			&vault,
			&strategy,
			&o.Kind,
			&block,
			&o.Timestamp,
			&profit,
			&loss,
			&debtPayment,
			&debtOutstanding,
			&profitUnits,
			&lossUnits,
			&o.PreSyncError,
			&o.Swept,
			&donated,
		)
		if err != nil {
			return nil, fmt.Errorf("scan harvest outcome: %w", err)
		}

		o.Vault = common.HexToAddress(vault)
		o.Strategy = common.HexToAddress(strategy)
		o.Block = uint64(block)
		if o.Profit, err = uint256.FromDecimal(profit); err != nil {
			return nil, fmt.Errorf("parse profit: %w", err)
		}
		if o.Loss, err = uint256.FromDecimal(loss); err != nil {
			return nil, fmt.Errorf("parse loss: %w", err)
		}
		if o.DebtPayment, err = uint256.FromDecimal(debtPayment); err != nil {
			return nil, fmt.Errorf("parse debt payment: %w", err)
		}
		if o.DebtOutstanding, err = uint256.FromDecimal(debtOutstanding); err != nil {
			return nil, fmt.Errorf("parse debt outstanding: %w", err)
		}
		if o.ProfitUnits, err = decimal.NewFromString(profitUnits); err != nil {
			return nil, fmt.Errorf("parse profit units: %w", err)
		}
		if o.LossUnits, err = decimal.NewFromString(lossUnits); err != nil {
			return nil, fmt.Errorf("parse loss units: %w", err)
		}
		if donated != nil {
			if o.Donated, err = uint256.FromDecimal(*donated); err != nil {
				return nil, fmt.Errorf("parse donated: %w", err)
			}
		}

		result = append(result, &o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate harvest outcomes: %w", err)
	}
	return result, nil
}
