package clickhouse

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"

	"vault-factory-lab/internal/domain"
	"vault-factory-lab/internal/storage"
)

// HarvestStore implements storage.HarvestStore using ClickHouse.
type HarvestStore struct {
	conn *Conn
}

// NewHarvestStore creates a new HarvestStore.
func NewHarvestStore(conn *Conn) *HarvestStore {
	return &HarvestStore{conn: conn}
}

// Compile-time interface check.
var _ storage.HarvestStore = (*HarvestStore)(nil)

const harvestColumns = `
	outcome_id, vault, strategy, kind, block, block_time,
	profit, loss, debt_payment, debt_outstanding, profit_units, loss_units,
	pre_sync_error, swept, donated
`

// Insert adds a new outcome. Returns ErrDuplicateKey if outcome_id exists.
func (s *HarvestStore) Insert(ctx context.Context, o *domain.HarvestOutcome) error {
	return s.InsertBulk(ctx, []*domain.HarvestOutcome{o})
}

// InsertBulk adds multiple outcomes. Fails entire batch on any duplicate,
// checked against the batch itself and the rows already stored.
func (s *HarvestStore) InsertBulk(ctx context.Context, outcomes []*domain.HarvestOutcome) error {
	if len(outcomes) == 0 {
		return nil
	}

	seen := make(map[string]struct{}, len(outcomes))
	for _, o := range outcomes {
		if err := storage.ValidateHarvest(o); err != nil {
			return err
		}
		if _, exists := seen[o.OutcomeID]; exists {
			return storage.ErrDuplicateKey
		}
		seen[o.OutcomeID] = struct{}{}
	}

	for _, o := range outcomes {
		exists, err := s.exists(ctx, o.OutcomeID)
		if err != nil {
			return fmt.Errorf("check exists: %w", err)
		}
		if exists {
			return storage.ErrDuplicateKey
		}
	}

	batch, err := s.conn.PrepareBatch(ctx, `INSERT INTO harvest_outcomes (`+harvestColumns+`)`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, o := range outcomes {
		var donated *big.Int
		if o.Donated != nil {
			donated = o.Donated.ToBig()
		}
		err = batch.Append(
			o.OutcomeID, o.Vault.Hex(), o.Strategy.Hex(), o.Kind, o.Block, o.Timestamp,
			o.Profit.ToBig(), o.Loss.ToBig(), o.DebtPayment.ToBig(), o.DebtOutstanding.ToBig(),
			o.ProfitUnits, o.LossUnits,
			o.PreSyncError, o.Swept, donated,
		)
		if err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}
	return nil
}

// GetByStrategy retrieves all outcomes for a strategy, ordered by block ASC.
func (s *HarvestStore) GetByStrategy(ctx context.Context, strategy common.Address) ([]*domain.HarvestOutcome, error) {
	query := `
		SELECT ` + harvestColumns + `
		FROM harvest_outcomes FINAL
		WHERE strategy = ?
		ORDER BY block ASC, outcome_id ASC
	`

	rows, err := s.conn.Query(ctx, query, strategy.Hex())
	if err != nil {
		return nil, fmt.Errorf("query by strategy: %w", err)
	}
	defer rows.Close()

	return scanHarvests(rows)
}

// List retrieves all outcomes, ordered by block ASC then outcome_id.
func (s *HarvestStore) List(ctx context.Context) ([]*domain.HarvestOutcome, error) {
	query := `
		SELECT ` + harvestColumns + `
		FROM harvest_outcomes FINAL
		ORDER BY block ASC, outcome_id ASC
	`

	rows, err := s.conn.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query all: %w", err)
	}
	defer rows.Close()

	return scanHarvests(rows)
}

func (s *HarvestStore) exists(ctx context.Context, outcomeID string) (bool, error) {
	var count uint64
	err := s.conn.QueryRow(ctx,
		`SELECT count(*) FROM harvest_outcomes WHERE outcome_id = ?`, outcomeID,
	).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func scanHarvests(rows driver.Rows) ([]*domain.HarvestOutcome, error) {
	var result []*domain.HarvestOutcome
	for rows.Next() {
		var o domain.HarvestOutcome
		var vault, strategy string
		var profit, loss, debtPayment, outstanding big.Int
		var profitUnits, lossUnits decimal.Decimal
		var donated *big.Int
		err := rows.Scan(
			&o.OutcomeID, &vault, &strategy, &o.Kind, &o.Block, &o.Timestamp,
			&profit, &loss, &debtPayment, &outstanding, &profitUnits, &lossUnits,
			&o.PreSyncError, &o.Swept, &donated,
		)
		if err != nil {
			return nil, fmt.Errorf("scan harvest outcome: %w", err)
		}

		o.Vault = common.HexToAddress(vault)
		o.Strategy = common.HexToAddress(strategy)
		o.ProfitUnits = profitUnits
		o.LossUnits = lossUnits
		if o.Profit, err = amountFromBig(&profit); err != nil {
			return nil, fmt.Errorf("parse profit: %w", err)
		}
		if o.Loss, err = amountFromBig(&loss); err != nil {
			return nil, fmt.Errorf("parse loss: %w", err)
		}
		if o.DebtPayment, err = amountFromBig(&debtPayment); err != nil {
			return nil, fmt.Errorf("parse debt payment: %w", err)
		}
		if o.DebtOutstanding, err = amountFromBig(&outstanding); err != nil {
			return nil, fmt.Errorf("parse debt outstanding: %w", err)
		}
		if donated != nil {
			if o.Donated, err = amountFromBig(donated); err != nil {
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

// amountFromBig rejects values a UInt256 column should never hold.
func amountFromBig(b *big.Int) (*uint256.Int, error) {
	if b.Sign() < 0 {
		return nil, fmt.Errorf("negative amount %s", b)
	}
	v, overflow := uint256.FromBig(b)
	if overflow {
		return nil, fmt.Errorf("amount %s overflows 256 bits", b)
	}
	return v, nil
}
