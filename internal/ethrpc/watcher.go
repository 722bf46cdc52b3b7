package ethrpc

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"vault-factory-lab/internal/domain"
	"vault-factory-lab/internal/idhash"
	"vault-factory-lab/internal/logging"
	"vault-factory-lab/internal/observability"
	"vault-factory-lab/internal/storage"
)

// ErrNotDeploymentLog is returned when a log is not a NewAutomatedVault
// event.
var ErrNotDeploymentLog = errors.New("not a NewAutomatedVault log")

// Event category of standard deployments; everything else was deployed
// through the permissioned entry point.
const CategoryStandard = 0

// LogSubscriber streams logs matching a filter.
type LogSubscriber interface {
	SubscribeLogs(ctx context.Context, filter LogFilter) (<-chan Log, error)
}

// Watcher follows NewAutomatedVault events of one factory and stores them
// as deployment records.
type Watcher struct {
	sub     LogSubscriber
	factory *FactoryClient
	store   storage.DeploymentStore
	log     *logging.Logger
	metrics *observability.Metrics
}

// WatcherOptions configures a Watcher.
type WatcherOptions struct {
	Subscriber LogSubscriber
	// Factory is the watched factory. Its client serves backfill and
	// record enrichment.
	Factory *FactoryClient
	Store   storage.DeploymentStore
	Logger  *logging.Logger
	Metrics *observability.Metrics
}

// NewWatcher creates a Watcher.
func NewWatcher(opts WatcherOptions) *Watcher {
	log := opts.Logger
	if log == nil {
		log = logging.NewNop()
	}
	return &Watcher{
		sub:     opts.Subscriber,
		factory: opts.Factory,
		store:   opts.Store,
		log:     log.Named("watcher"),
		metrics: observability.Or(opts.Metrics),
	}
}

// Filter selects NewAutomatedVault logs emitted by the factory.
func (w *Watcher) Filter() LogFilter {
	return LogFilter{
		Addresses: []common.Address{w.factory.Address()},
		Topics:    [][]common.Hash{{NewAutomatedVaultTopic}},
	}
}

// Backfill stores the deployments mined in [from, to] and returns how many
// were new.
func (w *Watcher) Backfill(ctx context.Context, from, to uint64) (int, error) {
	f := w.Filter()
	f.FromBlock, f.ToBlock = &from, &to
	logs, err := w.factory.client.GetLogs(ctx, f)
	if err != nil {
		return 0, fmt.Errorf("backfill logs: %w", err)
	}

	stored := 0
	for _, l := range logs {
		ok, err := w.handle(ctx, l)
		if err != nil {
			return stored, err
		}
		if ok {
			stored++
		}
	}
	w.log.Info("backfill completed", zap.Uint64("from", from), zap.Uint64("to", to), zap.Int("stored", stored))
	return stored, nil
}

// Run stores deployments as they are mined until ctx is done or the
// subscription ends. Malformed logs are logged and skipped; store failures
// end the run.
func (w *Watcher) Run(ctx context.Context) error {
	logs, err := w.sub.SubscribeLogs(ctx, w.Filter())
	if err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	w.log.Info("watching factory", zap.String("factory", w.factory.Address().Hex()))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case l, ok := <-logs:
			if !ok {
				return nil
			}
			if _, err := w.handle(ctx, l); err != nil {
				return err
			}
		}
	}
}

// handle stores one log and reports whether it was new.
func (w *Watcher) handle(ctx context.Context, l Log) (bool, error) {
	if l.Removed {
		w.log.Warn("deployment log removed by reorg", zap.String("tx", l.TxHash.Hex()))
		return false, nil
	}
	rec, err := DecodeNewAutomatedVault(l)
	if err != nil {
		w.log.Warn("skipping log", zap.String("tx", l.TxHash.Hex()), zap.Error(err))
		return false, nil
	}
	w.enrich(ctx, &rec)

	if err := w.store.Insert(ctx, &rec); err != nil {
		if errors.Is(err, storage.ErrDuplicateKey) {
			w.log.Debug("deployment already stored", zap.String("vault", rec.Vault.Hex()))
			return false, nil
		}
		return false, fmt.Errorf("store deployment %s: %w", rec.Vault.Hex(), err)
	}
	w.metrics.RecordDeployment(string(rec.Path), nil)
	w.log.Info("deployment stored",
		zap.String("vault", rec.Vault.Hex()),
		zap.String("gauge", rec.Gauge.Hex()),
		zap.String("path", string(rec.Path)),
		zap.Uint64("block", rec.Block))
	return true, nil
}

// enrich fills what the event does not carry. Failures leave the fields
// empty.
func (w *Watcher) enrich(ctx context.Context, rec *domain.DeploymentRecord) {
	if name, symbol, err := w.factory.VaultMetadata(ctx, rec.Vault); err == nil {
		rec.Name, rec.Symbol = name, symbol
	} else {
		w.log.Debug("vault metadata unavailable", zap.Error(err))
	}
	if rec.ConvexStrategy == (common.Address{}) {
		return
	}
	if pid, err := w.factory.GetPid(ctx, rec.Gauge); err == nil && pid.IsUint64() {
		p := pid.Uint64()
		rec.Pid = &p
	}
}

// DecodeNewAutomatedVault turns a NewAutomatedVault log into a deployment
// record. Name, symbol, pid and timestamp are not part of the event.
func DecodeNewAutomatedVault(l Log) (domain.DeploymentRecord, error) {
	if len(l.Topics) != 4 || l.Topics[0] != NewAutomatedVaultTopic {
		return domain.DeploymentRecord{}, ErrNotDeploymentLog
	}
	values, err := factoryABI.Unpack("NewAutomatedVault", l.Data)
	if err != nil {
		return domain.DeploymentRecord{}, fmt.Errorf("unpack NewAutomatedVault: %w", err)
	}
	if len(values) != 3 {
		return domain.DeploymentRecord{}, fmt.Errorf("NewAutomatedVault data: %w", ErrUnexpectedOutput)
	}
	gauge, ok1 := values[0].(common.Address)
	convex, ok2 := values[1].(common.Address)
	curve, ok3 := values[2].(common.Address)
	if !ok1 || !ok2 || !ok3 {
		return domain.DeploymentRecord{}, fmt.Errorf("NewAutomatedVault data: %w", ErrUnexpectedOutput)
	}

	path := domain.PathPermissioned
	if l.Topics[1].Big().Sign() == CategoryStandard {
		path = domain.PathStandard
	}
	vault := common.BytesToAddress(l.Topics[3].Bytes())
	block := uint64(l.BlockNumber)

	return domain.DeploymentRecord{
		DeploymentID:   idhash.ComputeDeploymentID(l.Address, vault, gauge, block),
		Factory:        l.Address,
		Vault:          vault,
		ConvexStrategy: convex,
		CurveStrategy:  curve,
		Gauge:          gauge,
		LPToken:        common.BytesToAddress(l.Topics[2].Bytes()),
		Path:           path,
		Block:          block,
	}, nil
}
