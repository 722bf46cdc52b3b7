package ethrpc

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// FactoryABI covers the views and entry points used by FactoryClient and
// the NewAutomatedVault event decoded by Watcher.
const FactoryABI = `[
{"type":"function","name":"getPid","stateMutability":"view","inputs":[{"name":"_gauge","type":"address"}],"outputs":[{"name":"pid","type":"uint256"}]},
{"type":"function","name":"canCreateVaultPermissionlessly","stateMutability":"view","inputs":[{"name":"_gauge","type":"address"}],"outputs":[{"name":"","type":"bool"}]},
{"type":"function","name":"doesStrategyProxyHaveGauge","stateMutability":"view","inputs":[{"name":"_gauge","type":"address"}],"outputs":[{"name":"","type":"bool"}]},
{"type":"function","name":"latestStandardVaultFromGauge","stateMutability":"view","inputs":[{"name":"_gauge","type":"address"}],"outputs":[{"name":"","type":"address"}]},
{"type":"function","name":"numVaults","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
{"type":"function","name":"allDeployedVaults","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address[]"}]},
{"type":"function","name":"createNewVaultsAndStrategies","stateMutability":"nonpayable","inputs":[{"name":"_gauge","type":"address"}],"outputs":[{"name":"vault","type":"address"},{"name":"convexStrategy","type":"address"},{"name":"curveStrategy","type":"address"}]},
{"type":"function","name":"createNewVaultsAndStrategiesPermissioned","stateMutability":"nonpayable","inputs":[{"name":"_gauge","type":"address"},{"name":"_name","type":"string"},{"name":"_symbol","type":"string"}],"outputs":[{"name":"vault","type":"address"},{"name":"convexStrategy","type":"address"},{"name":"curveStrategy","type":"address"}]},
{"type":"event","name":"NewAutomatedVault","anonymous":false,"inputs":[{"name":"category","type":"uint256","indexed":true},{"name":"lpToken","type":"address","indexed":true},{"name":"gauge","type":"address","indexed":false},{"name":"vault","type":"address","indexed":true},{"name":"convexStrategy","type":"address","indexed":false},{"name":"curveStrategy","type":"address","indexed":false}]}
]`

// VaultABI covers the vault metadata read by Watcher.
const VaultABI = `[
{"type":"function","name":"name","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"string"}]},
{"type":"function","name":"symbol","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"string"}]}
]`

var (
	factoryABI = mustParseABI(FactoryABI)
	vaultABI   = mustParseABI(VaultABI)

	// NewAutomatedVaultTopic is topic 0 of the NewAutomatedVault event.
	NewAutomatedVaultTopic = factoryABI.Events["NewAutomatedVault"].ID
)

// ErrUnexpectedOutput is returned when a call decodes to unexpected types.
var ErrUnexpectedOutput = errors.New("unexpected call output")

func mustParseABI(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(fmt.Sprintf("parse abi: %v", err))
	}
	return parsed
}

// FactoryClient reads and drives a deployed vault factory.
type FactoryClient struct {
	client  *Client
	address common.Address
}

// NewFactoryClient binds the factory at address.
func NewFactoryClient(client *Client, address common.Address) *FactoryClient {
	return &FactoryClient{client: client, address: address}
}

// Address returns the factory address.
func (f *FactoryClient) Address() common.Address { return f.address }

// view packs method, calls it on contract at latest and returns the single
// decoded output.
func (f *FactoryClient) view(ctx context.Context, contract abi.ABI, to common.Address, method string, args ...interface{}) (interface{}, error) {
	data, err := contract.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	out, err := f.client.Call(ctx, CallMsg{To: to, Data: data}, BlockLatest)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", method, err)
	}
	values, err := contract.Unpack(method, out)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	if len(values) != 1 {
		return nil, fmt.Errorf("%s returned %d values: %w", method, len(values), ErrUnexpectedOutput)
	}
	return values[0], nil
}

func (f *FactoryClient) viewUint(ctx context.Context, method string, args ...interface{}) (*uint256.Int, error) {
	v, err := f.view(ctx, factoryABI, f.address, method, args...)
	if err != nil {
		return nil, err
	}
	b, ok := v.(*big.Int)
	if !ok {
		return nil, fmt.Errorf("%s: %w", method, ErrUnexpectedOutput)
	}
	u, overflow := uint256.FromBig(b)
	if overflow {
		return nil, fmt.Errorf("%s: %w", method, ErrUnexpectedOutput)
	}
	return u, nil
}

func (f *FactoryClient) viewBool(ctx context.Context, method string, args ...interface{}) (bool, error) {
	v, err := f.view(ctx, factoryABI, f.address, method, args...)
	if err != nil {
		return false, err
	}
	b, ok := v.(bool)
	if !ok {
		return false, fmt.Errorf("%s: %w", method, ErrUnexpectedOutput)
	}
	return b, nil
}

// GetPid returns the booster pool id of gauge.
func (f *FactoryClient) GetPid(ctx context.Context, gauge common.Address) (*uint256.Int, error) {
	return f.viewUint(ctx, "getPid", gauge)
}

// CanCreateVaultPermissionlessly reports whether anyone may deploy the
// standard vault of gauge.
func (f *FactoryClient) CanCreateVaultPermissionlessly(ctx context.Context, gauge common.Address) (bool, error) {
	return f.viewBool(ctx, "canCreateVaultPermissionlessly", gauge)
}

// DoesStrategyProxyHaveGauge reports whether the voter proxy already pairs
// a strategy with gauge.
func (f *FactoryClient) DoesStrategyProxyHaveGauge(ctx context.Context, gauge common.Address) (bool, error) {
	return f.viewBool(ctx, "doesStrategyProxyHaveGauge", gauge)
}

// LatestStandardVaultFromGauge returns the endorsed vault of gauge, or the
// zero address.
func (f *FactoryClient) LatestStandardVaultFromGauge(ctx context.Context, gauge common.Address) (common.Address, error) {
	v, err := f.view(ctx, factoryABI, f.address, "latestStandardVaultFromGauge", gauge)
	if err != nil {
		return common.Address{}, err
	}
	addr, ok := v.(common.Address)
	if !ok {
		return common.Address{}, fmt.Errorf("latestStandardVaultFromGauge: %w", ErrUnexpectedOutput)
	}
	return addr, nil
}

// NumVaults returns how many vaults the factory deployed.
func (f *FactoryClient) NumVaults(ctx context.Context) (uint64, error) {
	n, err := f.viewUint(ctx, "numVaults")
	if err != nil {
		return 0, err
	}
	if !n.IsUint64() {
		return 0, fmt.Errorf("numVaults: %w", ErrUnexpectedOutput)
	}
	return n.Uint64(), nil
}

// AllDeployedVaults returns every vault the factory deployed, oldest first.
func (f *FactoryClient) AllDeployedVaults(ctx context.Context) ([]common.Address, error) {
	v, err := f.view(ctx, factoryABI, f.address, "allDeployedVaults")
	if err != nil {
		return nil, err
	}
	addrs, ok := v.([]common.Address)
	if !ok {
		return nil, fmt.Errorf("allDeployedVaults: %w", ErrUnexpectedOutput)
	}
	return addrs, nil
}

// CreateNewVaultsAndStrategies submits a standard deployment from from.
func (f *FactoryClient) CreateNewVaultsAndStrategies(ctx context.Context, from, gauge common.Address) (common.Hash, error) {
	return f.transact(ctx, from, "createNewVaultsAndStrategies", gauge)
}

// CreateNewVaultsAndStrategiesPermissioned submits a permissioned
// deployment from from.
func (f *FactoryClient) CreateNewVaultsAndStrategiesPermissioned(ctx context.Context, from, gauge common.Address, name, symbol string) (common.Hash, error) {
	return f.transact(ctx, from, "createNewVaultsAndStrategiesPermissioned", gauge, name, symbol)
}

func (f *FactoryClient) transact(ctx context.Context, from common.Address, method string, args ...interface{}) (common.Hash, error) {
	data, err := factoryABI.Pack(method, args...)
	if err != nil {
		return common.Hash{}, fmt.Errorf("pack %s: %w", method, err)
	}
	hash, err := f.client.SendTransaction(ctx, TxArgs{From: from, To: f.address, Data: data})
	if err != nil {
		return common.Hash{}, fmt.Errorf("send %s: %w", method, err)
	}
	return hash, nil
}

// VaultMetadata returns the name and symbol of vault.
func (f *FactoryClient) VaultMetadata(ctx context.Context, vault common.Address) (name, symbol string, err error) {
	n, err := f.view(ctx, vaultABI, vault, "name")
	if err != nil {
		return "", "", err
	}
	s, err := f.view(ctx, vaultABI, vault, "symbol")
	if err != nil {
		return "", "", err
	}
	name, ok1 := n.(string)
	symbol, ok2 := s.(string)
	if !ok1 || !ok2 {
		return "", "", fmt.Errorf("vault metadata: %w", ErrUnexpectedOutput)
	}
	return name, symbol, nil
}
