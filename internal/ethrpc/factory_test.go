package ethrpc

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	testFactory = common.HexToAddress("0xF00000000000000000000000000000000000000F")
	testGauge   = common.HexToAddress("0x6a00000000000000000000000000000000000006")
	testVault   = common.HexToAddress("0xAa00000000000000000000000000000000000001")
	testLP      = common.HexToAddress("0x1900000000000000000000000000000000000019")
	testConvex  = common.HexToAddress("0xC0000000000000000000000000000000000000C1")
	testCurve   = common.HexToAddress("0xC0000000000000000000000000000000000000C2")
	testSender  = common.HexToAddress("0x5e00000000000000000000000000000000000005")
)

// factoryNode answers factory and vault views from fixed values and
// eth_getLogs with logs.
func factoryNode(t *testing.T, sent *[]TxArgs, logs ...Log) *FactoryClient {
	t.Helper()
	server := newNode(t, func(req nodeRequest) (interface{}, *RPCError) {
		switch req.Method {
		case "eth_sendTransaction":
			var tx TxArgs
			require.NoError(t, json.Unmarshal(req.Params[0], &tx))
			if sent != nil {
				*sent = append(*sent, tx)
			}
			return common.HexToHash("0x77").Hex(), nil
		case "eth_getLogs":
			if logs == nil {
				return []Log{}, nil
			}
			return logs, nil
		case "eth_call":
		default:
			t.Errorf("unexpected method %s", req.Method)
			return nil, &RPCError{Code: -32601, Message: "method not found"}
		}

		to, data := req.callParams(t)
		contract := factoryABI
		if to != testFactory {
			contract = vaultABI
		}
		method, err := contract.MethodById(data[:4])
		if err != nil {
			return nil, &RPCError{Code: -32000, Message: "execution reverted"}
		}

		var out []byte
		switch method.Name {
		case "getPid":
			var args []interface{}
			args, err = method.Inputs.Unpack(data[4:])
			require.NoError(t, err)
			if args[0].(common.Address) != testGauge {
				return nil, &RPCError{Code: -32000, Message: "execution reverted"}
			}
			out, err = method.Outputs.Pack(big.NewInt(42))
		case "canCreateVaultPermissionlessly":
			out, err = method.Outputs.Pack(true)
		case "doesStrategyProxyHaveGauge":
			out, err = method.Outputs.Pack(false)
		case "latestStandardVaultFromGauge":
			out, err = method.Outputs.Pack(testVault)
		case "numVaults":
			out, err = method.Outputs.Pack(big.NewInt(2))
		case "allDeployedVaults":
			out, err = method.Outputs.Pack([]common.Address{testVault, testGauge})
		case "name":
			out, err = method.Outputs.Pack("Curve FUD Factory yVault")
		case "symbol":
			out, err = method.Outputs.Pack("yvCurve-FUD-f")
		default:
			t.Errorf("unexpected call %s", method.Name)
		}
		require.NoError(t, err)
		return hexutil.Bytes(out).String(), nil
	})
	return NewFactoryClient(NewClient(server.URL), testFactory)
}

func TestFactoryClient_Views(t *testing.T) {
	ctx := context.Background()
	f := factoryNode(t, nil)

	pid, err := f.GetPid(ctx, testGauge)
	require.NoError(t, err)
	assert.Equal(t, uint64(42), pid.Uint64())

	ok, err := f.CanCreateVaultPermissionlessly(ctx, testGauge)
	require.NoError(t, err)
	assert.True(t, ok)

	has, err := f.DoesStrategyProxyHaveGauge(ctx, testGauge)
	require.NoError(t, err)
	assert.False(t, has)

	latest, err := f.LatestStandardVaultFromGauge(ctx, testGauge)
	require.NoError(t, err)
	assert.Equal(t, testVault, latest)

	n, err := f.NumVaults(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), n)

	all, err := f.AllDeployedVaults(ctx)
	require.NoError(t, err)
	assert.Equal(t, []common.Address{testVault, testGauge}, all)

	name, symbol, err := f.VaultMetadata(ctx, testVault)
	require.NoError(t, err)
	assert.Equal(t, "Curve FUD Factory yVault", name)
	assert.Equal(t, "yvCurve-FUD-f", symbol)
}

func TestFactoryClient_Revert(t *testing.T) {
	f := factoryNode(t, nil)

	_, err := f.GetPid(context.Background(), testLP)
	require.Error(t, err)

	var rpcErr *RPCError
	assert.True(t, errors.As(err, &rpcErr))
}

func TestFactoryClient_Create(t *testing.T) {
	ctx := context.Background()
	var sent []TxArgs
	f := factoryNode(t, &sent)

	hash, err := f.CreateNewVaultsAndStrategies(ctx, testSender, testGauge)
	require.NoError(t, err)
	assert.Equal(t, common.HexToHash("0x77"), hash)

	_, err = f.CreateNewVaultsAndStrategiesPermissioned(ctx, testSender, testGauge, "FUD Vault", "yvCurve-FUD")
	require.NoError(t, err)

	require.Len(t, sent, 2)
	for _, tx := range sent {
		assert.Equal(t, testSender, tx.From)
		assert.Equal(t, testFactory, tx.To)
	}

	method, err := factoryABI.MethodById(sent[1].Data[:4])
	require.NoError(t, err)
	assert.Equal(t, "createNewVaultsAndStrategiesPermissioned", method.Name)

	args, err := method.Inputs.Unpack(sent[1].Data[4:])
	require.NoError(t, err)
	assert.Equal(t, testGauge, args[0])
	assert.Equal(t, "FUD Vault", args[1])
	assert.Equal(t, "yvCurve-FUD", args[2])
}
