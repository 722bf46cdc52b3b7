// Package config loads the lab configuration: defaults, then a TOML file,
// then environment variables (optionally seeded from a .env file).
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/joho/godotenv"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "FACTORYLAB_"

// Storage backends.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid config")

// Config is the full lab configuration.
type Config struct {
	Log      LogConfig      `toml:"log"`
	Storage  StorageConfig  `toml:"storage"`
	RPC      RPCConfig      `toml:"rpc"`
	Metrics  MetricsConfig  `toml:"metrics"`
	Scenario ScenarioConfig `toml:"scenario"`
}

// LogConfig selects the logger preset and level.
type LogConfig struct {
	Env   string `toml:"env"`   // "dev" (console) or "prod" (JSON)
	Level string `toml:"level"` // debug | info | warn | error
}

// StorageConfig selects where deployments and harvests are persisted.
// ClickHouse is optional and only receives harvest outcomes.
type StorageConfig struct {
	Backend       string `toml:"backend"`
	PostgresDSN   string `toml:"postgres_dsn"`
	ClickhouseDSN string `toml:"clickhouse_dsn"`
	MaxConns      int32  `toml:"max_conns"`
}

// RPCConfig points the read views and the watcher at a node.
type RPCConfig struct {
	HTTPEndpoint string        `toml:"http_endpoint"`
	WSEndpoint   string        `toml:"ws_endpoint"`
	Timeout      time.Duration `toml:"timeout"`
	Retries      uint64        `toml:"retries"`
	Factory      string        `toml:"factory"`
	From         string        `toml:"from"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Listen    string `toml:"listen"`
	Namespace string `toml:"namespace"`
}

// ScenarioConfig drives the simulated deployment and harvest run.
type ScenarioConfig struct {
	Target             string        `toml:"target"`
	DepositLP          uint64        `toml:"deposit_lp"`    // whole LP tokens
	ProfitAmount       string        `toml:"profit_amount"` // want wei paid back by settlement
	SleepTime          time.Duration `toml:"sleep_time"`
	UseYSwaps          bool          `toml:"use_yswaps"`
	HarvestCycles      int           `toml:"harvest_cycles"`
	KeepCRV            uint64        `toml:"keep_crv"`
	KeepCVX            uint64        `toml:"keep_cvx"`
	SecondaryDebtRatio uint64        `toml:"secondary_debt_ratio"`
	OutputDir          string        `toml:"output_dir"`
}

// Default returns the configuration used when nothing overrides it.
func Default() Config {
	return Config{
		Log: LogConfig{Env: "dev", Level: "info"},
		Storage: StorageConfig{
			Backend: BackendMemory,
		},
		RPC: RPCConfig{
			HTTPEndpoint: "http://127.0.0.1:8545",
			WSEndpoint:   "ws://127.0.0.1:8546",
			Timeout:      10 * time.Second,
			Retries:      3,
		},
		Metrics: MetricsConfig{
			Listen:    ":9102",
			Namespace: "vault_factory_lab",
		},
		Scenario: ScenarioConfig{
			Target:        "rETH",
			DepositLP:     10,
			ProfitAmount:  "100000000000000000",
			SleepTime:     24 * time.Hour,
			UseYSwaps:     true,
			HarvestCycles: 3,
			OutputDir:     "reports",
		},
	}
}

// Load builds the configuration. path may be empty to skip the file. A
// .env file in the working directory is loaded when present; variables
// already set in the environment win over it.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		md, err := toml.DecodeFile(path, &cfg)
		if err != nil {
			return Config{}, fmt.Errorf("decode %s: %w", path, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			return Config{}, fmt.Errorf("%w: unknown keys in %s: %v", ErrInvalid, path, undecoded)
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

type lookupFunc func(key string) (string, bool)

func (c *Config) applyEnv(lookup lookupFunc) error {
	strs := map[string]*string{
		"LOG_ENV":        &c.Log.Env,
		"LOG_LEVEL":      &c.Log.Level,
		"STORAGE":        &c.Storage.Backend,
		"POSTGRES_DSN":   &c.Storage.PostgresDSN,
		"CLICKHOUSE_DSN": &c.Storage.ClickhouseDSN,
		"RPC_URL":        &c.RPC.HTTPEndpoint,
		"WS_URL":         &c.RPC.WSEndpoint,
		"FACTORY":        &c.RPC.Factory,
		"FROM":           &c.RPC.From,
		"METRICS_LISTEN": &c.Metrics.Listen,
		"TARGET":         &c.Scenario.Target,
		"PROFIT_AMOUNT":  &c.Scenario.ProfitAmount,
		"OUTPUT_DIR":     &c.Scenario.OutputDir,
	}
	for key, dst := range strs {
		if v, ok := lookup(EnvPrefix + key); ok {
			*dst = v
		}
	}

	if v, ok := lookup(EnvPrefix + "USE_YSWAPS"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%w: %sUSE_YSWAPS: %v", ErrInvalid, EnvPrefix, err)
		}
		c.Scenario.UseYSwaps = b
	}
	if v, ok := lookup(EnvPrefix + "HARVEST_CYCLES"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: %sHARVEST_CYCLES: %v", ErrInvalid, EnvPrefix, err)
		}
		c.Scenario.HarvestCycles = n
	}
	if v, ok := lookup(EnvPrefix + "RPC_TIMEOUT"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%w: %sRPC_TIMEOUT: %v", ErrInvalid, EnvPrefix, err)
		}
		c.RPC.Timeout = d
	}
	return nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	var errs []string

	switch c.Log.Env {
	case "dev", "prod":
	default:
		errs = append(errs, fmt.Sprintf("log.env %q: want dev or prod", c.Log.Env))
	}

	switch c.Storage.Backend {
	case BackendMemory:
	case BackendPostgres:
		if c.Storage.PostgresDSN == "" {
			errs = append(errs, "storage.postgres_dsn required for postgres backend")
		}
	default:
		errs = append(errs, fmt.Sprintf("storage.backend %q: want memory or postgres", c.Storage.Backend))
	}

	if c.RPC.Factory != "" && !common.IsHexAddress(c.RPC.Factory) {
		errs = append(errs, fmt.Sprintf("rpc.factory %q is not an address", c.RPC.Factory))
	}
	if c.RPC.From != "" && !common.IsHexAddress(c.RPC.From) {
		errs = append(errs, fmt.Sprintf("rpc.from %q is not an address", c.RPC.From))
	}

	s := c.Scenario
	if s.HarvestCycles < 1 {
		errs = append(errs, "scenario.harvest_cycles must be at least 1")
	}
	if s.DepositLP == 0 {
		errs = append(errs, "scenario.deposit_lp must be positive")
	}
	if _, err := uint256.FromDecimal(s.ProfitAmount); err != nil {
		errs = append(errs, fmt.Sprintf("scenario.profit_amount %q: %v", s.ProfitAmount, err))
	}
	if s.KeepCRV > 10_000 || s.KeepCVX > 10_000 || s.SecondaryDebtRatio > 10_000 {
		errs = append(errs, "scenario keep rates and secondary_debt_ratio are basis points (max 10000)")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(errs, "; "))
	}
	return nil
}

// ProfitAmountWei parses Scenario.ProfitAmount. Call after Validate.
func (s ScenarioConfig) ProfitAmountWei() *uint256.Int {
	v, err := uint256.FromDecimal(s.ProfitAmount)
	if err != nil {
		return uint256.NewInt(0)
	}
	return v
}

// FactoryAddress returns RPC.Factory as an address.
func (r RPCConfig) FactoryAddress() common.Address {
	return common.HexToAddress(r.Factory)
}
