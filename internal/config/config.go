package config

import (
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-viper/mapstructure/v2"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"rebase-keeper/internal/logging"
	"rebase-keeper/internal/rebase"
)

const (
	DecimalsSourceConfig = "config"
	DecimalsSourceChain  = "chain"
)

// Config materialises application configuration.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Logging   logging.Config  `mapstructure:"logging"`
	Ethereum  EthereumConfig  `mapstructure:"ethereum"`
	Rebase    RebaseConfig    `mapstructure:"rebase"`
	Retry     RetryConfig     `mapstructure:"retry"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Alerting  AlertingConfig  `mapstructure:"alerting"`
	Publisher PublisherConfig `mapstructure:"publisher"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	Export    ExportConfig    `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// EthereumConfig covers on-chain access and signing.
type EthereumConfig struct {
	RPCURL              string        `mapstructure:"rpc_url"`
	TokenAddress        string        `mapstructure:"token_address"`
	PairAddress         string        `mapstructure:"pair_address"`
	PrivateKey          string        `mapstructure:"private_key"`
	ChainID             int64         `mapstructure:"chain_id"`
	RequestTimeout      time.Duration `mapstructure:"request_timeout"`
	ConfirmationTimeout time.Duration `mapstructure:"confirmation_timeout"`
}

// RebaseConfig is the target trajectory and fixed-point settings.
type RebaseConfig struct {
	StartPrice     decimal.Decimal `mapstructure:"start_price"`
	EndPrice       decimal.Decimal `mapstructure:"end_price"`
	StartTimestamp int64           `mapstructure:"start_timestamp"`
	EndTimestamp   int64           `mapstructure:"end_timestamp"`
	Precision      int64           `mapstructure:"precision"`
	DecimalsOffset int             `mapstructure:"decimals_offset"`
	DecimalsSource string          `mapstructure:"decimals_source"`
	DryRun         bool            `mapstructure:"dry_run"`
}

// RetryConfig bounds retries of read-only chain calls.
type RetryConfig struct {
	MaxAttempts     uint64        `mapstructure:"max_attempts"`
	InitialInterval time.Duration `mapstructure:"initial_interval"`
	MaxInterval     time.Duration `mapstructure:"max_interval"`
}

// SchedulerConfig governs the optional built-in trigger.
type SchedulerConfig struct {
	Interval        time.Duration `mapstructure:"interval"`
	AlignToBucket   bool          `mapstructure:"align_to_bucket"`
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key"`
	StartupDelay    time.Duration `mapstructure:"startup_delay"`
	RunTimeout      time.Duration `mapstructure:"run_timeout"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// AlertingConfig defines notification routing.
type AlertingConfig struct {
	Enabled       bool           `mapstructure:"enabled"`
	NotifySuccess bool           `mapstructure:"notify_success"`
	Telegram      TelegramConfig `mapstructure:"telegram"`
}

// TelegramConfig describes Telegram bot parameters.
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
	APIBase  string `mapstructure:"api_base"`
}

// PublisherConfig configures the Redis Streams event sink.
type PublisherConfig struct {
	RedisURL string `mapstructure:"redis_url"`
	Topic    string `mapstructure:"topic"`
}

// HTTPConfig configures the metrics/health listener of the run command.
type HTTPConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("REBASER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "rebaser")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	// Explicit defaults so AutomaticEnv can bind REBASER_ETHEREUM_* during Unmarshal.
	v.SetDefault("ethereum.rpc_url", "")
	v.SetDefault("ethereum.token_address", "")
	v.SetDefault("ethereum.pair_address", "")
	v.SetDefault("ethereum.private_key", "")
	v.SetDefault("ethereum.chain_id", 0)
	v.SetDefault("ethereum.request_timeout", "10s")
	v.SetDefault("ethereum.confirmation_timeout", "5m")

	v.SetDefault("rebase.start_price", "1")
	v.SetDefault("rebase.end_price", "1")
	v.SetDefault("rebase.start_timestamp", 0)
	v.SetDefault("rebase.end_timestamp", 0)
	v.SetDefault("rebase.precision", rebase.DefaultPrecision)
	v.SetDefault("rebase.decimals_offset", 9)
	v.SetDefault("rebase.decimals_source", DecimalsSourceConfig)
	v.SetDefault("rebase.dry_run", false)

	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.initial_interval", "500ms")
	v.SetDefault("retry.max_interval", "5s")

	v.SetDefault("scheduler.interval", "24h")
	v.SetDefault("scheduler.align_to_bucket", true)
	v.SetDefault("scheduler.advisory_lock_key", int64(0x72656261))
	v.SetDefault("scheduler.startup_delay", "0s")
	v.SetDefault("scheduler.run_timeout", "10m")

	v.SetDefault("database.dsn", "")
	v.SetDefault("database.max_open_conns", 5)
	v.SetDefault("database.max_idle_conns", 1)
	v.SetDefault("database.conn_max_lifetime", "30m")

	v.SetDefault("alerting.enabled", false)
	v.SetDefault("alerting.notify_success", false)
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.bot_token", "")
	v.SetDefault("alerting.telegram.chat_id", "")
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")

	v.SetDefault("publisher.redis_url", "")
	v.SetDefault("publisher.topic", "rebases")

	v.SetDefault("http.enabled", false)
	v.SetDefault("http.addr", ":9464")

	v.SetDefault("export.max_data_points", 10000)
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
			stringToDecimalHookFunc(),
		)
	}
}

var decimalType = reflect.TypeOf(decimal.Decimal{})

// stringToDecimalHookFunc decodes prices without a float round-trip.
func stringToDecimalHookFunc() mapstructure.DecodeHookFuncType {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != decimalType {
			return data, nil
		}
		switch v := data.(type) {
		case string:
			return decimal.NewFromString(strings.TrimSpace(v))
		case int:
			return decimal.NewFromInt(int64(v)), nil
		case int64:
			return decimal.NewFromInt(v), nil
		case float64:
			return decimal.NewFromFloat(v), nil
		default:
			return data, nil
		}
	}
}

// Validate performs sanity checks that do not depend on the command being run.
func (c *Config) Validate() error {
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}
	if c.Scheduler.Interval <= 0 {
		return fmt.Errorf("scheduler.interval must be greater than zero")
	}
	if c.Rebase.Precision <= 0 {
		return fmt.Errorf("%w: rebase.precision must be greater than zero", rebase.ErrConfiguration)
	}
	if c.Rebase.DecimalsOffset < 0 || c.Rebase.DecimalsOffset > rebase.PriceDecimals {
		return fmt.Errorf("%w: rebase.decimals_offset must be within [0,%d]", rebase.ErrConfiguration, rebase.PriceDecimals)
	}
	switch c.Rebase.DecimalsSource {
	case DecimalsSourceConfig, DecimalsSourceChain:
	default:
		return fmt.Errorf("%w: rebase.decimals_source must be %q or %q", rebase.ErrConfiguration, DecimalsSourceConfig, DecimalsSourceChain)
	}
	if c.Alerting.Telegram.Enabled {
		if c.Alerting.Telegram.BotToken == "" {
			return fmt.Errorf("alerting.telegram.bot_token is required")
		}
		if c.Alerting.Telegram.ChatID == "" {
			return fmt.Errorf("alerting.telegram.chat_id is required")
		}
	}
	return nil
}

// PriceBand builds the immutable target band.
func (c *Config) PriceBand() (rebase.PriceBand, error) {
	return rebase.NewPriceBandFromDecimal(c.Rebase.StartPrice, c.Rebase.EndPrice, c.Rebase.StartTimestamp, c.Rebase.EndTimestamp)
}

// Addresses validates and returns the token and pair addresses.
func (c *Config) Addresses() (token common.Address, pair common.Address, err error) {
	if !common.IsHexAddress(c.Ethereum.TokenAddress) {
		return token, pair, fmt.Errorf("%w: ethereum.token_address %q is not a hex address", rebase.ErrConfiguration, c.Ethereum.TokenAddress)
	}
	if !common.IsHexAddress(c.Ethereum.PairAddress) {
		return token, pair, fmt.Errorf("%w: ethereum.pair_address %q is not a hex address", rebase.ErrConfiguration, c.Ethereum.PairAddress)
	}
	return common.HexToAddress(c.Ethereum.TokenAddress), common.HexToAddress(c.Ethereum.PairAddress), nil
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}
