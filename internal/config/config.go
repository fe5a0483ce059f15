// Package config loads daemon settings from an optional file and
// WALLETKIT_ prefixed environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"github.com/layer-3/walletkit/core"
	"github.com/layer-3/walletkit/limits"
	"github.com/layer-3/walletkit/router"
)

const EnvPrefix = "WALLETKIT"

const (
	StoreMemory   = "memory"
	StoreRedis    = "redis"
	StorePostgres = "postgres"
)

type Config struct {
	ListenAddr  string
	LogLevel    string
	LogFormat   string
	Store       string
	RedisURL    string
	PostgresDSN string
	// MasterKey seals wallet seeds at rest.
	MasterKey    []byte
	TokenKeyFile string
	TokenTTL     time.Duration
	Network      core.Network
	ChainURL     string
	ChainAPIKey  string
	Router       router.Config
	Limits       limits.Config
}

// New returns a viper instance with defaults and environment binding set
// up. Keys use dots for nesting and map to env vars with underscores, so
// limits.daily_limit_ton is WALLETKIT_LIMITS_DAILY_LIMIT_TON.
func New() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("listen_addr", ":9000")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")
	v.SetDefault("store", StoreMemory)
	v.SetDefault("redis_url", "redis://localhost:6379/0")
	v.SetDefault("postgres_dsn", "")
	v.SetDefault("master_key", "")
	v.SetDefault("token_key_file", "")
	v.SetDefault("token_ttl", time.Hour)
	v.SetDefault("network", string(core.NetworkMainnet))
	v.SetDefault("chain_url", "")
	v.SetDefault("chain_api_key", "")
	v.SetDefault("request_ttl", router.DefaultRequestTTL)
	v.SetDefault("send_timeout", router.DefaultSendTimeout)
	v.SetDefault("conflict_policy", "reject_new")
	v.SetDefault("inbound_rps", 0.0)
	v.SetDefault("inbound_burst", 0)
	v.SetDefault("limits.max_transaction_ton", "")
	v.SetDefault("limits.daily_limit_ton", "")
	v.SetDefault("limits.max_wallets", "")
	return v
}

// Load reads file when set and decodes v into a Config.
func Load(v *viper.Viper, file string) (Config, error) {
	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", file, err)
		}
	}

	cfg := Config{
		ListenAddr:   v.GetString("listen_addr"),
		LogLevel:     v.GetString("log_level"),
		LogFormat:    v.GetString("log_format"),
		Store:        strings.ToLower(v.GetString("store")),
		RedisURL:     v.GetString("redis_url"),
		PostgresDSN:  v.GetString("postgres_dsn"),
		TokenKeyFile: v.GetString("token_key_file"),
		TokenTTL:     v.GetDuration("token_ttl"),
		Network:      core.Network(v.GetString("network")),
		ChainURL:     v.GetString("chain_url"),
		ChainAPIKey:  v.GetString("chain_api_key"),
		Router: router.Config{
			RequestTTL:   v.GetDuration("request_ttl"),
			SendTimeout:  v.GetDuration("send_timeout"),
			InboundRPS:   v.GetFloat64("inbound_rps"),
			InboundBurst: v.GetInt("inbound_burst"),
		},
	}

	switch cfg.Store {
	case StoreMemory, StoreRedis:
	case StorePostgres:
		if cfg.PostgresDSN == "" {
			return Config{}, errors.New("postgres_dsn is required for the postgres store")
		}
	default:
		return Config{}, fmt.Errorf("unknown store %q", cfg.Store)
	}
	if !cfg.Network.Valid() {
		return Config{}, fmt.Errorf("unknown network %q", cfg.Network)
	}

	var err error
	if raw := v.GetString("master_key"); raw != "" {
		if cfg.MasterKey, err = hexutil.Decode(raw); err != nil {
			return Config{}, fmt.Errorf("master_key: %w", err)
		}
	}
	if cfg.Router.ConflictPolicy, err = router.ParseConflictPolicy(v.GetString("conflict_policy")); err != nil {
		return Config{}, err
	}
	if cfg.Limits.MaxTransactionTON, err = optionalDecimal(v, "limits.max_transaction_ton"); err != nil {
		return Config{}, err
	}
	if cfg.Limits.DailyLimitTON, err = optionalDecimal(v, "limits.daily_limit_ton"); err != nil {
		return Config{}, err
	}
	if raw := v.GetString("limits.max_wallets"); raw != "" {
		n := v.GetInt("limits.max_wallets")
		if n < 0 || fmt.Sprint(n) != strings.TrimSpace(raw) {
			return Config{}, fmt.Errorf("limits.max_wallets %q is not a non-negative integer", raw)
		}
		cfg.Limits.MaxWallets = &n
	}
	return cfg, nil
}

// optionalDecimal returns nil for an unset key so that "no limit" and a
// limit of zero stay distinct.
func optionalDecimal(v *viper.Viper, key string) (*decimal.Decimal, error) {
	raw := strings.TrimSpace(v.GetString(key))
	if raw == "" {
		return nil, nil
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", key, err)
	}
	if d.IsNegative() {
		return nil, fmt.Errorf("%s must not be negative", key)
	}
	return &d, nil
}
