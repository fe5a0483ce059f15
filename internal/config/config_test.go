package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/layer-3/walletkit/core"
	"github.com/layer-3/walletkit/router"
)

func TestDefaults(t *testing.T) {
	cfg, err := Load(New(), "")
	require.NoError(t, err)

	assert.Equal(t, ":9000", cfg.ListenAddr)
	assert.Equal(t, StoreMemory, cfg.Store)
	assert.Equal(t, core.NetworkMainnet, cfg.Network)
	assert.Equal(t, router.DefaultRequestTTL, cfg.Router.RequestTTL)
	assert.Equal(t, router.RejectNew, cfg.Router.ConflictPolicy)
	assert.Nil(t, cfg.Limits.MaxTransactionTON)
	assert.Nil(t, cfg.Limits.DailyLimitTON)
	assert.Nil(t, cfg.Limits.MaxWallets)
	assert.Empty(t, cfg.MasterKey)
}

func TestEnvironment(t *testing.T) {
	t.Setenv("WALLETKIT_STORE", "redis")
	t.Setenv("WALLETKIT_REQUEST_TTL", "90s")
	t.Setenv("WALLETKIT_CONFLICT_POLICY", "supersede_old")
	t.Setenv("WALLETKIT_MASTER_KEY", "0x000102")
	t.Setenv("WALLETKIT_LIMITS_DAILY_LIMIT_TON", "0")
	t.Setenv("WALLETKIT_LIMITS_MAX_WALLETS", "3")

	cfg, err := Load(New(), "")
	require.NoError(t, err)

	assert.Equal(t, StoreRedis, cfg.Store)
	assert.Equal(t, 90*time.Second, cfg.Router.RequestTTL)
	assert.Equal(t, router.SupersedeOld, cfg.Router.ConflictPolicy)
	assert.Equal(t, []byte{0, 1, 2}, cfg.MasterKey)
	require.NotNil(t, cfg.Limits.DailyLimitTON)
	assert.True(t, cfg.Limits.DailyLimitTON.Equal(decimal.Zero))
	require.NotNil(t, cfg.Limits.MaxWallets)
	assert.Equal(t, 3, *cfg.Limits.MaxWallets)
}

func TestConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "walletkit.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
listen_addr: ":8080"
network: testnet
limits:
  max_transaction_ton: "2.5"
`), 0o600))

	cfg, err := Load(New(), path)
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.ListenAddr)
	assert.Equal(t, core.NetworkTestnet, cfg.Network)
	require.NotNil(t, cfg.Limits.MaxTransactionTON)
	assert.Equal(t, "2.5", cfg.Limits.MaxTransactionTON.String())
}

func TestInvalidValues(t *testing.T) {
	cases := map[string][2]string{
		"store":          {"WALLETKIT_STORE", "etcd"},
		"postgres dsn":   {"WALLETKIT_STORE", "postgres"},
		"network":        {"WALLETKIT_NETWORK", "devnet"},
		"master key":     {"WALLETKIT_MASTER_KEY", "not-hex"},
		"policy":         {"WALLETKIT_CONFLICT_POLICY", "coin_flip"},
		"negative limit": {"WALLETKIT_LIMITS_MAX_TRANSACTION_TON", "-1"},
		"wallet count":   {"WALLETKIT_LIMITS_MAX_WALLETS", "many"},
	}
	for name, env := range cases {
		t.Run(name, func(t *testing.T) {
			t.Setenv(env[0], env[1])
			_, err := Load(New(), "")
			assert.Error(t, err)
		})
	}
}
