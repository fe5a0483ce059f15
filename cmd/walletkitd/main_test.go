package main

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/layer-3/walletkit/adapters/tokenizer"
	"github.com/layer-3/walletkit/internal/config"
)

func TestTokenCommandIssuesVerifiableToken(t *testing.T) {
	keyFile := filepath.Join(t.TempDir(), "token.pem")
	load := func() (config.Config, error) {
		return config.Config{TokenKeyFile: keyFile, TokenTTL: time.Hour}, nil
	}

	cmd := newTokenCmd(load)
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"alice"})
	require.NoError(t, cmd.Execute())

	key, err := tokenizer.LoadOrCreateKey(keyFile)
	require.NoError(t, err)
	user, err := tokenizer.NewJWTTokenizer(key).ParseAccessToken(strings.TrimSpace(out.String()))
	require.NoError(t, err)
	assert.Equal(t, "alice", user)
}

func TestTokenCommandNeedsKeyFile(t *testing.T) {
	load := func() (config.Config, error) { return config.Config{TokenTTL: time.Hour}, nil }
	cmd := newTokenCmd(load)
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"alice"})
	assert.Error(t, cmd.Execute())
}

func TestMasterKey(t *testing.T) {
	logger := logrus.New()
	logger.SetOutput(&bytes.Buffer{})

	key, err := masterKey(config.Config{Store: config.StoreMemory}, logger)
	require.NoError(t, err)
	assert.Len(t, key, 32)

	_, err = masterKey(config.Config{Store: config.StoreRedis}, logger)
	assert.Error(t, err)

	given := bytes.Repeat([]byte{7}, 32)
	key, err = masterKey(config.Config{Store: config.StorePostgres, MasterKey: given}, logger)
	require.NoError(t, err)
	assert.Equal(t, given, key)
}
