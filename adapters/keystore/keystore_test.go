package keystore

import (
	"context"
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/json"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/layer-3/walletkit/adapters/store"
	"github.com/layer-3/walletkit/core"
	"github.com/layer-3/walletkit/ports"
)

const testMnemonic = "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon art"

func newTestSigner(t *testing.T) (*Signer, *store.MemoryStore) {
	t.Helper()
	logger, _ := test.NewNullLogger()
	kv := store.NewMemoryStore()
	s, err := New(kv, make([]byte, 32), logger)
	require.NoError(t, err)
	return s, kv
}

func TestNewRejectsShortMasterKey(t *testing.T) {
	_, err := New(store.NewMemoryStore(), []byte("short"), logrus.New())
	assert.ErrorIs(t, err, ErrMasterKey)
}

func TestCreateAndSign(t *testing.T) {
	s, _ := newTestSigner(t)
	ctx := context.Background()

	w, err := s.CreateWallet(ctx, ports.WalletSpec{ID: "w1", Network: core.NetworkTestnet})
	require.NoError(t, err)
	assert.Equal(t, "w1", w.ID)
	assert.Equal(t, core.NetworkTestnet, w.Network)
	assert.Equal(t, core.WalletV5R1, w.Version)
	require.Len(t, w.PublicKey, ed25519.PublicKeySize)

	msg := []byte("hello")
	sig, err := s.SignMessage(ctx, "w1", msg)
	require.NoError(t, err)
	assert.True(t, ed25519.Verify(ed25519.PublicKey(w.PublicKey), msg, sig))

	payload := []byte("transfer")
	sig, err = s.SignTransaction(ctx, "w1", payload)
	require.NoError(t, err)
	digest := sha256.Sum256(payload)
	assert.True(t, ed25519.Verify(ed25519.PublicKey(w.PublicKey), digest[:], sig))
}

func TestImportIsDeterministic(t *testing.T) {
	s, _ := newTestSigner(t)
	ctx := context.Background()

	a, err := s.ImportWallet(ctx, ports.WalletSpec{ID: "a"}, testMnemonic)
	require.NoError(t, err)
	b, err := s.ImportWallet(ctx, ports.WalletSpec{ID: "b"}, "  "+testMnemonic+"\n")
	require.NoError(t, err)
	assert.Equal(t, a.PublicKey, b.PublicKey)

	_, err = s.ImportWallet(ctx, ports.WalletSpec{ID: "c"}, "not a mnemonic")
	assert.ErrorIs(t, err, ErrInvalidMnemonic)
}

func TestDuplicateWalletID(t *testing.T) {
	s, _ := newTestSigner(t)
	ctx := context.Background()

	_, err := s.ImportWallet(ctx, ports.WalletSpec{ID: "w"}, testMnemonic)
	require.NoError(t, err)
	_, err = s.CreateWallet(ctx, ports.WalletSpec{ID: "w"})
	assert.ErrorIs(t, err, core.ErrWalletExists)
}

func TestSeedIsSealed(t *testing.T) {
	s, kv := newTestSigner(t)
	ctx := context.Background()

	_, err := s.ImportWallet(ctx, ports.WalletSpec{ID: "w"}, testMnemonic)
	require.NoError(t, err)

	raw, err := kv.Get(ctx, keyPrefix+"w")
	require.NoError(t, err)
	var rec walletRecord
	require.NoError(t, json.Unmarshal([]byte(raw), &rec))
	assert.NotEmpty(t, rec.Sealed)
	assert.NotContains(t, raw, "abandon")

	other, err := New(kv, append(make([]byte, 31), 1), logrus.New())
	require.NoError(t, err)
	_, err = other.SignMessage(ctx, "w", []byte("x"))
	assert.ErrorIs(t, err, core.ErrSigning)
}

func TestDeleteAndList(t *testing.T) {
	s, _ := newTestSigner(t)
	ctx := context.Background()

	for _, id := range []string{"a", "b"} {
		_, err := s.CreateWallet(ctx, ports.WalletSpec{ID: id})
		require.NoError(t, err)
	}
	ids, err := s.ListWalletIDs(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "b"}, ids)

	require.NoError(t, s.DeleteWallet(ctx, "a"))
	assert.ErrorIs(t, s.DeleteWallet(ctx, "a"), core.ErrNotFound)
	_, err = s.GetWallet(ctx, "a")
	assert.ErrorIs(t, err, core.ErrNotFound)
	_, err = s.SignMessage(ctx, "a", []byte("x"))
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestConcurrentSigning(t *testing.T) {
	s, _ := newTestSigner(t)
	ctx := context.Background()
	w, err := s.CreateWallet(ctx, ports.WalletSpec{ID: "w"})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			msg := []byte{byte(i)}
			sig, err := s.SignMessage(ctx, "w", msg)
			if assert.NoError(t, err) {
				assert.True(t, ed25519.Verify(ed25519.PublicKey(w.PublicKey), msg, sig))
			}
		}(i)
	}
	wg.Wait()
}
