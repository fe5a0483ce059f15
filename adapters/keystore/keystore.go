// Package keystore implements ports.Signer over a KV store holding sealed
// wallet seeds.
package keystore

import (
	"context"
	"crypto/cipher"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/sirupsen/logrus"
	"github.com/tyler-smith/go-bip39"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	"github.com/layer-3/walletkit/core"
	"github.com/layer-3/walletkit/internal/keylock"
	"github.com/layer-3/walletkit/internal/metrics"
	"github.com/layer-3/walletkit/ports"
)

const (
	keyPrefix     = "keystore:wallet:"
	sealInfo      = "walletkit-keystore-seed-v1"
	minMasterSize = 32
)

var (
	ErrInvalidMnemonic = errors.New("invalid mnemonic")
	ErrMasterKey       = errors.New("master key must be at least 32 bytes")
)

type walletRecord struct {
	Wallet core.Wallet   `json:"wallet"`
	Nonce  hexutil.Bytes `json:"nonce"`
	Sealed hexutil.Bytes `json:"sealed_seed"`
}

// Signer keeps one sealed ed25519 seed per wallet. Seeds are encrypted with
// a per-wallet key derived from the master key and are only opened for the
// duration of a single signature.
type Signer struct {
	kv     ports.Store
	master []byte
	locks  keylock.Locker
	logger logrus.FieldLogger
	now    func() time.Time
}

var _ ports.Signer = (*Signer)(nil)

func New(kv ports.Store, masterKey []byte, logger logrus.FieldLogger) (*Signer, error) {
	if len(masterKey) < minMasterSize {
		return nil, ErrMasterKey
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	master := make([]byte, len(masterKey))
	copy(master, masterKey)
	return &Signer{
		kv:     kv,
		master: master,
		logger: logger.WithField("component", "keystore"),
		now:    time.Now,
	}, nil
}

// NewMnemonic returns a fresh 24 word mnemonic.
func NewMnemonic() (string, error) {
	entropy, err := bip39.NewEntropy(256)
	if err != nil {
		return "", err
	}
	return bip39.NewMnemonic(entropy)
}

func (s *Signer) CreateWallet(ctx context.Context, spec ports.WalletSpec) (*core.Wallet, error) {
	mnemonic, err := NewMnemonic()
	if err != nil {
		return nil, fmt.Errorf("generate mnemonic: %w", err)
	}
	return s.ImportWallet(ctx, spec, mnemonic)
}

func (s *Signer) ImportWallet(ctx context.Context, spec ports.WalletSpec, mnemonic string) (*core.Wallet, error) {
	if spec.ID == "" {
		return nil, errors.New("wallet id is required")
	}
	if spec.Network == "" {
		spec.Network = core.NetworkMainnet
	}
	if spec.Version == "" {
		spec.Version = core.WalletV5R1
	}
	if !spec.Network.Valid() {
		return nil, fmt.Errorf("unknown network %q", spec.Network)
	}
	if !spec.Version.Valid() {
		return nil, fmt.Errorf("unknown wallet version %q", spec.Version)
	}

	mnemonic = strings.Join(strings.Fields(mnemonic), " ")
	if !bip39.IsMnemonicValid(mnemonic) {
		return nil, ErrInvalidMnemonic
	}
	seed := bip39.NewSeed(mnemonic, "")[:ed25519.SeedSize]
	defer wipe(seed)

	priv := ed25519.NewKeyFromSeed(seed)
	defer wipe(priv)
	pub := priv.Public().(ed25519.PublicKey)

	nonce, sealed, err := s.seal(spec.ID, seed)
	if err != nil {
		return nil, err
	}
	rec := walletRecord{
		Wallet: core.Wallet{
			ID:        spec.ID,
			PublicKey: hexutil.Bytes(pub),
			Network:   spec.Network,
			Version:   spec.Version,
			CreatedAt: s.now().UTC(),
		},
		Nonce:  nonce,
		Sealed: sealed,
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, err
	}

	err = s.kv.Update(ctx, keyPrefix+spec.ID, 0, func(_ string, exists bool) (string, error) {
		if exists {
			return "", fmt.Errorf("wallet %s: %w", spec.ID, core.ErrWalletExists)
		}
		return string(data), nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{"wallet_id": spec.ID, "network": spec.Network}).Info("wallet stored")
	w := rec.Wallet
	return &w, nil
}

func (s *Signer) GetWallet(ctx context.Context, id string) (*core.Wallet, error) {
	rec, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	return &rec.Wallet, nil
}

func (s *Signer) ListWalletIDs(ctx context.Context) ([]string, error) {
	keys, err := s.kv.List(ctx, keyPrefix)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(keys))
	for _, k := range keys {
		ids = append(ids, strings.TrimPrefix(k, keyPrefix))
	}
	return ids, nil
}

func (s *Signer) DeleteWallet(ctx context.Context, id string) error {
	unlock, err := s.locks.Lock(ctx, id)
	if err != nil {
		return err
	}
	defer unlock()

	if _, err := s.kv.Take(ctx, keyPrefix+id); err != nil {
		if errors.Is(err, core.ErrKeyNotFound) {
			return fmt.Errorf("wallet %s: %w", id, core.ErrNotFound)
		}
		return err
	}
	s.logger.WithField("wallet_id", id).Info("wallet deleted")
	return nil
}

// SignTransaction signs the sha256 digest of payload.
func (s *Signer) SignTransaction(ctx context.Context, id string, payload []byte) ([]byte, error) {
	digest := sha256.Sum256(payload)
	return s.sign(ctx, "sign_transaction", id, digest[:])
}

// SignMessage signs message as given.
func (s *Signer) SignMessage(ctx context.Context, id string, message []byte) ([]byte, error) {
	return s.sign(ctx, "sign_message", id, message)
}

func (s *Signer) sign(ctx context.Context, op, id string, msg []byte) (sig []byte, err error) {
	start := time.Now()
	defer func() { metrics.RecordSigning(op, time.Since(start), err == nil) }()

	unlock, err := s.locks.Lock(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	rec, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	seed, err := s.open(id, rec.Nonce, rec.Sealed)
	if err != nil {
		s.logger.WithError(err).WithField("wallet_id", id).Error("failed to open sealed seed")
		return nil, &core.SigningError{WalletID: id, Err: err}
	}
	defer wipe(seed)

	priv := ed25519.NewKeyFromSeed(seed)
	defer wipe(priv)
	if !priv.Public().(ed25519.PublicKey).Equal(ed25519.PublicKey(rec.Wallet.PublicKey)) {
		return nil, &core.SigningError{WalletID: id, Err: errors.New("sealed seed does not match public key")}
	}
	return ed25519.Sign(priv, msg), nil
}

func (s *Signer) load(ctx context.Context, id string) (*walletRecord, error) {
	raw, err := s.kv.Get(ctx, keyPrefix+id)
	if err != nil {
		if errors.Is(err, core.ErrKeyNotFound) {
			return nil, fmt.Errorf("wallet %s: %w", id, core.ErrNotFound)
		}
		return nil, err
	}
	var rec walletRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return nil, fmt.Errorf("decode wallet %s: %w", id, err)
	}
	return &rec, nil
}

func (s *Signer) aead(id string) (cipher.AEAD, error) {
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, s.master, []byte(id), []byte(sealInfo)), key); err != nil {
		return nil, fmt.Errorf("derive seal key: %w", err)
	}
	defer wipe(key)
	return chacha20poly1305.NewX(key)
}

func (s *Signer) seal(id string, seed []byte) (nonce, sealed []byte, err error) {
	aead, err := s.aead(id)
	if err != nil {
		return nil, nil, err
	}
	nonce = make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, nil, err
	}
	return nonce, aead.Seal(nil, nonce, seed, []byte(id)), nil
}

func (s *Signer) open(id string, nonce, sealed []byte) ([]byte, error) {
	aead, err := s.aead(id)
	if err != nil {
		return nil, err
	}
	return aead.Open(nil, nonce, sealed, []byte(id))
}

func wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
