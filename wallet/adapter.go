// Package wallet binds one wallet identity to a signer and exposes the
// operations a dApp may ask for: transfers, data signatures and proofs.
package wallet

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/layer-3/walletkit/core"
	"github.com/layer-3/walletkit/ports"
)

const (
	// DefaultSubwalletID is the subwallet id used by standard TON wallets.
	DefaultSubwalletID uint32 = 698983191

	stateInitMagic = "walletkit/state-init/v1"
)

// ErrNoChain is returned by operations that need a chain API when the
// adapter has none.
var ErrNoChain = errors.New("no chain api configured")

// AddressOptions selects the user friendly address flavour.
type AddressOptions struct {
	Bounceable bool
	TestOnly   bool
}

// Adapter performs signing for one wallet without ever seeing its key.
type Adapter struct {
	wallet    core.Wallet
	signer    ports.Signer
	chain     ports.ChainAPI
	stateInit []byte
	address   core.Address
	now       func() time.Time
}

// New loads walletID from signer. chain may be nil, in which case chain
// backed operations return ErrNoChain.
func New(ctx context.Context, signer ports.Signer, walletID string, chain ports.ChainAPI) (*Adapter, error) {
	w, err := signer.GetWallet(ctx, walletID)
	if err != nil {
		return nil, err
	}
	if len(w.PublicKey) != 32 {
		return nil, fmt.Errorf("wallet %s: public key has %d bytes", walletID, len(w.PublicKey))
	}

	a := &Adapter{
		wallet: *w,
		signer: signer,
		chain:  chain,
		now:    time.Now,
	}
	a.stateInit = buildStateInit(*w)
	a.address = core.Address{Workchain: 0, Hash: sha256.Sum256(a.stateInit)}
	return a, nil
}

func buildStateInit(w core.Wallet) []byte {
	buf := make([]byte, 0, len(stateInitMagic)+len(w.Version)+2+4+len(w.PublicKey))
	buf = append(buf, stateInitMagic...)
	buf = append(buf, byte(len(w.Version)))
	buf = append(buf, w.Version...)
	buf = binary.BigEndian.AppendUint32(buf, DefaultSubwalletID)
	buf = append(buf, w.PublicKey...)
	return buf
}

func (a *Adapter) ID() string { return a.wallet.ID }

func (a *Adapter) Wallet() core.Wallet { return a.wallet }

func (a *Adapter) PublicKey() []byte {
	out := make([]byte, len(a.wallet.PublicKey))
	copy(out, a.wallet.PublicKey)
	return out
}

func (a *Adapter) Network() core.Network { return a.wallet.Network }

// StateInit returns the wallet's initial state, from which its address is
// derived.
func (a *Adapter) StateInit() []byte {
	out := make([]byte, len(a.stateInit))
	copy(out, a.stateInit)
	return out
}

// StateInitBase64 is StateInit as carried in connect replies.
func (a *Adapter) StateInitBase64() string {
	return base64.StdEncoding.EncodeToString(a.stateInit)
}

// RawAddress returns the wallet address in workchain:hash form.
func (a *Adapter) RawAddress() core.Address { return a.address }

// Address renders the wallet address in user friendly form.
func (a *Adapter) Address(opts AddressOptions) string {
	return a.address.UserFriendly(opts.Bounceable, opts.TestOnly)
}

// DefaultAddress is the non-bounceable address flagged test-only on testnet.
func (a *Adapter) DefaultAddress() string {
	return a.Address(AddressOptions{TestOnly: a.wallet.Network == core.NetworkTestnet})
}

// Balance returns the wallet balance in nanotons.
func (a *Adapter) Balance(ctx context.Context) (decimal.Decimal, error) {
	if a.chain == nil {
		return decimal.Zero, ErrNoChain
	}
	return a.chain.Balance(ctx, a.address.Raw())
}

// Broadcast submits a signed transaction and returns the chain's message
// hash.
func (a *Adapter) Broadcast(ctx context.Context, tx *SignedTransaction) (string, error) {
	if a.chain == nil {
		return "", ErrNoChain
	}
	return a.chain.SendBoc(ctx, tx.Boc)
}

// ownsAddress reports whether s names this wallet.
func (a *Adapter) ownsAddress(s string) bool {
	addr, err := core.ParseAddress(s)
	return err == nil && addr.Equal(a.address)
}

func (a *Adapter) checkNetwork(chainID string) error {
	if chainID == "" {
		return nil
	}
	n, err := core.NetworkFromChainID(chainID)
	if err != nil {
		return err
	}
	if n != a.wallet.Network {
		return fmt.Errorf("request targets %s but wallet is on %s", n, a.wallet.Network)
	}
	return nil
}

type signOptions struct {
	fake bool
}

// fakeSignature stands in for a real signature during fee estimation. It
// never leaves this package.
var fakeSignature = make([]byte, 64)

func (a *Adapter) signMessage(ctx context.Context, opts signOptions, msg []byte) ([]byte, error) {
	if opts.fake {
		return append([]byte(nil), fakeSignature...), nil
	}
	sig, err := a.signer.SignMessage(ctx, a.wallet.ID, msg)
	return sig, wrapSigning(a.wallet.ID, err)
}

func (a *Adapter) signTransaction(ctx context.Context, opts signOptions, payload []byte) ([]byte, error) {
	if opts.fake {
		return append([]byte(nil), fakeSignature...), nil
	}
	sig, err := a.signer.SignTransaction(ctx, a.wallet.ID, payload)
	return sig, wrapSigning(a.wallet.ID, err)
}

func wrapSigning(walletID string, err error) error {
	if err == nil {
		return nil
	}
	var se *core.SigningError
	if errors.As(err, &se) || errors.Is(err, core.ErrNotFound) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return &core.SigningError{WalletID: walletID, Err: err}
}
