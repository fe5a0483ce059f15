// Package walletkit wires the wallet kit together for one or many users:
// scoped storage and signing, quotas, the request router and transports.
package walletkit

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/layer-3/walletkit/adapters/store"
	"github.com/layer-3/walletkit/core"
	"github.com/layer-3/walletkit/internal/keylock"
	"github.com/layer-3/walletkit/limits"
	"github.com/layer-3/walletkit/ports"
	"github.com/layer-3/walletkit/router"
	"github.com/layer-3/walletkit/scoped"
	"github.com/layer-3/walletkit/transport/remote"
	"github.com/layer-3/walletkit/wallet"
)

// ErrRemoteDisabled is returned by Connect when no relay is configured.
var ErrRemoteDisabled = errors.New("remote transport is not configured")

// Options are shared by every Kit built from them.
type Options struct {
	// Store is the shared key-value store. Each Kit only sees its own
	// namespace of it.
	Store ports.Store
	// Signer is the shared, unscoped key store.
	Signer ports.Signer
	// Network is used for wallets created without an explicit network.
	Network core.Network
	Limits  limits.Config
	Router  router.Config
	// Chain, Relay and Events are optional.
	Chain  ports.ChainAPI
	Relay  *remote.Relay
	Events ports.EventPublisher
	Logger logrus.FieldLogger
}

// Kit is the wallet kit of one user.
type Kit struct {
	user     scoped.UserID
	storage  *scoped.Storage
	signer   *scoped.Signer
	sessions *store.SessionStore
	limits   *limits.Manager
	router   *router.Router
	remote   *remote.Transport
	chain    ports.ChainAPI
	network  core.Network
	locks    *keylock.Locker
	logger   logrus.FieldLogger
}

// New builds the kit of user. locks may be shared between kits of the same
// process and may be nil.
func New(user scoped.UserID, opts Options, locks *keylock.Locker) (*Kit, error) {
	if opts.Store == nil || opts.Signer == nil {
		return nil, errors.New("walletkit: store and signer are required")
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	if opts.Network == "" {
		opts.Network = core.NetworkMainnet
	}
	if locks == nil {
		locks = &keylock.Locker{}
	}

	storage, err := scoped.NewStorage(opts.Store, user)
	if err != nil {
		return nil, err
	}
	signer, err := scoped.NewSigner(opts.Signer, user)
	if err != nil {
		return nil, err
	}

	logger := opts.Logger.WithField("user_id", user.String())
	k := &Kit{
		user:     user,
		storage:  storage,
		signer:   signer,
		sessions: store.NewSessionStore(storage),
		limits:   limits.NewManager(opts.Limits, logger),
		chain:    opts.Chain,
		network:  opts.Network,
		locks:    locks,
		logger:   logger,
	}
	k.router = router.New(opts.Router, router.Deps{
		UserID:   user.String(),
		Sessions: k.sessions,
		Signer:   signer,
		Storage:  storage,
		Limits:   k.limits,
		Chain:    opts.Chain,
		Events:   opts.Events,
		Locks:    locks,
		Logger:   logger,
	})
	if opts.Relay != nil {
		k.remote = remote.New(opts.Relay, storage, logger)
		k.router.Attach(k.remote)
	}
	return k, nil
}

func (k *Kit) User() scoped.UserID                { return k.user }
func (k *Kit) Router() *router.Router             { return k.router }
func (k *Kit) Sessions() ports.SessionStore       { return k.sessions }
func (k *Kit) Storage() ports.Store               { return k.storage }
func (k *Kit) Signer() ports.Signer               { return k.signer }
func (k *Kit) Limits() *limits.Manager            { return k.limits }
func (k *Kit) RemoteTransport() *remote.Transport { return k.remote }

// Attach routes an additional transport, such as an injected bridge, to
// this kit's router.
func (k *Kit) Attach(tr ports.Transport) {
	k.router.Attach(tr)
}

// Start resumes the remote sessions persisted for this user.
func (k *Kit) Start(ctx context.Context) error {
	if k.remote == nil {
		return nil
	}
	n, err := k.remote.Restore(ctx)
	if err != nil {
		return fmt.Errorf("restore remote sessions: %w", err)
	}
	if n > 0 {
		k.logger.WithField("sessions", n).Info("remote sessions restored")
	}
	return nil
}

// Connect opens a remote session from a dApp connect link. The embedded
// connect request shows up as a pending request.
func (k *Kit) Connect(ctx context.Context, link string) (string, error) {
	if k.remote == nil {
		return "", ErrRemoteDisabled
	}
	return k.remote.Open(ctx, link)
}

// CreateWallet generates a new wallet, subject to the wallet count limit.
func (k *Kit) CreateWallet(ctx context.Context, spec ports.WalletSpec) (*core.Wallet, error) {
	return k.addWallet(ctx, spec, func(spec ports.WalletSpec) (*core.Wallet, error) {
		return k.signer.CreateWallet(ctx, spec)
	})
}

// ImportWallet restores a wallet from its mnemonic, subject to the wallet
// count limit.
func (k *Kit) ImportWallet(ctx context.Context, spec ports.WalletSpec, mnemonic string) (*core.Wallet, error) {
	return k.addWallet(ctx, spec, func(spec ports.WalletSpec) (*core.Wallet, error) {
		return k.signer.ImportWallet(ctx, spec, mnemonic)
	})
}

func (k *Kit) addWallet(ctx context.Context, spec ports.WalletSpec, add func(ports.WalletSpec) (*core.Wallet, error)) (*core.Wallet, error) {
	if spec.Network == "" {
		spec.Network = k.network
	}

	unlock, err := k.locks.Lock(ctx, "wallets:"+k.user.String())
	if err != nil {
		return nil, err
	}
	defer unlock()

	ids, err := k.signer.ListWalletIDs(ctx)
	if err != nil {
		return nil, err
	}
	if err := k.limits.CheckWalletCountLimit(len(ids)).Err(); err != nil {
		return nil, err
	}
	w, err := add(spec)
	if err != nil {
		return nil, err
	}
	k.logger.WithFields(logrus.Fields{"wallet_id": w.ID, "network": w.Network}).Info("wallet added")
	return w, nil
}

// Wallets lists the user's wallets.
func (k *Kit) Wallets(ctx context.Context) ([]core.Wallet, error) {
	ids, err := k.signer.ListWalletIDs(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]core.Wallet, 0, len(ids))
	for _, id := range ids {
		w, err := k.signer.GetWallet(ctx, id)
		if errors.Is(err, core.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, *w)
	}
	return out, nil
}

// Wallet returns an adapter for one of the user's wallets.
func (k *Kit) Wallet(ctx context.Context, id string) (*wallet.Adapter, error) {
	return wallet.New(ctx, k.signer, id, k.chain)
}

// DeleteWallet ends the wallet's sessions and destroys its key.
func (k *Kit) DeleteWallet(ctx context.Context, id string) error {
	if _, err := k.signer.GetWallet(ctx, id); err != nil {
		return err
	}
	if _, err := k.router.DisconnectWallet(ctx, id); err != nil {
		return err
	}
	return k.signer.DeleteWallet(ctx, id)
}

// DailyUsage returns how much the user has spent today.
func (k *Kit) DailyUsage(ctx context.Context) (core.UsageCounter, error) {
	return k.limits.DailyUsage(ctx, k.storage)
}

// Close stops the router and the remote transport. Sessions stay
// persisted.
func (k *Kit) Close() error {
	err := k.router.Close()
	if k.remote != nil {
		err = errors.Join(err, k.remote.Close())
	}
	return err
}
