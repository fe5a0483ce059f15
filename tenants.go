package walletkit

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/layer-3/walletkit/internal/keylock"
	"github.com/layer-3/walletkit/scoped"
	"github.com/layer-3/walletkit/transport/remote"
)

// ErrClosed is returned by Tenants once it has been closed.
var ErrClosed = errors.New("walletkit: closed")

// Tenants lazily builds and caches one Kit per user. Kits share the
// options and a lock table so per-user quota checks stay serialized.
type Tenants struct {
	opts  Options
	locks keylock.Locker

	mu     sync.Mutex
	kits   map[string]*Kit
	closed bool
}

// NewTenants returns an empty registry. Kits are built on first Get.
func NewTenants(opts Options) *Tenants {
	return &Tenants{opts: opts, kits: make(map[string]*Kit)}
}

// Get returns the kit of userID, building and starting it on first use.
func (t *Tenants) Get(ctx context.Context, userID string) (*Kit, error) {
	user, err := scoped.NewUserID(userID)
	if err != nil {
		return nil, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, ErrClosed
	}
	if k, ok := t.kits[user.String()]; ok {
		return k, nil
	}

	k, err := New(user, t.opts, &t.locks)
	if err != nil {
		return nil, err
	}
	if err := k.Start(ctx); err != nil {
		_ = k.Close()
		return nil, err
	}
	t.kits[user.String()] = k
	return k, nil
}

// RestoreAll starts the kit of every user with a persisted remote session,
// so their bridges are listened to before the user comes back. It returns
// the users it started. A user that fails to start is logged and skipped.
func (t *Tenants) RestoreAll(ctx context.Context) ([]string, error) {
	if t.opts.Relay == nil {
		return nil, nil
	}
	users, err := scoped.UsersWithKeys(ctx, t.opts.Store, remote.SessionKeyPrefix)
	if err != nil {
		return nil, fmt.Errorf("list users with remote sessions: %w", err)
	}
	started := make([]string, 0, len(users))
	for _, u := range users {
		if _, err := t.Get(ctx, u.String()); err != nil {
			if errors.Is(err, ErrClosed) {
				return started, err
			}
			t.logger().WithError(err).WithField("user_id", u.String()).Warn("failed to restore user")
			continue
		}
		started = append(started, u.String())
	}
	return started, nil
}

func (t *Tenants) logger() logrus.FieldLogger {
	if t.opts.Logger == nil {
		return logrus.StandardLogger()
	}
	return t.opts.Logger
}

// Users lists the users with a live kit.
func (t *Tenants) Users() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, 0, len(t.kits))
	for id := range t.kits {
		out = append(out, id)
	}
	return out
}

// Close closes every kit.
func (t *Tenants) Close() error {
	t.mu.Lock()
	kits := t.kits
	t.kits = make(map[string]*Kit)
	t.closed = true
	t.mu.Unlock()

	var errs []error
	for _, k := range kits {
		errs = append(errs, k.Close())
	}
	return errors.Join(errs...)
}
