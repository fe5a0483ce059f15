package scoped

import (
	"context"
	"strings"
	"time"

	"github.com/layer-3/walletkit/core"
	"github.com/layer-3/walletkit/ports"
)

// Storage is a ports.Store whose keys live under user:{id}:.
type Storage struct {
	kv     ports.Store
	user   UserID
	prefix string
}

var _ ports.Store = (*Storage)(nil)

func NewStorage(kv ports.Store, user UserID) (*Storage, error) {
	if user.IsZero() {
		return nil, core.ErrInvalidUserID
	}
	return &Storage{kv: kv, user: user, prefix: user.storagePrefix()}, nil
}

func (s *Storage) User() UserID { return s.user }

func (s *Storage) key(k string) string { return s.prefix + k }

func (s *Storage) Get(ctx context.Context, key string) (string, error) {
	return s.kv.Get(ctx, s.key(key))
}

func (s *Storage) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return s.kv.Set(ctx, s.key(key), value, ttl)
}

func (s *Storage) Delete(ctx context.Context, key string) error {
	return s.kv.Delete(ctx, s.key(key))
}

// List returns the caller's keys starting with prefix, with the namespace
// removed. Keys outside the namespace are dropped even if the backend
// returns them.
func (s *Storage) List(ctx context.Context, prefix string) ([]string, error) {
	keys, err := s.kv.List(ctx, s.key(prefix))
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		rest, ok := strings.CutPrefix(k, s.prefix)
		if !ok || !strings.HasPrefix(rest, prefix) {
			continue
		}
		out = append(out, rest)
	}
	return out, nil
}

func (s *Storage) Update(ctx context.Context, key string, ttl time.Duration, fn ports.UpdateFunc) error {
	return s.kv.Update(ctx, s.key(key), ttl, fn)
}

func (s *Storage) Take(ctx context.Context, key string) (string, error) {
	return s.kv.Take(ctx, s.key(key))
}
