// Package scoped confines storage and signing to a single user namespace.
package scoped

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/layer-3/walletkit/core"
	"github.com/layer-3/walletkit/ports"
)

const storageRoot = "user:"

var userIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,128}$`)

// UserID identifies a tenant user. It can only be obtained through
// NewUserID, so every namespace prefix is built from a validated id.
type UserID struct {
	id string
}

// NewUserID validates raw and wraps it. Colons are not allowed, which keeps
// one user's prefix from ever being a prefix of another's.
func NewUserID(raw string) (UserID, error) {
	if !userIDPattern.MatchString(raw) {
		return UserID{}, fmt.Errorf("%w: %q", core.ErrInvalidUserID, raw)
	}
	return UserID{id: raw}, nil
}

// MustUserID is NewUserID for constants and tests.
func MustUserID(raw string) UserID {
	u, err := NewUserID(raw)
	if err != nil {
		panic(err)
	}
	return u
}

func (u UserID) String() string { return u.id }

func (u UserID) IsZero() bool { return u.id == "" }

func (u UserID) storagePrefix() string { return storageRoot + u.id + ":" }

func (u UserID) signerPrefix() string { return u.id + ":" }

// UsersWithKeys lists, in order, the users of kv that own at least one key
// starting with prefix inside their namespace. Keys that do not parse as a
// valid namespace are ignored.
func UsersWithKeys(ctx context.Context, kv ports.Store, prefix string) ([]UserID, error) {
	keys, err := kv.List(ctx, storageRoot)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{})
	var users []UserID
	for _, k := range keys {
		id, rest, ok := strings.Cut(strings.TrimPrefix(k, storageRoot), ":")
		if !ok || !strings.HasPrefix(rest, prefix) {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		u, err := NewUserID(id)
		if err != nil {
			continue
		}
		seen[id] = struct{}{}
		users = append(users, u)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].id < users[j].id })
	return users, nil
}
