package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/layer-3/walletkit/core"
	"github.com/layer-3/walletkit/ports"
)

const sessionKeyPrefix = "session:"

// SessionStore persists sessions as JSON records in a key-value store.
// Creation and removal rely on the store's atomic Update and Take, so
// concurrent callers never duplicate or double-remove a record.
type SessionStore struct {
	kv  ports.Store
	now func() time.Time
}

// NewSessionStore creates a session store over kv.
func NewSessionStore(kv ports.Store) *SessionStore {
	return &SessionStore{kv: kv, now: time.Now}
}

var _ ports.SessionStore = (*SessionStore)(nil)

func sessionKey(id string) string {
	return sessionKeyPrefix + id
}

// CreateSession stores a new session. It fails with core.ErrSessionExists if
// the id is taken.
func (s *SessionStore) CreateSession(ctx context.Context, id string, domain core.DomainInfo, walletID string, kind core.TransportKind) (*core.Session, error) {
	if id == "" || walletID == "" {
		return nil, fmt.Errorf("create session: id and wallet id are required")
	}
	if !kind.Valid() {
		return nil, fmt.Errorf("create session: unknown transport kind %q", kind)
	}

	session := &core.Session{
		ID:            id,
		Domain:        domain.Domain,
		DAppName:      domain.Name,
		ManifestURL:   domain.ManifestURL,
		WalletID:      walletID,
		TransportKind: kind,
		CreatedAt:     s.now().UTC(),
	}
	raw, err := json.Marshal(session)
	if err != nil {
		return nil, fmt.Errorf("marshal session: %w", err)
	}

	err = s.kv.Update(ctx, sessionKey(id), 0, func(_ string, exists bool) (string, error) {
		if exists {
			return "", core.ErrSessionExists
		}
		return string(raw), nil
	})
	if err != nil {
		return nil, err
	}
	return session, nil
}

// GetSession returns the session or nil if it does not exist.
func (s *SessionStore) GetSession(ctx context.Context, id string) (*core.Session, error) {
	raw, err := s.kv.Get(ctx, sessionKey(id))
	if err != nil {
		if errors.Is(err, core.ErrKeyNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return decodeSession(raw)
}

// GetSessions returns every session matching filter, ordered by id.
func (s *SessionStore) GetSessions(ctx context.Context, filter core.SessionFilter) ([]core.Session, error) {
	keys, err := s.kv.List(ctx, sessionKeyPrefix)
	if err != nil {
		return nil, err
	}
	sessions := make([]core.Session, 0, len(keys))
	for _, key := range keys {
		raw, err := s.kv.Get(ctx, key)
		if err != nil {
			if errors.Is(err, core.ErrKeyNotFound) {
				continue
			}
			return nil, err
		}
		session, err := decodeSession(raw)
		if err != nil {
			return nil, err
		}
		if filter.Match(*session) {
			sessions = append(sessions, *session)
		}
	}
	return sessions, nil
}

// RemoveSession deletes and returns the session. Removing an unknown id
// returns nil without error.
func (s *SessionStore) RemoveSession(ctx context.Context, id string) (*core.Session, error) {
	raw, err := s.kv.Take(ctx, sessionKey(id))
	if err != nil {
		if errors.Is(err, core.ErrKeyNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return decodeSession(raw)
}

// RemoveSessions deletes every session matching filter and returns the ones
// this call actually removed.
func (s *SessionStore) RemoveSessions(ctx context.Context, filter core.SessionFilter) ([]core.Session, error) {
	matching, err := s.GetSessions(ctx, filter)
	if err != nil {
		return nil, err
	}
	removed := make([]core.Session, 0, len(matching))
	for _, m := range matching {
		session, err := s.RemoveSession(ctx, m.ID)
		if err != nil {
			return removed, err
		}
		if session != nil {
			removed = append(removed, *session)
		}
	}
	return removed, nil
}

// ClearSessions removes every session.
func (s *SessionStore) ClearSessions(ctx context.Context) error {
	_, err := s.RemoveSessions(ctx, core.SessionFilter{})
	return err
}

func decodeSession(raw string) (*core.Session, error) {
	var session core.Session
	if err := json.Unmarshal([]byte(raw), &session); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	return &session, nil
}
