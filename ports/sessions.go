package ports

import (
	"context"

	"github.com/layer-3/walletkit/core"
)

// SessionStore keeps dApp-wallet pairings. Removal is idempotent: removing
// an unknown session returns nil without error.
type SessionStore interface {
	CreateSession(ctx context.Context, id string, domain core.DomainInfo, walletID string, kind core.TransportKind) (*core.Session, error)
	GetSession(ctx context.Context, id string) (*core.Session, error)
	GetSessions(ctx context.Context, filter core.SessionFilter) ([]core.Session, error)
	RemoveSession(ctx context.Context, id string) (*core.Session, error)
	RemoveSessions(ctx context.Context, filter core.SessionFilter) ([]core.Session, error)
	ClearSessions(ctx context.Context) error
}
