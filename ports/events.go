package ports

import (
	"context"

	"github.com/layer-3/walletkit/core"
)

// EventPublisher notifies other components and instances about session and
// request lifecycle changes.
type EventPublisher interface {
	PublishSessionConnected(ctx context.Context, s core.Session) error
	PublishSessionDisconnected(ctx context.Context, s core.Session, reason string) error
	PublishRequestResolved(ctx context.Context, requestID, sessionID string, kind core.RequestKind, state core.RequestState, reason string) error
}
