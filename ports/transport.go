package ports

import (
	"context"

	"github.com/layer-3/walletkit/core"
)

// TransportEventType distinguishes inbound frames from status changes.
type TransportEventType int

const (
	TransportFrame TransportEventType = iota
	TransportDisconnected
)

// TransportEvent is delivered to transport subscribers. A disconnected
// event with an empty SessionID applies to every session on the transport.
type TransportEvent struct {
	Type      TransportEventType
	SessionID string
	Frame     []byte
}

// TransportHandler consumes transport events.
type TransportHandler func(ctx context.Context, ev TransportEvent)

// Transport carries protocol frames between dApps and the wallet.
type Transport interface {
	Kind() core.TransportKind
	// Send delivers an outbound frame to the dApp of sessionID. It returns
	// core.ErrTimeout when ctx expires first.
	Send(ctx context.Context, sessionID string, frame []byte) error
	// Subscribe registers h until the returned function is called.
	Subscribe(h TransportHandler) (unsubscribe func())
	IsAvailable(sessionID string) bool
	Close() error
}
