package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/layer-3/walletkit/core"
	"github.com/layer-3/walletkit/ports"
)

const (
	TopicSessions = "walletkit.sessions"
	TopicRequests = "walletkit.requests"
)

// SessionEvent is published when a session is created or removed
type SessionEvent struct {
	Type      string       `json:"type"`
	Session   core.Session `json:"session"`
	Reason    string       `json:"reason,omitempty"`
	Timestamp time.Time    `json:"timestamp"`
}

// RequestEvent is published when a pending request reaches a terminal state
type RequestEvent struct {
	RequestID string            `json:"request_id"`
	SessionID string            `json:"session_id"`
	Kind      core.RequestKind  `json:"kind"`
	State     core.RequestState `json:"state"`
	Reason    string            `json:"reason,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// WatermillPublisher implements the EventPublisher interface using Watermill
type WatermillPublisher struct {
	publisher message.Publisher
	now       func() time.Time
}

// NewWatermillPublisher creates a new Watermill publisher
func NewWatermillPublisher(publisher message.Publisher) ports.EventPublisher {
	return &WatermillPublisher{
		publisher: publisher,
		now:       time.Now,
	}
}

func (p *WatermillPublisher) PublishSessionConnected(ctx context.Context, s core.Session) error {
	return p.publish(ctx, TopicSessions, SessionEvent{
		Type:      "connected",
		Session:   s,
		Timestamp: p.now().UTC(),
	})
}

func (p *WatermillPublisher) PublishSessionDisconnected(ctx context.Context, s core.Session, reason string) error {
	return p.publish(ctx, TopicSessions, SessionEvent{
		Type:      "disconnected",
		Session:   s,
		Reason:    reason,
		Timestamp: p.now().UTC(),
	})
}

func (p *WatermillPublisher) PublishRequestResolved(ctx context.Context, requestID, sessionID string, kind core.RequestKind, state core.RequestState, reason string) error {
	return p.publish(ctx, TopicRequests, RequestEvent{
		RequestID: requestID,
		SessionID: sessionID,
		Kind:      kind,
		State:     state,
		Reason:    reason,
		Timestamp: p.now().UTC(),
	})
}

func (p *WatermillPublisher) publish(ctx context.Context, topic string, event any) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.SetContext(ctx)

	if err := p.publisher.Publish(topic, msg); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	return nil
}

// NopPublisher discards every event
type NopPublisher struct{}

func (NopPublisher) PublishSessionConnected(context.Context, core.Session) error { return nil }

func (NopPublisher) PublishSessionDisconnected(context.Context, core.Session, string) error {
	return nil
}

func (NopPublisher) PublishRequestResolved(context.Context, string, string, core.RequestKind, core.RequestState, string) error {
	return nil
}
