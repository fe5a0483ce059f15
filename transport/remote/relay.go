// Package remote carries protocol frames through a bridge relay with end to
// end encryption between the dApp and the wallet.
package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/sirupsen/logrus"
)

const (
	topicPrefix = "walletkit.bridge."

	dedupSize = 4096
	dedupTTL  = 10 * time.Minute

	metadataTTL = "ttl"
)

// ErrInvalidEnvelope is returned for relay messages missing an address
// or a body.
var ErrInvalidEnvelope = errors.New("invalid bridge envelope")

// Envelope is what travels through the relay: the sender's client id and
// the base64 encoded sealed message.
type Envelope struct {
	From    string `json:"from"`
	Message string `json:"message"`
}

// Topic returns the relay topic a client id receives on.
func Topic(clientID string) string {
	return topicPrefix + clientID
}

// Relay moves envelopes between client ids over watermill.
type Relay struct {
	pub    message.Publisher
	sub    message.Subscriber
	logger logrus.FieldLogger
}

// NewRelay builds a relay on top of a watermill publisher and subscriber.
func NewRelay(pub message.Publisher, sub message.Subscriber, logger logrus.FieldLogger) *Relay {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Relay{pub: pub, sub: sub, logger: logger.WithField("component", "relay")}
}

// Publish sends env to the client id to. ttl is advisory and carried as
// metadata for relays that honour it.
func (r *Relay) Publish(ctx context.Context, to string, env Envelope, ttl time.Duration) error {
	if to == "" || env.From == "" || env.Message == "" {
		return ErrInvalidEnvelope
	}
	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal envelope: %w", err)
	}
	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.SetContext(ctx)
	if ttl > 0 {
		msg.Metadata.Set(metadataTTL, fmt.Sprintf("%d", int(ttl.Seconds())))
	}

	done := make(chan error, 1)
	go func() { done <- r.pub.Publish(Topic(to), msg) }()
	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("failed to publish envelope: %w", err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Listen streams envelopes addressed to clientID until ctx is done or the
// subscription ends, then closes the returned channel. Redelivered watermill
// messages are dropped.
func (r *Relay) Listen(ctx context.Context, clientID string) (<-chan Envelope, error) {
	msgs, err := r.sub.Subscribe(ctx, Topic(clientID))
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe: %w", err)
	}

	seen := expirable.NewLRU[string, struct{}](dedupSize, nil, dedupTTL)
	out := make(chan Envelope)
	go func() {
		defer close(out)
		for msg := range msgs {
			msg.Ack()
			if _, dup := seen.Get(msg.UUID); dup {
				continue
			}
			seen.Add(msg.UUID, struct{}{})

			var env Envelope
			if err := json.Unmarshal(msg.Payload, &env); err != nil || env.From == "" || env.Message == "" {
				r.logger.WithField("client_id", clientID).Warn("dropping malformed envelope")
				continue
			}
			select {
			case out <- env:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}
