package remote

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/layer-3/walletkit/core"
	"github.com/layer-3/walletkit/protocol"
)

// ErrNotConnected is returned by Request before the wallet has answered
// the connect request.
var ErrNotConnected = errors.New("wallet has not answered yet")

const (
	DefaultRequestTimeout = 60 * time.Second
	DefaultRestoreTimeout = 5 * time.Minute

	eventBuffer = 16
)

type reply struct {
	msg protocol.Message
	err error
}

// Client is the dApp side of the relay. The wallet's client id is learned
// from the first message it sends.
type Client struct {
	relay          *Relay
	keys           *KeyPair
	logger         logrus.FieldLogger
	requestTimeout time.Duration
	restoreTimeout time.Duration

	seq      atomic.Uint64
	mu       sync.Mutex
	wallet   *[32]byte
	walletID string
	waiters  map[string]chan reply
	events   chan *protocol.Event
	cancel   context.CancelFunc
	closed   bool
}

func NewClient(relay *Relay, logger logrus.FieldLogger) (*Client, error) {
	keys, err := GenerateKeyPair()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Client{
		relay:          relay,
		keys:           keys,
		logger:         logger.WithField("component", "bridge-client"),
		requestTimeout: DefaultRequestTimeout,
		restoreTimeout: DefaultRestoreTimeout,
		waiters:        make(map[string]chan reply),
		events:         make(chan *protocol.Event, eventBuffer),
	}, nil
}

func (c *Client) ClientID() string { return c.keys.ClientID() }

// Link returns the connect link to hand to the wallet.
func (c *Client) Link(req protocol.ConnectRequest) (string, error) {
	return BuildLink(c.ClientID(), req)
}

// Start begins listening for wallet messages.
func (c *Client) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	envs, err := c.relay.Listen(ctx, c.ClientID())
	if err != nil {
		cancel()
		return err
	}
	c.mu.Lock()
	c.cancel = cancel
	c.mu.Unlock()

	go func() {
		for env := range envs {
			c.receive(env)
		}
		c.shutdown()
	}()
	return nil
}

// Events delivers wallet events not answering a request, including the
// connect event that follows a link.
func (c *Client) Events() <-chan *protocol.Event { return c.events }

// WalletID is the wallet's client id, empty until the wallet has spoken.
func (c *Client) WalletID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.walletID
}

// Request sends p to the wallet and waits for the matching reply.
func (c *Client) Request(ctx context.Context, p protocol.Payload) (protocol.Message, error) {
	c.mu.Lock()
	wallet := c.wallet
	c.mu.Unlock()
	if wallet == nil {
		return nil, ErrNotConnected
	}

	id := strconv.FormatUint(c.seq.Add(1), 10)
	frame, err := protocol.Encode(&protocol.Request{ID: id, Payload: p})
	if err != nil {
		return nil, err
	}
	timeout := c.requestTimeout
	if p.Method() == protocol.MethodRestoreConnection {
		timeout = c.restoreTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ch := make(chan reply, 1)
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, core.ErrTransportUnavailable
	}
	c.waiters[id] = ch
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.waiters, id)
		c.mu.Unlock()
	}()

	sealed, err := c.keys.seal(*wallet, frame)
	if err != nil {
		return nil, err
	}
	if err := c.relay.Publish(ctx, c.WalletID(), Envelope{From: c.ClientID(), Message: sealed}, DefaultMessageTTL); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%s: %w", p.Method(), core.ErrTimeout)
		}
		return nil, fmt.Errorf("%w: %v", core.ErrTransportUnavailable, err)
	}

	select {
	case r := <-ch:
		return r.msg, r.err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%s: %w", p.Method(), core.ErrTimeout)
		}
		return nil, ctx.Err()
	}
}

func (c *Client) receive(env Envelope) {
	peer, err := ParseClientID(env.From)
	if err != nil {
		return
	}
	c.mu.Lock()
	if c.wallet != nil && *c.wallet != peer {
		c.mu.Unlock()
		c.logger.WithField("from", env.From).Warn("dropping message from unknown wallet")
		return
	}
	c.mu.Unlock()

	frame, err := c.keys.open(peer, env.Message)
	if err != nil {
		c.logger.WithError(err).Warn("dropping undecryptable message")
		return
	}

	c.mu.Lock()
	if c.wallet == nil {
		c.wallet = &peer
		c.walletID = env.From
	}
	c.mu.Unlock()

	msg, err := protocol.Decode(frame)
	if err != nil {
		var de *protocol.DecodeError
		if errors.As(err, &de) && de.ID != "" {
			c.deliver(de.ID, reply{err: fmt.Errorf("malformed response: %s", de.Reason)})
		}
		return
	}
	switch m := msg.(type) {
	case *protocol.Response:
		c.deliver(m.ID, reply{msg: m})
	case *protocol.Event:
		if c.deliver(m.ID, reply{msg: m}) {
			return
		}
		c.mu.Lock()
		if !c.closed {
			select {
			case c.events <- m:
			default:
			}
		}
		c.mu.Unlock()
	}
}

func (c *Client) deliver(id string, r reply) bool {
	c.mu.Lock()
	ch, ok := c.waiters[id]
	if ok {
		delete(c.waiters, id)
	}
	c.mu.Unlock()
	if ok {
		ch <- r
	}
	return ok
}

func (c *Client) shutdown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	for id, ch := range c.waiters {
		ch <- reply{err: core.ErrTransportUnavailable}
		delete(c.waiters, id)
	}
	close(c.events)
}

// Close stops listening.
func (c *Client) Close() {
	c.mu.Lock()
	cancel := c.cancel
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	c.shutdown()
}
