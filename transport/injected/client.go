package injected

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/layer-3/walletkit/core"
	"github.com/layer-3/walletkit/protocol"
)

// ErrMalformedResponse is returned by Request when the reply cannot be
// decoded or does not match the method that was sent.
var ErrMalformedResponse = errors.New("malformed response from wallet")

const (
	DefaultRestoreTimeout = 5 * time.Minute
	DefaultRequestTimeout = 60 * time.Second

	eventBuffer = 16
)

type reply struct {
	msg protocol.Message
	err error
}

type waiter struct {
	ch     chan reply
	method protocol.Method
}

// wantsEvent reports whether the wallet answers w with a connect or
// connect_error event rather than a response.
func (w waiter) wantsEvent() bool {
	return w.method == protocol.MethodConnect || w.method == protocol.MethodRestoreConnection
}

func isConnectReply(ev *protocol.Event) bool {
	return ev.Name == protocol.EventConnect || ev.Name == protocol.EventConnectError
}

// Client is the dApp side of an injected bridge. It correlates replies to
// requests by id and surfaces unsolicited wallet events on Events.
type Client struct {
	bridge         HostBridge
	restoreTimeout time.Duration
	requestTimeout time.Duration

	seq     atomic.Uint64
	mu      sync.Mutex
	waiters map[string]waiter
	events  chan *protocol.Event
	stop    func()
	closed  bool
}

type ClientOption func(*Client)

// WithTimeouts overrides the restoreConnection and default request
// timeouts. Zero values keep the defaults.
func WithTimeouts(restore, request time.Duration) ClientOption {
	return func(c *Client) {
		if restore > 0 {
			c.restoreTimeout = restore
		}
		if request > 0 {
			c.requestTimeout = request
		}
	}
}

// NewClient returns a dApp side client talking over bridge.
func NewClient(bridge HostBridge, opts ...ClientOption) *Client {
	c := &Client{
		bridge:         bridge,
		restoreTimeout: DefaultRestoreTimeout,
		requestTimeout: DefaultRequestTimeout,
		waiters:        make(map[string]waiter),
		events:         make(chan *protocol.Event, eventBuffer),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.stop = bridge.Listen(c.onFrame, c.onClose)
	return c
}

// Events delivers wallet events that do not answer a pending request, such
// as a wallet initiated disconnect. It is closed when the bridge goes away.
func (c *Client) Events() <-chan *protocol.Event { return c.events }

// Request sends p and waits for the wallet's reply: a *protocol.Event for
// connect and restoreConnection, a *protocol.Response otherwise. A reply of
// the other shape fails with ErrMalformedResponse.
func (c *Client) Request(ctx context.Context, p protocol.Payload) (protocol.Message, error) {
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
	c.waiters[id] = waiter{ch: ch, method: p.Method()}
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.waiters, id)
		c.mu.Unlock()
	}()

	if err := c.bridge.Post(ctx, frame); err != nil {
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

func (c *Client) onFrame(frame []byte) {
	msg, err := protocol.Decode(frame)
	if err != nil {
		var de *protocol.DecodeError
		if errors.As(err, &de) && de.ID != "" {
			c.deliver(de.ID, reply{err: fmt.Errorf("%w: %s", ErrMalformedResponse, de.Reason)})
		}
		return
	}

	switch m := msg.(type) {
	case *protocol.Response:
		c.answer(m.ID, func(w waiter) (reply, bool) {
			if w.wantsEvent() {
				return reply{err: fmt.Errorf("%w: response to %s", ErrMalformedResponse, w.method)}, true
			}
			return reply{msg: m}, true
		})
	case *protocol.Event:
		answered := c.answer(m.ID, func(w waiter) (reply, bool) {
			switch {
			case w.wantsEvent() && isConnectReply(m):
				return reply{msg: m}, true
			case w.wantsEvent() || isConnectReply(m):
				return reply{err: fmt.Errorf("%w: %s event to %s", ErrMalformedResponse, m.Name, w.method)}, true
			}
			// A wallet event that only shares the id, such as disconnect.
			return reply{}, false
		})
		if answered {
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
	case *protocol.Request:
		// wallets never send requests
	}
}

func (c *Client) deliver(id string, r reply) bool {
	return c.answer(id, func(waiter) (reply, bool) { return r, true })
}

// answer hands the waiter for id the reply built by fn, unless fn declines
// the message.
func (c *Client) answer(id string, fn func(waiter) (reply, bool)) bool {
	c.mu.Lock()
	w, ok := c.waiters[id]
	if !ok {
		c.mu.Unlock()
		return false
	}
	r, ok := fn(w)
	if ok {
		delete(c.waiters, id)
	}
	c.mu.Unlock()
	if ok {
		w.ch <- r
	}
	return ok
}

func (c *Client) onClose() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	for id, w := range c.waiters {
		w.ch <- reply{err: core.ErrTransportUnavailable}
		delete(c.waiters, id)
	}
	close(c.events)
}

// Close stops listening on the bridge.
func (c *Client) Close() {
	c.stop()
	c.onClose()
}
