// Package injected carries protocol frames over a bridge injected into the
// dApp page by its host.
package injected

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/layer-3/walletkit/core"
	"github.com/layer-3/walletkit/internal/metrics"
	"github.com/layer-3/walletkit/ports"
)

type attachment struct {
	bridge HostBridge
	stop   func()
}

// Transport is the wallet side of injected bridges. Each attached bridge is
// addressed by the session id it was attached under.
type Transport struct {
	logger logrus.FieldLogger

	mu       sync.RWMutex
	bridges  map[string]*attachment
	handlers map[int]ports.TransportHandler
	nextSub  int
	closed   bool
}

var _ ports.Transport = (*Transport)(nil)

// New returns a transport with no bridges registered.
func New(logger logrus.FieldLogger) *Transport {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Transport{
		logger:   logger.WithField("transport", core.TransportInjected),
		bridges:  make(map[string]*attachment),
		handlers: make(map[int]ports.TransportHandler),
	}
}

func (t *Transport) Kind() core.TransportKind { return core.TransportInjected }

// Attach starts serving sessionID over bridge. A bridge already attached
// under the same id is detached first.
func (t *Transport) Attach(sessionID string, bridge HostBridge) error {
	if sessionID == "" {
		return errors.New("session id is required")
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return core.ErrTransportUnavailable
	}
	var prevStop func()
	if prev := t.bridges[sessionID]; prev != nil {
		prevStop = prev.stop
	}
	a := &attachment{bridge: bridge}
	t.bridges[sessionID] = a
	t.mu.Unlock()

	if prevStop != nil {
		prevStop()
	}

	stop := bridge.Listen(
		func(frame []byte) {
			metrics.RecordFrame(string(core.TransportInjected), "in")
			t.dispatch(ports.TransportEvent{Type: ports.TransportFrame, SessionID: sessionID, Frame: frame})
		},
		func() { t.lost(sessionID, a) },
	)

	t.mu.Lock()
	a.stop = stop
	current := t.bridges[sessionID] == a
	t.mu.Unlock()
	if !current {
		stop()
		return nil
	}
	t.logger.WithField("session_id", sessionID).Debug("bridge attached")
	return nil
}

// Detach stops serving sessionID and reports it as disconnected.
func (t *Transport) Detach(sessionID string) {
	t.mu.RLock()
	a := t.bridges[sessionID]
	t.mu.RUnlock()
	if a != nil {
		t.lost(sessionID, a)
	}
}

func (t *Transport) lost(sessionID string, a *attachment) {
	t.mu.Lock()
	if t.bridges[sessionID] != a {
		t.mu.Unlock()
		return
	}
	delete(t.bridges, sessionID)
	stop := a.stop
	t.mu.Unlock()

	if stop != nil {
		stop()
	}
	t.logger.WithField("session_id", sessionID).Info("bridge lost")
	t.dispatch(ports.TransportEvent{Type: ports.TransportDisconnected, SessionID: sessionID})
}

func (t *Transport) Send(ctx context.Context, sessionID string, frame []byte) error {
	t.mu.RLock()
	a := t.bridges[sessionID]
	t.mu.RUnlock()
	if a == nil || !a.bridge.Available() {
		return fmt.Errorf("session %s: %w", sessionID, core.ErrTransportUnavailable)
	}

	done := make(chan error, 1)
	go func() { done <- a.bridge.Post(ctx, frame) }()

	select {
	case err := <-done:
		if err == nil {
			metrics.RecordFrame(string(core.TransportInjected), "out")
			return nil
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return core.ErrTimeout
		}
		return fmt.Errorf("session %s: %w: %v", sessionID, core.ErrTransportUnavailable, err)
	case <-ctx.Done():
		return core.ErrTimeout
	}
}

func (t *Transport) Subscribe(h ports.TransportHandler) func() {
	t.mu.Lock()
	id := t.nextSub
	t.nextSub++
	t.handlers[id] = h
	t.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			t.mu.Lock()
			delete(t.handlers, id)
			t.mu.Unlock()
		})
	}
}

func (t *Transport) IsAvailable(sessionID string) bool {
	t.mu.RLock()
	a := t.bridges[sessionID]
	t.mu.RUnlock()
	return a != nil && a.bridge.Available()
}

// Close detaches every bridge. Subscribers see one disconnected event per
// session.
func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	ids := make([]string, 0, len(t.bridges))
	for id := range t.bridges {
		ids = append(ids, id)
	}
	t.mu.Unlock()

	for _, id := range ids {
		t.Detach(id)
	}
	return nil
}

func (t *Transport) dispatch(ev ports.TransportEvent) {
	t.mu.RLock()
	handlers := make([]ports.TransportHandler, 0, len(t.handlers))
	for _, h := range t.handlers {
		handlers = append(handlers, h)
	}
	t.mu.RUnlock()

	for _, h := range handlers {
		h(context.Background(), ev)
	}
}
