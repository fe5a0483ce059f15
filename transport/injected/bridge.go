package injected

import (
	"context"
	"errors"
	"sync"
)

// ErrBridgeClosed is returned when posting to a closed pipe.
var ErrBridgeClosed = errors.New("bridge closed")

// HostBridge is the channel an embedding host provides between a page and
// the wallet. Frames posted on one side are delivered to the listeners of
// the other side in order.
type HostBridge interface {
	Post(ctx context.Context, frame []byte) error
	// Listen registers callbacks until stop is called. onClose runs once when
	// the bridge goes away.
	Listen(onFrame func(frame []byte), onClose func()) (stop func())
	Available() bool
}

const pipeBuffer = 64

type listener struct {
	onFrame func([]byte)
	onClose func()
}

// PipeEnd is one side of an in-memory bridge.
type PipeEnd struct {
	peer   *PipeEnd
	inbox  chan []byte
	closed chan struct{}
	once   sync.Once

	mu        sync.Mutex
	listeners map[int]listener
	nextID    int
}

var _ HostBridge = (*PipeEnd)(nil)

// Pipe returns two connected bridge ends, typically handed to the wallet
// transport and to a Client.
func Pipe() (*PipeEnd, *PipeEnd) {
	a := &PipeEnd{inbox: make(chan []byte, pipeBuffer), closed: make(chan struct{}), listeners: make(map[int]listener)}
	b := &PipeEnd{inbox: make(chan []byte, pipeBuffer), closed: make(chan struct{}), listeners: make(map[int]listener)}
	a.peer, b.peer = b, a
	go a.pump()
	go b.pump()
	return a, b
}

func (e *PipeEnd) Post(ctx context.Context, frame []byte) error {
	if !e.Available() {
		return ErrBridgeClosed
	}
	buf := append([]byte(nil), frame...)
	select {
	case e.peer.inbox <- buf:
		return nil
	case <-e.closed:
		return ErrBridgeClosed
	case <-e.peer.closed:
		return ErrBridgeClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *PipeEnd) Listen(onFrame func([]byte), onClose func()) func() {
	e.mu.Lock()
	id := e.nextID
	e.nextID++
	e.listeners[id] = listener{onFrame: onFrame, onClose: onClose}
	e.mu.Unlock()

	return func() {
		e.mu.Lock()
		delete(e.listeners, id)
		e.mu.Unlock()
	}
}

func (e *PipeEnd) Available() bool {
	select {
	case <-e.closed:
		return false
	case <-e.peer.closed:
		return false
	default:
		return true
	}
}

// Close tears down both directions.
func (e *PipeEnd) Close() error {
	e.once.Do(func() { close(e.closed) })
	return nil
}

func (e *PipeEnd) snapshot() []listener {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]listener, 0, len(e.listeners))
	for _, l := range e.listeners {
		out = append(out, l)
	}
	return out
}

func (e *PipeEnd) pump() {
	for {
		select {
		case frame := <-e.inbox:
			for _, l := range e.snapshot() {
				l.onFrame(frame)
			}
		case <-e.closed:
			e.notifyClosed()
			return
		case <-e.peer.closed:
			e.notifyClosed()
			return
		}
	}
}

func (e *PipeEnd) notifyClosed() {
	for _, l := range e.snapshot() {
		if l.onClose != nil {
			l.onClose()
		}
	}
}
