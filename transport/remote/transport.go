package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"

	"github.com/layer-3/walletkit/core"
	"github.com/layer-3/walletkit/internal/metrics"
	"github.com/layer-3/walletkit/ports"
	"github.com/layer-3/walletkit/protocol"
)

const (
	// SessionKeyPrefix is where session keypairs are persisted in the
	// user's storage.
	SessionKeyPrefix  = "bridge:session:"
	DefaultMessageTTL = 5 * time.Minute

	// ConnectRequestID is the id given to connect requests delivered
	// through a link, which carries none of its own.
	ConnectRequestID = "0"
)

type sessionRecord struct {
	WalletSecret hexutil.Bytes `json:"wallet_secret"`
	WalletPublic hexutil.Bytes `json:"wallet_public"`
	CreatedAt    time.Time     `json:"created_at"`
}

type session struct {
	id     string
	peer   [32]byte
	keys   *KeyPair
	cancel context.CancelFunc
	// stopped is set when the wallet side ends the subscription on purpose.
	stopped bool
}

// Transport is the wallet side of the relay. Sessions are keyed by the
// dApp's client id; each owns a wallet keypair persisted in storage so it
// survives restarts.
type Transport struct {
	relay      *Relay
	storage    ports.Store
	logger     logrus.FieldLogger
	messageTTL time.Duration
	seen       *expirable.LRU[string, struct{}]
	now        func() time.Time

	mu       sync.RWMutex
	sessions map[string]*session
	handlers map[int]ports.TransportHandler
	nextSub  int
	closed   bool
}

var _ ports.Transport = (*Transport)(nil)

// New creates a transport. storage should be the tenant's scoped storage.
func New(relay *Relay, storage ports.Store, logger logrus.FieldLogger) *Transport {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Transport{
		relay:      relay,
		storage:    storage,
		logger:     logger.WithField("transport", core.TransportRemote),
		messageTTL: DefaultMessageTTL,
		seen:       expirable.NewLRU[string, struct{}](dedupSize, nil, dedupTTL),
		now:        time.Now,
		sessions:   make(map[string]*session),
		handlers:   make(map[int]ports.TransportHandler),
	}
}

func (t *Transport) Kind() core.TransportKind { return core.TransportRemote }

// Open handles a connect link: it sets up the session keypair, starts
// listening and delivers the embedded connect request to subscribers. It
// returns the session id.
func (t *Transport) Open(ctx context.Context, link string) (string, error) {
	l, err := ParseLink(link)
	if err != nil {
		return "", err
	}
	keys, err := t.loadOrCreateKeys(ctx, l.ClientID)
	if err != nil {
		return "", err
	}
	if err := t.attach(l.ClientID, keys); err != nil {
		return "", err
	}

	frame, err := protocol.Encode(&protocol.Request{ID: ConnectRequestID, Payload: l.Request})
	if err != nil {
		return "", err
	}
	metrics.RecordFrame(string(core.TransportRemote), "in")
	t.dispatch(ctx, ports.TransportEvent{Type: ports.TransportFrame, SessionID: l.ClientID, Frame: frame})
	return l.ClientID, nil
}

// Restore resumes listening for every persisted session and returns how
// many were resumed.
func (t *Transport) Restore(ctx context.Context) (int, error) {
	keys, err := t.storage.List(ctx, SessionKeyPrefix)
	if err != nil {
		return 0, err
	}
	restored := 0
	for _, key := range keys {
		id := strings.TrimPrefix(key, SessionKeyPrefix)
		kp, err := t.loadKeys(ctx, id)
		if err != nil {
			t.logger.WithError(err).WithField("session_id", id).Warn("skipping unreadable bridge session")
			continue
		}
		if err := t.attach(id, kp); err != nil {
			return restored, err
		}
		restored++
	}
	return restored, nil
}

func (t *Transport) loadKeys(ctx context.Context, id string) (*KeyPair, error) {
	raw, err := t.storage.Get(ctx, SessionKeyPrefix+id)
	if err != nil {
		return nil, err
	}
	return decodeRecord(raw)
}

func decodeRecord(raw string) (*KeyPair, error) {
	var rec sessionRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return nil, err
	}
	if len(rec.WalletSecret) != 32 || len(rec.WalletPublic) != 32 {
		return nil, errors.New("bridge session record has bad key sizes")
	}
	kp := &KeyPair{}
	copy(kp.Secret[:], rec.WalletSecret)
	copy(kp.Public[:], rec.WalletPublic)
	return kp, nil
}

func (t *Transport) loadOrCreateKeys(ctx context.Context, id string) (*KeyPair, error) {
	var kp *KeyPair
	err := t.storage.Update(ctx, SessionKeyPrefix+id, 0, func(current string, exists bool) (string, error) {
		if exists {
			existing, err := decodeRecord(current)
			if err == nil {
				kp = existing
				return current, nil
			}
		}
		fresh, err := GenerateKeyPair()
		if err != nil {
			return "", err
		}
		kp = fresh
		data, err := json.Marshal(sessionRecord{
			WalletSecret: fresh.Secret[:],
			WalletPublic: fresh.Public[:],
			CreatedAt:    t.now().UTC(),
		})
		return string(data), err
	})
	return kp, err
}

func (t *Transport) attach(id string, keys *KeyPair) error {
	peer, err := ParseClientID(id)
	if err != nil {
		return err
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return core.ErrTransportUnavailable
	}
	if existing, ok := t.sessions[id]; ok && existing.keys.Public == keys.Public {
		t.mu.Unlock()
		return nil
	}
	prev := t.sessions[id]
	ctx, cancel := context.WithCancel(context.Background())
	s := &session{id: id, peer: peer, keys: keys, cancel: cancel}
	t.sessions[id] = s
	if prev != nil {
		prev.stopped = true
	}
	t.mu.Unlock()

	if prev != nil {
		prev.cancel()
	}

	envs, err := t.relay.Listen(ctx, keys.ClientID())
	if err != nil {
		cancel()
		t.mu.Lock()
		if t.sessions[id] == s {
			delete(t.sessions, id)
		}
		t.mu.Unlock()
		return err
	}

	go func() {
		for env := range envs {
			t.receive(s, env)
		}
		t.ended(s)
	}()
	t.logger.WithField("session_id", id).Debug("bridge session listening")
	return nil
}

func (t *Transport) receive(s *session, env Envelope) {
	log := t.logger.WithField("session_id", s.id)
	if env.From != s.id {
		log.WithField("from", env.From).Warn("dropping envelope from unexpected sender")
		return
	}
	frame, err := s.keys.open(s.peer, env.Message)
	if err != nil {
		log.WithError(err).Warn("dropping undecryptable envelope")
		return
	}
	if reqID := gjson.GetBytes(frame, "id").String(); reqID != "" {
		key := s.id + ":" + reqID
		if _, dup := t.seen.Get(key); dup {
			log.WithField("request_id", reqID).Debug("dropping duplicate request")
			return
		}
		t.seen.Add(key, struct{}{})
	}

	metrics.RecordFrame(string(core.TransportRemote), "in")
	t.dispatch(context.Background(), ports.TransportEvent{Type: ports.TransportFrame, SessionID: s.id, Frame: frame})
}

func (t *Transport) ended(s *session) {
	t.mu.Lock()
	stopped := s.stopped
	if t.sessions[s.id] == s {
		delete(t.sessions, s.id)
	}
	t.mu.Unlock()

	if stopped {
		return
	}
	t.logger.WithField("session_id", s.id).Info("bridge subscription lost")
	t.dispatch(context.Background(), ports.TransportEvent{Type: ports.TransportDisconnected, SessionID: s.id})
}

func (t *Transport) Send(ctx context.Context, sessionID string, frame []byte) error {
	t.mu.RLock()
	s := t.sessions[sessionID]
	t.mu.RUnlock()
	if s == nil {
		return fmt.Errorf("session %s: %w", sessionID, core.ErrTransportUnavailable)
	}

	sealed, err := s.keys.seal(s.peer, frame)
	if err != nil {
		return err
	}
	err = t.relay.Publish(ctx, s.id, Envelope{From: s.keys.ClientID(), Message: sealed}, t.messageTTL)
	switch {
	case err == nil:
		metrics.RecordFrame(string(core.TransportRemote), "out")
		return nil
	case errors.Is(err, context.DeadlineExceeded):
		return core.ErrTimeout
	default:
		return fmt.Errorf("session %s: %w: %v", sessionID, core.ErrTransportUnavailable, err)
	}
}

// Forget stops listening for sessionID and deletes its keypair.
func (t *Transport) Forget(ctx context.Context, sessionID string) error {
	t.mu.Lock()
	s := t.sessions[sessionID]
	if s != nil {
		s.stopped = true
		delete(t.sessions, sessionID)
	}
	t.mu.Unlock()

	if s != nil {
		s.cancel()
	}
	return t.storage.Delete(ctx, SessionKeyPrefix+sessionID)
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
	defer t.mu.RUnlock()
	_, ok := t.sessions[sessionID]
	return ok
}

// Close stops every subscription. Persisted sessions are kept for Restore.
func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	sessions := make([]*session, 0, len(t.sessions))
	for id, s := range t.sessions {
		s.stopped = true
		sessions = append(sessions, s)
		delete(t.sessions, id)
	}
	t.mu.Unlock()

	for _, s := range sessions {
		s.cancel()
	}
	return nil
}

func (t *Transport) dispatch(ctx context.Context, ev ports.TransportEvent) {
	t.mu.RLock()
	handlers := make([]ports.TransportHandler, 0, len(t.handlers))
	for _, h := range t.handlers {
		handlers = append(handlers, h)
	}
	t.mu.RUnlock()

	for _, h := range handlers {
		h(ctx, ev)
	}
}
