// Package router turns inbound dApp requests into pending requests, waits
// for an approver's decision and answers the dApp exactly once.
package router

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"

	"github.com/layer-3/walletkit/adapters/events"
	"github.com/layer-3/walletkit/core"
	"github.com/layer-3/walletkit/internal/keylock"
	"github.com/layer-3/walletkit/internal/metrics"
	"github.com/layer-3/walletkit/internal/ratelimit"
	"github.com/layer-3/walletkit/ports"
	"github.com/layer-3/walletkit/protocol"
)

// ErrWalletRequired is returned when a connect request is approved without
// naming the wallet to connect.
var ErrWalletRequired = errors.New("a wallet id is required to approve a connect request")

// forgetter is implemented by transports that keep per-session state.
type forgetter interface {
	Forget(ctx context.Context, sessionID string) error
}

// Router owns the request lifecycle of one user. Every pending request it
// holds is answered to the dApp exactly once.
type Router struct {
	cfg     Config
	deps    Deps
	logger  logrus.FieldLogger
	limiter *ratelimit.Limiter
	now     func() time.Time
	// eventSeq numbers wallet initiated events.
	eventSeq atomic.Uint64

	mu          sync.Mutex
	requests    map[string]*entry
	pruned      *expirable.LRU[string, core.RequestState]
	active      map[activeKey]string
	transports  map[core.TransportKind]ports.Transport
	unsubscribe []func()
	subs        map[int]*Subscription
	nextSub     int
	closed      bool
}

// New builds a router. Missing optional deps get no-op defaults; the router
// routes nothing until a transport is attached.
func New(cfg Config, deps Deps) *Router {
	cfg = cfg.withDefaults()
	if deps.Logger == nil {
		deps.Logger = logrus.StandardLogger()
	}
	if deps.Events == nil {
		deps.Events = events.NopPublisher{}
	}
	if deps.Locks == nil {
		deps.Locks = &keylock.Locker{}
	}
	return &Router{
		cfg:        cfg,
		deps:       deps,
		logger:     deps.Logger.WithFields(logrus.Fields{"component": "router", "user_id": deps.UserID}),
		limiter:    ratelimit.New(cfg.InboundRPS, cfg.InboundBurst, 0),
		now:        time.Now,
		requests:   make(map[string]*entry),
		pruned:     expirable.NewLRU[string, core.RequestState](tombstoneSize, nil, cfg.Retention+tombstoneTTL),
		active:     make(map[activeKey]string),
		transports: make(map[core.TransportKind]ports.Transport),
		subs:       make(map[int]*Subscription),
	}
}

// Attach routes every event of tr through the router until Close.
func (r *Router) Attach(tr ports.Transport) {
	unsub := tr.Subscribe(func(ctx context.Context, ev ports.TransportEvent) {
		r.HandleEvent(ctx, tr, ev)
	})
	r.mu.Lock()
	r.transports[tr.Kind()] = tr
	r.unsubscribe = append(r.unsubscribe, unsub)
	r.mu.Unlock()
}

// HandleEvent processes one transport event.
func (r *Router) HandleEvent(ctx context.Context, tr ports.Transport, ev ports.TransportEvent) {
	switch ev.Type {
	case ports.TransportDisconnected:
		r.transportLost(tr, ev.SessionID)
	case ports.TransportFrame:
		r.handleFrame(ctx, tr, ev.SessionID, ev.Frame)
	}
}

func (r *Router) handleFrame(ctx context.Context, tr ports.Transport, sessionID string, frame []byte) {
	log := r.logger.WithFields(logrus.Fields{"session_id": sessionID, "transport": tr.Kind()})

	if !r.limiter.Allow(sessionID, r.now()) {
		if id := gjson.GetBytes(frame, "id").String(); id != "" {
			r.send(tr, sessionID, failureFor(methodKind(frame), id, core.ErrRateLimited))
		}
		log.Warn("inbound request rate limited")
		return
	}

	msg, err := protocol.Decode(frame)
	if err != nil {
		var de *protocol.DecodeError
		if errors.As(err, &de) && de.ID != "" {
			r.send(tr, sessionID, failureFor(methodKind(frame), de.ID, err))
		}
		log.WithError(err).Warn("dropping malformed frame")
		return
	}
	req, ok := msg.(*protocol.Request)
	if !ok {
		log.WithField("id", msg.CorrelationID()).Warn("ignoring non-request frame")
		return
	}

	switch p := req.Payload.(type) {
	case protocol.ConnectRequest:
		domain := core.DomainInfo{Domain: p.Domain(), Name: p.Domain(), ManifestURL: p.ManifestURL}
		r.propose(tr, sessionID, req.ID, core.RequestConnect, p, domain, "")
	case protocol.RestoreConnectionRequest:
		r.restore(ctx, tr, sessionID, req.ID)
	case protocol.SendTransactionRequest:
		r.proposeForSession(ctx, tr, sessionID, req.ID, core.RequestSendTransaction, p)
	case protocol.SignDataRequest:
		r.proposeForSession(ctx, tr, sessionID, req.ID, core.RequestSignData, p)
	case protocol.DisconnectRequest:
		r.dappDisconnect(ctx, tr, sessionID, req.ID)
	}
}

// methodKind guesses the request kind of a frame that may not decode, so
// connect failures can be answered with connect_error.
func methodKind(frame []byte) core.RequestKind {
	if protocol.Method(gjson.GetBytes(frame, "method").String()) == protocol.MethodConnect {
		return core.RequestConnect
	}
	return ""
}

func (r *Router) proposeForSession(ctx context.Context, tr ports.Transport, sessionID, msgID string, kind core.RequestKind, payload protocol.Payload) {
	s, err := r.deps.Sessions.GetSession(ctx, sessionID)
	if err != nil {
		r.send(tr, sessionID, failureFor(kind, msgID, err))
		return
	}
	if s == nil || s.TransportKind != tr.Kind() {
		r.send(tr, sessionID, failureFor(kind, msgID, core.ErrSessionNotFound))
		return
	}

	if tx, ok := payload.(protocol.SendTransactionRequest); ok {
		if err := r.precheckTransaction(ctx, s, tx); err != nil {
			r.send(tr, sessionID, failureFor(kind, msgID, err))
			return
		}
	}

	domain := core.DomainInfo{Domain: s.Domain, Name: s.DAppName, ManifestURL: s.ManifestURL}
	r.propose(tr, sessionID, msgID, kind, payload, domain, s.WalletID)
}

func (r *Router) precheckTransaction(ctx context.Context, s *core.Session, tx protocol.SendTransactionRequest) error {
	if tx.ValidUntil != 0 && tx.ValidUntil <= r.now().Unix() {
		return fmt.Errorf("%w: valid_until %d is in the past", core.ErrDecode, tx.ValidUntil)
	}
	if tx.Network == "" {
		return nil
	}
	w, err := r.deps.Signer.GetWallet(ctx, s.WalletID)
	if err != nil {
		return err
	}
	if w.Network.ChainID() != tx.Network {
		return fmt.Errorf("%w: wallet is on network %s, request targets %s", core.ErrDecode, w.Network.ChainID(), tx.Network)
	}
	return nil
}

func (r *Router) propose(tr ports.Transport, sessionID, msgID string, kind core.RequestKind, payload protocol.Payload, domain core.DomainInfo, walletID string) {
	now := r.now()
	e := &entry{
		req: PendingRequest{
			ID:            uuid.NewString(),
			SessionID:     sessionID,
			Kind:          kind,
			Payload:       payload,
			Domain:        domain,
			WalletID:      walletID,
			TransportKind: tr.Kind(),
			State:         core.StateProposed,
			CreatedAt:     now,
			Deadline:      now.Add(r.cfg.RequestTTL),
		},
		msgID:     msgID,
		transport: tr,
		done:      make(chan struct{}),
	}
	log := r.logger.WithFields(logrus.Fields{"session_id": sessionID, "kind": kind, "request_id": e.req.ID})

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		r.send(tr, sessionID, failureFor(kind, msgID, core.ErrTransportUnavailable))
		return
	}
	r.pruneLocked(now)

	var expired, superseded *entry
	key := activeKey{session: sessionID, kind: kind}
	if id, ok := r.active[key]; ok {
		old := r.requests[id]
		switch {
		case old.claim == unclaimed && !now.Before(old.req.Deadline):
			old.claim = claimedByExpiry
			expired = old
		case r.cfg.ConflictPolicy == SupersedeOld && old.claim == unclaimed:
			old.claim = claimedByDecision
			superseded = old
		default:
			r.mu.Unlock()
			log.Info("rejecting request, another of the same kind is pending")
			r.send(tr, sessionID, failureFor(kind, msgID, fmt.Errorf("%w: %s", core.ErrConflict, old.req.ID)))
			return
		}
	}

	r.requests[e.req.ID] = e
	r.active[key] = e.req.ID
	id := e.req.ID
	e.timer = time.AfterFunc(r.cfg.RequestTTL, func() { r.expire(id) })
	snapshot := e.req
	r.mu.Unlock()

	metrics.PendingInc()
	if expired != nil {
		r.settleExpired(expired)
	}
	if superseded != nil {
		r.settle(superseded, core.StateRejected, "superseded by a newer request",
			failureFor(superseded.req.Kind, superseded.msgID, fmt.Errorf("%w: superseded", core.ErrConflict)))
	}
	log.Info("request proposed")
	r.notify(snapshot)
}

// Pending returns the requests awaiting a decision, oldest first. Requests
// past their deadline are expired on the way.
func (r *Router) Pending() []PendingRequest {
	now := r.now()
	var overdue []*entry
	out := make([]PendingRequest, 0)

	r.mu.Lock()
	for _, e := range r.requests {
		if e.req.State != core.StateProposed || e.claim != unclaimed {
			continue
		}
		if !now.Before(e.req.Deadline) {
			e.claim = claimedByExpiry
			overdue = append(overdue, e)
			continue
		}
		out = append(out, e.req)
	}
	r.mu.Unlock()

	for _, e := range overdue {
		r.settleExpired(e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Get returns the current snapshot of a request.
func (r *Router) Get(id string) (PendingRequest, error) {
	r.mu.Lock()
	e, ok := r.requests[id]
	if !ok {
		r.mu.Unlock()
		return PendingRequest{}, core.ErrRequestNotFound
	}
	if e.claim == unclaimed && e.req.State == core.StateProposed && !r.now().Before(e.req.Deadline) {
		e.claim = claimedByExpiry
		r.mu.Unlock()
		return r.settleExpired(e), nil
	}
	snapshot := e.req
	r.mu.Unlock()
	return snapshot, nil
}

// Wait blocks until the request reaches a terminal state or ctx is done.
func (r *Router) Wait(ctx context.Context, id string) (PendingRequest, error) {
	r.mu.Lock()
	e, ok := r.requests[id]
	r.mu.Unlock()
	if !ok {
		return PendingRequest{}, core.ErrRequestNotFound
	}
	select {
	case <-e.done:
		r.mu.Lock()
		defer r.mu.Unlock()
		return e.req, nil
	case <-ctx.Done():
		return PendingRequest{}, ctx.Err()
	}
}

// Close rejects every undecided request, detaches from transports and
// closes all subscriptions.
func (r *Router) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	unsubs := r.unsubscribe
	r.unsubscribe = nil
	var open []*entry
	for _, e := range r.requests {
		if e.claim == unclaimed && e.req.State == core.StateProposed {
			e.claim = claimedByDecision
			open = append(open, e)
		}
	}
	r.mu.Unlock()

	for _, unsub := range unsubs {
		unsub()
	}
	for _, e := range open {
		r.settle(e, core.StateRejected, "wallet shutting down",
			failureFor(e.req.Kind, e.msgID, core.ErrTransportUnavailable))
	}

	r.mu.Lock()
	for id, s := range r.subs {
		close(s.ch)
		delete(r.subs, id)
	}
	r.mu.Unlock()
	return nil
}

// pruneLocked forgets settled requests older than the retention window,
// leaving a tombstone with the final state so late decisions still get the
// right error.
func (r *Router) pruneLocked(now time.Time) {
	cutoff := now.Add(-r.cfg.Retention)
	for id, e := range r.requests {
		if e.req.ResolvedAt != nil && e.req.ResolvedAt.Before(cutoff) {
			r.pruned.Add(id, e.req.State)
			delete(r.requests, id)
		}
	}
}

func (r *Router) send(tr ports.Transport, sessionID string, msg protocol.Message) {
	if msg == nil {
		return
	}
	frame, err := protocol.Encode(msg)
	if err != nil {
		r.logger.WithError(err).Error("failed to encode outbound message")
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), r.cfg.SendTimeout)
	defer cancel()
	if err := tr.Send(ctx, sessionID, frame); err != nil {
		r.logger.WithError(err).WithFields(logrus.Fields{
			"session_id": sessionID,
			"id":         msg.CorrelationID(),
		}).Warn("failed to deliver message")
	}
}

func (r *Router) nextEventID() string {
	return strconv.FormatUint(r.eventSeq.Add(1), 10)
}

func (r *Router) transportFor(kind core.TransportKind) ports.Transport {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.transports[kind]
}

// failureFor builds the terminal reply for a failed request: a
// connect_error event for connects, an error response otherwise.
func failureFor(kind core.RequestKind, msgID string, err error) protocol.Message {
	if kind == core.RequestConnect {
		return protocol.NewConnectErrorEvent(msgID, protocol.ErrorFromCause(err), err.Error())
	}
	return protocol.ErrorResponseFromCause(msgID, err)
}
