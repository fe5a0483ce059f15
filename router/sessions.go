package router

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/layer-3/walletkit/core"
	"github.com/layer-3/walletkit/ports"
	"github.com/layer-3/walletkit/protocol"
	"github.com/layer-3/walletkit/wallet"
)

// restore answers restoreConnection without asking the approver.
func (r *Router) restore(ctx context.Context, tr ports.Transport, sessionID, msgID string) {
	s, err := r.deps.Sessions.GetSession(ctx, sessionID)
	if err == nil && (s == nil || s.TransportKind != tr.Kind()) {
		err = core.ErrSessionNotFound
	}
	if err != nil {
		r.send(tr, sessionID, protocol.NewConnectErrorEvent(msgID, protocol.ErrorFromCause(err), err.Error()))
		return
	}

	w, err := wallet.New(ctx, r.deps.Signer, s.WalletID, r.deps.Chain)
	if err != nil {
		r.send(tr, sessionID, protocol.NewConnectErrorEvent(msgID, protocol.ErrorFromCause(err), err.Error()))
		return
	}
	ev, err := protocol.NewEvent(protocol.EventConnect, msgID, protocol.ConnectEventPayload{
		Items:  []protocol.ConnectItemReply{addrItem(w)},
		Device: r.cfg.Device,
	})
	if err != nil {
		r.logger.WithError(err).Error("failed to build restore reply")
		return
	}
	r.logger.WithField("session_id", sessionID).Info("session restored")
	r.send(tr, sessionID, ev)
}

// dappDisconnect handles a disconnect sent by the dApp itself.
func (r *Router) dappDisconnect(ctx context.Context, tr ports.Transport, sessionID, msgID string) {
	s, err := r.deps.Sessions.RemoveSession(ctx, sessionID)
	if err != nil {
		r.send(tr, sessionID, protocol.ErrorResponseFromCause(msgID, err))
		return
	}
	if resp, err := protocol.NewResultResponse(msgID, struct{}{}); err == nil {
		r.send(tr, sessionID, resp)
	}
	r.cancelSession(sessionID, "dApp disconnected")
	r.limiter.Forget(sessionID)
	if s != nil {
		r.forget(ctx, tr, sessionID)
		r.publishDisconnect(ctx, *s, "dApp disconnected")
	}
}

// Disconnect ends a session from the wallet side and tells the dApp.
func (r *Router) Disconnect(ctx context.Context, sessionID string) error {
	s, err := r.deps.Sessions.RemoveSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if s == nil {
		return core.ErrSessionNotFound
	}
	r.endSession(ctx, *s, "wallet disconnected", true)
	return nil
}

// DisconnectWallet ends every session bound to walletID.
func (r *Router) DisconnectWallet(ctx context.Context, walletID string) ([]core.Session, error) {
	removed, err := r.deps.Sessions.RemoveSessions(ctx, core.SessionFilter{WalletID: walletID})
	if err != nil {
		return nil, err
	}
	for _, s := range removed {
		r.endSession(ctx, s, "wallet removed", true)
	}
	return removed, nil
}

// Sessions lists the sessions matching filter.
func (r *Router) Sessions(ctx context.Context, filter core.SessionFilter) ([]core.Session, error) {
	return r.deps.Sessions.GetSessions(ctx, filter)
}

// endSession runs the side effects of a session that was already removed
// from the store.
func (r *Router) endSession(ctx context.Context, s core.Session, reason string, notify bool) {
	r.cancelSession(s.ID, reason)
	r.limiter.Forget(s.ID)
	tr := r.transportFor(s.TransportKind)
	if tr != nil {
		if notify {
			ev, err := protocol.NewEvent(protocol.EventDisconnect, r.nextEventID(), struct{}{})
			if err == nil {
				r.send(tr, s.ID, ev)
			}
		}
		r.forget(ctx, tr, s.ID)
	}
	r.publishDisconnect(ctx, s, reason)
}

func (r *Router) forget(ctx context.Context, tr ports.Transport, sessionID string) {
	f, ok := tr.(forgetter)
	if !ok {
		return
	}
	if err := f.Forget(ctx, sessionID); err != nil {
		r.logger.WithError(err).WithField("session_id", sessionID).Warn("transport failed to forget session")
	}
}

func (r *Router) publishDisconnect(ctx context.Context, s core.Session, reason string) {
	r.logger.WithFields(logrus.Fields{"session_id": s.ID, "reason": reason}).Info("session ended")
	if err := r.deps.Events.PublishSessionDisconnected(ctx, s, reason); err != nil {
		r.logger.WithError(err).Warn("failed to publish session disconnect")
	}
}

// cancelSession rejects every undecided request of sessionID.
func (r *Router) cancelSession(sessionID, reason string) {
	cause := fmt.Errorf("%w: %s", core.ErrSessionClosed, reason)
	r.cancelWhere(reason, cause, func(e *entry) bool { return e.req.SessionID == sessionID })
}

// transportLost rejects the undecided requests that can no longer be
// answered. Sessions are kept so the dApp can restore them later.
func (r *Router) transportLost(tr ports.Transport, sessionID string) {
	kind := tr.Kind()
	cause := fmt.Errorf("%w: transport disconnected", core.ErrTransportUnavailable)
	r.cancelWhere("transport disconnected", cause, func(e *entry) bool {
		return e.req.TransportKind == kind && (sessionID == "" || e.req.SessionID == sessionID)
	})
}

// cancelWhere rejects the undecided requests matching match. Each one still
// gets its terminal reply; delivery is best effort once the peer is gone.
func (r *Router) cancelWhere(reason string, cause error, match func(*entry) bool) {
	var hit []*entry
	r.mu.Lock()
	for _, e := range r.requests {
		if e.claim == unclaimed && e.req.State == core.StateProposed && match(e) {
			e.claim = claimedByDecision
			hit = append(hit, e)
		}
	}
	r.mu.Unlock()

	for _, e := range hit {
		r.settle(e, core.StateRejected, reason, failureFor(e.req.Kind, e.msgID, cause))
	}
}
