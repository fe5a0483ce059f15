package router

import (
	"context"
	"encoding/hex"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/layer-3/walletkit/core"
	"github.com/layer-3/walletkit/internal/metrics"
	"github.com/layer-3/walletkit/limits"
	"github.com/layer-3/walletkit/protocol"
	"github.com/layer-3/walletkit/wallet"
)

// claim reserves request id for a decision. Only one of a decision and the
// expiry timer ever wins.
func (r *Router) claim(id string) (*entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.requests[id]
	if !ok {
		switch state, pruned := r.pruned.Get(id); {
		case !pruned:
			return nil, core.ErrRequestNotFound
		case state == core.StateExpired:
			return nil, core.ErrStaleRequest
		default:
			return nil, core.ErrNoLongerPending
		}
	}
	switch {
	case e.req.State == core.StateExpired || e.claim == claimedByExpiry:
		return nil, core.ErrStaleRequest
	case e.claim != unclaimed || e.req.State.Terminal():
		return nil, core.ErrNoLongerPending
	case !r.now().Before(e.req.Deadline):
		e.claim = claimedByExpiry
		go r.settleExpired(e)
		return nil, core.ErrStaleRequest
	}
	e.claim = claimedByDecision
	return e, nil
}

// settle moves a claimed request to its terminal state and answers the dApp.
func (r *Router) settle(e *entry, state core.RequestState, reason string, reply protocol.Message) PendingRequest {
	r.send(e.transport, e.req.SessionID, reply)

	now := r.now()
	r.mu.Lock()
	e.req.State = state
	e.req.Reason = reason
	e.req.ResolvedAt = &now
	if e.timer != nil {
		e.timer.Stop()
	}
	key := activeKey{session: e.req.SessionID, kind: e.req.Kind}
	if r.active[key] == e.req.ID {
		delete(r.active, key)
	}
	snapshot := e.req
	close(e.done)
	r.mu.Unlock()

	metrics.PendingDec()
	metrics.RecordResolution(string(snapshot.Kind), string(state))

	r.logger.WithFields(logrus.Fields{
		"request_id": snapshot.ID,
		"session_id": snapshot.SessionID,
		"kind":       snapshot.Kind,
		"state":      state,
		"reason":     reason,
	}).Info("request settled")

	if err := r.deps.Events.PublishRequestResolved(context.Background(), snapshot.ID, snapshot.SessionID, snapshot.Kind, state, reason); err != nil {
		r.logger.WithError(err).Warn("failed to publish request resolution")
	}
	r.notify(snapshot)
	return snapshot
}

func (r *Router) settleExpired(e *entry) PendingRequest {
	return r.settle(e, core.StateExpired, "request expired",
		failureFor(e.req.Kind, e.msgID, core.ErrTimeout))
}

func (r *Router) expire(id string) {
	r.mu.Lock()
	e, ok := r.requests[id]
	if !ok || e.claim != unclaimed {
		r.mu.Unlock()
		return
	}
	e.claim = claimedByExpiry
	r.mu.Unlock()
	r.settleExpired(e)
}

// Approve performs the requested operation and answers the dApp with its
// result. If the operation fails the request is settled as rejected and
// the dApp receives the matching error.
func (r *Router) Approve(ctx context.Context, id string, a Approval) (PendingRequest, error) {
	if req, err := r.Get(id); err == nil && req.Kind == core.RequestConnect && a.WalletID == "" {
		return PendingRequest{}, ErrWalletRequired
	}

	e, err := r.claim(id)
	if err != nil {
		return PendingRequest{}, err
	}

	var reply protocol.Message
	switch p := e.req.Payload.(type) {
	case protocol.ConnectRequest:
		reply, err = r.approveConnect(ctx, e, p, a.WalletID)
	case protocol.SendTransactionRequest:
		reply, err = r.approveTransaction(ctx, e, p)
	case protocol.SignDataRequest:
		reply, err = r.approveSignData(ctx, e, p)
	default:
		err = fmt.Errorf("unsupported request kind %s", e.req.Kind)
	}
	if err != nil {
		r.logger.WithError(err).WithField("request_id", id).Warn("approved request failed")
		snapshot := r.settle(e, core.StateRejected, err.Error(), failureFor(e.req.Kind, e.msgID, err))
		return snapshot, err
	}
	return r.settle(e, core.StateApproved, "", reply), nil
}

// Reject declines a request on behalf of the user.
func (r *Router) Reject(_ context.Context, id, reason string) (PendingRequest, error) {
	e, err := r.claim(id)
	if err != nil {
		return PendingRequest{}, err
	}
	if reason == "" {
		reason = "user declined the request"
	}
	var reply protocol.Message
	if e.req.Kind == core.RequestConnect {
		reply = protocol.NewConnectErrorEvent(e.msgID, protocol.ErrorUserDeclined, reason)
	} else {
		reply = protocol.NewErrorResponse(e.msgID, protocol.ErrorUserDeclined, reason)
	}
	return r.settle(e, core.StateRejected, reason, reply), nil
}

func (r *Router) approveConnect(ctx context.Context, e *entry, req protocol.ConnectRequest, walletID string) (protocol.Message, error) {
	w, err := wallet.New(ctx, r.deps.Signer, walletID, r.deps.Chain)
	if err != nil {
		return nil, err
	}
	payload, err := r.connectPayload(ctx, w, e.req.Domain.Domain, req)
	if err != nil {
		return nil, err
	}

	domain := e.req.Domain
	kind := e.req.TransportKind
	replaced, err := r.deps.Sessions.RemoveSessions(ctx, core.SessionFilter{WalletID: walletID, Domain: domain.Domain, TransportKind: kind})
	if err != nil {
		return nil, err
	}
	reconnect := false
	for _, s := range replaced {
		if s.ID == e.req.SessionID {
			reconnect = true
			continue
		}
		r.endSession(ctx, s, "replaced by a new connection", true)
	}
	old, err := r.deps.Sessions.RemoveSession(ctx, e.req.SessionID)
	if err != nil {
		return nil, err
	}
	if reconnect || old != nil {
		r.cancelSession(e.req.SessionID, "session reconnected")
	}

	s, err := r.deps.Sessions.CreateSession(ctx, e.req.SessionID, domain, walletID, kind)
	if err != nil {
		return nil, err
	}
	if err := r.deps.Events.PublishSessionConnected(ctx, *s); err != nil {
		r.logger.WithError(err).Warn("failed to publish session connect")
	}

	r.mu.Lock()
	e.req.WalletID = walletID
	r.mu.Unlock()

	return protocol.NewEvent(protocol.EventConnect, e.msgID, payload)
}

func (r *Router) connectPayload(ctx context.Context, w *wallet.Adapter, domain string, req protocol.ConnectRequest) (protocol.ConnectEventPayload, error) {
	items := []protocol.ConnectItemReply{addrItem(w)}
	if proofPayload, ok := req.ProofPayload(); ok {
		proof, err := w.SignedTonProof(ctx, wallet.ProofRequest{Domain: domain, Payload: proofPayload})
		if err != nil {
			return protocol.ConnectEventPayload{}, err
		}
		items = append(items, protocol.ConnectItemReply{Name: protocol.ItemTonProof, Proof: proof})
	}
	return protocol.ConnectEventPayload{Items: items, Device: r.cfg.Device}, nil
}

func addrItem(w *wallet.Adapter) protocol.ConnectItemReply {
	return protocol.ConnectItemReply{
		Name:            protocol.ItemTonAddr,
		Address:         w.RawAddress().Raw(),
		Network:         w.Network().ChainID(),
		PublicKey:       hex.EncodeToString(w.PublicKey()),
		WalletStateInit: w.StateInitBase64(),
	}
}

func (r *Router) approveTransaction(ctx context.Context, e *entry, req protocol.SendTransactionRequest) (protocol.Message, error) {
	w, err := wallet.New(ctx, r.deps.Signer, e.req.WalletID, r.deps.Chain)
	if err != nil {
		return nil, err
	}
	amount := limits.FromNano(req.TotalNano())

	// The check, the signature and the usage record happen under one lock
	// so concurrent approvals cannot overshoot the daily limit together.
	unlock, err := r.deps.Locks.Lock(ctx, "limits:"+r.deps.UserID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if r.deps.Limits != nil {
		res, err := r.deps.Limits.CheckTransactionLimit(ctx, r.deps.Storage, amount)
		if err != nil {
			return nil, err
		}
		if !res.Allowed {
			return nil, res.Err()
		}
	}

	tx, err := w.SignedSendTransaction(ctx, req)
	if err != nil {
		return nil, err
	}
	if r.deps.Chain != nil {
		hash, err := w.Broadcast(ctx, tx)
		if err != nil {
			return nil, fmt.Errorf("broadcast: %w", err)
		}
		r.logger.WithFields(logrus.Fields{"request_id": e.req.ID, "hash": hash}).Info("transaction broadcast")
	}
	if r.deps.Limits != nil {
		if err := r.deps.Limits.RecordTransaction(ctx, r.deps.Storage, amount); err != nil {
			r.logger.WithError(err).Error("failed to record transaction usage")
		}
	}
	return protocol.NewResultResponse(e.msgID, tx.BocBase64())
}

func (r *Router) approveSignData(ctx context.Context, e *entry, req protocol.SignDataRequest) (protocol.Message, error) {
	w, err := wallet.New(ctx, r.deps.Signer, e.req.WalletID, r.deps.Chain)
	if err != nil {
		return nil, err
	}
	res, err := w.SignedSignData(ctx, req, e.req.Domain.Domain)
	if err != nil {
		return nil, err
	}
	return protocol.NewResultResponse(e.msgID, res)
}

// Preview gathers what an approver needs to decide on a request. Fee
// estimation failures are reported in the preview, not as an error.
func (r *Router) Preview(ctx context.Context, id string) (Preview, error) {
	req, err := r.Get(id)
	if err != nil {
		return Preview{}, err
	}
	pv := Preview{Request: req}
	if req.WalletID == "" {
		return pv, nil
	}
	w, err := wallet.New(ctx, r.deps.Signer, req.WalletID, r.deps.Chain)
	if err != nil {
		return pv, err
	}
	pv.Address = w.DefaultAddress()

	tx, ok := req.Payload.(protocol.SendTransactionRequest)
	if !ok {
		return pv, nil
	}
	total := limits.FromNano(tx.TotalNano())
	pv.TotalTON = &total
	if r.deps.Limits != nil {
		res, err := r.deps.Limits.CheckTransactionLimit(ctx, r.deps.Storage, total)
		if err != nil {
			return pv, err
		}
		pv.Limit = &res
	}
	if r.deps.Chain != nil {
		fees, err := w.EstimateFee(ctx, tx)
		if err != nil {
			pv.FeeError = err.Error()
		} else {
			pv.Fees = &fees
		}
	}
	return pv, nil
}
