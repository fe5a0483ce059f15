package router

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"

	"github.com/layer-3/walletkit/core"
	"github.com/layer-3/walletkit/limits"
	"github.com/layer-3/walletkit/ports"
	"github.com/layer-3/walletkit/protocol"
)

// PendingRequest is a snapshot of an inbound request and its decision
// state.
type PendingRequest struct {
	ID            string             `json:"id"`
	SessionID     string             `json:"session_id"`
	Kind          core.RequestKind   `json:"kind"`
	Payload       protocol.Payload   `json:"-"`
	Domain        core.DomainInfo    `json:"domain"`
	WalletID      string             `json:"wallet_id,omitempty"`
	TransportKind core.TransportKind `json:"transport_kind"`
	State         core.RequestState  `json:"state"`
	Reason        string             `json:"reason,omitempty"`
	CreatedAt     time.Time          `json:"created_at"`
	Deadline      time.Time          `json:"deadline"`
	ResolvedAt    *time.Time         `json:"resolved_at,omitempty"`
}

// MarshalJSON renders the payload alongside the other fields.
func (p PendingRequest) MarshalJSON() ([]byte, error) {
	type plain PendingRequest
	return json.Marshal(struct {
		plain
		Payload protocol.Payload `json:"payload"`
	}{plain: plain(p), Payload: p.Payload})
}

// Approval carries the approver's choices.
type Approval struct {
	// WalletID selects the wallet to connect. Required for connect requests
	// and ignored otherwise.
	WalletID string `json:"wallet_id"`
}

// Preview is what an approver sees before deciding on a request.
type Preview struct {
	Request  PendingRequest   `json:"request"`
	Address  string           `json:"address,omitempty"`
	TotalTON *decimal.Decimal `json:"total_ton,omitempty"`
	Limit    *limits.Result   `json:"limit,omitempty"`
	Fees     *ports.Fees      `json:"fees,omitempty"`
	FeeError string           `json:"fee_error,omitempty"`
}

type claimKind int

const (
	unclaimed claimKind = iota
	claimedByDecision
	claimedByExpiry
)

type entry struct {
	req       PendingRequest
	msgID     string
	transport ports.Transport
	claim     claimKind
	timer     *time.Timer
	done      chan struct{}
}

type activeKey struct {
	session string
	kind    core.RequestKind
}
