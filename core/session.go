package core

import "time"

// TransportKind identifies the channel a session was established over.
type TransportKind string

const (
	TransportInjected TransportKind = "injected"
	TransportRemote   TransportKind = "remote"
)

// Valid reports whether k is a known transport kind.
func (k TransportKind) Valid() bool {
	return k == TransportInjected || k == TransportRemote
}

// DomainInfo describes the dApp that initiated a connection.
type DomainInfo struct {
	Domain      string `json:"domain"`
	Name        string `json:"name,omitempty"`
	ManifestURL string `json:"manifest_url,omitempty"`
}

// Session represents a persistent binding between a dApp origin and a wallet
// over one transport. It never carries key material.
type Session struct {
	ID            string        `json:"id"`
	Domain        string        `json:"domain"`
	DAppName      string        `json:"dapp_name,omitempty"`
	ManifestURL   string        `json:"manifest_url,omitempty"`
	WalletID      string        `json:"wallet_id"`
	TransportKind TransportKind `json:"transport_kind"`
	CreatedAt     time.Time     `json:"created_at"`
}

// SessionFilter selects sessions by exact match. Empty fields match all.
type SessionFilter struct {
	WalletID      string
	Domain        string
	TransportKind TransportKind
}

// Match reports whether s satisfies every set field of f.
func (f SessionFilter) Match(s Session) bool {
	if f.WalletID != "" && f.WalletID != s.WalletID {
		return false
	}
	if f.Domain != "" && f.Domain != s.Domain {
		return false
	}
	if f.TransportKind != "" && f.TransportKind != s.TransportKind {
		return false
	}
	return true
}
