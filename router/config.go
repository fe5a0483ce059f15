package router

import (
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/layer-3/walletkit/internal/keylock"
	"github.com/layer-3/walletkit/limits"
	"github.com/layer-3/walletkit/ports"
	"github.com/layer-3/walletkit/protocol"
)

// ConflictPolicy decides what happens when a session sends a request while
// another of the same kind is still awaiting a decision.
type ConflictPolicy int

const (
	// RejectNew answers the newer request with an error and keeps the older.
	RejectNew ConflictPolicy = iota
	// SupersedeOld rejects the older request and keeps the newer.
	SupersedeOld
)

func (p ConflictPolicy) String() string {
	switch p {
	case RejectNew:
		return "reject_new"
	case SupersedeOld:
		return "supersede_old"
	default:
		return fmt.Sprintf("ConflictPolicy(%d)", int(p))
	}
}

// ParseConflictPolicy accepts the String forms.
func ParseConflictPolicy(s string) (ConflictPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "reject_new":
		return RejectNew, nil
	case "supersede_old":
		return SupersedeOld, nil
	default:
		return RejectNew, fmt.Errorf("unknown conflict policy %q", s)
	}
}

const (
	DefaultRequestTTL  = 5 * time.Minute
	DefaultSendTimeout = 10 * time.Second
	DefaultRetention   = 10 * time.Minute

	subscriptionBuffer = 32
	tombstoneSize      = 4096
	tombstoneTTL       = time.Hour
)

// Config tunes request timing and conflict handling. Zero fields take the
// package defaults.
type Config struct {
	// RequestTTL bounds how long a request waits for a decision.
	RequestTTL  time.Duration
	SendTimeout time.Duration
	// Retention is how long settled requests stay queryable.
	Retention      time.Duration
	ConflictPolicy ConflictPolicy
	// InboundRPS and InboundBurst limit requests per session. Zero disables.
	InboundRPS   float64
	InboundBurst int
	Device       protocol.DeviceInfo
}

func (c Config) withDefaults() Config {
	if c.RequestTTL <= 0 {
		c.RequestTTL = DefaultRequestTTL
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = DefaultSendTimeout
	}
	if c.Retention <= 0 {
		c.Retention = DefaultRetention
	}
	if c.Device.AppName == "" {
		c.Device = DefaultDevice()
	}
	return c
}

// DefaultDevice describes this wallet in connect replies.
func DefaultDevice() protocol.DeviceInfo {
	return protocol.DeviceInfo{
		Platform:           runtime.GOOS,
		AppName:            "walletkit",
		AppVersion:         "1.0.0",
		MaxProtocolVersion: 2,
		Features: []protocol.Feature{
			{Name: "SendTransaction", MaxMessages: protocol.MaxTransactionMessages},
			{Name: "SignData", Types: []string{
				string(protocol.SignDataText),
				string(protocol.SignDataBinary),
				string(protocol.SignDataCell),
			}},
		},
	}
}

// Deps are the collaborators of one tenant's router.
type Deps struct {
	// UserID keys the quota lock and tags log lines.
	UserID   string
	Sessions ports.SessionStore
	Signer   ports.Signer
	// Storage holds quota counters.
	Storage ports.Store
	// Limits may be nil, meaning no quotas.
	Limits *limits.Manager
	// Chain may be nil, in which case transactions are signed but not
	// broadcast and previews carry no fees.
	Chain  ports.ChainAPI
	Events ports.EventPublisher
	// Locks may be shared between routers so quota checks of one user are
	// serialized across them.
	Locks  *keylock.Locker
	Logger logrus.FieldLogger
}
