// Package limits enforces per-user transaction and wallet quotas.
package limits

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/layer-3/walletkit/core"
	"github.com/layer-3/walletkit/ports"
	"github.com/layer-3/walletkit/scoped"
)

const (
	dailyKeyPrefix = "limits:daily:"
	// Counters outlive their day so a check near midnight still sees them.
	dailyTTL = 48 * time.Hour

	nanoExp = 9
)

// Config holds the configured ceilings. A nil field means no limit is
// configured, which is not the same as a limit of zero.
type Config struct {
	MaxTransactionTON *decimal.Decimal
	DailyLimitTON     *decimal.Decimal
	MaxWallets        *int
}

// Result is the outcome of a limit check.
type Result struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
}

func allow() Result { return Result{Allowed: true} }

func deny(format string, args ...any) Result {
	return Result{Allowed: false, Reason: fmt.Sprintf(format, args...)}
}

// Err converts a denied result into a *core.QuotaError.
func (r Result) Err() error {
	if r.Allowed {
		return nil
	}
	return &core.QuotaError{Reason: r.Reason}
}

// Manager checks quotas against the counters kept in a user's storage.
// It is stateless apart from its config and can be shared.
type Manager struct {
	cfg    Config
	logger logrus.FieldLogger
	now    func() time.Time
}

// NewManager returns a manager enforcing cfg. A nil field of cfg leaves
// that quota unlimited.
func NewManager(cfg Config, logger logrus.FieldLogger) *Manager {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Manager{
		cfg:    cfg,
		logger: logger.WithField("component", "limits"),
		now:    time.Now,
	}
}

// Config returns the limits being enforced.
func (m *Manager) Config() Config { return m.cfg }

// CheckTransactionLimit reports whether amount TON may be spent now given
// the usage recorded in storage.
func (m *Manager) CheckTransactionLimit(ctx context.Context, storage ports.Store, amount decimal.Decimal) (Result, error) {
	if amount.IsNegative() {
		return deny("amount %s TON is negative", amount), nil
	}
	if max := m.cfg.MaxTransactionTON; max != nil && amount.GreaterThan(*max) {
		return deny("amount %s TON exceeds maximum of %s TON per transaction", amount, max), nil
	}
	if limit := m.cfg.DailyLimitTON; limit != nil {
		usage, err := m.DailyUsage(ctx, storage)
		if err != nil {
			return Result{}, err
		}
		if usage.Cumulative.Add(amount).GreaterThan(*limit) {
			return deny("amount %s TON would exceed daily limit of %s TON (%s TON already used today)",
				amount, limit, usage.Cumulative), nil
		}
	}
	return allow(), nil
}

// RecordTransaction adds amount to today's total. Call it only once the
// transaction has been approved and signed.
func (m *Manager) RecordTransaction(ctx context.Context, storage ports.Store, amount decimal.Decimal) error {
	if amount.IsNegative() {
		return fmt.Errorf("record negative amount %s", amount)
	}
	bucket := core.DateBucket(m.now())

	var total decimal.Decimal
	err := storage.Update(ctx, dailyKeyPrefix+bucket, dailyTTL, func(current string, exists bool) (string, error) {
		counter := core.UsageCounter{DateBucket: bucket}
		if exists {
			if err := json.Unmarshal([]byte(current), &counter); err != nil {
				return "", fmt.Errorf("decode usage counter: %w", err)
			}
		}
		counter.Cumulative = counter.Cumulative.Add(amount)
		total = counter.Cumulative
		data, err := json.Marshal(counter)
		return string(data), err
	})
	if err != nil {
		return err
	}

	m.logger.WithFields(logrus.Fields{
		"user_id": userOf(storage),
		"bucket":  bucket,
		"amount":  amount.String(),
		"total":   total.String(),
	}).Debug("transaction recorded")
	return nil
}

// CheckWalletCountLimit reports whether one more wallet may be created
// when count wallets already exist.
func (m *Manager) CheckWalletCountLimit(count int) Result {
	if max := m.cfg.MaxWallets; max != nil && count >= *max {
		return deny("wallet count %d has reached the maximum of %d wallets", count, *max)
	}
	return allow()
}

// DailyUsage returns today's counter, zero when nothing was recorded.
func (m *Manager) DailyUsage(ctx context.Context, storage ports.Store) (core.UsageCounter, error) {
	bucket := core.DateBucket(m.now())
	counter := core.UsageCounter{UserID: userOf(storage), DateBucket: bucket}

	raw, err := storage.Get(ctx, dailyKeyPrefix+bucket)
	if errors.Is(err, core.ErrKeyNotFound) {
		return counter, nil
	}
	if err != nil {
		return counter, err
	}
	if err := json.Unmarshal([]byte(raw), &counter); err != nil {
		return counter, fmt.Errorf("decode usage counter: %w", err)
	}
	counter.UserID = userOf(storage)
	return counter, nil
}

func userOf(storage ports.Store) string {
	if s, ok := storage.(*scoped.Storage); ok {
		return s.User().String()
	}
	return ""
}

// FromNano converts a nanoton amount to TON.
func FromNano(nano decimal.Decimal) decimal.Decimal {
	return nano.Shift(-nanoExp)
}

// ToNano converts a TON amount to nanotons, truncating below one nanoton.
func ToNano(ton decimal.Decimal) decimal.Decimal {
	return ton.Shift(nanoExp).Truncate(0)
}
