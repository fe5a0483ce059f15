package core

import (
	"errors"
	"fmt"
)

var (
	ErrDecode               = errors.New("malformed message")
	ErrConflict             = errors.New("request of the same kind is already pending")
	ErrTimeout              = errors.New("request timed out")
	ErrNotFound             = errors.New("not found")
	ErrQuotaExceeded        = errors.New("quota exceeded")
	ErrSigning              = errors.New("signing failed")
	ErrNoLongerPending      = errors.New("request is no longer pending")
	ErrStaleRequest         = errors.New("request has expired")
	ErrRequestNotFound      = errors.New("request not found")
	ErrSessionNotFound      = errors.New("session not found")
	ErrSessionExists        = errors.New("session already exists")
	ErrSessionClosed        = errors.New("session closed")
	ErrWalletExists         = errors.New("wallet already exists")
	ErrTransportUnavailable = errors.New("transport unavailable")
	ErrKeyNotFound          = errors.New("key not found")
	ErrInvalidUserID        = errors.New("invalid user id")
	ErrStoreOperationFailed = errors.New("store operation failed")
	ErrRateLimited          = errors.New("too many requests")
)

// QuotaError carries the human readable reason a limit check failed.
type QuotaError struct {
	Reason string
}

func (e *QuotaError) Error() string {
	return "quota exceeded: " + e.Reason
}

func (e *QuotaError) Unwrap() error {
	return ErrQuotaExceeded
}

// SigningError wraps a failure reported by a signer. It is never retried.
type SigningError struct {
	WalletID string
	Err      error
}

func (e *SigningError) Error() string {
	return fmt.Sprintf("signing with wallet %s: %v", e.WalletID, e.Err)
}

func (e *SigningError) Unwrap() []error {
	return []error{ErrSigning, e.Err}
}
