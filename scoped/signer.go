package scoped

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/layer-3/walletkit/core"
	"github.com/layer-3/walletkit/ports"
)

// Signer is a ports.Signer restricted to the wallets of one user. Wallet ids
// seen by callers never carry the namespace prefix.
type Signer struct {
	signer ports.Signer
	user   UserID
	prefix string
}

var _ ports.Signer = (*Signer)(nil)

func NewSigner(signer ports.Signer, user UserID) (*Signer, error) {
	if user.IsZero() {
		return nil, core.ErrInvalidUserID
	}
	return &Signer{signer: signer, user: user, prefix: user.signerPrefix()}, nil
}

func (s *Signer) User() UserID { return s.user }

func (s *Signer) CreateWallet(ctx context.Context, spec ports.WalletSpec) (*core.Wallet, error) {
	if spec.ID == "" {
		spec.ID = uuid.NewString()
	}
	inner := spec
	inner.ID = s.prefix + spec.ID
	w, err := s.signer.CreateWallet(ctx, inner)
	if err != nil {
		return nil, err
	}
	return s.unwrap(w, spec.ID)
}

func (s *Signer) ImportWallet(ctx context.Context, spec ports.WalletSpec, mnemonic string) (*core.Wallet, error) {
	if spec.ID == "" {
		spec.ID = uuid.NewString()
	}
	inner := spec
	inner.ID = s.prefix + spec.ID
	w, err := s.signer.ImportWallet(ctx, inner, mnemonic)
	if err != nil {
		return nil, err
	}
	return s.unwrap(w, spec.ID)
}

func (s *Signer) GetWallet(ctx context.Context, id string) (*core.Wallet, error) {
	if id == "" {
		return nil, core.ErrNotFound
	}
	w, err := s.signer.GetWallet(ctx, s.prefix+id)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) || errors.Is(err, core.ErrKeyNotFound) {
			return nil, fmt.Errorf("wallet %s: %w", id, core.ErrNotFound)
		}
		return nil, err
	}
	return s.unwrap(w, id)
}

func (s *Signer) ListWalletIDs(ctx context.Context) ([]string, error) {
	ids, err := s.signer.ListWalletIDs(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0)
	for _, id := range ids {
		if rest, ok := strings.CutPrefix(id, s.prefix); ok && rest != "" {
			out = append(out, rest)
		}
	}
	return out, nil
}

func (s *Signer) DeleteWallet(ctx context.Context, id string) error {
	if _, err := s.GetWallet(ctx, id); err != nil {
		return err
	}
	return s.signer.DeleteWallet(ctx, s.prefix+id)
}

func (s *Signer) SignTransaction(ctx context.Context, id string, payload []byte) ([]byte, error) {
	if _, err := s.GetWallet(ctx, id); err != nil {
		return nil, err
	}
	return s.signer.SignTransaction(ctx, s.prefix+id, payload)
}

func (s *Signer) SignMessage(ctx context.Context, id string, message []byte) ([]byte, error) {
	if _, err := s.GetWallet(ctx, id); err != nil {
		return nil, err
	}
	return s.signer.SignMessage(ctx, s.prefix+id, message)
}

// unwrap checks that the backend returned the exact record that was asked
// for and hands back a copy carrying the caller's id.
func (s *Signer) unwrap(w *core.Wallet, id string) (*core.Wallet, error) {
	if w == nil || w.ID != s.prefix+id {
		return nil, fmt.Errorf("wallet %s: %w", id, core.ErrNotFound)
	}
	out := *w
	out.ID = id
	return &out, nil
}
