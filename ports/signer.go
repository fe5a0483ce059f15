package ports

import (
	"context"

	"github.com/layer-3/walletkit/core"
)

// WalletSpec describes a wallet to create or import.
type WalletSpec struct {
	ID      string
	Network core.Network
	Version core.WalletVersion
}

// Signer owns wallet key material. Nothing outside an implementation ever
// sees a seed; callers address keys by wallet id.
type Signer interface {
	CreateWallet(ctx context.Context, spec WalletSpec) (*core.Wallet, error)
	ImportWallet(ctx context.Context, spec WalletSpec, mnemonic string) (*core.Wallet, error)
	GetWallet(ctx context.Context, id string) (*core.Wallet, error)
	ListWalletIDs(ctx context.Context) ([]string, error)
	DeleteWallet(ctx context.Context, id string) error
	SignTransaction(ctx context.Context, id string, payload []byte) ([]byte, error)
	SignMessage(ctx context.Context, id string, message []byte) ([]byte, error)
}
