package ports

import (
	"context"

	"github.com/shopspring/decimal"
)

// Fees is a fee estimate in nano units.
type Fees struct {
	InFwdFee   decimal.Decimal `json:"in_fwd_fee"`
	StorageFee decimal.Decimal `json:"storage_fee"`
	GasFee     decimal.Decimal `json:"gas_fee"`
	FwdFee     decimal.Decimal `json:"fwd_fee"`
}

// Total returns the sum of all fee components.
func (f Fees) Total() decimal.Decimal {
	return f.InFwdFee.Add(f.StorageFee).Add(f.GasFee).Add(f.FwdFee)
}

// ChainAPI is the opaque blockchain collaborator used by wallet adapters.
type ChainAPI interface {
	Seqno(ctx context.Context, address string) (uint32, error)
	Balance(ctx context.Context, address string) (decimal.Decimal, error)
	SendBoc(ctx context.Context, boc []byte) (string, error)
	EstimateFee(ctx context.Context, address string, body []byte) (Fees, error)
	ResolveDNS(ctx context.Context, name string) (string, error)
}
