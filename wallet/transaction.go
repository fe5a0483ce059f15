package wallet

import (
	"context"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/layer-3/walletkit/core"
	"github.com/layer-3/walletkit/ports"
	"github.com/layer-3/walletkit/protocol"
)

const (
	txMagic       = "wktx"
	txBodyVersion = 1
	// sendMode pays fees separately and ignores action errors.
	sendMode = 3

	defaultValidity = 5 * time.Minute
)

// SignedTransaction is an external message ready for broadcast.
//
// Body layout (big endian):
//
//	u8 version | u32 subwallet | u32 valid_until | u32 seqno | u8 count
//	count x { i32 wc | [32]hash | u16 len | amount | u8 mode
//	          | u32 len | payload | u32 len | state_init }
//
// Boc is "wktx" | i32 wc | [32]hash | [64]signature | body.
type SignedTransaction struct {
	Body       []byte
	Signature  []byte
	Boc        []byte
	ValidUntil int64
	Seqno      uint32
	TotalNano  decimal.Decimal
}

// BocBase64 is the form returned to dApps.
func (t *SignedTransaction) BocBase64() string {
	return base64.StdEncoding.EncodeToString(t.Boc)
}

// SignedSendTransaction builds and signs the transfer described by req.
func (a *Adapter) SignedSendTransaction(ctx context.Context, req protocol.SendTransactionRequest) (*SignedTransaction, error) {
	return a.signedSendTransaction(ctx, req, signOptions{})
}

// EstimateFee asks the chain what req would cost. The transfer is signed
// with a placeholder signature so no key is touched.
func (a *Adapter) EstimateFee(ctx context.Context, req protocol.SendTransactionRequest) (ports.Fees, error) {
	if a.chain == nil {
		return ports.Fees{}, ErrNoChain
	}
	tx, err := a.signedSendTransaction(ctx, req, signOptions{fake: true})
	if err != nil {
		return ports.Fees{}, err
	}
	return a.chain.EstimateFee(ctx, a.address.Raw(), tx.Boc)
}

func (a *Adapter) signedSendTransaction(ctx context.Context, req protocol.SendTransactionRequest, opts signOptions) (*SignedTransaction, error) {
	if err := a.checkNetwork(req.Network); err != nil {
		return nil, err
	}
	if req.From != "" && !a.ownsAddress(req.From) {
		return nil, fmt.Errorf("transaction from %s does not match wallet address", req.From)
	}
	if len(req.Messages) == 0 || len(req.Messages) > protocol.MaxTransactionMessages {
		return nil, fmt.Errorf("messages must contain 1 to %d entries", protocol.MaxTransactionMessages)
	}

	now := a.now()
	validUntil := req.ValidUntil
	if validUntil == 0 {
		validUntil = now.Add(defaultValidity).Unix()
	}
	if validUntil <= now.Unix() {
		return nil, fmt.Errorf("transaction expired at %d", validUntil)
	}
	if validUntil > protocol.MaxValidUntil {
		return nil, fmt.Errorf("valid_until %d does not fit the transfer body", validUntil)
	}

	var seqno uint32
	if a.chain != nil {
		n, err := a.chain.Seqno(ctx, a.address.Raw())
		if err != nil {
			return nil, fmt.Errorf("fetch seqno: %w", err)
		}
		seqno = n
	}

	body, err := encodeTransferBody(uint32(validUntil), seqno, req.Messages)
	if err != nil {
		return nil, err
	}
	sig, err := a.signTransaction(ctx, opts, body)
	if err != nil {
		return nil, err
	}

	boc := make([]byte, 0, len(txMagic)+4+32+len(sig)+len(body))
	boc = append(boc, txMagic...)
	boc = binary.BigEndian.AppendUint32(boc, uint32(a.address.Workchain))
	boc = append(boc, a.address.Hash[:]...)
	boc = append(boc, sig...)
	boc = append(boc, body...)

	return &SignedTransaction{
		Body:       body,
		Signature:  sig,
		Boc:        boc,
		ValidUntil: validUntil,
		Seqno:      seqno,
		TotalNano:  req.TotalNano(),
	}, nil
}

func encodeTransferBody(validUntil, seqno uint32, msgs []protocol.TransactionMessage) ([]byte, error) {
	body := []byte{txBodyVersion}
	body = binary.BigEndian.AppendUint32(body, DefaultSubwalletID)
	body = binary.BigEndian.AppendUint32(body, validUntil)
	body = binary.BigEndian.AppendUint32(body, seqno)
	body = append(body, byte(len(msgs)))

	for i, m := range msgs {
		dest, err := core.ParseAddress(m.Address)
		if err != nil {
			return nil, fmt.Errorf("messages[%d].address: %w", i, err)
		}
		amount, err := protocol.ParseNanoAmount(m.Amount)
		if err != nil {
			return nil, fmt.Errorf("messages[%d]: %w", i, err)
		}
		payload, err := decodeOptional(m.Payload)
		if err != nil {
			return nil, fmt.Errorf("messages[%d].payload: %w", i, err)
		}
		stateInit, err := decodeOptional(m.StateInit)
		if err != nil {
			return nil, fmt.Errorf("messages[%d].stateInit: %w", i, err)
		}

		amountText := amount.String()
		body = binary.BigEndian.AppendUint32(body, uint32(dest.Workchain))
		body = append(body, dest.Hash[:]...)
		body = binary.BigEndian.AppendUint16(body, uint16(len(amountText)))
		body = append(body, amountText...)
		body = append(body, sendMode)
		body = binary.BigEndian.AppendUint32(body, uint32(len(payload)))
		body = append(body, payload...)
		body = binary.BigEndian.AppendUint32(body, uint32(len(stateInit)))
		body = append(body, stateInit...)
	}
	return body, nil
}

func decodeOptional(s string) ([]byte, error) {
	if s == "" {
		return nil, nil
	}
	return base64.StdEncoding.DecodeString(s)
}
