package wallet

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/layer-3/walletkit/protocol"
)

const (
	tonProofPrefix   = "ton-proof-item-v2/"
	tonConnectPrefix = "ton-connect"
	signDataPrefix   = "ton-connect/sign-data/"
)

// ProofRequest asks for a ton_proof bound to a dApp domain.
type ProofRequest struct {
	Domain  string
	Payload string
	// Timestamp in unix seconds. Zero means now.
	Timestamp int64
}

// SignedTonProof signs the ton_proof message for req.
func (a *Adapter) SignedTonProof(ctx context.Context, req ProofRequest) (*protocol.TonProof, error) {
	return a.signedTonProof(ctx, req, signOptions{})
}

func (a *Adapter) signedTonProof(ctx context.Context, req ProofRequest, opts signOptions) (*protocol.TonProof, error) {
	if req.Domain == "" {
		return nil, errors.New("proof domain is required")
	}
	ts := req.Timestamp
	if ts == 0 {
		ts = a.now().Unix()
	}

	digest := tonProofDigest(a.address.Workchain, a.address.Hash, req.Domain, ts, req.Payload)
	sig, err := a.signMessage(ctx, opts, digest)
	if err != nil {
		return nil, err
	}
	return &protocol.TonProof{
		Timestamp: ts,
		Domain:    protocol.ProofDomain{LengthBytes: uint32(len(req.Domain)), Value: req.Domain},
		Signature: base64.StdEncoding.EncodeToString(sig),
		Payload:   req.Payload,
	}, nil
}

// tonProofDigest returns the 32 bytes that get signed for a ton_proof:
// sha256(0xffff || "ton-connect" || sha256(message)).
func tonProofDigest(workchain int32, hash [32]byte, domain string, ts int64, payload string) []byte {
	msg := make([]byte, 0, len(tonProofPrefix)+4+32+4+len(domain)+8+len(payload))
	msg = append(msg, tonProofPrefix...)
	msg = binary.BigEndian.AppendUint32(msg, uint32(workchain))
	msg = append(msg, hash[:]...)
	msg = binary.LittleEndian.AppendUint32(msg, uint32(len(domain)))
	msg = append(msg, domain...)
	msg = binary.LittleEndian.AppendUint64(msg, uint64(ts))
	msg = append(msg, payload...)
	msgHash := sha256.Sum256(msg)

	full := make([]byte, 0, 2+len(tonConnectPrefix)+32)
	full = append(full, 0xff, 0xff)
	full = append(full, tonConnectPrefix...)
	full = append(full, msgHash[:]...)
	digest := sha256.Sum256(full)
	return digest[:]
}

// SignedSignData signs req on behalf of the dApp at domain.
func (a *Adapter) SignedSignData(ctx context.Context, req protocol.SignDataRequest, domain string) (*protocol.SignDataResult, error) {
	return a.signedSignData(ctx, req, domain, signOptions{})
}

func (a *Adapter) signedSignData(ctx context.Context, req protocol.SignDataRequest, domain string, opts signOptions) (*protocol.SignDataResult, error) {
	if err := a.checkNetwork(req.Network); err != nil {
		return nil, err
	}
	if req.From != "" && !a.ownsAddress(req.From) {
		return nil, fmt.Errorf("sign data from %s does not match wallet address", req.From)
	}
	data, err := req.Data()
	if err != nil {
		return nil, err
	}

	ts := a.now().Unix()
	digest := signDataDigest(a.address.Workchain, a.address.Hash, domain, ts, req, data)
	sig, err := a.signMessage(ctx, opts, digest)
	if err != nil {
		return nil, err
	}
	return &protocol.SignDataResult{
		Signature: base64.StdEncoding.EncodeToString(sig),
		Address:   a.address.Raw(),
		Timestamp: ts,
		Domain:    domain,
		Payload:   req,
	}, nil
}

// signDataDigest returns sha256 of
// 0xffff || "ton-connect/sign-data/" || wc || hash || len(domain) || domain
// || ts || kind || len(payload) || payload. Cell payloads carry their schema
// ahead of the cell bytes.
func signDataDigest(workchain int32, hash [32]byte, domain string, ts int64, req protocol.SignDataRequest, data []byte) []byte {
	msg := make([]byte, 0, 2+len(signDataPrefix)+4+32+4+len(domain)+8+3+4+len(req.Schema)+4+len(data))
	msg = append(msg, 0xff, 0xff)
	msg = append(msg, signDataPrefix...)
	msg = binary.BigEndian.AppendUint32(msg, uint32(workchain))
	msg = append(msg, hash[:]...)
	msg = binary.BigEndian.AppendUint32(msg, uint32(len(domain)))
	msg = append(msg, domain...)
	msg = binary.BigEndian.AppendUint64(msg, uint64(ts))
	switch req.Type {
	case protocol.SignDataText:
		msg = append(msg, "txt"...)
	case protocol.SignDataBinary:
		msg = append(msg, "bin"...)
	case protocol.SignDataCell:
		msg = append(msg, "cel"...)
		msg = binary.BigEndian.AppendUint32(msg, uint32(len(req.Schema)))
		msg = append(msg, req.Schema...)
	}
	msg = binary.BigEndian.AppendUint32(msg, uint32(len(data)))
	msg = append(msg, data...)
	digest := sha256.Sum256(msg)
	return digest[:]
}
