package wallet

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/layer-3/walletkit/adapters/keystore"
	"github.com/layer-3/walletkit/adapters/store"
	"github.com/layer-3/walletkit/core"
	"github.com/layer-3/walletkit/ports"
	"github.com/layer-3/walletkit/protocol"
)

const peer = "0:" + "1111111111111111111111111111111111111111111111111111111111111111"

type countingSigner struct {
	ports.Signer
	calls int
}

func (c *countingSigner) SignMessage(ctx context.Context, id string, msg []byte) ([]byte, error) {
	c.calls++
	return c.Signer.SignMessage(ctx, id, msg)
}

func (c *countingSigner) SignTransaction(ctx context.Context, id string, payload []byte) ([]byte, error) {
	c.calls++
	return c.Signer.SignTransaction(ctx, id, payload)
}

type fakeChain struct {
	seqno     uint32
	estimated []byte
	sent      []byte
}

func (f *fakeChain) Seqno(context.Context, string) (uint32, error) { return f.seqno, nil }

func (f *fakeChain) Balance(context.Context, string) (decimal.Decimal, error) {
	return decimal.NewFromInt(42), nil
}

func (f *fakeChain) SendBoc(_ context.Context, boc []byte) (string, error) {
	f.sent = boc
	return "hash", nil
}

func (f *fakeChain) EstimateFee(_ context.Context, _ string, body []byte) (ports.Fees, error) {
	f.estimated = body
	return ports.Fees{GasFee: decimal.NewFromInt(1000), FwdFee: decimal.NewFromInt(200)}, nil
}

func (f *fakeChain) ResolveDNS(context.Context, string) (string, error) { return "", nil }

func newAdapter(t *testing.T, network core.Network) (*Adapter, *countingSigner, *fakeChain) {
	t.Helper()
	logger, _ := test.NewNullLogger()
	ks, err := keystore.New(store.NewMemoryStore(), make([]byte, 32), logger)
	require.NoError(t, err)
	_, err = ks.CreateWallet(context.Background(), ports.WalletSpec{ID: "w", Network: network})
	require.NoError(t, err)

	signer := &countingSigner{Signer: ks}
	chain := &fakeChain{seqno: 7}
	a, err := New(context.Background(), signer, "w", chain)
	require.NoError(t, err)
	a.now = func() time.Time { return time.Unix(1_700_000_000, 0) }
	return a, signer, chain
}

func TestAddress(t *testing.T) {
	a, _, _ := newAdapter(t, core.NetworkTestnet)

	hash := sha256.Sum256(a.StateInit())
	assert.Equal(t, hash, a.RawAddress().Hash)

	friendly := a.DefaultAddress()
	assert.Len(t, friendly, 48)
	parsed, err := core.ParseAddress(friendly)
	require.NoError(t, err)
	assert.True(t, parsed.Equal(a.RawAddress()))
	assert.NotEqual(t, friendly, a.Address(AddressOptions{Bounceable: true}))
}

func TestUnknownWallet(t *testing.T) {
	logger, _ := test.NewNullLogger()
	ks, err := keystore.New(store.NewMemoryStore(), make([]byte, 32), logger)
	require.NoError(t, err)
	_, err = New(context.Background(), ks, "missing", nil)
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestSignedTonProof(t *testing.T) {
	a, _, _ := newAdapter(t, core.NetworkMainnet)

	proof, err := a.SignedTonProof(context.Background(), ProofRequest{Domain: "example.com", Payload: "nonce-1"})
	require.NoError(t, err)
	assert.Equal(t, int64(1_700_000_000), proof.Timestamp)
	assert.Equal(t, uint32(11), proof.Domain.LengthBytes)

	sig, err := base64.StdEncoding.DecodeString(proof.Signature)
	require.NoError(t, err)
	digest := tonProofDigest(0, a.RawAddress().Hash, "example.com", proof.Timestamp, "nonce-1")
	assert.True(t, ed25519.Verify(a.PublicKey(), digest, sig))

	other := tonProofDigest(0, a.RawAddress().Hash, "evil.com", proof.Timestamp, "nonce-1")
	assert.False(t, ed25519.Verify(a.PublicKey(), other, sig))
}

func TestSignedSignData(t *testing.T) {
	a, _, _ := newAdapter(t, core.NetworkMainnet)
	ctx := context.Background()

	req := protocol.SignDataRequest{Type: protocol.SignDataText, Text: "hello", Network: "-239"}
	res, err := a.SignedSignData(ctx, req, "example.com")
	require.NoError(t, err)
	assert.Equal(t, a.RawAddress().Raw(), res.Address)

	sig, err := base64.StdEncoding.DecodeString(res.Signature)
	require.NoError(t, err)
	digest := signDataDigest(0, a.RawAddress().Hash, "example.com", res.Timestamp, req, []byte("hello"))
	assert.True(t, ed25519.Verify(a.PublicKey(), digest, sig))

	_, err = a.SignedSignData(ctx, protocol.SignDataRequest{Type: protocol.SignDataText, Text: "x", Network: "-3"}, "example.com")
	assert.Error(t, err)

	_, err = a.SignedSignData(ctx, protocol.SignDataRequest{Type: protocol.SignDataText, Text: "x", From: peer}, "example.com")
	assert.Error(t, err)
}

func TestSignedSendTransaction(t *testing.T) {
	a, _, chain := newAdapter(t, core.NetworkMainnet)
	ctx := context.Background()

	req := protocol.SendTransactionRequest{
		From: a.DefaultAddress(),
		Messages: []protocol.TransactionMessage{
			{Address: peer, Amount: "1000000000"},
			{Address: peer, Amount: "500", Payload: base64.StdEncoding.EncodeToString([]byte("memo"))},
		},
	}
	tx, err := a.SignedSendTransaction(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, uint32(7), tx.Seqno)
	assert.Equal(t, int64(1_700_000_000+300), tx.ValidUntil)
	assert.Equal(t, "1000000500", tx.TotalNano.String())

	// version | subwallet | valid_until
	assert.Equal(t, uint32(tx.ValidUntil), binary.BigEndian.Uint32(tx.Body[5:9]))

	digest := sha256.Sum256(tx.Body)
	assert.True(t, ed25519.Verify(a.PublicKey(), digest[:], tx.Signature))
	assert.True(t, bytes.HasPrefix(tx.Boc, []byte(txMagic)))
	assert.True(t, bytes.HasSuffix(tx.Boc, tx.Body))

	hash, err := a.Broadcast(ctx, tx)
	require.NoError(t, err)
	assert.Equal(t, "hash", hash)
	assert.Equal(t, tx.Boc, chain.sent)
}

func TestSendTransactionRejectsExpiredAndForeign(t *testing.T) {
	a, _, _ := newAdapter(t, core.NetworkMainnet)
	ctx := context.Background()
	msgs := []protocol.TransactionMessage{{Address: peer, Amount: "1"}}

	_, err := a.SignedSendTransaction(ctx, protocol.SendTransactionRequest{ValidUntil: 1_699_999_999, Messages: msgs})
	assert.Error(t, err)

	_, err = a.SignedSendTransaction(ctx, protocol.SendTransactionRequest{ValidUntil: 5_994_967_296, Messages: msgs})
	assert.Error(t, err)

	_, err = a.SignedSendTransaction(ctx, protocol.SendTransactionRequest{
		Messages: []protocol.TransactionMessage{{Address: peer, Amount: "1e9"}},
	})
	assert.Error(t, err)

	_, err = a.SignedSendTransaction(ctx, protocol.SendTransactionRequest{From: peer, Messages: msgs})
	assert.Error(t, err)

	_, err = a.SignedSendTransaction(ctx, protocol.SendTransactionRequest{Network: "-3", Messages: msgs})
	assert.Error(t, err)
}

func TestEstimateFeeNeverSigns(t *testing.T) {
	a, signer, chain := newAdapter(t, core.NetworkMainnet)

	fees, err := a.EstimateFee(context.Background(), protocol.SendTransactionRequest{
		Messages: []protocol.TransactionMessage{{Address: peer, Amount: "1"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "1200", fees.Total().String())
	assert.Zero(t, signer.calls)

	sigStart := len(txMagic) + 4 + 32
	assert.Equal(t, make([]byte, 64), chain.estimated[sigStart:sigStart+64])
}

func TestChainlessAdapter(t *testing.T) {
	a, _, _ := newAdapter(t, core.NetworkMainnet)
	a.chain = nil

	_, err := a.Balance(context.Background())
	assert.ErrorIs(t, err, ErrNoChain)
	_, err = a.EstimateFee(context.Background(), protocol.SendTransactionRequest{})
	assert.ErrorIs(t, err, ErrNoChain)

	tx, err := a.SignedSendTransaction(context.Background(), protocol.SendTransactionRequest{
		Messages: []protocol.TransactionMessage{{Address: peer, Amount: "1"}},
	})
	require.NoError(t, err)
	assert.Zero(t, tx.Seqno)
}
