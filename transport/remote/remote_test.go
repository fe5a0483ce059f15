package remote

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/layer-3/walletkit/adapters/store"
	"github.com/layer-3/walletkit/core"
	"github.com/layer-3/walletkit/ports"
	"github.com/layer-3/walletkit/protocol"
)

var connectReq = protocol.ConnectRequest{
	ManifestURL: "https://example.com/tonconnect-manifest.json",
	Items:       []protocol.ConnectItem{{Name: protocol.ItemTonAddr}},
}

type harness struct {
	relay  *Relay
	kv     *store.MemoryStore
	wallet *Transport
	dapp   *Client
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	logger, _ := test.NewNullLogger()
	ps := gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 16}, watermill.NopLogger{})
	t.Cleanup(func() { _ = ps.Close() })

	relay := NewRelay(ps, ps, logger)
	kv := store.NewMemoryStore()
	wallet := New(relay, kv, logger)
	t.Cleanup(func() { _ = wallet.Close() })

	dapp, err := NewClient(relay, logger)
	require.NoError(t, err)
	require.NoError(t, dapp.Start(context.Background()))
	t.Cleanup(dapp.Close)

	return &harness{relay: relay, kv: kv, wallet: wallet, dapp: dapp}
}

// serve answers connect with a connect event and every other request with
// its method name as result.
func (h *harness) serve(t *testing.T, count *atomic.Int32) func() {
	return h.wallet.Subscribe(func(ctx context.Context, ev ports.TransportEvent) {
		if ev.Type != ports.TransportFrame {
			return
		}
		if count != nil {
			count.Add(1)
		}
		msg, err := protocol.Decode(ev.Frame)
		if !assert.NoError(t, err) {
			return
		}
		req := msg.(*protocol.Request)

		var out protocol.Message
		if req.Method() == protocol.MethodConnect {
			out, err = protocol.NewEvent(protocol.EventConnect, req.ID, protocol.ConnectEventPayload{})
		} else {
			out, err = protocol.NewResultResponse(req.ID, string(req.Method()))
		}
		require.NoError(t, err)
		frame, err := protocol.Encode(out)
		require.NoError(t, err)
		assert.NoError(t, h.wallet.Send(context.Background(), ev.SessionID, frame))
	})
}

func (h *harness) connect(t *testing.T) string {
	t.Helper()
	link, err := h.dapp.Link(connectReq)
	require.NoError(t, err)
	sid, err := h.wallet.Open(context.Background(), link)
	require.NoError(t, err)

	select {
	case ev := <-h.dapp.Events():
		require.Equal(t, protocol.EventConnect, ev.Name)
	case <-time.After(2 * time.Second):
		t.Fatal("connect event not received")
	}
	return sid
}

func TestConnectAndRequest(t *testing.T) {
	h := newHarness(t)
	defer h.serve(t, nil)()

	sid := h.connect(t)
	assert.Equal(t, h.dapp.ClientID(), sid)
	assert.True(t, h.wallet.IsAvailable(sid))
	assert.NotEmpty(t, h.dapp.WalletID())
	assert.Equal(t, core.TransportRemote, h.wallet.Kind())

	msg, err := h.dapp.Request(context.Background(), protocol.SignDataRequest{Type: protocol.SignDataText, Text: "hi"})
	require.NoError(t, err)
	resp := msg.(*protocol.Response)
	assert.JSONEq(t, `"signData"`, string(resp.Result))
}

func TestRequestBeforeConnect(t *testing.T) {
	h := newHarness(t)
	_, err := h.dapp.Request(context.Background(), protocol.DisconnectRequest{})
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestDuplicateRequestDropped(t *testing.T) {
	h := newHarness(t)
	var count atomic.Int32
	defer h.serve(t, &count)()
	h.connect(t)
	require.Equal(t, int32(1), count.Load())

	walletPub, err := ParseClientID(h.dapp.WalletID())
	require.NoError(t, err)
	frame, err := protocol.Encode(&protocol.Request{ID: "42", Payload: protocol.DisconnectRequest{}})
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		sealed, err := h.dapp.keys.seal(walletPub, frame)
		require.NoError(t, err)
		require.NoError(t, h.relay.Publish(context.Background(), h.dapp.WalletID(),
			Envelope{From: h.dapp.ClientID(), Message: sealed}, time.Minute))
	}

	require.Eventually(t, func() bool { return count.Load() == 2 }, 2*time.Second, 10*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(2), count.Load())
}

func TestForeignSenderDropped(t *testing.T) {
	h := newHarness(t)
	var count atomic.Int32
	defer h.serve(t, &count)()
	h.connect(t)

	intruder, err := GenerateKeyPair()
	require.NoError(t, err)
	walletPub, err := ParseClientID(h.dapp.WalletID())
	require.NoError(t, err)
	frame, err := protocol.Encode(&protocol.Request{ID: "7", Payload: protocol.DisconnectRequest{}})
	require.NoError(t, err)
	sealed, err := intruder.seal(walletPub, frame)
	require.NoError(t, err)

	// Claims the dApp's id but cannot produce a box the wallet can open.
	require.NoError(t, h.relay.Publish(context.Background(), h.dapp.WalletID(),
		Envelope{From: h.dapp.ClientID(), Message: sealed}, time.Minute))
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(1), count.Load())
}

func TestRestoreAndForget(t *testing.T) {
	h := newHarness(t)
	defer h.serve(t, nil)()
	sid := h.connect(t)

	keys, err := h.kv.List(context.Background(), SessionKeyPrefix)
	require.NoError(t, err)
	require.Len(t, keys, 1)

	raw, err := h.kv.Get(context.Background(), keys[0])
	require.NoError(t, err)
	var rec sessionRecord
	require.NoError(t, json.Unmarshal([]byte(raw), &rec))
	assert.Len(t, rec.WalletSecret, 32)

	require.NoError(t, h.wallet.Close())
	assert.False(t, h.wallet.IsAvailable(sid))

	logger, _ := test.NewNullLogger()
	restarted := New(h.relay, h.kv, logger)
	defer restarted.Close()
	n, err := restarted.Restore(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.True(t, restarted.IsAvailable(sid))

	h.wallet = restarted
	defer h.serve(t, nil)()
	msg, err := h.dapp.Request(context.Background(), protocol.DisconnectRequest{})
	require.NoError(t, err)
	assert.IsType(t, &protocol.Response{}, msg)

	require.NoError(t, restarted.Forget(context.Background(), sid))
	assert.False(t, restarted.IsAvailable(sid))
	_, err = h.kv.Get(context.Background(), SessionKeyPrefix+sid)
	assert.ErrorIs(t, err, core.ErrKeyNotFound)
}

func TestParseLink(t *testing.T) {
	kp, err := GenerateKeyPair()
	require.NoError(t, err)
	link, err := BuildLink(kp.ClientID(), connectReq)
	require.NoError(t, err)

	l, err := ParseLink(link)
	require.NoError(t, err)
	assert.Equal(t, kp.ClientID(), l.ClientID)
	assert.Equal(t, "example.com", l.Request.Domain())

	for _, bad := range []string{
		"ftp://?v=2",
		"tc://?v=1&id=" + kp.ClientID() + "&r={}",
		"tc://?v=2&id=zz&r={}",
		"tc://?v=2&id=" + kp.ClientID() + "&r=not-json",
		"tc://?v=2&id=" + kp.ClientID() + `&r={"manifestUrl":"x","items":[]}`,
	} {
		_, err := ParseLink(bad)
		assert.Error(t, err, bad)
	}
}

func TestSealOpen(t *testing.T) {
	a, err := GenerateKeyPair()
	require.NoError(t, err)
	b, err := GenerateKeyPair()
	require.NoError(t, err)
	c, err := GenerateKeyPair()
	require.NoError(t, err)

	sealed, err := a.seal(b.Public, []byte("hello"))
	require.NoError(t, err)
	plain, err := b.open(a.Public, sealed)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(plain))

	_, err = c.open(a.Public, sealed)
	assert.ErrorIs(t, err, ErrDecrypt)
	_, err = b.open(a.Public, "!!")
	assert.ErrorIs(t, err, ErrDecrypt)
}
