package injected

import (
	"context"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/layer-3/walletkit/core"
	"github.com/layer-3/walletkit/ports"
	"github.com/layer-3/walletkit/protocol"
)

const peer = "0:1111111111111111111111111111111111111111111111111111111111111111"

func newPair(t *testing.T, opts ...ClientOption) (*Transport, *Client, *PipeEnd) {
	t.Helper()
	logger, _ := test.NewNullLogger()
	walletEnd, pageEnd := Pipe()
	tr := New(logger)
	require.NoError(t, tr.Attach("s1", walletEnd))
	t.Cleanup(func() { _ = tr.Close() })
	return tr, NewClient(pageEnd, opts...), pageEnd
}

// answer replies to every inbound request using respond.
func answer(t *testing.T, tr *Transport, respond func(req *protocol.Request) protocol.Message) func() {
	return tr.Subscribe(func(ctx context.Context, ev ports.TransportEvent) {
		if ev.Type != ports.TransportFrame {
			return
		}
		msg, err := protocol.Decode(ev.Frame)
		if !assert.NoError(t, err) {
			return
		}
		out := respond(msg.(*protocol.Request))
		if out == nil {
			return
		}
		frame, err := protocol.Encode(out)
		require.NoError(t, err)
		assert.NoError(t, tr.Send(ctx, ev.SessionID, frame))
	})
}

func TestRequestResponse(t *testing.T) {
	tr, client, _ := newPair(t)
	defer answer(t, tr, func(req *protocol.Request) protocol.Message {
		assert.Equal(t, protocol.MethodSendTransaction, req.Method())
		resp, err := protocol.NewResultResponse(req.ID, "boc")
		require.NoError(t, err)
		return resp
	})()

	msg, err := client.Request(context.Background(), protocol.SendTransactionRequest{
		Messages: []protocol.TransactionMessage{{Address: peer, Amount: "1"}},
	})
	require.NoError(t, err)
	resp, ok := msg.(*protocol.Response)
	require.True(t, ok)
	assert.JSONEq(t, `"boc"`, string(resp.Result))
	assert.True(t, tr.IsAvailable("s1"))
	assert.Equal(t, core.TransportInjected, tr.Kind())
}

func TestRestoreConnectionGetsEvent(t *testing.T) {
	tr, client, _ := newPair(t)
	defer answer(t, tr, func(req *protocol.Request) protocol.Message {
		return protocol.NewConnectErrorEvent(req.ID, protocol.ErrorUnknownApp, "no session")
	})()

	msg, err := client.Request(context.Background(), protocol.RestoreConnectionRequest{})
	require.NoError(t, err)
	ev, ok := msg.(*protocol.Event)
	require.True(t, ok)
	assert.Equal(t, protocol.EventConnectError, ev.Name)
}

func TestRequestTimeout(t *testing.T) {
	tr, client, _ := newPair(t, WithTimeouts(0, 20*time.Millisecond))
	defer answer(t, tr, func(*protocol.Request) protocol.Message { return nil })()

	_, err := client.Request(context.Background(), protocol.SignDataRequest{Type: protocol.SignDataText, Text: "x"})
	assert.ErrorIs(t, err, core.ErrTimeout)
}

func TestMalformedResponse(t *testing.T) {
	tr, client, _ := newPair(t)
	defer tr.Subscribe(func(ctx context.Context, ev ports.TransportEvent) {
		if ev.Type != ports.TransportFrame {
			return
		}
		msg, err := protocol.Decode(ev.Frame)
		require.NoError(t, err)
		_ = tr.Send(ctx, ev.SessionID, []byte(`{"id":"`+msg.CorrelationID()+`"}`))
	})()

	_, err := client.Request(context.Background(), protocol.SignDataRequest{Type: protocol.SignDataText, Text: "x"})
	assert.ErrorIs(t, err, ErrMalformedResponse)
}

func TestReplyShapeMustMatchMethod(t *testing.T) {
	tr, client, _ := newPair(t)
	defer answer(t, tr, func(req *protocol.Request) protocol.Message {
		if req.Method() == protocol.MethodSendTransaction {
			return protocol.NewConnectErrorEvent(req.ID, protocol.ErrorUnknownApp, "wrong shape")
		}
		resp, err := protocol.NewResultResponse(req.ID, "not-a-connect-event")
		require.NoError(t, err)
		return resp
	})()
	ctx := context.Background()

	_, err := client.Request(ctx, protocol.ConnectRequest{
		ManifestURL: "https://dapp.example/manifest.json",
		Items:       []protocol.ConnectItem{{Name: protocol.ItemTonAddr}},
	})
	assert.ErrorIs(t, err, ErrMalformedResponse)

	_, err = client.Request(ctx, protocol.RestoreConnectionRequest{})
	assert.ErrorIs(t, err, ErrMalformedResponse)

	_, err = client.Request(ctx, protocol.SendTransactionRequest{
		Messages: []protocol.TransactionMessage{{Address: peer, Amount: "1"}},
	})
	assert.ErrorIs(t, err, ErrMalformedResponse)
}

func TestEventSharingIDIsNotAReply(t *testing.T) {
	tr, client, _ := newPair(t)
	defer answer(t, tr, func(req *protocol.Request) protocol.Message {
		ev, err := protocol.NewEvent(protocol.EventDisconnect, req.ID, struct{}{})
		require.NoError(t, err)
		frame, err := protocol.Encode(ev)
		require.NoError(t, err)
		require.NoError(t, tr.Send(context.Background(), "s1", frame))

		resp, err := protocol.NewResultResponse(req.ID, "sig")
		require.NoError(t, err)
		return resp
	})()

	msg, err := client.Request(context.Background(), protocol.SignDataRequest{Type: protocol.SignDataText, Text: "x"})
	require.NoError(t, err)
	assert.IsType(t, &protocol.Response{}, msg)

	select {
	case got := <-client.Events():
		assert.Equal(t, protocol.EventDisconnect, got.Name)
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}
}

func TestUnsolicitedEvent(t *testing.T) {
	tr, client, _ := newPair(t)

	ev, err := protocol.NewEvent(protocol.EventDisconnect, "99", struct{}{})
	require.NoError(t, err)
	frame, err := protocol.Encode(ev)
	require.NoError(t, err)
	require.NoError(t, tr.Send(context.Background(), "s1", frame))

	select {
	case got := <-client.Events():
		assert.Equal(t, protocol.EventDisconnect, got.Name)
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}
}

func TestBridgeLossSurfacesDisconnect(t *testing.T) {
	tr, client, pageEnd := newPair(t)

	lost := make(chan string, 1)
	defer tr.Subscribe(func(_ context.Context, ev ports.TransportEvent) {
		if ev.Type == ports.TransportDisconnected {
			lost <- ev.SessionID
		}
	})()

	require.NoError(t, pageEnd.Close())
	select {
	case id := <-lost:
		assert.Equal(t, "s1", id)
	case <-time.After(time.Second):
		t.Fatal("disconnect not surfaced")
	}

	assert.False(t, tr.IsAvailable("s1"))
	err := tr.Send(context.Background(), "s1", []byte(`{}`))
	assert.ErrorIs(t, err, core.ErrTransportUnavailable)

	_, err = client.Request(context.Background(), protocol.DisconnectRequest{})
	assert.Error(t, err)
}

func TestSendUnknownSession(t *testing.T) {
	logger, _ := test.NewNullLogger()
	tr := New(logger)
	err := tr.Send(context.Background(), "nope", []byte(`{}`))
	assert.ErrorIs(t, err, core.ErrTransportUnavailable)
}
