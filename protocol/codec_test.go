package protocol

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/layer-3/walletkit/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testAddress = "0:83dfd552e63729b472fcbcc8c45ebcc6691702558b68ec7527e1ba403a0f31a8"

func TestDecodeSendTransaction(t *testing.T) {
	inner := `{"valid_until":1700000000,"network":"-239","messages":[{"address":"` + testAddress + `","amount":"1000000000"}]}`
	frame, err := json.Marshal(map[string]any{
		"method": "sendTransaction",
		"params": []string{inner},
		"id":     "7",
	})
	require.NoError(t, err)

	msg, err := Decode(frame)
	require.NoError(t, err)

	req, ok := msg.(*Request)
	require.True(t, ok)
	assert.Equal(t, "7", req.ID)
	assert.Equal(t, MethodSendTransaction, req.Method())

	tx, ok := req.Payload.(SendTransactionRequest)
	require.True(t, ok)
	assert.Equal(t, int64(1700000000), tx.ValidUntil)
	require.Len(t, tx.Messages, 1)
	assert.Equal(t, "1000000000", tx.TotalNano().String())
}

func TestDecodeNumericID(t *testing.T) {
	msg, err := Decode([]byte(`{"method":"disconnect","params":[],"id":42}`))
	require.NoError(t, err)
	assert.Equal(t, "42", msg.CorrelationID())
	assert.IsType(t, DisconnectRequest{}, msg.(*Request).Payload)
}

func TestDecodeRejectsMalformedFrames(t *testing.T) {
	tests := []struct {
		name   string
		frame  string
		wantID string
	}{
		{"not json", `{"method":`, ""},
		{"not an object", `[1,2]`, ""},
		{"missing id", `{"method":"disconnect","params":[]}`, ""},
		{"empty id", `{"method":"disconnect","params":[],"id":""}`, ""},
		{"bool id", `{"method":"disconnect","params":[],"id":true}`, ""},
		{"unknown kind", `{"id":"1","foo":1}`, "1"},
		{"unknown method", `{"method":"mint","params":[],"id":"1"}`, "1"},
		{"params not array", `{"method":"signData","params":"x","id":"2"}`, "2"},
		{"object param for rpc", `{"method":"signData","params":[{"type":"text","text":"hi"}],"id":"3"}`, "3"},
		{"no messages", `{"method":"sendTransaction","params":["{\"messages\":[]}"],"id":"4"}`, "4"},
		{"bad amount", `{"method":"sendTransaction","params":["{\"messages\":[{\"address\":\"` + testAddress + `\",\"amount\":\"1.5\"}]}"],"id":"5"}`, "5"},
		{"exponent amount", `{"method":"sendTransaction","params":["{\"messages\":[{\"address\":\"` + testAddress + `\",\"amount\":\"1e9\"}]}"],"id":"5a"}`, "5a"},
		{"signed amount", `{"method":"sendTransaction","params":["{\"messages\":[{\"address\":\"` + testAddress + `\",\"amount\":\"+5\"}]}"],"id":"5b"}`, "5b"},
		{"valid_until overflow", `{"method":"sendTransaction","params":["{\"valid_until\":5994967296,\"messages\":[{\"address\":\"` + testAddress + `\",\"amount\":\"1\"}]}"],"id":"5c"}`, "5c"},
		{"bad address", `{"method":"sendTransaction","params":["{\"messages\":[{\"address\":\"nope\",\"amount\":\"1\"}]}"],"id":"6"}`, "6"},
		{"unknown network", `{"method":"signData","params":["{\"type\":\"text\",\"text\":\"hi\",\"network\":\"1\"}"],"id":"7"}`, "7"},
		{"unknown field", `{"method":"signData","params":["{\"type\":\"text\",\"text\":\"hi\",\"extra\":1}"],"id":"8"}`, "8"},
		{"text without text", `{"method":"signData","params":["{\"type\":\"text\"}"],"id":"9"}`, "9"},
		{"connect without ton_addr", `{"method":"connect","params":[{"manifestUrl":"https://example.com/m.json","items":[{"name":"ton_proof","payload":"p"}]}],"id":"10"}`, "10"},
		{"connect relative manifest", `{"method":"connect","params":[{"manifestUrl":"/m.json","items":[{"name":"ton_addr"}]}],"id":"11"}`, "11"},
		{"disconnect with params", `{"method":"disconnect","params":["x"],"id":"12"}`, "12"},
		{"unknown event", `{"event":"boom","id":"13","payload":{}}`, "13"},
		{"result and error", `{"id":"14","result":"x","error":{"code":1,"message":"m"}}`, "14"},
		{"error without code", `{"id":"15","error":{"message":"m"}}`, "15"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := Decode([]byte(tt.frame))
			require.Error(t, err)
			assert.Nil(t, msg)
			assert.True(t, errors.Is(err, core.ErrDecode))

			var decodeErr *DecodeError
			require.True(t, errors.As(err, &decodeErr))
			assert.Equal(t, tt.wantID, decodeErr.ID)
		})
	}
}

func TestEncodeDecodeConnect(t *testing.T) {
	req := &Request{ID: "c1", Payload: ConnectRequest{
		ManifestURL: "https://example.com/tonconnect-manifest.json",
		Items:       []ConnectItem{{Name: ItemTonAddr}, {Name: ItemTonProof, Payload: "nonce"}},
	}}

	frame, err := Encode(req)
	require.NoError(t, err)

	msg, err := Decode(frame)
	require.NoError(t, err)
	got := msg.(*Request).Payload.(ConnectRequest)
	assert.Equal(t, "example.com", got.Domain())
	payload, ok := got.ProofPayload()
	assert.True(t, ok)
	assert.Equal(t, "nonce", payload)
}

func TestEncodeSignDataUsesStringParam(t *testing.T) {
	frame, err := Encode(&Request{ID: "s1", Payload: SignDataRequest{Type: SignDataText, Text: "hello"}})
	require.NoError(t, err)

	var wire struct {
		Params []json.RawMessage `json:"params"`
	}
	require.NoError(t, json.Unmarshal(frame, &wire))
	require.Len(t, wire.Params, 1)

	var inner string
	require.NoError(t, json.Unmarshal(wire.Params[0], &inner))
	assert.JSONEq(t, `{"type":"text","text":"hello"}`, inner)
}

func TestEncodeRefusesInvalidMessages(t *testing.T) {
	_, err := Encode(&Request{ID: "x", Payload: SignDataRequest{Type: "video"}})
	assert.Error(t, err)

	_, err = Encode(&Response{ID: "x"})
	assert.Error(t, err)

	_, err = Encode(&Response{Error: &Error{Code: ErrorBadRequest}})
	assert.Error(t, err)
}

func TestResponsesAndEvents(t *testing.T) {
	frame, err := Encode(NewErrorResponse("9", ErrorUserDeclined, "declined"))
	require.NoError(t, err)

	msg, err := Decode(frame)
	require.NoError(t, err)
	resp := msg.(*Response)
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrorUserDeclined, resp.Error.Code)

	ok, err := NewResultResponse("10", "boc")
	require.NoError(t, err)
	frame, err = Encode(ok)
	require.NoError(t, err)
	msg, err = Decode(frame)
	require.NoError(t, err)
	assert.JSONEq(t, `"boc"`, string(msg.(*Response).Result))

	frame, err = Encode(NewConnectErrorEvent("11", ErrorUserDeclined, "no"))
	require.NoError(t, err)
	msg, err = Decode(frame)
	require.NoError(t, err)
	ev := msg.(*Event)
	assert.Equal(t, EventConnectError, ev.Name)
	assert.JSONEq(t, `{"code":300,"message":"no"}`, string(ev.Payload))
}
