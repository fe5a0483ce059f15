package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/layer-3/walletkit/core"
	"github.com/tidwall/gjson"
)

// DecodeError reports why an inbound frame was refused. ID is set when the
// frame carried a usable correlation id, so the caller can still answer it.
type DecodeError struct {
	ID     string
	Reason string
}

func (e *DecodeError) Error() string {
	return "decode: " + e.Reason
}

func (e *DecodeError) Unwrap() error {
	return core.ErrDecode
}

func decodeErr(id, format string, args ...any) *DecodeError {
	return &DecodeError{ID: id, Reason: fmt.Sprintf(format, args...)}
}

type wireRequest struct {
	Method Method            `json:"method"`
	Params []json.RawMessage `json:"params"`
	ID     string            `json:"id"`
}

type wireResponse struct {
	Result json.RawMessage `json:"result,omitempty"`
	Error  *Error          `json:"error,omitempty"`
	ID     string          `json:"id"`
}

type wireEvent struct {
	Event   EventName       `json:"event"`
	ID      string          `json:"id"`
	Payload json.RawMessage `json:"payload"`
}

// Encode serializes msg into a wire frame.
func Encode(msg Message) ([]byte, error) {
	switch m := msg.(type) {
	case *Request:
		return encodeRequest(m)
	case *Response:
		if m.ID == "" {
			return nil, fmt.Errorf("encode response: missing id")
		}
		if (m.Error == nil) == (m.Result == nil) {
			return nil, fmt.Errorf("encode response %s: exactly one of result and error must be set", m.ID)
		}
		return json.Marshal(wireResponse{Result: m.Result, Error: m.Error, ID: m.ID})
	case *Event:
		if m.ID == "" {
			return nil, fmt.Errorf("encode event: missing id")
		}
		payload := m.Payload
		if payload == nil {
			payload = json.RawMessage("{}")
		}
		return json.Marshal(wireEvent{Event: m.Name, ID: m.ID, Payload: payload})
	default:
		return nil, fmt.Errorf("encode: unsupported message %T", msg)
	}
}

func encodeRequest(r *Request) ([]byte, error) {
	if r.ID == "" {
		return nil, fmt.Errorf("encode request: missing id")
	}
	if r.Payload == nil {
		return nil, fmt.Errorf("encode request %s: missing payload", r.ID)
	}
	if err := r.Payload.validate(); err != nil {
		return nil, fmt.Errorf("encode request %s: %w", r.ID, err)
	}
	params := []json.RawMessage{}
	switch p := r.Payload.(type) {
	case ConnectRequest:
		raw, err := json.Marshal(p)
		if err != nil {
			return nil, err
		}
		params = append(params, raw)
	case SendTransactionRequest, SignDataRequest:
		inner, err := json.Marshal(p)
		if err != nil {
			return nil, err
		}
		raw, err := json.Marshal(string(inner))
		if err != nil {
			return nil, err
		}
		params = append(params, raw)
	}
	return json.Marshal(wireRequest{Method: r.Payload.Method(), Params: params, ID: r.ID})
}

// Decode parses and validates a wire frame. Any shape violation yields a
// *DecodeError; no field is ever defaulted.
func Decode(data []byte) (Message, error) {
	if !gjson.ValidBytes(data) {
		return nil, decodeErr("", "frame is not valid JSON")
	}
	root := gjson.ParseBytes(data)
	if !root.IsObject() {
		return nil, decodeErr("", "frame is not an object")
	}
	idField := root.Get("id")
	if !idField.Exists() {
		return nil, decodeErr("", "missing id")
	}
	if idField.Type != gjson.String && idField.Type != gjson.Number {
		return nil, decodeErr("", "id must be a string or a number")
	}
	id := idField.String()
	if id == "" {
		return nil, decodeErr("", "empty id")
	}

	switch {
	case root.Get("method").Exists():
		return decodeRequest(id, root)
	case root.Get("event").Exists():
		return decodeEvent(id, root)
	case root.Get("result").Exists() || root.Get("error").Exists():
		return decodeResponse(id, root)
	default:
		return nil, decodeErr(id, "unknown message kind")
	}
}

func decodeRequest(id string, root gjson.Result) (*Request, error) {
	methodField := root.Get("method")
	if methodField.Type != gjson.String {
		return nil, decodeErr(id, "method must be a string")
	}
	paramsField := root.Get("params")
	var params []gjson.Result
	if paramsField.Exists() {
		if !paramsField.IsArray() {
			return nil, decodeErr(id, "params must be an array")
		}
		params = paramsField.Array()
	}

	var payload Payload
	switch method := Method(methodField.String()); method {
	case MethodConnect:
		if len(params) != 1 || !params[0].IsObject() {
			return nil, decodeErr(id, "connect expects a single object param")
		}
		var p ConnectRequest
		if err := strictUnmarshal([]byte(params[0].Raw), &p); err != nil {
			return nil, decodeErr(id, "connect: %v", err)
		}
		payload = p
	case MethodSendTransaction:
		raw, err := singleStringParam(id, method, params)
		if err != nil {
			return nil, err
		}
		var p SendTransactionRequest
		if err := strictUnmarshal(raw, &p); err != nil {
			return nil, decodeErr(id, "sendTransaction: %v", err)
		}
		payload = p
	case MethodSignData:
		raw, err := singleStringParam(id, method, params)
		if err != nil {
			return nil, err
		}
		var p SignDataRequest
		if err := strictUnmarshal(raw, &p); err != nil {
			return nil, decodeErr(id, "signData: %v", err)
		}
		payload = p
	case MethodRestoreConnection:
		if len(params) != 0 {
			return nil, decodeErr(id, "restoreConnection takes no params")
		}
		payload = RestoreConnectionRequest{}
	case MethodDisconnect:
		if len(params) != 0 {
			return nil, decodeErr(id, "disconnect takes no params")
		}
		payload = DisconnectRequest{}
	default:
		return nil, decodeErr(id, "unknown method %q", method)
	}

	if err := payload.validate(); err != nil {
		return nil, decodeErr(id, "%s: %v", payload.Method(), err)
	}
	return &Request{ID: id, Payload: payload}, nil
}

func singleStringParam(id string, method Method, params []gjson.Result) ([]byte, error) {
	if len(params) != 1 || params[0].Type != gjson.String {
		return nil, decodeErr(id, "%s expects a single JSON string param", method)
	}
	inner := params[0].String()
	if !gjson.Valid(inner) {
		return nil, decodeErr(id, "%s param is not valid JSON", method)
	}
	return []byte(inner), nil
}

func decodeResponse(id string, root gjson.Result) (*Response, error) {
	result := root.Get("result")
	errField := root.Get("error")
	if result.Exists() && errField.Exists() {
		return nil, decodeErr(id, "response carries both result and error")
	}
	if errField.Exists() {
		if !errField.IsObject() {
			return nil, decodeErr(id, "error must be an object")
		}
		var e Error
		if err := strictUnmarshal([]byte(errField.Raw), &e); err != nil {
			return nil, decodeErr(id, "error: %v", err)
		}
		if !errField.Get("code").Exists() {
			return nil, decodeErr(id, "error without code")
		}
		return &Response{ID: id, Error: &e}, nil
	}
	return &Response{ID: id, Result: json.RawMessage(result.Raw)}, nil
}

func decodeEvent(id string, root gjson.Result) (*Event, error) {
	nameField := root.Get("event")
	if nameField.Type != gjson.String {
		return nil, decodeErr(id, "event must be a string")
	}
	name := EventName(nameField.String())
	switch name {
	case EventConnect, EventConnectError, EventDisconnect:
	default:
		return nil, decodeErr(id, "unknown event %q", name)
	}
	payload := root.Get("payload")
	if !payload.Exists() || !payload.IsObject() {
		return nil, decodeErr(id, "event payload must be an object")
	}
	return &Event{Name: name, ID: id, Payload: json.RawMessage(payload.Raw)}, nil
}

func strictUnmarshal(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if dec.More() {
		return fmt.Errorf("trailing data")
	}
	return nil
}
