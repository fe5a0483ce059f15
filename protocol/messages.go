// Package protocol implements the wire codec spoken between dApps and the
// wallet: requests, responses and events, each with a concrete payload type.
package protocol

import (
	"encoding/json"
	"fmt"
)

// Method names an inbound request.
type Method string

const (
	MethodConnect           Method = "connect"
	MethodRestoreConnection Method = "restoreConnection"
	MethodSendTransaction   Method = "sendTransaction"
	MethodSignData          Method = "signData"
	MethodDisconnect        Method = "disconnect"
)

// EventName names an outbound wallet event.
type EventName string

const (
	EventConnect      EventName = "connect"
	EventConnectError EventName = "connect_error"
	EventDisconnect   EventName = "disconnect"
)

// ErrorCode is the numeric error code carried in error responses and events.
type ErrorCode int

const (
	ErrorUnknown            ErrorCode = 0
	ErrorBadRequest         ErrorCode = 1
	ErrorUnknownApp         ErrorCode = 100
	ErrorUserDeclined       ErrorCode = 300
	ErrorMethodNotSupported ErrorCode = 400
	ErrorTimeout            ErrorCode = 500
)

// Message is one framed protocol message. It is implemented by *Request,
// *Response and *Event only.
type Message interface {
	CorrelationID() string
	message()
}

// Request is an inbound dApp request.
type Request struct {
	ID      string
	Payload Payload
}

func (r *Request) CorrelationID() string { return r.ID }
func (*Request) message()                {}

// Method returns the method of the carried payload.
func (r *Request) Method() Method {
	return r.Payload.Method()
}

// Error is a structured protocol error.
type Error struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("protocol error %d: %s", e.Code, e.Message)
}

// Response answers an RPC request. Exactly one of Result and Error is set.
type Response struct {
	ID     string
	Result json.RawMessage
	Error  *Error
}

func (r *Response) CorrelationID() string { return r.ID }
func (*Response) message()                {}

// Event is an outbound wallet event such as connect or disconnect.
type Event struct {
	Name    EventName
	ID      string
	Payload json.RawMessage
}

func (e *Event) CorrelationID() string { return e.ID }
func (*Event) message()                {}

// NewResultResponse builds a successful response carrying v.
func NewResultResponse(id string, v any) (*Response, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal result: %w", err)
	}
	return &Response{ID: id, Result: raw}, nil
}

// NewErrorResponse builds an error response.
func NewErrorResponse(id string, code ErrorCode, msg string) *Response {
	return &Response{ID: id, Error: &Error{Code: code, Message: msg}}
}

// NewEvent builds an event carrying payload.
func NewEvent(name EventName, id string, payload any) (*Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal event payload: %w", err)
	}
	return &Event{Name: name, ID: id, Payload: raw}, nil
}

// NewConnectErrorEvent builds a connect_error event.
func NewConnectErrorEvent(id string, code ErrorCode, msg string) *Event {
	raw, _ := json.Marshal(Error{Code: code, Message: msg})
	return &Event{Name: EventConnectError, ID: id, Payload: raw}
}

// ConnectItemReply is one item of a successful connect event.
type ConnectItemReply struct {
	Name            string    `json:"name"`
	Address         string    `json:"address,omitempty"`
	Network         string    `json:"network,omitempty"`
	PublicKey       string    `json:"publicKey,omitempty"`
	WalletStateInit string    `json:"walletStateInit,omitempty"`
	Proof           *TonProof `json:"proof,omitempty"`
	Error           *Error    `json:"error,omitempty"`
}

// TonProof is the signed proof of wallet ownership for a dApp domain.
type TonProof struct {
	Timestamp int64       `json:"timestamp"`
	Domain    ProofDomain `json:"domain"`
	Signature string      `json:"signature"`
	Payload   string      `json:"payload"`
}

// ProofDomain is the dApp domain a proof is bound to.
type ProofDomain struct {
	LengthBytes uint32 `json:"lengthBytes"`
	Value       string `json:"value"`
}

// Feature advertises a wallet capability.
type Feature struct {
	Name        string   `json:"name"`
	MaxMessages int      `json:"maxMessages,omitempty"`
	Types       []string `json:"types,omitempty"`
}

// DeviceInfo describes the wallet application.
type DeviceInfo struct {
	Platform           string    `json:"platform"`
	AppName            string    `json:"appName"`
	AppVersion         string    `json:"appVersion"`
	MaxProtocolVersion int       `json:"maxProtocolVersion"`
	Features           []Feature `json:"features"`
}

// ConnectEventPayload is the payload of a connect event.
type ConnectEventPayload struct {
	Items  []ConnectItemReply `json:"items"`
	Device DeviceInfo         `json:"device"`
}

// SignDataResult is the result of a signData request.
type SignDataResult struct {
	Signature string          `json:"signature"`
	Address   string          `json:"address"`
	Timestamp int64           `json:"timestamp"`
	Domain    string          `json:"domain"`
	Payload   SignDataRequest `json:"payload"`
}
