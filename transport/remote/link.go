package remote

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"

	"github.com/tidwall/gjson"

	"github.com/layer-3/walletkit/protocol"
)

const (
	linkScheme      = "tc"
	protocolVersion = 2
)

// Link is a parsed connect link.
type Link struct {
	Version  int
	ClientID string
	Request  protocol.ConnectRequest
}

// BuildLink renders a tc:// connect link for the dApp client id.
func BuildLink(clientID string, req protocol.ConnectRequest) (string, error) {
	r, err := json.Marshal(req)
	if err != nil {
		return "", err
	}
	q := url.Values{}
	q.Set("v", strconv.Itoa(protocolVersion))
	q.Set("id", clientID)
	q.Set("r", string(r))
	q.Set("ret", "none")
	return linkScheme + "://?" + q.Encode(), nil
}

// ParseLink parses a tc:// link or a universal https link carrying the same
// query parameters.
func ParseLink(link string) (*Link, error) {
	u, err := url.Parse(link)
	if err != nil {
		return nil, fmt.Errorf("parse link: %w", err)
	}
	if u.Scheme != linkScheme && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported link scheme %q", u.Scheme)
	}
	q := u.Query()

	v, err := strconv.Atoi(q.Get("v"))
	if err != nil || v != protocolVersion {
		return nil, fmt.Errorf("unsupported protocol version %q", q.Get("v"))
	}
	id := q.Get("id")
	if _, err := ParseClientID(id); err != nil {
		return nil, err
	}

	r := q.Get("r")
	if !gjson.Valid(r) || !gjson.Parse(r).IsObject() {
		return nil, fmt.Errorf("connect request is not a JSON object")
	}
	// The connect request is decoded through the codec so it gets the same
	// validation as any other inbound connect.
	frame := fmt.Sprintf(`{"id":"0","method":%q,"params":[%s]}`, protocol.MethodConnect, r)
	msg, err := protocol.Decode([]byte(frame))
	if err != nil {
		return nil, fmt.Errorf("connect request: %w", err)
	}
	req, ok := msg.(*protocol.Request)
	if !ok {
		return nil, fmt.Errorf("connect request: unexpected message")
	}
	connect, ok := req.Payload.(protocol.ConnectRequest)
	if !ok {
		return nil, fmt.Errorf("connect request: unexpected payload")
	}
	return &Link{Version: v, ClientID: id, Request: connect}, nil
}
