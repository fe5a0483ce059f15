package protocol

import (
	"encoding/base64"
	"fmt"
	"math"
	"net/url"
	"regexp"

	"github.com/layer-3/walletkit/core"
	"github.com/shopspring/decimal"
)

// MaxTransactionMessages is the largest number of outgoing messages a single
// sendTransaction request may carry.
const MaxTransactionMessages = 4

// MaxValidUntil is the latest expiry a transfer body can carry.
const MaxValidUntil = math.MaxUint32

var nanoAmount = regexp.MustCompile(`^[0-9]+$`)

// ParseNanoAmount parses a wire amount. Only plain decimal digits are
// accepted, so signs, exponents and fractions are refused.
func ParseNanoAmount(s string) (decimal.Decimal, error) {
	if !nanoAmount.MatchString(s) {
		return decimal.Zero, fmt.Errorf("amount %q is not a non-negative integer", s)
	}
	return decimal.NewFromString(s)
}

const (
	ItemTonAddr  = "ton_addr"
	ItemTonProof = "ton_proof"
)

// Payload is the kind specific body of a Request. The set of
// implementations is closed.
type Payload interface {
	Method() Method
	validate() error
}

// ConnectItem requests one piece of information at connect time.
type ConnectItem struct {
	Name    string `json:"name"`
	Payload string `json:"payload,omitempty"`
}

// ConnectRequest opens a session.
type ConnectRequest struct {
	ManifestURL string        `json:"manifestUrl"`
	Items       []ConnectItem `json:"items"`
}

func (ConnectRequest) Method() Method { return MethodConnect }

func (r ConnectRequest) validate() error {
	u, err := url.Parse(r.ManifestURL)
	if err != nil || !u.IsAbs() || (u.Scheme != "https" && u.Scheme != "http") || u.Host == "" {
		return fmt.Errorf("manifestUrl %q is not an absolute http(s) url", r.ManifestURL)
	}
	if len(r.Items) == 0 {
		return fmt.Errorf("items must not be empty")
	}
	hasAddr := false
	for i, item := range r.Items {
		switch item.Name {
		case ItemTonAddr:
			hasAddr = true
		case ItemTonProof:
			if item.Payload == "" {
				return fmt.Errorf("items[%d]: ton_proof requires a payload", i)
			}
		default:
			return fmt.Errorf("items[%d]: unknown item %q", i, item.Name)
		}
	}
	if !hasAddr {
		return fmt.Errorf("items must request %s", ItemTonAddr)
	}
	return nil
}

// Domain returns the host the manifest is served from.
func (r ConnectRequest) Domain() string {
	u, err := url.Parse(r.ManifestURL)
	if err != nil {
		return ""
	}
	return u.Hostname()
}

// ProofPayload returns the ton_proof payload if one was requested.
func (r ConnectRequest) ProofPayload() (string, bool) {
	for _, item := range r.Items {
		if item.Name == ItemTonProof {
			return item.Payload, true
		}
	}
	return "", false
}

// RestoreConnectionRequest asks the wallet to resume an existing session.
type RestoreConnectionRequest struct{}

func (RestoreConnectionRequest) Method() Method { return MethodRestoreConnection }
func (RestoreConnectionRequest) validate() error {
	return nil
}

// DisconnectRequest ends a session.
type DisconnectRequest struct{}

func (DisconnectRequest) Method() Method { return MethodDisconnect }
func (DisconnectRequest) validate() error {
	return nil
}

// TransactionMessage is one outgoing value transfer.
type TransactionMessage struct {
	Address   string `json:"address"`
	Amount    string `json:"amount"`
	Payload   string `json:"payload,omitempty"`
	StateInit string `json:"stateInit,omitempty"`
}

// SendTransactionRequest asks the wallet to sign and send transfers.
type SendTransactionRequest struct {
	ValidUntil int64                `json:"valid_until,omitempty"`
	Network    string               `json:"network,omitempty"`
	From       string               `json:"from,omitempty"`
	Messages   []TransactionMessage `json:"messages"`
}

func (SendTransactionRequest) Method() Method { return MethodSendTransaction }

func (r SendTransactionRequest) validate() error {
	if len(r.Messages) == 0 || len(r.Messages) > MaxTransactionMessages {
		return fmt.Errorf("messages must contain 1 to %d entries", MaxTransactionMessages)
	}
	if r.ValidUntil < 0 || r.ValidUntil > MaxValidUntil {
		return fmt.Errorf("valid_until %d is out of range", r.ValidUntil)
	}
	if err := validateNetwork(r.Network); err != nil {
		return err
	}
	if r.From != "" {
		if _, err := core.ParseAddress(r.From); err != nil {
			return fmt.Errorf("from: %w", err)
		}
	}
	for i, m := range r.Messages {
		if _, err := core.ParseAddress(m.Address); err != nil {
			return fmt.Errorf("messages[%d].address: %w", i, err)
		}
		if _, err := ParseNanoAmount(m.Amount); err != nil {
			return fmt.Errorf("messages[%d]: %w", i, err)
		}
		if err := validateBase64("payload", m.Payload); err != nil {
			return fmt.Errorf("messages[%d]: %w", i, err)
		}
		if err := validateBase64("stateInit", m.StateInit); err != nil {
			return fmt.Errorf("messages[%d]: %w", i, err)
		}
	}
	return nil
}

// TotalNano returns the sum of all message amounts in nano units.
// The request must have passed validation.
func (r SendTransactionRequest) TotalNano() decimal.Decimal {
	total := decimal.Zero
	for _, m := range r.Messages {
		amount, err := ParseNanoAmount(m.Amount)
		if err != nil {
			continue
		}
		total = total.Add(amount)
	}
	return total
}

// SignDataType selects the shape of a signData payload.
type SignDataType string

const (
	SignDataText   SignDataType = "text"
	SignDataBinary SignDataType = "binary"
	SignDataCell   SignDataType = "cell"
)

// SignDataRequest asks the wallet to sign arbitrary data.
type SignDataRequest struct {
	Type    SignDataType `json:"type"`
	Text    string       `json:"text,omitempty"`
	Bytes   string       `json:"bytes,omitempty"`
	Schema  string       `json:"schema,omitempty"`
	Cell    string       `json:"cell,omitempty"`
	Network string       `json:"network,omitempty"`
	From    string       `json:"from,omitempty"`
}

func (SignDataRequest) Method() Method { return MethodSignData }

func (r SignDataRequest) validate() error {
	if err := validateNetwork(r.Network); err != nil {
		return err
	}
	if r.From != "" {
		if _, err := core.ParseAddress(r.From); err != nil {
			return fmt.Errorf("from: %w", err)
		}
	}
	switch r.Type {
	case SignDataText:
		if r.Text == "" {
			return fmt.Errorf("text payload requires text")
		}
	case SignDataBinary:
		if r.Bytes == "" {
			return fmt.Errorf("binary payload requires bytes")
		}
		return validateBase64("bytes", r.Bytes)
	case SignDataCell:
		if r.Schema == "" || r.Cell == "" {
			return fmt.Errorf("cell payload requires schema and cell")
		}
		return validateBase64("cell", r.Cell)
	default:
		return fmt.Errorf("unknown sign data type %q", r.Type)
	}
	return nil
}

// Data returns the raw bytes being signed and the type prefix used in the
// signed message.
func (r SignDataRequest) Data() ([]byte, error) {
	switch r.Type {
	case SignDataText:
		return []byte(r.Text), nil
	case SignDataBinary:
		return base64.StdEncoding.DecodeString(r.Bytes)
	case SignDataCell:
		return base64.StdEncoding.DecodeString(r.Cell)
	default:
		return nil, fmt.Errorf("unknown sign data type %q", r.Type)
	}
}

func validateNetwork(chainID string) error {
	if chainID == "" {
		return nil
	}
	if _, err := core.NetworkFromChainID(chainID); err != nil {
		return fmt.Errorf("network: %w", err)
	}
	return nil
}

func validateBase64(field, value string) error {
	if value == "" {
		return nil
	}
	if _, err := base64.StdEncoding.DecodeString(value); err != nil {
		return fmt.Errorf("%s is not valid base64", field)
	}
	return nil
}
