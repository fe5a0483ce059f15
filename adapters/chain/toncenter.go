// Package chain provides a client for toncenter compatible HTTP APIs.
package chain

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"

	"github.com/layer-3/walletkit/ports"
)

// Config holds client configuration.
type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// Client talks to a toncenter v2 style endpoint.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     logrus.FieldLogger
}

var _ ports.ChainAPI = (*Client)(nil)

func New(cfg Config, logger logrus.FieldLogger) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger.WithField("component", "chain"),
	}
}

// Seqno runs the wallet's seqno get-method. Undeployed wallets report 0.
func (c *Client) Seqno(ctx context.Context, address string) (uint32, error) {
	res, err := c.post(ctx, "/runGetMethod", map[string]any{
		"address": address,
		"method":  "seqno",
		"stack":   []any{},
	})
	if err != nil {
		return 0, err
	}
	if code := res.Get("exit_code").Int(); code != 0 {
		c.logger.WithFields(logrus.Fields{"address": address, "exit_code": code}).Debug("seqno get-method failed, assuming undeployed")
		return 0, nil
	}
	raw := res.Get("stack.0.1").String()
	n, err := strconv.ParseUint(strings.TrimPrefix(raw, "0x"), 16, 32)
	if err != nil {
		return 0, fmt.Errorf("parse seqno %q: %w", raw, err)
	}
	return uint32(n), nil
}

// Balance returns the account balance in nanotons.
func (c *Client) Balance(ctx context.Context, address string) (decimal.Decimal, error) {
	res, err := c.get(ctx, "/getAddressBalance", url.Values{"address": {address}})
	if err != nil {
		return decimal.Zero, err
	}
	return decimal.NewFromString(res.String())
}

// SendBoc broadcasts a signed external message and returns its hash.
func (c *Client) SendBoc(ctx context.Context, boc []byte) (string, error) {
	res, err := c.post(ctx, "/sendBocReturnHash", map[string]any{
		"boc": base64.StdEncoding.EncodeToString(boc),
	})
	if err != nil {
		return "", err
	}
	return res.Get("hash").String(), nil
}

// EstimateFee estimates the fees of sending body to address.
func (c *Client) EstimateFee(ctx context.Context, address string, body []byte) (ports.Fees, error) {
	res, err := c.post(ctx, "/estimateFee", map[string]any{
		"address":       address,
		"body":          base64.StdEncoding.EncodeToString(body),
		"ignore_chksig": true,
	})
	if err != nil {
		return ports.Fees{}, err
	}
	src := res.Get("source_fees")
	return ports.Fees{
		InFwdFee:   decimal.NewFromInt(src.Get("in_fwd_fee").Int()),
		StorageFee: decimal.NewFromInt(src.Get("storage_fee").Int()),
		GasFee:     decimal.NewFromInt(src.Get("gas_fee").Int()),
		FwdFee:     decimal.NewFromInt(src.Get("fwd_fee").Int()),
	}, nil
}

// ResolveDNS resolves a .ton name to the wallet address it points at.
func (c *Client) ResolveDNS(ctx context.Context, name string) (string, error) {
	res, err := c.get(ctx, "/resolve", url.Values{"name": {name}})
	if err != nil {
		return "", err
	}
	addr := res.Get("wallet").String()
	if addr == "" {
		return "", fmt.Errorf("%s has no wallet record", name)
	}
	return addr, nil
}

func (c *Client) get(ctx context.Context, path string, query url.Values) (gjson.Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+query.Encode(), nil)
	if err != nil {
		return gjson.Result{}, fmt.Errorf("create request: %w", err)
	}
	return c.do(req)
}

func (c *Client) post(ctx context.Context, path string, payload any) (gjson.Result, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return gjson.Result{}, fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return gjson.Result{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req)
}

func (c *Client) do(req *http.Request) (gjson.Result, error) {
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return gjson.Result{}, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return gjson.Result{}, fmt.Errorf("read response: %w", err)
	}
	if !gjson.ValidBytes(respBody) {
		return gjson.Result{}, fmt.Errorf("request failed: %s - invalid json", resp.Status)
	}

	parsed := gjson.ParseBytes(respBody)
	if resp.StatusCode != http.StatusOK || !parsed.Get("ok").Bool() {
		msg := parsed.Get("error").String()
		if msg == "" {
			msg = resp.Status
		}
		return gjson.Result{}, fmt.Errorf("%s %s: %s", req.Method, req.URL.Path, msg)
	}
	return parsed.Get("result"), nil
}
