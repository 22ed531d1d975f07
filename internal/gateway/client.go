// Package gateway is a thin client for an Evolution-style WhatsApp HTTP gateway.
//
// Every operation takes the credentials explicitly; the client holds no session
// state and never deduplicates or retries requests. Provider responses are
// normalized into State and PairingArtifact at this boundary.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	defaultTimeout     = 15 * time.Second
	defaultIntegration = "WHATSAPP-BAILEYS"
	maxResponseBytes   = 1 << 20
)

// Credentials addresses one gateway session.
type Credentials struct {
	BaseURL  string
	APIKey   string
	Instance string
}

// Complete reports whether every field needed to reach the gateway is set.
func (c Credentials) Complete() bool {
	return strings.TrimSpace(c.BaseURL) != "" &&
		strings.TrimSpace(c.APIKey) != "" &&
		strings.TrimSpace(c.Instance) != ""
}

// Client issues requests against the gateway HTTP API.
type Client struct {
	http        *http.Client
	integration string
	observer    Observer
	logger      *zap.Logger
}

// Observer is told about every completed request. status is zero for
// transport failures.
type Observer interface {
	ObserveRequest(op string, status int, took time.Duration)
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// WithIntegration sets the integration name sent on session creation.
func WithIntegration(name string) Option {
	return func(c *Client) { c.integration = name }
}

// WithObserver reports request outcomes to o.
func WithObserver(o Observer) Option {
	return func(c *Client) { c.observer = o }
}

// New creates a gateway client.
func New(logger *zap.Logger, opts ...Option) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Client{
		http:        &http.Client{Timeout: defaultTimeout},
		integration: defaultIntegration,
		logger:      logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func baseURL(creds Credentials) string {
	return strings.TrimRight(strings.TrimSpace(creds.BaseURL), "/")
}

// endpoint joins the base URL with a path and the escaped instance name.
func endpoint(creds Credentials, path string) string {
	return baseURL(creds) + path + url.PathEscape(creds.Instance)
}

type response struct {
	status int
	body   []byte
}

func (r *response) ok() bool {
	return r.status >= 200 && r.status < 300
}

// do performs a request. A returned error is a local or transport failure
// wrapped in *Error; HTTP status handling is left to the caller.
func (c *Client) do(ctx context.Context, op, method, target, apiKey string, payload any) (*response, error) {
	var body io.Reader
	if payload != nil {
		buf, err := json.Marshal(payload)
		if err != nil {
			return nil, &Error{Op: op, Reason: "encode request", Err: err, Local: true}
		}
		body = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, &Error{Op: op, Reason: "build request", Err: err, Local: true}
	}
	req.Header.Set("apikey", apiKey)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.observe(op, 0, time.Since(start))
		c.logger.Debug("gateway request failed", zap.String("op", op), zap.Error(err))
		return nil, &Error{Op: op, Reason: reasonTransport, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		c.observe(op, 0, time.Since(start))
		c.logger.Debug("gateway response unreadable", zap.String("op", op), zap.Int("status", resp.StatusCode), zap.Error(err))
		return nil, &Error{Op: op, Reason: reasonTransport, Err: fmt.Errorf("read body: %w", err)}
	}
	took := time.Since(start)
	c.observe(op, resp.StatusCode, took)
	c.logger.Debug("gateway request",
		zap.String("op", op),
		zap.Int("status", resp.StatusCode),
		zap.Duration("took", took),
	)
	return &response{status: resp.StatusCode, body: data}, nil
}

func (c *Client) observe(op string, status int, took time.Duration) {
	if c.observer != nil {
		c.observer.ObserveRequest(op, status, took)
	}
}

// rejected builds the error for a non-2xx response.
func rejected(op string, r *response) *Error {
	return &Error{Op: op, StatusCode: r.status, Reason: errorReason(r.status, r.body)}
}
