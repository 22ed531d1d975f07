package main

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
)

// client talks to the daemon's control API.
type client struct {
	base string
	http *http.Client
}

func newClient(addr string) *client {
	base := addr
	if !strings.Contains(base, "://") {
		base = "http://" + base
	}
	return &client{
		base: strings.TrimRight(base, "/"),
		http: &http.Client{Timeout: 30 * time.Second},
	}
}

// apiError is a non-2xx answer from the daemon.
type apiError struct {
	StatusCode int
	Message    string
}

func (e *apiError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("daemon returned %d", e.StatusCode)
	}
	return fmt.Sprintf("daemon returned %d: %s", e.StatusCode, e.Message)
}

type statusView struct {
	State       string `json:"state"`
	Instance    string `json:"instance,omitempty"`
	Configured  bool   `json:"configured"`
	QR          string `json:"qr,omitempty"`
	Code        string `json:"code,omitempty"`
	PairingCode string `json:"pairing_code,omitempty"`
}

type conversationView struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Address   string    `json:"address"`
	CreatedAt time.Time `json:"created_at"`
}

type messageView struct {
	ID        string    `json:"id"`
	Body      string    `json:"body"`
	FromMe    bool      `json:"from_me"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

type threadView struct {
	Conversation conversationView `json:"conversation"`
	Messages     []messageView    `json:"messages"`
}

func (c *client) Status(ctx context.Context) (*statusView, error) {
	var out statusView
	return &out, c.call(ctx, http.MethodGet, "/status", nil, &out)
}

func (c *client) Pair(ctx context.Context) (*statusView, error) {
	var out statusView
	return &out, c.call(ctx, http.MethodPost, "/pair", nil, &out)
}

func (c *client) Logout(ctx context.Context) (*statusView, error) {
	var out statusView
	return &out, c.call(ctx, http.MethodPost, "/logout", nil, &out)
}

func (c *client) SaveSettings(ctx context.Context, baseURL, apiKey, instance string) error {
	return c.call(ctx, http.MethodPut, "/settings", map[string]string{
		"base_url": baseURL,
		"api_key":  apiKey,
		"instance": instance,
	}, nil)
}

func (c *client) Conversations(ctx context.Context, query string) ([]conversationView, error) {
	path := "/conversations"
	if query != "" {
		path += "?q=" + url.QueryEscape(query)
	}
	var out []conversationView
	return out, c.call(ctx, http.MethodGet, path, nil, &out)
}

func (c *client) CreateConversation(ctx context.Context, name, address string) (*conversationView, error) {
	var out conversationView
	return &out, c.call(ctx, http.MethodPost, "/conversations", map[string]string{"name": name, "address": address}, &out)
}

func (c *client) Open(ctx context.Context, id string) (*conversationView, error) {
	var out conversationView
	return &out, c.call(ctx, http.MethodPost, "/conversations/"+url.PathEscape(id)+"/open", nil, &out)
}

func (c *client) Messages(ctx context.Context) (*threadView, error) {
	var out threadView
	return &out, c.call(ctx, http.MethodGet, "/messages", nil, &out)
}

func (c *client) Send(ctx context.Context, body string) (*messageView, error) {
	var out messageView
	return &out, c.call(ctx, http.MethodPost, "/messages", map[string]string{"body": body}, &out)
}

func (c *client) call(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("cannot reach daemon at %s: %w", c.base, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var e struct {
			Error string `json:"error"`
		}
		_ = json.Unmarshal(data, &e)
		return &apiError{StatusCode: resp.StatusCode, Message: e.Error}
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
