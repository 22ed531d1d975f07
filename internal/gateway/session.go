package gateway

import (
	"context"
	"net/http"
	"time"
)

type createRequest struct {
	InstanceName string `json:"instanceName"`
	Token        string `json:"token,omitempty"`
	QRCode       bool   `json:"qrcode"`
	Integration  string `json:"integration,omitempty"`
}

// CreateSession asks the gateway to create the named session. The request is
// forwarded as is; a gateway that already knows the session may reject it.
func (c *Client) CreateSession(ctx context.Context, creds Credentials) error {
	const op = "create session"
	resp, err := c.do(ctx, op, http.MethodPost, baseURL(creds)+"/instance/create", creds.APIKey, createRequest{
		InstanceName: creds.Instance,
		Token:        creds.APIKey,
		QRCode:       true,
		Integration:  c.integration,
	})
	if err != nil {
		return err
	}
	if !resp.ok() {
		return rejected(op, resp)
	}
	return nil
}

// FetchPairingArtifact returns the current pairing token for the session.
func (c *Client) FetchPairingArtifact(ctx context.Context, creds Credentials) (*PairingArtifact, error) {
	const op = "fetch pairing code"
	resp, err := c.do(ctx, op, http.MethodGet, endpoint(creds, "/instance/connect/"), creds.APIKey, nil)
	if err != nil {
		return nil, err
	}
	if !resp.ok() {
		return nil, rejected(op, resp)
	}
	artifact := parseArtifact(resp.body)
	if artifact == nil {
		// Already paired sessions answer with their state instead of a code.
		if parseState(resp.body) == StateConnected {
			return nil, &Error{Op: op, StatusCode: resp.status, Reason: "session already connected"}
		}
		return nil, &Error{Op: op, StatusCode: resp.status, Reason: "response carried no pairing code"}
	}
	artifact.IssuedAt = time.Now()
	return artifact, nil
}

// QueryState returns the provider-reported connection state. Transport
// failures, rejected requests and unreadable bodies all read as
// StateDisconnected. The only error returned is ctx.Err(), so a caller
// shutting down can tell cancellation apart from a real disconnect.
func (c *Client) QueryState(ctx context.Context, creds Credentials) (State, error) {
	const op = "query state"
	resp, err := c.do(ctx, op, http.MethodGet, endpoint(creds, "/instance/connectionState/"), creds.APIKey, nil)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return StateDisconnected, ctxErr
		}
		return StateDisconnected, nil
	}
	if !resp.ok() {
		return StateDisconnected, nil
	}
	return parseState(resp.body), nil
}

// TerminateSession logs the session out of the linked account.
func (c *Client) TerminateSession(ctx context.Context, creds Credentials) error {
	const op = "terminate session"
	resp, err := c.do(ctx, op, http.MethodDelete, endpoint(creds, "/instance/logout/"), creds.APIKey, nil)
	if err != nil {
		return err
	}
	if !resp.ok() {
		return rejected(op, resp)
	}
	return nil
}
