package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"go.mau.fi/whatsmeow/types"
)

// ErrGroupAddress is returned for group chat addresses, which the console does not handle.
var ErrGroupAddress = errors.New("group chats are not supported")

// SendResult is the gateway's acknowledgement of an accepted text message.
type SendResult struct {
	MessageID string
	Status    string
}

type sendRequest struct {
	Number      string `json:"number"`
	Text        string `json:"text"`
	Delay       int    `json:"delay"`
	LinkPreview bool   `json:"linkPreview"`
}

// SendText posts a text message to address. A rejected request fails with the
// reason the gateway put in its error body.
func (c *Client) SendText(ctx context.Context, creds Credentials, address, body string) (SendResult, error) {
	const op = "send text"
	number, err := NormalizeAddress(address)
	if err != nil {
		return SendResult{}, &Error{Op: op, Reason: "invalid address", Err: err, Local: true}
	}
	resp, err := c.do(ctx, op, http.MethodPost, endpoint(creds, "/message/sendText/"), creds.APIKey, sendRequest{
		Number:      number,
		Text:        body,
		Delay:       100,
		LinkPreview: false,
	})
	if err != nil {
		return SendResult{}, err
	}
	if !resp.ok() {
		return SendResult{}, rejected(op, resp)
	}

	var sb sendBody
	if err := json.Unmarshal(resp.body, &sb); err != nil {
		// Accepted but unparseable: delivery went through, the correlation id is lost.
		return SendResult{}, nil
	}
	return SendResult{MessageID: sb.Key.ID, Status: sb.Status}, nil
}

// NormalizeAddress reduces a phone-number-shaped string or a WhatsApp JID to
// the bare digits the gateway expects.
func NormalizeAddress(address string) (string, error) {
	address = strings.TrimSpace(address)
	if strings.Contains(address, "@") {
		jid, err := types.ParseJID(address)
		if err != nil {
			return "", err
		}
		if jid.Server == types.GroupServer {
			return "", ErrGroupAddress
		}
		address = jid.User
	}
	digits := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, address)
	if digits == "" {
		return "", errors.New("address has no digits")
	}
	return digits, nil
}
