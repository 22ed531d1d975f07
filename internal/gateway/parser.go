package gateway

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"strings"
)

// State is the provider connection value normalized to the three shapes the
// console distinguishes.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateConnecting:
		return "connecting"
	default:
		return "disconnected"
	}
}

type stateBody struct {
	Instance *struct {
		State  string `json:"state"`
		Status string `json:"status"`
	} `json:"instance"`
	State string `json:"state"`
}

// parseState normalizes the connection state body. Providers report the value
// nested under "instance" or at the top level, in varying case.
func parseState(body []byte) State {
	var sb stateBody
	if err := json.Unmarshal(body, &sb); err != nil {
		return StateDisconnected
	}
	raw := sb.State
	if sb.Instance != nil {
		raw = sb.Instance.State
		if raw == "" {
			raw = sb.Instance.Status
		}
	}
	return normalizeState(raw)
}

func normalizeState(raw string) State {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "open", "connected":
		return StateConnected
	case "connecting":
		return StateConnecting
	default:
		return StateDisconnected
	}
}

type connectBody struct {
	Base64      string `json:"base64"`
	Code        string `json:"code"`
	PairingCode string `json:"pairingCode"`
	QRCode      *struct {
		Base64 string `json:"base64"`
		Code   string `json:"code"`
	} `json:"qrcode"`
}

// parseArtifact extracts the pairing artifact. It returns nil when the body
// carries neither an image nor a code.
func parseArtifact(body []byte) *PairingArtifact {
	var cb connectBody
	if err := json.Unmarshal(body, &cb); err != nil {
		return nil
	}
	if cb.QRCode != nil {
		if cb.Base64 == "" {
			cb.Base64 = cb.QRCode.Base64
		}
		if cb.Code == "" {
			cb.Code = cb.QRCode.Code
		}
	}

	a := &PairingArtifact{
		Image:       decodeImage(cb.Base64),
		Code:        cb.Code,
		PairingCode: cb.PairingCode,
	}
	if a.Empty() {
		return nil
	}
	return a
}

// decodeImage accepts either a data URI or bare base64.
func decodeImage(s string) []byte {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	if strings.HasPrefix(s, "data:") {
		_, payload, ok := strings.Cut(s, ",")
		if !ok {
			return nil
		}
		s = payload
	}
	img, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil
	}
	return img
}

type sendBody struct {
	Key struct {
		ID string `json:"id"`
	} `json:"key"`
	Status string `json:"status"`
}

type errorBody struct {
	Message  json.RawMessage `json:"message"`
	Error    string          `json:"error"`
	Response struct {
		Message json.RawMessage `json:"message"`
	} `json:"response"`
}

// errorReason digs a human-readable reason out of an error body.
func errorReason(status int, body []byte) string {
	var eb errorBody
	if err := json.Unmarshal(body, &eb); err == nil {
		for _, raw := range []json.RawMessage{eb.Response.Message, eb.Message} {
			if msg := flattenMessage(raw); msg != "" {
				return msg
			}
		}
		if eb.Error != "" {
			return eb.Error
		}
	}
	if text := http.StatusText(status); text != "" {
		return strings.ToLower(text)
	}
	return "request rejected"
}

// flattenMessage renders a message field that may be a string, a list of
// strings, or a list of objects.
func flattenMessage(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var list []json.RawMessage
	if err := json.Unmarshal(raw, &list); err == nil {
		parts := make([]string, 0, len(list))
		for _, item := range list {
			if msg := flattenMessage(item); msg != "" {
				parts = append(parts, msg)
			}
		}
		return strings.Join(parts, "; ")
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return ""
	}
	return buf.String()
}
