package ingest

import (
	"encoding/json"
	"strings"
)

const (
	eventMessagesUpsert   = "messages.upsert"
	eventConnectionUpdate = "connection.update"
)

// envelope is the common shape of every gateway webhook.
type envelope struct {
	Event    string          `json:"event"`
	Instance string          `json:"instance"`
	Data     json.RawMessage `json:"data"`
}

type upsertData struct {
	Key struct {
		RemoteJID    string `json:"remoteJid"`
		RemoteJIDAlt string `json:"remoteJidAlt"`
		SenderPN     string `json:"senderPn"`
		FromMe       bool   `json:"fromMe"`
		ID           string `json:"id"`
	} `json:"key"`
	PushName string         `json:"pushName"`
	Message  *messageFields `json:"message"`
}

type messageFields struct {
	Conversation        string `json:"conversation"`
	ExtendedTextMessage *struct {
		Text string `json:"text"`
	} `json:"extendedTextMessage"`
	ImageMessage *captioned `json:"imageMessage"`
	VideoMessage *captioned `json:"videoMessage"`
}

type captioned struct {
	Caption string `json:"caption"`
}

// text returns the plain text of the message, or "" for kinds the console
// does not display.
func (m *messageFields) text() string {
	switch {
	case m == nil:
		return ""
	case m.Conversation != "":
		return m.Conversation
	case m.ExtendedTextMessage != nil:
		return m.ExtendedTextMessage.Text
	case m.ImageMessage != nil:
		return m.ImageMessage.Caption
	case m.VideoMessage != nil:
		return m.VideoMessage.Caption
	}
	return ""
}

// normalizeEvent maps "MESSAGES_UPSERT" and "messages-upsert" to "messages.upsert".
func normalizeEvent(event string) string {
	event = strings.ToLower(strings.TrimSpace(event))
	return strings.NewReplacer("_", ".", "-", ".").Replace(event)
}
