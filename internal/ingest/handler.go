// Package ingest receives the gateway's webhooks. Inbound customer messages
// are written to the store, where the live feed carries them to the console;
// connection updates trigger an immediate state poll.
package ingest

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/matheus3301/wppdesk/internal/gateway"
	"github.com/matheus3301/wppdesk/internal/store"
	"go.mau.fi/whatsmeow/types"
	"go.uber.org/zap"
)

// Store is the persistence inbound messages go to.
type Store interface {
	FindConversationByAddress(ctx context.Context, address string) (*store.Conversation, error)
	CreateConversation(ctx context.Context, name, address string) (*store.Conversation, error)
	AppendMessage(ctx context.Context, nm store.NewMessage) (*store.Message, error)
}

// Connection is the part of the monitor webhooks talk to.
type Connection interface {
	Credentials() gateway.Credentials
	PollSoon()
}

// Recorder counts handled events.
type Recorder interface {
	RecordWebhook(event, result string)
}

const (
	resultStored    = "stored"
	resultDuplicate = "duplicate"
	resultIgnored   = "ignored"
	resultFailed    = "failed"
	resultPolled    = "polled"
)

// Handler serves the webhook endpoint.
type Handler struct {
	store    Store
	conn     Connection
	recorder Recorder
	token    string
	logger   *zap.Logger
}

// New creates a webhook handler. An empty token disables the token check.
func New(st Store, conn Connection, recorder Recorder, token string, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{store: st, conn: conn, recorder: recorder, token: token, logger: logger}
}

// Register mounts the webhook routes. Gateways configured to post each event
// to its own path hit /webhook/<event>.
func (h *Handler) Register(r gin.IRouter) {
	g := r.Group("/webhook", h.authorize)
	g.POST("", h.receive)
	g.POST("/:event", h.receive)
}

func (h *Handler) authorize(c *gin.Context) {
	if h.token == "" {
		c.Next()
		return
	}
	got := c.Query("token")
	if got == "" {
		got = c.GetHeader("X-Webhook-Token")
	}
	if subtle.ConstantTimeCompare([]byte(got), []byte(h.token)) != 1 {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid webhook token"})
		return
	}
	c.Next()
}

func (h *Handler) receive(c *gin.Context) {
	var env envelope
	if err := c.ShouldBindJSON(&env); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed webhook body"})
		return
	}
	event := normalizeEvent(env.Event)
	if event == "" {
		event = normalizeEvent(c.Param("event"))
	}

	if inst := h.conn.Credentials().Instance; inst != "" && env.Instance != "" && env.Instance != inst {
		h.done(c, event, resultIgnored, http.StatusOK)
		return
	}

	switch event {
	case eventConnectionUpdate:
		h.conn.PollSoon()
		h.done(c, event, resultPolled, http.StatusOK)
	case eventMessagesUpsert:
		result, err := h.upsert(c.Request.Context(), env.Data)
		if err != nil {
			h.logger.Error("store inbound message", zap.Error(err))
			h.done(c, event, resultFailed, http.StatusInternalServerError)
			return
		}
		h.done(c, event, result, http.StatusOK)
	default:
		h.done(c, event, resultIgnored, http.StatusOK)
	}
}

func (h *Handler) done(c *gin.Context, event, result string, code int) {
	if h.recorder != nil {
		h.recorder.RecordWebhook(event, result)
	}
	c.JSON(code, gin.H{"result": result})
}

// upsert stores one inbound message. Echoes of our own sends, group traffic
// and non-text messages are ignored.
func (h *Handler) upsert(ctx context.Context, raw json.RawMessage) (string, error) {
	var data upsertData
	if err := json.Unmarshal(raw, &data); err != nil {
		return resultIgnored, nil
	}
	if data.Key.FromMe || data.Key.ID == "" {
		return resultIgnored, nil
	}
	address, ok := senderAddress(data)
	if !ok {
		return resultIgnored, nil
	}
	body := data.Message.text()
	if strings.TrimSpace(body) == "" {
		return resultIgnored, nil
	}

	conv, err := h.conversation(ctx, address, data.PushName)
	if err != nil {
		return "", err
	}
	m, err := h.store.AppendMessage(ctx, store.NewMessage{
		ConversationID: conv.ID,
		Body:           body,
		Status:         store.StatusDelivered,
		GatewayID:      data.Key.ID,
	})
	if errors.Is(err, store.ErrDuplicate) {
		return resultDuplicate, nil
	}
	if err != nil {
		return "", err
	}
	h.logger.Info("inbound message stored",
		zap.String("msg_id", m.ID),
		zap.String("gateway_id", data.Key.ID),
		zap.String("conversation_id", conv.ID),
	)
	return resultStored, nil
}

// conversation finds the conversation for address, creating it on first contact.
func (h *Handler) conversation(ctx context.Context, address, pushName string) (*store.Conversation, error) {
	conv, err := h.store.FindConversationByAddress(ctx, address)
	if err == nil {
		return conv, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	name := strings.TrimSpace(pushName)
	if name == "" {
		name = "+" + address
	}
	conv, err = h.store.CreateConversation(ctx, name, address)
	if errors.Is(err, store.ErrDuplicate) {
		// Created concurrently by another delivery.
		return h.store.FindConversationByAddress(ctx, address)
	}
	if err != nil {
		return nil, fmt.Errorf("create conversation: %w", err)
	}
	h.logger.Info("conversation created from inbound message", zap.String("conversation_id", conv.ID), zap.String("name", name))
	return conv, nil
}

// senderAddress resolves the phone number of a one-to-one chat. Hidden-user
// JIDs fall back to the phone-number JID the gateway sends alongside.
func senderAddress(data upsertData) (string, bool) {
	for _, candidate := range []string{data.Key.RemoteJID, data.Key.RemoteJIDAlt, data.Key.SenderPN} {
		if candidate == "" {
			continue
		}
		jid, err := types.ParseJID(candidate)
		if err != nil {
			continue
		}
		switch jid.Server {
		case types.DefaultUserServer, types.LegacyUserServer:
			if jid.User != "" {
				return jid.User, true
			}
		case types.GroupServer, types.BroadcastServer, types.NewsletterServer:
			return "", false
		}
	}
	return "", false
}
