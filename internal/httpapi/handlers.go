package httpapi

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/matheus3301/wppdesk/internal/chat"
	"github.com/matheus3301/wppdesk/internal/console"
	"github.com/matheus3301/wppdesk/internal/gateway"
	"github.com/matheus3301/wppdesk/internal/monitor"
	"github.com/matheus3301/wppdesk/internal/store"
	"go.uber.org/zap"
)

const qrSize = 320

type handlers struct {
	engine *console.Engine
	logger *zap.Logger
}

func (h *handlers) register(r gin.IRouter) {
	r.GET("/status", h.status)
	r.POST("/pair", h.pair)
	r.GET("/pair/qr.png", h.qr)
	r.POST("/logout", h.logout)
	r.PUT("/settings", h.saveSettings)

	r.GET("/conversations", h.listConversations)
	r.POST("/conversations", h.createConversation)
	r.PUT("/conversations/:id", h.updateConversation)
	r.POST("/conversations/:id/open", h.openConversation)

	r.GET("/messages", h.messages)
	r.POST("/messages", h.send)
}

type statusResponse struct {
	State       string `json:"state"`
	Instance    string `json:"instance,omitempty"`
	Configured  bool   `json:"configured"`
	QR          string `json:"qr,omitempty"`
	Code        string `json:"code,omitempty"`
	PairingCode string `json:"pairing_code,omitempty"`
}

func (h *handlers) status(c *gin.Context) {
	snap := h.engine.Status()
	creds := h.engine.Monitor().Credentials()
	resp := statusResponse{
		State:      string(snap.State),
		Instance:   creds.Instance,
		Configured: creds.Complete(),
	}
	if !snap.Artifact.Empty() {
		resp.QR, _ = snap.Artifact.DataURI()
		resp.Code = snap.Artifact.Code
		resp.PairingCode = snap.Artifact.PairingCode
	}
	c.JSON(http.StatusOK, resp)
}

func (h *handlers) pair(c *gin.Context) {
	artifact, err := h.engine.Pair(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	uri, _ := artifact.DataURI()
	c.JSON(http.StatusOK, statusResponse{
		State:       string(h.engine.Status().State),
		Configured:  true,
		QR:          uri,
		Code:        artifact.Code,
		PairingCode: artifact.PairingCode,
	})
}

func (h *handlers) qr(c *gin.Context) {
	artifact := h.engine.Status().Artifact
	if artifact.Empty() {
		c.JSON(http.StatusNotFound, gin.H{"error": "no pairing in progress"})
		return
	}
	png, err := artifact.PNG(qrSize)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, "image/png", png)
}

func (h *handlers) logout(c *gin.Context) {
	if err := h.engine.Disconnect(c.Request.Context()); err != nil {
		h.fail(c, err)
		return
	}
	h.status(c)
}

type settingsRequest struct {
	BaseURL  string `json:"base_url"`
	APIKey   string `json:"api_key"`
	Instance string `json:"instance"`
}

func (h *handlers) saveSettings(c *gin.Context) {
	var req settingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	err := h.engine.SaveSettings(gateway.Credentials{BaseURL: req.BaseURL, APIKey: req.APIKey, Instance: req.Instance})
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

type conversationJSON struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Address   string    `json:"address"`
	CreatedAt time.Time `json:"created_at"`
}

func toConversationJSON(conv store.Conversation) conversationJSON {
	return conversationJSON{ID: conv.ID, Name: conv.Name, Address: conv.Address, CreatedAt: conv.CreatedAt}
}

type conversationRequest struct {
	Name    string `json:"name" binding:"required"`
	Address string `json:"address" binding:"required"`
}

func (h *handlers) listConversations(c *gin.Context) {
	convs, err := h.engine.Conversations(c.Request.Context(), c.Query("q"))
	if err != nil {
		h.fail(c, err)
		return
	}
	out := make([]conversationJSON, len(convs))
	for i, conv := range convs {
		out[i] = toConversationJSON(conv)
	}
	c.JSON(http.StatusOK, out)
}

func (h *handlers) createConversation(c *gin.Context) {
	var req conversationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	conv, err := h.engine.CreateConversation(c.Request.Context(), req.Name, req.Address)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, toConversationJSON(*conv))
}

func (h *handlers) updateConversation(c *gin.Context) {
	var req conversationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	conv, err := h.engine.UpdateConversation(c.Request.Context(), c.Param("id"), req.Name, req.Address)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, toConversationJSON(*conv))
}

func (h *handlers) openConversation(c *gin.Context) {
	conv, err := h.engine.Open(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, toConversationJSON(*conv))
}

type messageJSON struct {
	ID        string    `json:"id"`
	Body      string    `json:"body"`
	FromMe    bool      `json:"from_me"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

func toMessageJSON(m store.Message) messageJSON {
	return messageJSON{ID: m.ID, Body: m.Body, FromMe: m.FromMe, Status: string(m.Status), CreatedAt: m.CreatedAt}
}

func (h *handlers) messages(c *gin.Context) {
	active, ok := h.engine.Active()
	if !ok {
		c.JSON(http.StatusConflict, gin.H{"error": "no conversation open"})
		return
	}
	msgs := h.engine.Messages()
	out := make([]messageJSON, len(msgs))
	for i, m := range msgs {
		out[i] = toMessageJSON(m)
	}
	c.JSON(http.StatusOK, gin.H{"conversation": toConversationJSON(active), "messages": out})
}

type sendRequest struct {
	Body string `json:"body"`
}

func (h *handlers) send(c *gin.Context) {
	var req sendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	m, err := h.engine.Send(c.Request.Context(), req.Body)
	var derr *chat.DeliveryError
	if errors.As(err, &derr) {
		// Stored but not delivered: the message exists, so report it.
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error(), "message": toMessageJSON(*m)})
		return
	}
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, toMessageJSON(*m))
}

// fail maps engine errors onto HTTP statuses.
func (h *handlers) fail(c *gin.Context, err error) {
	var (
		verr *chat.ValidationError
		gerr *gateway.Error
	)
	code := http.StatusInternalServerError
	switch {
	case errors.As(err, &verr):
		code = http.StatusUnprocessableEntity
	case errors.Is(err, monitor.ErrAlreadyConnected):
		code = http.StatusConflict
	case errors.Is(err, monitor.ErrNoCredentials):
		code = http.StatusPreconditionFailed
	case errors.Is(err, store.ErrNotFound):
		code = http.StatusNotFound
	case errors.Is(err, store.ErrDuplicate):
		code = http.StatusConflict
	case errors.Is(err, store.ErrInvalid):
		code = http.StatusBadRequest
	case errors.As(err, &gerr):
		code = http.StatusBadGateway
	}
	if code >= http.StatusInternalServerError {
		h.logger.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
	}
	c.JSON(code, gin.H{"error": err.Error()})
}

