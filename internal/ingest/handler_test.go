package ingest

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/matheus3301/wppdesk/internal/gateway"
	"github.com/matheus3301/wppdesk/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type memStore struct {
	mu       sync.Mutex
	convs    map[string]*store.Conversation
	msgs     []store.NewMessage
	gwIDs    map[string]bool
	failNext error
}

func newMemStore() *memStore {
	return &memStore{convs: map[string]*store.Conversation{}, gwIDs: map[string]bool{}}
}

func (s *memStore) FindConversationByAddress(_ context.Context, address string) (*store.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.convs[store.AddressKey(address)]
	if !ok {
		return nil, &store.Error{Op: "find conversation", Err: store.ErrNotFound}
	}
	return c, nil
}

func (s *memStore) CreateConversation(_ context.Context, name, address string) (*store.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := &store.Conversation{ID: fmt.Sprintf("c%d", len(s.convs)+1), Name: name, Address: address}
	s.convs[store.AddressKey(address)] = c
	return c, nil
}

func (s *memStore) AppendMessage(_ context.Context, nm store.NewMessage) (*store.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failNext != nil {
		err := s.failNext
		s.failNext = nil
		return nil, &store.Error{Op: "append message", Err: err}
	}
	if s.gwIDs[nm.GatewayID] {
		return nil, &store.Error{Op: "append message", Err: fmt.Errorf("%w: gateway_id", store.ErrDuplicate)}
	}
	s.gwIDs[nm.GatewayID] = true
	s.msgs = append(s.msgs, nm)
	return &store.Message{ID: fmt.Sprintf("m%d", len(s.msgs)), ConversationID: nm.ConversationID}, nil
}

type fakeConn struct {
	polls int
}

func (c *fakeConn) Credentials() gateway.Credentials {
	return gateway.Credentials{BaseURL: "http://gw", APIKey: "k", Instance: "desk"}
}

func (c *fakeConn) PollSoon() { c.polls++ }

type countingRecorder map[string]int

func (r countingRecorder) RecordWebhook(event, result string) { r[event+"/"+result]++ }

type fixture struct {
	store    *memStore
	conn     *fakeConn
	recorder countingRecorder
	router   *gin.Engine
}

func newFixture(token string) *fixture {
	f := &fixture{store: newMemStore(), conn: &fakeConn{}, recorder: countingRecorder{}}
	f.router = gin.New()
	New(f.store, f.conn, f.recorder, token, nil).Register(f.router)
	return f
}

func (f *fixture) post(t *testing.T, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func upsert(jid, id, text string, fromMe bool) string {
	return fmt.Sprintf(`{
		"event": "messages.upsert",
		"instance": "desk",
		"data": {
			"key": {"remoteJid": %q, "fromMe": %t, "id": %q},
			"pushName": "Maria",
			"message": {"conversation": %q},
			"messageTimestamp": 1767225600
		}
	}`, jid, fromMe, id, text)
}

func TestInboundMessageCreatesConversation(t *testing.T) {
	f := newFixture("")

	rec := f.post(t, "/webhook", upsert("5511999990000@s.whatsapp.net", "3EB0A1", "Oi, tudo bem?", false))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"result":"stored"}`, rec.Body.String())
	conv, err := f.store.FindConversationByAddress(context.Background(), "5511999990000")
	require.NoError(t, err)
	assert.Equal(t, "Maria", conv.Name)
	require.Len(t, f.store.msgs, 1)
	assert.Equal(t, store.NewMessage{
		ConversationID: conv.ID,
		Body:           "Oi, tudo bem?",
		Status:         store.StatusDelivered,
		GatewayID:      "3EB0A1",
	}, f.store.msgs[0])
	assert.Equal(t, 1, f.recorder["messages.upsert/stored"])
}

func TestInboundMessageReusesConversation(t *testing.T) {
	f := newFixture("")
	existing, err := f.store.CreateConversation(context.Background(), "Maria Silva", "+55 11 99999-0000")
	require.NoError(t, err)

	f.post(t, "/webhook", upsert("5511999990000@s.whatsapp.net", "A", "one", false))

	require.Len(t, f.store.msgs, 1)
	assert.Equal(t, existing.ID, f.store.msgs[0].ConversationID)
	assert.Len(t, f.store.convs, 1)
}

func TestRedeliveryIsDuplicate(t *testing.T) {
	f := newFixture("")
	body := upsert("5511999990000@s.whatsapp.net", "A", "one", false)

	f.post(t, "/webhook", body)
	rec := f.post(t, "/webhook", body)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"result":"duplicate"}`, rec.Body.String())
	assert.Len(t, f.store.msgs, 1)
}

func TestIgnoredMessages(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"own echo", upsert("5511999990000@s.whatsapp.net", "A", "sent by us", true)},
		{"group", upsert("120363025246125244@g.us", "B", "group hello", false)},
		{"status broadcast", upsert("status@broadcast", "C", "story", false)},
		{"empty text", upsert("5511999990000@s.whatsapp.net", "D", "  ", false)},
		{"other instance", strings.Replace(upsert("5511999990000@s.whatsapp.net", "E", "x", false), `"desk"`, `"other"`, 1)},
		{"unknown event", `{"event":"presence.update","instance":"desk","data":{}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture("")

			rec := f.post(t, "/webhook", tt.body)

			require.Equal(t, http.StatusOK, rec.Code)
			assert.JSONEq(t, `{"result":"ignored"}`, rec.Body.String())
			assert.Empty(t, f.store.msgs)
		})
	}
}

func TestHiddenUserFallsBackToPhoneJID(t *testing.T) {
	f := newFixture("")
	body := `{"event":"messages.upsert","instance":"desk","data":{
		"key":{"remoteJid":"3917077286968@lid","remoteJidAlt":"5511988887777@s.whatsapp.net","fromMe":false,"id":"L1"},
		"message":{"extendedTextMessage":{"text":"via lid"}}}}`

	f.post(t, "/webhook", body)

	conv, err := f.store.FindConversationByAddress(context.Background(), "5511988887777")
	require.NoError(t, err)
	assert.Equal(t, "+5511988887777", conv.Name)
	require.Len(t, f.store.msgs, 1)
	assert.Equal(t, "via lid", f.store.msgs[0].Body)
}

func TestConnectionUpdateTriggersPoll(t *testing.T) {
	f := newFixture("")

	rec := f.post(t, "/webhook/connection-update", `{"instance":"desk","data":{"state":"open"}}`)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, f.conn.polls)
}

func TestStoreFailureReturns500(t *testing.T) {
	f := newFixture("")
	f.store.failNext = errors.New("database is locked")

	rec := f.post(t, "/webhook", upsert("5511999990000@s.whatsapp.net", "A", "one", false))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, 1, f.recorder["messages.upsert/failed"])
}

func TestMalformedBody(t *testing.T) {
	f := newFixture("")
	rec := f.post(t, "/webhook", `{not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTokenCheck(t *testing.T) {
	f := newFixture("s3cret")
	body := upsert("5511999990000@s.whatsapp.net", "A", "one", false)

	assert.Equal(t, http.StatusUnauthorized, f.post(t, "/webhook", body).Code)
	assert.Equal(t, http.StatusUnauthorized, f.post(t, "/webhook?token=wrong", body).Code)
	assert.Equal(t, http.StatusOK, f.post(t, "/webhook?token=s3cret", body).Code)
	assert.Len(t, f.store.msgs, 1)
}

func TestNormalizeEvent(t *testing.T) {
	for in, want := range map[string]string{
		"MESSAGES_UPSERT":   "messages.upsert",
		"messages-upsert":   "messages.upsert",
		"connection.update": "connection.update",
		"":                  "",
	} {
		assert.Equal(t, want, normalizeEvent(in), in)
	}
}
