package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeDaemon records requests and answers from a route table.
type fakeDaemon struct {
	mu     sync.Mutex
	routes map[string]func(w http.ResponseWriter, r *http.Request)
	bodies map[string]map[string]string
}

func newFakeDaemon(t *testing.T) (*fakeDaemon, *client) {
	t.Helper()
	f := &fakeDaemon{
		routes: map[string]func(http.ResponseWriter, *http.Request){},
		bodies: map[string]map[string]string{},
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Method + " " + r.URL.Path
		f.mu.Lock()
		var body map[string]string
		if json.NewDecoder(r.Body).Decode(&body) == nil {
			f.bodies[key] = body
		}
		h, ok := f.routes[key]
		f.mu.Unlock()
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":"no route"}`))
			return
		}
		h(w, r)
	}))
	t.Cleanup(srv.Close)
	return f, newClient(strings.TrimPrefix(srv.URL, "http://"))
}

func (f *fakeDaemon) route(key string, h func(http.ResponseWriter, *http.Request)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.routes[key] = h
}

func (f *fakeDaemon) body(key string) map[string]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.bodies[key]
}

func reply(code int, body string) func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_, _ = w.Write([]byte(body))
	}
}

func TestStatusPrintsPairingQR(t *testing.T) {
	f, c := newFakeDaemon(t)
	f.route("GET /status", reply(http.StatusOK,
		`{"state":"PAIRING","instance":"shop","configured":true,"code":"2@qr-payload","pairing_code":"WZYEH1YY"}`))

	var out bytes.Buffer
	require.NoError(t, run(context.Background(), c, &out, []string{"status"}, false))
	text := out.String()
	assert.Contains(t, text, "State:    PAIRING")
	assert.Contains(t, text, "Instance: shop")
	assert.Contains(t, text, "Pairing code: WZYEH1YY")
	assert.Contains(t, text, "█")
}

func TestStatusUnconfigured(t *testing.T) {
	f, c := newFakeDaemon(t)
	f.route("GET /status", reply(http.StatusOK, `{"state":"UNKNOWN","configured":false}`))

	var out bytes.Buffer
	require.NoError(t, run(context.Background(), c, &out, []string{"status"}, false))
	assert.Contains(t, out.String(), "Gateway settings incomplete")
}

func TestPairConflictSurfacesDaemonError(t *testing.T) {
	f, c := newFakeDaemon(t)
	f.route("POST /pair", reply(http.StatusConflict, `{"error":"monitor: already connected"}`))

	err := run(context.Background(), c, &bytes.Buffer{}, []string{"pair"}, false)
	var apiErr *apiError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusConflict, apiErr.StatusCode)
	assert.Equal(t, "monitor: already connected", apiErr.Message)
}

func TestSettingsSendsCredentials(t *testing.T) {
	f, c := newFakeDaemon(t)
	f.route("PUT /settings", reply(http.StatusNoContent, ""))

	var out bytes.Buffer
	require.NoError(t, run(context.Background(), c, &out,
		[]string{"settings", "https://gw.example", "k", "shop"}, false))
	assert.Equal(t, map[string]string{
		"base_url": "https://gw.example",
		"api_key":  "k",
		"instance": "shop",
	}, f.body("PUT /settings"))
	assert.Contains(t, out.String(), "Settings saved.")

	err := run(context.Background(), c, &out, []string{"settings", "only-one"}, false)
	assert.Error(t, err)
}

func TestListAndSend(t *testing.T) {
	f, c := newFakeDaemon(t)
	f.route("GET /conversations", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "ana maria", r.URL.Query().Get("q"))
		reply(http.StatusOK, `[{"id":"c1","name":"Ana Maria","address":"5585999990000"}]`)(w, r)
	})
	f.route("POST /messages", reply(http.StatusCreated, `{"id":"m1","body":"hello there","from_me":true,"status":"sent"}`))

	var out bytes.Buffer
	require.NoError(t, run(context.Background(), c, &out, []string{"list", "ana", "maria"}, false))
	assert.Contains(t, out.String(), "Ana Maria")

	out.Reset()
	require.NoError(t, run(context.Background(), c, &out, []string{"send", "hello", "there"}, false))
	assert.Equal(t, "hello there", f.body("POST /messages")["body"])
	assert.Contains(t, out.String(), "Sent m1 [sent]")
}

func TestMessagesJSON(t *testing.T) {
	f, c := newFakeDaemon(t)
	f.route("GET /messages", reply(http.StatusOK,
		`{"conversation":{"id":"c1","name":"Ana","address":"5585"},"messages":[{"id":"m1","body":"hi","status":"delivered"}]}`))

	var out bytes.Buffer
	require.NoError(t, run(context.Background(), c, &out, []string{"messages"}, true))
	var thread threadView
	require.NoError(t, json.Unmarshal(out.Bytes(), &thread))
	require.Len(t, thread.Messages, 1)
	assert.Equal(t, "hi", thread.Messages[0].Body)
}

func TestUnknownCommand(t *testing.T) {
	_, c := newFakeDaemon(t)
	assert.Error(t, run(context.Background(), c, &bytes.Buffer{}, []string{"bogus"}, false))
}

func TestResolveAddr(t *testing.T) {
	addr, err := resolveAddr("", "10.0.0.1:9000")
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.1:9000", addr)

	t.Setenv("WPPDESK_HOME", t.TempDir())
	addr, err = resolveAddr("main", "")
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:8787", addr)

	_, err = resolveAddr("Bad Name", "")
	assert.Error(t, err)
}

func TestLogoutPrintsState(t *testing.T) {
	f, c := newFakeDaemon(t)
	f.route("POST /logout", reply(http.StatusOK, `{"state":"DISCONNECTED","instance":"shop","configured":true}`))

	var out bytes.Buffer
	require.NoError(t, run(context.Background(), c, &out, []string{"logout"}, false))
	assert.Contains(t, out.String(), "Session terminated.")
	assert.Contains(t, out.String(), "State:    DISCONNECTED")
}
