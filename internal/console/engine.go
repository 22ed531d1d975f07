// Package console assembles the connection monitor and the conversation
// synchronizer behind one facade used by the daemon's HTTP surface.
package console

import (
	"context"
	"fmt"
	"strings"

	"github.com/matheus3301/wppdesk/internal/bus"
	"github.com/matheus3301/wppdesk/internal/chat"
	"github.com/matheus3301/wppdesk/internal/gateway"
	"github.com/matheus3301/wppdesk/internal/monitor"
	"github.com/matheus3301/wppdesk/internal/paths"
	"github.com/matheus3301/wppdesk/internal/store"
	"go.uber.org/zap"
)

// Gateway is everything the console asks of the gateway client.
type Gateway interface {
	monitor.Gateway
	chat.Sender
}

// Directory manages the conversation list.
type Directory interface {
	CreateConversation(ctx context.Context, name, address string) (*store.Conversation, error)
	UpdateConversation(ctx context.Context, id, name, address string) (*store.Conversation, error)
	GetConversation(ctx context.Context, id string) (*store.Conversation, error)
	FindConversationByAddress(ctx context.Context, address string) (*store.Conversation, error)
	ListConversations(ctx context.Context, query string) ([]store.Conversation, error)
}

// Store is a message store that also keeps the conversation directory.
// Both store.DB and pgstore.DB satisfy it.
type Store interface {
	chat.MessageStore
	Directory
}

// Settings persists the gateway credentials.
type Settings interface {
	Credentials() (gateway.Credentials, error)
	SaveCredentials(creds gateway.Credentials) error
}

// Config is the engine's initial configuration value.
type Config struct {
	Credentials gateway.Credentials
	Monitor     monitor.Config
}

// Deps are the collaborators the engine is built from.
type Deps struct {
	Gateway  Gateway
	Store    Store
	Settings Settings
	Bus      *bus.Bus
	Logger   *zap.Logger
}

// Engine is the console's synchronization and connection core.
type Engine struct {
	monitor  *monitor.Monitor
	chat     *chat.Synchronizer
	store    Store
	settings Settings
	logger   *zap.Logger
}

// New builds the engine. Nothing runs until Start.
func New(cfg Config, deps Deps) *Engine {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	b := deps.Bus
	if b == nil {
		b = bus.New()
	}
	mon := monitor.New(deps.Gateway, nil, b, cfg.Credentials, cfg.Monitor, logger.Named("monitor"))
	return &Engine{
		monitor:  mon,
		chat:     chat.New(deps.Store, deps.Gateway, mon, b, logger.Named("chat")),
		store:    deps.Store,
		settings: deps.Settings,
		logger:   logger,
	}
}

// Start begins connection polling.
func (e *Engine) Start(ctx context.Context) {
	e.monitor.Start(ctx)
}

// Close stops polling and releases the live feed.
func (e *Engine) Close() error {
	e.monitor.Stop()
	return e.chat.Close()
}

// Monitor exposes the connection monitor.
func (e *Engine) Monitor() *monitor.Monitor { return e.monitor }

// SaveSettings persists new credentials and hands them to the monitor. The
// monitor keeps its previous value if persisting fails.
func (e *Engine) SaveSettings(creds gateway.Credentials) error {
	creds = gateway.Credentials{
		BaseURL:  strings.TrimSpace(creds.BaseURL),
		APIKey:   strings.TrimSpace(creds.APIKey),
		Instance: strings.TrimSpace(creds.Instance),
	}
	if creds.Instance != "" {
		if err := paths.ValidateInstance(creds.Instance); err != nil {
			return err
		}
	}
	if e.settings != nil {
		if err := e.settings.SaveCredentials(creds); err != nil {
			return fmt.Errorf("save settings: %w", err)
		}
	}
	e.monitor.SetCredentials(creds)
	e.logger.Info("gateway settings saved", zap.String("instance", creds.Instance), zap.Bool("complete", creds.Complete()))
	return nil
}

// Status returns the connection state and live pairing artifact.
func (e *Engine) Status() monitor.Snapshot { return e.monitor.Snapshot() }

// Pair starts pairing the session.
func (e *Engine) Pair(ctx context.Context) (*gateway.PairingArtifact, error) {
	return e.monitor.Pair(ctx)
}

// Disconnect logs the session out.
func (e *Engine) Disconnect(ctx context.Context) error {
	return e.monitor.Disconnect(ctx)
}

// Conversations lists the directory, filtered by query.
func (e *Engine) Conversations(ctx context.Context, query string) ([]store.Conversation, error) {
	return e.store.ListConversations(ctx, query)
}

// CreateConversation adds a customer to the directory.
func (e *Engine) CreateConversation(ctx context.Context, name, address string) (*store.Conversation, error) {
	return e.store.CreateConversation(ctx, name, address)
}

// UpdateConversation edits a customer. When it is the open conversation the
// new name and address apply to later sends.
func (e *Engine) UpdateConversation(ctx context.Context, id, name, address string) (*store.Conversation, error) {
	conv, err := e.store.UpdateConversation(ctx, id, name, address)
	if err != nil {
		return nil, err
	}
	if active, ok := e.chat.Active(); ok && active.ID == conv.ID {
		if err := e.chat.Select(ctx, *conv); err != nil {
			return conv, err
		}
	}
	return conv, nil
}

// Open selects a conversation by id.
func (e *Engine) Open(ctx context.Context, id string) (*store.Conversation, error) {
	conv, err := e.store.GetConversation(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := e.chat.Select(ctx, *conv); err != nil {
		return nil, err
	}
	return conv, nil
}

// Active returns the open conversation.
func (e *Engine) Active() (store.Conversation, bool) { return e.chat.Active() }

// Messages returns the open conversation's messages.
func (e *Engine) Messages() []store.Message { return e.chat.Messages() }

// Send sends a message to the open conversation.
func (e *Engine) Send(ctx context.Context, body string) (*store.Message, error) {
	return e.chat.Send(ctx, body)
}
