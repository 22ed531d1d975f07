// Package chat keeps the message list of the selected conversation in step
// with the store and sends outgoing messages through the gateway.
package chat

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"

	"github.com/matheus3301/wppdesk/internal/bus"
	"github.com/matheus3301/wppdesk/internal/gateway"
	"github.com/matheus3301/wppdesk/internal/status"
	"github.com/matheus3301/wppdesk/internal/store"
	"go.uber.org/zap"
)

// MessageStore is the persistence the synchronizer reads, writes and follows.
type MessageStore interface {
	ListMessages(ctx context.Context, conversationID string) ([]store.Message, error)
	AppendMessage(ctx context.Context, nm store.NewMessage) (*store.Message, error)
	AttachGatewayID(ctx context.Context, messageID, gatewayID string) error
	Subscribe(ctx context.Context, conversationID string, onInsert store.InsertFunc) (store.Subscription, error)
}

// Sender delivers text through the gateway.
type Sender interface {
	SendText(ctx context.Context, creds gateway.Credentials, address, body string) (gateway.SendResult, error)
}

// Connection is a read-only view of the connection monitor.
type Connection interface {
	State() status.State
	Credentials() gateway.Credentials
}

// MessagesChanged is the payload of bus.KindMessagesChanged.
type MessagesChanged struct {
	ConversationID string
	Count          int
}

// Synchronizer owns the in-memory message list of the active conversation.
// The list holds each store id at most once, ordered by creation time.
type Synchronizer struct {
	store  MessageStore
	sender Sender
	conn   Connection
	bus    *bus.Bus
	logger *zap.Logger

	mu     sync.Mutex
	active *store.Conversation
	msgs   []store.Message
	seen   map[string]struct{}
	sub    store.Subscription
	// epoch advances on every selection; feed callbacks carrying an older
	// epoch are dropped.
	epoch uint64
}

// New creates a synchronizer with no conversation selected.
func New(st MessageStore, sender Sender, conn Connection, b *bus.Bus, logger *zap.Logger) *Synchronizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Synchronizer{
		store:  st,
		sender: sender,
		conn:   conn,
		bus:    b,
		logger: logger,
		seen:   map[string]struct{}{},
	}
}

// Select makes conv the active conversation. The previous live feed is
// closed and the list rebuilt from history plus live inserts. A history read
// failure leaves the list empty and is only logged; a feed that cannot be
// opened clears the selection and is returned.
func (s *Synchronizer) Select(ctx context.Context, conv store.Conversation) error {
	s.mu.Lock()
	old := s.sub
	s.sub = nil
	s.epoch++
	epoch := s.epoch
	s.active = &conv
	s.msgs = nil
	s.seen = map[string]struct{}{}
	s.mu.Unlock()

	// Closing waits for a running callback, which needs s.mu.
	s.closeSub(old)
	s.publish(conv.ID, 0)

	// Subscribe before reading history so nothing inserted in between is
	// missed; overlap between the two is removed by id.
	sub, err := s.store.Subscribe(ctx, conv.ID, func(m store.Message) {
		s.merge(epoch, m)
	})
	if err != nil {
		s.mu.Lock()
		if s.epoch == epoch {
			s.active = nil
		}
		s.mu.Unlock()
		return fmt.Errorf("subscribe to conversation %s: %w", conv.ID, err)
	}

	s.mu.Lock()
	if s.epoch != epoch {
		s.mu.Unlock()
		s.closeSub(sub)
		return nil
	}
	s.sub = sub
	s.mu.Unlock()

	history, err := s.store.ListMessages(ctx, conv.ID)
	if err != nil {
		s.logger.Error("load conversation history", zap.String("conversation_id", conv.ID), zap.Error(err))
		return nil
	}
	s.merge(epoch, history...)
	return nil
}

// Send stores body as an outgoing message and delivers it to the active
// conversation. A store failure returns *store.Error and nothing is sent. A
// delivery failure returns the stored message together with *DeliveryError.
func (s *Synchronizer) Send(ctx context.Context, body string) (*store.Message, error) {
	if strings.TrimSpace(body) == "" {
		return nil, &ValidationError{Reason: "message is empty"}
	}
	s.mu.Lock()
	var conv store.Conversation
	active := s.active != nil
	if active {
		conv = *s.active
	}
	epoch := s.epoch
	s.mu.Unlock()
	if !active {
		return nil, &ValidationError{Reason: "no conversation selected"}
	}
	if st := s.conn.State(); st != status.Connected {
		return nil, &ValidationError{Reason: fmt.Sprintf("gateway is %s", strings.ToLower(string(st)))}
	}

	m, err := s.store.AppendMessage(ctx, store.NewMessage{
		ConversationID: conv.ID,
		Body:           body,
		FromMe:         true,
		Status:         store.StatusSent,
	})
	if err != nil {
		return nil, err
	}
	s.merge(epoch, *m)

	res, err := s.sender.SendText(ctx, s.conn.Credentials(), conv.Address, body)
	if err != nil {
		s.logger.Warn("message not delivered",
			zap.String("msg_id", m.ID),
			zap.String("conversation_id", conv.ID),
			zap.Error(err),
		)
		return m, &DeliveryError{MessageID: m.ID, Err: err}
	}

	if res.MessageID != "" {
		if err := s.store.AttachGatewayID(ctx, m.ID, res.MessageID); err != nil {
			s.logger.Warn("record gateway message id", zap.String("msg_id", m.ID), zap.Error(err))
		} else {
			m.GatewayID = res.MessageID
			s.setGatewayID(m.ID, res.MessageID)
		}
	}
	s.logger.Info("message sent",
		zap.String("msg_id", m.ID),
		zap.String("gateway_id", res.MessageID),
		zap.String("conversation_id", conv.ID),
	)
	return m, nil
}

// Messages returns a copy of the current list.
func (s *Synchronizer) Messages() []store.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.msgs)
}

// Active returns the selected conversation.
func (s *Synchronizer) Active() (store.Conversation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == nil {
		return store.Conversation{}, false
	}
	return *s.active, true
}

// Close releases the live feed and clears the selection.
func (s *Synchronizer) Close() error {
	s.mu.Lock()
	sub := s.sub
	s.sub = nil
	s.epoch++
	s.active = nil
	s.msgs = nil
	s.seen = map[string]struct{}{}
	s.mu.Unlock()
	if sub == nil {
		return nil
	}
	return sub.Close()
}

// merge inserts msgs not yet in the list, keeping it ordered by CreatedAt.
// Messages with equal timestamps keep arrival order.
func (s *Synchronizer) merge(epoch uint64, msgs ...store.Message) {
	s.mu.Lock()
	if epoch != s.epoch || s.active == nil {
		s.mu.Unlock()
		return
	}
	convID := s.active.ID
	added := 0
	for _, m := range msgs {
		if m.ConversationID != convID {
			continue
		}
		if _, ok := s.seen[m.ID]; ok {
			continue
		}
		s.seen[m.ID] = struct{}{}
		i := sort.Search(len(s.msgs), func(i int) bool {
			return s.msgs[i].CreatedAt.After(m.CreatedAt)
		})
		s.msgs = slices.Insert(s.msgs, i, m)
		added++
	}
	count := len(s.msgs)
	s.mu.Unlock()

	if added > 0 {
		s.publish(convID, count)
	}
}

func (s *Synchronizer) setGatewayID(messageID, gatewayID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.msgs {
		if s.msgs[i].ID == messageID {
			s.msgs[i].GatewayID = gatewayID
			return
		}
	}
}

func (s *Synchronizer) closeSub(sub store.Subscription) {
	if sub == nil {
		return
	}
	if err := sub.Close(); err != nil {
		s.logger.Warn("close live feed", zap.Error(err))
	}
}

func (s *Synchronizer) publish(conversationID string, count int) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(bus.Event{
		Kind:    bus.KindMessagesChanged,
		Payload: MessagesChanged{ConversationID: conversationID, Count: count},
	})
}
