package store

import (
	"context"
	"sync"
)

// hub fans committed inserts out to the live feeds of one DB. Every feed
// owns an unbounded queue: a slow callback delays its own feed and nothing
// is dropped.
type hub struct {
	mu    sync.Mutex
	feeds map[*queue]struct{}
}

type queue struct {
	conversationID string

	mu      sync.Mutex
	pending []Message
	wake    chan struct{}
}

func newHub() *hub {
	return &hub{feeds: make(map[*queue]struct{})}
}

func (h *hub) add(conversationID string) *queue {
	q := &queue{conversationID: conversationID, wake: make(chan struct{}, 1)}
	h.mu.Lock()
	h.feeds[q] = struct{}{}
	h.mu.Unlock()
	return q
}

func (h *hub) remove(q *queue) {
	h.mu.Lock()
	delete(h.feeds, q)
	h.mu.Unlock()
}

// deliver queues m on every feed of its conversation.
func (h *hub) deliver(m Message) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for q := range h.feeds {
		if q.conversationID == m.ConversationID {
			q.push(m)
		}
	}
}

func (q *queue) push(m Message) {
	q.mu.Lock()
	q.pending = append(q.pending, m)
	q.mu.Unlock()
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *queue) take() []Message {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.pending
	q.pending = nil
	return out
}

// run hands queued messages to onInsert in arrival order until ctx is done.
func (q *queue) run(ctx context.Context, onInsert InsertFunc) {
	for {
		select {
		case <-q.wake:
			for _, m := range q.take() {
				if ctx.Err() != nil {
					return
				}
				onInsert(m)
			}
		case <-ctx.Done():
			return
		}
	}
}
