package store

import (
	"context"
	"strings"
	"time"
)

// Status is the delivery status of a message.
type Status string

const (
	StatusSent      Status = "sent"
	StatusDelivered Status = "delivered"
	StatusRead      Status = "read"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusSent, StatusDelivered, StatusRead:
		return true
	}
	return false
}

// Conversation is one customer thread, addressed by a phone number.
type Conversation struct {
	ID        string
	Name      string
	Address   string
	CreatedAt time.Time
}

// Message is a stored message. ID and CreatedAt are assigned by the store.
type Message struct {
	ID             string
	ConversationID string
	Body           string
	FromMe         bool
	Status         Status
	GatewayID      string
	CreatedAt      time.Time
}

// NewMessage carries the caller-supplied fields of a message to append.
type NewMessage struct {
	ConversationID string
	Body           string
	FromMe         bool
	Status         Status
	GatewayID      string
}

// Subscription is a live feed scoped to one conversation. Close blocks until
// no callback is running and none will run again. Close must not be called
// from inside the callback.
type Subscription interface {
	Close() error
}

// InsertFunc receives every message row inserted into a subscribed conversation.
type InsertFunc func(Message)

// feed is the Subscription implementation shared by the store backends: a
// goroutine delivering events until Close.
type feed struct {
	cancel  context.CancelFunc
	done    chan struct{}
	release func() error
}

// NewFeed starts run in a goroutine and returns a Subscription that cancels it.
// The feed keeps ctx's values but not its cancellation, so a feed opened while
// serving a request outlives the request. release, if set, runs once after
// run has returned.
func NewFeed(ctx context.Context, run func(ctx context.Context), release func() error) Subscription {
	ctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	f := &feed{cancel: cancel, done: make(chan struct{}), release: release}
	go func() {
		defer close(f.done)
		run(ctx)
	}()
	return f
}

func (f *feed) Close() error {
	f.cancel()
	<-f.done
	if f.release != nil {
		err := f.release()
		f.release = nil
		return err
	}
	return nil
}

// AddressKey reduces an address to its digits so "+55 (11) 9999-0000" and
// "551199990000" refer to the same conversation.
func AddressKey(address string) string {
	return strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, address)
}
