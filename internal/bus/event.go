package bus

import "time"

// Event kinds published by the engine.
const (
	KindStateChanged    = "connection.state_changed"
	KindPairing         = "connection.pairing"
	KindMessageInserted = "store.message_inserted"
	KindMessagesChanged = "chat.messages_changed"
)

// Event represents a domain event published on the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}
