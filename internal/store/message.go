package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/matheus3301/wppdesk/internal/bus"
	"github.com/mattn/go-sqlite3"
)

// AppendMessage durably writes a message and returns it with its store-assigned
// id and timestamp. Once committed the insert is queued on the live feeds of
// its conversation and published on the bus.
func (db *DB) AppendMessage(ctx context.Context, nm NewMessage) (*Message, error) {
	const op = "append message"
	if nm.Status == "" {
		nm.Status = StatusSent
	}
	if !nm.Status.Valid() {
		return nil, storeErr(op, fmt.Errorf("%w: status %q", ErrInvalid, nm.Status))
	}

	m := &Message{
		ID:             uuid.NewString(),
		ConversationID: nm.ConversationID,
		Body:           nm.Body,
		FromMe:         nm.FromMe,
		Status:         nm.Status,
		GatewayID:      nm.GatewayID,
		CreatedAt:      time.UnixMilli(time.Now().UnixMilli()),
	}
	_, err := db.ExecContext(ctx, `
		INSERT INTO messages (id, conversation_id, body, from_me, status, gateway_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.ConversationID, m.Body, m.FromMe, string(m.Status), nullString(m.GatewayID), m.CreatedAt.UnixMilli())
	if err != nil {
		return nil, storeErr(op, classify(err))
	}

	db.feeds.deliver(*m)
	db.bus.Publish(bus.Event{
		Kind:      bus.KindMessageInserted,
		Timestamp: time.Now(),
		Payload:   *m,
	})
	return m, nil
}

// ListMessages returns the conversation's messages ordered by creation time.
func (db *DB) ListMessages(ctx context.Context, conversationID string) ([]Message, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, conversation_id, body, from_me, status, COALESCE(gateway_id, ''), created_at
		FROM messages
		WHERE conversation_id = ?
		ORDER BY created_at ASC, seq ASC`, conversationID)
	if err != nil {
		return nil, storeErr("list messages", err)
	}
	defer func() { _ = rows.Close() }()

	msgs := []Message{}
	for rows.Next() {
		var (
			m       Message
			status  string
			created int64
		)
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Body, &m.FromMe, &status, &m.GatewayID, &created); err != nil {
			return nil, storeErr("list messages", err)
		}
		m.Status = Status(status)
		m.CreatedAt = time.UnixMilli(created)
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("list messages", err)
	}
	return msgs, nil
}

// AttachGatewayID records the gateway correlation id of a message. The id is
// write-once: a message that already has one is left untouched.
func (db *DB) AttachGatewayID(ctx context.Context, messageID, gatewayID string) error {
	const op = "attach gateway id"
	res, err := db.ExecContext(ctx, `
		UPDATE messages SET gateway_id = ?
		WHERE id = ? AND gateway_id IS NULL`, gatewayID, messageID)
	if err != nil {
		return storeErr(op, classify(err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return storeErr(op, err)
	}
	if n == 0 {
		var exists bool
		if err := db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM messages WHERE id = ?)`, messageID).Scan(&exists); err != nil {
			return storeErr(op, err)
		}
		if !exists {
			return storeErr(op, ErrNotFound)
		}
	}
	return nil
}

// MessageCount returns the total number of messages.
func (db *DB) MessageCount(ctx context.Context) (int64, error) {
	var count int64
	err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages`).Scan(&count)
	return count, storeErr("count messages", err)
}

// Subscribe opens a live feed of message inserts for one conversation. Every
// row written through this DB, including the caller's own, is delivered once.
// The feed runs until Close; ctx only bounds opening it.
func (db *DB) Subscribe(ctx context.Context, conversationID string, onInsert InsertFunc) (Subscription, error) {
	q := db.feeds.add(conversationID)
	return NewFeed(ctx, func(ctx context.Context) {
		defer db.feeds.remove(q)
		q.run(ctx, onInsert)
	}, nil), nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// classify maps SQLite constraint errors onto store sentinels.
func classify(err error) error {
	var serr sqlite3.Error
	if errors.As(err, &serr) && serr.ExtendedCode == sqlite3.ErrConstraintUnique {
		return fmt.Errorf("%w: %v", ErrDuplicate, err)
	}
	return err
}
