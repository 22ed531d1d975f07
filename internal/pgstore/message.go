package pgstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/matheus3301/wppdesk/internal/bus"
	"github.com/matheus3301/wppdesk/internal/store"
	"go.uber.org/zap"
)

const (
	uniqueViolation           = "23505"
	invalidTextRepresentation = "22P02"
)

const messageColumns = `id::text, conversation_id::text, body, from_me, status, COALESCE(gateway_id, ''), created_at`

// AppendMessage durably writes a message; id and timestamp come from the
// database. The insert is announced on the bus once committed; live feeds
// learn of it through NOTIFY.
func (db *DB) AppendMessage(ctx context.Context, nm store.NewMessage) (*store.Message, error) {
	const op = "append message"
	if nm.Status == "" {
		nm.Status = store.StatusSent
	}
	if !nm.Status.Valid() {
		return nil, &store.Error{Op: op, Err: fmt.Errorf("%w: status %q", store.ErrInvalid, nm.Status)}
	}
	var gatewayID *string
	if nm.GatewayID != "" {
		gatewayID = &nm.GatewayID
	}
	row := db.pool.QueryRow(ctx, `
		INSERT INTO messages (conversation_id, body, from_me, status, gateway_id)
		VALUES ($1::uuid, $2, $3, $4, $5)
		RETURNING `+messageColumns,
		nm.ConversationID, nm.Body, nm.FromMe, string(nm.Status), gatewayID)
	m, err := scanMessage(row)
	if err != nil {
		return nil, &store.Error{Op: op, Err: classify(err)}
	}
	db.bus.Publish(bus.Event{
		Kind:    bus.KindMessageInserted,
		Payload: *m,
	})
	return m, nil
}

// ListMessages returns the conversation's messages ordered by creation time.
func (db *DB) ListMessages(ctx context.Context, conversationID string) ([]store.Message, error) {
	const op = "list messages"
	rows, err := db.pool.Query(ctx, `
		SELECT `+messageColumns+`
		FROM messages
		WHERE conversation_id = $1::uuid
		ORDER BY created_at ASC, seq ASC`, conversationID)
	if err != nil {
		return nil, &store.Error{Op: op, Err: err}
	}
	defer rows.Close()

	msgs := []store.Message{}
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, &store.Error{Op: op, Err: err}
		}
		msgs = append(msgs, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, &store.Error{Op: op, Err: err}
	}
	return msgs, nil
}

// AttachGatewayID records the gateway correlation id of a message once.
func (db *DB) AttachGatewayID(ctx context.Context, messageID, gatewayID string) error {
	const op = "attach gateway id"
	var exists bool
	err := db.pool.QueryRow(ctx, `
		WITH upd AS (
			UPDATE messages SET gateway_id = $2
			WHERE id = $1::uuid AND gateway_id IS NULL
			RETURNING 1
		)
		SELECT EXISTS(SELECT 1 FROM messages WHERE id = $1::uuid)`, messageID, gatewayID).Scan(&exists)
	if err != nil {
		return &store.Error{Op: op, Err: classify(err)}
	}
	if !exists {
		return &store.Error{Op: op, Err: store.ErrNotFound}
	}
	return nil
}

// MessageCount returns the total number of messages.
func (db *DB) MessageCount(ctx context.Context) (int64, error) {
	var count int64
	if err := db.pool.QueryRow(ctx, `SELECT COUNT(*) FROM messages`).Scan(&count); err != nil {
		return 0, &store.Error{Op: "count messages", Err: err}
	}
	return count, nil
}

func (db *DB) getMessage(ctx context.Context, id string) (*store.Message, error) {
	return scanMessage(db.pool.QueryRow(ctx, `SELECT `+messageColumns+` FROM messages WHERE id = $1::uuid`, id))
}

type notification struct {
	ID             string `json:"id"`
	ConversationID string `json:"conversation_id"`
}

// Subscribe holds a dedicated connection LISTENing for inserts and delivers
// those belonging to conversationID, including rows this process wrote.
// The feed runs until Close; ctx only bounds opening it.
func (db *DB) Subscribe(ctx context.Context, conversationID string, onInsert store.InsertFunc) (store.Subscription, error) {
	conn, err := db.pool.Acquire(ctx)
	if err != nil {
		return nil, &store.Error{Op: "subscribe", Err: err}
	}
	if _, err := conn.Exec(ctx, "LISTEN "+notifyChannel); err != nil {
		conn.Release()
		return nil, &store.Error{Op: "subscribe", Err: err}
	}

	run := func(ctx context.Context) {
		for {
			n, err := conn.Conn().WaitForNotification(ctx)
			if err != nil {
				if ctx.Err() == nil {
					db.logger.Error("live feed stopped", zap.String("conversation_id", conversationID), zap.Error(err))
				}
				return
			}
			var payload notification
			if err := json.Unmarshal([]byte(n.Payload), &payload); err != nil {
				db.logger.Warn("bad notification payload", zap.String("payload", n.Payload), zap.Error(err))
				continue
			}
			if payload.ConversationID != conversationID {
				continue
			}
			m, err := db.getMessage(ctx, payload.ID)
			if err != nil {
				db.logger.Warn("fetch notified message", zap.String("msg_id", payload.ID), zap.Error(err))
				continue
			}
			onInsert(*m)
		}
	}
	release := func() error {
		if conn.Conn().IsClosed() {
			// Cancelling a wait may close the connection; the pool discards it.
			conn.Release()
			return nil
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_, err := conn.Exec(ctx, "UNLISTEN "+notifyChannel)
		if err != nil {
			// The connection state is unknown; do not return it to the pool.
			_ = conn.Hijack().Close(ctx)
			return err
		}
		conn.Release()
		return nil
	}
	return store.NewFeed(ctx, run, release), nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanMessage(row scanner) (*store.Message, error) {
	var (
		m      store.Message
		status string
	)
	if err := row.Scan(&m.ID, &m.ConversationID, &m.Body, &m.FromMe, &status, &m.GatewayID, &m.CreatedAt); err != nil {
		return nil, err
	}
	m.Status = store.Status(status)
	return &m, nil
}

// classify maps Postgres errors onto store sentinels.
func classify(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case uniqueViolation:
			return fmt.Errorf("%w: %s", store.ErrDuplicate, pgErr.Message)
		case invalidTextRepresentation:
			// A malformed uuid cannot name an existing row.
			return fmt.Errorf("%w: %s", store.ErrNotFound, pgErr.Message)
		}
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return store.ErrNotFound
	}
	return err
}
