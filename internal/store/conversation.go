package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// CreateConversation adds a conversation to the directory.
func (db *DB) CreateConversation(ctx context.Context, name, address string) (*Conversation, error) {
	const op = "create conversation"
	key, err := validateConversation(name, address)
	if err != nil {
		return nil, storeErr(op, err)
	}
	now := time.UnixMilli(time.Now().UnixMilli())
	c := &Conversation{ID: uuid.NewString(), Name: strings.TrimSpace(name), Address: strings.TrimSpace(address), CreatedAt: now}
	_, err = db.ExecContext(ctx, `
		INSERT INTO conversations (id, name, address, address_key, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		c.ID, c.Name, c.Address, key, now.UnixMilli(), now.UnixMilli())
	if err != nil {
		return nil, storeErr(op, classify(err))
	}
	return c, nil
}

// UpdateConversation renames or readdresses a conversation. Its messages are kept.
func (db *DB) UpdateConversation(ctx context.Context, id, name, address string) (*Conversation, error) {
	const op = "update conversation"
	key, err := validateConversation(name, address)
	if err != nil {
		return nil, storeErr(op, err)
	}
	res, err := db.ExecContext(ctx, `
		UPDATE conversations SET name = ?, address = ?, address_key = ?, updated_at = ?
		WHERE id = ?`,
		strings.TrimSpace(name), strings.TrimSpace(address), key, time.Now().UnixMilli(), id)
	if err != nil {
		return nil, storeErr(op, classify(err))
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, storeErr(op, ErrNotFound)
	}
	return db.GetConversation(ctx, id)
}

// GetConversation returns a conversation by id.
func (db *DB) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	return db.getConversation(ctx, "get conversation", `WHERE id = ?`, id)
}

// FindConversationByAddress looks a conversation up by the digits of its address.
func (db *DB) FindConversationByAddress(ctx context.Context, address string) (*Conversation, error) {
	return db.getConversation(ctx, "find conversation", `WHERE address_key = ?`, AddressKey(address))
}

func (db *DB) getConversation(ctx context.Context, op, where string, arg any) (*Conversation, error) {
	var (
		c       Conversation
		created int64
	)
	err := db.QueryRowContext(ctx, `SELECT id, name, address, created_at FROM conversations `+where, arg).
		Scan(&c.ID, &c.Name, &c.Address, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storeErr(op, ErrNotFound)
	}
	if err != nil {
		return nil, storeErr(op, err)
	}
	c.CreatedAt = time.UnixMilli(created)
	return &c, nil
}

// ListConversations returns conversations ordered by name. A non-empty query
// keeps those whose name contains it (case-insensitive) or whose address
// contains its digits.
func (db *DB) ListConversations(ctx context.Context, query string) ([]Conversation, error) {
	query = strings.TrimSpace(query)
	digits := AddressKey(query)
	rows, err := db.QueryContext(ctx, `
		SELECT id, name, address, created_at
		FROM conversations
		WHERE ? = ''
			OR instr(lower(name), lower(?)) > 0
			OR (? != '' AND instr(address_key, ?) > 0)
		ORDER BY name COLLATE NOCASE ASC, created_at ASC`,
		query, query, digits, digits)
	if err != nil {
		return nil, storeErr("list conversations", err)
	}
	defer func() { _ = rows.Close() }()

	convs := []Conversation{}
	for rows.Next() {
		var (
			c       Conversation
			created int64
		)
		if err := rows.Scan(&c.ID, &c.Name, &c.Address, &created); err != nil {
			return nil, storeErr("list conversations", err)
		}
		c.CreatedAt = time.UnixMilli(created)
		convs = append(convs, c)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("list conversations", err)
	}
	return convs, nil
}

func validateConversation(name, address string) (string, error) {
	if strings.TrimSpace(name) == "" {
		return "", fmt.Errorf("%w: name is required", ErrInvalid)
	}
	key := AddressKey(address)
	if key == "" {
		return "", fmt.Errorf("%w: address %q has no digits", ErrInvalid, address)
	}
	return key, nil
}
