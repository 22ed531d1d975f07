package pgstore

import (
	"context"
	"fmt"
	"strings"

	"github.com/matheus3301/wppdesk/internal/store"
)

const conversationColumns = `id::text, name, address, created_at`

// CreateConversation adds a conversation to the directory.
func (db *DB) CreateConversation(ctx context.Context, name, address string) (*store.Conversation, error) {
	const op = "create conversation"
	key, err := validate(name, address)
	if err != nil {
		return nil, &store.Error{Op: op, Err: err}
	}
	c, err := scanConversation(db.pool.QueryRow(ctx, `
		INSERT INTO conversations (name, address, address_key)
		VALUES ($1, $2, $3)
		RETURNING `+conversationColumns,
		strings.TrimSpace(name), strings.TrimSpace(address), key))
	if err != nil {
		return nil, &store.Error{Op: op, Err: classify(err)}
	}
	return c, nil
}

// UpdateConversation renames or readdresses a conversation. Its messages are kept.
func (db *DB) UpdateConversation(ctx context.Context, id, name, address string) (*store.Conversation, error) {
	const op = "update conversation"
	key, err := validate(name, address)
	if err != nil {
		return nil, &store.Error{Op: op, Err: err}
	}
	c, err := scanConversation(db.pool.QueryRow(ctx, `
		UPDATE conversations SET name = $2, address = $3, address_key = $4, updated_at = clock_timestamp()
		WHERE id = $1::uuid
		RETURNING `+conversationColumns,
		id, strings.TrimSpace(name), strings.TrimSpace(address), key))
	if err != nil {
		return nil, &store.Error{Op: op, Err: classify(err)}
	}
	return c, nil
}

// GetConversation returns a conversation by id.
func (db *DB) GetConversation(ctx context.Context, id string) (*store.Conversation, error) {
	c, err := scanConversation(db.pool.QueryRow(ctx, `SELECT `+conversationColumns+` FROM conversations WHERE id = $1::uuid`, id))
	if err != nil {
		return nil, &store.Error{Op: "get conversation", Err: classify(err)}
	}
	return c, nil
}

// FindConversationByAddress looks a conversation up by the digits of its address.
func (db *DB) FindConversationByAddress(ctx context.Context, address string) (*store.Conversation, error) {
	c, err := scanConversation(db.pool.QueryRow(ctx, `SELECT `+conversationColumns+` FROM conversations WHERE address_key = $1`, store.AddressKey(address)))
	if err != nil {
		return nil, &store.Error{Op: "find conversation", Err: classify(err)}
	}
	return c, nil
}

// ListConversations returns conversations ordered by name, optionally
// filtered by a name fragment or address digits.
func (db *DB) ListConversations(ctx context.Context, query string) ([]store.Conversation, error) {
	const op = "list conversations"
	query = strings.TrimSpace(query)
	rows, err := db.pool.Query(ctx, `
		SELECT `+conversationColumns+`
		FROM conversations
		WHERE $1 = ''
			OR strpos(lower(name), lower($1)) > 0
			OR ($2 != '' AND strpos(address_key, $2) > 0)
		ORDER BY lower(name) ASC, created_at ASC`, query, store.AddressKey(query))
	if err != nil {
		return nil, &store.Error{Op: op, Err: err}
	}
	defer rows.Close()

	convs := []store.Conversation{}
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, &store.Error{Op: op, Err: err}
		}
		convs = append(convs, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, &store.Error{Op: op, Err: err}
	}
	return convs, nil
}

func scanConversation(row scanner) (*store.Conversation, error) {
	var c store.Conversation
	if err := row.Scan(&c.ID, &c.Name, &c.Address, &c.CreatedAt); err != nil {
		return nil, err
	}
	return &c, nil
}

func validate(name, address string) (string, error) {
	if strings.TrimSpace(name) == "" {
		return "", fmt.Errorf("%w: name is required", store.ErrInvalid)
	}
	key := store.AddressKey(address)
	if key == "" {
		return "", fmt.Errorf("%w: address %q has no digits", store.ErrInvalid, address)
	}
	return key, nil
}
