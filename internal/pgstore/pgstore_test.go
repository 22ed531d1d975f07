package pgstore

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/matheus3301/wppdesk/internal/bus"
	"github.com/matheus3301/wppdesk/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testDB connects to the database named by WPPDESK_TEST_POSTGRES_DSN and
// empties it. Tests are skipped when the variable is unset.
func testDB(t *testing.T) *DB {
	t.Helper()
	dsn := os.Getenv("WPPDESK_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("WPPDESK_TEST_POSTGRES_DSN not set")
	}
	ctx := context.Background()
	db, err := Open(ctx, dsn, bus.New(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	_, err = db.Migrate()
	require.NoError(t, err)
	_, err = db.pool.Exec(ctx, `TRUNCATE messages, conversations`)
	require.NoError(t, err)
	return db
}

func TestMigrateIsIdempotent(t *testing.T) {
	db := testDB(t)

	result, err := db.Migrate()
	require.NoError(t, err)
	assert.False(t, result.Changed)
	assert.EqualValues(t, 1, result.Version)
}

func TestAppendPublishesInsert(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	c, err := db.CreateConversation(ctx, "Alice", "5511")
	require.NoError(t, err)

	ch, unsub := db.bus.Subscribe(bus.KindMessageInserted, 4)
	defer unsub()

	m, err := db.AppendMessage(ctx, store.NewMessage{ConversationID: c.ID, Body: "hi", Status: store.StatusDelivered})
	require.NoError(t, err)

	select {
	case evt := <-ch:
		got, ok := evt.Payload.(store.Message)
		require.True(t, ok)
		assert.Equal(t, m.ID, got.ID)
		assert.False(t, got.FromMe)
	case <-time.After(time.Second):
		t.Fatal("insert not published")
	}
}

func TestSubscribeOutlivesOpeningContext(t *testing.T) {
	db := testDB(t)
	c, err := db.CreateConversation(context.Background(), "Alice", "5511")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	got := make(chan store.Message, 1)
	sub, err := db.Subscribe(ctx, c.ID, func(m store.Message) { got <- m })
	require.NoError(t, err)
	defer func() { _ = sub.Close() }()
	cancel()

	m, err := db.AppendMessage(context.Background(), store.NewMessage{ConversationID: c.ID, Body: "still here"})
	require.NoError(t, err)
	select {
	case d := <-got:
		assert.Equal(t, m.ID, d.ID)
	case <-time.After(2 * time.Second):
		t.Fatal("feed stopped with its opening context")
	}
}

func TestAppendAndList(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	c, err := db.CreateConversation(ctx, "Alice", "+55 11 99999-0000")
	require.NoError(t, err)

	first, err := db.AppendMessage(ctx, store.NewMessage{ConversationID: c.ID, Body: "one", FromMe: true})
	require.NoError(t, err)
	_, err = db.AppendMessage(ctx, store.NewMessage{ConversationID: c.ID, Body: "two", Status: store.StatusDelivered})
	require.NoError(t, err)

	assert.NotEmpty(t, first.ID)
	assert.Equal(t, store.StatusSent, first.Status)

	msgs, err := db.ListMessages(ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "one", msgs[0].Body)
	assert.Equal(t, "two", msgs[1].Body)
	assert.False(t, msgs[0].CreatedAt.After(msgs[1].CreatedAt))

	other, err := db.CreateConversation(ctx, "Bob", "5511988887777")
	require.NoError(t, err)
	empty, err := db.ListMessages(ctx, other.ID)
	require.NoError(t, err)
	assert.NotNil(t, empty)
	assert.Empty(t, empty)
}

func TestAppendUnknownConversation(t *testing.T) {
	db := testDB(t)

	_, err := db.AppendMessage(context.Background(), store.NewMessage{
		ConversationID: "00000000-0000-0000-0000-000000000000",
		Body:           "x",
	})
	var serr *store.Error
	assert.ErrorAs(t, err, &serr)
}

func TestAttachGatewayIDWriteOnce(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	c, err := db.CreateConversation(ctx, "Alice", "5511999990000")
	require.NoError(t, err)
	m, err := db.AppendMessage(ctx, store.NewMessage{ConversationID: c.ID, Body: "hi", FromMe: true})
	require.NoError(t, err)

	require.NoError(t, db.AttachGatewayID(ctx, m.ID, "GW-1"))
	require.NoError(t, db.AttachGatewayID(ctx, m.ID, "GW-2"))

	msgs, err := db.ListMessages(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, "GW-1", msgs[0].GatewayID)

	err = db.AttachGatewayID(ctx, "not-a-uuid", "GW-3")
	assert.True(t, errors.Is(err, store.ErrNotFound))
}

func TestDuplicateGatewayID(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	c, err := db.CreateConversation(ctx, "Alice", "5511999990000")
	require.NoError(t, err)

	_, err = db.AppendMessage(ctx, store.NewMessage{ConversationID: c.ID, Body: "a", GatewayID: "GW"})
	require.NoError(t, err)
	_, err = db.AppendMessage(ctx, store.NewMessage{ConversationID: c.ID, Body: "a", GatewayID: "GW"})
	assert.ErrorIs(t, err, store.ErrDuplicate)
}

func TestSubscribeDeliversOnlyItsConversation(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	alice, err := db.CreateConversation(ctx, "Alice", "5511999990000")
	require.NoError(t, err)
	bob, err := db.CreateConversation(ctx, "Bob", "5511988887777")
	require.NoError(t, err)

	var (
		mu  sync.Mutex
		got []store.Message
	)
	sub, err := db.Subscribe(ctx, alice.ID, func(m store.Message) {
		mu.Lock()
		got = append(got, m)
		mu.Unlock()
	})
	require.NoError(t, err)

	_, err = db.AppendMessage(ctx, store.NewMessage{ConversationID: bob.ID, Body: "not mine"})
	require.NoError(t, err)
	mine, err := db.AppendMessage(ctx, store.NewMessage{ConversationID: alice.ID, Body: "mine", FromMe: true})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1
	}, 5*time.Second, 20*time.Millisecond)
	require.NoError(t, sub.Close())

	_, err = db.AppendMessage(ctx, store.NewMessage{ConversationID: alice.ID, Body: "after close"})
	require.NoError(t, err)
	time.Sleep(100 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 1)
	assert.Equal(t, mine.ID, got[0].ID)
}

func TestConversationDirectory(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	_, err := db.CreateConversation(ctx, "bruno", "5511911112222")
	require.NoError(t, err)
	alice, err := db.CreateConversation(ctx, "Alice", "+55 11 99999-0000")
	require.NoError(t, err)

	_, err = db.CreateConversation(ctx, "Alice again", "5511999990000")
	assert.ErrorIs(t, err, store.ErrDuplicate)

	all, err := db.ListConversations(ctx, "")
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "Alice", all[0].Name)

	byDigits, err := db.ListConversations(ctx, "9999")
	require.NoError(t, err)
	require.Len(t, byDigits, 1)
	assert.Equal(t, alice.ID, byDigits[0].ID)

	found, err := db.FindConversationByAddress(ctx, "5511999990000@s.whatsapp.net")
	require.NoError(t, err)
	assert.Equal(t, alice.ID, found.ID)

	updated, err := db.UpdateConversation(ctx, alice.ID, "Alice Cooper", "5511999990000")
	require.NoError(t, err)
	assert.Equal(t, "Alice Cooper", updated.Name)

	_, err = db.GetConversation(ctx, "00000000-0000-0000-0000-000000000000")
	assert.ErrorIs(t, err, store.ErrNotFound)
}
