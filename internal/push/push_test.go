package push

import (
	"context"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"

	webpush "github.com/SherClockHolmes/webpush-go"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/4xmen/goftgu/internal/chat"
	"github.com/4xmen/goftgu/internal/db"
)

type sentPush struct {
	endpoint string
	body     payload
}

func newTestNotifier(t *testing.T, status int) (*Notifier, *[]sentPush) {
	t.Helper()

	database, err := db.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	_, err = database.GetConn().Exec(`
		INSERT INTO users (id, identity_key, name, email, is_online, last_seen, created_at) VALUES
			('u-online', 'k1', 'On', 'on@example.com', 1, 0, 0),
			('u-offline', 'k2', 'Off', 'off@example.com', 0, 0, 0)
	`)
	require.NoError(t, err)

	n := NewNotifier(database.GetConn(), "pub", "priv", "mailto:test@example.com", zerolog.Nop())
	require.NotNil(t, n)

	var mu sync.Mutex
	sent := []sentPush{}
	n.send = func(message []byte, s *webpush.Subscription, options *webpush.Options) (*http.Response, error) {
		var p payload
		if err := json.Unmarshal(message, &p); err != nil {
			return nil, err
		}
		mu.Lock()
		sent = append(sent, sentPush{endpoint: s.Endpoint, body: p})
		mu.Unlock()
		return &http.Response{StatusCode: status, Body: io.NopCloser(strings.NewReader(""))}, nil
	}
	return n, &sent
}

func TestNewNotifierDisabledWithoutKeys(t *testing.T) {
	assert.Nil(t, NewNotifier(nil, "", "priv", "", zerolog.Nop()))

	var n *Notifier
	n.NotifyMessage(&chat.MessageNotification{})
}

func TestDeliverOnlyToOfflineRecipients(t *testing.T) {
	n, sent := newTestNotifier(t, http.StatusCreated)
	ctx := context.Background()

	require.NoError(t, n.Save(ctx, "u-online", Subscription{Endpoint: "https://push.example.com/on", KeyP256dh: "p", KeyAuth: "a"}))
	require.NoError(t, n.Save(ctx, "u-offline", Subscription{Endpoint: "https://push.example.com/off", KeyP256dh: "p", KeyAuth: "a"}))

	n.deliver(ctx, &chat.MessageNotification{
		ConversationID: "c1",
		MessageID:      "m1",
		SenderName:     "Ali",
		Content:        "salam",
		Recipients:     []string{"u-online", "u-offline"},
	})

	require.Len(t, *sent, 1)
	got := (*sent)[0]
	assert.Equal(t, "https://push.example.com/off", got.endpoint)
	assert.Equal(t, "پیام جدید از Ali", got.body.Title)
	assert.Equal(t, "salam", got.body.Body)
	assert.Equal(t, "/conversations/c1", got.body.URL)
}

func TestDeliverRemovesExpiredSubscription(t *testing.T) {
	n, sent := newTestNotifier(t, http.StatusGone)
	ctx := context.Background()

	require.NoError(t, n.Save(ctx, "u-offline", Subscription{Endpoint: "https://push.example.com/off", KeyP256dh: "p", KeyAuth: "a"}))
	n.deliver(ctx, &chat.MessageNotification{MessageID: "m1", Recipients: []string{"u-offline"}})
	require.Len(t, *sent, 1)

	var count int
	require.NoError(t, n.db.QueryRow(`SELECT COUNT(*) FROM push_subscriptions`).Scan(&count))
	assert.Equal(t, 0, count)
}

func TestSaveMovesEndpointAndDeleteIsOwnerScoped(t *testing.T) {
	n, _ := newTestNotifier(t, http.StatusCreated)
	ctx := context.Background()
	sub := Subscription{Endpoint: "https://push.example.com/x", KeyP256dh: "p", KeyAuth: "a"}

	require.NoError(t, n.Save(ctx, "u-online", sub))
	sub.KeyAuth = "a2"
	require.NoError(t, n.Save(ctx, "u-offline", sub))

	var owner, auth string
	require.NoError(t, n.db.QueryRow(`SELECT user_id, auth FROM push_subscriptions WHERE endpoint = ?`, sub.Endpoint).Scan(&owner, &auth))
	assert.Equal(t, "u-offline", owner)
	assert.Equal(t, "a2", auth)

	require.NoError(t, n.Delete(ctx, "u-online", sub.Endpoint))
	var count int
	require.NoError(t, n.db.QueryRow(`SELECT COUNT(*) FROM push_subscriptions`).Scan(&count))
	assert.Equal(t, 1, count)

	require.NoError(t, n.Delete(ctx, "u-offline", sub.Endpoint))
	require.NoError(t, n.db.QueryRow(`SELECT COUNT(*) FROM push_subscriptions`).Scan(&count))
	assert.Equal(t, 0, count)
}

func TestSubscriptionValid(t *testing.T) {
	assert.True(t, Subscription{Endpoint: "https://p.example.com/1", KeyP256dh: "k", KeyAuth: "a"}.Valid())
	assert.False(t, Subscription{Endpoint: "http://p.example.com/1", KeyP256dh: "k", KeyAuth: "a"}.Valid())
	assert.False(t, Subscription{Endpoint: "https://p.example.com/1", KeyAuth: "a"}.Valid())
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", truncate("abc", 3))
	assert.Equal(t, "ab…", truncate("abc", 2))
	assert.Equal(t, "سلا…", truncate("سلام", 3))
}
