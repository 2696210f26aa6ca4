package push

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"strings"
	"time"

	webpush "github.com/SherClockHolmes/webpush-go"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/4xmen/goftgu/internal/chat"
	"github.com/4xmen/goftgu/internal/metrics"
)

// Notifier sends Web Push notifications to participants who are offline.
type Notifier struct {
	db              *sql.DB
	vapidPublicKey  string
	vapidPrivateKey string
	subscriber      string
	logger          zerolog.Logger
	send            func(message []byte, s *webpush.Subscription, options *webpush.Options) (*http.Response, error)
}

// Subscription represents a stored Web Push subscription.
type Subscription struct {
	Endpoint  string `json:"endpoint"`
	KeyP256dh string `json:"p256dh"`
	KeyAuth   string `json:"auth"`
}

// Valid reports whether all fields needed for delivery are present.
func (s Subscription) Valid() bool {
	return strings.HasPrefix(s.Endpoint, "https://") && s.KeyP256dh != "" && s.KeyAuth != ""
}

// NewNotifier creates a push Notifier. Returns nil if VAPID keys are empty.
func NewNotifier(db *sql.DB, vapidPublicKey, vapidPrivateKey, subscriber string, logger zerolog.Logger) *Notifier {
	if vapidPublicKey == "" || vapidPrivateKey == "" {
		return nil
	}
	return &Notifier{
		db:              db,
		vapidPublicKey:  vapidPublicKey,
		vapidPrivateKey: vapidPrivateKey,
		subscriber:      subscriber,
		logger:          logger,
		send:            webpush.SendNotification,
	}
}

// VAPIDPublicKey returns the public VAPID key for the frontend.
func (n *Notifier) VAPIDPublicKey() string {
	return n.vapidPublicKey
}

// Save stores sub for userID. Re-subscribing an endpoint moves it to the
// new user and refreshes its keys.
func (n *Notifier) Save(ctx context.Context, userID string, sub Subscription) error {
	_, err := n.db.ExecContext(ctx, `
		INSERT INTO push_subscriptions (endpoint, user_id, p256dh, auth, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (endpoint) DO UPDATE SET
			user_id = excluded.user_id,
			p256dh = excluded.p256dh,
			auth = excluded.auth
	`, sub.Endpoint, userID, sub.KeyP256dh, sub.KeyAuth, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to save subscription: %w", err)
	}
	return nil
}

// Delete removes the endpoint when it belongs to userID.
func (n *Notifier) Delete(ctx context.Context, userID, endpoint string) error {
	_, err := n.db.ExecContext(ctx,
		`DELETE FROM push_subscriptions WHERE endpoint = ? AND user_id = ?`, endpoint, userID)
	if err != nil {
		return fmt.Errorf("failed to delete subscription: %w", err)
	}
	return nil
}

// payload is the JSON structure sent inside the push notification.
type payload struct {
	Title          string `json:"title"`
	Body           string `json:"body"`
	URL            string `json:"url"`
	ConversationID string `json:"conversation_id"`
	MessageID      string `json:"message_id"`
}

// NotifyMessage delivers msg in the background.
func (n *Notifier) NotifyMessage(msg *chat.MessageNotification) {
	if n == nil {
		return
	}
	go n.deliver(context.Background(), msg)
}

func (n *Notifier) deliver(ctx context.Context, msg *chat.MessageNotification) {
	subs, err := n.offlineSubscriptions(ctx, msg.Recipients)
	if err != nil {
		n.logger.Warn().Err(err).Str("message_id", msg.MessageID).Msg("failed to query push subscriptions")
		return
	}
	if len(subs) == 0 {
		n.logger.Debug().Str("message_id", msg.MessageID).Msg("no push subscriptions for offline recipients")
		return
	}

	title := "پیام جدید"
	if msg.SenderName != "" {
		title = "پیام جدید از " + msg.SenderName
	}
	data, err := json.Marshal(payload{
		Title:          title,
		Body:           truncate(msg.Content, 120),
		URL:            "/conversations/" + msg.ConversationID,
		ConversationID: msg.ConversationID,
		MessageID:      msg.MessageID,
	})
	if err != nil {
		n.logger.Warn().Err(err).Msg("failed to encode push payload")
		return
	}

	n.logger.Debug().Int("subscriptions", len(subs)).Str("message_id", msg.MessageID).Msg("sending push notifications")
	for _, sub := range subs {
		n.sendToSubscription(ctx, sub, data)
	}
}

func (n *Notifier) offlineSubscriptions(ctx context.Context, userIDs []string) ([]Subscription, error) {
	if len(userIDs) == 0 {
		return nil, nil
	}
	args := make([]any, len(userIDs))
	for i, id := range userIDs {
		args[i] = id
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(userIDs)), ",")

	rows, err := n.db.QueryContext(ctx, `
		SELECT s.endpoint, s.p256dh, s.auth
		FROM push_subscriptions s
		JOIN users u ON u.id = s.user_id
		WHERE s.user_id IN (`+placeholders+`) AND u.is_online = 0
	`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var subs []Subscription
	for rows.Next() {
		var sub Subscription
		if err := rows.Scan(&sub.Endpoint, &sub.KeyP256dh, &sub.KeyAuth); err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

func (n *Notifier) sendToSubscription(ctx context.Context, sub Subscription, data []byte) {
	s := &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.KeyP256dh,
			Auth:   sub.KeyAuth,
		},
	}

	resp, err := n.send(data, s, &webpush.Options{
		VAPIDPublicKey:  n.vapidPublicKey,
		VAPIDPrivateKey: n.vapidPrivateKey,
		Subscriber:      n.subscriber,
		TTL:             86400,
	})
	if err != nil {
		metrics.PushNotificationsSent.WithLabelValues("error").Inc()
		n.logger.Warn().Err(err).Str("endpoint", sub.Endpoint).Msg("failed to send push notification")
		return
	}
	defer resp.Body.Close()

	// 410 Gone or 404 means the subscription is expired
	if resp.StatusCode == http.StatusGone || resp.StatusCode == http.StatusNotFound {
		metrics.PushNotificationsSent.WithLabelValues("expired").Inc()
		if _, err := n.db.ExecContext(ctx, "DELETE FROM push_subscriptions WHERE endpoint = ?", sub.Endpoint); err != nil {
			n.logger.Warn().Err(err).Str("endpoint", sub.Endpoint).Msg("failed to remove expired subscription")
			return
		}
		n.logger.Info().Str("endpoint", sub.Endpoint).Int("status", resp.StatusCode).Msg("removed expired push subscription")
		return
	}

	metrics.PushNotificationsSent.WithLabelValues("sent").Inc()
	n.logger.Debug().Str("endpoint", sub.Endpoint).Int("status", resp.StatusCode).Msg("push notification sent")
}

func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max]) + "…"
}
