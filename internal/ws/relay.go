package ws

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/4xmen/goftgu/internal/chat"
)

const presenceTTL = 90 * time.Second

// Relay carries change events between instances over Redis pub/sub. Each
// instance stamps what it publishes and ignores its own messages, which it
// has already delivered locally.
//
// It also counts connections per user in one Redis hash per instance. The
// hash expires unless its instance keeps it alive, so a crashed instance
// stops counting after presenceTTL.
type Relay struct {
	client     *redis.Client
	channel    string
	instanceID string
	logger     zerolog.Logger
}

type envelope struct {
	Instance string     `json:"instance"`
	Event    chat.Event `json:"event"`
}

func NewRelay(client *redis.Client, channel string, logger zerolog.Logger) *Relay {
	return &Relay{
		client:     client,
		channel:    channel,
		instanceID: uuid.NewString(),
		logger:     logger,
	}
}

func (r *Relay) Publish(ctx context.Context, ev chat.Event) error {
	data, err := r.encode(ev)
	if err != nil {
		return err
	}
	return r.client.Publish(ctx, r.channel, data).Err()
}

// Subscribe hands events from other instances to deliver until ctx is done.
func (r *Relay) Subscribe(ctx context.Context, deliver func(chat.Event)) error {
	pubsub := r.client.Subscribe(ctx, r.channel)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", r.channel, err)
	}
	r.logger.Info().Str("channel", r.channel).Str("instance", r.instanceID).Msg("relay subscribed")

	ch := pubsub.Channel()
	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			ev, remote, err := r.decode([]byte(msg.Payload))
			if err != nil {
				r.logger.Warn().Err(err).Msg("dropping malformed relay message")
				continue
			}
			if remote {
				deliver(ev)
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (r *Relay) encode(ev chat.Event) ([]byte, error) {
	data, err := json.Marshal(envelope{Instance: r.instanceID, Event: ev})
	if err != nil {
		return nil, fmt.Errorf("failed to encode relay event: %w", err)
	}
	return data, nil
}

// decode reports whether the message came from another instance.
func (r *Relay) decode(data []byte) (chat.Event, bool, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return chat.Event{}, false, err
	}
	return env.Event, env.Instance != r.instanceID, nil
}

func (r *Relay) presenceKey(instanceID string) string {
	return r.channel + ":presence:" + instanceID
}

func (r *Relay) Connected(ctx context.Context, userID string) error {
	key := r.presenceKey(r.instanceID)
	pipe := r.client.TxPipeline()
	pipe.HIncrBy(ctx, key, userID, 1)
	pipe.Expire(ctx, key, presenceTTL)
	_, err := pipe.Exec(ctx)
	return err
}

// Disconnected drops one of this instance's connections for userID and
// returns how many the user still holds on any instance.
func (r *Relay) Disconnected(ctx context.Context, userID string) (int64, error) {
	key := r.presenceKey(r.instanceID)
	n, err := r.client.HIncrBy(ctx, key, userID, -1).Result()
	if err != nil {
		return 0, err
	}
	if n <= 0 {
		if err := r.client.HDel(ctx, key, userID).Err(); err != nil {
			return 0, err
		}
	}

	var total int64
	err = r.eachPresenceKey(ctx, func(key string) error {
		count, err := r.client.HGet(ctx, key, userID).Int64()
		if errors.Is(err, redis.Nil) {
			return nil
		}
		if err != nil {
			return err
		}
		if count > 0 {
			total += count
		}
		return nil
	})
	return total, err
}

// OnlineUsers lists users holding a connection on any live instance.
func (r *Relay) OnlineUsers(ctx context.Context) ([]string, error) {
	seen := make(map[string]struct{})
	var users []string
	err := r.eachPresenceKey(ctx, func(key string) error {
		counts, err := r.client.HGetAll(ctx, key).Result()
		if err != nil {
			return err
		}
		for userID, count := range counts {
			if _, dup := seen[userID]; dup || count == "0" || strings.HasPrefix(count, "-") {
				continue
			}
			seen[userID] = struct{}{}
			users = append(users, userID)
		}
		return nil
	})
	return users, err
}

func (r *Relay) eachPresenceKey(ctx context.Context, fn func(key string) error) error {
	iter := r.client.Scan(ctx, 0, r.presenceKey("*"), 100).Iterator()
	for iter.Next(ctx) {
		if err := fn(iter.Val()); err != nil {
			return err
		}
	}
	return iter.Err()
}

// KeepAlive refreshes this instance's presence hash until ctx is done, then
// removes it so other instances stop counting its connections.
func (r *Relay) KeepAlive(ctx context.Context) {
	ticker := time.NewTicker(presenceTTL / 3)
	defer ticker.Stop()

	key := r.presenceKey(r.instanceID)
	for {
		select {
		case <-ticker.C:
			if err := r.client.Expire(ctx, key, presenceTTL).Err(); err != nil && ctx.Err() == nil {
				r.logger.Warn().Err(err).Msg("failed to refresh presence counts")
			}
		case <-ctx.Done():
			cleanupCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := r.client.Del(cleanupCtx, key).Err(); err != nil {
				r.logger.Warn().Err(err).Msg("failed to clear presence counts")
			}
			return
		}
	}
}
