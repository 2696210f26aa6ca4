package chat

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/4xmen/goftgu/internal/db"
)

var epoch = time.Date(2024, time.March, 1, 12, 0, 0, 0, time.UTC)

type recordingNotifier struct {
	mu     sync.Mutex
	events []Event
}

func (n *recordingNotifier) Publish(ev Event) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, ev)
}

func (n *recordingNotifier) ofType(t EventType) []Event {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []Event
	for _, ev := range n.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

type recordingPusher struct {
	mu            sync.Mutex
	notifications []*MessageNotification
}

func (p *recordingPusher) NotifyMessage(n *MessageNotification) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.notifications = append(p.notifications, n)
}

type fixture struct {
	svc      *Service
	clock    *clock.Mock
	notifier *recordingNotifier
	pusher   *recordingPusher
	ctx      context.Context
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureAt(t, ":memory:")
}

func newFixtureAt(t *testing.T, path string) *fixture {
	t.Helper()

	database, err := db.New(path)
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	mock := clock.NewMock()
	mock.Set(epoch)

	f := &fixture{
		clock:    mock,
		notifier: &recordingNotifier{},
		pusher:   &recordingPusher{},
		ctx:      context.Background(),
	}
	f.svc = NewService(database.GetConn(),
		WithClock(mock),
		WithNotifier(f.notifier),
		WithPusher(f.pusher),
		WithLogger(zerolog.Nop()),
	)
	return f
}

// user creates a user keyed by identityKey and returns its id.
func (f *fixture) user(t *testing.T, identityKey, name string) string {
	t.Helper()
	id, err := f.svc.UpsertUser(f.ctx, identityKey, name, identityKey+"@example.com", nil)
	require.NoError(t, err)
	return id
}

// tick advances the clock so consecutive writes get distinct timestamps.
func (f *fixture) tick() {
	f.clock.Add(time.Millisecond)
}
