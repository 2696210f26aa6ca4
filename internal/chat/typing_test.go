package chat

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func typerIDs(t *testing.T, f *fixture, conv, exclude string) []string {
	t.Helper()
	users, err := f.svc.ActiveTypers(f.ctx, conv, exclude)
	require.NoError(t, err)
	ids := []string{}
	for _, u := range users {
		ids = append(ids, u.ID)
	}
	return ids
}

func TestActiveTypersFreshnessWindow(t *testing.T) {
	f := newFixture(t)
	a, b, conv := directPair(t, f)

	require.NoError(t, f.svc.SetTyping(f.ctx, conv, a, true))
	assert.Equal(t, []string{a}, typerIDs(t, f, conv, b))

	tests := []struct {
		name    string
		elapsed time.Duration
		active  bool
	}{
		{"just set", 0, true},
		{"inside window", TypingWindow - time.Millisecond, true},
		{"exactly at window", TypingWindow, false},
		{"past window", TypingWindow + time.Millisecond, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f.clock.Set(epoch.Add(tt.elapsed))
			ids := typerIDs(t, f, conv, b)
			if tt.active {
				assert.Equal(t, []string{a}, ids)
			} else {
				assert.Empty(t, ids)
			}
		})
	}
}

func TestActiveTypersExcludesCallerAndCleared(t *testing.T) {
	f := newFixture(t)
	a, b, conv := directPair(t, f)

	require.NoError(t, f.svc.SetTyping(f.ctx, conv, a, true))
	require.NoError(t, f.svc.SetTyping(f.ctx, conv, b, true))

	assert.Equal(t, []string{b}, typerIDs(t, f, conv, a))
	assert.Equal(t, []string{a}, typerIDs(t, f, conv, b))

	f.tick()
	require.NoError(t, f.svc.SetTyping(f.ctx, conv, a, false))
	assert.Empty(t, typerIDs(t, f, conv, b))
}

func TestSetTypingRefreshesTimestamp(t *testing.T) {
	f := newFixture(t)
	a, b, conv := directPair(t, f)

	require.NoError(t, f.svc.SetTyping(f.ctx, conv, a, true))
	f.clock.Add(1500 * time.Millisecond)
	require.NoError(t, f.svc.SetTyping(f.ctx, conv, a, true))
	f.clock.Add(1500 * time.Millisecond)

	assert.Equal(t, []string{a}, typerIDs(t, f, conv, b))

	events := f.notifier.ofType(EventTypingUpdated)
	require.Len(t, events, 2)
	assert.ElementsMatch(t, []string{a, b}, events[0].Recipients)
}

func TestActiveTypersRejectsMalformedConversation(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.ActiveTypers(f.ctx, "nope", "")
	assert.ErrorIs(t, err, ErrValidation)
}
