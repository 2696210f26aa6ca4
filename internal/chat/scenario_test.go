package chat

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/4xmen/goftgu/internal/models"
)

func TestDirectConversationLifecycle(t *testing.T) {
	f := newFixture(t)
	a := f.user(t, "a1", "Ali")
	b := f.user(t, "b1", "Bita")

	conv, err := f.svc.GetOrCreateDirect(f.ctx, a, b)
	require.NoError(t, err)

	f.tick()
	m1, err := f.svc.AppendMessage(f.ctx, conv, a, "hello", models.MessageTypeText)
	require.NoError(t, err)

	unread, err := f.svc.UnreadCount(f.ctx, conv, b)
	require.NoError(t, err)
	assert.Equal(t, 1, unread)

	f.tick()
	require.NoError(t, f.svc.MarkRead(f.ctx, conv, b))
	unread, err = f.svc.UnreadCount(f.ctx, conv, b)
	require.NoError(t, err)
	assert.Equal(t, 0, unread)

	added, err := f.svc.ToggleReaction(f.ctx, m1, b, "👍")
	require.NoError(t, err)
	assert.True(t, added)

	err = f.svc.DeleteMessage(f.ctx, m1, b)
	assert.ErrorIs(t, err, ErrForbidden)

	require.NoError(t, f.svc.DeleteMessage(f.ctx, m1, a))

	messages, err := f.svc.ListMessages(f.ctx, conv)
	require.NoError(t, err)
	require.Len(t, messages, 1)
	assert.Equal(t, Tombstone, messages[0].Content)
	assert.True(t, messages[0].IsDeleted)
	assert.Equal(t, []models.Reaction{{UserID: b, Emoji: "👍"}}, messages[0].Reactions)

	summaries, err := f.svc.ListConversations(f.ctx, b)
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	assert.Equal(t, 0, summaries[0].UnreadCount)
	require.NotNil(t, summaries[0].LastMessage)
	assert.True(t, summaries[0].LastMessage.IsDeleted)
}
