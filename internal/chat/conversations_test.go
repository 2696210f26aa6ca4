package chat

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/4xmen/goftgu/internal/models"
)

func TestGetOrCreateDirectIsStable(t *testing.T) {
	f := newFixture(t)
	a := f.user(t, "a1", "Ali")
	b := f.user(t, "b1", "Bita")

	first, err := f.svc.GetOrCreateDirect(f.ctx, a, b)
	require.NoError(t, err)

	f.tick()
	second, err := f.svc.GetOrCreateDirect(f.ctx, a, b)
	require.NoError(t, err)
	reversed, err := f.svc.GetOrCreateDirect(f.ctx, b, a)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, first, reversed)

	c, err := f.svc.GetConversation(f.ctx, first)
	require.NoError(t, err)
	assert.False(t, c.IsGroup)
	assert.Equal(t, []string{a, b}, c.ParticipantIDs)
	assert.Equal(t, a, c.CreatedBy)
	assert.Equal(t, epoch.UnixMilli(), c.LastMessageAt)
	assert.Nil(t, c.LastMessageID)

	assert.Len(t, f.notifier.ofType(EventConversationUpdated), 1)
}

func TestGetOrCreateDirectConcurrentFirstCalls(t *testing.T) {
	f := newFixtureAt(t, t.TempDir()+"/chat.db")
	a := f.user(t, "a1", "Ali")
	b := f.user(t, "b1", "Bita")

	const callers = 8
	ids := make([]string, callers)
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				ids[i], errs[i] = f.svc.GetOrCreateDirect(f.ctx, a, b)
			} else {
				ids[i], errs[i] = f.svc.GetOrCreateDirect(f.ctx, b, a)
			}
		}(i)
	}
	wg.Wait()

	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, ids[0], ids[i])
	}

	var count int
	require.NoError(t, f.svc.db.QueryRow(`SELECT COUNT(*) FROM conversations WHERE is_group = 0`).Scan(&count))
	assert.Equal(t, 1, count)
}

func TestGetOrCreateDirectFindsLegacyConversation(t *testing.T) {
	f := newFixture(t)
	a := f.user(t, "a1", "Ali")
	b := f.user(t, "b1", "Bita")

	legacy := newID()
	_, err := f.svc.db.Exec(`
		INSERT INTO conversations (id, is_group, created_by, last_message_at, created_at)
		VALUES (?, 0, ?, 0, 0)
	`, legacy, b)
	require.NoError(t, err)
	_, err = f.svc.db.Exec(`
		INSERT INTO conversation_participants (conversation_id, position, user_id)
		VALUES (?, 0, ?), (?, 1, ?)
	`, legacy, b, legacy, a)
	require.NoError(t, err)

	id, err := f.svc.GetOrCreateDirect(f.ctx, a, b)
	require.NoError(t, err)
	assert.Equal(t, legacy, id)
}

func TestGetOrCreateDirectErrors(t *testing.T) {
	f := newFixture(t)
	a := f.user(t, "a1", "Ali")

	_, err := f.svc.GetOrCreateDirect(f.ctx, a, a)
	assert.ErrorIs(t, err, ErrValidation)

	_, err = f.svc.GetOrCreateDirect(f.ctx, a, "bogus")
	assert.ErrorIs(t, err, ErrValidation)

	_, err = f.svc.GetOrCreateDirect(f.ctx, a, newID())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCreateGroupKeepsCreatorFirstWithoutDedup(t *testing.T) {
	f := newFixture(t)
	a := f.user(t, "a1", "Ali")
	b := f.user(t, "b1", "Bita")
	c := f.user(t, "c1", "Cyrus")

	desc := "weekend plans"
	id, err := f.svc.CreateGroup(f.ctx, a, GroupParams{
		Name:           "  Hikers ",
		Description:    &desc,
		ParticipantIDs: []string{b, c, a},
	})
	require.NoError(t, err)

	conv, err := f.svc.GetConversation(f.ctx, id)
	require.NoError(t, err)
	assert.True(t, conv.IsGroup)
	assert.Equal(t, []string{a, b, c, a}, conv.ParticipantIDs)
	require.NotNil(t, conv.GroupName)
	assert.Equal(t, "Hikers", *conv.GroupName)
	require.NotNil(t, conv.GroupDescription)
	assert.Equal(t, desc, *conv.GroupDescription)
	assert.Nil(t, conv.GroupImage)
	assert.Equal(t, a, conv.CreatedBy)
}

func TestCreateGroupErrors(t *testing.T) {
	f := newFixture(t)
	a := f.user(t, "a1", "Ali")

	_, err := f.svc.CreateGroup(f.ctx, a, GroupParams{Name: " "})
	assert.ErrorIs(t, err, ErrValidation)

	_, err = f.svc.CreateGroup(f.ctx, a, GroupParams{Name: "g", ParticipantIDs: []string{newID()}})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRequireParticipant(t *testing.T) {
	f := newFixture(t)
	a := f.user(t, "a1", "Ali")
	b := f.user(t, "b1", "Bita")
	c := f.user(t, "c1", "Cyrus")

	id, err := f.svc.GetOrCreateDirect(f.ctx, a, b)
	require.NoError(t, err)

	_, err = f.svc.RequireParticipant(f.ctx, id, b)
	assert.NoError(t, err)
	_, err = f.svc.RequireParticipant(f.ctx, id, c)
	assert.ErrorIs(t, err, ErrForbidden)
	_, err = f.svc.RequireParticipant(f.ctx, newID(), a)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListConversations(t *testing.T) {
	f := newFixture(t)
	a := f.user(t, "a1", "Ali")
	b := f.user(t, "b1", "Bita")
	c := f.user(t, "c1", "Cyrus")

	direct, err := f.svc.GetOrCreateDirect(f.ctx, a, b)
	require.NoError(t, err)
	f.tick()
	group, err := f.svc.CreateGroup(f.ctx, c, GroupParams{Name: "g", ParticipantIDs: []string{a, b}})
	require.NoError(t, err)
	f.tick()
	other, err := f.svc.GetOrCreateDirect(f.ctx, b, c)
	require.NoError(t, err)

	f.tick()
	msgID, err := f.svc.AppendMessage(f.ctx, direct, b, "hey", models.MessageTypeText)
	require.NoError(t, err)

	summaries, err := f.svc.ListConversations(f.ctx, a)
	require.NoError(t, err)
	require.Len(t, summaries, 2)

	assert.Equal(t, direct, summaries[0].ID)
	assert.Equal(t, 1, summaries[0].UnreadCount)
	require.NotNil(t, summaries[0].LastMessage)
	assert.Equal(t, msgID, summaries[0].LastMessage.ID)
	require.Len(t, summaries[0].Participants, 2)
	assert.Equal(t, a, summaries[0].Participants[0].ID)

	assert.Equal(t, group, summaries[1].ID)
	assert.Nil(t, summaries[1].LastMessage)
	assert.Equal(t, 0, summaries[1].UnreadCount)
	assert.Len(t, summaries[1].Participants, 3)

	for _, s := range summaries {
		assert.NotEqual(t, other, s.ID)
	}

	empty, err := f.svc.ListConversations(f.ctx, newID())
	require.NoError(t, err)
	assert.Empty(t, empty)
}
