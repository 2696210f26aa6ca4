package chat

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpsertUserCreatesOffline(t *testing.T) {
	f := newFixture(t)

	avatar := "https://img.example.com/a.png"
	id, err := f.svc.UpsertUser(f.ctx, "a1", "Ali", "ali@example.com", &avatar)
	require.NoError(t, err)

	u, err := f.svc.GetUser(f.ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "a1", u.IdentityKey)
	assert.Equal(t, "Ali", u.Name)
	assert.False(t, u.IsOnline)
	assert.Equal(t, epoch.UnixMilli(), u.LastSeen)
	assert.Equal(t, epoch.UnixMilli(), u.CreatedAt)
	require.NotNil(t, u.ImageURL)
	assert.Equal(t, avatar, *u.ImageURL)

	assert.Len(t, f.notifier.ofType(EventUserUpdated), 1)
}

func TestUpsertUserIsIdempotentAndKeepsPresence(t *testing.T) {
	f := newFixture(t)

	id, err := f.svc.UpsertUser(f.ctx, "a1", "Ali", "ali@example.com", nil)
	require.NoError(t, err)
	f.tick()
	require.NoError(t, f.svc.SetOnline(f.ctx, "a1", true))
	f.tick()

	again, err := f.svc.UpsertUser(f.ctx, "a1", "Ali Reza", "ali.reza@example.com", nil)
	require.NoError(t, err)
	assert.Equal(t, id, again)

	u, err := f.svc.GetUserByIdentityKey(f.ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, "Ali Reza", u.Name)
	assert.Equal(t, "ali.reza@example.com", u.Email)
	assert.True(t, u.IsOnline)
	assert.Equal(t, epoch.UnixMilli()+1, u.LastSeen)
}

func TestUpsertUserValidation(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.UpsertUser(f.ctx, "  ", "Nobody", "n@example.com", nil)
	assert.ErrorIs(t, err, ErrValidation)

	_, err = f.svc.UpsertUser(f.ctx, "a1", "Ali", "", nil)
	assert.ErrorIs(t, err, ErrValidation)

	f.user(t, "a1", "Ali")
	_, err = f.svc.UpsertUser(f.ctx, "b1", "Bita", "a1@example.com", nil)
	assert.ErrorIs(t, err, ErrValidation)
	assert.Equal(t, "email already in use", MessageOf(err))
}

func TestSetOnline(t *testing.T) {
	f := newFixture(t)
	f.user(t, "a1", "Ali")

	f.clock.Add(5 * time.Second)
	require.NoError(t, f.svc.SetOnline(f.ctx, "a1", true))
	u, err := f.svc.GetUserByIdentityKey(f.ctx, "a1")
	require.NoError(t, err)
	assert.True(t, u.IsOnline)
	assert.Equal(t, f.clock.Now().UnixMilli(), u.LastSeen)

	require.NoError(t, f.svc.SetOnline(f.ctx, "a1", false))
	u, err = f.svc.GetUserByIdentityKey(f.ctx, "a1")
	require.NoError(t, err)
	assert.False(t, u.IsOnline)

	before := len(f.notifier.ofType(EventUserUpdated))
	assert.NoError(t, f.svc.SetOnline(f.ctx, "ghost", true))
	assert.Len(t, f.notifier.ofType(EventUserUpdated), before)
}

func TestGetUserErrors(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.GetUser(f.ctx, "not-a-uuid")
	assert.ErrorIs(t, err, ErrValidation)

	_, err = f.svc.GetUser(f.ctx, newID())
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = f.svc.GetUserByIdentityKey(f.ctx, "ghost")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGetUsersPreservesOrderAndDropsMissing(t *testing.T) {
	f := newFixture(t)
	a := f.user(t, "a1", "Ali")
	b := f.user(t, "b1", "Bita")

	users, err := f.svc.GetUsers(f.ctx, []string{b, newID(), a})
	require.NoError(t, err)
	require.Len(t, users, 2)
	assert.Equal(t, b, users[0].ID)
	assert.Equal(t, a, users[1].ID)
}

func TestListAndSearchUsers(t *testing.T) {
	f := newFixture(t)
	f.user(t, "a1", "Ali")
	f.user(t, "b1", "Bita")
	f.user(t, "c1", "Kamali")

	users, err := f.svc.ListUsersExcept(f.ctx, "a1")
	require.NoError(t, err)
	require.Len(t, users, 2)
	assert.Equal(t, "Bita", users[0].Name)
	assert.Equal(t, "Kamali", users[1].Name)

	tests := []struct {
		query string
		want  []string
	}{
		{"", []string{"Bita", "Kamali"}},
		{"ALI", []string{"Kamali"}},
		{"bi", []string{"Bita"}},
		{"zz", nil},
	}
	for _, tt := range tests {
		t.Run("query "+tt.query, func(t *testing.T) {
			users, err := f.svc.SearchUsers(f.ctx, tt.query, "a1")
			require.NoError(t, err)
			var names []string
			for _, u := range users {
				names = append(names, u.Name)
			}
			assert.Equal(t, tt.want, names)
		})
	}
}

func TestResetPresenceClearsFlagsAfterRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "goftgu.db")

	before := newFixtureAt(t, path)
	a1 := before.user(t, "a1", "Ali")
	b1 := before.user(t, "b1", "Bita")
	before.user(t, "c1", "Kamali")
	require.NoError(t, before.svc.SetOnline(before.ctx, "a1", true))
	require.NoError(t, before.svc.SetOnline(before.ctx, "b1", true))

	// A new process on the same file, with no connections yet.
	after := newFixtureAt(t, path)
	after.clock.Add(time.Minute)

	u, err := after.svc.GetUserByIdentityKey(after.ctx, "a1")
	require.NoError(t, err)
	require.True(t, u.IsOnline, "flag survives the restart until reset")

	n, err := after.svc.ResetPresence(after.ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	for _, key := range []string{"a1", "b1", "c1"} {
		u, err := after.svc.GetUserByIdentityKey(after.ctx, key)
		require.NoError(t, err)
		assert.False(t, u.IsOnline, key)
	}
	u, err = after.svc.GetUser(after.ctx, a1)
	require.NoError(t, err)
	assert.Equal(t, epoch.Add(time.Minute).UnixMilli(), u.LastSeen)

	events := after.notifier.ofType(EventUserUpdated)
	require.Len(t, events, 2)
	assert.ElementsMatch(t, []string{a1, b1}, []string{events[0].UserID, events[1].UserID})
}

func TestResetPresenceKeepsUsersConnectedElsewhere(t *testing.T) {
	f := newFixture(t)
	a1 := f.user(t, "a1", "Ali")
	f.user(t, "b1", "Bita")
	require.NoError(t, f.svc.SetOnline(f.ctx, "a1", true))
	require.NoError(t, f.svc.SetOnline(f.ctx, "b1", true))

	n, err := f.svc.ResetPresence(f.ctx, []string{a1})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	u, err := f.svc.GetUserByIdentityKey(f.ctx, "a1")
	require.NoError(t, err)
	assert.True(t, u.IsOnline)
	u, err = f.svc.GetUserByIdentityKey(f.ctx, "b1")
	require.NoError(t, err)
	assert.False(t, u.IsOnline)

	n, err = f.svc.ResetPresence(f.ctx, []string{a1})
	require.NoError(t, err)
	assert.Zero(t, n, "nothing left to reset")
}
