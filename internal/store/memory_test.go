package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relaychat/internal/models"
	"relaychat/internal/room"
)

func TestMemory_CreateUser_Conflict(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()

	require.NoError(t, s.CreateUser(ctx, &models.User{Username: "alice"}))
	err := s.CreateUser(ctx, &models.User{Username: "alice"})
	require.ErrorIs(t, err, ErrConflict)

	ok, err := s.UsernameExists(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = s.UserByUsername(ctx, "bob")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemory_DirectChat_CanonicalAndIdempotent(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()

	d1, created, err := s.CreateDirectChat(ctx, "zoe", "adam")
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "adam", d1.User1)
	assert.Equal(t, "zoe", d1.User2)

	d2, created, err := s.CreateDirectChat(ctx, "adam", "zoe")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, d1.ID, d2.ID)

	got, err := s.DirectChat(ctx, "zoe", "adam")
	require.NoError(t, err)
	assert.Equal(t, d1.ID, got.ID)
}

func TestMemory_DirectChat_ArchiveHidesFromList(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()

	d, _, err := s.CreateDirectChat(ctx, "alice", "bob")
	require.NoError(t, err)

	archived := true
	require.NoError(t, s.UpdateDirectChatSettings(ctx, d.ID, "alice", DirectChatSettings{Archived: &archived}))

	list, err := s.UserDirectChats(ctx, "alice")
	require.NoError(t, err)
	assert.Empty(t, list)

	list, err = s.UserDirectChats(ctx, "bob")
	require.NoError(t, err)
	assert.Len(t, list, 1)

	err = s.UpdateDirectChatSettings(ctx, d.ID, "carol", DirectChatSettings{Archived: &archived})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemory_GroupMembers(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()

	g := &models.GroupChat{Name: "go", Creator: "alice"}
	require.NoError(t, s.CreateGroupChat(ctx, g))

	role, err := s.RoleOf(ctx, g.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, room.RoleCreator, role)

	added, err := s.AddMember(ctx, &models.GroupMember{RoomID: g.ID, Username: "bob", Role: room.RoleMember}, 0)
	require.NoError(t, err)
	assert.True(t, added)

	added, err = s.AddMember(ctx, &models.GroupMember{RoomID: g.ID, Username: "bob", Role: room.RoleMember}, 0)
	require.NoError(t, err)
	assert.False(t, added)

	require.NoError(t, s.SetRole(ctx, g.ID, "bob", room.RoleAdmin))
	_, err = s.AddMember(ctx, &models.GroupMember{RoomID: g.ID, Username: "carol", Role: room.RoleMember}, 0)
	require.NoError(t, err)

	members, err := s.Members(ctx, g.ID)
	require.NoError(t, err)
	names := make([]string, 0, len(members))
	for _, m := range members {
		names = append(names, m.Username)
	}
	assert.Equal(t, []string{"alice", "bob", "carol"}, names)

	n, err := s.CountMembers(ctx, g.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	removed, emptied, err := s.RemoveMember(ctx, g.ID, "carol", false)
	require.NoError(t, err)
	assert.True(t, removed)
	assert.False(t, emptied)
	removed, _, err = s.RemoveMember(ctx, g.ID, "carol", false)
	require.NoError(t, err)
	assert.False(t, removed)

	_, err = s.AddMember(ctx, &models.GroupMember{RoomID: 999, Username: "bob"}, 0)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemory_AddMemberLimit(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	g := &models.GroupChat{Name: "small", Creator: "alice", MaxMembers: 2}
	require.NoError(t, s.CreateGroupChat(ctx, g))

	added, err := s.AddMember(ctx, &models.GroupMember{RoomID: g.ID, Username: "bob"}, 2)
	require.NoError(t, err)
	assert.True(t, added)

	_, err = s.AddMember(ctx, &models.GroupMember{RoomID: g.ID, Username: "carol"}, 2)
	assert.ErrorIs(t, err, ErrFull)

	// 已是成员时不受人数限制影响。
	added, err = s.AddMember(ctx, &models.GroupMember{RoomID: g.ID, Username: "bob"}, 2)
	require.NoError(t, err)
	assert.False(t, added)
}

func TestMemory_RemoveMemberSoleAndEmpty(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	g := &models.GroupChat{Name: "go", Creator: "alice"}
	require.NoError(t, s.CreateGroupChat(ctx, g))
	_, err := s.AddMember(ctx, &models.GroupMember{RoomID: g.ID, Username: "bob"}, 0)
	require.NoError(t, err)

	_, _, err = s.RemoveMember(ctx, g.ID, "alice", true)
	assert.ErrorIs(t, err, ErrConflict)

	removed, emptied, err := s.RemoveMember(ctx, g.ID, "bob", false)
	require.NoError(t, err)
	assert.True(t, removed)
	assert.False(t, emptied)

	removed, emptied, err = s.RemoveMember(ctx, g.ID, "alice", true)
	require.NoError(t, err)
	assert.True(t, removed)
	assert.True(t, emptied)

	_, err = s.GroupChat(ctx, g.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.AddMember(ctx, &models.GroupMember{RoomID: g.ID, Username: "carol"}, 0)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemory_PublicGroupChats_HidesPrivate(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()

	require.NoError(t, s.CreateGroupChat(ctx, &models.GroupChat{Name: "open", Creator: "alice"}))
	require.NoError(t, s.CreateGroupChat(ctx, &models.GroupChat{Name: "secret", Creator: "alice", Private: true}))

	public, err := s.PublicGroupChats(ctx)
	require.NoError(t, err)
	require.Len(t, public, 1)
	assert.Equal(t, "open", public[0].Name)

	mine, err := s.UserGroupChats(ctx, "alice")
	require.NoError(t, err)
	assert.Len(t, mine, 2)

	found, err := s.SearchGroupChats(ctx, "SEC", 10)
	require.NoError(t, err)
	assert.Empty(t, found)
}

func TestMemory_MessagesByRef_NewestAscending(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		require.NoError(t, s.SaveMessage(ctx, &models.Message{
			RoomRef: 3, Sender: "alice", Content: string(rune('a' + i)), SentAt: base.Add(time.Duration(i) * time.Second),
		}))
	}
	require.NoError(t, s.SaveMessage(ctx, &models.Message{RoomRef: -3, Sender: "bob", Content: "dm", SentAt: base}))

	got, err := s.MessagesByRef(ctx, 3, 3)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "c", got[0].Content)
	assert.Equal(t, "e", got[2].Content)

	after, err := s.MessagesAfter(ctx, 3, base.Add(2*time.Second))
	require.NoError(t, err)
	assert.Len(t, after, 2)

	direct, err := s.MessagesByRef(ctx, -3, 0)
	require.NoError(t, err)
	require.Len(t, direct, 1)
	assert.Equal(t, "dm", direct[0].Content)
}

func TestMemory_EditAndDeleteMessage(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()

	m := &models.Message{RoomRef: 1, Sender: "alice", Content: "hi"}
	require.NoError(t, s.SaveMessage(ctx, m))

	at := time.Now()
	require.NoError(t, s.EditMessage(ctx, m.ID, "hello", at))
	got, err := s.MessageByID(ctx, m.ID)
	require.NoError(t, err)
	assert.True(t, got.Edited)
	assert.Equal(t, "hello", got.Content)

	require.NoError(t, s.DeleteMessage(ctx, m.ID))
	assert.ErrorIs(t, s.EditMessage(ctx, m.ID, "again", at), ErrNotFound)
}
