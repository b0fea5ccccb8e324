package registry

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relaychat/internal/models"
	"relaychat/internal/protocol"
	"relaychat/internal/protocol/prototest"
)

type staticMembers map[int64][]string

func (s staticMembers) Members(_ context.Context, roomID int64) ([]models.GroupMember, error) {
	names, ok := s[roomID]
	if !ok {
		return nil, errors.New("no such room")
	}
	out := make([]models.GroupMember, 0, len(names))
	for _, n := range names {
		out = append(out, models.GroupMember{RoomID: roomID, Username: n})
	}
	return out, nil
}

func newTestRegistry(members staticMembers) *Registry {
	return New(members, zerolog.Nop())
}

func TestRegister_LastWins(t *testing.T) {
	r := newTestRegistry(nil)
	first, second := &prototest.Recorder{}, &prototest.Recorder{}

	if prev := r.Register("alice", first); prev != nil {
		t.Fatalf("Register() prev = %v, want nil", prev)
	}
	prev := r.Register("alice", second)
	if prev != first {
		t.Fatalf("Register() prev = %v, want first handle", prev)
	}

	r.Notify(context.Background(), "alice", Disconnected("x"))
	if first.Count(protocol.EventDisconnected) != 0 || second.Count(protocol.EventDisconnected) != 1 {
		t.Errorf("notification reached replaced handle")
	}
	if r.Len() != 1 {
		t.Errorf("Len() = %d, want 1", r.Len())
	}
}

func TestUnregister_Absent(t *testing.T) {
	r := newTestRegistry(nil)
	if r.Unregister("ghost") {
		t.Error("Unregister(ghost) = true, want false")
	}
}

func TestUnregisterIf_OnlySameHandle(t *testing.T) {
	r := newTestRegistry(nil)
	old, cur := &prototest.Recorder{}, &prototest.Recorder{}
	r.Register("alice", old)
	r.Register("alice", cur)

	assert.False(t, r.UnregisterIf("alice", old))
	_, ok := r.Lookup("alice")
	assert.True(t, ok)
	assert.True(t, r.UnregisterIf("alice", cur))
	_, ok = r.Lookup("alice")
	assert.False(t, ok)
}

func TestUnregisterIf_UncomparableHandle(t *testing.T) {
	r := newTestRegistry(nil)
	emit := protocol.Emitter(func(context.Context, string, any) error { return nil })
	r.Register("alice", emit)

	assert.NotPanics(t, func() { r.UnregisterIf("alice", emit) })
}

func TestBroadcastToRoom_FailureIsolation(t *testing.T) {
	members := staticMembers{1: {"a", "b", "c", "d"}}
	r := newTestRegistry(members)

	recs := map[string]*prototest.Recorder{
		"a": {},
		"b": {Fail: errors.New("unreachable")},
		"c": {Panic: true},
		"d": {},
	}
	for name, rec := range recs {
		r.Register(name, rec)
	}

	n, err := r.BroadcastToRoom(context.Background(), 1, MessageReceived(protocol.MessageDTO{ID: 1, RoomRef: 1}))
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 1, recs["a"].Count(protocol.EventMessageReceived))
	assert.Equal(t, 1, recs["d"].Count(protocol.EventMessageReceived))

	for _, name := range []string{"b", "c"} {
		_, ok := r.Lookup(name)
		assert.False(t, ok, "%s should be evicted", name)
	}
	assert.Equal(t, 2, r.Len())
}

func TestBroadcastToRoom_Excluding(t *testing.T) {
	r := newTestRegistry(staticMembers{7: {"a", "b"}})
	a, b := &prototest.Recorder{}, &prototest.Recorder{}
	r.Register("a", a)
	r.Register("b", b)

	n, err := r.BroadcastToRoom(context.Background(), 7, UserJoinedGroup(7, "b", "a"), "b")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 0, b.Count(protocol.EventUserJoinedGroup))
}

func TestBroadcastToRoom_UnknownRoom(t *testing.T) {
	r := newTestRegistry(staticMembers{})
	_, err := r.BroadcastToRoom(context.Background(), 9, Disconnected("x"))
	assert.Error(t, err)
}

func TestBroadcastToPair(t *testing.T) {
	r := newTestRegistry(nil)
	a, b := &prototest.Recorder{}, &prototest.Recorder{}
	r.Register("a", a)
	r.Register("b", b)

	n := r.BroadcastToPair(context.Background(), "a", "b", MessageDeleted(3, -2))
	assert.Equal(t, 2, n)

	// 未注册的一方不影响另一方。
	r.Unregister("b")
	n = r.BroadcastToPair(context.Background(), "a", "b", MessageDeleted(4, -2))
	assert.Equal(t, 1, n)
}

func TestConcurrentRegisterNotify(t *testing.T) {
	r := newTestRegistry(nil)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(3)
		go func() { defer wg.Done(); r.Register("u", &prototest.Recorder{}) }()
		go func() { defer wg.Done(); r.Notify(context.Background(), "u", Disconnected("x")) }()
		go func() { defer wg.Done(); r.Unregister("u") }()
	}
	wg.Wait()
}
