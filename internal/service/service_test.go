package service

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"relaychat/internal/models"
	"relaychat/internal/protocol"
	"relaychat/internal/protocol/prototest"
	"relaychat/internal/registry"
	"relaychat/internal/store"
)

type fixture struct {
	t     *testing.T
	ctx   context.Context
	store *store.Memory
	reg   *registry.Registry
	svc   *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := store.NewMemory()
	reg := registry.New(st, zerolog.Nop())
	svc := New(st, reg, Options{JWTSecret: "test-secret", TokenTTLMinutes: 5}, zerolog.Nop())
	return &fixture{t: t, ctx: context.Background(), store: st, reg: reg, svc: svc}
}

// users 直接写入存储，跳过 bcrypt 以加快测试。
func (f *fixture) users(names ...string) {
	f.t.Helper()
	for _, n := range names {
		require.NoError(f.t, f.store.CreateUser(f.ctx, &models.User{Username: n, FirstName: n, LastName: "Test"}))
	}
}

// online 为用户注册一个记录回调。
func (f *fixture) online(name string) *prototest.Recorder {
	f.t.Helper()
	rec := &prototest.Recorder{}
	require.NoError(f.t, f.svc.RegisterClient(f.ctx, name, rec))
	return rec
}

func (f *fixture) group(creator string, private bool, maxMembers int) protocol.RoomDTO {
	f.t.Helper()
	dto, err := f.svc.CreateGroupChat(f.ctx, protocol.CreateGroupParams{
		Name: "room of " + creator, Creator: creator, Private: private, MaxMembers: maxMembers,
	})
	require.NoError(f.t, err)
	return dto
}

func (f *fixture) role(roomID int64, username string) string {
	f.t.Helper()
	r, err := f.store.RoleOf(f.ctx, roomID, username)
	if err != nil {
		return ""
	}
	return string(r)
}
