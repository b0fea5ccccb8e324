package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"relaychat/internal/config"
	"relaychat/internal/mw"
	"relaychat/internal/protocol"
	"relaychat/internal/registry"
	"relaychat/internal/room"
	"relaychat/internal/service"
	"relaychat/internal/store"
	"relaychat/internal/ws"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

type testEnv struct {
	engine *gin.Engine
	svc    *service.Service
}

func setup(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)
	cfg := config.Config{Port: "0", JWTSecret: "secret", Env: "dev", AccessTokenTTLMinutes: 15, StoreDriver: config.DriverMemory}
	st := store.NewMemory()
	reg := registry.New(st, zerolog.Nop())
	svc := service.New(st, reg, service.Options{JWTSecret: cfg.JWTSecret, TokenTTLMinutes: cfg.AccessTokenTTLMinutes}, zerolog.Nop())
	lim := mw.NewLimiter(rate.Inf, 1, time.Minute)
	t.Cleanup(lim.Stop)
	return &testEnv{engine: SetupRouter(cfg, svc, st, ws.NewHub(), lim), svc: svc}
}

func (e *testEnv) do(method, path, token string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.engine.ServeHTTP(w, req)
	return w
}

func (e *testEnv) account(t *testing.T, username string) string {
	t.Helper()
	w := e.do(http.MethodPost, "/api/v1/auth/register", "", protocol.CreateAccountParams{Username: username, Password: "password", FirstName: username, LastName: "Test"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	w = e.do(http.MethodPost, "/api/v1/auth/login", "", protocol.LoginParams{Username: username, Password: "password"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var res struct {
		AccessToken string `json:"access_token"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	return res.AccessToken
}

func TestHealthz(t *testing.T) {
	e := setup(t)
	w := e.do(http.MethodGet, "/healthz", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}

func TestAuthEndpoints(t *testing.T) {
	e := setup(t)
	e.account(t, "alice")

	tests := []struct {
		name string
		path string
		body any
		want int
	}{
		{"duplicate username", "/api/v1/auth/register", protocol.CreateAccountParams{Username: "alice", Password: "password", FirstName: "A", LastName: "L"}, http.StatusConflict},
		{"short password", "/api/v1/auth/register", protocol.CreateAccountParams{Username: "bob", Password: "pw", FirstName: "B", LastName: "L"}, http.StatusBadRequest},
		{"wrong password", "/api/v1/auth/login", protocol.LoginParams{Username: "alice", Password: "nope"}, http.StatusUnauthorized},
		{"missing fields", "/api/v1/auth/login", protocol.LoginParams{}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if w := e.do(http.MethodPost, tt.path, "", tt.body); w.Code != tt.want {
				t.Errorf("POST %s = %d, want %d (%s)", tt.path, w.Code, tt.want, w.Body.String())
			}
		})
	}
}

func TestAuthedRoutesRequireToken(t *testing.T) {
	e := setup(t)
	for _, path := range []string{"/api/v1/rooms", "/api/v1/rooms/mine", "/api/v1/direct", "/api/v1/users/search?q=a"} {
		if w := e.do(http.MethodGet, path, "", nil); w.Code != http.StatusUnauthorized {
			t.Errorf("GET %s without token = %d, want 401", path, w.Code)
		}
	}
}

func TestRoomReads(t *testing.T) {
	e := setup(t)
	aliceToken := e.account(t, "alice")
	bobToken := e.account(t, "bob")
	ctx := context.Background()

	pub, err := e.svc.CreateGroupChat(ctx, protocol.CreateGroupParams{Name: "lobby", Creator: "alice"})
	require.NoError(t, err)
	priv, err := e.svc.CreateGroupChat(ctx, protocol.CreateGroupParams{Name: "secret", Creator: "alice", Private: true})
	require.NoError(t, err)
	_, err = e.svc.SendMessage(ctx, protocol.SendMessageParams{RoomRef: room.GroupRef(pub.ID), Sender: "alice", Content: "welcome"})
	require.NoError(t, err)

	w := e.do(http.MethodGet, "/api/v1/rooms", bobToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list struct {
		Rooms []protocol.RoomDTO `json:"rooms"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Len(t, list.Rooms, 1)
	assert.Equal(t, "lobby", list.Rooms[0].Name)

	w = e.do(http.MethodGet, "/api/v1/rooms/mine", aliceToken, nil)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	assert.Len(t, list.Rooms, 2)

	w = e.do(http.MethodGet, fmt.Sprintf("/api/v1/rooms/%d/messages", pub.ID), bobToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var msgs struct {
		Messages []protocol.MessageDTO `json:"messages"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &msgs))
	require.Len(t, msgs.Messages, 1)
	assert.Equal(t, "welcome", msgs.Messages[0].Content)

	w = e.do(http.MethodGet, fmt.Sprintf("/api/v1/rooms/%d/messages", priv.ID), bobToken, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = e.do(http.MethodGet, fmt.Sprintf("/api/v1/rooms/%d/members", priv.ID), aliceToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var members struct {
		Members []protocol.MemberDTO `json:"members"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &members))
	require.Len(t, members.Members, 1)
	assert.Equal(t, room.RoleCreator, members.Members[0].Role)

	assert.Equal(t, http.StatusNotFound, e.do(http.MethodGet, "/api/v1/rooms/999", aliceToken, nil).Code)
	assert.Equal(t, http.StatusBadRequest, e.do(http.MethodGet, "/api/v1/rooms/abc", aliceToken, nil).Code)
}

func TestDirectReads(t *testing.T) {
	e := setup(t)
	aliceToken := e.account(t, "alice")
	e.account(t, "bob")
	carolToken := e.account(t, "carol")

	d, err := e.svc.CreateDirectChat(context.Background(), "alice", "bob")
	require.NoError(t, err)

	w := e.do(http.MethodGet, "/api/v1/direct", aliceToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var chats struct {
		DirectChats []protocol.DirectChatDTO `json:"direct_chats"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &chats))
	require.Len(t, chats.DirectChats, 1)
	assert.Equal(t, d.ID, chats.DirectChats[0].ID)

	w = e.do(http.MethodGet, fmt.Sprintf("/api/v1/direct/%d/messages", d.ID), carolToken, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = e.do(http.MethodGet, "/api/v1/users/search?q=bo", aliceToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var users struct {
		Users []protocol.UserDTO `json:"users"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &users))
	require.Len(t, users.Users, 1)
	assert.Equal(t, "bob", users.Users[0].Username)
}
