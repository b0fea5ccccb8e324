package ws

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"relaychat/internal/auth"
	"relaychat/internal/mw"
	"relaychat/internal/protocol"
	"relaychat/internal/registry"
	"relaychat/internal/room"
	"relaychat/internal/service"
	"relaychat/internal/store"
)

const testSecret = "ws-test-secret"

type testServer struct {
	*httptest.Server
	svc *service.Service
	reg *registry.Registry
	hub *Hub
}

func newTestServer(t *testing.T, limiter *mw.Limiter) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)
	st := store.NewMemory()
	reg := registry.New(st, zerolog.Nop())
	svc := service.New(st, reg, service.Options{JWTSecret: testSecret}, zerolog.Nop())
	hub := NewHub()

	r := gin.New()
	r.GET("/ws", Serve(hub, svc, Options{JWTSecret: testSecret, SendBuffer: 32, Limiter: limiter, Logger: zerolog.Nop()}))
	srv := httptest.NewServer(r)
	t.Cleanup(func() {
		hub.CloseAll()
		srv.Close()
	})
	return &testServer{Server: srv, svc: svc, reg: reg, hub: hub}
}

type testClient struct {
	t         *testing.T
	conn      *websocket.Conn
	codec     protocol.Codec
	seq       int
	events    chan protocol.Envelope
	responses chan protocol.Envelope
	closed    chan error
}

func (s *testServer) wsURL(query string) string {
	return "ws" + strings.TrimPrefix(s.URL, "http") + "/ws" + query
}

func (s *testServer) dial(t *testing.T, codec protocol.Codec, query string) *testClient {
	t.Helper()
	d := websocket.Dialer{Subprotocols: []string{codec.Name()}}
	conn, _, err := d.Dial(s.wsURL(query), nil)
	require.NoError(t, err)
	require.Equal(t, codec.Name(), conn.Subprotocol())

	c := &testClient{
		t:         t,
		conn:      conn,
		codec:     codec,
		events:    make(chan protocol.Envelope, 64),
		responses: make(chan protocol.Envelope, 64),
		closed:    make(chan error, 1),
	}
	go func() {
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				c.closed <- err
				return
			}
			env, err := codec.DecodeEnvelope(data)
			if err != nil {
				continue
			}
			if env.Type == protocol.TypeEvent {
				c.events <- env
			} else {
				c.responses <- env
			}
		}
	}()
	t.Cleanup(func() { _ = conn.Close() })
	return c
}

func (c *testClient) call(method string, params, out any) *protocol.Error {
	c.t.Helper()
	c.seq++
	id := fmt.Sprint(c.seq)
	var payload []byte
	if params != nil {
		var err error
		payload, err = c.codec.Marshal(params)
		require.NoError(c.t, err)
	}
	frame, err := c.codec.EncodeEnvelope(protocol.Envelope{Type: protocol.TypeRequest, ID: id, Name: method, Payload: payload})
	require.NoError(c.t, err)
	require.NoError(c.t, c.conn.WriteMessage(c.codec.MessageType(), frame))

	select {
	case res := <-c.responses:
		require.Equal(c.t, id, res.ID)
		if res.Error != nil {
			return res.Error
		}
		if out != nil {
			require.NoError(c.t, c.codec.Unmarshal(res.Payload, out))
		}
		return nil
	case <-time.After(5 * time.Second):
		c.t.Fatalf("no response to %s", method)
		return nil
	}
}

// event 等待下一个名为 name 的事件，期间收到的其他事件被丢弃。
func (c *testClient) event(name string, out any) {
	c.t.Helper()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case env := <-c.events:
			if env.Name != name {
				continue
			}
			if out != nil {
				require.NoError(c.t, c.codec.Unmarshal(env.Payload, out))
			}
			return
		case <-timeout:
			c.t.Fatalf("no %s event", name)
		}
	}
}

func (c *testClient) signup(username string) {
	c.t.Helper()
	p := protocol.CreateAccountParams{Username: username, Password: "password", FirstName: username, LastName: "Test"}
	require.Nil(c.t, c.call(protocol.MethodCreateAccount, p, nil))
}

func (c *testClient) login(username string) {
	c.t.Helper()
	var res protocol.LoginResult
	require.Nil(c.t, c.call(protocol.MethodLogin, protocol.LoginParams{Username: username, Password: "password"}, &res))
	require.Equal(c.t, username, res.User.Username)
	require.NotEmpty(c.t, res.Token)
	require.Nil(c.t, c.call(protocol.MethodRegisterClient, protocol.UsernameParams{Username: username}, nil))
}

func TestConn_RequiresLogin(t *testing.T) {
	srv := newTestServer(t, nil)
	c := srv.dial(t, protocol.JSON, "")

	var exists protocol.ExistsResult
	require.Nil(t, c.call(protocol.MethodUsernameExists, protocol.UsernameParams{Username: "nobody"}, &exists))
	assert.False(t, exists.Exists)

	err := c.call(protocol.MethodSearchUsers, protocol.SearchParams{Term: "a"}, nil)
	require.NotNil(t, err)
	assert.Equal(t, protocol.CodeUnauthenticated, err.Code)

	err = c.call("noSuchMethod", nil, nil)
	require.NotNil(t, err)
	assert.Equal(t, protocol.CodeInvalidArgument, err.Code)
}

func TestConn_DirectChatEndToEnd(t *testing.T) {
	for _, codec := range []protocol.Codec{protocol.JSON, protocol.CBOR} {
		t.Run(codec.Name(), func(t *testing.T) {
			srv := newTestServer(t, nil)
			a := srv.dial(t, codec, "")
			b := srv.dial(t, codec, "")
			a.signup("alice")
			b.signup("bob")
			a.login("alice")
			b.login("bob")

			var d protocol.DirectChatDTO
			require.Nil(t, a.call(protocol.MethodCreateDirectChat, protocol.PairParams{User1: "alice", User2: "bob"}, &d))
			var seen protocol.DirectChatDTO
			b.event(protocol.EventDirectChatCreated, &seen)
			assert.Equal(t, d.ID, seen.ID)

			var sent protocol.MessageDTO
			require.Nil(t, a.call(protocol.MethodSendMessage, protocol.SendMessageParams{RoomRef: d.Ref(), Sender: "alice", Content: "hi"}, &sent))
			for _, c := range []*testClient{a, b} {
				var got protocol.MessageDTO
				c.event(protocol.EventMessageReceived, &got)
				assert.Equal(t, "hi", got.Content)
				assert.Equal(t, room.Ref(-d.ID), got.RoomRef)
			}

			var history []protocol.MessageDTO
			require.Nil(t, b.call(protocol.MethodGetDirectChatMessages, protocol.HistoryParams{Username: "bob", ID: d.ID}, &history))
			require.Len(t, history, 1)
			assert.Equal(t, sent.ID, history[0].ID)
		})
	}
}

func TestConn_ActorMustBeSessionUser(t *testing.T) {
	srv := newTestServer(t, nil)
	a := srv.dial(t, protocol.JSON, "")
	a.signup("alice")
	a.signup("bob")
	a.login("alice")

	err := a.call(protocol.MethodCreateGroupChat, protocol.CreateGroupParams{Name: "g", Creator: "bob"}, nil)
	require.NotNil(t, err)
	assert.Equal(t, protocol.CodeForbidden, err.Code)

	err = a.call(protocol.MethodGetDirectChat, protocol.PairParams{User1: "bob", User2: "carol"}, nil)
	require.NotNil(t, err)
	assert.Equal(t, protocol.CodeForbidden, err.Code)
}

func TestConn_ServiceErrorsMapped(t *testing.T) {
	srv := newTestServer(t, nil)
	c := srv.dial(t, protocol.CBOR, "")
	c.signup("alice")

	err := c.call(protocol.MethodCreateAccount, protocol.CreateAccountParams{Username: "alice", Password: "password", FirstName: "a", LastName: "b"}, nil)
	require.NotNil(t, err)
	assert.Equal(t, protocol.CodeConflict, err.Code)

	err = c.call(protocol.MethodLogin, protocol.LoginParams{Username: "alice", Password: "nope"}, nil)
	require.NotNil(t, err)
	assert.Equal(t, protocol.CodeUnauthenticated, err.Code)

	c.login("alice")
	err = c.call(protocol.MethodJoinGroupChat, protocol.MembershipParams{Username: "alice", RoomID: 42}, nil)
	require.NotNil(t, err)
	assert.Equal(t, protocol.CodeNotFound, err.Code)
}

func TestConn_CloseReleasesRegistration(t *testing.T) {
	srv := newTestServer(t, nil)
	c := srv.dial(t, protocol.JSON, "")
	c.signup("alice")
	c.login("alice")

	_, ok := srv.reg.Lookup("alice")
	require.True(t, ok)
	assert.Equal(t, 1, srv.hub.Online())

	require.NoError(t, c.conn.Close())
	assert.Eventually(t, func() bool {
		_, ok := srv.reg.Lookup("alice")
		return !ok && srv.hub.Online() == 0
	}, 5*time.Second, 10*time.Millisecond)
}

func TestConn_ReplacedSessionReceivesDisconnected(t *testing.T) {
	srv := newTestServer(t, nil)
	first := srv.dial(t, protocol.JSON, "")
	first.signup("alice")
	first.login("alice")

	second := srv.dial(t, protocol.JSON, "")
	second.login("alice")

	var ev protocol.DisconnectedEvent
	first.event(protocol.EventDisconnected, &ev)
	assert.Equal(t, "session replaced", ev.Reason)

	// 旧连接关闭时不能移除新连接的登记。
	require.NoError(t, first.conn.Close())
	time.Sleep(50 * time.Millisecond)
	_, ok := srv.reg.Lookup("alice")
	assert.True(t, ok)
}

func TestHub_CloseAllFlushesShutdownNotice(t *testing.T) {
	srv := newTestServer(t, nil)
	clients := []*testClient{srv.dial(t, protocol.JSON, ""), srv.dial(t, protocol.CBOR, "")}
	for i, c := range clients {
		name := fmt.Sprintf("user%d", i)
		c.signup(name)
		c.login(name)
	}

	srv.svc.Shutdown(context.Background())
	assert.Equal(t, 2, srv.hub.CloseAll())

	for _, c := range clients {
		var ev protocol.DisconnectedEvent
		c.event(protocol.EventDisconnected, &ev)
		assert.Equal(t, "server shutting down", ev.Reason)
		select {
		case err := <-c.closed:
			assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "close error = %v", err)
		case <-time.After(5 * time.Second):
			t.Fatal("connection not closed")
		}
	}
	assert.Equal(t, 0, srv.hub.Online())
}

func TestConn_LogoutFromReplacedSessionKeepsNewOne(t *testing.T) {
	srv := newTestServer(t, nil)
	first := srv.dial(t, protocol.JSON, "")
	first.signup("alice")
	first.signup("bob")
	first.login("alice")
	second := srv.dial(t, protocol.JSON, "")
	second.login("alice")
	first.event(protocol.EventDisconnected, nil)

	require.Nil(t, first.call(protocol.MethodLogout, protocol.UsernameParams{Username: "alice"}, nil))
	_, ok := srv.reg.Lookup("alice")
	require.True(t, ok)

	b := srv.dial(t, protocol.JSON, "")
	b.login("bob")
	require.Nil(t, b.call(protocol.MethodCreateDirectChat, protocol.PairParams{User1: "bob", User2: "alice"}, nil))
	second.event(protocol.EventDirectChatCreated, nil)
}

func TestServe_TokenPreauth(t *testing.T) {
	srv := newTestServer(t, nil)
	u, err := srv.svc.CreateAccount(context.Background(), protocol.CreateAccountParams{Username: "alice", Password: "password", FirstName: "A", LastName: "L"})
	require.NoError(t, err)
	token, err := auth.GenerateAccessToken(u.ID, u.Username, testSecret, 5)
	require.NoError(t, err)

	c := srv.dial(t, protocol.JSON, "?token="+token)
	var users []protocol.UserDTO
	require.Nil(t, c.call(protocol.MethodSearchUsers, protocol.SearchParams{Term: "ali"}, &users))
	assert.Len(t, users, 1)

	_, resp, err := websocket.DefaultDialer.Dial(srv.wsURL("?token=garbage"), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestConn_RateLimited(t *testing.T) {
	lim := mw.NewLimiter(rate.Every(time.Hour), 1, time.Minute)
	defer lim.Stop()
	srv := newTestServer(t, lim)
	c := srv.dial(t, protocol.JSON, "")

	require.Nil(t, c.call(protocol.MethodUsernameExists, protocol.UsernameParams{Username: "x"}, nil))
	err := c.call(protocol.MethodUsernameExists, protocol.UsernameParams{Username: "x"}, nil)
	require.NotNil(t, err)
	assert.Equal(t, protocol.CodeRateLimited, err.Code)
}

func TestWireError(t *testing.T) {
	tests := []struct {
		err  error
		want protocol.ErrorCode
	}{
		{fmt.Errorf("%w: nope", service.ErrForbidden), protocol.CodeForbidden},
		{service.ErrNotMember, protocol.CodeForbidden},
		{service.ErrRoomNotFound, protocol.CodeNotFound},
		{service.ErrUsernameTaken, protocol.CodeConflict},
		{fmt.Errorf("%w: bad", service.ErrInvalidArgument), protocol.CodeInvalidArgument},
		{errUnauthenticated, protocol.CodeUnauthenticated},
		{errors.New("pq: connection refused"), protocol.CodeInternal},
	}
	for _, tt := range tests {
		if got := wireError(tt.err); got.Code != tt.want {
			t.Errorf("wireError(%v) = %v, want %v", tt.err, got.Code, tt.want)
		}
	}
	if got := wireError(errors.New("secret detail")); got.Message != "internal error" {
		t.Errorf("wireError() message = %q, want generic message", got.Message)
	}
}
