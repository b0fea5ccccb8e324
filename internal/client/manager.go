package client

import (
	"context"
	"sync"
	"time"

	"relaychat/internal/eventbus"
	"relaychat/internal/protocol"

	"github.com/rs/zerolog"
)

const defaultCallTimeout = 15 * time.Second

// Manager 负责与服务端的连接：持有会话状态机与事件总线，把推送转发到总线。
type Manager struct {
	url     string
	opts    DialOptions
	session *Session
	bus     *eventbus.Bus
	log     zerolog.Logger
	bridge  *bridge

	mu   sync.Mutex
	conn *Conn
}

var _ Caller = (*Manager)(nil)

func NewManager(serverURL string, opts DialOptions, bus *eventbus.Bus) *Manager {
	m := &Manager{
		url:  serverURL,
		opts: opts,
		bus:  bus,
		log:  opts.Logger.With().Str("component", "client").Logger(),
	}
	m.session = NewSession(func(from, to State) {
		m.log.Info().Stringer("from", from).Stringer("to", to).Msg("session state changed")
		_ = bus.Publish(StateChanged{From: from, To: to})
	})
	m.bridge = &bridge{bus: bus, disconnected: m.serverDisconnected}
	return m
}

func (m *Manager) Session() *Session         { return m.session }
func (m *Manager) Bus() *eventbus.Bus        { return m.bus }
func (m *Manager) Events() protocol.Callback { return m.bridge }

func (m *Manager) current() *Conn {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.conn
}

// Connect 建立连接并进入 Connected；已连接时不做任何事。
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.conn != nil {
		return nil
	}

	// 回调在读 goroutine 中运行，等 conn 赋值后才使用它。
	var conn *Conn
	ready := make(chan struct{})
	onEvent := func(env protocol.Envelope) {
		<-ready
		if err := protocol.Dispatch(context.Background(), conn.Codec(), env, m.bridge); err != nil {
			m.log.Warn().Err(err).Str("event", env.Name).Msg("dropping event")
		}
	}
	onClose := func(err error) {
		<-ready
		m.connectionClosed(conn, err)
	}

	c, err := Dial(ctx, m.url, m.opts, onEvent, onClose)
	if err != nil {
		return err
	}
	conn = c
	close(ready)
	m.conn = c
	m.session.Connect()
	m.log.Info().Str("url", m.url).Str("codec", c.Codec().Name()).Msg("connected")
	return nil
}

// Disconnect 主动断开，不发布 ConnectionLost。
func (m *Manager) Disconnect() {
	m.mu.Lock()
	conn := m.conn
	m.conn = nil
	m.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
	m.session.Disconnect()
}

// serverDisconnected 处理服务端推送的 disconnected。
func (m *Manager) serverDisconnected(reason string) {
	m.log.Warn().Str("reason", reason).Msg("disconnected by server")
	m.lose(m.current(), reason)
}

// connectionClosed 处理连接意外断开；主动断开或已处理过的连接会被忽略。
func (m *Manager) connectionClosed(conn *Conn, err error) {
	reason := "connection closed"
	if err != nil {
		reason = err.Error()
	}
	m.lose(conn, reason)
}

func (m *Manager) lose(conn *Conn, reason string) {
	m.mu.Lock()
	if conn == nil || m.conn != conn {
		m.mu.Unlock()
		return
	}
	m.conn = nil
	m.mu.Unlock()

	m.session.Disconnect()
	_ = m.bus.Publish(ConnectionLost{Reason: reason})
	go conn.Close()
}

// Call 通过当前连接发起调用；未连接时返回 ErrConnectionLost。
func (m *Manager) Call(ctx context.Context, method string, params, out any) error {
	conn := m.current()
	if conn == nil {
		return ErrConnectionLost
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, defaultCallTimeout)
		defer cancel()
	}
	return conn.Call(ctx, method, params, out)
}

// Login 登录并把本连接登记为推送句柄。未连接时本地失败，不发起调用。
func (m *Manager) Login(ctx context.Context, username, password string) (protocol.UserDTO, error) {
	if err := m.session.RequireConnected("login"); err != nil {
		return protocol.UserDTO{}, err
	}
	var res protocol.LoginResult
	if err := m.Call(ctx, protocol.MethodLogin, protocol.LoginParams{Username: username, Password: password}, &res); err != nil {
		return protocol.UserDTO{}, err
	}
	if err := m.session.Login(res.User); err != nil {
		return protocol.UserDTO{}, err
	}
	if err := m.Call(ctx, protocol.MethodRegisterClient, protocol.UsernameParams{Username: res.User.Username}, nil); err != nil {
		m.session.Logout()
		return protocol.UserDTO{}, err
	}
	_ = m.bus.Publish(LoginSucceeded{User: res.User})
	return res.User, nil
}

// Logout 未登录时为空操作。服务端调用失败时本地仍然登出。
func (m *Manager) Logout(ctx context.Context) error {
	username, err := m.session.RequireAuthenticated("logout")
	if err != nil {
		return nil
	}
	m.session.Logout()
	_ = m.bus.Publish(LoggedOut{Username: username})
	return m.Call(ctx, protocol.MethodLogout, protocol.UsernameParams{Username: username}, nil)
}

func (m *Manager) CreateAccount(ctx context.Context, p protocol.CreateAccountParams) (protocol.UserDTO, error) {
	if err := m.session.RequireConnected("create account"); err != nil {
		return protocol.UserDTO{}, err
	}
	var u protocol.UserDTO
	err := m.Call(ctx, protocol.MethodCreateAccount, p, &u)
	return u, err
}

func (m *Manager) UsernameExists(ctx context.Context, username string) (bool, error) {
	if err := m.session.RequireConnected("check username"); err != nil {
		return false, err
	}
	var res protocol.ExistsResult
	err := m.Call(ctx, protocol.MethodUsernameExists, protocol.UsernameParams{Username: username}, &res)
	return res.Exists, err
}

// Close 断开连接并停止事件总线。
func (m *Manager) Close() {
	m.Disconnect()
	m.bus.Shutdown()
}
