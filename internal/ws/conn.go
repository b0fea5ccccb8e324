package ws

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"relaychat/internal/auth"
	"relaychat/internal/metrics"
	"relaychat/internal/mw"
	"relaychat/internal/protocol"
	"relaychat/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
	drainWait  = 5 * time.Second
	maxFrame   = 1 << 20 // 1MB

	defaultSendBuffer = 256
)

var (
	ErrSendQueueFull = errors.New("ws: send queue full")
	ErrConnClosed    = errors.New("ws: connection closed")
)

type Options struct {
	JWTSecret  string
	SendBuffer int
	// Limiter 为 nil 时不限速。
	Limiter     *mw.Limiter
	CheckOrigin func(r *http.Request) bool
	Logger      zerolog.Logger
}

// Conn 是一条客户端连接：既是 RPC 请求的入口，也是注册到目录中的推送句柄。
type Conn struct {
	protocol.Emitter

	id    string
	ws    *websocket.Conn
	codec protocol.Codec
	svc   *service.Service
	hub   *Hub
	opts  Options
	log   zerolog.Logger

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
	draining  chan struct{}
	drainOnce sync.Once

	mu   sync.RWMutex
	user string
}

var _ protocol.Callback = (*Conn)(nil)

// Serve 升级 /ws 请求。可选的 ?token= 或 Bearer 头携带 JWT 时，连接直接以该用户身份开始。
func Serve(hub *Hub, svc *service.Service, opts Options) gin.HandlerFunc {
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = defaultSendBuffer
	}
	upgrader := websocket.Upgrader{
		Subprotocols: protocol.Subprotocols(),
		CheckOrigin:  opts.CheckOrigin,
	}
	if upgrader.CheckOrigin == nil {
		upgrader.CheckOrigin = func(r *http.Request) bool { return true }
	}

	return func(c *gin.Context) {
		var username string
		token := c.Query("token")
		if token == "" {
			token, _ = auth.BearerToken(c.GetHeader("Authorization"))
		}
		if token != "" {
			claims, err := auth.ParseAccessToken(token, opts.JWTSecret)
			if err != nil {
				c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
				return
			}
			exists, err := svc.UsernameExists(c.Request.Context(), claims.Username)
			if err != nil || !exists {
				c.JSON(http.StatusUnauthorized, gin.H{"error": "user not found"})
				return
			}
			username = claims.Username
		}

		wsConn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			opts.Logger.Debug().Err(err).Msg("ws upgrade failed")
			return
		}
		codec, ok := protocol.ByName(wsConn.Subprotocol())
		if !ok {
			codec = protocol.JSON
		}

		conn := newConn(wsConn, codec, svc, hub, opts)
		conn.user = username
		hub.add(conn)
		conn.log.Info().Str("codec", codec.Name()).Str("username", username).Msg("ws connected")

		go conn.writePump()
		conn.readPump()
	}
}

func newConn(wsConn *websocket.Conn, codec protocol.Codec, svc *service.Service, hub *Hub, opts Options) *Conn {
	c := &Conn{
		id:    uuid.NewString(),
		ws:    wsConn,
		codec: codec,
		svc:   svc,
		hub:   hub,
		opts:  opts,
		send:     make(chan []byte, opts.SendBuffer),
		done:     make(chan struct{}),
		draining: make(chan struct{}),
	}
	c.log = opts.Logger.With().Str("session", c.id).Logger()
	c.Emitter = c.push
	return c
}

// ID 返回连接的会话 id。
func (c *Conn) ID() string { return c.id }

// Username 返回当前连接已认证的用户名，未认证时为空。
func (c *Conn) Username() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.user
}

func (c *Conn) setUser(username string) {
	c.mu.Lock()
	c.user = username
	c.mu.Unlock()
}

// push 把事件编码后放入发送队列；队列满或连接已关闭都视为推送失败，队列满时关闭连接。
func (c *Conn) push(_ context.Context, event string, payload any) error {
	data, err := c.codec.Marshal(payload)
	if err != nil {
		return err
	}
	frame, err := c.codec.EncodeEnvelope(protocol.Envelope{Type: protocol.TypeEvent, Name: event, Payload: data})
	if err != nil {
		return err
	}
	return c.enqueue(frame)
}

func (c *Conn) enqueue(frame []byte) error {
	select {
	case <-c.done:
		return ErrConnClosed
	default:
	}
	select {
	case c.send <- frame:
		return nil
	case <-c.done:
		return ErrConnClosed
	default:
		c.log.Warn().Msg("send queue full, closing connection")
		go c.Close()
		return ErrSendQueueFull
	}
}

// Close 关闭连接并释放仍属于本连接的推送句柄，可重复调用。
func (c *Conn) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.ws.Close()
		if u := c.Username(); u != "" {
			c.svc.ReleaseClient(u, c)
		}
		if c.hub != nil {
			c.hub.remove(c)
		}
		if c.opts.Limiter != nil {
			c.opts.Limiter.Forget(c.id)
		}
		c.log.Info().Msg("ws closed")
	})
}

// Drain 让 writePump 写完队列中的帧并发送关闭帧后再关闭连接；
// timeout 内未完成时强制关闭。返回时连接已关闭。
func (c *Conn) Drain(timeout time.Duration) {
	c.drainOnce.Do(func() { close(c.draining) })
	select {
	case <-c.done:
	case <-time.After(timeout):
	}
	c.Close()
}

func (c *Conn) readPump() {
	defer c.Close()
	c.ws.SetReadLimit(maxFrame)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Debug().Err(err).Msg("ws read")
			}
			return
		}
		env, err := c.codec.DecodeEnvelope(data)
		if err != nil || env.Type != protocol.TypeRequest {
			c.log.Debug().Err(err).Msg("dropping malformed frame")
			continue
		}
		c.serve(context.Background(), env)
	}
}

func (c *Conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()
	for {
		select {
		case <-c.done:
			return
		case <-c.draining:
			c.flush()
			return
		case frame := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(c.codec.MessageType(), frame); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// flush 写出发送队列中剩余的帧，然后发送 going away 关闭帧。
func (c *Conn) flush() {
	deadline := time.Now().Add(writeWait)
	_ = c.ws.SetWriteDeadline(deadline)
	for {
		select {
		case frame := <-c.send:
			if err := c.ws.WriteMessage(c.codec.MessageType(), frame); err != nil {
				return
			}
		default:
			msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down")
			_ = c.ws.WriteControl(websocket.CloseMessage, msg, deadline)
			return
		}
	}
}

// serve 处理一条请求并回写响应；同一连接上的请求按到达顺序处理。
func (c *Conn) serve(ctx context.Context, env protocol.Envelope) {
	start := time.Now()
	res := protocol.Envelope{Type: protocol.TypeResponse, ID: env.ID, Name: env.Name}

	result, err := c.invoke(ctx, env)
	if err == nil && result != nil {
		res.Payload, err = c.codec.Marshal(result)
	}
	code := "ok"
	if err != nil {
		res.Payload = nil
		res.Error = wireError(err)
		code = string(res.Error.Code)
		if res.Error.Code == protocol.CodeInternal {
			c.log.Error().Err(err).Str("method", env.Name).Msg("rpc failed")
		}
	}
	metrics.ObserveRPC(env.Name, code, start)

	frame, err := c.codec.EncodeEnvelope(res)
	if err != nil {
		c.log.Error().Err(err).Str("method", env.Name).Msg("encode response")
		return
	}
	if err := c.enqueue(frame); err != nil {
		c.log.Debug().Err(err).Str("method", env.Name).Msg("response dropped")
	}
}

func (c *Conn) invoke(ctx context.Context, env protocol.Envelope) (any, error) {
	m, ok := methods[env.Name]
	if !ok {
		return nil, &protocol.Error{Code: protocol.CodeInvalidArgument, Message: "unknown method " + env.Name}
	}
	if c.opts.Limiter != nil && !c.opts.Limiter.Allow(c.id) {
		return nil, &protocol.Error{Code: protocol.CodeRateLimited, Message: "too many requests"}
	}
	if !m.public && c.Username() == "" {
		return nil, errUnauthenticated
	}
	return m.fn(ctx, c, env.Payload)
}

// actor 校验请求中声明的操作者就是本连接的用户。
func (c *Conn) actor(name string) error {
	if name == "" || name != c.Username() {
		return errActorMismatch
	}
	return nil
}
