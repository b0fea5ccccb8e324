package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"relaychat/internal/protocol"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const writeWait = 10 * time.Second

// Caller 发起一次远程调用并把结果解码到 out。
type Caller interface {
	Call(ctx context.Context, method string, params, out any) error
}

type DialOptions struct {
	// Codec 为空时使用 CBOR。
	Codec  protocol.Codec
	Token  string
	Header http.Header
	Logger zerolog.Logger
}

// Conn 是客户端一侧的 websocket 连接：请求按 id 关联响应，事件交给 onEvent。
type Conn struct {
	ws    *websocket.Conn
	codec protocol.Codec
	log   zerolog.Logger

	onEvent func(protocol.Envelope)
	onClose func(error)

	wmu sync.Mutex

	mu      sync.Mutex
	pending map[string]chan protocol.Envelope
	closed  bool
	done    chan struct{}
}

var _ Caller = (*Conn)(nil)

// Dial 连接服务端。onEvent 在读 goroutine 中调用，应尽快返回；
// onClose 在连接断开后调用一次。
func Dial(ctx context.Context, rawURL string, opts DialOptions, onEvent func(protocol.Envelope), onClose func(error)) (*Conn, error) {
	codec := opts.Codec
	if codec == nil {
		codec = protocol.CBOR
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse server url: %w", err)
	}
	if opts.Token != "" {
		q := u.Query()
		q.Set("token", opts.Token)
		u.RawQuery = q.Encode()
	}

	dialer := websocket.Dialer{
		Subprotocols:     []string{codec.Name()},
		HandshakeTimeout: 10 * time.Second,
	}
	ws, resp, err := dialer.DialContext(ctx, u.String(), opts.Header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status %d)", u.Redacted(), err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", u.Redacted(), err)
	}
	if negotiated, ok := protocol.ByName(ws.Subprotocol()); ok {
		codec = negotiated
	}

	c := &Conn{
		ws:      ws,
		codec:   codec,
		log:     opts.Logger,
		onEvent: onEvent,
		onClose: onClose,
		pending: make(map[string]chan protocol.Envelope),
		done:    make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

func (c *Conn) Codec() protocol.Codec { return c.codec }

// Done 在连接断开后关闭。
func (c *Conn) Done() <-chan struct{} { return c.done }

func (c *Conn) readLoop() {
	var err error
	defer func() { c.shutdown(err) }()
	for {
		var data []byte
		if _, data, err = c.ws.ReadMessage(); err != nil {
			return
		}
		env, derr := c.codec.DecodeEnvelope(data)
		if derr != nil {
			c.log.Debug().Err(derr).Msg("dropping malformed frame")
			continue
		}
		switch env.Type {
		case protocol.TypeResponse:
			c.mu.Lock()
			ch, ok := c.pending[env.ID]
			delete(c.pending, env.ID)
			c.mu.Unlock()
			if ok {
				ch <- env
			}
		case protocol.TypeEvent:
			if c.onEvent != nil {
				c.onEvent(env)
			}
		}
	}
}

func (c *Conn) shutdown(cause error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.pending = nil
	close(c.done)
	c.mu.Unlock()

	_ = c.ws.Close()
	if c.onClose != nil {
		c.onClose(cause)
	}
}

// Close 主动关闭连接，等待中的调用返回 ErrConnectionLost。
func (c *Conn) Close() error {
	c.wmu.Lock()
	_ = c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
	c.wmu.Unlock()
	c.shutdown(nil)
	return nil
}

// Call 发送请求并等待对应的响应。
func (c *Conn) Call(ctx context.Context, method string, params, out any) error {
	var payload []byte
	if params != nil {
		var err error
		if payload, err = c.codec.Marshal(params); err != nil {
			return fmt.Errorf("%s: encode params: %w", method, err)
		}
	}
	id := uuid.NewString()
	frame, err := c.codec.EncodeEnvelope(protocol.Envelope{Type: protocol.TypeRequest, ID: id, Name: method, Payload: payload})
	if err != nil {
		return fmt.Errorf("%s: encode request: %w", method, err)
	}

	ch := make(chan protocol.Envelope, 1)
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrConnectionLost
	}
	c.pending[id] = ch
	c.mu.Unlock()
	release := func() {
		c.mu.Lock()
		if c.pending != nil {
			delete(c.pending, id)
		}
		c.mu.Unlock()
	}

	c.wmu.Lock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	err = c.ws.WriteMessage(c.codec.MessageType(), frame)
	c.wmu.Unlock()
	if err != nil {
		release()
		return errors.Join(ErrConnectionLost, err)
	}

	select {
	case res := <-ch:
		if res.Error != nil {
			return &RemoteError{Method: method, Code: res.Error.Code, Message: res.Error.Message}
		}
		if out == nil {
			return nil
		}
		if err := c.codec.Unmarshal(res.Payload, out); err != nil {
			return fmt.Errorf("%s: decode result: %w", method, err)
		}
		return nil
	case <-c.done:
		return ErrConnectionLost
	case <-ctx.Done():
		release()
		return ctx.Err()
	}
}
