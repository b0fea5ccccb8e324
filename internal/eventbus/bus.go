// Package eventbus 是客户端进程内的单 worker 异步事件分发器。
//
// Publish 只负责入队，唯一的 worker 按发布顺序依次开始分发，
// 因此任意两个事件的处理开始顺序与发布顺序一致。同一类型的多个
// handler 按订阅顺序调用；handler 返回的错误或 panic 只记录日志，
// 不影响后续 handler 与后续事件。Shutdown 之后不再接受新事件，
// 队列中尚未开始分发的事件会被丢弃。
package eventbus

import (
	"errors"
	"fmt"
	"reflect"
	"sync"

	"github.com/rs/zerolog"
)

var ErrClosed = errors.New("eventbus: closed")

type handler struct {
	id uint64
	fn func(event any) error
}

type Bus struct {
	log zerolog.Logger

	qmu    sync.Mutex
	cond   *sync.Cond
	queue  []any
	closed bool
	done   chan struct{}

	hmu      sync.RWMutex
	handlers map[reflect.Type][]*handler
	nextID   uint64
}

// New 创建总线并启动 worker。
func New(logger zerolog.Logger) *Bus {
	b := &Bus{
		log:      logger.With().Str("component", "eventbus").Logger(),
		done:     make(chan struct{}),
		handlers: make(map[reflect.Type][]*handler),
	}
	b.cond = sync.NewCond(&b.qmu)
	go b.run()
	return b
}

// Subscription 是一次订阅的句柄。
type Subscription struct {
	bus  *Bus
	typ  reflect.Type
	id   uint64
	once sync.Once
}

// Unsubscribe 移除该订阅，可重复调用。已经开始分发的事件仍可能调用到该 handler。
func (s *Subscription) Unsubscribe() {
	s.once.Do(func() {
		b := s.bus
		b.hmu.Lock()
		defer b.hmu.Unlock()
		list := b.handlers[s.typ]
		for i, h := range list {
			if h.id == s.id {
				list = append(list[:i:i], list[i+1:]...)
				break
			}
		}
		if len(list) == 0 {
			delete(b.handlers, s.typ)
		} else {
			b.handlers[s.typ] = list
		}
	})
}

func typeOf[T any]() reflect.Type {
	return reflect.TypeOf((*T)(nil)).Elem()
}

// Subscribe 为事件类型 T 注册 handler。T 按具体类型匹配，不做接口匹配。
func Subscribe[T any](b *Bus, fn func(event T) error) *Subscription {
	typ := typeOf[T]()
	b.hmu.Lock()
	defer b.hmu.Unlock()
	b.nextID++
	h := &handler{id: b.nextID, fn: func(event any) error { return fn(event.(T)) }}
	b.handlers[typ] = append(b.handlers[typ], h)
	return &Subscription{bus: b, typ: typ, id: h.id}
}

// ListenerCount 返回事件类型 T 当前的 handler 数量。
func ListenerCount[T any](b *Bus) int {
	b.hmu.RLock()
	defer b.hmu.RUnlock()
	return len(b.handlers[typeOf[T]()])
}

// Clear 移除所有订阅。
func (b *Bus) Clear() {
	b.hmu.Lock()
	b.handlers = make(map[reflect.Type][]*handler)
	b.hmu.Unlock()
}

// Publish 把事件放入队列后立即返回。
func (b *Bus) Publish(event any) error {
	if event == nil {
		return errors.New("eventbus: nil event")
	}
	b.qmu.Lock()
	defer b.qmu.Unlock()
	if b.closed {
		return ErrClosed
	}
	b.queue = append(b.queue, event)
	b.cond.Signal()
	return nil
}

// Shutdown 停止接收新事件并让 worker 在当前事件处理完后退出，可重复调用。
func (b *Bus) Shutdown() {
	b.qmu.Lock()
	b.closed = true
	b.cond.Broadcast()
	b.qmu.Unlock()
}

// Done 在 worker 退出后关闭。
func (b *Bus) Done() <-chan struct{} { return b.done }

func (b *Bus) run() {
	defer close(b.done)
	for {
		b.qmu.Lock()
		for len(b.queue) == 0 && !b.closed {
			b.cond.Wait()
		}
		if b.closed {
			dropped := len(b.queue)
			b.queue = nil
			b.qmu.Unlock()
			if dropped > 0 {
				b.log.Debug().Int("dropped", dropped).Msg("shutdown with pending events")
			}
			return
		}
		event := b.queue[0]
		b.queue[0] = nil
		b.queue = b.queue[1:]
		b.qmu.Unlock()

		b.dispatch(event)
	}
}

func (b *Bus) dispatch(event any) {
	typ := reflect.TypeOf(event)
	b.hmu.RLock()
	list := append([]*handler(nil), b.handlers[typ]...)
	b.hmu.RUnlock()

	for _, h := range list {
		if err := b.call(h, event); err != nil {
			b.log.Warn().Err(err).Str("event", typ.String()).Msg("handler failed")
		}
	}
}

func (b *Bus) call(h *handler, event any) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic: %v", rec)
		}
	}()
	return h.fn(event)
}
