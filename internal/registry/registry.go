// Package registry 维护用户名到在线回调句柄的目录，并负责通知扇出。
package registry

import (
	"context"
	"fmt"
	"reflect"
	"slices"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"relaychat/internal/metrics"
	"relaychat/internal/models"
	"relaychat/internal/protocol"
)

// MemberLister 提供群聊当前成员，用于按房间扇出。
type MemberLister interface {
	Members(ctx context.Context, roomID int64) ([]models.GroupMember, error)
}

type entry struct {
	cb protocol.Callback
}

// Registry 中每个用户名至多一个在线句柄，后注册者覆盖先注册者。
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
	members MemberLister
	log     zerolog.Logger
}

func New(members MemberLister, logger zerolog.Logger) *Registry {
	return &Registry{
		entries: make(map[string]*entry),
		members: members,
		log:     logger.With().Str("component", "registry").Logger(),
	}
}

// Register 登记 username 的回调并返回被替换的旧句柄（没有则为 nil）。
func (r *Registry) Register(username string, cb protocol.Callback) protocol.Callback {
	r.mu.Lock()
	prev := r.entries[username]
	r.entries[username] = &entry{cb: cb}
	n := len(r.entries)
	r.mu.Unlock()

	metrics.RegisteredClients.Set(float64(n))
	r.log.Info().Str("username", username).Bool("replaced", prev != nil).Msg("client registered")
	if prev == nil {
		return nil
	}
	return prev.cb
}

// Unregister 移除 username 的句柄；不存在时什么也不做。
func (r *Registry) Unregister(username string) bool {
	r.mu.Lock()
	_, ok := r.entries[username]
	delete(r.entries, username)
	n := len(r.entries)
	r.mu.Unlock()

	if ok {
		metrics.RegisteredClients.Set(float64(n))
		r.log.Info().Str("username", username).Msg("client unregistered")
	}
	return ok
}

// UnregisterIf 仅当 username 当前登记的仍是 cb 时才移除，避免旧连接关闭时误删新会话。
func (r *Registry) UnregisterIf(username string, cb protocol.Callback) bool {
	r.mu.Lock()
	e, ok := r.entries[username]
	ok = ok && SameHandle(e.cb, cb)
	if ok {
		delete(r.entries, username)
	}
	n := len(r.entries)
	r.mu.Unlock()

	if ok {
		metrics.RegisteredClients.Set(float64(n))
		r.log.Info().Str("username", username).Msg("client unregistered")
	}
	return ok
}

// SameHandle 判断两个句柄是否为同一个；不可比较的句柄类型视为不同。
func SameHandle(a, b protocol.Callback) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	ta := reflect.TypeOf(a)
	return ta == reflect.TypeOf(b) && ta.Comparable() && a == b
}

// Lookup 返回 username 当前的句柄。
func (r *Registry) Lookup(username string) (protocol.Callback, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[username]
	if !ok {
		return nil, false
	}
	return e.cb, true
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Usernames 返回所有在线用户名，按字典序。
func (r *Registry) Usernames() []string {
	r.mu.RLock()
	out := make([]string, 0, len(r.entries))
	for u := range r.entries {
		out = append(out, u)
	}
	r.mu.RUnlock()
	sort.Strings(out)
	return out
}

// Notify 对 username 的句柄执行 op。任何错误或 panic 都会驱逐该句柄并被吞掉，
// 返回值只表示是否成功投递。
func (r *Registry) Notify(ctx context.Context, username string, op Op) (delivered bool) {
	r.mu.RLock()
	e, ok := r.entries[username]
	r.mu.RUnlock()
	if !ok {
		return false
	}

	defer func() {
		if rec := recover(); rec != nil {
			r.evict(username, e, op.Event, fmt.Errorf("panic: %v", rec))
			delivered = false
		}
	}()
	if err := op.Call(ctx, e.cb); err != nil {
		r.evict(username, e, op.Event, err)
		return false
	}
	metrics.PushDeliveries.WithLabelValues(op.Event).Inc()
	return true
}

func (r *Registry) evict(username string, e *entry, event string, cause error) {
	r.mu.Lock()
	cur, ok := r.entries[username]
	removed := ok && cur == e
	if removed {
		delete(r.entries, username)
	}
	n := len(r.entries)
	r.mu.Unlock()

	metrics.PushFailures.WithLabelValues(event).Inc()
	metrics.RegisteredClients.Set(float64(n))
	r.log.Warn().Err(cause).
		Str("username", username).
		Str("event", event).
		Bool("evicted", removed).
		Msg("push failed")
}

// BroadcastTo 依次通知 usernames 中未被排除的用户，返回成功投递数。
func (r *Registry) BroadcastTo(ctx context.Context, usernames []string, op Op, excluding ...string) int {
	n := 0
	for _, u := range usernames {
		if slices.Contains(excluding, u) {
			continue
		}
		if r.Notify(ctx, u, op) {
			n++
		}
	}
	return n
}

// BroadcastToRoom 通知群聊的全部当前成员。
func (r *Registry) BroadcastToRoom(ctx context.Context, roomID int64, op Op, excluding ...string) (int, error) {
	members, err := r.members.Members(ctx, roomID)
	if err != nil {
		return 0, err
	}
	return r.BroadcastTo(ctx, Usernames(members), op, excluding...), nil
}

// BroadcastToPair 通知私聊的两个参与者。
func (r *Registry) BroadcastToPair(ctx context.Context, a, b string, op Op) int {
	if a == b {
		return r.BroadcastTo(ctx, []string{a}, op)
	}
	return r.BroadcastTo(ctx, []string{a, b}, op)
}

// BroadcastAll 通知所有在线客户端。
func (r *Registry) BroadcastAll(ctx context.Context, op Op, excluding ...string) int {
	return r.BroadcastTo(ctx, r.Usernames(), op, excluding...)
}

// Usernames 提取成员用户名，保持原有顺序。
func Usernames(members []models.GroupMember) []string {
	out := make([]string, 0, len(members))
	for _, m := range members {
		out = append(out, m.Username)
	}
	return out
}
