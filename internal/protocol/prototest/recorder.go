// Package prototest 提供记录推送事件的 protocol.Callback，供各包测试使用。
package prototest

import (
	"context"
	"sync"

	"relaychat/internal/protocol"
	"relaychat/internal/room"
)

type Event struct {
	Name    string
	Payload any
}

// Recorder 记录收到的每个事件。Fail 非空时每次推送都返回该错误；Panic 为真时直接 panic。
type Recorder struct {
	mu     sync.Mutex
	events []Event
	Fail   error
	Panic  bool
}

var _ protocol.Callback = (*Recorder)(nil)

func (r *Recorder) record(name string, payload any) error {
	if r.Panic {
		panic("recorder: " + name)
	}
	if r.Fail != nil {
		return r.Fail
	}
	r.mu.Lock()
	r.events = append(r.events, Event{Name: name, Payload: payload})
	r.mu.Unlock()
	return nil
}

// Events 返回已记录事件的副本。
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

func (r *Recorder) Count(name string) int {
	n := 0
	for _, e := range r.Events() {
		if e.Name == name {
			n++
		}
	}
	return n
}

// Last 返回最近一个名为 name 的事件体。
func (r *Recorder) Last(name string) (any, bool) {
	events := r.Events()
	for i := len(events) - 1; i >= 0; i-- {
		if events[i].Name == name {
			return events[i].Payload, true
		}
	}
	return nil, false
}

func (r *Recorder) OnMessageReceived(_ context.Context, m protocol.MessageDTO) error {
	return r.record(protocol.EventMessageReceived, m)
}

func (r *Recorder) OnMessageEdited(_ context.Context, m protocol.MessageDTO) error {
	return r.record(protocol.EventMessageEdited, m)
}

func (r *Recorder) OnMessageDeleted(_ context.Context, id int64, ref room.Ref) error {
	return r.record(protocol.EventMessageDeleted, protocol.MessageDeletedEvent{MessageID: id, RoomRef: ref})
}

func (r *Recorder) OnDirectChatCreated(_ context.Context, d protocol.DirectChatDTO) error {
	return r.record(protocol.EventDirectChatCreated, d)
}

func (r *Recorder) OnGroupChatCreated(_ context.Context, g protocol.RoomDTO) error {
	return r.record(protocol.EventGroupChatCreated, g)
}

func (r *Recorder) OnUserJoinedGroup(_ context.Context, roomID int64, username, invitedBy string) error {
	return r.record(protocol.EventUserJoinedGroup, protocol.UserJoinedEvent{RoomID: roomID, Username: username, InvitedBy: invitedBy})
}

func (r *Recorder) OnUserLeftGroup(_ context.Context, roomID int64, username string, wasRemoved bool, removedBy string) error {
	return r.record(protocol.EventUserLeftGroup, protocol.UserLeftEvent{RoomID: roomID, Username: username, WasRemoved: wasRemoved, RemovedBy: removedBy})
}

func (r *Recorder) OnPromotedToAdmin(_ context.Context, roomID int64, username, by string) error {
	return r.record(protocol.EventPromotedToAdmin, protocol.RoleChangedEvent{RoomID: roomID, Username: username, By: by})
}

func (r *Recorder) OnDemotedFromAdmin(_ context.Context, roomID int64, username, by string) error {
	return r.record(protocol.EventDemotedFromAdmin, protocol.RoleChangedEvent{RoomID: roomID, Username: username, By: by})
}

func (r *Recorder) OnGroupRenamed(_ context.Context, roomID int64, name, by string) error {
	return r.record(protocol.EventGroupRenamed, protocol.GroupRenamedEvent{RoomID: roomID, Name: name, By: by})
}

func (r *Recorder) OnDisconnected(_ context.Context, reason string) error {
	return r.record(protocol.EventDisconnected, protocol.DisconnectedEvent{Reason: reason})
}
