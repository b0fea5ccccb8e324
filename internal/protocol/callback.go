package protocol

import (
	"context"
	"fmt"

	"relaychat/internal/room"
)

// Callback 是服务端向单个客户端推送事件的句柄，每种事件一个方法。
// 返回错误表示该客户端不可达。
type Callback interface {
	OnMessageReceived(ctx context.Context, m MessageDTO) error
	OnMessageEdited(ctx context.Context, m MessageDTO) error
	OnMessageDeleted(ctx context.Context, messageID int64, roomRef room.Ref) error
	OnDirectChatCreated(ctx context.Context, d DirectChatDTO) error
	OnGroupChatCreated(ctx context.Context, r RoomDTO) error
	OnUserJoinedGroup(ctx context.Context, roomID int64, username, invitedBy string) error
	OnUserLeftGroup(ctx context.Context, roomID int64, username string, wasRemoved bool, removedBy string) error
	OnPromotedToAdmin(ctx context.Context, roomID int64, username, by string) error
	OnDemotedFromAdmin(ctx context.Context, roomID int64, username, by string) error
	OnGroupRenamed(ctx context.Context, roomID int64, name, by string) error
	OnDisconnected(ctx context.Context, reason string) error
}

// Emitter 把一个“事件名 + 事件体”的发送函数适配为 Callback。
type Emitter func(ctx context.Context, event string, payload any) error

var _ Callback = Emitter(nil)

func (e Emitter) OnMessageReceived(ctx context.Context, m MessageDTO) error {
	return e(ctx, EventMessageReceived, m)
}

func (e Emitter) OnMessageEdited(ctx context.Context, m MessageDTO) error {
	return e(ctx, EventMessageEdited, m)
}

func (e Emitter) OnMessageDeleted(ctx context.Context, messageID int64, roomRef room.Ref) error {
	return e(ctx, EventMessageDeleted, MessageDeletedEvent{MessageID: messageID, RoomRef: roomRef})
}

func (e Emitter) OnDirectChatCreated(ctx context.Context, d DirectChatDTO) error {
	return e(ctx, EventDirectChatCreated, d)
}

func (e Emitter) OnGroupChatCreated(ctx context.Context, r RoomDTO) error {
	return e(ctx, EventGroupChatCreated, r)
}

func (e Emitter) OnUserJoinedGroup(ctx context.Context, roomID int64, username, invitedBy string) error {
	return e(ctx, EventUserJoinedGroup, UserJoinedEvent{RoomID: roomID, Username: username, InvitedBy: invitedBy})
}

func (e Emitter) OnUserLeftGroup(ctx context.Context, roomID int64, username string, wasRemoved bool, removedBy string) error {
	return e(ctx, EventUserLeftGroup, UserLeftEvent{RoomID: roomID, Username: username, WasRemoved: wasRemoved, RemovedBy: removedBy})
}

func (e Emitter) OnPromotedToAdmin(ctx context.Context, roomID int64, username, by string) error {
	return e(ctx, EventPromotedToAdmin, RoleChangedEvent{RoomID: roomID, Username: username, By: by})
}

func (e Emitter) OnDemotedFromAdmin(ctx context.Context, roomID int64, username, by string) error {
	return e(ctx, EventDemotedFromAdmin, RoleChangedEvent{RoomID: roomID, Username: username, By: by})
}

func (e Emitter) OnGroupRenamed(ctx context.Context, roomID int64, name, by string) error {
	return e(ctx, EventGroupRenamed, GroupRenamedEvent{RoomID: roomID, Name: name, By: by})
}

func (e Emitter) OnDisconnected(ctx context.Context, reason string) error {
	return e(ctx, EventDisconnected, DisconnectedEvent{Reason: reason})
}

// Dispatch 解码事件帧并调用 cb 上对应的方法。
func Dispatch(ctx context.Context, c Codec, env Envelope, cb Callback) error {
	if env.Type != TypeEvent {
		return fmt.Errorf("%w: not an event frame", ErrMalformedFrame)
	}
	switch env.Name {
	case EventMessageReceived, EventMessageEdited:
		var m MessageDTO
		if err := c.Unmarshal(env.Payload, &m); err != nil {
			return err
		}
		if env.Name == EventMessageEdited {
			return cb.OnMessageEdited(ctx, m)
		}
		return cb.OnMessageReceived(ctx, m)
	case EventMessageDeleted:
		var ev MessageDeletedEvent
		if err := c.Unmarshal(env.Payload, &ev); err != nil {
			return err
		}
		return cb.OnMessageDeleted(ctx, ev.MessageID, ev.RoomRef)
	case EventDirectChatCreated:
		var d DirectChatDTO
		if err := c.Unmarshal(env.Payload, &d); err != nil {
			return err
		}
		return cb.OnDirectChatCreated(ctx, d)
	case EventGroupChatCreated:
		var r RoomDTO
		if err := c.Unmarshal(env.Payload, &r); err != nil {
			return err
		}
		return cb.OnGroupChatCreated(ctx, r)
	case EventUserJoinedGroup:
		var ev UserJoinedEvent
		if err := c.Unmarshal(env.Payload, &ev); err != nil {
			return err
		}
		return cb.OnUserJoinedGroup(ctx, ev.RoomID, ev.Username, ev.InvitedBy)
	case EventUserLeftGroup:
		var ev UserLeftEvent
		if err := c.Unmarshal(env.Payload, &ev); err != nil {
			return err
		}
		return cb.OnUserLeftGroup(ctx, ev.RoomID, ev.Username, ev.WasRemoved, ev.RemovedBy)
	case EventPromotedToAdmin, EventDemotedFromAdmin:
		var ev RoleChangedEvent
		if err := c.Unmarshal(env.Payload, &ev); err != nil {
			return err
		}
		if env.Name == EventDemotedFromAdmin {
			return cb.OnDemotedFromAdmin(ctx, ev.RoomID, ev.Username, ev.By)
		}
		return cb.OnPromotedToAdmin(ctx, ev.RoomID, ev.Username, ev.By)
	case EventGroupRenamed:
		var ev GroupRenamedEvent
		if err := c.Unmarshal(env.Payload, &ev); err != nil {
			return err
		}
		return cb.OnGroupRenamed(ctx, ev.RoomID, ev.Name, ev.By)
	case EventDisconnected:
		var ev DisconnectedEvent
		if err := c.Unmarshal(env.Payload, &ev); err != nil {
			return err
		}
		return cb.OnDisconnected(ctx, ev.Reason)
	default:
		return fmt.Errorf("%w: unknown event %q", ErrMalformedFrame, env.Name)
	}
}
