package registry

import (
	"context"

	"relaychat/internal/protocol"
	"relaychat/internal/room"
)

// Op 是一次推送：Event 用于日志与指标，Call 在目标句柄上执行。
type Op struct {
	Event string
	Call  func(ctx context.Context, cb protocol.Callback) error
}

func MessageReceived(m protocol.MessageDTO) Op {
	return Op{Event: protocol.EventMessageReceived, Call: func(ctx context.Context, cb protocol.Callback) error {
		return cb.OnMessageReceived(ctx, m)
	}}
}

func MessageEdited(m protocol.MessageDTO) Op {
	return Op{Event: protocol.EventMessageEdited, Call: func(ctx context.Context, cb protocol.Callback) error {
		return cb.OnMessageEdited(ctx, m)
	}}
}

func MessageDeleted(messageID int64, ref room.Ref) Op {
	return Op{Event: protocol.EventMessageDeleted, Call: func(ctx context.Context, cb protocol.Callback) error {
		return cb.OnMessageDeleted(ctx, messageID, ref)
	}}
}

func DirectChatCreated(d protocol.DirectChatDTO) Op {
	return Op{Event: protocol.EventDirectChatCreated, Call: func(ctx context.Context, cb protocol.Callback) error {
		return cb.OnDirectChatCreated(ctx, d)
	}}
}

func GroupChatCreated(r protocol.RoomDTO) Op {
	return Op{Event: protocol.EventGroupChatCreated, Call: func(ctx context.Context, cb protocol.Callback) error {
		return cb.OnGroupChatCreated(ctx, r)
	}}
}

func UserJoinedGroup(roomID int64, username, invitedBy string) Op {
	return Op{Event: protocol.EventUserJoinedGroup, Call: func(ctx context.Context, cb protocol.Callback) error {
		return cb.OnUserJoinedGroup(ctx, roomID, username, invitedBy)
	}}
}

func UserLeftGroup(roomID int64, username string, wasRemoved bool, removedBy string) Op {
	return Op{Event: protocol.EventUserLeftGroup, Call: func(ctx context.Context, cb protocol.Callback) error {
		return cb.OnUserLeftGroup(ctx, roomID, username, wasRemoved, removedBy)
	}}
}

func PromotedToAdmin(roomID int64, username, by string) Op {
	return Op{Event: protocol.EventPromotedToAdmin, Call: func(ctx context.Context, cb protocol.Callback) error {
		return cb.OnPromotedToAdmin(ctx, roomID, username, by)
	}}
}

func DemotedFromAdmin(roomID int64, username, by string) Op {
	return Op{Event: protocol.EventDemotedFromAdmin, Call: func(ctx context.Context, cb protocol.Callback) error {
		return cb.OnDemotedFromAdmin(ctx, roomID, username, by)
	}}
}

func GroupRenamed(roomID int64, name, by string) Op {
	return Op{Event: protocol.EventGroupRenamed, Call: func(ctx context.Context, cb protocol.Callback) error {
		return cb.OnGroupRenamed(ctx, roomID, name, by)
	}}
}

func Disconnected(reason string) Op {
	return Op{Event: protocol.EventDisconnected, Call: func(ctx context.Context, cb protocol.Callback) error {
		return cb.OnDisconnected(ctx, reason)
	}}
}
