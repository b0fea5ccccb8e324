package client

import (
	"context"

	"relaychat/internal/eventbus"
	"relaychat/internal/protocol"
	"relaychat/internal/room"
)

// 以下类型在事件总线上发布，订阅方按具体类型订阅。

type MessageReceived struct{ Message protocol.MessageDTO }

type MessageEdited struct{ Message protocol.MessageDTO }

type MessageDeleted struct {
	MessageID int64
	RoomRef   room.Ref
}

type DirectChatCreated struct{ Chat protocol.DirectChatDTO }

type GroupChatCreated struct{ Room protocol.RoomDTO }

type UserJoinedGroup struct {
	RoomID    int64
	Username  string
	InvitedBy string
}

type UserLeftGroup struct {
	RoomID     int64
	Username   string
	WasRemoved bool
	RemovedBy  string
}

type UserPromoted struct {
	RoomID   int64
	Username string
	By       string
}

type UserDemoted struct {
	RoomID   int64
	Username string
	By       string
}

type GroupRenamed struct {
	RoomID int64
	Name   string
	By     string
}

// ConnectionLost 在服务端推送 disconnected 或连接意外断开时发布。
type ConnectionLost struct{ Reason string }

type LoginSucceeded struct{ User protocol.UserDTO }

type LoggedOut struct{ Username string }

type StateChanged struct{ From, To State }

// bridge 把服务端推送转成总线事件。
type bridge struct {
	bus          *eventbus.Bus
	disconnected func(reason string)
}

var _ protocol.Callback = (*bridge)(nil)

func (b *bridge) publish(event any) error { return b.bus.Publish(event) }

func (b *bridge) OnMessageReceived(_ context.Context, m protocol.MessageDTO) error {
	return b.publish(MessageReceived{Message: m})
}

func (b *bridge) OnMessageEdited(_ context.Context, m protocol.MessageDTO) error {
	return b.publish(MessageEdited{Message: m})
}

func (b *bridge) OnMessageDeleted(_ context.Context, id int64, ref room.Ref) error {
	return b.publish(MessageDeleted{MessageID: id, RoomRef: ref})
}

func (b *bridge) OnDirectChatCreated(_ context.Context, d protocol.DirectChatDTO) error {
	return b.publish(DirectChatCreated{Chat: d})
}

func (b *bridge) OnGroupChatCreated(_ context.Context, r protocol.RoomDTO) error {
	return b.publish(GroupChatCreated{Room: r})
}

func (b *bridge) OnUserJoinedGroup(_ context.Context, roomID int64, username, invitedBy string) error {
	return b.publish(UserJoinedGroup{RoomID: roomID, Username: username, InvitedBy: invitedBy})
}

func (b *bridge) OnUserLeftGroup(_ context.Context, roomID int64, username string, wasRemoved bool, removedBy string) error {
	return b.publish(UserLeftGroup{RoomID: roomID, Username: username, WasRemoved: wasRemoved, RemovedBy: removedBy})
}

func (b *bridge) OnPromotedToAdmin(_ context.Context, roomID int64, username, by string) error {
	return b.publish(UserPromoted{RoomID: roomID, Username: username, By: by})
}

func (b *bridge) OnDemotedFromAdmin(_ context.Context, roomID int64, username, by string) error {
	return b.publish(UserDemoted{RoomID: roomID, Username: username, By: by})
}

func (b *bridge) OnGroupRenamed(_ context.Context, roomID int64, name, by string) error {
	return b.publish(GroupRenamed{RoomID: roomID, Name: name, By: by})
}

func (b *bridge) OnDisconnected(_ context.Context, reason string) error {
	b.disconnected(reason)
	return nil
}
