package client

import (
	"context"
	"sync"
	"time"

	"relaychat/internal/protocol"
	"relaychat/internal/room"
)

// Call 是一次异步调用的句柄。
type Call[T any] struct {
	done chan struct{}
	once sync.Once
	val  T
	err  error
}

func newCall[T any]() *Call[T] { return &Call[T]{done: make(chan struct{})} }

func failed[T any](err error) *Call[T] {
	c := newCall[T]()
	c.finish(*new(T), err)
	return c
}

func (c *Call[T]) finish(v T, err error) {
	c.once.Do(func() {
		c.val, c.err = v, err
		close(c.done)
	})
}

// Done 在调用结束后关闭。
func (c *Call[T]) Done() <-chan struct{} { return c.done }

// Wait 阻塞到调用结束或 ctx 取消。
func (c *Call[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-c.done:
		return c.val, c.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Result 返回已结束调用的结果；调用未结束时 ok 为 false。
func (c *Call[T]) Result() (v T, ok bool, err error) {
	select {
	case <-c.done:
		return c.val, true, c.err
	default:
		var zero T
		return zero, false, nil
	}
}

// ChatService 是面向界面的业务门面。前置条件在调用方 goroutine 中同步检查，
// 不满足时直接返回已失败的 Call，不会发起远程调用；远程调用在后台执行。
type ChatService struct {
	session *Session
	caller  Caller
	timeout time.Duration
}

func NewChatService(session *Session, caller Caller, timeout time.Duration) *ChatService {
	if timeout <= 0 {
		timeout = defaultCallTimeout
	}
	return &ChatService{session: session, caller: caller, timeout: timeout}
}

// ChatService 返回绑定在本连接上的业务门面。
func (m *Manager) ChatService() *ChatService {
	return NewChatService(m.session, m, defaultCallTimeout)
}

func (s *ChatService) Session() *Session { return s.session }

// invoke 在后台执行远程调用。
func invoke[T any](s *ChatService, method string, params any) *Call[T] {
	c := newCall[T]()
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()
		var out T
		err := s.caller.Call(ctx, method, params, &out)
		c.finish(out, err)
	}()
	return c
}

// authed 要求已登录，返回当前用户名。
func authed[T any](s *ChatService, op string) (string, *Call[T]) {
	username, err := s.session.RequireAuthenticated(op)
	if err != nil {
		return "", failed[T](err)
	}
	return username, nil
}

// capable 要求会话具备能力 cap 且已登录。
func capable[T any](s *ChatService, op string, cp Capability) (string, *Call[T]) {
	if err := s.session.Require(op, cp); err != nil {
		return "", failed[T](err)
	}
	return authed[T](s, op)
}

// Done 是无返回值调用的结果类型。
type Done struct{}

// 私聊

func (s *ChatService) CreateDirectChat(other string) *Call[protocol.DirectChatDTO] {
	me, fail := authed[protocol.DirectChatDTO](s, "create direct chat")
	if fail != nil {
		return fail
	}
	return invoke[protocol.DirectChatDTO](s, protocol.MethodCreateDirectChat, protocol.PairParams{User1: me, User2: other})
}

func (s *ChatService) GetDirectChat(other string) *Call[protocol.DirectChatDTO] {
	me, fail := authed[protocol.DirectChatDTO](s, "get direct chat")
	if fail != nil {
		return fail
	}
	return invoke[protocol.DirectChatDTO](s, protocol.MethodGetDirectChat, protocol.PairParams{User1: me, User2: other})
}

func (s *ChatService) DirectChats() *Call[[]protocol.DirectChatDTO] {
	me, fail := authed[[]protocol.DirectChatDTO](s, "list direct chats")
	if fail != nil {
		return fail
	}
	return invoke[[]protocol.DirectChatDTO](s, protocol.MethodGetUserDirectChats, protocol.UsernameParams{Username: me})
}

// UpdateDirectChatSettings 中为 nil 的标记保持不变。
func (s *ChatService) UpdateDirectChatSettings(directChatID int64, archived, blocked *bool) *Call[protocol.DirectChatDTO] {
	me, fail := authed[protocol.DirectChatDTO](s, "update direct chat settings")
	if fail != nil {
		return fail
	}
	return invoke[protocol.DirectChatDTO](s, protocol.MethodUpdateDirectChatSettings, protocol.DirectChatSettingsParams{
		DirectChatID: directChatID,
		Username:     me,
		Archived:     archived,
		Blocked:      blocked,
	})
}

// 消息

// Send 向房间引用发送消息，正数为群聊，负数为私聊。
func (s *ChatService) Send(ref room.Ref, content string) *Call[protocol.MessageDTO] {
	me, fail := capable[protocol.MessageDTO](s, "send message", CanSendMessage)
	if fail != nil {
		return fail
	}
	return invoke[protocol.MessageDTO](s, protocol.MethodSendMessage, protocol.SendMessageParams{RoomRef: ref, Sender: me, Content: content})
}

func (s *ChatService) SendGroupMessage(roomID int64, content string) *Call[protocol.MessageDTO] {
	return s.Send(room.GroupRef(roomID), content)
}

func (s *ChatService) SendDirectMessage(directChatID int64, content string) *Call[protocol.MessageDTO] {
	return s.Send(room.EncodeDirect(directChatID), content)
}

func (s *ChatService) EditMessage(messageID int64, content string) *Call[protocol.MessageDTO] {
	me, fail := capable[protocol.MessageDTO](s, "edit message", CanSendMessage)
	if fail != nil {
		return fail
	}
	return invoke[protocol.MessageDTO](s, protocol.MethodEditMessage, protocol.EditMessageParams{MessageID: messageID, Content: content, Editor: me})
}

func (s *ChatService) DeleteMessage(messageID int64) *Call[Done] {
	me, fail := capable[Done](s, "delete message", CanSendMessage)
	if fail != nil {
		return fail
	}
	return invoke[Done](s, protocol.MethodDeleteMessage, protocol.DeleteMessageParams{MessageID: messageID, Deleter: me})
}

func (s *ChatService) GroupHistory(roomID int64, limit int) *Call[[]protocol.MessageDTO] {
	me, fail := authed[[]protocol.MessageDTO](s, "load group history")
	if fail != nil {
		return fail
	}
	return invoke[[]protocol.MessageDTO](s, protocol.MethodGetGroupChatMessages, protocol.HistoryParams{Username: me, ID: roomID, Limit: limit})
}

func (s *ChatService) DirectHistory(directChatID int64, limit int) *Call[[]protocol.MessageDTO] {
	me, fail := authed[[]protocol.MessageDTO](s, "load direct history")
	if fail != nil {
		return fail
	}
	return invoke[[]protocol.MessageDTO](s, protocol.MethodGetDirectChatMessages, protocol.HistoryParams{Username: me, ID: directChatID, Limit: limit})
}

// MessagesAfter 用于断线重连后补齐 after 之后的消息。
func (s *ChatService) MessagesAfter(ref room.Ref, after time.Time) *Call[[]protocol.MessageDTO] {
	me, fail := authed[[]protocol.MessageDTO](s, "load new messages")
	if fail != nil {
		return fail
	}
	return invoke[[]protocol.MessageDTO](s, protocol.MethodGetMessagesAfter, protocol.MessagesAfterParams{Username: me, RoomRef: ref, After: after})
}

// 群聊

// PublicGroups 登录前也可调用。
func (s *ChatService) PublicGroups() *Call[[]protocol.RoomDTO] {
	if err := s.session.Require("list public groups", CanViewPublicGroups); err != nil {
		return failed[[]protocol.RoomDTO](err)
	}
	return invoke[[]protocol.RoomDTO](s, protocol.MethodGetPublicGroupChats, nil)
}

func (s *ChatService) MyGroups() *Call[[]protocol.RoomDTO] {
	me, fail := authed[[]protocol.RoomDTO](s, "list my groups")
	if fail != nil {
		return fail
	}
	return invoke[[]protocol.RoomDTO](s, protocol.MethodGetUserGroupChats, protocol.UsernameParams{Username: me})
}

func (s *ChatService) Group(roomID int64) *Call[protocol.RoomDTO] {
	if _, fail := authed[protocol.RoomDTO](s, "get group"); fail != nil {
		return fail
	}
	return invoke[protocol.RoomDTO](s, protocol.MethodGetGroupChat, protocol.RoomParams{RoomID: roomID})
}

func (s *ChatService) CreateGroup(name, description string, private bool, maxMembers int) *Call[protocol.RoomDTO] {
	me, fail := capable[protocol.RoomDTO](s, "create group", CanCreateGroup)
	if fail != nil {
		return fail
	}
	return invoke[protocol.RoomDTO](s, protocol.MethodCreateGroupChat, protocol.CreateGroupParams{
		Name:        name,
		Creator:     me,
		Description: description,
		Private:     private,
		MaxMembers:  maxMembers,
	})
}

func (s *ChatService) JoinGroup(roomID int64) *Call[Done] {
	me, fail := capable[Done](s, "join group", CanJoinGroup)
	if fail != nil {
		return fail
	}
	return invoke[Done](s, protocol.MethodJoinGroupChat, protocol.MembershipParams{Username: me, RoomID: roomID})
}

func (s *ChatService) LeaveGroup(roomID int64) *Call[Done] {
	me, fail := authed[Done](s, "leave group")
	if fail != nil {
		return fail
	}
	return invoke[Done](s, protocol.MethodLeaveGroupChat, protocol.MembershipParams{Username: me, RoomID: roomID})
}

func (s *ChatService) Members(roomID int64) *Call[[]protocol.MemberDTO] {
	if _, fail := authed[[]protocol.MemberDTO](s, "list members"); fail != nil {
		return fail
	}
	return invoke[[]protocol.MemberDTO](s, protocol.MethodGetGroupChatMembers, protocol.RoomParams{RoomID: roomID})
}

func (s *ChatService) Promote(roomID int64, target string) *Call[Done] {
	me, fail := authed[Done](s, "promote member")
	if fail != nil {
		return fail
	}
	return invoke[Done](s, protocol.MethodPromoteToAdmin, protocol.RoleChangeParams{By: me, Target: target, RoomID: roomID})
}

func (s *ChatService) Demote(roomID int64, target string) *Call[Done] {
	me, fail := authed[Done](s, "demote member")
	if fail != nil {
		return fail
	}
	return invoke[Done](s, protocol.MethodDemoteFromAdmin, protocol.RoleChangeParams{By: me, Target: target, RoomID: roomID})
}

func (s *ChatService) Rename(roomID int64, name string) *Call[Done] {
	me, fail := authed[Done](s, "rename group")
	if fail != nil {
		return fail
	}
	return invoke[Done](s, protocol.MethodUpdateGroupName, protocol.RenameParams{RoomID: roomID, Name: name, By: me})
}

func (s *ChatService) AddMember(roomID int64, username string) *Call[Done] {
	me, fail := authed[Done](s, "add member")
	if fail != nil {
		return fail
	}
	return invoke[Done](s, protocol.MethodAddUserToGroup, protocol.MemberChangeParams{RoomID: roomID, Username: username, By: me})
}

func (s *ChatService) RemoveMember(roomID int64, username string) *Call[Done] {
	me, fail := authed[Done](s, "remove member")
	if fail != nil {
		return fail
	}
	return invoke[Done](s, protocol.MethodRemoveUserFromGroup, protocol.MemberChangeParams{RoomID: roomID, Username: username, By: me})
}

// 用户

func (s *ChatService) SearchUsers(term string, limit int) *Call[[]protocol.UserDTO] {
	if _, fail := authed[[]protocol.UserDTO](s, "search users"); fail != nil {
		return fail
	}
	return invoke[[]protocol.UserDTO](s, protocol.MethodSearchUsers, protocol.SearchParams{Term: term, Limit: limit})
}
