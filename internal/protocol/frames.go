package protocol

import (
	"fmt"
	"time"

	"relaychat/internal/room"
)

// 帧类型。
const (
	TypeRequest  = "req"
	TypeResponse = "res"
	TypeEvent    = "evt"
)

// Envelope 是一条 websocket 帧；Payload 是按协商编码预先编码的参数、结果或事件体。
type Envelope struct {
	Type    string
	ID      string
	Name    string
	Payload []byte
	Error   *Error
}

// 远程方法名。
const (
	MethodLogin                    = "login"
	MethodCreateAccount            = "createAccount"
	MethodUsernameExists           = "usernameExists"
	MethodLogout                   = "logout"
	MethodSearchUsers              = "searchUsers"
	MethodCreateDirectChat         = "createDirectChat"
	MethodGetDirectChat            = "getDirectChat"
	MethodGetUserDirectChats       = "getUserDirectChats"
	MethodUpdateDirectChatSettings = "updateDirectChatSettings"
	MethodCreateGroupChat          = "createGroupChat"
	MethodGetGroupChat             = "getGroupChat"
	MethodGetPublicGroupChats      = "getPublicGroupChats"
	MethodGetUserGroupChats        = "getUserGroupChats"
	MethodJoinGroupChat            = "joinGroupChat"
	MethodLeaveGroupChat           = "leaveGroupChat"
	MethodGetGroupChatMembers      = "getGroupChatMembers"
	MethodPromoteToAdmin           = "promoteToAdmin"
	MethodDemoteFromAdmin          = "demoteFromAdmin"
	MethodUpdateGroupName          = "updateGroupName"
	MethodAddUserToGroup           = "addUserToGroup"
	MethodRemoveUserFromGroup      = "removeUserFromGroup"
	MethodSendMessage              = "sendMessage"
	MethodEditMessage              = "editMessage"
	MethodDeleteMessage            = "deleteMessage"
	MethodGetGroupChatMessages     = "getGroupChatMessages"
	MethodGetDirectChatMessages    = "getDirectChatMessages"
	MethodGetMessagesAfter         = "getMessagesAfter"
	MethodRegisterClient           = "registerClient"
	MethodUnregisterClient         = "unregisterClient"
)

// 推送事件名。
const (
	EventMessageReceived   = "message-received"
	EventMessageEdited     = "message-edited"
	EventMessageDeleted    = "message-deleted"
	EventDirectChatCreated = "direct-chat-created"
	EventGroupChatCreated  = "group-chat-created"
	EventUserJoinedGroup   = "user-joined-group"
	EventUserLeftGroup     = "user-left-group"
	EventPromotedToAdmin   = "promoted-to-admin"
	EventDemotedFromAdmin  = "demoted-from-admin"
	EventGroupRenamed      = "group-renamed"
	EventDisconnected      = "disconnected"
)

type ErrorCode string

const (
	CodeUnauthenticated ErrorCode = "unauthenticated"
	CodeForbidden       ErrorCode = "forbidden"
	CodeNotFound        ErrorCode = "not_found"
	CodeConflict        ErrorCode = "conflict"
	CodeInvalidArgument ErrorCode = "invalid_argument"
	CodeRateLimited     ErrorCode = "rate_limited"
	CodeInternal        ErrorCode = "internal"
)

// Error 是响应帧中携带的失败信息。
type Error struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

func (e *Error) Error() string { return fmt.Sprintf("%s: %s", e.Code, e.Message) }

// 请求参数。

type LoginParams struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResult struct {
	User  UserDTO `json:"user"`
	Token string  `json:"token"`
}

type CreateAccountParams struct {
	Username  string `json:"username"`
	Password  string `json:"password"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

type UsernameParams struct {
	Username string `json:"username"`
}

type ExistsResult struct {
	Exists bool `json:"exists"`
}

type SearchParams struct {
	Term  string `json:"term"`
	Limit int    `json:"limit"`
}

type PairParams struct {
	User1 string `json:"user1"`
	User2 string `json:"user2"`
}

type DirectChatSettingsParams struct {
	DirectChatID int64  `json:"direct_chat_id"`
	Username     string `json:"username"`
	Archived     *bool  `json:"archived,omitempty"`
	Blocked      *bool  `json:"blocked,omitempty"`
}

type CreateGroupParams struct {
	Name        string `json:"name"`
	Creator     string `json:"creator"`
	Description string `json:"description"`
	Private     bool   `json:"private"`
	MaxMembers  int    `json:"max_members"`
}

type RoomParams struct {
	RoomID int64 `json:"room_id"`
}

type MembershipParams struct {
	Username string `json:"username"`
	RoomID   int64  `json:"room_id"`
}

type RoleChangeParams struct {
	By     string `json:"by"`
	Target string `json:"target"`
	RoomID int64  `json:"room_id"`
}

type RenameParams struct {
	RoomID int64  `json:"room_id"`
	Name   string `json:"name"`
	By     string `json:"by"`
}

type MemberChangeParams struct {
	RoomID   int64  `json:"room_id"`
	Username string `json:"username"`
	By       string `json:"by"`
}

type SendMessageParams struct {
	RoomRef room.Ref `json:"room_ref"`
	Sender  string   `json:"sender"`
	Content string   `json:"content"`
}

type EditMessageParams struct {
	MessageID int64  `json:"message_id"`
	Content   string `json:"content"`
	Editor    string `json:"editor"`
}

type DeleteMessageParams struct {
	MessageID int64  `json:"message_id"`
	Deleter   string `json:"deleter"`
}

// HistoryParams 中 ID 为群聊 id 或私聊 id，取决于方法。
type HistoryParams struct {
	Username string `json:"username"`
	ID       int64  `json:"id"`
	Limit    int    `json:"limit"`
}

type MessagesAfterParams struct {
	Username string    `json:"username"`
	RoomRef  room.Ref  `json:"room_ref"`
	After    time.Time `json:"after"`
}

// 事件体。

type MessageDeletedEvent struct {
	MessageID int64    `json:"message_id"`
	RoomRef   room.Ref `json:"room_ref"`
}

type UserJoinedEvent struct {
	RoomID    int64  `json:"room_id"`
	Username  string `json:"username"`
	InvitedBy string `json:"invited_by"`
}

type UserLeftEvent struct {
	RoomID     int64  `json:"room_id"`
	Username   string `json:"username"`
	WasRemoved bool   `json:"was_removed"`
	RemovedBy  string `json:"removed_by,omitempty"`
}

type RoleChangedEvent struct {
	RoomID   int64  `json:"room_id"`
	Username string `json:"username"`
	By       string `json:"by"`
}

type GroupRenamedEvent struct {
	RoomID int64  `json:"room_id"`
	Name   string `json:"name"`
	By     string `json:"by"`
}

type DisconnectedEvent struct {
	Reason string `json:"reason"`
}
