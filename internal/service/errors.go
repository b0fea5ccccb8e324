package service

import "errors"

// 业务层通用错误，传输层根据错误类型映射到协议错误码或 HTTP 状态码。
var (
	ErrUsernameTaken      = errors.New("username taken")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUserNotFound       = errors.New("user not found")
	ErrRoomNotFound       = errors.New("room not found")
	ErrDirectChatNotFound = errors.New("direct chat not found")
	ErrMessageNotFound    = errors.New("message not found")
	ErrForbidden          = errors.New("forbidden")
	ErrNotMember          = errors.New("not a member of the room")
	ErrInvalidArgument    = errors.New("invalid argument")
	ErrRoomFull           = errors.New("room is full")
	ErrBlocked            = errors.New("direct chat is blocked")
)
