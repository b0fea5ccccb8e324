package ws

import (
	"errors"

	"relaychat/internal/protocol"
	"relaychat/internal/service"
)

var (
	errUnauthenticated = &protocol.Error{Code: protocol.CodeUnauthenticated, Message: "login required"}
	errActorMismatch   = &protocol.Error{Code: protocol.CodeForbidden, Message: "acting user must be the session user"}
)

var codes = []struct {
	err  error
	code protocol.ErrorCode
}{
	{service.ErrInvalidCredentials, protocol.CodeUnauthenticated},
	{service.ErrForbidden, protocol.CodeForbidden},
	{service.ErrNotMember, protocol.CodeForbidden},
	{service.ErrBlocked, protocol.CodeForbidden},
	{service.ErrUserNotFound, protocol.CodeNotFound},
	{service.ErrRoomNotFound, protocol.CodeNotFound},
	{service.ErrDirectChatNotFound, protocol.CodeNotFound},
	{service.ErrMessageNotFound, protocol.CodeNotFound},
	{service.ErrUsernameTaken, protocol.CodeConflict},
	{service.ErrRoomFull, protocol.CodeConflict},
	{service.ErrInvalidArgument, protocol.CodeInvalidArgument},
}

// wireError 把服务层错误映射为响应帧中的错误；未知错误只返回通用信息。
func wireError(err error) *protocol.Error {
	var pe *protocol.Error
	if errors.As(err, &pe) {
		return pe
	}
	for _, c := range codes {
		if errors.Is(err, c.err) {
			return &protocol.Error{Code: c.code, Message: err.Error()}
		}
	}
	return &protocol.Error{Code: protocol.CodeInternal, Message: "internal error"}
}
