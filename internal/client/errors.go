package client

import (
	"context"
	"errors"
	"fmt"

	"relaychat/internal/protocol"
)

var (
	ErrConnectionLost = errors.New("connection lost")
	ErrNothingToUndo  = errors.New("no commands to undo")
)

const unexpectedError = "An unexpected error occurred"

// RemoteError 是服务端拒绝调用时返回的错误。
type RemoteError struct {
	Method  string
	Code    protocol.ErrorCode
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("%s: %s: %s", e.Method, e.Code, e.Message)
}

// IsCode 判断 err 是否为携带指定错误码的 RemoteError。
func IsCode(err error, code protocol.ErrorCode) bool {
	var re *RemoteError
	return errors.As(err, &re) && re.Code == code
}

// UserMessage 把错误渲染为可以直接展示给用户的文字。
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var se *StateError
	if errors.As(err, &se) {
		switch se.State {
		case Disconnected:
			return "Not connected to the server"
		case Connected:
			return "Please log in first"
		}
	}
	var re *RemoteError
	if errors.As(err, &re) {
		switch {
		case re.Code == protocol.CodeInternal, re.Message == "":
			return unexpectedError
		case re.Code == protocol.CodeRateLimited:
			return "Too many requests, please slow down"
		default:
			return re.Message
		}
	}
	switch {
	case errors.Is(err, ErrConnectionLost):
		return "Connection to the server was lost"
	case errors.Is(err, ErrNothingToUndo):
		return "Nothing to undo"
	case errors.Is(err, context.DeadlineExceeded):
		return "The server did not respond in time"
	}
	if msg := err.Error(); msg != "" {
		return msg
	}
	return unexpectedError
}
