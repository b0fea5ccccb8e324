package client

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"relaychat/internal/protocol"
)

func TestUserMessage(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"disconnected", &StateError{Op: "send", State: Disconnected}, "Not connected to the server"},
		{"connected", fmt.Errorf("wrap: %w", &StateError{Op: "send", State: Connected}), "Please log in first"},
		{"remote", &RemoteError{Method: "joinGroupChat", Code: protocol.CodeForbidden, Message: "group is private"}, "group is private"},
		{"remote internal", &RemoteError{Method: "login", Code: protocol.CodeInternal, Message: "internal error"}, unexpectedError},
		{"remote empty", &RemoteError{Method: "login", Code: protocol.CodeConflict}, unexpectedError},
		{"rate limited", &RemoteError{Code: protocol.CodeRateLimited, Message: "slow down"}, "Too many requests, please slow down"},
		{"connection lost", errors.Join(ErrConnectionLost, errors.New("broken pipe")), "Connection to the server was lost"},
		{"nothing to undo", ErrNothingToUndo, "Nothing to undo"},
		{"timeout", fmt.Errorf("call: %w", context.DeadlineExceeded), "The server did not respond in time"},
		{"plain", errors.New("boom"), "boom"},
		{"empty", errors.New(""), unexpectedError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, UserMessage(tt.err))
		})
	}
}

func TestIsCode(t *testing.T) {
	err := fmt.Errorf("outer: %w", &RemoteError{Method: "sendMessage", Code: protocol.CodeNotFound, Message: "room not found"})
	assert.True(t, IsCode(err, protocol.CodeNotFound))
	assert.False(t, IsCode(err, protocol.CodeForbidden))
	assert.False(t, IsCode(errors.New("x"), protocol.CodeNotFound))
	assert.Equal(t, "sendMessage: not_found: room not found", errors.Unwrap(err).Error())
}
