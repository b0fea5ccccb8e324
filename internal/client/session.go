package client

import (
	"errors"
	"fmt"
	"sync"

	"relaychat/internal/protocol"
)

// State 是客户端会话状态。
type State int

const (
	Disconnected State = iota
	Connected
	Authenticated
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "Disconnected"
	case Connected:
		return "Connected"
	case Authenticated:
		return "Authenticated"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Capability 是受会话状态控制的操作能力。
type Capability int

const (
	CanSendMessage Capability = iota
	CanJoinGroup
	CanCreateGroup
	CanViewPublicGroups
)

func (c Capability) String() string {
	switch c {
	case CanSendMessage:
		return "send messages"
	case CanJoinGroup:
		return "join groups"
	case CanCreateGroup:
		return "create groups"
	case CanViewPublicGroups:
		return "view public groups"
	default:
		return fmt.Sprintf("Capability(%d)", int(c))
	}
}

var capabilities = [...][4]bool{
	Disconnected:  {false, false, false, false},
	Connected:     {false, false, false, true},
	Authenticated: {true, true, true, true},
}

var ErrInvalidState = errors.New("invalid session state")

// StateError 表示本地前置条件不满足，调用不会发往服务端。
type StateError struct {
	Op    string
	State State
}

func (e *StateError) Error() string {
	return fmt.Sprintf("%s: not allowed while %s", e.Op, e.State)
}

func (e *StateError) Unwrap() error { return ErrInvalidState }

// Session 是三态会话状态机，所有方法并发安全。
// onChange 在状态实际变化时于锁外调用。
type Session struct {
	mu       sync.RWMutex
	state    State
	user     protocol.UserDTO
	onChange func(from, to State)
}

func NewSession(onChange func(from, to State)) *Session {
	return &Session{state: Disconnected, onChange: onChange}
}

func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// User 返回已登录的用户；未登录时 ok 为 false。
func (s *Session) User() (protocol.UserDTO, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.user, s.state == Authenticated
}

func (s *Session) Username() string {
	u, _ := s.User()
	return u.Username
}

func (s *Session) transition(fn func() (State, error)) error {
	s.mu.Lock()
	from := s.state
	to, err := fn()
	if err == nil {
		s.state = to
	}
	s.mu.Unlock()
	if err == nil && from != to && s.onChange != nil {
		s.onChange(from, to)
	}
	return err
}

// Connect 在 Disconnected 时进入 Connected，其他状态下不变。
func (s *Session) Connect() {
	_ = s.transition(func() (State, error) {
		if s.state == Disconnected {
			return Connected, nil
		}
		return s.state, nil
	})
}

// Login 记录用户并进入 Authenticated；Disconnected 时失败且状态不变。
func (s *Session) Login(user protocol.UserDTO) error {
	return s.transition(func() (State, error) {
		if s.state == Disconnected {
			return s.state, &StateError{Op: "login", State: s.state}
		}
		s.user = user
		return Authenticated, nil
	})
}

// Logout 从 Authenticated 回到 Connected 并清除用户，其他状态下不变。
func (s *Session) Logout() {
	_ = s.transition(func() (State, error) {
		if s.state != Authenticated {
			return s.state, nil
		}
		s.user = protocol.UserDTO{}
		return Connected, nil
	})
}

// Disconnect 从任意状态进入 Disconnected。
func (s *Session) Disconnect() {
	_ = s.transition(func() (State, error) {
		s.user = protocol.UserDTO{}
		return Disconnected, nil
	})
}

func (s *Session) Can(c Capability) bool {
	if c < 0 || int(c) >= len(capabilities[0]) {
		return false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return capabilities[s.state][c]
}

func (s *Session) CanSendMessage() bool      { return s.Can(CanSendMessage) }
func (s *Session) CanJoinGroup() bool        { return s.Can(CanJoinGroup) }
func (s *Session) CanCreateGroup() bool      { return s.Can(CanCreateGroup) }
func (s *Session) CanViewPublicGroups() bool { return s.Can(CanViewPublicGroups) }

// Require 在能力不可用时返回 *StateError。
func (s *Session) Require(op string, c Capability) error {
	if s.Can(c) {
		return nil
	}
	return &StateError{Op: op, State: s.State()}
}

// RequireAuthenticated 要求已登录，返回登录用户名。
func (s *Session) RequireAuthenticated(op string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.state != Authenticated {
		return "", &StateError{Op: op, State: s.state}
	}
	return s.user.Username, nil
}

// RequireConnected 要求与服务端保持连接。
func (s *Session) RequireConnected(op string) error {
	if st := s.State(); st == Disconnected {
		return &StateError{Op: op, State: st}
	}
	return nil
}
