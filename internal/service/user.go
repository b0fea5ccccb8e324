package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"relaychat/internal/auth"
	"relaychat/internal/models"
	"relaychat/internal/protocol"
	"relaychat/internal/registry"
	"relaychat/internal/store"
)

const (
	minUsernameLen = 2
	maxUsernameLen = 64
	minPasswordLen = 4
	maxPasswordLen = 128
)

func validateAccount(p protocol.CreateAccountParams) error {
	n := utf8.RuneCountInString(p.Username)
	if n < minUsernameLen || n > maxUsernameLen {
		return fmt.Errorf("%w: username must be %d-%d characters", ErrInvalidArgument, minUsernameLen, maxUsernameLen)
	}
	if strings.IndexFunc(p.Username, unicode.IsSpace) >= 0 {
		return fmt.Errorf("%w: username must not contain spaces", ErrInvalidArgument)
	}
	n = utf8.RuneCountInString(p.Password)
	if n < minPasswordLen || n > maxPasswordLen {
		return fmt.Errorf("%w: password must be %d-%d characters", ErrInvalidArgument, minPasswordLen, maxPasswordLen)
	}
	if strings.TrimSpace(p.FirstName) == "" || strings.TrimSpace(p.LastName) == "" {
		return fmt.Errorf("%w: first and last name are required", ErrInvalidArgument)
	}
	return nil
}

// CreateAccount 注册新用户。
func (s *Service) CreateAccount(ctx context.Context, p protocol.CreateAccountParams) (protocol.UserDTO, error) {
	if err := validateAccount(p); err != nil {
		return protocol.UserDTO{}, err
	}
	exists, err := s.store.UsernameExists(ctx, p.Username)
	if err != nil {
		return protocol.UserDTO{}, s.fault("check username", err)
	}
	if exists {
		return protocol.UserDTO{}, ErrUsernameTaken
	}
	hash, err := auth.HashPassword(p.Password)
	if err != nil {
		return protocol.UserDTO{}, err
	}
	u := models.User{
		Username:     p.Username,
		FirstName:    strings.TrimSpace(p.FirstName),
		LastName:     strings.TrimSpace(p.LastName),
		PasswordHash: hash,
	}
	if err := s.store.CreateUser(ctx, &u); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return protocol.UserDTO{}, ErrUsernameTaken
		}
		return protocol.UserDTO{}, s.fault("create user", err)
	}
	s.log.Info().Str("username", u.Username).Msg("account created")
	return protocol.UserFrom(u), nil
}

// Login 校验用户名密码并签发访问 token。
func (s *Service) Login(ctx context.Context, username, password string) (protocol.LoginResult, error) {
	u, err := s.store.UserByUsername(ctx, username)
	if errors.Is(err, store.ErrNotFound) {
		return protocol.LoginResult{}, ErrInvalidCredentials
	}
	if err != nil {
		return protocol.LoginResult{}, s.fault("lookup user", err)
	}
	if !auth.VerifyPassword(u.PasswordHash, password) {
		return protocol.LoginResult{}, ErrInvalidCredentials
	}
	token, err := auth.GenerateAccessToken(u.ID, u.Username, s.opts.JWTSecret, s.opts.TokenTTLMinutes)
	if err != nil {
		return protocol.LoginResult{}, err
	}
	s.log.Info().Str("username", u.Username).Msg("login")
	return protocol.LoginResult{User: protocol.UserFrom(*u), Token: token}, nil
}

func (s *Service) UsernameExists(ctx context.Context, username string) (bool, error) {
	ok, err := s.store.UsernameExists(ctx, username)
	if err != nil {
		return false, s.fault("check username", err)
	}
	return ok, nil
}

// Logout 移除用户的在线句柄；未登记时什么也不做。
// Logout 只移除 cb 持有的推送句柄；被新会话替换的旧连接登出不影响新会话。
func (s *Service) Logout(_ context.Context, username string, cb protocol.Callback) {
	released := s.reg.UnregisterIf(username, cb)
	s.log.Info().Str("username", username).Bool("released", released).Msg("logout")
}

func (s *Service) SearchUsers(ctx context.Context, term string, limit int) ([]protocol.UserDTO, error) {
	term = strings.TrimSpace(term)
	if term == "" {
		return []protocol.UserDTO{}, nil
	}
	if limit <= 0 || limit > maxSearchLimit {
		limit = maxSearchLimit
	}
	users, err := s.store.SearchUsers(ctx, term, limit)
	if err != nil {
		return nil, s.fault("search users", err)
	}
	out := make([]protocol.UserDTO, 0, len(users))
	for _, u := range users {
		out = append(out, protocol.UserFrom(u))
	}
	return out, nil
}

// RegisterClient 登记 username 的推送句柄；被替换的旧句柄会收到 disconnected。
func (s *Service) RegisterClient(ctx context.Context, username string, cb protocol.Callback) error {
	if _, err := s.user(ctx, username); err != nil {
		return err
	}
	prev := s.reg.Register(username, cb)
	if prev != nil && !registry.SameHandle(prev, cb) {
		s.sendDirect(ctx, username, prev, registry.Disconnected("session replaced"))
	}
	return nil
}

// UnregisterClient 移除 username 的推送句柄。
func (s *Service) UnregisterClient(_ context.Context, username string) {
	s.reg.Unregister(username)
}

// ReleaseClient 在连接关闭时调用，只移除仍属于该连接的句柄。
func (s *Service) ReleaseClient(username string, cb protocol.Callback) {
	s.reg.UnregisterIf(username, cb)
}

// Shutdown 通知所有在线客户端服务即将停止。
func (s *Service) Shutdown(ctx context.Context) {
	n := s.reg.BroadcastAll(ctx, registry.Disconnected("server shutting down"))
	s.log.Info().Int("notified", n).Msg("shutdown broadcast")
}

// sendDirect 向已不在目录中的句柄推送，故障只记录。
func (s *Service) sendDirect(ctx context.Context, username string, cb protocol.Callback, op registry.Op) {
	defer func() {
		if rec := recover(); rec != nil {
			s.log.Warn().Str("username", username).Str("event", op.Event).Interface("panic", rec).Msg("push failed")
		}
	}()
	if err := op.Call(ctx, cb); err != nil {
		s.log.Warn().Err(err).Str("username", username).Str("event", op.Event).Msg("push failed")
	}
}
