package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"relaychat/internal/protocol"
	"relaychat/internal/registry"
	"relaychat/internal/store"
)

// CreateDirectChat 创建或返回两人之间唯一的私聊；只有新建时才通知双方。
func (s *Service) CreateDirectChat(ctx context.Context, user1, user2 string) (protocol.DirectChatDTO, error) {
	user1, user2 = strings.TrimSpace(user1), strings.TrimSpace(user2)
	if user1 == "" || user2 == "" || user1 == user2 {
		return protocol.DirectChatDTO{}, fmt.Errorf("%w: a direct chat needs two distinct users", ErrInvalidArgument)
	}
	for _, u := range []string{user1, user2} {
		if _, err := s.user(ctx, u); err != nil {
			return protocol.DirectChatDTO{}, err
		}
	}

	d, created, err := s.store.CreateDirectChat(ctx, user1, user2)
	if err != nil {
		return protocol.DirectChatDTO{}, s.fault("create direct chat", err)
	}
	if created {
		s.log.Info().Int64("direct_chat_id", d.ID).Str("user1", d.User1).Str("user2", d.User2).Msg("direct chat created")
		for _, u := range []string{d.User1, d.User2} {
			s.reg.Notify(ctx, u, registry.DirectChatCreated(protocol.DirectChatFrom(*d, u)))
		}
	}
	return protocol.DirectChatFrom(*d, user1), nil
}

// GetDirectChat 查找两人之间的私聊，参数顺序无关。
func (s *Service) GetDirectChat(ctx context.Context, user1, user2 string) (protocol.DirectChatDTO, error) {
	d, err := s.store.DirectChat(ctx, user1, user2)
	if errors.Is(err, store.ErrNotFound) {
		return protocol.DirectChatDTO{}, ErrDirectChatNotFound
	}
	if err != nil {
		return protocol.DirectChatDTO{}, s.fault("lookup direct chat", err)
	}
	return protocol.DirectChatFrom(*d, user1), nil
}

func (s *Service) GetUserDirectChats(ctx context.Context, username string) ([]protocol.DirectChatDTO, error) {
	chats, err := s.store.UserDirectChats(ctx, username)
	if err != nil {
		return nil, s.fault("list direct chats", err)
	}
	out := make([]protocol.DirectChatDTO, 0, len(chats))
	for _, d := range chats {
		out = append(out, protocol.DirectChatFrom(d, username))
	}
	return out, nil
}

// UpdateDirectChatSettings 修改请求者自己一侧的归档与屏蔽标记。
func (s *Service) UpdateDirectChatSettings(ctx context.Context, p protocol.DirectChatSettingsParams) (protocol.DirectChatDTO, error) {
	d, err := s.directChat(ctx, p.DirectChatID)
	if err != nil {
		return protocol.DirectChatDTO{}, err
	}
	if !d.Has(p.Username) {
		return protocol.DirectChatDTO{}, fmt.Errorf("%w: not a participant", ErrForbidden)
	}
	set := store.DirectChatSettings{Archived: p.Archived, Blocked: p.Blocked}
	if err := s.store.UpdateDirectChatSettings(ctx, d.ID, p.Username, set); err != nil {
		return protocol.DirectChatDTO{}, s.fault("update direct chat settings", err)
	}
	d, err = s.directChat(ctx, d.ID)
	if err != nil {
		return protocol.DirectChatDTO{}, err
	}
	return protocol.DirectChatFrom(*d, p.Username), nil
}
