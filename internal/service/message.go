package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"relaychat/internal/models"
	"relaychat/internal/protocol"
	"relaychat/internal/registry"
	"relaychat/internal/room"
	"relaychat/internal/store"
)

const maxContentLen = 4000

func validateContent(content string) error {
	if strings.TrimSpace(content) == "" || utf8.RuneCountInString(content) > maxContentLen {
		return fmt.Errorf("%w: message content must be 1-%d characters", ErrInvalidArgument, maxContentLen)
	}
	return nil
}

func (s *Service) message(ctx context.Context, id int64) (*models.Message, error) {
	m, err := s.store.MessageByID(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %d", ErrMessageNotFound, id)
	}
	if err != nil {
		return nil, s.fault("lookup message", err)
	}
	return m, nil
}

// canPost 校验 sender 是否可以向 ref 指向的房间发消息，私聊时返回对应的私聊。
func (s *Service) canPost(ctx context.Context, ref room.Ref, sender string) (*models.DirectChat, error) {
	topic, err := room.Resolve(ref)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}
	if topic.Kind == room.KindGroup {
		if _, err := s.group(ctx, topic.ID); err != nil {
			return nil, err
		}
		if _, ok, err := s.roleOf(ctx, topic.ID, sender); err != nil {
			return nil, err
		} else if !ok {
			return nil, ErrNotMember
		}
		return nil, nil
	}
	d, err := s.directChat(ctx, topic.ID)
	if err != nil {
		return nil, err
	}
	if !d.Has(sender) {
		return nil, fmt.Errorf("%w: not a participant", ErrForbidden)
	}
	if d.BlockedEitherWay() {
		return nil, ErrBlocked
	}
	return d, nil
}

// SendMessage 先持久化再通知：私聊通知两个参与者，群聊通知全部当前成员。
func (s *Service) SendMessage(ctx context.Context, p protocol.SendMessageParams) (protocol.MessageDTO, error) {
	if err := validateContent(p.Content); err != nil {
		return protocol.MessageDTO{}, err
	}
	d, err := s.canPost(ctx, p.RoomRef, p.Sender)
	if err != nil {
		return protocol.MessageDTO{}, err
	}

	m := models.Message{RoomRef: p.RoomRef, Sender: p.Sender, Content: p.Content, SentAt: s.now()}
	if err := s.store.SaveMessage(ctx, &m); err != nil {
		return protocol.MessageDTO{}, s.fault("save message", err)
	}
	if d != nil {
		if err := s.store.TouchDirectChat(ctx, d.ID, m.SentAt); err != nil {
			s.log.Warn().Err(err).Int64("direct_chat_id", d.ID).Msg("touch direct chat failed")
		}
	}
	s.log.Debug().Int64("room_ref", int64(m.RoomRef)).Str("sender", m.Sender).Int64("message_id", m.ID).Msg("message sent")

	dto := protocol.MessageFrom(m)
	if d != nil {
		s.reg.BroadcastToPair(ctx, d.User1, d.User2, registry.MessageReceived(dto))
	} else {
		s.broadcastRoom(ctx, int64(m.RoomRef), registry.MessageReceived(dto))
	}
	return dto, nil
}

// EditMessage 只允许发送者编辑，已删除的消息不能编辑。
func (s *Service) EditMessage(ctx context.Context, id int64, content, editor string) (protocol.MessageDTO, error) {
	if err := validateContent(content); err != nil {
		return protocol.MessageDTO{}, err
	}
	m, err := s.message(ctx, id)
	if err != nil {
		return protocol.MessageDTO{}, err
	}
	if m.Sender != editor {
		return protocol.MessageDTO{}, fmt.Errorf("%w: only the sender can edit a message", ErrForbidden)
	}
	if m.Deleted {
		return protocol.MessageDTO{}, fmt.Errorf("%w: message was deleted", ErrInvalidArgument)
	}

	at := s.now()
	if err := s.store.EditMessage(ctx, id, content, at); err != nil {
		return protocol.MessageDTO{}, s.fault("edit message", err)
	}
	m.Content, m.Edited, m.EditedAt = content, true, &at

	dto := protocol.MessageFrom(*m)
	s.notifyRef(ctx, m.RoomRef, registry.MessageEdited(dto))
	return dto, nil
}

// DeleteMessage 留下墓碑。发送者本人或所在群聊的 ADMIN/CREATOR 可以删除；重复删除为空操作。
func (s *Service) DeleteMessage(ctx context.Context, id int64, deleter string) error {
	m, err := s.message(ctx, id)
	if err != nil {
		return err
	}
	if m.Sender != deleter {
		allowed := false
		if m.RoomRef.IsGroup() {
			role, ok, err := s.roleOf(ctx, int64(m.RoomRef), deleter)
			if err != nil {
				return err
			}
			allowed = ok && role.AtLeast(room.RoleAdmin)
		}
		if !allowed {
			return fmt.Errorf("%w: cannot delete another user's message", ErrForbidden)
		}
	}
	if m.Deleted {
		return nil
	}
	if err := s.store.DeleteMessage(ctx, id); err != nil {
		return s.fault("delete message", err)
	}
	s.log.Info().Int64("message_id", id).Int64("room_ref", int64(m.RoomRef)).Str("by", deleter).Msg("message deleted")
	s.notifyRef(ctx, m.RoomRef, registry.MessageDeleted(id, m.RoomRef))
	return nil
}

// canRead 校验历史读取权限：私有群聊要求成员身份，私聊要求是参与者。
func (s *Service) canRead(ctx context.Context, ref room.Ref, requester string) error {
	topic, err := room.Resolve(ref)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}
	if topic.Kind == room.KindGroup {
		g, err := s.group(ctx, topic.ID)
		if err != nil {
			return err
		}
		if !g.Private {
			return nil
		}
		if _, ok, err := s.roleOf(ctx, g.ID, requester); err != nil {
			return err
		} else if !ok {
			return ErrNotMember
		}
		return nil
	}
	d, err := s.directChat(ctx, topic.ID)
	if err != nil {
		return err
	}
	if !d.Has(requester) {
		return fmt.Errorf("%w: not a participant", ErrForbidden)
	}
	return nil
}

func (s *Service) history(ctx context.Context, ref room.Ref, requester string, limit int) ([]protocol.MessageDTO, error) {
	if err := s.canRead(ctx, ref, requester); err != nil {
		return nil, err
	}
	msgs, err := s.store.MessagesByRef(ctx, ref, s.historyLimit(limit))
	if err != nil {
		return nil, s.fault("list messages", err)
	}
	return protocol.MessagesFrom(msgs), nil
}

// GetGroupChatMessages 返回群聊最新的 limit 条消息，按时间升序。
func (s *Service) GetGroupChatMessages(ctx context.Context, requester string, roomID int64, limit int) ([]protocol.MessageDTO, error) {
	if roomID <= 0 {
		return nil, fmt.Errorf("%w: room id must be positive", ErrInvalidArgument)
	}
	return s.history(ctx, room.GroupRef(roomID), requester, limit)
}

// GetDirectChatMessages 按私聊 id 查询，内部转换为负数引用。
func (s *Service) GetDirectChatMessages(ctx context.Context, requester string, directChatID int64, limit int) ([]protocol.MessageDTO, error) {
	if directChatID <= 0 {
		return nil, fmt.Errorf("%w: direct chat id must be positive", ErrInvalidArgument)
	}
	return s.history(ctx, room.EncodeDirect(directChatID), requester, limit)
}

// GetMessagesAfter 用于断线重连后的补齐。
func (s *Service) GetMessagesAfter(ctx context.Context, requester string, ref room.Ref, after time.Time) ([]protocol.MessageDTO, error) {
	if err := s.canRead(ctx, ref, requester); err != nil {
		return nil, err
	}
	msgs, err := s.store.MessagesAfter(ctx, ref, after)
	if err != nil {
		return nil, s.fault("list messages", err)
	}
	return protocol.MessagesFrom(msgs), nil
}
