// Package service 是协调服务：校验输入、先持久化、再按接收者规则扇出通知。
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"relaychat/internal/models"
	"relaychat/internal/protocol"
	"relaychat/internal/registry"
	"relaychat/internal/room"
	"relaychat/internal/store"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 200
	maxSearchLimit      = 50
)

type Options struct {
	JWTSecret       string
	TokenTTLMinutes int
	// HistoryLimit 是历史消息查询未指定条数时的默认值。
	HistoryLimit int
}

type Service struct {
	store store.Store
	reg   *registry.Registry
	opts  Options
	log   zerolog.Logger
	now   func() time.Time
}

func New(st store.Store, reg *registry.Registry, opts Options, logger zerolog.Logger) *Service {
	if opts.HistoryLimit <= 0 || opts.HistoryLimit > maxHistoryLimit {
		opts.HistoryLimit = defaultHistoryLimit
	}
	if opts.TokenTTLMinutes <= 0 {
		opts.TokenTTLMinutes = 15
	}
	return &Service{
		store: st,
		reg:   reg,
		opts:  opts,
		log:   logger.With().Str("component", "service").Logger(),
		now:   time.Now,
	}
}

// Registry 暴露客户端目录，供传输层在连接关闭时清理。
func (s *Service) Registry() *registry.Registry { return s.reg }

// fault 记录持久化故障并包装返回，调用方看到的是通用失败。
func (s *Service) fault(op string, err error) error {
	s.log.Error().Err(err).Str("op", op).Msg("persistence fault")
	return fmt.Errorf("%s: %w", op, err)
}

func (s *Service) historyLimit(limit int) int {
	switch {
	case limit <= 0:
		return s.opts.HistoryLimit
	case limit > maxHistoryLimit:
		return maxHistoryLimit
	default:
		return limit
	}
}

func (s *Service) user(ctx context.Context, username string) (*models.User, error) {
	u, err := s.store.UserByUsername(ctx, username)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrUserNotFound, username)
	}
	if err != nil {
		return nil, s.fault("lookup user", err)
	}
	return u, nil
}

func (s *Service) group(ctx context.Context, roomID int64) (*models.GroupChat, error) {
	g, err := s.store.GroupChat(ctx, roomID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %d", ErrRoomNotFound, roomID)
	}
	if err != nil {
		return nil, s.fault("lookup group", err)
	}
	return g, nil
}

func (s *Service) directChat(ctx context.Context, id int64) (*models.DirectChat, error) {
	d, err := s.store.DirectChatByID(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %d", ErrDirectChatNotFound, id)
	}
	if err != nil {
		return nil, s.fault("lookup direct chat", err)
	}
	return d, nil
}

// roleOf 返回成员角色；不是成员时 ok 为 false。
func (s *Service) roleOf(ctx context.Context, roomID int64, username string) (role room.Role, ok bool, err error) {
	role, err = s.store.RoleOf(ctx, roomID, username)
	if errors.Is(err, store.ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, s.fault("lookup role", err)
	}
	return role, true, nil
}

func (s *Service) roomDTO(ctx context.Context, g models.GroupChat) (protocol.RoomDTO, error) {
	members, err := s.store.Members(ctx, g.ID)
	if err != nil {
		return protocol.RoomDTO{}, s.fault("list members", err)
	}
	return protocol.RoomFrom(g, members), nil
}

func (s *Service) roomDTOs(ctx context.Context, groups []models.GroupChat) ([]protocol.RoomDTO, error) {
	out := make([]protocol.RoomDTO, 0, len(groups))
	for _, g := range groups {
		dto, err := s.roomDTO(ctx, g)
		if err != nil {
			return nil, err
		}
		out = append(out, dto)
	}
	return out, nil
}

// notifyRef 按房间引用的符号选择接收者：群聊为全部当前成员，私聊为两个参与者。
func (s *Service) notifyRef(ctx context.Context, ref room.Ref, op registry.Op) {
	topic, err := room.Resolve(ref)
	if err != nil {
		s.log.Warn().Err(err).Int64("room_ref", int64(ref)).Msg("notify skipped")
		return
	}
	switch topic.Kind {
	case room.KindGroup:
		if _, err := s.reg.BroadcastToRoom(ctx, topic.ID, op); err != nil {
			s.log.Warn().Err(err).Int64("room_id", topic.ID).Str("event", op.Event).Msg("notify room failed")
		}
	case room.KindDirect:
		d, err := s.store.DirectChatByID(ctx, topic.ID)
		if err != nil {
			s.log.Warn().Err(err).Int64("direct_chat_id", topic.ID).Str("event", op.Event).Msg("notify pair failed")
			return
		}
		s.reg.BroadcastToPair(ctx, d.User1, d.User2, op)
	}
}
