package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"relaychat/internal/models"
	"relaychat/internal/protocol"
	"relaychat/internal/registry"
	"relaychat/internal/room"
	"relaychat/internal/store"
)

const maxGroupNameLen = 100

func validateGroupName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" || utf8.RuneCountInString(name) > maxGroupNameLen {
		return "", fmt.Errorf("%w: group name must be 1-%d characters", ErrInvalidArgument, maxGroupNameLen)
	}
	return name, nil
}

// CreateGroupChat 创建群聊，创建者成为 CREATOR；公开群聊会通知所有在线客户端。
func (s *Service) CreateGroupChat(ctx context.Context, p protocol.CreateGroupParams) (protocol.RoomDTO, error) {
	name, err := validateGroupName(p.Name)
	if err != nil {
		return protocol.RoomDTO{}, err
	}
	if p.MaxMembers < 0 {
		return protocol.RoomDTO{}, fmt.Errorf("%w: max members must not be negative", ErrInvalidArgument)
	}
	if _, err := s.user(ctx, p.Creator); err != nil {
		return protocol.RoomDTO{}, err
	}

	g := models.GroupChat{
		Name:        name,
		Description: strings.TrimSpace(p.Description),
		Creator:     p.Creator,
		Private:     p.Private,
		MaxMembers:  p.MaxMembers,
	}
	if err := s.store.CreateGroupChat(ctx, &g); err != nil {
		return protocol.RoomDTO{}, s.fault("create group", err)
	}
	dto, err := s.roomDTO(ctx, g)
	if err != nil {
		return protocol.RoomDTO{}, err
	}
	s.log.Info().Int64("room_id", g.ID).Str("creator", g.Creator).Bool("private", g.Private).Msg("group created")

	if !g.Private {
		s.reg.BroadcastAll(ctx, registry.GroupChatCreated(dto))
	}
	return dto, nil
}

func (s *Service) GetGroupChat(ctx context.Context, roomID int64) (protocol.RoomDTO, error) {
	g, err := s.group(ctx, roomID)
	if err != nil {
		return protocol.RoomDTO{}, err
	}
	return s.roomDTO(ctx, *g)
}

func (s *Service) GetPublicGroupChats(ctx context.Context) ([]protocol.RoomDTO, error) {
	groups, err := s.store.PublicGroupChats(ctx)
	if err != nil {
		return nil, s.fault("list public groups", err)
	}
	return s.roomDTOs(ctx, groups)
}

func (s *Service) GetUserGroupChats(ctx context.Context, username string) ([]protocol.RoomDTO, error) {
	groups, err := s.store.UserGroupChats(ctx, username)
	if err != nil {
		return nil, s.fault("list user groups", err)
	}
	return s.roomDTOs(ctx, groups)
}

func (s *Service) SearchGroupChats(ctx context.Context, term string, limit int) ([]protocol.RoomDTO, error) {
	term = strings.TrimSpace(term)
	if term == "" {
		return []protocol.RoomDTO{}, nil
	}
	if limit <= 0 || limit > maxSearchLimit {
		limit = maxSearchLimit
	}
	groups, err := s.store.SearchGroupChats(ctx, term, limit)
	if err != nil {
		return nil, s.fault("search groups", err)
	}
	return s.roomDTOs(ctx, groups)
}

func (s *Service) GetGroupChatMembers(ctx context.Context, roomID int64) ([]protocol.MemberDTO, error) {
	if _, err := s.group(ctx, roomID); err != nil {
		return nil, err
	}
	members, err := s.store.Members(ctx, roomID)
	if err != nil {
		return nil, s.fault("list members", err)
	}
	out := make([]protocol.MemberDTO, 0, len(members))
	for _, m := range members {
		out = append(out, protocol.MemberFrom(m))
	}
	return out, nil
}

// admit 执行加入与邀请共用的部分：重复加入为空操作，满员时拒绝。
func (s *Service) admit(ctx context.Context, g *models.GroupChat, username, invitedBy string) (bool, error) {
	if _, ok, err := s.roleOf(ctx, g.ID, username); err != nil || ok {
		return false, err
	}
	added, err := s.store.AddMember(ctx, &models.GroupMember{
		RoomID:    g.ID,
		Username:  username,
		Role:      room.RoleMember,
		InvitedBy: invitedBy,
	}, g.MaxMembers)
	switch {
	case errors.Is(err, store.ErrFull):
		return false, fmt.Errorf("%w: limit %d", ErrRoomFull, g.MaxMembers)
	case errors.Is(err, store.ErrNotFound):
		return false, ErrRoomNotFound
	case err != nil:
		return false, s.fault("add member", err)
	}
	if added {
		s.log.Info().Int64("room_id", g.ID).Str("username", username).Str("invited_by", invitedBy).Msg("member joined")
		s.broadcastRoom(ctx, g.ID, registry.UserJoinedGroup(g.ID, username, invitedBy), username)
	}
	return added, nil
}

// JoinGroupChat 自助加入公开群聊；私有群聊只能由管理员邀请。
func (s *Service) JoinGroupChat(ctx context.Context, username string, roomID int64) error {
	g, err := s.group(ctx, roomID)
	if err != nil {
		return err
	}
	if g.Private {
		return fmt.Errorf("%w: group is private", ErrForbidden)
	}
	if _, err := s.user(ctx, username); err != nil {
		return err
	}
	_, err = s.admit(ctx, g, username, room.SystemActor)
	return err
}

// AddUserToGroup 由 ADMIN 或 CREATOR 把用户加入群聊。
func (s *Service) AddUserToGroup(ctx context.Context, by string, roomID int64, username string) error {
	g, err := s.group(ctx, roomID)
	if err != nil {
		return err
	}
	if err := s.requireRole(ctx, roomID, by, room.RoleAdmin); err != nil {
		return err
	}
	if _, err := s.user(ctx, username); err != nil {
		return err
	}
	_, err = s.admit(ctx, g, username, by)
	return err
}

// LeaveGroupChat 退出群聊。最后一个成员离开时群聊随之删除；
// 还有其他成员时 CREATOR 不能退出。
func (s *Service) LeaveGroupChat(ctx context.Context, username string, roomID int64) error {
	if _, err := s.group(ctx, roomID); err != nil {
		return err
	}
	role, ok, err := s.roleOf(ctx, roomID, username)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotMember
	}
	return s.depart(ctx, roomID, username, role, false, "")
}

// RemoveUserFromGroup 由 ADMIN 或 CREATOR 移除成员；任何人都可以移除自己，CREATOR 不能被移除。
func (s *Service) RemoveUserFromGroup(ctx context.Context, by string, roomID int64, username string) error {
	if _, err := s.group(ctx, roomID); err != nil {
		return err
	}
	if by == username {
		return s.LeaveGroupChat(ctx, username, roomID)
	}
	if err := s.requireRole(ctx, roomID, by, room.RoleAdmin); err != nil {
		return err
	}
	role, ok, err := s.roleOf(ctx, roomID, username)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotMember
	}
	if role == room.RoleCreator {
		return fmt.Errorf("%w: the creator cannot be removed", ErrForbidden)
	}
	return s.depart(ctx, roomID, username, role, true, by)
}

// depart 先取成员快照再删除，保证离开者本人也收到 user-left 通知。
// CREATOR 只能在独自一人时离开；删除与空群清理在存储层原子完成。
func (s *Service) depart(ctx context.Context, roomID int64, username string, role room.Role, removed bool, by string) error {
	members, err := s.store.Members(ctx, roomID)
	if err != nil {
		return s.fault("list members", err)
	}
	ok, emptied, err := s.store.RemoveMember(ctx, roomID, username, role == room.RoleCreator)
	switch {
	case errors.Is(err, store.ErrConflict):
		return fmt.Errorf("%w: the creator cannot leave while other members remain", ErrForbidden)
	case err != nil:
		return s.fault("remove member", err)
	case !ok:
		return ErrNotMember
	}
	s.log.Info().Int64("room_id", roomID).Str("username", username).Bool("removed", removed).Msg("member left")

	s.reg.BroadcastTo(ctx, registry.Usernames(members), registry.UserLeftGroup(roomID, username, removed, by))

	if emptied {
		s.log.Info().Int64("room_id", roomID).Msg("group deleted after last member left")
	}
	return nil
}

// PromoteToAdmin 需要调用者为 ADMIN 或 CREATOR；CREATOR 的角色不受影响。
func (s *Service) PromoteToAdmin(ctx context.Context, by, target string, roomID int64) error {
	if _, err := s.group(ctx, roomID); err != nil {
		return err
	}
	if err := s.requireRole(ctx, roomID, by, room.RoleAdmin); err != nil {
		return err
	}
	role, ok, err := s.roleOf(ctx, roomID, target)
	if err != nil {
		return err
	}
	switch {
	case !ok:
		return ErrNotMember
	case role == room.RoleCreator:
		return fmt.Errorf("%w: the creator role cannot be changed", ErrForbidden)
	case role == room.RoleAdmin:
		return nil
	}
	if err := s.store.SetRole(ctx, roomID, target, room.RoleAdmin); err != nil {
		return s.fault("set role", err)
	}
	s.log.Info().Int64("room_id", roomID).Str("username", target).Str("by", by).Msg("promoted to admin")
	s.broadcastRoom(ctx, roomID, registry.PromotedToAdmin(roomID, target, by))
	return nil
}

// DemoteFromAdmin 只有 CREATOR 可以执行。
func (s *Service) DemoteFromAdmin(ctx context.Context, by, target string, roomID int64) error {
	if _, err := s.group(ctx, roomID); err != nil {
		return err
	}
	if err := s.requireRole(ctx, roomID, by, room.RoleCreator); err != nil {
		return err
	}
	role, ok, err := s.roleOf(ctx, roomID, target)
	if err != nil {
		return err
	}
	switch {
	case !ok:
		return ErrNotMember
	case role == room.RoleCreator:
		return fmt.Errorf("%w: the creator role cannot be changed", ErrForbidden)
	case role == room.RoleMember:
		return nil
	}
	if err := s.store.SetRole(ctx, roomID, target, room.RoleMember); err != nil {
		return s.fault("set role", err)
	}
	s.log.Info().Int64("room_id", roomID).Str("username", target).Str("by", by).Msg("demoted from admin")
	s.broadcastRoom(ctx, roomID, registry.DemotedFromAdmin(roomID, target, by))
	return nil
}

// UpdateGroupName 需要调用者为 ADMIN 或 CREATOR。
func (s *Service) UpdateGroupName(ctx context.Context, by string, roomID int64, name string) error {
	name, err := validateGroupName(name)
	if err != nil {
		return err
	}
	if _, err := s.group(ctx, roomID); err != nil {
		return err
	}
	if err := s.requireRole(ctx, roomID, by, room.RoleAdmin); err != nil {
		return err
	}
	if err := s.store.UpdateGroupName(ctx, roomID, name); err != nil {
		return s.fault("rename group", err)
	}
	s.log.Info().Int64("room_id", roomID).Str("name", name).Str("by", by).Msg("group renamed")
	s.broadcastRoom(ctx, roomID, registry.GroupRenamed(roomID, name, by))
	return nil
}

func (s *Service) requireRole(ctx context.Context, roomID int64, username string, min room.Role) error {
	role, ok, err := s.roleOf(ctx, roomID, username)
	if err != nil {
		return err
	}
	if !ok || !role.AtLeast(min) {
		return fmt.Errorf("%w: requires %s in room %d", ErrForbidden, min, roomID)
	}
	return nil
}

func (s *Service) broadcastRoom(ctx context.Context, roomID int64, op registry.Op, excluding ...string) {
	if _, err := s.reg.BroadcastToRoom(ctx, roomID, op, excluding...); err != nil {
		s.log.Warn().Err(err).Int64("room_id", roomID).Str("event", op.Event).Msg("notify room failed")
	}
}
