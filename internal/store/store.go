// Package store 定义协调服务消费的持久化接口。
package store

import (
	"context"
	"errors"
	"time"

	"relaychat/internal/models"
	"relaychat/internal/room"
)

var (
	ErrNotFound = errors.New("record not found")
	ErrConflict = errors.New("record already exists")
	ErrFull     = errors.New("capacity reached")
)

type Users interface {
	// CreateUser 在用户名已存在时返回 ErrConflict。
	CreateUser(ctx context.Context, u *models.User) error
	UserByUsername(ctx context.Context, username string) (*models.User, error)
	UserByID(ctx context.Context, id int64) (*models.User, error)
	UsernameExists(ctx context.Context, username string) (bool, error)
	SearchUsers(ctx context.Context, term string, limit int) ([]models.User, error)
}

// DirectChatSettings 中为 nil 的字段保持不变。
type DirectChatSettings struct {
	Archived *bool
	Blocked  *bool
}

type DirectChats interface {
	// CreateDirectChat 按规范顺序插入；已存在时返回既有行且 created 为 false。
	CreateDirectChat(ctx context.Context, a, b string) (chat *models.DirectChat, created bool, err error)
	DirectChat(ctx context.Context, a, b string) (*models.DirectChat, error)
	DirectChatByID(ctx context.Context, id int64) (*models.DirectChat, error)
	// UserDirectChats 隐藏该用户已归档的对话，按最近活动倒序。
	UserDirectChats(ctx context.Context, username string) ([]models.DirectChat, error)
	TouchDirectChat(ctx context.Context, id int64, at time.Time) error
	UpdateDirectChatSettings(ctx context.Context, id int64, username string, s DirectChatSettings) error
}

type Groups interface {
	// CreateGroupChat 同时写入创建者的 CREATOR 成员记录。
	CreateGroupChat(ctx context.Context, g *models.GroupChat) error
	GroupChat(ctx context.Context, id int64) (*models.GroupChat, error)
	PublicGroupChats(ctx context.Context) ([]models.GroupChat, error)
	UserGroupChats(ctx context.Context, username string) ([]models.GroupChat, error)
	SearchGroupChats(ctx context.Context, term string, limit int) ([]models.GroupChat, error)
	UpdateGroupName(ctx context.Context, id int64, name string) error
	DeleteGroupChat(ctx context.Context, id int64) error
}

type Members interface {
	// AddMember 是幂等插入：重复时 added 为 false 且不报错。
	// limit > 0 时人数检查与插入原子完成，已满返回 ErrFull。
	AddMember(ctx context.Context, m *models.GroupMember, limit int) (added bool, err error)
	// RemoveMember 原子地移除成员。sole 为 true 时只有在该成员是最后一人时才移除，
	// 否则返回 ErrConflict。最后一名成员离开时群聊一并删除，emptied 为 true。
	RemoveMember(ctx context.Context, roomID int64, username string, sole bool) (removed, emptied bool, err error)
	SetRole(ctx context.Context, roomID int64, username string, role room.Role) error
	// RoleOf 在用户不是成员时返回 ErrNotFound。
	RoleOf(ctx context.Context, roomID int64, username string) (room.Role, error)
	Members(ctx context.Context, roomID int64) ([]models.GroupMember, error)
	CountMembers(ctx context.Context, roomID int64) (int, error)
}

type Messages interface {
	SaveMessage(ctx context.Context, m *models.Message) error
	MessageByID(ctx context.Context, id int64) (*models.Message, error)
	// MessagesByRef 返回最新的 limit 条，按时间升序。
	MessagesByRef(ctx context.Context, ref room.Ref, limit int) ([]models.Message, error)
	MessagesAfter(ctx context.Context, ref room.Ref, after time.Time) ([]models.Message, error)
	EditMessage(ctx context.Context, id int64, content string, at time.Time) error
	DeleteMessage(ctx context.Context, id int64) error
}

type Store interface {
	Users
	DirectChats
	Groups
	Members
	Messages
}
