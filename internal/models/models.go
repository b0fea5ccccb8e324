package models

import (
	"time"

	"relaychat/internal/room"
)

type User struct {
	ID           int64  `gorm:"primaryKey"`
	Username     string `gorm:"uniqueIndex;size:64;not null"`
	FirstName    string `gorm:"size:128;not null"`
	LastName     string `gorm:"size:128;not null"`
	PasswordHash string `gorm:"not null"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// DirectChat 的两个用户名始终按字典序存放，(User1, User2) 唯一。
type DirectChat struct {
	ID            int64  `gorm:"primaryKey"`
	User1         string `gorm:"uniqueIndex:idx_direct_pair;size:64;not null"`
	User2         string `gorm:"uniqueIndex:idx_direct_pair;size:64;not null"`
	CreatedAt     time.Time
	LastMessageAt *time.Time `gorm:"index"`
	User1Archived bool       `gorm:"not null;default:false"`
	User2Archived bool       `gorm:"not null;default:false"`
	User1Blocked  bool       `gorm:"not null;default:false"`
	User2Blocked  bool       `gorm:"not null;default:false"`
}

// Other 返回对话中的另一方。
func (d DirectChat) Other(username string) string {
	if username == d.User1 {
		return d.User2
	}
	return d.User1
}

func (d DirectChat) Has(username string) bool { return username == d.User1 || username == d.User2 }

// BlockedEitherWay 判断任一方是否屏蔽了对话。
func (d DirectChat) BlockedEitherWay() bool { return d.User1Blocked || d.User2Blocked }

func (d DirectChat) ArchivedBy(username string) bool {
	switch username {
	case d.User1:
		return d.User1Archived
	case d.User2:
		return d.User2Archived
	}
	return false
}

type GroupChat struct {
	ID          int64  `gorm:"primaryKey"`
	Name        string `gorm:"size:128;not null"`
	Description string `gorm:"type:text;not null;default:''"`
	Creator     string `gorm:"size:64;not null"`
	Private     bool   `gorm:"index;not null;default:false"`
	MaxMembers  int    `gorm:"not null;default:0"`
	CreatedAt   time.Time
}

type GroupMember struct {
	ID        int64     `gorm:"primaryKey"`
	RoomID    int64     `gorm:"uniqueIndex:idx_member_room_user;not null"`
	Username  string    `gorm:"uniqueIndex:idx_member_room_user;index;size:64;not null"`
	Role      room.Role `gorm:"size:16;not null"`
	Joined    time.Time `gorm:"not null"`
	InvitedBy string    `gorm:"size:64"`
}

func (m GroupMember) MemberRole() room.Role { return m.Role }
func (m GroupMember) JoinedAt() time.Time   { return m.Joined }

// Message.RoomRef 使用有符号约定：正数为群聊 id，负数为 -私聊 id。
type Message struct {
	ID       int64     `gorm:"primaryKey"`
	RoomRef  room.Ref  `gorm:"index:idx_msg_room_ref;not null"`
	Sender   string    `gorm:"index;size:64;not null"`
	Content  string    `gorm:"type:text;not null"`
	SentAt   time.Time `gorm:"index:idx_msg_room_ref;not null"`
	Edited   bool      `gorm:"not null;default:false"`
	EditedAt *time.Time
	Deleted  bool `gorm:"not null;default:false"`
}
