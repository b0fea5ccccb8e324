// Package protocol 定义客户端与协调服务之间的线上数据结构、方法名、事件名与编解码。
package protocol

import (
	"time"

	"relaychat/internal/models"
	"relaychat/internal/room"
)

type UserDTO struct {
	ID        int64  `json:"id"`
	Username  string `json:"username"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

func UserFrom(u models.User) UserDTO {
	return UserDTO{ID: u.ID, Username: u.Username, FirstName: u.FirstName, LastName: u.LastName}
}

// DirectChatDTO 中的归档与屏蔽标记是针对请求者本人的视图。
type DirectChatDTO struct {
	ID            int64      `json:"id"`
	User1         string     `json:"user1"`
	User2         string     `json:"user2"`
	CreatedAt     time.Time  `json:"created_at"`
	LastMessageAt *time.Time `json:"last_message_at,omitempty"`
	Archived      bool       `json:"archived"`
	Blocked       bool       `json:"blocked"`
}

// Ref 返回该私聊在消息寻址中使用的负数引用。
func (d DirectChatDTO) Ref() room.Ref { return room.EncodeDirect(d.ID) }

func DirectChatFrom(d models.DirectChat, viewer string) DirectChatDTO {
	out := DirectChatDTO{
		ID:            d.ID,
		User1:         d.User1,
		User2:         d.User2,
		CreatedAt:     d.CreatedAt,
		LastMessageAt: d.LastMessageAt,
		Archived:      d.ArchivedBy(viewer),
	}
	switch viewer {
	case d.User1:
		out.Blocked = d.User1Blocked
	case d.User2:
		out.Blocked = d.User2Blocked
	}
	return out
}

type MemberDTO struct {
	RoomID    int64     `json:"room_id"`
	Username  string    `json:"username"`
	Role      room.Role `json:"role"`
	JoinedAt  time.Time `json:"joined_at"`
	InvitedBy string    `json:"invited_by,omitempty"`
}

func MemberFrom(m models.GroupMember) MemberDTO {
	return MemberDTO{RoomID: m.RoomID, Username: m.Username, Role: m.Role, JoinedAt: m.Joined, InvitedBy: m.InvitedBy}
}

// RoomDTO 是群聊的对外视图；Members 与 Admins 按成员排序规则给出用户名。
type RoomDTO struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Type        string    `json:"type"`
	Creator     string    `json:"creator"`
	Description string    `json:"description"`
	Private     bool      `json:"private"`
	MaxMembers  int       `json:"max_members"`
	CreatedAt   time.Time `json:"created_at"`
	Members     []string  `json:"members,omitempty"`
	Admins      []string  `json:"admins,omitempty"`
}

func RoomFrom(g models.GroupChat, members []models.GroupMember) RoomDTO {
	out := RoomDTO{
		ID:          g.ID,
		Name:        g.Name,
		Type:        room.KindGroup.String(),
		Creator:     g.Creator,
		Description: g.Description,
		Private:     g.Private,
		MaxMembers:  g.MaxMembers,
		CreatedAt:   g.CreatedAt,
	}
	for _, m := range members {
		out.Members = append(out.Members, m.Username)
		if m.Role.AtLeast(room.RoleAdmin) {
			out.Admins = append(out.Admins, m.Username)
		}
	}
	return out
}

type MessageDTO struct {
	ID        int64      `json:"id"`
	RoomRef   room.Ref   `json:"room_ref"`
	Sender    string     `json:"sender"`
	Content   string     `json:"content"`
	Timestamp time.Time  `json:"timestamp"`
	Edited    bool       `json:"edited"`
	EditedAt  *time.Time `json:"edited_at,omitempty"`
	Deleted   bool       `json:"deleted"`
}

// MessageFrom 对已删除的消息只保留墓碑，不返回正文。
func MessageFrom(m models.Message) MessageDTO {
	out := MessageDTO{
		ID:        m.ID,
		RoomRef:   m.RoomRef,
		Sender:    m.Sender,
		Content:   m.Content,
		Timestamp: m.SentAt,
		Edited:    m.Edited,
		EditedAt:  m.EditedAt,
		Deleted:   m.Deleted,
	}
	if m.Deleted {
		out.Content = ""
	}
	return out
}

func MessagesFrom(ms []models.Message) []MessageDTO {
	out := make([]MessageDTO, 0, len(ms))
	for _, m := range ms {
		out = append(out, MessageFrom(m))
	}
	return out
}
