package db

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"relaychat/internal/models"
	"relaychat/internal/room"
	"relaychat/internal/store"
)

// Store 是 store.Store 的 gorm 实现。
type Store struct {
	db *gorm.DB
}

var _ store.Store = (*Store)(nil)

func NewStore(gdb *gorm.DB) *Store { return &Store{db: gdb} }

// memberOrder 与 room.SortMembers 保持一致。
const memberOrder = "CASE role WHEN 'CREATOR' THEN 0 WHEN 'ADMIN' THEN 1 ELSE 2 END, joined ASC, id ASC"

func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return store.ErrNotFound
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return store.ErrConflict
	default:
		return err
	}
}

func likePattern(term string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + strings.ToLower(r.Replace(term)) + "%"
}

func (s *Store) CreateUser(ctx context.Context, u *models.User) error {
	return translate(s.db.WithContext(ctx).Create(u).Error)
}

func (s *Store) UserByUsername(ctx context.Context, username string) (*models.User, error) {
	var u models.User
	if err := s.db.WithContext(ctx).Where("username = ?", username).First(&u).Error; err != nil {
		return nil, translate(err)
	}
	return &u, nil
}

func (s *Store) UserByID(ctx context.Context, id int64) (*models.User, error) {
	var u models.User
	if err := s.db.WithContext(ctx).First(&u, id).Error; err != nil {
		return nil, translate(err)
	}
	return &u, nil
}

func (s *Store) UsernameExists(ctx context.Context, username string) (bool, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&models.User{}).Where("username = ?", username).Count(&n).Error
	return n > 0, err
}

func (s *Store) SearchUsers(ctx context.Context, term string, limit int) ([]models.User, error) {
	var out []models.User
	p := likePattern(term)
	q := s.db.WithContext(ctx).
		Where("LOWER(username) LIKE ? OR LOWER(first_name || ' ' || last_name) LIKE ?", p, p).
		Order(clause.Expr{SQL: "CASE WHEN LOWER(username) = ? THEN 0 ELSE 1 END, username", Vars: []any{strings.ToLower(term)}})
	if limit > 0 {
		q = q.Limit(limit)
	}
	return out, q.Find(&out).Error
}

func (s *Store) CreateDirectChat(ctx context.Context, a, b string) (*models.DirectChat, bool, error) {
	first, second := room.CanonicalPair(a, b)
	d := models.DirectChat{User1: first, User2: second}
	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&d)
	if res.Error != nil {
		return nil, false, translate(res.Error)
	}
	if res.RowsAffected == 1 {
		return &d, true, nil
	}
	existing, err := s.DirectChat(ctx, first, second)
	return existing, false, err
}

func (s *Store) DirectChat(ctx context.Context, a, b string) (*models.DirectChat, error) {
	first, second := room.CanonicalPair(a, b)
	var d models.DirectChat
	if err := s.db.WithContext(ctx).Where("user1 = ? AND user2 = ?", first, second).First(&d).Error; err != nil {
		return nil, translate(err)
	}
	return &d, nil
}

func (s *Store) DirectChatByID(ctx context.Context, id int64) (*models.DirectChat, error) {
	var d models.DirectChat
	if err := s.db.WithContext(ctx).First(&d, id).Error; err != nil {
		return nil, translate(err)
	}
	return &d, nil
}

func (s *Store) UserDirectChats(ctx context.Context, username string) ([]models.DirectChat, error) {
	var out []models.DirectChat
	err := s.db.WithContext(ctx).
		Where("(user1 = ? AND NOT user1_archived) OR (user2 = ? AND NOT user2_archived)", username, username).
		Order("COALESCE(last_message_at, created_at) DESC, id DESC").
		Find(&out).Error
	return out, err
}

func (s *Store) TouchDirectChat(ctx context.Context, id int64, at time.Time) error {
	res := s.db.WithContext(ctx).Model(&models.DirectChat{}).Where("id = ?", id).Update("last_message_at", at)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) UpdateDirectChatSettings(ctx context.Context, id int64, username string, set store.DirectChatSettings) error {
	d, err := s.DirectChatByID(ctx, id)
	if err != nil {
		return err
	}
	if !d.Has(username) {
		return store.ErrNotFound
	}
	col := "user2"
	if username == d.User1 {
		col = "user1"
	}
	updates := map[string]any{}
	if set.Archived != nil {
		updates[col+"_archived"] = *set.Archived
	}
	if set.Blocked != nil {
		updates[col+"_blocked"] = *set.Blocked
	}
	if len(updates) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Model(&models.DirectChat{}).Where("id = ?", id).Updates(updates).Error
}

func (s *Store) CreateGroupChat(ctx context.Context, g *models.GroupChat) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(g).Error; err != nil {
			return translate(err)
		}
		m := models.GroupMember{RoomID: g.ID, Username: g.Creator, Role: room.RoleCreator, Joined: g.CreatedAt}
		return translate(tx.Create(&m).Error)
	})
}

func (s *Store) GroupChat(ctx context.Context, id int64) (*models.GroupChat, error) {
	var g models.GroupChat
	if err := s.db.WithContext(ctx).First(&g, id).Error; err != nil {
		return nil, translate(err)
	}
	return &g, nil
}

func (s *Store) PublicGroupChats(ctx context.Context) ([]models.GroupChat, error) {
	var out []models.GroupChat
	err := s.db.WithContext(ctx).Where("private = ?", false).Order("created_at DESC, id DESC").Find(&out).Error
	return out, err
}

func (s *Store) UserGroupChats(ctx context.Context, username string) ([]models.GroupChat, error) {
	var out []models.GroupChat
	err := s.db.WithContext(ctx).
		Joins("JOIN group_members ON group_members.room_id = group_chats.id").
		Where("group_members.username = ?", username).
		Order("group_chats.created_at DESC, group_chats.id DESC").
		Find(&out).Error
	return out, err
}

func (s *Store) SearchGroupChats(ctx context.Context, term string, limit int) ([]models.GroupChat, error) {
	var out []models.GroupChat
	p := likePattern(term)
	q := s.db.WithContext(ctx).
		Where("private = ?", false).
		Where("LOWER(name) LIKE ? OR LOWER(description) LIKE ?", p, p).
		Order("created_at DESC, id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	return out, q.Find(&out).Error
}

func (s *Store) UpdateGroupName(ctx context.Context, id int64, name string) error {
	res := s.db.WithContext(ctx).Model(&models.GroupChat{}).Where("id = ?", id).Update("name", name)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) DeleteGroupChat(ctx context.Context, id int64) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("room_id = ?", id).Delete(&models.GroupMember{}).Error; err != nil {
			return err
		}
		res := tx.Delete(&models.GroupChat{}, id)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return store.ErrNotFound
		}
		return nil
	})
}

// lockGroup 在事务内锁住群聊行，串行化同一群聊的成员变更。
func lockGroup(tx *gorm.DB, roomID int64) error {
	var g models.GroupChat
	return translate(tx.Clauses(clause.Locking{Strength: "UPDATE"}).Select("id").First(&g, roomID).Error)
}

func countMembers(tx *gorm.DB, roomID int64) (int64, error) {
	var n int64
	err := tx.Model(&models.GroupMember{}).Where("room_id = ?", roomID).Count(&n).Error
	return n, err
}

func (s *Store) AddMember(ctx context.Context, m *models.GroupMember, limit int) (bool, error) {
	if m.Joined.IsZero() {
		m.Joined = time.Now()
	}
	var added bool
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := lockGroup(tx, m.RoomID); err != nil {
			return err
		}
		if limit > 0 {
			var exists int64
			if err := tx.Model(&models.GroupMember{}).Where("room_id = ? AND username = ?", m.RoomID, m.Username).Count(&exists).Error; err != nil {
				return err
			}
			if exists > 0 {
				return nil
			}
			n, err := countMembers(tx, m.RoomID)
			if err != nil {
				return err
			}
			if n >= int64(limit) {
				return store.ErrFull
			}
		}
		res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(m)
		if res.Error != nil {
			return translate(res.Error)
		}
		added = res.RowsAffected == 1
		return nil
	})
	return added, err
}

func (s *Store) RemoveMember(ctx context.Context, roomID int64, username string, sole bool) (bool, bool, error) {
	var removed, emptied bool
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := lockGroup(tx, roomID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil
			}
			return err
		}
		if sole {
			n, err := countMembers(tx, roomID)
			if err != nil {
				return err
			}
			if n > 1 {
				var exists int64
				if err := tx.Model(&models.GroupMember{}).Where("room_id = ? AND username = ?", roomID, username).Count(&exists).Error; err != nil {
					return err
				}
				if exists > 0 {
					return store.ErrConflict
				}
				return nil
			}
		}
		res := tx.Where("room_id = ? AND username = ?", roomID, username).Delete(&models.GroupMember{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		removed = true
		n, err := countMembers(tx, roomID)
		if err != nil || n > 0 {
			return err
		}
		emptied = true
		return tx.Delete(&models.GroupChat{}, roomID).Error
	})
	return removed, emptied, err
}

func (s *Store) SetRole(ctx context.Context, roomID int64, username string, role room.Role) error {
	res := s.db.WithContext(ctx).Model(&models.GroupMember{}).
		Where("room_id = ? AND username = ?", roomID, username).
		Update("role", role)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) RoleOf(ctx context.Context, roomID int64, username string) (room.Role, error) {
	var m models.GroupMember
	err := s.db.WithContext(ctx).Select("role").Where("room_id = ? AND username = ?", roomID, username).First(&m).Error
	if err != nil {
		return "", translate(err)
	}
	return m.Role, nil
}

func (s *Store) Members(ctx context.Context, roomID int64) ([]models.GroupMember, error) {
	var out []models.GroupMember
	err := s.db.WithContext(ctx).Where("room_id = ?", roomID).Order(memberOrder).Find(&out).Error
	return out, err
}

func (s *Store) CountMembers(ctx context.Context, roomID int64) (int, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&models.GroupMember{}).Where("room_id = ?", roomID).Count(&n).Error
	return int(n), err
}

func (s *Store) SaveMessage(ctx context.Context, m *models.Message) error {
	if m.SentAt.IsZero() {
		m.SentAt = time.Now()
	}
	return translate(s.db.WithContext(ctx).Create(m).Error)
}

func (s *Store) MessageByID(ctx context.Context, id int64) (*models.Message, error) {
	var m models.Message
	if err := s.db.WithContext(ctx).First(&m, id).Error; err != nil {
		return nil, translate(err)
	}
	return &m, nil
}

func (s *Store) MessagesByRef(ctx context.Context, ref room.Ref, limit int) ([]models.Message, error) {
	var out []models.Message
	q := s.db.WithContext(ctx).Where("room_ref = ?", ref).Order("sent_at DESC, id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&out).Error; err != nil {
		return nil, err
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func (s *Store) MessagesAfter(ctx context.Context, ref room.Ref, after time.Time) ([]models.Message, error) {
	var out []models.Message
	err := s.db.WithContext(ctx).
		Where("room_ref = ? AND sent_at > ?", ref, after).
		Order("sent_at ASC, id ASC").
		Find(&out).Error
	return out, err
}

func (s *Store) EditMessage(ctx context.Context, id int64, content string, at time.Time) error {
	res := s.db.WithContext(ctx).Model(&models.Message{}).
		Where("id = ? AND NOT deleted", id).
		Updates(map[string]any{"content": content, "edited": true, "edited_at": at})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) DeleteMessage(ctx context.Context, id int64) error {
	res := s.db.WithContext(ctx).Model(&models.Message{}).Where("id = ?", id).Update("deleted", true)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return store.ErrNotFound
	}
	return nil
}
