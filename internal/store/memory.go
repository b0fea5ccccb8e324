package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"relaychat/internal/models"
	"relaychat/internal/room"
)

// Memory 是进程内实现，用于测试以及 STORE_DRIVER=memory 的开发模式。
type Memory struct {
	mu       sync.RWMutex
	seq      int64
	users    map[string]models.User
	directs  map[int64]models.DirectChat
	groups   map[int64]models.GroupChat
	members  map[int64]map[string]models.GroupMember
	messages map[int64]models.Message
	order    []int64
}

var _ Store = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{
		users:    make(map[string]models.User),
		directs:  make(map[int64]models.DirectChat),
		groups:   make(map[int64]models.GroupChat),
		members:  make(map[int64]map[string]models.GroupMember),
		messages: make(map[int64]models.Message),
	}
}

func (s *Memory) nextID() int64 {
	s.seq++
	return s.seq
}

func (s *Memory) CreateUser(_ context.Context, u *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[u.Username]; ok {
		return ErrConflict
	}
	now := time.Now()
	u.ID = s.nextID()
	u.CreatedAt, u.UpdatedAt = now, now
	s.users[u.Username] = *u
	return nil
}

func (s *Memory) UserByUsername(_ context.Context, username string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[username]
	if !ok {
		return nil, ErrNotFound
	}
	return &u, nil
}

func (s *Memory) UserByID(_ context.Context, id int64) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users {
		if u.ID == id {
			return &u, nil
		}
	}
	return nil, ErrNotFound
}

func (s *Memory) UsernameExists(_ context.Context, username string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.users[username]
	return ok, nil
}

func (s *Memory) SearchUsers(_ context.Context, term string, limit int) ([]models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	term = strings.ToLower(term)
	out := make([]models.User, 0)
	for _, u := range s.users {
		full := strings.ToLower(u.FirstName + " " + u.LastName)
		if strings.Contains(strings.ToLower(u.Username), term) || strings.Contains(full, term) {
			out = append(out, u)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		ei, ej := strings.EqualFold(out[i].Username, term), strings.EqualFold(out[j].Username, term)
		if ei != ej {
			return ei
		}
		return out[i].Username < out[j].Username
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Memory) findDirect(a, b string) (models.DirectChat, bool) {
	first, second := room.CanonicalPair(a, b)
	for _, d := range s.directs {
		if d.User1 == first && d.User2 == second {
			return d, true
		}
	}
	return models.DirectChat{}, false
}

func (s *Memory) CreateDirectChat(_ context.Context, a, b string) (*models.DirectChat, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d, ok := s.findDirect(a, b); ok {
		return &d, false, nil
	}
	first, second := room.CanonicalPair(a, b)
	d := models.DirectChat{ID: s.nextID(), User1: first, User2: second, CreatedAt: time.Now()}
	s.directs[d.ID] = d
	return &d, true, nil
}

func (s *Memory) DirectChat(_ context.Context, a, b string) (*models.DirectChat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.findDirect(a, b)
	if !ok {
		return nil, ErrNotFound
	}
	return &d, nil
}

func (s *Memory) DirectChatByID(_ context.Context, id int64) (*models.DirectChat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.directs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &d, nil
}

func (s *Memory) UserDirectChats(_ context.Context, username string) ([]models.DirectChat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.DirectChat, 0)
	for _, d := range s.directs {
		if d.Has(username) && !d.ArchivedBy(username) {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		ai, aj := activity(out[i]), activity(out[j])
		if !ai.Equal(aj) {
			return ai.After(aj)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

func activity(d models.DirectChat) time.Time {
	if d.LastMessageAt != nil {
		return *d.LastMessageAt
	}
	return d.CreatedAt
}

func (s *Memory) TouchDirectChat(_ context.Context, id int64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.directs[id]
	if !ok {
		return ErrNotFound
	}
	d.LastMessageAt = &at
	s.directs[id] = d
	return nil
}

func (s *Memory) UpdateDirectChatSettings(_ context.Context, id int64, username string, set DirectChatSettings) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.directs[id]
	if !ok || !d.Has(username) {
		return ErrNotFound
	}
	first := username == d.User1
	if set.Archived != nil {
		if first {
			d.User1Archived = *set.Archived
		} else {
			d.User2Archived = *set.Archived
		}
	}
	if set.Blocked != nil {
		if first {
			d.User1Blocked = *set.Blocked
		} else {
			d.User2Blocked = *set.Blocked
		}
	}
	s.directs[id] = d
	return nil
}

func (s *Memory) CreateGroupChat(_ context.Context, g *models.GroupChat) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	g.ID = s.nextID()
	g.CreatedAt = time.Now()
	s.groups[g.ID] = *g
	s.members[g.ID] = map[string]models.GroupMember{
		g.Creator: {ID: s.nextID(), RoomID: g.ID, Username: g.Creator, Role: room.RoleCreator, Joined: g.CreatedAt},
	}
	return nil
}

func (s *Memory) GroupChat(_ context.Context, id int64) (*models.GroupChat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.groups[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &g, nil
}

func (s *Memory) sortedGroups(keep func(models.GroupChat) bool) []models.GroupChat {
	out := make([]models.GroupChat, 0)
	for _, g := range s.groups {
		if keep(g) {
			out = append(out, g)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out
}

func (s *Memory) PublicGroupChats(_ context.Context) ([]models.GroupChat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sortedGroups(func(g models.GroupChat) bool { return !g.Private }), nil
}

func (s *Memory) UserGroupChats(_ context.Context, username string) ([]models.GroupChat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sortedGroups(func(g models.GroupChat) bool {
		_, ok := s.members[g.ID][username]
		return ok
	}), nil
}

func (s *Memory) SearchGroupChats(_ context.Context, term string, limit int) ([]models.GroupChat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	term = strings.ToLower(term)
	out := s.sortedGroups(func(g models.GroupChat) bool {
		return !g.Private && (strings.Contains(strings.ToLower(g.Name), term) ||
			strings.Contains(strings.ToLower(g.Description), term))
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Memory) UpdateGroupName(_ context.Context, id int64, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.groups[id]
	if !ok {
		return ErrNotFound
	}
	g.Name = name
	s.groups[id] = g
	return nil
}

func (s *Memory) DeleteGroupChat(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.groups[id]; !ok {
		return ErrNotFound
	}
	delete(s.groups, id)
	delete(s.members, id)
	return nil
}

func (s *Memory) AddMember(_ context.Context, m *models.GroupMember, limit int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.groups[m.RoomID]; !ok {
		return false, ErrNotFound
	}
	set := s.members[m.RoomID]
	if set == nil {
		set = make(map[string]models.GroupMember)
		s.members[m.RoomID] = set
	}
	if _, ok := set[m.Username]; ok {
		return false, nil
	}
	if limit > 0 && len(set) >= limit {
		return false, ErrFull
	}
	m.ID = s.nextID()
	if m.Joined.IsZero() {
		m.Joined = time.Now()
	}
	set[m.Username] = *m
	return true, nil
}

func (s *Memory) RemoveMember(_ context.Context, roomID int64, username string, sole bool) (bool, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	set := s.members[roomID]
	if _, ok := set[username]; !ok {
		return false, false, nil
	}
	if sole && len(set) > 1 {
		return false, false, ErrConflict
	}
	delete(set, username)
	if len(set) > 0 {
		return true, false, nil
	}
	delete(s.members, roomID)
	delete(s.groups, roomID)
	return true, true, nil
}

func (s *Memory) SetRole(_ context.Context, roomID int64, username string, role room.Role) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.members[roomID][username]
	if !ok {
		return ErrNotFound
	}
	m.Role = role
	s.members[roomID][username] = m
	return nil
}

func (s *Memory) RoleOf(_ context.Context, roomID int64, username string) (room.Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.members[roomID][username]
	if !ok {
		return "", ErrNotFound
	}
	return m.Role, nil
}

func (s *Memory) Members(_ context.Context, roomID int64) ([]models.GroupMember, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.GroupMember, 0, len(s.members[roomID]))
	for _, m := range s.members[roomID] {
		out = append(out, m)
	}
	// 同一时刻加入时以 id 保证稳定顺序
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	room.SortMembers(out)
	return out, nil
}

func (s *Memory) CountMembers(_ context.Context, roomID int64) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.members[roomID]), nil
}

func (s *Memory) SaveMessage(_ context.Context, m *models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m.ID = s.nextID()
	if m.SentAt.IsZero() {
		m.SentAt = time.Now()
	}
	s.messages[m.ID] = *m
	s.order = append(s.order, m.ID)
	return nil
}

func (s *Memory) MessageByID(_ context.Context, id int64) (*models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.messages[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &m, nil
}

func (s *Memory) MessagesByRef(_ context.Context, ref room.Ref, limit int) ([]models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Message, 0)
	for _, id := range s.order {
		if m := s.messages[id]; m.RoomRef == ref {
			out = append(out, m)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (s *Memory) MessagesAfter(_ context.Context, ref room.Ref, after time.Time) ([]models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Message, 0)
	for _, id := range s.order {
		if m := s.messages[id]; m.RoomRef == ref && m.SentAt.After(after) {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *Memory) EditMessage(_ context.Context, id int64, content string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[id]
	if !ok || m.Deleted {
		return ErrNotFound
	}
	m.Content = content
	m.Edited = true
	m.EditedAt = &at
	s.messages[id] = m
	return nil
}

func (s *Memory) DeleteMessage(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[id]
	if !ok {
		return ErrNotFound
	}
	m.Deleted = true
	s.messages[id] = m
	return nil
}
