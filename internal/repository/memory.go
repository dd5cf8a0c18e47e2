package repository

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"chat-backend/internal/models"

	"github.com/google/uuid"
)

// Memory is an in-process Store with the same atomicity guarantees as the
// Postgres implementation: every method runs under a single lock.
type Memory struct {
	mu sync.RWMutex

	users   map[string]*models.User
	byEmail map[string]string

	chats      map[string]*models.Chat
	directKeys map[string]string

	messages map[string]*models.Message
	byChat   map[string][]string
	reads    map[string]map[string]struct{}
}

func NewMemory() *Memory {
	return &Memory{
		users:      make(map[string]*models.User),
		byEmail:    make(map[string]string),
		chats:      make(map[string]*models.Chat),
		directKeys: make(map[string]string),
		messages:   make(map[string]*models.Message),
		byChat:     make(map[string][]string),
		reads:      make(map[string]map[string]struct{}),
	}
}

func copyUser(u *models.User) models.User {
	return *u
}

func copyChat(c *models.Chat) *models.Chat {
	out := *c
	out.Participants = append([]string(nil), c.Participants...)
	if c.LastMessageAt != nil {
		at := *c.LastMessageAt
		out.LastMessageAt = &at
	}
	return &out
}

func copyMessage(m *models.Message) models.Message {
	out := *m
	out.ReadBy = append([]string(nil), m.ReadBy...)
	out.Sender = nil
	return out
}

func (s *Memory) CreateUser(_ context.Context, u *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	email := strings.ToLower(u.Email)
	if _, ok := s.byEmail[email]; ok {
		return ErrConflict
	}
	if u.ID == "" {
		u.ID = uuid.New().String()
	}
	if _, ok := s.users[u.ID]; ok {
		return ErrConflict
	}
	u.CreatedAt = time.Now().UTC()
	u.LastSeen = time.Unix(0, 0).UTC()
	stored := *u
	s.users[u.ID] = &stored
	s.byEmail[email] = u.ID
	return nil
}

func (s *Memory) GetUser(_ context.Context, id string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := copyUser(u)
	return &out, nil
}

func (s *Memory) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	s.mu.RLock()
	id, ok := s.byEmail[strings.ToLower(email)]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return s.GetUser(ctx, id)
}

func (s *Memory) GetUsers(_ context.Context, ids []string) ([]models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.User
	for _, id := range models.NormalizeIDs(ids) {
		if u, ok := s.users[id]; ok {
			out = append(out, copyUser(u))
		}
	}
	return out, nil
}

func (s *Memory) sortedUsers(match func(*models.User) bool) []models.User {
	var out []models.User
	for _, u := range s.users {
		if match(u) {
			out = append(out, copyUser(u))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

func (s *Memory) ListUsers(_ context.Context) ([]models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sortedUsers(func(*models.User) bool { return true }), nil
}

func (s *Memory) SearchUsers(_ context.Context, query string) ([]models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	q := strings.ToLower(query)
	return s.sortedUsers(func(u *models.User) bool {
		return strings.Contains(strings.ToLower(u.FullName), q)
	}), nil
}

func (s *Memory) SetPresence(_ context.Context, userID string, online bool, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[userID]
	if !ok {
		return ErrNotFound
	}
	if at.Before(u.LastSeen) {
		return nil
	}
	u.Online = online
	u.LastSeen = at
	return nil
}

func (s *Memory) GetChat(_ context.Context, id string) (*models.Chat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.chats[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyChat(c), nil
}

func (s *Memory) CreateGroupChat(_ context.Context, c *models.Chat) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	if _, ok := s.chats[c.ID]; ok {
		return ErrConflict
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	c.IsGroup = true
	c.Participants = models.NormalizeIDs(c.Participants)
	s.chats[c.ID] = copyChat(c)
	return nil
}

func (s *Memory) FindOrCreateDirectChat(_ context.Context, a, b string, at time.Time) (*models.Chat, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := models.DirectKey(a, b)
	if id, ok := s.directKeys[key]; ok {
		return copyChat(s.chats[id]), false, nil
	}
	c := &models.Chat{
		ID:           uuid.New().String(),
		Participants: models.NormalizeIDs([]string{a, b}),
		CreatedAt:    at,
	}
	s.chats[c.ID] = c
	s.directKeys[key] = c.ID
	return copyChat(c), true, nil
}

func sameMembers(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func (s *Memory) FindChatByParticipants(_ context.Context, ids []string) (*models.Chat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	want := models.NormalizeIDs(ids)
	var found *models.Chat
	for _, c := range s.chats {
		if !sameMembers(c.Participants, want) {
			continue
		}
		if found == nil || c.CreatedAt.Before(found.CreatedAt) {
			found = c
		}
	}
	if found == nil {
		return nil, ErrNotFound
	}
	return copyChat(found), nil
}

func (s *Memory) ListChats(_ context.Context, userID string) ([]models.ChatView, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var views []models.ChatView
	for _, c := range s.chats {
		if !c.HasParticipant(userID) {
			continue
		}
		unread := 0
		for _, mid := range s.byChat[c.ID] {
			if _, ok := s.reads[mid][userID]; !ok {
				unread++
			}
		}
		views = append(views, models.ChatView{Chat: *copyChat(c), UnreadCount: unread})
	}
	sort.Slice(views, func(i, j int) bool {
		a, b := views[i].LastMessageAt, views[j].LastMessageAt
		switch {
		case a != nil && b != nil && !a.Equal(*b):
			return a.After(*b)
		case a != nil && b == nil:
			return true
		case a == nil && b != nil:
			return false
		}
		return views[i].CreatedAt.After(views[j].CreatedAt)
	})
	return views, nil
}

func (s *Memory) SearchGroupChats(_ context.Context, query string) ([]models.Chat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	q := strings.ToLower(query)
	var out []models.Chat
	for _, c := range s.chats {
		if c.IsGroup && strings.Contains(strings.ToLower(c.GroupName), q) {
			out = append(out, *copyChat(c))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *Memory) CreateMessage(_ context.Context, m *models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.chats[m.ChatID]
	if !ok {
		return ErrNotFound
	}
	if _, ok := s.users[m.SenderID]; !ok {
		return ErrNotFound
	}
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	if _, ok := s.messages[m.ID]; ok {
		return ErrConflict
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	m.ReadBy = []string{m.SenderID}

	stored := copyMessage(m)
	s.messages[m.ID] = &stored
	s.byChat[m.ChatID] = append(s.byChat[m.ChatID], m.ID)
	s.reads[m.ID] = map[string]struct{}{m.SenderID: {}}

	if c.LastMessageAt == nil || !m.CreatedAt.Before(*c.LastMessageAt) {
		at := m.CreatedAt
		c.LastMessageID = m.ID
		c.LastMessageAt = &at
	}
	return nil
}

func (s *Memory) GetMessages(_ context.Context, ids []string) ([]models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.Message
	for _, id := range ids {
		if m, ok := s.messages[id]; ok {
			out = append(out, copyMessage(m))
		}
	}
	return out, nil
}

func (s *Memory) ListMessages(_ context.Context, chatID string) ([]models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.Message
	for _, id := range s.byChat[chatID] {
		out = append(out, copyMessage(s.messages[id]))
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Memory) MarkRead(_ context.Context, messageIDs []string, userID string, _ time.Time) ([]models.ReadMark, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var marks []models.ReadMark
	seen := make(map[string]struct{}, len(messageIDs))
	for _, id := range messageIDs {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}

		m, ok := s.messages[id]
		if !ok {
			continue
		}
		if c := s.chats[m.ChatID]; c == nil || !c.HasParticipant(userID) {
			continue
		}
		if _, read := s.reads[id][userID]; read {
			continue
		}
		s.reads[id][userID] = struct{}{}
		m.ReadBy = append(m.ReadBy, userID)
		marks = append(marks, models.ReadMark{MessageID: id, ChatID: m.ChatID, UserID: userID})
	}
	return marks, nil
}
