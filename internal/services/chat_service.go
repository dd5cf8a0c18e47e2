package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"chat-backend/internal/models"
	"chat-backend/internal/repository"

	"go.uber.org/zap"
)

const maxContentLength = 4000

// ChatService is the single persistence-consistency path for chats,
// messages and read receipts, shared by the HTTP and realtime layers.
type ChatService struct {
	chats    repository.ChatStore
	messages repository.MessageStore
	users    repository.UserStore
	log      *zap.Logger
	now      func() time.Time
}

func NewChatService(store repository.Store, log *zap.Logger) *ChatService {
	return &ChatService{
		chats:    store,
		messages: store,
		users:    store,
		log:      log,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (s *ChatService) loadChat(ctx context.Context, chatID, viewer string) (*models.Chat, error) {
	if strings.TrimSpace(chatID) == "" {
		return nil, validationf("chatId is required")
	}
	chat, err := s.chats.GetChat(ctx, chatID)
	if err != nil {
		return nil, storeErr(err, "chat "+chatID)
	}
	// Non-members get the same answer as for a missing chat.
	if viewer != "" && !chat.HasParticipant(viewer) {
		return nil, fmt.Errorf("%w: chat %s", ErrNotFound, chatID)
	}
	return chat, nil
}

func (s *ChatService) usersByID(ctx context.Context, ids []string) (map[string]models.User, error) {
	out := make(map[string]models.User, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	users, err := s.users.GetUsers(ctx, ids)
	if err != nil {
		return nil, storeErr(err, "load users")
	}
	for _, u := range users {
		out[u.ID] = u
	}
	return out, nil
}

// populate resolves participants and last messages for a batch of views.
func (s *ChatService) populate(ctx context.Context, views []models.ChatView) error {
	var userIDs, lastIDs []string
	for _, v := range views {
		userIDs = append(userIDs, v.Participants...)
		if v.LastMessageID != "" {
			lastIDs = append(lastIDs, v.LastMessageID)
		}
	}

	var last []models.Message
	if len(lastIDs) > 0 {
		var err error
		if last, err = s.messages.GetMessages(ctx, lastIDs); err != nil {
			return storeErr(err, "load last messages")
		}
		for _, m := range last {
			userIDs = append(userIDs, m.SenderID)
		}
	}

	users, err := s.usersByID(ctx, models.NormalizeIDs(userIDs))
	if err != nil {
		return err
	}
	lastByID := make(map[string]models.Message, len(last))
	for _, m := range last {
		if u, ok := users[m.SenderID]; ok {
			m.Sender = &u
		}
		lastByID[m.ID] = m
	}

	for i := range views {
		views[i].Users = make([]models.User, 0, len(views[i].Participants))
		for _, id := range views[i].Participants {
			if u, ok := users[id]; ok {
				views[i].Users = append(views[i].Users, u)
			}
		}
		if m, ok := lastByID[views[i].LastMessageID]; ok {
			views[i].LastMessage = &m
		}
	}
	return nil
}

func (s *ChatService) GetChat(ctx context.Context, chatID, viewer string) (*models.ChatView, error) {
	chat, err := s.loadChat(ctx, chatID, viewer)
	if err != nil {
		return nil, err
	}
	views := []models.ChatView{{Chat: *chat}}
	if err := s.populate(ctx, views); err != nil {
		return nil, err
	}
	return &views[0], nil
}

// Membership returns the chat if viewer participates in it.
func (s *ChatService) Membership(ctx context.Context, chatID, viewer string) (*models.Chat, error) {
	return s.loadChat(ctx, chatID, viewer)
}

// CreateChat creates a chat between creator and userIDs. Two participants
// yield the (possibly pre-existing) direct chat; more require a group name
// and make creator the admin.
func (s *ChatService) CreateChat(ctx context.Context, creator string, req models.CreateChatRequest) (*models.Chat, bool, error) {
	ids := models.NormalizeIDs(append(append([]string(nil), req.UserIDs...), creator))
	if len(req.UserIDs) == 0 || len(ids) < 2 {
		return nil, false, validationf("invalid user ids")
	}

	users, err := s.usersByID(ctx, ids)
	if err != nil {
		return nil, false, err
	}
	for _, id := range ids {
		if _, ok := users[id]; !ok {
			return nil, false, fmt.Errorf("%w: user %s", ErrNotFound, id)
		}
	}

	if len(ids) == 2 {
		return s.FindOrCreateDirect(ctx, ids[0], ids[1])
	}

	chat := &models.Chat{
		Participants: ids,
		IsGroup:      true,
		GroupName:    strings.TrimSpace(req.GroupName),
		GroupAdmin:   creator,
		CreatedAt:    s.now(),
	}
	if err := chat.Validate(); err != nil {
		return nil, false, validationf("%v", err)
	}
	if err := s.chats.CreateGroupChat(ctx, chat); err != nil {
		return nil, false, storeErr(err, "create group chat")
	}
	s.log.Info("group chat created", zap.String("chat_id", chat.ID), zap.String("admin", creator), zap.Int("participants", len(ids)))
	return chat, true, nil
}

// FindOrCreateDirect returns the unique direct chat of a and b, creating it
// atomically when absent.
func (s *ChatService) FindOrCreateDirect(ctx context.Context, a, b string) (*models.Chat, bool, error) {
	if a == "" || b == "" || a == b {
		return nil, false, validationf("direct chat needs two distinct users")
	}
	chat, created, err := s.chats.FindOrCreateDirectChat(ctx, a, b, s.now())
	if err != nil {
		return nil, false, storeErr(err, "find or create direct chat")
	}
	if created {
		s.log.Info("direct chat created", zap.String("chat_id", chat.ID), zap.Strings("participants", chat.Participants))
	}
	return chat, created, nil
}

// ChatExists finds the chat whose participant set is exactly userIDs.
// The viewer must be one of them.
func (s *ChatService) ChatExists(ctx context.Context, viewer string, userIDs []string) (*models.ChatView, error) {
	ids := models.NormalizeIDs(userIDs)
	if len(ids) == 0 {
		return nil, validationf("invalid user ids")
	}
	found := false
	for _, id := range ids {
		if id == viewer {
			found = true
			break
		}
	}
	if !found {
		return nil, validationf("requesting user must be one of the participants")
	}

	chat, err := s.chats.FindChatByParticipants(ctx, ids)
	if err != nil {
		return nil, storeErr(err, "chat with "+strings.Join(ids, ","))
	}
	views := []models.ChatView{{Chat: *chat}}
	if err := s.populate(ctx, views); err != nil {
		return nil, err
	}
	return &views[0], nil
}

// ListChats returns userID's chats with unread counts, newest activity first.
func (s *ChatService) ListChats(ctx context.Context, userID string) ([]models.ChatView, error) {
	views, err := s.chats.ListChats(ctx, userID)
	if err != nil {
		return nil, storeErr(err, "list chats")
	}
	if views == nil {
		return []models.ChatView{}, nil
	}
	if err := s.populate(ctx, views); err != nil {
		return nil, err
	}
	return views, nil
}

// SearchGroups finds group chats by name among those viewer belongs to.
func (s *ChatService) SearchGroups(ctx context.Context, query, viewer string) ([]models.Chat, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return []models.Chat{}, nil
	}
	chats, err := s.chats.SearchGroupChats(ctx, query)
	if err != nil {
		return nil, storeErr(err, "search chats")
	}
	out := make([]models.Chat, 0, len(chats))
	for _, c := range chats {
		if c.HasParticipant(viewer) {
			out = append(out, c)
		}
	}
	return out, nil
}

// ListMessages returns the chat's messages in creation order with senders.
func (s *ChatService) ListMessages(ctx context.Context, chatID, viewer string) ([]models.Message, error) {
	chat, err := s.loadChat(ctx, chatID, viewer)
	if err != nil {
		return nil, err
	}
	messages, err := s.messages.ListMessages(ctx, chat.ID)
	if err != nil {
		return nil, storeErr(err, "list messages")
	}
	users, err := s.usersByID(ctx, chat.Participants)
	if err != nil {
		return nil, err
	}
	for i := range messages {
		if u, ok := users[messages[i].SenderID]; ok {
			u := u
			messages[i].Sender = &u
		}
	}
	if messages == nil {
		messages = []models.Message{}
	}
	return messages, nil
}

// ResolveChat finds the chat a message from sender addressed to chatID
// belongs to. An unknown chatID equal to the composite key of sender and a
// single recipient (either order), or an empty chatID with a single
// recipient, resolves to their direct chat, created atomically if needed.
func (s *ChatService) ResolveChat(ctx context.Context, chatID, sender string, to []string) (*models.Chat, error) {
	chatID = strings.TrimSpace(chatID)
	if chatID != "" {
		chat, err := s.chats.GetChat(ctx, chatID)
		switch {
		case err == nil:
			if !chat.HasParticipant(sender) {
				return nil, fmt.Errorf("%w: chat %s", ErrNotFound, chatID)
			}
			return chat, nil
		case !errors.Is(err, repository.ErrNotFound):
			return nil, storeErr(err, "chat "+chatID)
		}
	}

	var recipients []string
	for _, id := range models.NormalizeIDs(to) {
		if id != sender {
			recipients = append(recipients, id)
		}
	}
	if len(recipients) != 1 {
		if chatID == "" {
			return nil, validationf("chatId is required")
		}
		return nil, fmt.Errorf("%w: chat %s", ErrNotFound, chatID)
	}
	other := recipients[0]
	if chatID != "" && chatID != sender+"-"+other && chatID != other+"-"+sender {
		return nil, fmt.Errorf("%w: chat %s", ErrNotFound, chatID)
	}
	if _, err := s.users.GetUser(ctx, other); err != nil {
		return nil, storeErr(err, "user "+other)
	}

	chat, _, err := s.FindOrCreateDirect(ctx, sender, other)
	return chat, err
}

// SendMessage persists content from sender into chat. The message, the
// sender's read mark and the chat's last-message pointer commit together.
func (s *ChatService) SendMessage(ctx context.Context, chat *models.Chat, sender *models.User, content string) (*models.Message, error) {
	if strings.TrimSpace(content) == "" {
		return nil, validationf("content is required")
	}
	if utf8.RuneCountInString(content) > maxContentLength {
		return nil, validationf("content exceeds %d characters", maxContentLength)
	}
	if !chat.HasParticipant(sender.ID) {
		return nil, fmt.Errorf("%w: chat %s", ErrNotFound, chat.ID)
	}

	msg := &models.Message{
		ChatID:    chat.ID,
		SenderID:  sender.ID,
		Content:   content,
		CreatedAt: s.now(),
	}
	if err := s.messages.CreateMessage(ctx, msg); err != nil {
		return nil, storeErr(err, "create message")
	}
	msg.Sender = sender
	return msg, nil
}

// MarkRead adds reader to the read set of the given messages. Messages
// already read, unknown, or outside reader's chats are skipped; only newly
// applied marks are returned.
func (s *ChatService) MarkRead(ctx context.Context, reader string, messageIDs []string) ([]models.ReadMark, error) {
	ids := models.NormalizeIDs(messageIDs)
	if len(ids) == 0 {
		return nil, validationf("invalid message ids")
	}
	marks, err := s.messages.MarkRead(ctx, ids, reader, s.now())
	if err != nil {
		return nil, storeErr(err, "mark read")
	}
	return marks, nil
}
