package realtime

import (
	"context"
	"fmt"
	"strings"
	"time"

	"chat-backend/internal/events"
	"chat-backend/internal/metrics"
	"chat-backend/internal/models"
	"chat-backend/internal/services"

	"go.uber.org/zap"
)

// Engine validates, persists and fans out client events.
type Engine struct {
	chats     *services.ChatService
	router    *Router
	publisher events.Publisher
	metrics   *metrics.Metrics
	log       *zap.Logger

	// timeout bounds each event's persistence work.
	timeout time.Duration
}

func NewEngine(chats *services.ChatService, router *Router, publisher events.Publisher, m *metrics.Metrics, log *zap.Logger) *Engine {
	if publisher == nil {
		publisher = events.Nop{}
	}
	return &Engine{
		chats:     chats,
		router:    router,
		publisher: publisher,
		metrics:   m,
		log:       log,
		timeout:   10 * time.Second,
	}
}

// recipients returns the participants whose global rooms receive a new
// message: everyone but the sender, narrowed to "to" when given.
func recipients(chat *models.Chat, sender string, to []string) []string {
	var want map[string]struct{}
	if len(to) > 0 {
		want = make(map[string]struct{}, len(to))
		for _, id := range to {
			want[strings.TrimSpace(id)] = struct{}{}
		}
	}
	out := make([]string, 0, len(chat.Participants))
	for _, id := range chat.Participants {
		if id == sender {
			continue
		}
		if want != nil {
			if _, ok := want[id]; !ok {
				continue
			}
		}
		out = append(out, id)
	}
	return out
}

// Send persists a message from the session's user and broadcasts it to the
// chat room and the recipients' global rooms. Nothing is broadcast unless
// the message was stored. Sending never changes room membership.
func (e *Engine) Send(ctx context.Context, s *Session, p models.SendMessagePayload) (*models.Message, error) {
	user := s.User()

	chat, err := e.chats.ResolveChat(ctx, p.ChatID, user.ID, p.To)
	if err != nil {
		return nil, err
	}
	msg, err := e.chats.SendMessage(ctx, chat, &user, p.Content)
	if err != nil {
		return nil, err
	}
	e.metrics.MessagesSent.Inc()

	rooms := []string{ChatRoom(chat.ID)}
	for _, id := range recipients(chat, user.ID, p.To) {
		rooms = append(rooms, GlobalRoom(id))
	}
	e.router.BroadcastRooms(rooms, models.EventNewMessage, msg, "")

	go e.publish(chat, msg)
	return msg, nil
}

func (e *Engine) publish(chat *models.Chat, msg *models.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), e.timeout)
	defer cancel()

	if err := e.publisher.PublishMessage(ctx, chat, msg); err != nil {
		e.log.Warn("publish message event",
			zap.String("chat_id", msg.ChatID),
			zap.String("message_id", msg.ID),
			zap.Error(err))
	}
}

// authorize checks that the session's user participates in chatID. A
// session already in the chat room passed the check when it joined.
func (e *Engine) authorize(ctx context.Context, s *Session, chatID string) (string, error) {
	chatID = strings.TrimSpace(chatID)
	if chatID == "" {
		return "", fmt.Errorf("%w: chatId is required", services.ErrValidation)
	}
	if e.router.InRoom(s, ChatRoom(chatID)) {
		return chatID, nil
	}
	if _, err := e.chats.Membership(ctx, chatID, s.UserID()); err != nil {
		return "", err
	}
	return chatID, nil
}

// JoinChat adds the session to a chat room it participates in and
// acknowledges with "joined". Joining again only repeats the ack.
func (e *Engine) JoinChat(ctx context.Context, s *Session, chatID string) error {
	chatID, err := e.authorize(ctx, s, chatID)
	if err != nil {
		return err
	}
	if _, err := e.router.JoinChat(s, chatID); err != nil {
		return fmt.Errorf("%w: %v", services.ErrValidation, err)
	}
	return s.Send(models.EventJoined, models.RoomEvent{Room: ChatRoom(chatID), ChatID: chatID})
}

func (e *Engine) LeaveChat(s *Session, chatID string) error {
	chatID = strings.TrimSpace(chatID)
	if chatID == "" {
		return fmt.Errorf("%w: chatId is required", services.ErrValidation)
	}
	if s.setTyping(chatID, false) {
		e.router.Broadcast(ChatRoom(chatID), models.EventUserStopped,
			models.TypingEvent{UserID: s.UserID(), ChatID: chatID}, s.ID())
	}
	e.router.LeaveChat(s, chatID)
	return s.Send(models.EventLeft, models.RoomEvent{Room: ChatRoom(chatID), ChatID: chatID})
}

// JoinGlobal re-joins the session's own global room. Other users' rooms
// are off limits.
func (e *Engine) JoinGlobal(s *Session, userID string) error {
	userID = strings.TrimSpace(userID)
	if userID != "" && userID != s.UserID() {
		return fmt.Errorf("%w: cannot join another user's global room", services.ErrValidation)
	}
	if _, err := e.router.JoinGlobal(s); err != nil {
		return fmt.Errorf("%w: %v", services.ErrValidation, err)
	}
	return s.Send(models.EventJoined, models.RoomEvent{Room: GlobalRoom(s.UserID())})
}

// TypingStart relays a typing indicator to the other members of the chat
// room. The sender does not have to be in the room itself.
func (e *Engine) TypingStart(ctx context.Context, s *Session, chatID string) error {
	return e.typing(ctx, s, chatID, true)
}

func (e *Engine) TypingStop(ctx context.Context, s *Session, chatID string) error {
	return e.typing(ctx, s, chatID, false)
}

func (e *Engine) typing(ctx context.Context, s *Session, chatID string, on bool) error {
	chatID, err := e.authorize(ctx, s, chatID)
	if err != nil {
		return err
	}
	s.setTyping(chatID, on)

	event := models.EventUserTyping
	if !on {
		event = models.EventUserStopped
	}
	e.router.Broadcast(ChatRoom(chatID), event, models.TypingEvent{UserID: s.UserID(), ChatID: chatID}, s.ID())
	return nil
}

// MarkRead records reader in the read sets of messageIDs and pushes
// messages_read to each affected chat room and to the reader's own
// connections. Only newly applied marks are announced.
func (e *Engine) MarkRead(ctx context.Context, reader string, messageIDs []string) ([]models.ReadMark, error) {
	marks, err := e.chats.MarkRead(ctx, reader, messageIDs)
	if err != nil {
		return nil, err
	}

	byChat := make(map[string][]string)
	var order []string
	for _, m := range marks {
		if _, ok := byChat[m.ChatID]; !ok {
			order = append(order, m.ChatID)
		}
		byChat[m.ChatID] = append(byChat[m.ChatID], m.MessageID)
	}
	for _, chatID := range order {
		e.router.BroadcastRooms(
			[]string{ChatRoom(chatID), GlobalRoom(reader)},
			models.EventMessagesRead,
			models.MessagesReadEvent{UserID: reader, ChatID: chatID, MessageIDs: byChat[chatID]},
			"")
	}
	return marks, nil
}
