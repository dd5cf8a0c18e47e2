package realtime

import (
	"context"
	"sync"
	"testing"

	"chat-backend/internal/events"
	"chat-backend/internal/models"
	"chat-backend/internal/repository"
	"chat-backend/internal/services"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func errorCode(t *testing.T, conn *fakeConn) string {
	t.Helper()
	errs := conn.events(models.EventError)
	require.NotEmpty(t, errs, "expected an error event")
	return errs[len(errs)-1].Data.(models.ErrorEvent).Code
}

// dispatch handles one frame and waits until every session has written
// what the frame produced.
func (h *harness) dispatch(t *testing.T, s *Session, event string, data any) {
	t.Helper()
	h.engine.Dispatch(context.Background(), s, frame(t, event, data))
	h.settle(t)
}

func TestEngine_TypingIsNotEchoed(t *testing.T) {
	h := newHarness(t, GatewayOptions{}, "u1", "u2")
	chat := h.directChat(t, "u1", "u2")

	a, aConn := h.connect(t, "u1")
	b, bConn := h.connect(t, "u2")
	h.dispatch(t, b, models.EventJoinChat, chat.ID)
	h.dispatch(t, a, models.EventJoinChat, chat.ID)

	h.dispatch(t, a, models.EventTypingStart, chat.ID)
	h.dispatch(t, a, models.EventTypingStop, map[string]string{"chatId": chat.ID})

	typing := bConn.events(models.EventUserTyping)
	require.Len(t, typing, 1)
	assert.Equal(t, models.TypingEvent{UserID: "u1", ChatID: chat.ID}, typing[0].Data)
	assert.Len(t, bConn.events(models.EventUserStopped), 1)

	assert.Empty(t, aConn.events(models.EventUserTyping))
	assert.Empty(t, aConn.events(models.EventUserStopped))
	assert.Empty(t, aConn.events(models.EventError))
}

func TestEngine_SendAndTypingDoNotJoinRooms(t *testing.T) {
	h := newHarness(t, GatewayOptions{}, "u1", "u2", "u3")
	chat := h.directChat(t, "u1", "u2")

	a, aConn := h.connect(t, "u1")
	b, bConn := h.connect(t, "u2")
	h.dispatch(t, b, models.EventJoinChat, chat.ID)

	h.dispatch(t, a, models.EventSendMessage, models.SendMessagePayload{ChatID: chat.ID, Content: "from the list"})
	h.dispatch(t, a, models.EventTypingStart, chat.ID)

	assert.Empty(t, aConn.events(models.EventError))
	assert.False(t, h.router.InRoom(a, ChatRoom(chat.ID)))
	assert.Len(t, bConn.events(models.EventNewMessage), 1)
	assert.Len(t, bConn.events(models.EventUserTyping), 1)

	// Traffic in the room does not reach a session that never joined it.
	h.dispatch(t, b, models.EventTypingStart, chat.ID)
	assert.Empty(t, aConn.events(models.EventUserTyping))

	// Typing still requires participation.
	c, cConn := h.connect(t, "u3")
	h.dispatch(t, c, models.EventTypingStart, chat.ID)
	assert.Equal(t, services.CodeNotFound, errorCode(t, cConn))
	assert.False(t, h.router.InRoom(c, ChatRoom(chat.ID)))
	assert.Len(t, bConn.events(models.EventUserTyping), 1)
}

func TestEngine_JoinChat(t *testing.T) {
	h := newHarness(t, GatewayOptions{}, "u1", "u2", "u3")
	chat := h.directChat(t, "u1", "u2")

	a, aConn := h.connect(t, "u1")
	h.dispatch(t, a, models.EventJoinChat, chat.ID)
	h.dispatch(t, a, models.EventJoinChat, chat.ID)

	assert.Len(t, aConn.events(models.EventJoined), 2)
	assert.Equal(t, 1, h.router.Broadcast(ChatRoom(chat.ID), "room_check", nil, ""))

	c, cConn := h.connect(t, "u3")
	h.dispatch(t, c, models.EventJoinChat, chat.ID)
	assert.Equal(t, services.CodeNotFound, errorCode(t, cConn))
	assert.False(t, h.router.InRoom(c, ChatRoom(chat.ID)))

	h.dispatch(t, a, models.EventLeaveChat, chat.ID)
	assert.False(t, h.router.InRoom(a, ChatRoom(chat.ID)))
	assert.Len(t, aConn.events(models.EventLeft), 1)
}

func TestEngine_JoinGlobal(t *testing.T) {
	h := newHarness(t, GatewayOptions{}, "u1", "u2")
	a, aConn := h.connect(t, "u1")

	h.dispatch(t, a, models.EventJoinGlobal, "u1")
	assert.Len(t, aConn.events(models.EventJoined), 1)

	h.dispatch(t, a, models.EventJoinGlobal, "u2")
	assert.Equal(t, services.CodeValidation, errorCode(t, aConn))
	assert.False(t, h.router.InRoom(a, GlobalRoom("u2")))
}

func TestEngine_SendFansOutToChatAndGlobalRooms(t *testing.T) {
	h := newHarness(t, GatewayOptions{}, "u1", "u2", "u3")
	chat := h.directChat(t, "u1", "u2")
	ctx := context.Background()

	a, aConn := h.connect(t, "u1")
	// b is not viewing the chat; b2 is.
	_, bConn := h.connect(t, "u2")
	b2, b2Conn := h.connect(t, "u2")
	_, cConn := h.connect(t, "u3")
	h.dispatch(t, a, models.EventJoinChat, chat.ID)
	h.dispatch(t, b2, models.EventJoinChat, chat.ID)

	h.dispatch(t, a, models.EventSendMessage, models.SendMessagePayload{
		ChatID: chat.ID, Content: "hello", To: []string{"u2"},
	})

	for _, conn := range []*fakeConn{aConn, bConn, b2Conn} {
		got := conn.events(models.EventNewMessage)
		require.Len(t, got, 1)
		msg := got[0].Data.(*models.Message)
		assert.Equal(t, "hello", msg.Content)
		assert.Equal(t, chat.ID, msg.ChatID)
		require.NotNil(t, msg.Sender)
		assert.Equal(t, "u1", msg.Sender.ID)
		assert.Equal(t, []string{"u1"}, msg.ReadBy)
	}
	assert.Empty(t, cConn.events(models.EventNewMessage))

	stored, err := h.store.GetChat(ctx, chat.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, stored.LastMessageID)
}

func TestEngine_SendErrorsReachOnlyTheSender(t *testing.T) {
	h := newHarness(t, GatewayOptions{}, "u1", "u2")
	chat := h.directChat(t, "u1", "u2")
	ctx := context.Background()

	a, aConn := h.connect(t, "u1")
	b, bConn := h.connect(t, "u2")
	h.dispatch(t, b, models.EventJoinChat, chat.ID)

	tests := []struct {
		name    string
		payload any
		code    string
	}{
		{name: "empty content", payload: models.SendMessagePayload{ChatID: chat.ID, Content: "  "}, code: services.CodeValidation},
		{name: "missing chat", payload: models.SendMessagePayload{Content: "hi"}, code: services.CodeValidation},
		{name: "unknown chat", payload: models.SendMessagePayload{ChatID: "nope", Content: "hi"}, code: services.CodeNotFound},
		{name: "no payload", payload: nil, code: services.CodeValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			aConn.reset()
			h.dispatch(t, a, models.EventSendMessage, tt.payload)
			assert.Equal(t, tt.code, errorCode(t, aConn))
			assert.Empty(t, aConn.events(models.EventNewMessage))
		})
	}

	assert.Empty(t, bConn.events(models.EventNewMessage))
	assert.Empty(t, bConn.events(models.EventError))
	msgs, err := h.store.ListMessages(ctx, chat.ID)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestEngine_ConcurrentFirstMessagesShareOneChat(t *testing.T) {
	h := newHarness(t, GatewayOptions{}, "u1", "u2")
	ctx := context.Background()

	a, aConn := h.connect(t, "u1")
	b, bConn := h.connect(t, "u2")

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		h.engine.Dispatch(ctx, a, frame(t, models.EventSendMessage, models.SendMessagePayload{
			ChatID: "u1-u2", Content: "hi from u1", To: []string{"u2"},
		}))
	}()
	go func() {
		defer wg.Done()
		h.engine.Dispatch(ctx, b, frame(t, models.EventSendMessage, models.SendMessagePayload{
			ChatID: "u1-u2", Content: "hi from u2", To: []string{"u1"},
		}))
	}()
	wg.Wait()
	h.settle(t)

	assert.Empty(t, aConn.events(models.EventError))
	assert.Empty(t, bConn.events(models.EventError))
	// Each side hears about the other's message through its global room.
	assert.Len(t, aConn.events(models.EventNewMessage), 1)
	assert.Len(t, bConn.events(models.EventNewMessage), 1)

	views, err := h.chats.ListChats(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, views, 1)
	assert.Equal(t, []string{"u1", "u2"}, views[0].Participants)

	msgs, err := h.store.ListMessages(ctx, views[0].ID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.NotEqual(t, msgs[0].ID, msgs[1].ID)

	// The pointer references a message with the latest timestamp.
	latest := msgs[len(msgs)-1].CreatedAt
	require.NotNil(t, views[0].LastMessage)
	assert.True(t, views[0].LastMessage.CreatedAt.Equal(latest))
}

func TestEngine_MarkReadBroadcastsReceipts(t *testing.T) {
	h := newHarness(t, GatewayOptions{}, "u1", "u2")
	chat := h.directChat(t, "u1", "u2")

	a, aConn := h.connect(t, "u1")
	b, bConn := h.connect(t, "u2")
	h.dispatch(t, a, models.EventJoinChat, chat.ID)
	h.dispatch(t, a, models.EventSendMessage, models.SendMessagePayload{ChatID: chat.ID, Content: "read me"})
	sent := aConn.events(models.EventNewMessage)
	require.Len(t, sent, 1)
	msgID := sent[0].Data.(*models.Message).ID

	h.dispatch(t, b, models.EventMarkRead, models.MarkReadPayload{MessageIDs: []string{msgID}})
	h.dispatch(t, b, models.EventMarkRead, models.MarkReadPayload{MessageIDs: []string{msgID}})

	receipts := aConn.events(models.EventMessagesRead)
	require.Len(t, receipts, 1)
	assert.Equal(t, models.MessagesReadEvent{UserID: "u2", ChatID: chat.ID, MessageIDs: []string{msgID}}, receipts[0].Data)
	// The reader's own connection learns about it through its global room.
	assert.Len(t, bConn.events(models.EventMessagesRead), 1)

	got, err := h.store.GetMessages(context.Background(), []string{msgID})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"u1", "u2"}, got[0].ReadBy)
}

func TestEngine_DispatchRejectsBadFrames(t *testing.T) {
	h := newHarness(t, GatewayOptions{}, "u1")
	a, aConn := h.connect(t, "u1")
	ctx := context.Background()

	for _, raw := range []string{`not json`, `{"data":"x"}`, `{"event":"dance"}`, `{"event":"join_chat","data":42}`} {
		aConn.reset()
		h.engine.Dispatch(ctx, a, []byte(raw))
		h.settle(t)
		assert.Equal(t, services.CodeValidation, errorCode(t, aConn), raw)
	}
}

func TestEngine_DispatchRateLimit(t *testing.T) {
	h := newHarness(t, GatewayOptions{EventsPerSecond: 0.001, EventBurst: 1}, "u1")
	a, aConn := h.connect(t, "u1")

	h.dispatch(t, a, models.EventJoinGlobal, "u1")
	assert.Empty(t, aConn.events(models.EventError))

	h.dispatch(t, a, models.EventJoinGlobal, "u1")
	assert.Equal(t, services.CodeRateLimited, errorCode(t, aConn))
}

// explodingStore fails hard while persisting a message.
type explodingStore struct {
	*repository.Memory
}

func (explodingStore) CreateMessage(context.Context, *models.Message) error {
	panic("disk on fire")
}

func TestEngine_DispatchRecoversFromPanics(t *testing.T) {
	h := newHarness(t, GatewayOptions{}, "u1", "u2")
	chat := h.directChat(t, "u1", "u2")
	chats := services.NewChatService(explodingStore{h.store}, zap.NewNop())
	h.engine = NewEngine(chats, h.router, events.Nop{}, h.metrics, zap.NewNop())

	a, aConn := h.connect(t, "u1")
	b, bConn := h.connect(t, "u2")
	h.dispatch(t, b, models.EventJoinChat, chat.ID)

	assert.NotPanics(t, func() {
		h.dispatch(t, a, models.EventSendMessage, models.SendMessagePayload{ChatID: chat.ID, Content: "boom"})
	})
	assert.Equal(t, services.CodePersistence, errorCode(t, aConn))
	assert.Empty(t, bConn.events(models.EventNewMessage))

	// The session keeps working after the panic.
	h.dispatch(t, a, models.EventJoinChat, chat.ID)
	assert.Len(t, aConn.events(models.EventJoined), 1)
}
