package models

import "encoding/json"

// Realtime event names.
const (
	EventJoinGlobal   = "join_global"
	EventJoinChat     = "join_chat"
	EventLeaveChat    = "leave_chat"
	EventSendMessage  = "send_message"
	EventTypingStart  = "typing_start"
	EventTypingStop   = "typing_stop"
	EventMarkRead     = "mark_read"
	EventConnected    = "connected"
	EventJoined       = "joined"
	EventLeft         = "left"
	EventNewMessage   = "new_message"
	EventUserTyping   = "user_typing"
	EventUserStopped  = "user_stopped_typing"
	EventMessagesRead = "messages_read"
	EventUserOnline   = "user_online"
	EventUserOffline  = "user_offline"
	EventError        = "error"
)

// Envelope is a frame received from a client.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// OutEvent is a frame sent to clients.
type OutEvent struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

type SendMessagePayload struct {
	ChatID  string   `json:"chatId"`
	Content string   `json:"content"`
	To      []string `json:"to"`
}

type MarkReadPayload struct {
	MessageIDs []string `json:"messageIds"`
}

type TypingEvent struct {
	UserID string `json:"userId"`
	ChatID string `json:"chatId"`
}

type PresenceEvent struct {
	UserID string `json:"userId"`
}

type MessagesReadEvent struct {
	UserID     string   `json:"userId"`
	ChatID     string   `json:"chatId"`
	MessageIDs []string `json:"messageIds"`
}

type RoomEvent struct {
	Room   string `json:"room"`
	ChatID string `json:"chatId,omitempty"`
}

type ErrorEvent struct {
	Event   string `json:"event,omitempty"`
	Code    string `json:"code"`
	Message string `json:"message"`
}
