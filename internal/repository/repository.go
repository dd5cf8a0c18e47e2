package repository

import (
	"context"
	"errors"
	"time"

	"chat-backend/internal/models"
)

var (
	ErrNotFound = errors.New("record not found")
	ErrConflict = errors.New("record already exists")
)

type UserStore interface {
	CreateUser(ctx context.Context, u *models.User) error
	GetUser(ctx context.Context, id string) (*models.User, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	GetUsers(ctx context.Context, ids []string) ([]models.User, error)
	ListUsers(ctx context.Context) ([]models.User, error)
	SearchUsers(ctx context.Context, query string) ([]models.User, error)
	// SetPresence applies the flag only if at is not older than the stored
	// last-seen time, so out-of-order writes cannot regress presence.
	SetPresence(ctx context.Context, userID string, online bool, at time.Time) error
}

type ChatStore interface {
	GetChat(ctx context.Context, id string) (*models.Chat, error)
	CreateGroupChat(ctx context.Context, c *models.Chat) error
	// FindOrCreateDirectChat is a single atomic upsert keyed by the sorted
	// participant pair. created is true only for the caller that inserted.
	FindOrCreateDirectChat(ctx context.Context, a, b string, at time.Time) (chat *models.Chat, created bool, err error)
	FindChatByParticipants(ctx context.Context, ids []string) (*models.Chat, error)
	ListChats(ctx context.Context, userID string) ([]models.ChatView, error)
	SearchGroupChats(ctx context.Context, query string) ([]models.Chat, error)
}

type MessageStore interface {
	// CreateMessage persists the message, seeds its read set with the sender
	// and advances the chat's last-message pointer in one transaction.
	CreateMessage(ctx context.Context, m *models.Message) error
	GetMessages(ctx context.Context, ids []string) ([]models.Message, error)
	ListMessages(ctx context.Context, chatID string) ([]models.Message, error)
	// MarkRead adds userID to the read set of each listed message the user
	// has not read yet and whose chat the user participates in.
	MarkRead(ctx context.Context, messageIDs []string, userID string, at time.Time) ([]models.ReadMark, error)
}

type Store interface {
	UserStore
	ChatStore
	MessageStore
}

var (
	_ Store = (*Postgres)(nil)
	_ Store = (*Memory)(nil)
)
