package services

import (
	"context"
	"time"

	"chat-backend/internal/models"
	"chat-backend/internal/repository"

	"go.uber.org/zap"
)

// PresenceMirror is a fast read copy of presence (Redis in production).
type PresenceMirror interface {
	SetPresence(ctx context.Context, p models.Presence) error
	GetPresence(ctx context.Context, userID string) (*models.Presence, error)
}

// PresenceService owns the durable online flag and last-seen timestamp.
type PresenceService struct {
	users  repository.UserStore
	mirror PresenceMirror
	log    *zap.Logger
}

// NewPresenceService builds the service; mirror may be nil.
func NewPresenceService(users repository.UserStore, mirror PresenceMirror, log *zap.Logger) *PresenceService {
	return &PresenceService{users: users, mirror: mirror, log: log}
}

// SetPresence persists the flag. Writes older than the stored last-seen
// time are ignored by the store.
func (s *PresenceService) SetPresence(ctx context.Context, userID string, online bool, at time.Time) error {
	if err := s.users.SetPresence(ctx, userID, online, at); err != nil {
		return storeErr(err, "presence of "+userID)
	}
	if s.mirror != nil {
		p := models.Presence{UserID: userID, Online: online, LastSeen: at}
		if err := s.mirror.SetPresence(ctx, p); err != nil {
			s.log.Warn("presence mirror write failed", zap.String("user_id", userID), zap.Error(err))
		}
	}
	return nil
}

func (s *PresenceService) GetPresence(ctx context.Context, userID string) (*models.Presence, error) {
	if s.mirror != nil {
		p, err := s.mirror.GetPresence(ctx, userID)
		if err == nil {
			return p, nil
		}
		s.log.Debug("presence mirror miss", zap.String("user_id", userID), zap.Error(err))
	}
	u, err := s.users.GetUser(ctx, userID)
	if err != nil {
		return nil, storeErr(err, "user "+userID)
	}
	return &models.Presence{UserID: u.ID, Online: u.Online, LastSeen: u.LastSeen}, nil
}
