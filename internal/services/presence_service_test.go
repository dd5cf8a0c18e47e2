package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"chat-backend/internal/models"
	"chat-backend/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeMirror struct {
	mu      sync.Mutex
	entries map[string]models.Presence
	failSet bool
}

func (m *fakeMirror) SetPresence(_ context.Context, p models.Presence) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failSet {
		return errors.New("mirror down")
	}
	if m.entries == nil {
		m.entries = make(map[string]models.Presence)
	}
	m.entries[p.UserID] = p
	return nil
}

func (m *fakeMirror) GetPresence(_ context.Context, userID string) (*models.Presence, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.entries[userID]
	if !ok {
		return nil, errors.New("miss")
	}
	return &p, nil
}

func TestPresenceService_StoreOnly(t *testing.T) {
	store := repository.NewMemory()
	ctx := context.Background()
	require.NoError(t, store.CreateUser(ctx, &models.User{ID: "u1", Email: "u1@example.com"}))
	svc := NewPresenceService(store, nil, zap.NewNop())

	now := time.Now().UTC()
	require.NoError(t, svc.SetPresence(ctx, "u1", true, now))
	// an older offline write arriving late must not win
	require.NoError(t, svc.SetPresence(ctx, "u1", false, now.Add(-time.Second)))

	p, err := svc.GetPresence(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, p.Online)
	assert.True(t, p.LastSeen.Equal(now))

	_, err = svc.GetPresence(ctx, "ghost")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, svc.SetPresence(ctx, "ghost", true, now), ErrNotFound)
}

func TestPresenceService_Mirror(t *testing.T) {
	store := repository.NewMemory()
	ctx := context.Background()
	require.NoError(t, store.CreateUser(ctx, &models.User{ID: "u1", Email: "u1@example.com"}))
	mirror := &fakeMirror{}
	svc := NewPresenceService(store, mirror, zap.NewNop())

	at := time.Now().UTC()
	require.NoError(t, svc.SetPresence(ctx, "u1", true, at))
	assert.Equal(t, models.Presence{UserID: "u1", Online: true, LastSeen: at}, mirror.entries["u1"])

	mirror.failSet = true
	require.NoError(t, svc.SetPresence(ctx, "u1", false, at.Add(time.Second)), "mirror failures are not fatal")

	// the mirror still answers with its stale copy; the store has the newer value
	p, err := svc.GetPresence(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, p.Online)

	u, err := store.GetUser(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, u.Online)
}
