package cache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"chat-backend/internal/models"

	"github.com/redis/go-redis/v9"
)

var ErrMiss = errors.New("cache miss")

// setIfNewer writes the presence hash only when the incoming last_seen is not
// older than the stored one.
var setIfNewer = redis.NewScript(`
local cur = redis.call('HGET', KEYS[1], 'last_seen')
if cur and tonumber(cur) > tonumber(ARGV[2]) then
	return 0
end
redis.call('HSET', KEYS[1], 'online', ARGV[1], 'last_seen', ARGV[2])
if tonumber(ARGV[3]) > 0 then
	redis.call('PEXPIRE', KEYS[1], ARGV[3])
end
return 1
`)

// Presence mirrors user presence into Redis hashes at <prefix>:presence:<id>.
type Presence struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func NewPresence(client *redis.Client, prefix string, ttl time.Duration) *Presence {
	return &Presence{client: client, prefix: prefix, ttl: ttl}
}

// Open connects to Redis and verifies the connection.
func Open(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return client, nil
}

func (p *Presence) key(userID string) string {
	return fmt.Sprintf("%s:presence:%s", p.prefix, userID)
}

func (p *Presence) SetPresence(ctx context.Context, pr models.Presence) error {
	online := "0"
	if pr.Online {
		online = "1"
	}
	return setIfNewer.Run(ctx, p.client, []string{p.key(pr.UserID)},
		online, pr.LastSeen.UnixMilli(), p.ttl.Milliseconds()).Err()
}

func (p *Presence) GetPresence(ctx context.Context, userID string) (*models.Presence, error) {
	vals, err := p.client.HGetAll(ctx, p.key(userID)).Result()
	if err != nil {
		return nil, err
	}
	if len(vals) == 0 {
		return nil, ErrMiss
	}
	ms, err := strconv.ParseInt(vals["last_seen"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("parse last_seen: %w", err)
	}
	return &models.Presence{
		UserID:   userID,
		Online:   vals["online"] == "1",
		LastSeen: time.UnixMilli(ms).UTC(),
	}, nil
}
