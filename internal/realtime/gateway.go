package realtime

import (
	"context"
	"hash/fnv"
	"strings"
	"sync"
	"time"

	"chat-backend/internal/metrics"
	"chat-backend/internal/models"
	"chat-backend/internal/services"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

type Authenticator interface {
	Authenticate(ctx context.Context, token string) (*models.User, error)
}

type PresenceWriter interface {
	SetPresence(ctx context.Context, userID string, online bool, at time.Time) error
}

type GatewayOptions struct {
	EventsPerSecond float64
	EventBurst      int
	WriteTimeout    time.Duration
	PresenceTimeout time.Duration
	// SendQueue is the number of events buffered per session before it is
	// dropped as a slow consumer.
	SendQueue int
}

// Gateway admits authenticated connections into the room graph and keeps
// persisted presence in step with each user's connection count.
type Gateway struct {
	auth     Authenticator
	presence PresenceWriter
	router   *Router
	metrics  *metrics.Metrics
	log      *zap.Logger
	opts     GatewayOptions
	now      func() time.Time

	// Presence transitions of one user are applied in connection order.
	// Only registration, the presence write and queueing the announcement
	// happen under the lock; no socket write does.
	locks [64]sync.Mutex
}

func NewGateway(auth Authenticator, presence PresenceWriter, router *Router, m *metrics.Metrics, log *zap.Logger, opts GatewayOptions) *Gateway {
	if opts.PresenceTimeout <= 0 {
		opts.PresenceTimeout = 5 * time.Second
	}
	return &Gateway{
		auth:     auth,
		presence: presence,
		router:   router,
		metrics:  m,
		log:      log,
		opts:     opts,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (g *Gateway) lockFor(userID string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(userID))
	return &g.locks[h.Sum32()%uint32(len(g.locks))]
}

// Authenticate resolves the handshake token. Every failure is reported as
// services.ErrUnauthorized.
func (g *Gateway) Authenticate(ctx context.Context, token string) (*models.User, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		g.metrics.AuthFailures.Inc()
		return nil, services.ErrUnauthorized
	}
	user, err := g.auth.Authenticate(ctx, token)
	if err != nil {
		g.metrics.AuthFailures.Inc()
		g.log.Debug("realtime handshake rejected", zap.Error(err))
		return nil, services.ErrUnauthorized
	}
	return user, nil
}

func (g *Gateway) limiter() *rate.Limiter {
	if g.opts.EventsPerSecond <= 0 {
		return nil
	}
	burst := g.opts.EventBurst
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(g.opts.EventsPerSecond), burst)
}

// Admit registers conn for user, joins the user's global room and, on the
// user's first connection, marks them online and announces it to everyone.
func (g *Gateway) Admit(conn Conn, user *models.User) *Session {
	s := newSession(conn, *user, sessionOptions{
		limiter:      g.limiter(),
		writeTimeout: g.opts.WriteTimeout,
		queueSize:    g.opts.SendQueue,
		dropped:      g.metrics.DroppedWrites,
	})

	mu := g.lockFor(user.ID)
	mu.Lock()
	defer mu.Unlock()

	first := g.router.Register(s)
	if _, err := g.router.JoinGlobal(s); err != nil {
		g.log.Error("join global room", zap.String("user_id", user.ID), zap.Error(err))
	}
	_ = s.Send(models.EventConnected, models.PresenceEvent{UserID: user.ID})

	g.log.Info("session admitted",
		zap.String("session_id", s.ID()),
		zap.String("user_id", user.ID),
		zap.Int("connections", g.router.ConnectionCount(user.ID)))

	if first {
		g.metrics.OnlineUsers.Inc()
		g.writePresence(user.ID, true)
		g.router.BroadcastAll(models.EventUserOnline, models.PresenceEvent{UserID: user.ID})
	}
	return s
}

// Release tears a session down. Typing indicators it left open are closed
// for the other room members; the last connection of a user flips presence
// to offline. Calling Release twice is harmless.
func (g *Gateway) Release(s *Session) {
	for _, chatID := range s.drainTyping() {
		g.router.Broadcast(ChatRoom(chatID), models.EventUserStopped,
			models.TypingEvent{UserID: s.UserID(), ChatID: chatID}, s.ID())
	}

	mu := g.lockFor(s.UserID())
	mu.Lock()
	last := g.router.Unregister(s)
	if last {
		g.metrics.OnlineUsers.Dec()
		g.writePresence(s.UserID(), false)
		g.router.BroadcastAll(models.EventUserOffline, models.PresenceEvent{UserID: s.UserID()})
	}
	mu.Unlock()

	_ = s.Close()
	g.log.Info("session released",
		zap.String("session_id", s.ID()),
		zap.String("user_id", s.UserID()),
		zap.Bool("last", last))
}

// writePresence is fire-and-forget: failures are logged and never block
// the connection lifecycle.
func (g *Gateway) writePresence(userID string, online bool) {
	ctx, cancel := context.WithTimeout(context.Background(), g.opts.PresenceTimeout)
	defer cancel()

	if err := g.presence.SetPresence(ctx, userID, online, g.now()); err != nil {
		g.log.Warn("presence write failed",
			zap.String("user_id", userID),
			zap.Bool("online", online),
			zap.Error(err))
	}
}
