package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"chat-backend/internal/events"
	"chat-backend/internal/metrics"
	"chat-backend/internal/models"
	"chat-backend/internal/repository"
	"chat-backend/internal/services"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const barrierEvent = "test_barrier"

type fakeConn struct {
	mu      sync.Mutex
	frames  []models.OutEvent
	closed  bool
	failing bool
	panics  bool
	// stall, when set, blocks every write until it is closed.
	stall chan struct{}
}

func (c *fakeConn) WriteJSON(v interface{}) error {
	c.mu.Lock()
	stall, panics, failing := c.stall, c.panics, c.failing
	c.mu.Unlock()

	if stall != nil {
		<-stall
	}
	if panics {
		panic("write exploded")
	}
	if failing {
		return errors.New("broken pipe")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = append(c.frames, v.(models.OutEvent))
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) events(event string) []models.OutEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []models.OutEvent
	for _, f := range c.frames {
		if f.Event == event {
			out = append(out, f)
		}
	}
	return out
}

func (c *fakeConn) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = nil
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// flush waits until everything queued for s before the call has been
// written to c, or until the session has shut down.
func flush(t *testing.T, s *Session, c *fakeConn) {
	t.Helper()
	want := c.barriers(s.ID()) + 1
	if s.Send(barrierEvent, s.ID()) != nil {
		return
	}
	require.Eventually(t, func() bool {
		select {
		case <-s.quit:
			return true
		default:
		}
		return c.barriers(s.ID()) >= want
	}, time.Second, time.Millisecond, "session %s did not drain", s.ID())
}

func (c *fakeConn) barriers(id string) int {
	n := 0
	for _, f := range c.events(barrierEvent) {
		if f.Data == id {
			n++
		}
	}
	return n
}

type presenceWrite struct {
	userID string
	online bool
}

type recordingPresence struct {
	mu     sync.Mutex
	store  repository.UserStore
	writes []presenceWrite
	err    error
}

func (p *recordingPresence) SetPresence(ctx context.Context, userID string, online bool, at time.Time) error {
	p.mu.Lock()
	p.writes = append(p.writes, presenceWrite{userID: userID, online: online})
	err := p.err
	p.mu.Unlock()
	if err != nil {
		return err
	}
	return p.store.SetPresence(ctx, userID, online, at)
}

func (p *recordingPresence) recorded() []presenceWrite {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]presenceWrite(nil), p.writes...)
}

type authFunc func(ctx context.Context, token string) (*models.User, error)

func (f authFunc) Authenticate(ctx context.Context, token string) (*models.User, error) {
	return f(ctx, token)
}

type harnessConn struct {
	session *Session
	conn    *fakeConn
}

type harness struct {
	conns    []harnessConn
	store    *repository.Memory
	chats    *services.ChatService
	metrics  *metrics.Metrics
	router   *Router
	gateway  *Gateway
	engine   *Engine
	presence *recordingPresence
	users    map[string]*models.User
}

func newHarness(t *testing.T, opts GatewayOptions, userIDs ...string) *harness {
	t.Helper()
	log := zap.NewNop()
	store := repository.NewMemory()
	users := make(map[string]*models.User)
	for _, id := range userIDs {
		u := &models.User{ID: id, Email: id + "@example.com", FullName: "User " + id}
		require.NoError(t, store.CreateUser(context.Background(), u))
		users[id] = u
	}

	m := metrics.New(prometheus.NewRegistry())
	router := NewRouter(m, log)
	presence := &recordingPresence{store: store}
	auth := authFunc(func(ctx context.Context, token string) (*models.User, error) {
		return store.GetUser(ctx, token)
	})
	chats := services.NewChatService(store, log)

	return &harness{
		store:    store,
		chats:    chats,
		metrics:  m,
		router:   router,
		gateway:  NewGateway(auth, presence, router, m, log, opts),
		engine:   NewEngine(chats, router, events.Nop{}, m, log),
		presence: presence,
		users:    users,
	}
}

func (h *harness) connect(t *testing.T, userID string) (*Session, *fakeConn) {
	t.Helper()
	u, ok := h.users[userID]
	require.True(t, ok, "unknown user %s", userID)
	conn := &fakeConn{}
	s := h.gateway.Admit(conn, u)
	h.conns = append(h.conns, harnessConn{session: s, conn: conn})
	h.settle(t)
	return s, conn
}

// settle waits for every open session of the harness to write out what has
// been queued for it so far.
func (h *harness) settle(t *testing.T) {
	t.Helper()
	for _, c := range h.conns {
		flush(t, c.session, c.conn)
	}
}

func (h *harness) directChat(t *testing.T, a, b string) *models.Chat {
	t.Helper()
	chat, _, err := h.chats.FindOrCreateDirect(context.Background(), a, b)
	require.NoError(t, err)
	return chat
}

func frame(t *testing.T, event string, data any) []byte {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	b, err := json.Marshal(models.Envelope{Event: event, Data: raw})
	require.NoError(t, err)
	return b
}
