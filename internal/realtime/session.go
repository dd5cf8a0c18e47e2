package realtime

import (
	"errors"
	"sync"
	"time"

	"chat-backend/internal/models"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"
)

var (
	ErrSessionClosed = errors.New("session closed")
	ErrSlowConsumer  = errors.New("session send queue full")
)

const defaultSendQueue = 256

// Conn is the write side of a client connection. *websocket.Conn satisfies it.
type Conn interface {
	WriteJSON(v interface{}) error
	Close() error
}

type writeDeadliner interface {
	SetWriteDeadline(t time.Time) error
}

type sessionOptions struct {
	limiter      *rate.Limiter
	writeTimeout time.Duration
	queueSize    int
	// dropped counts frames that were queued but could not be written.
	dropped prometheus.Counter
}

// Session binds one connection to the identity it authenticated as.
// The identity never changes after admission. Outgoing events are queued
// and written by the session's own writer goroutine, so a stalled peer
// only ever blocks itself.
type Session struct {
	id      string
	user    models.User
	conn    Conn
	limiter *rate.Limiter

	writeTimeout time.Duration
	dropped      prometheus.Counter

	send     chan models.OutEvent
	quit     chan struct{}
	done     chan struct{}
	stopOnce sync.Once

	typingMu sync.Mutex
	typing   map[string]struct{}
}

func newSession(conn Conn, user models.User, opts sessionOptions) *Session {
	if opts.queueSize <= 0 {
		opts.queueSize = defaultSendQueue
	}
	s := &Session{
		id:           uuid.New().String(),
		user:         user,
		conn:         conn,
		limiter:      opts.limiter,
		writeTimeout: opts.writeTimeout,
		dropped:      opts.dropped,
		send:         make(chan models.OutEvent, opts.queueSize),
		quit:         make(chan struct{}),
		done:         make(chan struct{}),
		typing:       make(map[string]struct{}),
	}
	go s.writePump()
	return s
}

func (s *Session) ID() string { return s.id }

func (s *Session) UserID() string { return s.user.ID }

// User returns a copy of the authenticated user.
func (s *Session) User() models.User { return s.user }

// Send queues one event for the connection without blocking. A full queue
// means the peer stopped reading: the session is shut down and
// ErrSlowConsumer returned.
func (s *Session) Send(event string, data any) error {
	select {
	case <-s.quit:
		return ErrSessionClosed
	default:
	}

	select {
	case s.send <- models.OutEvent{Event: event, Data: data}:
		return nil
	case <-s.quit:
		return ErrSessionClosed
	default:
		s.stop()
		return ErrSlowConsumer
	}
}

func (s *Session) stop() {
	s.stopOnce.Do(func() { close(s.quit) })
}

func (s *Session) writePump() {
	defer close(s.done)
	defer s.conn.Close()
	defer func() {
		if r := recover(); r != nil {
			s.drop()
			s.stop()
		}
	}()

	for {
		select {
		case <-s.quit:
			return
		case ev := <-s.send:
			if d, ok := s.conn.(writeDeadliner); ok && s.writeTimeout > 0 {
				_ = d.SetWriteDeadline(time.Now().Add(s.writeTimeout))
			}
			if err := s.conn.WriteJSON(ev); err != nil {
				// The read loop fails on the closed connection and releases it.
				s.drop()
				s.stop()
				return
			}
		}
	}
}

func (s *Session) drop() {
	if s.dropped != nil {
		s.dropped.Inc()
	}
}

// Close stops the writer, discarding queued events, and closes the
// connection once the writer has returned. Later sends fail with
// ErrSessionClosed.
func (s *Session) Close() error {
	s.stop()
	<-s.done
	return nil
}

// Allow reports whether the session may process another event now.
func (s *Session) Allow() bool {
	return s.limiter == nil || s.limiter.Allow()
}

// setTyping records the typing state for chatID and reports whether it changed.
func (s *Session) setTyping(chatID string, on bool) bool {
	s.typingMu.Lock()
	defer s.typingMu.Unlock()

	_, was := s.typing[chatID]
	if on {
		s.typing[chatID] = struct{}{}
	} else {
		delete(s.typing, chatID)
	}
	return was != on
}

// drainTyping clears and returns the chats the session is typing in.
func (s *Session) drainTyping() []string {
	s.typingMu.Lock()
	defer s.typingMu.Unlock()

	chats := make([]string, 0, len(s.typing))
	for id := range s.typing {
		chats = append(chats, id)
	}
	s.typing = make(map[string]struct{})
	return chats
}
