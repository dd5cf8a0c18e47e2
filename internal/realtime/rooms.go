package realtime

import (
	"errors"
	"sync"

	"chat-backend/internal/metrics"

	"go.uber.org/zap"
)

const (
	globalPrefix = "global:"
	chatPrefix   = "chat:"
)

// GlobalRoom names the per-user notification room.
func GlobalRoom(userID string) string { return globalPrefix + userID }

// ChatRoom names the room of clients viewing a chat.
func ChatRoom(chatID string) string { return chatPrefix + chatID }

// Router tracks which sessions are in which rooms and fans events out to
// them. Recipients are collected under the lock and queued to after it is
// released; queueing never blocks on a peer.
type Router struct {
	mu sync.RWMutex
	// room -> sessionID -> session
	rooms map[string]map[string]*Session
	// sessionID -> rooms it is in
	memberOf map[string]map[string]struct{}
	// userID -> sessionID -> session
	byUser map[string]map[string]*Session

	metrics *metrics.Metrics
	log     *zap.Logger
}

func NewRouter(m *metrics.Metrics, log *zap.Logger) *Router {
	return &Router{
		rooms:    make(map[string]map[string]*Session),
		memberOf: make(map[string]map[string]struct{}),
		byUser:   make(map[string]map[string]*Session),
		metrics:  m,
		log:      log,
	}
}

// Register adds a session. Returns true if it is the user's first
// connection (the user just came online).
func (r *Router) Register(s *Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.memberOf[s.ID()]; ok {
		return false
	}
	r.memberOf[s.ID()] = make(map[string]struct{})

	conns, ok := r.byUser[s.UserID()]
	if !ok {
		conns = make(map[string]*Session)
		r.byUser[s.UserID()] = conns
	}
	conns[s.ID()] = s
	r.metrics.Connections.Inc()
	return len(conns) == 1
}

// Unregister removes the session from every room. Returns true if it was
// the user's last connection (the user is now offline).
func (r *Router) Unregister(s *Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	joined, ok := r.memberOf[s.ID()]
	if !ok {
		return false
	}
	for room := range joined {
		r.leaveLocked(room, s.ID())
	}
	delete(r.memberOf, s.ID())
	r.metrics.Connections.Dec()

	conns := r.byUser[s.UserID()]
	delete(conns, s.ID())
	if len(conns) > 0 {
		return false
	}
	delete(r.byUser, s.UserID())
	return true
}

var errNotRegistered = errors.New("session not registered")

// Join adds the session to room. Joining a room twice is a no-op; the
// result reports whether membership changed.
func (r *Router) Join(s *Session, room string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	joined, ok := r.memberOf[s.ID()]
	if !ok {
		return false, errNotRegistered
	}
	if _, in := joined[room]; in {
		return false, nil
	}
	conns, ok := r.rooms[room]
	if !ok {
		conns = make(map[string]*Session)
		r.rooms[room] = conns
	}
	conns[s.ID()] = s
	joined[room] = struct{}{}
	return true, nil
}

func (r *Router) JoinGlobal(s *Session) (bool, error) {
	return r.Join(s, GlobalRoom(s.UserID()))
}

func (r *Router) JoinChat(s *Session, chatID string) (bool, error) {
	return r.Join(s, ChatRoom(chatID))
}

// Leave removes the session from room and reports whether it was a member.
func (r *Router) Leave(s *Session, room string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	joined, ok := r.memberOf[s.ID()]
	if !ok {
		return false
	}
	if _, in := joined[room]; !in {
		return false
	}
	delete(joined, room)
	r.leaveLocked(room, s.ID())
	return true
}

func (r *Router) LeaveChat(s *Session, chatID string) bool {
	return r.Leave(s, ChatRoom(chatID))
}

// LeaveAll removes the session from every room it joined but keeps it registered.
func (r *Router) LeaveAll(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()

	joined, ok := r.memberOf[s.ID()]
	if !ok {
		return
	}
	for room := range joined {
		r.leaveLocked(room, s.ID())
	}
	r.memberOf[s.ID()] = make(map[string]struct{})
}

func (r *Router) leaveLocked(room, sessionID string) {
	if conns, ok := r.rooms[room]; ok {
		delete(conns, sessionID)
		if len(conns) == 0 {
			delete(r.rooms, room)
		}
	}
}

// InRoom reports whether the session has joined room.
func (r *Router) InRoom(s *Session, room string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.memberOf[s.ID()][room]
	return ok
}

// Rooms lists the rooms the session is in.
func (r *Router) Rooms(s *Session) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.memberOf[s.ID()]))
	for room := range r.memberOf[s.ID()] {
		out = append(out, room)
	}
	return out
}

// IsOnline checks if any active connection belongs to the given user.
func (r *Router) IsOnline(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser[userID]) > 0
}

// ConnectionCount returns the number of open connections of a user.
func (r *Router) ConnectionCount(userID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser[userID])
}

// Broadcast sends an event to every session in room except excludeID and
// returns the number of sessions it was queued for.
func (r *Router) Broadcast(room, event string, data any, excludeID string) int {
	return r.BroadcastRooms([]string{room}, event, data, excludeID)
}

// BroadcastRooms sends an event once to every session that is in at least
// one of rooms.
func (r *Router) BroadcastRooms(rooms []string, event string, data any, excludeID string) int {
	r.mu.RLock()
	seen := make(map[string]struct{})
	var targets []*Session
	for _, room := range rooms {
		for id, s := range r.rooms[room] {
			if id == excludeID {
				continue
			}
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			targets = append(targets, s)
		}
	}
	r.mu.RUnlock()

	return r.deliver(targets, event, data)
}

// BroadcastAll sends an event to every connected session.
func (r *Router) BroadcastAll(event string, data any) int {
	r.mu.RLock()
	targets := make([]*Session, 0, len(r.memberOf))
	for _, conns := range r.byUser {
		for _, s := range conns {
			targets = append(targets, s)
		}
	}
	r.mu.RUnlock()

	return r.deliver(targets, event, data)
}

func (r *Router) deliver(targets []*Session, event string, data any) int {
	sent := 0
	for _, s := range targets {
		if err := s.Send(event, data); err != nil {
			// Closed or overflowing sessions are released by their read loop.
			r.metrics.DroppedWrites.Inc()
			r.log.Debug("dropped event",
				zap.String("event", event),
				zap.String("session_id", s.ID()),
				zap.String("user_id", s.UserID()),
				zap.Error(err))
			continue
		}
		sent++
	}
	return sent
}

