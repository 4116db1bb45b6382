package server

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

// Per-session message budget.
const (
	inputRateLimit = 120 // messages per second
	inputRateBurst = 20
)

// Session timing.
const (
	handshakeTimeout = 5 * time.Second
	idleTimeout      = 30 * time.Second
	reconnectWindow  = 30 * time.Second
	writeWait        = 10 * time.Second
	sendBuffer       = 32
)

// Encoding flavors negotiated in the handshake.
const (
	EncodingJSON    = "json"
	EncodingMsgpack = "msgpack"
)

// Session is one connected client. The read pump owns conn reads, the
// write pump owns conn writes; everything else goes through Send.
type Session struct {
	ID       string
	PlayerID uint32
	Name     string
	Encoding string

	Send chan []byte
	done chan struct{}
	conn *websocket.Conn

	limiter     *rate.Limiter
	connectedAt time.Time
	remoteAddr  string

	lastInputMs atomic.Int64
	bound       atomic.Bool

	closeOnce sync.Once
}

func newSession(conn *websocket.Conn) *Session {
	return &Session{
		ID:          uuid.NewString(),
		Encoding:    EncodingJSON,
		Send:        make(chan []byte, sendBuffer),
		done:        make(chan struct{}),
		conn:        conn,
		limiter:     rate.NewLimiter(rate.Limit(inputRateLimit), inputRateBurst),
		connectedAt: time.Now(),
		remoteAddr:  conn.RemoteAddr().String(),
	}
}

// noteInput stamps the session as actively playing.
func (s *Session) noteInput(now time.Time) {
	s.lastInputMs.Store(now.UnixMilli())
}

// activeSince reports whether the session sent input after the cutoff.
func (s *Session) activeSince(cutoff time.Time) bool {
	return s.lastInputMs.Load() >= cutoff.UnixMilli()
}

// Bound reports whether the session completed its handshake. Snapshots
// only flow to bound sessions.
func (s *Session) Bound() bool {
	return s.bound.Load()
}

// close signals the write pump to finish. Send itself is never closed:
// the broadcast loop and the simulation task push frames from other
// goroutines and must not race a channel close.
func (s *Session) close() {
	s.closeOnce.Do(func() {
		close(s.done)
	})
}

// reservation keeps a departed player's id claimable by name for a grace
// window, so a dropped connection can resume where it left off.
type reservation struct {
	playerID uint32
	expires  time.Time
}

// Registry is the mutex-guarded session table.
type Registry struct {
	mu           sync.Mutex
	maxSessions  int
	sessions     map[string]*Session
	byPlayer     map[uint32]*Session
	reservations map[string]reservation
}

func NewRegistry(maxSessions int) *Registry {
	return &Registry{
		maxSessions:  maxSessions,
		sessions:     make(map[string]*Session),
		byPlayer:     make(map[uint32]*Session),
		reservations: make(map[string]reservation),
	}
}

// Add admits a session, enforcing the session cap.
func (r *Registry) Add(s *Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.sessions) >= r.maxSessions {
		return fmt.Errorf("session table full (%d)", r.maxSessions)
	}
	r.sessions[s.ID] = s
	return nil
}

// Bind associates a handshaken session with its player id and opens it
// for snapshot fan-out.
func (r *Registry) Bind(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byPlayer[s.PlayerID] = s
	delete(r.reservations, s.Name)
	s.bound.Store(true)
}

// Remove drops a session. If it had a player, the player id is reserved
// under the session's name for the reconnect window.
func (r *Registry) Remove(s *Session, now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, s.ID)
	if r.byPlayer[s.PlayerID] == s {
		delete(r.byPlayer, s.PlayerID)
		r.reservations[s.Name] = reservation{
			playerID: s.PlayerID,
			expires:  now.Add(reconnectWindow),
		}
	}
}

// Claim resumes a reserved player id by name, if one is still held.
func (r *Registry) Claim(name string, now time.Time) (uint32, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	res, ok := r.reservations[name]
	if !ok || now.After(res.expires) {
		return 0, false
	}
	delete(r.reservations, name)
	return res.playerID, true
}

// ExpireReservations returns the player ids whose reconnect window has
// lapsed. Their world entities can be removed.
func (r *Registry) ExpireReservations(now time.Time) []uint32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	var expired []uint32
	for name, res := range r.reservations {
		if now.After(res.expires) {
			expired = append(expired, res.playerID)
			delete(r.reservations, name)
		}
	}
	return expired
}

// Snapshot copies the current session list for iteration without holding
// the lock.
func (r *Registry) Snapshot() []*Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}

// Bound returns the sessions that have completed their handshake.
func (r *Registry) Bound() []*Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		if s.Bound() {
			out = append(out, s)
		}
	}
	return out
}

// Count reports connected sessions.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}
