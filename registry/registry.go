package registry

import (
	"sync"

	"github.com/cameroncuttingedge/pixel_canvas/protocol"
	"github.com/rs/zerolog/log"
)

// outboundBuffer bounds how far a slow client can fall behind before frames
// are dropped for it.
const outboundBuffer = 256

// Session is the server-side state for one logged-in client: its username
// and the outbound queue its connection's writer drains. The connection
// handler owns the session; the registry only references it for fan-out.
type Session struct {
	Username string

	outbound chan protocol.Message
	done     chan struct{}
	once     sync.Once
}

func NewSession(username string) *Session {
	return &Session{
		Username: username,
		outbound: make(chan protocol.Message, outboundBuffer),
		done:     make(chan struct{}),
	}
}

// Send queues a message for the session's writer. It never blocks: a full
// queue drops the message and reports false.
func (s *Session) Send(m protocol.Message) bool {
	select {
	case s.outbound <- m:
		return true
	default:
		return false
	}
}

// Outbound is drained by the session's connection writer.
func (s *Session) Outbound() <-chan protocol.Message {
	return s.outbound
}

// Close marks the session finished. Idempotent and safe to call from the
// handler's own teardown and a server shutdown racing each other.
func (s *Session) Close() {
	s.once.Do(func() {
		close(s.done)
	})
}

// Done is closed once the session is finished.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Registry maps active usernames to their sessions and fans broadcasts out
// to all of them. All methods are safe for concurrent use.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session
}

func New() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

// Register adds the session under its username. Returns false when the
// username is already taken (case-sensitive exact match).
func (r *Registry) Register(s *Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, taken := r.sessions[s.Username]; taken {
		return false
	}
	r.sessions[s.Username] = s
	log.Info().Str("username", s.Username).Int("sessions", len(r.sessions)).Msg("Session registered")
	return true
}

// Unregister removes the username. Calling it for a name that is not
// registered is a no-op.
func (r *Registry) Unregister(username string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[username]; !ok {
		return
	}
	delete(r.sessions, username)
	log.Info().Str("username", username).Int("sessions", len(r.sessions)).Msg("Session unregistered")
}

// Count returns the number of registered sessions.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Broadcast queues the message for every registered session, including the
// one that caused it. Sends are non-blocking; a session whose queue is full
// misses this frame.
func (r *Registry) Broadcast(m protocol.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for username, s := range r.sessions {
		if !s.Send(m) {
			log.Warn().Str("username", username).Str("type", string(m.Type)).Msg("Outbound queue full, dropping frame")
		}
	}
}

// CloseAll notifies every session that the server is closing (best-effort)
// and finishes it. Used on graceful shutdown.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	notice := protocol.NewError("server closed")
	for username, s := range r.sessions {
		s.Send(notice)
		s.Close()
		delete(r.sessions, username)
	}
}
