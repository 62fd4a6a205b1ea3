package server

import (
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/iat-probe/internal/iat"
	"github.com/iat-probe/internal/stats"
)

// Session is the tracking state of one TCP connection, one UDP socket, or one
// UDP peer. Observe must only be called from the goroutine owning the session.
type Session struct {
	ID        string
	Transport string
	Remote    string
	Started   time.Time
	Done      chan struct{}

	conn    io.Closer
	tracker *iat.Tracker
	jitter  *stats.Window[time.Duration]
	packets atomic.Int64
	mu      sync.Mutex
}

// NewSession creates a session. conn may be nil when the session does not own
// a socket.
func NewSession(id, transport, remote string, conn io.Closer, cfg StatsConfig) *Session {
	return &Session{
		ID:        id,
		Transport: transport,
		Remote:    remote,
		Started:   time.Now(),
		Done:      make(chan struct{}),
		conn:      conn,
		tracker:   iat.NewTracker(iat.PointRecv),
		jitter:    stats.New[time.Duration](cfg.MaxSamples, cfg.MaxSpread),
	}
}

// Observe feeds one receive event into the session
func (s *Session) Observe(at time.Time) iat.Sample {
	sample := s.tracker.Observe(at)
	if !sample.First {
		s.jitter.Add(sample.IAT)
	}
	s.packets.Store(int64(sample.Index))
	return sample
}

// Packets returns the number of events observed so far
func (s *Session) Packets() int {
	return int(s.packets.Load())
}

// Jitter returns the windowed mean and standard deviation of the IAT. Only
// valid from the owning goroutine or after it has finished.
func (s *Session) Jitter() (mean, stdDev time.Duration) {
	return s.jitter.Mean(), s.jitter.StdDev()
}

// State returns the session state
func (s *Session) State() iat.State {
	select {
	case <-s.Done:
		return iat.StateClosed
	default:
	}
	if s.Packets() > 0 {
		return iat.StateTracking
	}
	return iat.StateAwaitingFirst
}

// Close closes the session and its socket
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case <-s.Done:
		return
	default:
		close(s.Done)
		if s.conn != nil {
			s.conn.Close()
		}
	}
}

func (s *Session) String() string {
	return fmt.Sprintf("%s %s remote=%s packets=%d state=%s", s.ID, s.Transport, s.Remote, s.Packets(), s.State())
}

// SessionManager is the registry of active sessions
type SessionManager struct {
	sessions map[string]*Session
	seq      atomic.Uint64
	closed   bool
	mu       sync.RWMutex
	logger   *slog.Logger
}

// NewSessionManager creates a new session manager
func NewSessionManager(logger *slog.Logger) *SessionManager {
	return &SessionManager{
		sessions: make(map[string]*Session),
		logger:   logger,
	}
}

// NextID returns a fresh session ID for the transport
func (m *SessionManager) NextID(transport string) string {
	return fmt.Sprintf("%s-%d", transport, m.seq.Add(1))
}

// AddSession registers a session. It returns false, and closes the session,
// once the manager has been shut down.
func (m *SessionManager) AddSession(session *Session) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		session.Close()
		return false
	}
	m.sessions[session.ID] = session
	m.logger.Debug("session added", "session", session.ID, "remote", session.Remote, "total_sessions", len(m.sessions))
	return true
}

// RemoveSession closes and unregisters a session
func (m *SessionManager) RemoveSession(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if session, exists := m.sessions[id]; exists {
		session.Close()
		delete(m.sessions, id)
		m.logger.Debug("session removed", "session", id, "total_sessions", len(m.sessions))
	}
}

// GetSession returns a session by ID
func (m *SessionManager) GetSession(id string) *Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sessions[id]
}

// SessionCount returns the number of active sessions
func (m *SessionManager) SessionCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// GetAllSessions returns the active sessions ordered by ID
func (m *SessionManager) GetAllSessions() []*Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	slices.SortFunc(sessions, func(a, b *Session) int {
		return strings.Compare(a.ID, b.ID)
	})
	return sessions
}

// CloseAll closes every session and rejects new ones
func (m *SessionManager) CloseAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, session := range m.sessions {
		session.Close()
	}
	m.sessions = make(map[string]*Session)
	m.closed = true
	m.logger.Debug("all sessions closed")
}
