package session

import (
	"errors"
	"sync"
	"time"

	"postbot/internal/post"
	logx "postbot/pkg/logx"
)

var ErrActiveSession = errors.New("contributor already has an active session")

// Manager owns the per-contributor sessions. At most one session exists
// per contributor; sessions idle longer than the timeout are swept and
// handed back so the caller can delete their UI messages.
type Manager struct {
	log logx.Logger

	mu       sync.Mutex
	sessions map[int64]*Session
	idle     time.Duration
	now      func() time.Time
}

type Options struct {
	// IdleTimeout after which an inactive session is discarded.
	// 0 means 2 hours.
	IdleTimeout time.Duration
	Now         func() time.Time
}

func NewManager(opts Options, log logx.Logger) *Manager {
	if log.IsZero() {
		log = logx.Nop()
	}
	idle := opts.IdleTimeout
	if idle <= 0 {
		idle = 2 * time.Hour
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Manager{
		log:      log,
		sessions: map[int64]*Session{},
		idle:     idle,
		now:      now,
	}
}

// Start creates a session for the contributor, or fails with
// ErrActiveSession when one already exists.
func (m *Manager) Start(contributorID int64, name string, shape post.Shape) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[contributorID]; ok {
		return nil, ErrActiveSession
	}
	s := newSession(contributorID, name, shape, m.now())
	m.sessions[contributorID] = s
	return s, nil
}

// Get returns the contributor's live session and refreshes its idle
// deadline.
func (m *Manager) Get(contributorID int64) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[contributorID]
	if ok {
		s.lastActivity = m.now()
	}
	return s, ok
}

// End removes the session (cancel, handoff, or cleanup) and returns it
// so the caller can dispose of its UI artifacts.
func (m *Manager) End(contributorID int64) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[contributorID]
	if ok {
		delete(m.sessions, contributorID)
	}
	return s, ok
}

// SweepIdle discards sessions idle past the timeout and returns them.
func (m *Manager) SweepIdle() []*Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	cutoff := m.now().Add(-m.idle)
	var swept []*Session
	for id, s := range m.sessions {
		if s.lastActivity.Before(cutoff) {
			delete(m.sessions, id)
			swept = append(swept, s)
			m.log.Info("idle session discarded",
				logx.Int64("contributor_id", id),
				logx.String("shape", string(s.Shape)),
				logx.Time("started_at", s.startedAt))
		}
	}
	return swept
}

func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}
