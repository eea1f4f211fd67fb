package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Ramsey-B/clover/pkg/metrics"
	"github.com/Ramsey-B/clover/pkg/models"
)

var ErrSessionNotFound = errors.New("review session not found")

const DefaultIdleTTL = 30 * time.Minute

// Manager keeps review sessions by id and drops the ones left idle.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*Session
	deps     Dependencies
	idleTTL  time.Duration
	now      func() time.Time
}

func NewManager(deps Dependencies, idleTTL time.Duration) *Manager {
	if idleTTL <= 0 {
		idleTTL = DefaultIdleTTL
	}
	return &Manager{
		sessions: make(map[string]*Session),
		deps:     deps,
		idleTTL:  idleTTL,
		now:      time.Now,
	}
}

// Create opens a session over group for one reviewer.
func (m *Manager) Create(accountID, reviewerID string, group models.DuplicateGroup) *Session {
	s := New(uuid.NewString(), accountID, reviewerID, group, m.deps)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.id] = s
	metrics.ReviewSessionsActive.Set(float64(len(m.sessions)))
	return s
}

// Get returns the session if it exists and belongs to accountID.
func (m *Manager) Get(accountID, id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok || s.accountID != accountID {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// Close discards a session. A session with a merge in flight stays until it settles.
func (m *Manager) Close(accountID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok || s.accountID != accountID {
		return ErrSessionNotFound
	}
	if _, busy := s.idleSince(); busy {
		return ErrBusy
	}
	delete(m.sessions, id)
	metrics.ReviewSessionsActive.Set(float64(len(m.sessions)))
	return nil
}

// Sweep drops sessions idle for longer than the TTL and returns how many went.
func (m *Manager) Sweep() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := m.now().Add(-m.idleTTL)
	removed := 0
	for id, s := range m.sessions {
		last, busy := s.idleSince()
		if busy || last.After(cutoff) {
			continue
		}
		delete(m.sessions, id)
		removed++
	}
	metrics.ReviewSessionsActive.Set(float64(len(m.sessions)))
	return removed
}

// Run sweeps every interval until ctx is done.
func (m *Manager) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := m.Sweep(); n > 0 && m.deps.Logger != nil {
				m.deps.Logger.WithContext(ctx).Debugf("Expired %d idle review sessions", n)
			}
		}
	}
}

func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}
