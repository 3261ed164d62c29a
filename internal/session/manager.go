// Package session issues per-request processing sessions, each owning a
// dedicated directory that every artifact of the request lives in.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a session.
type Status string

const (
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusExpired   Status = "expired"
)

// ErrNotFound is returned when a session id was never issued or has been
// cleaned up.
var ErrNotFound = errors.New("session: not found")

// Session is the isolated scope of artifacts produced by one processing
// request. Fields are set at creation and never mutated by callers; status
// transitions go through the Manager.
type Session struct {
	ID        string
	CreatedAt time.Time
	Dir       string

	mu     sync.Mutex
	status Status
}

// Status returns the session's current lifecycle state.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *Session) setStatus(st Status) {
	s.mu.Lock()
	s.status = st
	s.mu.Unlock()
}

// Manager issues sessions and garbage-collects expired ones. Session ids
// are v4 UUIDs: unguessable and collision-free, so a directory scope can be
// derived directly from the id.
type Manager struct {
	root      string
	retention time.Duration

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewManager creates a manager rooted at dir. Sessions older than
// retention are expired lazily on access and by Sweep.
func NewManager(root string, retention time.Duration) (*Manager, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create session root: %w", err)
	}
	return &Manager{
		root:      root,
		retention: retention,
		sessions:  make(map[string]*Session),
	}, nil
}

// Create issues a new active session with a dedicated directory.
func (m *Manager) Create() (*Session, error) {
	id := uuid.NewString()
	dir := filepath.Join(m.root, id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create session dir: %w", err)
	}

	s := &Session{
		ID:        id,
		CreatedAt: time.Now(),
		Dir:       dir,
		status:    StatusActive,
	}

	m.mu.Lock()
	m.sessions[id] = s
	m.mu.Unlock()

	return s, nil
}

// Resolve looks up a session by id, expiring it on the spot when it has
// outlived the retention window. Callers already holding a *Session keep a
// usable reference even if the id expires afterward; expiry never errors
// an in-flight request.
func (m *Manager) Resolve(id string) (*Session, error) {
	m.mu.RLock()
	s, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}

	if time.Since(s.CreatedAt) > m.retention {
		m.expire(s)
		return nil, ErrNotFound
	}
	return s, nil
}

// Complete marks the session's pipeline as finished successfully.
func (m *Manager) Complete(s *Session) {
	s.setStatus(StatusCompleted)
}

// Fail marks the session's pipeline as failed.
func (m *Manager) Fail(s *Session) {
	s.setStatus(StatusFailed)
}

// Cleanup removes the session and everything in its directory. Unknown ids
// are a no-op.
func (m *Manager) Cleanup(id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	m.mu.Unlock()
	if !ok {
		return nil
	}
	return os.RemoveAll(s.Dir)
}

// Sweep periodically expires sessions past the retention window until the
// context is canceled. Run it in its own goroutine.
func (m *Manager) Sweep(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	slog.Info("session sweeper started", "root", m.root, "retention", m.retention)

	for {
		select {
		case <-ctx.Done():
			slog.Info("session sweeper stopped")
			return
		case <-ticker.C:
			m.sweepOnce()
		}
	}
}

func (m *Manager) sweepOnce() {
	cutoff := time.Now().Add(-m.retention)

	m.mu.RLock()
	var stale []*Session
	for _, s := range m.sessions {
		if s.CreatedAt.Before(cutoff) {
			stale = append(stale, s)
		}
	}
	m.mu.RUnlock()

	for _, s := range stale {
		m.expire(s)
	}
	if len(stale) > 0 {
		slog.Info("expired sessions", "count", len(stale))
	}
}

func (m *Manager) expire(s *Session) {
	s.setStatus(StatusExpired)

	m.mu.Lock()
	delete(m.sessions, s.ID)
	m.mu.Unlock()

	if err := os.RemoveAll(s.Dir); err != nil {
		slog.Error("failed to remove expired session dir", "id", s.ID, "err", err)
	}
}

// Shutdown removes every session unconditionally.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, s := range m.sessions {
		if err := os.RemoveAll(s.Dir); err != nil {
			slog.Error("failed to remove session dir", "id", id, "err", err)
		}
		delete(m.sessions, id)
	}
}
