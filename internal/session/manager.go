package session

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"
)

// Manager tracks the active sessions of this gateway instance
type Manager struct {
	config   Config
	services Services
	logger   zerolog.Logger

	mu       sync.RWMutex
	sessions map[string]*CallSession
	closed   bool
	wg       sync.WaitGroup
}

// NewManager creates a session manager
func NewManager(cfg Config, services Services, logger zerolog.Logger) *Manager {
	return &Manager{
		config:   cfg,
		services: services,
		logger:   logger.With().Str("component", "session_manager").Logger(),
		sessions: make(map[string]*CallSession),
	}
}

// Open creates a session for a started stream and runs its worker until the session
// closes or ctx is done. Done on the returned session reports when the worker exits.
func (m *Manager) Open(ctx context.Context, callID, streamSID string, transport Transport) (*CallSession, error) {
	s, err := NewCallSession(callID, streamSID, m.config, m.services, transport, m.logger)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, errors.New("session manager is shut down")
	}
	m.sessions[s.ID()] = s
	m.wg.Add(1)
	m.mu.Unlock()

	go func() {
		defer m.wg.Done()
		if err := s.Run(ctx); err != nil {
			m.logger.Warn().Err(err).Str("session_id", s.ID()).Msg("Session ended with error")
		}
		m.mu.Lock()
		delete(m.sessions, s.ID())
		m.mu.Unlock()
	}()

	return s, nil
}

// Get returns an active session by id
func (m *Manager) Get(id string) (*CallSession, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	return s, ok
}

// Close ends one session
func (m *Manager) Close(id string) error {
	s, ok := m.Get(id)
	if !ok {
		return ErrSessionClosed
	}
	s.Close()
	return nil
}

// Active returns the number of running sessions
func (m *Manager) Active() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Shutdown closes every session and waits for their workers to exit, or for ctx
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	for _, s := range m.sessions {
		s.Close()
	}
	m.mu.Unlock()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
