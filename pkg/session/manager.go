package session

import (
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/lokutor-ai/dictation-engine/pkg/correct"
	"github.com/lokutor-ai/dictation-engine/pkg/output"
	"github.com/lokutor-ai/dictation-engine/pkg/stt"
	"github.com/lokutor-ai/dictation-engine/pkg/types"
)

// Manager admits at most one active session at a time, rejecting a new
// trigger press while one is in flight, grounded on session.py's
// SessionManager.
type Manager struct {
	snapshotFn      func() types.ConfigSnapshot
	registry        *stt.Registry
	correctClient   *correct.Client
	writer          output.Writer
	contextProvider ContextProvider
	log             *log.Logger

	mu      sync.Mutex
	active  *Session
	outputM sync.Mutex
	history *History
}

func NewManager(
	snapshotFn func() types.ConfigSnapshot,
	registry *stt.Registry,
	correctClient *correct.Client,
	writer output.Writer,
	contextProvider ContextProvider,
	logger *log.Logger,
) *Manager {
	return &Manager{
		snapshotFn:      snapshotFn,
		registry:        registry,
		correctClient:   correctClient,
		writer:          writer,
		contextProvider: contextProvider,
		log:             logger,
		history:         NewHistory(5, 300*time.Second),
	}
}

// StartSession creates a new session, or returns nil, false if one is
// already active; the caller then calls Start on the returned session. No
// queueing: a busy trigger press is rejected outright. The manager plays
// no sound itself; cmd/dictation reports the rejection with a "Busy"
// notification.
func (m *Manager) StartSession() (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.active != nil && m.active.IsActive() {
		return nil, false
	}

	s := newSession(
		m.snapshotFn(),
		m.registry,
		m.correctClient,
		m.writer,
		m.contextProvider,
		&m.outputM,
		m.history,
		m.log,
		m.onSessionComplete,
	)
	m.active = s
	return s, true
}

func (m *Manager) onSessionComplete(s *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active == s {
		m.active = nil
	}
}

// IsBusy reports whether a session is currently active.
func (m *Manager) IsBusy() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active != nil && m.active.IsActive()
}
