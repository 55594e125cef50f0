package shellexec

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/conduitmsg/conduit/internal/config"
	"github.com/conduitmsg/conduit/internal/events"
	"github.com/conduitmsg/conduit/internal/platform"
)

// Manager owns the shell sessions: open, run, close, and the lifetime
// reaper. Sessions whose command fails to complete are closed, since the
// shell stream is no longer framed.
type Manager struct {
	log      *slog.Logger
	cfg      config.ShellConfig
	executor *Executor

	mu       sync.Mutex
	sessions map[string]*Session
	running  map[string]bool
}

func NewManager(log *slog.Logger, cfg config.ShellConfig) *Manager {
	return &Manager{
		log:      log,
		cfg:      cfg,
		executor: NewExecutor(log, cfg),
		sessions: make(map[string]*Session),
		running:  make(map[string]bool),
	}
}

// OpenSession starts a new shell rooted at the workspace directory.
func (m *Manager) OpenSession() (string, error) {
	session, err := Open(m.cfg.WorkspaceDirectory)
	if err != nil {
		return "", err
	}
	m.mu.Lock()
	m.sessions[session.ID] = session
	m.mu.Unlock()

	m.log.Info("shell session opened", "session_id", session.ID)
	return session.ID, nil
}

// RunCommand executes one command in the named session. Unsuccessful runs
// close the session.
func (m *Manager) RunCommand(ctx context.Context, sessionID, command string) (*events.ExecutionResult, error) {
	m.mu.Lock()
	session, ok := m.sessions[sessionID]
	if !ok {
		m.mu.Unlock()
		return nil, platform.ErrNotFound("session "+sessionID+" not found", nil)
	}
	if m.running[sessionID] {
		m.mu.Unlock()
		return nil, platform.ErrInvalidRequest("session "+sessionID+" already has a running command", nil)
	}
	m.running[sessionID] = true
	m.mu.Unlock()

	result := m.executor.Execute(ctx, session, command)

	m.mu.Lock()
	delete(m.running, sessionID)
	m.mu.Unlock()

	if !result.Successful {
		if err := m.CloseSession(sessionID); err != nil {
			m.log.Warn("closing failed session", "session_id", sessionID, "error", err)
		}
	}
	return result, nil
}

// CloseSession shuts a session's shell down and forgets it.
func (m *Manager) CloseSession(sessionID string) error {
	m.mu.Lock()
	session, ok := m.sessions[sessionID]
	delete(m.sessions, sessionID)
	m.mu.Unlock()
	if !ok {
		return platform.ErrNotFound("session "+sessionID+" not found", nil)
	}

	m.log.Info("shell session closed", "session_id", sessionID)
	return session.Close()
}

// CloseAll tears down every session; used on adapter stop.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	for _, id := range ids {
		if err := m.CloseSession(id); err != nil {
			m.log.Warn("closing session on shutdown", "session_id", id, "error", err)
		}
	}
}

// Sweep reaps sessions past the max lifetime that have no running command,
// and sessions whose shell already exited. Implements the shared cache
// maintenance contract.
func (m *Manager) Sweep(now time.Time) int {
	m.mu.Lock()
	expired := make([]string, 0)
	for id, session := range m.sessions {
		if m.running[id] {
			continue
		}
		if !session.Alive() || now.Sub(session.CreatedAt) > m.cfg.SessionMaxLifetime {
			expired = append(expired, id)
		}
	}
	m.mu.Unlock()

	for _, id := range expired {
		if err := m.CloseSession(id); err != nil {
			m.log.Warn("reaping session", "session_id", id, "error", err)
		}
	}
	return len(expired)
}
