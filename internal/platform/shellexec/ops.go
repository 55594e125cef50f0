package shellexec

import (
	"context"
	"log/slog"

	"github.com/conduitmsg/conduit/internal/events"
	"github.com/conduitmsg/conduit/internal/platform"
	"github.com/conduitmsg/conduit/internal/processor"
	"github.com/conduitmsg/conduit/pkg/models"
)

// Handlers serves the shell command set.
type Handlers struct {
	log      *slog.Logger
	manager  *Manager
	requests *events.RequestBuilder
}

func NewHandlers(log *slog.Logger, manager *Manager) *Handlers {
	return &Handlers{
		log:      log,
		manager:  manager,
		requests: events.NewRequestBuilder(models.AdapterShell),
	}
}

// Register installs the shell command set on the outgoing processor.
func (h *Handlers) Register(p *processor.Outgoing) {
	p.Register(events.CommandOpenSession, h.handleOpen)
	p.Register(events.CommandCloseSession, h.handleClose)
	p.Register(events.CommandExecute, h.handleExecute)
}

func (h *Handlers) handleOpen(_ context.Context, cmd *events.Command) (events.RequestEvent, error) {
	sessionID, err := h.manager.OpenSession()
	if err != nil {
		return events.RequestEvent{}, err
	}
	return h.requests.SessionOpened(cmd.RequestID, sessionID), nil
}

func (h *Handlers) handleClose(_ context.Context, cmd *events.Command) (events.RequestEvent, error) {
	if cmd.Shell.SessionID == "" {
		return events.RequestEvent{}, platform.ErrInvalidRequest("close_session requires session_id", nil)
	}
	if err := h.manager.CloseSession(cmd.Shell.SessionID); err != nil {
		return events.RequestEvent{}, err
	}
	return h.requests.Completed(cmd.RequestID), nil
}

func (h *Handlers) handleExecute(ctx context.Context, cmd *events.Command) (events.RequestEvent, error) {
	if cmd.Shell.Command == "" {
		return events.RequestEvent{}, platform.ErrInvalidRequest("execute_command requires command", nil)
	}

	// A missing session id opens a one-off session for the command.
	sessionID := cmd.Shell.SessionID
	if sessionID == "" {
		opened, err := h.manager.OpenSession()
		if err != nil {
			return events.RequestEvent{}, err
		}
		sessionID = opened
		defer func() {
			if err := h.manager.CloseSession(sessionID); err != nil && platform.CodeOf(err) != platform.ErrCodeNotFound {
				h.log.Warn("closing one-off session", "session_id", sessionID, "error", err)
			}
		}()
	}

	result, err := h.manager.RunCommand(ctx, sessionID, cmd.Shell.Command)
	if err != nil {
		return events.RequestEvent{}, err
	}
	return h.requests.Executed(cmd.RequestID, result), nil
}
