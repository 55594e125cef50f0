package transport

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/conduitmsg/conduit/internal/events"
	"github.com/conduitmsg/conduit/pkg/models"
)

// Outbound event names on the controller channel.
const (
	eventConnect       = "connect"
	eventDisconnect    = "disconnect"
	eventBotRequest    = "bot_request"
	eventRequestQueued = "request_queued"
	eventSuccess       = "request_success"
	eventFailed        = "request_failed"

	// EventBotResponse is the inbound controller command event.
	EventBotResponse = "bot_response"
)

// CommandFunc executes one validated controller command.
type CommandFunc func(ctx context.Context, env *events.Envelope) (events.RequestEvent, error)

// Session implements the request lifecycle on top of an emitter: every
// bot_response is acknowledged with request_queued, then exactly one of
// request_success or request_failed.
type Session struct {
	log         *slog.Logger
	emitter     Emitter
	adapterType models.AdapterType
	handle      CommandFunc
}

// NewSession wires the lifecycle onto an emitter and a command executor.
func NewSession(log *slog.Logger, emitter Emitter, adapterType models.AdapterType, handle CommandFunc) *Session {
	return &Session{log: log, emitter: emitter, adapterType: adapterType, handle: handle}
}

type adapterTypePayload struct {
	AdapterType models.AdapterType `json:"adapter_type"`
}

type requestQueuedPayload struct {
	RequestID string `json:"request_id"`
}

type requestFailedPayload struct {
	RequestID string              `json:"request_id"`
	Error     events.ErrorPayload `json:"error"`
}

// EmitConnect announces a live upstream connection. Idempotent on the
// controller side.
func (s *Session) EmitConnect() error {
	return s.emitter.Emit(eventConnect, adapterTypePayload{AdapterType: s.adapterType})
}

// EmitDisconnect announces a lost upstream connection.
func (s *Session) EmitDisconnect() error {
	return s.emitter.Emit(eventDisconnect, adapterTypePayload{AdapterType: s.adapterType})
}

// EmitBotRequest forwards one incoming event to the controller.
func (s *Session) EmitBotRequest(ev events.IncomingEvent) error {
	return s.emitter.Emit(eventBotRequest, ev)
}

// HandleBotResponse runs one controller command through the lifecycle. It is
// called from the read loop, so commands are accepted in send order;
// request_queued always precedes the terminal acknowledgement.
func (s *Session) HandleBotResponse(ctx context.Context, payload json.RawMessage) {
	env, err := events.ParseEnvelope(payload)
	if err != nil {
		s.log.Warn("rejecting malformed bot_response", "error", err)
		s.emitFailed("", err)
		return
	}

	if err := s.emitter.Emit(eventRequestQueued, requestQueuedPayload{RequestID: env.RequestID}); err != nil {
		s.log.Warn("failed to emit request_queued", "request_id", env.RequestID, "error", err)
	}

	resp, err := s.handle(ctx, env)
	if err != nil {
		s.log.Warn("request failed",
			"request_id", env.RequestID,
			"event_type", string(env.EventType),
			"error", err)
		s.emitFailed(env.RequestID, err)
		return
	}
	if resp.RequestID == "" {
		resp.RequestID = env.RequestID
	}
	if err := s.emitter.Emit(eventSuccess, resp); err != nil {
		s.log.Warn("failed to emit request_success", "request_id", env.RequestID, "error", err)
	}
}

func (s *Session) emitFailed(requestID string, cause error) {
	payload := requestFailedPayload{
		RequestID: requestID,
		Error:     events.ErrorFromFailure(cause),
	}
	if err := s.emitter.Emit(eventFailed, payload); err != nil {
		s.log.Warn("failed to emit request_failed", "request_id", requestID, "error", err)
	}
}
