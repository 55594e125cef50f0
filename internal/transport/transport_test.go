package transport

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/conduitmsg/conduit/internal/events"
	"github.com/conduitmsg/conduit/internal/platform"
	"github.com/conduitmsg/conduit/pkg/models"
)

func TestEncodeEvent(t *testing.T) {
	frame, err := encodeEvent("bot_request", map[string]string{"k": "v"})
	if err != nil {
		t.Fatalf("encodeEvent: %v", err)
	}
	got := string(frame)
	if !strings.HasPrefix(got, "42") {
		t.Fatalf("frame = %q, want engine.io message + socket.io event prefix", got)
	}
	if !strings.Contains(got, `"bot_request"`) || !strings.Contains(got, `"k":"v"`) {
		t.Fatalf("frame = %q", got)
	}
}

func TestDecodeFrame_Handshake(t *testing.T) {
	frame, err := decodeFrame([]byte(`0{"sid":"abc","upgrades":[],"pingInterval":25000,"pingTimeout":20000}`))
	if err != nil {
		t.Fatalf("decodeFrame: %v", err)
	}
	if frame.engineType != engineOpen || frame.handshake.SID != "abc" {
		t.Fatalf("frame = %+v", frame)
	}
}

func TestDecodeFrame_Event(t *testing.T) {
	frame, err := decodeFrame([]byte(`42["bot_response",{"event_type":"send_message"}]`))
	if err != nil {
		t.Fatalf("decodeFrame: %v", err)
	}
	if frame.event != "bot_response" {
		t.Fatalf("event = %q", frame.event)
	}
	var payload map[string]string
	if err := json.Unmarshal(frame.payload, &payload); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if payload["event_type"] != "send_message" {
		t.Fatalf("payload = %v", payload)
	}
}

func TestDecodeFrame_Ping(t *testing.T) {
	frame, err := decodeFrame([]byte("2"))
	if err != nil || frame.engineType != enginePing {
		t.Fatalf("frame = %+v err = %v", frame, err)
	}
}

func TestDecodeFrame_NamespaceAck(t *testing.T) {
	frame, err := decodeFrame([]byte(`40{"sid":"xyz"}`))
	if err != nil {
		t.Fatalf("decodeFrame: %v", err)
	}
	if !isNamespaceAck(frame) {
		t.Fatalf("frame = %+v, want namespace ack", frame)
	}
}

func TestDecodeFrame_Malformed(t *testing.T) {
	for _, raw := range []string{"", "4", "42not-json", "9"} {
		if _, err := decodeFrame([]byte(raw)); err == nil {
			t.Fatalf("decodeFrame(%q) should fail", raw)
		}
	}
}

type recordingEmitter struct {
	names    []string
	payloads []any
	fail     bool
}

func (r *recordingEmitter) Emit(event string, payload any) error {
	if r.fail {
		return io.ErrClosedPipe
	}
	r.names = append(r.names, event)
	r.payloads = append(r.payloads, payload)
	return nil
}

func newSession(emitter Emitter, handle CommandFunc) *Session {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewSession(log, emitter, models.AdapterSlack, handle)
}

func TestHandleBotResponse_QueuedThenSuccess(t *testing.T) {
	emitter := &recordingEmitter{}
	s := newSession(emitter, func(_ context.Context, env *events.Envelope) (events.RequestEvent, error) {
		return events.NewRequestBuilder(models.AdapterSlack).SentMessages(env.RequestID, []string{"1"}), nil
	})

	s.HandleBotResponse(context.Background(), json.RawMessage(
		`{"event_type": "send_message", "request_id": "r7", "data": {"conversation_id": "c1", "text": "hi"}}`))

	if len(emitter.names) != 2 || emitter.names[0] != "request_queued" || emitter.names[1] != "request_success" {
		t.Fatalf("emitted = %v, want queued then success", emitter.names)
	}
	queued := emitter.payloads[0].(requestQueuedPayload)
	if queued.RequestID != "r7" {
		t.Fatalf("queued = %+v", queued)
	}
	resp := emitter.payloads[1].(events.RequestEvent)
	if resp.RequestID != "r7" || !resp.Data.RequestCompleted {
		t.Fatalf("success = %+v", resp)
	}
}

func TestHandleBotResponse_QueuedThenFailed(t *testing.T) {
	emitter := &recordingEmitter{}
	s := newSession(emitter, func(context.Context, *events.Envelope) (events.RequestEvent, error) {
		return events.RequestEvent{}, platform.ErrUnsupported("reactions on webhooks")
	})

	s.HandleBotResponse(context.Background(), json.RawMessage(
		`{"event_type": "add_reaction", "request_id": "r8",
		  "data": {"conversation_id": "c1", "message_id": "m1", "emoji": "thumbs_up"}}`))

	if len(emitter.names) != 2 || emitter.names[0] != "request_queued" || emitter.names[1] != "request_failed" {
		t.Fatalf("emitted = %v, want queued then failed", emitter.names)
	}
	failed := emitter.payloads[1].(requestFailedPayload)
	if failed.RequestID != "r8" || failed.Error.Kind != "unsupported" {
		t.Fatalf("failed = %+v", failed)
	}
}

func TestHandleBotResponse_MalformedEnvelopeFailsWithoutQueued(t *testing.T) {
	emitter := &recordingEmitter{}
	s := newSession(emitter, func(context.Context, *events.Envelope) (events.RequestEvent, error) {
		t.Fatal("handler must not run for malformed envelopes")
		return events.RequestEvent{}, nil
	})

	s.HandleBotResponse(context.Background(), json.RawMessage(`{"data": {}}`))

	if len(emitter.names) != 1 || emitter.names[0] != "request_failed" {
		t.Fatalf("emitted = %v, want a single request_failed", emitter.names)
	}
	failed := emitter.payloads[0].(requestFailedPayload)
	if failed.Error.Kind != "invalid_request" {
		t.Fatalf("failed = %+v", failed)
	}
}

func TestSocketIOEndpoint(t *testing.T) {
	got, err := socketIOEndpoint("http://controller:8080")
	if err != nil {
		t.Fatalf("socketIOEndpoint: %v", err)
	}
	if !strings.HasPrefix(got, "ws://controller:8080/socket.io/") {
		t.Fatalf("endpoint = %q", got)
	}
	if !strings.Contains(got, "EIO=4") || !strings.Contains(got, "transport=websocket") {
		t.Fatalf("endpoint = %q, want engine.io query params", got)
	}

	got, err = socketIOEndpoint("https://controller/api?token=abc")
	if err != nil {
		t.Fatalf("socketIOEndpoint: %v", err)
	}
	if !strings.HasPrefix(got, "wss://") || !strings.Contains(got, "token=abc") {
		t.Fatalf("endpoint = %q, want wss scheme and preserved params", got)
	}

	if _, err := socketIOEndpoint("ftp://nope"); err == nil {
		t.Fatal("unsupported scheme should fail")
	}
}
