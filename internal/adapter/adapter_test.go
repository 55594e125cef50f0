package adapter

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/conduitmsg/conduit/internal/config"
	"github.com/conduitmsg/conduit/internal/events"
	"github.com/conduitmsg/conduit/internal/platform"
	"github.com/conduitmsg/conduit/pkg/models"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig(t *testing.T, adapterType models.AdapterType) *config.Config {
	t.Helper()
	cfg := &config.Config{
		Adapter: config.AdapterConfig{
			AdapterType: adapterType,
			AdapterID:   "adapter-1",
		},
		Transport: config.TransportConfig{URL: "http://controller.local:8081"},
	}
	switch adapterType {
	case models.AdapterTextFile:
		cfg.TextFile = config.TextFileConfig{
			BaseDirectory:   t.TempDir(),
			BackupDirectory: t.TempDir(),
			SecurityMode:    config.SecurityPermissive,
		}
	case models.AdapterShell:
		cfg.Shell = config.ShellConfig{WorkspaceDirectory: t.TempDir()}
	default:
		cfg.Attachments = config.AttachmentsConfig{StorageDir: t.TempDir()}
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	return cfg
}

func buildTestAdapter(t *testing.T, adapterType models.AdapterType) *Adapter {
	t.Helper()
	a, err := build(testLogger(), testConfig(t, adapterType), prometheus.NewRegistry())
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	return a
}

type emitted struct {
	event   string
	payload any
}

type recordingEmitter struct {
	mu     sync.Mutex
	events []emitted
}

func (r *recordingEmitter) Emit(event string, payload any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, emitted{event: event, payload: payload})
	return nil
}

func (r *recordingEmitter) recorded() []emitted {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]emitted(nil), r.events...)
}

func envelope(t *testing.T, eventType events.OutgoingEventType, data any) *events.Envelope {
	t.Helper()
	raw, err := json.Marshal(data)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return &events.Envelope{EventType: eventType, RequestID: "req-1", Data: raw}
}

func TestBuildTextFileAdapter(t *testing.T) {
	a := buildTestAdapter(t, models.AdapterTextFile)

	if !a.pseudo {
		t.Fatal("textfile should be a pseudo platform")
	}
	var names []string
	for _, task := range a.maintenance {
		names = append(names, task.name)
	}
	found := false
	for _, name := range names {
		if name == "file_events" {
			found = true
		}
	}
	if !found {
		t.Fatalf("file event sweep missing, tasks = %v", names)
	}

	resp, err := a.execute(context.Background(), envelope(t, events.CommandCreateFile, map[string]string{
		"file_path": "notes.txt",
		"content":   "hello\n",
	}))
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !resp.Data.RequestCompleted {
		t.Fatalf("resp = %+v", resp)
	}

	content, err := os.ReadFile(filepath.Join(a.cfg.TextFile.BaseDirectory, "notes.txt"))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(content) != "hello\n" {
		t.Fatalf("content = %q", content)
	}
}

func TestBuildShellAdapter(t *testing.T) {
	a := buildTestAdapter(t, models.AdapterShell)
	defer func() {
		for _, closer := range a.closers {
			closer()
		}
	}()

	resp, err := a.execute(context.Background(), envelope(t, events.CommandOpenSession, map[string]string{}))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if resp.Data.SessionID == "" {
		t.Fatalf("resp = %+v", resp)
	}

	closeResp, err := a.execute(context.Background(), envelope(t, events.CommandCloseSession, map[string]string{
		"session_id": resp.Data.SessionID,
	}))
	if err != nil {
		t.Fatalf("close: %v", err)
	}
	if !closeResp.Data.RequestCompleted {
		t.Fatalf("resp = %+v", closeResp)
	}
}

func TestExecuteRejectsUnknownCommand(t *testing.T) {
	a := buildTestAdapter(t, models.AdapterTextFile)

	_, err := a.execute(context.Background(), &events.Envelope{
		EventType: "reticulate_splines",
		RequestID: "req-1",
	})
	if platform.CodeOf(err) != platform.ErrCodeInvalidRequest {
		t.Fatalf("err = %v", err)
	}

	got := testutil.ToFloat64(a.metrics.RequestErrors.WithLabelValues("textfile", string(platform.ErrCodeInvalidRequest)))
	if got != 1 {
		t.Fatalf("error counter = %v, want 1", got)
	}
}

func TestExecuteRecordsOutcome(t *testing.T) {
	a := buildTestAdapter(t, models.AdapterTextFile)

	if _, err := a.execute(context.Background(), envelope(t, events.CommandCreateFile, map[string]string{
		"file_path": "a.txt",
		"content":   "x",
	})); err != nil {
		t.Fatalf("execute: %v", err)
	}

	got := testutil.ToFloat64(a.metrics.Requests.WithLabelValues("textfile", "create", "success"))
	if got != 1 {
		t.Fatalf("request counter = %v, want 1", got)
	}
}

func TestPumpEventsForwardsMessages(t *testing.T) {
	a := buildTestAdapter(t, models.AdapterTextFile)
	rec := &recordingEmitter{}
	a.emitter.set(rec)

	ch := make(chan *platform.Event, 1)
	a.events = ch

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		a.pumpEvents(ctx)
	}()

	ch <- &platform.Event{
		Type: platform.IncomingNewMessage,
		Message: &platform.Message{
			MessageID:      "m1",
			ConversationID: "c1",
			Sender:         models.UserInfo{UserID: "u1", Username: "ada"},
			Text:           "hello",
			Timestamp:      time.Now().UnixMilli(),
		},
	}
	close(ch)
	<-done

	recorded := rec.recorded()
	if len(recorded) < 2 {
		t.Fatalf("recorded = %+v", recorded)
	}
	var types []events.IncomingEventType
	for _, e := range recorded {
		if e.event != "bot_request" {
			t.Fatalf("unexpected event %q", e.event)
		}
		ie, ok := e.payload.(events.IncomingEvent)
		if !ok {
			t.Fatalf("payload = %T", e.payload)
		}
		types = append(types, ie.EventType)
	}
	if types[0] != events.EventConversationStarted {
		t.Fatalf("first event = %q", types[0])
	}
	if types[len(types)-1] != events.EventMessageReceived {
		t.Fatalf("last event = %q", types[len(types)-1])
	}
}

func TestHandleControllerEventRoutesBotResponse(t *testing.T) {
	a := buildTestAdapter(t, models.AdapterTextFile)
	rec := &recordingEmitter{}
	a.emitter.set(rec)

	a.handleControllerEvent(context.Background(), "request_queued", nil)
	if len(rec.recorded()) != 0 {
		t.Fatal("non-command events should be ignored")
	}

	a.handleControllerEvent(context.Background(), "bot_response", json.RawMessage(`{"not":"a frame"`))
	recorded := rec.recorded()
	if len(recorded) != 1 || recorded[0].event != "request_failed" {
		t.Fatalf("recorded = %+v", recorded)
	}
}

func TestSwappingEmitter(t *testing.T) {
	e := &swappingEmitter{}

	if err := e.Emit("connect", nil); err == nil {
		t.Fatal("emit without a target should fail")
	}

	rec := &recordingEmitter{}
	e.set(rec)
	if err := e.Emit("connect", nil); err != nil {
		t.Fatalf("Emit: %v", err)
	}
	if got := rec.recorded(); len(got) != 1 || got[0].event != "connect" {
		t.Fatalf("recorded = %+v", got)
	}
}

func TestBuildRejectsUnknownAdapterType(t *testing.T) {
	cfg := testConfig(t, models.AdapterTextFile)
	cfg.Adapter.AdapterType = "carrier_pigeon"

	if _, err := build(testLogger(), cfg, prometheus.NewRegistry()); err == nil {
		t.Fatal("build should reject unknown adapter types")
	}
}
