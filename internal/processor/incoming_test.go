package processor

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/conduitmsg/conduit/internal/cache"
	"github.com/conduitmsg/conduit/internal/config"
	"github.com/conduitmsg/conduit/internal/conversation"
	"github.com/conduitmsg/conduit/internal/events"
	"github.com/conduitmsg/conduit/internal/history"
	"github.com/conduitmsg/conduit/internal/platform"
	"github.com/conduitmsg/conduit/pkg/models"
)

func newIncoming(driver platform.Driver) (*Incoming, *conversation.Manager) {
	caching := config.CachingConfig{MaxMessagesPerConversation: 100, MaxTotalMessages: 1000, MaxAgeHours: 24}
	cfg := config.AdapterConfig{MaxHistoryLimit: 10, MaxPaginationIterations: 2}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	m := conversation.NewManager(log,
		cache.NewMessageCache(caching),
		cache.NewAttachmentCache(caching, nil),
		cache.NewUserCache(caching))
	builder := events.NewIncomingBuilder(models.AdapterTelegram, "tg-1", "main")
	var fetcher *history.Fetcher
	if driver != nil {
		fetcher = history.NewFetcher(log, cfg, driver, m, nil)
	}
	return NewIncoming(log, cfg, m, builder, fetcher), m
}

func newMessageEvent(conv, id, text string, ts int64) *platform.Event {
	return &platform.Event{
		Type: platform.IncomingNewMessage,
		Message: &platform.Message{
			MessageID:        id,
			ConversationID:   conv,
			ConversationType: models.ConversationPrivate,
			Sender:           models.UserInfo{UserID: "456", Username: "ada"},
			Text:             text,
			Timestamp:        ts,
		},
	}
}

func eventTypes(out []events.IncomingEvent) []events.IncomingEventType {
	types := make([]events.IncomingEventType, len(out))
	for i, ev := range out {
		types[i] = ev.EventType
	}
	return types
}

func TestProcess_NewConversationOrdering(t *testing.T) {
	driver := &scriptedDriver{caps: platform.Capabilities{SupportsHistory: true}}
	p, _ := newIncoming(driver)

	out := p.Process(context.Background(), newMessageEvent("456", "123", "hi", 5000))

	want := []events.IncomingEventType{
		events.EventConversationStarted,
		events.EventHistoryFetched,
		events.EventMessageReceived,
	}
	got := eventTypes(out)
	if len(got) != len(want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("events = %v, want %v", got, want)
		}
	}

	received := out[2].Data.(events.MessageReceivedData)
	if received.MessageID != "123" || received.Text != "hi" || !received.IsDirectMessage {
		t.Fatalf("message_received = %+v", received)
	}

	// The second message of the conversation emits no conversation_started.
	out = p.Process(context.Background(), newMessageEvent("456", "124", "again", 6000))
	if types := eventTypes(out); len(types) != 1 || types[0] != events.EventMessageReceived {
		t.Fatalf("second message events = %v", types)
	}
}

func TestProcess_ServiceMessagesAreFiltered(t *testing.T) {
	p, _ := newIncoming(nil)

	ev := newMessageEvent("c1", "1", "user joined", 1000)
	ev.Message.ServiceMessage = true
	if out := p.Process(context.Background(), ev); out != nil {
		t.Fatalf("out = %v, want nil for service message", out)
	}
}

func TestProcess_EditFlippingPinEmitsUpdatedThenPinned(t *testing.T) {
	p, m := newIncoming(nil)
	m.AddMessage(newMessageEvent("987654321/123456789", "111222333", "content", 1000).Message)

	edit := newMessageEvent("987654321/123456789", "111222333", "content", 1000)
	edit.Type = platform.IncomingEditedMessage
	edit.Message.IsPinned = true
	edit.Message.PinStateKnown = true

	out := p.Process(context.Background(), edit)
	want := []events.IncomingEventType{events.EventMessageUpdated, events.EventMessagePinned}
	got := eventTypes(out)
	if len(got) != 2 || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("events = %v, want exactly %v", got, want)
	}
}

func TestProcess_ReactionToggleEmitsRemoval(t *testing.T) {
	p, m := newIncoming(nil)
	seed := newMessageEvent("c1", "m1", "hello", 1000)
	seed.Message.Reactions = map[string]int{"thumbs_up": 1}
	m.AddMessage(seed.Message)

	edit := newMessageEvent("c1", "m1", "hello", 1000)
	edit.Type = platform.IncomingEditedMessage
	edit.Message.Reactions = map[string]int{}

	out := p.Process(context.Background(), edit)
	if types := eventTypes(out); len(types) != 1 || types[0] != events.EventReactionRemoved {
		t.Fatalf("events = %v, want one reaction_removed", types)
	}
	data := out[0].Data.(events.ReactionData)
	if data.Emoji != "thumbs_up" || data.MessageID != "m1" {
		t.Fatalf("data = %+v", data)
	}
}

func TestProcess_DeleteEmitsPerMessage(t *testing.T) {
	p, m := newIncoming(nil)
	m.AddMessage(newMessageEvent("c1", "1", "a", 1000).Message)
	m.AddMessage(newMessageEvent("c1", "2", "b", 2000).Message)

	out := p.Process(context.Background(), &platform.Event{
		Type:       platform.IncomingDeletedMessage,
		DeletedIDs: []string{"1", "2"},
	})
	if types := eventTypes(out); len(types) != 2 {
		t.Fatalf("events = %v, want two message_deleted", types)
	}
}

func TestProcess_UnknownTypeYieldsNothing(t *testing.T) {
	p, _ := newIncoming(nil)
	if out := p.Process(context.Background(), &platform.Event{Type: "weird"}); out != nil {
		t.Fatalf("out = %v, want nil", out)
	}
}

func TestProcess_NilMessageDoesNotPanic(t *testing.T) {
	p, _ := newIncoming(nil)
	if out := p.Process(context.Background(), &platform.Event{Type: platform.IncomingNewMessage}); out != nil {
		t.Fatalf("out = %v, want nil", out)
	}
}

func TestProcess_MigrationEmitsConversationUpdated(t *testing.T) {
	p, m := newIncoming(nil)
	m.AddMessage(newMessageEvent("old", "1", "hi", 1000).Message)

	out := p.Process(context.Background(), &platform.Event{
		Type:              platform.IncomingChatMigrated,
		OldConversationID: "old",
		NewConversationID: "new",
	})
	if types := eventTypes(out); len(types) != 1 || types[0] != events.EventConversationUpdated {
		t.Fatalf("events = %v", types)
	}
	if m.Messages().Get("new", "1") == nil {
		t.Fatal("messages should be migrated")
	}
}
