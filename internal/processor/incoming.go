package processor

import (
	"context"
	"log/slog"
	"time"

	"github.com/conduitmsg/conduit/internal/config"
	"github.com/conduitmsg/conduit/internal/conversation"
	"github.com/conduitmsg/conduit/internal/events"
	"github.com/conduitmsg/conduit/internal/history"
	"github.com/conduitmsg/conduit/internal/platform"
)

type incomingHandler func(ctx context.Context, ev *platform.Event) []events.IncomingEvent

// Incoming turns normalized upstream callbacks into controller events. The
// handler boundary never propagates failures: a panic or a bad payload is
// logged and yields no events, keeping the adapter alive on arbitrary
// upstream data.
type Incoming struct {
	log      *slog.Logger
	cfg      config.AdapterConfig
	manager  *conversation.Manager
	builder  *events.IncomingBuilder
	history  *history.Fetcher
	handlers map[platform.IncomingType]incomingHandler
	now      func() time.Time
}

// NewIncoming builds the processor with every callback kind registered.
func NewIncoming(log *slog.Logger, cfg config.AdapterConfig, manager *conversation.Manager, builder *events.IncomingBuilder, fetcher *history.Fetcher) *Incoming {
	p := &Incoming{
		log:     log,
		cfg:     cfg,
		manager: manager,
		builder: builder,
		history: fetcher,
		now:     time.Now,
	}
	p.handlers = map[platform.IncomingType]incomingHandler{
		platform.IncomingNewMessage:      p.handleNewMessage,
		platform.IncomingEditedMessage:   p.handleUpdate,
		platform.IncomingDeletedMessage:  p.handleDeleted,
		platform.IncomingReactionAdded:   p.handleUpdate,
		platform.IncomingReactionRemoved: p.handleUpdate,
		platform.IncomingPinnedMessage:   p.handleUpdate,
		platform.IncomingUnpinnedMessage: p.handleUpdate,
		platform.IncomingChatMigrated:    p.handleMigrated,
	}
	return p
}

// Process translates one upstream callback into zero or more controller
// events.
func (p *Incoming) Process(ctx context.Context, ev *platform.Event) (out []events.IncomingEvent) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Error("incoming handler panicked", "type", eventType(ev), "panic", r)
			out = nil
		}
	}()

	if ev == nil {
		return nil
	}
	h, ok := p.handlers[ev.Type]
	if !ok {
		p.log.Debug("unhandled upstream event", "type", string(ev.Type))
		return nil
	}
	return h(ctx, ev)
}

func eventType(ev *platform.Event) string {
	if ev == nil {
		return ""
	}
	return string(ev.Type)
}

func (p *Incoming) handleNewMessage(ctx context.Context, ev *platform.Event) []events.IncomingEvent {
	msg := ev.Message
	if msg == nil || msg.ServiceMessage {
		return nil
	}

	delta := p.manager.AddMessage(msg)
	if delta.Empty() {
		return nil
	}

	var out []events.IncomingEvent
	if delta.JustStarted {
		out = append(out, p.builder.ConversationStarted(delta.ConversationID, delta.ConversationName, delta.ServerName))
	}
	if delta.FetchHistory && p.history != nil {
		before := msg.Timestamp
		if before == 0 {
			before = p.now().UnixMilli()
		}
		fetched, err := p.history.Fetch(ctx, delta.ConversationID, p.cfg.MaxHistoryLimit, before, 0)
		if err != nil {
			p.log.Warn("initial history fetch failed",
				"conversation_id", delta.ConversationID, "error", err)
		} else {
			out = append(out, p.builder.HistoryFetched(delta.ConversationID, fetched))
		}
	}
	for _, added := range delta.AddedMessages {
		out = append(out, p.builder.MessageReceived(added))
	}
	return out
}

// handleUpdate serves edits, reactions and pins: every change the manager
// reports maps onto one controller event.
func (p *Incoming) handleUpdate(_ context.Context, ev *platform.Event) []events.IncomingEvent {
	if ev.Message != nil && ev.Message.ServiceMessage {
		return nil
	}
	delta := p.manager.UpdateMessage(ev)
	if delta.Empty() {
		return nil
	}

	var out []events.IncomingEvent
	for _, updated := range delta.UpdatedMessages {
		out = append(out, p.builder.MessageUpdated(updated))
	}
	for _, emoji := range delta.AddedReactions {
		out = append(out, p.builder.ReactionAdded(delta.ConversationID, delta.MessageID, emoji))
	}
	for _, emoji := range delta.RemovedReactions {
		out = append(out, p.builder.ReactionRemoved(delta.ConversationID, delta.MessageID, emoji))
	}
	for _, id := range delta.PinnedMessageIDs {
		out = append(out, p.builder.MessagePinned(delta.ConversationID, id))
	}
	for _, id := range delta.UnpinnedMessageIDs {
		out = append(out, p.builder.MessageUnpinned(delta.ConversationID, id))
	}
	return out
}

func (p *Incoming) handleDeleted(_ context.Context, ev *platform.Event) []events.IncomingEvent {
	delta := p.manager.DeleteMessages(ev)
	if delta.Empty() {
		return nil
	}
	out := make([]events.IncomingEvent, 0, len(delta.DeletedMessageIDs))
	for _, id := range delta.DeletedMessageIDs {
		out = append(out, p.builder.MessageDeleted(delta.ConversationID, id))
	}
	return out
}

func (p *Incoming) handleMigrated(_ context.Context, ev *platform.Event) []events.IncomingEvent {
	if ev.OldConversationID == "" || ev.NewConversationID == "" {
		return nil
	}
	p.manager.Migrate(ev.OldConversationID, ev.NewConversationID)

	var name, serverName string
	if conv := p.manager.Get(ev.NewConversationID); conv != nil {
		name, serverName = conv.ConversationName, conv.ServerName
	}
	return []events.IncomingEvent{
		p.builder.ConversationUpdated(ev.NewConversationID, name, serverName),
	}
}
