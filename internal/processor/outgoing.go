// Package processor translates between the controller's commands and the
// upstream platform: outgoing command dispatch and incoming callback
// handling.
package processor

import (
	"context"
	"log/slog"
	"time"

	"github.com/conduitmsg/conduit/internal/backoff"
	"github.com/conduitmsg/conduit/internal/config"
	"github.com/conduitmsg/conduit/internal/conversation"
	"github.com/conduitmsg/conduit/internal/events"
	"github.com/conduitmsg/conduit/internal/history"
	"github.com/conduitmsg/conduit/internal/platform"
	"github.com/conduitmsg/conduit/internal/ratelimit"
)

// CommandHandler serves one outgoing command kind.
type CommandHandler func(ctx context.Context, cmd *events.Command) (events.RequestEvent, error)

// Outgoing dispatches validated controller commands to the platform driver.
// Handlers may fail; the transport turns failures into request_failed frames
// keyed by the error taxonomy.
type Outgoing struct {
	log      *slog.Logger
	cfg      config.AdapterConfig
	driver   platform.Driver
	manager  *conversation.Manager
	limiter  *ratelimit.Limiter
	history  *history.Fetcher
	requests *events.RequestBuilder
	policy   backoff.Policy
	handlers map[events.OutgoingEventType]CommandHandler
	now      func() time.Time
}

// NewOutgoing builds the processor with the messaging command set registered.
// Pseudo-platform adapters register their extra commands with Register.
func NewOutgoing(log *slog.Logger, cfg config.AdapterConfig, driver platform.Driver, manager *conversation.Manager, limiter *ratelimit.Limiter, fetcher *history.Fetcher) *Outgoing {
	p := &Outgoing{
		log:      log,
		cfg:      cfg,
		driver:   driver,
		manager:  manager,
		limiter:  limiter,
		history:  fetcher,
		requests: events.NewRequestBuilder(driver.AdapterType()),
		policy:   backoff.DefaultPolicy(),
		handlers: make(map[events.OutgoingEventType]CommandHandler),
		now:      time.Now,
	}
	p.handlers[events.CommandSendMessage] = p.handleSend
	p.handlers[events.CommandEditMessage] = p.handleEdit
	p.handlers[events.CommandDeleteMessage] = p.handleDelete
	p.handlers[events.CommandAddReaction] = p.handleReaction
	p.handlers[events.CommandRemoveReaction] = p.handleReaction
	p.handlers[events.CommandPinMessage] = p.handlePin
	p.handlers[events.CommandUnpinMessage] = p.handlePin
	p.handlers[events.CommandFetchHistory] = p.handleFetchHistory
	p.handlers[events.CommandFetchAttachment] = p.handleFetchAttachment
	return p
}

// Register installs a handler for an adapter-specific command kind.
func (p *Outgoing) Register(t events.OutgoingEventType, h CommandHandler) {
	p.handlers[t] = h
}

// Handle dispatches one command. Unregistered kinds fail as unsupported.
func (p *Outgoing) Handle(ctx context.Context, cmd *events.Command) (events.RequestEvent, error) {
	h, ok := p.handlers[cmd.EventType]
	if !ok {
		return events.RequestEvent{}, platform.ErrUnsupported(string(cmd.EventType) + " on " + string(p.driver.AdapterType()))
	}
	return h(ctx, cmd)
}

// upstream runs one driver call, retrying an upstream rate limit once and
// transient network failures up to the reconnect budget.
func (p *Outgoing) upstream(ctx context.Context, fn func(ctx context.Context) error) error {
	err := fn(ctx)
	if err == nil {
		return nil
	}
	switch platform.CodeOf(err) {
	case platform.ErrCodeRateLimited:
		p.log.Warn("upstream rate limit hit, retrying once", "error", err)
		if serr := p.policy.Sleep(ctx, 1); serr != nil {
			return serr
		}
		return fn(ctx)
	case platform.ErrCodeTransient:
		attempts := p.cfg.MaxReconnectAttempts
		return backoff.Retry(ctx, p.policy, attempts, platform.Retryable, fn)
	default:
		return err
	}
}

func (p *Outgoing) maxMessageLength() int {
	if caps := p.driver.Capabilities(); caps.MaxMessageLength > 0 {
		return caps.MaxMessageLength
	}
	return p.cfg.MaxMessageLength
}

func (p *Outgoing) handleSend(ctx context.Context, cmd *events.Command) (events.RequestEvent, error) {
	send := cmd.SendMessage
	pieces := SplitMessage(send.Text, p.maxMessageLength())
	groups := chunkAttachments(send.Attachments, p.driver.Capabilities().MaxAttachmentsPerMessage)

	sends := len(pieces)
	if len(groups) > sends {
		sends = len(groups)
	}
	if sends == 0 {
		return events.RequestEvent{}, platform.ErrInvalidRequest("send_message with neither text nor attachments", nil)
	}

	messageIDs := make([]string, 0, sends)
	for i := 0; i < sends; i++ {
		var text string
		if i < len(pieces) {
			text = pieces[i]
		}
		opts := platform.SendOptions{
			ThreadID:       send.ThreadID,
			CustomName:     send.CustomName,
			MentionUserIDs: send.Mentions,
		}
		if i < len(groups) {
			opts.AttachmentPaths = groups[i]
		}

		if err := p.limiter.Wait(ctx, "send_message", send.ConversationID); err != nil {
			return events.RequestEvent{}, err
		}
		var result platform.SendResult
		err := p.upstream(ctx, func(ctx context.Context) error {
			var sendErr error
			result, sendErr = p.driver.SendMessage(ctx, send.ConversationID, text, opts)
			return sendErr
		})
		if err != nil {
			return events.RequestEvent{}, err
		}
		messageIDs = append(messageIDs, result.MessageID)
		p.recordSent(send, text, result)
	}
	return p.requests.SentMessages(cmd.RequestID, messageIDs), nil
}

// recordSent folds a sent message into the conversation state so the cache
// reflects the server truth.
func (p *Outgoing) recordSent(send *events.SendMessageCommand, text string, result platform.SendResult) {
	ts := result.Timestamp
	if ts == 0 {
		ts = p.now().UnixMilli()
	}
	msg := &platform.Message{
		MessageID:      result.MessageID,
		ConversationID: send.ConversationID,
		ThreadID:       send.ThreadID,
		Text:           text,
		Timestamp:      ts,
	}
	if selfID := p.manager.Self(); selfID != "" {
		msg.Sender.UserID = selfID
		msg.Sender.IsBot = true
	}
	if send.CustomName != "" {
		msg.Sender.Username = send.CustomName
	}
	if conv := p.manager.Get(send.ConversationID); conv != nil {
		msg.ConversationType = conv.ConversationType
	}
	p.manager.AddMessage(msg)
}

func (p *Outgoing) handleEdit(ctx context.Context, cmd *events.Command) (events.RequestEvent, error) {
	edit := cmd.EditMessage
	if !p.driver.Capabilities().SupportsEditing {
		return events.RequestEvent{}, platform.ErrUnsupported("edit_message on " + string(p.driver.AdapterType()))
	}
	if err := p.limiter.Wait(ctx, "edit_message", edit.ConversationID); err != nil {
		return events.RequestEvent{}, err
	}
	err := p.upstream(ctx, func(ctx context.Context) error {
		return p.driver.EditMessage(ctx, edit.ConversationID, edit.MessageID, edit.Text)
	})
	if err != nil {
		return events.RequestEvent{}, err
	}
	p.manager.UpdateMessage(&platform.Event{
		Type: platform.IncomingEditedMessage,
		Message: &platform.Message{
			MessageID:      edit.MessageID,
			ConversationID: edit.ConversationID,
			Text:           edit.Text,
			EditTimestamp:  p.now().UnixMilli(),
		},
	})
	return p.requests.Completed(cmd.RequestID), nil
}

func (p *Outgoing) handleDelete(ctx context.Context, cmd *events.Command) (events.RequestEvent, error) {
	ref := cmd.MessageRef
	if !p.driver.Capabilities().SupportsDeletion {
		return events.RequestEvent{}, platform.ErrUnsupported("delete_message on " + string(p.driver.AdapterType()))
	}
	if err := p.limiter.Wait(ctx, "delete_message", ref.ConversationID); err != nil {
		return events.RequestEvent{}, err
	}
	err := p.upstream(ctx, func(ctx context.Context) error {
		return p.driver.DeleteMessage(ctx, ref.ConversationID, ref.MessageID)
	})
	if err != nil {
		return events.RequestEvent{}, err
	}
	p.manager.DeleteMessages(&platform.Event{
		Type:           platform.IncomingDeletedMessage,
		ConversationID: ref.ConversationID,
		DeletedIDs:     []string{ref.MessageID},
	})
	return p.requests.Completed(cmd.RequestID), nil
}

func (p *Outgoing) handleReaction(ctx context.Context, cmd *events.Command) (events.RequestEvent, error) {
	reaction := cmd.Reaction
	if !p.driver.Capabilities().SupportsReactions {
		return events.RequestEvent{}, platform.ErrUnsupported("reactions on " + string(p.driver.AdapterType()))
	}
	op, incomingType := "add_reaction", platform.IncomingReactionAdded
	call := p.driver.AddReaction
	if cmd.EventType == events.CommandRemoveReaction {
		op, incomingType = "remove_reaction", platform.IncomingReactionRemoved
		call = p.driver.RemoveReaction
	}
	if err := p.limiter.Wait(ctx, op, reaction.ConversationID); err != nil {
		return events.RequestEvent{}, err
	}
	err := p.upstream(ctx, func(ctx context.Context) error {
		return call(ctx, reaction.ConversationID, reaction.MessageID, reaction.Emoji)
	})
	if err != nil {
		return events.RequestEvent{}, err
	}
	p.manager.UpdateMessage(&platform.Event{
		Type:           incomingType,
		ConversationID: reaction.ConversationID,
		MessageID:      reaction.MessageID,
		Emoji:          reaction.Emoji,
	})
	return p.requests.Completed(cmd.RequestID), nil
}

func (p *Outgoing) handlePin(ctx context.Context, cmd *events.Command) (events.RequestEvent, error) {
	ref := cmd.MessageRef
	if !p.driver.Capabilities().SupportsPins {
		return events.RequestEvent{}, platform.ErrUnsupported("pins on " + string(p.driver.AdapterType()))
	}
	op, incomingType := "pin_message", platform.IncomingPinnedMessage
	call := p.driver.PinMessage
	if cmd.EventType == events.CommandUnpinMessage {
		op, incomingType = "unpin_message", platform.IncomingUnpinnedMessage
		call = p.driver.UnpinMessage
	}
	if err := p.limiter.Wait(ctx, op, ref.ConversationID); err != nil {
		return events.RequestEvent{}, err
	}
	err := p.upstream(ctx, func(ctx context.Context) error {
		return call(ctx, ref.ConversationID, ref.MessageID)
	})
	if err != nil {
		return events.RequestEvent{}, err
	}
	p.manager.UpdateMessage(&platform.Event{
		Type:           incomingType,
		ConversationID: ref.ConversationID,
		MessageID:      ref.MessageID,
	})
	return p.requests.Completed(cmd.RequestID), nil
}

func (p *Outgoing) handleFetchHistory(ctx context.Context, cmd *events.Command) (events.RequestEvent, error) {
	fetch := cmd.FetchHistory
	if !p.driver.Capabilities().SupportsHistory {
		return events.RequestEvent{}, platform.ErrUnsupported("fetch_history on " + string(p.driver.AdapterType()))
	}
	if err := p.limiter.Wait(ctx, "fetch_history", fetch.ConversationID); err != nil {
		return events.RequestEvent{}, err
	}
	msgs, err := p.history.Fetch(ctx, fetch.ConversationID, fetch.Limit, fetch.Before, fetch.After)
	if err != nil {
		return events.RequestEvent{}, err
	}
	return p.requests.FetchedHistory(cmd.RequestID, msgs), nil
}

func (p *Outgoing) handleFetchAttachment(ctx context.Context, cmd *events.Command) (events.RequestEvent, error) {
	fetch := cmd.FetchAttachment
	if err := p.limiter.Wait(ctx, "fetch_attachment", fetch.AttachmentID); err != nil {
		return events.RequestEvent{}, err
	}
	result, err := p.driver.FetchAttachment(ctx, fetch.AttachmentID)
	if err != nil {
		return events.RequestEvent{}, err
	}
	return p.requests.FetchedAttachment(cmd.RequestID, result), nil
}
