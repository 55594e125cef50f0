// Package slack bridges the Slack web API and Socket Mode into the adapter
// core.
package slack

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"

	"github.com/conduitmsg/conduit/internal/attachments"
	"github.com/conduitmsg/conduit/internal/config"
	"github.com/conduitmsg/conduit/internal/platform"
	"github.com/conduitmsg/conduit/pkg/models"
)

// Driver implements platform.Driver over the Slack web API. Inbound events
// arrive through Socket Mode; message ids are Slack ts strings.
type Driver struct {
	log    *slog.Logger
	api    APIClient
	socket *socketmode.Client
	events chan *platform.Event

	mu        sync.RWMutex
	botUserID string
}

// NewDriver builds the web API and Socket Mode clients. Run must be called
// to start the event loop.
func NewDriver(log *slog.Logger, cfg config.AdapterConfig) (*Driver, error) {
	if cfg.BotToken == "" || cfg.AppToken == "" {
		return nil, platform.ErrInvalidRequest("slack needs both bot_token and app_token", nil)
	}
	api := slack.New(cfg.BotToken, slack.OptionAppLevelToken(cfg.AppToken))
	return &Driver{
		log:    log,
		api:    api,
		socket: socketmode.New(api),
		events: make(chan *platform.Event, 100),
	}, nil
}

// Run drives the Socket Mode loop until the context is cancelled.
func (d *Driver) Run(ctx context.Context) error {
	go func() {
		if err := d.socket.RunContext(ctx); err != nil && !errors.Is(err, context.Canceled) {
			d.log.Error("socket mode loop exited", "error", err)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			close(d.events)
			return ctx.Err()
		case event, ok := <-d.socket.Events:
			if !ok {
				close(d.events)
				return nil
			}
			d.handleSocketEvent(event)
		}
	}
}

func (d *Driver) handleSocketEvent(event socketmode.Event) {
	switch event.Type {
	case socketmode.EventTypeEventsAPI:
		apiEvent, ok := event.Data.(slackevents.EventsAPIEvent)
		if event.Request != nil {
			d.socket.Ack(*event.Request)
		}
		if !ok || apiEvent.Type != slackevents.CallbackEvent {
			return
		}
		d.handleCallback(apiEvent.InnerEvent.Data)
	case socketmode.EventTypeSlashCommand, socketmode.EventTypeInteractive:
		if event.Request != nil {
			d.socket.Ack(*event.Request)
		}
	}
}

func (d *Driver) handleCallback(data any) {
	switch ev := data.(type) {
	case *slackevents.MessageEvent:
		d.handleMessageEvent(ev)
	case *slackevents.ReactionAddedEvent:
		d.emit(&platform.Event{
			Type:           platform.IncomingReactionAdded,
			ConversationID: ev.Item.Channel,
			MessageID:      ev.Item.Timestamp,
			Emoji:          canonicalFromSlack(ev.Reaction),
		})
	case *slackevents.ReactionRemovedEvent:
		d.emit(&platform.Event{
			Type:           platform.IncomingReactionRemoved,
			ConversationID: ev.Item.Channel,
			MessageID:      ev.Item.Timestamp,
			Emoji:          canonicalFromSlack(ev.Reaction),
		})
	case *slackevents.PinAddedEvent:
		d.emit(&platform.Event{
			Type:           platform.IncomingPinnedMessage,
			ConversationID: pinChannel(ev.Channel, ev.Item.Channel),
			MessageID:      ev.Item.Timestamp,
		})
	case *slackevents.PinRemovedEvent:
		d.emit(&platform.Event{
			Type:           platform.IncomingUnpinnedMessage,
			ConversationID: pinChannel(ev.Channel, ev.Item.Channel),
			MessageID:      ev.Item.Timestamp,
		})
	}
}

// pinChannel prefers the event's channel_id field and falls back to the
// pinned item's channel.
func pinChannel(channelID, itemChannel string) string {
	if channelID != "" {
		return channelID
	}
	return itemChannel
}

func (d *Driver) handleMessageEvent(ev *slackevents.MessageEvent) {
	switch ev.SubType {
	case "":
		d.emit(&platform.Event{Type: platform.IncomingNewMessage, Message: convertEventMessage(ev)})
	case "file_share":
		d.emit(&platform.Event{Type: platform.IncomingNewMessage, Message: convertEventMessage(ev)})
	case "message_changed":
		if ev.Message == nil {
			return
		}
		edited := convertEventMessage(ev.Message)
		edited.ConversationID = ev.Channel
		edited.PlatformConversationID = ev.Channel
		edited.ConversationType = conversationType(ev.Channel)
		edited.EditTimestamp = tsToMillis(ev.EventTimeStamp)
		d.emit(&platform.Event{Type: platform.IncomingEditedMessage, Message: edited})
	case "message_deleted":
		d.emit(&platform.Event{
			Type:           platform.IncomingDeletedMessage,
			ConversationID: ev.Channel,
			DeletedIDs:     []string{ev.DeletedTimeStamp},
		})
	}
}

func (d *Driver) emit(ev *platform.Event) {
	select {
	case d.events <- ev:
	default:
		d.log.Warn("event buffer full, dropping slack event", "type", string(ev.Type))
	}
}

func (d *Driver) AdapterType() models.AdapterType {
	return models.AdapterSlack
}

func (d *Driver) Capabilities() platform.Capabilities {
	return platform.Capabilities{
		MaxMessageLength:         40000,
		MaxAttachmentsPerMessage: 10,
		SupportsHistory:          true,
		SupportsReactions:        true,
		SupportsPins:             true,
		SupportsEditing:          true,
		SupportsDeletion:         true,
	}
}

// Events returns the normalized Socket Mode event stream.
func (d *Driver) Events() <-chan *platform.Event {
	return d.events
}

// ResolveConversation verifies the channel exists; Slack channel ids are
// already stable.
func (d *Driver) ResolveConversation(ctx context.Context, conversationID string) (string, error) {
	if _, err := d.api.GetConversationInfoContext(ctx, &slack.GetConversationInfoInput{
		ChannelID: conversationID,
	}); err != nil {
		return "", classify("resolving conversation", err)
	}
	return conversationID, nil
}

func (d *Driver) SendMessage(ctx context.Context, conversationID, text string, opts platform.SendOptions) (platform.SendResult, error) {
	if len(opts.AttachmentPaths) > 0 {
		return d.uploadFiles(ctx, conversationID, text, opts)
	}

	options := []slack.MsgOption{slack.MsgOptionText(text, false)}
	if opts.ThreadID != "" {
		options = append(options, slack.MsgOptionTS(opts.ThreadID))
	} else if opts.ReplyTo != "" {
		// Slack replies are thread messages rooted at the replied-to ts.
		options = append(options, slack.MsgOptionTS(opts.ReplyTo))
	}
	if opts.CustomName != "" {
		options = append(options, slack.MsgOptionUsername(opts.CustomName))
	}

	_, ts, err := d.api.PostMessageContext(ctx, conversationID, options...)
	if err != nil {
		return platform.SendResult{}, classify("posting message", err)
	}
	return platform.SendResult{MessageID: ts, Timestamp: tsToMillis(ts)}, nil
}

// uploadFiles sends each attachment through files.uploadV2. The text rides
// along as the first upload's initial comment, so the whole batch lands as a
// single visible message.
func (d *Driver) uploadFiles(ctx context.Context, conversationID, text string, opts platform.SendOptions) (platform.SendResult, error) {
	threadTS := opts.ThreadID
	if threadTS == "" {
		threadTS = opts.ReplyTo
	}

	var first platform.SendResult
	for i, path := range opts.AttachmentPaths {
		blob, size, err := attachments.OpenPath(path)
		if err != nil {
			return platform.SendResult{}, err
		}
		params := slack.UploadFileV2Parameters{
			Reader:          blob,
			FileSize:        int(size),
			Filename:        filepath.Base(path),
			Channel:         conversationID,
			ThreadTimestamp: threadTS,
		}
		if i == 0 {
			params.InitialComment = text
		}
		summary, err := d.api.UploadFileV2Context(ctx, params)
		blob.Close()
		if err != nil {
			return platform.SendResult{}, classify("uploading file", err)
		}
		if i == 0 {
			// files.uploadV2 does not report the resulting message ts, so the
			// caller falls back to its own clock for the timestamp.
			first = platform.SendResult{MessageID: summary.ID}
		}
	}
	return first, nil
}

func (d *Driver) EditMessage(ctx context.Context, conversationID, messageID, text string) error {
	if _, _, _, err := d.api.UpdateMessageContext(ctx, conversationID, messageID, slack.MsgOptionText(text, false)); err != nil {
		return classify("updating message", err)
	}
	return nil
}

func (d *Driver) DeleteMessage(ctx context.Context, conversationID, messageID string) error {
	if _, _, err := d.api.DeleteMessageContext(ctx, conversationID, messageID); err != nil {
		return classify("deleting message", err)
	}
	return nil
}

func (d *Driver) AddReaction(ctx context.Context, conversationID, messageID, emojiName string) error {
	if err := d.api.AddReactionContext(ctx, slackEmoji(emojiName), slack.ItemRef{
		Channel:   conversationID,
		Timestamp: messageID,
	}); err != nil {
		return classify("adding reaction", err)
	}
	return nil
}

func (d *Driver) RemoveReaction(ctx context.Context, conversationID, messageID, emojiName string) error {
	if err := d.api.RemoveReactionContext(ctx, slackEmoji(emojiName), slack.ItemRef{
		Channel:   conversationID,
		Timestamp: messageID,
	}); err != nil {
		return classify("removing reaction", err)
	}
	return nil
}

func (d *Driver) PinMessage(ctx context.Context, conversationID, messageID string) error {
	if err := d.api.AddPinContext(ctx, conversationID, slack.ItemRef{
		Channel:   conversationID,
		Timestamp: messageID,
	}); err != nil {
		return classify("pinning message", err)
	}
	return nil
}

func (d *Driver) UnpinMessage(ctx context.Context, conversationID, messageID string) error {
	if err := d.api.RemovePinContext(ctx, conversationID, slack.ItemRef{
		Channel:   conversationID,
		Timestamp: messageID,
	}); err != nil {
		return classify("unpinning message", err)
	}
	return nil
}

// FetchHistoryPage maps the millisecond bounds onto conversations.history's
// latest/oldest ts parameters.
func (d *Driver) FetchHistoryPage(ctx context.Context, conversationID string, before, after int64, limit int) ([]*platform.Message, error) {
	params := &slack.GetConversationHistoryParameters{
		ChannelID: conversationID,
		Limit:     limit,
	}
	if before > 0 {
		params.Latest = millisToTS(before)
	}
	if after > 0 {
		params.Oldest = millisToTS(after)
	}

	resp, err := d.api.GetConversationHistoryContext(ctx, params)
	if err != nil {
		return nil, classify("fetching history", err)
	}
	out := make([]*platform.Message, 0, len(resp.Messages))
	for i := range resp.Messages {
		out = append(out, convertHistoryMessage(conversationID, &resp.Messages[i]))
	}
	return out, nil
}

func (d *Driver) FetchAttachment(ctx context.Context, attachmentID string) (*models.AttachmentInfo, error) {
	file, _, _, err := d.api.GetFileInfoContext(ctx, attachmentID, 0, 0)
	if err != nil {
		return nil, classify("resolving file", err)
	}
	info := fileInfo(file.ID, file.Name, file.Mimetype, file.Size, file.URLPrivateDownload)
	return &info, nil
}

// ConnectionExists verifies the token with auth.test and caches the bot's
// own user id on first success.
func (d *Driver) ConnectionExists(ctx context.Context) error {
	resp, err := d.api.AuthTestContext(ctx)
	if err != nil {
		return classify("probing connection", err)
	}
	d.mu.Lock()
	d.botUserID = resp.UserID
	d.mu.Unlock()
	return nil
}

// BotUserID returns the authenticated user id, empty before the first
// successful liveness probe.
func (d *Driver) BotUserID() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.botUserID
}

// classify maps web API failures onto the error taxonomy. slack-go surfaces
// rate limits as a dedicated error type and other API errors by their slack
// error string.
func classify(op string, err error) error {
	var rle *slack.RateLimitedError
	if errors.As(err, &rle) {
		return platform.ErrRateLimited(op, err)
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "channel_not_found"), strings.Contains(msg, "message_not_found"), strings.Contains(msg, "file_not_found"):
		return platform.ErrNotFound(op, err)
	case strings.Contains(msg, "invalid_name"), strings.Contains(msg, "invalid_arguments"):
		return platform.ErrInvalidRequest(op, err)
	case strings.Contains(msg, "already_reacted"), strings.Contains(msg, "no_reaction"), strings.Contains(msg, "already_pinned"), strings.Contains(msg, "no_pin"):
		// Idempotent outcomes are not failures.
		return nil
	default:
		return platform.ErrTransient(op, err)
	}
}
