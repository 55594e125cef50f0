// Package zulip bridges a Zulip realm into the adapter core. Zulip has no
// maintained Go client, so everything runs over the REST and event queue
// APIs directly.
package zulip

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/conduitmsg/conduit/internal/config"
	"github.com/conduitmsg/conduit/internal/platform"
	"github.com/conduitmsg/conduit/pkg/models"
)

// registeredEventTypes is the slice of the event queue the driver consumes.
const registeredEventTypes = `["message","update_message","delete_message","reaction"]`

// Driver implements platform.Driver against the Zulip REST API. Message ids
// are Zulip's monotonically increasing integers rendered as strings; topics
// double as thread identity.
type Driver struct {
	log    *slog.Logger
	client *Client
	events chan *platform.Event

	mu      sync.Mutex
	anchors map[string]map[int64]int64

	attachments sync.Map
}

// NewDriver validates the credentials and builds the REST client. Run starts
// the event queue loop.
func NewDriver(log *slog.Logger, cfg config.AdapterConfig) (*Driver, error) {
	client, err := NewClient(cfg.SiteURL, cfg.Email, cfg.APIKey, nil)
	if err != nil {
		return nil, err
	}
	return newDriver(log, client), nil
}

func newDriver(log *slog.Logger, client *Client) *Driver {
	return &Driver{
		log:     log,
		client:  client,
		events:  make(chan *platform.Event, 100),
		anchors: make(map[string]map[int64]int64),
	}
}

type queueResponse struct {
	QueueID     string `json:"queue_id"`
	LastEventID int64  `json:"last_event_id"`
}

type queueEvent struct {
	ID            int64    `json:"id"`
	Type          string   `json:"type"`
	Op            string   `json:"op"`
	Message       *message `json:"message"`
	MessageID     int64    `json:"message_id"`
	StreamID      int64    `json:"stream_id"`
	Subject       string   `json:"subject"`
	OrigSubject   string   `json:"orig_subject"`
	Content       string   `json:"content"`
	EditTimestamp int64    `json:"edit_timestamp"`
	EmojiName     string   `json:"emoji_name"`
	UserID        int64    `json:"user_id"`
}

type eventsResponse struct {
	Events []queueEvent `json:"events"`
}

// Run long-polls the realm's event queue until the context is cancelled. An
// expired queue is re-registered transparently.
func (d *Driver) Run(ctx context.Context) error {
	defer close(d.events)

	var (
		queueID string
		lastID  int64
	)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if queueID == "" {
			var reg queueResponse
			err := d.client.call(ctx, http.MethodPost, "register", url.Values{
				"event_types":    {registeredEventTypes},
				"apply_markdown": {"false"},
			}, &reg)
			if err != nil {
				d.log.Warn("registering event queue failed", "error", err)
				if !sleepCtx(ctx, 3*time.Second) {
					return ctx.Err()
				}
				continue
			}
			queueID = reg.QueueID
			lastID = reg.LastEventID
			d.log.Info("event queue registered", "queue_id", queueID)
		}

		var resp eventsResponse
		err := d.client.call(ctx, http.MethodGet, "events", url.Values{
			"queue_id":      {queueID},
			"last_event_id": {strconv.FormatInt(lastID, 10)},
		}, &resp)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			// Expired queues come back as invalid_request; drop the queue
			// id so the next pass re-registers.
			if platform.CodeOf(err) == platform.ErrCodeInvalidRequest {
				queueID = ""
			}
			d.log.Warn("polling event queue failed", "error", err)
			if !sleepCtx(ctx, 3*time.Second) {
				return ctx.Err()
			}
			continue
		}

		for i := range resp.Events {
			if resp.Events[i].ID > lastID {
				lastID = resp.Events[i].ID
			}
			d.handleEvent(&resp.Events[i])
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}

func (d *Driver) handleEvent(ev *queueEvent) {
	switch ev.Type {
	case "message":
		if ev.Message == nil {
			return
		}
		d.emit(&platform.Event{Type: platform.IncomingNewMessage, Message: d.convertMessage(ev.Message)})
	case "update_message":
		d.handleUpdate(ev)
	case "delete_message":
		conversation := ""
		if ev.StreamID != 0 && ev.Subject != "" {
			conversation = streamConversationID(ev.StreamID, ev.Subject)
		}
		d.emit(&platform.Event{
			Type:           platform.IncomingDeletedMessage,
			ConversationID: conversation,
			DeletedIDs:     []string{strconv.FormatInt(ev.MessageID, 10)},
		})
	case "reaction":
		kind := platform.IncomingReactionAdded
		if ev.Op == "remove" {
			kind = platform.IncomingReactionRemoved
		}
		d.emit(&platform.Event{
			Type:      kind,
			MessageID: strconv.FormatInt(ev.MessageID, 10),
			Emoji:     canonicalFromZulip(ev.EmojiName),
		})
	}
}

// handleUpdate distinguishes topic moves from content edits. A changed
// subject migrates the whole conversation identity.
func (d *Driver) handleUpdate(ev *queueEvent) {
	if ev.OrigSubject != "" && ev.Subject != "" && ev.OrigSubject != ev.Subject {
		d.emit(&platform.Event{
			Type:              platform.IncomingChatMigrated,
			OldConversationID: streamConversationID(ev.StreamID, ev.OrigSubject),
			NewConversationID: streamConversationID(ev.StreamID, ev.Subject),
		})
		return
	}

	conversation := ""
	if ev.StreamID != 0 && ev.Subject != "" {
		conversation = streamConversationID(ev.StreamID, ev.Subject)
	}
	edited := &platform.Message{
		MessageID:              strconv.FormatInt(ev.MessageID, 10),
		ConversationID:         conversation,
		PlatformConversationID: conversation,
		Text:                   ev.Content,
		EditTimestamp:          ev.EditTimestamp * 1000,
		Sender:                 models.UserInfo{UserID: strconv.FormatInt(ev.UserID, 10)},
	}
	d.emit(&platform.Event{Type: platform.IncomingEditedMessage, Message: edited})
}

func (d *Driver) emit(ev *platform.Event) {
	select {
	case d.events <- ev:
	default:
		d.log.Warn("event buffer full, dropping zulip event", "type", string(ev.Type))
	}
}

func (d *Driver) AdapterType() models.AdapterType {
	return models.AdapterZulip
}

func (d *Driver) Capabilities() platform.Capabilities {
	return platform.Capabilities{
		MaxMessageLength:         10000,
		MaxAttachmentsPerMessage: 10,
		SupportsHistory:          true,
		SupportsReactions:        true,
		SupportsPins:             false,
		SupportsEditing:          true,
		SupportsDeletion:         true,
	}
}

// Events returns the normalized event queue stream.
func (d *Driver) Events() <-chan *platform.Event {
	return d.events
}

// ResolveConversation validates the id shape; Zulip conversation ids are
// derived locally and need no lookup.
func (d *Driver) ResolveConversation(_ context.Context, conversationID string) (string, error) {
	if _, _, _, err := splitConversationID(conversationID); err != nil {
		return "", err
	}
	return conversationID, nil
}

func (d *Driver) SendMessage(ctx context.Context, conversationID, text string, opts platform.SendOptions) (platform.SendResult, error) {
	streamID, topic, userIDs, err := splitConversationID(conversationID)
	if err != nil {
		return platform.SendResult{}, err
	}

	content := text
	for _, id := range opts.MentionUserIDs {
		content = fmt.Sprintf("@**|%s** %s", id, content)
	}
	for _, path := range opts.AttachmentPaths {
		uri, uerr := d.client.UploadFile(ctx, path)
		if uerr != nil {
			return platform.SendResult{}, uerr
		}
		content += fmt.Sprintf("\n[%s](%s)", filepath.Base(path), uri)
	}

	form := url.Values{"content": {content}}
	if len(userIDs) > 0 {
		form.Set("type", "private")
		form.Set("to", intListJSON(userIDs))
	} else {
		form.Set("type", "stream")
		form.Set("to", strconv.FormatInt(streamID, 10))
		if opts.ThreadID != "" {
			topic = opts.ThreadID
		}
		form.Set("topic", topic)
	}

	var resp struct {
		ID int64 `json:"id"`
	}
	if err := d.client.call(ctx, http.MethodPost, "messages", form, &resp); err != nil {
		return platform.SendResult{}, err
	}
	return platform.SendResult{
		MessageID: strconv.FormatInt(resp.ID, 10),
		Timestamp: time.Now().UnixMilli(),
	}, nil
}

func intListJSON(ids []int64) string {
	out := "["
	for i, id := range ids {
		if i > 0 {
			out += ","
		}
		out += strconv.FormatInt(id, 10)
	}
	return out + "]"
}

func (d *Driver) EditMessage(ctx context.Context, _, messageID, text string) error {
	return d.client.call(ctx, http.MethodPatch, "messages/"+messageID, url.Values{
		"content": {text},
	}, nil)
}

func (d *Driver) DeleteMessage(ctx context.Context, _, messageID string) error {
	return d.client.call(ctx, http.MethodDelete, "messages/"+messageID, nil, nil)
}

func (d *Driver) AddReaction(ctx context.Context, _, messageID, emojiName string) error {
	return d.client.call(ctx, http.MethodPost, "messages/"+messageID+"/reactions", url.Values{
		"emoji_name": {zulipEmoji(emojiName)},
	}, nil)
}

func (d *Driver) RemoveReaction(ctx context.Context, _, messageID, emojiName string) error {
	return d.client.call(ctx, http.MethodDelete, "messages/"+messageID+"/reactions", url.Values{
		"emoji_name": {zulipEmoji(emojiName)},
	}, nil)
}

func (d *Driver) PinMessage(context.Context, string, string) error {
	return platform.ErrUnsupported("zulip has no message pins")
}

func (d *Driver) UnpinMessage(context.Context, string, string) error {
	return platform.ErrUnsupported("zulip has no message pins")
}

// FetchHistoryPage pages backwards through a narrow. Zulip anchors by
// message id rather than timestamp, so the driver anchors at a previously
// seen message when the bound matches one and falls back to the newest
// message otherwise; the millisecond bounds are then enforced locally.
func (d *Driver) FetchHistoryPage(ctx context.Context, conversationID string, before, after int64, limit int) ([]*platform.Message, error) {
	streamID, topic, userIDs, err := splitConversationID(conversationID)
	if err != nil {
		return nil, err
	}

	var narrow string
	if len(userIDs) > 0 {
		narrow = fmt.Sprintf(`[{"operator":"pm-with","operand":%s}]`, intListJSON(userIDs))
	} else {
		narrow = fmt.Sprintf(`[{"operator":"stream","operand":%d},{"operator":"topic","operand":%q}]`, streamID, topic)
	}

	form := url.Values{
		"narrow":         {narrow},
		"apply_markdown": {"false"},
		"anchor":         {"newest"},
		"num_before":     {strconv.Itoa(limit)},
		"num_after":      {"0"},
	}
	if before > 0 {
		if anchor, ok := d.anchorFor(conversationID, before); ok {
			form.Set("anchor", strconv.FormatInt(anchor, 10))
			form.Set("include_anchor", "false")
		}
	} else if after > 0 {
		form.Set("anchor", "oldest")
		form.Set("num_before", "0")
		form.Set("num_after", strconv.Itoa(limit))
	}

	var resp struct {
		Messages []message `json:"messages"`
	}
	if err := d.client.call(ctx, http.MethodGet, "messages", form, &resp); err != nil {
		return nil, err
	}

	out := make([]*platform.Message, 0, len(resp.Messages))
	for i := range resp.Messages {
		msg := d.convertMessage(&resp.Messages[i])
		d.rememberAnchor(conversationID, msg.Timestamp, resp.Messages[i].ID)
		if before > 0 && msg.Timestamp >= before {
			continue
		}
		if after > 0 && msg.Timestamp <= after {
			continue
		}
		out = append(out, msg)
	}
	return out, nil
}

func (d *Driver) anchorFor(conversationID string, ts int64) (int64, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	id, ok := d.anchors[conversationID][ts]
	return id, ok
}

func (d *Driver) rememberAnchor(conversationID string, ts, messageID int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.anchors[conversationID] == nil {
		d.anchors[conversationID] = make(map[int64]int64)
	}
	d.anchors[conversationID][ts] = messageID
}

// FetchAttachment serves metadata remembered from converted messages. Zulip
// has no attachment lookup endpoint.
func (d *Driver) FetchAttachment(_ context.Context, attachmentID string) (*models.AttachmentInfo, error) {
	if info, ok := d.attachments.Load(attachmentID); ok {
		copied := info.(models.AttachmentInfo)
		return &copied, nil
	}
	return nil, platform.ErrNotFound("attachment not seen in any message", nil)
}

func (d *Driver) rememberAttachments(infos []models.AttachmentInfo) {
	for _, info := range infos {
		d.attachments.Store(info.AttachmentID, info)
	}
}

// ConnectionExists probes the credentials with users/me.
func (d *Driver) ConnectionExists(ctx context.Context) error {
	return d.client.call(ctx, http.MethodGet, "users/me", nil, nil)
}
