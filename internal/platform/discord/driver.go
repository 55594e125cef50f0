// Package discord bridges the Discord gateway into the adapter core.
package discord

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sync"

	"github.com/bwmarrin/discordgo"

	"github.com/conduitmsg/conduit/internal/config"
	"github.com/conduitmsg/conduit/internal/emoji"
	"github.com/conduitmsg/conduit/internal/platform"
	"github.com/conduitmsg/conduit/pkg/models"
)

// Driver implements platform.Driver over a discordgo gateway session.
// Conversation ids are stable hashes of guild/channel; the driver keeps the
// reverse mapping for outgoing calls.
type Driver struct {
	log    *slog.Logger
	client GatewayClient
	events chan *platform.Event

	mu       sync.RWMutex
	channels map[string]string // conversation id -> channel snowflake

	attachments sync.Map // attachment id -> models.AttachmentInfo
}

// NewDriver builds the session and registers the gateway handlers. Run must
// be called to open the gateway connection.
func NewDriver(log *slog.Logger, cfg config.AdapterConfig) (*Driver, error) {
	session, err := discordgo.New("Bot " + cfg.BotToken)
	if err != nil {
		return nil, platform.ErrInvalidRequest("creating discord session", err)
	}
	session.Identify.Intents = discordgo.IntentsGuildMessages |
		discordgo.IntentsGuildMessageReactions |
		discordgo.IntentsDirectMessages |
		discordgo.IntentsDirectMessageReactions |
		discordgo.IntentMessageContent

	d := newDriver(log, session)
	return d, nil
}

func newDriver(log *slog.Logger, client GatewayClient) *Driver {
	d := &Driver{
		log:      log,
		client:   client,
		events:   make(chan *platform.Event, 100),
		channels: make(map[string]string),
	}
	client.AddHandler(d.onMessageCreate)
	client.AddHandler(d.onMessageUpdate)
	client.AddHandler(d.onMessageDelete)
	client.AddHandler(d.onMessageDeleteBulk)
	client.AddHandler(d.onReactionAdd)
	client.AddHandler(d.onReactionRemove)
	return d
}

// Run opens the gateway connection and blocks until the context is
// cancelled.
func (d *Driver) Run(ctx context.Context) error {
	if err := d.client.Open(); err != nil {
		return platform.ErrTransient("opening discord gateway", err)
	}
	<-ctx.Done()
	err := d.client.Close()
	close(d.events)
	return err
}

func (d *Driver) AdapterType() models.AdapterType {
	return models.AdapterDiscord
}

func (d *Driver) Capabilities() platform.Capabilities {
	return platform.Capabilities{
		MaxMessageLength:         2000,
		MaxAttachmentsPerMessage: 10,
		SupportsHistory:          true,
		SupportsReactions:        true,
		SupportsPins:             true,
		SupportsEditing:          true,
		SupportsDeletion:         true,
	}
}

// Events returns the normalized gateway event stream.
func (d *Driver) Events() <-chan *platform.Event {
	return d.events
}

func (d *Driver) registerConversation(guildID, channelID string) string {
	id := conversationKey(guildID, channelID)
	d.mu.Lock()
	d.channels[id] = channelID
	d.mu.Unlock()
	return id
}

// ResolveConversation maps a hashed conversation id back to the channel
// snowflake. Ids seen before any inbound traffic resolve only when they are
// raw snowflakes.
func (d *Driver) ResolveConversation(_ context.Context, conversationID string) (string, error) {
	d.mu.RLock()
	channelID, ok := d.channels[conversationID]
	d.mu.RUnlock()
	if ok {
		return channelID, nil
	}
	if isSnowflake(conversationID) {
		return conversationID, nil
	}
	return "", platform.ErrNotFound("conversation "+conversationID+" has no known channel", nil)
}

func (d *Driver) SendMessage(ctx context.Context, conversationID, text string, opts platform.SendOptions) (platform.SendResult, error) {
	channelID, err := d.ResolveConversation(ctx, conversationID)
	if err != nil {
		return platform.SendResult{}, err
	}

	data := &discordgo.MessageSend{Content: text}
	if opts.ReplyTo != "" {
		data.Reference = &discordgo.MessageReference{
			MessageID: opts.ReplyTo,
			ChannelID: channelID,
		}
	}
	var open []*os.File
	defer func() {
		for _, f := range open {
			f.Close()
		}
	}()
	for _, path := range opts.AttachmentPaths {
		f, ferr := os.Open(path)
		if ferr != nil {
			return platform.SendResult{}, platform.ErrIO("opening attachment for upload", ferr)
		}
		open = append(open, f)
		data.Files = append(data.Files, &discordgo.File{
			Name:   filepath.Base(path),
			Reader: f,
		})
	}

	sent, err := d.client.ChannelMessageSendComplex(channelID, data, discordgo.WithContext(ctx))
	if err != nil {
		return platform.SendResult{}, classify("sending message", err)
	}
	return platform.SendResult{
		MessageID: sent.ID,
		Timestamp: sent.Timestamp.UnixMilli(),
	}, nil
}

func (d *Driver) EditMessage(ctx context.Context, conversationID, messageID, text string) error {
	channelID, err := d.ResolveConversation(ctx, conversationID)
	if err != nil {
		return err
	}
	if _, err := d.client.ChannelMessageEdit(channelID, messageID, text, discordgo.WithContext(ctx)); err != nil {
		return classify("editing message", err)
	}
	return nil
}

func (d *Driver) DeleteMessage(ctx context.Context, conversationID, messageID string) error {
	channelID, err := d.ResolveConversation(ctx, conversationID)
	if err != nil {
		return err
	}
	if err := d.client.ChannelMessageDelete(channelID, messageID, discordgo.WithContext(ctx)); err != nil {
		return classify("deleting message", err)
	}
	return nil
}

func (d *Driver) AddReaction(ctx context.Context, conversationID, messageID, emojiName string) error {
	symbol, ok := emoji.Symbol(emojiName)
	if !ok {
		return platform.ErrUnknownEmoji(emojiName)
	}
	channelID, err := d.ResolveConversation(ctx, conversationID)
	if err != nil {
		return err
	}
	if err := d.client.MessageReactionAdd(channelID, messageID, symbol, discordgo.WithContext(ctx)); err != nil {
		return classify("adding reaction", err)
	}
	return nil
}

func (d *Driver) RemoveReaction(ctx context.Context, conversationID, messageID, emojiName string) error {
	symbol, ok := emoji.Symbol(emojiName)
	if !ok {
		return platform.ErrUnknownEmoji(emojiName)
	}
	channelID, err := d.ResolveConversation(ctx, conversationID)
	if err != nil {
		return err
	}
	if err := d.client.MessageReactionRemove(channelID, messageID, symbol, "@me", discordgo.WithContext(ctx)); err != nil {
		return classify("removing reaction", err)
	}
	return nil
}

func (d *Driver) PinMessage(ctx context.Context, conversationID, messageID string) error {
	channelID, err := d.ResolveConversation(ctx, conversationID)
	if err != nil {
		return err
	}
	if err := d.client.ChannelMessagePin(channelID, messageID, discordgo.WithContext(ctx)); err != nil {
		return classify("pinning message", err)
	}
	return nil
}

func (d *Driver) UnpinMessage(ctx context.Context, conversationID, messageID string) error {
	channelID, err := d.ResolveConversation(ctx, conversationID)
	if err != nil {
		return err
	}
	if err := d.client.ChannelMessageUnpin(channelID, messageID, discordgo.WithContext(ctx)); err != nil {
		return classify("unpinning message", err)
	}
	return nil
}

// FetchHistoryPage translates the millisecond bound into a synthetic
// snowflake, which the message list endpoint paginates on.
func (d *Driver) FetchHistoryPage(ctx context.Context, conversationID string, before, after int64, limit int) ([]*platform.Message, error) {
	channelID, err := d.ResolveConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	var beforeID, afterID string
	if before > 0 {
		beforeID = millisToSnowflake(before)
	}
	if after > 0 {
		afterID = millisToSnowflake(after)
	}
	if limit > 100 {
		limit = 100
	}

	raw, err := d.client.ChannelMessages(channelID, limit, beforeID, afterID, "", discordgo.WithContext(ctx))
	if err != nil {
		return nil, classify("fetching history", err)
	}
	out := make([]*platform.Message, 0, len(raw))
	for _, msg := range raw {
		out = append(out, d.convertMessage(msg))
	}
	return out, nil
}

func (d *Driver) FetchAttachment(_ context.Context, attachmentID string) (*models.AttachmentInfo, error) {
	if v, ok := d.attachments.Load(attachmentID); ok {
		info := v.(models.AttachmentInfo)
		return &info, nil
	}
	return nil, platform.ErrNotFound("attachment "+attachmentID+" not seen on any message", nil)
}

func (d *Driver) ConnectionExists(ctx context.Context) error {
	if _, err := d.client.User("@me", discordgo.WithContext(ctx)); err != nil {
		return classify("probing connection", err)
	}
	return nil
}

func (d *Driver) onMessageCreate(_ *discordgo.Session, m *discordgo.MessageCreate) {
	msg := d.convertMessage(m.Message)
	d.rememberAttachments(msg)
	d.emit(&platform.Event{Type: platform.IncomingNewMessage, Message: msg})
}

func (d *Driver) onMessageUpdate(_ *discordgo.Session, m *discordgo.MessageUpdate) {
	msg := d.convertMessage(m.Message)
	d.rememberAttachments(msg)
	d.emit(&platform.Event{Type: platform.IncomingEditedMessage, Message: msg})
}

func (d *Driver) onMessageDelete(_ *discordgo.Session, m *discordgo.MessageDelete) {
	d.emit(&platform.Event{
		Type:           platform.IncomingDeletedMessage,
		ConversationID: d.registerConversation(m.GuildID, m.ChannelID),
		DeletedIDs:     []string{m.ID},
	})
}

func (d *Driver) onMessageDeleteBulk(_ *discordgo.Session, m *discordgo.MessageDeleteBulk) {
	d.emit(&platform.Event{
		Type:           platform.IncomingDeletedMessage,
		ConversationID: d.registerConversation(m.GuildID, m.ChannelID),
		DeletedIDs:     m.Messages,
	})
}

func (d *Driver) onReactionAdd(_ *discordgo.Session, r *discordgo.MessageReactionAdd) {
	d.emit(&platform.Event{
		Type:           platform.IncomingReactionAdded,
		ConversationID: d.registerConversation(r.GuildID, r.ChannelID),
		MessageID:      r.MessageID,
		Emoji:          emoji.Canonical(r.Emoji.Name),
	})
}

func (d *Driver) onReactionRemove(_ *discordgo.Session, r *discordgo.MessageReactionRemove) {
	d.emit(&platform.Event{
		Type:           platform.IncomingReactionRemoved,
		ConversationID: d.registerConversation(r.GuildID, r.ChannelID),
		MessageID:      r.MessageID,
		Emoji:          emoji.Canonical(r.Emoji.Name),
	})
}

func (d *Driver) rememberAttachments(msg *platform.Message) {
	for _, att := range msg.Attachments {
		d.attachments.Store(att.AttachmentID, att)
	}
}

func (d *Driver) emit(ev *platform.Event) {
	select {
	case d.events <- ev:
	default:
		d.log.Warn("event buffer full, dropping gateway event", "type", string(ev.Type))
	}
}

func isSnowflake(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// classify maps REST failures onto the error taxonomy using the status code
// discordgo carries on its error type.
func classify(op string, err error) error {
	var rest *discordgo.RESTError
	if errors.As(err, &rest) && rest.Response != nil {
		switch rest.Response.StatusCode {
		case http.StatusTooManyRequests:
			return platform.ErrRateLimited(op, err)
		case http.StatusNotFound:
			return platform.ErrNotFound(op, err)
		case http.StatusBadRequest:
			return platform.ErrInvalidRequest(op, err)
		}
	}
	var rl *discordgo.RateLimitError
	if errors.As(err, &rl) {
		return platform.ErrRateLimited(op, err)
	}
	return platform.ErrTransient(op, err)
}
