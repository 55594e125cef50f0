// Package telegram bridges the Telegram bot API into the adapter core.
package telegram

import (
	"context"
	"log/slog"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-telegram/bot"
	botmodels "github.com/go-telegram/bot/models"

	"github.com/conduitmsg/conduit/internal/attachments"
	"github.com/conduitmsg/conduit/internal/config"
	"github.com/conduitmsg/conduit/internal/emoji"
	"github.com/conduitmsg/conduit/internal/platform"
	"github.com/conduitmsg/conduit/pkg/models"
)

// Driver implements platform.Driver over the Telegram bot API in long
// polling mode. The bot API exposes no history endpoint, so history requests
// are served from the cache alone.
type Driver struct {
	log    *slog.Logger
	client BotClient
	events chan *platform.Event
}

// NewDriver authenticates against the bot API and prepares the update
// pipeline. Run must be called to start long polling.
func NewDriver(log *slog.Logger, cfg config.AdapterConfig) (*Driver, error) {
	d := &Driver{
		log:    log,
		events: make(chan *platform.Event, 100),
	}

	b, err := bot.New(cfg.BotToken, bot.WithDefaultHandler(d.handleUpdate))
	if err != nil {
		return nil, platform.ErrTransient("creating telegram bot", err)
	}
	d.client = newRealBotClient(b)
	return d, nil
}

// Run blocks on the long polling loop until the context is cancelled.
func (d *Driver) Run(ctx context.Context) {
	d.client.Start(ctx)
	close(d.events)
}

func (d *Driver) AdapterType() models.AdapterType {
	return models.AdapterTelegram
}

func (d *Driver) Capabilities() platform.Capabilities {
	return platform.Capabilities{
		MaxMessageLength:         4096,
		MaxAttachmentsPerMessage: 10,
		SupportsHistory:          false,
		SupportsReactions:        true,
		SupportsPins:             true,
		SupportsEditing:          true,
		SupportsDeletion:         true,
	}
}

// Events returns the normalized update stream.
func (d *Driver) Events() <-chan *platform.Event {
	return d.events
}

func (d *Driver) ResolveConversation(_ context.Context, conversationID string) (string, error) {
	if _, err := strconv.ParseInt(conversationID, 10, 64); err != nil {
		return "", platform.ErrInvalidRequest("conversation id is not a telegram chat id", err)
	}
	return conversationID, nil
}

func (d *Driver) SendMessage(ctx context.Context, conversationID, text string, opts platform.SendOptions) (platform.SendResult, error) {
	chatID, err := chatIDOf(conversationID)
	if err != nil {
		return platform.SendResult{}, err
	}
	if len(opts.AttachmentPaths) > 0 {
		return d.sendDocuments(ctx, chatID, text, opts)
	}

	params := &bot.SendMessageParams{
		ChatID: chatID,
		Text:   text,
	}
	if opts.ThreadID != "" {
		if threadID, terr := strconv.Atoi(opts.ThreadID); terr == nil {
			params.MessageThreadID = threadID
		}
	}
	if opts.ReplyTo != "" {
		if replyID, rerr := strconv.Atoi(opts.ReplyTo); rerr == nil {
			params.ReplyParameters = &botmodels.ReplyParameters{MessageID: replyID}
		}
	}

	sent, err := d.client.SendMessage(ctx, params)
	if err != nil {
		return platform.SendResult{}, classify("sending message", err)
	}
	return platform.SendResult{
		MessageID: strconv.Itoa(sent.ID),
		Timestamp: int64(sent.Date) * 1000,
	}, nil
}

// sendDocuments uploads each attachment as a document, streamed in the
// bot API's preferred chunk size. The text rides along as the first
// document's caption; the first sent message identifies the batch.
func (d *Driver) sendDocuments(ctx context.Context, chatID int64, text string, opts platform.SendOptions) (platform.SendResult, error) {
	var first platform.SendResult
	for i, path := range opts.AttachmentPaths {
		blob, _, err := attachments.OpenPath(path)
		if err != nil {
			return platform.SendResult{}, err
		}

		params := &bot.SendDocumentParams{
			ChatID: chatID,
			Document: &botmodels.InputFileUpload{
				Filename: filepath.Base(path),
				Data:     blob,
			},
		}
		if i == 0 {
			params.Caption = text
			if opts.ReplyTo != "" {
				if replyID, rerr := strconv.Atoi(opts.ReplyTo); rerr == nil {
					params.ReplyParameters = &botmodels.ReplyParameters{MessageID: replyID}
				}
			}
		}
		if opts.ThreadID != "" {
			if threadID, terr := strconv.Atoi(opts.ThreadID); terr == nil {
				params.MessageThreadID = threadID
			}
		}

		sent, err := d.client.SendDocument(ctx, params)
		blob.Close()
		if err != nil {
			return platform.SendResult{}, classify("sending document", err)
		}
		if i == 0 {
			first = platform.SendResult{
				MessageID: strconv.Itoa(sent.ID),
				Timestamp: int64(sent.Date) * 1000,
			}
		}
	}
	return first, nil
}

func (d *Driver) EditMessage(ctx context.Context, conversationID, messageID, text string) error {
	chatID, err := chatIDOf(conversationID)
	if err != nil {
		return err
	}
	msgID, err := messageIDOf(messageID)
	if err != nil {
		return err
	}
	if _, err := d.client.EditMessageText(ctx, &bot.EditMessageTextParams{
		ChatID:    chatID,
		MessageID: msgID,
		Text:      text,
	}); err != nil {
		return classify("editing message", err)
	}
	return nil
}

func (d *Driver) DeleteMessage(ctx context.Context, conversationID, messageID string) error {
	chatID, err := chatIDOf(conversationID)
	if err != nil {
		return err
	}
	msgID, err := messageIDOf(messageID)
	if err != nil {
		return err
	}
	if _, err := d.client.DeleteMessage(ctx, &bot.DeleteMessageParams{
		ChatID:    chatID,
		MessageID: msgID,
	}); err != nil {
		return classify("deleting message", err)
	}
	return nil
}

// AddReaction sets the bot's reaction. Telegram bots carry at most one
// reaction per message, so adding replaces any previous one.
func (d *Driver) AddReaction(ctx context.Context, conversationID, messageID, emojiName string) error {
	symbol, ok := emoji.Symbol(emojiName)
	if !ok {
		return platform.ErrUnknownEmoji(emojiName)
	}
	return d.setReaction(ctx, conversationID, messageID, []botmodels.ReactionType{{
		Type: botmodels.ReactionTypeTypeEmoji,
		ReactionTypeEmoji: &botmodels.ReactionTypeEmoji{
			Type:  botmodels.ReactionTypeTypeEmoji,
			Emoji: symbol,
		},
	}})
}

func (d *Driver) RemoveReaction(ctx context.Context, conversationID, messageID, emojiName string) error {
	if _, ok := emoji.Symbol(emojiName); !ok {
		return platform.ErrUnknownEmoji(emojiName)
	}
	return d.setReaction(ctx, conversationID, messageID, nil)
}

func (d *Driver) setReaction(ctx context.Context, conversationID, messageID string, reaction []botmodels.ReactionType) error {
	chatID, err := chatIDOf(conversationID)
	if err != nil {
		return err
	}
	msgID, err := messageIDOf(messageID)
	if err != nil {
		return err
	}
	if _, err := d.client.SetMessageReaction(ctx, &bot.SetMessageReactionParams{
		ChatID:    chatID,
		MessageID: msgID,
		Reaction:  reaction,
	}); err != nil {
		return classify("setting reaction", err)
	}
	return nil
}

func (d *Driver) PinMessage(ctx context.Context, conversationID, messageID string) error {
	chatID, err := chatIDOf(conversationID)
	if err != nil {
		return err
	}
	msgID, err := messageIDOf(messageID)
	if err != nil {
		return err
	}
	if _, err := d.client.PinChatMessage(ctx, &bot.PinChatMessageParams{
		ChatID:    chatID,
		MessageID: msgID,
	}); err != nil {
		return classify("pinning message", err)
	}
	return nil
}

func (d *Driver) UnpinMessage(ctx context.Context, conversationID, messageID string) error {
	chatID, err := chatIDOf(conversationID)
	if err != nil {
		return err
	}
	msgID, err := messageIDOf(messageID)
	if err != nil {
		return err
	}
	if _, err := d.client.UnpinChatMessage(ctx, &bot.UnpinChatMessageParams{
		ChatID:    chatID,
		MessageID: msgID,
	}); err != nil {
		return classify("unpinning message", err)
	}
	return nil
}

func (d *Driver) FetchHistoryPage(context.Context, string, int64, int64, int) ([]*platform.Message, error) {
	return nil, platform.ErrUnsupported("telegram bot api exposes no history endpoint")
}

func (d *Driver) FetchAttachment(ctx context.Context, attachmentID string) (*models.AttachmentInfo, error) {
	file, err := d.client.GetFile(ctx, &bot.GetFileParams{FileID: attachmentID})
	if err != nil {
		return nil, classify("resolving file", err)
	}
	return &models.AttachmentInfo{
		AttachmentID:   attachmentID,
		AttachmentType: models.AttachmentTypeForFilename(file.FilePath),
		Filename:       attachmentID + filepathExt(file.FilePath),
		Size:           int64(file.FileSize),
		URL:            d.client.FileDownloadLink(file),
	}, nil
}

func (d *Driver) ConnectionExists(ctx context.Context) error {
	if _, err := d.client.GetMe(ctx); err != nil {
		return classify("probing connection", err)
	}
	return nil
}

// handleUpdate normalizes one Telegram update into edge events.
func (d *Driver) handleUpdate(ctx context.Context, _ *bot.Bot, update *botmodels.Update) {
	switch {
	case update.Message != nil:
		d.handleMessage(ctx, update.Message)
	case update.EditedMessage != nil:
		d.emit(ctx, &platform.Event{
			Type:    platform.IncomingEditedMessage,
			Message: convertMessage(update.EditedMessage),
		})
	case update.MessageReaction != nil:
		d.handleReaction(ctx, update.MessageReaction)
	}
}

func (d *Driver) handleMessage(ctx context.Context, msg *botmodels.Message) {
	conversationID := strconv.FormatInt(msg.Chat.ID, 10)

	if msg.MigrateToChatID != 0 {
		d.emit(ctx, &platform.Event{
			Type:              platform.IncomingChatMigrated,
			OldConversationID: conversationID,
			NewConversationID: strconv.FormatInt(msg.MigrateToChatID, 10),
		})
		return
	}
	if msg.PinnedMessage != nil {
		if pinnedID, ok := pinnedMessageID(msg.PinnedMessage); ok {
			d.emit(ctx, &platform.Event{
				Type:           platform.IncomingPinnedMessage,
				MessageID:      pinnedID,
				ConversationID: conversationID,
			})
		}
		return
	}

	d.emit(ctx, &platform.Event{
		Type:    platform.IncomingNewMessage,
		Message: convertMessage(msg),
	})
}

func (d *Driver) handleReaction(ctx context.Context, upd *botmodels.MessageReactionUpdated) {
	conversationID := strconv.FormatInt(upd.Chat.ID, 10)
	messageID := strconv.Itoa(upd.MessageID)

	added, removed := diffReactionNames(reactionNames(upd.OldReaction), reactionNames(upd.NewReaction))
	for _, name := range added {
		d.emit(ctx, &platform.Event{
			Type:           platform.IncomingReactionAdded,
			MessageID:      messageID,
			ConversationID: conversationID,
			Emoji:          name,
		})
	}
	for _, name := range removed {
		d.emit(ctx, &platform.Event{
			Type:           platform.IncomingReactionRemoved,
			MessageID:      messageID,
			ConversationID: conversationID,
			Emoji:          name,
		})
	}
}

func (d *Driver) emit(ctx context.Context, ev *platform.Event) {
	select {
	case d.events <- ev:
	case <-ctx.Done():
	default:
		d.log.Warn("event buffer full, dropping update", "type", string(ev.Type))
	}
}

func pinnedMessageID(pinned *botmodels.MaybeInaccessibleMessage) (string, bool) {
	if pinned.Message != nil {
		return strconv.Itoa(pinned.Message.ID), true
	}
	if pinned.InaccessibleMessage != nil {
		return strconv.Itoa(pinned.InaccessibleMessage.MessageID), true
	}
	return "", false
}

func chatIDOf(conversationID string) (int64, error) {
	chatID, err := strconv.ParseInt(conversationID, 10, 64)
	if err != nil {
		return 0, platform.ErrInvalidRequest("conversation id is not a telegram chat id", err)
	}
	return chatID, nil
}

func messageIDOf(messageID string) (int, error) {
	msgID, err := strconv.Atoi(messageID)
	if err != nil {
		return 0, platform.ErrInvalidRequest("message id is not a telegram message id", err)
	}
	return msgID, nil
}

func filepathExt(path string) string {
	if idx := strings.LastIndexByte(path, '.'); idx >= 0 {
		return path[idx:]
	}
	return ""
}

// classify maps bot API failures onto the error taxonomy. The SDK surfaces
// HTTP status text in the error string.
func classify(op string, err error) error {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "Too Many Requests") || strings.Contains(msg, "429"):
		return platform.ErrRateLimited(op, err)
	case strings.Contains(msg, "not found") || strings.Contains(msg, "chat not found"):
		return platform.ErrNotFound(op, err)
	case strings.Contains(msg, "context deadline exceeded") || strings.Contains(msg, "connection"):
		return platform.ErrTransient(op, err)
	default:
		return platform.ErrTransient(op, err)
	}
}
