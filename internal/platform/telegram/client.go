package telegram

import (
	"context"

	"github.com/go-telegram/bot"
	botmodels "github.com/go-telegram/bot/models"
)

// BotClient is the slice of the Telegram bot API the driver uses. The
// indirection allows mock injection in tests.
type BotClient interface {
	SendMessage(ctx context.Context, params *bot.SendMessageParams) (*botmodels.Message, error)
	SendDocument(ctx context.Context, params *bot.SendDocumentParams) (*botmodels.Message, error)
	EditMessageText(ctx context.Context, params *bot.EditMessageTextParams) (*botmodels.Message, error)
	DeleteMessage(ctx context.Context, params *bot.DeleteMessageParams) (bool, error)
	SetMessageReaction(ctx context.Context, params *bot.SetMessageReactionParams) (bool, error)
	PinChatMessage(ctx context.Context, params *bot.PinChatMessageParams) (bool, error)
	UnpinChatMessage(ctx context.Context, params *bot.UnpinChatMessageParams) (bool, error)
	GetFile(ctx context.Context, params *bot.GetFileParams) (*botmodels.File, error)
	GetMe(ctx context.Context) (*botmodels.User, error)
	FileDownloadLink(f *botmodels.File) string
	Start(ctx context.Context)
}

type realBotClient struct {
	bot *bot.Bot
}

func newRealBotClient(b *bot.Bot) BotClient {
	return &realBotClient{bot: b}
}

func (r *realBotClient) SendMessage(ctx context.Context, params *bot.SendMessageParams) (*botmodels.Message, error) {
	return r.bot.SendMessage(ctx, params)
}

func (r *realBotClient) SendDocument(ctx context.Context, params *bot.SendDocumentParams) (*botmodels.Message, error) {
	return r.bot.SendDocument(ctx, params)
}

func (r *realBotClient) EditMessageText(ctx context.Context, params *bot.EditMessageTextParams) (*botmodels.Message, error) {
	return r.bot.EditMessageText(ctx, params)
}

func (r *realBotClient) DeleteMessage(ctx context.Context, params *bot.DeleteMessageParams) (bool, error) {
	return r.bot.DeleteMessage(ctx, params)
}

func (r *realBotClient) SetMessageReaction(ctx context.Context, params *bot.SetMessageReactionParams) (bool, error) {
	return r.bot.SetMessageReaction(ctx, params)
}

func (r *realBotClient) PinChatMessage(ctx context.Context, params *bot.PinChatMessageParams) (bool, error) {
	return r.bot.PinChatMessage(ctx, params)
}

func (r *realBotClient) UnpinChatMessage(ctx context.Context, params *bot.UnpinChatMessageParams) (bool, error) {
	return r.bot.UnpinChatMessage(ctx, params)
}

func (r *realBotClient) GetFile(ctx context.Context, params *bot.GetFileParams) (*botmodels.File, error) {
	return r.bot.GetFile(ctx, params)
}

func (r *realBotClient) GetMe(ctx context.Context) (*botmodels.User, error) {
	return r.bot.GetMe(ctx)
}

func (r *realBotClient) FileDownloadLink(f *botmodels.File) string {
	return r.bot.FileDownloadLink(f)
}

func (r *realBotClient) Start(ctx context.Context) {
	r.bot.Start(ctx)
}
