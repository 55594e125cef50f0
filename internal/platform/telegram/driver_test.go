package telegram

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-telegram/bot"
	botmodels "github.com/go-telegram/bot/models"

	"github.com/conduitmsg/conduit/internal/platform"
	"github.com/conduitmsg/conduit/pkg/models"
)

type mockBotClient struct {
	SendMessageFunc        func(ctx context.Context, params *bot.SendMessageParams) (*botmodels.Message, error)
	SendDocumentFunc       func(ctx context.Context, params *bot.SendDocumentParams) (*botmodels.Message, error)
	EditMessageTextFunc    func(ctx context.Context, params *bot.EditMessageTextParams) (*botmodels.Message, error)
	DeleteMessageFunc      func(ctx context.Context, params *bot.DeleteMessageParams) (bool, error)
	SetMessageReactionFunc func(ctx context.Context, params *bot.SetMessageReactionParams) (bool, error)
	PinChatMessageFunc     func(ctx context.Context, params *bot.PinChatMessageParams) (bool, error)
	UnpinChatMessageFunc   func(ctx context.Context, params *bot.UnpinChatMessageParams) (bool, error)
	GetFileFunc            func(ctx context.Context, params *bot.GetFileParams) (*botmodels.File, error)
	GetMeFunc              func(ctx context.Context) (*botmodels.User, error)
}

func (m *mockBotClient) SendMessage(ctx context.Context, params *bot.SendMessageParams) (*botmodels.Message, error) {
	if m.SendMessageFunc != nil {
		return m.SendMessageFunc(ctx, params)
	}
	return &botmodels.Message{ID: 10, Date: 1700000000}, nil
}

func (m *mockBotClient) SendDocument(ctx context.Context, params *bot.SendDocumentParams) (*botmodels.Message, error) {
	if m.SendDocumentFunc != nil {
		return m.SendDocumentFunc(ctx, params)
	}
	return &botmodels.Message{ID: 11, Date: 1700000000}, nil
}

func (m *mockBotClient) EditMessageText(ctx context.Context, params *bot.EditMessageTextParams) (*botmodels.Message, error) {
	if m.EditMessageTextFunc != nil {
		return m.EditMessageTextFunc(ctx, params)
	}
	return &botmodels.Message{}, nil
}

func (m *mockBotClient) DeleteMessage(ctx context.Context, params *bot.DeleteMessageParams) (bool, error) {
	if m.DeleteMessageFunc != nil {
		return m.DeleteMessageFunc(ctx, params)
	}
	return true, nil
}

func (m *mockBotClient) SetMessageReaction(ctx context.Context, params *bot.SetMessageReactionParams) (bool, error) {
	if m.SetMessageReactionFunc != nil {
		return m.SetMessageReactionFunc(ctx, params)
	}
	return true, nil
}

func (m *mockBotClient) PinChatMessage(ctx context.Context, params *bot.PinChatMessageParams) (bool, error) {
	if m.PinChatMessageFunc != nil {
		return m.PinChatMessageFunc(ctx, params)
	}
	return true, nil
}

func (m *mockBotClient) UnpinChatMessage(ctx context.Context, params *bot.UnpinChatMessageParams) (bool, error) {
	if m.UnpinChatMessageFunc != nil {
		return m.UnpinChatMessageFunc(ctx, params)
	}
	return true, nil
}

func (m *mockBotClient) GetFile(ctx context.Context, params *bot.GetFileParams) (*botmodels.File, error) {
	if m.GetFileFunc != nil {
		return m.GetFileFunc(ctx, params)
	}
	return &botmodels.File{FileID: params.FileID, FilePath: "documents/file.pdf"}, nil
}

func (m *mockBotClient) GetMe(ctx context.Context) (*botmodels.User, error) {
	if m.GetMeFunc != nil {
		return m.GetMeFunc(ctx)
	}
	return &botmodels.User{ID: 1, Username: "bridge_bot", IsBot: true}, nil
}

func (m *mockBotClient) FileDownloadLink(f *botmodels.File) string {
	return "https://api.telegram.org/file/bot/" + f.FilePath
}

func (m *mockBotClient) Start(context.Context) {}

func newTestDriver(client BotClient) *Driver {
	return &Driver{
		log:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		client: client,
		events: make(chan *platform.Event, 10),
	}
}

func TestSendMessageConvertsTimestampToMillis(t *testing.T) {
	d := newTestDriver(&mockBotClient{})
	res, err := d.SendMessage(context.Background(), "42", "hello", platform.SendOptions{})
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if res.MessageID != "10" || res.Timestamp != 1700000000000 {
		t.Fatalf("result = %+v", res)
	}
}

func TestSendMessageUploadsAttachmentsAsDocuments(t *testing.T) {
	dir := t.TempDir()
	report := filepath.Join(dir, "report.txt")
	if err := os.WriteFile(report, []byte("quarterly numbers"), 0o600); err != nil {
		t.Fatal(err)
	}
	diagram := filepath.Join(dir, "diagram.png")
	if err := os.WriteFile(diagram, []byte{0x89, 0x50, 0x4e, 0x47}, 0o600); err != nil {
		t.Fatal(err)
	}

	var sent []*bot.SendDocumentParams
	var bodies [][]byte
	d := newTestDriver(&mockBotClient{
		SendDocumentFunc: func(_ context.Context, params *bot.SendDocumentParams) (*botmodels.Message, error) {
			upload, ok := params.Document.(*botmodels.InputFileUpload)
			if !ok {
				t.Fatalf("document = %T, want *InputFileUpload", params.Document)
			}
			body, err := io.ReadAll(upload.Data)
			if err != nil {
				t.Fatalf("reading upload: %v", err)
			}
			sent = append(sent, params)
			bodies = append(bodies, body)
			return &botmodels.Message{ID: 20 + len(sent), Date: 1700000000}, nil
		},
	})

	res, err := d.SendMessage(context.Background(), "42", "see attached", platform.SendOptions{
		AttachmentPaths: []string{report, diagram},
		ReplyTo:         "7",
	})
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if len(sent) != 2 {
		t.Fatalf("sent %d documents, want 2", len(sent))
	}
	if sent[0].Caption != "see attached" || sent[1].Caption != "" {
		t.Fatalf("captions = %q, %q", sent[0].Caption, sent[1].Caption)
	}
	if sent[0].ReplyParameters == nil || sent[0].ReplyParameters.MessageID != 7 {
		t.Fatalf("reply params = %+v", sent[0].ReplyParameters)
	}
	first := sent[0].Document.(*botmodels.InputFileUpload)
	if first.Filename != "report.txt" {
		t.Fatalf("filename = %q", first.Filename)
	}
	if string(bodies[0]) != "quarterly numbers" {
		t.Fatalf("body = %q", bodies[0])
	}
	if res.MessageID != "21" || res.Timestamp != 1700000000000 {
		t.Fatalf("result = %+v", res)
	}
}

func TestSendMessageMissingAttachmentIsNotFound(t *testing.T) {
	d := newTestDriver(&mockBotClient{})
	_, err := d.SendMessage(context.Background(), "42", "gone", platform.SendOptions{
		AttachmentPaths: []string{filepath.Join(t.TempDir(), "missing.bin")},
	})
	if platform.CodeOf(err) != platform.ErrCodeNotFound {
		t.Fatalf("err = %v, want not_found", err)
	}
}

func TestSendMessageRejectsBadChatID(t *testing.T) {
	d := newTestDriver(&mockBotClient{})
	_, err := d.SendMessage(context.Background(), "not-a-chat", "hello", platform.SendOptions{})
	if platform.CodeOf(err) != platform.ErrCodeInvalidRequest {
		t.Fatalf("err = %v, want invalid_request", err)
	}
}

func TestRateLimitErrorsClassify(t *testing.T) {
	d := newTestDriver(&mockBotClient{
		SendMessageFunc: func(context.Context, *bot.SendMessageParams) (*botmodels.Message, error) {
			return nil, errors.New("telegram: Too Many Requests: retry after 3")
		},
	})
	_, err := d.SendMessage(context.Background(), "42", "hello", platform.SendOptions{})
	if platform.CodeOf(err) != platform.ErrCodeRateLimited {
		t.Fatalf("err = %v, want rate_limited_upstream", err)
	}
}

func TestAddReactionTranslatesCanonicalName(t *testing.T) {
	var got []botmodels.ReactionType
	d := newTestDriver(&mockBotClient{
		SetMessageReactionFunc: func(_ context.Context, params *bot.SetMessageReactionParams) (bool, error) {
			got = params.Reaction
			return true, nil
		},
	})

	if err := d.AddReaction(context.Background(), "42", "7", "thumbs_up"); err != nil {
		t.Fatalf("AddReaction: %v", err)
	}
	if len(got) != 1 || got[0].ReactionTypeEmoji == nil || got[0].ReactionTypeEmoji.Emoji != "👍" {
		t.Fatalf("reaction = %+v", got)
	}

	if err := d.AddReaction(context.Background(), "42", "7", "no_such_emoji"); platform.CodeOf(err) != platform.ErrCodeUnknownEmoji {
		t.Fatalf("err = %v, want unknown_emoji", err)
	}
}

func TestFetchHistoryIsUnsupported(t *testing.T) {
	d := newTestDriver(&mockBotClient{})
	_, err := d.FetchHistoryPage(context.Background(), "42", 0, 1, 10)
	if platform.CodeOf(err) != platform.ErrCodeUnsupported {
		t.Fatalf("err = %v, want unsupported", err)
	}
}

func TestHandleUpdateNewMessage(t *testing.T) {
	d := newTestDriver(&mockBotClient{})
	d.handleUpdate(context.Background(), nil, &botmodels.Update{
		Message: &botmodels.Message{
			ID:   5,
			Chat: botmodels.Chat{ID: 42, Type: botmodels.ChatTypeGroup, Title: "ops"},
			From: &botmodels.User{ID: 9, FirstName: "Dana"},
			Date: 1700000000,
			Text: "deploy done",
		},
	})

	ev := <-d.events
	if ev.Type != platform.IncomingNewMessage {
		t.Fatalf("type = %q", ev.Type)
	}
	if ev.Message.ConversationID != "42" || ev.Message.MessageID != "5" {
		t.Fatalf("message = %+v", ev.Message)
	}
	if ev.Message.Timestamp != 1700000000000 {
		t.Fatalf("timestamp = %d, want millis", ev.Message.Timestamp)
	}
	if ev.Message.ConversationType != models.ConversationGroup {
		t.Fatalf("conversation type = %q", ev.Message.ConversationType)
	}
}

func TestHandleUpdateChatMigration(t *testing.T) {
	d := newTestDriver(&mockBotClient{})
	d.handleUpdate(context.Background(), nil, &botmodels.Update{
		Message: &botmodels.Message{
			ID:              6,
			Chat:            botmodels.Chat{ID: 42, Type: botmodels.ChatTypeGroup},
			MigrateToChatID: -100999,
		},
	})

	ev := <-d.events
	if ev.Type != platform.IncomingChatMigrated {
		t.Fatalf("type = %q", ev.Type)
	}
	if ev.OldConversationID != "42" || ev.NewConversationID != "-100999" {
		t.Fatalf("event = %+v", ev)
	}
}

func TestHandleReactionDiff(t *testing.T) {
	d := newTestDriver(&mockBotClient{})
	d.handleReaction(context.Background(), &botmodels.MessageReactionUpdated{
		Chat:      botmodels.Chat{ID: 42},
		MessageID: 7,
		OldReaction: []botmodels.ReactionType{
			{Type: botmodels.ReactionTypeTypeEmoji, ReactionTypeEmoji: &botmodels.ReactionTypeEmoji{Emoji: "❤"}},
		},
		NewReaction: []botmodels.ReactionType{
			{Type: botmodels.ReactionTypeTypeEmoji, ReactionTypeEmoji: &botmodels.ReactionTypeEmoji{Emoji: "👍"}},
		},
	})

	first := <-d.events
	second := <-d.events
	if first.Type != platform.IncomingReactionAdded || first.Emoji != "thumbs_up" {
		t.Fatalf("first = %+v", first)
	}
	if second.Type != platform.IncomingReactionRemoved || second.MessageID != "7" {
		t.Fatalf("second = %+v", second)
	}
}

func TestServiceMessagesAreFlagged(t *testing.T) {
	msg := convertMessage(&botmodels.Message{
		ID:             8,
		Chat:           botmodels.Chat{ID: 42, Type: botmodels.ChatTypeGroup},
		NewChatMembers: []botmodels.User{{ID: 3}},
	})
	if !msg.ServiceMessage {
		t.Fatal("join message should be a service message")
	}
}
