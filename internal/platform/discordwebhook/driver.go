// Package discordwebhook bridges a single Discord webhook into the adapter
// core. A webhook can post, edit, and delete its own messages and nothing
// else; every other operation fails as unsupported.
package discordwebhook

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"

	"github.com/bwmarrin/discordgo"

	"github.com/conduitmsg/conduit/internal/attachments"
	"github.com/conduitmsg/conduit/internal/config"
	"github.com/conduitmsg/conduit/internal/platform"
	"github.com/conduitmsg/conduit/pkg/models"
)

// WebhookClient is the slice of discordgo used by the webhook driver.
type WebhookClient interface {
	WebhookExecute(webhookID, token string, wait bool, data *discordgo.WebhookParams, options ...discordgo.RequestOption) (*discordgo.Message, error)
	WebhookMessageEdit(webhookID, token, messageID string, data *discordgo.WebhookEdit, options ...discordgo.RequestOption) (*discordgo.Message, error)
	WebhookMessageDelete(webhookID, token, messageID string, options ...discordgo.RequestOption) error
	WebhookWithToken(webhookID, token string, options ...discordgo.RequestOption) (*discordgo.Webhook, error)
}

var _ WebhookClient = (*discordgo.Session)(nil)

// Driver implements platform.Driver over one Discord webhook.
type Driver struct {
	log       *slog.Logger
	client    WebhookClient
	webhookID string
	token     string
}

// NewDriver parses the webhook URL and prepares an unauthenticated session;
// webhook calls authenticate with the token embedded in the URL.
func NewDriver(log *slog.Logger, cfg config.AdapterConfig) (*Driver, error) {
	webhookID, token, err := parseWebhookURL(cfg.WebhookURL)
	if err != nil {
		return nil, err
	}
	session, err := discordgo.New("")
	if err != nil {
		return nil, platform.ErrInvalidRequest("creating discord session", err)
	}
	return &Driver{log: log, client: session, webhookID: webhookID, token: token}, nil
}

// parseWebhookURL extracts the id and token from a
// discord.com/api/webhooks/<id>/<token> URL.
func parseWebhookURL(raw string) (webhookID, token string, err error) {
	if raw == "" {
		return "", "", platform.ErrInvalidRequest("webhook_url is required", nil)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", "", platform.ErrInvalidRequest("parsing webhook_url", err)
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	// api/webhooks/<id>/<token>
	for i := 0; i+2 < len(parts); i++ {
		if parts[i] == "webhooks" {
			return parts[i+1], parts[i+2], nil
		}
	}
	return "", "", platform.ErrInvalidRequest("webhook_url is not a discord webhook endpoint", nil)
}

func (d *Driver) AdapterType() models.AdapterType {
	return models.AdapterDiscordWebhook
}

func (d *Driver) Capabilities() platform.Capabilities {
	return platform.Capabilities{
		MaxMessageLength:         2000,
		MaxAttachmentsPerMessage: 10,
		SupportsHistory:          false,
		SupportsReactions:        false,
		SupportsPins:             false,
		SupportsEditing:          true,
		SupportsDeletion:         true,
	}
}

// ResolveConversation accepts any id; the webhook posts into exactly one
// channel regardless.
func (d *Driver) ResolveConversation(_ context.Context, conversationID string) (string, error) {
	return conversationID, nil
}

func (d *Driver) SendMessage(ctx context.Context, _ string, text string, opts platform.SendOptions) (platform.SendResult, error) {
	params := &discordgo.WebhookParams{Content: text}
	if opts.CustomName != "" {
		params.Username = opts.CustomName
	}
	for _, path := range opts.AttachmentPaths {
		blob, _, err := attachments.OpenPath(path)
		if err != nil {
			closeFiles(params.Files)
			return platform.SendResult{}, err
		}
		params.Files = append(params.Files, &discordgo.File{
			Name:   filepath.Base(path),
			Reader: blob,
		})
	}
	sent, err := d.client.WebhookExecute(d.webhookID, d.token, true, params, discordgo.WithContext(ctx))
	closeFiles(params.Files)
	if err != nil {
		return platform.SendResult{}, classify("executing webhook", err)
	}
	return platform.SendResult{
		MessageID: sent.ID,
		Timestamp: sent.Timestamp.UnixMilli(),
	}, nil
}

func closeFiles(files []*discordgo.File) {
	for _, f := range files {
		if c, ok := f.Reader.(io.Closer); ok {
			c.Close()
		}
	}
}

func (d *Driver) EditMessage(ctx context.Context, _ string, messageID, text string) error {
	if _, err := d.client.WebhookMessageEdit(d.webhookID, d.token, messageID, &discordgo.WebhookEdit{
		Content: &text,
	}, discordgo.WithContext(ctx)); err != nil {
		return classify("editing webhook message", err)
	}
	return nil
}

func (d *Driver) DeleteMessage(ctx context.Context, _ string, messageID string) error {
	if err := d.client.WebhookMessageDelete(d.webhookID, d.token, messageID, discordgo.WithContext(ctx)); err != nil {
		return classify("deleting webhook message", err)
	}
	return nil
}

func (d *Driver) AddReaction(context.Context, string, string, string) error {
	return platform.ErrUnsupported("webhooks cannot react")
}

func (d *Driver) RemoveReaction(context.Context, string, string, string) error {
	return platform.ErrUnsupported("webhooks cannot react")
}

func (d *Driver) PinMessage(context.Context, string, string) error {
	return platform.ErrUnsupported("webhooks cannot pin")
}

func (d *Driver) UnpinMessage(context.Context, string, string) error {
	return platform.ErrUnsupported("webhooks cannot pin")
}

func (d *Driver) FetchHistoryPage(context.Context, string, int64, int64, int) ([]*platform.Message, error) {
	return nil, platform.ErrUnsupported("webhooks cannot read history")
}

func (d *Driver) FetchAttachment(context.Context, string) (*models.AttachmentInfo, error) {
	return nil, platform.ErrUnsupported("webhooks cannot fetch attachments")
}

// ConnectionExists fetches the webhook object, which verifies both the id
// and the token.
func (d *Driver) ConnectionExists(ctx context.Context) error {
	if _, err := d.client.WebhookWithToken(d.webhookID, d.token, discordgo.WithContext(ctx)); err != nil {
		return classify("probing webhook", err)
	}
	return nil
}

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
	return platform.ErrTransient(op, err)
}
