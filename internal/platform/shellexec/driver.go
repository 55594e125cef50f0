package shellexec

import (
	"context"

	"github.com/conduitmsg/conduit/internal/platform"
	"github.com/conduitmsg/conduit/pkg/models"
)

// Driver satisfies the platform contract for the shell pseudo-platform.
// Messaging operations are unsupported; there is no upstream to probe.
type Driver struct{}

func NewPseudoDriver() *Driver {
	return &Driver{}
}

func (*Driver) AdapterType() models.AdapterType {
	return models.AdapterShell
}

func (*Driver) Capabilities() platform.Capabilities {
	return platform.Capabilities{}
}

func (*Driver) ResolveConversation(_ context.Context, conversationID string) (string, error) {
	return conversationID, nil
}

func (*Driver) SendMessage(context.Context, string, string, platform.SendOptions) (platform.SendResult, error) {
	return platform.SendResult{}, platform.ErrUnsupported("messaging on the shell pseudo-platform")
}

func (*Driver) EditMessage(context.Context, string, string, string) error {
	return platform.ErrUnsupported("messaging on the shell pseudo-platform")
}

func (*Driver) DeleteMessage(context.Context, string, string) error {
	return platform.ErrUnsupported("messaging on the shell pseudo-platform")
}

func (*Driver) AddReaction(context.Context, string, string, string) error {
	return platform.ErrUnsupported("reactions on the shell pseudo-platform")
}

func (*Driver) RemoveReaction(context.Context, string, string, string) error {
	return platform.ErrUnsupported("reactions on the shell pseudo-platform")
}

func (*Driver) PinMessage(context.Context, string, string) error {
	return platform.ErrUnsupported("pins on the shell pseudo-platform")
}

func (*Driver) UnpinMessage(context.Context, string, string) error {
	return platform.ErrUnsupported("pins on the shell pseudo-platform")
}

func (*Driver) FetchHistoryPage(context.Context, string, int64, int64, int) ([]*platform.Message, error) {
	return nil, platform.ErrUnsupported("history on the shell pseudo-platform")
}

func (*Driver) FetchAttachment(context.Context, string) (*models.AttachmentInfo, error) {
	return nil, platform.ErrUnsupported("attachments on the shell pseudo-platform")
}

func (*Driver) ConnectionExists(context.Context) error {
	return nil
}
