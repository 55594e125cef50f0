package platform

import (
	"context"

	"github.com/conduitmsg/conduit/pkg/models"
)

// IncomingType enumerates the normalized upstream callback kinds the core
// dispatches on. Drivers translate their SDK's native callbacks into these.
type IncomingType string

const (
	IncomingNewMessage      IncomingType = "new_message"
	IncomingEditedMessage   IncomingType = "edited_message"
	IncomingDeletedMessage  IncomingType = "deleted_message"
	IncomingReactionAdded   IncomingType = "added_reaction"
	IncomingReactionRemoved IncomingType = "removed_reaction"
	IncomingPinnedMessage   IncomingType = "pinned_message"
	IncomingUnpinnedMessage IncomingType = "unpinned_message"
	IncomingChatMigrated    IncomingType = "chat_migrated"
)

// Message is the edge DTO for one upstream message. Drivers convert SDK
// objects into this shape before the core sees them; all timestamps are
// Unix milliseconds.
type Message struct {
	MessageID              string
	ConversationID         string
	PlatformConversationID string
	ConversationType       models.ConversationType
	ConversationName       string
	ServerID               string
	ServerName             string
	ThreadID               string
	ThreadTitle            string
	ReplyToMessageID       string
	Sender                 models.UserInfo
	Text                   string
	Timestamp              int64
	EditTimestamp          int64

	// IsPinned carries the platform's pin flag; PinStateKnown distinguishes
	// "reported unpinned" from "not reported at all".
	IsPinned      bool
	PinStateKnown bool

	// Reactions is the full snapshot keyed by canonical emoji name, for
	// platforms that resend reactions on edits.
	Reactions map[string]int

	// MentionedUserIDs lists explicit mention tokens; AtAll marks a
	// platform-wide at-all token.
	MentionedUserIDs []string
	AtAll            bool

	Attachments []models.AttachmentInfo

	// ServiceMessage marks join/leave/call system messages that carry no
	// user content.
	ServiceMessage bool
}

// Event is the edge DTO for one upstream callback.
type Event struct {
	Type    IncomingType
	Message *Message

	// Emoji names the single reaction for added_reaction / removed_reaction.
	Emoji string

	// MessageID and ConversationID target single-message events when no full
	// message body is available (pins, reactions, deletes).
	MessageID      string
	ConversationID string

	// DeletedIDs lists the ids for deleted_message events; ConversationID may
	// be empty, in which case the manager resolves by best match.
	DeletedIDs []string

	// OldConversationID / NewConversationID describe a chat id migration.
	OldConversationID string
	NewConversationID string
}

// SendOptions carries optional send parameters.
type SendOptions struct {
	ThreadID        string
	ReplyTo         string
	CustomName      string
	AttachmentPaths []string
	MentionUserIDs  []string
}

// SendResult reports one sent upstream message.
type SendResult struct {
	MessageID string
	Timestamp int64
}

// Capabilities describes what the platform supports and its hard limits.
type Capabilities struct {
	MaxMessageLength         int
	MaxAttachmentsPerMessage int
	SupportsHistory          bool
	SupportsReactions        bool
	SupportsPins             bool
	SupportsEditing          bool
	SupportsDeletion         bool
}

// Driver is the upstream side of one adapter. Implementations wrap a platform
// SDK and expose only normalized operations; every call is expected to be
// rate-limited by the caller.
type Driver interface {
	AdapterType() models.AdapterType
	Capabilities() Capabilities

	// ResolveConversation maps a stable conversation id back to the
	// platform-native identifier used on the wire.
	ResolveConversation(ctx context.Context, conversationID string) (string, error)

	SendMessage(ctx context.Context, conversationID, text string, opts SendOptions) (SendResult, error)
	EditMessage(ctx context.Context, conversationID, messageID, text string) error
	DeleteMessage(ctx context.Context, conversationID, messageID string) error

	// AddReaction / RemoveReaction take canonical emoji names; drivers
	// translate to platform symbols and fail with unknown_emoji when the
	// name is not representable.
	AddReaction(ctx context.Context, conversationID, messageID, emoji string) error
	RemoveReaction(ctx context.Context, conversationID, messageID, emoji string) error

	PinMessage(ctx context.Context, conversationID, messageID string) error
	UnpinMessage(ctx context.Context, conversationID, messageID string) error

	// FetchHistoryPage returns one page of history, newest-last, bounded by
	// limit. Exactly one of before/after is nonzero (Unix ms).
	FetchHistoryPage(ctx context.Context, conversationID string, before, after int64, limit int) ([]*Message, error)

	FetchAttachment(ctx context.Context, attachmentID string) (*models.AttachmentInfo, error)

	// ConnectionExists performs a lightweight upstream liveness probe.
	ConnectionExists(ctx context.Context) error
}

// Events is implemented by drivers that push upstream callbacks; local
// pseudo-platforms (textfile, shell) have no upstream event stream.
type Events interface {
	// Events returns the channel of normalized upstream callbacks. The driver
	// closes it when the upstream connection is torn down for good.
	Events() <-chan *Event
}
