package events

import (
	"encoding/json"

	jsoniter "github.com/json-iterator/go"

	"github.com/conduitmsg/conduit/internal/platform"
)

var jsonAPI = jsoniter.ConfigCompatibleWithStandardLibrary

// OutgoingEventType enumerates controller → adapter command kinds.
type OutgoingEventType string

const (
	CommandSendMessage     OutgoingEventType = "send_message"
	CommandEditMessage     OutgoingEventType = "edit_message"
	CommandDeleteMessage   OutgoingEventType = "delete_message"
	CommandAddReaction     OutgoingEventType = "add_reaction"
	CommandRemoveReaction  OutgoingEventType = "remove_reaction"
	CommandFetchHistory    OutgoingEventType = "fetch_history"
	CommandFetchAttachment OutgoingEventType = "fetch_attachment"
	CommandPinMessage      OutgoingEventType = "pin_message"
	CommandUnpinMessage    OutgoingEventType = "unpin_message"

	// File pseudo-platform commands.
	CommandViewDirectory OutgoingEventType = "view"
	CommandReadFile      OutgoingEventType = "read"
	CommandCreateFile    OutgoingEventType = "create"
	CommandDeleteFile    OutgoingEventType = "delete"
	CommandMoveFile      OutgoingEventType = "move"
	CommandUpdateFile    OutgoingEventType = "update"
	CommandInsertLines   OutgoingEventType = "insert"
	CommandReplaceText   OutgoingEventType = "replace"
	CommandUndoFile      OutgoingEventType = "undo"

	// Shell pseudo-platform commands.
	CommandExecute      OutgoingEventType = "execute_command"
	CommandOpenSession  OutgoingEventType = "open_session"
	CommandCloseSession OutgoingEventType = "close_session"
)

// Envelope is the raw bot_response frame before command validation.
type Envelope struct {
	EventType OutgoingEventType `json:"event_type"`
	RequestID string            `json:"request_id,omitempty"`
	Data      json.RawMessage   `json:"data"`
}

// Command is one validated controller command. Exactly the variant matching
// EventType is populated.
type Command struct {
	EventType OutgoingEventType
	RequestID string

	SendMessage     *SendMessageCommand
	EditMessage     *EditMessageCommand
	MessageRef      *MessageRefCommand
	Reaction        *ReactionCommand
	FetchHistory    *FetchHistoryCommand
	FetchAttachment *FetchAttachmentCommand
	File            *FileCommand
	Shell           *ShellCommand
}

// SendMessageCommand posts a new message upstream.
type SendMessageCommand struct {
	ConversationID string   `json:"conversation_id"`
	Text           string   `json:"text"`
	Attachments    []string `json:"attachments,omitempty"`
	CustomName     string   `json:"custom_name,omitempty"`
	ThreadID       string   `json:"thread_id,omitempty"`
	Mentions       []string `json:"mentions,omitempty"`
}

// EditMessageCommand rewrites an existing message's text.
type EditMessageCommand struct {
	ConversationID string `json:"conversation_id"`
	MessageID      string `json:"message_id"`
	Text           string `json:"text"`
}

// MessageRefCommand targets one message for delete, pin and unpin.
type MessageRefCommand struct {
	ConversationID string `json:"conversation_id"`
	MessageID      string `json:"message_id"`
}

// ReactionCommand adds or removes one reaction by canonical emoji name.
type ReactionCommand struct {
	ConversationID string `json:"conversation_id"`
	MessageID      string `json:"message_id"`
	Emoji          string `json:"emoji"`
}

// FetchHistoryCommand requests conversation history around a point in time.
// Exactly one of Before / After is set (Unix ms).
type FetchHistoryCommand struct {
	ConversationID string `json:"conversation_id"`
	Limit          int    `json:"limit,omitempty"`
	Before         int64  `json:"before,omitempty"`
	After          int64  `json:"after,omitempty"`
}

// FetchAttachmentCommand requests one attachment download.
type FetchAttachmentCommand struct {
	AttachmentID string `json:"attachment_id"`
}

// FileCommand carries the file pseudo-platform operations; which fields are
// meaningful depends on the event type.
type FileCommand struct {
	Path                string `json:"path,omitempty"`
	FilePath            string `json:"file_path,omitempty"`
	Content             string `json:"content,omitempty"`
	SourceFilePath      string `json:"source_file_path,omitempty"`
	DestinationFilePath string `json:"destination_file_path,omitempty"`
	LineNumber          int    `json:"line_number,omitempty"`
	OldContent          string `json:"old_content,omitempty"`
	NewContent          string `json:"new_content,omitempty"`
}

// ShellCommand carries the shell pseudo-platform operations.
type ShellCommand struct {
	Command   string `json:"command,omitempty"`
	SessionID string `json:"session_id,omitempty"`
}

// ParseEnvelope validates and decodes a raw bot_response frame.
func ParseEnvelope(raw []byte) (*Envelope, error) {
	if err := initCommandSchemas(); err != nil {
		return nil, platform.ErrInternal("compiling command schemas", err)
	}
	var payload any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, platform.ErrInvalidRequest("malformed bot_response frame", err)
	}
	if err := commandSchemas.envelope.Validate(payload); err != nil {
		return nil, platform.ErrInvalidRequest("bot_response frame rejected", err)
	}
	var env Envelope
	if err := jsonAPI.Unmarshal(raw, &env); err != nil {
		return nil, platform.ErrInvalidRequest("malformed bot_response frame", err)
	}
	return &env, nil
}

// ParseCommand validates the envelope's data payload against the command's
// schema and decodes it into the typed variant. Unknown event types and
// schema violations fail with the invalid_request kind.
func ParseCommand(env *Envelope) (*Command, error) {
	if env == nil {
		return nil, platform.ErrInvalidRequest("empty envelope", nil)
	}
	if err := validateCommandData(env.EventType, env.Data); err != nil {
		return nil, err
	}

	cmd := &Command{EventType: env.EventType, RequestID: env.RequestID}
	decode := func(dst any) error {
		if len(env.Data) == 0 {
			return nil
		}
		if err := jsonAPI.Unmarshal(env.Data, dst); err != nil {
			return platform.ErrInvalidRequest("malformed data payload", err)
		}
		return nil
	}

	var err error
	switch env.EventType {
	case CommandSendMessage:
		cmd.SendMessage = &SendMessageCommand{}
		err = decode(cmd.SendMessage)
	case CommandEditMessage:
		cmd.EditMessage = &EditMessageCommand{}
		err = decode(cmd.EditMessage)
	case CommandDeleteMessage, CommandPinMessage, CommandUnpinMessage:
		cmd.MessageRef = &MessageRefCommand{}
		err = decode(cmd.MessageRef)
	case CommandAddReaction, CommandRemoveReaction:
		cmd.Reaction = &ReactionCommand{}
		err = decode(cmd.Reaction)
	case CommandFetchHistory:
		cmd.FetchHistory = &FetchHistoryCommand{}
		if err = decode(cmd.FetchHistory); err == nil {
			if (cmd.FetchHistory.Before == 0) == (cmd.FetchHistory.After == 0) {
				err = platform.ErrInvalidRequest("fetch_history requires exactly one of before/after", nil)
			}
		}
	case CommandFetchAttachment:
		cmd.FetchAttachment = &FetchAttachmentCommand{}
		err = decode(cmd.FetchAttachment)
	case CommandViewDirectory, CommandReadFile, CommandCreateFile, CommandDeleteFile,
		CommandMoveFile, CommandUpdateFile, CommandInsertLines, CommandReplaceText, CommandUndoFile:
		cmd.File = &FileCommand{}
		err = decode(cmd.File)
	case CommandExecute, CommandOpenSession, CommandCloseSession:
		cmd.Shell = &ShellCommand{}
		err = decode(cmd.Shell)
	default:
		err = platform.ErrInvalidRequest("unknown event_type "+string(env.EventType), nil)
	}
	if err != nil {
		return nil, err
	}
	return cmd, nil
}
