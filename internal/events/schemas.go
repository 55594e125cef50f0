package events

import (
	"encoding/json"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/conduitmsg/conduit/internal/platform"
)

type commandSchemaRegistry struct {
	once     sync.Once
	initErr  error
	envelope *jsonschema.Schema
	commands map[OutgoingEventType]*jsonschema.Schema
}

var commandSchemas commandSchemaRegistry

func initCommandSchemas() error {
	commandSchemas.once.Do(func() {
		envelope, err := jsonschema.CompileString("bot_response", envelopeSchema)
		if err != nil {
			commandSchemas.initErr = err
			return
		}
		commandSchemas.envelope = envelope

		perCommand := map[OutgoingEventType]string{
			CommandSendMessage:     sendMessageSchema,
			CommandEditMessage:     editMessageSchema,
			CommandDeleteMessage:   messageRefSchema,
			CommandAddReaction:     reactionSchema,
			CommandRemoveReaction:  reactionSchema,
			CommandFetchHistory:    fetchHistorySchema,
			CommandFetchAttachment: fetchAttachmentSchema,
			CommandPinMessage:      messageRefSchema,
			CommandUnpinMessage:    messageRefSchema,
			CommandViewDirectory:   viewDirectorySchema,
			CommandReadFile:        filePathSchema,
			CommandCreateFile:      fileContentSchema,
			CommandDeleteFile:      filePathSchema,
			CommandMoveFile:        moveFileSchema,
			CommandUpdateFile:      fileContentSchema,
			CommandInsertLines:     insertLinesSchema,
			CommandReplaceText:     replaceTextSchema,
			CommandUndoFile:        filePathSchema,
			CommandExecute:         executeSchema,
			CommandOpenSession:     emptySchema,
			CommandCloseSession:    closeSessionSchema,
		}

		commandSchemas.commands = make(map[OutgoingEventType]*jsonschema.Schema, len(perCommand))
		for name, schema := range perCommand {
			compiled, err := jsonschema.CompileString("command_"+string(name), schema)
			if err != nil {
				commandSchemas.initErr = err
				return
			}
			commandSchemas.commands[name] = compiled
		}
	})
	return commandSchemas.initErr
}

func validateCommandData(eventType OutgoingEventType, data json.RawMessage) error {
	if err := initCommandSchemas(); err != nil {
		return platform.ErrInternal("compiling command schemas", err)
	}
	schema, ok := commandSchemas.commands[eventType]
	if !ok {
		return platform.ErrInvalidRequest("unknown event_type "+string(eventType), nil)
	}

	var payload any
	if len(data) == 0 {
		payload = map[string]any{}
	} else if err := json.Unmarshal(data, &payload); err != nil {
		return platform.ErrInvalidRequest("malformed data payload", err)
	}
	if err := schema.Validate(payload); err != nil {
		return platform.ErrInvalidRequest("data payload rejected", err)
	}
	return nil
}

const envelopeSchema = `{
  "type": "object",
  "required": ["event_type"],
  "properties": {
    "event_type": { "type": "string", "minLength": 1 },
    "request_id": { "type": "string" },
    "data": {}
  },
  "additionalProperties": true
}`

const sendMessageSchema = `{
  "type": "object",
  "required": ["conversation_id", "text"],
  "properties": {
    "conversation_id": { "type": "string", "minLength": 1 },
    "text": { "type": "string" },
    "attachments": { "type": "array", "items": { "type": "string" } },
    "custom_name": { "type": "string" },
    "thread_id": { "type": "string" },
    "mentions": { "type": "array", "items": { "type": "string" } }
  },
  "additionalProperties": true
}`

const editMessageSchema = `{
  "type": "object",
  "required": ["conversation_id", "message_id", "text"],
  "properties": {
    "conversation_id": { "type": "string", "minLength": 1 },
    "message_id": { "type": "string", "minLength": 1 },
    "text": { "type": "string", "minLength": 1 }
  },
  "additionalProperties": true
}`

const messageRefSchema = `{
  "type": "object",
  "required": ["conversation_id", "message_id"],
  "properties": {
    "conversation_id": { "type": "string", "minLength": 1 },
    "message_id": { "type": "string", "minLength": 1 }
  },
  "additionalProperties": true
}`

const reactionSchema = `{
  "type": "object",
  "required": ["conversation_id", "message_id", "emoji"],
  "properties": {
    "conversation_id": { "type": "string", "minLength": 1 },
    "message_id": { "type": "string", "minLength": 1 },
    "emoji": { "type": "string", "minLength": 1 }
  },
  "additionalProperties": true
}`

const fetchHistorySchema = `{
  "type": "object",
  "required": ["conversation_id"],
  "properties": {
    "conversation_id": { "type": "string", "minLength": 1 },
    "limit": { "type": "integer", "minimum": 1 },
    "before": { "type": "integer", "minimum": 0 },
    "after": { "type": "integer", "minimum": 0 }
  },
  "additionalProperties": true
}`

const fetchAttachmentSchema = `{
  "type": "object",
  "required": ["attachment_id"],
  "properties": {
    "attachment_id": { "type": "string", "minLength": 1 }
  },
  "additionalProperties": true
}`

const viewDirectorySchema = `{
  "type": "object",
  "properties": {
    "path": { "type": "string" }
  },
  "additionalProperties": true
}`

const filePathSchema = `{
  "type": "object",
  "required": ["file_path"],
  "properties": {
    "file_path": { "type": "string", "minLength": 1 }
  },
  "additionalProperties": true
}`

const fileContentSchema = `{
  "type": "object",
  "required": ["file_path", "content"],
  "properties": {
    "file_path": { "type": "string", "minLength": 1 },
    "content": { "type": "string" }
  },
  "additionalProperties": true
}`

const moveFileSchema = `{
  "type": "object",
  "required": ["source_file_path", "destination_file_path"],
  "properties": {
    "source_file_path": { "type": "string", "minLength": 1 },
    "destination_file_path": { "type": "string", "minLength": 1 }
  },
  "additionalProperties": true
}`

const insertLinesSchema = `{
  "type": "object",
  "required": ["file_path", "line_number", "content"],
  "properties": {
    "file_path": { "type": "string", "minLength": 1 },
    "line_number": { "type": "integer", "minimum": 1 },
    "content": { "type": "string" }
  },
  "additionalProperties": true
}`

const replaceTextSchema = `{
  "type": "object",
  "required": ["file_path", "old_content", "new_content"],
  "properties": {
    "file_path": { "type": "string", "minLength": 1 },
    "old_content": { "type": "string", "minLength": 1 },
    "new_content": { "type": "string" }
  },
  "additionalProperties": true
}`

const executeSchema = `{
  "type": "object",
  "required": ["command"],
  "properties": {
    "command": { "type": "string", "minLength": 1 },
    "session_id": { "type": "string" }
  },
  "additionalProperties": true
}`

const closeSessionSchema = `{
  "type": "object",
  "required": ["session_id"],
  "properties": {
    "session_id": { "type": "string", "minLength": 1 }
  },
  "additionalProperties": true
}`

const emptySchema = `{
  "type": "object",
  "additionalProperties": true
}`
