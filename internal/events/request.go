package events

import (
	"errors"

	"github.com/conduitmsg/conduit/internal/platform"
	"github.com/conduitmsg/conduit/pkg/models"
)

// RequestEvent acknowledges one completed controller command; it rides on
// request_success frames.
type RequestEvent struct {
	AdapterType       models.AdapterType `json:"adapter_type"`
	RequestID         string             `json:"request_id"`
	InternalRequestID string             `json:"internal_request_id,omitempty"`
	Data              RequestData        `json:"data"`
}

// RequestData is the response payload; the populated fields select the
// variant (sent message ids, fetched history, attachment, file content or
// directory listing).
type RequestData struct {
	RequestCompleted bool                       `json:"request_completed"`
	MessageIDs       []string                   `json:"message_ids,omitempty"`
	History          []models.MessagePayload    `json:"history,omitempty"`
	Attachment       *models.AttachmentPayload  `json:"attachment,omitempty"`
	Content          string                     `json:"content,omitempty"`
	Entries          []DirectoryEntry           `json:"entries,omitempty"`
	SessionID        string                     `json:"session_id,omitempty"`
	Execution        *ExecutionResult           `json:"execution,omitempty"`
}

// DirectoryEntry is one row of a view listing.
type DirectoryEntry struct {
	Name  string `json:"name"`
	IsDir bool   `json:"is_dir"`
	Size  int64  `json:"size,omitempty"`
}

// ExecutionResult reports one shell command run.
type ExecutionResult struct {
	SessionID        string `json:"session_id"`
	Stdout           string `json:"stdout"`
	Stderr           string `json:"stderr"`
	ExitCode         int    `json:"exit_code"`
	Successful       bool   `json:"successful"`
	WorkingDirectory string `json:"working_directory,omitempty"`
	StdoutSize       int64  `json:"stdout_size,omitempty"`
	StderrSize       int64  `json:"stderr_size,omitempty"`
}

// ErrorPayload is the error block of a request_failed frame.
type ErrorPayload struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// ErrorFromFailure maps an operation failure onto its wire shape.
func ErrorFromFailure(err error) ErrorPayload {
	if err == nil {
		return ErrorPayload{Kind: string(platform.ErrCodeInternal)}
	}
	payload := ErrorPayload{Kind: string(platform.CodeOf(err)), Message: err.Error()}
	var pe *platform.Error
	if errors.As(err, &pe) {
		payload.Message = pe.Message
	}
	return payload
}

// RequestBuilder wraps command responses into acknowledgement events for one
// adapter instance.
type RequestBuilder struct {
	adapterType models.AdapterType
}

// NewRequestBuilder creates a builder for one adapter instance.
func NewRequestBuilder(adapterType models.AdapterType) *RequestBuilder {
	return &RequestBuilder{adapterType: adapterType}
}

func (b *RequestBuilder) wrap(requestID string, data RequestData) RequestEvent {
	data.RequestCompleted = true
	return RequestEvent{AdapterType: b.adapterType, RequestID: requestID, Data: data}
}

// Completed acknowledges a command with no result body.
func (b *RequestBuilder) Completed(requestID string) RequestEvent {
	return b.wrap(requestID, RequestData{})
}

// SentMessages acknowledges a send with the resulting upstream ids, in send
// order.
func (b *RequestBuilder) SentMessages(requestID string, messageIDs []string) RequestEvent {
	return b.wrap(requestID, RequestData{MessageIDs: messageIDs})
}

// FetchedHistory acknowledges a fetch_history with the normalized messages.
func (b *RequestBuilder) FetchedHistory(requestID string, history []models.MessagePayload) RequestEvent {
	if history == nil {
		history = []models.MessagePayload{}
	}
	return b.wrap(requestID, RequestData{History: history})
}

// FetchedAttachment acknowledges a fetch_attachment with its metadata.
func (b *RequestBuilder) FetchedAttachment(requestID string, info *models.AttachmentInfo) RequestEvent {
	payload := info.Payload()
	return b.wrap(requestID, RequestData{Attachment: &payload})
}

// FileContent acknowledges a read with the file body.
func (b *RequestBuilder) FileContent(requestID, content string) RequestEvent {
	return b.wrap(requestID, RequestData{Content: content})
}

// DirectoryListing acknowledges a view with its entries.
func (b *RequestBuilder) DirectoryListing(requestID string, entries []DirectoryEntry) RequestEvent {
	if entries == nil {
		entries = []DirectoryEntry{}
	}
	return b.wrap(requestID, RequestData{Entries: entries})
}

// SessionOpened acknowledges an open_session with the new session id.
func (b *RequestBuilder) SessionOpened(requestID, sessionID string) RequestEvent {
	return b.wrap(requestID, RequestData{SessionID: sessionID})
}

// Executed acknowledges an execute_command with the captured result.
func (b *RequestBuilder) Executed(requestID string, result *ExecutionResult) RequestEvent {
	return b.wrap(requestID, RequestData{Execution: result})
}
