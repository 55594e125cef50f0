// Package events defines the wire shapes exchanged with the controller and
// the builders that produce them. Everything here is pure data assembly; no
// I/O.
package events

import (
	"github.com/conduitmsg/conduit/pkg/models"
)

// IncomingEventType enumerates adapter → controller event kinds.
type IncomingEventType string

const (
	EventConversationStarted IncomingEventType = "conversation_started"
	EventConversationUpdated IncomingEventType = "conversation_updated"
	EventMessageReceived     IncomingEventType = "message_received"
	EventMessageUpdated      IncomingEventType = "message_updated"
	EventMessageDeleted      IncomingEventType = "message_deleted"
	EventReactionAdded       IncomingEventType = "reaction_added"
	EventReactionRemoved     IncomingEventType = "reaction_removed"
	EventMessagePinned       IncomingEventType = "message_pinned"
	EventMessageUnpinned     IncomingEventType = "message_unpinned"
	EventHistoryFetched      IncomingEventType = "history_fetched"
)

// IncomingEvent is one adapter → controller notification, carried inside the
// transport's bot_request frame.
type IncomingEvent struct {
	AdapterType models.AdapterType `json:"adapter_type"`
	EventType   IncomingEventType  `json:"event_type"`
	Data        any                `json:"data"`
}

// AdapterIdentity is the header present on every event payload.
type AdapterIdentity struct {
	AdapterName string `json:"adapter_name"`
	AdapterID   string `json:"adapter_id"`
}

// ConversationData is the payload of conversation_started and
// conversation_updated.
type ConversationData struct {
	AdapterIdentity
	ConversationID   string `json:"conversation_id"`
	ConversationName string `json:"conversation_name,omitempty"`
	ServerName       string `json:"server_name,omitempty"`
}

// MessageReceivedData is the payload of message_received.
type MessageReceivedData struct {
	AdapterIdentity
	models.MessagePayload
}

// MessageUpdatedData is the payload of message_updated.
type MessageUpdatedData struct {
	AdapterIdentity
	MessageID      string                     `json:"message_id"`
	ConversationID string                     `json:"conversation_id"`
	NewText        string                     `json:"new_text"`
	Timestamp      int64                      `json:"timestamp,omitempty"`
	Attachments    []models.AttachmentPayload `json:"attachments"`
	Mentions       []string                   `json:"mentions"`
}

// MessageRefData is the payload of message_deleted, message_pinned and
// message_unpinned.
type MessageRefData struct {
	AdapterIdentity
	MessageID      string `json:"message_id"`
	ConversationID string `json:"conversation_id"`
}

// ReactionData is the payload of reaction_added and reaction_removed; Emoji
// is the canonical name.
type ReactionData struct {
	AdapterIdentity
	MessageID      string `json:"message_id"`
	ConversationID string `json:"conversation_id"`
	Emoji          string `json:"emoji"`
}

// HistoryFetchedData is the payload of history_fetched.
type HistoryFetchedData struct {
	AdapterIdentity
	ConversationID string                   `json:"conversation_id"`
	History        []models.MessagePayload  `json:"history"`
}

// IncomingBuilder stamps adapter identity onto incoming events.
type IncomingBuilder struct {
	adapterType models.AdapterType
	identity    AdapterIdentity
}

// NewIncomingBuilder creates a builder for one adapter instance.
func NewIncomingBuilder(adapterType models.AdapterType, adapterID, adapterName string) *IncomingBuilder {
	return &IncomingBuilder{
		adapterType: adapterType,
		identity:    AdapterIdentity{AdapterName: adapterName, AdapterID: adapterID},
	}
}

func (b *IncomingBuilder) event(t IncomingEventType, data any) IncomingEvent {
	return IncomingEvent{AdapterType: b.adapterType, EventType: t, Data: data}
}

func (b *IncomingBuilder) conversation(t IncomingEventType, id, name, serverName string) IncomingEvent {
	return b.event(t, ConversationData{
		AdapterIdentity:  b.identity,
		ConversationID:   id,
		ConversationName: name,
		ServerName:       serverName,
	})
}

// ConversationStarted announces a newly seen conversation.
func (b *IncomingBuilder) ConversationStarted(conversationID, name, serverName string) IncomingEvent {
	return b.conversation(EventConversationStarted, conversationID, name, serverName)
}

// ConversationUpdated announces changed conversation metadata.
func (b *IncomingBuilder) ConversationUpdated(conversationID, name, serverName string) IncomingEvent {
	return b.conversation(EventConversationUpdated, conversationID, name, serverName)
}

// MessageReceived wraps a new message payload.
func (b *IncomingBuilder) MessageReceived(msg models.MessagePayload) IncomingEvent {
	return b.event(EventMessageReceived, MessageReceivedData{AdapterIdentity: b.identity, MessagePayload: msg})
}

// MessageUpdated wraps an edited message payload.
func (b *IncomingBuilder) MessageUpdated(msg models.MessagePayload) IncomingEvent {
	attachments := msg.Attachments
	if attachments == nil {
		attachments = []models.AttachmentPayload{}
	}
	mentions := msg.Mentions
	if mentions == nil {
		mentions = []string{}
	}
	return b.event(EventMessageUpdated, MessageUpdatedData{
		AdapterIdentity: b.identity,
		MessageID:       msg.MessageID,
		ConversationID:  msg.ConversationID,
		NewText:         msg.Text,
		Timestamp:       msg.EditTimestamp,
		Attachments:     attachments,
		Mentions:        mentions,
	})
}

// MessageDeleted references a removed message.
func (b *IncomingBuilder) MessageDeleted(conversationID, messageID string) IncomingEvent {
	return b.event(EventMessageDeleted, MessageRefData{
		AdapterIdentity: b.identity,
		MessageID:       messageID,
		ConversationID:  conversationID,
	})
}

// ReactionAdded announces one added reaction by canonical name.
func (b *IncomingBuilder) ReactionAdded(conversationID, messageID, emoji string) IncomingEvent {
	return b.event(EventReactionAdded, ReactionData{
		AdapterIdentity: b.identity,
		MessageID:       messageID,
		ConversationID:  conversationID,
		Emoji:           emoji,
	})
}

// ReactionRemoved announces one removed reaction by canonical name.
func (b *IncomingBuilder) ReactionRemoved(conversationID, messageID, emoji string) IncomingEvent {
	return b.event(EventReactionRemoved, ReactionData{
		AdapterIdentity: b.identity,
		MessageID:       messageID,
		ConversationID:  conversationID,
		Emoji:           emoji,
	})
}

// MessagePinned references a newly pinned message.
func (b *IncomingBuilder) MessagePinned(conversationID, messageID string) IncomingEvent {
	return b.event(EventMessagePinned, MessageRefData{
		AdapterIdentity: b.identity,
		MessageID:       messageID,
		ConversationID:  conversationID,
	})
}

// MessageUnpinned references a newly unpinned message.
func (b *IncomingBuilder) MessageUnpinned(conversationID, messageID string) IncomingEvent {
	return b.event(EventMessageUnpinned, MessageRefData{
		AdapterIdentity: b.identity,
		MessageID:       messageID,
		ConversationID:  conversationID,
	})
}

// HistoryFetched wraps a fetched history slice, oldest first.
func (b *IncomingBuilder) HistoryFetched(conversationID string, history []models.MessagePayload) IncomingEvent {
	if history == nil {
		history = []models.MessagePayload{}
	}
	return b.event(EventHistoryFetched, HistoryFetchedData{
		AdapterIdentity: b.identity,
		ConversationID:  conversationID,
		History:         history,
	})
}
