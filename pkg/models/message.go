package models

import "time"

// MentionAll is the wire token for a platform-wide at-all mention.
const MentionAll = "all"

// CachedMessage is the adapter's in-memory record of one upstream message.
// Timestamps are Unix milliseconds throughout the core; platform drivers
// convert at the edge.
type CachedMessage struct {
	MessageID        string
	ConversationID   string
	ThreadID         string
	SenderID         string
	SenderName       string
	Text             string
	Timestamp        int64
	EditTimestamp    int64
	Edited           bool
	IsFromBot        bool
	ReplyToMessageID string
	IsPinned         bool
	Reactions        map[string]int
	Attachments      []string
	Mentions         []string
	LastAccess       time.Time
}

// Clone returns a deep copy so callers can hand messages across goroutines
// without sharing the reaction map.
func (m *CachedMessage) Clone() *CachedMessage {
	if m == nil {
		return nil
	}
	c := *m
	if m.Reactions != nil {
		c.Reactions = make(map[string]int, len(m.Reactions))
		for k, v := range m.Reactions {
			c.Reactions[k] = v
		}
	}
	c.Attachments = append([]string(nil), m.Attachments...)
	c.Mentions = append([]string(nil), m.Mentions...)
	return &c
}

// Age returns how old the message is relative to now.
func (m *CachedMessage) Age(now time.Time) time.Duration {
	return now.Sub(time.UnixMilli(m.Timestamp))
}

// MessagePayload is the wire shape of a message inside incoming events and
// history responses.
type MessagePayload struct {
	MessageID       string              `json:"message_id"`
	ConversationID  string              `json:"conversation_id"`
	Sender          Sender              `json:"sender"`
	Text            string              `json:"text"`
	Timestamp       int64               `json:"timestamp"`
	Edited          bool                `json:"edited"`
	EditTimestamp   int64               `json:"edit_timestamp,omitempty"`
	IsDirectMessage bool                `json:"is_direct_message"`
	ThreadID        string              `json:"thread_id,omitempty"`
	Attachments     []AttachmentPayload `json:"attachments"`
	Mentions        []string            `json:"mentions"`
}
