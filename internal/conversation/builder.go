package conversation

import (
	"github.com/conduitmsg/conduit/internal/platform"
	"github.com/conduitmsg/conduit/pkg/models"
)

// buildCachedMessage normalizes an edge message into the cache record. The
// thread id is resolved by the caller; reaction snapshots are canonicalized
// here.
func buildCachedMessage(msg *platform.Message, conversationID, threadID string) *models.CachedMessage {
	return &models.CachedMessage{
		MessageID:        msg.MessageID,
		ConversationID:   conversationID,
		ThreadID:         threadID,
		SenderID:         msg.Sender.UserID,
		SenderName:       msg.Sender.DisplayName(),
		Text:             msg.Text,
		Timestamp:        msg.Timestamp,
		EditTimestamp:    msg.EditTimestamp,
		Edited:           msg.EditTimestamp > 0,
		IsFromBot:        msg.Sender.IsBot,
		ReplyToMessageID: msg.ReplyToMessageID,
		IsPinned:         msg.PinStateKnown && msg.IsPinned,
		Reactions:        canonicalizeReactions(msg.Reactions),
	}
}

// computeMentions applies the platform-agnostic mention rule: the bot is
// mentioned when its own id appears in the explicit mention tokens, when the
// message replies to one of the bot's messages, or when a platform-wide
// at-all token is present.
func (m *Manager) computeMentions(conversationID string, msg *platform.Message) []string {
	selfID := m.Self()
	var mentions []string

	if selfID != "" {
		for _, id := range msg.MentionedUserIDs {
			if id == selfID {
				mentions = append(mentions, selfID)
				break
			}
		}
		if len(mentions) == 0 && msg.ReplyToMessageID != "" {
			if parent := m.messages.Get(conversationID, msg.ReplyToMessageID); parent != nil {
				if parent.IsFromBot || parent.SenderID == selfID {
					mentions = append(mentions, selfID)
				}
			}
		}
	}
	if msg.AtAll {
		mentions = append(mentions, models.MentionAll)
	}
	return mentions
}

// PayloadForMessage normalizes an edge message into its wire shape without
// touching the caches; history uses it when fetched messages are not folded
// in.
func (m *Manager) PayloadForMessage(msg *platform.Message) models.MessagePayload {
	threadID := resolveThread(m.messages, msg.ConversationID, msg)
	cached := buildCachedMessage(msg, msg.ConversationID, threadID)
	cached.Mentions = m.computeMentions(msg.ConversationID, msg)

	p := m.payload(cached, msg.ConversationType.IsDirect())
	for i := range msg.Attachments {
		p.Attachments = append(p.Attachments, msg.Attachments[i].Payload())
	}
	return p
}

// PayloadForCached converts an already cached message into its wire shape.
func (m *Manager) PayloadForCached(cached *models.CachedMessage) models.MessagePayload {
	isDirect := false
	if conv := m.Get(cached.ConversationID); conv != nil {
		isDirect = conv.ConversationType.IsDirect()
	}
	return m.payload(cached, isDirect)
}

// payload converts a cached message into its wire shape, resolving attachment
// metadata through the attachment cache.
func (m *Manager) payload(cached *models.CachedMessage, isDirect bool) models.MessagePayload {
	attachments := make([]models.AttachmentPayload, 0, len(cached.Attachments))
	for _, id := range cached.Attachments {
		if info := m.attachments.Get(id); info != nil {
			attachments = append(attachments, info.Payload())
		}
	}
	mentions := cached.Mentions
	if mentions == nil {
		mentions = []string{}
	}
	return models.MessagePayload{
		MessageID:       cached.MessageID,
		ConversationID:  cached.ConversationID,
		Sender:          models.Sender{UserID: cached.SenderID, DisplayName: cached.SenderName},
		Text:            cached.Text,
		Timestamp:       cached.Timestamp,
		Edited:          cached.Edited,
		EditTimestamp:   cached.EditTimestamp,
		IsDirectMessage: isDirect,
		ThreadID:        cached.ThreadID,
		Attachments:     attachments,
		Mentions:        mentions,
	}
}
