package telegram

import (
	"strconv"

	botmodels "github.com/go-telegram/bot/models"

	"github.com/conduitmsg/conduit/internal/emoji"
	"github.com/conduitmsg/conduit/internal/platform"
	"github.com/conduitmsg/conduit/pkg/models"
)

func conversationType(chatType botmodels.ChatType) models.ConversationType {
	switch chatType {
	case botmodels.ChatTypePrivate:
		return models.ConversationPrivate
	case botmodels.ChatTypeChannel:
		return models.ConversationChannel
	default:
		return models.ConversationGroup
	}
}

func convertUser(u *botmodels.User) models.UserInfo {
	if u == nil {
		return models.UserInfo{}
	}
	return models.UserInfo{
		UserID:    strconv.FormatInt(u.ID, 10),
		Username:  u.Username,
		FirstName: u.FirstName,
		LastName:  u.LastName,
		IsBot:     u.IsBot,
	}
}

// convertMessage maps one Telegram message into the edge DTO. Telegram dates
// are Unix seconds; the core runs on milliseconds.
func convertMessage(msg *botmodels.Message) *platform.Message {
	text := msg.Text
	if text == "" {
		text = msg.Caption
	}

	out := &platform.Message{
		MessageID:              strconv.Itoa(msg.ID),
		ConversationID:         strconv.FormatInt(msg.Chat.ID, 10),
		PlatformConversationID: strconv.FormatInt(msg.Chat.ID, 10),
		ConversationType:       conversationType(msg.Chat.Type),
		ConversationName:       chatName(&msg.Chat),
		Sender:                 convertUser(msg.From),
		Text:                   text,
		Timestamp:              int64(msg.Date) * 1000,
		EditTimestamp:          int64(msg.EditDate) * 1000,
		ServiceMessage:         isServiceMessage(msg),
	}

	if msg.MessageThreadID != 0 && msg.IsTopicMessage {
		out.ThreadID = strconv.Itoa(msg.MessageThreadID)
	}
	if msg.ReplyToMessage != nil {
		out.ReplyToMessageID = strconv.Itoa(msg.ReplyToMessage.ID)
	}

	for _, entity := range msg.Entities {
		switch entity.Type {
		case botmodels.MessageEntityTypeTextMention:
			if entity.User != nil {
				out.MentionedUserIDs = append(out.MentionedUserIDs, strconv.FormatInt(entity.User.ID, 10))
			}
		case botmodels.MessageEntityTypeMention:
			start, end := entity.Offset, entity.Offset+entity.Length
			if start >= 0 && end <= len(msg.Text) {
				out.MentionedUserIDs = append(out.MentionedUserIDs, msg.Text[start:end])
			}
		}
	}

	out.Attachments = convertAttachments(msg)
	return out
}

func chatName(chat *botmodels.Chat) string {
	if chat.Title != "" {
		return chat.Title
	}
	if chat.Username != "" {
		return chat.Username
	}
	return chat.FirstName
}

func isServiceMessage(msg *botmodels.Message) bool {
	return len(msg.NewChatMembers) > 0 ||
		msg.LeftChatMember != nil ||
		msg.NewChatTitle != "" ||
		msg.GroupChatCreated ||
		msg.SupergroupChatCreated ||
		msg.ChannelChatCreated
}

func convertAttachments(msg *botmodels.Message) []models.AttachmentInfo {
	var out []models.AttachmentInfo

	if len(msg.Photo) > 0 {
		// Telegram sends every resolution; the last entry is the largest.
		photo := msg.Photo[len(msg.Photo)-1]
		out = append(out, models.AttachmentInfo{
			AttachmentID:   photo.FileID,
			AttachmentType: models.AttachmentImage,
			Filename:       photo.FileID + ".jpg",
			Size:           int64(photo.FileSize),
		})
	}
	if msg.Document != nil {
		out = append(out, models.AttachmentInfo{
			AttachmentID:   msg.Document.FileID,
			AttachmentType: models.AttachmentTypeForFilename(msg.Document.FileName),
			Filename:       msg.Document.FileName,
			ContentType:    msg.Document.MimeType,
			Size:           int64(msg.Document.FileSize),
		})
	}
	if msg.Audio != nil {
		out = append(out, models.AttachmentInfo{
			AttachmentID:   msg.Audio.FileID,
			AttachmentType: models.AttachmentAudio,
			Filename:       msg.Audio.FileName,
			ContentType:    msg.Audio.MimeType,
			Size:           int64(msg.Audio.FileSize),
		})
	}
	if msg.Voice != nil {
		out = append(out, models.AttachmentInfo{
			AttachmentID:   msg.Voice.FileID,
			AttachmentType: models.AttachmentAudio,
			Filename:       msg.Voice.FileID + ".ogg",
			ContentType:    msg.Voice.MimeType,
			Size:           int64(msg.Voice.FileSize),
		})
	}
	if msg.Video != nil {
		out = append(out, models.AttachmentInfo{
			AttachmentID:   msg.Video.FileID,
			AttachmentType: models.AttachmentVideo,
			Filename:       msg.Video.FileName,
			ContentType:    msg.Video.MimeType,
			Size:           int64(msg.Video.FileSize),
		})
	}
	if msg.Sticker != nil {
		out = append(out, models.AttachmentInfo{
			AttachmentID:   msg.Sticker.FileID,
			AttachmentType: models.AttachmentSticker,
			Filename:       msg.Sticker.FileID + ".webp",
			Size:           int64(msg.Sticker.FileSize),
		})
	}
	return out
}

// reactionNames extracts canonical emoji names from a Telegram reaction list.
// Custom-emoji reactions have no portable name and are skipped.
func reactionNames(reactions []botmodels.ReactionType) []string {
	var names []string
	for _, r := range reactions {
		if r.ReactionTypeEmoji == nil {
			continue
		}
		names = append(names, emoji.Canonical(r.ReactionTypeEmoji.Emoji))
	}
	return names
}

func diffReactionNames(old, new []string) (added, removed []string) {
	oldSet := make(map[string]bool, len(old))
	for _, n := range old {
		oldSet[n] = true
	}
	newSet := make(map[string]bool, len(new))
	for _, n := range new {
		newSet[n] = true
	}
	for _, n := range new {
		if !oldSet[n] {
			added = append(added, n)
		}
	}
	for _, n := range old {
		if !newSet[n] {
			removed = append(removed, n)
		}
	}
	return added, removed
}
