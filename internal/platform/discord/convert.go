package discord

import (
	"hash/fnv"
	"strconv"

	"github.com/bwmarrin/discordgo"

	"github.com/conduitmsg/conduit/internal/platform"
	"github.com/conduitmsg/conduit/pkg/models"
)

// discordEpochMS is the Discord snowflake epoch, 2015-01-01 in Unix ms.
const discordEpochMS = 1420070400000

// conversationKey hashes guild/channel into the stable conversation id the
// core and the controller see. Raw channel snowflakes are reused across
// guilds after deletions; the hash is not.
func conversationKey(guildID, channelID string) string {
	h := fnv.New64a()
	h.Write([]byte(guildID))
	h.Write([]byte{'/'})
	h.Write([]byte(channelID))
	return strconv.FormatUint(h.Sum64(), 16)
}

// snowflakeToMillis extracts the creation timestamp from a snowflake id.
func snowflakeToMillis(id string) int64 {
	n, err := strconv.ParseUint(id, 10, 64)
	if err != nil {
		return 0
	}
	return int64(n>>22) + discordEpochMS
}

// millisToSnowflake builds a synthetic snowflake for timestamp-bounded
// history pagination.
func millisToSnowflake(ms int64) string {
	if ms <= discordEpochMS {
		return "0"
	}
	return strconv.FormatUint(uint64(ms-discordEpochMS)<<22, 10)
}

func convertUser(u *discordgo.User) models.UserInfo {
	if u == nil {
		return models.UserInfo{}
	}
	return models.UserInfo{
		UserID:   u.ID,
		Username: u.Username,
		IsBot:    u.Bot,
	}
}

func (d *Driver) convertMessage(msg *discordgo.Message) *platform.Message {
	conversationID := d.registerConversation(msg.GuildID, msg.ChannelID)

	conversationType := models.ConversationTextChannel
	if msg.GuildID == "" {
		conversationType = models.ConversationDM
	}

	out := &platform.Message{
		MessageID:              msg.ID,
		ConversationID:         conversationID,
		PlatformConversationID: msg.ChannelID,
		ConversationType:       conversationType,
		ServerID:               msg.GuildID,
		Sender:                 convertUser(msg.Author),
		Text:                   msg.Content,
		Timestamp:              msg.Timestamp.UnixMilli(),
		IsPinned:               msg.Pinned,
		PinStateKnown:          true,
		AtAll:                  msg.MentionEveryone,
		ServiceMessage:         msg.Type != discordgo.MessageTypeDefault && msg.Type != discordgo.MessageTypeReply,
	}
	if msg.EditedTimestamp != nil {
		out.EditTimestamp = msg.EditedTimestamp.UnixMilli()
	}
	if msg.MessageReference != nil {
		out.ReplyToMessageID = msg.MessageReference.MessageID
	}
	for _, u := range msg.Mentions {
		out.MentionedUserIDs = append(out.MentionedUserIDs, u.ID)
	}
	for _, att := range msg.Attachments {
		out.Attachments = append(out.Attachments, models.AttachmentInfo{
			AttachmentID:   att.ID,
			AttachmentType: models.AttachmentTypeForFilename(att.Filename),
			Filename:       att.Filename,
			ContentType:    att.ContentType,
			Size:           int64(att.Size),
			URL:            att.URL,
		})
	}
	return out
}
