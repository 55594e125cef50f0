package slack

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"

	"github.com/conduitmsg/conduit/internal/emoji"
	"github.com/conduitmsg/conduit/internal/platform"
	"github.com/conduitmsg/conduit/pkg/models"
)

// tsToMillis parses a Slack "seconds.fraction" timestamp into Unix ms.
func tsToMillis(ts string) int64 {
	if ts == "" {
		return 0
	}
	f, err := strconv.ParseFloat(ts, 64)
	if err != nil {
		return 0
	}
	return int64(f * 1000)
}

// millisToTS formats Unix ms as a Slack timestamp bound.
func millisToTS(ms int64) string {
	return fmt.Sprintf("%d.%06d", ms/1000, (ms%1000)*1000)
}

func conversationType(channelID string) models.ConversationType {
	if strings.HasPrefix(channelID, "D") {
		return models.ConversationDM
	}
	return models.ConversationChannel
}

// slackEmoji translates a canonical emoji name to the alias Slack's reaction
// API expects. Names outside the canonical table pass through untouched so
// workspace custom emoji keep working.
func slackEmoji(name string) string {
	switch name {
	case "thumbs_up":
		return "+1"
	case "thumbs_down":
		return "-1"
	case "red_heart":
		return "heart"
	case "party_popper":
		return "tada"
	default:
		return name
	}
}

// canonicalFromSlack translates a Slack reaction alias back to the canonical
// name used core-wide.
func canonicalFromSlack(name string) string {
	switch name {
	case "+1", "thumbsup":
		return "thumbs_up"
	case "-1", "thumbsdown":
		return "thumbs_down"
	case "heart":
		return "red_heart"
	case "tada":
		return "party_popper"
	default:
		return emoji.Canonical(name)
	}
}

// convertEventMessage maps one Events API message into the edge DTO.
func convertEventMessage(ev *slackevents.MessageEvent) *platform.Message {
	out := &platform.Message{
		MessageID:              ev.TimeStamp,
		ConversationID:         ev.Channel,
		PlatformConversationID: ev.Channel,
		ConversationType:       conversationType(ev.Channel),
		ThreadID:               ev.ThreadTimeStamp,
		Sender:                 models.UserInfo{UserID: ev.User, IsBot: ev.BotID != ""},
		Text:                   ev.Text,
		Timestamp:              tsToMillis(ev.TimeStamp),
	}
	if out.ThreadID == out.MessageID {
		// A thread root carries its own ts as thread_ts.
		out.ThreadID = ""
	}
	out.MentionedUserIDs, out.AtAll = parseMentions(ev.Text)

	if ev.Message != nil {
		for _, file := range ev.Message.Files {
			out.Attachments = append(out.Attachments, fileInfo(file.ID, file.Name, file.Mimetype, file.Size, file.URLPrivateDownload))
		}
	}
	return out
}

// parseMentions extracts <@USERID> tokens and the channel-wide broadcasts.
func parseMentions(text string) (ids []string, atAll bool) {
	if strings.Contains(text, "<!channel>") || strings.Contains(text, "<!here>") || strings.Contains(text, "<!everyone>") {
		atAll = true
	}
	rest := text
	for {
		start := strings.Index(rest, "<@")
		if start < 0 {
			break
		}
		end := strings.Index(rest[start:], ">")
		if end < 0 {
			break
		}
		id := rest[start+2 : start+end]
		if cut := strings.IndexByte(id, '|'); cut >= 0 {
			id = id[:cut]
		}
		if id != "" {
			ids = append(ids, id)
		}
		rest = rest[start+end+1:]
	}
	return ids, atAll
}

func fileInfo(id, name, mimetype string, size int, downloadURL string) models.AttachmentInfo {
	return models.AttachmentInfo{
		AttachmentID:   id,
		AttachmentType: models.AttachmentTypeForFilename(name),
		Filename:       name,
		ContentType:    mimetype,
		Size:           int64(size),
		URL:            downloadURL,
	}
}

// convertHistoryMessage maps one conversations.history entry into the edge
// DTO.
func convertHistoryMessage(channelID string, msg *slack.Message) *platform.Message {
	out := &platform.Message{
		MessageID:              msg.Timestamp,
		ConversationID:         channelID,
		PlatformConversationID: channelID,
		ConversationType:       conversationType(channelID),
		ThreadID:               msg.ThreadTimestamp,
		Sender:                 models.UserInfo{UserID: msg.User, IsBot: msg.BotID != ""},
		Text:                   msg.Text,
		Timestamp:              tsToMillis(msg.Timestamp),
		ServiceMessage:         msg.SubType != "" && msg.SubType != "thread_broadcast" && msg.SubType != "file_share",
	}
	if out.ThreadID == out.MessageID {
		out.ThreadID = ""
	}
	for _, file := range msg.Files {
		out.Attachments = append(out.Attachments, fileInfo(file.ID, file.Name, file.Mimetype, file.Size, file.URLPrivateDownload))
	}
	if len(msg.Reactions) > 0 {
		out.Reactions = make(map[string]int, len(msg.Reactions))
		for _, r := range msg.Reactions {
			out.Reactions[canonicalFromSlack(r.Name)] += r.Count
		}
	}
	return out
}
