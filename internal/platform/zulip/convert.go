package zulip

import (
	"encoding/json"
	"fmt"
	"hash/fnv"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/conduitmsg/conduit/internal/emoji"
	"github.com/conduitmsg/conduit/pkg/models"

	"github.com/conduitmsg/conduit/internal/platform"
)

// message mirrors the fields of a Zulip message object the driver reads.
type message struct {
	ID               int64           `json:"id"`
	SenderID         int64           `json:"sender_id"`
	SenderFullName   string          `json:"sender_full_name"`
	SenderEmail      string          `json:"sender_email"`
	Content          string          `json:"content"`
	Timestamp        int64           `json:"timestamp"`
	LastEditTime     int64           `json:"last_edit_timestamp"`
	Subject          string          `json:"subject"`
	StreamID         int64           `json:"stream_id"`
	Type             string          `json:"type"`
	DisplayRecipient json.RawMessage `json:"display_recipient"`
	Reactions        []reaction      `json:"reactions"`
}

type reaction struct {
	EmojiName string `json:"emoji_name"`
	UserID    int64  `json:"user_id"`
}

type recipient struct {
	ID       int64  `json:"id"`
	FullName string `json:"full_name"`
}

// conversationID derives the stable conversation identity: stream messages
// combine stream id and topic, private messages join the sorted participant
// ids.
func conversationID(msg *message) string {
	if msg.Type == "private" {
		var users []recipient
		if err := json.Unmarshal(msg.DisplayRecipient, &users); err != nil {
			return ""
		}
		ids := make([]string, 0, len(users))
		for _, u := range users {
			ids = append(ids, strconv.FormatInt(u.ID, 10))
		}
		sort.Strings(ids)
		return strings.Join(ids, "_")
	}
	if msg.StreamID == 0 || msg.Subject == "" {
		return ""
	}
	return fmt.Sprintf("%d/%s", msg.StreamID, msg.Subject)
}

// streamConversationID builds the identity for a stream and topic pair.
func streamConversationID(streamID int64, topic string) string {
	return fmt.Sprintf("%d/%s", streamID, topic)
}

// splitConversationID parses a conversation id back into its parts. A stream
// id contains a slash; anything else is treated as a private recipient list.
func splitConversationID(conversationID string) (streamID int64, topic string, userIDs []int64, err error) {
	if stream, rest, ok := strings.Cut(conversationID, "/"); ok {
		id, perr := strconv.ParseInt(stream, 10, 64)
		if perr != nil || rest == "" {
			return 0, "", nil, platform.ErrInvalidRequest("malformed stream conversation id", perr)
		}
		return id, rest, nil, nil
	}
	for _, part := range strings.Split(conversationID, "_") {
		id, perr := strconv.ParseInt(part, 10, 64)
		if perr != nil {
			return 0, "", nil, platform.ErrInvalidRequest("malformed private conversation id", perr)
		}
		userIDs = append(userIDs, id)
	}
	if len(userIDs) == 0 {
		return 0, "", nil, platform.ErrInvalidRequest("empty conversation id", nil)
	}
	return 0, "", userIDs, nil
}

// zulipEmoji maps a canonical emoji name onto the name Zulip's reaction API
// expects. Unknown names pass through for realm custom emoji.
func zulipEmoji(name string) string {
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

func canonicalFromZulip(name string) string {
	switch name {
	case "+1", "thumbs_up":
		return "thumbs_up"
	case "-1", "thumbs_down":
		return "thumbs_down"
	case "heart":
		return "red_heart"
	case "tada":
		return "party_popper"
	default:
		return emoji.Canonical(name)
	}
}

// attachmentPattern matches the [filename](/user_uploads/...) links Zulip
// renders for uploaded files.
var attachmentPattern = regexp.MustCompile(`\[([^\]]+)\]\((/user_uploads/[^)]+)\)`)

// parseAttachments extracts upload links from message content. The download
// URL carries the api key since user_uploads paths require authentication.
func parseAttachments(content string, urlFor func(path string) string) []models.AttachmentInfo {
	matches := attachmentPattern.FindAllStringSubmatch(content, -1)
	if len(matches) == 0 {
		return nil
	}
	out := make([]models.AttachmentInfo, 0, len(matches))
	for _, m := range matches {
		name, path := m[1], m[2]
		out = append(out, models.AttachmentInfo{
			AttachmentID:   attachmentID(path),
			AttachmentType: models.AttachmentTypeForFilename(name),
			Filename:       name,
			FileExtension:  strings.TrimPrefix(filepath.Ext(name), "."),
			URL:            urlFor(path),
		})
	}
	return out
}

func attachmentID(path string) string {
	h := fnv.New64a()
	h.Write([]byte(path))
	return fmt.Sprintf("%x", h.Sum64())
}

// atAll reports whether the content carries a wildcard mention.
func atAll(content string) bool {
	for _, wildcard := range []string{"@**all**", "@**everyone**", "@**stream**", "@**topic**"} {
		if strings.Contains(content, wildcard) {
			return true
		}
	}
	return false
}

// convertMessage maps a Zulip message into the edge DTO. Topics double as
// thread identity.
func (d *Driver) convertMessage(msg *message) *platform.Message {
	convID := conversationID(msg)
	convType := models.ConversationChannel
	if msg.Type == "private" {
		convType = models.ConversationPrivate
	}

	out := &platform.Message{
		MessageID:              strconv.FormatInt(msg.ID, 10),
		ConversationID:         convID,
		PlatformConversationID: convID,
		ConversationType:       convType,
		Sender: models.UserInfo{
			UserID:   strconv.FormatInt(msg.SenderID, 10),
			Username: msg.SenderFullName,
			Email:    msg.SenderEmail,
		},
		Text:        msg.Content,
		Timestamp:   msg.Timestamp * 1000,
		AtAll:       atAll(msg.Content),
		Attachments: parseAttachments(msg.Content, d.client.AttachmentURL),
	}
	if msg.Type == "stream" {
		out.ThreadID = msg.Subject
		out.ThreadTitle = msg.Subject
	}
	if msg.LastEditTime > 0 {
		out.EditTimestamp = msg.LastEditTime * 1000
	}
	if len(msg.Reactions) > 0 {
		out.Reactions = make(map[string]int, len(msg.Reactions))
		for _, r := range msg.Reactions {
			out.Reactions[canonicalFromZulip(r.EmojiName)]++
		}
	}
	d.rememberAttachments(out.Attachments)
	return out
}
