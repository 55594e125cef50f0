package conversation

import (
	"time"

	"github.com/conduitmsg/conduit/internal/cache"
	"github.com/conduitmsg/conduit/internal/platform"
	"github.com/conduitmsg/conduit/pkg/models"
)

// resolveThread decides the thread id for an incoming message.
//
// A platform-native thread id wins. Otherwise, a reply is threaded under the
// root of its reply chain: reply pointers are walked through the message cache
// to the earliest ancestor still cached, and if the chain exits the cache the
// furthest ancestor seen is used. Messages that are neither get no thread.
func resolveThread(msgs *cache.MessageCache, conversationID string, msg *platform.Message) string {
	if msg.ThreadID != "" {
		return msg.ThreadID
	}
	if msg.ReplyToMessageID == "" {
		return ""
	}

	root := msg.ReplyToMessageID
	seen := map[string]struct{}{msg.MessageID: {}}
	for {
		if _, looped := seen[root]; looped {
			break
		}
		seen[root] = struct{}{}
		parent := msgs.Get(conversationID, root)
		if parent == nil || parent.ReplyToMessageID == "" {
			break
		}
		root = parent.ReplyToMessageID
	}
	return root
}

// registerThread ensures the conversation's thread record exists, files the
// message under it and refreshes activity.
//
// RootMessageID is only filled when the thread id actually resolves to a
// cached message. Zulip threads are keyed by topic name, and a topic name is
// not a message id.
func registerThread(msgs *cache.MessageCache, conv *models.ConversationInfo, threadID, title, messageID string, now time.Time) {
	th, ok := conv.Threads[threadID]
	if !ok {
		th = models.NewThreadInfo(threadID)
		conv.Threads[threadID] = th
	}
	if th.RootMessageID == "" && msgs.Get(conv.ConversationID, threadID) != nil {
		th.RootMessageID = threadID
	}
	if title != "" {
		th.Title = title
	}
	if messageID != "" {
		th.Messages[messageID] = struct{}{}
	}
	th.LastActivity = now
}
