package models

import "time"

// ThreadInfo tracks a nested conversation anchored to a root message or a
// platform-native topic.
type ThreadInfo struct {
	ThreadID      string
	Title         string
	RootMessageID string
	Messages      map[string]struct{}
	LastActivity  time.Time
}

// NewThreadInfo creates an empty thread record.
func NewThreadInfo(threadID string) *ThreadInfo {
	return &ThreadInfo{
		ThreadID:     threadID,
		Messages:     make(map[string]struct{}),
		LastActivity: time.Now(),
	}
}

// ConversationInfo is the adapter's record of one upstream conversation.
// KnownMembers grows monotonically for the conversation's lifetime; the
// message sets come and go with the cache.
type ConversationInfo struct {
	ConversationID         string
	PlatformConversationID string
	ConversationType       ConversationType
	ConversationName       string
	ServerID               string
	ServerName             string
	CreatedAt              time.Time
	LastActivity           time.Time
	JustStarted            bool
	KnownMembers           map[string]UserInfo
	Messages               map[string]struct{}
	PinnedMessages         map[string]struct{}
	Threads                map[string]*ThreadInfo
	Attachments            map[string]struct{}
}

// NewConversationInfo creates a conversation record marked as just started.
func NewConversationInfo(conversationID string, ctype ConversationType) *ConversationInfo {
	now := time.Now()
	return &ConversationInfo{
		ConversationID:   conversationID,
		ConversationType: ctype,
		CreatedAt:        now,
		LastActivity:     now,
		JustStarted:      true,
		KnownMembers:     make(map[string]UserInfo),
		Messages:         make(map[string]struct{}),
		PinnedMessages:   make(map[string]struct{}),
		Threads:          make(map[string]*ThreadInfo),
		Attachments:      make(map[string]struct{}),
	}
}

// ConversationDelta summarizes what one conversation mutation changed.
// Every manager operation returns one; empty deltas mean nothing happened.
type ConversationDelta struct {
	ConversationID    string
	ConversationName  string
	ServerName        string
	MessageID         string
	FetchHistory      bool
	JustStarted       bool
	AddedMessages     []MessagePayload
	UpdatedMessages   []MessagePayload
	DeletedMessageIDs []string
	PinnedMessageIDs  []string
	UnpinnedMessageIDs []string
	AddedReactions    []string
	RemovedReactions  []string
}

// Empty reports whether the delta carries no observable change.
func (d *ConversationDelta) Empty() bool {
	if d == nil {
		return true
	}
	return d.ConversationID == "" ||
		(!d.FetchHistory && !d.JustStarted &&
			len(d.AddedMessages) == 0 && len(d.UpdatedMessages) == 0 &&
			len(d.DeletedMessageIDs) == 0 &&
			len(d.PinnedMessageIDs) == 0 && len(d.UnpinnedMessageIDs) == 0 &&
			len(d.AddedReactions) == 0 && len(d.RemovedReactions) == 0)
}
