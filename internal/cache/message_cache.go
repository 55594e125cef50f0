package cache

import (
	"sort"
	"sync"
	"time"

	"github.com/conduitmsg/conduit/internal/config"
	"github.com/conduitmsg/conduit/pkg/models"
)

// MessageCache is the bounded conversation → message_id → message mapping.
// Every public operation takes the cache lock; critical sections never block
// on I/O.
type MessageCache struct {
	mu            sync.Mutex
	cfg           config.CachingConfig
	conversations map[string]map[string]*models.CachedMessage
	now           func() time.Time
}

// NewMessageCache creates an empty message cache.
func NewMessageCache(cfg config.CachingConfig) *MessageCache {
	return &MessageCache{
		cfg:           cfg,
		conversations: make(map[string]map[string]*models.CachedMessage),
		now:           time.Now,
	}
}

// Add inserts or replaces the message under its conversation and id, and
// refreshes its last access.
func (c *MessageCache) Add(msg *models.CachedMessage) {
	if msg == nil || msg.MessageID == "" || msg.ConversationID == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	conv, ok := c.conversations[msg.ConversationID]
	if !ok {
		conv = make(map[string]*models.CachedMessage)
		c.conversations[msg.ConversationID] = conv
	}
	msg.LastAccess = c.now()
	conv[msg.MessageID] = msg
}

// Get returns the message and bumps its last access, or nil when absent.
func (c *MessageCache) Get(conversationID, messageID string) *models.CachedMessage {
	c.mu.Lock()
	defer c.mu.Unlock()

	msg := c.conversations[conversationID][messageID]
	if msg != nil {
		msg.LastAccess = c.now()
	}
	return msg
}

// Delete removes the message; it reports whether it was present.
func (c *MessageCache) Delete(conversationID, messageID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	conv, ok := c.conversations[conversationID]
	if !ok {
		return false
	}
	if _, ok := conv[messageID]; !ok {
		return false
	}
	delete(conv, messageID)
	if len(conv) == 0 {
		delete(c.conversations, conversationID)
	}
	return true
}

// MessageIDs returns the ids cached for a conversation.
func (c *MessageCache) MessageIDs(conversationID string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	conv := c.conversations[conversationID]
	ids := make([]string, 0, len(conv))
	for id := range conv {
		ids = append(ids, id)
	}
	return ids
}

// Messages returns the cached messages for a conversation, unordered.
func (c *MessageCache) Messages(conversationID string) []*models.CachedMessage {
	c.mu.Lock()
	defer c.mu.Unlock()

	conv := c.conversations[conversationID]
	out := make([]*models.CachedMessage, 0, len(conv))
	for _, m := range conv {
		out = append(out, m)
	}
	return out
}

// Migrate re-keys every message of a conversation under a new conversation
// id, for platform-initiated chat id changes (group to supergroup).
func (c *MessageCache) Migrate(oldConversationID, newConversationID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	old, ok := c.conversations[oldConversationID]
	if !ok {
		return 0
	}
	dst, ok := c.conversations[newConversationID]
	if !ok {
		dst = make(map[string]*models.CachedMessage, len(old))
		c.conversations[newConversationID] = dst
	}
	for id, msg := range old {
		msg.ConversationID = newConversationID
		dst[id] = msg
	}
	delete(c.conversations, oldConversationID)
	return len(old)
}

// Len returns the total number of cached messages.
func (c *MessageCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.totalLocked()
}

func (c *MessageCache) totalLocked() int {
	n := 0
	for _, conv := range c.conversations {
		n += len(conv)
	}
	return n
}

// Sweep performs one maintenance pass under the cache lock: age eviction,
// then per-conversation caps, then the global cap, oldest first.
func (c *MessageCache) Sweep(now time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	evicted := 0
	cutoff := now.Add(-c.cfg.MaxAge())

	for convID, conv := range c.conversations {
		for id, msg := range conv {
			if lastTouched(msg).Before(cutoff) {
				delete(conv, id)
				evicted++
			}
		}
		if len(conv) > c.cfg.MaxMessagesPerConversation {
			evicted += c.evictOldestLocked(convID, len(conv)-c.cfg.MaxMessagesPerConversation)
		}
		if len(conv) == 0 {
			delete(c.conversations, convID)
		}
	}

	if over := c.totalLocked() - c.cfg.MaxTotalMessages; over > 0 {
		evicted += c.evictOldestGlobalLocked(over)
	}
	return evicted
}

// lastTouched is the creation or last-modification time of a message.
func lastTouched(msg *models.CachedMessage) time.Time {
	ts := msg.Timestamp
	if msg.EditTimestamp > ts {
		ts = msg.EditTimestamp
	}
	return time.UnixMilli(ts)
}

func (c *MessageCache) evictOldestLocked(conversationID string, n int) int {
	conv := c.conversations[conversationID]
	msgs := make([]*models.CachedMessage, 0, len(conv))
	for _, m := range conv {
		msgs = append(msgs, m)
	}
	sortByAge(msgs)
	if n > len(msgs) {
		n = len(msgs)
	}
	for _, m := range msgs[:n] {
		delete(conv, m.MessageID)
	}
	return n
}

func (c *MessageCache) evictOldestGlobalLocked(n int) int {
	var all []*models.CachedMessage
	for _, conv := range c.conversations {
		for _, m := range conv {
			all = append(all, m)
		}
	}
	sortByAge(all)
	if n > len(all) {
		n = len(all)
	}
	for _, m := range all[:n] {
		conv := c.conversations[m.ConversationID]
		delete(conv, m.MessageID)
		if len(conv) == 0 {
			delete(c.conversations, m.ConversationID)
		}
	}
	return n
}

// sortByAge orders oldest first, with message_id as the deterministic
// tie-break.
func sortByAge(msgs []*models.CachedMessage) {
	sort.Slice(msgs, func(i, j int) bool {
		if msgs[i].Timestamp != msgs[j].Timestamp {
			return msgs[i].Timestamp < msgs[j].Timestamp
		}
		return msgs[i].MessageID < msgs[j].MessageID
	})
}
