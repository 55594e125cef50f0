// Package conversation owns the adapter's view of upstream conversations:
// membership, threads, pins and the message cache, mutated one conversation
// at a time.
package conversation

import (
	"log/slog"
	"sync"
	"time"

	"github.com/conduitmsg/conduit/internal/cache"
	"github.com/conduitmsg/conduit/internal/emoji"
	"github.com/conduitmsg/conduit/internal/platform"
	"github.com/conduitmsg/conduit/pkg/models"
)

// Manager applies upstream events to conversation state and reports what
// changed as deltas. Mutators never fail: malformed input is logged and
// answered with an empty delta so one bad upstream payload cannot take the
// adapter down.
//
// All three mutators serialize through a per-conversation lock; different
// conversations make progress concurrently.
type Manager struct {
	log         *slog.Logger
	messages    *cache.MessageCache
	attachments *cache.AttachmentCache
	users       *cache.UserCache

	selfMu sync.RWMutex
	selfID string

	mu            sync.Mutex
	conversations map[string]*models.ConversationInfo
	locks         map[string]*sync.Mutex

	now func() time.Time
}

// NewManager wires the manager onto the shared caches.
func NewManager(log *slog.Logger, messages *cache.MessageCache, attachments *cache.AttachmentCache, users *cache.UserCache) *Manager {
	return &Manager{
		log:           log,
		messages:      messages,
		attachments:   attachments,
		users:         users,
		conversations: make(map[string]*models.ConversationInfo),
		locks:         make(map[string]*sync.Mutex),
		now:           time.Now,
	}
}

// SetSelf records the bot's own upstream user id, known only after login.
func (m *Manager) SetSelf(userID string) {
	m.selfMu.Lock()
	m.selfID = userID
	m.selfMu.Unlock()
}

// Self returns the bot's own upstream user id, or empty before login.
func (m *Manager) Self() string {
	m.selfMu.RLock()
	defer m.selfMu.RUnlock()
	return m.selfID
}

// Get returns the conversation record, or nil when unknown.
func (m *Manager) Get(conversationID string) *models.ConversationInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.conversations[conversationID]
}

// Messages exposes the shared message cache for read paths (history).
func (m *Manager) Messages() *cache.MessageCache {
	return m.messages
}

func (m *Manager) lock(conversationID string) func() {
	m.mu.Lock()
	l, ok := m.locks[conversationID]
	if !ok {
		l = &sync.Mutex{}
		m.locks[conversationID] = l
	}
	m.mu.Unlock()

	l.Lock()
	return l.Unlock
}

func (m *Manager) getOrCreate(msg *platform.Message) *models.ConversationInfo {
	m.mu.Lock()
	defer m.mu.Unlock()

	conv, ok := m.conversations[msg.ConversationID]
	if !ok {
		conv = models.NewConversationInfo(msg.ConversationID, msg.ConversationType)
		m.conversations[msg.ConversationID] = conv
		m.log.Debug("conversation started",
			"conversation_id", msg.ConversationID,
			"conversation_type", string(msg.ConversationType))
	}
	if msg.PlatformConversationID != "" {
		conv.PlatformConversationID = msg.PlatformConversationID
	}
	if msg.ConversationName != "" {
		conv.ConversationName = msg.ConversationName
	}
	if msg.ServerID != "" {
		conv.ServerID = msg.ServerID
	}
	if msg.ServerName != "" {
		conv.ServerName = msg.ServerName
	}
	return conv
}

// AddMessage records a new upstream message and returns the delta. The first
// message of a conversation latches FetchHistory exactly once.
func (m *Manager) AddMessage(msg *platform.Message) *models.ConversationDelta {
	delta := &models.ConversationDelta{}
	if msg == nil || msg.ConversationID == "" || msg.MessageID == "" {
		m.log.Warn("dropping message without identity")
		return delta
	}

	unlock := m.lock(msg.ConversationID)
	defer unlock()

	conv := m.getOrCreate(msg)
	now := m.now()
	conv.LastActivity = now

	delta.ConversationID = conv.ConversationID
	delta.ConversationName = conv.ConversationName
	delta.ServerName = conv.ServerName
	if conv.JustStarted {
		conv.JustStarted = false
		delta.JustStarted = true
		delta.FetchHistory = true
	}

	if msg.Sender.UserID != "" {
		conv.KnownMembers[msg.Sender.UserID] = msg.Sender
		m.users.Add(msg.Sender)
	}

	threadID := resolveThread(m.messages, conv.ConversationID, msg)
	cached := buildCachedMessage(msg, conv.ConversationID, threadID)
	cached.Mentions = m.computeMentions(conv.ConversationID, msg)

	for i := range msg.Attachments {
		info := msg.Attachments[i]
		if stored := m.attachments.Add(&info); stored != nil {
			cached.Attachments = append(cached.Attachments, stored.AttachmentID)
			conv.Attachments[stored.AttachmentID] = struct{}{}
		}
	}

	m.messages.Add(cached)
	conv.Messages[cached.MessageID] = struct{}{}
	if cached.IsPinned {
		conv.PinnedMessages[cached.MessageID] = struct{}{}
	}
	if threadID != "" {
		registerThread(m.messages, conv, threadID, msg.ThreadTitle, cached.MessageID, now)
	}

	delta.MessageID = cached.MessageID
	delta.AddedMessages = append(delta.AddedMessages, m.payload(cached, conv.ConversationType.IsDirect()))
	return delta
}

// UpdateMessage applies an edit, reaction or pin event to an already cached
// message and returns the delta.
func (m *Manager) UpdateMessage(ev *platform.Event) *models.ConversationDelta {
	if ev == nil {
		return &models.ConversationDelta{}
	}
	switch ev.Type {
	case platform.IncomingEditedMessage:
		return m.applyEdit(ev.Message)
	case platform.IncomingReactionAdded, platform.IncomingReactionRemoved:
		return m.applyReaction(ev)
	case platform.IncomingPinnedMessage, platform.IncomingUnpinnedMessage:
		return m.applyPin(ev)
	default:
		m.log.Warn("unexpected update event", "type", string(ev.Type))
		return &models.ConversationDelta{}
	}
}

func (m *Manager) applyEdit(msg *platform.Message) *models.ConversationDelta {
	delta := &models.ConversationDelta{}
	if msg == nil || msg.ConversationID == "" || msg.MessageID == "" {
		return delta
	}

	unlock := m.lock(msg.ConversationID)
	defer unlock()

	delta.ConversationID = msg.ConversationID
	cached := m.messages.Get(msg.ConversationID, msg.MessageID)
	if cached == nil {
		m.log.Debug("edit for uncached message",
			"conversation_id", msg.ConversationID, "message_id", msg.MessageID)
		return delta
	}
	updated := cached.Clone()
	changed := false
	pushedUpdate := false

	// Some platforms resend the full message on any metadata change; equal
	// text is not a text edit.
	if msg.Text != "" && msg.Text != updated.Text {
		updated.Text = msg.Text
		updated.Edited = true
		updated.EditTimestamp = msg.EditTimestamp
		if updated.EditTimestamp == 0 {
			updated.EditTimestamp = m.now().UnixMilli()
		}
		changed = true
		pushedUpdate = true
	}

	if msg.Reactions != nil {
		snapshot := canonicalizeReactions(msg.Reactions)
		added, removed := DiffReactions(updated.Reactions, snapshot)
		if len(added) > 0 || len(removed) > 0 {
			updated.Reactions = snapshot
			delta.MessageID = updated.MessageID
			delta.AddedReactions = added
			delta.RemovedReactions = removed
			changed = true
		}
	}

	if msg.PinStateKnown && msg.IsPinned != updated.IsPinned {
		updated.IsPinned = msg.IsPinned
		m.setPinnedLocked(msg.ConversationID, updated.MessageID, msg.IsPinned)
		if msg.IsPinned {
			delta.PinnedMessageIDs = append(delta.PinnedMessageIDs, updated.MessageID)
		} else {
			delta.UnpinnedMessageIDs = append(delta.UnpinnedMessageIDs, updated.MessageID)
		}
		changed = true
		pushedUpdate = true
	}

	if !changed {
		return delta
	}
	m.messages.Add(updated)
	if pushedUpdate {
		isDirect := false
		if conv := m.Get(msg.ConversationID); conv != nil {
			isDirect = conv.ConversationType.IsDirect()
		}
		delta.UpdatedMessages = append(delta.UpdatedMessages, m.payload(updated, isDirect))
	}
	return delta
}

func (m *Manager) applyReaction(ev *platform.Event) *models.ConversationDelta {
	delta := &models.ConversationDelta{}
	conversationID, messageID := ev.ConversationID, ev.MessageID
	if ev.Message != nil {
		if conversationID == "" {
			conversationID = ev.Message.ConversationID
		}
		if messageID == "" {
			messageID = ev.Message.MessageID
		}
	}
	if conversationID == "" || messageID == "" {
		return delta
	}

	unlock := m.lock(conversationID)
	defer unlock()

	delta.ConversationID = conversationID
	cached := m.messages.Get(conversationID, messageID)
	if cached == nil {
		return delta
	}

	name := emoji.Canonical(ev.Emoji)
	if name == "" {
		return delta
	}
	updated := cached.Clone()
	if updated.Reactions == nil {
		updated.Reactions = make(map[string]int)
	}

	switch ev.Type {
	case platform.IncomingReactionAdded:
		updated.Reactions[name]++
		delta.AddedReactions = []string{name}
	case platform.IncomingReactionRemoved:
		if updated.Reactions[name] <= 1 {
			delete(updated.Reactions, name)
		} else {
			updated.Reactions[name]--
		}
		delta.RemovedReactions = []string{name}
	}
	if len(updated.Reactions) == 0 {
		updated.Reactions = nil
	}

	m.messages.Add(updated)
	delta.MessageID = messageID
	return delta
}

func (m *Manager) applyPin(ev *platform.Event) *models.ConversationDelta {
	delta := &models.ConversationDelta{}
	conversationID, messageID := ev.ConversationID, ev.MessageID
	if ev.Message != nil {
		if conversationID == "" {
			conversationID = ev.Message.ConversationID
		}
		if messageID == "" {
			messageID = ev.Message.MessageID
		}
	}
	if conversationID == "" || messageID == "" {
		return delta
	}

	unlock := m.lock(conversationID)
	defer unlock()

	// A pin for a message the cache no longer holds yields a conversation-only
	// delta, so the surface event is suppressed without special-casing.
	delta.ConversationID = conversationID
	cached := m.messages.Get(conversationID, messageID)
	if cached == nil {
		return delta
	}

	pinned := ev.Type == platform.IncomingPinnedMessage
	if cached.IsPinned == pinned {
		return delta
	}
	updated := cached.Clone()
	updated.IsPinned = pinned
	m.messages.Add(updated)
	m.setPinnedLocked(conversationID, messageID, pinned)

	delta.MessageID = messageID
	if pinned {
		delta.PinnedMessageIDs = []string{messageID}
	} else {
		delta.UnpinnedMessageIDs = []string{messageID}
	}
	return delta
}

func (m *Manager) setPinnedLocked(conversationID, messageID string, pinned bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	conv, ok := m.conversations[conversationID]
	if !ok {
		return
	}
	if pinned {
		if _, known := conv.Messages[messageID]; known {
			conv.PinnedMessages[messageID] = struct{}{}
		}
	} else {
		delete(conv.PinnedMessages, messageID)
	}
}

// DeleteMessages removes the event's ids from the cache and the conversation
// record. When the event names no conversation, the target is the
// conversation whose message set overlaps the ids most; ties resolve to the
// lexicographically smallest conversation id.
func (m *Manager) DeleteMessages(ev *platform.Event) *models.ConversationDelta {
	delta := &models.ConversationDelta{}
	if ev == nil {
		return delta
	}
	ids := ev.DeletedIDs
	if len(ids) == 0 && ev.MessageID != "" {
		ids = []string{ev.MessageID}
	}
	if len(ids) == 0 {
		return delta
	}

	conversationID := ev.ConversationID
	if conversationID == "" {
		conversationID = m.bestMatch(ids)
	}
	if conversationID == "" {
		m.log.Debug("delete event matched no conversation", "ids", ids)
		return delta
	}

	unlock := m.lock(conversationID)
	defer unlock()

	m.mu.Lock()
	conv := m.conversations[conversationID]
	m.mu.Unlock()

	delta.ConversationID = conversationID
	for _, id := range ids {
		cached := m.messages.Get(conversationID, id)
		if cached == nil {
			continue
		}
		for _, attachmentID := range cached.Attachments {
			m.attachments.Release(attachmentID)
		}
		m.messages.Delete(conversationID, id)
		if conv != nil {
			delete(conv.Messages, id)
			delete(conv.PinnedMessages, id)
			for _, th := range conv.Threads {
				delete(th.Messages, id)
			}
		}
		delta.DeletedMessageIDs = append(delta.DeletedMessageIDs, id)
	}
	return delta
}

func (m *Manager) bestMatch(ids []string) string {
	m.mu.Lock()
	defer m.mu.Unlock()

	best, bestCount := "", 0
	for convID, conv := range m.conversations {
		count := 0
		for _, id := range ids {
			if _, ok := conv.Messages[id]; ok {
				count++
			}
		}
		if count > bestCount || (count == bestCount && count > 0 && convID < best) {
			best, bestCount = convID, count
		}
	}
	return best
}

// Migrate re-keys a conversation after a platform-initiated chat id change
// and returns the number of migrated messages.
func (m *Manager) Migrate(oldConversationID, newConversationID string) int {
	if oldConversationID == "" || newConversationID == "" || oldConversationID == newConversationID {
		return 0
	}
	first, second := oldConversationID, newConversationID
	if second < first {
		first, second = second, first
	}
	unlockFirst := m.lock(first)
	defer unlockFirst()
	unlockSecond := m.lock(second)
	defer unlockSecond()

	m.mu.Lock()
	if conv, ok := m.conversations[oldConversationID]; ok {
		conv.ConversationID = newConversationID
		m.conversations[newConversationID] = conv
		delete(m.conversations, oldConversationID)
	}
	m.mu.Unlock()

	moved := m.messages.Migrate(oldConversationID, newConversationID)
	m.log.Info("conversation migrated",
		"old_conversation_id", oldConversationID,
		"new_conversation_id", newConversationID,
		"messages", moved)
	return moved
}
