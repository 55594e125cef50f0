package conversation

import (
	"io"
	"log/slog"
	"reflect"
	"testing"

	"github.com/conduitmsg/conduit/internal/cache"
	"github.com/conduitmsg/conduit/internal/config"
	"github.com/conduitmsg/conduit/internal/platform"
	"github.com/conduitmsg/conduit/pkg/models"
)

func newTestManager() *Manager {
	cfg := config.CachingConfig{
		MaxMessagesPerConversation: 100,
		MaxTotalMessages:           1000,
		MaxAgeHours:                24,
	}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewManager(log,
		cache.NewMessageCache(cfg),
		cache.NewAttachmentCache(cfg, nil),
		cache.NewUserCache(cfg))
}

func incoming(conv, id, text string, ts int64) *platform.Message {
	return &platform.Message{
		MessageID:        id,
		ConversationID:   conv,
		ConversationType: models.ConversationGroup,
		Sender:           models.UserInfo{UserID: "u1", Username: "ada"},
		Text:             text,
		Timestamp:        ts,
	}
}

func TestAddMessage_FetchHistoryLatchesOnce(t *testing.T) {
	m := newTestManager()

	first := m.AddMessage(incoming("c1", "1", "hi", 1000))
	if !first.FetchHistory || !first.JustStarted {
		t.Fatalf("first delta = %+v, want fetch_history and just_started", first)
	}
	second := m.AddMessage(incoming("c1", "2", "again", 2000))
	if second.FetchHistory || second.JustStarted {
		t.Fatalf("second delta = %+v, want no fetch_history", second)
	}
	if len(second.AddedMessages) != 1 || second.AddedMessages[0].MessageID != "2" {
		t.Fatalf("added = %+v", second.AddedMessages)
	}
}

func TestAddMessage_WithoutIdentityIsDropped(t *testing.T) {
	m := newTestManager()

	if d := m.AddMessage(&platform.Message{Text: "orphan"}); !d.Empty() {
		t.Fatalf("delta = %+v, want empty", d)
	}
	if d := m.AddMessage(nil); !d.Empty() {
		t.Fatalf("nil message delta = %+v, want empty", d)
	}
}

func TestAddMessage_ReplyThreadsUnderChainRoot(t *testing.T) {
	m := newTestManager()

	m.AddMessage(incoming("c1", "root", "start", 1000))
	reply := incoming("c1", "r1", "first reply", 2000)
	reply.ReplyToMessageID = "root"
	m.AddMessage(reply)

	deep := incoming("c1", "r2", "second reply", 3000)
	deep.ReplyToMessageID = "r1"
	delta := m.AddMessage(deep)

	if got := delta.AddedMessages[0].ThreadID; got != "root" {
		t.Fatalf("thread id = %q, want root of reply chain", got)
	}
	conv := m.Get("c1")
	if _, ok := conv.Threads["root"]; !ok {
		t.Fatal("thread record should exist under the chain root")
	}
	if _, ok := conv.Threads["root"].Messages["r2"]; !ok {
		t.Fatal("thread should contain the reply")
	}
}

func TestAddMessage_ThreadRootOnlyForCachedMessage(t *testing.T) {
	m := newTestManager()

	// Message-id thread: the reply chain root is a cached message.
	m.AddMessage(incoming("c1", "root", "start", 1000))
	reply := incoming("c1", "r1", "reply", 2000)
	reply.ReplyToMessageID = "root"
	m.AddMessage(reply)
	if got := m.Get("c1").Threads["root"].RootMessageID; got != "root" {
		t.Fatalf("root = %q, want the cached chain root", got)
	}

	// Topic thread: the thread id names a topic, never a message.
	topic := incoming("c2", "100", "topic post", 3000)
	topic.ThreadID = "deploys"
	m.AddMessage(topic)
	th := m.Get("c2").Threads["deploys"]
	if th == nil {
		t.Fatal("topic thread record should exist")
	}
	if th.RootMessageID != "" {
		t.Fatalf("topic thread root = %q, want empty", th.RootMessageID)
	}
	if _, ok := th.Messages["100"]; !ok {
		t.Fatal("topic thread should contain the message")
	}
}

func TestAddMessage_NativeThreadIDWins(t *testing.T) {
	m := newTestManager()

	msg := incoming("c1", "1", "topic post", 1000)
	msg.ThreadID = "topic-42"
	msg.ReplyToMessageID = "999"
	delta := m.AddMessage(msg)

	if got := delta.AddedMessages[0].ThreadID; got != "topic-42" {
		t.Fatalf("thread id = %q, want native topic-42", got)
	}
}

func TestAddMessage_Mentions(t *testing.T) {
	m := newTestManager()
	m.SetSelf("bot-1")

	direct := incoming("c1", "1", "hey @bot", 1000)
	direct.MentionedUserIDs = []string{"u9", "bot-1"}
	if got := m.AddMessage(direct).AddedMessages[0].Mentions; !reflect.DeepEqual(got, []string{"bot-1"}) {
		t.Fatalf("explicit mention = %v", got)
	}

	own := incoming("c1", "2", "bot says", 2000)
	own.Sender = models.UserInfo{UserID: "bot-1", IsBot: true}
	m.AddMessage(own)
	reply := incoming("c1", "3", "re: bot", 3000)
	reply.ReplyToMessageID = "2"
	if got := m.AddMessage(reply).AddedMessages[0].Mentions; !reflect.DeepEqual(got, []string{"bot-1"}) {
		t.Fatalf("reply-to-bot mention = %v", got)
	}

	atAll := incoming("c1", "4", "@everyone", 4000)
	atAll.AtAll = true
	if got := m.AddMessage(atAll).AddedMessages[0].Mentions; !reflect.DeepEqual(got, []string{models.MentionAll}) {
		t.Fatalf("at-all mention = %v", got)
	}

	plain := incoming("c1", "5", "nothing", 5000)
	if got := m.AddMessage(plain).AddedMessages[0].Mentions; len(got) != 0 {
		t.Fatalf("plain message mentions = %v", got)
	}
}

func TestUpdateMessage_EditChangesText(t *testing.T) {
	m := newTestManager()
	m.AddMessage(incoming("c1", "1", "before", 1000))

	edit := incoming("c1", "1", "after", 1000)
	edit.EditTimestamp = 2000
	delta := m.UpdateMessage(&platform.Event{Type: platform.IncomingEditedMessage, Message: edit})

	if len(delta.UpdatedMessages) != 1 || delta.UpdatedMessages[0].Text != "after" {
		t.Fatalf("updated = %+v", delta.UpdatedMessages)
	}
	cached := m.Messages().Get("c1", "1")
	if cached.Text != "after" || !cached.Edited || cached.EditTimestamp != 2000 {
		t.Fatalf("cached after edit = %+v", cached)
	}
}

func TestUpdateMessage_EqualTextIsNotAnEdit(t *testing.T) {
	m := newTestManager()
	m.AddMessage(incoming("c1", "1", "same", 1000))

	delta := m.UpdateMessage(&platform.Event{
		Type:    platform.IncomingEditedMessage,
		Message: incoming("c1", "1", "same", 1000),
	})
	if !delta.Empty() {
		t.Fatalf("delta = %+v, want empty for metadata-only resend", delta)
	}
	if m.Messages().Get("c1", "1").Edited {
		t.Fatal("message should not be marked edited")
	}
}

func TestUpdateMessage_EditFlipsPin(t *testing.T) {
	m := newTestManager()
	m.AddMessage(incoming("c1", "111222333", "pin me", 1000))

	edit := incoming("c1", "111222333", "pin me", 1000)
	edit.IsPinned = true
	edit.PinStateKnown = true
	delta := m.UpdateMessage(&platform.Event{Type: platform.IncomingEditedMessage, Message: edit})

	if len(delta.UpdatedMessages) != 1 || delta.UpdatedMessages[0].MessageID != "111222333" {
		t.Fatalf("updated = %+v, want the pinned message", delta.UpdatedMessages)
	}
	if !reflect.DeepEqual(delta.PinnedMessageIDs, []string{"111222333"}) {
		t.Fatalf("pinned ids = %v", delta.PinnedMessageIDs)
	}
	if !m.Messages().Get("c1", "111222333").IsPinned {
		t.Fatal("cached message should be pinned")
	}
	if _, ok := m.Get("c1").PinnedMessages["111222333"]; !ok {
		t.Fatal("conversation pin set should contain the message")
	}
}

func TestUpdateMessage_ReactionSnapshotRemoval(t *testing.T) {
	m := newTestManager()
	seed := incoming("c1", "m1", "hello", 1000)
	seed.Reactions = map[string]int{"👍": 1}
	m.AddMessage(seed)

	edit := incoming("c1", "m1", "hello", 1000)
	edit.Reactions = map[string]int{}
	delta := m.UpdateMessage(&platform.Event{Type: platform.IncomingEditedMessage, Message: edit})

	if !reflect.DeepEqual(delta.RemovedReactions, []string{"thumbs_up"}) {
		t.Fatalf("removed = %v", delta.RemovedReactions)
	}
	if len(delta.UpdatedMessages) != 0 {
		t.Fatal("reaction-only change must not produce a text update")
	}
	if got := m.Messages().Get("c1", "m1").Reactions; len(got) != 0 {
		t.Fatalf("reactions = %v, want empty", got)
	}
}

func TestUpdateMessage_ReactionFold(t *testing.T) {
	m := newTestManager()
	m.AddMessage(incoming("c1", "m1", "hello", 1000))

	apply := func(t platform.IncomingType, emoji string) {
		m.UpdateMessage(&platform.Event{Type: t, ConversationID: "c1", MessageID: "m1", Emoji: emoji})
	}
	apply(platform.IncomingReactionAdded, "👍")
	apply(platform.IncomingReactionAdded, "👍")
	apply(platform.IncomingReactionAdded, "🎉")
	apply(platform.IncomingReactionRemoved, "👍")

	got := m.Messages().Get("c1", "m1").Reactions
	want := map[string]int{"thumbs_up": 1, "party_popper": 1}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("reactions = %v, want %v", got, want)
	}

	apply(platform.IncomingReactionRemoved, "👍")
	if got := m.Messages().Get("c1", "m1").Reactions; got["thumbs_up"] != 0 {
		t.Fatalf("reactions = %v, want no zero-count keys", got)
	}
}

func TestUpdateMessage_PinForUncachedMessageIsSuppressed(t *testing.T) {
	m := newTestManager()
	m.AddMessage(incoming("c1", "1", "hi", 1000))

	delta := m.UpdateMessage(&platform.Event{
		Type:           platform.IncomingPinnedMessage,
		ConversationID: "c1",
		MessageID:      "evicted",
	})
	if delta.ConversationID != "c1" || !delta.Empty() {
		t.Fatalf("delta = %+v, want suppressible conversation-only delta", delta)
	}
}

func TestUpdateMessage_PinnedSubsetOfMessages(t *testing.T) {
	m := newTestManager()
	m.AddMessage(incoming("c1", "1", "a", 1000))
	m.AddMessage(incoming("c1", "2", "b", 2000))

	m.UpdateMessage(&platform.Event{Type: platform.IncomingPinnedMessage, ConversationID: "c1", MessageID: "2"})
	m.DeleteMessages(&platform.Event{Type: platform.IncomingDeletedMessage, ConversationID: "c1", DeletedIDs: []string{"2"}})

	conv := m.Get("c1")
	for id := range conv.PinnedMessages {
		if _, ok := conv.Messages[id]; !ok {
			t.Fatalf("pinned id %q not in message set", id)
		}
	}
}

func TestDeleteMessages_BestMatch(t *testing.T) {
	m := newTestManager()
	m.AddMessage(incoming("convA", "123", "a", 1000))
	m.AddMessage(incoming("convA", "500", "b", 2000))
	m.AddMessage(incoming("convB", "600", "c", 3000))

	delta := m.DeleteMessages(&platform.Event{
		Type:       platform.IncomingDeletedMessage,
		DeletedIDs: []string{"123"},
	})

	if delta.ConversationID != "convA" {
		t.Fatalf("resolved conversation = %q, want convA", delta.ConversationID)
	}
	if !reflect.DeepEqual(delta.DeletedMessageIDs, []string{"123"}) {
		t.Fatalf("deleted = %v", delta.DeletedMessageIDs)
	}
	if m.Messages().Get("convA", "500") == nil || m.Messages().Get("convB", "600") == nil {
		t.Fatal("unrelated messages must survive")
	}
	if m.Messages().Get("convA", "123") != nil {
		t.Fatal("deleted message still cached")
	}
}

func TestDeleteMessages_TieBreaksLexicographically(t *testing.T) {
	m := newTestManager()
	m.AddMessage(incoming("zeta", "42", "z", 1000))
	m.AddMessage(incoming("alpha", "42", "a", 2000))

	delta := m.DeleteMessages(&platform.Event{
		Type:       platform.IncomingDeletedMessage,
		DeletedIDs: []string{"42"},
	})
	if delta.ConversationID != "alpha" {
		t.Fatalf("resolved conversation = %q, want alpha", delta.ConversationID)
	}
}

func TestDeleteMessages_NoMatchIsEmpty(t *testing.T) {
	m := newTestManager()
	m.AddMessage(incoming("c1", "1", "hi", 1000))

	delta := m.DeleteMessages(&platform.Event{
		Type:       platform.IncomingDeletedMessage,
		DeletedIDs: []string{"nope"},
	})
	if !delta.Empty() {
		t.Fatalf("delta = %+v, want empty", delta)
	}
}

func TestMigrate_RekeysConversationAndMessages(t *testing.T) {
	m := newTestManager()
	m.AddMessage(incoming("old", "1", "hi", 1000))
	m.AddMessage(incoming("old", "2", "ho", 2000))

	if moved := m.Migrate("old", "new"); moved != 2 {
		t.Fatalf("moved = %d, want 2", moved)
	}
	if m.Get("old") != nil {
		t.Fatal("old conversation record should be gone")
	}
	conv := m.Get("new")
	if conv == nil || conv.ConversationID != "new" {
		t.Fatalf("new conversation = %+v", conv)
	}
	if m.Messages().Get("new", "1") == nil {
		t.Fatal("messages should be re-keyed")
	}
}

func TestDiffReactions(t *testing.T) {
	added, removed := DiffReactions(
		map[string]int{"thumbs_up": 2, "fire": 1, "rocket": 1},
		map[string]int{"thumbs_up": 3, "fire": 0, "party_popper": 1},
	)
	if !reflect.DeepEqual(added, []string{"party_popper", "thumbs_up"}) {
		t.Fatalf("added = %v", added)
	}
	if !reflect.DeepEqual(removed, []string{"fire", "rocket"}) {
		t.Fatalf("removed = %v", removed)
	}
}
