package models

// AdapterType identifies the upstream platform an adapter process bridges.
type AdapterType string

const (
	AdapterTelegram       AdapterType = "telegram"
	AdapterDiscord        AdapterType = "discord"
	AdapterDiscordWebhook AdapterType = "discord_webhook"
	AdapterSlack          AdapterType = "slack"
	AdapterZulip          AdapterType = "zulip"
	AdapterTextFile       AdapterType = "textfile"
	AdapterShell          AdapterType = "shell"
)

// ConversationType characterizes an upstream scope in which messages are ordered.
type ConversationType string

const (
	ConversationPrivate     ConversationType = "private"
	ConversationGroup       ConversationType = "group"
	ConversationChannel     ConversationType = "channel"
	ConversationDM          ConversationType = "dm"
	ConversationThread      ConversationType = "thread"
	ConversationTextChannel ConversationType = "text_channel"
)

// IsDirect reports whether the conversation is a one-to-one chat.
func (t ConversationType) IsDirect() bool {
	return t == ConversationPrivate || t == ConversationDM
}
