package discord

import (
	"github.com/bwmarrin/discordgo"
)

// GatewayClient is the slice of the discordgo session the driver uses,
// extracted for mock injection in tests.
type GatewayClient interface {
	Open() error
	Close() error
	AddHandler(handler any) func()

	ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageEdit(channelID, messageID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageDelete(channelID, messageID string, options ...discordgo.RequestOption) error
	MessageReactionAdd(channelID, messageID, emojiID string, options ...discordgo.RequestOption) error
	MessageReactionRemove(channelID, messageID, emojiID, userID string, options ...discordgo.RequestOption) error
	ChannelMessagePin(channelID, messageID string, options ...discordgo.RequestOption) error
	ChannelMessageUnpin(channelID, messageID string, options ...discordgo.RequestOption) error
	ChannelMessages(channelID string, limit int, beforeID, afterID, aroundID string, options ...discordgo.RequestOption) ([]*discordgo.Message, error)
	User(userID string, options ...discordgo.RequestOption) (*discordgo.User, error)
}

var _ GatewayClient = (*discordgo.Session)(nil)
