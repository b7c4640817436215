package announce

import (
	"context"
	"errors"
	"fmt"

	"github.com/bwmarrin/discordgo"
)

// embedColorGreen marks a target that became flanked.
const embedColorGreen = 0x2ECC71

// embedColorRed marks a target that is no longer flanked.
const embedColorRed = 0xE74C3C

// EmbedSender is the subset of [discordgo.Session] used by [Discord].
type EmbedSender interface {
	ChannelMessageSendEmbed(channelID string, embed *discordgo.MessageEmbed, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// Discord posts flanking changes as embeds to a text channel.
type Discord struct {
	session   EmbedSender
	channelID string
}

// Compile-time interface check.
var _ Announcer = (*Discord)(nil)

// NewDiscord creates a Discord announcer authenticated with a bot token.
// The session is only used for REST calls, so no gateway connection is
// opened.
func NewDiscord(token, channelID string) (*Discord, error) {
	if token == "" {
		return nil, errors.New("announce: discord token is required")
	}
	if channelID == "" {
		return nil, errors.New("announce: discord channel id is required")
	}
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("announce: create discord session: %w", err)
	}
	return NewDiscordWithSender(session, channelID), nil
}

// NewDiscordWithSender creates a Discord announcer over an existing sender.
func NewDiscordWithSender(s EmbedSender, channelID string) *Discord {
	return &Discord{session: s, channelID: channelID}
}

// Announce implements [Announcer].
func (d *Discord) Announce(ctx context.Context, e Event) error {
	if _, err := d.session.ChannelMessageSendEmbed(d.channelID, buildEmbed(e), discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("announce: discord channel %s: %w", d.channelID, err)
	}
	return nil
}

// buildEmbed renders e as a Discord embed.
func buildEmbed(e Event) *discordgo.MessageEmbed {
	if !e.Flanked {
		return &discordgo.MessageEmbed{
			Title:       "Flank broken",
			Description: e.String(),
			Color:       embedColorRed,
		}
	}
	return &discordgo.MessageEmbed{
		Title:       "Flanking",
		Description: e.String(),
		Color:       embedColorGreen,
		Fields: []*discordgo.MessageEmbedField{
			{Name: "Target", Value: e.Target, Inline: true},
			{Name: "Flankers", Value: fmt.Sprintf("%d", e.Count), Inline: true},
			{Name: "Bonus", Value: fmt.Sprintf("+%d", e.Bonus), Inline: true},
		},
	}
}
