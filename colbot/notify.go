package colbot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
)

// discordNotifier carries out workflow side effects against the
// discord API
type discordNotifier struct {
	session DiscordSessionHandler
	guildID string
	logger  *slog.Logger

	emojiMu sync.Mutex
	emojis  map[string]string
}

func newDiscordNotifier(session DiscordSessionHandler, guildID string, logger *slog.Logger) *discordNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &discordNotifier{
		session: session,
		guildID: guildID,
		logger:  logger,
		emojis:  map[string]string{},
	}
}

func announcementMessage(a Announcement) *discordgo.MessageSend {
	msg := &discordgo.MessageSend{Content: a.Content}
	if a.Title == "" && a.Description == "" && a.Footer == "" {
		return msg
	}
	embed := &discordgo.MessageEmbed{
		Title:       a.Title,
		URL:         a.URL,
		Description: a.Description,
		Color:       a.Color,
	}
	if a.ThumbnailURL != "" {
		embed.Thumbnail = &discordgo.MessageEmbedThumbnail{URL: a.ThumbnailURL}
	}
	if a.Footer != "" {
		embed.Footer = &discordgo.MessageEmbedFooter{Text: a.Footer}
	}
	if !a.Timestamp.IsZero() {
		embed.Timestamp = a.Timestamp.Format(time.RFC3339)
	}
	msg.Embeds = []*discordgo.MessageEmbed{embed}
	return msg
}

func (n *discordNotifier) Announce(ctx context.Context, channelID string, a Announcement) error {
	_, err := n.session.ChannelMessageSendComplex(
		channelID,
		announcementMessage(a),
		discordgo.WithContext(ctx),
	)
	return err
}

func (n *discordNotifier) React(ctx context.Context, channelID string, messageID string, emoji string) error {
	name := n.emojiAPIName(ctx, emoji)
	return n.session.MessageReactionAdd(channelID, messageID, name, discordgo.WithContext(ctx))
}

// emojiAPIName converts a custom emoji ID to the name:id form the
// reactions endpoint expects. Anything else is used as-is.
func (n *discordNotifier) emojiAPIName(ctx context.Context, emoji string) string {
	if !userIDPattern.MatchString(emoji) {
		return emoji
	}
	n.emojiMu.Lock()
	defer n.emojiMu.Unlock()
	if name, ok := n.emojis[emoji]; ok {
		return name
	}

	emojis, err := n.session.GuildEmojis(n.guildID, discordgo.WithContext(ctx))
	if err != nil {
		n.logger.WarnContext(ctx, "error fetching guild emojis", tint.Err(err))
		return emoji
	}
	for _, e := range emojis {
		if e.ID == emoji {
			name := e.APIName()
			n.emojis[emoji] = name
			return name
		}
	}
	n.logger.WarnContext(ctx, "reaction emoji not found in guild", "emoji_id", emoji)
	return emoji
}

// IsTextChannel reports whether channelID is a guild text or
// announcement channel
func (n *discordNotifier) IsTextChannel(ctx context.Context, channelID string) bool {
	ch, err := n.session.Channel(channelID, discordgo.WithContext(ctx))
	if err != nil || ch == nil {
		return false
	}
	return ch.Type == discordgo.ChannelTypeGuildText || ch.Type == discordgo.ChannelTypeGuildNews
}

// ResolveThread fetches a forum post's title and owner, and a
// thumbnail from its starter message
func (n *discordNotifier) ResolveThread(ctx context.Context, threadID string) (ThreadInfo, error) {
	ch, err := n.session.Channel(threadID, discordgo.WithContext(ctx))
	if err != nil {
		return ThreadInfo{}, fmt.Errorf("error fetching thread %s: %w", threadID, err)
	}
	if ch == nil {
		return ThreadInfo{}, fmt.Errorf("thread %s not found", threadID)
	}
	info := ThreadInfo{ID: ch.ID, Name: ch.Name, OwnerID: ch.OwnerID}

	// a forum post's starter message shares the thread's ID
	starter, err := n.session.ChannelMessage(threadID, threadID, discordgo.WithContext(ctx))
	if err != nil {
		n.logger.DebugContext(ctx, "no starter message", "thread_id", threadID, tint.Err(err))
		return info, nil
	}
	info.ThumbnailURL = messageThumbnail(starter)
	return info, nil
}

// messageThumbnail returns the first image attachment, else the first
// embed thumbnail or image
func messageThumbnail(m *discordgo.Message) string {
	if m == nil {
		return ""
	}
	for _, a := range m.Attachments {
		if a != nil && strings.HasPrefix(a.ContentType, "image/") {
			return a.URL
		}
	}
	for _, e := range m.Embeds {
		if e == nil {
			continue
		}
		if e.Thumbnail != nil && e.Thumbnail.URL != "" {
			return e.Thumbnail.URL
		}
		if e.Image != nil && e.Image.URL != "" {
			return e.Image.URL
		}
	}
	return ""
}

func (n *discordNotifier) GrantRole(ctx context.Context, userID string, roleID string) error {
	return n.session.GuildMemberRoleAdd(n.guildID, userID, roleID, discordgo.WithContext(ctx))
}

// guildRoles fetches all roles in the guild
func (n *discordNotifier) guildRoles(ctx context.Context) ([]Role, error) {
	roles, err := n.session.GuildRoles(n.guildID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("error fetching guild roles: %w", err)
	}
	out := make([]Role, 0, len(roles))
	for _, r := range roles {
		if r == nil {
			continue
		}
		out = append(out, Role{ID: r.ID, Name: r.Name, Position: r.Position})
	}
	return out, nil
}

// memberRoles maps a member's role IDs to guild roles
func memberRoles(roleIDs []string, guildRoles []Role) []Role {
	byID := make(map[string]Role, len(guildRoles))
	for _, r := range guildRoles {
		byID[r.ID] = r
	}
	roles := make([]Role, 0, len(roleIDs))
	for _, id := range roleIDs {
		if r, ok := byID[id]; ok {
			roles = append(roles, r)
		}
	}
	return roles
}

// callerFromInteraction builds a Caller for an interaction. Guild roles
// that can't be fetched leave the caller without roles, which fails
// closed in the guard.
func (n *discordNotifier) callerFromInteraction(ctx context.Context, i *discordgo.InteractionCreate) (Caller, error) {
	u := getDiscordUser(i)
	if u == nil {
		return Caller{}, errors.New("interaction has no user")
	}
	c := Caller{
		UserID:    u.ID,
		Username:  u.Username,
		ChannelID: i.ChannelID,
	}
	guildRoles, err := n.guildRoles(ctx)
	if err != nil {
		return c, err
	}
	c.GuildRoles = guildRoles
	if i.Member != nil {
		c.Roles = memberRoles(i.Member.Roles, guildRoles)
	}
	return c, nil
}

// callerFromMessage builds a Caller for a prefix command message
func (n *discordNotifier) callerFromMessage(ctx context.Context, m *discordgo.Message) (Caller, error) {
	if m.Author == nil {
		return Caller{}, errors.New("message has no author")
	}
	c := Caller{
		UserID:    m.Author.ID,
		Username:  m.Author.Username,
		ChannelID: m.ChannelID,
		MessageID: m.ID,
	}
	guildRoles, err := n.guildRoles(ctx)
	if err != nil {
		return c, err
	}
	c.GuildRoles = guildRoles

	member := m.Member
	if member == nil || len(member.Roles) == 0 {
		member, err = n.session.GuildMember(n.guildID, m.Author.ID, discordgo.WithContext(ctx))
		if err != nil {
			return c, fmt.Errorf("error fetching member: %w", err)
		}
	}
	if member != nil {
		c.Roles = memberRoles(member.Roles, guildRoles)
	}
	return c, nil
}
