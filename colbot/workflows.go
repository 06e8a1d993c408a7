package colbot

import (
	"context"
	"log/slog"
	"time"

	"github.com/lmittmann/tint"
)

const (
	colorAccepted = 0x00FF00
	colorRemoved  = 0xFF0000
	colorSay      = 0x5865F2
)

// ThreadInfo is what the bot can learn about a forum post
type ThreadInfo struct {
	ID           string
	Name         string
	OwnerID      string
	ThumbnailURL string
}

// ThreadResolver looks up forum posts by thread ID
type ThreadResolver interface {
	ResolveThread(ctx context.Context, threadID string) (ThreadInfo, error)
}

// Announcement is an embed (plus optional plain content) posted to a
// channel
type Announcement struct {
	Content      string
	Title        string
	URL          string
	Description  string
	ThumbnailURL string
	Footer       string
	Color        int
	Timestamp    time.Time
}

// Notifier posts announcements and reactions. Workflows log notifier
// errors, they never fail a command.
type Notifier interface {
	Announce(ctx context.Context, channelID string, a Announcement) error
	React(ctx context.Context, channelID string, messageID string, emoji string) error
}

type nopResolver struct{}

func (nopResolver) ResolveThread(_ context.Context, threadID string) (ThreadInfo, error) {
	return ThreadInfo{ID: threadID}, nil
}

type nopNotifier struct{}

func (nopNotifier) Announce(context.Context, string, Announcement) error { return nil }

func (nopNotifier) React(context.Context, string, string, string) error { return nil }

// WorkflowDeps are the collaborators of [Workflows]. Resolver and
// Notifier default to no-ops, Ranked to nil (ranking export disabled).
type WorkflowDeps struct {
	Ledger   *Ledger
	GuildID  string
	Guild    GuildConfig
	Resolver ThreadResolver
	Notifier Notifier
	Ranked   Backend
	Metrics  *Metrics
	Logger   *slog.Logger
	Now      func() time.Time
}

// Workflows implements the bot's commands, independent of how they
// were invoked. Every mutation goes through the Ledger.
type Workflows struct {
	ledger   *Ledger
	guard    *Guard
	guildID  string
	guild    GuildConfig
	resolver ThreadResolver
	notifier Notifier
	ranked   Backend
	metrics  *Metrics
	logger   *slog.Logger
	now      func() time.Time
}

func NewWorkflows(deps WorkflowDeps) *Workflows {
	w := &Workflows{
		ledger:   deps.Ledger,
		guard:    NewGuard(deps.Guild),
		guildID:  deps.GuildID,
		guild:    deps.Guild,
		resolver: deps.Resolver,
		notifier: deps.Notifier,
		ranked:   deps.Ranked,
		metrics:  deps.Metrics,
		logger:   deps.Logger,
		now:      deps.Now,
	}
	if w.resolver == nil {
		w.resolver = nopResolver{}
	}
	if w.notifier == nil {
		w.notifier = nopNotifier{}
	}
	if w.logger == nil {
		w.logger = slog.Default()
	}
	w.logger = w.logger.With(loggerNameKey, "workflow")
	if w.now == nil {
		w.now = time.Now
	}
	if w.guild.ReactionEmoji == "" {
		w.guild.ReactionEmoji = DefaultReactionEmoji
	}
	return w
}

// Guard returns the authorization guard built from the guild config
func (w *Workflows) Guard() *Guard {
	return w.guard
}

// Levels returns a snapshot of the pending levels
func (w *Workflows) Levels(ctx context.Context) []Level {
	return w.ledger.View(ctx).ListAll()
}

func (w *Workflows) announceChannel(fallback string) string {
	if w.guild.VoteAnnounceChannelID != "" {
		return w.guild.VoteAnnounceChannelID
	}
	return fallback
}

func (w *Workflows) announce(ctx context.Context, channelID string, a Announcement) {
	if channelID == "" {
		return
	}
	if err := w.notifier.Announce(ctx, channelID, a); err != nil {
		contextLogger(ctx, w.logger).WarnContext(
			ctx,
			"error sending announcement",
			"channel_id", channelID,
			"title", a.Title,
			tint.Err(err),
		)
	}
}

func (w *Workflows) react(ctx context.Context, c Caller) {
	if c.ChannelID == "" || c.MessageID == "" {
		return
	}
	if err := w.notifier.React(ctx, c.ChannelID, c.MessageID, w.guild.ReactionEmoji); err != nil {
		contextLogger(ctx, w.logger).WarnContext(
			ctx,
			"error adding reaction",
			"channel_id", c.ChannelID,
			"message_id", c.MessageID,
			tint.Err(err),
		)
	}
}
