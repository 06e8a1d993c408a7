package colbot

import (
	"context"
	"fmt"
	"regexp"

	"github.com/lmittmann/tint"
)

const (
	acceptUsageMessage    = "Usage: !accept [thread link or threadID]"
	alreadyAcceptedReply  = "This thread is already accepted."
	acceptedFooterMessage = "Use /vote for This COOL Level!"
)

var (
	userMentionPattern = regexp.MustCompile(`^<@!?(\d+)>$`)
	userIDPattern      = regexp.MustCompile(`^\d+$`)
)

// Accept adds the forum post referenced by ref to the pending levels,
// then announces it. Thread lookup failures only degrade the stored
// name and thumbnail.
func (w *Workflows) Accept(ctx context.Context, c Caller, ref string) (level Level, err error) {
	defer func() { w.metrics.observeCommand("accept", err) }()
	logger := contextLogger(ctx, w.logger)

	if err = w.guard.RequireManager(c); err != nil {
		return level, err
	}
	if ref == "" {
		return level, newWorkflowError(ErrEmptyInput, acceptUsageMessage, nil)
	}

	threadID, err := ParseThreadReference(ref, w.guild.ForumChannelID)
	if err != nil {
		return level, err
	}

	// skip the thread lookup when the level is already pending
	if _, exists := w.ledger.View(ctx).FindByID(threadID); exists {
		return level, newWorkflowError(ErrAlreadyAccepted, alreadyAcceptedReply, nil)
	}

	info, resolveErr := w.resolver.ResolveThread(ctx, threadID)
	if resolveErr != nil {
		logger.WarnContext(
			ctx,
			"unable to resolve thread, using defaults",
			"thread_id", threadID,
			tint.Err(resolveErr),
		)
		info = ThreadInfo{ID: threadID}
	}

	creator := ""
	if info.OwnerID != "" {
		creator = "<@" + info.OwnerID + ">"
	}
	level = NewLevel(threadID, info.Name, creator, info.ThumbnailURL)

	err = w.ledger.Update(
		ctx, func(reg *Registry) error {
			if _, exists := reg.FindByID(threadID); exists {
				return newWorkflowError(ErrAlreadyAccepted, alreadyAcceptedReply, nil)
			}
			return reg.Insert(level)
		},
	)
	if err != nil {
		return level, err
	}
	logger.InfoContext(ctx, "level accepted", "level", level, "caller", c)

	w.announce(ctx, w.announceChannel(c.ChannelID), w.acceptAnnouncement(level))
	w.react(ctx, c)
	return level, nil
}

func (w *Workflows) acceptAnnouncement(level Level) Announcement {
	parent := w.guild.ForumChannelID
	if parent == "" {
		parent = w.guildID
	}
	footer := acceptedFooterMessage
	if role := w.guild.VotingNotificationRoleID; role != "" {
		footer += "<@&" + role + ">"
	}
	return Announcement{
		Title: fmt.Sprintf("'%s' | has been accepted!", level.DisplayName()),
		URL: fmt.Sprintf(
			"https://discord.com/channels/%s/%s/%s",
			w.guildID,
			parent,
			level.ID,
		),
		Description:  "by " + creatorMention(level.AuthorRef),
		ThumbnailURL: level.ThumbnailURL,
		Footer:       footer,
		Color:        colorAccepted,
		Timestamp:    w.now(),
	}
}

// creatorMention renders an author reference as a mention. Bare user
// IDs are wrapped, anything else is kept, and empty becomes "Unknown".
func creatorMention(authorRef string) string {
	switch {
	case authorRef == "":
		return "Unknown"
	case userMentionPattern.MatchString(authorRef):
		return authorRef
	case userIDPattern.MatchString(authorRef):
		return "<@" + authorRef + ">"
	default:
		return authorRef
	}
}
