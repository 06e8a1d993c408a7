package colbot

import (
	"context"
	"fmt"
	"strings"
)

const (
	noLevelsToRemoveMessage = "No levels to remove."
	removalReplyMessage     = "✅ Level **%s** has been removed."
	emptyReasonMessage      = "❌ Please provide a reason for removal."
	revoteUsageMessage      = "Usage: !revote [postId]"
	revoteReplyMessage      = "Votes for %s have been reset and voters cleared."
	revoteAnnounceMessage   = "🔄 Voting for **%s** (%s) has been reset by <@%s>. Please vote again using /vote!"
	removedDescription      = "Its. sad"
)

// RemovalMenu returns select options for the first 25 pending levels,
// labelled with their current thread titles where those resolve
func (w *Workflows) RemovalMenu(ctx context.Context, c Caller) (options []MenuOption, err error) {
	defer func() { w.metrics.observeCommand("remove_menu", err) }()

	if err = w.guard.RequireManager(c); err != nil {
		return nil, err
	}
	levels := w.Levels(ctx)
	if len(levels) == 0 {
		return nil, newWorkflowError(ErrNoLevelsAvailable, noLevelsToRemoveMessage, nil)
	}
	levels = levels[:min(len(levels), maxSelectOptions)]

	ids := make([]string, len(levels))
	for i, l := range levels {
		ids[i] = l.ID
	}
	labels := map[string]string{}
	for id, info := range w.lookupThreads(ctx, ids) {
		labels[id] = info.Name
	}
	return levelMenuOptions(levels, labels), nil
}

// Remove deletes the level and announces the removal with reason
func (w *Workflows) Remove(ctx context.Context, c Caller, levelID string, reason string) (reply string, err error) {
	defer func() { w.metrics.observeCommand("remove", err) }()

	if err = w.guard.RequireManager(c); err != nil {
		return "", err
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return "", newWorkflowError(ErrEmptyInput, emptyReasonMessage, nil)
	}

	var removed Level
	err = w.ledger.Update(
		ctx, func(reg *Registry) error {
			level, ok := reg.Remove(levelID)
			if !ok {
				return newWorkflowError(ErrNotFound, levelNotFoundMessage, nil)
			}
			removed = level
			return nil
		},
	)
	if err != nil {
		return "", err
	}
	contextLogger(ctx, w.logger).InfoContext(
		ctx,
		"level removed",
		"level", removed,
		"reason", reason,
		"caller", c,
	)

	w.announce(
		ctx, w.announceChannel(c.ChannelID), Announcement{
			Title:        fmt.Sprintf("'%s' has been removed", removed.DisplayName()),
			Description:  removedDescription,
			Footer:       "reason : " + reason,
			ThumbnailURL: w.guild.RemoveThumbnailURL,
			Color:        colorRemoved,
			Timestamp:    w.now(),
		},
	)
	return fmt.Sprintf(removalReplyMessage, removed.DisplayName()), nil
}

// Revote clears all votes on a level, keeping its identity, and asks
// the voting channel to vote again
func (w *Workflows) Revote(ctx context.Context, c Caller, levelID string) (reply string, err error) {
	defer func() { w.metrics.observeCommand("revote", err) }()

	if err = w.guard.RequireManager(c); err != nil {
		return "", err
	}
	levelID = strings.TrimSpace(levelID)
	if levelID == "" {
		return "", newWorkflowError(ErrEmptyInput, revoteUsageMessage, nil)
	}

	var reset Level
	err = w.ledger.Update(
		ctx, func(reg *Registry) error {
			level, ok := reg.FindByID(levelID)
			if !ok {
				return newWorkflowError(ErrNotFound, levelNotFoundMessage, nil)
			}
			level.resetVotes()
			reset = level.clone()
			return nil
		},
	)
	if err != nil {
		return "", err
	}
	contextLogger(ctx, w.logger).InfoContext(ctx, "votes reset", "level", reset, "caller", c)

	w.announce(
		ctx, w.guild.VotingChannelID, Announcement{
			Content: fmt.Sprintf(
				revoteAnnounceMessage,
				reset.DisplayName(),
				reset.ID,
				c.UserID,
			),
		},
	)
	return fmt.Sprintf(revoteReplyMessage, reset.DisplayName()), nil
}
