package colbot

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/lmittmann/tint"
)

const (
	sayUsageMessage       = "❌ Usage: !say [#channel or channelID] \"content\" \"title(optional)\" \"description(optional)\" \"imageURL(optional)\" \"color(optional)\""
	sayBadChannelMessage  = "❌ Provide a valid text channel mention or ID."
	saySendFailedMessage  = "❌ Failed to send message."
	sayBaseRoleMissingFmt = "Base role \"%s\" not found."
	sayTitlePrefix        = "📢 "
)

var (
	sayArgPattern   = regexp.MustCompile(`"([^"]+)"|(\S+)`)
	hexColorPattern = regexp.MustCompile(`(?i)^#([0-9A-F]{6}|[0-9A-F]{3})$`)
)

// ParseArgs splits s into arguments. Double-quoted runs are one
// argument, without the quotes.
func ParseArgs(s string) []string {
	var args []string
	for _, m := range sayArgPattern.FindAllStringSubmatch(s, -1) {
		switch {
		case m[1] != "":
			args = append(args, m[1])
		case m[2] != "":
			args = append(args, m[2])
		}
	}
	return args
}

// TextChannelChecker is implemented by notifiers that can tell whether
// a channel accepts messages
type TextChannelChecker interface {
	IsTextChannel(ctx context.Context, channelID string) bool
}

// SayRequest is a parsed `!say` command
type SayRequest struct {
	ChannelID    string
	Announcement Announcement
}

// ParseSay parses the `!say` arguments:
// channel, content, and optional title, footer, image URL and color.
func ParseSay(raw string) (SayRequest, error) {
	args := ParseArgs(raw)
	if len(args) < 2 {
		return SayRequest{}, newWorkflowError(ErrEmptyInput, sayUsageMessage, nil)
	}
	arg := func(i int) string {
		if i < len(args) {
			return strings.TrimSpace(args[i])
		}
		return ""
	}

	channelID := args[0]
	if m := channelMentionRegexp.FindStringSubmatch(channelID); m != nil {
		channelID = m[1]
	}
	if !userIDPattern.MatchString(channelID) {
		return SayRequest{}, newWorkflowError(ErrValidation, sayBadChannelMessage, nil)
	}

	a := Announcement{
		Description:  "**" + args[1] + "**",
		Footer:       arg(3),
		ThumbnailURL: arg(4),
		Color:        parseEmbedColor(arg(5)),
	}
	if title := arg(2); title != "" {
		a.Title = sayTitlePrefix + title
	}
	return SayRequest{ChannelID: channelID, Announcement: a}, nil
}

// parseEmbedColor parses #RGB or #RRGGBB, defaulting to blurple.
// Three-digit values are read as a plain hex number, not expanded.
func parseEmbedColor(s string) int {
	if !hexColorPattern.MatchString(s) {
		return colorSay
	}
	n, err := strconv.ParseInt(strings.TrimPrefix(s, "#"), 16, 32)
	if err != nil {
		return colorSay
	}
	return int(n)
}

// Say posts an announcement embed to another channel
func (w *Workflows) Say(ctx context.Context, c Caller, raw string) (err error) {
	defer func() { w.metrics.observeCommand("say", err) }()

	if err = w.guard.RequireAnnouncer(c); err != nil {
		var we *WorkflowError
		if errors.As(err, &we) && we.Message == managerRoleMissingMessage {
			return newWorkflowError(
				ErrPermissionDenied,
				fmt.Sprintf(sayBaseRoleMissingFmt, w.guild.ManagerRole),
				nil,
			)
		}
		return err
	}

	req, err := ParseSay(raw)
	if err != nil {
		return err
	}
	req.Announcement.Timestamp = w.now()

	if checker, ok := w.notifier.(TextChannelChecker); ok && !checker.IsTextChannel(ctx, req.ChannelID) {
		return newWorkflowError(ErrValidation, sayBadChannelMessage, nil)
	}

	if err = w.notifier.Announce(ctx, req.ChannelID, req.Announcement); err != nil {
		contextLogger(ctx, w.logger).ErrorContext(
			ctx,
			"!say send failed",
			"channel_id", req.ChannelID,
			tint.Err(err),
		)
		return newWorkflowError(ErrResolution, saySendFailedMessage, err)
	}
	w.react(ctx, c)
	return nil
}
