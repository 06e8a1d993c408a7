package colbot

import (
	"regexp"
	"strings"
)

const (
	channelLinkMessage      = "❌ This is a channel link. Provide thread link or ID."
	invalidReferenceMessage = "❌ Invalid thread link or ID."
)

var (
	threadIDPattern      = regexp.MustCompile(`^\d{10,}$`)
	channelMentionRegexp = regexp.MustCompile(`^<#(\d+)>$`)
	threadLinkPattern    = regexp.MustCompile(`discord\.com/channels/(\d+)/(\d+)/(\d+)`)
	channelLinkPattern   = regexp.MustCompile(`discord\.com/channels/(\d+)/(\d+)/?$`)
)

// ParseThreadReference extracts a thread ID from a raw ID, a channel
// mention or a message/thread link.
//
// For a three-segment link, the last segment is used when the middle
// one is the forum channel (a link to a post inside the forum), and the
// middle one otherwise (a link to a message inside the thread).
func ParseThreadReference(input string, forumChannelID string) (string, error) {
	ref := strings.TrimSpace(input)
	if ref == "" {
		return "", newWorkflowError(ErrResolution, invalidReferenceMessage, nil)
	}

	if threadIDPattern.MatchString(ref) {
		return ref, nil
	}
	if m := channelMentionRegexp.FindStringSubmatch(ref); m != nil {
		return m[1], nil
	}
	if m := threadLinkPattern.FindStringSubmatch(ref); m != nil {
		channelID, threadID := m[2], m[3]
		if forumChannelID != "" && channelID == forumChannelID {
			return threadID, nil
		}
		return channelID, nil
	}
	if channelLinkPattern.MatchString(ref) {
		return "", newWorkflowError(ErrResolution, channelLinkMessage, nil)
	}
	return "", newWorkflowError(ErrResolution, invalidReferenceMessage, nil)
}
