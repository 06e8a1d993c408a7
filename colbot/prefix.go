package colbot

import (
	"strings"
	"unicode"
)

const (
	prefixAccept     = "accept"
	prefixRevote     = "revote"
	prefixRemove     = "remove"
	prefixSaveRanked = "saveranked"
	prefixSay        = "say"
)

var prefixAliases = map[string]string{
	"!accept":     prefixAccept,
	"!ac":         prefixAccept,
	"!a":          prefixAccept,
	"!revote":     prefixRevote,
	"!remove":     prefixRemove,
	"!rmv":        prefixRemove,
	"!r":          prefixRemove,
	"!saveranked": prefixSaveRanked,
	"!say":        prefixSay,
}

// PrefixCommand is a parsed `!command args` message
type PrefixCommand struct {
	Name string
	Args string
}

// ParsePrefixCommand matches the first whitespace-delimited token of
// content against the known commands and aliases. The rest of the
// message, trimmed, is returned as Args.
func ParsePrefixCommand(content string) (PrefixCommand, bool) {
	content = strings.TrimSpace(content)
	if !strings.HasPrefix(content, "!") {
		return PrefixCommand{}, false
	}
	token, rest := content, ""
	if i := strings.IndexFunc(content, unicode.IsSpace); i >= 0 {
		token, rest = content[:i], content[i:]
	}
	name, ok := prefixAliases[strings.ToLower(token)]
	if !ok {
		return PrefixCommand{}, false
	}
	return PrefixCommand{Name: name, Args: strings.TrimSpace(rest)}, true
}
