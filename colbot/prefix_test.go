package colbot

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParsePrefixCommand(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input  string
		want   PrefixCommand
		wantOK bool
	}{
		{input: "!accept 1234567890", want: PrefixCommand{Name: prefixAccept, Args: "1234567890"}, wantOK: true},
		{input: "  !AC   <#1234567890>  ", want: PrefixCommand{Name: prefixAccept, Args: "<#1234567890>"}, wantOK: true},
		{input: "!a", want: PrefixCommand{Name: prefixAccept}, wantOK: true},
		{input: "!rmv", want: PrefixCommand{Name: prefixRemove}, wantOK: true},
		{input: "!r", want: PrefixCommand{Name: prefixRemove}, wantOK: true},
		{input: "!revote 123\n456", want: PrefixCommand{Name: prefixRevote, Args: "123\n456"}, wantOK: true},
		{input: "!saveranked", want: PrefixCommand{Name: prefixSaveRanked}, wantOK: true},
		{input: "!say <#1> \"hi\"", want: PrefixCommand{Name: prefixSay, Args: "<#1> \"hi\""}, wantOK: true},
		{input: "!acceptance 123"},
		{input: "!removeall"},
		{input: "accept 123"},
		{input: ""},
	}

	for _, tc := range tests {
		got, ok := ParsePrefixCommand(tc.input)
		assert.Equal(t, tc.wantOK, ok, tc.input)
		assert.Equal(t, tc.want, got, tc.input)
	}
}
