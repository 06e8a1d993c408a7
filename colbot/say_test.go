package colbot

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseArgs(t *testing.T) {
	t.Parallel()
	assert.Equal(
		t,
		[]string{"<#123>", "hello world", "Title", "x"},
		ParseArgs(`<#123> "hello world" "Title" x`),
	)
	assert.Nil(t, ParseArgs("   "))
}

func TestParseSay(t *testing.T) {
	t.Parallel()

	req, err := ParseSay(`<#1234567890> "Big news" "Event" "see you there" "https://example.com/i.png" "#ff0000"`)
	require.NoError(t, err)
	assert.Equal(t, "1234567890", req.ChannelID)
	assert.Equal(t, "**Big news**", req.Announcement.Description)
	assert.Equal(t, sayTitlePrefix+"Event", req.Announcement.Title)
	assert.Equal(t, "see you there", req.Announcement.Footer)
	assert.Equal(t, "https://example.com/i.png", req.Announcement.ThumbnailURL)
	assert.Equal(t, 0xFF0000, req.Announcement.Color)

	req, err = ParseSay(`1234567890 "just content"`)
	require.NoError(t, err)
	assert.Empty(t, req.Announcement.Title)
	assert.Equal(t, colorSay, req.Announcement.Color)

	_, err = ParseSay(`<#1234567890>`)
	require.ErrorIs(t, err, ErrEmptyInput)
	assert.Equal(t, sayUsageMessage, UserMessage(err))

	_, err = ParseSay(`general "hello"`)
	require.ErrorIs(t, err, ErrValidation)
	assert.Equal(t, sayBadChannelMessage, UserMessage(err))
}

func TestParseEmbedColor(t *testing.T) {
	t.Parallel()
	assert.Equal(t, 0x00FF00, parseEmbedColor("#00ff00"))
	assert.Equal(t, 0xABC, parseEmbedColor("#abc"))
	assert.Equal(t, colorSay, parseEmbedColor("red"))
	assert.Equal(t, colorSay, parseEmbedColor(""))
	assert.Equal(t, colorSay, parseEmbedColor("#12345"))
}
