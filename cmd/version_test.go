package cmd

import (
	"fmt"
	"testing"

	"github.com/bunchuq1122/COL-BOT/colbot"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVersionCommand(t *testing.T) {
	originalVersion := colbot.Version
	originalCommitSHA := colbot.CommitSHA
	originalBuildTime := colbot.BuildTime

	t.Cleanup(
		func() {
			colbot.Version = originalVersion
			colbot.CommitSHA = originalCommitSHA
			colbot.BuildTime = originalBuildTime
		},
	)

	colbot.Version = "1.0.0"
	colbot.CommitSHA = "abc123"
	colbot.BuildTime = "2025-08-01T12:00:00Z"

	output, err := executeRoot(t, "version")
	require.NoError(t, err)

	expected := fmt.Sprintf(
		"version=%s commit=%s built: %s",
		colbot.Version,
		colbot.CommitSHA,
		colbot.BuildTime,
	)
	assert.Equal(t, expected, output)
}
