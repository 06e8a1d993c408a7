package cmd

import (
	"bytes"
	"testing"

	"github.com/bunchuq1122/COL-BOT/colbot"
	"github.com/spf13/viper"
)

// executeRoot runs the root command with fresh config state and
// returns its combined output
func executeRoot(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Cleanup(
		func() {
			viper.Reset()
			cfg = colbot.DefaultConfig()
			initForce = false
			initFrom = ""
			rankingXLSX = ""
			customLineReader = nil
		},
	)
	initForce = false
	initFrom = ""
	rankingXLSX = ""

	currentOut := rootCmd.OutOrStdout()
	currentErr := rootCmd.ErrOrStderr()
	t.Cleanup(
		func() {
			rootCmd.SetOut(currentOut)
			rootCmd.SetErr(currentErr)
			rootCmd.SetArgs(nil)
		},
	)

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}
