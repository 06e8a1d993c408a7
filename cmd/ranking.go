package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/bunchuq1122/COL-BOT/colbot"
	"github.com/spf13/cobra"
)

var rankingXLSX string

var rankingCmd = &cobra.Command{
	Use:   "ranking",
	Short: "Print the current level ranking from the configured store",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		out := cmd.OutOrStdout()

		gateway, closers, err := colbot.OpenGateway(
			ctx,
			cfg.Store,
			slog.Default(),
			cfg.HTTPClient,
			nil,
		)
		if err != nil {
			return fmt.Errorf("error initializing store: %w", err)
		}
		defer func() {
			for _, c := range closers {
				_ = c.Close()
			}
		}()

		w := colbot.NewWorkflows(
			colbot.WorkflowDeps{
				Ledger:  colbot.NewLedger(gateway),
				GuildID: cfg.Discord.GuildID,
				Guild:   *cfg.Guild,
			},
		)
		for _, chunk := range w.List(ctx) {
			fmt.Fprintln(out, chunk)
		}

		if rankingXLSX == "" {
			return nil
		}
		data, err := colbot.RankingSpreadsheet(w.Ranking(ctx, false))
		if err != nil {
			return err
		}
		if err = os.WriteFile(rankingXLSX, data, 0o644); err != nil {
			return fmt.Errorf("error writing %s: %w", rankingXLSX, err)
		}
		fmt.Fprintf(out, "Wrote %s\n", rankingXLSX)
		return nil
	},
}

//nolint:gochecknoinits // cobra registration
func init() {
	rootCmd.AddCommand(rankingCmd)

	rankingCmd.Flags().StringVar(&rankingXLSX, "xlsx", "", "Also write the ranking to this .xlsx file")
}
