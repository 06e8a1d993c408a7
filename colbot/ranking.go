package colbot

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/lmittmann/tint"
	"golang.org/x/sync/errgroup"
)

const (
	noLevelsYetMessage       = "No levels yet."
	rankedDocMissingMessage  = "GOOGLE_RANKED_DOC_ID need env var."
	rankingSavedMessage      = "✅ Ranking has been saved!."
	rankingSaveFailedMessage = "❌ Google Docs save failed."
	threadLookupConcurrency  = 5
	rankingEntrySeparator    = "\n\n"
	rankingScoreLineIndent   = "   "
)

// RankedLevel is a scored level with its 1-based position
type RankedLevel struct {
	Position int    `json:"position"`
	ID       string `json:"id"`
	Name     string `json:"name"`
	Creator  string `json:"creator"`
	Votes    int    `json:"votes"`
	Scores   Scores `json:"scores"`
}

// Rank orders levels with at least one vote by descending overall
// score. Ties keep registry order.
func Rank(levels []Level) []RankedLevel {
	ranked := make([]RankedLevel, 0, len(levels))
	for _, l := range levels {
		scores, ok := l.Averages()
		if !ok {
			continue
		}
		ranked = append(
			ranked, RankedLevel{
				ID:      l.ID,
				Name:    l.DisplayName(),
				Creator: creatorMention(l.AuthorRef),
				Votes:   l.VoteCount(),
				Scores:  scores,
			},
		)
	}
	sort.SliceStable(
		ranked, func(i, j int) bool {
			return ranked[i].Scores.Overall > ranked[j].Scores.Overall
		},
	)
	for i := range ranked {
		ranked[i].Position = i + 1
	}
	return ranked
}

// FormatRanking renders the ranking report, one two-line entry per
// level, separated by blank lines
func FormatRanking(ranked []RankedLevel) string {
	entries := make([]string, len(ranked))
	for i, r := range ranked {
		entries[i] = fmt.Sprintf(
			"%d. %s by %s | %s\n%sSong: %.2f, Design: %.2f, Vibe: %.2f, Overall: %.2f",
			r.Position,
			r.Name,
			r.Creator,
			r.ID,
			rankingScoreLineIndent,
			r.Scores.Song,
			r.Scores.Design,
			r.Scores.Vibe,
			r.Scores.Overall,
		)
	}
	return strings.Join(entries, rankingEntrySeparator)
}

// Ranking returns the current ranking. With enrich set, names and
// creators are refreshed from the forum threads.
func (w *Workflows) Ranking(ctx context.Context, enrich bool) []RankedLevel {
	ranked := Rank(w.Levels(ctx))
	if enrich && len(ranked) > 0 {
		ids := make([]string, len(ranked))
		for i, r := range ranked {
			ids[i] = r.ID
		}
		infos := w.lookupThreads(ctx, ids)
		for i := range ranked {
			info, ok := infos[ranked[i].ID]
			if !ok {
				continue
			}
			if info.Name != "" {
				ranked[i].Name = info.Name
			}
			if info.OwnerID != "" {
				ranked[i].Creator = "<@" + info.OwnerID + ">"
			}
		}
	}
	return ranked
}

// List returns the ranking report for /list, split into chunks that
// fit in a discord message
func (w *Workflows) List(ctx context.Context) []string {
	ranked := w.Ranking(ctx, false)
	w.metrics.observeCommand("list", nil)
	if len(ranked) == 0 {
		return []string{noLevelsYetMessage}
	}
	return chunkMessage(FormatRanking(ranked), discordMaxMessageLength)
}

// RankingExport is the result of SaveRanked
type RankingExport struct {
	Report      string
	Spreadsheet []byte
}

// SaveRanked writes the ranking report to the ranked document and
// builds a spreadsheet of it
func (w *Workflows) SaveRanked(ctx context.Context, c Caller) (export RankingExport, err error) {
	defer func() { w.metrics.observeCommand("saveranked", err) }()

	if err = w.guard.RequireManager(c); err != nil {
		return export, err
	}
	if w.ranked == nil {
		return export, newWorkflowError(ErrPersistence, rankedDocMissingMessage, nil)
	}

	ranked := w.Ranking(ctx, true)
	if len(ranked) == 0 {
		return export, newWorkflowError(ErrNoLevelsAvailable, noLevelsYetMessage, nil)
	}
	export.Report = FormatRanking(ranked)

	if err = w.ranked.Put(ctx, []byte(export.Report)); err != nil {
		contextLogger(ctx, w.logger).ErrorContext(
			ctx,
			"error saving ranking",
			"backend", w.ranked.Name(),
			tint.Err(err),
		)
		return export, newWorkflowError(ErrPersistence, rankingSaveFailedMessage, err)
	}

	sheet, sheetErr := RankingSpreadsheet(ranked)
	if sheetErr != nil {
		contextLogger(ctx, w.logger).WarnContext(
			ctx,
			"error building ranking spreadsheet",
			tint.Err(sheetErr),
		)
	}
	export.Spreadsheet = sheet
	return export, nil
}

// lookupThreads resolves the given thread IDs concurrently. Failed
// lookups are left out of the result.
func (w *Workflows) lookupThreads(ctx context.Context, ids []string) map[string]ThreadInfo {
	results := make([]ThreadInfo, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(threadLookupConcurrency)
	for i, id := range ids {
		i, id := i, id
		g.Go(
			func() error {
				info, err := w.resolver.ResolveThread(gctx, id)
				if err != nil {
					contextLogger(ctx, w.logger).DebugContext(
						ctx,
						"thread lookup failed",
						"thread_id", id,
						tint.Err(err),
					)
					return nil
				}
				results[i] = info
				return nil
			},
		)
	}
	_ = g.Wait()

	infos := make(map[string]ThreadInfo, len(ids))
	for i, id := range ids {
		if results[i].ID != "" || results[i].Name != "" {
			infos[id] = results[i]
		}
	}
	return infos
}
