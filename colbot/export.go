package colbot

import (
	"bytes"
	"fmt"

	"github.com/xuri/excelize/v2"
)

const (
	rankingSheetName         = "Ranking"
	rankingExportFileName    = "ranking.xlsx"
	rankingExportContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

var rankingSheetHeader = []any{
	"Rank", "Level", "Creator", "ID", "Votes", "Song", "Design", "Vibe", "Overall",
}

// RankingSpreadsheet renders the ranking as an xlsx workbook with a
// single sheet
func RankingSpreadsheet(ranked []RankedLevel) ([]byte, error) {
	f := excelize.NewFile()
	defer func() {
		_ = f.Close()
	}()

	sheet := f.GetSheetName(f.GetActiveSheetIndex())
	if err := f.SetSheetName(sheet, rankingSheetName); err != nil {
		return nil, fmt.Errorf("failed to rename sheet: %w", err)
	}
	sheet = rankingSheetName

	header := rankingSheetHeader
	if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
		return nil, fmt.Errorf("failed to write header: %w", err)
	}

	for idx, r := range ranked {
		axis, err := excelize.CoordinatesToCellName(1, idx+2)
		if err != nil {
			return nil, err
		}
		row := []any{
			r.Position,
			r.Name,
			r.Creator,
			r.ID,
			r.Votes,
			round2(r.Scores.Song),
			round2(r.Scores.Design),
			round2(r.Scores.Vibe),
			round2(r.Scores.Overall),
		}
		if err = f.SetSheetRow(sheet, axis, &row); err != nil {
			return nil, fmt.Errorf("failed to write row %d: %w", idx+2, err)
		}
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, fmt.Errorf("failed to write workbook: %w", err)
	}
	return buf.Bytes(), nil
}

func round2(v float64) float64 {
	return float64(int64(v*100+0.5)) / 100
}
