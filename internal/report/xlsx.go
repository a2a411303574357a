package report

import (
	"fmt"
	"path/filepath"

	"github.com/xuri/excelize/v2"

	"wowmarket/internal/service"
)

const (
	sheetSummary = "Summary"
	sheetStages  = "Stages"
	sheetFailed  = "Failures"
)

// WriteXLSX writes the same data as WriteMarkdown as a workbook with one
// sheet per section.
func WriteXLSX(dir string, r service.RunReport) (string, error) {
	dir, err := ensureDir(dir)
	if err != nil {
		return "", err
	}
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	if err := f.SetSheetName("Sheet1", sheetSummary); err != nil {
		return "", err
	}
	summary := [][]any{
		{"Run", r.RunID},
		{"Trigger", r.Trigger},
		{"Started", r.StartedAt.UTC().Format("2006-01-02 15:04:05")},
		{"Duration (s)", r.Duration().Seconds()},
		{"Success", r.Success},
		{"Error", r.Error},
		{"API retries", r.APIRetries},
		{"Commodity value", FormatGold(r.CommodityValue)},
		{"Commodity value (copper)", r.CommodityValue.String()},
		{"Active auctions", r.AuctionsActive},
		{"Deactivated auctions", r.AuctionsDeactivated},
	}
	if err := writeRows(f, sheetSummary, summary); err != nil {
		return "", err
	}

	if _, err := f.NewSheet(sheetStages); err != nil {
		return "", err
	}
	stages := [][]any{{"Stage", "Result", "Processed", "Succeeded", "Failed", "Skipped", "Not found", "Retried", "Duration (s)", "Error"}}
	for _, st := range r.Stages() {
		if st.Name == "" {
			continue
		}
		stages = append(stages, []any{st.Name, stageResult(st), st.Processed, st.Succeeded, st.Failed, st.Skipped, st.NotFound, st.Retried, st.Duration.Seconds(), st.Error})
	}
	if err := writeRows(f, sheetStages, stages); err != nil {
		return "", err
	}

	if _, err := f.NewSheet(sheetFailed); err != nil {
		return "", err
	}
	failures := [][]any{{"Kind", "ID"}}
	for _, id := range r.FailedRealms {
		failures = append(failures, []any{"realm", id})
	}
	for _, id := range r.FailedItems {
		failures = append(failures, []any{"item", id})
	}
	for _, id := range r.NotFoundItems {
		failures = append(failures, []any{"item_not_found", id})
	}
	if err := writeRows(f, sheetFailed, failures); err != nil {
		return "", err
	}

	path := filepath.Join(dir, fileName("extraction_report", "xlsx", r.StartedAt))
	if err := f.SaveAs(path); err != nil {
		return "", fmt.Errorf("save workbook: %w", err)
	}
	return path, nil
}

func writeRows(f *excelize.File, sheet string, rows [][]any) error {
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		values := row
		if err := f.SetSheetRow(sheet, cell, &values); err != nil {
			return err
		}
	}
	return nil
}

type XLSXWriter struct {
	Dir string
}

func (w XLSXWriter) Write(r service.RunReport) (string, error) {
	return WriteXLSX(w.Dir, r)
}

var _ service.ReportWriter = XLSXWriter{}
