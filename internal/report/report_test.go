package report

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"

	"wowmarket/internal/service"
)

func sampleReport() service.RunReport {
	start := time.Date(2024, 5, 1, 9, 30, 15, 0, time.UTC)
	return service.RunReport{
		RunID:          "run-1",
		Trigger:        "cli",
		StartedAt:      start,
		FinishedAt:     start.Add(90 * time.Second),
		Success:        false,
		Realms:         service.StageReport{Name: service.StageRealms, Processed: 2, Succeeded: 2},
		Items:          service.StageReport{Name: service.StageItems, Processed: 3, Succeeded: 1, Skipped: 1, NotFound: 1},
		Auctions:       service.StageReport{Name: service.StageAuctions, Processed: 2, Succeeded: 1, Failed: 1, Retried: 3},
		FailedRealms:   []int64{1403},
		NotFoundItems:  []int64{99999999},
		CommodityValue: decimal.NewFromInt(12345678),
	}
}

func TestFormatGold(t *testing.T) {
	cases := map[int64]string{
		0:           "0g 0s 0c",
		99:          "0g 0s 99c",
		12345678:    "1,234g 56s 78c",
		10000000000: "1,000,000g 0s 0c",
		-150:        "-0g 1s 50c",
	}
	for copper, want := range cases {
		if got := FormatGold(decimal.NewFromInt(copper)); got != want {
			t.Fatalf("FormatGold(%d)=%q want %q", copper, got, want)
		}
	}
}

func TestWriteMarkdown(t *testing.T) {
	dir := t.TempDir()
	path, err := WriteMarkdown(dir, sampleReport())
	if err != nil {
		t.Fatalf("write err=%v", err)
	}
	if filepath.Base(path) != "extraction_report_01-05-2024-093015.md" {
		t.Fatalf("unexpected file name %s", filepath.Base(path))
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read err=%v", err)
	}
	body := string(raw)
	for _, want := range []string{
		"**FAILED**",
		"| auctions | partial | 2 | 1 | 1 | 0 | 0 | 3 |",
		"| realms | ok | 2 | 2 |",
		"1,234g 56s 78c",
		"## Failed realms (1)",
		"1403",
		"99999999",
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("report missing %q:\n%s", want, body)
		}
	}
	if strings.Contains(body, "| commodities |") {
		t.Fatalf("unnamed stage rendered")
	}
}

func TestWriteXLSX(t *testing.T) {
	dir := t.TempDir()
	path, err := WriteXLSX(dir, sampleReport())
	if err != nil {
		t.Fatalf("write err=%v", err)
	}
	f, err := excelize.OpenFile(path)
	if err != nil {
		t.Fatalf("open err=%v", err)
	}
	defer f.Close()

	v, err := f.GetCellValue(sheetSummary, "B1")
	if err != nil || v != "run-1" {
		t.Fatalf("summary B1=%q err=%v", v, err)
	}
	rows, err := f.GetRows(sheetStages)
	if err != nil || len(rows) != 4 {
		t.Fatalf("stage rows=%v err=%v", rows, err)
	}
	if rows[0][1] != "Result" || rows[1][1] != "ok" {
		t.Fatalf("stage result column=%v", rows)
	}
	fails, err := f.GetRows(sheetFailed)
	if err != nil || len(fails) != 3 || fails[1][0] != "realm" {
		t.Fatalf("failure rows=%v err=%v", fails, err)
	}
}
