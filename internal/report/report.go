// Package report renders finished ingestion runs to files.
package report

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"wowmarket/internal/service"
)

const fileTimeLayout = "02-01-2006-150405"

var (
	copperPerGold   = decimal.NewFromInt(10000)
	copperPerSilver = decimal.NewFromInt(100)
)

// FormatGold renders a copper amount as "1,234g 56s 78c".
func FormatGold(copper decimal.Decimal) string {
	sign := ""
	if copper.IsNegative() {
		sign = "-"
		copper = copper.Neg()
	}
	copper = copper.Floor()
	gold := copper.Div(copperPerGold).Floor()
	rest := copper.Sub(gold.Mul(copperPerGold))
	silver := rest.Div(copperPerSilver).Floor()
	c := rest.Sub(silver.Mul(copperPerSilver))
	return fmt.Sprintf("%s%sg %ss %sc", sign, groupThousands(gold.String()), silver.String(), c.String())
}

func groupThousands(digits string) string {
	if len(digits) <= 3 {
		return digits
	}
	var b strings.Builder
	lead := len(digits) % 3
	if lead > 0 {
		b.WriteString(digits[:lead])
	}
	for i := lead; i < len(digits); i += 3 {
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		b.WriteString(digits[i : i+3])
	}
	return b.String()
}

func fileName(prefix, ext string, at time.Time) string {
	if at.IsZero() {
		at = time.Now()
	}
	return fmt.Sprintf("%s_%s.%s", prefix, at.UTC().Format(fileTimeLayout), ext)
}

func ensureDir(dir string) (string, error) {
	if strings.TrimSpace(dir) == "" {
		dir = "output"
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create report dir: %w", err)
	}
	return dir, nil
}

// WriteMarkdown writes dir/extraction_report_<dd-mm-yyyy-HHMMSS>.md.
func WriteMarkdown(dir string, r service.RunReport) (string, error) {
	dir, err := ensureDir(dir)
	if err != nil {
		return "", err
	}
	path := filepath.Join(dir, fileName("extraction_report", "md", r.StartedAt))
	if err := os.WriteFile(path, []byte(RenderMarkdown(r)), 0o644); err != nil {
		return "", fmt.Errorf("write report: %w", err)
	}
	return path, nil
}

func RenderMarkdown(r service.RunReport) string {
	var b strings.Builder
	status := "SUCCESS"
	if !r.Success {
		status = "FAILED"
	}
	fmt.Fprintf(&b, "# Extraction Report\n\n")
	fmt.Fprintf(&b, "- Run: `%s` (%s)\n", r.RunID, r.Trigger)
	fmt.Fprintf(&b, "- Started: %s\n", r.StartedAt.UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "- Duration: %s\n", r.Duration().Round(time.Millisecond))
	fmt.Fprintf(&b, "- Status: **%s**\n", status)
	if r.Error != "" {
		fmt.Fprintf(&b, "- Error: %s\n", r.Error)
	}
	fmt.Fprintf(&b, "- API retries: %d\n\n", r.APIRetries)

	b.WriteString("## Stages\n\n")
	b.WriteString("| Stage | Result | Processed | Succeeded | Failed | Skipped | Not found | Retried | Duration | Error |\n")
	b.WriteString("|---|---|---:|---:|---:|---:|---:|---:|---:|---|\n")
	for _, st := range r.Stages() {
		if st.Name == "" {
			continue
		}
		fmt.Fprintf(&b, "| %s | %s | %d | %d | %d | %d | %d | %d | %s | %s |\n",
			st.Name, stageResult(st), st.Processed, st.Succeeded, st.Failed, st.Skipped, st.NotFound, st.Retried,
			st.Duration.Round(time.Millisecond), escapeCell(st.Error))
	}

	b.WriteString("\n## Market\n\n")
	fmt.Fprintf(&b, "- Commodity market value: %s\n", FormatGold(r.CommodityValue))
	fmt.Fprintf(&b, "- Active auctions stored: %d\n", r.AuctionsActive)
	fmt.Fprintf(&b, "- Auctions deactivated: %d\n", r.AuctionsDeactivated)

	writeIDList(&b, "Failed realms", r.FailedRealms)
	writeIDList(&b, "Failed items", r.FailedItems)
	writeIDList(&b, "Items not found upstream", r.NotFoundItems)
	return b.String()
}

func stageResult(st service.StageReport) string {
	switch {
	case st.OK():
		return "ok"
	case st.Error != "":
		return "failed"
	default:
		return "partial"
	}
}

func writeIDList(b *strings.Builder, title string, ids []int64) {
	if len(ids) == 0 {
		return
	}
	fmt.Fprintf(b, "\n## %s (%d)\n\n", title, len(ids))
	parts := make([]string, 0, len(ids))
	for _, id := range ids {
		parts = append(parts, strconv.FormatInt(id, 10))
	}
	b.WriteString(strings.Join(parts, ", "))
	b.WriteString("\n")
}

func escapeCell(s string) string {
	s = strings.ReplaceAll(s, "|", "\\|")
	return strings.ReplaceAll(s, "\n", " ")
}

type MarkdownWriter struct {
	Dir string
}

func (w MarkdownWriter) Write(r service.RunReport) (string, error) {
	return WriteMarkdown(w.Dir, r)
}

var _ service.ReportWriter = MarkdownWriter{}
