package service

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

const (
	StageRealms      = "realms"
	StageItems       = "items"
	StageCommodities = "commodities"
	StageAuctions    = "auctions"
)

// StageReport holds the counters for one pipeline stage.
type StageReport struct {
	Name       string        `json:"name"`
	Processed  int           `json:"processed"`
	Succeeded  int           `json:"succeeded"`
	Failed     int           `json:"failed"`
	Skipped    int           `json:"skipped"`
	NotFound   int           `json:"not_found"`
	Retried    int           `json:"retried"`
	Duration   time.Duration `json:"duration"`
	Error      string        `json:"error,omitempty"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
}

func (s StageReport) OK() bool {
	return s.Error == "" && s.Failed == 0
}

type RunReport struct {
	RunID      string    `json:"run_id"`
	Trigger    string    `json:"trigger"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Success    bool      `json:"success"`
	Error      string    `json:"error,omitempty"`

	Realms      StageReport `json:"realms"`
	Items       StageReport `json:"items"`
	Commodities StageReport `json:"commodities"`
	Auctions    StageReport `json:"auctions"`

	FailedRealms  []int64 `json:"failed_realms,omitempty"`
	FailedItems   []int64 `json:"failed_items,omitempty"`
	NotFoundItems []int64 `json:"not_found_items,omitempty"`

	// CommodityValue is sum(unit_price*quantity) in copper over stored rows.
	CommodityValue      decimal.Decimal `json:"commodity_value"`
	AuctionsActive      int             `json:"auctions_active"`
	AuctionsDeactivated int64           `json:"auctions_deactivated"`
	APIRetries          int64           `json:"api_retries"`
}

func (r RunReport) Stages() []StageReport {
	return []StageReport{r.Realms, r.Items, r.Commodities, r.Auctions}
}

func (r RunReport) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

func sortedIDs(ids []int64) []int64 {
	out := append([]int64(nil), ids...)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
