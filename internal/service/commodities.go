package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"wowmarket/internal/client/blizzard"
	"wowmarket/internal/models"
)

type commodityKey struct {
	itemID    int64
	unitPrice int64
}

// MergeCommodities folds raw listings into one row per (item, unit price),
// summing quantities. Rows are ordered by item then price.
func MergeCommodities(raw []blizzard.Commodity, lastModified time.Time) []models.Commodity {
	totals := make(map[commodityKey]int64, len(raw))
	for _, c := range raw {
		totals[commodityKey{itemID: c.ItemID, unitPrice: c.UnitPrice}] += c.Quantity
	}
	out := make([]models.Commodity, 0, len(totals))
	for k, qty := range totals {
		out = append(out, models.Commodity{
			ItemID:       k.itemID,
			UnitPrice:    k.unitPrice,
			Quantity:     qty,
			LastModified: lastModified,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ItemID != out[j].ItemID {
			return out[i].ItemID < out[j].ItemID
		}
		return out[i].UnitPrice < out[j].UnitPrice
	})
	return out
}

// MarketValue is sum(unit_price*quantity) in copper.
func MarketValue(rows []models.Commodity) decimal.Decimal {
	total := decimal.Zero
	for _, row := range rows {
		total = total.Add(decimal.NewFromInt(row.UnitPrice).Mul(decimal.NewFromInt(row.Quantity)))
	}
	return total
}

// ingestCommodities replaces the stored commodity snapshot. Listings for items
// outside the catalog are dropped before the merge.
func (s *IngestService) ingestCommodities(ctx context.Context, r *run, st *StageReport) error {
	res, err := s.API.FetchCommodities(ctx)
	if err != nil {
		st.Failed++
		return fmt.Errorf("fetch commodities: %w", err)
	}
	switch res.Status {
	case blizzard.StatusNotFound:
		st.NotFound++
		return fmt.Errorf("commodity snapshot not found")
	case blizzard.StatusMalformed:
		st.Failed++
		return res.Err
	}

	snap := res.Value
	st.Processed = len(snap.Commodities) + snap.Malformed
	st.Failed = snap.Malformed

	tracked := make([]blizzard.Commodity, 0, len(snap.Commodities))
	for _, c := range snap.Commodities {
		if _, ok := r.knownItems[c.ItemID]; !ok {
			st.Skipped++
			continue
		}
		tracked = append(tracked, c)
	}
	rows := MergeCommodities(tracked, snap.LastModified)

	loaded, err := s.Store.ReplaceCommodities(ctx, rows)
	if err != nil {
		return fmt.Errorf("replace commodities: %w", err)
	}
	st.Succeeded = len(tracked)
	r.report.CommodityValue = MarketValue(rows)

	if s.Logger != nil {
		s.Logger.Info("commodity snapshot stored",
			zap.Int("raw", len(snap.Commodities)),
			zap.Int("tracked", len(tracked)),
			zap.Int("rows", loaded),
			zap.Int("malformed", snap.Malformed),
		)
	}
	return nil
}
