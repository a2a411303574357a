package service

import (
	"context"
	"fmt"

	"github.com/sourcegraph/conc/pool"
	"go.uber.org/zap"

	"wowmarket/internal/client/blizzard"
	"wowmarket/internal/models"
	"wowmarket/internal/repository"
)

type realmTarget struct {
	realmID int64
	key     uint64
}

type auctionOutcome struct {
	target realmTarget
	status blizzard.Status
	stats  repository.ReconcileStats
	err    error
}

// ingestAuctions reconciles every discovered realm's snapshot, RealmConcurrency
// realms at a time. Failed realms are retried one by one for up to
// RealmRetryPasses passes; what still fails is reported, not returned.
func (s *IngestService) ingestAuctions(ctx context.Context, r *run, st *StageReport) error {
	targets := make([]realmTarget, 0, len(r.realmIDs))
	for _, id := range r.realmIDs {
		key, ok := r.realmKeys[id]
		if !ok {
			// 404 during discovery: nothing stored to attach auctions to.
			st.Skipped++
			continue
		}
		targets = append(targets, realmTarget{realmID: id, key: key})
	}
	st.Processed = len(targets)

	p := pool.NewWithResults[auctionOutcome]().WithMaxGoroutines(r.opts.RealmConcurrency)
	for _, t := range targets {
		p.Go(func() auctionOutcome {
			return s.reconcileRealm(ctx, r, t)
		})
	}
	failed, err := s.collectAuctions(r, st, p.Wait())
	if err != nil {
		return err
	}

	for pass := 1; pass <= r.opts.RealmRetryPasses && len(failed) > 0; pass++ {
		if ctx.Err() != nil {
			break
		}
		if s.Logger != nil {
			s.Logger.Info("retrying failed realms", zap.Int("pass", pass), zap.Int("realms", len(failed)))
		}
		st.Retried += len(failed)
		outcomes := make([]auctionOutcome, 0, len(failed))
		for _, t := range failed {
			outcomes = append(outcomes, s.reconcileRealm(ctx, r, t))
		}
		if failed, err = s.collectAuctions(r, st, outcomes); err != nil {
			return err
		}
	}

	for _, t := range failed {
		st.Failed++
		r.report.FailedRealms = append(r.report.FailedRealms, t.realmID)
	}
	r.report.FailedRealms = sortedIDs(r.report.FailedRealms)
	if s.Logger != nil {
		s.Logger.Info("auction ingestion done",
			zap.Int("realms", len(targets)),
			zap.Int("succeeded", st.Succeeded),
			zap.Int("failed", st.Failed),
			zap.Int("active", r.report.AuctionsActive),
		)
	}
	return nil
}

// collectAuctions tallies finished realms and returns the ones to retry.
// Only credential failures come back as an error.
func (s *IngestService) collectAuctions(r *run, st *StageReport, outcomes []auctionOutcome) ([]realmTarget, error) {
	var failed []realmTarget
	for _, out := range outcomes {
		switch {
		case out.err != nil:
			if isFatal(out.err) {
				return nil, out.err
			}
			failed = append(failed, out.target)
			if s.Logger != nil {
				s.Logger.Warn("realm auctions failed", zap.Int64("realm_id", out.target.realmID), zap.Error(out.err))
			}
		case out.status == blizzard.StatusNotFound:
			st.NotFound++
		default:
			st.Succeeded++
			r.report.AuctionsActive += out.stats.Upserted
			r.report.AuctionsDeactivated += out.stats.Deactivated
		}
	}
	return failed, nil
}

func (s *IngestService) reconcileRealm(ctx context.Context, r *run, t realmTarget) auctionOutcome {
	res, err := s.API.FetchAuctions(ctx, t.realmID, r.knownItems)
	if err != nil {
		return auctionOutcome{target: t, err: err}
	}
	switch res.Status {
	case blizzard.StatusNotFound:
		// Leave the stored snapshot untouched.
		return auctionOutcome{target: t, status: res.Status}
	case blizzard.StatusMalformed:
		return auctionOutcome{target: t, status: res.Status, err: res.Err}
	}

	snap := res.Value
	rows := make([]models.Auction, 0, len(snap.Auctions))
	for _, a := range snap.Auctions {
		rows = append(rows, models.Auction{
			AuctionID:        a.ID,
			ConnectedRealmID: t.key,
			ItemID:           a.ItemID,
			BuyoutPrice:      a.Buyout,
			Quantity:         a.Quantity,
			TimeLeft:         a.TimeLeft,
			LastModified:     snap.LastModified,
			Active:           true,
		})
	}
	stats, err := s.Store.ReconcileAuctions(ctx, t.key, rows)
	if err != nil {
		return auctionOutcome{target: t, err: fmt.Errorf("reconcile realm %d: %w", t.realmID, err)}
	}
	return auctionOutcome{target: t, status: blizzard.StatusOK, stats: stats}
}
