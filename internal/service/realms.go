package service

import (
	"context"
	"fmt"
	"time"

	"github.com/sourcegraph/conc/pool"
	"go.uber.org/zap"

	"wowmarket/internal/client/blizzard"
	"wowmarket/internal/models"
)

type realmOutcome struct {
	id     int64
	status blizzard.Status
	err    error
}

// discoverRealms fetches the realm index and stores details for realms not
// seen before. Any failure other than a 404 on a new realm fails the stage.
func (s *IngestService) discoverRealms(ctx context.Context, r *run, st *StageReport) error {
	ids, err := s.API.FetchRealmIndex(ctx)
	if err != nil {
		return fmt.Errorf("fetch realm index: %w", err)
	}
	existing, err := s.Store.ListRealmKeys(ctx)
	if err != nil {
		return fmt.Errorf("list realms: %w", err)
	}
	r.realmIDs = ids
	st.Processed = len(ids)

	fresh := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, ok := existing[id]; ok {
			st.Skipped++
			continue
		}
		fresh = append(fresh, id)
	}

	p := pool.NewWithResults[realmOutcome]().WithMaxGoroutines(r.opts.RealmConcurrency)
	for _, id := range fresh {
		p.Go(func() realmOutcome {
			return s.storeRealm(ctx, id)
		})
	}

	var firstErr error
	for _, out := range p.Wait() {
		switch {
		case out.err != nil:
			st.Failed++
			if firstErr == nil {
				firstErr = fmt.Errorf("realm %d: %w", out.id, out.err)
			}
		case out.status == blizzard.StatusNotFound:
			st.NotFound++
			if s.Logger != nil {
				s.Logger.Warn("realm listed in index but not found", zap.Int64("realm_id", out.id))
			}
		default:
			st.Succeeded++
		}
	}
	if firstErr != nil {
		return fmt.Errorf("%d of %d new realms failed, first: %w", st.Failed, len(fresh), firstErr)
	}

	keys, err := s.Store.ListRealmKeys(ctx)
	if err != nil {
		return fmt.Errorf("list realms: %w", err)
	}
	r.realmKeys = keys
	if s.Logger != nil {
		s.Logger.Info("realm discovery done",
			zap.Int("indexed", len(ids)),
			zap.Int("new", st.Succeeded),
			zap.Int("existing", st.Skipped),
		)
	}
	return nil
}

func (s *IngestService) storeRealm(ctx context.Context, id int64) realmOutcome {
	res, err := s.API.FetchRealmDetail(ctx, id)
	if err != nil {
		return realmOutcome{id: id, err: err}
	}
	switch res.Status {
	case blizzard.StatusNotFound:
		return realmOutcome{id: id, status: res.Status}
	case blizzard.StatusMalformed:
		return realmOutcome{id: id, status: res.Status, err: res.Err}
	}
	row := realmModel(res.Value, time.Now().UTC())
	if err := s.Store.UpsertRealm(ctx, &row); err != nil {
		return realmOutcome{id: id, err: fmt.Errorf("upsert: %w", err)}
	}
	return realmOutcome{id: id, status: blizzard.StatusOK}
}

func realmModel(r blizzard.Realm, now time.Time) models.ConnectedRealm {
	return models.ConnectedRealm{
		ConnectedRealmID: r.ID,
		Name:             r.Name,
		PopulationType:   strPtr(r.PopulationType),
		RealmCategory:    strPtr(r.Category),
		Status:           strPtr(r.Status),
		LastUpdated:      now,
	}
}
