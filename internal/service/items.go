package service

import (
	"context"
	"fmt"
	"time"

	"github.com/sourcegraph/conc/pool"
	"go.uber.org/zap"

	"wowmarket/internal/client/blizzard"
	"wowmarket/internal/input"
	"wowmarket/internal/models"
)

type itemOutcome struct {
	entry  input.Entry
	status blizzard.Status
	err    error
}

func (o itemOutcome) retryable() bool {
	return o.err != nil && o.status != blizzard.StatusMalformed && !isPermanent(o.err)
}

// ingestItems walks entries in fixed-size batches with a pause between them.
// Ids already stored are skipped; each remaining item is fetched and stored
// on its own, and the failed subset of a batch gets ItemRetryPasses more tries.
func (s *IngestService) ingestItems(ctx context.Context, r *run, entries []input.Entry, st *StageReport) error {
	batches := chunkEntries(entries, r.opts.BatchSize)
	for i, batch := range batches {
		if i > 0 {
			if err := sleepCtx(ctx, r.opts.BatchDelay); err != nil {
				s.failRemaining(r, st, batches[i:])
				return err
			}
		}
		if err := s.ingestItemBatch(ctx, r, batch, st); err != nil {
			s.failRemaining(r, st, batches[i+1:])
			return err
		}
		if s.Logger != nil {
			s.Logger.Debug("item batch done",
				zap.Int("batch", i+1),
				zap.Int("batches", len(batches)),
				zap.Int("succeeded", st.Succeeded),
				zap.Int("failed", st.Failed),
			)
		}
	}
	if s.Logger != nil {
		s.Logger.Info("item ingestion done",
			zap.Int("processed", st.Processed),
			zap.Int("succeeded", st.Succeeded),
			zap.Int("skipped", st.Skipped),
			zap.Int("not_found", st.NotFound),
			zap.Int("failed", st.Failed),
		)
	}
	return nil
}

func (s *IngestService) ingestItemBatch(ctx context.Context, r *run, batch []input.Entry, st *StageReport) error {
	st.Processed += len(batch)

	ids := input.IDs(batch)
	existing, err := s.Store.ExistingItemIDs(ctx, ids)
	if err != nil {
		if s.Logger != nil {
			s.Logger.Warn("item existence lookup failed", zap.Int("batch_size", len(batch)), zap.Error(err))
		}
		for _, e := range batch {
			st.Failed++
			r.report.FailedItems = append(r.report.FailedItems, e.ID)
		}
		return nil
	}

	todo := make([]input.Entry, 0, len(batch))
	for _, e := range batch {
		if _, ok := existing[e.ID]; ok {
			st.Skipped++
			continue
		}
		todo = append(todo, e)
	}

	outcomes := s.fetchItems(ctx, todo)
	for pass := 0; ; pass++ {
		var retry []input.Entry
		for _, out := range outcomes {
			if out.err != nil && isFatal(out.err) {
				return out.err
			}
			switch {
			case out.err == nil && out.status == blizzard.StatusNotFound:
				st.NotFound++
				r.report.NotFoundItems = append(r.report.NotFoundItems, out.entry.ID)
			case out.err == nil:
				st.Succeeded++
			case out.retryable() && pass < r.opts.ItemRetryPasses && ctx.Err() == nil:
				retry = append(retry, out.entry)
			default:
				st.Failed++
				r.report.FailedItems = append(r.report.FailedItems, out.entry.ID)
				if s.Logger != nil {
					s.Logger.Warn("item failed", zap.Int64("item_id", out.entry.ID), zap.Error(out.err))
				}
			}
		}
		if len(retry) == 0 {
			return nil
		}
		st.Retried += len(retry)
		outcomes = s.fetchItems(ctx, retry)
	}
}

func (s *IngestService) fetchItems(ctx context.Context, entries []input.Entry) []itemOutcome {
	if len(entries) == 0 {
		return nil
	}
	p := pool.NewWithResults[itemOutcome]().WithMaxGoroutines(len(entries))
	for _, e := range entries {
		p.Go(func() itemOutcome {
			return s.storeItem(ctx, e)
		})
	}
	return p.Wait()
}

func (s *IngestService) storeItem(ctx context.Context, e input.Entry) itemOutcome {
	res, err := s.API.FetchItem(ctx, e.ID)
	if err != nil {
		return itemOutcome{entry: e, err: err}
	}
	switch res.Status {
	case blizzard.StatusNotFound:
		return itemOutcome{entry: e, status: res.Status}
	case blizzard.StatusMalformed:
		return itemOutcome{entry: e, status: res.Status, err: res.Err}
	}
	row := itemModel(res.Value, e.Extension, time.Now().UTC())
	if err := s.Store.UpsertItems(ctx, []models.Item{row}); err != nil {
		return itemOutcome{entry: e, err: fmt.Errorf("upsert item %d: %w", e.ID, err)}
	}
	return itemOutcome{entry: e, status: blizzard.StatusOK}
}

// failRemaining counts batches that were never attempted as failed.
func (s *IngestService) failRemaining(r *run, st *StageReport, batches [][]input.Entry) {
	for _, batch := range batches {
		st.Processed += len(batch)
		for _, e := range batch {
			st.Failed++
			r.report.FailedItems = append(r.report.FailedItems, e.ID)
		}
	}
}

func itemModel(it blizzard.Item, extension *string, now time.Time) models.Item {
	return models.Item{
		ItemID:           it.ID,
		ItemName:         it.Name,
		ItemClassID:      it.ClassID,
		ItemClassName:    it.ClassName,
		ItemSubclassID:   it.SubclassID,
		ItemSubclassName: it.SubclassName,
		Extension:        extension,
		LastSeenAt:       now,
	}
}

func chunkEntries(entries []input.Entry, size int) [][]input.Entry {
	if size <= 0 || len(entries) == 0 {
		return nil
	}
	out := make([][]input.Entry, 0, (len(entries)+size-1)/size)
	for i := 0; i < len(entries); i += size {
		end := i + size
		if end > len(entries) {
			end = len(entries)
		}
		out = append(out, entries[i:end])
	}
	return out
}
