package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"wowmarket/internal/client/blizzard"
	"wowmarket/internal/input"
	"wowmarket/internal/models"
	"wowmarket/internal/repository"
)

// UpstreamAPI is the subset of the Blizzard client used by the pipeline.
type UpstreamAPI interface {
	FetchItem(ctx context.Context, id int64) (blizzard.Result[blizzard.Item], error)
	FetchRealmIndex(ctx context.Context) ([]int64, error)
	FetchRealmDetail(ctx context.Context, id int64) (blizzard.Result[blizzard.Realm], error)
	FetchAuctions(ctx context.Context, realmID int64, knownItems map[int64]struct{}) (blizzard.Result[blizzard.AuctionSnapshot], error)
	FetchCommodities(ctx context.Context) (blizzard.Result[blizzard.CommoditySnapshot], error)
}

type retryCounter interface {
	Retries() int64
}

type IngestOptions struct {
	BatchSize        int
	BatchDelay       time.Duration
	ItemRetryPasses  int
	RealmConcurrency int
	RealmRetryPasses int
	StageTimeout     time.Duration
}

func (o IngestOptions) withDefaults() IngestOptions {
	if o.BatchSize <= 0 {
		o.BatchSize = 50
	}
	if o.BatchDelay < 0 {
		o.BatchDelay = 0
	}
	if o.ItemRetryPasses < 0 {
		o.ItemRetryPasses = 0
	}
	if o.RealmConcurrency <= 0 {
		o.RealmConcurrency = 10
	}
	if o.RealmRetryPasses < 0 {
		o.RealmRetryPasses = 0
	}
	return o
}

type IngestService struct {
	API     UpstreamAPI
	Store   repository.IngestRepository
	Logger  *zap.Logger
	Options IngestOptions
	// Retries, when set, reports upstream retry waits for the run report.
	Retries retryCounter
}

// ErrRealmDiscovery wraps the failure that aborted a run in its first stage.
var ErrRealmDiscovery = errors.New("realm discovery failed")

// run carries what one stage hands to the next.
type run struct {
	opts       IngestOptions
	report     *RunReport
	realmIDs   []int64
	realmKeys  map[int64]uint64
	knownItems map[int64]struct{}
}

// Run executes realms, items, commodities and auctions in that order. The
// returned error is non-nil only when the run was aborted; partial failures
// are reported through RunReport.Success and the per-stage counters.
func (s *IngestService) Run(ctx context.Context, trigger string, entries []input.Entry) (RunReport, error) {
	if s == nil || s.API == nil || s.Store == nil {
		return RunReport{}, fmt.Errorf("ingest service not configured")
	}

	report := RunReport{
		RunID:     uuid.NewString(),
		Trigger:   strings.TrimSpace(trigger),
		StartedAt: time.Now().UTC(),
	}
	if report.Trigger == "" {
		report.Trigger = "cli"
	}
	var retriesBefore int64
	if s.Retries != nil {
		retriesBefore = s.Retries.Retries()
	}
	s.saveRun(ctx, &report, false)
	if s.Logger != nil {
		s.Logger.Info("ingestion run started",
			zap.String("run_id", report.RunID),
			zap.String("trigger", report.Trigger),
			zap.Int("items", len(entries)),
		)
	}

	r := &run{opts: s.Options.withDefaults(), report: &report}
	err := s.runStages(ctx, r, entries)

	report.FinishedAt = time.Now().UTC()
	if s.Retries != nil {
		report.APIRetries = s.Retries.Retries() - retriesBefore
	}
	if err != nil {
		report.Success = false
		report.Error = err.Error()
	} else {
		report.Success = report.Realms.Error == "" &&
			report.Commodities.Error == "" &&
			len(report.FailedRealms) == 0
	}
	s.saveRun(ctx, &report, true)

	if s.Logger != nil {
		fields := []zap.Field{
			zap.String("run_id", report.RunID),
			zap.Bool("success", report.Success),
			zap.Duration("duration", report.Duration()),
			zap.Int("failed_realms", len(report.FailedRealms)),
			zap.Int("failed_items", len(report.FailedItems)),
		}
		if err != nil {
			s.Logger.Error("ingestion run aborted", append(fields, zap.Error(err))...)
		} else {
			s.Logger.Info("ingestion run finished", fields...)
		}
	}
	return report, err
}

func (s *IngestService) runStages(ctx context.Context, r *run, entries []input.Entry) error {
	if err := s.stage(ctx, r, StageRealms, &r.report.Realms, func(ctx context.Context, st *StageReport) error {
		return s.discoverRealms(ctx, r, st)
	}); err != nil {
		return fmt.Errorf("%w: %v", ErrRealmDiscovery, err)
	}

	if err := s.stage(ctx, r, StageItems, &r.report.Items, func(ctx context.Context, st *StageReport) error {
		return s.ingestItems(ctx, r, entries, st)
	}); err != nil && isFatal(err) {
		return err
	}

	known, err := s.Store.ListItemIDs(ctx)
	if err != nil {
		return fmt.Errorf("load item ids: %w", err)
	}
	r.knownItems = known

	// Commodity failures are recorded on the stage and never gate auctions.
	if err := s.stage(ctx, r, StageCommodities, &r.report.Commodities, func(ctx context.Context, st *StageReport) error {
		return s.ingestCommodities(ctx, r, st)
	}); err != nil && isFatal(err) {
		return err
	}

	if err := s.stage(ctx, r, StageAuctions, &r.report.Auctions, func(ctx context.Context, st *StageReport) error {
		return s.ingestAuctions(ctx, r, st)
	}); err != nil && isFatal(err) {
		return err
	}
	return nil
}

// stage runs fn under the stage deadline and records its outcome in sync_state.
func (s *IngestService) stage(ctx context.Context, r *run, name string, st *StageReport, fn func(context.Context, *StageReport) error) error {
	st.Name = name
	st.StartedAt = time.Now().UTC()
	stageCtx := ctx
	if r.opts.StageTimeout > 0 {
		var cancel context.CancelFunc
		stageCtx, cancel = context.WithTimeout(ctx, r.opts.StageTimeout)
		defer cancel()
	}

	err := fn(stageCtx, st)
	st.FinishedAt = time.Now().UTC()
	st.Duration = st.FinishedAt.Sub(st.StartedAt)
	if err != nil {
		st.Error = err.Error()
		s.writeSyncError(ctx, name, err, st)
		return err
	}
	s.writeSyncSuccess(ctx, name, st)
	return nil
}

func (s *IngestService) writeSyncSuccess(ctx context.Context, name string, st *StageReport) {
	now := time.Now().UTC()
	state := &models.SyncState{
		Scope:         syncScope(name),
		LastSuccessAt: &now,
		LastAttemptAt: &now,
		StatsJSON:     mustJSON(st),
	}
	if err := s.Store.SaveSyncState(ctx, state); err != nil && s.Logger != nil {
		s.Logger.Warn("save sync state failed", zap.String("stage", name), zap.Error(err))
	}
}

func (s *IngestService) writeSyncError(ctx context.Context, name string, err error, st *StageReport) {
	if s.Logger != nil {
		s.Logger.Warn("ingest stage failed", zap.String("stage", name), zap.Error(err))
	}
	now := time.Now().UTC()
	state := &models.SyncState{
		Scope:         syncScope(name),
		LastAttemptAt: &now,
		LastError:     strPtr(err.Error()),
		StatsJSON:     mustJSON(st),
	}
	if saveErr := s.Store.SaveSyncState(ctx, state); saveErr != nil && s.Logger != nil {
		s.Logger.Warn("save sync state failed", zap.String("stage", name), zap.Error(saveErr))
	}
}

func (s *IngestService) saveRun(ctx context.Context, report *RunReport, finished bool) {
	row := &models.IngestionRun{
		ID:         report.RunID,
		Trigger:    report.Trigger,
		StartedAt:  report.StartedAt,
		Success:    report.Success,
		Error:      strPtr(report.Error),
		ReportJSON: mustJSON(report),
	}
	if finished {
		finishedAt := report.FinishedAt
		row.FinishedAt = &finishedAt
		// Record the outcome of a cancelled run too.
		ctx = context.WithoutCancel(ctx)
	}
	if err := s.Store.SaveIngestionRun(ctx, row); err != nil && s.Logger != nil {
		s.Logger.Warn("save ingestion run failed", zap.String("run_id", report.RunID), zap.Error(err))
	}
}

func syncScope(stage string) string {
	return "ingest:" + stage
}

// isFatal reports errors that end the whole run rather than one entity.
func isFatal(err error) bool {
	var credErr *blizzard.CredentialError
	return errors.As(err, &credErr) || errors.Is(err, blizzard.ErrNotAuthenticated)
}

// isPermanent reports failures a second attempt cannot fix.
func isPermanent(err error) bool {
	var apiErr *blizzard.APIError
	if errors.As(err, &apiErr) {
		return !apiErr.Retryable()
	}
	return errors.Is(err, blizzard.ErrMalformedPayload)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

func mustJSON(v any) datatypes.JSON {
	payload, err := json.Marshal(v)
	if err != nil {
		return datatypes.JSON([]byte("null"))
	}
	return datatypes.JSON(payload)
}

func strPtr(s string) *string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return &s
}
