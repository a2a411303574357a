package gormrepository

import (
	"context"
	"errors"
	"strings"
	"time"

	mysqldriver "github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"wowmarket/internal/models"
	"wowmarket/internal/repository"
)

const (
	itemBatchSize      = 200
	auctionBatchSize   = 500
	commodityBatchSize = 1000
	lookupChunkSize    = 1000
)

type Store struct {
	db   *gorm.DB
	pool *pgxpool.Pool

	lockRetries int
	lockDelay   time.Duration
}

type Option func(*Store)

// WithCopyPool routes commodity replacement through a pgx COPY.
func WithCopyPool(pool *pgxpool.Pool) Option {
	return func(s *Store) { s.pool = pool }
}

// WithLockRetry bounds how often a commodity replace is retried on lock contention.
func WithLockRetry(retries int, delay time.Duration) Option {
	return func(s *Store) {
		s.lockRetries = retries
		s.lockDelay = delay
	}
}

func New(db *gorm.DB, opts ...Option) *Store {
	s := &Store{db: db, lockRetries: 3, lockDelay: 2 * time.Second}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) InTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.WithContext(ctx).Transaction(fn)
}

// --- items ------------------------------------------------------------------

func (s *Store) ExistingItemIDs(ctx context.Context, ids []int64) (map[int64]struct{}, error) {
	out := map[int64]struct{}{}
	if s == nil || s.db == nil || len(ids) == 0 {
		return out, nil
	}
	for _, chunk := range chunk(ids, lookupChunkSize) {
		var found []int64
		if err := s.db.WithContext(ctx).
			Model(&models.Item{}).
			Where("item_id IN ?", chunk).
			Pluck("item_id", &found).Error; err != nil {
			return nil, err
		}
		for _, id := range found {
			out[id] = struct{}{}
		}
	}
	return out, nil
}

func (s *Store) ListItemIDs(ctx context.Context) (map[int64]struct{}, error) {
	out := map[int64]struct{}{}
	if s == nil || s.db == nil {
		return out, nil
	}
	var ids []int64
	if err := s.db.WithContext(ctx).Model(&models.Item{}).Pluck("item_id", &ids).Error; err != nil {
		return nil, err
	}
	for _, id := range ids {
		out[id] = struct{}{}
	}
	return out, nil
}

func (s *Store) UpsertItems(ctx context.Context, items []models.Item) error {
	if len(items) == 0 {
		return nil
	}
	return createInBatches(s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "item_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"item_name",
			"item_class_id",
			"item_class_name",
			"item_subclass_id",
			"item_subclass_name",
			"display_subclass_name",
			"extension",
			"last_seen_at",
		}),
	}), dedupeItems(items), itemBatchSize)
}

// --- realms -----------------------------------------------------------------

func (s *Store) ListRealmKeys(ctx context.Context) (map[int64]uint64, error) {
	out := map[int64]uint64{}
	if s == nil || s.db == nil {
		return out, nil
	}
	var rows []models.ConnectedRealm
	if err := s.db.WithContext(ctx).
		Model(&models.ConnectedRealm{}).
		Select("id", "connected_realm_id").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	for _, row := range rows {
		out[row.ConnectedRealmID] = row.ID
	}
	return out, nil
}

func (s *Store) UpsertRealm(ctx context.Context, realm *models.ConnectedRealm) error {
	if realm == nil {
		return nil
	}
	if realm.LastUpdated.IsZero() {
		realm.LastUpdated = time.Now().UTC()
	}
	return s.InTx(ctx, func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "connected_realm_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"name",
				"population_type",
				"realm_category",
				"status",
				"last_updated",
			}),
		}).Create(realm).Error; err != nil {
			return err
		}
		// The surrogate id is not reliably returned on the update path (mysql).
		var ids []uint64
		if err := tx.Model(&models.ConnectedRealm{}).
			Where("connected_realm_id = ?", realm.ConnectedRealmID).
			Limit(1).
			Pluck("id", &ids).Error; err != nil {
			return err
		}
		if len(ids) == 0 {
			return gorm.ErrRecordNotFound
		}
		realm.ID = ids[0]
		return nil
	})
}

// --- auctions ---------------------------------------------------------------

func (s *Store) ReconcileAuctions(ctx context.Context, realmID uint64, snapshot []models.Auction) (repository.ReconcileStats, error) {
	var stats repository.ReconcileStats
	if s == nil || s.db == nil {
		return stats, nil
	}
	rows := dedupeAuctions(realmID, snapshot)
	err := s.InTx(ctx, func(tx *gorm.DB) error {
		res := tx.Model(&models.Auction{}).
			Where("connected_realm_id = ? AND active = ?", realmID, true).
			Update("active", false)
		if res.Error != nil {
			return res.Error
		}
		stats.Deactivated = res.RowsAffected
		if len(rows) == 0 {
			return nil
		}
		if err := createInBatches(tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "auction_id"}, {Name: "connected_realm_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"item_id",
				"buyout_price",
				"quantity",
				"time_left",
				"last_modified",
				"active",
			}),
		}), rows, auctionBatchSize); err != nil {
			return err
		}
		stats.Upserted = len(rows)
		return nil
	})
	if err != nil {
		return repository.ReconcileStats{}, err
	}
	return stats, nil
}

func (s *Store) ListActiveAuctions(ctx context.Context, realmID uint64) ([]models.Auction, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var items []models.Auction
	if err := s.db.WithContext(ctx).
		Where("connected_realm_id = ? AND active = ?", realmID, true).
		Order("auction_id asc").
		Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

// --- commodities ------------------------------------------------------------

// ReplaceCommodities clears the table and loads items in one transaction.
// Items must already be merged per (item_id, unit_price).
func (s *Store) ReplaceCommodities(ctx context.Context, items []models.Commodity) (int, error) {
	if s == nil || s.db == nil {
		return 0, nil
	}
	var loaded int
	err := retryOnLockContention(ctx, s.lockRetries, s.lockDelay, func() error {
		var err error
		if s.pool != nil {
			loaded, err = s.copyCommodities(ctx, items)
		} else {
			loaded, err = s.replaceCommodities(ctx, items)
		}
		return err
	})
	return loaded, err
}

func (s *Store) replaceCommodities(ctx context.Context, items []models.Commodity) (int, error) {
	err := s.InTx(ctx, func(tx *gorm.DB) error {
		if err := tx.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&models.Commodity{}).Error; err != nil {
			return err
		}
		return createInBatches(tx, items, commodityBatchSize)
	})
	if err != nil {
		return 0, err
	}
	return len(items), nil
}

func (s *Store) copyCommodities(ctx context.Context, items []models.Commodity) (int, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// Surface contention as 55P03 instead of queueing behind readers.
	if _, err := tx.Exec(ctx, "SET LOCAL lock_timeout = '5s'"); err != nil {
		return 0, err
	}
	if _, err := tx.Exec(ctx, "TRUNCATE TABLE commodities"); err != nil {
		return 0, err
	}
	rows := make([][]any, 0, len(items))
	for _, item := range items {
		rows = append(rows, []any{item.ItemID, item.UnitPrice, item.Quantity, item.LastModified})
	}
	copied, err := tx.CopyFrom(ctx,
		pgx.Identifier{"commodities"},
		[]string{"item_id", "unit_price", "quantity", "last_modified"},
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return int(copied), nil
}

func (s *Store) ListCommodities(ctx context.Context, params repository.ListCommoditiesParams) ([]models.Commodity, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := s.db.WithContext(ctx).Model(&models.Commodity{})
	if params.ItemID != nil {
		query = query.Where("item_id = ?", *params.ItemID)
	}
	var items []models.Commodity
	if err := query.
		Order("item_id asc").
		Order("unit_price asc").
		Limit(normalizeLimit(params.Limit, 200)).
		Offset(normalizeOffset(params.Offset)).
		Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

// --- bookkeeping ------------------------------------------------------------

func (s *Store) GetSyncState(ctx context.Context, scope string) (*models.SyncState, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var state models.SyncState
	err := s.db.WithContext(ctx).First(&state, "scope = ?", scope).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &state, nil
}

// SaveSyncState keeps the previous success time when the new state carries none.
func (s *Store) SaveSyncState(ctx context.Context, state *models.SyncState) error {
	if s == nil || s.db == nil || state == nil {
		return nil
	}
	columns := []string{"last_attempt_at", "last_error", "stats_json"}
	if state.LastSuccessAt != nil {
		columns = append(columns, "last_success_at")
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "scope"}},
		DoUpdates: clause.AssignmentColumns(columns),
	}).Create(state).Error
}

func (s *Store) ListSyncStates(ctx context.Context) ([]models.SyncState, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var states []models.SyncState
	if err := s.db.WithContext(ctx).Order("scope asc").Find(&states).Error; err != nil {
		return nil, err
	}
	return states, nil
}

func (s *Store) SaveIngestionRun(ctx context.Context, run *models.IngestionRun) error {
	if s == nil || s.db == nil || run == nil {
		return nil
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"finished_at", "success", "error", "report_json"}),
	}).Create(run).Error
}

func (s *Store) ListIngestionRuns(ctx context.Context, params repository.ListIngestionRunsParams) ([]models.IngestionRun, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := s.db.WithContext(ctx).Model(&models.IngestionRun{})
	if params.Since != nil {
		query = query.Where("started_at >= ?", *params.Since)
	}
	var runs []models.IngestionRun
	if err := query.
		Order("started_at desc").
		Limit(normalizeLimit(params.Limit, 20)).
		Offset(normalizeOffset(params.Offset)).
		Find(&runs).Error; err != nil {
		return nil, err
	}
	return runs, nil
}

// --- helpers ----------------------------------------------------------------

func retryOnLockContention(ctx context.Context, retries int, delay time.Duration, fn func() error) error {
	if retries < 0 {
		retries = 0
	}
	var err error
	for attempt := 0; attempt <= retries; attempt++ {
		err = fn()
		if err == nil || !IsLockContention(err) || attempt == retries {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return err
}

// IsLockContention reports whether err is a lock timeout, deadlock or
// serialization failure that is worth retrying as-is.
func IsLockContention(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "55P03", "40P01", "40001":
			return true
		}
		return false
	}
	var myErr *mysqldriver.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == 1205 || myErr.Number == 1213
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "SQLITE_BUSY")
}

func dedupeItems(items []models.Item) []models.Item {
	index := make(map[int64]int, len(items))
	out := make([]models.Item, 0, len(items))
	for _, item := range items {
		if pos, ok := index[item.ItemID]; ok {
			out[pos] = item
			continue
		}
		index[item.ItemID] = len(out)
		out = append(out, item)
	}
	return out
}

// dedupeAuctions pins rows to the realm and keeps the last row per auction id;
// a single INSERT .. ON CONFLICT cannot touch the same key twice.
func dedupeAuctions(realmID uint64, snapshot []models.Auction) []models.Auction {
	index := make(map[int64]int, len(snapshot))
	out := make([]models.Auction, 0, len(snapshot))
	for _, row := range snapshot {
		row.ID = 0
		row.ConnectedRealmID = realmID
		row.Active = true
		if pos, ok := index[row.AuctionID]; ok {
			out[pos] = row
			continue
		}
		index[row.AuctionID] = len(out)
		out = append(out, row)
	}
	return out
}

func createInBatches[T any](db *gorm.DB, items []T, batchSize int) error {
	if len(items) == 0 {
		return nil
	}
	if batchSize <= 0 {
		batchSize = 200
	}
	for i := 0; i < len(items); i += batchSize {
		end := i + batchSize
		if end > len(items) {
			end = len(items)
		}
		if err := db.CreateInBatches(items[i:end], batchSize).Error; err != nil {
			return err
		}
	}
	return nil
}

func chunk[T any](items []T, size int) [][]T {
	if size <= 0 || len(items) == 0 {
		return nil
	}
	chunks := make([][]T, 0, (len(items)/size)+1)
	for i := 0; i < len(items); i += size {
		end := i + size
		if end > len(items) {
			end = len(items)
		}
		chunks = append(chunks, items[i:end])
	}
	return chunks
}

func normalizeLimit(limit, fallback int) int {
	if limit <= 0 {
		return fallback
	}
	if limit > 500 {
		return 500
	}
	return limit
}

func normalizeOffset(offset int) int {
	if offset < 0 {
		return 0
	}
	return offset
}

var _ repository.IngestRepository = (*Store)(nil)
