package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"wowmarket/internal/models"
)

// IngestRepository is the persistence contract used by the ingestion pipeline.
// Every write is idempotent: re-applying the same batch never duplicates rows.
type IngestRepository interface {
	InTx(ctx context.Context, fn func(tx *gorm.DB) error) error

	// Items.
	ExistingItemIDs(ctx context.Context, ids []int64) (map[int64]struct{}, error)
	ListItemIDs(ctx context.Context) (map[int64]struct{}, error)
	UpsertItems(ctx context.Context, items []models.Item) error

	// Connected realms. ListRealmKeys maps the external id to the surrogate id.
	ListRealmKeys(ctx context.Context) (map[int64]uint64, error)
	UpsertRealm(ctx context.Context, realm *models.ConnectedRealm) error

	// Auctions: deactivate the realm's active rows, then upsert the snapshot as active.
	ReconcileAuctions(ctx context.Context, realmID uint64, snapshot []models.Auction) (ReconcileStats, error)
	ListActiveAuctions(ctx context.Context, realmID uint64) ([]models.Auction, error)

	// Commodities: the whole table is replaced by the snapshot.
	ReplaceCommodities(ctx context.Context, items []models.Commodity) (int, error)
	ListCommodities(ctx context.Context, params ListCommoditiesParams) ([]models.Commodity, error)

	// Bookkeeping.
	GetSyncState(ctx context.Context, scope string) (*models.SyncState, error)
	SaveSyncState(ctx context.Context, state *models.SyncState) error
	ListSyncStates(ctx context.Context) ([]models.SyncState, error)
	SaveIngestionRun(ctx context.Context, run *models.IngestionRun) error
	ListIngestionRuns(ctx context.Context, params ListIngestionRunsParams) ([]models.IngestionRun, error)
}

type ReconcileStats struct {
	Deactivated int64
	Upserted    int
}

type ListCommoditiesParams struct {
	Limit  int
	Offset int
	ItemID *int64
}

type ListIngestionRunsParams struct {
	Limit  int
	Offset int
	Since  *time.Time
}
