package service

import (
	"context"
	"strconv"
	"sync"

	"gorm.io/gorm"

	"wowmarket/internal/client/blizzard"
	"wowmarket/internal/models"
	"wowmarket/internal/repository"
)

type stubRepo struct {
	mu          sync.Mutex
	items       map[int64]models.Item
	realms      map[int64]models.ConnectedRealm
	nextRealm   uint64
	auctions    map[uint64][]models.Auction
	commodities []models.Commodity
	states      map[string]models.SyncState
	runs        map[string]models.IngestionRun
	replaceErr  error
}

func newStubRepo() *stubRepo {
	return &stubRepo{
		items:    map[int64]models.Item{},
		realms:   map[int64]models.ConnectedRealm{},
		auctions: map[uint64][]models.Auction{},
		states:   map[string]models.SyncState{},
		runs:     map[string]models.IngestionRun{},
	}
}

func (r *stubRepo) InTx(ctx context.Context, fn func(tx *gorm.DB) error) error { return fn(nil) }

func (r *stubRepo) ExistingItemIDs(ctx context.Context, ids []int64) (map[int64]struct{}, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := map[int64]struct{}{}
	for _, id := range ids {
		if _, ok := r.items[id]; ok {
			out[id] = struct{}{}
		}
	}
	return out, nil
}

func (r *stubRepo) ListItemIDs(ctx context.Context) (map[int64]struct{}, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := map[int64]struct{}{}
	for id := range r.items {
		out[id] = struct{}{}
	}
	return out, nil
}

func (r *stubRepo) UpsertItems(ctx context.Context, items []models.Item) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, it := range items {
		r.items[it.ItemID] = it
	}
	return nil
}

func (r *stubRepo) ListRealmKeys(ctx context.Context) (map[int64]uint64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := map[int64]uint64{}
	for id, realm := range r.realms {
		out[id] = realm.ID
	}
	return out, nil
}

func (r *stubRepo) UpsertRealm(ctx context.Context, realm *models.ConnectedRealm) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.realms[realm.ConnectedRealmID]; ok {
		realm.ID = existing.ID
	} else {
		r.nextRealm++
		realm.ID = r.nextRealm
	}
	r.realms[realm.ConnectedRealmID] = *realm
	return nil
}

func (r *stubRepo) ReconcileAuctions(ctx context.Context, realmID uint64, snapshot []models.Auction) (repository.ReconcileStats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stats := repository.ReconcileStats{Upserted: len(snapshot)}
	rows := r.auctions[realmID]
	for i := range rows {
		if rows[i].Active {
			rows[i].Active = false
			stats.Deactivated++
		}
	}
	for _, a := range snapshot {
		a.Active = true
		replaced := false
		for i := range rows {
			if rows[i].AuctionID == a.AuctionID {
				rows[i] = a
				replaced = true
			}
		}
		if !replaced {
			rows = append(rows, a)
		}
	}
	r.auctions[realmID] = rows
	return stats, nil
}

func (r *stubRepo) ListActiveAuctions(ctx context.Context, realmID uint64) ([]models.Auction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Auction
	for _, a := range r.auctions[realmID] {
		if a.Active {
			out = append(out, a)
		}
	}
	return out, nil
}

func (r *stubRepo) ReplaceCommodities(ctx context.Context, items []models.Commodity) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.replaceErr != nil {
		return 0, r.replaceErr
	}
	r.commodities = append([]models.Commodity(nil), items...)
	return len(items), nil
}

func (r *stubRepo) ListCommodities(ctx context.Context, params repository.ListCommoditiesParams) ([]models.Commodity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.Commodity(nil), r.commodities...), nil
}

func (r *stubRepo) GetSyncState(ctx context.Context, scope string) (*models.SyncState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.states[scope]
	if !ok {
		return nil, nil
	}
	return &st, nil
}

func (r *stubRepo) SaveSyncState(ctx context.Context, state *models.SyncState) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states[state.Scope] = *state
	return nil
}

func (r *stubRepo) ListSyncStates(ctx context.Context) ([]models.SyncState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.SyncState
	for _, st := range r.states {
		out = append(out, st)
	}
	return out, nil
}

func (r *stubRepo) SaveIngestionRun(ctx context.Context, run *models.IngestionRun) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs[run.ID] = *run
	return nil
}

func (r *stubRepo) ListIngestionRuns(ctx context.Context, params repository.ListIngestionRunsParams) ([]models.IngestionRun, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.IngestionRun
	for _, run := range r.runs {
		out = append(out, run)
	}
	return out, nil
}

var _ repository.IngestRepository = (*stubRepo)(nil)

// stubAPI answers from per-id functions and counts calls.
type stubAPI struct {
	mu    sync.Mutex
	calls map[string]int

	index       func() ([]int64, error)
	realm       func(id int64) (blizzard.Result[blizzard.Realm], error)
	item        func(id int64, attempt int) (blizzard.Result[blizzard.Item], error)
	auctions    func(realmID int64) (blizzard.Result[blizzard.AuctionSnapshot], error)
	commodities func() (blizzard.Result[blizzard.CommoditySnapshot], error)
}

func newStubAPI() *stubAPI {
	return &stubAPI{
		calls: map[string]int{},
		index: func() ([]int64, error) { return nil, nil },
		realm: func(id int64) (blizzard.Result[blizzard.Realm], error) {
			return blizzard.Result[blizzard.Realm]{Status: blizzard.StatusOK, Value: blizzard.Realm{ID: id, Name: "Realm"}}, nil
		},
		item: func(id int64, attempt int) (blizzard.Result[blizzard.Item], error) {
			return blizzard.Result[blizzard.Item]{Status: blizzard.StatusOK, Value: blizzard.Item{ID: id, Name: "Item"}}, nil
		},
		auctions: func(realmID int64) (blizzard.Result[blizzard.AuctionSnapshot], error) {
			return blizzard.Result[blizzard.AuctionSnapshot]{Status: blizzard.StatusOK}, nil
		},
		commodities: func() (blizzard.Result[blizzard.CommoditySnapshot], error) {
			return blizzard.Result[blizzard.CommoditySnapshot]{Status: blizzard.StatusOK}, nil
		},
	}
}

func (a *stubAPI) count(key string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls[key]++
	return a.calls[key]
}

func (a *stubAPI) callCount(key string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls[key]
}

func (a *stubAPI) FetchItem(ctx context.Context, id int64) (blizzard.Result[blizzard.Item], error) {
	n := a.count(key("item", id))
	return a.item(id, n)
}

func (a *stubAPI) FetchRealmIndex(ctx context.Context) ([]int64, error) {
	a.count("index")
	return a.index()
}

func (a *stubAPI) FetchRealmDetail(ctx context.Context, id int64) (blizzard.Result[blizzard.Realm], error) {
	a.count(key("realm", id))
	return a.realm(id)
}

func (a *stubAPI) FetchAuctions(ctx context.Context, realmID int64, knownItems map[int64]struct{}) (blizzard.Result[blizzard.AuctionSnapshot], error) {
	a.count(key("auctions", realmID))
	return a.auctions(realmID)
}

func (a *stubAPI) FetchCommodities(ctx context.Context) (blizzard.Result[blizzard.CommoditySnapshot], error) {
	a.count("commodities")
	return a.commodities()
}

func key(kind string, id int64) string {
	return kind + ":" + strconv.FormatInt(id, 10)
}
