package service

import (
	"context"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"wowmarket/internal/client/blizzard"
	"wowmarket/internal/input"
	"wowmarket/internal/models"
	"wowmarket/internal/runlock"
)

func testOptions() IngestOptions {
	return IngestOptions{
		BatchSize:        2,
		BatchDelay:       time.Millisecond,
		ItemRetryPasses:  1,
		RealmConcurrency: 3,
		RealmRetryPasses: 3,
		StageTimeout:     5 * time.Second,
	}
}

func entries(ids ...int64) []input.Entry {
	out := make([]input.Entry, 0, len(ids))
	for _, id := range ids {
		out = append(out, input.Entry{ID: id})
	}
	return out
}

func transient() error { return &blizzard.APIError{Status: http.StatusServiceUnavailable} }

func TestRun_HappyPath(t *testing.T) {
	repo := newStubRepo()
	repo.items[10] = models.Item{ItemID: 10, ItemName: "stored"}
	repo.realms[1] = models.ConnectedRealm{ID: 1, ConnectedRealmID: 1}
	repo.nextRealm = 1

	api := newStubAPI()
	api.index = func() ([]int64, error) { return []int64{1, 2}, nil }
	api.item = func(id int64, attempt int) (blizzard.Result[blizzard.Item], error) {
		if id == 12 {
			return blizzard.Result[blizzard.Item]{Status: blizzard.StatusNotFound}, nil
		}
		return blizzard.Result[blizzard.Item]{Status: blizzard.StatusOK, Value: blizzard.Item{ID: id, Name: "x"}}, nil
	}
	api.commodities = func() (blizzard.Result[blizzard.CommoditySnapshot], error) {
		return blizzard.Result[blizzard.CommoditySnapshot]{Status: blizzard.StatusOK, Value: blizzard.CommoditySnapshot{
			Commodities: []blizzard.Commodity{
				{ItemID: 11, UnitPrice: 10, Quantity: 3},
				{ItemID: 11, UnitPrice: 10, Quantity: 7},
				{ItemID: 999, UnitPrice: 1, Quantity: 1},
			},
		}}, nil
	}
	api.auctions = func(realmID int64) (blizzard.Result[blizzard.AuctionSnapshot], error) {
		return blizzard.Result[blizzard.AuctionSnapshot]{Status: blizzard.StatusOK, Value: blizzard.AuctionSnapshot{
			Auctions: []blizzard.Auction{{ID: realmID * 100, ItemID: 11, Quantity: 1}},
		}}, nil
	}

	svc := &IngestService{API: api, Store: repo, Options: testOptions()}
	report, err := svc.Run(context.Background(), "test", entries(10, 11, 12))
	if err != nil {
		t.Fatalf("run err=%v", err)
	}
	if !report.Success {
		t.Fatalf("expected success, report=%+v", report)
	}

	if report.Realms.Skipped != 1 || report.Realms.Succeeded != 1 {
		t.Fatalf("realm stage=%+v", report.Realms)
	}
	if api.callCount("realm:1") != 0 {
		t.Fatalf("existing realm must not be re-fetched")
	}

	if report.Items.Skipped != 1 || report.Items.Succeeded != 1 || report.Items.NotFound != 1 || report.Items.Failed != 0 {
		t.Fatalf("item stage=%+v", report.Items)
	}
	if api.callCount("item:10") != 0 {
		t.Fatalf("stored item must not be fetched")
	}
	if len(report.NotFoundItems) != 1 || report.NotFoundItems[0] != 12 {
		t.Fatalf("not found items=%v", report.NotFoundItems)
	}

	if len(repo.commodities) != 1 || repo.commodities[0].Quantity != 10 {
		t.Fatalf("commodities=%+v", repo.commodities)
	}
	if report.Commodities.Skipped != 1 {
		t.Fatalf("untracked commodity not skipped: %+v", report.Commodities)
	}
	if report.CommodityValue.IntPart() != 100 {
		t.Fatalf("commodity value=%s", report.CommodityValue)
	}

	if report.Auctions.Succeeded != 2 || report.AuctionsActive != 2 {
		t.Fatalf("auction stage=%+v active=%d", report.Auctions, report.AuctionsActive)
	}

	run, ok := repo.runs[report.RunID]
	if !ok || !run.Success || run.FinishedAt == nil {
		t.Fatalf("run not persisted: %+v", run)
	}
	for _, stage := range []string{StageRealms, StageItems, StageCommodities, StageAuctions} {
		st, ok := repo.states[syncScope(stage)]
		if !ok || st.LastSuccessAt == nil {
			t.Fatalf("sync state for %s missing", stage)
		}
	}
}

func TestRun_BoundedRealmRetry(t *testing.T) {
	repo := newStubRepo()
	api := newStubAPI()
	api.index = func() ([]int64, error) { return []int64{1, 2}, nil }
	api.auctions = func(realmID int64) (blizzard.Result[blizzard.AuctionSnapshot], error) {
		if realmID == 2 {
			return blizzard.Result[blizzard.AuctionSnapshot]{}, transient()
		}
		return blizzard.Result[blizzard.AuctionSnapshot]{Status: blizzard.StatusOK}, nil
	}

	svc := &IngestService{API: api, Store: repo, Options: testOptions()}
	report, err := svc.Run(context.Background(), "test", entries(1))
	if err != nil {
		t.Fatalf("realm failures must not escape the run: %v", err)
	}
	if report.Success {
		t.Fatalf("expected success=false")
	}
	if got := api.callCount("auctions:2"); got != 4 {
		t.Fatalf("expected 1+3 attempts, got %d", got)
	}
	if api.callCount("auctions:1") != 1 {
		t.Fatalf("healthy realm must not be retried")
	}
	if len(report.FailedRealms) != 1 || report.FailedRealms[0] != 2 {
		t.Fatalf("failed realms=%v", report.FailedRealms)
	}
	if report.Auctions.Failed != 1 || report.Auctions.Succeeded != 1 {
		t.Fatalf("auction stage=%+v", report.Auctions)
	}
}

func TestRun_RealmRecoversOnRetryPass(t *testing.T) {
	api := newStubAPI()
	api.index = func() ([]int64, error) { return []int64{7}, nil }
	attempts := 0
	api.auctions = func(realmID int64) (blizzard.Result[blizzard.AuctionSnapshot], error) {
		attempts++
		if attempts < 3 {
			return blizzard.Result[blizzard.AuctionSnapshot]{}, transient()
		}
		return blizzard.Result[blizzard.AuctionSnapshot]{Status: blizzard.StatusOK}, nil
	}
	svc := &IngestService{API: api, Store: newStubRepo(), Options: testOptions()}
	report, err := svc.Run(context.Background(), "test", entries(1))
	if err != nil || !report.Success {
		t.Fatalf("expected success, err=%v report=%+v", err, report)
	}
	if report.Auctions.Retried != 2 {
		t.Fatalf("retried=%d", report.Auctions.Retried)
	}
}

func TestRun_DiscoveryFailureAborts(t *testing.T) {
	api := newStubAPI()
	api.index = func() ([]int64, error) { return nil, transient() }

	repo := newStubRepo()
	svc := &IngestService{API: api, Store: repo, Options: testOptions()}
	report, err := svc.Run(context.Background(), "test", entries(1, 2))
	if !errors.Is(err, ErrRealmDiscovery) {
		t.Fatalf("expected ErrRealmDiscovery, got %v", err)
	}
	if report.Success || report.Error == "" {
		t.Fatalf("report must carry the failure: %+v", report)
	}
	if api.callCount("item:1") != 0 || api.callCount("commodities") != 0 {
		t.Fatalf("later stages must not run")
	}
	if st := repo.states[syncScope(StageRealms)]; st.LastError == nil {
		t.Fatalf("sync state error not recorded")
	}
}

func TestRun_NewRealmDetailFailureIsFatal(t *testing.T) {
	api := newStubAPI()
	api.index = func() ([]int64, error) { return []int64{1, 2, 3}, nil }
	api.realm = func(id int64) (blizzard.Result[blizzard.Realm], error) {
		switch id {
		case 2:
			return blizzard.Result[blizzard.Realm]{}, transient()
		case 3:
			return blizzard.Result[blizzard.Realm]{Status: blizzard.StatusNotFound}, nil
		}
		return blizzard.Result[blizzard.Realm]{Status: blizzard.StatusOK, Value: blizzard.Realm{ID: id, Name: "A"}}, nil
	}
	svc := &IngestService{API: api, Store: newStubRepo(), Options: testOptions()}
	report, err := svc.Run(context.Background(), "test", entries(1))
	if !errors.Is(err, ErrRealmDiscovery) {
		t.Fatalf("expected discovery failure, got %v", err)
	}
	if report.Realms.Failed != 1 || report.Realms.NotFound != 1 {
		t.Fatalf("realm stage=%+v", report.Realms)
	}
}

func TestRun_CommodityFailureDoesNotGateAuctions(t *testing.T) {
	repo := newStubRepo()
	repo.replaceErr = errors.New("disk full")
	api := newStubAPI()
	api.index = func() ([]int64, error) { return []int64{1}, nil }

	svc := &IngestService{API: api, Store: repo, Options: testOptions()}
	report, err := svc.Run(context.Background(), "test", entries(1))
	if err != nil {
		t.Fatalf("commodity failure must be soft, got %v", err)
	}
	if report.Success {
		t.Fatalf("commodity failure must flip success")
	}
	if report.Commodities.Error == "" {
		t.Fatalf("commodity error not recorded")
	}
	if api.callCount("auctions:1") != 1 {
		t.Fatalf("auctions must still run")
	}
}

func TestRun_ItemFailedSubsetRetriedOnce(t *testing.T) {
	api := newStubAPI()
	api.item = func(id int64, attempt int) (blizzard.Result[blizzard.Item], error) {
		switch {
		case id == 11 && attempt == 1:
			return blizzard.Result[blizzard.Item]{}, transient()
		case id == 13:
			return blizzard.Result[blizzard.Item]{}, transient()
		case id == 14:
			return blizzard.Result[blizzard.Item]{}, &blizzard.APIError{Status: http.StatusForbidden}
		case id == 15:
			return blizzard.Result[blizzard.Item]{Status: blizzard.StatusMalformed, Err: blizzard.ErrMalformedPayload}, nil
		}
		return blizzard.Result[blizzard.Item]{Status: blizzard.StatusOK, Value: blizzard.Item{ID: id, Name: "x"}}, nil
	}
	svc := &IngestService{API: api, Store: newStubRepo(), Options: testOptions()}
	report, err := svc.Run(context.Background(), "test", entries(11, 13, 14, 15))
	if err != nil {
		t.Fatalf("run err=%v", err)
	}
	if !report.Success {
		t.Fatalf("item failures must not flip success")
	}
	if api.callCount("item:11") != 2 || api.callCount("item:13") != 2 {
		t.Fatalf("transient failures get exactly one more try: 11=%d 13=%d", api.callCount("item:11"), api.callCount("item:13"))
	}
	if api.callCount("item:14") != 1 || api.callCount("item:15") != 1 {
		t.Fatalf("permanent failures must not be retried")
	}
	if report.Items.Succeeded != 1 || report.Items.Failed != 3 || report.Items.Retried != 2 {
		t.Fatalf("item stage=%+v", report.Items)
	}
}

func TestRun_CredentialErrorAborts(t *testing.T) {
	api := newStubAPI()
	api.item = func(id int64, attempt int) (blizzard.Result[blizzard.Item], error) {
		return blizzard.Result[blizzard.Item]{}, &blizzard.CredentialError{Err: errors.New("revoked")}
	}
	svc := &IngestService{API: api, Store: newStubRepo(), Options: testOptions()}
	_, err := svc.Run(context.Background(), "test", entries(1))
	var credErr *blizzard.CredentialError
	if !errors.As(err, &credErr) {
		t.Fatalf("expected credential error, got %v", err)
	}
	if api.callCount("commodities") != 0 {
		t.Fatalf("run must stop after a credential failure")
	}
}

func TestRun_ConcurrentRunsLeaveOptionsUntouched(t *testing.T) {
	api := newStubAPI()
	api.index = func() ([]int64, error) { return []int64{1}, nil }
	svc := &IngestService{API: api, Store: newStubRepo()}

	var wg sync.WaitGroup
	errs := make([]error, 4)
	for i := range errs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = svc.Run(context.Background(), "test", entries(int64(100+i)))
		}()
	}
	wg.Wait()
	for i, err := range errs {
		if err != nil {
			t.Fatalf("run %d err=%v", i, err)
		}
	}
	if svc.Options != (IngestOptions{}) {
		t.Fatalf("defaults leaked into shared options: %+v", svc.Options)
	}
}

func TestMergeCommodities(t *testing.T) {
	lm := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	rows := MergeCommodities([]blizzard.Commodity{
		{ItemID: 500, UnitPrice: 10, Quantity: 3},
		{ItemID: 501, UnitPrice: 10, Quantity: 1},
		{ItemID: 500, UnitPrice: 10, Quantity: 7},
		{ItemID: 500, UnitPrice: 9, Quantity: 2},
	}, lm)
	if len(rows) != 3 {
		t.Fatalf("rows=%+v", rows)
	}
	if rows[0].ItemID != 500 || rows[0].UnitPrice != 9 || rows[1].Quantity != 10 || rows[2].ItemID != 501 {
		t.Fatalf("unexpected merge: %+v", rows)
	}
	if !rows[1].LastModified.Equal(lm) {
		t.Fatalf("last modified not carried")
	}
	if v := MarketValue(rows); v.IntPart() != 9*2+10*10+10 {
		t.Fatalf("market value=%s", v)
	}
}

func TestJob_RejectsOverlappingRun(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "items.txt")
	if err := os.WriteFile(path, []byte("1\n"), 0o644); err != nil {
		t.Fatalf("write err=%v", err)
	}
	lock := runlock.NewLocal()
	if ok, _ := lock.TryLock(context.Background()); !ok {
		t.Fatalf("setup lock failed")
	}
	job := &Job{
		Service:   &IngestService{API: newStubAPI(), Store: newStubRepo(), Options: testOptions()},
		ItemsFile: path,
		Lock:      lock,
	}
	if _, err := job.Run(context.Background(), "cron"); !errors.Is(err, ErrRunInProgress) {
		t.Fatalf("expected ErrRunInProgress, got %v", err)
	}

	_ = lock.Unlock(context.Background())
	var written []RunReport
	job.Writers = []ReportWriter{writerFunc(func(r RunReport) (string, error) {
		written = append(written, r)
		return "mem", nil
	})}
	report, err := job.Run(context.Background(), "cron")
	if err != nil || !report.Success {
		t.Fatalf("run err=%v report=%+v", err, report)
	}
	if len(written) != 1 || written[0].Trigger != "cron" {
		t.Fatalf("report not handed to writers: %+v", written)
	}
	if ok, _ := lock.TryLock(context.Background()); !ok {
		t.Fatalf("lock must be released after the run")
	}
}

type writerFunc func(RunReport) (string, error)

func (f writerFunc) Write(r RunReport) (string, error) { return f(r) }
