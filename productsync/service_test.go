package productsync

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"

	"bitbucket.org/mmdatafocus/stocksync_backend/maxdata"
	"github.com/sirupsen/logrus"
)

type fakeCatalog struct {
	mu       sync.Mutex
	tokens   map[int]string
	products map[int][]maxdata.Product
	errs     map[int]error
	calls    int
	started  chan struct{}
	release  chan struct{}
}

func (f *fakeCatalog) SetAuthTokens(tokens map[int]string) {
	f.mu.Lock()
	f.tokens = tokens
	f.mu.Unlock()
}

func (f *fakeCatalog) GetAllProducts(ctx context.Context, empId int) ([]maxdata.Product, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.started != nil {
		f.started <- struct{}{}
	}
	if f.release != nil {
		<-f.release
	}
	if err, ok := f.errs[empId]; ok {
		return nil, err
	}
	return f.products[empId], nil
}

type fakeIndex struct {
	ids map[string]struct{}
	err error
}

func (f *fakeIndex) FetchAllIdentifiers(ctx context.Context) (map[string]struct{}, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.ids, nil
}

type fakeTokens struct {
	table map[int]string
	err   error
}

func (f *fakeTokens) TokenMap(ctx context.Context) (map[int]string, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.table, nil
}

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func product(id, empId int) maxdata.Product {
	return maxdata.Product{ID: id, Descricao: "Produto", EmpId: empId, SaldoEstoque: 5}
}

func localIds(ids ...string) map[string]struct{} {
	out := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		out[id] = struct{}{}
	}
	return out
}

func TestSyncTenantFindsMissing(t *testing.T) {
	catalog := &fakeCatalog{products: map[int][]maxdata.Product{
		2: {product(101, 2), product(102, 2), product(103, 2)},
	}}
	index := &fakeIndex{ids: localIds("101")}
	tokens := &fakeTokens{table: map[int]string{2: "tok-2"}}
	svc := NewService(catalog, index, tokens, testLogger())

	result, err := svc.SyncTenant(context.Background(), 2)
	if err != nil {
		t.Fatalf("SyncTenant: %v", err)
	}
	if result.TotalProductsMaxData != 3 {
		t.Errorf("TotalProductsMaxData = %d, want 3", result.TotalProductsMaxData)
	}
	if result.TotalProductsSupabase != 1 {
		t.Errorf("TotalProductsSupabase = %d, want 1", result.TotalProductsSupabase)
	}
	if len(result.Errors) != 0 {
		t.Errorf("Errors = %v, want none", result.Errors)
	}
	if len(result.MissingProducts) != 2 {
		t.Fatalf("missing = %d products, want 2", len(result.MissingProducts))
	}
	if result.MissingProducts[0].ID != 102 || result.MissingProducts[1].ID != 103 {
		t.Errorf("missing ids = [%d %d], want [102 103]",
			result.MissingProducts[0].ID, result.MissingProducts[1].ID)
	}
}

func TestSyncTenantIdempotent(t *testing.T) {
	catalog := &fakeCatalog{products: map[int][]maxdata.Product{
		2: {product(101, 2), product(102, 2)},
	}}
	index := &fakeIndex{ids: localIds("101")}
	tokens := &fakeTokens{table: map[int]string{2: "tok-2"}}
	svc := NewService(catalog, index, tokens, testLogger())

	first, err := svc.SyncTenant(context.Background(), 2)
	if err != nil {
		t.Fatalf("first sync: %v", err)
	}
	second, err := svc.SyncTenant(context.Background(), 2)
	if err != nil {
		t.Fatalf("second sync: %v", err)
	}
	if len(first.MissingProducts) != len(second.MissingProducts) {
		t.Errorf("missing count changed between runs: %d vs %d",
			len(first.MissingProducts), len(second.MissingProducts))
	}
	if second.MissingProducts[0].ID != 102 {
		t.Errorf("missing id = %d, want 102", second.MissingProducts[0].ID)
	}
}

func TestSyncTenantInvalidId(t *testing.T) {
	svc := NewService(&fakeCatalog{}, &fakeIndex{}, &fakeTokens{}, testLogger())
	if _, err := svc.SyncTenant(context.Background(), 0); err == nil {
		t.Fatal("expected error for tenant id 0")
	}
	if _, err := svc.SyncTenant(context.Background(), -3); err == nil {
		t.Fatal("expected error for negative tenant id")
	}
}

func TestSyncTenantMissingToken(t *testing.T) {
	catalog := &fakeCatalog{products: map[int][]maxdata.Product{2: {product(101, 2)}}}
	svc := NewService(catalog, &fakeIndex{ids: localIds()}, &fakeTokens{table: map[int]string{}}, testLogger())

	result, err := svc.SyncTenant(context.Background(), 2)
	if err != nil {
		t.Fatalf("missing token must not fail the call: %v", err)
	}
	if result.TotalProductsMaxData != 0 || result.TotalProductsSupabase != 0 {
		t.Errorf("totals = %d/%d, want 0/0", result.TotalProductsMaxData, result.TotalProductsSupabase)
	}
	if len(result.Errors) != 1 || !strings.Contains(result.Errors[0], "token not found for tenant 2") {
		t.Errorf("Errors = %v, want token-not-found message", result.Errors)
	}
	if catalog.calls != 0 {
		t.Errorf("catalog called %d times without a token, want 0", catalog.calls)
	}
}

func TestSyncTenantCatalogFailureOverwritesResult(t *testing.T) {
	catalog := &fakeCatalog{
		products: map[int][]maxdata.Product{2: {product(101, 2), product(102, 2)}},
		errs:     map[int]error{},
	}
	index := &fakeIndex{ids: localIds("101")}
	tokens := &fakeTokens{table: map[int]string{2: "tok-2"}}
	svc := NewService(catalog, index, tokens, testLogger())

	if _, err := svc.SyncTenant(context.Background(), 2); err != nil {
		t.Fatalf("seed sync: %v", err)
	}

	catalog.errs[2] = errors.New("failed after 3 consecutive attempts: remote api returned status 500")
	result, err := svc.SyncTenant(context.Background(), 2)
	if err != nil {
		t.Fatalf("failed sync must still return a result: %v", err)
	}
	if result.TotalProductsMaxData != 0 || len(result.MissingProducts) != 0 {
		t.Errorf("failed run kept stale data: %+v", result)
	}
	if len(result.Errors) != 1 || !strings.Contains(result.Errors[0], "consecutive attempts") {
		t.Errorf("Errors = %v, want wrapped fetch error", result.Errors)
	}

	status := svc.GetStatus()
	if got := status.Results[2]; got == nil || len(got.Errors) != 1 {
		t.Errorf("cached result not overwritten by failed run: %+v", got)
	}
}

func TestSyncTenantIndexFailure(t *testing.T) {
	catalog := &fakeCatalog{products: map[int][]maxdata.Product{2: {product(101, 2)}}}
	index := &fakeIndex{err: errors.New("storage query failed: connection refused")}
	tokens := &fakeTokens{table: map[int]string{2: "tok-2"}}
	svc := NewService(catalog, index, tokens, testLogger())

	result, err := svc.SyncTenant(context.Background(), 2)
	if err != nil {
		t.Fatalf("index failure must not fail the call: %v", err)
	}
	if len(result.Errors) != 1 || !strings.Contains(result.Errors[0], "storage query failed") {
		t.Errorf("Errors = %v, want storage error", result.Errors)
	}
}

func TestSyncTenantTokenSourceFailure(t *testing.T) {
	tokens := &fakeTokens{err: errors.New("redis unavailable")}
	svc := NewService(&fakeCatalog{}, &fakeIndex{}, tokens, testLogger())

	if _, err := svc.SyncTenant(context.Background(), 2); err == nil {
		t.Fatal("expected credential-store error to propagate")
	}
}

func TestSyncAllDedupAndDuplicates(t *testing.T) {
	catalog := &fakeCatalog{products: map[int][]maxdata.Product{
		2: {product(200, 2), product(201, 2)},
		3: {product(201, 3), product(202, 3)},
	}}
	index := &fakeIndex{ids: localIds()}
	tokens := &fakeTokens{table: map[int]string{2: "tok-2", 3: "tok-3"}}
	svc := NewService(catalog, index, tokens, testLogger())

	status, err := svc.SyncAll(context.Background(), []int{2, 3})
	if err != nil {
		t.Fatalf("SyncAll: %v", err)
	}
	if len(status.Results) != 2 {
		t.Fatalf("results for %d tenants, want 2", len(status.Results))
	}

	unique := svc.GetUniqueMissingProducts()
	if len(unique) != 3 {
		t.Fatalf("unique missing = %d, want 3", len(unique))
	}
	wantIds := []int{200, 201, 202}
	for i, info := range unique {
		if info.ID != wantIds[i] {
			t.Errorf("unique[%d].ID = %d, want %d", i, info.ID, wantIds[i])
		}
	}
	// 201 surfaced from tenant 2; tenant 3's copy was the duplicate.
	if unique[1].EmpId != 2 {
		t.Errorf("unique[1].EmpId = %d, want 2", unique[1].EmpId)
	}

	stats := svc.GetDuplicateStats()
	if stats.TotalUnique != 3 {
		t.Errorf("TotalUnique = %d, want 3", stats.TotalUnique)
	}
	if stats.TotalDuplicates != 1 {
		t.Errorf("TotalDuplicates = %d, want 1", stats.TotalDuplicates)
	}
	if len(stats.DuplicateIds) != 1 || stats.DuplicateIds[0] != 201 {
		t.Errorf("DuplicateIds = %v, want [201]", stats.DuplicateIds)
	}
	if stats.PerTenantTotals[2] != 2 || stats.PerTenantTotals[3] != 2 {
		t.Errorf("PerTenantTotals = %v, want 2 each", stats.PerTenantTotals)
	}
}

func TestSyncAllContinuesPastMissingToken(t *testing.T) {
	catalog := &fakeCatalog{products: map[int][]maxdata.Product{
		3: {product(301, 3)},
	}}
	index := &fakeIndex{ids: localIds()}
	tokens := &fakeTokens{table: map[int]string{3: "tok-3"}}
	svc := NewService(catalog, index, tokens, testLogger())

	status, err := svc.SyncAll(context.Background(), []int{2, 3})
	if err != nil {
		t.Fatalf("SyncAll: %v", err)
	}
	if len(status.Errors) != 1 || !strings.Contains(status.Errors[0], "token not found for tenant 2") {
		t.Errorf("batch errors = %v, want tenant 2 token message", status.Errors)
	}
	if _, ok := status.Results[3]; !ok {
		t.Error("tenant 3 was not synced")
	}
	if _, ok := status.Results[2]; ok {
		t.Error("tenant 2 has a result despite missing token")
	}
}

func TestConcurrentSyncRejected(t *testing.T) {
	catalog := &fakeCatalog{
		products: map[int][]maxdata.Product{2: {product(101, 2)}},
		started:  make(chan struct{}, 1),
		release:  make(chan struct{}),
	}
	index := &fakeIndex{ids: localIds()}
	tokens := &fakeTokens{table: map[int]string{2: "tok-2"}}
	svc := NewService(catalog, index, tokens, testLogger())

	done := make(chan struct{})
	go func() {
		defer close(done)
		if _, err := svc.SyncTenant(context.Background(), 2); err != nil {
			t.Errorf("first sync: %v", err)
		}
	}()

	<-catalog.started
	if !svc.GetStatus().IsRunning {
		t.Error("IsRunning = false while a sync is in flight")
	}
	if _, err := svc.SyncTenant(context.Background(), 2); !errors.Is(err, ErrSyncInProgress) {
		t.Errorf("second SyncTenant err = %v, want ErrSyncInProgress", err)
	}
	if _, err := svc.SyncAll(context.Background(), []int{2}); !errors.Is(err, ErrSyncInProgress) {
		t.Errorf("SyncAll err = %v, want ErrSyncInProgress", err)
	}

	close(catalog.release)
	<-done
	if svc.GetStatus().IsRunning {
		t.Error("IsRunning = true after sync finished")
	}
}

func TestGetStatusBeforeAnySync(t *testing.T) {
	svc := NewService(&fakeCatalog{}, &fakeIndex{}, &fakeTokens{}, testLogger())
	status := svc.GetStatus()
	if status.IsRunning {
		t.Error("IsRunning = true on fresh service")
	}
	if len(status.Results) != 0 {
		t.Errorf("Results = %v, want empty", status.Results)
	}
	if status.LastSync != nil {
		t.Errorf("LastSync = %v, want nil", status.LastSync)
	}
}

func TestGetMissingProductsInfoUnknownTenant(t *testing.T) {
	svc := NewService(&fakeCatalog{}, &fakeIndex{}, &fakeTokens{}, testLogger())
	if infos := svc.GetMissingProductsInfo(9); len(infos) != 0 {
		t.Errorf("unknown tenant returned %d rows, want 0", len(infos))
	}
}

func TestHasMissingProducts(t *testing.T) {
	catalog := &fakeCatalog{products: map[int][]maxdata.Product{2: {product(101, 2)}}}
	index := &fakeIndex{ids: localIds()}
	tokens := &fakeTokens{table: map[int]string{2: "tok-2"}}
	svc := NewService(catalog, index, tokens, testLogger())

	if svc.HasMissingProducts() {
		t.Error("HasMissingProducts = true before any sync")
	}
	if _, err := svc.SyncTenant(context.Background(), 2); err != nil {
		t.Fatalf("SyncTenant: %v", err)
	}
	if !svc.HasMissingProducts() {
		t.Error("HasMissingProducts = false after sync found gaps")
	}
}
