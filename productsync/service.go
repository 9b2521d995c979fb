package productsync

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"bitbucket.org/mmdatafocus/stocksync_backend/config"
	"bitbucket.org/mmdatafocus/stocksync_backend/maxdata"
	"github.com/bsm/redislock"
	"github.com/sirupsen/logrus"
)

// ErrSyncInProgress is returned when a sync is requested while another
// one is still running. It is never recorded in a result.
var ErrSyncInProgress = errors.New("sync already in progress")

const (
	clusterLockKey = "product-sync:run"
	clusterLockTTL = 15 * time.Minute
)

// Service reconciles the remote catalog against the local identifier
// store. One instance per process; at most one sync runs at a time,
// while status reads stay lock-free against in-flight syncs (each
// tenant's result slot is replaced wholesale, never mutated).
type Service struct {
	catalog CatalogClient
	index   IdentifierIndex
	tokens  TokenSource
	logger  *logrus.Logger

	mu      sync.Mutex // guards running
	running bool

	resultsMu sync.RWMutex
	results   map[int]*SyncResult
}

func NewService(catalog CatalogClient, index IdentifierIndex, tokens TokenSource, logger *logrus.Logger) *Service {
	return &Service{
		catalog: catalog,
		index:   index,
		tokens:  tokens,
		logger:  logger,
		results: make(map[int]*SyncResult),
	}
}

func (s *Service) tryStart() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return false
	}
	s.running = true
	return true
}

func (s *Service) finish() {
	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
}

func (s *Service) isRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// lockCluster takes a best-effort cross-replica lock so two instances
// never full-scan the ERP at once. Without Redis the in-process flag is
// the only guard. A lock held elsewhere is treated the same as a local
// concurrent sync.
func (s *Service) lockCluster(ctx context.Context) (func(), error) {
	locker := config.GetRedisLock()
	if locker == nil {
		return func() {}, nil
	}
	lock, err := locker.Obtain(ctx, clusterLockKey, clusterLockTTL, nil)
	if err != nil {
		if errors.Is(err, redislock.ErrNotObtained) {
			return nil, ErrSyncInProgress
		}
		s.logger.Warn("could not obtain cluster sync lock, proceeding with local guard only: ", err.Error())
		return func() {}, nil
	}
	return func() { _ = lock.Release(context.Background()) }, nil
}

// SyncTenant runs a full reconciliation for one tenant. Fetch failures
// never escape: they land as error strings on a zero-valued result. The
// errors that do reach the caller are the concurrency guard, an invalid
// tenant id, and a credential-store transport failure.
func (s *Service) SyncTenant(ctx context.Context, empId int) (*SyncResult, error) {
	if empId <= 0 {
		return nil, fmt.Errorf("invalid tenant id: %d", empId)
	}
	if !s.tryStart() {
		return nil, ErrSyncInProgress
	}
	defer s.finish()

	release, err := s.lockCluster(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	tokenTable, err := s.tokens.TokenMap(ctx)
	if err != nil {
		return nil, err
	}
	s.catalog.SetAuthTokens(tokenTable)

	if _, ok := tokenTable[empId]; !ok {
		result := s.failResult(empId, &maxdata.AuthenticationError{EmpId: empId})
		return result, nil
	}
	return s.syncTenantLocked(ctx, empId), nil
}

// syncTenantLocked does the actual diff for one tenant. Caller must
// hold the running flag. The remote catalog is fetched completely
// before the local snapshot is taken; the diff never sees a partially
// fetched side.
func (s *Service) syncTenantLocked(ctx context.Context, empId int) *SyncResult {
	s.logger.WithFields(logrus.Fields{"empId": empId}).Info("tenant sync started")

	products, err := s.catalog.GetAllProducts(ctx, empId)
	if err != nil {
		return s.failResult(empId, err)
	}

	localIds, err := s.index.FetchAllIdentifiers(ctx)
	if err != nil {
		return s.failResult(empId, err)
	}

	missing := make([]maxdata.Product, 0)
	for _, product := range products {
		if _, known := localIds[strconv.Itoa(product.ID)]; !known {
			missing = append(missing, product)
		}
	}

	result := &SyncResult{
		TotalProductsMaxData:  len(products),
		TotalProductsSupabase: len(localIds),
		MissingProducts:       missing,
		EmpId:                 empId,
		LastSync:              time.Now(),
		Errors:                []string{},
	}
	s.storeResult(result)

	s.logger.WithFields(logrus.Fields{
		"empId":   empId,
		"remote":  result.TotalProductsMaxData,
		"local":   result.TotalProductsSupabase,
		"missing": len(missing),
	}).Info("tenant sync complete")
	return result
}

// failResult records a zero-valued result carrying the error. This
// overwrites any previous good result for the tenant on purpose: the
// dashboard shows current truth, not the last success (kept compatible
// with the system this replaces).
func (s *Service) failResult(empId int, cause error) *SyncResult {
	config.LogError(s.logger, "productsync", "SyncTenant", fmt.Sprintf("tenant %d", empId), nil, cause)
	result := &SyncResult{
		TotalProductsMaxData:  0,
		TotalProductsSupabase: 0,
		MissingProducts:       []maxdata.Product{},
		EmpId:                 empId,
		LastSync:              time.Now(),
		Errors:                []string{cause.Error()},
	}
	s.storeResult(result)
	return result
}

func (s *Service) storeResult(result *SyncResult) {
	s.resultsMu.Lock()
	s.results[result.EmpId] = result
	s.resultsMu.Unlock()
}

// SyncAll reconciles every given tenant sequentially, holding the
// running flag for the whole batch. Credentials are resolved once up
// front; tenants without one get an error string but do not stop the
// batch. Tenant order follows the input.
func (s *Service) SyncAll(ctx context.Context, empIds []int) (*SyncStatus, error) {
	if !s.tryStart() {
		return nil, ErrSyncInProgress
	}
	defer s.finish()

	release, err := s.lockCluster(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	s.logger.WithFields(logrus.Fields{"tenants": empIds}).Info("full sync started")

	tokenTable, err := s.tokens.TokenMap(ctx)
	if err != nil {
		return nil, err
	}
	s.catalog.SetAuthTokens(tokenTable)

	batchErrors := []string{}
	for _, empId := range empIds {
		if _, ok := tokenTable[empId]; !ok {
			msg := fmt.Sprintf("token not found for tenant %d", empId)
			batchErrors = append(batchErrors, msg)
			s.logger.Warn(msg)
			continue
		}
		s.syncTenantLocked(ctx, empId)
	}

	status := s.statusSnapshot(false, batchErrors)
	s.logger.Info("full sync complete")
	return status, nil
}

// GetStatus is a pure read over cached results plus the running flag.
// It never touches the network and never blocks on an in-flight sync.
func (s *Service) GetStatus() *SyncStatus {
	return s.statusSnapshot(s.isRunning(), []string{})
}

func (s *Service) statusSnapshot(running bool, errs []string) *SyncStatus {
	s.resultsMu.RLock()
	defer s.resultsMu.RUnlock()

	results := make(map[int]*SyncResult, len(s.results))
	var lastSync *time.Time
	for empId, result := range s.results {
		results[empId] = result
		if lastSync == nil || result.LastSync.After(*lastSync) {
			t := result.LastSync
			lastSync = &t
		}
	}
	return &SyncStatus{
		IsRunning: running,
		Results:   results,
		LastSync:  lastSync,
		Errors:    errs,
	}
}

func (s *Service) sortedTenants() []int {
	empIds := make([]int, 0, len(s.results))
	for empId := range s.results {
		empIds = append(empIds, empId)
	}
	sort.Ints(empIds)
	return empIds
}

// GetUniqueMissingProducts merges the cached missing lists across
// tenants, keeping the first occurrence of each product id in ascending
// tenant order. Pure function over cached state.
func (s *Service) GetUniqueMissingProducts() []MissingProductInfo {
	s.resultsMu.RLock()
	defer s.resultsMu.RUnlock()

	seen := make(map[int]struct{})
	unique := []MissingProductInfo{}
	for _, empId := range s.sortedTenants() {
		result := s.results[empId]
		for _, product := range result.MissingProducts {
			if _, dup := seen[product.ID]; dup {
				continue
			}
			seen[product.ID] = struct{}{}
			unique = append(unique, toMissingInfo(product))
		}
	}
	return unique
}

// GetMissingProductsInfo returns one tenant's cached missing list in
// presentation form. Unknown tenant yields an empty list.
func (s *Service) GetMissingProductsInfo(empId int) []MissingProductInfo {
	s.resultsMu.RLock()
	defer s.resultsMu.RUnlock()

	result, ok := s.results[empId]
	if !ok {
		return []MissingProductInfo{}
	}
	infos := make([]MissingProductInfo, 0, len(result.MissingProducts))
	for _, product := range result.MissingProducts {
		infos = append(infos, toMissingInfo(product))
	}
	return infos
}

// GetDuplicateStats reports overlap between the tenants' missing sets.
// Defined for any number of tenants: a duplicate id is one missing from
// more than one tenant.
func (s *Service) GetDuplicateStats() *DuplicateStats {
	s.resultsMu.RLock()
	defer s.resultsMu.RUnlock()

	occurrences := make(map[int]int)
	perTenant := make(map[int]int, len(s.results))
	for empId, result := range s.results {
		perTenant[empId] = len(result.MissingProducts)
		tenantSeen := make(map[int]struct{}, len(result.MissingProducts))
		for _, product := range result.MissingProducts {
			if _, dup := tenantSeen[product.ID]; dup {
				continue
			}
			tenantSeen[product.ID] = struct{}{}
			occurrences[product.ID]++
		}
	}

	duplicateIds := []int{}
	for id, count := range occurrences {
		if count > 1 {
			duplicateIds = append(duplicateIds, id)
		}
	}
	sort.Ints(duplicateIds)

	return &DuplicateStats{
		TotalUnique:     len(occurrences),
		TotalDuplicates: len(duplicateIds),
		PerTenantTotals: perTenant,
		DuplicateIds:    duplicateIds,
	}
}

// GetSyncStats returns the quick counters for the dashboard header.
func (s *Service) GetSyncStats() *SyncStats {
	s.resultsMu.RLock()
	defer s.resultsMu.RUnlock()

	stats := &SyncStats{PerTenantMissing: make(map[int]int, len(s.results))}
	for empId, result := range s.results {
		stats.PerTenantMissing[empId] = len(result.MissingProducts)
		stats.TotalMissing += len(result.MissingProducts)
		if stats.LastSync == nil || result.LastSync.After(*stats.LastSync) {
			t := result.LastSync
			stats.LastSync = &t
		}
	}
	return stats
}

func (s *Service) HasMissingProducts() bool {
	return s.GetSyncStats().TotalMissing > 0
}

func toMissingInfo(product maxdata.Product) MissingProductInfo {
	info := MissingProductInfo{
		ID:           product.ID,
		Descricao:    product.Descricao,
		Ean:          product.Ean,
		SaldoEstoque: product.SaldoEstoque,
		EmpId:        product.EmpId,
		Preco:        product.Preco,
		HasImage:     product.Foto != "",
	}
	if product.IdGrupo != nil {
		info.Grupo = fmt.Sprintf("Grupo %d", *product.IdGrupo)
	}
	if product.IdSubGrupo != nil {
		info.Subgrupo = fmt.Sprintf("Subgrupo %d", *product.IdSubGrupo)
	}
	return info
}
