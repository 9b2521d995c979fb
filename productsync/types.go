package productsync

import (
	"context"
	"time"

	"bitbucket.org/mmdatafocus/stocksync_backend/maxdata"
	"github.com/shopspring/decimal"
)

// CatalogClient is the slice of the Max Data client the engine needs.
type CatalogClient interface {
	SetAuthTokens(tokens map[int]string)
	GetAllProducts(ctx context.Context, empId int) ([]maxdata.Product, error)
}

// IdentifierIndex fetches the complete set of product ids already known
// to the backing store, as one frozen snapshot.
type IdentifierIndex interface {
	FetchAllIdentifiers(ctx context.Context) (map[string]struct{}, error)
}

// TokenSource provides the per-tenant bearer token table.
type TokenSource interface {
	TokenMap(ctx context.Context) (map[int]string, error)
}

// SyncResult is the outcome of one tenant reconciliation. A failed run
// still produces a result: zero totals plus error strings. Results are
// immutable once stored; a new run replaces the whole value.
type SyncResult struct {
	TotalProductsMaxData  int               `json:"totalProductsMaxData"`
	TotalProductsSupabase int               `json:"totalProductsSupabase"`
	MissingProducts       []maxdata.Product `json:"missingProducts"`
	EmpId                 int               `json:"empId"`
	LastSync              time.Time         `json:"lastSync"`
	Errors                []string          `json:"errors"`
}

// SyncStatus is the process-wide aggregate the dashboard polls.
type SyncStatus struct {
	IsRunning bool                `json:"isRunning"`
	Results   map[int]*SyncResult `json:"results"`
	LastSync  *time.Time          `json:"lastSync"`
	Errors    []string            `json:"errors"`
}

// MissingProductInfo is the presentation view of one missing product.
type MissingProductInfo struct {
	ID           int              `json:"id"`
	Descricao    string           `json:"descricao"`
	Ean          string           `json:"ean,omitempty"`
	SaldoEstoque int              `json:"saldoEstoque"`
	EmpId        int              `json:"empId"`
	Grupo        string           `json:"grupo,omitempty"`
	Subgrupo     string           `json:"subgrupo,omitempty"`
	Preco        *decimal.Decimal `json:"preco,omitempty"`
	HasImage     bool             `json:"hasImage"`
}

// DuplicateStats describes overlap between the tenants' missing sets.
// A duplicate is an id present in the missing list of more than one
// tenant.
type DuplicateStats struct {
	TotalUnique     int         `json:"totalUnique"`
	TotalDuplicates int         `json:"totalDuplicates"`
	PerTenantTotals map[int]int `json:"perTenantTotals"`
	DuplicateIds    []int       `json:"duplicateIds"`
}

// SyncStats is the quick counters widget.
type SyncStats struct {
	TotalMissing     int         `json:"totalMissing"`
	PerTenantMissing map[int]int `json:"perTenantMissing"`
	LastSync         *time.Time  `json:"lastSync"`
}
