package productsync

import (
	"errors"
	"net/http"
	"os"
	"strconv"
	"strings"

	"bitbucket.org/mmdatafocus/stocksync_backend/models"
	"github.com/gin-gonic/gin"
)

// DefaultTenants reads the tenant ids this deployment reconciles,
// ascending. SYNC_EMP_IDS is a comma list; the historical default is
// tenants 2 and 3.
func DefaultTenants() []int {
	raw := strings.TrimSpace(os.Getenv("SYNC_EMP_IDS"))
	if raw == "" {
		return []int{2, 3}
	}
	var empIds []int
	for _, part := range strings.Split(raw, ",") {
		if n, err := strconv.Atoi(strings.TrimSpace(part)); err == nil && n > 0 {
			empIds = append(empIds, n)
		}
	}
	if len(empIds) == 0 {
		return []int{2, 3}
	}
	return empIds
}

type triggerSyncRequest struct {
	Tenants []int `json:"tenants"`
}

func StatusHandler(s *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, s.GetStatus())
	}
}

func TriggerSyncHandler(s *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req triggerSyncRequest
		// Body is optional; an empty body means the configured tenants.
		_ = c.ShouldBindJSON(&req)

		tenants := req.Tenants
		if len(tenants) == 0 {
			tenants = DefaultTenants()
		}

		status, err := s.SyncAll(c.Request.Context(), tenants)
		if err != nil {
			if errors.Is(err, ErrSyncInProgress) {
				c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, status)
	}
}

func SyncTenantHandler(s *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		empId, err := strconv.Atoi(c.Param("empId"))
		if err != nil || empId <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid tenant id"})
			return
		}

		result, err := s.SyncTenant(c.Request.Context(), empId)
		if err != nil {
			if errors.Is(err, ErrSyncInProgress) {
				c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, result)
	}
}

// MissingProductsHandler returns the deduplicated cross-tenant missing
// list, or a single tenant's list when ?empId= is given.
func MissingProductsHandler(s *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		if v := strings.TrimSpace(c.Query("empId")); v != "" {
			empId, err := strconv.Atoi(v)
			if err != nil || empId <= 0 {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid tenant id"})
				return
			}
			c.JSON(http.StatusOK, gin.H{"items": s.GetMissingProductsInfo(empId)})
			return
		}
		c.JSON(http.StatusOK, gin.H{"items": s.GetUniqueMissingProducts()})
	}
}

func ExportMissingProductsHandler(s *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		f, err := s.ExportMissingProductsExcel()
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.Header("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
		c.Header("Content-Disposition", "attachment; filename=missing-products.xlsx")
		if err := f.Write(c.Writer); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to write file"})
		}
	}
}

func DuplicateStatsHandler(s *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, s.GetDuplicateStats())
	}
}

func SyncStatsHandler(s *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, s.GetSyncStats())
	}
}

// ImageStatsHandler reports backing-store image table counters.
func ImageStatsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		stats, err := models.GetImageStats(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, stats)
	}
}
