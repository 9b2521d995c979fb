package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"bitbucket.org/mmdatafocus/stocksync_backend/config"
	"bitbucket.org/mmdatafocus/stocksync_backend/maxdata"
	"bitbucket.org/mmdatafocus/stocksync_backend/models"
	"bitbucket.org/mmdatafocus/stocksync_backend/productsync"
	"bitbucket.org/mmdatafocus/stocksync_backend/proxy"
	"bitbucket.org/mmdatafocus/stocksync_backend/tokencache"
	"bitbucket.org/mmdatafocus/stocksync_backend/utils"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const defaultPort = "8080"

func main() {
	port := os.Getenv("STOCK_SYNC_PORT")
	if port == "" {
		port = os.Getenv("PORT")
	}
	if port == "" {
		port = defaultPort
	}

	logger := config.GetLogger()

	sigCtx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	catalog := maxdata.NewClient(logger)
	tokenSvc := tokencache.NewService(logger)
	syncSvc := productsync.NewService(catalog, models.ImageIdentifierIndex{}, tokenSvc, logger)
	forwarder := proxy.NewForwarder(logger)

	r := gin.New()
	r.Use(func(c *gin.Context) {
		cid := c.GetHeader("x-correlation-id")
		if cid == "" {
			cid = uuid.NewString()
		}
		c.Request = c.Request.WithContext(utils.SetCorrelationIdInContext(c.Request.Context(), cid))
		c.Next()
	})
	r.Use(func(c *gin.Context) {
		if c.Request.URL.Path == "/healthz" {
			c.Status(http.StatusNoContent)
			c.Abort()
			return
		}
		if config.GetDB() == nil || config.GetRedisDB() == nil {
			c.AbortWithStatus(http.StatusServiceUnavailable)
			return
		}
		c.Next()
	})
	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	corsConfig := cors.DefaultConfig()
	allowedOrigins := strings.TrimSpace(os.Getenv("CORS_ALLOWED_ORIGINS"))
	if strings.EqualFold(strings.TrimSpace(os.Getenv("GO_ENV")), "production") {
		if allowedOrigins == "" {
			corsConfig.AllowOrigins = []string{}
		} else {
			corsConfig.AllowOrigins = splitAndTrim(allowedOrigins)
		}
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AddAllowMethods("GET", "POST", "PUT", "DELETE", "OPTIONS")
	corsConfig.AddAllowHeaders("token", "Origin", "Content-Type", "Authorization")
	corsConfig.AddExposeHeaders("Content-Length", "Content-Disposition")
	corsConfig.AllowCredentials = true

	r.Use(cors.New(corsConfig))
	r.Use(customErrorLogger(logger))
	r.Use(gin.Recovery())

	// API endpoints (product reconciliation)
	r.GET("/api/sync/status", productsync.StatusHandler(syncSvc))
	r.POST("/api/sync", productsync.TriggerSyncHandler(syncSvc))
	r.POST("/api/sync/tenant/:empId", productsync.SyncTenantHandler(syncSvc))
	r.GET("/api/sync/missing-products", productsync.MissingProductsHandler(syncSvc))
	r.GET("/api/sync/missing-products/export", productsync.ExportMissingProductsHandler(syncSvc))
	r.GET("/api/sync/duplicate-stats", productsync.DuplicateStatsHandler(syncSvc))
	r.GET("/api/sync/stats", productsync.SyncStatsHandler(syncSvc))

	// Backing-store inspection
	r.GET("/api/supabase/stats", productsync.ImageStatsHandler())

	// Token cache endpoints
	r.GET("/api/tokens", tokencache.TokensHandler(tokenSvc))
	r.GET("/api/tokens/status", tokencache.TokenStatusHandler(tokenSvc))
	r.POST("/api/tokens/sync", tokencache.ForceSyncHandler(tokenSvc))

	// Product images go through the typed client so the tenant token is
	// resolved server-side.
	r.GET("/api/products/:empId/:productId/image", maxdata.ProductImageHandler(catalog, tokenSvc))

	// Pass-through proxy to the Max Data API.
	r.GET("/api/max-data/*path", forwarder.Handler())
	r.PUT("/api/max-data/*path", forwarder.Handler())

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "route not found"})
	})

	srv := &http.Server{
		Addr:    ":" + port,
		Handler: r,
	}
	serverErrCh := make(chan error, 1)
	go func() {
		serverErrCh <- srv.ListenAndServe()
	}()

	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()

	db := config.GetDB()
	sqlDB, _ := db.DB()
	defer func() {
		if sqlDB != nil {
			_ = sqlDB.Close()
		}
	}()

	if !strings.EqualFold(strings.TrimSpace(os.Getenv("SKIP_MIGRATIONS")), "true") {
		models.MigrateTable()
	} else {
		logger.WithFields(logrus.Fields{"field": "migrations"}).Warn("SKIP_MIGRATIONS=true; skipping AutoMigrate on startup")
	}

	tokenSvc.StartAutoSync(sigCtx)
	defer tokenSvc.StopAutoSync()

	select {
	case <-sigCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	case err := <-serverErrCh:
		if err != nil && err != http.ErrServerClosed {
			logger.WithFields(logrus.Fields{"field": "server"}).Error(err)
		}
	}
}

func splitAndTrim(csv string) []string {
	if strings.TrimSpace(csv) == "" {
		return nil
	}
	parts := strings.Split(csv, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func customErrorLogger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		latency := time.Since(start)
		cid, _ := utils.GetCorrelationIdFromContext(c.Request.Context())
		logger.WithFields(logrus.Fields{
			"status":         c.Writer.Status(),
			"method":         c.Request.Method,
			"path":           c.Request.URL.Path,
			"latency":        latency.String(),
			"correlation_id": cid,
		}).Info("request")
	}
}
