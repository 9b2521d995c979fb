package models

import (
	"context"
	"fmt"
	"time"

	"bitbucket.org/mmdatafocus/stocksync_backend/config"
	"bitbucket.org/mmdatafocus/stocksync_backend/utils"
)

const (
	DownloadStatusPending    = "pending"
	DownloadStatusDownloaded = "downloaded"
	DownloadStatusFailed     = "failed"
)

// ImageRecord is one product-image association row. original_id holds the
// remote catalog product id as a string; it is the key the sync engine
// diffs against. Column names follow the legacy schema, including the
// camelCase flags.
type ImageRecord struct {
	ID             string     `gorm:"primary_key;size:36" json:"id"`
	OriginalId     string     `gorm:"column:original_id;index;size:64" json:"original_id"`
	OriginalUrl    string     `gorm:"column:original_url;type:text" json:"original_url"`
	StorageUrl     string     `gorm:"column:storage_url;type:text" json:"storage_url"`
	StoragePath    string     `gorm:"column:storage_path;size:255" json:"storage_path"`
	FileName       string     `gorm:"column:file_name;size:255" json:"file_name"`
	FileSize       int64      `gorm:"column:file_size" json:"file_size"`
	MimeType       string     `gorm:"column:mime_type;size:100" json:"mime_type"`
	DownloadStatus string     `gorm:"column:download_status;size:20;index" json:"download_status"`
	ErrorMessage   string     `gorm:"column:error_message;type:text" json:"error_message"`
	CreatedAt      time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
	ProcessedAt    *time.Time `json:"processed_at"`
	IsOk           bool       `gorm:"column:isOk" json:"isOk"`
	InSystem       bool       `gorm:"column:inSystem" json:"inSystem"`
}

func (ImageRecord) TableName() string {
	return "images"
}

// StorageQueryError wraps a failed backing-store query. The sync engine
// treats it as fatal for the tenant being synced; there is no retry at
// this layer.
type StorageQueryError struct {
	Err error
}

func (e *StorageQueryError) Error() string {
	return fmt.Sprintf("failed to query product ids from store: %v", e.Err)
}

func (e *StorageQueryError) Unwrap() error {
	return e.Err
}

const (
	idScanPageSize = 1000
	idScanDelay    = 100 * time.Millisecond
)

// FetchAllOriginalIds scans the whole images table in id-ordered pages of
// 1000 rows, selecting only original_id, and dedups into a set (the table
// may reference the same product more than once). The total row count is
// taken once before the scan; paging continues while fewer rows than the
// count have been seen and the last page came back full. A short delay
// between pages keeps the scan from hammering the store.
func FetchAllOriginalIds(ctx context.Context) (map[string]struct{}, error) {
	db := config.GetDB()
	if db == nil {
		return nil, &StorageQueryError{Err: fmt.Errorf("db is nil")}
	}

	var total int64
	if err := db.WithContext(ctx).Model(&ImageRecord{}).Count(&total).Error; err != nil {
		return nil, &StorageQueryError{Err: err}
	}

	ids := make(map[string]struct{})
	fetched := int64(0)
	for fetched < total {
		var page []string
		if err := db.WithContext(ctx).Model(&ImageRecord{}).
			Order("id").
			Offset(int(fetched)).
			Limit(idScanPageSize).
			Pluck("original_id", &page).Error; err != nil {
			return nil, &StorageQueryError{Err: err}
		}

		for _, id := range page {
			if id != "" {
				ids[id] = struct{}{}
			}
		}
		fetched += int64(len(page))

		// A short page means the table shrank mid-scan; stop rather
		// than loop on the stale count.
		if len(page) < idScanPageSize {
			break
		}
		if err := utils.SleepContext(ctx, idScanDelay); err != nil {
			return nil, &StorageQueryError{Err: err}
		}
	}

	return ids, nil
}

// ImageStats summarizes the images table for the dashboard.
type ImageStats struct {
	Total      int64 `json:"total"`
	Downloaded int64 `json:"downloaded"`
	Pending    int64 `json:"pending"`
	Failed     int64 `json:"failed"`
	Ok         int64 `json:"ok"`
	InSystem   int64 `json:"inSystem"`
}

func GetImageStats(ctx context.Context) (*ImageStats, error) {
	db := config.GetDB()
	if db == nil {
		return nil, &StorageQueryError{Err: fmt.Errorf("db is nil")}
	}

	stats := &ImageStats{}
	if err := db.WithContext(ctx).Model(&ImageRecord{}).Count(&stats.Total).Error; err != nil {
		return nil, &StorageQueryError{Err: err}
	}
	counts := []struct {
		dest  *int64
		cond  string
		value interface{}
	}{
		{&stats.Downloaded, "download_status = ?", DownloadStatusDownloaded},
		{&stats.Pending, "download_status = ?", DownloadStatusPending},
		{&stats.Failed, "download_status = ?", DownloadStatusFailed},
		{&stats.Ok, "isOk = ?", true},
		{&stats.InSystem, "inSystem = ?", true},
	}
	for _, c := range counts {
		if err := db.WithContext(ctx).Model(&ImageRecord{}).
			Where(c.cond, c.value).
			Count(c.dest).Error; err != nil {
			return nil, &StorageQueryError{Err: err}
		}
	}
	return stats, nil
}

// ImageIdentifierIndex adapts the package-level scan to the sync
// engine's IdentifierIndex interface.
type ImageIdentifierIndex struct{}

func (ImageIdentifierIndex) FetchAllIdentifiers(ctx context.Context) (map[string]struct{}, error) {
	return FetchAllOriginalIds(ctx)
}
