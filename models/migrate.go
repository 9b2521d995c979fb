package models

import (
	"log"

	"bitbucket.org/mmdatafocus/stocksync_backend/config"
)

// MigrateTable runs AutoMigrate for every table this service owns.
func MigrateTable() {
	db := config.GetDB()
	if db == nil {
		log.Println("skipping migration: db is nil")
		return
	}
	if err := db.AutoMigrate(
		&ImageRecord{},
	); err != nil {
		log.Printf("auto migrate failed: %v", err)
	}
}
