package db

import (
	"wowmarket/internal/models"
)

func AutoMigrate(db *DB) error {
	if db == nil || db.Gorm == nil || db.SQL == nil {
		return nil
	}

	return db.Gorm.AutoMigrate(
		&models.Item{},
		&models.ConnectedRealm{},
		&models.Auction{},
		&models.Commodity{},
		&models.SyncState{},
		&models.IngestionRun{},
	)
}
