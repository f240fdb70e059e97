package models

import "gorm.io/gorm"

// MigrateAll creates or extends every table the exporter owns. GORM
// automigration only adds missing tables/columns; nothing destructive
// runs here.
func MigrateAll(db *gorm.DB) error {
	return db.AutoMigrate(
		// metadata namespace
		&EtlRun{},
		&SyncProgress{},
		&SyncCheckpoint{},
		&RequestLog{},
		&SourceCount{},
		// entity tables
		&KeapUser{},
		&Tag{},
		&Company{},
		&Contact{},
		&ContactTag{},
		&Opportunity{},
		&Order{},
		&OrderItem{},
	)
}
