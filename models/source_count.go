package models

import "time"

// SourceCount records the total items retrieved from the source for one
// entity in one run. The validation reporter compares it against rows
// actually persisted.
type SourceCount struct {
	ID             uint64    `json:"id" gorm:"column:id;primaryKey;autoIncrement"`
	RunID          uint64    `json:"run_id" gorm:"column:run_id;not null;uniqueIndex:uq_source_counts_run_entity"`
	Entity         string    `json:"entity" gorm:"column:entity;type:varchar(64);not null;uniqueIndex:uq_source_counts_run_entity"`
	ItemsRetrieved int       `json:"items_retrieved" gorm:"column:items_retrieved;not null"`
	CreatedAt      time.Time `json:"created_at" gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time `json:"updated_at" gorm:"column:updated_at;autoUpdateTime"`
}

func (SourceCount) TableName() string { return "source_counts" }
