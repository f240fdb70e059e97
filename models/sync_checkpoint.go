package models

import (
	"time"

	"gorm.io/datatypes"
)

// CheckpointKindPage is the checkpoint written after every confirmed page.
const CheckpointKindPage = "page"

// SyncCheckpoint holds an opaque resume marker keyed by
// (run, entity, kind). Writing the same key again replaces the blob
// (last-write-wins).
type SyncCheckpoint struct {
	ID        uint64         `json:"id" gorm:"column:id;primaryKey;autoIncrement"`
	RunID     uint64         `json:"run_id" gorm:"column:run_id;not null;uniqueIndex:uq_sync_checkpoints_key"`
	Entity    string         `json:"entity" gorm:"column:entity;type:varchar(64);not null;uniqueIndex:uq_sync_checkpoints_key"`
	Kind      string         `json:"kind" gorm:"column:kind;type:varchar(32);not null;uniqueIndex:uq_sync_checkpoints_key"`
	Data      datatypes.JSON `json:"data" gorm:"column:data;type:jsonb"`
	CreatedAt time.Time      `json:"created_at" gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time      `json:"updated_at" gorm:"column:updated_at;autoUpdateTime"`
}

func (SyncCheckpoint) TableName() string { return "sync_checkpoints" }

// PageCheckpoint is the structured form of the page checkpoint blob.
type PageCheckpoint struct {
	Offset int    `json:"offset"`
	Limit  int    `json:"limit"`
	Since  string `json:"since,omitempty"`
}
