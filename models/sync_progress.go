package models

import "time"

const (
	SyncStatusPending   = "pending"
	SyncStatusRunning   = "running"
	SyncStatusCompleted = "completed"
	SyncStatusFailed    = "failed"
	SyncStatusSkipped   = "skipped"
)

// SyncProgress records how far one entity got within one run. At most
// one row exists per (run, entity); the offset never decreases and the
// status only moves forward, except failed -> running on an explicit
// resume.
type SyncProgress struct {
	ID             uint64    `json:"id" gorm:"column:id;primaryKey;autoIncrement"`
	RunID          uint64    `json:"run_id" gorm:"column:run_id;not null;uniqueIndex:uq_sync_progress_run_entity"`
	Entity         string    `json:"entity" gorm:"column:entity;type:varchar(64);not null;uniqueIndex:uq_sync_progress_run_entity"`
	Status         string    `json:"status" gorm:"column:status;type:varchar(32);not null;default:'pending'"`
	LastOffset     int       `json:"last_offset" gorm:"column:last_offset;not null;default:0"`
	LastLimit      int       `json:"last_limit" gorm:"column:last_limit;not null;default:0"`
	ItemsProcessed int       `json:"items_processed" gorm:"column:items_processed;not null;default:0"`
	PagesProcessed int       `json:"pages_processed" gorm:"column:pages_processed;not null;default:0"`
	ErrorMessage   *string   `json:"error_message,omitempty" gorm:"column:error_message;type:text"`
	CreatedAt      time.Time `json:"created_at" gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time `json:"updated_at" gorm:"column:updated_at;autoUpdateTime"`
}

func (SyncProgress) TableName() string { return "sync_progress" }

// Terminal reports whether the status is one the orchestrator never
// advances past within the same invocation.
func (p *SyncProgress) Terminal() bool {
	switch p.Status {
	case SyncStatusCompleted, SyncStatusFailed, SyncStatusSkipped:
		return true
	}
	return false
}
