package models

import "time"

const (
	EtlRunStatusRunning = "running"
	EtlRunStatusSuccess = "success"
	EtlRunStatusError   = "error"
)

// EtlRun is one end-to-end invocation of the export pipeline. Rows are
// append-only: the status moves to a terminal value exactly once and
// runs are never deleted except by age-based pruning.
type EtlRun struct {
	ID         uint64     `json:"id" gorm:"column:id;primaryKey;autoIncrement"`
	PublicID   string     `json:"public_id" gorm:"column:public_id;type:varchar(36);not null;uniqueIndex"`
	Status     string     `json:"status" gorm:"column:status;type:varchar(32);not null;default:'running'"`
	Notes      *string    `json:"notes,omitempty" gorm:"column:notes;type:text"`
	StartedAt  time.Time  `json:"started_at" gorm:"column:started_at;autoCreateTime"`
	FinishedAt *time.Time `json:"finished_at,omitempty" gorm:"column:finished_at"`
	CreatedAt  time.Time  `json:"created_at" gorm:"column:created_at;autoCreateTime"`
	UpdatedAt  time.Time  `json:"updated_at" gorm:"column:updated_at;autoUpdateTime"`
}

func (EtlRun) TableName() string { return "etl_runs" }
