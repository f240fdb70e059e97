package models

import "time"

// RequestLog is one row per page fetched from the Keap API. Append-only,
// used for metrics and post-hoc debugging, never mutated.
type RequestLog struct {
	ID                uint64    `json:"id" gorm:"column:id;primaryKey;autoIncrement"`
	RunID             uint64    `json:"run_id" gorm:"column:run_id;not null;index"`
	Entity            string    `json:"entity" gorm:"column:entity;type:varchar(64);not null"`
	Endpoint          string    `json:"endpoint" gorm:"column:endpoint;type:text;not null"`
	PageOffset        int       `json:"page_offset" gorm:"column:page_offset;not null"`
	PageLimit         int       `json:"page_limit" gorm:"column:page_limit;not null"`
	HTTPStatus        int       `json:"http_status" gorm:"column:http_status;not null"`
	ItemCount         int       `json:"item_count" gorm:"column:item_count;not null"`
	DurationMs        int       `json:"duration_ms" gorm:"column:duration_ms;not null"`
	ThrottleRemaining *int      `json:"throttle_remaining,omitempty" gorm:"column:throttle_remaining"`
	RetryCount        int       `json:"retry_count" gorm:"column:retry_count;not null;default:0"`
	Error             *string   `json:"error,omitempty" gorm:"column:error;type:text"`
	CreatedAt         time.Time `json:"created_at" gorm:"column:created_at;autoCreateTime"`
}

func (RequestLog) TableName() string { return "etl_request_log" }
