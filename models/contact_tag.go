package models

import (
	"time"

	"gorm.io/datatypes"
)

// ContactTag links a contact to a tag. Depends on both contacts and tags.
type ContactTag struct {
	ContactID int64          `json:"contact_id" gorm:"column:contact_id;primaryKey;autoIncrement:false"`
	TagID     int64          `json:"tag_id" gorm:"column:tag_id;primaryKey;autoIncrement:false"`
	AppliedAt *time.Time     `json:"applied_at,omitempty" gorm:"column:applied_at"`
	Raw       datatypes.JSON `json:"raw" gorm:"column:raw;type:jsonb"`
	CreatedAt time.Time      `json:"created_at" gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time      `json:"updated_at" gorm:"column:updated_at;autoUpdateTime"`
}

func (ContactTag) TableName() string { return "contact_tags" }
