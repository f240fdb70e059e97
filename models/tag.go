package models

import (
	"time"

	"gorm.io/datatypes"
)

// Tag is a Keap tag. Reference entity with no dependencies.
type Tag struct {
	ID           int64          `json:"id" gorm:"column:id;primaryKey;autoIncrement:false"`
	Name         *string        `json:"name,omitempty" gorm:"column:name;type:varchar(255)"`
	Description  *string        `json:"description,omitempty" gorm:"column:description;type:text"`
	Category     *string        `json:"category,omitempty" gorm:"column:category;type:varchar(255)"`
	DateCreated  *time.Time     `json:"date_created,omitempty" gorm:"column:date_created"`
	DateModified *time.Time     `json:"date_modified,omitempty" gorm:"column:date_modified"`
	Raw          datatypes.JSON `json:"raw" gorm:"column:raw;type:jsonb"`
	CreatedAt    time.Time      `json:"created_at" gorm:"column:created_at;autoCreateTime"`
	UpdatedAt    time.Time      `json:"updated_at" gorm:"column:updated_at;autoUpdateTime"`
}

func (Tag) TableName() string { return "tags" }
