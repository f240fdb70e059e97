package models

import (
	"time"

	"gorm.io/datatypes"
)

// KeapUser is a Keap user (record owner). Reference entity with no
// dependencies; contacts, companies and opportunities point at it.
type KeapUser struct {
	ID           int64          `json:"id" gorm:"column:id;primaryKey;autoIncrement:false"`
	GivenName    *string        `json:"given_name,omitempty" gorm:"column:given_name;type:varchar(255)"`
	FamilyName   *string        `json:"family_name,omitempty" gorm:"column:family_name;type:varchar(255)"`
	Email        *string        `json:"email,omitempty" gorm:"column:email;type:varchar(255)"`
	Status       *string        `json:"status,omitempty" gorm:"column:status;type:varchar(32)"`
	DateCreated  *time.Time     `json:"date_created,omitempty" gorm:"column:date_created"`
	DateModified *time.Time     `json:"date_modified,omitempty" gorm:"column:date_modified"`
	Raw          datatypes.JSON `json:"raw" gorm:"column:raw;type:jsonb"`
	CreatedAt    time.Time      `json:"created_at" gorm:"column:created_at;autoCreateTime"`
	UpdatedAt    time.Time      `json:"updated_at" gorm:"column:updated_at;autoUpdateTime"`
}

func (KeapUser) TableName() string { return "keap_users" }
