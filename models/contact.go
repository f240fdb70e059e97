package models

import (
	"time"

	"gorm.io/datatypes"
)

// Contact is the main CRM record. Foreign keys are nullable; when set
// they must reference an existing company/owner row, which the
// validation reporter re-verifies after every run.
type Contact struct {
	ID           int64          `json:"id" gorm:"column:id;primaryKey;autoIncrement:false"`
	CompanyID    *int64         `json:"company_id,omitempty" gorm:"column:company_id;index"`
	OwnerID      *int64         `json:"owner_id,omitempty" gorm:"column:owner_id;index"`
	GivenName    *string        `json:"given_name,omitempty" gorm:"column:given_name;type:varchar(255)"`
	FamilyName   *string        `json:"family_name,omitempty" gorm:"column:family_name;type:varchar(255)"`
	Email        *string        `json:"email,omitempty" gorm:"column:email;type:varchar(255);index"`
	Phone        *string        `json:"phone,omitempty" gorm:"column:phone;type:varchar(64)"`
	Address      *string        `json:"address,omitempty" gorm:"column:address;type:varchar(255)"`
	City         *string        `json:"city,omitempty" gorm:"column:city;type:varchar(128)"`
	State        *string        `json:"state,omitempty" gorm:"column:state;type:varchar(128)"`
	PostalCode   *string        `json:"postal_code,omitempty" gorm:"column:postal_code;type:varchar(32)"`
	CountryCode  *string        `json:"country_code,omitempty" gorm:"column:country_code;type:varchar(8)"`
	DateCreated  *time.Time     `json:"date_created,omitempty" gorm:"column:date_created"`
	DateModified *time.Time     `json:"date_modified,omitempty" gorm:"column:date_modified"`
	Raw          datatypes.JSON `json:"raw" gorm:"column:raw;type:jsonb"`
	CreatedAt    time.Time      `json:"created_at" gorm:"column:created_at;autoCreateTime"`
	UpdatedAt    time.Time      `json:"updated_at" gorm:"column:updated_at;autoUpdateTime"`
}

func (Contact) TableName() string { return "contacts" }
