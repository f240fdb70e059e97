package models

import (
	"time"

	"gorm.io/datatypes"
)

type Company struct {
	ID           int64          `json:"id" gorm:"column:id;primaryKey;autoIncrement:false"`
	Name         *string        `json:"name,omitempty" gorm:"column:name;type:varchar(255)"`
	Website      *string        `json:"website,omitempty" gorm:"column:website;type:varchar(255)"`
	Phone        *string        `json:"phone,omitempty" gorm:"column:phone;type:varchar(64)"`
	Address      *string        `json:"address,omitempty" gorm:"column:address;type:varchar(255)"`
	City         *string        `json:"city,omitempty" gorm:"column:city;type:varchar(128)"`
	State        *string        `json:"state,omitempty" gorm:"column:state;type:varchar(128)"`
	PostalCode   *string        `json:"postal_code,omitempty" gorm:"column:postal_code;type:varchar(32)"`
	CountryCode  *string        `json:"country_code,omitempty" gorm:"column:country_code;type:varchar(8)"`
	OwnerID      *int64         `json:"owner_id,omitempty" gorm:"column:owner_id;index"`
	DateCreated  *time.Time     `json:"date_created,omitempty" gorm:"column:date_created"`
	DateModified *time.Time     `json:"date_modified,omitempty" gorm:"column:date_modified"`
	Raw          datatypes.JSON `json:"raw" gorm:"column:raw;type:jsonb"`
	CreatedAt    time.Time      `json:"created_at" gorm:"column:created_at;autoCreateTime"`
	UpdatedAt    time.Time      `json:"updated_at" gorm:"column:updated_at;autoUpdateTime"`
}

func (Company) TableName() string { return "companies" }
