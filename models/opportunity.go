package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

type Opportunity struct {
	ID            int64            `json:"id" gorm:"column:id;primaryKey;autoIncrement:false"`
	ContactID     *int64           `json:"contact_id,omitempty" gorm:"column:contact_id;index"`
	CompanyID     *int64           `json:"company_id,omitempty" gorm:"column:company_id;index"`
	OwnerID       *int64           `json:"owner_id,omitempty" gorm:"column:owner_id;index"`
	Title         *string          `json:"title,omitempty" gorm:"column:title;type:varchar(255)"`
	StageName     *string          `json:"stage_name,omitempty" gorm:"column:stage_name;type:varchar(128)"`
	PipelineName  *string          `json:"pipeline_name,omitempty" gorm:"column:pipeline_name;type:varchar(128)"`
	EstimatedValue *decimal.Decimal `json:"estimated_value,omitempty" gorm:"column:estimated_value;type:numeric(14,2)"`
	NextActionAt  *time.Time       `json:"next_action_at,omitempty" gorm:"column:next_action_at"`
	DateCreated   *time.Time       `json:"date_created,omitempty" gorm:"column:date_created"`
	DateModified  *time.Time       `json:"date_modified,omitempty" gorm:"column:date_modified"`
	Raw           datatypes.JSON   `json:"raw" gorm:"column:raw;type:jsonb"`
	CreatedAt     time.Time        `json:"created_at" gorm:"column:created_at;autoCreateTime"`
	UpdatedAt     time.Time        `json:"updated_at" gorm:"column:updated_at;autoUpdateTime"`
}

func (Opportunity) TableName() string { return "opportunities" }
