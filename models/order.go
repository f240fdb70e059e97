package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

type Order struct {
	ID           int64            `json:"id" gorm:"column:id;primaryKey;autoIncrement:false"`
	ContactID    *int64           `json:"contact_id,omitempty" gorm:"column:contact_id;index"`
	Title        *string          `json:"title,omitempty" gorm:"column:title;type:varchar(255)"`
	Status       *string          `json:"status,omitempty" gorm:"column:status;type:varchar(64)"`
	Total        *decimal.Decimal `json:"total,omitempty" gorm:"column:total;type:numeric(14,2)"`
	OrderDate    *time.Time       `json:"order_date,omitempty" gorm:"column:order_date"`
	DateCreated  *time.Time       `json:"date_created,omitempty" gorm:"column:date_created"`
	DateModified *time.Time       `json:"date_modified,omitempty" gorm:"column:date_modified"`
	Raw          datatypes.JSON   `json:"raw" gorm:"column:raw;type:jsonb"`
	CreatedAt    time.Time        `json:"created_at" gorm:"column:created_at;autoCreateTime"`
	UpdatedAt    time.Time        `json:"updated_at" gorm:"column:updated_at;autoUpdateTime"`
}

func (Order) TableName() string { return "orders" }

// OrderItem rows are extracted from the order payload's line items.
// Quantity times price summed over an order must reconcile with the
// order total within a small rounding tolerance.
type OrderItem struct {
	ID        int64            `json:"id" gorm:"column:id;primaryKey;autoIncrement:false"`
	OrderID   int64            `json:"order_id" gorm:"column:order_id;not null;index"`
	Name      *string          `json:"name,omitempty" gorm:"column:name;type:varchar(255)"`
	Quantity  int              `json:"quantity" gorm:"column:quantity;not null;default:0"`
	Price     *decimal.Decimal `json:"price,omitempty" gorm:"column:price;type:numeric(14,2)"`
	CreatedAt time.Time        `json:"created_at" gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time        `json:"updated_at" gorm:"column:updated_at;autoUpdateTime"`
}

func (OrderItem) TableName() string { return "order_items" }
