package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"keap-export/config"
	"keap-export/models"
)

// PageResult summarizes applying one fetched page.
type PageResult struct {
	Processed int `json:"processed"`
	Created   int `json:"created"`
	Updated   int `json:"updated"`
	Failed    int `json:"failed"`
}

// UpsertWriter persists records with exactly-once effect per external
// id: a record seen before has its columns replaced, a new one is
// inserted, and the verbatim payload is stored either way. Each record
// commits in its own transaction, so a partially applied page is safe
// to replay.
type UpsertWriter struct {
	db     *gorm.DB
	logger *zap.Logger
}

func NewUpsertWriter(db *gorm.DB, logger *zap.Logger) *UpsertWriter {
	if db == nil {
		db = config.DB
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &UpsertWriter{db: db, logger: logger}
}

// WritePage transforms and upserts one page of raw records for the
// named entity. A record that fails to transform or write is counted
// and logged, never fatal for the page.
func (w *UpsertWriter) WritePage(ctx context.Context, entity string, items []json.RawMessage) (*PageResult, error) {
	result := &PageResult{}
	for _, raw := range items {
		created, err := w.writeRecord(ctx, entity, raw)
		if err != nil {
			result.Failed++
			w.logger.Warn("failed to upsert record",
				zap.String("entity", entity),
				zap.Error(err),
			)
			continue
		}
		result.Processed++
		if created {
			result.Created++
		} else {
			result.Updated++
		}
	}
	return result, nil
}

// PreviewPage runs the transforms without touching storage, returning
// the would-upsert counts for dry runs.
func (w *UpsertWriter) PreviewPage(entity string, items []json.RawMessage) (*PageResult, error) {
	result := &PageResult{}
	for _, raw := range items {
		var err error
		switch entity {
		case "users":
			_, err = transformUser(raw)
		case "tags":
			_, err = transformTag(raw)
		case "companies":
			_, err = transformCompany(raw)
		case "contacts":
			_, err = transformContact(raw)
		case "contact_tags":
			_, err = transformContactTag(raw)
		case "opportunities":
			_, err = transformOpportunity(raw)
		case "orders":
			_, _, err = transformOrder(raw)
		default:
			return nil, fmt.Errorf("unknown entity %q", entity)
		}
		if err != nil {
			result.Failed++
			continue
		}
		result.Processed++
	}
	return result, nil
}

func (w *UpsertWriter) writeRecord(ctx context.Context, entity string, raw json.RawMessage) (bool, error) {
	switch entity {
	case "users":
		record, err := transformUser(raw)
		if err != nil {
			return false, err
		}
		return w.upsert(ctx, &models.KeapUser{}, record, "id = ?", record.ID)
	case "tags":
		record, err := transformTag(raw)
		if err != nil {
			return false, err
		}
		return w.upsert(ctx, &models.Tag{}, record, "id = ?", record.ID)
	case "companies":
		record, err := transformCompany(raw)
		if err != nil {
			return false, err
		}
		return w.upsert(ctx, &models.Company{}, record, "id = ?", record.ID)
	case "contacts":
		record, err := transformContact(raw)
		if err != nil {
			return false, err
		}
		return w.upsert(ctx, &models.Contact{}, record, "id = ?", record.ID)
	case "contact_tags":
		record, err := transformContactTag(raw)
		if err != nil {
			return false, err
		}
		return w.upsert(ctx, &models.ContactTag{}, record, "contact_id = ? AND tag_id = ?", record.ContactID, record.TagID)
	case "opportunities":
		record, err := transformOpportunity(raw)
		if err != nil {
			return false, err
		}
		return w.upsert(ctx, &models.Opportunity{}, record, "id = ?", record.ID)
	case "orders":
		return w.writeOrder(ctx, raw)
	default:
		return false, fmt.Errorf("unknown entity %q", entity)
	}
}

// upsert applies one record: replace the existing row's columns when
// the key matches, insert otherwise.
func (w *UpsertWriter) upsert(ctx context.Context, probe interface{}, record interface{}, cond string, args ...interface{}) (bool, error) {
	var created bool
	err := w.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Where(cond, args...).First(probe).Error
		if err != nil {
			if !errors.Is(err, gorm.ErrRecordNotFound) {
				return err
			}
			if err := tx.Create(record).Error; err != nil {
				return err
			}
			created = true
			return nil
		}
		return tx.Save(record).Error
	})
	return created, err
}

// writeOrder upserts the order row together with its extracted line
// items in one transaction, so reconciliation never observes an order
// without its items.
func (w *UpsertWriter) writeOrder(ctx context.Context, raw json.RawMessage) (bool, error) {
	order, items, err := transformOrder(raw)
	if err != nil {
		return false, err
	}

	var created bool
	err = w.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing models.Order
		err := tx.Where("id = ?", order.ID).First(&existing).Error
		if err != nil {
			if !errors.Is(err, gorm.ErrRecordNotFound) {
				return err
			}
			if err := tx.Create(order).Error; err != nil {
				return err
			}
			created = true
		} else if err := tx.Save(order).Error; err != nil {
			return err
		}

		for i := range items {
			item := &items[i]
			var existingItem models.OrderItem
			err := tx.Where("id = ?", item.ID).First(&existingItem).Error
			if err != nil {
				if !errors.Is(err, gorm.ErrRecordNotFound) {
					return err
				}
				if err := tx.Create(item).Error; err != nil {
					return err
				}
				continue
			}
			if err := tx.Save(item).Error; err != nil {
				return err
			}
		}
		return nil
	})
	return created, err
}
