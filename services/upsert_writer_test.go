package services

import (
	"context"
	"encoding/json"
	"testing"

	"keap-export/models"
)

func TestWritePageCreatesThenUpdates(t *testing.T) {
	db := newTestDB(t)
	writer := NewUpsertWriter(db, nil)
	ctx := context.Background()

	page := rawRecords(
		`{"id": 401, "given_name": "Bea"}`,
		`{"id": 402, "given_name": "Cal"}`,
	)

	result, err := writer.WritePage(ctx, "contacts", page)
	if err != nil {
		t.Fatalf("first write: %v", err)
	}
	if result.Created != 2 || result.Updated != 0 || result.Failed != 0 {
		t.Fatalf("first write result = %+v, want 2 created", result)
	}

	// the same page replayed updates in place
	page[0] = json.RawMessage(`{"id": 401, "given_name": "Beatrice"}`)
	result, err = writer.WritePage(ctx, "contacts", page)
	if err != nil {
		t.Fatalf("replayed write: %v", err)
	}
	if result.Created != 0 || result.Updated != 2 {
		t.Fatalf("replayed write result = %+v, want 2 updated", result)
	}

	if n := countRows(t, db, &models.Contact{}); n != 2 {
		t.Fatalf("contacts = %d, want 2", n)
	}
	var contact models.Contact
	if err := db.First(&contact, "id = ?", 401).Error; err != nil {
		t.Fatalf("reload contact: %v", err)
	}
	if contact.GivenName == nil || *contact.GivenName != "Beatrice" {
		t.Fatalf("given_name = %v, want replaced value", contact.GivenName)
	}
}

func TestWritePageCountsBadRecordsWithoutFailingThePage(t *testing.T) {
	db := newTestDB(t)
	writer := NewUpsertWriter(db, nil)

	result, err := writer.WritePage(context.Background(), "contacts", rawRecords(
		`{"id": 401}`,
		`{"given_name": "no id"}`,
		`not even json`,
	))
	if err != nil {
		t.Fatalf("write page: %v", err)
	}
	if result.Processed != 1 || result.Failed != 2 {
		t.Fatalf("result = %+v, want 1 processed and 2 failed", result)
	}
	if n := countRows(t, db, &models.Contact{}); n != 1 {
		t.Fatalf("contacts = %d, want 1", n)
	}
}

func TestWritePageRejectsUnknownEntity(t *testing.T) {
	db := newTestDB(t)
	writer := NewUpsertWriter(db, nil)

	result, err := writer.WritePage(context.Background(), "invoices", rawRecords(`{"id": 1}`))
	if err != nil {
		t.Fatalf("write page: %v", err)
	}
	if result.Failed != 1 || result.Processed != 0 {
		t.Fatalf("result = %+v, want the record counted as failed", result)
	}
}

func TestWriteOrderKeepsItemsWithOrder(t *testing.T) {
	db := newTestDB(t)
	writer := NewUpsertWriter(db, nil)
	ctx := context.Background()

	raw := rawRecords(`{
		"id": 601, "status": "PAID", "total": 30,
		"order_items": [
			{"id": 6011, "name": "Widget", "quantity": 3, "price": 10}
		]
	}`)

	if _, err := writer.WritePage(ctx, "orders", raw); err != nil {
		t.Fatalf("write order: %v", err)
	}
	if n := countRows(t, db, &models.Order{}); n != 1 {
		t.Fatalf("orders = %d, want 1", n)
	}
	if n := countRows(t, db, &models.OrderItem{}); n != 1 {
		t.Fatalf("order items = %d, want 1", n)
	}

	// replay with a changed item quantity
	raw[0] = json.RawMessage(`{
		"id": 601, "status": "PAID", "total": 20,
		"order_items": [
			{"id": 6011, "name": "Widget", "quantity": 2, "price": 10}
		]
	}`)
	result, err := writer.WritePage(ctx, "orders", raw)
	if err != nil {
		t.Fatalf("replay order: %v", err)
	}
	if result.Updated != 1 {
		t.Fatalf("replay result = %+v, want 1 updated", result)
	}

	var item models.OrderItem
	if err := db.First(&item, "id = ?", 6011).Error; err != nil {
		t.Fatalf("reload item: %v", err)
	}
	if item.Quantity != 2 {
		t.Fatalf("item quantity = %d, want 2 after replay", item.Quantity)
	}
}

func TestPreviewPageNeverWrites(t *testing.T) {
	db := newTestDB(t)
	writer := NewUpsertWriter(db, nil)

	result, err := writer.PreviewPage("contacts", rawRecords(
		`{"id": 401}`,
		`{"no": "id"}`,
	))
	if err != nil {
		t.Fatalf("preview: %v", err)
	}
	if result.Processed != 1 || result.Failed != 1 {
		t.Fatalf("preview result = %+v", result)
	}
	if n := countRows(t, db, &models.Contact{}); n != 0 {
		t.Fatalf("preview wrote %d contacts", n)
	}
}
