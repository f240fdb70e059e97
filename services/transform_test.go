package services

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
)

func TestTransformContact(t *testing.T) {
	raw := json.RawMessage(`{
		"id": 401,
		"given_name": " Bea ",
		"family_name": "Arthur",
		"email_addresses": [
			{"email": "bea@example.com", "field": "EMAIL1"},
			{"email": "work@example.com", "field": "EMAIL2"}
		],
		"phone_numbers": [{"number": "+44 20 7946 0000", "field": "PHONE1"}],
		"addresses": [{"line1": "1 Main St", "locality": "Leeds", "region": "GB-ENG", "postal_code": "LS1", "country_code": "GBR"}],
		"company": {"id": 301},
		"owner_id": 101,
		"date_created": "2023-01-15T09:30:00Z"
	}`)

	contact, err := transformContact(raw)
	if err != nil {
		t.Fatalf("transform contact: %v", err)
	}
	if contact.ID != 401 {
		t.Fatalf("id = %d, want 401", contact.ID)
	}
	if contact.GivenName == nil || *contact.GivenName != "Bea" {
		t.Fatalf("given_name = %v, want trimmed Bea", contact.GivenName)
	}
	if contact.Email == nil || *contact.Email != "bea@example.com" {
		t.Fatalf("email = %v, want the first address", contact.Email)
	}
	if contact.CompanyID == nil || *contact.CompanyID != 301 {
		t.Fatalf("company_id = %v, want 301 from nested reference", contact.CompanyID)
	}
	if contact.City == nil || *contact.City != "Leeds" {
		t.Fatalf("city = %v, want Leeds", contact.City)
	}
	if contact.DateCreated == nil {
		t.Fatal("date_created not parsed")
	}
	if len(contact.Raw) == 0 {
		t.Fatal("verbatim payload not kept")
	}
}

func TestTransformContactRequiresID(t *testing.T) {
	if _, err := transformContact(json.RawMessage(`{"given_name":"NoID"}`)); err == nil {
		t.Fatal("expected error for contact without id")
	}
}

func TestTransformContactTagAcceptsBothShapes(t *testing.T) {
	flat, err := transformContactTag(json.RawMessage(`{"contact_id": 401, "tag_id": 201}`))
	if err != nil {
		t.Fatalf("flat shape: %v", err)
	}
	nested, err := transformContactTag(json.RawMessage(`{"contact": {"id": 401}, "tag": {"id": 201}}`))
	if err != nil {
		t.Fatalf("nested shape: %v", err)
	}
	if flat.ContactID != nested.ContactID || flat.TagID != nested.TagID {
		t.Fatalf("shapes disagree: %+v vs %+v", flat, nested)
	}

	if _, err := transformContactTag(json.RawMessage(`{"contact": {"id": 401}}`)); err == nil {
		t.Fatal("expected error for tag application without tag id")
	}
}

func TestTransformOrderTotalShapes(t *testing.T) {
	bare, _, err := transformOrder(json.RawMessage(`{"id": 601, "total": 99.95}`))
	if err != nil {
		t.Fatalf("bare total: %v", err)
	}
	if bare.Total == nil || !bare.Total.Equal(decimal.RequireFromString("99.95")) {
		t.Fatalf("bare total = %v, want 99.95", bare.Total)
	}

	nested, _, err := transformOrder(json.RawMessage(`{"id": 602, "total": {"amount": 42.50}}`))
	if err != nil {
		t.Fatalf("nested total: %v", err)
	}
	if nested.Total == nil || !nested.Total.Equal(decimal.RequireFromString("42.5")) {
		t.Fatalf("nested total = %v, want 42.5", nested.Total)
	}

	missing, _, err := transformOrder(json.RawMessage(`{"id": 603}`))
	if err != nil {
		t.Fatalf("missing total: %v", err)
	}
	if missing.Total != nil {
		t.Fatalf("missing total = %v, want nil", missing.Total)
	}
}

func TestTransformOrderExtractsLineItems(t *testing.T) {
	order, items, err := transformOrder(json.RawMessage(`{
		"id": 601,
		"contact": {"id": 401},
		"order_items": [
			{"id": 6011, "name": "Widget", "quantity": 3, "price": 10},
			{"id": 0, "name": "broken row"},
			{"id": 6012, "name": "Gadget", "quantity": 1, "price": 5.25}
		]
	}`))
	if err != nil {
		t.Fatalf("transform order: %v", err)
	}
	if order.ContactID == nil || *order.ContactID != 401 {
		t.Fatalf("contact_id = %v, want 401", order.ContactID)
	}
	if len(items) != 2 {
		t.Fatalf("items = %d, want 2 (id-less row dropped)", len(items))
	}
	for _, item := range items {
		if item.OrderID != 601 {
			t.Fatalf("item %d carries order_id %d, want 601", item.ID, item.OrderID)
		}
	}
}

func TestParseKeapTime(t *testing.T) {
	cases := []struct {
		in   string
		want bool
	}{
		{"2023-01-15T09:30:00Z", true},
		{"2023-01-15T09:30:00.000Z", true},
		{"2023-01-15T09:30:00", true},
		{"2023-01-15", true},
		{"", false},
		{"not a date", false},
	}
	for _, c := range cases {
		got := parseKeapTime(c.in)
		if (got != nil) != c.want {
			t.Fatalf("parseKeapTime(%q) = %v, want parsed=%v", c.in, got, c.want)
		}
	}
}

func TestOptionalStringTrimsAndNils(t *testing.T) {
	if optionalString("  ") != nil {
		t.Fatal("blank string should map to nil")
	}
	if got := optionalString(" x "); got == nil || *got != "x" {
		t.Fatalf("got %v, want trimmed x", got)
	}
}
