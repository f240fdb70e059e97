package services

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"keap-export/models"
)

// The transforms below own the mapping from Keap's denormalized payload
// shapes (email/phone/address arrays, nested vs. flat foreign keys) to
// the normalized columns. The verbatim payload is always kept alongside
// so a mapping gap can be backfilled later without re-fetching.

type keapRef struct {
	ID int64 `json:"id"`
}

type keapEmail struct {
	Email string `json:"email"`
	Field string `json:"field"`
}

type keapPhone struct {
	Number string `json:"number"`
	Field  string `json:"field"`
}

type keapAddress struct {
	Line1       string `json:"line1"`
	Locality    string `json:"locality"`
	Region      string `json:"region"`
	PostalCode  string `json:"postal_code"`
	CountryCode string `json:"country_code"`
}

func transformUser(raw json.RawMessage) (*models.KeapUser, error) {
	var payload struct {
		ID           int64  `json:"id"`
		GivenName    string `json:"given_name"`
		FamilyName   string `json:"family_name"`
		EmailAddress string `json:"email_address"`
		Status       string `json:"status"`
		DateCreated  string `json:"date_created"`
		DateModified string `json:"date_modified"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("parse user: %w", err)
	}
	if payload.ID == 0 {
		return nil, errors.New("user record missing id")
	}
	return &models.KeapUser{
		ID:           payload.ID,
		GivenName:    optionalString(payload.GivenName),
		FamilyName:   optionalString(payload.FamilyName),
		Email:        optionalString(payload.EmailAddress),
		Status:       optionalString(payload.Status),
		DateCreated:  parseKeapTime(payload.DateCreated),
		DateModified: parseKeapTime(payload.DateModified),
		Raw:          cloneJSON(raw),
	}, nil
}

func transformTag(raw json.RawMessage) (*models.Tag, error) {
	var payload struct {
		ID          int64  `json:"id"`
		Name        string `json:"name"`
		Description string `json:"description"`
		Category    *struct {
			Name string `json:"name"`
		} `json:"category"`
		DateCreated  string `json:"date_created"`
		DateModified string `json:"date_modified"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("parse tag: %w", err)
	}
	if payload.ID == 0 {
		return nil, errors.New("tag record missing id")
	}
	tag := &models.Tag{
		ID:           payload.ID,
		Name:         optionalString(payload.Name),
		Description:  optionalString(payload.Description),
		DateCreated:  parseKeapTime(payload.DateCreated),
		DateModified: parseKeapTime(payload.DateModified),
		Raw:          cloneJSON(raw),
	}
	if payload.Category != nil {
		tag.Category = optionalString(payload.Category.Name)
	}
	return tag, nil
}

func transformCompany(raw json.RawMessage) (*models.Company, error) {
	var payload struct {
		ID           int64        `json:"id"`
		CompanyName  string       `json:"company_name"`
		Website      string       `json:"website"`
		PhoneNumber  *keapPhone   `json:"phone_number"`
		Address      *keapAddress `json:"address"`
		OwnerID      *int64       `json:"owner_id"`
		DateCreated  string       `json:"date_created"`
		DateModified string       `json:"date_modified"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("parse company: %w", err)
	}
	if payload.ID == 0 {
		return nil, errors.New("company record missing id")
	}
	company := &models.Company{
		ID:           payload.ID,
		Name:         optionalString(payload.CompanyName),
		Website:      optionalString(payload.Website),
		OwnerID:      nonZeroID(payload.OwnerID),
		DateCreated:  parseKeapTime(payload.DateCreated),
		DateModified: parseKeapTime(payload.DateModified),
		Raw:          cloneJSON(raw),
	}
	if payload.PhoneNumber != nil {
		company.Phone = optionalString(payload.PhoneNumber.Number)
	}
	if addr := payload.Address; addr != nil {
		company.Address = optionalString(addr.Line1)
		company.City = optionalString(addr.Locality)
		company.State = optionalString(addr.Region)
		company.PostalCode = optionalString(addr.PostalCode)
		company.CountryCode = optionalString(addr.CountryCode)
	}
	return company, nil
}

func transformContact(raw json.RawMessage) (*models.Contact, error) {
	var payload struct {
		ID             int64         `json:"id"`
		GivenName      string        `json:"given_name"`
		FamilyName     string        `json:"family_name"`
		EmailAddresses []keapEmail   `json:"email_addresses"`
		PhoneNumbers   []keapPhone   `json:"phone_numbers"`
		Addresses      []keapAddress `json:"addresses"`
		CompanyID      *int64        `json:"company_id"`
		Company        *keapRef      `json:"company"`
		OwnerID        *int64        `json:"owner_id"`
		DateCreated    string        `json:"date_created"`
		DateModified   string        `json:"date_modified"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("parse contact: %w", err)
	}
	if payload.ID == 0 {
		return nil, errors.New("contact record missing id")
	}
	contact := &models.Contact{
		ID:           payload.ID,
		GivenName:    optionalString(payload.GivenName),
		FamilyName:   optionalString(payload.FamilyName),
		CompanyID:    nonZeroID(payload.CompanyID),
		OwnerID:      nonZeroID(payload.OwnerID),
		DateCreated:  parseKeapTime(payload.DateCreated),
		DateModified: parseKeapTime(payload.DateModified),
		Raw:          cloneJSON(raw),
	}
	// Some payload versions nest the company reference instead of
	// flattening it.
	if contact.CompanyID == nil && payload.Company != nil && payload.Company.ID != 0 {
		contact.CompanyID = &payload.Company.ID
	}
	if len(payload.EmailAddresses) > 0 {
		contact.Email = optionalString(payload.EmailAddresses[0].Email)
	}
	if len(payload.PhoneNumbers) > 0 {
		contact.Phone = optionalString(payload.PhoneNumbers[0].Number)
	}
	if len(payload.Addresses) > 0 {
		addr := payload.Addresses[0]
		contact.Address = optionalString(addr.Line1)
		contact.City = optionalString(addr.Locality)
		contact.State = optionalString(addr.Region)
		contact.PostalCode = optionalString(addr.PostalCode)
		contact.CountryCode = optionalString(addr.CountryCode)
	}
	return contact, nil
}

func transformContactTag(raw json.RawMessage) (*models.ContactTag, error) {
	var payload struct {
		ContactID   int64    `json:"contact_id"`
		TagID       int64    `json:"tag_id"`
		Contact     *keapRef `json:"contact"`
		Tag         *keapRef `json:"tag"`
		DateApplied string   `json:"date_applied"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("parse tag application: %w", err)
	}
	if payload.ContactID == 0 && payload.Contact != nil {
		payload.ContactID = payload.Contact.ID
	}
	if payload.TagID == 0 && payload.Tag != nil {
		payload.TagID = payload.Tag.ID
	}
	if payload.ContactID == 0 || payload.TagID == 0 {
		return nil, errors.New("tag application missing contact or tag id")
	}
	return &models.ContactTag{
		ContactID: payload.ContactID,
		TagID:     payload.TagID,
		AppliedAt: parseKeapTime(payload.DateApplied),
		Raw:       cloneJSON(raw),
	}, nil
}

func transformOpportunity(raw json.RawMessage) (*models.Opportunity, error) {
	var payload struct {
		ID      int64 `json:"id"`
		Contact *struct {
			ID        int64  `json:"id"`
			CompanyID *int64 `json:"company_id"`
		} `json:"contact"`
		CompanyID *int64 `json:"company_id"`
		User      *struct {
			ID int64 `json:"id"`
		} `json:"user"`
		Title string `json:"opportunity_title"`
		Stage *struct {
			Name     string `json:"name"`
			Pipeline *struct {
				Name string `json:"name"`
			} `json:"pipeline"`
		} `json:"stage"`
		EstimatedCloseValue *decimal.Decimal `json:"estimated_close_value"`
		NextActionDate      string           `json:"next_action_date"`
		DateCreated         string           `json:"date_created"`
		DateModified        string           `json:"last_updated"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("parse opportunity: %w", err)
	}
	if payload.ID == 0 {
		return nil, errors.New("opportunity record missing id")
	}
	opp := &models.Opportunity{
		ID:             payload.ID,
		CompanyID:      nonZeroID(payload.CompanyID),
		Title:          optionalString(payload.Title),
		EstimatedValue: payload.EstimatedCloseValue,
		NextActionAt:   parseKeapTime(payload.NextActionDate),
		DateCreated:    parseKeapTime(payload.DateCreated),
		DateModified:   parseKeapTime(payload.DateModified),
		Raw:            cloneJSON(raw),
	}
	if payload.Contact != nil && payload.Contact.ID != 0 {
		opp.ContactID = &payload.Contact.ID
		if opp.CompanyID == nil {
			opp.CompanyID = nonZeroID(payload.Contact.CompanyID)
		}
	}
	if payload.User != nil && payload.User.ID != 0 {
		opp.OwnerID = &payload.User.ID
	}
	if payload.Stage != nil {
		opp.StageName = optionalString(payload.Stage.Name)
		if payload.Stage.Pipeline != nil {
			opp.PipelineName = optionalString(payload.Stage.Pipeline.Name)
		}
	}
	return opp, nil
}

func transformOrder(raw json.RawMessage) (*models.Order, []models.OrderItem, error) {
	var payload struct {
		ID         int64    `json:"id"`
		Contact    *keapRef `json:"contact"`
		ContactID  *int64   `json:"contact_id"`
		Title      string   `json:"title"`
		Status     string   `json:"status"`
		Total      *decimal.Decimal `json:"-"`
		OrderDate  string           `json:"order_date"`
		OrderItems []struct {
			ID       int64            `json:"id"`
			Name     string           `json:"name"`
			Quantity int              `json:"quantity"`
			Price    *decimal.Decimal `json:"price"`
		} `json:"order_items"`
		DateCreated  string `json:"creation_date"`
		DateModified string `json:"modification_date"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, nil, fmt.Errorf("parse order: %w", err)
	}
	if payload.ID == 0 {
		return nil, nil, errors.New("order record missing id")
	}

	// "total" arrives as a bare number in current payloads and as
	// {"amount": n} in older ones.
	var envelope struct {
		Total json.RawMessage `json:"total"`
	}
	if err := json.Unmarshal(raw, &envelope); err == nil && len(envelope.Total) > 0 {
		payload.Total = parseMoney(envelope.Total)
	}

	order := &models.Order{
		ID:           payload.ID,
		ContactID:    nonZeroID(payload.ContactID),
		Title:        optionalString(payload.Title),
		Status:       optionalString(payload.Status),
		Total:        payload.Total,
		OrderDate:    parseKeapTime(payload.OrderDate),
		DateCreated:  parseKeapTime(payload.DateCreated),
		DateModified: parseKeapTime(payload.DateModified),
		Raw:          cloneJSON(raw),
	}
	if order.ContactID == nil && payload.Contact != nil && payload.Contact.ID != 0 {
		order.ContactID = &payload.Contact.ID
	}

	items := make([]models.OrderItem, 0, len(payload.OrderItems))
	for _, it := range payload.OrderItems {
		if it.ID == 0 {
			continue
		}
		items = append(items, models.OrderItem{
			ID:       it.ID,
			OrderID:  payload.ID,
			Name:     optionalString(it.Name),
			Quantity: it.Quantity,
			Price:    it.Price,
		})
	}
	return order, items, nil
}

func parseMoney(raw json.RawMessage) *decimal.Decimal {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return nil
	}
	if trimmed[0] == '{' {
		var nested struct {
			Amount *decimal.Decimal `json:"amount"`
		}
		if err := json.Unmarshal(raw, &nested); err == nil {
			return nested.Amount
		}
		return nil
	}
	var d decimal.Decimal
	if err := json.Unmarshal(raw, &d); err != nil {
		return nil
	}
	return &d
}

// keapTimeLayouts covers the timestamp shapes seen across payload
// versions, most specific first.
var keapTimeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.000Z",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

func parseKeapTime(value string) *time.Time {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	for _, layout := range keapTimeLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}

func optionalString(value string) *string {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	return &value
}

func nonZeroID(id *int64) *int64 {
	if id == nil || *id == 0 {
		return nil
	}
	return id
}

func cloneJSON(raw json.RawMessage) []byte {
	if raw == nil {
		return nil
	}
	buf := make([]byte, len(raw))
	copy(buf, raw)
	return buf
}

func stringPtr(value string) *string { return &value }

func intPtr(value int) *int { return &value }
