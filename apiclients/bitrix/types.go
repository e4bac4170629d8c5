package bitrix

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// envelope is the common Bitrix REST response wrapper. List calls populate
// total; error calls populate the error fields (sometimes with a 200 status).
type envelope struct {
	Result           json.RawMessage `json:"result"`
	Total            int             `json:"total"`
	Next             int             `json:"next"`
	Error            string          `json:"error"`
	ErrorDescription string          `json:"error_description"`
}

// ExternalID is a record identifier assigned by the remote CRM. The REST API
// serializes ids as decimal strings ("356") but numbers also occur.
type ExternalID int64

// UnmarshalJSON accepts both quoted and bare numeric ids.
func (e *ExternalID) UnmarshalJSON(b []byte) error {
	b = bytes.Trim(b, `"`)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*e = 0
		return nil
	}
	n, err := strconv.ParseInt(string(b), 10, 64)
	if err != nil {
		return fmt.Errorf("invalid id %q: %w", string(b), err)
	}
	*e = ExternalID(n)
	return nil
}

// Contact is a CRM contact summary record.
type Contact struct {
	ID           ExternalID `json:"ID"`
	Name         string     `json:"NAME"`
	LastName     string     `json:"LAST_NAME"`
	SecondName   string     `json:"SECOND_NAME"`
	AssignedByID ExternalID `json:"ASSIGNED_BY_ID"`
}

// Company is a CRM company summary record.
type Company struct {
	ID           ExternalID `json:"ID"`
	Title        string     `json:"TITLE"`
	AssignedByID ExternalID `json:"ASSIGNED_BY_ID"`
}

// dealSummary is the listing shape for deals; only the id is needed since
// each deal is then fetched in full by the detail enricher.
type dealSummary struct {
	ID ExternalID `json:"ID"`
}

// Deal is a normalized deal record, mapped from the raw detail record with
// the tenant's resolved payment-date field applied. Company and contact
// links are nil when the remote value is the "0" sentinel.
type Deal struct {
	ID          int64
	Title       string
	CompanyID   *int64
	ContactID   *int64
	CreateDate  *string
	PaymentDate *string
	Opportunity float64
}

// UserField describes a tenant-defined custom field on an entity type. The
// label fields are localized strings when the listing is filtered by LANG.
type UserField struct {
	FieldName       string `json:"FIELD_NAME"`
	EditFormLabel   string `json:"EDIT_FORM_LABEL"`
	ListColumnLabel string `json:"LIST_COLUMN_LABEL"`
	ListFilterLabel string `json:"LIST_FILTER_LABEL"`
}

// listParams is the request body for crm.*.list methods.
type listParams struct {
	Select []string       `json:"select,omitempty"`
	Filter map[string]any `json:"filter,omitempty"`
	Order  map[string]any `json:"order,omitempty"`
	Start  int            `json:"start"`
}
