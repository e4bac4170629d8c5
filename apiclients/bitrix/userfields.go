package bitrix

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// paymentDateLabels is the closed set of human-readable labels accepted for
// the payment-date custom field. The technical field name differs per tenant
// so the label is the only stable identifier; matching is exact and
// case-insensitive, never substring.
var paymentDateLabels = map[string]bool{
	"дата оплаты":               true,
	"планируемая дата оплаты":   true,
	"предполагаемая дата оплаты": true,
}

// PaymentDateField lists the tenant's custom deal fields, localized to
// Russian, and returns the technical name of the first field labelled as a
// payment date. The second return is false when no field matches; callers
// must then store a null payment date. Resolution is tenant-global and
// should be performed once per sync run.
func (c *Client) PaymentDateField(ctx context.Context) (string, bool, error) {

	env, err := c.call(ctx, "crm.deal.userfield.list", map[string]any{
		"order":  map[string]any{"SORT": "ASC"},
		"filter": map[string]any{"LANG": "ru"},
	})
	if err != nil {
		return "", false, fmt.Errorf("failed to list deal user fields: %w", err)
	}

	var fields []UserField
	if err := json.Unmarshal(env.Result, &fields); err != nil {
		return "", false, fmt.Errorf("failed to decode deal user fields: %w", err)
	}

	for _, field := range fields {
		if labelMatches(field.EditFormLabel) ||
			labelMatches(field.ListColumnLabel) ||
			labelMatches(field.ListFilterLabel) {
			c.log.Info(fmt.Sprintf("resolved payment date field %s", field.FieldName))
			return field.FieldName, true, nil
		}
	}

	c.log.Warn("no payment date user field found for deal entity")
	return "", false, nil
}

func labelMatches(label string) bool {
	return paymentDateLabels[strings.ToLower(label)]
}
