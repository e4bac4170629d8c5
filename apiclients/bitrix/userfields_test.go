package bitrix

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
)

// userFieldHandler serves a crm.deal.userfield.list response holding the
// given fields, checking that the listing is sorted and localized.
func userFieldHandler(t *testing.T, fields []UserField) http.HandlerFunc {
	t.Helper()
	return func(w http.ResponseWriter, r *http.Request) {
		body := decodeBody(t, r)
		if order, ok := body["order"].(map[string]any); !ok || order["SORT"] != "ASC" {
			t.Errorf("expected order SORT ASC, got %v", body["order"])
		}
		if filter, ok := body["filter"].(map[string]any); !ok || filter["LANG"] != "ru" {
			t.Errorf("expected filter LANG ru, got %v", body["filter"])
		}
		w.Header().Set("Content-Type", "application/json")
		raw := make([]map[string]string, len(fields))
		for i, f := range fields {
			raw[i] = map[string]string{
				"FIELD_NAME":        f.FieldName,
				"EDIT_FORM_LABEL":   f.EditFormLabel,
				"LIST_COLUMN_LABEL": f.ListColumnLabel,
				"LIST_FILTER_LABEL": f.ListFilterLabel,
			}
		}
		if err := json.NewEncoder(w).Encode(map[string]any{"result": raw}); err != nil {
			t.Fatalf("failed to encode fields: %v", err)
		}
	}
}

// TestPaymentDateField exercises label resolution over the accepted label
// set, across the three label slots and with mixed case.
func TestPaymentDateField(t *testing.T) {

	tests := []struct {
		name      string
		fields    []UserField
		want      string
		wantFound bool
	}{
		{
			name: "edit form label",
			fields: []UserField{
				{FieldName: "UF_CRM_1234", EditFormLabel: "Дата оплаты"},
			},
			want:      "UF_CRM_1234",
			wantFound: true,
		},
		{
			name: "list column label",
			fields: []UserField{
				{FieldName: "UF_CRM_1111", EditFormLabel: "Скидка"},
				{FieldName: "UF_CRM_2222", ListColumnLabel: "планируемая дата оплаты"},
			},
			want:      "UF_CRM_2222",
			wantFound: true,
		},
		{
			name: "list filter label upper case",
			fields: []UserField{
				{FieldName: "UF_CRM_3333", ListFilterLabel: "ПРЕДПОЛАГАЕМАЯ ДАТА ОПЛАТЫ"},
			},
			want:      "UF_CRM_3333",
			wantFound: true,
		},
		{
			name: "first match wins",
			fields: []UserField{
				{FieldName: "UF_CRM_0001", EditFormLabel: "дата оплаты"},
				{FieldName: "UF_CRM_0002", EditFormLabel: "дата оплаты"},
			},
			want:      "UF_CRM_0001",
			wantFound: true,
		},
		{
			name: "substring does not match",
			fields: []UserField{
				{FieldName: "UF_CRM_4444", EditFormLabel: "дата оплаты счёта"},
			},
			wantFound: false,
		},
		{
			name:      "no fields",
			fields:    nil,
			wantFound: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mux, client, teardown := setup(t)
			defer teardown()

			mux.HandleFunc("/crm.deal.userfield.list.json", userFieldHandler(t, tt.fields))

			got, found, err := client.PaymentDateField(context.Background())
			if err != nil {
				t.Fatalf("PaymentDateField returned an unexpected error: %v", err)
			}
			if found != tt.wantFound {
				t.Fatalf("expected found %t, got %t", tt.wantFound, found)
			}
			if got != tt.want {
				t.Errorf("expected field %q, got %q", tt.want, got)
			}
		})
	}
}
