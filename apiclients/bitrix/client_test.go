package bitrix

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
)

// setup creates a test environment for running API client tests. It returns a
// request multiplexer for registering handlers, the Client configured to use
// the test server, and a teardown function to close the server.
func setup(t *testing.T) (mux *http.ServeMux, client *Client, teardown func()) {

	t.Helper()

	mux = http.NewServeMux()
	server := httptest.NewServer(mux)

	logger := slog.New(slog.NewTextHandler(
		os.Stdout,
		&slog.HandlerOptions{Level: slog.LevelDebug},
	))

	client = &Client{
		httpClient: server.Client(),
		baseURL:    server.URL,
		log:        logger,
	}

	teardown = func() {
		server.Close()
	}

	return mux, client, teardown
}

// decodeBody decodes the JSON request body of a list call.
func decodeBody(t *testing.T, r *http.Request) map[string]any {
	t.Helper()
	if r.Method != http.MethodPost {
		t.Errorf("expected method POST, got %s", r.Method)
	}
	var body map[string]any
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode request body: %v", err)
	}
	return body
}

// writeListPage writes a list envelope holding records [from, to) of a
// synthetic population of the given total.
func writeListPage(t *testing.T, w http.ResponseWriter, from, to, total int) {
	t.Helper()
	records := make([]map[string]any, 0, to-from)
	for i := from; i < to; i++ {
		records = append(records, map[string]any{
			"ID":   fmt.Sprintf("%d", i+1),
			"NAME": fmt.Sprintf("contact %d", i+1),
		})
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]any{
		"result": records,
		"total":  total,
	}); err != nil {
		t.Fatalf("failed to encode page: %v", err)
	}
}

// TestContacts_PaginationAndTermination verifies that listing pages through
// a population larger than one page and stops once the reported total is
// exhausted, without a trailing empty-page request.
func TestContacts_PaginationAndTermination(t *testing.T) {

	mux, client, teardown := setup(t)
	defer teardown()

	const total = 88 // two pages of 50 and 38

	var callCount int
	mux.HandleFunc("/crm.contact.list.json", func(w http.ResponseWriter, r *http.Request) {
		body := decodeBody(t, r)
		start := int(body["start"].(float64))

		callCount++
		switch callCount {
		case 1:
			if start != 0 {
				t.Errorf("expected start 0, got %d", start)
			}
			writeListPage(t, w, 0, 50, total)
		case 2:
			if start != 50 {
				t.Errorf("expected start 50, got %d", start)
			}
			writeListPage(t, w, 50, total, total)
		default:
			t.Fatalf("handler called too many times: %d", callCount)
		}
	})

	contacts, err := client.Contacts(context.Background())
	if err != nil {
		t.Fatalf("Contacts returned an unexpected error: %v", err)
	}

	if got, want := len(contacts), total; got != want {
		t.Errorf("expected %d contacts, got %d", want, got)
	}
	if got, want := contacts[0].ID, ExternalID(1); got != want {
		t.Errorf("expected first id %d, got %d", want, got)
	}
	if got, want := contacts[total-1].ID, ExternalID(total); got != want {
		t.Errorf("expected last id %d, got %d", want, got)
	}
}

// TestContacts_EmptyPageTermination verifies that an empty page terminates
// listing even when the reported total claims more records exist.
func TestContacts_EmptyPageTermination(t *testing.T) {

	mux, client, teardown := setup(t)
	defer teardown()

	var callCount int
	mux.HandleFunc("/crm.contact.list.json", func(w http.ResponseWriter, r *http.Request) {
		_ = decodeBody(t, r)
		callCount++
		switch callCount {
		case 1:
			writeListPage(t, w, 0, 50, 200) // total overstated
		case 2:
			writeListPage(t, w, 0, 0, 200) // empty page
		default:
			t.Fatalf("handler called too many times: %d", callCount)
		}
	})

	contacts, err := client.Contacts(context.Background())
	if err != nil {
		t.Fatalf("Contacts returned an unexpected error: %v", err)
	}
	if got, want := len(contacts), 50; got != want {
		t.Errorf("expected %d contacts, got %d", want, got)
	}
}

// TestContactsFromID_Filter verifies that the id cursor is sent as a
// strictly-greater-than filter, and that a cursor of 0 sends no filter.
func TestContactsFromID_Filter(t *testing.T) {

	mux, client, teardown := setup(t)
	defer teardown()

	var lastFilter any
	mux.HandleFunc("/crm.contact.list.json", func(w http.ResponseWriter, r *http.Request) {
		body := decodeBody(t, r)
		lastFilter = body["filter"]
		writeListPage(t, w, 0, 0, 0)
	})

	if _, err := client.ContactsFromID(context.Background(), 356); err != nil {
		t.Fatalf("ContactsFromID returned an unexpected error: %v", err)
	}
	filter, ok := lastFilter.(map[string]any)
	if !ok {
		t.Fatalf("expected a filter map, got %T", lastFilter)
	}
	if got, want := filter[">ID"], float64(356); got != want {
		t.Errorf("expected >ID filter %v, got %v", want, got)
	}

	lastFilter = nil
	if _, err := client.ContactsFromID(context.Background(), 0); err != nil {
		t.Fatalf("ContactsFromID returned an unexpected error: %v", err)
	}
	if lastFilter != nil {
		t.Errorf("expected no filter for a zero cursor, got %v", lastFilter)
	}
}

// TestCall_BodyError verifies that an error reported in a 200 response body
// surfaces as an *APIError.
func TestCall_BodyError(t *testing.T) {

	mux, client, teardown := setup(t)
	defer teardown()

	mux.HandleFunc("/crm.company.list.json", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"error": "QUERY_LIMIT_EXCEEDED", "error_description": "Too many requests"}`))
	})

	_, err := client.Companies(context.Background())
	if err == nil {
		t.Fatal("expected an error, but got nil")
	}
	if !strings.Contains(err.Error(), "QUERY_LIMIT_EXCEEDED") {
		t.Errorf("error message should contain the remote code, but was: %q", err.Error())
	}
}

// TestCall_HTTPError verifies that a non-JSON 5xx response is reported with
// its status and body.
func TestCall_HTTPError(t *testing.T) {

	mux, client, teardown := setup(t)
	defer teardown()

	mux.HandleFunc("/crm.company.list.json", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("upstream unavailable"))
	})

	_, err := client.Companies(context.Background())
	if err == nil {
		t.Fatal("expected an error, but got nil")
	}
	if !strings.Contains(err.Error(), "status 502") {
		t.Errorf("error message should contain status code 502, but was: %q", err.Error())
	}
	if !strings.Contains(err.Error(), "upstream unavailable") {
		t.Errorf("error message should contain the response body, but was: %q", err.Error())
	}
}

// TestExternalID_UnmarshalJSON checks both serialization forms of remote ids.
func TestExternalID_UnmarshalJSON(t *testing.T) {

	tests := []struct {
		input string
		want  ExternalID
		ok    bool
	}{
		{`"356"`, 356, true},
		{`356`, 356, true},
		{`null`, 0, true},
		{`""`, 0, true},
		{`"abc"`, 0, false},
	}
	for _, tt := range tests {
		var e ExternalID
		err := json.Unmarshal([]byte(tt.input), &e)
		if tt.ok && err != nil {
			t.Errorf("%s: unexpected error %v", tt.input, err)
		}
		if !tt.ok && err == nil {
			t.Errorf("%s: expected an error, got none", tt.input)
		}
		if err == nil && e != tt.want {
			t.Errorf("%s: expected %d, got %d", tt.input, tt.want, e)
		}
	}
}
