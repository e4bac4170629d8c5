package syncer

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"

	"gradation/apiclients/bitrix"
	"gradation/db"

	"github.com/google/go-cmp/cmp"
)

func ptrStr(s string) *string { return &s }

// fakeCRM is an in-memory RemoteCRM recording the cursors it was asked for.
type fakeCRM struct {
	contacts  []bitrix.Contact
	companies []bitrix.Company
	deals     []bitrix.Deal

	contactCursors []int64
	companyCursors []int64
	dealIDCursors  []int64
	dealDateCursor string
}

func (f *fakeCRM) Contacts(ctx context.Context) ([]bitrix.Contact, error) {
	return f.ContactsFromID(ctx, 0)
}

func (f *fakeCRM) ContactsFromID(ctx context.Context, sinceID int64) ([]bitrix.Contact, error) {
	f.contactCursors = append(f.contactCursors, sinceID)
	var out []bitrix.Contact
	for _, c := range f.contacts {
		if int64(c.ID) > sinceID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (f *fakeCRM) Companies(ctx context.Context) ([]bitrix.Company, error) {
	return f.CompaniesFromID(ctx, 0)
}

func (f *fakeCRM) CompaniesFromID(ctx context.Context, sinceID int64) ([]bitrix.Company, error) {
	f.companyCursors = append(f.companyCursors, sinceID)
	var out []bitrix.Company
	for _, c := range f.companies {
		if int64(c.ID) > sinceID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (f *fakeCRM) DealsFromDate(ctx context.Context, sinceDate string) ([]bitrix.Deal, error) {
	f.dealDateCursor = sinceDate
	var out []bitrix.Deal
	for _, d := range f.deals {
		if d.CreateDate != nil && *d.CreateDate > sinceDate {
			out = append(out, d)
		}
	}
	return out, nil
}

func (f *fakeCRM) DealsFromID(ctx context.Context, sinceID int64) ([]bitrix.Deal, error) {
	f.dealIDCursors = append(f.dealIDCursors, sinceID)
	var out []bitrix.Deal
	for _, d := range f.deals {
		if d.ID > sinceID {
			out = append(out, d)
		}
	}
	return out, nil
}

// setupEngine builds an engine over a fresh in-memory store, a registered
// tenant and the given fake remote.
func setupEngine(t *testing.T, remote *fakeCRM) (*Engine, db.Tenant, func()) {
	t.Helper()

	dbName := strings.ReplaceAll(t.Name(), "/", "_")
	dbPath := fmt.Sprintf("file:%s?mode=memory&cache=shared", dbName)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	key := []byte("change this password to a secret")

	store, err := db.NewConnection(dbPath, logger, key)
	if err != nil {
		t.Fatalf("in-memory test database opening error: %v", err)
	}

	ctx := context.Background()
	tenantID, err := store.TenantRegister(ctx, "acme", "https://example.com/rest/1/t")
	if err != nil {
		t.Fatalf("unexpected register error: %v", err)
	}
	tenant, err := store.TenantResolve(ctx, "acme")
	if err != nil {
		t.Fatalf("unexpected resolve error: %v", err)
	}
	if tenant.ID != tenantID {
		t.Fatalf("tenant id mismatch: %d != %d", tenant.ID, tenantID)
	}

	engine := NewEngine(store, func(link string) RemoteCRM {
		if link != tenant.Link {
			t.Errorf("engine used link %q, want %q", link, tenant.Link)
		}
		return remote
	}, logger)

	return engine, tenant, func() {
		if err := store.Close(); err != nil {
			t.Fatalf("unexpected db close error: %v", err)
		}
	}
}

// TestSyncContacts verifies a full contact sync and its idempotence.
func TestSyncContacts(t *testing.T) {

	remote := &fakeCRM{
		contacts: []bitrix.Contact{
			{ID: 1, Name: "Anna"},
			{ID: 2, Name: "Boris"},
		},
	}
	engine, tenant, closeDB := setupEngine(t, remote)
	defer closeDB()
	ctx := context.Background()

	result, err := engine.SyncContacts(ctx, tenant)
	if err != nil {
		t.Fatalf("unexpected sync error: %v", err)
	}
	if diff := cmp.Diff(Result{Fetched: 2, Inserted: 2}, result); diff != "" {
		t.Errorf("result mismatch (-want +got):\n%s", diff)
	}

	// A re-run refetches everything but inserts nothing.
	result, err = engine.SyncContacts(ctx, tenant)
	if err != nil {
		t.Fatalf("unexpected re-sync error: %v", err)
	}
	if diff := cmp.Diff(Result{Fetched: 2, Inserted: 0}, result); diff != "" {
		t.Errorf("re-sync result mismatch (-want +got):\n%s", diff)
	}
}

// TestSyncIncremental verifies the all-kinds id-incremental run: cursors
// advance monotonically, only unseen records are fetched on later runs and
// the summary is refreshed as part of the run.
func TestSyncIncremental(t *testing.T) {

	remote := &fakeCRM{
		contacts:  []bitrix.Contact{{ID: 1}, {ID: 5}},
		companies: []bitrix.Company{{ID: 2}},
		deals: []bitrix.Deal{
			{ID: 3, CreateDate: ptrStr("2024-05-02T10:00:00+03:00"), Opportunity: 100},
		},
	}
	engine, tenant, closeDB := setupEngine(t, remote)
	defer closeDB()
	ctx := context.Background()

	results, err := engine.SyncIncremental(ctx, tenant)
	if err != nil {
		t.Fatalf("unexpected sync error: %v", err)
	}
	want := IncrementalResults{
		Contacts:  Result{Fetched: 2, Inserted: 2},
		Companies: Result{Fetched: 1, Inserted: 1},
		Deals:     Result{Fetched: 1, Inserted: 1},
	}
	if diff := cmp.Diff(want, results); diff != "" {
		t.Errorf("results mismatch (-want +got):\n%s", diff)
	}

	// First run starts from empty cursors.
	if diff := cmp.Diff([]int64{0}, remote.contactCursors); diff != "" {
		t.Errorf("contact cursors mismatch (-want +got):\n%s", diff)
	}

	// The remote gains records, including ids below the cursor which must
	// never be refetched.
	remote.contacts = append(remote.contacts, bitrix.Contact{ID: 9})
	remote.deals = append(remote.deals,
		bitrix.Deal{ID: 8, CreateDate: ptrStr("2024-06-01T09:00:00+03:00"), Opportunity: 50})

	results, err = engine.SyncIncremental(ctx, tenant)
	if err != nil {
		t.Fatalf("unexpected second sync error: %v", err)
	}
	want = IncrementalResults{
		Contacts:  Result{Fetched: 1, Inserted: 1},
		Companies: Result{Fetched: 0, Inserted: 0},
		Deals:     Result{Fetched: 1, Inserted: 1},
	}
	if diff := cmp.Diff(want, results); diff != "" {
		t.Errorf("second results mismatch (-want +got):\n%s", diff)
	}

	// Cursors advanced to the local maxima.
	if diff := cmp.Diff([]int64{0, 5}, remote.contactCursors); diff != "" {
		t.Errorf("contact cursors mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]int64{0, 2}, remote.companyCursors); diff != "" {
		t.Errorf("company cursors mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]int64{0, 3}, remote.dealIDCursors); diff != "" {
		t.Errorf("deal cursors mismatch (-want +got):\n%s", diff)
	}

	// The summary was refreshed as part of the run.
	summary, err := engine.RefreshSummary(ctx, tenant)
	if err != nil {
		t.Fatalf("unexpected summary error: %v", err)
	}
	if got, want := summary.ContactsCount, 3; got != want {
		t.Errorf("expected %d contacts in summary, got %d", want, got)
	}
	if got, want := summary.OpportunityTotal, 150.0; got != want {
		t.Errorf("expected opportunity total %f, got %f", want, got)
	}
}

// TestSyncDealsSinceLastDate verifies the date cursor: a fresh tenant syncs
// from the epoch sentinel, a refreshed tenant syncs from its latest deal
// date.
func TestSyncDealsSinceLastDate(t *testing.T) {

	remote := &fakeCRM{
		deals: []bitrix.Deal{
			{ID: 1, CreateDate: ptrStr("2024-05-02T10:00:00+03:00")},
			{ID: 2, CreateDate: ptrStr("2024-07-01T09:00:00+03:00")},
		},
	}
	engine, tenant, closeDB := setupEngine(t, remote)
	defer closeDB()
	ctx := context.Background()

	result, err := engine.SyncDealsSinceLastDate(ctx, tenant)
	if err != nil {
		t.Fatalf("unexpected sync error: %v", err)
	}
	if got, want := result.Inserted, 2; got != want {
		t.Errorf("expected %d inserted, got %d", want, got)
	}
	if got, want := remote.dealDateCursor, "2000-01-01"; got != want {
		t.Errorf("expected epoch cursor %q, got %q", want, got)
	}

	// Establish the date cursor, then sync again.
	if _, err := engine.RefreshSummary(ctx, tenant); err != nil {
		t.Fatalf("unexpected summary error: %v", err)
	}
	remote.deals = append(remote.deals,
		bitrix.Deal{ID: 3, CreateDate: ptrStr("2024-08-01T12:00:00+03:00")})

	result, err = engine.SyncDealsSinceLastDate(ctx, tenant)
	if err != nil {
		t.Fatalf("unexpected second sync error: %v", err)
	}
	if got, want := result.Inserted, 1; got != want {
		t.Errorf("expected %d inserted, got %d", want, got)
	}
	if got, want := remote.dealDateCursor, "2024-07-01T09:00:00+03:00"; got != want {
		t.Errorf("expected date cursor %q, got %q", want, got)
	}
}

// TestSyncDealsFromDate_FullFetchDefault verifies that an empty since date
// falls back to the epoch sentinel.
func TestSyncDealsFromDate_FullFetchDefault(t *testing.T) {

	remote := &fakeCRM{}
	engine, tenant, closeDB := setupEngine(t, remote)
	defer closeDB()

	if _, err := engine.SyncDealsFromDate(context.Background(), tenant, ""); err != nil {
		t.Fatalf("unexpected sync error: %v", err)
	}
	if got, want := remote.dealDateCursor, "2000-01-01"; got != want {
		t.Errorf("expected epoch cursor %q, got %q", want, got)
	}
}
