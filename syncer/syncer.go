// Package syncer orchestrates one-way synchronization runs from a tenant's
// remote CRM into the local mirror: fetch via the remote client, persist
// insert-only, then refresh the tenant's aggregates. The local mirror is an
// append-only history, so a record changed remotely after first sync keeps
// its original local form.
package syncer

import (
	"context"
	"fmt"
	"log/slog"

	"gradation/apiclients/bitrix"
	"gradation/db"
)

// epochDate is the sentinel lower bound for date-mode deal fetches: a "full"
// date sync asks for every deal created after this date.
const epochDate = "2000-01-01"

// RemoteCRM is the client surface the engine needs from a tenant's remote
// CRM, satisfied by *bitrix.Client.
type RemoteCRM interface {
	Contacts(ctx context.Context) ([]bitrix.Contact, error)
	ContactsFromID(ctx context.Context, sinceID int64) ([]bitrix.Contact, error)
	Companies(ctx context.Context) ([]bitrix.Company, error)
	CompaniesFromID(ctx context.Context, sinceID int64) ([]bitrix.Company, error)
	DealsFromDate(ctx context.Context, sinceDate string) ([]bitrix.Deal, error)
	DealsFromID(ctx context.Context, sinceID int64) ([]bitrix.Deal, error)
}

// Engine runs sync operations against the store it was constructed with.
// newClient builds a remote client from a tenant's webhook link, letting
// tests substitute a fake remote.
type Engine struct {
	db        *db.DB
	newClient func(link string) RemoteCRM
	log       *slog.Logger
}

// NewEngine creates a sync engine over the given store. A nil newClient
// defaults to the Bitrix24 client.
func NewEngine(store *db.DB, newClient func(link string) RemoteCRM, logger *slog.Logger) *Engine {
	if newClient == nil {
		newClient = func(link string) RemoteCRM {
			return bitrix.NewClient(link, nil, logger)
		}
	}
	return &Engine{
		db:        store,
		newClient: newClient,
		log:       logger,
	}
}

// Result reports one entity kind's sync run. Fetched counts records returned
// by the remote; Inserted counts those new to the local mirror.
type Result struct {
	Fetched  int `json:"fetched"`
	Inserted int `json:"inserted"`
}

// SyncContacts fetches all of a tenant's contacts and persists the new ones.
func (e *Engine) SyncContacts(ctx context.Context, tenant db.Tenant) (Result, error) {

	contacts, err := e.newClient(tenant.Link).Contacts(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("contact sync fetch error: %w", err)
	}
	inserted, err := e.db.ContactsInsert(ctx, tenant.ID, contacts)
	if err != nil {
		return Result{}, fmt.Errorf("contact sync persist error: %w", err)
	}
	return Result{Fetched: len(contacts), Inserted: inserted}, nil
}

// SyncCompanies fetches all of a tenant's companies and persists the new
// ones.
func (e *Engine) SyncCompanies(ctx context.Context, tenant db.Tenant) (Result, error) {

	companies, err := e.newClient(tenant.Link).Companies(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("company sync fetch error: %w", err)
	}
	inserted, err := e.db.CompaniesInsert(ctx, tenant.ID, companies)
	if err != nil {
		return Result{}, fmt.Errorf("company sync persist error: %w", err)
	}
	return Result{Fetched: len(companies), Inserted: inserted}, nil
}

// SyncDealsFromDate fetches deals created after sinceDate and persists the
// new ones. An empty sinceDate means a full fetch from the epoch sentinel.
func (e *Engine) SyncDealsFromDate(ctx context.Context, tenant db.Tenant, sinceDate string) (Result, error) {

	if sinceDate == "" {
		sinceDate = epochDate
	}
	deals, err := e.newClient(tenant.Link).DealsFromDate(ctx, sinceDate)
	if err != nil {
		return Result{}, fmt.Errorf("deal sync fetch error: %w", err)
	}
	inserted, err := e.db.DealsInsert(ctx, tenant.ID, deals)
	if err != nil {
		return Result{}, fmt.Errorf("deal sync persist error: %w", err)
	}
	return Result{Fetched: len(deals), Inserted: inserted}, nil
}

// SyncDealsSinceLastDate fetches deals created after the date cursor held in
// the tenant's summary, falling back to a full fetch when no cursor exists.
func (e *Engine) SyncDealsSinceLastDate(ctx context.Context, tenant db.Tenant) (Result, error) {

	cursor, ok, err := e.db.LastDealDate(ctx, tenant.ID)
	if err != nil {
		return Result{}, fmt.Errorf("deal sync cursor error: %w", err)
	}
	if !ok {
		e.log.Info(fmt.Sprintf("no deal date cursor for tenant %q, full fetch", tenant.Name))
		cursor = epochDate
	}
	return e.SyncDealsFromDate(ctx, tenant, cursor)
}

// SyncDealsIncremental fetches deals with remote ids above the local
// maximum. Ids at or below the cursor are never refetched.
func (e *Engine) SyncDealsIncremental(ctx context.Context, tenant db.Tenant) (Result, error) {

	cursor, err := e.db.MaxExternalID(ctx, tenant.ID, db.KindDeals)
	if err != nil {
		return Result{}, fmt.Errorf("deal sync cursor error: %w", err)
	}
	deals, err := e.newClient(tenant.Link).DealsFromID(ctx, cursor)
	if err != nil {
		return Result{}, fmt.Errorf("deal sync fetch error: %w", err)
	}
	inserted, err := e.db.DealsInsert(ctx, tenant.ID, deals)
	if err != nil {
		return Result{}, fmt.Errorf("deal sync persist error: %w", err)
	}
	return Result{Fetched: len(deals), Inserted: inserted}, nil
}

// IncrementalResults reports a full id-incremental run over all entity
// kinds.
type IncrementalResults struct {
	Contacts  Result `json:"contacts"`
	Companies Result `json:"companies"`
	Deals     Result `json:"deals"`
}

// SyncIncremental brings every entity kind up to date by id cursor and then
// refreshes the tenant's summary. Kinds run sequentially; a failure aborts
// the run but already-persisted kinds keep their records (each kind commits
// independently and re-running is idempotent).
func (e *Engine) SyncIncremental(ctx context.Context, tenant db.Tenant) (IncrementalResults, error) {

	var results IncrementalResults
	client := e.newClient(tenant.Link)

	contactCursor, err := e.db.MaxExternalID(ctx, tenant.ID, db.KindContacts)
	if err != nil {
		return results, fmt.Errorf("contact cursor error: %w", err)
	}
	contacts, err := client.ContactsFromID(ctx, contactCursor)
	if err != nil {
		return results, fmt.Errorf("incremental contact fetch error: %w", err)
	}
	inserted, err := e.db.ContactsInsert(ctx, tenant.ID, contacts)
	if err != nil {
		return results, fmt.Errorf("incremental contact persist error: %w", err)
	}
	results.Contacts = Result{Fetched: len(contacts), Inserted: inserted}

	companyCursor, err := e.db.MaxExternalID(ctx, tenant.ID, db.KindCompanies)
	if err != nil {
		return results, fmt.Errorf("company cursor error: %w", err)
	}
	companies, err := client.CompaniesFromID(ctx, companyCursor)
	if err != nil {
		return results, fmt.Errorf("incremental company fetch error: %w", err)
	}
	inserted, err = e.db.CompaniesInsert(ctx, tenant.ID, companies)
	if err != nil {
		return results, fmt.Errorf("incremental company persist error: %w", err)
	}
	results.Companies = Result{Fetched: len(companies), Inserted: inserted}

	results.Deals, err = e.SyncDealsIncremental(ctx, tenant)
	if err != nil {
		return results, err
	}

	if err := e.db.SummaryRefresh(ctx, tenant.ID); err != nil {
		return results, fmt.Errorf("incremental summary refresh error: %w", err)
	}

	e.log.Info(fmt.Sprintf(
		"incremental sync for tenant %q: %d contacts, %d companies, %d deals inserted",
		tenant.Name,
		results.Contacts.Inserted,
		results.Companies.Inserted,
		results.Deals.Inserted,
	))
	return results, nil
}

// RefreshSummary recomputes the tenant's aggregate row.
func (e *Engine) RefreshSummary(ctx context.Context, tenant db.Tenant) (db.Summary, error) {

	if err := e.db.SummaryRefresh(ctx, tenant.ID); err != nil {
		return db.Summary{}, err
	}
	return e.db.SummaryGet(ctx, tenant.ID)
}
