package db

// bitrix.go deals with persistence and read-back of records fetched from the
// Bitrix24 client. Persistence is insert-only: each record is checked for
// existence by (tenant_id, external_id) and skipped when already held, so a
// locally stored record is never overwritten by a re-sync.

import (
	"context"
	"fmt"

	"gradation/apiclients/bitrix"

	"github.com/jmoiron/sqlx"
)

// EntityKind selects one of the mirrored entity tables.
type EntityKind string

const (
	KindContacts  EntityKind = "contacts"
	KindCompanies EntityKind = "companies"
	KindDeals     EntityKind = "deals"
)

// insertOnly runs the check-then-insert loop for a batch of records inside a
// transaction, returning the number of records actually inserted. The argFunc
// provides the named insert arguments for each record; the first two must be
// TenantID and ExternalID which also key the existence check.
func insertOnly[T any](
	ctx context.Context,
	db *DB,
	existsStmt, insertStmt *parameterizedStmt,
	records []T,
	argFunc func(record T) map[string]any,
) (int, error) {

	if len(records) == 0 {
		return 0, nil
	}

	tx, err := db.Beginx()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback() // no-op after commit.

	txExists := tx.NamedStmtContext(ctx, existsStmt.NamedStmt)
	txInsert := tx.NamedStmtContext(ctx, insertStmt.NamedStmt)

	var inserted int
	for _, record := range records {
		namedArgs := argFunc(record)
		if err := insertStmt.verifyArgs(namedArgs); err != nil {
			return 0, fmt.Errorf("insert verify arguments error: %v", err)
		}

		keyArgs := map[string]any{
			"TenantID":   namedArgs["TenantID"],
			"ExternalID": namedArgs["ExternalID"],
		}
		if err := existsStmt.verifyArgs(keyArgs); err != nil {
			return 0, fmt.Errorf("exists verify arguments error: %v", err)
		}

		var n int
		if err := txExists.GetContext(ctx, &n, keyArgs); err != nil {
			db.logQuery("exists", existsStmt, keyArgs, err)
			return 0, fmt.Errorf("existence check failed for record %v: %w", keyArgs["ExternalID"], err)
		}
		if n > 0 {
			continue
		}

		if _, err := txInsert.ExecContext(ctx, namedArgs); err != nil {
			db.logQuery("insert", insertStmt, namedArgs, err)
			return 0, fmt.Errorf("failed to insert record %v: %w", keyArgs["ExternalID"], err)
		}
		inserted++
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return inserted, nil
}

// ContactsInsert stores new contacts for a tenant, skipping those already
// held. Returns the number inserted.
func (db *DB) ContactsInsert(ctx context.Context, tenantID int64, contacts []bitrix.Contact) (int, error) {
	inserted, err := insertOnly(ctx, db, db.contactExistsStmt, db.contactInsertStmt, contacts,
		func(c bitrix.Contact) map[string]any {
			return map[string]any{
				"TenantID":     tenantID,
				"ExternalID":   int64(c.ID),
				"Name":         c.Name,
				"LastName":     c.LastName,
				"SecondName":   c.SecondName,
				"AssignedByID": int64(c.AssignedByID),
			}
		})
	if err != nil {
		return 0, fmt.Errorf("contacts insert error: %w", err)
	}
	db.logger.Info(fmt.Sprintf("inserted %d of %d contacts for tenant %d", inserted, len(contacts), tenantID))
	return inserted, nil
}

// CompaniesInsert stores new companies for a tenant, skipping those already
// held. Returns the number inserted.
func (db *DB) CompaniesInsert(ctx context.Context, tenantID int64, companies []bitrix.Company) (int, error) {
	inserted, err := insertOnly(ctx, db, db.companyExistsStmt, db.companyInsertStmt, companies,
		func(c bitrix.Company) map[string]any {
			return map[string]any{
				"TenantID":     tenantID,
				"ExternalID":   int64(c.ID),
				"Title":        c.Title,
				"AssignedByID": int64(c.AssignedByID),
			}
		})
	if err != nil {
		return 0, fmt.Errorf("companies insert error: %w", err)
	}
	db.logger.Info(fmt.Sprintf("inserted %d of %d companies for tenant %d", inserted, len(companies), tenantID))
	return inserted, nil
}

// DealsInsert stores new deals for a tenant, skipping those already held.
// Returns the number inserted.
func (db *DB) DealsInsert(ctx context.Context, tenantID int64, deals []bitrix.Deal) (int, error) {
	inserted, err := insertOnly(ctx, db, db.dealExistsStmt, db.dealInsertStmt, deals,
		func(d bitrix.Deal) map[string]any {
			return map[string]any{
				"TenantID":    tenantID,
				"ExternalID":  d.ID,
				"Title":       d.Title,
				"CompanyID":   d.CompanyID,
				"ContactID":   d.ContactID,
				"DateCreate":  d.CreateDate,
				"PaymentDate": d.PaymentDate,
				"Opportunity": d.Opportunity,
			}
		})
	if err != nil {
		return 0, fmt.Errorf("deals insert error: %w", err)
	}
	db.logger.Info(fmt.Sprintf("inserted %d of %d deals for tenant %d", inserted, len(deals), tenantID))
	return inserted, nil
}

// MaxExternalID returns the incremental sync cursor for one entity kind: the
// highest remote id held locally, or 0 when the table is empty for the
// tenant.
func (db *DB) MaxExternalID(ctx context.Context, tenantID int64, kind EntityKind) (int64, error) {

	var stmt *parameterizedStmt
	switch kind {
	case KindContacts:
		stmt = db.contactsMaxIDStmt
	case KindCompanies:
		stmt = db.companiesMaxIDStmt
	case KindDeals:
		stmt = db.dealsMaxIDStmt
	default:
		return 0, fmt.Errorf("unknown entity kind %q", kind)
	}

	namedArgs := map[string]any{
		"TenantID": tenantID,
	}
	if err := stmt.verifyArgs(namedArgs); err != nil {
		return 0, fmt.Errorf("max id verify arguments error: %v", err)
	}

	var maxID int64
	if err := stmt.GetContext(ctx, &maxID, namedArgs); err != nil {
		db.logQuery("max id", stmt, namedArgs, err)
		return 0, fmt.Errorf("%s max id error: %w", kind, err)
	}
	return maxID, nil
}

// Contact is the concrete type of each row returned by ContactsGet.
type Contact struct {
	ExternalID   int64  `db:"external_id" json:"id"`
	Name         string `db:"name" json:"name"`
	LastName     string `db:"last_name" json:"last_name"`
	SecondName   string `db:"second_name" json:"second_name"`
	AssignedByID int64  `db:"assigned_by_id" json:"assigned_by_id"`
}

// Company is the concrete type of each row returned by CompaniesGet.
type Company struct {
	ExternalID   int64  `db:"external_id" json:"id"`
	Title        string `db:"title" json:"title"`
	AssignedByID int64  `db:"assigned_by_id" json:"assigned_by_id"`
	OnCall       bool   `db:"on_call" json:"on_call"`
}

// Deal is the concrete type of each row returned by DealsGet.
type Deal struct {
	ExternalID  int64   `db:"external_id" json:"id"`
	Title       string  `db:"title" json:"title"`
	CompanyID   *int64  `db:"company_id" json:"company_id"`
	ContactID   *int64  `db:"contact_id" json:"contact_id"`
	DateCreate  *string `db:"date_create" json:"date_create"`
	PaymentDate *string `db:"payment_date" json:"payment_date"`
	Opportunity float64 `db:"opportunity" json:"opportunity"`
}

// ContactsGet returns all of a tenant's contacts in remote id order.
func (db *DB) ContactsGet(ctx context.Context, tenantID int64) ([]Contact, error) {
	return selectAll[Contact](ctx, db, db.contactsGetStmt, "contacts", tenantID)
}

// CompaniesGet returns all of a tenant's companies in remote id order.
func (db *DB) CompaniesGet(ctx context.Context, tenantID int64) ([]Company, error) {
	return selectAll[Company](ctx, db, db.companiesGetStmt, "companies", tenantID)
}

// DealsGet returns all of a tenant's deals in remote id order.
func (db *DB) DealsGet(ctx context.Context, tenantID int64) ([]Deal, error) {
	return selectAll[Deal](ctx, db, db.dealsGetStmt, "deals", tenantID)
}

// selectAll scans a tenant-scoped listing statement into a slice. An empty
// table yields an empty slice, not an error.
func selectAll[T any](ctx context.Context, db *DB, stmt *parameterizedStmt, name string, tenantID int64) ([]T, error) {

	namedArgs := map[string]any{
		"TenantID": tenantID,
	}
	if err := stmt.verifyArgs(namedArgs); err != nil {
		return nil, fmt.Errorf("%s verify arguments error: %v", name, err)
	}

	rows := []T{}
	err := stmt.SelectContext(ctx, &rows, namedArgs)
	db.logQuery(name, stmt, namedArgs, err)
	if err != nil {
		return nil, fmt.Errorf("%s select error: %w", name, err)
	}
	return rows, nil
}

// CompaniesMarkOnCall replaces the tenant's on-call rota: previously marked
// companies are cleared, then each listed company is marked on call with
// assignedBy recorded as the responsible owner.
func (db *DB) CompaniesMarkOnCall(ctx context.Context, tenantID int64, externalIDs []int64, assignedBy int64) error {

	tx, err := db.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback() // no-op after commit.

	if err := db.onCallClear(ctx, tx, tenantID); err != nil {
		return err
	}

	setStmt := tx.NamedStmtContext(ctx, db.companyOnCallSetStmt.NamedStmt)
	for _, externalID := range externalIDs {
		namedArgs := map[string]any{
			"TenantID":     tenantID,
			"ExternalID":   externalID,
			"AssignedByID": assignedBy,
		}
		if err := db.companyOnCallSetStmt.verifyArgs(namedArgs); err != nil {
			return fmt.Errorf("on-call set verify arguments error: %v", err)
		}
		result, err := setStmt.ExecContext(ctx, namedArgs)
		if err != nil {
			db.logQuery("on-call set", db.companyOnCallSetStmt, namedArgs, err)
			return fmt.Errorf("failed to mark company %d on call: %w", externalID, err)
		}
		if n, err := result.RowsAffected(); err == nil && n == 0 {
			return fmt.Errorf("company %d not held for tenant %d", externalID, tenantID)
		}
	}
	return tx.Commit()
}

func (db *DB) onCallClear(ctx context.Context, tx *sqlx.Tx, tenantID int64) error {
	namedArgs := map[string]any{
		"TenantID": tenantID,
	}
	if err := db.companyOnCallClearStmt.verifyArgs(namedArgs); err != nil {
		return fmt.Errorf("on-call clear verify arguments error: %v", err)
	}
	clearStmt := tx.NamedStmtContext(ctx, db.companyOnCallClearStmt.NamedStmt)
	if _, err := clearStmt.ExecContext(ctx, namedArgs); err != nil {
		db.logQuery("on-call clear", db.companyOnCallClearStmt, namedArgs, err)
		return fmt.Errorf("failed to clear on-call rota: %w", err)
	}
	return nil
}
