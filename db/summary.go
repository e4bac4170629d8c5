package db

// summary.go maintains the per-tenant aggregate row: entity counts, the
// total deal opportunity and the latest deal creation date, which doubles as
// the date-incremental sync cursor.

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// Summary is a tenant's aggregate row.
type Summary struct {
	TenantID         int64   `db:"tenant_id" json:"tenant_id"`
	ContactsCount    int     `db:"contacts_count" json:"contacts_count"`
	CompaniesCount   int     `db:"companies_count" json:"companies_count"`
	DealsCount       int     `db:"deals_count" json:"deals_count"`
	OpportunityTotal float64 `db:"opportunity_total" json:"opportunity_total"`
	LastDealDate     *string `db:"last_deal_date" json:"last_deal_date"`
	RefreshedAt      string  `db:"refreshed_at" json:"refreshed_at"`
}

// SummaryRefresh recomputes a tenant's summary row in full from the mirror
// tables, inserting the row on first refresh and updating it in place
// thereafter.
func (db *DB) SummaryRefresh(ctx context.Context, tenantID int64) error {

	stmt := db.summaryUpsertStmt
	namedArgs := map[string]any{
		"TenantID": tenantID,
	}
	if err := stmt.verifyArgs(namedArgs); err != nil {
		return fmt.Errorf("summary refresh verify arguments error: %v", err)
	}

	if _, err := stmt.ExecContext(ctx, namedArgs); err != nil {
		db.logQuery("summary refresh", stmt, namedArgs, err)
		return fmt.Errorf("summary refresh error: %w", err)
	}
	db.logger.Info(fmt.Sprintf("refreshed summary for tenant %d", tenantID))
	return nil
}

// SummaryGet fetches a tenant's summary row. sql.ErrNoRows is returned when
// the summary has never been refreshed.
func (db *DB) SummaryGet(ctx context.Context, tenantID int64) (Summary, error) {

	stmt := db.summaryGetStmt
	namedArgs := map[string]any{
		"TenantID": tenantID,
	}
	if err := stmt.verifyArgs(namedArgs); err != nil {
		return Summary{}, fmt.Errorf("summary get verify arguments error: %v", err)
	}

	var summary Summary
	err := stmt.GetContext(ctx, &summary, namedArgs)
	if errors.Is(err, sql.ErrNoRows) {
		return Summary{}, err
	}
	if err != nil {
		db.logQuery("summary get", stmt, namedArgs, err)
		return Summary{}, fmt.Errorf("summary get error: %w", err)
	}
	return summary, nil
}

// LastDealDate returns the date-incremental sync cursor from the summary
// row. The second return is false when no summary exists or no deal date has
// been recorded, in which case callers fall back to a full fetch.
func (db *DB) LastDealDate(ctx context.Context, tenantID int64) (string, bool, error) {

	summary, err := db.SummaryGet(ctx, tenantID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	if summary.LastDealDate == nil || *summary.LastDealDate == "" {
		return "", false, nil
	}
	return *summary.LastDealDate, true, nil
}
