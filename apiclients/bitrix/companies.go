package bitrix

import "context"

// companySelect is the set of company fields mirrored locally.
var companySelect = []string{"ID", "TITLE", "ASSIGNED_BY_ID"}

// Companies fetches all companies for the tenant.
func (c *Client) Companies(ctx context.Context) ([]Company, error) {
	return listAll[Company](ctx, c, "crm.company.list", listParams{
		Select: companySelect,
	})
}

// CompaniesFromID fetches companies whose external id is strictly greater
// than sinceID, for id-incremental sync. A sinceID of 0 fetches all
// companies.
func (c *Client) CompaniesFromID(ctx context.Context, sinceID int64) ([]Company, error) {
	if sinceID == 0 {
		return c.Companies(ctx)
	}
	return listAll[Company](ctx, c, "crm.company.list", listParams{
		Select: companySelect,
		Filter: map[string]any{">ID": sinceID},
	})
}
