package bitrix

import "context"

// contactSelect is the set of contact fields mirrored locally.
var contactSelect = []string{"ID", "NAME", "LAST_NAME", "SECOND_NAME", "ASSIGNED_BY_ID"}

// Contacts fetches all contacts for the tenant.
func (c *Client) Contacts(ctx context.Context) ([]Contact, error) {
	return listAll[Contact](ctx, c, "crm.contact.list", listParams{
		Select: contactSelect,
	})
}

// ContactsFromID fetches contacts whose external id is strictly greater than
// sinceID, for id-incremental sync. A sinceID of 0 fetches all contacts.
func (c *Client) ContactsFromID(ctx context.Context, sinceID int64) ([]Contact, error) {
	if sinceID == 0 {
		return c.Contacts(ctx)
	}
	return listAll[Contact](ctx, c, "crm.contact.list", listParams{
		Select: contactSelect,
		Filter: map[string]any{">ID": sinceID},
	})
}
