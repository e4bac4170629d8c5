package bitrix

import (
	"context"
	"fmt"
	"strconv"

	"golang.org/x/sync/errgroup"
)

// detailWorkers caps concurrent crm.deal.get calls during enrichment.
const detailWorkers = 5

// DealsFromDate fetches deals created strictly after sinceDate (formatted
// YYYY-MM-DD), enriched with full per-record detail and the tenant's
// payment-date user field.
func (c *Client) DealsFromDate(ctx context.Context, sinceDate string) ([]Deal, error) {
	return c.deals(ctx, map[string]any{">DATE_CREATE": sinceDate})
}

// DealsFromID fetches deals whose external id is strictly greater than
// sinceID, for id-incremental sync. A sinceID of 0 fetches all deals.
func (c *Client) DealsFromID(ctx context.Context, sinceID int64) ([]Deal, error) {
	if sinceID == 0 {
		return c.deals(ctx, nil)
	}
	return c.deals(ctx, map[string]any{">ID": sinceID})
}

// deals runs the full deal retrieval pipeline: resolve the payment-date
// field once for the run, list matching deal ids, fetch each deal's detail
// record concurrently, then map the details to normalized deals. Deals whose
// detail fetch failed are logged and dropped rather than failing the run.
func (c *Client) deals(ctx context.Context, filter map[string]any) ([]Deal, error) {

	paymentField, _, err := c.PaymentDateField(ctx)
	if err != nil {
		return nil, err
	}

	summaries, err := listAll[dealSummary](ctx, c, "crm.deal.list", listParams{
		Select: []string{"ID"},
		Filter: filter,
	})
	if err != nil {
		return nil, err
	}

	details := c.dealDetails(ctx, summaries)

	deals := make([]Deal, 0, len(details))
	for i, raw := range details {
		if raw == nil {
			continue
		}
		deal, err := mapDeal(raw, paymentField)
		if err != nil {
			c.log.Warn(fmt.Sprintf("skipping malformed deal %d: %v", summaries[i].ID, err))
			continue
		}
		deals = append(deals, deal)
	}
	return deals, nil
}

// dealDetails fetches the full record for each listed deal. Results align
// with summaries by index; a failed fetch leaves a nil entry so one bad
// record cannot abort the batch.
func (c *Client) dealDetails(ctx context.Context, summaries []dealSummary) []map[string]any {

	details := make([]map[string]any, len(summaries))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(detailWorkers)
	for i, s := range summaries {
		i, s := i, s
		g.Go(func() error {
			record, err := c.get(gctx, "crm.deal.get", int64(s.ID))
			if err != nil {
				c.log.Error(fmt.Sprintf("failed to fetch deal %d: %v", s.ID, err))
				return nil
			}
			details[i] = record
			return nil
		})
	}
	_ = g.Wait() // workers never return errors

	return details
}

// mapDeal normalizes a raw deal detail record. Company and contact links of
// "0" become nil, and the payment date is read from the tenant's resolved
// user field when one exists.
func mapDeal(raw map[string]any, paymentField string) (Deal, error) {

	id, err := rawInt(raw["ID"])
	if err != nil {
		return Deal{}, fmt.Errorf("invalid deal ID: %w", err)
	}

	deal := Deal{
		ID:          id,
		Title:       rawString(raw["TITLE"]),
		CompanyID:   rawLink(raw["COMPANY_ID"]),
		ContactID:   rawLink(raw["CONTACT_ID"]),
		CreateDate:  rawDate(raw["DATE_CREATE"]),
		Opportunity: rawFloat(raw["OPPORTUNITY"]),
	}
	if paymentField != "" {
		deal.PaymentDate = rawDate(raw[paymentField])
	}
	return deal, nil
}

// rawString coerces a JSON value to its string form; numbers are formatted
// without an exponent.
func rawString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return ""
	}
}

func rawInt(v any) (int64, error) {
	switch t := v.(type) {
	case string:
		return strconv.ParseInt(t, 10, 64)
	case float64:
		return int64(t), nil
	default:
		return 0, fmt.Errorf("unexpected type %T", v)
	}
}

func rawFloat(v any) float64 {
	switch t := v.(type) {
	case float64:
		return t
	case string:
		f, err := strconv.ParseFloat(t, 64)
		if err != nil {
			return 0
		}
		return f
	default:
		return 0
	}
}

// rawLink reads an entity link id, treating the "0" sentinel, empty and
// missing values as no link.
func rawLink(v any) *int64 {
	n, err := rawInt(v)
	if err != nil || n == 0 {
		return nil
	}
	return &n
}

// rawDate reads a date value, treating empty and missing values as null.
func rawDate(v any) *string {
	s := rawString(v)
	if s == "" {
		return nil
	}
	return &s
}
