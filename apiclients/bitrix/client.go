// Package bitrix is a client for the Bitrix24 CRM REST API, authenticated by
// a per-tenant inbound webhook URL. List methods page through the remote
// source transparently; deal retrieval additionally fetches full per-record
// detail and resolves the tenant-specific payment-date user field.
package bitrix

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
)

// pageSize is the fixed number of records served per page by the remote
// list endpoints.
const pageSize = 50

// APIError reports a call rejected by the remote CRM endpoint.
type APIError struct {
	Status      int    // HTTP status, 0 when the error arrived in a 200 body
	Code        string // remote error code, eg "QUERY_LIMIT_EXCEEDED"
	Description string
}

// Error satisfies the error interface.
func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("bitrix API error %s: %s", e.Code, e.Description)
	}
	return fmt.Sprintf("bitrix API error (status %d): %s", e.Status, e.Description)
}

// Client is a wrapper for making calls to one tenant's Bitrix24 webhook
// endpoint.
type Client struct {
	httpClient *http.Client
	baseURL    string
	log        *slog.Logger
}

// NewClient creates a client for the given webhook URL, for example
// "https://acme.bitrix24.ru/rest/1/token". If no httpClient is provided
// http.DefaultClient is used.
func NewClient(webhookURL string, httpClient *http.Client, logger *slog.Logger) *Client {

	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(
			os.Stdout,
			&slog.HandlerOptions{Level: slog.LevelDebug},
		))
	}

	return &Client{
		httpClient: httpClient,
		baseURL:    strings.TrimSuffix(webhookURL, "/"),
		log:        logger,
	}
}

// call POSTs a REST method with a JSON params body and returns the decoded
// response envelope. Errors reported in the body are surfaced as *APIError
// even when the HTTP status is 200.
func (c *Client) call(ctx context.Context, method string, params any) (*envelope, error) {

	body, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s params: %w", method, err)
	}

	requestURL := fmt.Sprintf("%s/%s.json", c.baseURL, method)
	req, err := http.NewRequestWithContext(ctx, "POST", requestURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute %s request: %w", method, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s response: %w", method, err)
	}

	var env envelope
	if err := json.Unmarshal(respBody, &env); err != nil {
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return nil, &APIError{Status: resp.StatusCode, Description: string(respBody)}
		}
		return nil, fmt.Errorf("failed to decode %s response: %w", method, err)
	}

	if env.Error != "" {
		return nil, &APIError{Status: resp.StatusCode, Code: env.Error, Description: env.ErrorDescription}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &APIError{Status: resp.StatusCode, Description: string(respBody)}
	}

	return &env, nil
}

// listAll pages through a crm.*.list method, appending each page until the
// reported total is exhausted or a page comes back empty. Pagination is
// strictly sequential as each offset depends on the previously reported
// total. Any page error aborts the whole listing.
func listAll[T any](ctx context.Context, c *Client, method string, params listParams) ([]T, error) {

	var all []T
	start := 0

	for {
		params.Start = start
		env, err := c.call(ctx, method, params)
		if err != nil {
			c.log.Error(fmt.Sprintf("%s: failed at offset %d: %v", method, start, err))
			return nil, fmt.Errorf("%s failed at offset %d: %w", method, start, err)
		}

		var page []T
		if err := json.Unmarshal(env.Result, &page); err != nil {
			return nil, fmt.Errorf("%s: failed to decode page at offset %d: %w", method, start, err)
		}
		if len(page) == 0 {
			break
		}

		all = append(all, page...)
		start += pageSize
		if start >= env.Total {
			break
		}
	}

	c.log.Info(fmt.Sprintf("%s: retrieved %d records", method, len(all)))
	return all, nil
}

// get fetches one full record by id via a crm.*.get method. The raw record
// is returned as a map since deal records carry tenant-specific dynamic
// fields which cannot be typed ahead of time.
func (c *Client) get(ctx context.Context, method string, id int64) (map[string]any, error) {

	env, err := c.call(ctx, method, map[string]any{"id": id})
	if err != nil {
		return nil, err
	}

	var record map[string]any
	if err := json.Unmarshal(env.Result, &record); err != nil {
		return nil, fmt.Errorf("%s: failed to decode record %d: %w", method, id, err)
	}
	return record, nil
}
