package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
)

// SelectQuery describes a filtered range query against one remote table.
// Rows are always ordered by (DateField ascending, id ascending) so that
// offset pagination is deterministic and gap-free even when many rows share
// a timestamp.
type SelectQuery struct {
	Table     string
	DateField string // "updated_at" or "created_at"
	After     string // exclusive lower bound (RFC 3339); empty selects everything
	Limit     int
	Offset    int
}

// Upsert writes one row by primary key: insert, or overwrite the existing
// row when the id already exists. Idempotent by construction — replaying
// the same row never duplicates it.
func (c *Client) Upsert(ctx context.Context, table string, row map[string]any) error {
	c.logger.Debug("upserting row", slog.String("table", table))

	query := url.Values{}
	query.Set("on_conflict", "id")

	// PostgREST bulk-insert shape: an array, even for a single row.
	_, err := c.do(ctx, http.MethodPost, table, query, []map[string]any{row},
		"resolution=merge-duplicates,return=minimal")
	if err != nil {
		return fmt.Errorf("upsert %s: %w", table, err)
	}

	return nil
}

// DeleteByID removes a row by primary key. Deleting a row that does not
// exist is not an error.
func (c *Client) DeleteByID(ctx context.Context, table, id string) error {
	c.logger.Debug("deleting row", slog.String("table", table), slog.String("id", id))

	query := url.Values{}
	query.Set("id", "eq."+id)

	_, err := c.do(ctx, http.MethodDelete, table, query, nil, "")
	if err != nil {
		return fmt.Errorf("delete %s/%s: %w", table, id, err)
	}

	return nil
}

// Select runs one page of a filtered range query and returns the decoded rows.
func (c *Client) Select(ctx context.Context, q SelectQuery) ([]map[string]any, error) {
	c.logger.Debug("selecting rows",
		slog.String("table", q.Table),
		slog.String("after", q.After),
		slog.Int("offset", q.Offset),
	)

	query := url.Values{}
	query.Set("select", "*")
	query.Set("order", q.DateField+".asc,id.asc")
	query.Set("limit", strconv.Itoa(q.Limit))
	query.Set("offset", strconv.Itoa(q.Offset))

	if q.After != "" {
		query.Set(q.DateField, "gt."+q.After)
	}

	payload, err := c.do(ctx, http.MethodGet, q.Table, query, nil, "")
	if err != nil {
		return nil, fmt.Errorf("select %s: %w", q.Table, err)
	}

	var rows []map[string]any
	if err := json.Unmarshal(payload, &rows); err != nil {
		return nil, fmt.Errorf("select %s: decoding response: %w", q.Table, err)
	}

	return rows, nil
}
