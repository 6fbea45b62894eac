// Package warehouse composes and runs read-only analytical queries
// against the columnar store.
package warehouse

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/bigquery"
	"go.uber.org/zap"
	"google.golang.org/api/iterator"

	"orgpulse.org/internal/report"
)

// Runner executes one analytical query and returns the materialized
// result. The warehouse client buffers internally, so no extra chunking
// is imposed here; an empty table means "not found", never an error.
type Runner interface {
	RunQuery(ctx context.Context, query string) (*report.Table, error)
}

// Client is the BigQuery-backed Runner.
type Client struct {
	bq  *bigquery.Client
	log *zap.Logger
}

// NewClient connects to the warehouse project using ambient credentials.
func NewClient(ctx context.Context, projectID string, log *zap.Logger) (*Client, error) {
	bq, err := bigquery.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("warehouse: connect: %w", err)
	}
	return &Client{bq: bq, log: log}, nil
}

// RunQuery executes the query and drains the iterator into a table.
func (c *Client) RunQuery(ctx context.Context, query string) (*report.Table, error) {
	start := time.Now()
	it, err := c.bq.Query(query).Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("warehouse: run query: %w", err)
	}

	var table *report.Table
	for {
		var row []bigquery.Value
		err := it.Next(&row)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("warehouse: read row: %w", err)
		}
		if table == nil {
			table = report.NewTable(schemaColumns(it.Schema))
		}
		vals := make([]any, len(row))
		for i, v := range row {
			vals[i] = v
		}
		table.Append(vals)
	}
	if table == nil {
		table = report.NewTable(schemaColumns(it.Schema))
	}
	c.log.Info("warehouse query executed",
		zap.Int("rows", table.Len()),
		zap.Duration("took", time.Since(start)))
	return table, nil
}

// Close releases the warehouse client.
func (c *Client) Close() error { return c.bq.Close() }

// Ping checks warehouse reachability with a trivial query.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.RunQuery(ctx, "SELECT 1")
	return err
}

func schemaColumns(schema bigquery.Schema) []string {
	cols := make([]string, len(schema))
	for i, f := range schema {
		cols[i] = f.Name
	}
	return cols
}
