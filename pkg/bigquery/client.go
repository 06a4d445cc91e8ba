// Package bigquery wraps the BigQuery client the analytics worker streams
// payment events into.
package bigquery

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"cloud.google.com/go/bigquery"
	"github.com/angelmondragon/paycore/pkg/config"
	"github.com/angelmondragon/paycore/pkg/gcp"
	"github.com/angelmondragon/paycore/pkg/logger"
	"google.golang.org/api/googleapi"
)

const metadataCheckTimeout = 10 * time.Second

var (
	errProjectIDRequired    = errors.New("gcp project id is required")
	errDatasetRequired      = errors.New("bigquery dataset is required")
	errTableNameRequired    = errors.New("bigquery table name is required")
	errClientNotInitialized = errors.New("bigquery client not initialized")
)

// Table describes a table the client depends on. Schema and PartitionField
// are only used when the table has to be created.
type Table struct {
	Name           string
	Schema         bigquery.Schema
	PartitionField string
}

type Client struct {
	client  *bigquery.Client
	dataset *bigquery.Dataset
	tables  []Table
	cfg     config.BigQueryConfig
	logg    *logger.Logger
}

// NewClient connects to the configured dataset and checks that every table
// exists. With CreateMissing set, absent datasets and tables are created
// instead of failing boot.
func NewClient(ctx context.Context, gcpCfg config.GCPConfig, cfg config.BigQueryConfig, logg *logger.Logger, tables ...Table) (*Client, error) {
	projectID := strings.TrimSpace(gcpCfg.ProjectID)
	if projectID == "" {
		return nil, errProjectIDRequired
	}
	datasetID := strings.TrimSpace(cfg.Dataset)
	if datasetID == "" {
		return nil, errDatasetRequired
	}
	tables = normalizeTables(tables)
	if len(tables) == 0 {
		return nil, errTableNameRequired
	}

	bq, err := bigquery.NewClient(ctx, projectID, gcp.ClientOptions(gcpCfg)...)
	if err != nil {
		return nil, fmt.Errorf("creating bigquery client: %w", err)
	}
	c := &Client{
		client:  bq,
		dataset: bq.Dataset(datasetID),
		tables:  tables,
		cfg:     cfg,
		logg:    logg,
	}
	if err := c.ensure(ctx, cfg.CreateMissing); err != nil {
		_ = bq.Close()
		return nil, err
	}
	if logg != nil {
		logg.Info(logg.WithFields(ctx, map[string]any{"dataset": datasetID, "tables": tableNames(tables)}), "bigquery client initialized")
	}
	return c, nil
}

// normalizeTables trims names and drops blanks and duplicates.
func normalizeTables(tables []Table) []Table {
	out := make([]Table, 0, len(tables))
	seen := map[string]struct{}{}
	for _, t := range tables {
		t.Name = strings.TrimSpace(t.Name)
		if t.Name == "" {
			continue
		}
		if _, dup := seen[t.Name]; dup {
			continue
		}
		seen[t.Name] = struct{}{}
		out = append(out, t)
	}
	return out
}

func tableNames(tables []Table) []string {
	names := make([]string, len(tables))
	for i, t := range tables {
		names[i] = t.Name
	}
	return names
}

func (c *Client) ensure(ctx context.Context, create bool) error {
	if c == nil || c.dataset == nil {
		return errClientNotInitialized
	}
	ctx, cancel := context.WithTimeout(ctx, metadataCheckTimeout)
	defer cancel()

	if _, err := c.dataset.Metadata(ctx); err != nil {
		if !isNotFound(err) {
			return fmt.Errorf("checking dataset %q: %w", c.dataset.DatasetID, err)
		}
		if !create {
			return fmt.Errorf("dataset %q does not exist", c.dataset.DatasetID)
		}
		if err := c.dataset.Create(ctx, &bigquery.DatasetMetadata{Location: c.cfg.Location}); err != nil {
			return fmt.Errorf("creating dataset %q: %w", c.dataset.DatasetID, err)
		}
		c.info(ctx, "bigquery dataset created", c.dataset.DatasetID)
	}

	for _, t := range c.tables {
		ref := c.dataset.Table(t.Name)
		if _, err := ref.Metadata(ctx); err != nil {
			if !isNotFound(err) {
				return fmt.Errorf("checking table %q: %w", t.Name, err)
			}
			if !create || len(t.Schema) == 0 {
				return fmt.Errorf("table %q does not exist", t.Name)
			}
			if err := ref.Create(ctx, tableMetadata(t)); err != nil {
				return fmt.Errorf("creating table %q: %w", t.Name, err)
			}
			c.info(ctx, "bigquery table created", t.Name)
		}
	}
	return nil
}

func tableMetadata(t Table) *bigquery.TableMetadata {
	meta := &bigquery.TableMetadata{Schema: t.Schema}
	if t.PartitionField != "" {
		meta.TimePartitioning = &bigquery.TimePartitioning{Type: bigquery.DayPartitioningType, Field: t.PartitionField}
	}
	return meta
}

func (c *Client) info(ctx context.Context, msg, name string) {
	if c.logg != nil {
		c.logg.Info(c.logg.WithField(ctx, "bigquery_object", name), msg)
	}
}

// Ping checks that the dataset and tables are still reachable.
func (c *Client) Ping(ctx context.Context) error {
	if c == nil {
		return errClientNotInitialized
	}
	return c.ensure(ctx, false)
}

// InsertRows streams rows into table. Row-level failures come back as a
// bigquery.PutMultiError.
func (c *Client) InsertRows(ctx context.Context, table string, rows []any) error {
	if c == nil || c.client == nil {
		return errClientNotInitialized
	}
	table = strings.TrimSpace(table)
	if table == "" {
		return errTableNameRequired
	}
	if len(rows) == 0 {
		return nil
	}
	return c.dataset.Table(table).Inserter().Put(ctx, rows)
}

func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}

func isNotFound(err error) bool {
	var apiErr *googleapi.Error
	return errors.As(err, &apiErr) && apiErr.Code == http.StatusNotFound
}
