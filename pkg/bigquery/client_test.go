package bigquery

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"cloud.google.com/go/bigquery"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/googleapi"

	"github.com/angelmondragon/paycore/pkg/config"
)

func TestNormalizeTablesTrimsAndDedupes(t *testing.T) {
	got := normalizeTables([]Table{{Name: " payment_events "}, {Name: "  "}, {Name: "payment_events"}, {Name: "refunds"}})
	require.Equal(t, []string{"payment_events", "refunds"}, tableNames(got))
}

func TestTableMetadataPartitionsByField(t *testing.T) {
	schema := bigquery.Schema{{Name: "occurred_at", Type: bigquery.TimestampFieldType}}

	meta := tableMetadata(Table{Name: "payment_events", Schema: schema, PartitionField: "occurred_at"})
	require.Equal(t, schema, meta.Schema)
	require.NotNil(t, meta.TimePartitioning)
	require.Equal(t, "occurred_at", meta.TimePartitioning.Field)

	require.Nil(t, tableMetadata(Table{Name: "plain", Schema: schema}).TimePartitioning)
}

func TestIsNotFound(t *testing.T) {
	require.True(t, isNotFound(fmt.Errorf("lookup: %w", &googleapi.Error{Code: http.StatusNotFound})))
	require.False(t, isNotFound(&googleapi.Error{Code: http.StatusForbidden}))
	require.False(t, isNotFound(errors.New("plain")))
}

func TestNewClientValidatesConfig(t *testing.T) {
	ctx := context.Background()
	_, err := NewClient(ctx, config.GCPConfig{}, config.BigQueryConfig{Dataset: "paycore"}, nil, Table{Name: "payment_events"})
	require.ErrorIs(t, err, errProjectIDRequired)

	_, err = NewClient(ctx, config.GCPConfig{ProjectID: "p"}, config.BigQueryConfig{}, nil, Table{Name: "payment_events"})
	require.ErrorIs(t, err, errDatasetRequired)

	_, err = NewClient(ctx, config.GCPConfig{ProjectID: "p"}, config.BigQueryConfig{Dataset: "paycore"}, nil)
	require.ErrorIs(t, err, errTableNameRequired)
}

func TestNilClientGuards(t *testing.T) {
	var c *Client
	require.ErrorIs(t, c.Ping(context.Background()), errClientNotInitialized)
	require.ErrorIs(t, c.InsertRows(context.Background(), "t", []any{1}), errClientNotInitialized)
	require.NoError(t, c.Close())
}
