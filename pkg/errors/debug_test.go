package errors

import (
	stdErrors "errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"github.com/stretchr/testify/require"
)

type fakeProviderErr struct{}

func (fakeProviderErr) Error() string        { return "paypal 422 UNPROCESSABLE_ENTITY" }
func (fakeProviderErr) ProviderCode() string { return "UNPROCESSABLE_ENTITY" }
func (fakeProviderErr) ProviderStatus() int  { return 422 }

func TestDumpCarriesProviderDiagnostics(t *testing.T) {
	err := Wrap(CodeDependency, fmt.Errorf("capture: %w", fakeProviderErr{}), "paypal capture failed")

	dump := Dump(err)
	require.Equal(t, CodeDependency, dump.Code)
	require.Equal(t, "UNPROCESSABLE_ENTITY", dump.ProviderCode)
	require.Equal(t, 422, dump.ProviderStatus)
	require.Len(t, dump.Chain, 3)
	require.Nil(t, dump.Postgres)
}

func TestDumpExtractsPostgresFields(t *testing.T) {
	pgErr := &pgconn.PgError{Code: "23505", ConstraintName: "ux_processed_events_provider_external", TableName: "processed_events"}
	dump := Dump(Wrap(CodeConflict, pgErr, "claim failed"))

	require.NotNil(t, dump.Postgres)
	require.Equal(t, "23505", dump.Postgres.Code)
	require.Equal(t, "processed_events", dump.Postgres.Table)
	require.Equal(t, "ux_processed_events_provider_external", dump.Postgres.Constraint)
	require.Equal(t, "23505", dump.Postgres.Fields()["pg_code"])
}

func TestDumpReadsLibPQErrors(t *testing.T) {
	dump := Dump(fmt.Errorf("insert: %w", &pq.Error{Code: "23503", Table: "invoice_line_items", Constraint: "fk_line_items_invoice"}))

	require.NotNil(t, dump.Postgres)
	require.Equal(t, "23503", dump.Postgres.Code)
	require.Equal(t, "fk_line_items_invoice", dump.Postgres.Constraint)
}

func TestDumpNil(t *testing.T) {
	require.Equal(t, ErrorDump{}, Dump(nil))
	var none *PostgresDetail
	require.Nil(t, none.Fields())
	require.NotEmpty(t, Dump(stdErrors.New("boom")).Chain)
}
