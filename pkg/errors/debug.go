package errors

import (
	"errors"
	"fmt"

	pgconnv1 "github.com/jackc/pgconn"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
)

// ProviderDiagnostic is implemented by payment provider API errors so the
// provider's own error name and HTTP status reach the logs.
type ProviderDiagnostic interface {
	ProviderCode() string
	ProviderStatus() int
}

// PostgresDetail is the server-side diagnostic of a failed statement,
// whichever driver reported it.
type PostgresDetail struct {
	Code       string `json:"code"`
	Constraint string `json:"constraint,omitempty"`
	Table      string `json:"table,omitempty"`
	Column     string `json:"column,omitempty"`
	Detail     string `json:"detail,omitempty"`
	Message    string `json:"message,omitempty"`
}

// Fields renders the detail as pg_-prefixed log fields.
func (p *PostgresDetail) Fields() map[string]any {
	if p == nil {
		return nil
	}
	return map[string]any{
		"pg_code":       p.Code,
		"pg_constraint": p.Constraint,
		"pg_table":      p.Table,
		"pg_column":     p.Column,
		"pg_detail":     p.Detail,
		"pg_message":    p.Message,
	}
}

// ErrorDump flattens an error chain into log fields.
type ErrorDump struct {
	TopMessage string   `json:"top_message"`
	Code       Code     `json:"code,omitempty"`
	Chain      []string `json:"chain,omitempty"`

	ProviderCode   string `json:"provider_code,omitempty"`
	ProviderStatus int    `json:"provider_status,omitempty"`

	Postgres *PostgresDetail `json:"postgres,omitempty"`
}

func Dump(err error) ErrorDump {
	if err == nil {
		return ErrorDump{}
	}
	d := ErrorDump{TopMessage: err.Error(), Postgres: postgresDetail(err)}
	if te := As(err); te != nil {
		d.Code = te.Code()
	}
	for e := err; e != nil; e = errors.Unwrap(e) {
		d.Chain = append(d.Chain, fmt.Sprintf("%T: %v", e, e))
	}
	var diag ProviderDiagnostic
	if errors.As(err, &diag) {
		d.ProviderCode = diag.ProviderCode()
		d.ProviderStatus = diag.ProviderStatus()
	}
	return d
}

// postgresDetail checks pgx v5 first, then the pgconn v1 errors gorm's older
// driver path can surface, then lib/pq.
func postgresDetail(err error) *PostgresDetail {
	if e, ok := asType[*pgconn.PgError](err); ok {
		return &PostgresDetail{e.Code, e.ConstraintName, e.TableName, e.ColumnName, e.Detail, e.Message}
	}
	if e, ok := asType[*pgconnv1.PgError](err); ok {
		return &PostgresDetail{e.Code, e.ConstraintName, e.TableName, e.ColumnName, e.Detail, e.Message}
	}
	if e, ok := asType[*pq.Error](err); ok {
		return &PostgresDetail{string(e.Code), e.Constraint, e.Table, e.Column, e.Detail, e.Message}
	}
	return nil
}

func asType[T error](err error) (T, bool) {
	var target T
	ok := errors.As(err, &target)
	return target, ok
}
