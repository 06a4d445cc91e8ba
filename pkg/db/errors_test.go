package db

import (
	"errors"
	"fmt"
	"testing"

	pgconnv1 "github.com/jackc/pgconn"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
)

func TestIsUniqueViolation(t *testing.T) {
	cases := []struct {
		name       string
		err        error
		constraint string
		want       bool
	}{
		{"nil", nil, "", false},
		{"pgx any", &pgconn.PgError{Code: "23505", ConstraintName: "ux_a"}, "", true},
		{"pgx wrapped match", fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505", ConstraintName: "ux_a"}), "ux_a", true},
		{"pgx other constraint", &pgconn.PgError{Code: "23505", ConstraintName: "ux_b"}, "ux_a", false},
		{"pgx fk violation", &pgconn.PgError{Code: "23503"}, "", false},
		{"pgconn v1", &pgconnv1.PgError{Code: "23505", ConstraintName: "ux_a"}, "ux_a", true},
		{"pq", &pq.Error{Code: "23505", Constraint: "ux_a"}, "", true},
		{"sqlite", errors.New("UNIQUE constraint failed: processed_events.provider"), "", true},
		{"plain", errors.New("connection refused"), "", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, IsUniqueViolation(tc.err, tc.constraint))
		})
	}
}
