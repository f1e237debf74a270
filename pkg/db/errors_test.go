package db

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
)

func TestIsUniqueViolation(t *testing.T) {
	pgx := &pgconn.PgError{Code: "23505", ConstraintName: "ux_transactions_reference"}
	libpq := &pq.Error{Code: "23505", Constraint: "ux_accounts_api_key_prefix"}

	cases := []struct {
		name       string
		err        error
		constraint string
		want       bool
	}{
		{"nil", nil, "", false},
		{"pgx wrapped", fmt.Errorf("insert: %w", pgx), "", true},
		{"pgx named match", pgx, "ux_transactions_reference", true},
		{"pgx named mismatch", pgx, "ux_accounts_api_key_prefix", false},
		{"pgx foreign key", &pgconn.PgError{Code: "23503"}, "", false},
		{"lib/pq", libpq, "ux_accounts_api_key_prefix", true},
		{"lib/pq check violation", &pq.Error{Code: "23514"}, "", false},
		{"sqlite", errors.New("UNIQUE constraint failed: transactions.reference_id"), "", true},
		{"unrelated", errors.New("connection reset"), "", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, IsUniqueViolation(tc.err, tc.constraint))
		})
	}
}
