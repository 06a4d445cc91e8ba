package models

import (
	"fmt"

	"github.com/google/uuid"
)

// ensureID assigns a v4 id when the caller left it empty. Postgres would fill
// the column through gen_random_uuid(), but callers need the id before commit.
func ensureID(id *uuid.UUID) {
	if *id == uuid.Nil {
		*id = uuid.New()
	}
}

// checkEnum rejects a value the Postgres enum type would refuse. Empty values
// pass so column defaults still apply.
func checkEnum[T ~string](column string, v T, valid func(T) bool) error {
	if v == "" || valid(v) {
		return nil
	}
	return fmt.Errorf("%s: unknown value %q", column, string(v))
}
