package db

import (
	"errors"
	"fmt"
	"strings"

	"github.com/surrealdb/surrealdb.go"
)

var (
	// ErrAlreadyExists is a CREATE on an existing record id or a unique index
	// hit. Claims and event inserts report it as a false result.
	ErrAlreadyExists = errors.New("record already exists")

	// ErrTransactionConflict is a write that lost a race with a concurrent
	// transaction on the same record. Creates retry it a bounded number of times.
	ErrTransactionConflict = errors.New("transaction conflict")

	// ErrNotFound is a record that should exist but does not.
	ErrNotFound = errors.New("record not found")
)

// queryErrorPatterns maps SurrealDB query error text to sentinels.
var queryErrorPatterns = []struct {
	substr string
	err    error
}{
	{"already exists", ErrAlreadyExists},
	{"already contains", ErrAlreadyExists}, // unique index
	{"Transaction conflict", ErrTransactionConflict},
}

// wrapQueryError wraps a database-level QueryError with its sentinel. Other
// errors (transport, decoding) are returned unchanged.
func wrapQueryError(err error) error {
	var queryErr *surrealdb.QueryError
	if err == nil || !errors.As(err, &queryErr) {
		return err
	}
	for _, p := range queryErrorPatterns {
		if strings.Contains(queryErr.Message, p.substr) {
			return fmt.Errorf("%w: %s", p.err, queryErr.Message)
		}
	}
	return err
}

func isAlreadyExists(err error) bool {
	return errors.Is(err, ErrAlreadyExists)
}

func isConflict(err error) bool {
	return errors.Is(err, ErrTransactionConflict)
}
