package db

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/surrealdb/surrealdb.go"
)

func TestWrapQueryError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"record exists", &surrealdb.QueryError{Message: "Database record `ingestion_task:⟨1|F3X⟩` already exists"}, ErrAlreadyExists},
		{"unique index", &surrealdb.QueryError{Message: "Database index `event_key` already contains 'abc'"}, ErrAlreadyExists},
		{"conflict", &surrealdb.QueryError{Message: "Transaction conflict: Resource busy"}, ErrTransactionConflict},
		{"wrapped conflict", fmt.Errorf("query: %w", &surrealdb.QueryError{Message: "Transaction conflict"}), ErrTransactionConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, wrapQueryError(tt.err), tt.want)
		})
	}

	other := &surrealdb.QueryError{Message: "Parse error"}
	assert.Same(t, other, wrapQueryError(other))

	transport := errors.New("connection reset")
	assert.Equal(t, transport, wrapQueryError(transport))
	assert.NoError(t, wrapQueryError(nil))
}
