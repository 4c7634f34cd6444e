package db

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/surrealdb/surrealdb.go"
)

// claimAttempts bounds retries of a CREATE that lost a transaction conflict.
const claimAttempts = 3

// queryRows runs sql and returns the rows of its last statement.
func queryRows[T any](ctx context.Context, c *Client, sql string, vars map[string]any) ([]T, error) {
	results, err := surrealdb.Query[[]T](ctx, c.db, sql, vars)
	if err != nil {
		return nil, wrapQueryError(err)
	}
	if results == nil || len(*results) == 0 {
		return nil, nil
	}
	return (*results)[len(*results)-1].Result, nil
}

// queryOne returns the first row, or nil when the query matched nothing.
func queryOne[T any](ctx context.Context, c *Client, sql string, vars map[string]any) (*T, error) {
	rows, err := queryRows[T](ctx, c, sql, vars)
	if err != nil || len(rows) == 0 {
		return nil, err
	}
	return &rows[0], nil
}

// exec runs sql for its side effects.
func (c *Client) exec(ctx context.Context, sql string, vars map[string]any) error {
	if _, err := surrealdb.Query[any](ctx, c.db, sql, vars); err != nil {
		return wrapQueryError(err)
	}
	return nil
}

// create runs a CREATE and reports whether the record was new. An existing
// record id is not an error; conflicts are retried a bounded number of times.
func (c *Client) create(ctx context.Context, sql string, vars map[string]any) (bool, error) {
	var err error
	for range claimAttempts {
		err = c.exec(ctx, sql, vars)
		switch {
		case err == nil:
			return true, nil
		case isAlreadyExists(err):
			return false, nil
		case !isConflict(err):
			return false, err
		}
	}
	c.logger.Warn("create kept conflicting, treating as lost", "error", err)
	return false, nil
}

func taskKey(filingID int64, source string) string {
	return fmt.Sprintf("%d|%s", filingID, source)
}

func jobKey(date time.Time, ft string) string {
	return date.UTC().Format(time.DateOnly) + "|" + ft
}

// where joins conditions into a WHERE clause, or returns "" for none.
func where(conds []string) string {
	if len(conds) == 0 {
		return ""
	}
	return "WHERE " + strings.Join(conds, " AND ")
}
