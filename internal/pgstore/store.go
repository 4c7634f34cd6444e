// Package pgstore is the Postgres store of the ingestion pipeline.
package pgstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// uniqueViolation is the SQLSTATE of a primary key or unique index clash.
const uniqueViolation = "23505"

// ErrAlreadyExists is returned when an insert hits an existing key outside
// the ON CONFLICT paths.
var ErrAlreadyExists = errors.New("record already exists")

// Config holds the pool settings.
type Config struct {
	URL      string
	MaxConns int
	// ViaBouncer switches to the simple protocol for PgBouncer in
	// transaction pooling mode.
	ViaBouncer bool
}

// Store implements the pipeline store on a pgx pool.
type Store struct {
	// Now is the clock used for timestamps.
	Now func() time.Time

	pool   *pgxpool.Pool
	logger *slog.Logger
}

// Open connects the pool and verifies it with a ping.
func Open(ctx context.Context, cfg Config, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	pcfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse postgres url: %w", err)
	}
	if cfg.MaxConns <= 0 {
		cfg.MaxConns = 2
	}
	pcfg.MaxConns = int32(cfg.MaxConns)
	if cfg.ViaBouncer {
		pcfg.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol
	}

	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	logger.Info("postgres connection established", "max_conns", cfg.MaxConns)

	return &Store{
		Now:    func() time.Time { return time.Now().UTC() },
		pool:   pool,
		logger: logger,
	}, nil
}

// InitSchema creates missing tables and indexes.
func (s *Store) InitSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, SchemaSQL); err != nil {
		return fmt.Errorf("init schema: %w", err)
	}
	return nil
}

// WipeData truncates every table. Use for testing only.
func (s *Store) WipeData(ctx context.Context) error {
	s.logger.Warn("wiping all data from database")
	_, err := s.pool.Exec(ctx, `TRUNCATE ingestion_task, filing, ie_event, backfill_job, committee, app_config`)
	if err != nil {
		return fmt.Errorf("truncate: %w", err)
	}
	return nil
}

// Close releases the pool.
func (s *Store) Close(context.Context) error {
	s.pool.Close()
	return nil
}

func (s *Store) now() time.Time {
	return s.Now()
}

// wrapPgError maps a unique violation to ErrAlreadyExists.
func wrapPgError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return fmt.Errorf("%w: %s", ErrAlreadyExists, pgErr.ConstraintName)
	}
	return err
}

// insertOnce runs an INSERT ... ON CONFLICT DO NOTHING and reports whether a
// row was written.
func (s *Store) insertOnce(ctx context.Context, sql string, args ...any) (bool, error) {
	tag, err := s.pool.Exec(ctx, sql, args...)
	if err != nil {
		err = wrapPgError(err)
		if errors.Is(err, ErrAlreadyExists) {
			return false, nil
		}
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
