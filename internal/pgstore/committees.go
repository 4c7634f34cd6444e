package pgstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/raphaelgruber/sludgewire/internal/models"
)

// GetCommittee returns the cached committee, or nil.
func (s *Store) GetCommittee(ctx context.Context, committeeID string) (*models.Committee, error) {
	var c models.Committee
	err := s.pool.QueryRow(ctx, `
		SELECT committee_id, name, provisional, updated_at FROM committee WHERE committee_id = $1`,
		committeeID).Scan(&c.CommitteeID, &c.Name, &c.Provisional, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get committee %s: %w", committeeID, err)
	}
	c.UpdatedAt = c.UpdatedAt.UTC()
	return &c, nil
}

// CreateProvisionalCommittee caches a name unless the committee is known.
func (s *Store) CreateProvisionalCommittee(ctx context.Context, committeeID, name string) (bool, error) {
	ok, err := s.insertOnce(ctx, `
		INSERT INTO committee (committee_id, name, provisional, updated_at)
		VALUES ($1, $2, TRUE, $3)
		ON CONFLICT (committee_id) DO NOTHING`, committeeID, name, s.now())
	if err != nil {
		return false, fmt.Errorf("create committee %s: %w", committeeID, err)
	}
	return ok, nil
}

// GetConfig reads a runtime setting. The bool is false when the key is unset.
func (s *Store) GetConfig(ctx context.Context, key string) (string, bool, error) {
	var v string
	err := s.pool.QueryRow(ctx, `SELECT value FROM app_config WHERE key = $1`, key).Scan(&v)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get config %s: %w", key, err)
	}
	return v, true, nil
}

// SetConfig writes a runtime setting.
func (s *Store) SetConfig(ctx context.Context, key, value string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO app_config (key, value, updated_at) VALUES ($1, $2, $3)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at`,
		key, value, s.now())
	if err != nil {
		return fmt.Errorf("set config %s: %w", key, err)
	}
	return nil
}
