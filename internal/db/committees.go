package db

import (
	"context"
	"fmt"

	"github.com/raphaelgruber/sludgewire/internal/models"
)

// GetCommittee returns the cached committee, or nil.
func (c *Client) GetCommittee(ctx context.Context, committeeID string) (*models.Committee, error) {
	cm, err := queryOne[models.Committee](ctx, c,
		`SELECT * OMIT id FROM type::record("committee", $committee_id)`,
		map[string]any{"committee_id": committeeID})
	if err != nil {
		return nil, fmt.Errorf("get committee %s: %w", committeeID, err)
	}
	return cm, nil
}

// CreateProvisionalCommittee caches a name taken from filing content unless
// the committee is already known.
func (c *Client) CreateProvisionalCommittee(ctx context.Context, committeeID, name string) (bool, error) {
	ok, err := c.create(ctx, `
		CREATE type::record("committee", $committee_id) CONTENT {
			committee_id: $committee_id,
			name: $name,
			provisional: true,
			updated_at: time::now()
		}
	`, map[string]any{"committee_id": committeeID, "name": name})
	if err != nil {
		return false, fmt.Errorf("create committee %s: %w", committeeID, err)
	}
	return ok, nil
}

type configRow struct {
	Value string `json:"value"`
}

// GetConfig reads a runtime setting. The bool is false when the key is unset.
func (c *Client) GetConfig(ctx context.Context, key string) (string, bool, error) {
	row, err := queryOne[configRow](ctx, c,
		`SELECT value FROM type::record("app_config", $key)`,
		map[string]any{"key": key})
	if err != nil {
		return "", false, fmt.Errorf("get config %s: %w", key, err)
	}
	if row == nil {
		return "", false, nil
	}
	return row.Value, true, nil
}

// SetConfig writes a runtime setting.
func (c *Client) SetConfig(ctx context.Context, key, value string) error {
	err := c.exec(ctx,
		`UPSERT type::record("app_config", $key) SET value = $value, updated_at = time::now()`,
		map[string]any{"key": key, "value": value})
	if err != nil {
		return fmt.Errorf("set config %s: %w", key, err)
	}
	return nil
}
