// Package lookup resolves committee ids to display names.
package lookup

import (
	"context"
	"log/slog"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/raphaelgruber/sludgewire/internal/models"
)

// DefaultCacheSize bounds the process-local name cache.
const DefaultCacheSize = 4096

// CommitteeStore is the persistent name table behind the cache.
type CommitteeStore interface {
	// GetCommittee returns nil, nil when no row exists.
	GetCommittee(ctx context.Context, committeeID string) (*models.Committee, error)
	// CreateProvisionalCommittee inserts a provisional row; false when one already exists.
	CreateProvisionalCommittee(ctx context.Context, committeeID, name string) (bool, error)
}

// Resolver is a best-effort committee name lookup. Failures are logged and
// reported as unresolved, never returned.
type Resolver struct {
	store  CommitteeStore
	cache  *lru.Cache[string, string]
	logger *slog.Logger
}

// NewResolver creates a Resolver with an LRU of size entries.
func NewResolver(store CommitteeStore, size int, logger *slog.Logger) *Resolver {
	if size <= 0 {
		size = DefaultCacheSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	cache, err := lru.New[string, string](size)
	if err != nil {
		// Only reachable with a non-positive size.
		panic(err)
	}
	return &Resolver{store: store, cache: cache, logger: logger}
}

// Resolve returns the display name for committeeID. When no row exists and
// fallback is non-empty, a provisional row is inserted and fallback returned.
func (r *Resolver) Resolve(ctx context.Context, committeeID string, fallback *string) (string, bool) {
	committeeID = strings.TrimSpace(committeeID)
	if committeeID == "" {
		return fallbackName(fallback)
	}
	if name, ok := r.cache.Get(committeeID); ok {
		return name, true
	}

	c, err := r.store.GetCommittee(ctx, committeeID)
	if err != nil {
		r.logger.Warn("committee lookup failed", "committee_id", committeeID, "error", err)
		return fallbackName(fallback)
	}
	if c != nil && c.Name != "" {
		r.cache.Add(committeeID, c.Name)
		return c.Name, true
	}

	name, ok := fallbackName(fallback)
	if !ok {
		return "", false
	}
	created, err := r.store.CreateProvisionalCommittee(ctx, committeeID, name)
	if err != nil {
		r.logger.Warn("provisional committee insert failed", "committee_id", committeeID, "error", err)
		return name, true
	}
	if !created {
		// Lost an insert race; prefer whatever row won.
		if c, err := r.store.GetCommittee(ctx, committeeID); err == nil && c != nil && c.Name != "" {
			name = c.Name
		}
	}
	r.cache.Add(committeeID, name)
	return name, true
}

// Purge drops all cached names.
func (r *Resolver) Purge() {
	r.cache.Purge()
}

func fallbackName(fallback *string) (string, bool) {
	if fallback == nil {
		return "", false
	}
	name := strings.TrimSpace(*fallback)
	return name, name != ""
}
