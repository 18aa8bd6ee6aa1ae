package catalog

import (
	"fmt"
	"log/slog"

	"coral-agents/internal/domain"
	"coral-agents/internal/infra/config"
)

// New opens the configured backend. Pending jobs always live in the local
// SQLite file; with the supabase backend the store is nil when no path is set.
func New(cfg config.CatalogConfig, logger *slog.Logger) (domain.Catalog, domain.PendingJobStore, error) {
	switch cfg.Backend {
	case "", "sqlite":
		db, err := NewSQLite(cfg.Path)
		if err != nil {
			return nil, nil, err
		}
		return db, db, nil
	case "supabase":
		remote := NewSupabase(cfg, logger)
		if cfg.Path == "" {
			return remote, nil, nil
		}
		local, err := NewSQLite(cfg.Path)
		if err != nil {
			return nil, nil, err
		}
		return &closeBoth{Supabase: remote, local: local}, local, nil
	default:
		return nil, nil, fmt.Errorf("catalog backend %q: %w", cfg.Backend, domain.ErrInvalidInput)
	}
}

// closeBoth is the remote catalog paired with the local pending job file.
type closeBoth struct {
	*Supabase
	local *SQLite
}

func (c *closeBoth) Close() error { return c.local.Close() }
