package store

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/listing-scraper/internal/config"
)

// Open connects to the configured backend. It does not run migrations.
func Open(ctx context.Context, cfg config.StoreConfig) (Store, error) {
	switch cfg.Driver {
	case "", "sqlite":
		dsn := cfg.DatabaseURL
		if dsn == "" {
			dsn = "listings.db"
		}
		s, err := NewSQLite(dsn)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "postgres":
		s, err := NewPostgres(ctx, cfg.DatabaseURL, &PoolConfig{MaxConns: cfg.MaxConns, MinConns: cfg.MinConns})
		if err != nil {
			return nil, err
		}
		return s, nil
	}
	return nil, eris.Errorf("store: unknown driver %q", cfg.Driver)
}
