package main

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/eci-tracker/internal/extract"
	"github.com/sells-group/eci-tracker/internal/rules"
	"github.com/sells-group/eci-tracker/internal/store"
)

// initStore opens and migrates the configured run store.
func initStore(ctx context.Context) (store.Store, error) {
	var (
		st  store.Store
		err error
	)
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "eci-tracker.db"
		}
		st, err = store.NewSQLite(dsn)
	case "postgres":
		st, err = store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
	if err != nil {
		return nil, err
	}

	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}
	return st, nil
}

// initExtractor builds an extractor over the configured rule table, or the
// embedded one when rules.path is empty.
func initExtractor() (*extract.Extractor, error) {
	rs, err := rules.Load(cfg.Rules.Path)
	if err != nil {
		return nil, err
	}
	zap.L().Debug("loaded rule table",
		zap.String("rules", rulesLabel(cfg.Rules.Path)),
		zap.String("version", rs.Version),
	)
	return extract.New(rs, nil), nil
}
