package main

import (
	"context"
	"fmt"

	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/mongodriver"
	"github.com/xraph/grove/drivers/pgdriver"
	"github.com/xraph/grove/drivers/sqlitedriver"

	"github.com/xraph/subledger/config"
	"github.com/xraph/subledger/store"
	"github.com/xraph/subledger/store/memory"
	mongostore "github.com/xraph/subledger/store/mongo"
	pgstore "github.com/xraph/subledger/store/postgres"
	sqlitestore "github.com/xraph/subledger/store/sqlite"
)

// openStore connects the backend selected by DATABASE_DRIVER.
func openStore(ctx context.Context, cfg config.Config) (store.Store, error) {
	switch cfg.DatabaseDriver {
	case config.DriverMemory:
		return memory.New(), nil
	case config.DriverPostgres:
		drv := pgdriver.New()
		if err := drv.Open(ctx, cfg.DatabaseURL); err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		db, err := grove.Open(drv)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		return pgstore.New(db), nil
	case config.DriverSQLite:
		drv := sqlitedriver.New()
		if err := drv.Open(ctx, cfg.DatabaseURL); err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		db, err := grove.Open(drv)
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		return sqlitestore.New(db), nil
	case config.DriverMongo:
		drv := mongodriver.New()
		if err := drv.Open(ctx, cfg.DatabaseURL); err != nil {
			return nil, fmt.Errorf("open mongo: %w", err)
		}
		db, err := grove.Open(drv)
		if err != nil {
			return nil, fmt.Errorf("open mongo: %w", err)
		}
		return mongostore.New(db), nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.DatabaseDriver)
	}
}
