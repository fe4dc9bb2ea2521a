package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/nlquery/nlquery/internal/api"
	"github.com/nlquery/nlquery/internal/catalog"
	catalogduckdb "github.com/nlquery/nlquery/internal/catalog/duckdb"
	catalogpostgres "github.com/nlquery/nlquery/internal/catalog/postgres"
	"github.com/nlquery/nlquery/internal/config"
	"github.com/nlquery/nlquery/internal/history"
	historypostgres "github.com/nlquery/nlquery/internal/history/postgres"
	"github.com/nlquery/nlquery/internal/query"
	duckdbengine "github.com/nlquery/nlquery/internal/query/duckdb"
	postgresengine "github.com/nlquery/nlquery/internal/query/postgres"
	s3store "github.com/nlquery/nlquery/internal/storage/s3"
)

const (
	memoryHistoryCapacity = 1000
	historyPoolSize       = 2
)

// backend is the database the pipeline introspects and queries.
type backend struct {
	introspector catalog.Introspector
	engine       query.Engine
	history      history.Store
	readiness    api.ReadinessCheck
	// reload refreshes the tables behind introspector; nil when the backend
	// reads live tables.
	reload func(ctx context.Context) error
	close  func()
}

func openBackend(ctx context.Context, cfg config.Config, logger *slog.Logger) (backend, error) {
	switch cfg.Database.Driver {
	case config.DriverPostgres:
		return openPostgres(ctx, cfg)
	case config.DriverDuckDB:
		return openDuckDB(ctx, cfg, logger)
	default:
		return backend{}, fmt.Errorf("unsupported database driver %q", cfg.Database.Driver)
	}
}

func openPostgres(ctx context.Context, cfg config.Config) (backend, error) {
	db, err := catalogpostgres.Open(ctx, catalogpostgres.DBConfig{
		DSN:              cfg.Database.DSN,
		ApplicationName:  cfg.Service.Name,
		ReadOnly:         true,
		StatementTimeout: cfg.Pipeline.ExecutionTimeout,
		MaxOpenConns:     cfg.Database.MaxOpenConns,
		MaxIdleConns:     cfg.Database.MaxIdleConns,
		ConnMaxIdleTime:  cfg.Database.ConnMaxIdleTime,
		ConnMaxLifetime:  cfg.Database.ConnMaxLifetime,
	})
	if err != nil {
		return backend{}, err
	}

	introspector := catalogpostgres.NewIntrospector(db, cfg.Database.SchemaName, cfg.Database.ExcludeTables...)
	b := backend{
		introspector: introspector,
		engine:       postgresengine.NewEngine(db, cfg.Database.RowLimit),
		readiness:    api.CombineReadinessChecks(api.CheckDatabase(db), introspector.HealthCheck),
		close:        func() { _ = db.Close() },
	}
	if !cfg.History.Enabled {
		return b, nil
	}

	// History writes need their own pool; the query pool is read only.
	historyDB, err := catalogpostgres.Open(ctx, catalogpostgres.DBConfig{
		DSN:             cfg.Database.DSN,
		ApplicationName: cfg.Service.Name + "-history",
		MaxOpenConns:    historyPoolSize,
		MaxIdleConns:    historyPoolSize,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	})
	if err != nil {
		b.close()
		return backend{}, fmt.Errorf("open history pool: %w", err)
	}
	b.history = historypostgres.NewStore(historyDB)
	b.close = func() {
		_ = historyDB.Close()
		_ = db.Close()
	}
	return b, nil
}

func openDuckDB(ctx context.Context, cfg config.Config, logger *slog.Logger) (backend, error) {
	objectStore, err := s3store.New(ctx, s3store.Config{
		Endpoint:         cfg.ObjectStore.Endpoint,
		Region:           cfg.ObjectStore.Region,
		Bucket:           cfg.ObjectStore.Bucket,
		AccessKeyID:      cfg.ObjectStore.AccessKeyID,
		SecretAccessKey:  cfg.ObjectStore.SecretAccessKey,
		UseSSL:           cfg.ObjectStore.UseSSL,
		Prefix:           cfg.ObjectStore.Prefix,
		AutoCreateBucket: cfg.ObjectStore.AutoCreateBucket,
	})
	if err != nil {
		return backend{}, fmt.Errorf("initialize object store: %w", err)
	}

	db, err := duckdbengine.Open(ctx, cfg.Database.DuckDBPath)
	if err != nil {
		return backend{}, err
	}
	engine := duckdbengine.NewEngine(db, objectStore, cfg.Database.RowLimit)
	closeAll := func() {
		_ = engine.Close()
		_ = db.Close()
	}

	if cfg.Datasets.LoadOnStart {
		tables, err := engine.LoadDataset(ctx, cfg.Datasets.Name)
		if err != nil {
			closeAll()
			return backend{}, fmt.Errorf("load dataset %s: %w", cfg.Datasets.Name, err)
		}
		logger.Info("dataset loaded", slog.String("dataset", cfg.Datasets.Name), slog.Any("tables", tables))
	}

	b := backend{
		introspector: catalogduckdb.NewIntrospector(db, ""),
		engine:       engine,
		readiness:    api.CombineReadinessChecks(api.CheckDatabase(db), api.CheckObjectStoreConfig(cfg), objectStore.Ping, engine.CheckLoaded),
		reload: func(ctx context.Context) error {
			tables, err := engine.LoadDataset(ctx, cfg.Datasets.Name)
			if err != nil {
				return fmt.Errorf("reload dataset %s: %w", cfg.Datasets.Name, err)
			}
			logger.Info("dataset reloaded", slog.String("dataset", cfg.Datasets.Name), slog.Any("tables", tables))
			return nil
		},
		close: closeAll,
	}
	if cfg.History.Enabled {
		b.history = history.NewMemoryStore(memoryHistoryCapacity)
	}
	return b, nil
}
