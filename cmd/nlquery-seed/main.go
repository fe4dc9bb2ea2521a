package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	catalogpostgres "github.com/nlquery/nlquery/internal/catalog/postgres"
	"github.com/nlquery/nlquery/internal/config"
	"github.com/nlquery/nlquery/internal/dataset"
	"github.com/nlquery/nlquery/internal/migrations"
	"github.com/nlquery/nlquery/internal/observability"
	s3store "github.com/nlquery/nlquery/internal/storage/s3"
)

const (
	targetPostgres = "postgres"
	targetS3       = "s3"
	targetAll      = "all"
)

func main() {
	target := flag.String("target", "", "where to write the sample dataset: postgres|s3|all (default follows NLQUERY_DB_DRIVER)")
	migrate := flag.Bool("migrate", true, "apply pending migrations before seeding postgres")
	flag.Parse()

	cfg, err := config.LoadFromEnv("nlquery-seed")
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := observability.NewLogger(cfg, os.Stdout)

	if *target == "" {
		*target = targetPostgres
		if cfg.Database.Driver == config.DriverDuckDB {
			*target = targetS3
		}
	}
	if *target != targetPostgres && *target != targetS3 && *target != targetAll {
		logger.Error("invalid seed target", slog.String("target", *target))
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	retail := dataset.Generate(cfg.Datasets.SeedRandSeed, cfg.Datasets.SeedCount, time.Now().UTC())
	logger.Info("generated sample dataset",
		slog.Int("products", len(retail.Products)),
		slog.Int("customers", len(retail.Customers)),
		slog.Int("sales", len(retail.Sales)),
	)

	if *target == targetPostgres || *target == targetAll {
		if err := seedPostgres(ctx, cfg, logger, retail, *migrate); err != nil {
			logger.Error("seed postgres failed", slog.Any("error", err))
			os.Exit(1)
		}
	}
	if *target == targetS3 || *target == targetAll {
		if err := publishDataset(ctx, cfg, logger, retail); err != nil {
			logger.Error("publish dataset failed", slog.Any("error", err))
			os.Exit(1)
		}
	}
}

func seedPostgres(ctx context.Context, cfg config.Config, logger *slog.Logger, retail dataset.Retail, migrate bool) error {
	db, err := catalogpostgres.Open(ctx, catalogpostgres.DBConfig{DSN: cfg.Database.DSN})
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	if migrate {
		applied, err := migrations.NewRunner().Up(ctx, db, 0)
		if err != nil {
			return err
		}
		logger.Info("migrations applied", slog.Int("count", applied))
	}

	result, err := dataset.SeedPostgres(ctx, db, retail)
	if err != nil {
		return err
	}
	logger.Info("postgres seeded",
		slog.Int64("products", result.Products),
		slog.Int64("customers", result.Customers),
		slog.Int64("sales", result.Sales),
	)
	return nil
}

func publishDataset(ctx context.Context, cfg config.Config, logger *slog.Logger, retail dataset.Retail) error {
	store, err := s3store.New(ctx, s3store.Config{
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
		return err
	}

	files, err := dataset.Publish(ctx, store, cfg.Datasets.Name, retail)
	if err != nil {
		return err
	}
	for _, file := range files {
		logger.Info("dataset file published",
			slog.String("dataset", cfg.Datasets.Name),
			slog.String("table", file.Table),
			slog.String("key", file.ObjectKey),
			slog.Int("rows", file.Rows),
			slog.Int64("bytes", file.Bytes),
		)
	}
	return nil
}
