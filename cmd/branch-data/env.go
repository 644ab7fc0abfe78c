package main

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/sirupsen/logrus"

	"github.com/iota-uz/branchboard/modules/branch/domain/distribution"
	"github.com/iota-uz/branchboard/modules/branch/domain/ingest"
	"github.com/iota-uz/branchboard/modules/branch/infrastructure/persistence"
	"github.com/iota-uz/branchboard/modules/branch/services"
	"github.com/iota-uz/branchboard/pkg/configuration"
	"github.com/iota-uz/branchboard/pkg/dblock"
	"github.com/iota-uz/branchboard/pkg/logging"
)

type importService interface {
	Import(ctx context.Context, wb ingest.Workbook, opts services.ImportOptions) *ingest.ImportReport
}

type maintenanceService interface {
	Dedup(ctx context.Context, target services.DedupTarget, dryRun bool) (*services.DedupReport, error)
	Recompute(ctx context.Context) (*services.RecomputeReport, error)
	SyntheticFill(ctx context.Context, kind distribution.Kind, seed int64) (*services.SyntheticReport, error)
}

// env is everything a data command needs once connected.
type env struct {
	importer    importService
	maintenance maintenanceService
	locker      dblock.Locker
	dataset     string
	logger      *logrus.Logger
	close       func()
}

type envFactory func(ctx context.Context) (*env, error)

func connectDB(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("db connect failed: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("db connect failed: %w", err)
	}
	return pool, nil
}

func connectEnv(ctx context.Context) (*env, error) {
	conf, err := configuration.Parse()
	if err != nil {
		return nil, withCode(exitUsage, fmt.Errorf("configuration: %w", err))
	}
	personKey, err := services.ParsePersonKeyMode(conf.Import.PersonKey)
	if err != nil {
		return nil, withCode(exitUsage, err)
	}
	logger := logging.ConsoleLogger(conf.LogrusLogLevel())

	pool, err := connectDB(ctx, conf.Database.Opts)
	if err != nil {
		return nil, withCode(exitDB, err)
	}
	db := stdlib.OpenDBFromPool(pool)
	cleanup := func() {
		_ = db.Close()
		pool.Close()
	}
	if err := persistence.CheckSchema(ctx, db); err != nil {
		cleanup()
		return nil, withCode(exitDB, err)
	}
	locker, closeLocker, err := dblock.New(conf.Import.LockBackend, pool, conf.RedisURL, conf.Import.LockTTL)
	if err != nil {
		cleanup()
		return nil, withCode(exitDB, err)
	}

	catalog := distribution.DefaultCatalog()
	normalizer, err := services.NewNormalizer(catalog)
	if err != nil {
		cleanup()
		return nil, err
	}
	store := persistence.NewStore(pool)
	return &env{
		importer: services.NewImporter(store, normalizer, catalog,
			services.WithPersonKey(personKey),
			services.WithSuggestions(conf.Import.Suggestions),
		),
		maintenance: services.NewMaintenanceService(store, catalog, personKey),
		locker:      locker,
		dataset:     conf.Import.Dataset,
		logger:      logger,
		close: func() {
			_ = closeLocker()
			cleanup()
		},
	}, nil
}
