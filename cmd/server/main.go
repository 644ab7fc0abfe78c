package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"

	"github.com/iota-uz/branchboard/internal/server"
	"github.com/iota-uz/branchboard/modules"
	"github.com/iota-uz/branchboard/modules/branch"
	"github.com/iota-uz/branchboard/modules/branch/infrastructure/persistence"
	"github.com/iota-uz/branchboard/pkg/application"
	"github.com/iota-uz/branchboard/pkg/configuration"
	"github.com/iota-uz/branchboard/pkg/dblock"
	"github.com/iota-uz/branchboard/pkg/logging"
	"github.com/iota-uz/branchboard/pkg/metrics"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			configuration.Use().Unload()
			log.Println(r)
			debug.PrintStack()
			os.Exit(1)
		}
	}()

	conf := configuration.Use()
	defer conf.Unload()
	logger := conf.Logger()

	if conf.OpenTelemetry.Enabled {
		tracingCleanup := logging.SetupTracing(
			context.Background(),
			conf.OpenTelemetry.ServiceName,
			conf.OpenTelemetry.TempoURL,
		)
		defer tracingCleanup()
		logger.Info("OpenTelemetry tracing enabled, exporting to Tempo at " + conf.OpenTelemetry.TempoURL)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	connectCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	pool, err := pgxpool.New(connectCtx, conf.Database.Opts)
	if err != nil {
		panic(err)
	}
	defer pool.Close()

	db := stdlib.OpenDBFromPool(pool)
	if err := persistence.Migrate(ctx, db); err != nil {
		log.Fatalf("failed to migrate: %v", err)
	}
	_ = db.Close()

	locker, closeLocker, err := dblock.New(conf.Import.LockBackend, pool, conf.RedisURL, conf.Import.LockTTL)
	if err != nil {
		log.Fatalf("failed to create dataset lock: %v", err)
	}
	defer func() { _ = closeLocker() }()

	app := application.New(&application.ApplicationOptions{
		Pool:   pool,
		Logger: logger,
	})
	if err := modules.Load(app, modules.BuiltInModules(&branch.ModuleOptions{Config: conf, Locker: locker})...); err != nil {
		log.Fatalf("failed to load modules: %v", err)
	}
	if conf.Prometheus.Enabled {
		app.RegisterControllers(metrics.NewPrometheusController(conf.Prometheus.Path, nil))
	}

	serverInstance, err := server.Default(&server.DefaultOptions{
		Logger:        logger,
		Configuration: conf,
		Application:   app,
		Pool:          pool,
	})
	if err != nil {
		log.Fatalf("failed to create server: %v", err)
	}
	log.Printf("Listening on: %s\n", conf.SocketAddress)
	if err := serverInstance.Start(ctx, conf.SocketAddress); err != nil {
		log.Fatalf("failed to start server: %v", err)
	}
}
