package main

import (
	"context"
	"database/sql"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // PostgreSQL driver for database/sql (migrations)
	_ "github.com/microsoft/go-mssqldb"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/plainquery/plainquery-engine/pkg/audit"
	"github.com/plainquery/plainquery-engine/pkg/catalog"
	catalogms "github.com/plainquery/plainquery-engine/pkg/catalog/mssql"
	catalogpg "github.com/plainquery/plainquery-engine/pkg/catalog/postgres"
	"github.com/plainquery/plainquery-engine/pkg/config"
	"github.com/plainquery/plainquery-engine/pkg/database"
	"github.com/plainquery/plainquery-engine/pkg/handlers"
	"github.com/plainquery/plainquery-engine/pkg/interpret"
	"github.com/plainquery/plainquery-engine/pkg/ledger"
	"github.com/plainquery/plainquery-engine/pkg/llm"
	"github.com/plainquery/plainquery-engine/pkg/logging"
	"github.com/plainquery/plainquery-engine/pkg/middleware"
	"github.com/plainquery/plainquery-engine/pkg/observability"
	"github.com/plainquery/plainquery-engine/pkg/prompt"
	"github.com/plainquery/plainquery-engine/pkg/retry"
	"github.com/plainquery/plainquery-engine/pkg/sandbox"
	"github.com/plainquery/plainquery-engine/pkg/services"
	enginesql "github.com/plainquery/plainquery-engine/pkg/sql"
	"github.com/plainquery/plainquery-engine/pkg/synth"
)

// Version is set at build time via ldflags.
var Version = "dev"

func main() {
	cfg, err := config.Load(Version)
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	logger, err := logging.New(cfg.Env)
	if err != nil {
		panic("failed to create logger: " + err.Error())
	}
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("engine exited", zap.Error(err))
	}
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	logger.Info("starting plainquery-engine",
		zap.String("version", cfg.Version),
		zap.String("env", cfg.Env),
		zap.String("engine_store", logging.SanitizeDSN(cfg.EngineStore.URL())),
		zap.String("datasource_engine", cfg.Datasource.Engine),
		zap.String("llm_provider", cfg.LLM.Provider))

	store, err := database.Connect(ctx, &database.PoolConfig{
		URL:            cfg.EngineStore.URL(),
		MaxConnections: cfg.EngineStore.MaxConnections,
	})
	if err != nil {
		return err
	}
	defer store.Close()

	if err := migrateEngineStore(cfg, logger); err != nil {
		return err
	}

	cat := catalog.New(cfg.Pipeline.SampleRows, logger)
	executor, closeDatasource, err := connectDatasource(ctx, cfg, cat, logger)
	if err != nil {
		return err
	}
	defer closeDatasource()
	observability.SetCatalogTables(cat.Len())

	client, err := llm.NewClient(&cfg.LLM, logger)
	if err != nil {
		return err
	}

	builder := prompt.NewBuilder(cfg.Pipeline.RowCap, cfg.Pipeline.ContextTurns)
	retryCfg := &retry.Config{
		Attempts:     cfg.Pipeline.SynthesisAttempts,
		InitialDelay: cfg.Pipeline.SynthesisBackoff,
		MaxDelay:     5 * time.Second,
		Multiplier:   2.0,
		JitterFactor: 0.1,
	}

	turnService := services.NewTurnService(
		cat,
		synth.NewSynthesizer(client, builder, retryCfg, cfg.LLM.MaxTokens, logger),
		enginesql.NewValidator(validatorDialect(cfg.Datasource.Engine), cfg.Pipeline.RowCap),
		executor,
		interpret.NewInterpreter(client, builder, cfg.LLM.MaxTokens, logger),
		ledger.NewPostgresLedger(store.Pool),
		audit.NewSecurityAuditor(logger),
		cfg.Pipeline.ContextTurns,
		logger,
	)

	mux := http.NewServeMux()
	handlers.NewHealthHandler(cfg, logger).RegisterRoutes(mux)
	handlers.NewCatalogHandler(cat, logger).RegisterRoutes(mux)
	handlers.NewSessionHandler(turnService, logger).RegisterRoutes(mux)
	mux.Handle("GET /metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:              net.JoinHostPort(cfg.BindAddr, cfg.Port),
		Handler:           middleware.RequestLogger(logger)(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func migrateEngineStore(cfg *config.Config, logger *zap.Logger) error {
	db, err := sql.Open("pgx", cfg.EngineStore.URL())
	if err != nil {
		return err
	}
	defer db.Close()
	return database.RunMigrations(db, cfg.EngineStore.MigrationsPath, logger)
}

// validatorDialect maps the datasource engine to the form the validator
// renders sanitized statements in.
func validatorDialect(engine string) enginesql.Dialect {
	if engine == "mssql" {
		return enginesql.DialectSQLServer
	}
	return enginesql.DialectPostgres
}

// connectDatasource opens the target database, scans the catalog, and
// returns the matching sandbox executor.
func connectDatasource(ctx context.Context, cfg *config.Config, cat *catalog.Catalog, logger *zap.Logger) (services.Executor, func(), error) {
	switch cfg.Datasource.Engine {
	case "mssql":
		db, err := sql.Open("sqlserver", cfg.Datasource.URL())
		if err != nil {
			return nil, nil, err
		}
		db.SetMaxOpenConns(int(cfg.Datasource.PoolMaxConns))
		if err := db.PingContext(ctx); err != nil {
			db.Close()
			return nil, nil, err
		}
		if err := cat.Scan(ctx, catalogms.NewSource(db)); err != nil {
			db.Close()
			return nil, nil, err
		}
		executor := sandbox.NewSQLSandbox(db, cfg.Pipeline.RowCap, cfg.Pipeline.ExecutionTimeout, logger)
		return executor, func() { db.Close() }, nil

	default: // postgres, enforced by config validation
		pool, err := database.NewPool(ctx, &database.PoolConfig{
			URL:            cfg.Datasource.URL(),
			MaxConnections: cfg.Datasource.PoolMaxConns,
		})
		if err != nil {
			return nil, nil, err
		}
		if err := cat.Scan(ctx, catalogpg.NewSource(pool)); err != nil {
			pool.Close()
			return nil, nil, err
		}
		executor := sandbox.NewSandbox(pool, cfg.Pipeline.RowCap, cfg.Pipeline.ExecutionTimeout, logger)
		return executor, pool.Close, nil
	}
}
