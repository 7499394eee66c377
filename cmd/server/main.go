// @title           CCT Registry API
// @version         0.1.0
// @description     Registry of carbon-credit issuing organizations and their projects, with an exchange that settles CCT sales against a currency ledger
// @license.name    Apache-2.0
// @basePath        /
// @schemes         http https
// @securityDefinitions.apiKey  Bearer
// @in                          header
// @name                         Authorization
// @description                  "JWT token or API key. For JWT: 'Bearer {token}'. For API Key: 'Bearer {api_key}'"
//
// @tag.name         System
// @tag.description  Health, readiness, and version endpoints.
//
// @tag.name         Observability
// @tag.description  Prometheus metrics are served on a dedicated port (default: 9090) separate from the API listener. Configure it with CCT_TELEMETRY_METRICS_PROMETHEUS_PORT. The path is always GET /metrics.

// Package main is the entry point for the CCT registry server binary.
// It dispatches three subcommands (serve, migrate and version) via a switch on os.Args.
// The serve command runs migrations on startup when the ledger lives in PostgreSQL.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/cct-registry/cct-registry/internal/api"
	"github.com/cct-registry/cct-registry/internal/auth"
	"github.com/cct-registry/cct-registry/internal/config"
	"github.com/cct-registry/cct-registry/internal/db"
	"github.com/cct-registry/cct-registry/internal/db/models"
	"github.com/cct-registry/cct-registry/internal/db/repositories"
	"github.com/cct-registry/cct-registry/internal/events"
	"github.com/cct-registry/cct-registry/internal/exchange"
	"github.com/cct-registry/cct-registry/internal/jobs"
	"github.com/cct-registry/cct-registry/internal/ledger"
	"github.com/cct-registry/cct-registry/internal/ledger/memory"
	"github.com/cct-registry/cct-registry/internal/middleware"
	"github.com/cct-registry/cct-registry/internal/registry"
	"github.com/cct-registry/cct-registry/internal/safego"
	"github.com/cct-registry/cct-registry/internal/storage"
	"github.com/cct-registry/cct-registry/internal/telemetry"
	"github.com/cct-registry/cct-registry/internal/validator"
	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	_ "github.com/cct-registry/cct-registry/internal/storage/azure"
	_ "github.com/cct-registry/cct-registry/internal/storage/gcs"
	_ "github.com/cct-registry/cct-registry/internal/storage/local"
	_ "github.com/cct-registry/cct-registry/internal/storage/s3"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Error: %v\n", err)
	}
}

func run() error {
	command := "serve"
	if len(os.Args) > 1 {
		command = os.Args[1]
	}

	if command == "version" {
		fmt.Printf("CCT Registry v%s\n", api.Version)
		return nil
	}

	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	switch command {
	case "serve":
		return serve(cfg)
	case "migrate":
		if len(os.Args) < 3 {
			return fmt.Errorf("usage: %s migrate <up|down|version|force N>", os.Args[0])
		}
		return runMigrations(cfg, os.Args[2:])
	default:
		return fmt.Errorf("unknown command: %s\nAvailable commands: serve, migrate, version", command)
	}
}

// backend is the storage side of the ledger: one implementation per ledger.backend
type backend struct {
	orgs       registry.OrganizationStore
	projects   registry.ProjectStore
	accounts   ledger.Store
	settlement exchange.Ledger
	saleEvents sales
	apiKeys    *repositories.APIKeyRepository
	audit      *repositories.AuditRepository
	readiness  []api.ReadinessCheck
	closeDB    func() error
}

// sales covers the sale event log: listing, outbox relay and archiving
type sales interface {
	jobs.OutboxStore
	jobs.ArchiveStore
	ListSaleEvents(ctx context.Context, f models.SaleEventFilter) ([]*models.SaleEvent, error)
	ListArchives(ctx context.Context) ([]*models.EventArchive, error)
}

func serve(cfg *config.Config) error {
	telemetry.SetupLogger(cfg.Logging.Format, cfg.Logging.Level, cfg.Telemetry.ServiceName)

	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := auth.ValidateJWTSecret(); err != nil {
		return fmt.Errorf("security configuration error: %w", err)
	}

	be, err := openBackend(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := be.closeDB(); err != nil {
			slog.Warn("failed to close database", "error", err)
		}
	}()

	reg := registry.New(be.orgs, be.projects, cfg.Registry.AdminAccount)
	ledgerSvc := ledger.NewService(be.accounts)

	startupCtx, cancelStartup := context.WithTimeout(context.Background(), 30*time.Second)
	err = ledgerSvc.ApplyGenesis(startupCtx, cfg.Ledger.GenesisBalances)
	cancelStartup()
	if err != nil {
		return err
	}

	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()
		be.readiness = append(be.readiness, api.RedisCheck(redisClient))
		slog.Info("connected to redis", "addr", cfg.Redis.Addr)
	}

	gate := newGate(cfg.Validator)
	if redisClient != nil && cfg.Validator.Mode == "http" && cfg.Validator.CacheTTL > 0 {
		gate = validator.NewCached(gate, redisClient, cfg.Validator.CacheTTL)
	}
	ex := exchange.New(be.projects, be.settlement, gate, exchange.PricingFromConfig(cfg.Exchange))

	deps := api.Dependencies{
		Registry: reg,
		Exchange: ex,
		Ledger:   ledgerSvc,
		Events:   be.saleEvents,
		Archives: be.saleEvents,
	}
	// Leave the interface fields untyped nil when there is no database behind them
	if be.apiKeys != nil {
		deps.APIKeys = be.apiKeys
	}
	if be.audit != nil {
		deps.AuditWriter = be.audit
		deps.AuditLogs = be.audit
	}

	var memLimiter *middleware.RateLimiter
	if cfg.Security.RateLimiting.Enabled {
		rlCfg := middleware.RateLimitConfigFrom(cfg.Security.RateLimiting)
		if cfg.Security.RateLimiting.Backend == "redis" && redisClient != nil {
			deps.Limiter = middleware.NewRedisRateLimiter(redisClient, rlCfg)
		} else {
			memLimiter = middleware.NewRateLimiter(rlCfg)
			deps.Limiter = memLimiter
		}
	}

	jobsCtx, cancelJobs := context.WithCancel(context.Background())
	defer cancelJobs()

	var sink events.Sink
	if cfg.Events.RelayEnabled {
		sink, err = events.NewSinkFromConfig(cfg.Events)
		if err != nil {
			return err
		}
		relay := jobs.NewEventRelay(be.saleEvents, sink, &cfg.Events)
		safego.Go("event-relay", func() { relay.Start(jobsCtx) })
	}

	if cfg.Archive.Enabled {
		archiveStorage, err := storage.NewStorage(cfg)
		if err != nil {
			return fmt.Errorf("failed to initialize archive storage: %w", err)
		}
		be.readiness = append(be.readiness, api.StorageCheck(archiveStorage))
		archiver := jobs.NewEventArchiver(be.saleEvents, archiveStorage, cfg.Storage.DefaultBackend, &cfg.Archive)
		safego.Go("event-archiver", func() { archiver.Start(jobsCtx) })
	}

	if be.apiKeys != nil {
		cleanup := jobs.NewAPIKeyCleanup(be.apiKeys, 24*time.Hour)
		safego.Go("api-key-cleanup", func() { cleanup.Start(jobsCtx) })
	}

	deps.Readiness = be.readiness

	if cfg.Telemetry.Metrics.Enabled {
		metricsAddr := fmt.Sprintf(":%d", cfg.Telemetry.Metrics.PrometheusPort)
		safego.Go("metrics-server", func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			slog.Info("starting Prometheus metrics server", "addr", metricsAddr)
			srv := &http.Server{
				Addr:         metricsAddr,
				Handler:      mux,
				ReadTimeout:  10 * time.Second,
				WriteTimeout: 10 * time.Second,
			}
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				slog.Error("metrics server error", "error", err)
			}
		})
	}

	router := api.NewRouter(cfg, deps)

	server := &http.Server{
		Addr:         cfg.Server.GetAddress(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		slog.Info("starting server",
			"addr", cfg.Server.GetAddress(),
			"base_url", cfg.Server.BaseURL,
			"ledger_backend", cfg.Ledger.Backend,
			"validator_mode", cfg.Validator.Mode,
			"unit_price", cfg.Exchange.UnitPrice,
			"overpayment_policy", cfg.Exchange.OverpaymentPolicy,
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	// Stop background jobs and rate limiter goroutines
	cancelJobs()
	if memLimiter != nil {
		memLimiter.Stop()
	}
	if sink != nil {
		if err := sink.Close(); err != nil {
			slog.Warn("failed to close event sink", "sink", sink.Name(), "error", err)
		}
	}

	slog.Info("server stopped gracefully")
	return nil
}

// openBackend wires the stores for the configured ledger backend
func openBackend(cfg *config.Config) (*backend, error) {
	if cfg.Ledger.Backend == "memory" {
		store := memory.New()
		slog.Warn("using in-memory ledger; balances and sales are lost on restart")
		return &backend{
			orgs:       store,
			projects:   store,
			accounts:   store,
			settlement: store,
			saleEvents: store,
			closeDB:    func() error { return nil },
		}, nil
	}

	database, err := db.Connect(cfg.Database.GetDSN(), cfg.Database.MaxConnections, cfg.Database.MinIdleConnections)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	slog.Info("connected to database", "host", cfg.Database.Host, "name", cfg.Database.Name)

	telemetry.StartDBStatsCollector(database)

	if err := db.RunMigrations(database, "up"); err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	if version, dirty, err := db.GetMigrationVersion(database); err != nil {
		slog.Warn("failed to get migration version", "error", err)
	} else {
		slog.Info("database schema ready", "version", version, "dirty", dirty)
	}

	sqlxDB := sqlx.NewDb(database, "postgres")
	saleEvents := repositories.NewSaleEventRepository(sqlxDB)
	return &backend{
		orgs:       repositories.NewOrganizationRepository(sqlxDB),
		projects:   repositories.NewProjectRepository(sqlxDB),
		accounts:   repositories.NewAccountRepository(sqlxDB),
		settlement: repositories.NewSettlementRepository(sqlxDB),
		saleEvents: saleEvents,
		apiKeys:    repositories.NewAPIKeyRepository(database),
		audit:      repositories.NewAuditRepository(database),
		readiness:  []api.ReadinessCheck{api.PingCheck(database)},
		closeDB:    database.Close,
	}, nil
}

// newGate builds the validator gate for the configured mode
func newGate(cfg config.ValidatorConfig) validator.Gate {
	switch cfg.Mode {
	case "static":
		return validator.NewStatic(cfg.Allow, cfg.Deny)
	case "http":
		return validator.NewHTTP(cfg.URL, cfg.Timeout)
	default:
		return validator.AllowAll{}
	}
}

func runMigrations(cfg *config.Config, args []string) error {
	if cfg.Ledger.Backend != "postgres" {
		return fmt.Errorf("migrations require ledger.backend=postgres (got %s)", cfg.Ledger.Backend)
	}

	database, err := db.Connect(cfg.Database.GetDSN(), cfg.Database.MaxConnections, cfg.Database.MinIdleConnections)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	switch args[0] {
	case "up", "down":
		log.Printf("Running migrations: %s", args[0])
		if err := db.RunMigrations(database, args[0]); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	case "force":
		if len(args) < 2 {
			return fmt.Errorf("usage: migrate force <version>")
		}
		v, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("invalid migration version %q: %w", args[1], err)
		}
		if err := db.ForceMigrationVersion(database, v); err != nil {
			return fmt.Errorf("failed to force migration version: %w", err)
		}
	case "version":
	default:
		return fmt.Errorf("unknown migrate direction: %s (must be up, down, version, or force)", args[0])
	}

	return printVersion(database)
}

func printVersion(database *sql.DB) error {
	version, dirty, err := db.GetMigrationVersion(database)
	if err != nil {
		return fmt.Errorf("failed to get migration version: %w", err)
	}
	log.Printf("Current migration version: %d (dirty: %v)", version, dirty)
	return nil
}
