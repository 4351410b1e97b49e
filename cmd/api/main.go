package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Gobusters/ectoenv"
	"github.com/Gobusters/ectologger"
	"github.com/Gobusters/ectologger/zapadapter"
	"github.com/go-playground/validator/v10"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"

	"github.com/tetradx/tetradx/config"
	"github.com/tetradx/tetradx/internal/handlers"
	"github.com/tetradx/tetradx/internal/repositories/facility"
	"github.com/tetradx/tetradx/internal/repositories/patient"
	"github.com/tetradx/tetradx/internal/repositories/referral"
	"github.com/tetradx/tetradx/internal/repositories/testtype"
	"github.com/tetradx/tetradx/pkg/database"
	"github.com/tetradx/tetradx/pkg/health"
	"github.com/tetradx/tetradx/pkg/kafka"
	"github.com/tetradx/tetradx/pkg/middleware"
	"github.com/tetradx/tetradx/pkg/relquery"
	"github.com/tetradx/tetradx/pkg/startup"
	"github.com/tetradx/tetradx/pkg/tracing"
	"github.com/tetradx/tetradx/pkg/tracing/exporters"
)

func main() {
	_ = godotenv.Load()

	var cfg config.Config
	if err := ectoenv.BindEnv(&cfg); err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app := &application{cfg: cfg, logger: logger}

	boot := startup.NewStartup(logger, cfg.StartupMaxAttempts)
	boot.AddDependency(&tracingDependency{app: app})
	boot.AddDependency(&databaseDependency{app: app})
	boot.AddDependency(&poolDependency{app: app})
	boot.AddDependency(&kafkaDependency{app: app})
	boot.AddDependency(&serverDependency{app: app})

	if err := boot.Start(ctx); err != nil {
		logger.WithError(err).Error("Startup failed")
		os.Exit(1)
	}

	<-ctx.Done()
	logger.Info("Shutdown signal received")

	if app.checker != nil {
		app.checker.SetReady(false)
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := boot.Stop(stopCtx); err != nil {
		logger.WithError(err).Error("Shutdown failed")
		os.Exit(1)
	}
}

func newLogger(cfg config.Config) ectologger.Logger {
	var zapLogger *zap.Logger
	var err error
	if cfg.PrettyLogs {
		zapLogger, err = zap.NewDevelopment()
	} else {
		zapLogger, err = zap.NewProduction()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	return zapadapter.NewZapEctoLogger(zapLogger, nil)
}

// application holds the wired components shared between startup dependencies.
type application struct {
	cfg    config.Config
	logger ectologger.Logger

	tracerProvider *sdktrace.TracerProvider
	db             database.DB
	pool           *relquery.Pool
	fetcher        *relquery.Service
	producer       *kafka.Producer
	checker        *health.Checker
	echo           *echo.Echo
}

type tracingDependency struct {
	app *application
}

func (d *tracingDependency) GetName() string { return "tracing" }
func (d *tracingDependency) DependsOn() []string { return nil }

func (d *tracingDependency) Start(ctx context.Context) error {
	if !d.app.cfg.TracingEnabled {
		return nil
	}

	exporter, err := exporters.NewOTLPExporter(ctx, exporters.OTLPConfig{
		Endpoint: d.app.cfg.TracingOTLPEndpoint,
		Protocol: d.app.cfg.TracingOTLPProtocol,
		Insecure: d.app.cfg.TracingInsecure,
		Timeout:  10 * time.Second,
	})
	if err != nil {
		return err
	}

	d.app.tracerProvider = tracing.Setup(d.app.cfg.AppName, exporter)
	return nil
}

func (d *tracingDependency) Stop(ctx context.Context) error {
	if d.app.tracerProvider == nil {
		return nil
	}
	return d.app.tracerProvider.Shutdown(ctx)
}

type databaseDependency struct {
	app *application
}

func (d *databaseDependency) GetName() string { return "database" }
func (d *databaseDependency) DependsOn() []string { return nil }

func (d *databaseDependency) Start(ctx context.Context) error {
	cfg := d.app.cfg

	db, err := database.Connect(database.ConnectionConfig{
		Driver:          cfg.DatabaseDriver,
		Host:            cfg.DatabaseHost,
		Port:            cfg.DatabasePort,
		UserName:        cfg.DatabaseUserName,
		Password:        cfg.DatabasePassword,
		Name:            cfg.DatabaseName,
		SSLMode:         cfg.DatabaseSSLMode,
		MaxOpenConns:    cfg.PoolCapacity + 5, // publisher and health checks run outside the query pool
		MaxIdleConns:    5,
		ConnMaxLifetime: cfg.PoolConnMaxLifetime,
		ConnMaxIdleTime: cfg.PoolIdleTimeout,
	}, d.app.logger)
	if err != nil {
		return err
	}
	d.app.db = db

	return d.migrate()
}

func (d *databaseDependency) migrate() error {
	instance, ok := d.app.db.(*database.DatabaseInstance)
	if !ok {
		return fmt.Errorf("cannot run migrations against %T", d.app.db)
	}

	driver, err := migratepg.WithInstance(instance.DB.DB, &migratepg.Config{})
	if err != nil {
		return err
	}

	svc := database.NewMigrationService(d.app.logger, &database.MigrationConfig{
		MigrationFolderPath: d.app.cfg.DatabaseMigrationFolderPath,
		Version:             uint(d.app.cfg.DatabaseMigrationVersion),
		Force:               d.app.cfg.DatabaseMigrationForce,
		AutoRollback:        d.app.cfg.DatabaseMigrationAutoRollback,
	})
	return svc.Migrate(d.app.cfg.DatabaseName, driver)
}

func (d *databaseDependency) Stop(ctx context.Context) error {
	if d.app.db == nil {
		return nil
	}
	return d.app.db.Close()
}

type poolDependency struct {
	app *application
}

func (d *poolDependency) GetName() string { return "query-pool" }
func (d *poolDependency) DependsOn() []string { return []string{"database"} }

func (d *poolDependency) Start(ctx context.Context) error {
	cfg := d.app.cfg

	d.app.pool = relquery.NewPool(relquery.SQLXFactory(d.app.db), relquery.PoolConfig{
		Capacity:       cfg.PoolCapacity,
		AcquireTimeout: cfg.PoolAcquireTimeout,
		IdleTimeout:    cfg.PoolIdleTimeout,
		MaxLifetime:    cfg.PoolConnMaxLifetime,
		SweepInterval:  cfg.PoolSweepInterval,
	}, d.app.logger)

	schema := relquery.NewSchema()
	if err := schema.Register(facility.Entity()); err != nil {
		return err
	}
	if err := schema.Register(referral.Entity()); err != nil {
		return err
	}

	d.app.fetcher = relquery.NewService(schema, d.app.pool, cfg.DefaultRequestDeadline, d.app.logger)
	return nil
}

func (d *poolDependency) Stop(ctx context.Context) error {
	if d.app.pool == nil {
		return nil
	}
	return d.app.pool.Close()
}

type kafkaDependency struct {
	app *application
}

func (d *kafkaDependency) GetName() string { return "kafka" }
func (d *kafkaDependency) DependsOn() []string { return nil }

func (d *kafkaDependency) Start(ctx context.Context) error {
	if !d.app.cfg.KafkaEnabled {
		return nil
	}

	d.app.producer = kafka.NewProducer(kafka.ProducerConfig{
		Brokers:      d.app.cfg.KafkaBrokers,
		Topic:        d.app.cfg.KafkaOutputTopic,
		BatchSize:    d.app.cfg.KafkaBatchSize,
		BatchTimeout: time.Duration(d.app.cfg.KafkaBatchTimeout) * time.Millisecond,
		RequiredAcks: d.app.cfg.KafkaRequiredAcks,
		Compression:  d.app.cfg.KafkaCompression,
	}, d.app.logger)
	return nil
}

func (d *kafkaDependency) Stop(ctx context.Context) error {
	if d.app.producer == nil {
		return nil
	}
	return d.app.producer.Close()
}

type serverDependency struct {
	app *application
}

func (d *serverDependency) GetName() string { return "server" }
func (d *serverDependency) DependsOn() []string { return []string{"database", "query-pool", "kafka"} }

func (d *serverDependency) Start(ctx context.Context) error {
	app := d.app
	cfg := app.cfg

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Server.WriteTimeout = time.Duration(cfg.HttpServerWriteTimeoutSeconds) * time.Second
	e.Server.ReadTimeout = time.Duration(cfg.HttpServerReadTimeoutSeconds) * time.Second
	e.Server.IdleTimeout = time.Duration(cfg.HttpServerIdleTimeoutSeconds) * time.Second
	e.Server.ReadHeaderTimeout = time.Duration(cfg.ReadHeaderTimeoutSeconds) * time.Second
	e.Server.MaxHeaderBytes = cfg.MaxHeaderBytes

	e.Use(echomiddleware.Recover())
	e.Use(echomiddleware.CORSWithConfig(echomiddleware.CORSConfig{
		AllowOrigins: cfg.AllowOrigins,
		AllowMethods: cfg.AllowMethods,
	}))
	e.Use(middleware.Context())
	e.Use(middleware.Logger(app.logger))
	if cfg.TracingEnabled {
		e.Use(otelecho.Middleware(cfg.AppName))
	}
	e.HTTPErrorHandler = middleware.Error(app.logger)

	facilityRepo := facility.New(app.db, app.fetcher, app.logger)
	testTypeRepo := testtype.New(app.db, app.logger)
	patientRepo := patient.New(app.db, app.logger)
	referralRepo := referral.New(app.db, app.fetcher, app.logger)

	validate := validator.New()

	facilityHandler := handlers.NewFacilityHandler(facilityRepo, validate, app.logger)
	testTypeHandler := handlers.NewTestTypeHandler(testTypeRepo, app.logger)
	referralHandler := handlers.NewReferralHandler(
		referralRepo,
		facilityRepo,
		testTypeRepo,
		patientRepo,
		app.producer,
		validate,
		app.logger,
		cfg.DefaultPageSize,
		cfg.MaxPageSize,
	)

	api := e.Group("/api/v1")
	facilityHandler.RegisterRoutes(api)
	testTypeHandler.RegisterRoutes(api)
	referralHandler.RegisterRoutes(api)

	app.checker = health.NewChecker(app.db, app.pool, os.Getenv("APP_VERSION"))
	e.GET("/healthz/live", app.checker.LivenessHandler)
	e.GET("/healthz/ready", app.checker.ReadinessHandler)
	e.GET("/healthz", app.checker.HealthHandler)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	app.echo = e

	errCh := make(chan error, 1)
	go func() {
		errCh <- e.Start(fmt.Sprintf(":%d", cfg.Port))
	}()

	// give the listener a moment to fail on bind errors
	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
	case <-time.After(250 * time.Millisecond):
	}

	app.checker.SetReady(true)
	app.logger.WithField("port", cfg.Port).Infof("%s listening on port %d", cfg.AppName, cfg.Port)
	return nil
}

func (d *serverDependency) Stop(ctx context.Context) error {
	if d.app.echo == nil {
		return nil
	}
	return d.app.echo.Shutdown(ctx)
}
