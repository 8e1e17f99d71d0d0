package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"
	"go.uber.org/zap"

	"github.com/Ramsey-B/fern/config"
	"github.com/Ramsey-B/fern/internal/repositories/hostrelationship"
	outboxrepo "github.com/Ramsey-B/fern/internal/repositories/outbox"
	"github.com/Ramsey-B/fern/pkg/clock"
	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/featureflags"
	"github.com/Ramsey-B/fern/pkg/graph"
	"github.com/Ramsey-B/fern/pkg/kafka"
	"github.com/Ramsey-B/fern/pkg/logging"
	"github.com/Ramsey-B/fern/pkg/middleware"
	"github.com/Ramsey-B/fern/pkg/normalizer"
	"github.com/Ramsey-B/fern/pkg/outbox"
	"github.com/Ramsey-B/fern/pkg/processor"
	"github.com/Ramsey-B/fern/pkg/redis"
	"github.com/Ramsey-B/fern/pkg/relationships"
	"github.com/Ramsey-B/fern/pkg/routes/admin"
	"github.com/Ramsey-B/fern/pkg/routes/health"
	"github.com/Ramsey-B/fern/pkg/startup"
	"github.com/Ramsey-B/fern/pkg/tracing"
	"github.com/Ramsey-B/fern/pkg/tracing/exporters"
)

type app struct {
	cfg       *config.Config
	logger    ectologger.Logger
	zap       *zap.Logger
	db        database.DB
	redis     *redis.Client
	graph     *graph.Client
	producer  *kafka.Producer
	consumer  *kafka.Consumer
	scheduler *outbox.Scheduler
	health    *health.Checker
	server    *http.Server
	startup   *startup.Startup
	shutdown  []func(ctx context.Context) error
}

func newLogger(cfg *config.Config) (ectologger.Logger, *zap.Logger, error) {
	return logging.New(logging.Config{
		Level:   cfg.LogLevel,
		Pretty:  cfg.PrettyLogs,
		Service: cfg.AppName,
	})
}

func openDatabase(ctx context.Context, cfg *config.Config, logger ectologger.Logger) (database.DB, error) {
	return database.Open(ctx, database.Config{
		Host:            cfg.DatabaseHost,
		Port:            cfg.DatabasePort,
		User:            cfg.DatabaseUserName,
		Password:        cfg.DatabasePassword,
		Name:            cfg.DatabaseName,
		SSLMode:         cfg.DatabaseSSLMode,
		MaxOpenConns:    cfg.DatabaseMaxOpenConns,
		MaxIdleConns:    cfg.DatabaseMaxIdleConns,
		ConnMaxLifetime: cfg.DatabaseConnMaxLifetime,
	}, logger)
}

func migrate(cfg *config.Config, db database.DB, logger ectologger.Logger) error {
	svc := database.NewMigrationService(logger, &database.MigrationConfig{
		MigrationFolderPath: cfg.DatabaseMigrationFolderPath,
		Version:             cfg.DatabaseMigrationVersion,
		Force:               cfg.DatabaseMigrationForce,
		AutoRollback:        cfg.DatabaseMigrationAutoRollback,
	})
	return svc.MigrateDB(db, cfg.DatabaseName)
}

// newApp connects the stores and builds every component. Long-running pieces
// are registered with startup and only begin work when it is started.
func newApp(ctx context.Context, cfg *config.Config) (_ *app, err error) {
	logger, zl, err := newLogger(cfg)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, logger: logger, zap: zl}
	defer func() {
		if err != nil {
			a.close(context.Background())
		}
	}()

	if cfg.TracingEnabled {
		exporter, err := exporters.NewOTLPExporter(ctx, exporters.OTLPConfig{
			Endpoint: cfg.OTLPEndpoint,
			Protocol: cfg.OTLPProtocol,
			Insecure: cfg.OTLPInsecure,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create OTLP exporter: %w", err)
		}
		a.shutdown = append(a.shutdown, tracing.Setup(cfg.AppName, exporter))
	}

	a.db, err = openDatabase(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	a.shutdown = append(a.shutdown, func(context.Context) error { return a.db.Close() })

	a.health = health.NewChecker(cfg.Version)
	a.health.AddCheck("database", health.PingFunc(a.db.PingContext))

	var locker outbox.Locker
	var flags featureflags.Setter = featureflags.NewStatic(cfg.EmitEventsEnabled)
	if cfg.RedisEnabled {
		a.redis, err = redis.NewClient(ctx, redis.Config{
			Host:     cfg.RedisHost,
			Port:     cfg.RedisPort,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		}, logger)
		if err != nil {
			return nil, err
		}
		a.shutdown = append(a.shutdown, func(context.Context) error { return a.redis.Close() })
		a.health.AddCheck("redis", a.redis)

		locker = redis.NewLocker(a.redis, "fern:lock:")
		if cfg.FeatureFlagSource == config.FlagSourceRedis {
			flags = featureflags.NewShared(a.redis, cfg.EmitEventsEnabled, logger)
		}
	}

	clk := clock.System{}
	relationshipRepo := hostrelationship.NewRepository(a.db, logger)
	outboxRepo := outboxrepo.NewRepository(a.db, logger)

	a.producer = kafka.NewProducer(kafka.ProducerConfig{
		Brokers:      cfg.KafkaBrokers,
		Topic:        cfg.KafkaSwatchTopic,
		BatchSize:    cfg.KafkaProducerBatchSize,
		BatchTimeout: cfg.KafkaProducerBatchTimeout,
		RequiredAcks: cfg.KafkaProducerRequiredAcks,
		Compression:  cfg.KafkaProducerCompression,
	}, logger)
	a.shutdown = append(a.shutdown, func(context.Context) error { return a.producer.Close() })

	outboxService := outbox.NewService(outboxRepo, a.db, a.producer, flags, clk, outbox.Config{
		BatchSize: cfg.OutboxFlushBatchSize,
	}, logger)
	a.scheduler = outbox.NewScheduler(outboxService, locker, lockHeld, outbox.SchedulerConfig{
		Interval: cfg.OutboxFlushInterval,
		LockTTL:  cfg.OutboxFlushLockTTL,
	}, logger)

	relationshipService := relationships.NewService(relationshipRepo, clk, logger)
	norm := normalizer.New(normalizer.Config{
		CullingOffset:     cfg.HostCullingOffset,
		LastSyncThreshold: cfg.HostLastSyncThreshold,
	}, clk)

	opts := []processor.Option{processor.WithAfterCommit(a.scheduler.Trigger)}
	if cfg.GraphEnabled {
		a.graph, err = graph.NewClient(graph.Config{
			Host:     cfg.GraphHost,
			Port:     cfg.GraphPort,
			Username: cfg.GraphUsername,
			Password: cfg.GraphPassword,
		}, logger)
		if err != nil {
			return nil, err
		}
		a.shutdown = append(a.shutdown, a.graph.Close)
		a.health.AddCheck("graph", health.PingFunc(a.graph.VerifyConnectivity))
		opts = append(opts, processor.WithProjector(graph.NewProjector(a.graph, logger)))
	}

	proc := processor.NewProcessor(a.db, relationshipService, norm, outboxService, logger, opts...)
	a.consumer = kafka.NewConsumer(kafka.ConsumerConfig{
		Brokers:       cfg.KafkaBrokers,
		Topic:         cfg.KafkaHbiTopic,
		ConsumerGroup: cfg.KafkaConsumerGroup,
		MinBackoff:    cfg.KafkaConsumerMinBackoff,
		MaxBackoff:    cfg.KafkaConsumerMaxBackoff,
	}, logger, proc.HandleMessage)
	a.health.AddCheck("consumer", health.PingFunc(func(context.Context) error {
		if !a.consumer.Health() {
			return errors.New("no active consumer session")
		}
		return nil
	}))

	e, err := a.newEcho(ctx, outboxService, relationshipService, flags)
	if err != nil {
		return nil, err
	}
	read, write, idle := serverTimeouts(cfg)
	a.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      e,
		ReadTimeout:  read,
		WriteTimeout: write,
		IdleTimeout:  idle,
	}

	a.startup = a.newStartup()
	return a, nil
}

func (a *app) newEcho(ctx context.Context, counter admin.OutboxCounter, rels admin.RelationshipReader, flags featureflags.Setter) (*echo.Echo, error) {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = middleware.Error(a.logger)

	e.Use(otelecho.Middleware(a.cfg.AppName))
	e.Use(middleware.Context())
	e.Use(middleware.Logger(a.logger))

	a.health.RegisterRoutes(e)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	internal := e.Group("/api/v1/internal")
	if a.cfg.AuthEnabled {
		verifier, err := middleware.NewOIDCVerifier(ctx, a.cfg.AuthIssuerURL, a.cfg.AuthClientID)
		if err != nil {
			return nil, err
		}
		internal.Use(middleware.Authentication(a.logger, verifier))
	}
	admin.NewHandler(counter, a.scheduler, rels, flags, a.logger).Register(internal)

	return e, nil
}

func (a *app) newStartup() *startup.Startup {
	s := startup.NewStartup(a.logger, a.cfg.StartupMaxAttempts)

	s.AddDependency(startup.Func{
		Name: "database",
		OnStart: func(ctx context.Context) error {
			if err := a.db.PingContext(ctx); err != nil {
				return err
			}
			if !a.cfg.DatabaseMigrateOnStart {
				return nil
			}
			return migrate(a.cfg, a.db, a.logger)
		},
	})
	if a.cfg.OutboxFlushEnabled {
		s.AddDependency(startup.Func{
			Name:     "outbox-scheduler",
			Requires: []string{"database"},
			OnStart:  a.scheduler.Start,
			OnStop:   a.scheduler.Stop,
		})
	}
	s.AddDependency(startup.Func{
		Name:     "hbi-consumer",
		Requires: []string{"database"},
		OnStart:  a.consumer.Start,
		OnStop:   a.consumer.Stop,
	})
	return s
}

// close releases connections in reverse order of acquisition.
func (a *app) close(ctx context.Context) {
	for i := len(a.shutdown) - 1; i >= 0; i-- {
		if err := a.shutdown[i](ctx); err != nil {
			a.logger.WithError(err).Warn("Error while closing resource")
		}
	}
	a.shutdown = nil
	if a.zap != nil {
		_ = a.zap.Sync()
	}
}

func lockHeld(err error) bool {
	return errors.Is(err, redis.ErrLockNotAcquired)
}
