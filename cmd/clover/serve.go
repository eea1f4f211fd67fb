package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"

	"github.com/Ramsey-B/clover/config"
	"github.com/Ramsey-B/clover/internal/storage"
	"github.com/Ramsey-B/clover/pkg/database"
	"github.com/Ramsey-B/clover/pkg/events"
	"github.com/Ramsey-B/clover/pkg/graph"
	"github.com/Ramsey-B/clover/pkg/grouping"
	"github.com/Ramsey-B/clover/pkg/kafka"
	"github.com/Ramsey-B/clover/pkg/matching"
	"github.com/Ramsey-B/clover/pkg/merging"
	"github.com/Ramsey-B/clover/pkg/middleware"
	"github.com/Ramsey-B/clover/pkg/normalizers"
	cloverredis "github.com/Ramsey-B/clover/pkg/redis"
	"github.com/Ramsey-B/clover/pkg/relationships"
	"github.com/Ramsey-B/clover/pkg/routes/duplicates"
	"github.com/Ramsey-B/clover/pkg/routes/health"
	"github.com/Ramsey-B/clover/pkg/routes/merges"
	relroutes "github.com/Ramsey-B/clover/pkg/routes/relationships"
	"github.com/Ramsey-B/clover/pkg/routes/review"
	"github.com/Ramsey-B/clover/pkg/session"
	"github.com/Ramsey-B/clover/pkg/startup"
	"github.com/Ramsey-B/clover/pkg/tracing"
)

const shutdownTimeout = 30 * time.Second

// clientStore is what both storage drivers provide
type clientStore interface {
	grouping.ClientSource
	relationships.Source
	merging.MutationSink
	merges.History
}

func newServeCommand(load configLoader) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			logger, flush, err := newLogger(cfg)
			if err != nil {
				return err
			}
			defer flush()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return serve(ctx, cfg, logger)
		},
	}
}

// infra holds the connections opened by the startup graph
type infra struct {
	db       database.DB
	redis    *cloverredis.Client
	producer *kafka.Producer
	graph    *graph.Client
}

func serve(ctx context.Context, cfg *config.Config, logger ectologger.Logger) error {
	shutdownTracing, err := tracing.Setup(ctx, tracing.ProviderConfig{
		ServiceName: cfg.AppName,
		Exporter:    cfg.TracingExporter,
		Endpoint:    cfg.TracingEndpoint,
		Insecure:    cfg.TracingInsecure,
	}, logger)
	if err != nil {
		return err
	}
	defer func() { _ = shutdownTracing(context.Background()) }()

	checker := health.NewChecker(version)
	var deps infra
	boot := startup.New(logger, cfg.StartupMaxAttempts)
	addDependencies(boot, cfg, logger, checker, &deps)
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := boot.Stop(stopCtx); err != nil {
			logger.WithError(err).Warn("Failed to stop dependencies cleanly")
		}
	}()
	if err := boot.Start(ctx); err != nil {
		return fmt.Errorf("failed to start dependencies: %w", err)
	}

	store, err := newStore(cfg, logger, deps)
	if err != nil {
		return err
	}

	normalizer := normalizers.NewClientNormalizer(normalizers.NewPhoneNormalizer(cfg.PhoneCountryCode, cfg.PhoneNationalLengths))
	strategy, err := grouping.ParseStrategy(cfg.GroupingStrategy)
	if err != nil {
		return err
	}
	detector := grouping.NewDetector(logger, store, grouping.NewEngine(matching.NewScorer(normalizer), strategy))
	aggregator := relationships.NewAggregator(logger, store)
	planner := merging.NewPlanner(normalizer)

	var locker merging.Locker
	if deps.redis != nil {
		locker = merging.NewRedisLocker(cloverredis.NewLocker(deps.redis, ""))
	}
	executor := merging.NewExecutor(logger, store, merging.ExecutorConfig{
		Timeout: cfg.MergeTimeout,
		Locker:  locker,
	})
	if deps.producer != nil {
		executor.AddObserver("kafka", events.NewEmitter(deps.producer))
	}
	if deps.graph != nil {
		executor.AddObserver("graph", graph.NewProjector(deps.graph, logger))
	}

	manager := session.NewManager(session.Dependencies{
		Logger:        logger,
		Relationships: aggregator,
		Planner:       planner,
		Merger:        executor,
		Detector:      detector,
	}, cfg.ReviewSessionIdleTTL)
	go manager.Run(ctx, sweepInterval(cfg.ReviewSessionIdleTTL))

	e := newEcho(cfg, logger, checker)
	api := e.Group("/api/v1")
	mergeHandler := merges.NewHandler(store, planner, executor, store, logger)
	duplicates.NewHandler(detector, logger).Register(api.Group("/duplicates", middleware.RequireAccount()))
	relroutes.NewHandler(aggregator, logger).Register(api.Group("/relationships", middleware.RequireAccount()))
	mergeHandler.RegisterPlans(api.Group("/merge-plans", middleware.RequireAccount()))
	mergeHandler.RegisterMerges(api.Group("/merges", middleware.RequireAccount()))
	mergeHandler.RegisterHistory(api.Group("/clients", middleware.RequireAccount()))
	review.NewHandler(manager, detector, logger).Register(api.Group("/review-sessions", middleware.RequireAccount()))

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           e,
		ReadTimeout:       time.Duration(cfg.HttpServerReadTimeoutSeconds) * time.Second,
		WriteTimeout:      time.Duration(cfg.HttpServerWriteTimeoutSeconds) * time.Second,
		IdleTimeout:       time.Duration(cfg.HttpServerIdleTimeoutSeconds) * time.Second,
		ReadHeaderTimeout: time.Duration(cfg.ReadHeaderTimeoutSeconds) * time.Second,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.WithFields(map[string]any{
			"port":     cfg.Port,
			"store":    cfg.StoreDriver,
			"strategy": strategy,
			"atomic":   executor.Atomic(),
		}).Info("HTTP server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()
	checker.SetReady(true)

	select {
	case <-ctx.Done():
		logger.Info("Received shutdown signal")
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("http server failed: %w", err)
		}
	}

	checker.SetReady(false)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http server shutdown failed: %w", err)
	}
	logger.Info("HTTP server stopped")
	return nil
}

func newEcho(cfg *config.Config, logger ectologger.Logger, checker *health.Checker) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = middleware.Error(logger)

	e.Use(echomw.Recover())
	e.Use(otelecho.Middleware(cfg.AppName))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.AllowOrigins,
		AllowMethods: cfg.AllowMethods,
		AllowHeaders: []string{echo.HeaderContentType, middleware.HeaderAccountID, middleware.HeaderReviewerID},
	}))
	e.Use(middleware.Context())
	e.Use(middleware.Logger(logger))

	checker.RegisterRoutes(e)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	return e
}

// addDependencies registers the external services the configuration enables.
// Startup retries the whole set, so every StartFn keeps a connection it already made.
func addDependencies(boot *startup.Startup, cfg *config.Config, logger ectologger.Logger, checker *health.Checker, deps *infra) {
	if cfg.StoreDriver == "postgres" {
		boot.AddDependency(startup.Func{
			Name: "database",
			StartFn: func(ctx context.Context) error {
				if deps.db != nil {
					return nil
				}
				db, err := openDatabase(cfg, logger)
				if err != nil {
					return err
				}
				if err := db.PingContext(ctx); err != nil {
					_ = db.Close()
					return fmt.Errorf("failed to ping database: %w", err)
				}
				if err := migrate(cfg, db, logger); err != nil {
					_ = db.Close()
					return err
				}
				deps.db = db
				checker.AddCheck("database", db.PingContext)
				return nil
			},
			StopFn: func(context.Context) error {
				if deps.db == nil {
					return nil
				}
				return deps.db.Close()
			},
		})
	}

	if cfg.RedisEnabled {
		boot.AddDependency(startup.Func{
			Name: "redis",
			StartFn: func(ctx context.Context) error {
				if deps.redis != nil {
					return nil
				}
				client := cloverredis.NewClient(cloverredis.Config{
					Host:     cfg.RedisHost,
					Port:     cfg.RedisPort,
					Password: cfg.RedisPassword,
					DB:       cfg.RedisDB,
				}, logger)
				if err := client.Connect(ctx); err != nil {
					_ = client.Close()
					return err
				}
				deps.redis = client
				checker.AddCheck("redis", client.Ping)
				return nil
			},
			StopFn: func(context.Context) error {
				if deps.redis == nil {
					return nil
				}
				return deps.redis.Close()
			},
		})
	}

	if cfg.KafkaEnabled {
		boot.AddDependency(startup.Func{
			Name: "kafka",
			StartFn: func(context.Context) error {
				if deps.producer != nil {
					return nil
				}
				producerConfig := kafka.DefaultProducerConfig()
				producerConfig.Brokers = kafka.ParseBrokers(cfg.KafkaBrokers...)
				producerConfig.Topic = cfg.KafkaOutputTopic
				producerConfig.BatchSize = cfg.KafkaBatchSize
				producerConfig.BatchTimeout = time.Duration(cfg.KafkaBatchTimeout) * time.Millisecond
				producerConfig.RequiredAcks = cfg.KafkaRequiredAcks
				producerConfig.Compression = cfg.KafkaCompression

				producer, err := kafka.NewProducer(producerConfig, logger)
				if err != nil {
					return err
				}
				deps.producer = producer
				return nil
			},
			StopFn: func(context.Context) error {
				if deps.producer == nil {
					return nil
				}
				return deps.producer.Close()
			},
		})
	}

	if cfg.GraphEnabled {
		boot.AddDependency(startup.Func{
			Name: "graph",
			StartFn: func(ctx context.Context) error {
				if deps.graph != nil {
					return nil
				}
				client, err := graph.NewClient(graph.Config{
					Host:     cfg.GraphDBHost,
					Port:     cfg.GraphDBPort,
					Username: cfg.GraphDBUser,
					Password: cfg.GraphDBPassword,
					Database: cfg.GraphDBName,
				}, logger)
				if err != nil {
					return err
				}
				if err := client.VerifyConnectivity(ctx); err != nil {
					_ = client.Close(ctx)
					return fmt.Errorf("failed to reach graph database: %w", err)
				}
				deps.graph = client
				checker.AddCheck("graph", client.VerifyConnectivity)
				return nil
			},
			StopFn: func(ctx context.Context) error {
				if deps.graph == nil {
					return nil
				}
				return deps.graph.Close(ctx)
			},
		})
	}
}

func newStore(cfg *config.Config, logger ectologger.Logger, deps infra) (clientStore, error) {
	if cfg.StoreDriver == "postgres" {
		return storage.NewPostgres(deps.db, logger), nil
	}

	memory := storage.NewMemory()
	if cfg.MemorySeedFile == "" {
		return memory, nil
	}
	f, err := os.Open(cfg.MemorySeedFile)
	if err != nil {
		return nil, fmt.Errorf("failed to open seed file: %w", err)
	}
	defer f.Close()

	seed, err := storage.ReadSeed(f)
	if err != nil {
		return nil, err
	}
	memory.Load(seed)
	logger.WithFields(map[string]any{
		"file":    cfg.MemorySeedFile,
		"clients": len(seed.Clients),
	}).Info("Loaded memory store seed")
	return memory, nil
}

// sweepInterval checks for idle sessions a few times per TTL.
func sweepInterval(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		ttl = session.DefaultIdleTTL
	}
	return max(ttl/4, time.Second)
}
