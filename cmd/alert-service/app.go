package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"

	_ "github.com/lib/pq" // PostgreSQL driver

	"beacon/internal/broker"
	"beacon/internal/config"
	"beacon/internal/constants"
	"beacon/internal/engine"
	"beacon/internal/ingest"
	"beacon/internal/logger"
	"beacon/internal/notify"
	"beacon/internal/rules"
	"beacon/pkg/bootstrap"
	"beacon/pkg/health"
	"beacon/pkg/metrics"
	"beacon/pkg/middleware"
	"beacon/pkg/migrations"
	"beacon/pkg/ratelimit"
)

type App struct {
	config      *config.Config
	logger      logger.Logger
	dbConnector *bootstrap.DatabaseConnector

	db          *sql.DB
	redisClient *redis.Client
	mongoClient *mongo.Client

	realtime *notify.RedisRealtimePublisher
	producer broker.Producer
	consumer broker.Consumer
	runner   *ingest.Runner

	server *http.Server
	router *gin.Engine
}

func NewApp(cfg *config.Config, log logger.Logger) *App {
	return &App{
		config:      cfg,
		logger:      log,
		dbConnector: bootstrap.NewDatabaseConnector(cfg, log),
	}
}

func (a *App) Initialize(ctx context.Context) error {
	if err := config.ValidateStatic(a.config); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if err := a.initDatabases(ctx); err != nil {
		return fmt.Errorf("failed to initialize databases: %w", err)
	}

	if err := a.initPipeline(ctx); err != nil {
		return fmt.Errorf("failed to initialize pipeline: %w", err)
	}

	if err := a.initServer(); err != nil {
		return fmt.Errorf("failed to initialize server: %w", err)
	}

	return nil
}

func (a *App) initDatabases(ctx context.Context) error {
	db, err := a.dbConnector.InitPostgreSQL(ctx)
	if err != nil {
		return err
	}
	a.db = db

	if a.config.Database.RunMigrations {
		if err := migrations.RunPostgres(a.db, a.config.Database.MigrationsDir); err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}
		a.logger.InfowCtx(ctx, "Database migrations applied")
	}

	redisClient, err := a.dbConnector.InitRedis(ctx)
	if err != nil {
		a.logger.WarnwCtx(ctx, "Redis connection failed, realtime delivery disabled", "error", err)
	} else {
		a.redisClient = redisClient
	}

	mongoClient, err := a.dbConnector.InitMongoDB(ctx)
	if err != nil {
		a.logger.WarnwCtx(ctx, "MongoDB connection failed, alert archive disabled", "error", err)
	} else if mongoClient != nil {
		a.mongoClient = mongoClient

		dbName := a.config.Database.MongoDB.Database
		if dbName == "" {
			dbName = constants.DefaultMongoDBName
		}
		if err := migrations.EnsureAlertArchive(ctx, mongoClient.Database(dbName)); err != nil {
			a.logger.WarnwCtx(ctx, "Failed to ensure archive indexes", "error", err)
		}
	}

	return nil
}

func (a *App) initPipeline(ctx context.Context) error {
	ruleRepo := rules.NewRepository(a.db)
	alertRepo := engine.NewAlertRepository(a.db)
	taskRepo := engine.NewTaskRepository(a.db)
	clientDir := engine.NewClientDirectory(a.db)

	var realtime notify.RealtimePublisher = notify.NopRealtimePublisher{}
	if a.redisClient != nil {
		a.realtime = notify.NewRealtimePublisher(a.redisClient, a.config.Notification.Realtime.QueueSize, a.logger)
		realtime = a.realtime
	}

	dispatcher := notify.NewDispatcher(
		notify.NewEventRepository(a.db),
		notify.NewUserDirectory(a.db),
		notify.NewSettingsSource(a.db),
		realtime,
		notify.NewPushSender(a.config.Notification.Push, a.logger),
		notify.NewEmailSender(a.config.Notification.Email, a.logger),
		a.config.Notification.FanoutLimit,
		a.logger,
	)

	materializer := engine.NewTaskMaterializer(taskRepo, clientDir, a.logger)

	opts := []engine.Option{}
	if a.mongoClient != nil {
		dbName := a.config.Database.MongoDB.Database
		if dbName == "" {
			dbName = constants.DefaultMongoDBName
		}
		opts = append(opts, engine.WithArchive(engine.NewMongoArchive(a.mongoClient.Database(dbName), a.logger)))
	}

	kafkaEnabled := len(a.config.Broker.Kafka.Brokers) > 0
	if kafkaEnabled && a.config.Broker.Kafka.AlertStreamTopic != "" {
		a.producer = broker.NewKafkaProducer(a.config.Broker.Kafka, a.logger)
		opts = append(opts, engine.WithAlertStream(a.producer, a.config.Broker.Kafka.AlertStreamTopic))
	}

	eng := engine.NewEngine(ruleRepo, alertRepo, materializer, dispatcher, a.logger, opts...)

	if kafkaEnabled && a.config.Broker.Kafka.SourceTopic != "" {
		consumer := broker.NewKafkaConsumer(a.config.Broker.Kafka, a.logger)
		consumer.SetServiceName("alert-service")
		a.consumer = consumer
		a.runner = ingest.NewRunner(consumer, eng, a.config.Broker.Kafka.SourceTopic, a.logger)
	}

	return a.initRouter(ruleRepo, alertRepo, taskRepo, dispatcher)
}

func (a *App) initRouter(ruleRepo rules.Repository, alertRepo engine.AlertRepository, taskRepo engine.TaskRepository, dispatcher notify.Service) error {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	router.Use(middleware.RecoveryMiddleware(a.logger))
	router.Use(middleware.LoggerMiddleware(a.logger))
	router.Use(middleware.RequestIDMiddleware())

	if a.config.Management.RateLimit.Enabled {
		rateLimitConfig := ratelimit.Config{
			RPS:             a.config.Management.RateLimit.RPS,
			Burst:           a.config.Management.RateLimit.Burst,
			CleanupInterval: time.Duration(a.config.Management.RateLimit.CleanupInterval) * time.Second,
			MaxAge:          time.Duration(a.config.Management.RateLimit.MaxAge) * time.Second,
		}
		router.Use(ratelimit.Middleware(rateLimitConfig))
		a.logger.Infow("Rate limiting enabled", "rps", rateLimitConfig.RPS, "burst", rateLimitConfig.Burst)
	}

	rules.NewHandler(rules.NewService(ruleRepo), a.logger).RegisterRoutes(router)
	engine.NewHandler(alertRepo, taskRepo, a.logger).RegisterRoutes(router)
	notify.NewHandler(dispatcher, a.logger).RegisterRoutes(router)

	metrics.RegisterEngineMetrics()
	metrics.RegisterNotificationMetrics()
	metrics.RegisterIngestMetrics()
	metrics.RegisterCircuitBreakerMetrics()
	metrics.RegisterHTTPMetrics()

	healthRegistry := health.NewCheckerRegistry()
	healthRegistry.Register(health.NewPostgreSQLChecker(a.db))
	if a.redisClient != nil {
		healthRegistry.Register(health.NewRedisChecker(a.redisClient))
	}
	if a.mongoClient != nil {
		healthRegistry.Register(health.NewMongoDBChecker(a.mongoClient))
	}

	router.GET("/health", func(c *gin.Context) {
		h := healthRegistry.Check(c.Request.Context())
		statusCode := http.StatusOK
		if h.Status == health.StatusUnhealthy {
			statusCode = http.StatusServiceUnavailable
		}
		c.JSON(statusCode, h)
	})

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	a.router = router
	return nil
}

func (a *App) initServer() error {
	a.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", a.config.Server.Port),
		Handler:      a.router,
		ReadTimeout:  time.Duration(a.config.Server.ReadTimeoutSeconds) * time.Second,
		WriteTimeout: time.Duration(a.config.Server.WriteTimeoutSeconds) * time.Second,
	}
	return nil
}

func (a *App) Run(ctx context.Context) error {
	errChan := make(chan error, 2)

	go func() {
		a.logger.InfowCtx(ctx, "Server listening", "port", a.config.Server.Port)
		if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- fmt.Errorf("server error: %w", err)
		}
	}()

	if a.runner != nil {
		go func() {
			if err := a.runner.Run(ctx); err != nil && ctx.Err() == nil {
				errChan <- fmt.Errorf("consumer error: %w", err)
			}
		}()
	}

	select {
	case <-ctx.Done():
		return a.Shutdown(ctx)
	case err := <-errChan:
		return err
	}
}

func (a *App) Shutdown(ctx context.Context) error {
	a.logger.InfowCtx(ctx, "Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), constants.ShutdownTimeout)
	defer cancel()

	var errs []error

	if a.server != nil {
		if err := a.server.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("server shutdown error: %w", err))
		}
	}

	if a.consumer != nil {
		if err := a.consumer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("consumer close error: %w", err))
		}
	}

	if a.producer != nil {
		if err := a.producer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("producer close error: %w", err))
		}
	}

	if a.realtime != nil {
		a.realtime.Close()
	}

	dbErrs := a.dbConnector.ShutdownDatabases(shutdownCtx, a.redisClient, a.db, a.mongoClient)
	errs = append(errs, dbErrs...)

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}

	a.logger.InfowCtx(ctx, "Shutdown complete")
	return nil
}
