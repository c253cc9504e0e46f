package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"golang.org/x/sync/errgroup"

	"fwupdate/internal/config"
	"fwupdate/internal/constants"
	"fwupdate/internal/events"
	"fwupdate/internal/logger"
	"fwupdate/internal/management"
	"fwupdate/internal/request"
	"fwupdate/pkg/bootstrap"
	"fwupdate/pkg/health"
	"fwupdate/pkg/logging"
	"fwupdate/pkg/metrics"
	"fwupdate/pkg/middleware"
	"fwupdate/pkg/ratelimit"
	"fwupdate/pkg/tracing"
)

type App struct {
	*bootstrap.Base
	dbConnector    *bootstrap.DatabaseConnector
	db             *sql.DB
	redis          *redis.Client
	dynamo         *dynamodb.Client
	firmware       *bootstrap.Firmware
	tracerProvider *tracing.TracerProvider
	server         *http.Server
	router         *gin.Engine
}

func NewApp(cfg *config.Config, log logger.Logger) *App {
	return &App{
		Base:        bootstrap.NewBase(cfg, log),
		dbConnector: bootstrap.NewDatabaseConnector(cfg, log),
	}
}

func (a *App) Initialize(ctx context.Context) error {
	ctx = logging.WithServiceName(ctx, constants.ServiceName)

	tp, err := tracing.Init(a.Config.Tracing, constants.ServiceName)
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	a.tracerProvider = tp

	if err := a.initDatabases(ctx); err != nil {
		return fmt.Errorf("failed to initialize databases: %w", err)
	}

	if err := a.InitBroker(constants.ServiceName); err != nil {
		return fmt.Errorf("failed to initialize broker: %w", err)
	}

	deps := bootstrap.FirmwareDeps{
		Redis:    a.redis,
		DB:       a.db,
		Producer: a.Producer,
	}
	if a.dynamo != nil {
		deps.Dynamo = a.dynamo
	}
	fw, err := bootstrap.InitFirmware(ctx, a.Config, deps, a.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize firmware pipeline: %w", err)
	}
	a.firmware = fw

	metrics.RegisterFirmwareMetrics()
	metrics.RegisterHTTPMetrics()
	if a.Producer != nil {
		metrics.RegisterBrokerMetrics()
	}
	if a.Config.CircuitBreaker.Enabled {
		metrics.RegisterCircuitBreakerMetrics()
	}

	a.initRouter(ctx)

	a.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", a.Config.Server.Port),
		Handler:      a.router,
		ReadTimeout:  a.Config.Server.ReadTimeout(),
		WriteTimeout: a.Config.Server.WriteTimeout(),
	}
	return nil
}

func (a *App) initDatabases(ctx context.Context) error {
	rdb, err := a.dbConnector.InitRedis(ctx)
	if err != nil {
		// The shared catalog is an optimisation; run without it.
		a.Logger.WarnwCtx(ctx, "Redis unavailable, using the local firmware cache only", "error", err)
	}
	a.redis = rdb

	db, err := a.dbConnector.InitPostgreSQL(ctx)
	if err != nil {
		return err
	}
	a.db = db

	dynamo, err := a.dbConnector.InitDynamoDB(ctx)
	if err != nil {
		return err
	}
	a.dynamo = dynamo
	return nil
}

func (a *App) initRouter(ctx context.Context) {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	if a.Config.Tracing.Enabled {
		router.Use(tracing.GinMiddleware(constants.ServiceName))
	}

	router.Use(middleware.RecoveryMiddleware(a.Logger))
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.LoggerMiddleware(a.Logger))

	healthRegistry := health.NewCheckerRegistry()
	// Three missed reloads in a row mark the rules stale.
	healthRegistry.Register(health.NewRulesChecker(a.firmware.Store, 3*a.Config.Firmware.Reload.Interval()))
	if a.db != nil {
		healthRegistry.Register(health.NewPostgreSQLChecker(a.db))
	}
	if a.redis != nil {
		healthRegistry.RegisterOptional(health.NewRedisChecker(a.redis))
	}

	router.GET("/health", healthRegistry.Handler())
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	api := router.Group("")
	if a.Config.RateLimit.Enabled {
		rateLimitConfig := ratelimit.FromConfig(a.Config.RateLimit)
		api.Use(ratelimit.RateLimitMiddleware(ctx, rateLimitConfig))
		a.Logger.InfowCtx(ctx, "Rate limiting enabled", "rps", rateLimitConfig.RPS, "burst", rateLimitConfig.Burst)
	}

	// The check endpoint authenticates inside the handler so its error
	// bodies match the Lambda responses.
	a.firmware.Handler.RegisterRoutes(api)

	opts := []management.ServiceOption{
		management.WithRuleSource(a.firmware.Store),
		management.WithUpdateCanceller(a.firmware.Project),
		management.WithCompiler(a.firmware.Compiler),
		management.WithLogger(a.Logger),
	}
	if a.Producer != nil && a.Config.Broker.Kafka.RulesEventsEnabled() {
		opts = append(opts, management.WithChangePublisher(
			events.NewRulesChangedPublisher(a.Producer, a.Config.Broker.Kafka.RulesTopic),
		))
	}
	var repo management.Repository
	if a.firmware.Rules != nil {
		repo = a.firmware.Rules
	}
	svc := management.NewService(repo, opts...)
	management.NewHandler(svc, a.Logger).RegisterRoutes(api, request.RequireToken(a.Config.Auth.Token))

	a.router = router
}

func (a *App) Run(ctx context.Context) error {
	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.Logger.InfowCtx(ctx, "HTTP server starting", "port", a.Config.Server.Port)
		if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gCtx.Done()
		return a.Shutdown(ctx)
	})

	g.Go(func() error {
		err := a.firmware.Store.StartReloader(gCtx, a.Config.Firmware.Reload.Interval())
		if gCtx.Err() != nil {
			return nil
		}
		return err
	})

	if a.Consumer != nil {
		rulesHandler := events.NewRulesChangedHandler(a.firmware.Store, a.Logger)
		g.Go(func() error {
			rulesCtx := logging.WithServiceName(gCtx, constants.ServiceName)
			a.Logger.InfowCtx(rulesCtx, "Starting rules event consumer",
				"topic", a.Config.Broker.Kafka.RulesTopic,
			)
			err := a.Consumer.Consume(gCtx, a.Config.Broker.Kafka.RulesTopic, rulesHandler.Handle)
			if gCtx.Err() != nil {
				return nil
			}
			return err
		})
	}

	return g.Wait()
}

func (a *App) Shutdown(ctx context.Context) error {
	shutdownCtx := logging.WithServiceName(context.WithoutCancel(ctx), constants.ServiceName)
	a.Logger.InfowCtx(shutdownCtx, "Shutting down firmware service")

	additionalShutdown := func(ctx context.Context) []error {
		var errs []error

		serverCtx, cancel := context.WithTimeout(ctx, constants.ShutdownTimeout)
		defer cancel()

		if a.server != nil {
			if err := a.server.Shutdown(serverCtx); err != nil {
				errs = append(errs, fmt.Errorf("HTTP server shutdown error: %w", err))
			}
		}

		if a.tracerProvider != nil {
			if err := a.tracerProvider.Shutdown(serverCtx); err != nil {
				errs = append(errs, fmt.Errorf("tracer provider shutdown error: %w", err))
			}
		}

		errs = append(errs, a.dbConnector.ShutdownDatabases(a.redis, a.db)...)
		return errs
	}

	return a.Base.Shutdown(shutdownCtx, additionalShutdown)
}
