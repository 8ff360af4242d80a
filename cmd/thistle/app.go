package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"

	"github.com/Ramsey-B/thistle/config"
	entityrepo "github.com/Ramsey-B/thistle/internal/repositories/entity"
	suggestionrepo "github.com/Ramsey-B/thistle/internal/repositories/suggestion"
	"github.com/Ramsey-B/thistle/pkg/database"
	"github.com/Ramsey-B/thistle/pkg/events"
	"github.com/Ramsey-B/thistle/pkg/graph"
	"github.com/Ramsey-B/thistle/pkg/kafka"
	"github.com/Ramsey-B/thistle/pkg/lock"
	"github.com/Ramsey-B/thistle/pkg/middleware"
	"github.com/Ramsey-B/thistle/pkg/normalizers"
	"github.com/Ramsey-B/thistle/pkg/processor"
	"github.com/Ramsey-B/thistle/pkg/realtime"
	"github.com/Ramsey-B/thistle/pkg/redis"
	"github.com/Ramsey-B/thistle/pkg/routes/health"
	"github.com/Ramsey-B/thistle/pkg/routes/linking"
	realtimeroutes "github.com/Ramsey-B/thistle/pkg/routes/realtime"
	"github.com/Ramsey-B/thistle/pkg/routes/relationship"
	suggestionroutes "github.com/Ramsey-B/thistle/pkg/routes/suggestion"
	"github.com/Ramsey-B/thistle/pkg/startup"
	"github.com/Ramsey-B/thistle/pkg/suggestion"
)

// app holds the long-lived collaborators. Each is set by the startup step that owns it.
type app struct {
	cfg    *config.Config
	logger ectologger.Logger
	health *health.Checker

	db          *database.DatabaseInstance
	graphClient *graph.Client
	redis       *redis.Client
	producer    *kafka.Producer
	consumer    *kafka.Consumer

	hub      *realtime.Hub
	service  *suggestion.Service
	resolver *graph.Resolver

	stopListen context.CancelFunc
	server     *http.Server
	serverErr  chan error
}

func newApp(cfg *config.Config, logger ectologger.Logger) *app {
	return &app{
		cfg:       cfg,
		logger:    logger,
		health:    health.NewChecker(cfg.Version),
		serverErr: make(chan error, 1),
	}
}

func (a *app) dependencies() []startup.Dependency {
	var deps []startup.Dependency
	var needs []string

	if a.cfg.DatabaseEnabled() {
		deps = append(deps, &startup.Func{Name: "postgres", OnStart: a.startPostgres, OnStop: a.stopPostgres})
		needs = append(needs, "postgres")
	}
	if a.cfg.GraphDBEnabled {
		deps = append(deps, &startup.Func{Name: "graph", OnStart: a.startGraph, OnStop: a.stopGraph})
		needs = append(needs, "graph")
	}
	if a.cfg.RedisEnabled {
		deps = append(deps, &startup.Func{Name: "redis", OnStart: a.startRedis, OnStop: a.stopRedis})
		needs = append(needs, "redis")
	}
	if a.cfg.KafkaProducerEnabled {
		deps = append(deps, &startup.Func{Name: "kafka-producer", OnStart: a.startProducer, OnStop: a.stopProducer})
		needs = append(needs, "kafka-producer")
	}

	deps = append(deps, &startup.Func{Name: "suggestions", Needs: needs, OnStart: a.startSuggestions, OnStop: a.stopSuggestions})

	if a.cfg.KafkaConsumerEnabled {
		deps = append(deps, &startup.Func{Name: "entity-consumer", Needs: []string{"suggestions"}, OnStart: a.startConsumer, OnStop: a.stopConsumer})
	}

	deps = append(deps, &startup.Func{Name: "http-server", Needs: []string{"suggestions"}, OnStart: a.startServer, OnStop: a.stopServer})
	return deps
}

func (a *app) startPostgres(ctx context.Context) error {
	db, err := database.Open(ctx, a.cfg.Database(), a.logger)
	if err != nil {
		return err
	}

	if a.cfg.DatabaseMigrationsEnabled {
		if err := database.NewMigrationService(a.logger, a.cfg.Migrations()).Migrate(db, a.cfg.DatabaseName); err != nil {
			db.Close()
			return fmt.Errorf("migrate: %w", err)
		}
	}

	a.db = db
	a.health.AddCheck("postgres", db.PingContext)
	return nil
}

func (a *app) stopPostgres(_ context.Context) error {
	if a.db == nil {
		return nil
	}
	return a.db.Close()
}

func (a *app) startGraph(ctx context.Context) error {
	client, err := graph.NewClient(a.cfg.Graph(), a.logger)
	if err != nil {
		return err
	}
	if err := client.VerifyConnectivity(ctx); err != nil {
		client.Close(ctx)
		return err
	}

	a.graphClient = client
	a.health.AddCheck("graph", client.VerifyConnectivity)
	return nil
}

func (a *app) stopGraph(ctx context.Context) error {
	if a.graphClient == nil {
		return nil
	}
	return a.graphClient.Close(ctx)
}

func (a *app) startRedis(ctx context.Context) error {
	client, err := redis.NewClient(ctx, a.cfg.Redis(), a.logger)
	if err != nil {
		return err
	}

	a.redis = client
	a.health.AddCheck("redis", client.Ping)
	return nil
}

func (a *app) stopRedis(_ context.Context) error {
	if a.redis == nil {
		return nil
	}
	return a.redis.Close()
}

func (a *app) startProducer(_ context.Context) error {
	a.producer = kafka.NewProducer(a.cfg.Producer(), a.logger)
	return nil
}

func (a *app) stopProducer(_ context.Context) error {
	if a.producer == nil {
		return nil
	}
	return a.producer.Close()
}

func (a *app) startSuggestions(_ context.Context) error {
	normalizers.SetPhoneRegion(a.cfg.PhoneDefaultRegion)

	var store suggestion.Store
	var entities suggestion.EntityStore
	if a.db != nil {
		store = suggestionrepo.NewRepository(a.db, a.logger)
		entities = entityrepo.NewRepository(a.db, a.logger)
	} else {
		a.logger.Warn("No database configured, suggestions and entities are kept in memory")
		store = suggestionrepo.NewMemoryStore()
		entities = entityrepo.NewMemoryStore()
	}

	var edges graph.EdgeStore = graph.NewMemoryEdgeStore()
	if a.graphClient != nil {
		edges = graph.NewNeo4jEdgeStore(a.graphClient, a.logger)
	}

	a.hub = realtime.NewHub(a.cfg.Realtime(), a.logger)

	var sink events.Sink = a.hub
	var locker lock.Locker = lock.NewLocal()
	if a.redis != nil {
		bus := redis.NewEventBus(a.redis, a.hub, a.logger)
		sink = bus
		locker = redis.NewSetLocker(a.redis, "", a.cfg.RedisLockTTL, a.cfg.SuggestionStoreTimeout)

		listenCtx, cancel := context.WithCancel(context.Background())
		a.stopListen = cancel
		ready := make(chan struct{})
		failed := make(chan error, 1)
		go func() {
			err := bus.Listen(listenCtx, ready)
			if err != nil && !errors.Is(err, context.Canceled) {
				a.logger.WithError(err).Error("Event bus stopped")
			}
			failed <- err
		}()

		select {
		case <-ready:
		case err := <-failed:
			cancel()
			return fmt.Errorf("event bus: %w", err)
		}
	}

	var publisher events.Publisher
	if a.producer != nil {
		publisher = a.producer
	}
	emitter := events.NewEmitter(sink, publisher, a.logger)
	a.service = suggestion.NewService(a.logger, store, entities, edges, emitter, locker, a.cfg.Suggestions())
	a.resolver = graph.NewResolver(edges, entities, a.cfg.GraphMaxHops, a.cfg.SuggestionStoreTimeout, a.logger)
	return nil
}

func (a *app) stopSuggestions(_ context.Context) error {
	if a.stopListen != nil {
		a.stopListen()
	}
	if a.hub != nil {
		a.hub.Close()
	}
	return nil
}

func (a *app) startConsumer(ctx context.Context) error {
	var deadLetter kafka.DeadLetter
	if a.redis != nil {
		deadLetter = redis.NewDeadLetterQueue(a.redis, "", a.logger)
	}

	p := processor.NewEntityChangeProcessor(a.logger, a.service)
	a.consumer = kafka.NewConsumer(a.cfg.Consumer(), a.logger, p.ProcessMessage, deadLetter)
	return a.consumer.Start(context.WithoutCancel(ctx))
}

func (a *app) stopConsumer(_ context.Context) error {
	if a.consumer == nil {
		return nil
	}
	return a.consumer.Stop()
}

func (a *app) routes() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = middleware.Error(a.logger)

	e.Use(echomw.Recover())
	e.Use(otelecho.Middleware(a.cfg.AppName))
	e.Use(middleware.Context())
	e.Use(middleware.Logger(a.logger))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: a.cfg.AllowOrigins,
		AllowMethods: a.cfg.AllowMethods,
	}))

	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	a.health.RegisterRoutes(e)
	realtimeroutes.NewHandler(a.hub, a.logger).Register(e)

	var computeMiddleware []echo.MiddlewareFunc
	if a.redis != nil {
		limiter := redis.NewRateLimiter(a.redis, "")
		computeMiddleware = append(computeMiddleware,
			middleware.RateLimit(limiter, "compute", a.cfg.ComputeRateLimit, a.cfg.ComputeRateLimitWindow, a.logger))
	}

	g := e.Group("/projects/:project", middleware.Timeout(a.cfg.MaxRequestTimeout))
	suggestionroutes.NewHandler(a.service, a.logger, computeMiddleware...).Register(g)
	linking.NewHandler(a.service, a.logger).Register(g)
	relationship.NewHandler(a.resolver, a.logger).Register(g)

	return e
}

func (a *app) startServer(_ context.Context) error {
	a.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Port),
		Handler:           a.routes(),
		ReadTimeout:       time.Duration(a.cfg.HttpServerReadTimeoutSeconds) * time.Second,
		WriteTimeout:      time.Duration(a.cfg.HttpServerWriteTimeoutSeconds) * time.Second,
		IdleTimeout:       time.Duration(a.cfg.HttpServerIdleTimeoutSeconds) * time.Second,
		ReadHeaderTimeout: time.Duration(a.cfg.ReadHeaderTimeoutSeconds) * time.Second,
		MaxHeaderBytes:    a.cfg.MaxHeaderBytes,
	}

	go func() {
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.serverErr <- err
		}
	}()
	return nil
}

func (a *app) stopServer(ctx context.Context) error {
	if a.server == nil {
		return nil
	}
	return a.server.Shutdown(ctx)
}
