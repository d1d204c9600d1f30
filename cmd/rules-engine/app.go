package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"

	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"golang.org/x/sync/errgroup"

	"fluxrules/internal/actions"
	"fluxrules/internal/api"
	"fluxrules/internal/audit"
	"fluxrules/internal/cache"
	"fluxrules/internal/config"
	"fluxrules/internal/conflicts"
	"fluxrules/internal/constants"
	"fluxrules/internal/depgraph"
	"fluxrules/internal/engine"
	"fluxrules/internal/logger"
	"fluxrules/internal/reload"
	"fluxrules/internal/ruleevents"
	"fluxrules/internal/rulestore"
	"fluxrules/pkg/bootstrap"
	"fluxrules/pkg/circuitbreaker"
	"fluxrules/pkg/health"
	"fluxrules/pkg/metrics"
	"fluxrules/pkg/ratelimit"
	"fluxrules/pkg/retry"
	"fluxrules/pkg/tracing"
)

type App struct {
	*bootstrap.Base
	dbConnector    *bootstrap.DatabaseConnector
	db             *sql.DB
	redis          *redis.Client
	mongoClient    *mongo.Client
	source         rulestore.Source
	manager        *reload.Manager
	registry       *actions.Registry
	service        *engine.Service
	limiter        *ratelimit.Limiter
	health         *health.CheckerRegistry
	tracerProvider *tracing.TracerProvider
	server         *http.Server
}

func NewApp(cfg *config.Config, log logger.Logger) *App {
	if sugared, ok := log.(*logger.SugaredLogger); ok {
		sugared.SetServiceName(cfg.Service.Name)
	}
	return &App{
		Base:        bootstrap.NewBase(cfg, log),
		dbConnector: bootstrap.NewDatabaseConnector(cfg, log),
		health:      health.NewCheckerRegistry(),
	}
}

// Initialize wires the full service: stores, caches, engine, broker and HTTP.
func (a *App) Initialize(ctx context.Context) error {
	tp, err := tracing.Init(a.Config.Tracing, a.Config.Service.Name)
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	a.tracerProvider = tp
	metrics.Register()

	if err := a.initStores(ctx); err != nil {
		return fmt.Errorf("failed to initialize stores: %w", err)
	}
	if err := a.InitBroker(a.Config.Service.Name); err != nil {
		return fmt.Errorf("failed to initialize broker: %w", err)
	}
	if err := a.initEngine(a.Config.Engine.Dispatch); err != nil {
		return fmt.Errorf("failed to initialize engine: %w", err)
	}

	a.loadInitialRules(ctx)
	a.initHTTPServer()
	return nil
}

// initStores connects the configured databases and selects the rule source.
func (a *App) initStores(ctx context.Context) error {
	var err error
	if a.db, err = a.dbConnector.InitPostgreSQL(ctx); err != nil {
		return err
	}
	if a.db != nil {
		a.health.Register(health.NewPostgreSQLChecker(a.db))
	}

	if a.Config.Cache.Remote.Enabled {
		if a.redis, err = a.dbConnector.InitRedis(ctx); err != nil {
			// The local tier keeps serving; the remote tier is best effort.
			a.Logger.WarnwCtx(ctx, "Remote cache tier unavailable, continuing with local tier only", "error", err)
		}
		if a.redis != nil {
			a.health.RegisterOptional(health.NewRedisChecker(a.redis))
		}
	}

	if a.mongoClient, err = a.dbConnector.InitMongoDB(ctx); err != nil {
		return err
	}
	if a.mongoClient != nil {
		a.health.Register(health.NewMongoDBChecker(a.mongoClient))
	}

	a.source, err = newSource(a.Config, a.db, a.mongoClient)
	return err
}

func newSource(cfg *config.Config, db *sql.DB, mc *mongo.Client) (rulestore.Source, error) {
	switch cfg.Engine.RuleSource {
	case config.SourcePostgres:
		if db == nil {
			return nil, errors.New("postgres rule source selected but postgres is not connected")
		}
		return rulestore.NewPostgresSource(db), nil
	case config.SourceMongoDB:
		if mc == nil {
			return nil, errors.New("mongodb rule source selected but mongodb is not connected")
		}
		m := cfg.Database.MongoDB
		return rulestore.NewMongoSource(mc.Database(m.Database).Collection(m.Collection)), nil
	case config.SourceFile:
		return rulestore.NewFileSource(cfg.Engine.RulesFile), nil
	default:
		return nil, nil
	}
}

func (a *App) cacheOptions(namespace string) cache.Options {
	cc := a.Config.Cache
	opts := cache.Options{
		Namespace:     namespace,
		KeyPrefix:     cc.Remote.KeyPrefix,
		LocalCapacity: cc.LocalCapacity,
		LocalTTL:      cc.LocalTTL,
		RemoteTTL:     cc.Remote.TTL,
		RemoteTimeout: cc.Remote.Timeout,
		Logger:        a.Logger,
	}
	if a.redis == nil {
		return opts
	}

	opts.Remote = cache.NewRedisRemote(a.redis)
	if cb := a.Config.CircuitBreaker; cb.Enabled {
		opts.Breaker = circuitbreaker.NewWrapper(circuitbreaker.FromConfig("redis_"+namespace, cb))
	}
	return opts
}

// initEngine builds the action registry, the reload manager and the engine
// service. dispatch=false yields a dry-run engine for the CLI commands.
func (a *App) initEngine(dispatch bool) error {
	conflictCache, err := cache.New[*conflicts.Report](a.cacheOptions(constants.ArtifactConflicts))
	if err != nil {
		return err
	}
	graphCache, err := cache.New[*depgraph.Graph](a.cacheOptions(constants.ArtifactGraph))
	if err != nil {
		return err
	}

	a.registry = actions.NewRegistry()
	actions.RegisterBuiltins(a.registry, actions.BuiltinOptions{
		Logger:       a.Logger,
		Producer:     a.Producer,
		PublishTopic: a.Config.Actions.PublishTopic,
		HTTPClient:   &http.Client{Timeout: a.Config.Actions.WebhookTimeout},
		Retry:        retry.DefaultPolicy().With(a.Config.Actions.Retry),
	})

	a.manager, err = reload.NewManager(reload.Options{
		Resolver:  a.registry,
		Conflicts: conflictCache,
		Graphs:    graphCache,
		Logger:    a.Logger,
	})
	if err != nil {
		return err
	}

	recorder := audit.Multi{audit.NewLogRecorder(a.Logger)}
	if a.Config.Audit.Enabled && a.db != nil {
		recorder = append(recorder, audit.NewPostgresRecorder(a.db))
	}

	a.service, err = engine.New(engine.Options{
		Manager:    a.manager,
		Registry:   a.registry,
		Dispatcher: actions.NewDispatcher(a.registry, recorder, a.Logger),
		Source:     a.source,
		Reload:     a.Config.Engine.Reload,
		Dispatch:   dispatch,
		Logger:     a.Logger,
	})
	if err != nil {
		return err
	}

	a.health.Register(health.CheckFunc{
		CheckName: "rules",
		Fn: func(context.Context) error {
			if a.source != nil && a.manager.Version() == 0 {
				return errors.New("no rule set loaded")
			}
			return nil
		},
	})
	return nil
}

// loadInitialRules installs the source's rules. A failure leaves the empty
// bootstrap network active and is retried by the reloaders.
func (a *App) loadInitialRules(ctx context.Context) {
	if a.source == nil {
		a.Logger.WarnwCtx(ctx, "No rule source configured, starting with an empty rule set")
		return
	}
	snap, _, err := a.service.ReloadFromSource(ctx, constants.TriggerStartup, false)
	if err != nil {
		a.Logger.WarnwCtx(ctx, "Failed to load initial rules", "source", a.source.Name(), "error", err)
		return
	}
	a.Logger.InfowCtx(ctx, "Initial rules loaded",
		"source", a.source.Name(),
		"version", snap.Version,
		"rules", len(snap.Rules),
	)
}

func (a *App) initHTTPServer() {
	if a.Config.RateLimit.Enabled {
		rl := a.Config.RateLimit
		a.limiter = ratelimit.New(ratelimit.Config{
			RPS:             rl.RPS,
			Burst:           rl.Burst,
			CleanupInterval: rl.CleanupInterval,
			MaxAge:          rl.MaxAge,
		})
	}

	tracingService := ""
	if a.Config.Tracing.Enabled {
		tracingService = a.Config.Service.Name
	}

	router := api.NewRouter(api.RouterOptions{
		Handler:        api.NewHandler(a.service, a.Logger),
		Health:         a.health,
		Logger:         a.Logger,
		Limiter:        a.limiter,
		TracingService: tracingService,
	})

	a.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", a.Config.Server.Port),
		Handler:      router,
		ReadTimeout:  a.Config.Server.ReadTimeout,
		WriteTimeout: a.Config.Server.WriteTimeout,
	}
}

func (a *App) Run(ctx context.Context) error {
	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.Logger.InfowCtx(ctx, "HTTP server starting", "port", a.Config.Server.Port)
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), constants.ShutdownTimeout)
		defer cancel()
		return a.server.Shutdown(shutdownCtx)
	})

	if a.limiter != nil {
		g.Go(func() error {
			a.limiter.Run(gCtx)
			return nil
		})
	}

	g.Go(func() error { return a.service.StartReloader(gCtx) })
	if a.Config.Engine.Reload.Schedule != "" {
		g.Go(func() error { return a.service.StartScheduler(gCtx) })
	}

	if fs, ok := a.source.(*rulestore.FileSource); ok && a.Config.Engine.WatchFile {
		watcher := rulestore.NewWatcher(fs.Path(), 0, a.Logger)
		g.Go(func() error {
			return watcher.Watch(gCtx, a.service.ReloadOnChange)
		})
	}

	a.runConsumers(gCtx, g)

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// runConsumers starts the live fact pipeline and the rule event listener on
// the shared consumer when the broker is enabled.
func (a *App) runConsumers(ctx context.Context, g *errgroup.Group) {
	if a.Consumer == nil {
		return
	}
	k := a.Config.Broker.Kafka

	if k.InputTopic != "" {
		facts := engine.NewFactHandler(a.service, a.Producer, k.OutputTopic, a.Logger).
			WithPublishRetry(retry.DefaultPolicy().With(k.Retry))
		g.Go(func() error {
			a.Logger.InfowCtx(ctx, "Starting fact consumer", "topic", k.InputTopic, "output_topic", k.OutputTopic)
			return a.Consumer.Consume(ctx, k.InputTopic, facts.Handle)
		})
	}

	if k.ConfigUpdateTopic != "" && a.source != nil {
		events := ruleevents.NewHandler(a.service, a.Logger)
		g.Go(func() error {
			a.Logger.InfowCtx(ctx, "Starting rule event consumer", "topic", k.ConfigUpdateTopic)
			return a.Consumer.Consume(ctx, k.ConfigUpdateTopic, events.Handle)
		})
	}
}

func (a *App) Shutdown(ctx context.Context) error {
	a.Logger.InfowCtx(ctx, "Shutting down rules engine")

	return a.Base.Shutdown(ctx, func(ctx context.Context) []error {
		var errs []error

		if a.manager != nil {
			a.manager.Close()
		}

		if a.tracerProvider != nil {
			if err := a.tracerProvider.Shutdown(ctx); err != nil {
				errs = append(errs, fmt.Errorf("tracer provider shutdown error: %w", err))
			}
		}

		return append(errs, a.dbConnector.ShutdownDatabases(ctx, a.redis, a.db, a.mongoClient)...)
	})
}

// Close releases the resources opened by the CLI commands.
func (a *App) Close(ctx context.Context) {
	if a.manager != nil {
		a.manager.Close()
	}
	for _, err := range a.dbConnector.ShutdownDatabases(ctx, a.redis, a.db, a.mongoClient) {
		a.Logger.WarnwCtx(ctx, "Close error", "error", err)
	}
}
