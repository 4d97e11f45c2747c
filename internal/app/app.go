// Package app assembles the entityroutes stack: metadata registries, the read and
// write pipelines, the optional read cache and the HTTP router serving every entity.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/conduit-lang/entityroutes/internal/config"
	"github.com/conduit-lang/entityroutes/internal/orm/cleaner"
	"github.com/conduit-lang/entityroutes/internal/orm/decorator"
	"github.com/conduit-lang/entityroutes/internal/orm/groups"
	"github.com/conduit-lang/entityroutes/internal/orm/hooks"
	"github.com/conduit-lang/entityroutes/internal/orm/mapping"
	"github.com/conduit-lang/entityroutes/internal/orm/query"
	"github.com/conduit-lang/entityroutes/internal/orm/reader"
	"github.com/conduit-lang/entityroutes/internal/orm/relation"
	"github.com/conduit-lang/entityroutes/internal/orm/repository"
	"github.com/conduit-lang/entityroutes/internal/orm/schema"
	"github.com/conduit-lang/entityroutes/internal/orm/transaction"
	"github.com/conduit-lang/entityroutes/internal/orm/validation"
	"github.com/conduit-lang/entityroutes/internal/web/cache"
	"github.com/conduit-lang/entityroutes/internal/web/handler"
	"github.com/conduit-lang/entityroutes/internal/web/middleware"
	"github.com/conduit-lang/entityroutes/internal/web/ratelimit"
	"github.com/conduit-lang/entityroutes/internal/web/response"
	"github.com/conduit-lang/entityroutes/internal/web/router"
)

// RegisterFunc declares entities and groups, then freezes both registries
type RegisterFunc func(*schema.Registry, *groups.Registry) error

// App is a wired entityroutes application
type App struct {
	Config   *config.Config
	Logger   *zap.Logger
	DB       *sql.DB
	Schema   *schema.Registry
	Groups   *groups.Registry
	Hooks    *hooks.Registry
	Mappings *mapping.Manager
	Router   *router.Router

	queue     *hooks.AsyncQueue
	cache     cache.Cache
	limiter   ratelimit.Limiter
	closeOnce sync.Once
	closeErr  error
}

// Metadata builds the frozen schema and groups registries through register
func Metadata(register RegisterFunc) (*schema.Registry, *groups.Registry, error) {
	registry := schema.NewRegistry()
	g := groups.NewRegistry()
	if err := register(registry, g); err != nil {
		return nil, nil, err
	}
	if !registry.IsFrozen() {
		if err := registry.Freeze(); err != nil {
			return nil, nil, err
		}
	}
	g.Freeze()
	return registry, g, nil
}

// New wires the application over db. db may be nil for commands that only
// inspect the metadata (routes, mapping); such an App serves no requests.
func New(ctx context.Context, cfg *config.Config, db *sql.DB, logger *zap.Logger, register RegisterFunc) (*App, error) {
	if cfg == nil {
		return nil, errors.New("config cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	registry, g, err := Metadata(register)
	if err != nil {
		return nil, fmt.Errorf("failed to register entities: %w", err)
	}

	a := &App{
		Config:   cfg,
		Logger:   logger,
		DB:       db,
		Schema:   registry,
		Groups:   g,
		Hooks:    hooks.NewRegistry(),
		Mappings: mapping.NewManager(g),
	}

	a.cache, err = newCache(ctx, cfg.Cache)
	if err != nil {
		return nil, err
	}
	if a.cache != nil {
		cache.ReadThrough(a.cache, cfg.Cache.TTL, logger.Named("cache")).Register(a.Hooks)
	}

	a.queue = hooks.NewAsyncQueue(4, 100, logger.Named("hooks"))
	a.queue.Start()
	exec := hooks.NewExecutor(a.Hooks, a.queue, logger.Named("hooks"))

	relations := relation.NewManager(g,
		relation.WithLogger(logger.Named("relation")),
		relation.WithDevelopment(cfg.Log.Development))
	writer := decorator.NewWriter(decorator.New(registry, logger.Named("decorator")), cfg.Writer)
	renderer := response.NewRenderer(cfg.Debug, logger.Named("response"))

	h := handler.New(handler.Config{
		Repositories: repository.NewManager(db, registry,
			repository.WithDialect(query.DialectFor(cfg.Database.Driver)),
			repository.WithLogger(logger.Named("repository"))),
		Transactions: transaction.NewManager(db, logger.Named("transaction")),
		Cleaner:      cleaner.New(a.Mappings),
		Validator:    validation.NewEngine(validation.WithLogger(logger.Named("validation"))),
		Reader:       reader.New(a.Mappings, relations, writer, reader.WithHooks(exec), reader.WithLogger(logger.Named("reader"))),
		Hooks:        exec,
		Renderer:     renderer,
		MaxDepth:     cfg.Mapping,
		Logger:       logger.Named("handler"),
	})

	a.Router = router.NewRouter(cfg.Server.APIPrefix)
	a.Router.Use(
		middleware.RequestID(),
		middleware.Logging(logger.Named("http")),
		middleware.Recovery(logger.Named("http"), func(w http.ResponseWriter, r *http.Request, err error) {
			renderer.Error(w, r, response.Context{}, err)
		}),
	)
	if cfg.RateLimit.Driver == config.CacheMemory || cfg.RateLimit.Driver == config.CacheRedis {
		limiter, err := newLimiter(ctx, cfg)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.limiter = limiter
		a.Router.Use(ratelimit.Middleware(a.limiter, ratelimit.MiddlewareConfig{
			Logger: logger.Named("ratelimit"),
			OnLimited: func(w http.ResponseWriter, r *http.Request, _ *ratelimit.Info) {
				renderer.Error(w, r, response.Context{}, response.NewHTTPError(http.StatusTooManyRequests, "rate limit exceeded"))
			},
		}))
	}
	a.Router.NotFound(func(w http.ResponseWriter, r *http.Request) {
		renderer.Error(w, r, response.Context{}, response.NewHTTPError(http.StatusNotFound, "route not found"))
	})
	a.Router.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		renderer.Error(w, r, response.Context{}, response.NewHTTPError(http.StatusMethodNotAllowed, "method not allowed"))
	})

	if err := a.Router.RegisterEntities(registry, h); err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to register routes: %w", err)
	}

	logger.Info("application ready",
		zap.Int("entities", registry.Count()),
		zap.Int("routes", len(a.Router.Routes())),
		zap.String("cache", cfg.Cache.Driver))
	return a, nil
}

func newCache(ctx context.Context, cfg config.CacheConfig) (cache.Cache, error) {
	base := cache.DefaultConfig()
	if cfg.TTL != 0 {
		base.DefaultTTL = cfg.TTL
	}

	switch cfg.Driver {
	case config.CacheMemory:
		return cache.NewMemoryCache(base), nil
	case config.CacheRedis:
		c, err := cache.NewRedisCache(ctx, cache.RedisConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			Cache:    base,
		})
		if err != nil {
			return nil, err
		}
		return c, nil
	default:
		return nil, nil
	}
}

func newLimiter(ctx context.Context, cfg *config.Config) (ratelimit.Limiter, error) {
	if cfg.RateLimit.Driver == config.CacheMemory {
		return ratelimit.NewTokenBucket(ratelimit.TokenBucketConfig{
			Capacity:        cfg.RateLimit.Limit,
			RefillRate:      cfg.RateLimit.Window,
			CleanupInterval: 5 * time.Minute,
		}), nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Cache.RedisAddr,
		Password: cfg.Cache.RedisPassword,
		DB:       cfg.Cache.RedisDB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Cache.RedisAddr, err)
	}

	limiter, err := ratelimit.NewRedisLimiter(ratelimit.RedisConfig{
		Client:     client,
		Limit:      cfg.RateLimit.Limit,
		Window:     cfg.RateLimit.Window,
		Prefix:     cache.DefaultConfig().Prefix + "ratelimit:",
		OwnsClient: true,
	})
	if err != nil {
		client.Close()
		return nil, err
	}
	return limiter, nil
}

// Close drains the async hooks, then closes the cache and the rate limiter. The database is owned by
// the caller. Close is safe to call more than once.
func (a *App) Close() error {
	a.closeOnce.Do(func() {
		a.queue.Shutdown()
		if a.cache != nil {
			a.closeErr = a.cache.Close()
		}
		if a.limiter != nil {
			a.closeErr = errors.Join(a.closeErr, a.limiter.Close())
		}
	})
	return a.closeErr
}
