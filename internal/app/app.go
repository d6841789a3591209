// Package app assembles the store, scheduler and engine from configuration for both binaries.
package app

import (
	"context"
	"fmt"
	"log"

	"github.com/redis/go-redis/v9"

	"dumpsite-dispatch/internal/config"
	"dumpsite-dispatch/internal/dispatch"
	"dumpsite-dispatch/internal/ledger"
	"dumpsite-dispatch/internal/ratelimit"
	"dumpsite-dispatch/internal/registry"
	"dumpsite-dispatch/internal/store"
	"dumpsite-dispatch/internal/timer"
)

// App holds the wired core components.
type App struct {
	Config   config.Config
	Store    store.Store
	Redis    *redis.Client
	Timers   timer.Scheduler
	Jobs     *ledger.Ledger
	Workers  *registry.Registry
	Engine   *dispatch.Engine
	Limiter  ratelimit.Limiter
	closeFns []func() error
}

// Build connects the configured backends. Redis is only dialled when a component needs it.
func Build(ctx context.Context, cfg config.Config) (*App, error) {
	a := &App{Config: cfg}

	if cfg.StoreBackend == "redis" || cfg.SchedulerBackend == "redis" {
		a.Redis = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := a.Redis.Ping(ctx).Err(); err != nil {
			_ = a.Redis.Close()
			return nil, fmt.Errorf("ping redis: %w", err)
		}
		a.closeFns = append(a.closeFns, a.Redis.Close)
	}

	st, err := openStore(ctx, cfg, a.Redis)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Store = st
	a.closeFns = append(a.closeFns, st.Close)

	switch cfg.SchedulerBackend {
	case "redis":
		a.Timers = timer.NewRedisScheduler(a.Redis, cfg.RedisPrefix)
		a.Limiter = ratelimit.NewTokenBucket(a.Redis, cfg.RedisPrefix, cfg.RateLimitCapacity, cfg.RateLimitRefill)
	case "local", "":
		a.Timers = timer.NewLocal()
		a.Limiter = ratelimit.NewLocal(cfg.RateLimitCapacity, cfg.RateLimitRefill)
	default:
		a.Close()
		return nil, fmt.Errorf("unknown scheduler backend %q", cfg.SchedulerBackend)
	}

	a.Jobs = ledger.New(st)
	a.Workers = registry.New(st, nil)
	a.Engine = dispatch.New(st, a.Jobs, a.Workers, a.Timers)

	if cfg.SeedWorkers {
		n, err := a.Workers.SeedRoster(ctx, cfg.Zones, 3)
		if err != nil {
			a.Close()
			return nil, err
		}
		if n > 0 {
			log.Printf("seeded %d workers across %d zones", n, len(cfg.Zones))
		}
	}
	return a, nil
}

func openStore(ctx context.Context, cfg config.Config, client *redis.Client) (store.Store, error) {
	switch cfg.StoreBackend {
	case "memory", "":
		return store.NewMemory(), nil
	case "file":
		return store.OpenFile(cfg.StoreFile)
	case "postgres":
		pg, err := store.NewPostgres(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, err
		}
		if err := pg.RunMigrations(ctx); err != nil {
			_ = pg.Close()
			return nil, fmt.Errorf("migrations: %w", err)
		}
		return pg, nil
	case "redis":
		return store.NewRedis(client, cfg.RedisPrefix), nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}
}

// Close releases connections in reverse order of acquisition.
func (a *App) Close() {
	for i := len(a.closeFns) - 1; i >= 0; i-- {
		if err := a.closeFns[i](); err != nil {
			log.Printf("close: %v", err)
		}
	}
	a.closeFns = nil
}
