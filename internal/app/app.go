// Package app assembles the query-serving stack from configuration. Every
// external client is built here once at startup and injected downward.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/seantiz/ragserve/internal/api"
	"github.com/seantiz/ragserve/internal/backend"
	"github.com/seantiz/ragserve/internal/backend/bedrock"
	"github.com/seantiz/ragserve/internal/backend/ollama"
	"github.com/seantiz/ragserve/internal/backend/openai"
	"github.com/seantiz/ragserve/internal/cache"
	"github.com/seantiz/ragserve/internal/config"
	"github.com/seantiz/ragserve/internal/engine"
	"github.com/seantiz/ragserve/internal/index"
	"github.com/seantiz/ragserve/internal/metrics"
	"github.com/seantiz/ragserve/internal/rank"
	"github.com/seantiz/ragserve/internal/router"
	"github.com/seantiz/ragserve/internal/store"
)

// NewRegistry returns a registry holding every built-in generator backend.
func NewRegistry() *backend.Registry {
	reg := backend.NewRegistry()
	reg.Register(openai.Name, openai.Factory)
	reg.Register(ollama.Name, ollama.Factory)
	reg.Register(bedrock.Name, bedrock.Factory)
	return reg
}

// App is a fully wired service.
type App struct {
	Config *config.Config
	Logger *slog.Logger
	Store  store.Store
	Cache  cache.Cache
	Router *router.Router
	Server *api.Server

	// Async is nil in sync mode.
	Async  *engine.AsyncDispatcher
	Reaper *engine.Reaper

	closers []func() error
	wg      sync.WaitGroup
}

// Parts lets callers replace the expensive external pieces, mainly in tests.
// Zero fields are built from configuration.
type Parts struct {
	Retriever index.Retriever
	Registry  *backend.Registry
	Metrics   prometheus.Registerer
}

// Build wires the service described by cfg.
func Build(ctx context.Context, cfg *config.Config, logger *slog.Logger, parts Parts) (_ *App, err error) {
	a := &App{Config: cfg, Logger: logger}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	var m *metrics.Collector
	if parts.Metrics != nil {
		m = metrics.NewCollector(parts.Metrics)
	}

	st, err := store.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	a.Store = st
	a.closers = append(a.closers, st.Close)

	if cfg.Cache.Enabled {
		c, err := cache.New(cfg.CacheDBPath(), cfg.Cache.TTL)
		if err != nil {
			return nil, fmt.Errorf("open cache: %w", err)
		}
		a.Cache = c
		a.closers = append(a.closers, c.Close)
	}

	retriever := parts.Retriever
	if retriever == nil {
		retriever, err = OpenRetriever(ctx, cfg)
		if err != nil {
			return nil, err
		}
	}
	a.closers = append(a.closers, retriever.Close)

	reg := parts.Registry
	if reg == nil {
		reg = NewRegistry()
	}

	settings := backend.Settings{
		Model:       cfg.Generator.Model,
		BaseURL:     cfg.Generator.BaseURL,
		APIKey:      cfg.Generator.APIKey,
		Region:      cfg.Generator.Region,
		Temperature: cfg.Generator.Temperature,
		MaxTokens:   cfg.Generator.MaxTokens,
	}
	var info backend.Info
	build := func(ctx context.Context, i int) (engine.Engine, error) {
		g, err := reg.New(ctx, cfg.Generator.Backend, settings)
		if err != nil {
			return nil, err
		}
		info = g.Info()
		logger.Debug("engine slot ready", "slot", i, "backend", info.Backend, "model", info.Model)
		return engine.NewChain(retriever, g, cfg.Index.K), nil
	}

	pool, err := engine.NewPool(ctx, cfg.Pool.Strategy, cfg.Pool.Size, build, m)
	if err != nil {
		return nil, fmt.Errorf("build engine pool: %w", err)
	}

	exec := engine.NewExecutor(cfg.Dispatch.MaxConcurrency, logger, m)
	runner := engine.NewRunner(pool, exec, rank.Ranker{BaseURL: cfg.Sources.BaseURL}, a.Cache, cfg.Dispatch.Deadline, logger, m)

	var d engine.Dispatcher
	var broker *engine.JobBroker
	switch cfg.Dispatch.Mode {
	case config.ModeAsync:
		a.Async = engine.NewAsyncDispatcher(runner, st, cfg.Dispatch.MaxConcurrency, logger, m)
		broker = a.Async.Broker()
		d = a.Async
	default:
		d = engine.NewSyncDispatcher(runner, st)
	}
	a.Reaper = engine.NewReaper(st, broker, cfg.Jobs.Retention, cfg.Jobs.ReapInterval, logger, m)

	a.Router = router.New(a.Cache, d, st, logger, m)
	a.Server = api.NewServer(api.Options{
		Addr:      cfg.ListenAddr,
		Router:    a.Router,
		Store:     st,
		Cache:     a.Cache,
		Broker:    broker,
		Registry:  reg,
		Generator: info,
		Deadline:  runner.Deadline(),
		Logger:    logger,
	})

	logger.Info("service assembled",
		"mode", d.Mode(),
		"pool_size", pool.Size(),
		"pool_strategy", cfg.Pool.Strategy,
		"max_concurrency", cfg.Dispatch.MaxConcurrency,
		"deadline", runner.Deadline().String(),
		"generator", info.Backend,
		"model", info.Model,
		"cache", a.Cache != nil,
	)
	return a, nil
}

// OpenRetriever opens the similarity index named by cfg.
func OpenRetriever(ctx context.Context, cfg *config.Config) (index.Retriever, error) {
	embed, err := index.NewEmbeddingFunc(cfg.Embedding.Provider, cfg.Embedding.Model, cfg.Embedding.BaseURL, cfg.Embedding.APIKey)
	if err != nil {
		return nil, fmt.Errorf("embedding: %w", err)
	}

	switch cfg.Index.Kind {
	case config.IndexPGVector:
		r, err := index.OpenPGVector(ctx, cfg.Index.DSN, cfg.Index.Table, embed)
		if err != nil {
			return nil, fmt.Errorf("open pgvector index: %w", err)
		}
		return r, nil
	default:
		r, err := index.OpenChromem(cfg.Index.Path, cfg.Index.Collection, embed)
		if err != nil {
			return nil, fmt.Errorf("open chromem index: %w", err)
		}
		return r, nil
	}
}

// Start re-enqueues unfinished async jobs and starts the reaper. Background
// loops stop when ctx is cancelled.
func (a *App) Start(ctx context.Context) error {
	if a.Async != nil {
		n, err := a.Async.Recover(ctx)
		if err != nil {
			return fmt.Errorf("recover jobs: %w", err)
		}
		if n > 0 {
			a.Logger.Info("re-enqueued unfinished jobs", "count", n)
		}
	}
	a.wg.Go(func() {
		a.Reaper.Run(ctx)
	})
	return nil
}

// Close waits for background work and releases every resource. Queued async
// jobs that have not started stay pending for the next Start.
func (a *App) Close() error {
	a.wg.Wait()
	if a.Async != nil {
		a.Async.Stop()
	}

	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
