package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/simon020286/go-promptchain"
	"github.com/simon020286/go-promptchain/builder"
	"github.com/simon020286/go-promptchain/cache"
	"github.com/simon020286/go-promptchain/config"
	"github.com/simon020286/go-promptchain/logging"
	"github.com/simon020286/go-promptchain/metrics"
	"github.com/simon020286/go-promptchain/provider"
	"github.com/simon020286/go-promptchain/sandbox"
	"github.com/simon020286/go-promptchain/store"
	"go.uber.org/zap"
)

// app is the wired set of components a command works with
type app struct {
	sequencer *promptchain.Sequencer
	store     *store.SQLite
	chains    *builder.ChainRegistry
	metrics   *metrics.Collector
	closers   []func() error
}

// newApp wires the components described by cfg. The store is only opened
// when persist is set and a path is configured.
func newApp(cfg *config.AppConfig, logger *zap.Logger, persist bool) (*app, error) {
	a := &app{}

	predictors, err := provider.FromConfig(cfg.Providers, "echo", logger)
	if err != nil {
		return nil, err
	}
	if _, ok := predictors.Get("echo"); !ok {
		predictors.Register("echo", provider.Echo{})
	}

	responseCache, err := a.newCache(cfg.Cache, cfg.CacheTTL())
	if err != nil {
		a.close()
		return nil, err
	}

	evaluator := sandbox.New(sandbox.Config{
		Timeout:     cfg.SandboxTimeout(),
		MemoryLimit: cfg.SandboxMemoryLimit(),
		InProcess:   cfg.Sandbox.InProcess,
		Logger:      logger.Named("sandbox"),
	})

	opts := []promptchain.Option{
		promptchain.WithLogger(logger),
		promptchain.WithConcurrency(cfg.Concurrency),
	}
	if responseCache != nil {
		opts = append(opts, promptchain.WithCache(responseCache))
	}
	a.sequencer = promptchain.NewSequencer(predictors, evaluator, opts...)

	a.metrics = metrics.NewCollector(nil)
	a.sequencer.AddListener(a.metrics)
	a.sequencer.AddListener(logging.NewEventLogger(logger))

	a.chains, err = builder.LoadChains(logger)
	if err != nil {
		a.close()
		return nil, err
	}

	if persist && cfg.Store.Path != "" {
		a.store, err = store.Open(cfg.Store.Path)
		if err != nil {
			a.close()
			return nil, err
		}
		a.closers = append(a.closers, a.store.Close)
	}

	return a, nil
}

func (a *app) newCache(cfg config.CacheConfig, ttl time.Duration) (cache.Store, error) {
	switch cfg.Backend {
	case "none":
		return nil, nil
	case "redis":
		opts := []cache.Option{cache.WithTTL(ttl)}
		if cfg.Prefix != "" {
			opts = append(opts, cache.WithPrefix(cfg.Prefix))
		}
		r := cache.NewRedis(cfg.RedisAddr, cfg.Password, cfg.DB, opts...)

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := r.Ping(ctx); err != nil {
			r.Close()
			return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.RedisAddr, err)
		}
		a.closers = append(a.closers, r.Close)
		return r, nil
	default:
		return cache.NewMemory(ttl), nil
	}
}

func (a *app) close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	a.closers = nil
	return errors.Join(errs...)
}

// resolveChain loads a chain from a file, or by name from the registry
func (a *app) resolveChain(ref string) (*config.ChainConfig, error) {
	if def, ok := a.chains.Get(ref); ok {
		return def, nil
	}
	return config.LoadChainFile(ref)
}
