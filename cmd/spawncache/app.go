package main

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/Keksclan/spawncache"
	"github.com/Keksclan/spawncache/config"
	"github.com/Keksclan/spawncache/tracing"
)

type globalFlags struct {
	configPath  string
	traceStdout bool
}

// app is a fully wired cache plus everything that must be released with it.
type app struct {
	cfg      *config.Config
	logger   *zap.Logger
	registry *prometheus.Registry
	cache    *spawncache.Cache[json.RawMessage]

	closers []func(context.Context) error
}

func newApp(ctx context.Context, flags *globalFlags) (*app, error) {
	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return nil, err
	}
	logger, err := cfg.Logger()
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, logger: logger, registry: prometheus.NewRegistry()}
	a.onClose(func(context.Context) error {
		_ = logger.Sync()
		return nil
	})

	var tp trace.TracerProvider
	if flags.traceStdout {
		sdk, err := tracing.NewStdoutProvider(os.Stdout)
		if err != nil {
			return nil, a.fail(err)
		}
		a.onClose(sdk.Shutdown)
		tp = sdk
	}

	embedder, closeEmbedder, err := cfg.NewEmbedder()
	if err != nil {
		return nil, a.fail(err)
	}
	a.onClose(func(context.Context) error { return closeEmbedder() })

	store, closeStore, err := cfg.NewStore(ctx, logger)
	if err != nil {
		return nil, a.fail(err)
	}
	a.onClose(func(context.Context) error { return closeStore() })

	bus, err := cfg.NewBus(logger)
	if err != nil {
		return nil, a.fail(err)
	}
	if bus != nil {
		a.onClose(func(context.Context) error { return bus.Close() })
	}

	c, err := spawncache.New[json.RawMessage](store, embedder, cfg.Options(logger, a.registry, tp, bus)...)
	if err != nil {
		return nil, a.fail(err)
	}
	a.onClose(c.Close)
	a.cache = c
	return a, nil
}

func (a *app) onClose(fn func(context.Context) error) {
	a.closers = append(a.closers, fn)
}

func (a *app) fail(err error) error {
	return errors.Join(err, a.Close())
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i](ctx))
	}
	a.closers = nil
	return errors.Join(errs...)
}
