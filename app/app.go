// Package app wires the fleet: registry, latest-value store, generator, ingestion runner,
// query engine, scheduler and the MQTT surface.
package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/multierr"

	"github.com/eddielth/turbine-fleet/config"
	"github.com/eddielth/turbine-fleet/fleet"
	"github.com/eddielth/turbine-fleet/generator"
	"github.com/eddielth/turbine-fleet/ingest"
	"github.com/eddielth/turbine-fleet/logger"
	"github.com/eddielth/turbine-fleet/metrics"
	"github.com/eddielth/turbine-fleet/mqtt"
	"github.com/eddielth/turbine-fleet/query"
	"github.com/eddielth/turbine-fleet/scheduler"
	"github.com/eddielth/turbine-fleet/storage"
	"github.com/eddielth/turbine-fleet/transformer"
)

// Option customizes an App
type Option func(*options)

type options struct {
	store     storage.Store
	clock     clockwork.Clock
	rand      generator.Rand
	seed      *uint64
	registry  *prometheus.Registry
	transport mqtt.Transport
}

// WithStore replaces the configured primary store
func WithStore(store storage.Store) Option {
	return func(o *options) {
		o.store = store
	}
}

// WithClock drives cycle timestamps and the schedule
func WithClock(clock clockwork.Clock) Option {
	return func(o *options) {
		o.clock = clock
	}
}

// WithRand injects the measurement random source
func WithRand(r generator.Rand) Option {
	return func(o *options) {
		o.rand = r
	}
}

// WithSeed overrides generator.seed
func WithSeed(seed uint64) Option {
	return func(o *options) {
		o.seed = &seed
	}
}

// WithRegistry collects metrics into reg instead of a fresh registry
func WithRegistry(reg *prometheus.Registry) Option {
	return func(o *options) {
		o.registry = reg
	}
}

// WithTransport replaces the paho client, e.g. with an in-process broker connection
func WithTransport(t mqtt.Transport) Option {
	return func(o *options) {
		o.transport = t
	}
}

// App owns every component for the lifetime of the process
type App struct {
	cfg          *config.Config
	fleet        *fleet.Registry
	store        *storage.Manager
	transformers *transformer.Manager
	runner       *ingest.Runner
	engine       *query.Engine
	registry     *prometheus.Registry
	mqtt         *mqtt.Manager
	clock        clockwork.Clock

	mu       sync.RWMutex
	defaults query.FilterSpec
}

// New builds and provisions the fleet. The store is closed again when a later step fails.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (a *App, err error) {
	o := &options{}
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}
	if o.clock == nil {
		o.clock = clockwork.NewRealClock()
	}
	if o.registry == nil {
		o.registry = prometheus.NewRegistry()
		o.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}

	registry, err := cfg.Fleet.Registry()
	if err != nil {
		return nil, err
	}

	primary := o.store
	if primary == nil {
		if primary, err = storage.Open(cfg.Storage.Backend, cfg.Storage.DSN); err != nil {
			return nil, fmt.Errorf("failed to open %s store: %w", cfg.Storage.Backend, err)
		}
	}
	store := storage.NewManager(primary)
	defer func() {
		if err != nil {
			store.Close()
		}
	}()

	if cfg.Storage.File.Enabled {
		mirror, err := storage.NewFileMirror(cfg.Storage.File.Path)
		if err != nil {
			return nil, err
		}
		store.AddMirror(mirror)
	}

	if err := store.Provision(ctx, registry); err != nil {
		return nil, fmt.Errorf("failed to provision fleet: %w", err)
	}
	logger.Info("provisioned %d assets of model %s", registry.Len(), registry.Model().Name())

	transformers, err := transformer.NewManager(cfg.Transformers)
	if err != nil {
		return nil, err
	}

	genOpts := []generator.Option{generator.WithClock(o.clock)}
	switch {
	case o.rand != nil:
		genOpts = append(genOpts, generator.WithRand(o.rand))
	case o.seed != nil:
		genOpts = append(genOpts, generator.WithSeed(*o.seed))
	case cfg.Generator.Seed != 0:
		genOpts = append(genOpts, generator.WithSeed(cfg.Generator.Seed))
	}
	gen, err := generator.New(registry, cfg.Generator.Ranges, cfg.Generator.Attributes, genOpts...)
	if err != nil {
		return nil, err
	}

	m := metrics.New(o.registry)

	a = &App{
		cfg:          cfg,
		fleet:        registry,
		store:        store,
		transformers: transformers,
		runner: ingest.NewRunner(gen, store,
			ingest.WithTransformer(transformers),
			ingest.WithMetrics(m),
			ingest.WithClock(o.clock),
		),
		engine:   query.NewEngine(store, query.WithMetrics(m)),
		registry: o.registry,
		clock:    o.clock,
		defaults: cfg.Query.Defaults,
	}

	if cfg.MQTT.Enabled {
		transport := o.transport
		if transport == nil {
			if transport, err = mqtt.NewClient(cfg.MQTT); err != nil {
				return nil, err
			}
		}
		a.mqtt = mqtt.NewManager(transport, cfg.MQTT.TopicPrefix, a.runner, a.engine, cfg.Query.Defaults, cfg.Schedule.Timeout)
		if cfg.MQTT.PublishValues {
			store.AddMirror(mqtt.NewValueMirror(transport, cfg.MQTT.TopicPrefix))
		}
	}

	return a, nil
}

// Fleet is the provisioned registry
func (a *App) Fleet() *fleet.Registry {
	return a.fleet
}

// Store is the primary store with its mirrors
func (a *App) Store() storage.Store {
	return a.store
}

// RunCycle runs one ingestion cycle
func (a *App) RunCycle(ctx context.Context) (ingest.Report, error) {
	return a.runner.RunCycle(ctx)
}

// Defaults is the current FilterSpec defaults
func (a *App) Defaults() query.FilterSpec {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.defaults
}

// Query evaluates spec against the latest values
func (a *App) Query(ctx context.Context, spec query.FilterSpec) ([]query.AssetRef, error) {
	return a.engine.Query(ctx, spec)
}

// ApplyConfig takes over the reloadable parts of cfg: transformer scripts, query
// defaults and the log level. Fleet, storage and transport stay as provisioned.
func (a *App) ApplyConfig(cfg *config.Config) error {
	var errs error

	if err := a.transformers.Reload(cfg.Transformers); err != nil {
		errs = multierr.Append(errs, err)
	}

	a.mu.Lock()
	a.defaults = cfg.Query.Defaults
	a.mu.Unlock()
	if a.mqtt != nil {
		a.mqtt.SetDefaults(cfg.Query.Defaults)
	}

	if err := logger.SetLevel(cfg.Logger.Level); err != nil {
		errs = multierr.Append(errs, err)
	}

	logger.Info("applied configuration reload")
	return errs
}

// Handler serves /metrics and /healthz
func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{Registry: a.registry}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status": "ok",
			"assets": a.fleet.Len(),
		})
	})
	return mux
}

// Serve runs the schedule, the MQTT handlers and the metrics endpoint until ctx is done
func (a *App) Serve(ctx context.Context) error {
	if a.mqtt != nil {
		if err := a.mqtt.Start(ctx); err != nil {
			return err
		}
		defer a.mqtt.Stop()
	}

	var srv *http.Server
	if a.cfg.Metrics.Enabled {
		srv = &http.Server{
			Addr:    a.cfg.Metrics.Addr,
			Handler: a.Handler(),
		}
		go func() {
			logger.Info("metrics endpoint listening on %s", a.cfg.Metrics.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server exited: %v", err)
			}
		}()
	}

	sched, err := scheduler.New(func(ctx context.Context) error {
		_, err := a.runner.RunCycle(ctx)
		var partial *ingest.PartialWriteError
		if errors.As(err, &partial) {
			// the cycle stored something, already logged by the runner
			return nil
		}
		return err
	}, a.cfg.Schedule.Interval,
		scheduler.WithName("ingestion scheduler"),
		scheduler.WithClock(a.clock),
		scheduler.WithTimeout(a.cfg.Schedule.Timeout),
		scheduler.WithRunOnStart(a.cfg.Schedule.RunOnStart),
	)
	if err != nil {
		return err
	}

	err = sched.Run(ctx)

	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if serr := srv.Shutdown(shutdownCtx); serr != nil && !errors.Is(serr, http.ErrServerClosed) {
			err = multierr.Append(err, serr)
		}
	}
	return err
}

// Close releases the store and its mirrors
func (a *App) Close() error {
	return a.store.Close()
}
