package cli

import (
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/aretw0/pergola"
	"github.com/aretw0/pergola/internal/config"
	"github.com/aretw0/pergola/pkg/adapters/file"
	"github.com/aretw0/pergola/pkg/adapters/memory"
	"github.com/aretw0/pergola/pkg/adapters/process"
	"github.com/aretw0/pergola/pkg/adapters/redis"
	"github.com/aretw0/pergola/pkg/adapters/sqlite"
	"github.com/aretw0/pergola/pkg/domain"
	"github.com/aretw0/pergola/pkg/graph"
	"github.com/aretw0/pergola/pkg/loader"
	"github.com/aretw0/pergola/pkg/observability"
	"github.com/aretw0/pergola/pkg/persistence/middleware"
	"github.com/aretw0/pergola/pkg/ports"
	"github.com/aretw0/pergola/pkg/registry"
	"github.com/prometheus/client_golang/prometheus"
)

// Env is what every command shares: configuration, logger, the opened
// checkpoint store and the metrics collectors.
type Env struct {
	Config   config.Config
	Logger   *slog.Logger
	Store    ports.CheckpointStore
	Locker   ports.DistributedLocker
	Metrics  *observability.Metrics
	Registry *registry.Registry

	closers []func() error
}

// Setup opens the configured store. reg may be nil to skip metrics.
func Setup(cfg config.Config, logger *slog.Logger, reg prometheus.Registerer) (*Env, error) {
	store, locker, closeFn, err := OpenStore(cfg)
	if err != nil {
		return nil, err
	}
	env := &Env{
		Config:   cfg,
		Logger:   logger,
		Store:    store,
		Locker:   locker,
		Registry: registry.Default(),
	}
	if closeFn != nil {
		env.closers = append(env.closers, closeFn)
	}
	if cfg.Tools != "" {
		tools, err := process.LoadTools(cfg.Tools)
		if err != nil {
			_ = env.Close()
			return nil, err
		}
		process.NewRunner(process.WithTools(tools), process.WithBaseDir(filepath.Dir(cfg.Tools))).Install(env.Registry)
		logger.Debug("tools loaded", "path", cfg.Tools, "count", len(tools))
	}
	if reg != nil {
		m, err := observability.NewMetrics(reg)
		if err != nil {
			_ = env.Close()
			return nil, fmt.Errorf("metrics: %w", err)
		}
		env.Metrics = m
	}
	return env, nil
}

// OpenStore builds the store named by cfg.Store.Driver, wrapped with the
// masking and encryption middleware when configured. The Redis driver also
// returns a distributed locker on the same connection.
func OpenStore(cfg config.Config) (ports.CheckpointStore, ports.DistributedLocker, func() error, error) {
	var (
		store   ports.CheckpointStore
		locker  ports.DistributedLocker
		closeFn func() error
	)
	switch cfg.Store.Driver {
	case config.DriverMemory:
		store = memory.NewStore()
	case config.DriverFile, "":
		store = file.New(cfg.Store.Path)
	case config.DriverRedis:
		rc := cfg.Store.Redis
		opts := []redis.Option{redis.WithPrefix(rc.Prefix)}
		if rc.TTL > 0 {
			opts = append(opts, redis.WithTTL(rc.TTL))
		}
		rs := redis.New(rc.Addr, rc.Password, rc.DB, opts...)
		store, locker, closeFn = rs, redis.NewLocker(rs.Client(), rc.Prefix), rs.Close
	case config.DriverSQLite:
		ss, err := sqlite.Open(cfg.Store.SQLite.DSN)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("open sqlite store: %w", err)
		}
		store, closeFn = ss, ss.Close
	default:
		return nil, nil, nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}

	var mws []middleware.Middleware
	if len(cfg.Store.MaskFields) > 0 {
		mws = append(mws, middleware.NewPIIMiddleware(cfg.Store.MaskFields))
	}
	if cfg.Encryption.Enabled() {
		active, fallback, err := cfg.Encryption.Keys()
		if err != nil {
			if closeFn != nil {
				_ = closeFn()
			}
			return nil, nil, nil, err
		}
		mws = append(mws, middleware.NewEncryptionMiddleware(middleware.EncryptionConfig{
			ActiveKey:    active,
			FallbackKeys: fallback,
		}))
	}
	return middleware.Chain(store, mws...), locker, closeFn, nil
}

// LoadPlan compiles a graph definition file against the env's registry.
func (e *Env) LoadPlan(path string) (*graph.Plan, error) {
	return loader.LoadPlan(path, e.Registry)
}

// Engine creates an engine for plan on the shared store, with metrics and
// debug log hooks attached.
func (e *Env) Engine(plan *graph.Plan, opts ...pergola.Option) (*pergola.Engine, error) {
	hooks := []domain.LifecycleHooks{observability.LogHooks(e.Logger)}
	if e.Metrics != nil {
		hooks = append(hooks, e.Metrics.Hooks(plan.Name()))
	}
	base := []pergola.Option{
		pergola.WithStore(e.Store),
		pergola.WithLogger(e.Logger),
		pergola.WithLifecycleHooks(domain.ChainHooks(hooks...)),
		pergola.WithMaxSteps(e.Config.MaxSteps),
	}
	if e.Locker != nil {
		base = append(base, pergola.WithLocker(e.Locker))
	}
	return pergola.New(plan, append(base, opts...)...)
}

// LoadEngine is LoadPlan followed by Engine.
func (e *Env) LoadEngine(path string, opts ...pergola.Option) (*pergola.Engine, error) {
	plan, err := e.LoadPlan(path)
	if err != nil {
		return nil, err
	}
	return e.Engine(plan, opts...)
}

// Close releases the store connection.
func (e *Env) Close() error {
	var errs []error
	for _, c := range e.closers {
		errs = append(errs, c())
	}
	e.closers = nil
	return errors.Join(errs...)
}
