// Package persistence assembles the local store: cache, transaction
// manager and health monitor around one database handle. Core is built by
// the composition root and handed to whoever needs it; there is no shared
// instance.
package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"sort"

	"github.com/dmitrijs2005/balli/internal/logging"
	"github.com/dmitrijs2005/balli/internal/metrics"
	"github.com/dmitrijs2005/balli/internal/persistence/cache"
	"github.com/dmitrijs2005/balli/internal/persistence/health"
	"github.com/dmitrijs2005/balli/internal/persistence/query"
	"github.com/dmitrijs2005/balli/internal/persistence/txn"
	"github.com/dmitrijs2005/balli/internal/timex"
)

const OpFetch = "fetch"

type Config struct {
	Cache  cache.Config
	Txn    txn.Config
	Health health.Config
}

func DefaultConfig() Config {
	return Config{
		Cache:  cache.DefaultConfig(),
		Txn:    txn.DefaultConfig(),
		Health: health.DefaultConfig(),
	}
}

// Registry maps entity types to their schemas.
type Registry struct {
	schemas map[string]query.Schema
}

func NewRegistry(schemas ...query.Schema) *Registry {
	r := &Registry{schemas: make(map[string]query.Schema, len(schemas))}
	for _, s := range schemas {
		r.schemas[s.Entity] = s
	}
	return r
}

func (r *Registry) Schema(entity string) (query.Schema, bool) {
	s, ok := r.schemas[entity]
	return s, ok
}

// Entities lists the registered entity types in order.
func (r *Registry) Entities() []string {
	out := make([]string, 0, len(r.schemas))
	for e := range r.schemas {
		out = append(out, e)
	}
	sort.Strings(out)
	return out
}

type Core struct {
	db       *sql.DB
	log      logging.Logger
	registry *Registry

	Cache  *cache.Manager
	Tx     *txn.Manager
	Health *health.Monitor
}

type options struct {
	metrics   *metrics.Collector
	clock     timex.Clock
	inspector health.Inspector
}

type Option func(*options)

func WithMetrics(c *metrics.Collector) Option { return func(o *options) { o.metrics = c } }
func WithClock(c timex.Clock) Option { return func(o *options) { o.clock = c } }

// WithInspector replaces the SQLite inspector built from the health rules.
func WithInspector(i health.Inspector) Option { return func(o *options) { o.inspector = i } }

// NewCore wires cache and monitor as commit observers of the transaction
// manager and the monitor as recorder of every save and fetch.
func NewCore(db *sql.DB, cfg Config, registry *Registry, rules health.Rules, log logging.Logger, opts ...Option) (*Core, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if registry == nil {
		registry = NewRegistry()
	}

	c, err := cache.New(cfg.Cache, log.With("component", "cache"), cache.WithMetrics(o.metrics), cache.WithClock(o.clock))
	if err != nil {
		return nil, fmt.Errorf("cache: %w", err)
	}
	tm := txn.New(db, cfg.Txn, log.With("component", "txn"), txn.WithMetrics(o.metrics))

	inspector := o.inspector
	if inspector == nil {
		inspector = health.NewSQLiteInspector(db, rules)
	}
	mon := health.New(cfg.Health, inspector, log.With("component", "health"),
		health.WithMetrics(o.metrics), health.WithClock(o.clock))

	tm.Subscribe(c)
	tm.Subscribe(mon)
	tm.AddRecorder(mon)

	return &Core{db: db, log: log, registry: registry, Cache: c, Tx: tm, Health: mon}, nil
}

func (c *Core) DB() *sql.DB { return c.db }
func (c *Core) Registry() *Registry { return c.registry }

// Save commits one unit of work.
func (c *Core) Save(ctx context.Context, fn func(ctx context.Context, tx *txn.Tx) error) error {
	return c.Tx.ExecuteTransaction(ctx, fn)
}

// PerformTransaction commits a unit of work that produces a value.
func PerformTransaction[T any](ctx context.Context, c *Core, fn func(ctx context.Context, tx *txn.Tx) (T, error)) (T, error) {
	return txn.Execute(ctx, c.Tx, fn)
}

// GetDataHealth runs an integrity check.
func (c *Core) GetDataHealth(ctx context.Context) (health.Report, error) {
	return c.Health.CheckHealth(ctx)
}

func (c *Core) Maintain(ctx context.Context) (health.MaintenanceResult, error) {
	return c.Health.PerformAutoMaintenance(ctx)
}
