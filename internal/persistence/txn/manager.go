package txn

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dmitrijs2005/balli/internal/common"
	"github.com/dmitrijs2005/balli/internal/logging"
	"github.com/dmitrijs2005/balli/internal/metrics"
	"github.com/google/uuid"
)

// Observer is notified synchronously after every commit, while the write
// lock is still held.
type Observer interface {
	OnCommit(ctx context.Context, changes []Change)
}

// Recorder receives the duration and outcome of store operations.
type Recorder interface {
	RecordOperation(kind string, d time.Duration, err error)
}

// OpSave is the operation kind recorded for transactions.
const OpSave = "save"

type Config struct {
	BatchSize     int
	ParallelLimit int
}

func DefaultConfig() Config {
	return Config{BatchSize: 200, ParallelLimit: 4}
}

// Manager serializes write transactions on one store.
type Manager struct {
	db      *sql.DB
	cfg     Config
	log     logging.Logger
	metrics *metrics.Collector

	// one commit in flight per store; a channel so waiting honours ctx
	writeSem chan struct{}

	mu          sync.RWMutex
	observers   []Observer
	recorders   []Recorder
	validators  map[string][]Validator
	entityLocks map[string]*sync.Mutex
}

type Option func(*Manager)

func WithMetrics(c *metrics.Collector) Option { return func(m *Manager) { m.metrics = c } }

func New(db *sql.DB, cfg Config, log logging.Logger, opts ...Option) *Manager {
	def := DefaultConfig()
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.ParallelLimit <= 0 {
		cfg.ParallelLimit = def.ParallelLimit
	}
	m := &Manager{
		db:          db,
		cfg:         cfg,
		log:         log,
		writeSem:    make(chan struct{}, 1),
		validators:  make(map[string][]Validator),
		entityLocks: make(map[string]*sync.Mutex),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

func (m *Manager) Subscribe(o Observer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observers = append(m.observers, o)
}

func (m *Manager) AddRecorder(r Recorder) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recorders = append(m.recorders, r)
}

// RegisterValidator adds a pre-commit check for entities of entityType.
func (m *Manager) RegisterValidator(entityType string, v Validator) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.validators[entityType] = append(m.validators[entityType], v)
}

func (m *Manager) acquire(ctx context.Context) error {
	select {
	case m.writeSem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) release() { <-m.writeSem }

// ExecuteTransaction opens a write transaction, runs fn and commits when fn
// and validation succeed. Any error rolls everything back; a panic rolls
// back and is rethrown. The write lock is always released.
func (m *Manager) ExecuteTransaction(ctx context.Context, fn func(ctx context.Context, tx *Tx) error) (err error) {
	start := time.Now()
	if err := m.acquire(ctx); err != nil {
		return err
	}
	defer m.release()

	sqlTx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	tx := newTx(uuid.NewString(), sqlTx)

	defer func() {
		if p := recover(); p != nil {
			m.rollback(ctx, tx, sqlTx, fmt.Errorf("panic: %v", p))
			m.finish(false, start, common.ErrInternal)
			panic(p)
		}
	}()

	err = fn(ctx, tx)
	if err == nil {
		err = m.validate(tx)
	}
	if err != nil {
		m.rollback(ctx, tx, sqlTx, err)
		m.finish(false, start, err)
		return err
	}

	if err := tx.transition(StateCommitting); err != nil {
		m.rollback(ctx, tx, sqlTx, err)
		m.finish(false, start, err)
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		_ = tx.transition(StateRollingBack)
		_ = tx.transition(StateRolledBack)
		m.log.Error(ctx, "commit failed", "tx_id", tx.id, "error", err)
		m.finish(false, start, err)
		return fmt.Errorf("commit transaction %s: %w", tx.id, err)
	}
	_ = tx.transition(StateCommitted)

	m.notify(ctx, tx.changes())
	m.finish(true, start, nil)
	return nil
}

func (m *Manager) rollback(ctx context.Context, tx *Tx, sqlTx *sql.Tx, cause error) {
	_ = tx.transition(StateRollingBack)
	if err := sqlTx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		m.log.Error(ctx, "rollback failed", "tx_id", tx.id, "error", err)
	}
	_ = tx.transition(StateRolledBack)
	m.log.Warn(ctx, "transaction rolled back", "tx_id", tx.id, "cause", cause)
}

func (m *Manager) notify(ctx context.Context, changes []Change) {
	if len(changes) == 0 {
		return
	}
	m.mu.RLock()
	observers := append([]Observer(nil), m.observers...)
	m.mu.RUnlock()
	for _, o := range observers {
		o.OnCommit(ctx, changes)
	}
}

func (m *Manager) finish(committed bool, start time.Time, err error) {
	d := time.Since(start)
	m.metrics.TxFinished(committed, d)

	m.mu.RLock()
	recorders := append([]Recorder(nil), m.recorders...)
	m.mu.RUnlock()
	for _, r := range recorders {
		r.RecordOperation(OpSave, d, err)
	}
}

// Execute is ExecuteTransaction for operations that produce a value. The
// zero value of T is returned when the transaction rolls back.
func Execute[T any](ctx context.Context, m *Manager, fn func(ctx context.Context, tx *Tx) (T, error)) (T, error) {
	var out T
	err := m.ExecuteTransaction(ctx, func(ctx context.Context, tx *Tx) error {
		v, err := fn(ctx, tx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return out, nil
}
