package txn

import (
	"context"
	"fmt"
	"sync"

	"github.com/dmitrijs2005/balli/internal/dbx"
	"github.com/dmitrijs2005/balli/internal/persistence/query"
	"golang.org/x/sync/errgroup"
)

// BatchDelete removes every row of s matching where in one statement and
// reports how many rows went away.
func (m *Manager) BatchDelete(ctx context.Context, s query.Schema, where query.Predicate) (int64, error) {
	stmt, args, err := query.Delete(s, where)
	if err != nil {
		return 0, err
	}
	return m.execBatch(ctx, s.Entity, stmt, args)
}

// BatchUpdate applies sets to every row of s matching where in one statement.
func (m *Manager) BatchUpdate(ctx context.Context, s query.Schema, where query.Predicate, sets []query.Set) (int64, error) {
	stmt, args, err := query.Update(s, where, sets)
	if err != nil {
		return 0, err
	}
	return m.execBatch(ctx, s.Entity, stmt, args)
}

func (m *Manager) execBatch(ctx context.Context, entity, stmt string, args []any) (int64, error) {
	return Execute(ctx, m, func(ctx context.Context, tx *Tx) (int64, error) {
		res, err := tx.DB().ExecContext(ctx, stmt, args...)
		if err != nil {
			return 0, fmt.Errorf("batch %s: %w", entity, err)
		}
		n := dbx.RowsAffected(res)
		if n > 0 {
			tx.TouchAll(entity)
		}
		return n, nil
	})
}

// Progress is reported after every committed sub-batch.
type Progress struct {
	Done     int
	Total    int
	Fraction float64
}

// BatchOptions tunes BatchInsert. Size falls back to the manager's batch
// size; Cancelled is polled between sub-batches.
type BatchOptions struct {
	Size       int
	OnProgress func(Progress)
	Cancelled  func() bool
}

// BatchResult summarizes a batch insert. Processed counts items handed to
// insert in committed sub-batches; Inserted those that actually created rows.
type BatchResult struct {
	Processed int
	Inserted  int64
	Batches   int
	Fraction  float64
	Cancelled bool
}

// InsertFunc writes one item and reports whether a row was created.
type InsertFunc[T any] func(ctx context.Context, db dbx.DBTX, item T) (bool, error)

// BatchInsert writes items in sub-batches, each in its own transaction.
// Inserted items that are entities are tracked, so registered validators
// run on them and a failure rolls back the whole sub-batch.
// Between sub-batches it stops when ctx is done or opts.Cancelled reports
// true; sub-batches committed so far stay committed and are reported.
func BatchInsert[T any](ctx context.Context, m *Manager, entity string, items []T, insert InsertFunc[T], opts BatchOptions) (BatchResult, error) {
	size := opts.Size
	if size <= 0 {
		size = m.cfg.BatchSize
	}

	var res BatchResult
	total := len(items)
	if total == 0 {
		res.Fraction = 1
		return res, nil
	}

	for start := 0; start < total; start += size {
		if err := ctx.Err(); err != nil {
			res.Cancelled = true
			return res, err
		}
		if opts.Cancelled != nil && opts.Cancelled() {
			res.Cancelled = true
			m.log.Info(ctx, "batch insert cancelled", "entity", entity, "processed", res.Processed, "total", total)
			return res, nil
		}

		end := min(start+size, total)
		chunk := items[start:end]
		inserted, err := Execute(ctx, m, func(ctx context.Context, tx *Tx) (int64, error) {
			var n int64
			for _, item := range chunk {
				ok, err := insert(ctx, tx.DB(), item)
				if err != nil {
					return 0, err
				}
				if !ok {
					continue
				}
				n++
				if e, isEntity := any(item).(Entity); isEntity {
					tx.Track(e)
				}
			}
			if n > 0 {
				tx.TouchAll(entity)
			}
			return n, nil
		})
		if err != nil {
			return res, fmt.Errorf("batch insert %s [%d:%d]: %w", entity, start, end, err)
		}

		res.Batches++
		res.Processed = end
		res.Inserted += inserted
		res.Fraction = float64(end) / float64(total)
		if opts.OnProgress != nil {
			opts.OnProgress(Progress{Done: end, Total: total, Fraction: res.Fraction})
		}
	}
	return res, nil
}

// Job is one unit of a parallel batch run, bound to the entity type it writes.
type Job struct {
	Entity string
	Run    func(ctx context.Context) error
}

func (m *Manager) entityLock(entity string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.entityLocks[entity]
	if !ok {
		l = &sync.Mutex{}
		m.entityLocks[entity] = l
	}
	return l
}

// RunParallel runs jobs with at most ParallelLimit in flight. Jobs writing
// the same entity type never overlap. The first error cancels the rest.
func (m *Manager) RunParallel(ctx context.Context, jobs ...Job) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(m.cfg.ParallelLimit)

	for _, job := range jobs {
		g.Go(func() error {
			l := m.entityLock(job.Entity)
			l.Lock()
			defer l.Unlock()
			if err := ctx.Err(); err != nil {
				return err
			}
			return job.Run(ctx)
		})
	}
	return g.Wait()
}
