package txn

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dmitrijs2005/balli/internal/common"
	"github.com/dmitrijs2005/balli/internal/dbx"
	"github.com/dmitrijs2005/balli/internal/persistence/query"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var itemsSchema = query.Schema{
	Entity: "item",
	Table:  "items",
	Key:    "id",
	Columns: map[string]query.Kind{
		"id":    query.Text,
		"kind":  query.Text,
		"value": query.Int,
	},
}

func seed(t *testing.T, m *Manager, n int) {
	t.Helper()
	err := m.ExecuteTransaction(context.Background(), func(ctx context.Context, tx *Tx) error {
		for i := 0; i < n; i++ {
			if err := insertItem(ctx, tx, item{ID: fmt.Sprintf("s%02d", i), Value: i}); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)
}

func insertRow(ctx context.Context, db dbx.DBTX, it item) (bool, error) {
	res, err := db.ExecContext(ctx, `INSERT OR IGNORE INTO items (id, kind, value) VALUES (?, 'b', ?)`, it.ID, it.Value)
	if err != nil {
		return false, err
	}
	return dbx.RowsAffected(res) == 1, nil
}

func makeItems(n int) []item {
	out := make([]item, n)
	for i := range out {
		out[i] = item{ID: fmt.Sprintf("n%02d", i), Value: i}
	}
	return out
}

func TestBatchDelete_CountsWithoutLoadingRows(t *testing.T) {
	db := setupDB(t)
	m := newManager(t, db)
	seed(t, m, 10)
	obs := &recordingObserver{}
	m.Subscribe(obs)

	n, err := m.BatchDelete(context.Background(), itemsSchema, query.Where("value", query.Lt, 4))
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)
	assert.Equal(t, 6, countRows(t, db))
	require.Len(t, obs.changes, 1)
	assert.Equal(t, []Change{{Entity: "item", All: true}}, obs.changes[0])

	n, err = m.BatchDelete(context.Background(), itemsSchema, query.Where("value", query.Lt, 0))
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Len(t, obs.changes, 1, "no-op deletes do not invalidate")
}

func TestBatchUpdate(t *testing.T) {
	db := setupDB(t)
	m := newManager(t, db)
	seed(t, m, 5)

	n, err := m.BatchUpdate(context.Background(), itemsSchema,
		query.Where("value", query.Ge, 3), []query.Set{{Field: "kind", Value: "z"}})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	var z int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM items WHERE kind = 'z'`).Scan(&z))
	assert.Equal(t, 2, z)
}

func TestBatch_InvalidPredicateNeverReachesStore(t *testing.T) {
	db := setupDB(t)
	m := newManager(t, db)
	seed(t, m, 3)

	_, err := m.BatchDelete(context.Background(), itemsSchema, query.Where("missing", query.Eq, 1))
	require.ErrorIs(t, err, common.ErrValidation)
	_, err = m.BatchUpdate(context.Background(), itemsSchema, query.Predicate{}, []query.Set{{Field: "value", Value: "x"}})
	require.ErrorIs(t, err, common.ErrValidation)
	assert.Equal(t, 3, countRows(t, db))
}

func TestBatchInsert_SubBatchesAndProgress(t *testing.T) {
	db := setupDB(t)
	m := newManager(t, db)

	var fractions []float64
	res, err := BatchInsert(context.Background(), m, "item", makeItems(10), insertRow, BatchOptions{
		OnProgress: func(p Progress) { fractions = append(fractions, p.Fraction) },
	})
	require.NoError(t, err)

	assert.Equal(t, 4, res.Batches)
	assert.Equal(t, 10, res.Processed)
	assert.Equal(t, int64(10), res.Inserted)
	assert.False(t, res.Cancelled)
	assert.InDeltaSlice(t, []float64{0.3, 0.6, 0.9, 1.0}, fractions, 1e-9)
	assert.Equal(t, 10, countRows(t, db))

	// re-running inserts nothing new but still completes
	res, err = BatchInsert(context.Background(), m, "item", makeItems(10), insertRow, BatchOptions{Size: 5})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Batches)
	assert.Zero(t, res.Inserted)
}

func TestBatchInsert_CancelFlagStopsBetweenSubBatches(t *testing.T) {
	db := setupDB(t)
	m := newManager(t, db)

	var batches int32
	res, err := BatchInsert(context.Background(), m, "item", makeItems(10), insertRow, BatchOptions{
		OnProgress: func(Progress) { atomic.AddInt32(&batches, 1) },
		Cancelled:  func() bool { return atomic.LoadInt32(&batches) >= 2 },
	})
	require.NoError(t, err)

	assert.True(t, res.Cancelled)
	assert.Equal(t, 6, res.Processed)
	assert.InDelta(t, 0.6, res.Fraction, 1e-9)
	assert.Equal(t, 6, countRows(t, db), "committed sub-batches stay committed")
}

func TestBatchInsert_ContextCancelled(t *testing.T) {
	db := setupDB(t)
	m := newManager(t, db)

	ctx, cancel := context.WithCancel(context.Background())
	res, err := BatchInsert(ctx, m, "item", makeItems(9), insertRow, BatchOptions{
		OnProgress: func(Progress) { cancel() },
	})
	require.ErrorIs(t, err, context.Canceled)
	assert.True(t, res.Cancelled)
	assert.Equal(t, 3, res.Processed)
	assert.Equal(t, 3, countRows(t, db))
}

func TestBatchInsert_FailureKeepsEarlierSubBatches(t *testing.T) {
	db := setupDB(t)
	m := newManager(t, db)

	failing := func(ctx context.Context, db dbx.DBTX, it item) (bool, error) {
		if it.ID == "n07" {
			return false, errors.New("disk full")
		}
		return insertRow(ctx, db, it)
	}
	res, err := BatchInsert(context.Background(), m, "item", makeItems(10), failing, BatchOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "[6:9]")
	assert.Equal(t, 6, res.Processed)
	assert.Equal(t, 6, countRows(t, db))
}

func TestBatchInsert_Empty(t *testing.T) {
	db := setupDB(t)
	m := newManager(t, db)
	res, err := BatchInsert(context.Background(), m, "item", []item{}, insertRow, BatchOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1.0, res.Fraction)
	assert.Zero(t, res.Batches)
}

func TestRunParallel_SameEntityNeverOverlaps(t *testing.T) {
	db := setupDB(t)
	m := newManager(t, db)

	var mu sync.Mutex
	active := map[string]int{}
	maxActive := map[string]int{}
	var concurrent, maxConcurrent int32

	job := func(entity string) Job {
		return Job{Entity: entity, Run: func(ctx context.Context) error {
			mu.Lock()
			active[entity]++
			if active[entity] > maxActive[entity] {
				maxActive[entity] = active[entity]
			}
			mu.Unlock()
			n := atomic.AddInt32(&concurrent, 1)
			for {
				cur := atomic.LoadInt32(&maxConcurrent)
				if n <= cur || atomic.CompareAndSwapInt32(&maxConcurrent, cur, n) {
					break
				}
			}

			time.Sleep(5 * time.Millisecond)

			atomic.AddInt32(&concurrent, -1)
			mu.Lock()
			active[entity]--
			mu.Unlock()
			return nil
		}}
	}

	err := m.RunParallel(context.Background(),
		job("readings"), job("readings"), job("readings"),
		job("records"), job("records"),
	)
	require.NoError(t, err)
	assert.Equal(t, 1, maxActive["readings"])
	assert.Equal(t, 1, maxActive["records"])
	assert.LessOrEqual(t, maxConcurrent, int32(2))
}

func TestRunParallel_FirstErrorWins(t *testing.T) {
	db := setupDB(t)
	m := newManager(t, db)
	boom := errors.New("boom")

	err := m.RunParallel(context.Background(),
		Job{Entity: "a", Run: func(ctx context.Context) error { return boom }},
		Job{Entity: "b", Run: func(ctx context.Context) error { return nil }},
	)
	require.ErrorIs(t, err, boom)
}

func TestRunParallel_WithBatchInserts(t *testing.T) {
	db := setupDB(t)
	m := newManager(t, db)

	first, second := makeItems(6)[:3], makeItems(6)[3:]
	err := m.RunParallel(context.Background(),
		Job{Entity: "item", Run: func(ctx context.Context) error {
			_, err := BatchInsert(ctx, m, "item", first, insertRow, BatchOptions{Size: 1})
			return err
		}},
		Job{Entity: "item", Run: func(ctx context.Context) error {
			_, err := BatchInsert(ctx, m, "item", second, insertRow, BatchOptions{Size: 1})
			return err
		}},
	)
	require.NoError(t, err)
	assert.Equal(t, 6, countRows(t, db))
}

func TestBatchInsert_RunsRegisteredValidators(t *testing.T) {
	db := setupDB(t)
	m := newManager(t, db)
	m.RegisterValidator("item", func(e Entity) error {
		if e.EntityID() == "n04" {
			return errors.New("reserved id")
		}
		return nil
	})

	res, err := BatchInsert(context.Background(), m, "item", makeItems(6), insertRow, BatchOptions{Size: 3})
	require.ErrorIs(t, err, common.ErrConflict)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	require.Len(t, verr.Failures, 1)
	assert.Equal(t, "n04", verr.Failures[0].ID)

	assert.Equal(t, 3, res.Processed)
	// второй под-батч откатился целиком
	assert.Equal(t, 3, countRows(t, db))
}

func TestBatchInsert_SkippedRowsAreNotValidated(t *testing.T) {
	db := setupDB(t)
	m := newManager(t, db)
	var seen atomic.Int32
	m.RegisterValidator("item", func(Entity) error {
		seen.Add(1)
		return nil
	})

	_, err := BatchInsert(context.Background(), m, "item", makeItems(4), insertRow, BatchOptions{})
	require.NoError(t, err)
	_, err = BatchInsert(context.Background(), m, "item", makeItems(4), insertRow, BatchOptions{})
	require.NoError(t, err)
	assert.EqualValues(t, 4, seen.Load())
}
