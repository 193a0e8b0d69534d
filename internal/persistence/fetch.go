package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dmitrijs2005/balli/internal/common"
	"github.com/dmitrijs2005/balli/internal/persistence/query"
)

// CachePolicy selects how Fetch uses the query cache.
type CachePolicy int

const (
	// CachePolicyDefault serves cached results and caches misses.
	CachePolicyDefault CachePolicy = iota
	// CachePolicyReload always reads the store and refreshes the cache.
	CachePolicyReload
	// CachePolicyNone bypasses the cache entirely.
	CachePolicyNone
)

func (p CachePolicy) String() string {
	switch p {
	case CachePolicyDefault:
		return "default"
	case CachePolicyReload:
		return "reload"
	case CachePolicyNone:
		return "none"
	}
	return fmt.Sprintf("CachePolicy(%d)", int(p))
}

// Mapper turns rows of a query into values. Columns are selected in
// order; ID identifies a value for id-based invalidation.
type Mapper[T any] struct {
	Columns []string
	Scan    func(rows *sql.Rows) (T, error)
	ID      func(T) string
}

// Fetch runs q against the store, honouring policy. Cached slices are
// shared; callers must not modify them.
func Fetch[T any](ctx context.Context, c *Core, q query.Query, policy CachePolicy, m Mapper[T]) (out []T, err error) {
	start := time.Now()
	defer func() { c.Health.RecordOperation(OpFetch, time.Since(start), err) }()

	fp := q.Fingerprint()
	if policy == CachePolicyDefault {
		if res, ok := c.Cache.Get(fp); ok {
			if v, ok := res.Value.([]T); ok {
				return v, nil
			}
		}
	}

	version := c.Cache.Version(fp.Entity)
	stmt, args, err := q.Select(m.Columns...)
	if err != nil {
		return nil, err
	}

	rows, err := c.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", fp.Entity, err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		v, err := m.Scan(rows)
		if err != nil {
			return nil, common.E(common.KindCorruption, "fetch "+fp.Entity, err)
		}
		out = append(out, v)
		if m.ID != nil {
			ids = append(ids, m.ID(v))
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("fetch %s: %w", fp.Entity, err)
	}

	if policy != CachePolicyNone {
		c.Cache.PutIfUnchanged(fp, version, out, ids)
	}
	return out, nil
}

// FetchOne reads one entity by key through the entity cache. It returns
// common.ErrNotFound when no row matches.
func FetchOne[T any](ctx context.Context, c *Core, s query.Schema, id string, policy CachePolicy, m Mapper[T]) (T, error) {
	var zero T
	if policy == CachePolicyDefault {
		if v, ok := c.Cache.GetEntity(s.Entity, id); ok {
			if t, ok := v.(T); ok {
				return t, nil
			}
		}
	}

	version := c.Cache.Version(s.Entity)
	q := query.Query{Schema: s, Where: query.Where(s.Key, query.Eq, id), Limit: 1}
	got, err := Fetch(ctx, c, q, CachePolicyNone, m)
	if err != nil {
		return zero, err
	}
	if len(got) == 0 {
		return zero, common.ErrNotFound
	}
	if policy != CachePolicyNone {
		c.Cache.PutEntityIfUnchanged(s.Entity, id, version, got[0])
	}
	return got[0], nil
}
