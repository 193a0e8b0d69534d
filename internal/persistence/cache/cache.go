// Package cache keeps recent query results and individual entities of the
// local store in two size-bounded LRU caches.
//
// The cache is never the source of truth: a miss always falls through to
// the store, and every committed write drops the entries it may have made
// stale before the write call returns.
package cache

import (
	"context"
	"sync"
	"time"

	"github.com/dmitrijs2005/balli/internal/logging"
	"github.com/dmitrijs2005/balli/internal/metrics"
	"github.com/dmitrijs2005/balli/internal/persistence/query"
	"github.com/dmitrijs2005/balli/internal/persistence/txn"
	"github.com/dmitrijs2005/balli/internal/timex"
	"github.com/hashicorp/golang-lru/v2/simplelru"
)

const (
	queryCacheName  = "query"
	entityCacheName = "entity"
)

// Config sizes the caches. MaxAge of zero keeps entries until they are
// evicted or invalidated.
type Config struct {
	QueryCapacity    int
	EntityCapacity   int
	MaxAge           time.Duration
	HitRateThreshold float64
	MinSamples       int64
}

func DefaultConfig() Config {
	return Config{
		QueryCapacity:    128,
		EntityCapacity:   1024,
		HitRateThreshold: 0.3,
		MinSamples:       50,
	}
}

// Result is a cached query result.
type Result struct {
	Value    any
	IDs      []string
	StoredAt time.Time
}

type queryEntry struct {
	result Result
	ids    map[string]struct{}
}

type entityKey struct {
	entity string
	id     string
}

type entityEntry struct {
	value    any
	storedAt time.Time
}

// Manager owns both caches. All state is guarded by mu and only reachable
// through the methods below.
type Manager struct {
	cfg     Config
	log     logging.Logger
	metrics *metrics.Collector
	now     timex.Clock

	mu       sync.Mutex
	queries  *simplelru.LRU[query.Fingerprint, *queryEntry]
	entities *simplelru.LRU[entityKey, *entityEntry]

	// secondary indexes kept in step with the LRUs by the eviction callbacks
	queriesByEntity map[string]map[query.Fingerprint]struct{}
	idsByEntity     map[string]map[string]struct{}

	// bumped on every invalidation of an entity type; see PutIfUnchanged
	versions map[string]uint64

	stats Stats
}

// Option customizes a Manager.
type Option func(*Manager)

func WithMetrics(c *metrics.Collector) Option { return func(m *Manager) { m.metrics = c } }
func WithClock(c timex.Clock) Option { return func(m *Manager) { m.now = c } }

func New(cfg Config, log logging.Logger, opts ...Option) (*Manager, error) {
	def := DefaultConfig()
	if cfg.QueryCapacity <= 0 {
		cfg.QueryCapacity = def.QueryCapacity
	}
	if cfg.EntityCapacity <= 0 {
		cfg.EntityCapacity = def.EntityCapacity
	}
	if cfg.HitRateThreshold <= 0 {
		cfg.HitRateThreshold = def.HitRateThreshold
	}
	if cfg.MinSamples <= 0 {
		cfg.MinSamples = def.MinSamples
	}

	m := &Manager{
		cfg:             cfg,
		log:             log,
		queriesByEntity: make(map[string]map[query.Fingerprint]struct{}),
		idsByEntity:     make(map[string]map[string]struct{}),
		versions:        make(map[string]uint64),
	}
	for _, o := range opts {
		o(m)
	}

	var err error
	m.queries, err = simplelru.NewLRU[query.Fingerprint, *queryEntry](cfg.QueryCapacity, m.onQueryRemoved)
	if err != nil {
		return nil, err
	}
	m.entities, err = simplelru.NewLRU[entityKey, *entityEntry](cfg.EntityCapacity, m.onEntityRemoved)
	if err != nil {
		return nil, err
	}
	return m, nil
}

// onQueryRemoved runs for evictions and explicit removals alike, under mu.
func (m *Manager) onQueryRemoved(fp query.Fingerprint, _ *queryEntry) {
	if set, ok := m.queriesByEntity[fp.Entity]; ok {
		delete(set, fp)
		if len(set) == 0 {
			delete(m.queriesByEntity, fp.Entity)
		}
	}
}

func (m *Manager) onEntityRemoved(k entityKey, _ *entityEntry) {
	if set, ok := m.idsByEntity[k.entity]; ok {
		delete(set, k.id)
		if len(set) == 0 {
			delete(m.idsByEntity, k.entity)
		}
	}
}

func (m *Manager) expired(storedAt time.Time) bool {
	return m.cfg.MaxAge > 0 && m.now.Now().Sub(storedAt) > m.cfg.MaxAge
}

// Get returns the cached result for fp.
func (m *Manager) Get(fp query.Fingerprint) (Result, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.queries.Get(fp)
	if ok && m.expired(e.result.StoredAt) {
		m.queries.Remove(fp)
		ok = false
	}
	if !ok {
		m.stats.QueryMisses++
		m.metrics.CacheLookup(queryCacheName, false)
		return Result{}, false
	}
	m.stats.QueryHits++
	m.metrics.CacheLookup(queryCacheName, true)
	return e.result, true
}

// Put stores value as the result of fp. ids lists the entity ids contained
// in the result so InvalidateIDs can find it later.
func (m *Manager) Put(fp query.Fingerprint, value any, ids []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.put(fp, value, ids)
}

func (m *Manager) put(fp query.Fingerprint, value any, ids []string) {
	e := &queryEntry{
		result: Result{Value: value, IDs: append([]string(nil), ids...), StoredAt: m.now.Now()},
		ids:    make(map[string]struct{}, len(ids)),
	}
	for _, id := range ids {
		e.ids[id] = struct{}{}
	}

	// replacing an entry fires the removal callback; re-index afterwards
	if m.queries.Contains(fp) {
		m.queries.Remove(fp)
	}
	if m.queries.Add(fp, e) {
		m.stats.Evictions++
		m.metrics.CacheEviction(queryCacheName)
	}
	set, ok := m.queriesByEntity[fp.Entity]
	if !ok {
		set = make(map[query.Fingerprint]struct{})
		m.queriesByEntity[fp.Entity] = set
	}
	set[fp] = struct{}{}
}

// GetEntity returns a cached entity by type and id.
func (m *Manager) GetEntity(entity, id string) (any, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := entityKey{entity: entity, id: id}
	e, ok := m.entities.Get(k)
	if ok && m.expired(e.storedAt) {
		m.entities.Remove(k)
		ok = false
	}
	if !ok {
		m.stats.EntityMisses++
		m.metrics.CacheLookup(entityCacheName, false)
		return nil, false
	}
	m.stats.EntityHits++
	m.metrics.CacheLookup(entityCacheName, true)
	return e.value, true
}

func (m *Manager) PutEntity(entity, id string, value any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.putEntity(entity, id, value)
}

// PutEntityIfUnchanged is PutIfUnchanged for the entity cache.
func (m *Manager) PutEntityIfUnchanged(entity, id string, version uint64, value any) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.versions[entity] != version {
		return false
	}
	m.putEntity(entity, id, value)
	return true
}

func (m *Manager) putEntity(entity, id string, value any) {
	k := entityKey{entity: entity, id: id}
	if m.entities.Contains(k) {
		m.entities.Remove(k)
	}
	if m.entities.Add(k, &entityEntry{value: value, storedAt: m.now.Now()}) {
		m.stats.Evictions++
		m.metrics.CacheEviction(entityCacheName)
	}
	set, ok := m.idsByEntity[entity]
	if !ok {
		set = make(map[string]struct{})
		m.idsByEntity[entity] = set
	}
	set[id] = struct{}{}
}

// Invalidate drops every query result and entity of the given type.
func (m *Manager) Invalidate(entity string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.invalidateQueries(entity) + m.invalidateEntities(entity, nil)
}

// InvalidateIDs drops the given entities and every query result that
// contains one of them.
func (m *Manager) InvalidateIDs(entity string, ids ...string) int {
	if len(ids) == 0 {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.versions[entity]++
	n := m.invalidateEntities(entity, ids)

	var stale []query.Fingerprint
	for fp := range m.queriesByEntity[entity] {
		e, ok := m.queries.Peek(fp)
		if !ok {
			continue
		}
		for _, id := range ids {
			if _, hit := e.ids[id]; hit {
				stale = append(stale, fp)
				break
			}
		}
	}
	for _, fp := range stale {
		m.queries.Remove(fp)
	}
	m.countInvalidations(queryCacheName, len(stale))
	return n + len(stale)
}

func (m *Manager) invalidateQueries(entity string) int {
	m.versions[entity]++
	set := m.queriesByEntity[entity]
	fps := make([]query.Fingerprint, 0, len(set))
	for fp := range set {
		fps = append(fps, fp)
	}
	for _, fp := range fps {
		m.queries.Remove(fp)
	}
	m.countInvalidations(queryCacheName, len(fps))
	return len(fps)
}

// invalidateEntities removes ids of entity, or all of them when ids is nil.
func (m *Manager) invalidateEntities(entity string, ids []string) int {
	if ids == nil {
		for id := range m.idsByEntity[entity] {
			ids = append(ids, id)
		}
	}
	n := 0
	for _, id := range ids {
		if m.entities.Remove(entityKey{entity: entity, id: id}) {
			n++
		}
	}
	m.countInvalidations(entityCacheName, n)
	return n
}

// Version returns the invalidation counter of entity. Read it before
// querying the store and pass it to PutIfUnchanged.
func (m *Manager) Version(entity string) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.versions[entity]
}

// PutIfUnchanged stores the result only if no write invalidated entity since
// version was read, so a read racing a commit cannot re-cache stale rows.
func (m *Manager) PutIfUnchanged(fp query.Fingerprint, version uint64, value any, ids []string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.versions[fp.Entity] != version {
		return false
	}
	m.put(fp, value, ids)
	return true
}

func (m *Manager) countInvalidations(cache string, n int) {
	m.stats.Invalidations += int64(n)
	m.metrics.CacheInvalidation(cache, n)
}

// OnCommit invalidates synchronously after a write. Query results of a
// written type are always dropped, because a write may change which rows
// match; entity entries are dropped by id when the ids are known.
func (m *Manager) OnCommit(ctx context.Context, changes []txn.Change) {
	for _, c := range changes {
		if c.All || len(c.IDs) == 0 {
			n := m.Invalidate(c.Entity)
			m.log.Debug(ctx, "cache invalidated", "entity", c.Entity, "entries", n)
			continue
		}
		m.mu.Lock()
		n := m.invalidateQueries(c.Entity) + m.invalidateEntities(c.Entity, c.IDs)
		m.mu.Unlock()
		m.log.Debug(ctx, "cache invalidated", "entity", c.Entity, "ids", len(c.IDs), "entries", n)
	}
}

// Clear empties both caches without touching the counters.
func (m *Manager) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queries.Purge()
	m.entities.Purge()
}
