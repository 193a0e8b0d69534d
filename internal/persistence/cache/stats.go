package cache

import (
	"context"
	"fmt"
)

// Stats is a snapshot of the cache counters.
type Stats struct {
	QueryHits     int64
	QueryMisses   int64
	EntityHits    int64
	EntityMisses  int64
	Evictions     int64
	Invalidations int64
	QueryEntries  int
	EntityEntries int
}

func (s Stats) Lookups() int64 {
	return s.QueryHits + s.QueryMisses + s.EntityHits + s.EntityMisses
}

// HitRatio is the share of lookups served from either cache. With no
// lookups yet it is 1.
func (s Stats) HitRatio() float64 {
	total := s.Lookups()
	if total == 0 {
		return 1
	}
	return float64(s.QueryHits+s.EntityHits) / float64(total)
}

func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.stats
	s.QueryEntries = m.queries.Len()
	s.EntityEntries = m.entities.Len()
	return s
}

// HealthRatio is the overall hit ratio.
func (m *Manager) HealthRatio() float64 {
	return m.Stats().HitRatio()
}

// Recommendation is advisory output; the manager never retunes itself.
type Recommendation struct {
	Cache   string
	Message string
}

// Recommendations inspects the counters once enough lookups were seen.
func (m *Manager) Recommendations(ctx context.Context) []Recommendation {
	s := m.Stats()
	if s.Lookups() < m.cfg.MinSamples {
		return nil
	}

	var recs []Recommendation
	if ratio := s.HitRatio(); ratio < m.cfg.HitRateThreshold {
		recs = append(recs, Recommendation{
			Cache:   "all",
			Message: fmt.Sprintf("hit rate %.0f%% is below %.0f%%; review query fingerprints or raise capacities", ratio*100, m.cfg.HitRateThreshold*100),
		})
	}
	if qLookups := s.QueryHits + s.QueryMisses; qLookups >= m.cfg.MinSamples && s.QueryHits*2 < s.QueryMisses && s.Evictions > s.QueryHits {
		recs = append(recs, Recommendation{
			Cache:   queryCacheName,
			Message: fmt.Sprintf("%d evictions against %d hits; query capacity %d is too small", s.Evictions, s.QueryHits, m.cfg.QueryCapacity),
		})
	}
	if s.Invalidations > 0 && s.Invalidations > 4*(s.QueryHits+s.EntityHits) {
		recs = append(recs, Recommendation{
			Cache:   "all",
			Message: "writes invalidate entries faster than they are read; caching this workload gains little",
		})
	}

	for _, r := range recs {
		m.log.Warn(ctx, "cache recommendation", "cache", r.Cache, "message", r.Message)
	}
	return recs
}
