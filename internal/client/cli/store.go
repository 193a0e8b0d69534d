package cli

import (
	"context"
)

// Health runs an integrity check and prints what it found.
func (a *App) Health(ctx context.Context) error {
	r, err := a.store.GetDataHealth(ctx)
	if err != nil {
		return err
	}

	state := "healthy"
	if !r.IsHealthy {
		state = "unhealthy"
	}
	a.printf("Store is %s (trend %s, %d writes since last check)\n", state, r.Trend, r.WritesSinceLastCheck)
	for _, i := range r.Issues {
		a.printf("  %-24s %-28s %5d %s\n", i.Kind, i.Rule, i.Count, i.Detail)
	}
	for _, l := range r.Latency {
		a.printf("  %-10s n=%d mean=%s p95=%s max=%s failures=%.0f%%\n", l.Kind, l.Count, l.Mean, l.P95, l.Max, l.FailureRate*100)
	}
	return nil
}

// Maintain fixes what the health monitor can fix on its own.
func (a *App) Maintain(ctx context.Context) error {
	res, err := a.store.Maintain(ctx)
	for _, f := range res.Fixed {
		if f.Err != nil {
			a.printf("  %s: %v\n", f.Issue.Rule, f.Err)
			continue
		}
		a.printf("  %s: %d rows\n", f.Issue.Rule, f.Rows)
	}
	for _, i := range res.Skipped {
		a.printf("  %s skipped (%s)\n", i.Rule, i.Kind)
	}
	if err != nil {
		return err
	}
	a.printf("Maintenance done: %d fixed, %d skipped\n", len(res.Fixed), len(res.Skipped))
	return nil
}

// Cache prints cache counters and recommendations.
func (a *App) Cache(ctx context.Context) error {
	c := a.store.Cache
	s := c.Stats()
	a.printf("Queries: %d hits, %d misses, %d entries\n", s.QueryHits, s.QueryMisses, s.QueryEntries)
	a.printf("Entities: %d hits, %d misses, %d entries\n", s.EntityHits, s.EntityMisses, s.EntityEntries)
	a.printf("Hit ratio %.2f, health %.2f, %d evictions, %d invalidations\n", s.HitRatio(), c.HealthRatio(), s.Evictions, s.Invalidations)
	for _, r := range c.Recommendations(ctx) {
		a.printf("  %s: %s\n", r.Cache, r.Message)
	}
	return nil
}
