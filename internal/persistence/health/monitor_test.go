package health

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dmitrijs2005/balli/internal/logging"
	"github.com/dmitrijs2005/balli/internal/metrics"
	"github.com/dmitrijs2005/balli/internal/persistence/txn"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedInspector returns one issue list per call, repeating the last.
type scriptedInspector struct {
	calls  int
	counts []int
	err    error
}

func (s *scriptedInspector) Inspect(context.Context) ([]Issue, error) {
	if s.err != nil {
		return nil, s.err
	}
	n := s.counts[min(s.calls, len(s.counts)-1)]
	s.calls++
	issues := make([]Issue, n)
	for i := range issues {
		issues[i] = Issue{Kind: OrphanedData, Rule: "r", Count: 1}
	}
	return issues, nil
}

func TestRecordOperation_RingIsBounded(t *testing.T) {
	m := New(Config{HistorySize: 3}, &scriptedInspector{counts: []int{0}}, logging.Nop())

	for _, kind := range []string{"a", "b", "c", "d", "e"} {
		m.RecordOperation(kind, time.Millisecond, nil)
	}

	ops := m.Operations()
	require.Len(t, ops, 3)
	assert.Equal(t, "c", ops[0].Kind)
	assert.Equal(t, "d", ops[1].Kind)
	assert.Equal(t, "e", ops[2].Kind)
}

func TestLatency_PerKindStatistics(t *testing.T) {
	m := New(DefaultConfig(), &scriptedInspector{counts: []int{0}}, logging.Nop())
	for i := 1; i <= 20; i++ {
		var err error
		if i%5 == 0 {
			err = errors.New("disk")
		}
		m.RecordOperation("fetch", time.Duration(i)*time.Millisecond, err)
	}
	m.RecordOperation("save", 3*time.Millisecond, nil)

	stats := m.Latency()
	require.Len(t, stats, 2)

	fetch := stats[0]
	assert.Equal(t, "fetch", fetch.Kind)
	assert.Equal(t, 20, fetch.Count)
	assert.Equal(t, 4, fetch.Failures)
	assert.InDelta(t, 0.2, fetch.FailureRate, 1e-9)
	assert.Equal(t, 10500*time.Microsecond, fetch.Mean)
	assert.Equal(t, 19*time.Millisecond, fetch.P95)
	assert.Equal(t, 20*time.Millisecond, fetch.Max)

	assert.Equal(t, "save", stats[1].Kind)
	assert.Equal(t, 3*time.Millisecond, stats[1].P95)
}

func TestTrend(t *testing.T) {
	tests := []struct {
		name   string
		counts []int
		want   Trend
	}{
		{"too few checks", []int{3, 1, 0}, TrendInsufficientData},
		{"fewer issues lately", []int{5, 5, 1, 1}, TrendImproving},
		{"more issues lately", []int{0, 1, 3, 3}, TrendDeclining},
		{"flat", []int{2, 2, 2, 2}, TrendStable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := New(DefaultConfig(), &scriptedInspector{counts: tt.counts}, logging.Nop())
			var last Report
			for range tt.counts {
				r, err := m.CheckHealth(context.Background())
				require.NoError(t, err)
				last = r
			}
			assert.Equal(t, tt.want, m.Trend())
			assert.Equal(t, tt.want, last.Trend)
		})
	}
}

func TestTrend_HistoryIsBounded(t *testing.T) {
	// старые проверки с большим числом проблем вытесняются из истории
	m := New(Config{IssueHistorySize: 4}, &scriptedInspector{counts: []int{9, 9, 9, 1, 1, 1, 1}}, logging.Nop())
	for i := 0; i < 7; i++ {
		_, err := m.CheckHealth(context.Background())
		require.NoError(t, err)
	}
	assert.Equal(t, TrendStable, m.Trend())
}

func TestCheckHealth_InspectorError(t *testing.T) {
	boom := errors.New("locked")
	m := New(DefaultConfig(), &scriptedInspector{err: boom}, logging.Nop())
	_, err := m.CheckHealth(context.Background())
	require.ErrorIs(t, err, boom)
}

func TestCheckHealth_CountsWritesAndPublishesMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	col := metrics.NewCollector(reg)
	m := New(DefaultConfig(), &scriptedInspector{counts: []int{2}}, logging.Nop(), WithMetrics(col))

	m.OnCommit(context.Background(), []txn.Change{{Entity: "a"}, {Entity: "b"}})
	m.OnCommit(context.Background(), []txn.Change{{Entity: "a"}})

	r, err := m.CheckHealth(context.Background())
	require.NoError(t, err)
	assert.False(t, r.IsHealthy)
	assert.Equal(t, int64(3), r.WritesSinceLastCheck)
	assert.Equal(t, map[IssueKind]int{OrphanedData: 2}, r.CountByKind())

	r, err = m.CheckHealth(context.Background())
	require.NoError(t, err)
	assert.Zero(t, r.WritesSinceLastCheck)

	n, err := testutil.GatherAndCount(reg, "balli_health_issues")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestRegisterFixer_RefusesCorruptedData(t *testing.T) {
	m := New(DefaultConfig(), &scriptedInspector{counts: []int{0}}, logging.Nop())
	err := m.RegisterFixer(CorruptedData, func(context.Context, Issue) (int64, error) { return 0, nil })
	require.Error(t, err)
	require.NoError(t, m.RegisterFixer(OrphanedData, func(context.Context, Issue) (int64, error) { return 0, nil }))
}

func TestPerformAutoMaintenance_CollectsFixerErrors(t *testing.T) {
	m := New(DefaultConfig(), &scriptedInspector{counts: []int{2}}, logging.Nop())
	calls := 0
	require.NoError(t, m.RegisterFixer(OrphanedData, func(context.Context, Issue) (int64, error) {
		calls++
		if calls == 1 {
			return 0, errors.New("busy")
		}
		return 4, nil
	}))

	res, err := m.PerformAutoMaintenance(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "busy")
	assert.Equal(t, 2, calls, "a failing fixer does not stop the others")
	require.Len(t, res.Fixed, 2)
	assert.Equal(t, int64(4), res.Fixed[1].Rows)
}
