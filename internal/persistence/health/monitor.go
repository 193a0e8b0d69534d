package health

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dmitrijs2005/balli/internal/logging"
	"github.com/dmitrijs2005/balli/internal/metrics"
	"github.com/dmitrijs2005/balli/internal/persistence/txn"
	"github.com/dmitrijs2005/balli/internal/timex"
)

type Config struct {
	// HistorySize bounds the operation ring.
	HistorySize int
	// IssueHistorySize bounds the number of checks kept for Trend.
	IssueHistorySize int
}

func DefaultConfig() Config {
	return Config{HistorySize: 500, IssueHistorySize: 50}
}

// Operation is one recorded save or fetch.
type Operation struct {
	Kind     string
	Duration time.Duration
	Failed   bool
	At       time.Time
}

// LatencyStats summarizes the operations of one kind currently in the ring.
type LatencyStats struct {
	Kind        string
	Count       int
	Failures    int
	Mean        time.Duration
	P95         time.Duration
	Max         time.Duration
	FailureRate float64
}

// Monitor implements txn.Recorder and txn.Observer.
type Monitor struct {
	cfg       Config
	log       logging.Logger
	metrics   *metrics.Collector
	now       timex.Clock
	inspector Inspector

	mu      sync.Mutex
	ops     []Operation
	next    int
	writes  int64
	history []int
	fixers  map[IssueKind]Fixer
}

type Option func(*Monitor)

func WithMetrics(c *metrics.Collector) Option { return func(m *Monitor) { m.metrics = c } }
func WithClock(c timex.Clock) Option { return func(m *Monitor) { m.now = c } }

func New(cfg Config, inspector Inspector, log logging.Logger, opts ...Option) *Monitor {
	def := DefaultConfig()
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = def.HistorySize
	}
	if cfg.IssueHistorySize <= 0 {
		cfg.IssueHistorySize = def.IssueHistorySize
	}
	m := &Monitor{
		cfg:       cfg,
		log:       log,
		inspector: inspector,
		ops:       make([]Operation, 0, cfg.HistorySize),
		fixers:    make(map[IssueKind]Fixer),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// RegisterFixer installs the maintenance action for kind. Corrupted data
// never gets one.
func (m *Monitor) RegisterFixer(kind IssueKind, f Fixer) error {
	if kind == CorruptedData {
		return fmt.Errorf("no fixer may be registered for %s", kind)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fixers[kind] = f
	return nil
}

// RecordOperation stores the outcome of one operation, overwriting the
// oldest entry once the ring is full.
func (m *Monitor) RecordOperation(kind string, d time.Duration, err error) {
	op := Operation{Kind: kind, Duration: d, Failed: err != nil, At: m.now.Now()}

	m.mu.Lock()
	if len(m.ops) < m.cfg.HistorySize {
		m.ops = append(m.ops, op)
	} else {
		m.ops[m.next] = op
	}
	m.next = (m.next + 1) % m.cfg.HistorySize
	m.mu.Unlock()

	m.metrics.OperationObserved(kind, d, err == nil)
}

// OnCommit counts committed change sets.
func (m *Monitor) OnCommit(_ context.Context, changes []txn.Change) {
	m.mu.Lock()
	m.writes += int64(len(changes))
	m.mu.Unlock()
}

// Operations returns the ring oldest first.
func (m *Monitor) Operations() []Operation {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.operationsLocked()
}

func (m *Monitor) operationsLocked() []Operation {
	if len(m.ops) < m.cfg.HistorySize {
		return append([]Operation(nil), m.ops...)
	}
	out := make([]Operation, 0, len(m.ops))
	out = append(out, m.ops[m.next:]...)
	return append(out, m.ops[:m.next]...)
}

// Latency returns per-kind statistics ordered by kind.
func (m *Monitor) Latency() []LatencyStats {
	byKind := make(map[string][]Operation)
	for _, op := range m.Operations() {
		byKind[op.Kind] = append(byKind[op.Kind], op)
	}

	out := make([]LatencyStats, 0, len(byKind))
	for kind, ops := range byKind {
		out = append(out, summarize(kind, ops))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Kind < out[j].Kind })
	return out
}

func summarize(kind string, ops []Operation) LatencyStats {
	s := LatencyStats{Kind: kind, Count: len(ops)}
	durations := make([]time.Duration, len(ops))
	var total time.Duration
	for i, op := range ops {
		durations[i] = op.Duration
		total += op.Duration
		if op.Failed {
			s.Failures++
		}
	}
	sort.Slice(durations, func(i, j int) bool { return durations[i] < durations[j] })

	s.Mean = total / time.Duration(len(ops))
	s.Max = durations[len(durations)-1]
	idx := (len(durations)*95+99)/100 - 1
	s.P95 = durations[idx]
	s.FailureRate = float64(s.Failures) / float64(len(ops))
	return s
}

// CheckHealth runs the inspector and appends the issue count to the
// history used by Trend.
func (m *Monitor) CheckHealth(ctx context.Context) (Report, error) {
	issues, err := m.inspector.Inspect(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("inspect store: %w", err)
	}

	m.mu.Lock()
	m.history = append(m.history, len(issues))
	if len(m.history) > m.cfg.IssueHistorySize {
		m.history = m.history[len(m.history)-m.cfg.IssueHistorySize:]
	}
	writes := m.writes
	m.writes = 0
	trend := m.trendLocked()
	m.mu.Unlock()

	r := Report{
		Issues:               issues,
		IsHealthy:            len(issues) == 0,
		CheckedAt:            m.now.Now(),
		WritesSinceLastCheck: writes,
		Latency:              m.Latency(),
		Trend:                trend,
	}

	counts := make(map[string]int)
	for kind, n := range r.CountByKind() {
		counts[string(kind)] = n
	}
	m.metrics.HealthIssues(counts)

	for _, i := range issues {
		if i.Kind == CorruptedData {
			m.log.Error(ctx, "corrupted data detected", "rule", i.Rule, "table", i.Table, "count", i.Count)
			continue
		}
		m.log.Warn(ctx, "health issue detected", "kind", i.Kind, "rule", i.Rule, "table", i.Table, "count", i.Count)
	}
	return r, nil
}

// Trend compares the mean issue count of the newer half of the history
// with the older half. At least four checks are needed.
func (m *Monitor) Trend() Trend {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.trendLocked()
}

func (m *Monitor) trendLocked() Trend {
	n := len(m.history)
	if n < 4 {
		return TrendInsufficientData
	}
	older, recent := mean(m.history[:n/2]), mean(m.history[n/2:])
	switch {
	case recent < older:
		return TrendImproving
	case recent > older:
		return TrendDeclining
	default:
		return TrendStable
	}
}

func mean(xs []int) float64 {
	var sum int
	for _, x := range xs {
		sum += x
	}
	return float64(sum) / float64(len(xs))
}

// Fix is the outcome of one maintenance action.
type Fix struct {
	Issue Issue
	Rows  int64
	Err   error
}

// MaintenanceResult lists what PerformAutoMaintenance did.
type MaintenanceResult struct {
	Report Report
	Fixed  []Fix
	// Skipped holds issues left for explicit intervention: corrupted data and
	// kinds without a fixer.
	Skipped []Issue
}

// PerformAutoMaintenance checks the store and runs the fixer of every
// non-corrupted issue. Fixer failures are collected; the remaining issues
// are still attempted.
func (m *Monitor) PerformAutoMaintenance(ctx context.Context) (MaintenanceResult, error) {
	report, err := m.CheckHealth(ctx)
	if err != nil {
		return MaintenanceResult{}, err
	}
	res := MaintenanceResult{Report: report}

	var errs []error
	for _, issue := range report.Issues {
		if issue.Kind == CorruptedData {
			res.Skipped = append(res.Skipped, issue)
			continue
		}
		m.mu.Lock()
		fix, ok := m.fixers[issue.Kind]
		m.mu.Unlock()
		if !ok {
			res.Skipped = append(res.Skipped, issue)
			continue
		}

		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		n, err := fix(ctx, issue)
		res.Fixed = append(res.Fixed, Fix{Issue: issue, Rows: n, Err: err})
		if err != nil {
			m.log.Error(ctx, "maintenance failed", "kind", issue.Kind, "rule", issue.Rule, "error", err)
			errs = append(errs, fmt.Errorf("%s %s: %w", issue.Kind, issue.Rule, err))
			continue
		}
		m.log.Info(ctx, "maintenance applied", "kind", issue.Kind, "rule", issue.Rule, "rows", n)
	}
	return res, errors.Join(errs...)
}
