// Package health watches the local store: latency and outcome of every
// save and fetch in a bounded ring, integrity checks on demand and
// maintenance for the issues that are safe to fix. Nothing here runs on a
// timer; callers decide when to check.
package health

import (
	"context"
	"time"
)

// IssueKind classifies an integrity problem.
type IssueKind string

const (
	OrphanedData             IssueKind = "orphanedData"
	InconsistentRelationship IssueKind = "inconsistentRelationship"
	CorruptedData            IssueKind = "corruptedData"
	ExcessiveSize            IssueKind = "excessiveSize"
)

// Issue is one finding of an inspection. Rule names the relation, rule or
// limit that produced it; Count is the number of offending rows (or bytes
// for a database size issue).
type Issue struct {
	Kind   IssueKind
	Rule   string
	Table  string
	Count  int64
	Detail string
}

// Report is the result of CheckHealth.
type Report struct {
	Issues    []Issue
	IsHealthy bool
	CheckedAt time.Time

	// WritesSinceLastCheck counts committed change sets observed since the
	// previous check.
	WritesSinceLastCheck int64
	Latency              []LatencyStats
	Trend                Trend
}

// CountByKind groups the issues of r.
func (r Report) CountByKind() map[IssueKind]int {
	out := make(map[IssueKind]int)
	for _, i := range r.Issues {
		out[i.Kind]++
	}
	return out
}

// Inspector finds integrity issues in a store.
type Inspector interface {
	Inspect(ctx context.Context) ([]Issue, error)
}

// Fixer resolves one issue and reports how many rows it touched.
type Fixer func(ctx context.Context, issue Issue) (int64, error)

// Trend classifies how issue counts develop over recent checks.
type Trend string

const (
	TrendImproving        Trend = "improving"
	TrendStable           Trend = "stable"
	TrendDeclining        Trend = "declining"
	TrendInsufficientData Trend = "insufficientData"
)
