// Package reconcile stitches the delayed official feed and the near-real-time
// share feed into one ordered series. Reconcile is the pure merge; Engine
// fetches both sources, persists what they returned and falls back to the
// stored series when nothing fresh is available.
package reconcile

import (
	"sort"
	"time"

	"github.com/dmitrijs2005/balli/internal/client/models"
)

// Mode tells which sources contributed to a series.
type Mode string

const (
	ModeMerged      Mode = "merged"
	ModeDelayedOnly Mode = "delayedOnly"
	ModeShareOnly   Mode = "shareOnly"
	ModeNoData      Mode = "noData"
)

const (
	DefaultTolerance    = 5
	DefaultGapThreshold = 15 * time.Minute
	bucketSize          = time.Minute
)

type Options struct {
	// UserID, when set, rejects readings of other users.
	UserID string
	// Tolerance is the largest value difference, in mg/dL, at which an
	// official reading is considered to agree with the share reading of the
	// same minute.
	Tolerance int
	// GapThreshold is the longest interval between consecutive minutes that
	// is not flagged as a gap.
	GapThreshold time.Duration
	// Retention rejects readings older than Now-Retention; zero disables it.
	Retention time.Duration
	Now       time.Time
}

func (o Options) withDefaults() Options {
	if o.Tolerance < 0 {
		o.Tolerance = 0
	}
	if o.GapThreshold <= 0 {
		o.GapThreshold = DefaultGapThreshold
	}
	if o.Now.IsZero() {
		o.Now = time.Now().UTC()
	}
	return o
}

// Point is one entry of a series. Two points share a minute only when the
// sources disagree; both then carry Disagreement and the share point comes
// first.
type Point struct {
	models.GlucoseReading
	Disagreement bool
	// GapBefore marks a gap between the previous minute and this one.
	GapBefore bool
}

// Gap is an interval without readings longer than the threshold. Values
// inside it are never synthesized.
type Gap struct {
	Start time.Time
	End   time.Time
}

func (g Gap) Duration() time.Duration { return g.End.Sub(g.Start) }

// Series is a reconciled view of a window.
type Series struct {
	UserID   string
	Window   models.TimeRange
	Mode     Mode
	Points   []Point
	Gaps     []Gap
	Rejected []models.DataQualityEvent
	// Stale is set when the points come from storage because no source
	// delivered fresh data.
	Stale bool
	// Errors holds per-source fetch failures.
	Errors map[models.Source]error

	// accepted are the valid readings of both feeds, one per source and
	// minute, including official ones hidden behind an agreeing share point.
	accepted []models.GlucoseReading
}

// Readings returns the points as plain readings.
func (s Series) Readings() []models.GlucoseReading {
	out := make([]models.GlucoseReading, len(s.Points))
	for i, p := range s.Points {
		out[i] = p.GlucoseReading
	}
	return out
}

func (s Series) Disagreements() int {
	n := 0
	for _, p := range s.Points {
		if p.Disagreement && p.Source == models.SourceOfficial {
			n++
		}
	}
	return n
}

// Latest returns the newest point, or false for an empty series.
func (s Series) Latest() (Point, bool) {
	if len(s.Points) == 0 {
		return Point{}, false
	}
	latest := s.Points[len(s.Points)-1]
	if latest.Disagreement && len(s.Points) > 1 {
		// the share point of the same minute is the authoritative one
		prev := s.Points[len(s.Points)-2]
		if bucketOf(prev.Timestamp).Equal(bucketOf(latest.Timestamp)) {
			return prev, true
		}
	}
	return latest, true
}

// Reconcile merges both feeds for window. Readings outside the window are
// ignored; invalid readings are left out and returned as quality events.
// The result depends only on its inputs.
func Reconcile(official, share []models.GlucoseReading, window models.TimeRange, opts Options) Series {
	opts = opts.withDefaults()
	s := Series{UserID: opts.UserID, Window: window}

	off, rejected := accept(official, models.SourceOfficial, window, opts)
	s.Rejected = append(s.Rejected, rejected...)
	sh, rejected := accept(share, models.SourceShare, window, opts)
	s.Rejected = append(s.Rejected, rejected...)

	switch {
	case len(off) == 0 && len(sh) == 0:
		s.Mode = ModeNoData
		return s
	case len(sh) == 0:
		s.Mode = ModeDelayedOnly
	case len(off) == 0:
		s.Mode = ModeShareOnly
	default:
		s.Mode = ModeMerged
	}

	s.accepted = flatten(off, sh)
	s.Points = merge(off, sh, opts.Tolerance)
	s.Gaps = markGaps(s.Points, opts.GapThreshold)
	return s
}

// accept filters one feed and collapses it to one reading per minute,
// keeping the earliest reading of each minute.
func accept(in []models.GlucoseReading, source models.Source, window models.TimeRange, opts Options) (map[time.Time]models.GlucoseReading, []models.DataQualityEvent) {
	sorted := append([]models.GlucoseReading(nil), in...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if !sorted[i].Timestamp.Equal(sorted[j].Timestamp) {
			return sorted[i].Timestamp.Before(sorted[j].Timestamp)
		}
		return sorted[i].Value < sorted[j].Value
	})

	out := make(map[time.Time]models.GlucoseReading, len(sorted))
	var rejected []models.DataQualityEvent
	for _, r := range sorted {
		r.Timestamp = r.Timestamp.UTC()
		if !window.Contains(r.Timestamp) {
			continue
		}
		reason := r.Check(opts.Now, opts.Retention)
		switch {
		case reason != "":
		case r.Source != source:
			reason = models.ReasonSourceMismatch
		case opts.UserID != "" && r.UserID != opts.UserID:
			reason = models.ReasonUserMismatch
		}
		if reason != "" {
			rejected = append(rejected, models.DataQualityEvent{
				UserID:     r.UserID,
				Source:     source,
				Timestamp:  r.Timestamp,
				Value:      r.Value,
				Reason:     reason,
				DetectedAt: opts.Now,
			})
			continue
		}
		b := bucketOf(r.Timestamp)
		if _, dup := out[b]; !dup {
			out[b] = r
		}
	}
	return out, rejected
}

func flatten(feeds ...map[time.Time]models.GlucoseReading) []models.GlucoseReading {
	var out []models.GlucoseReading
	for _, f := range feeds {
		for _, r := range f {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.Before(out[j].Timestamp)
		}
		return out[i].Source < out[j].Source
	})
	return out
}

func bucketOf(t time.Time) time.Time { return t.Round(bucketSize) }

func merge(official, share map[time.Time]models.GlucoseReading, tolerance int) []Point {
	buckets := make([]time.Time, 0, len(official)+len(share))
	for b := range official {
		buckets = append(buckets, b)
	}
	for b := range share {
		if _, ok := official[b]; !ok {
			buckets = append(buckets, b)
		}
	}
	sort.Slice(buckets, func(i, j int) bool { return buckets[i].Before(buckets[j]) })

	points := make([]Point, 0, len(buckets))
	for _, b := range buckets {
		o, hasOff := official[b]
		s, hasShare := share[b]
		switch {
		case hasShare && hasOff && abs(o.Value-s.Value) > tolerance:
			points = append(points, Point{GlucoseReading: s, Disagreement: true}, Point{GlucoseReading: o, Disagreement: true})
		case hasShare:
			points = append(points, Point{GlucoseReading: s})
		default:
			points = append(points, Point{GlucoseReading: o})
		}
	}
	return points
}

// markGaps compares each minute with the previous one. The second point of
// a disagreement pair shares its minute and never starts a gap.
func markGaps(points []Point, threshold time.Duration) []Gap {
	var gaps []Gap
	for i := 1; i < len(points); i++ {
		prev, cur := points[i-1], points[i]
		if bucketOf(prev.Timestamp).Equal(bucketOf(cur.Timestamp)) {
			continue
		}
		if cur.Timestamp.Sub(prev.Timestamp) > threshold {
			points[i].GapBefore = true
			gaps = append(gaps, Gap{Start: prev.Timestamp, End: cur.Timestamp})
		}
	}
	return gaps
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
