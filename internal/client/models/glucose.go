// Package models defines the client-side data of balli: glucose readings
// from both CGM sources, the windows they are requested for, data-quality
// events, syncable memory records and stored credentials.
package models

import (
	"fmt"
	"time"

	"github.com/dmitrijs2005/balli/internal/common"
)

// Source identifies where a reading came from.
type Source string

const (
	// SourceOfficial is the regulated feed with a mandated ~3h delay.
	SourceOfficial Source = "official"
	// SourceShare is the near-real-time feed (~5 min delay).
	SourceShare Source = "share"
)

func (s Source) Valid() bool { return s == SourceOfficial || s == SourceShare }

// Physiological bounds of a CGM reading, mg/dL.
const (
	MinGlucose = 40
	MaxGlucose = 400
)

// DefaultRetention is how far back readings are accepted and kept.
const DefaultRetention = 90 * 24 * time.Hour

// Trend is a direction code. The empty value means unknown.
type Trend string

const (
	TrendNone           Trend = "none"
	TrendDoubleUp       Trend = "doubleUp"
	TrendSingleUp       Trend = "singleUp"
	TrendFortyFiveUp    Trend = "fortyFiveUp"
	TrendFlat           Trend = "flat"
	TrendFortyFiveDown  Trend = "fortyFiveDown"
	TrendSingleDown     Trend = "singleDown"
	TrendDoubleDown     Trend = "doubleDown"
	TrendNotComputable  Trend = "notComputable"
	TrendRateOutOfRange Trend = "rateOutOfRange"
)

var trendNames = map[string]Trend{
	"none": TrendNone, "doubleup": TrendDoubleUp, "singleup": TrendSingleUp,
	"fortyfiveup": TrendFortyFiveUp, "flat": TrendFlat, "fortyfivedown": TrendFortyFiveDown,
	"singledown": TrendSingleDown, "doubledown": TrendDoubleDown,
	"notcomputable": TrendNotComputable, "rateoutofrange": TrendRateOutOfRange,
}

// shareTrendCodes maps the numeric codes of the share feed.
var shareTrendCodes = []Trend{
	TrendNone, TrendDoubleUp, TrendSingleUp, TrendFortyFiveUp, TrendFlat,
	TrendFortyFiveDown, TrendSingleDown, TrendDoubleDown, TrendNotComputable, TrendRateOutOfRange,
}

// ParseTrend accepts direction names in any case ("Flat", "doubleUp",
// "FortyFiveDown"). Unknown names yield the empty trend.
func ParseTrend(s string) Trend {
	b := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c >= 'A' && c <= 'Z' {
			c += 'a' - 'A'
		}
		if c == '_' || c == ' ' {
			continue
		}
		b = append(b, c)
	}
	return trendNames[string(b)]
}

// TrendFromCode maps a share trend code (0..9).
func TrendFromCode(code int) Trend {
	if code < 0 || code >= len(shareTrendCodes) {
		return ""
	}
	return shareTrendCodes[code]
}

// GlucoseReading is one immutable CGM value. Timestamps are UTC.
type GlucoseReading struct {
	UserID    string
	Timestamp time.Time
	Value     int
	Source    Source
	Trend     Trend
}

// ReadingKey is the identity of a stored reading.
type ReadingKey struct {
	UserID    string
	Timestamp int64
	Source    Source
}

func (r GlucoseReading) Key() ReadingKey {
	return ReadingKey{UserID: r.UserID, Timestamp: r.Timestamp.UnixMilli(), Source: r.Source}
}

func (r GlucoseReading) EntityType() string { return EntityGlucoseReading }
func (r GlucoseReading) EntityID() string {
	return fmt.Sprintf("%s/%d/%s", r.UserID, r.Timestamp.UnixMilli(), r.Source)
}

// Validate checks the stored-reading invariants. It does not know the
// clock; use Check for time-dependent rules.
func (r GlucoseReading) Validate() error {
	if r.UserID == "" {
		return common.E(common.KindValidation, "reading", fmt.Errorf("missing user id"))
	}
	if !r.Source.Valid() {
		return common.E(common.KindValidation, "reading", fmt.Errorf("unknown source %q", r.Source))
	}
	if r.Value < MinGlucose || r.Value > MaxGlucose {
		return common.E(common.KindValidation, "reading", fmt.Errorf("value %d outside [%d, %d]", r.Value, MinGlucose, MaxGlucose))
	}
	return nil
}

// Check classifies r for acceptance at now. It returns the empty reason
// when the reading may be stored.
func (r GlucoseReading) Check(now time.Time, retention time.Duration) QualityReason {
	switch {
	case r.Value < MinGlucose || r.Value > MaxGlucose:
		return ReasonValueOutOfRange
	case r.Timestamp.After(now):
		return ReasonFutureTimestamp
	case retention > 0 && r.Timestamp.Before(now.Add(-retention)):
		return ReasonBeyondRetention
	case !r.Source.Valid():
		return ReasonSourceMismatch
	}
	return ""
}

// TimeRange is a half-open window [Start, End).
type TimeRange struct {
	Start time.Time
	End   time.Time
}

func (w TimeRange) Validate() error {
	if !w.Start.Before(w.End) {
		return common.E(common.KindValidation, "range", fmt.Errorf("start %s is not before end %s",
			w.Start.Format(time.RFC3339), w.End.Format(time.RFC3339)))
	}
	return nil
}

func (w TimeRange) Contains(t time.Time) bool {
	return !t.Before(w.Start) && t.Before(w.End)
}

func (w TimeRange) Duration() time.Duration { return w.End.Sub(w.Start) }

// LastHours returns the window of the given length ending at now.
func LastHours(now time.Time, hours int) TimeRange {
	return TimeRange{Start: now.Add(-time.Duration(hours) * time.Hour), End: now}
}

// QualityReason names why a reading was rejected.
type QualityReason string

const (
	ReasonValueOutOfRange QualityReason = "value_out_of_range"
	ReasonFutureTimestamp QualityReason = "future_timestamp"
	ReasonBeyondRetention QualityReason = "beyond_retention"
	ReasonUserMismatch    QualityReason = "user_mismatch"
	ReasonSourceMismatch  QualityReason = "source_mismatch"
)

// DataQualityEvent records a rejected reading for audit.
type DataQualityEvent struct {
	UserID     string
	Source     Source
	Timestamp  time.Time
	Value      int
	Reason     QualityReason
	DetectedAt time.Time
}
