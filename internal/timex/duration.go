// Package timex holds time helpers shared by the config loaders and the
// persistence layer.
package timex

import (
	"encoding/json"
	"errors"
	"time"
)

// Duration wraps time.Duration so JSON config can use "15m" strings or
// integer nanoseconds.
type Duration struct {
	time.Duration
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch value := v.(type) {
	case float64:
		d.Duration = time.Duration(value)
		return nil
	case string:
		var err error
		d.Duration, err = time.ParseDuration(value)
		return err
	default:
		return errors.New("invalid duration")
	}
}

// UnixMilli converts t to the millisecond timestamps stored in SQLite.
func UnixMilli(t time.Time) int64 {
	return t.UTC().UnixMilli()
}

// FromUnixMilli is the inverse of UnixMilli and always returns UTC.
func FromUnixMilli(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

// Clock abstracts time.Now for components whose behaviour depends on the
// current instant (validation windows, token expiry, staleness).
type Clock func() time.Time

// Now returns the current instant in UTC, falling back to time.Now when c is nil.
func (c Clock) Now() time.Time {
	if c == nil {
		return time.Now().UTC()
	}
	return c().UTC()
}
