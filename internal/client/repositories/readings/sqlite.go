package readings

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/balli/internal/client/models"
	"github.com/dmitrijs2005/balli/internal/dbx"
	"github.com/dmitrijs2005/balli/internal/persistence"
	"github.com/dmitrijs2005/balli/internal/persistence/query"
	"github.com/dmitrijs2005/balli/internal/timex"
)

// Schema describes glucose_readings for queries and batch operations.
var Schema = query.Schema{
	Entity: models.EntityGlucoseReading,
	Table:  "glucose_readings",
	Key:    "ts",
	Columns: map[string]query.Kind{
		"user_id":    query.Text,
		"ts":         query.Time,
		"source":     query.Text,
		"value":      query.Int,
		"trend":      query.Text,
		"fetched_at": query.Time,
	},
}

// QualityEventSchema describes data_quality_events.
var QualityEventSchema = query.Schema{
	Entity: models.EntityQualityEvent,
	Table:  "data_quality_events",
	Key:    "id",
	Columns: map[string]query.Kind{
		"id":          query.Int,
		"user_id":     query.Text,
		"source":      query.Text,
		"ts":          query.Time,
		"value":       query.Int,
		"reason":      query.Text,
		"detected_at": query.Time,
	},
}

// UserSchema describes users.
var UserSchema = query.Schema{
	Entity:  models.EntityUser,
	Table:   "users",
	Key:     "id",
	Columns: map[string]query.Kind{"id": query.Text, "created_at": query.Time},
}

var readingColumns = []string{"user_id", "ts", "source", "value", "trend"}

// Mapper reads rows selected with the reading columns.
var Mapper = persistence.Mapper[models.GlucoseReading]{
	Columns: readingColumns,
	Scan:    func(rows *sql.Rows) (models.GlucoseReading, error) { return scanReading(rows) },
	ID:      func(r models.GlucoseReading) string { return r.EntityID() },
}

// RangeQuery selects the readings of a user in window, oldest first.
func RangeQuery(userID string, window models.TimeRange) query.Query {
	return query.Query{
		Schema: Schema,
		Where: query.Where("user_id", query.Eq, userID).
			And("ts", query.Ge, window.Start).
			And("ts", query.Lt, window.End),
		Sort: []query.Sort{query.Asc("ts"), query.Asc("source")},
	}
}

// RecentQuery selects the newest readings of a user taken before the given
// instant, newest first.
func RecentQuery(userID string, before time.Time, limit int) query.Query {
	return query.Query{
		Schema: Schema,
		Where: query.Where("user_id", query.Eq, userID).
			And("ts", query.Lt, before),
		Sort:  []query.Sort{query.Desc("ts"), query.Asc("source")},
		Limit: limit,
	}
}

type scanner interface {
	Scan(dest ...any) error
}

func scanReading(s scanner) (models.GlucoseReading, error) {
	var r models.GlucoseReading
	var ts int64
	var source, trend string
	if err := s.Scan(&r.UserID, &ts, &source, &r.Value, &trend); err != nil {
		return r, err
	}
	r.Timestamp = timex.FromUnixMilli(ts)
	r.Source = models.Source(source)
	r.Trend = models.Trend(trend)
	return r, nil
}

type SQLiteRepository struct {
	db dbx.DBTX
}

func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

func (r *SQLiteRepository) InsertIfAbsent(ctx context.Context, g models.GlucoseReading, fetchedAt time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO glucose_readings (user_id, ts, source, value, trend, fetched_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, ts, source) DO NOTHING
	`, g.UserID, timex.UnixMilli(g.Timestamp), string(g.Source), g.Value, string(g.Trend), timex.UnixMilli(fetchedAt))
	if err != nil {
		return false, fmt.Errorf("failed to insert reading: %w", err)
	}
	return dbx.RowsAffected(res) == 1, nil
}

func (r *SQLiteRepository) ListRange(ctx context.Context, userID string, window models.TimeRange) ([]models.GlucoseReading, error) {
	return r.list(ctx, RangeQuery(userID, window))
}

func (r *SQLiteRepository) ListBySource(ctx context.Context, userID string, source models.Source, window models.TimeRange) ([]models.GlucoseReading, error) {
	q := RangeQuery(userID, window)
	q.Where = q.Where.And("source", query.Eq, string(source))
	return r.list(ctx, q)
}

func (r *SQLiteRepository) list(ctx context.Context, q query.Query) ([]models.GlucoseReading, error) {
	stmt, args, err := q.Select(readingColumns...)
	if err != nil {
		return nil, err
	}
	rows, err := r.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to select readings: %w", err)
	}
	defer rows.Close()

	var result []models.GlucoseReading
	for rows.Next() {
		g, err := scanReading(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan reading: %w", err)
		}
		result = append(result, g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate readings: %w", err)
	}
	return result, nil
}

func (r *SQLiteRepository) Latest(ctx context.Context, userID string, source models.Source) (*models.GlucoseReading, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT user_id, ts, source, value, trend FROM glucose_readings
		WHERE user_id = ? AND source = ? ORDER BY ts DESC LIMIT 1
	`, userID, string(source))
	g, err := scanReading(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest reading: %w", err)
	}
	return &g, nil
}

func (r *SQLiteRepository) InsertQualityEvent(ctx context.Context, e models.DataQualityEvent) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO data_quality_events (user_id, source, ts, value, reason, detected_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, e.UserID, string(e.Source), timex.UnixMilli(e.Timestamp), e.Value, string(e.Reason), timex.UnixMilli(e.DetectedAt))
	if err != nil {
		return fmt.Errorf("failed to insert quality event: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) ListQualityEvents(ctx context.Context, userID string, limit int) ([]models.DataQualityEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT user_id, source, ts, value, reason, detected_at FROM data_quality_events
		WHERE user_id = ? ORDER BY detected_at DESC, id DESC LIMIT ?
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to select quality events: %w", err)
	}
	defer rows.Close()

	var result []models.DataQualityEvent
	for rows.Next() {
		var e models.DataQualityEvent
		var source, reason string
		var ts, detected int64
		if err := rows.Scan(&e.UserID, &source, &ts, &e.Value, &reason, &detected); err != nil {
			return nil, fmt.Errorf("failed to scan quality event: %w", err)
		}
		e.Source = models.Source(source)
		e.Reason = models.QualityReason(reason)
		e.Timestamp = timex.FromUnixMilli(ts)
		e.DetectedAt = timex.FromUnixMilli(detected)
		result = append(result, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate quality events: %w", err)
	}
	return result, nil
}

func (r *SQLiteRepository) EnsureUser(ctx context.Context, userID string, now time.Time) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO users (id, created_at) VALUES (?, ?) ON CONFLICT(id) DO NOTHING`,
		userID, timex.UnixMilli(now))
	if err != nil {
		return fmt.Errorf("failed to ensure user %s: %w", userID, err)
	}
	return nil
}

var _ Repository = (*SQLiteRepository)(nil)
