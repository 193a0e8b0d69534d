package records

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/balli/internal/client/models"
	"github.com/dmitrijs2005/balli/internal/dbx"
	"github.com/dmitrijs2005/balli/internal/persistence/query"
	"github.com/dmitrijs2005/balli/internal/timex"
)

var Schema = query.Schema{
	Entity: models.EntityMemoryRecord,
	Table:  "memory_records",
	Key:    "id",
	Columns: map[string]query.Kind{
		"id":               query.Text,
		"user_id":          query.Text,
		"category":         query.Text,
		"payload":          query.Text,
		"last_modified_at": query.Time,
		"deleted":          query.Bool,
		"synced":           query.Bool,
	},
}

var SyncStateSchema = query.Schema{
	Entity: models.EntitySyncState,
	Table:  "sync_state",
	Key:    "category",
	Columns: map[string]query.Kind{
		"user_id":        query.Text,
		"category":       query.Text,
		"last_synced_at": query.Time,
	},
}

const selectRecord = `SELECT id, user_id, category, payload, last_modified_at, deleted, synced FROM memory_records`

type SQLiteRepository struct {
	db dbx.DBTX
}

func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

func (r *SQLiteRepository) upsert(ctx context.Context, rec models.SyncableRecord, synced bool) error {
	payload := string(rec.Payload)
	if payload == "" {
		payload = "{}"
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO memory_records (id, user_id, category, payload, last_modified_at, deleted, synced)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			user_id = excluded.user_id,
			category = excluded.category,
			payload = excluded.payload,
			last_modified_at = excluded.last_modified_at,
			deleted = excluded.deleted,
			synced = excluded.synced
	`, rec.ID, rec.UserID, string(rec.Category), payload, timex.UnixMilli(rec.LastModifiedAt), rec.Deleted, synced)
	if err != nil {
		return fmt.Errorf("failed to upsert record %s: %w", rec.ID, err)
	}
	return nil
}

func (r *SQLiteRepository) Upsert(ctx context.Context, rec models.SyncableRecord) error {
	return r.upsert(ctx, rec, false)
}

func (r *SQLiteRepository) ApplyRemote(ctx context.Context, rec models.SyncableRecord) error {
	return r.upsert(ctx, rec, true)
}

func scanRecord(s interface{ Scan(...any) error }) (models.SyncableRecord, error) {
	var rec models.SyncableRecord
	var category, payload string
	var modified int64
	if err := s.Scan(&rec.ID, &rec.UserID, &category, &payload, &modified, &rec.Deleted, &rec.Synced); err != nil {
		return rec, err
	}
	rec.Category = models.Category(category)
	rec.Payload = []byte(payload)
	rec.LastModifiedAt = timex.FromUnixMilli(modified)
	return rec, nil
}

func (r *SQLiteRepository) Get(ctx context.Context, id string) (*models.SyncableRecord, error) {
	rec, err := scanRecord(r.db.QueryRowContext(ctx, selectRecord+` WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get record %s: %w", id, err)
	}
	return &rec, nil
}

func (r *SQLiteRepository) list(ctx context.Context, where query.Predicate) ([]models.SyncableRecord, error) {
	cond, args, err := where.Compile(Schema)
	if err != nil {
		return nil, err
	}
	rows, err := r.db.QueryContext(ctx, selectRecord+` WHERE `+cond+` ORDER BY last_modified_at, id`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to select records: %w", err)
	}
	defer rows.Close()

	var result []models.SyncableRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		result = append(result, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate records: %w", err)
	}
	return result, nil
}

func (r *SQLiteRepository) ListUnsynced(ctx context.Context, userID string, category models.Category) ([]models.SyncableRecord, error) {
	return r.list(ctx, query.Where("user_id", query.Eq, userID).
		And("category", query.Eq, string(category)).
		And("synced", query.Eq, false))
}

func (r *SQLiteRepository) ListByCategory(ctx context.Context, userID string, category models.Category, includeDeleted bool) ([]models.SyncableRecord, error) {
	p := query.Where("user_id", query.Eq, userID).And("category", query.Eq, string(category))
	if !includeDeleted {
		p = p.And("deleted", query.Eq, false)
	}
	return r.list(ctx, p)
}

func (r *SQLiteRepository) MarkSynced(ctx context.Context, id string, lastModifiedAt time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE memory_records SET synced = 1 WHERE id = ? AND last_modified_at = ?`,
		id, timex.UnixMilli(lastModifiedAt))
	if err != nil {
		return false, fmt.Errorf("failed to mark record %s synced: %w", id, err)
	}
	return dbx.RowsAffected(res) == 1, nil
}

func (r *SQLiteRepository) GetSyncState(ctx context.Context, userID string, category models.Category) (*models.SyncState, error) {
	var last int64
	err := r.db.QueryRowContext(ctx, `SELECT last_synced_at FROM sync_state WHERE user_id = ? AND category = ?`,
		userID, string(category)).Scan(&last)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get sync state: %w", err)
	}
	return &models.SyncState{UserID: userID, Category: category, LastSyncedAt: timex.FromUnixMilli(last)}, nil
}

func (r *SQLiteRepository) SetSyncState(ctx context.Context, s models.SyncState) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO sync_state (user_id, category, last_synced_at) VALUES (?, ?, ?)
		ON CONFLICT(user_id, category) DO UPDATE SET last_synced_at = excluded.last_synced_at
	`, s.UserID, string(s.Category), timex.UnixMilli(s.LastSyncedAt))
	if err != nil {
		return fmt.Errorf("failed to set sync state: %w", err)
	}
	return nil
}

var _ Repository = (*SQLiteRepository)(nil)
