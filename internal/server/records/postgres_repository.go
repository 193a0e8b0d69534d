package records

import (
	"context"
	"fmt"

	"github.com/dmitrijs2005/balli/internal/dbx"
	"github.com/dmitrijs2005/balli/internal/server/models"
)

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Upsert(ctx context.Context, rec models.Record) (bool, error) {
	query :=
		`INSERT INTO records (id, user_id, category, last_modified_at, payload, deleted)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (id) DO UPDATE SET
		     category = EXCLUDED.category,
		     last_modified_at = EXCLUDED.last_modified_at,
		     payload = EXCLUDED.payload,
		     deleted = EXCLUDED.deleted,
		     received_at = now()
		 WHERE records.user_id = EXCLUDED.user_id
		   AND records.last_modified_at < EXCLUDED.last_modified_at
		 `

	var payload any
	if len(rec.Payload) > 0 {
		payload = []byte(rec.Payload)
	}
	res, err := r.db.ExecContext(ctx, query,
		rec.ID, rec.UserID, string(rec.Category), rec.LastModifiedAt.UTC(), payload, rec.Deleted)
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	return dbx.RowsAffected(res) > 0, nil
}

func (r *PostgresRepository) List(ctx context.Context, userID string, category models.Category) ([]models.Record, error) {
	query :=
		`SELECT id, user_id, category, last_modified_at, payload, deleted FROM records
		 WHERE user_id = $1 AND category = $2
		 ORDER BY last_modified_at, id
		 `

	rows, err := r.db.QueryContext(ctx, query, userID, string(category))
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	result := make([]models.Record, 0)
	for rows.Next() {
		var rec models.Record
		var cat string
		var payload []byte
		if err := rows.Scan(&rec.ID, &rec.UserID, &cat, &rec.LastModifiedAt, &payload, &rec.Deleted); err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		rec.Category = models.Category(cat)
		rec.LastModifiedAt = rec.LastModifiedAt.UTC()
		rec.Payload = payload
		result = append(result, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return result, nil
}
