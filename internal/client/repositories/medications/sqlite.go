// Package medications stores the medication tracker's medications and
// doses. Doses reference their medication and repeat its owner, which the
// health monitor checks.
package medications

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dmitrijs2005/balli/internal/client/models"
	"github.com/dmitrijs2005/balli/internal/dbx"
	"github.com/dmitrijs2005/balli/internal/persistence"
	"github.com/dmitrijs2005/balli/internal/persistence/query"
	"github.com/dmitrijs2005/balli/internal/timex"
)

var Schema = query.Schema{
	Entity:  models.EntityMedication,
	Table:   "medications",
	Key:     "id",
	Columns: map[string]query.Kind{"id": query.Text, "user_id": query.Text, "name": query.Text},
}

var DoseSchema = query.Schema{
	Entity: models.EntityMedicationDose,
	Table:  "medication_doses",
	Key:    "id",
	Columns: map[string]query.Kind{
		"id": query.Text, "medication_id": query.Text, "user_id": query.Text,
		"taken_at": query.Time, "units": query.Real,
	},
}

// Mapper reads rows selected with the medication columns.
var Mapper = persistence.Mapper[models.Medication]{
	Columns: []string{"id", "user_id", "name"},
	Scan: func(rows *sql.Rows) (models.Medication, error) {
		var m models.Medication
		err := rows.Scan(&m.ID, &m.UserID, &m.Name)
		return m, err
	},
	ID: func(m models.Medication) string { return m.ID },
}

// UserQuery selects the medications of a user by name.
func UserQuery(userID string) query.Query {
	return query.Query{
		Schema: Schema,
		Where:  query.Where("user_id", query.Eq, userID),
		Sort:   []query.Sort{query.Asc("name"), query.Asc("id")},
	}
}

type SQLiteRepository struct {
	db dbx.DBTX
}

func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

func (r *SQLiteRepository) AddMedication(ctx context.Context, m models.Medication) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO medications (id, user_id, name) VALUES (?, ?, ?)`, m.ID, m.UserID, m.Name)
	if err != nil {
		return fmt.Errorf("failed to add medication: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) ListMedications(ctx context.Context, userID string) ([]models.Medication, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, user_id, name FROM medications WHERE user_id = ? ORDER BY name, id`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to select medications: %w", err)
	}
	defer rows.Close()

	var result []models.Medication
	for rows.Next() {
		var m models.Medication
		if err := rows.Scan(&m.ID, &m.UserID, &m.Name); err != nil {
			return nil, fmt.Errorf("failed to scan medication: %w", err)
		}
		result = append(result, m)
	}
	return result, rows.Err()
}

func (r *SQLiteRepository) RecordDose(ctx context.Context, d models.MedicationDose) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO medication_doses (id, medication_id, user_id, taken_at, units) VALUES (?, ?, ?, ?, ?)
	`, d.ID, d.MedicationID, d.UserID, timex.UnixMilli(d.TakenAt), d.Units)
	if err != nil {
		return fmt.Errorf("failed to record dose: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) ListDoses(ctx context.Context, userID string, since time.Time) ([]models.MedicationDose, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, medication_id, user_id, taken_at, units FROM medication_doses
		WHERE user_id = ? AND taken_at >= ? ORDER BY taken_at
	`, userID, timex.UnixMilli(since))
	if err != nil {
		return nil, fmt.Errorf("failed to select doses: %w", err)
	}
	defer rows.Close()

	var result []models.MedicationDose
	for rows.Next() {
		var d models.MedicationDose
		var taken int64
		if err := rows.Scan(&d.ID, &d.MedicationID, &d.UserID, &taken, &d.Units); err != nil {
			return nil, fmt.Errorf("failed to scan dose: %w", err)
		}
		d.TakenAt = timex.FromUnixMilli(taken)
		result = append(result, d)
	}
	return result, rows.Err()
}
