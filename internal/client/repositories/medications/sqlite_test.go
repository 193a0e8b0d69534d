package medications

import (
	"context"
	"testing"
	"time"

	"github.com/dmitrijs2005/balli/internal/client/migrations"
	"github.com/dmitrijs2005/balli/internal/client/models"
	"github.com/dmitrijs2005/balli/internal/dbx"
	"github.com/pressly/goose/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMedicationsAndDoses(t *testing.T) {
	ctx := context.Background()
	db, err := dbx.OpenSQLite(ctx, dbx.MemoryDSN)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, dbx.Migrate(ctx, db, goose.DialectSQLite3, migrations.FS))

	r := NewSQLiteRepository(db)
	t0 := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)

	require.NoError(t, r.AddMedication(ctx, models.Medication{ID: "m2", UserID: "u1", Name: "rapid"}))
	require.NoError(t, r.AddMedication(ctx, models.Medication{ID: "m1", UserID: "u1", Name: "basal"}))
	require.Error(t, r.AddMedication(ctx, models.Medication{ID: "m1", UserID: "u1", Name: "dup"}))

	meds, err := r.ListMedications(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, meds, 2)
	assert.Equal(t, "basal", meds[0].Name)

	require.NoError(t, r.RecordDose(ctx, models.MedicationDose{ID: "d1", MedicationID: "m1", UserID: "u1", TakenAt: t0, Units: 12}))
	require.NoError(t, r.RecordDose(ctx, models.MedicationDose{ID: "d0", MedicationID: "m2", UserID: "u1", TakenAt: t0.Add(-48 * time.Hour), Units: 4}))

	doses, err := r.ListDoses(ctx, "u1", t0.Add(-time.Hour))
	require.NoError(t, err)
	require.Len(t, doses, 1)
	assert.Equal(t, 12.0, doses[0].Units)
	assert.Equal(t, t0, doses[0].TakenAt)
}
