// Package store opens the local database of the client and assembles the
// persistence core around it: migrations, entity schemas, integrity rules
// and maintenance fixers.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/dmitrijs2005/balli/internal/client/migrations"
	"github.com/dmitrijs2005/balli/internal/client/models"
	"github.com/dmitrijs2005/balli/internal/client/repositories/medications"
	"github.com/dmitrijs2005/balli/internal/client/repositories/readings"
	"github.com/dmitrijs2005/balli/internal/client/repositories/records"
	"github.com/dmitrijs2005/balli/internal/dbx"
	"github.com/dmitrijs2005/balli/internal/filex"
	"github.com/dmitrijs2005/balli/internal/logging"
	"github.com/dmitrijs2005/balli/internal/persistence"
	"github.com/dmitrijs2005/balli/internal/persistence/health"
	"github.com/dmitrijs2005/balli/internal/persistence/txn"
	"github.com/dmitrijs2005/balli/internal/timex"
	"github.com/pressly/goose/v3"
)

type Config struct {
	Path        string
	Persistence persistence.Config
	Retention   time.Duration
	// MaxReadings and MaxBytes raise excessiveSize issues; zero disables.
	MaxReadings int64
	MaxBytes    int64
}

func DefaultConfig() Config {
	return Config{
		Path:        dbx.MemoryDSN,
		Persistence: persistence.DefaultConfig(),
		Retention:   models.DefaultRetention,
		MaxReadings: 200_000,
		MaxBytes:    256 << 20,
	}
}

// Store is the persistence core of the client bound to its database.
type Store struct {
	*persistence.Core
}

// Registry lists every entity of the local store.
func Registry() *persistence.Registry {
	return persistence.NewRegistry(
		readings.Schema, readings.QualityEventSchema, readings.UserSchema,
		records.Schema, records.SyncStateSchema,
		medications.Schema, medications.DoseSchema,
	)
}

// Rules is the integrity configuration checked by the health monitor.
func Rules(cfg Config) health.Rules {
	return health.Rules{
		Relations: []health.Relation{
			{Name: "readings_user", Entity: models.EntityGlucoseReading,
				Child: "glucose_readings", ChildKey: "user_id", Parent: "users", ParentKey: "id"},
			{Name: "records_user", Entity: models.EntityMemoryRecord,
				Child: "memory_records", ChildKey: "user_id", Parent: "users", ParentKey: "id"},
			{Name: "quality_events_user", Entity: models.EntityQualityEvent,
				Child: "data_quality_events", ChildKey: "user_id", Parent: "users", ParentKey: "id"},
			{Name: "doses_medication", Entity: models.EntityMedicationDose,
				Child: "medication_doses", ChildKey: "medication_id", Parent: "medications", ParentKey: "id"},
		},
		Consistency: []health.Consistency{
			{Name: "doses_owner", Entity: models.EntityMedicationDose,
				Child: "medication_doses", ChildKey: "medication_id", ChildOwner: "user_id",
				Parent: "medications", ParentKey: "id", ParentOwner: "user_id"},
		},
		Corruption: []health.CorruptionRule{
			{Name: "reading_value_range", Table: "glucose_readings",
				Condition: fmt.Sprintf("value < %d OR value > %d", models.MinGlucose, models.MaxGlucose)},
			{Name: "reading_source", Table: "glucose_readings",
				Condition: fmt.Sprintf("source NOT IN ('%s', '%s')", models.SourceOfficial, models.SourceShare)},
			{Name: "record_payload_json", Table: "memory_records", Condition: "json_valid(payload) = 0"},
		},
		Sizes: []health.SizeLimit{
			{Table: "glucose_readings", MaxRows: cfg.MaxReadings},
		},
		MaxBytes: cfg.MaxBytes,
	}
}

// Open opens (creating when needed) and migrates the database at cfg.Path
// and wires the persistence core.
func Open(ctx context.Context, cfg Config, log logging.Logger, clock timex.Clock, opts ...persistence.Option) (*Store, error) {
	path, err := filex.EnsureParentDir(cfg.Path)
	if err != nil {
		return nil, err
	}
	db, err := dbx.OpenSQLite(ctx, path)
	if err != nil {
		return nil, err
	}
	if err := dbx.Migrate(ctx, db, goose.DialectSQLite3, migrations.FS); err != nil {
		_ = db.Close()
		return nil, err
	}

	rules := Rules(cfg)
	opts = append(opts, persistence.WithClock(clock))
	core, err := persistence.NewCore(db, cfg.Persistence, Registry(), rules, log, opts...)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	fixers := map[health.IssueKind]health.Fixer{
		health.OrphanedData:             health.OrphanCleanup(core.Tx, rules.Relations),
		health.InconsistentRelationship: health.RelationshipRepair(core.Tx, rules.Consistency),
		health.ExcessiveSize: health.SizeReduction(core.Tx, []health.Retention{
			{Schema: readings.Schema, Column: "ts"},
			{Schema: readings.QualityEventSchema, Column: "detected_at"},
		}, cfg.Retention, clock),
	}
	for kind, f := range fixers {
		if err := core.Health.RegisterFixer(kind, f); err != nil {
			_ = db.Close()
			return nil, err
		}
	}

	core.Tx.RegisterValidator(models.EntityGlucoseReading, func(e txn.Entity) error {
		r, ok := e.(models.GlucoseReading)
		if !ok {
			return nil
		}
		if reason := r.Check(clock.Now(), cfg.Retention); reason != "" {
			return fmt.Errorf("reading %s rejected: %s", r.EntityID(), reason)
		}
		return nil
	})

	return &Store{Core: core}, nil
}

func (s *Store) Close() error { return s.DB().Close() }
