package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/dmitrijs2005/balli/internal/common"
)

// Entity types of the local store.
const (
	EntityGlucoseReading = "glucoseReading"
	EntityQualityEvent   = "dataQualityEvent"
	EntityMemoryRecord   = "memoryRecord"
	EntityUser           = "user"
	EntityMedication     = "medication"
	EntityMedicationDose = "medicationDose"
	EntitySyncState      = "syncState"
	EntityMetadata       = "metadata"
)

// Category is a kind of syncable memory record.
type Category string

const (
	CategoryFacts       Category = "facts"
	CategorySummaries   Category = "summaries"
	CategoryPreferences Category = "preferences"
	CategoryPatterns    Category = "patterns"
)

// Categories lists every category in sync order.
var Categories = []Category{CategoryFacts, CategorySummaries, CategoryPreferences, CategoryPatterns}

func (c Category) Valid() bool {
	for _, x := range Categories {
		if x == c {
			return true
		}
	}
	return false
}

// Path is the capitalized suffix of the sync endpoints: /syncFacts.
func (c Category) Path() string {
	if c == "" {
		return ""
	}
	s := string(c)
	return string(s[0]-('a'-'A')) + s[1:]
}

// SyncableRecord is a memory record kept in step with the remote store by
// last-write-wins on LastModifiedAt. Deleted marks a tombstone.
type SyncableRecord struct {
	ID             string          `json:"id"`
	UserID         string          `json:"userId"`
	Category       Category        `json:"category"`
	LastModifiedAt time.Time       `json:"lastModifiedAt"`
	Payload        json.RawMessage `json:"payload"`
	Deleted        bool            `json:"deleted,omitempty"`
	Synced         bool            `json:"-"`
}

func (r SyncableRecord) EntityType() string { return EntityMemoryRecord }
func (r SyncableRecord) EntityID() string { return r.ID }

func (r SyncableRecord) Validate() error {
	switch {
	case r.ID == "":
		return common.E(common.KindValidation, "record", fmt.Errorf("missing id"))
	case r.UserID == "":
		return common.E(common.KindValidation, "record", fmt.Errorf("%s: missing user id", r.ID))
	case !r.Category.Valid():
		return common.E(common.KindValidation, "record", fmt.Errorf("%s: unknown category %q", r.ID, r.Category))
	case r.LastModifiedAt.IsZero():
		return common.E(common.KindValidation, "record", fmt.Errorf("%s: missing lastModifiedAt", r.ID))
	case len(r.Payload) > 0 && !json.Valid(r.Payload):
		return common.E(common.KindValidation, "record", fmt.Errorf("%s: payload is not valid JSON", r.ID))
	}
	return nil
}

// NewerThan reports whether r wins a last-write-wins comparison against
// other. Equal timestamps do not win.
func (r SyncableRecord) NewerThan(other SyncableRecord) bool {
	return r.LastModifiedAt.After(other.LastModifiedAt)
}

// SyncState remembers the last successful sync per category.
type SyncState struct {
	UserID       string
	Category     Category
	LastSyncedAt time.Time
}

// Medication is a drug tracked by the user.
type Medication struct {
	ID     string
	UserID string
	Name   string
}

func (m Medication) EntityType() string { return EntityMedication }
func (m Medication) EntityID() string { return m.ID }

// MedicationDose is one intake. UserID must match the medication's owner.
type MedicationDose struct {
	ID           string
	MedicationID string
	UserID       string
	TakenAt      time.Time
	Units        float64
}

func (d MedicationDose) EntityType() string { return EntityMedicationDose }
func (d MedicationDose) EntityID() string { return d.ID }

func (d MedicationDose) Validate() error {
	if d.Units <= 0 {
		return common.E(common.KindValidation, "dose", fmt.Errorf("%s: units must be positive, got %v", d.ID, d.Units))
	}
	return nil
}
