package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dmitrijs2005/balli/internal/client/models"
	"github.com/dmitrijs2005/balli/internal/client/repositories/medications"
	"github.com/dmitrijs2005/balli/internal/client/repositories/readings"
	"github.com/dmitrijs2005/balli/internal/common"
	"github.com/dmitrijs2005/balli/internal/persistence"
	"github.com/dmitrijs2005/balli/internal/persistence/txn"
	"github.com/google/uuid"
)

type notePayload struct {
	Text string `json:"text"`
}

// Remember stores a memory record: remember <category> <text...>.
func (a *App) Remember(ctx context.Context, args []string) error {
	if len(args) < 2 || !models.Category(args[0]).Valid() {
		a.printf("Usage: remember facts|summaries|preferences|patterns <text>\n")
		return nil
	}
	payload, err := json.Marshal(notePayload{Text: strings.Join(args[1:], " ")})
	if err != nil {
		return err
	}
	rec, err := a.syncer.Remember(ctx, a.cfg.UserID, models.Category(args[0]), payload)
	if err != nil {
		return err
	}
	a.printf("Remembered %s\n", rec.ID)
	return nil
}

// Records lists live records of one category or of all of them.
func (a *App) Records(ctx context.Context, args []string) error {
	cats := models.Categories
	if len(args) > 0 {
		c := models.Category(args[0])
		if !c.Valid() {
			a.printf("Usage: records [category]\n")
			return nil
		}
		cats = []models.Category{c}
	}

	for _, c := range cats {
		recs, err := a.syncer.Records(ctx, a.cfg.UserID, c)
		if err != nil {
			return err
		}
		for _, r := range recs {
			mark := ""
			if !r.Synced {
				mark = " *"
			}
			a.printf("%s %-11s %s %s%s\n", r.ID, r.Category, r.LastModifiedAt.Local().Format("2006-01-02 15:04"), r.Payload, mark)
		}
	}
	return nil
}

// Forget tombstones a record so the deletion reaches the server.
func (a *App) Forget(ctx context.Context, args []string) error {
	if len(args) != 1 {
		a.printf("Usage: forget <id>\n")
		return nil
	}
	if err := a.syncer.Forget(ctx, args[0]); err != nil {
		return err
	}
	a.printf("Forgot %s\n", args[0])
	return nil
}

// Med manages the medication tracker:
//
//	med list
//	med add <name>
//	med dose <name> <units>
func (a *App) Med(ctx context.Context, args []string) error {
	if len(args) == 0 {
		args = []string{"list"}
	}
	switch {
	case args[0] == "list":
		return a.listMedications(ctx)
	case args[0] == "add" && len(args) >= 2:
		return a.addMedication(ctx, strings.Join(args[1:], " "))
	case args[0] == "dose" && len(args) == 3:
		units, err := strconv.ParseFloat(args[2], 64)
		if err != nil {
			return common.E(common.KindValidation, "med.dose", err)
		}
		return a.recordDose(ctx, args[1], units)
	}
	a.printf("Usage: med list | med add <name> | med dose <name> <units>\n")
	return nil
}

func (a *App) listMedications(ctx context.Context) error {
	meds, err := persistence.Fetch(ctx, a.store.Core, medications.UserQuery(a.cfg.UserID), persistence.CachePolicyDefault, medications.Mapper)
	if err != nil {
		return err
	}
	if len(meds) == 0 {
		a.printf("No medications\n")
		return nil
	}

	doses, err := medications.NewSQLiteRepository(a.store.DB()).ListDoses(ctx, a.cfg.UserID, a.now.Now().Add(-24*time.Hour))
	if err != nil {
		return err
	}
	total := make(map[string]float64)
	for _, d := range doses {
		total[d.MedicationID] += d.Units
	}
	for _, m := range meds {
		a.printf("%-20s %g units in 24h\n", m.Name, total[m.ID])
	}
	return nil
}

func (a *App) addMedication(ctx context.Context, name string) error {
	m := models.Medication{ID: uuid.NewString(), UserID: a.cfg.UserID, Name: name}
	err := a.store.Save(ctx, func(ctx context.Context, tx *txn.Tx) error {
		if err := readings.NewSQLiteRepository(tx.DB()).EnsureUser(ctx, m.UserID, a.now.Now()); err != nil {
			return err
		}
		tx.Touch(models.EntityUser, m.UserID)
		if err := medications.NewSQLiteRepository(tx.DB()).AddMedication(ctx, m); err != nil {
			return err
		}
		tx.Track(m)
		return nil
	})
	if err != nil {
		return err
	}
	a.printf("Added %s\n", name)
	return nil
}

func (a *App) recordDose(ctx context.Context, name string, units float64) error {
	meds, err := persistence.Fetch(ctx, a.store.Core, medications.UserQuery(a.cfg.UserID), persistence.CachePolicyDefault, medications.Mapper)
	if err != nil {
		return err
	}
	var medID string
	for _, m := range meds {
		if strings.EqualFold(m.Name, name) {
			medID = m.ID
			break
		}
	}
	if medID == "" {
		return fmt.Errorf("medication %q: %w", name, common.ErrNotFound)
	}

	d := models.MedicationDose{ID: uuid.NewString(), MedicationID: medID, UserID: a.cfg.UserID, TakenAt: a.now.Now(), Units: units}
	err = a.store.Save(ctx, func(ctx context.Context, tx *txn.Tx) error {
		tx.Track(d)
		return medications.NewSQLiteRepository(tx.DB()).RecordDose(ctx, d)
	})
	if err != nil {
		return err
	}
	a.printf("Recorded %g units of %s\n", units, name)
	return nil
}
