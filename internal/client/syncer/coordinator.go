package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/balli/internal/client/models"
	"github.com/dmitrijs2005/balli/internal/client/repositories/readings"
	"github.com/dmitrijs2005/balli/internal/client/repositories/records"
	"github.com/dmitrijs2005/balli/internal/common"
	"github.com/dmitrijs2005/balli/internal/logging"
	"github.com/dmitrijs2005/balli/internal/metrics"
	"github.com/dmitrijs2005/balli/internal/persistence"
	"github.com/dmitrijs2005/balli/internal/persistence/txn"
	"github.com/dmitrijs2005/balli/internal/timex"
	"github.com/google/uuid"
)

type Config struct {
	Categories []models.Category
	// Timeout bounds a whole Sync run.
	Timeout time.Duration
}

func DefaultConfig() Config {
	return Config{Categories: models.Categories, Timeout: 2 * time.Minute}
}

// CategoryReport describes the outcome of one category.
type CategoryReport struct {
	Category    models.Category
	Uploaded    int
	Downloaded  int
	Created     int
	Overwritten int
	KeptLocal   int
	Rejected    int
	Err         error
}

type Report struct {
	UserID     string
	StartedAt  time.Time
	Categories []CategoryReport
}

func (r Report) Failed() []models.Category {
	var out []models.Category
	for _, c := range r.Categories {
		if c.Err != nil {
			out = append(out, c.Category)
		}
	}
	return out
}

// Coordinator runs sync passes against a Remote. It keeps no state between
// runs besides the per-category sync_state rows.
type Coordinator struct {
	remote  Remote
	core    *persistence.Core
	cfg     Config
	log     logging.Logger
	metrics *metrics.Collector
	now     timex.Clock
}

type Option func(*Coordinator)

func WithMetrics(c *metrics.Collector) Option { return func(s *Coordinator) { s.metrics = c } }
func WithClock(c timex.Clock) Option          { return func(s *Coordinator) { s.now = c } }

func NewCoordinator(remote Remote, core *persistence.Core, cfg Config, log logging.Logger, opts ...Option) *Coordinator {
	if len(cfg.Categories) == 0 {
		cfg.Categories = models.Categories
	}
	c := &Coordinator{remote: remote, core: core, cfg: cfg, log: log}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Sync runs every category in order. A failing category does not stop the
// others; all failures are joined into the returned error.
func (c *Coordinator) Sync(ctx context.Context, userID string) (Report, error) {
	rep := Report{UserID: userID, StartedAt: c.now.Now()}
	if userID == "" {
		return rep, common.E(common.KindValidation, "sync", errors.New("missing user id"))
	}
	if c.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()
	}

	var errs []error
	for _, cat := range c.cfg.Categories {
		cr, err := c.SyncCategory(ctx, userID, cat)
		if err != nil {
			cr.Err = err
			errs = append(errs, fmt.Errorf("%s: %w", cat, err))
			c.log.Error(ctx, "sync failed", "user_id", userID, "category", cat, "kind", common.KindOf(err), "error", err)
		}
		rep.Categories = append(rep.Categories, cr)
	}
	return rep, errors.Join(errs...)
}

// SyncCategory uploads local changes, then downloads and merges the
// remote set. Records are marked synced only after the server accepted
// them, and only if they were not edited again meanwhile.
func (c *Coordinator) SyncCategory(ctx context.Context, userID string, cat models.Category) (CategoryReport, error) {
	cr := CategoryReport{Category: cat}
	if !cat.Valid() {
		return cr, common.E(common.KindValidation, "sync", fmt.Errorf("unknown category %q", cat))
	}

	if err := c.upload(ctx, userID, cat, &cr); err != nil {
		return cr, err
	}

	remote, err := c.remote.Download(ctx, cat, userID)
	if err != nil {
		return cr, err
	}
	cr.Downloaded = len(remote)
	c.metrics.SyncRecords(string(cat), "down", len(remote))

	accepted := remote[:0]
	for _, rec := range remote {
		rec.LastModifiedAt = rec.LastModifiedAt.UTC().Truncate(time.Millisecond)
		if err := rec.Validate(); err != nil || rec.UserID != userID || rec.Category != cat {
			cr.Rejected++
			c.log.Warn(ctx, "remote record skipped", "id", rec.ID, "category", cat, "error", err)
			continue
		}
		accepted = append(accepted, rec)
	}

	err = c.core.Save(ctx, func(ctx context.Context, tx *txn.Tx) error {
		if len(accepted) > 0 {
			if err := ensureUser(ctx, tx, userID, c.now.Now()); err != nil {
				return err
			}
		}
		repo := records.NewSQLiteRepository(tx.DB())
		for _, rec := range accepted {
			local, err := repo.Get(ctx, rec.ID)
			if err != nil {
				return err
			}
			switch {
			case local == nil:
				cr.Created++
			case rec.NewerThan(*local):
				cr.Overwritten++
			default:
				cr.KeptLocal++
				continue
			}
			if err := repo.ApplyRemote(ctx, rec); err != nil {
				return err
			}
			tx.Track(rec)
		}
		if err := repo.SetSyncState(ctx, models.SyncState{UserID: userID, Category: cat, LastSyncedAt: c.now.Now()}); err != nil {
			return err
		}
		tx.Touch(models.EntitySyncState, userID+"/"+string(cat))
		return nil
	})
	if err != nil {
		cr.Created, cr.Overwritten, cr.KeptLocal = 0, 0, 0
		return cr, err
	}

	c.log.Info(ctx, "category synced", "user_id", userID, "category", cat,
		"uploaded", cr.Uploaded, "downloaded", cr.Downloaded, "created", cr.Created,
		"overwritten", cr.Overwritten, "kept_local", cr.KeptLocal)
	return cr, nil
}

func (c *Coordinator) upload(ctx context.Context, userID string, cat models.Category, cr *CategoryReport) error {
	pending, err := records.NewSQLiteRepository(c.core.DB()).ListUnsynced(ctx, userID, cat)
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		return nil
	}
	if err := c.remote.Upload(ctx, cat, userID, pending); err != nil {
		return err
	}
	c.metrics.SyncRecords(string(cat), "up", len(pending))

	return c.core.Save(ctx, func(ctx context.Context, tx *txn.Tx) error {
		repo := records.NewSQLiteRepository(tx.DB())
		for _, rec := range pending {
			ok, err := repo.MarkSynced(ctx, rec.ID, rec.LastModifiedAt)
			if err != nil {
				return err
			}
			if ok {
				cr.Uploaded++
				tx.Touch(models.EntityMemoryRecord, rec.ID)
			}
		}
		return nil
	})
}

// Remember stores a new local record to be uploaded by the next sync.
func (c *Coordinator) Remember(ctx context.Context, userID string, cat models.Category, payload json.RawMessage) (models.SyncableRecord, error) {
	rec := models.SyncableRecord{
		ID:             uuid.NewString(),
		UserID:         userID,
		Category:       cat,
		LastModifiedAt: c.now.Now().Truncate(time.Millisecond),
		Payload:        payload,
	}
	return rec, c.saveLocal(ctx, rec)
}

// Forget turns a record into a tombstone so the deletion syncs too.
func (c *Coordinator) Forget(ctx context.Context, id string) error {
	rec, err := records.NewSQLiteRepository(c.core.DB()).Get(ctx, id)
	if err != nil {
		return err
	}
	if rec == nil {
		return common.ErrNotFound
	}
	rec.Deleted = true
	rec.LastModifiedAt = c.now.Now().Truncate(time.Millisecond)
	return c.saveLocal(ctx, *rec)
}

func (c *Coordinator) saveLocal(ctx context.Context, rec models.SyncableRecord) error {
	return c.core.Save(ctx, func(ctx context.Context, tx *txn.Tx) error {
		if err := ensureUser(ctx, tx, rec.UserID, c.now.Now()); err != nil {
			return err
		}
		if err := records.NewSQLiteRepository(tx.DB()).Upsert(ctx, rec); err != nil {
			return err
		}
		tx.Track(rec)
		return nil
	})
}

// ensureUser creates the owner row the health rules expect for every record.
func ensureUser(ctx context.Context, tx *txn.Tx, userID string, now time.Time) error {
	if err := readings.NewSQLiteRepository(tx.DB()).EnsureUser(ctx, userID, now); err != nil {
		return err
	}
	tx.Touch(models.EntityUser, userID)
	return nil
}

// Records lists the records of a category that are not tombstoned.
func (c *Coordinator) Records(ctx context.Context, userID string, cat models.Category) ([]models.SyncableRecord, error) {
	return records.NewSQLiteRepository(c.core.DB()).ListByCategory(ctx, userID, cat, false)
}
