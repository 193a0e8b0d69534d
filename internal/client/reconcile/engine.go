package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/balli/internal/client/models"
	"github.com/dmitrijs2005/balli/internal/client/repositories/readings"
	"github.com/dmitrijs2005/balli/internal/client/sources"
	"github.com/dmitrijs2005/balli/internal/common"
	"github.com/dmitrijs2005/balli/internal/dbx"
	"github.com/dmitrijs2005/balli/internal/logging"
	"github.com/dmitrijs2005/balli/internal/metrics"
	"github.com/dmitrijs2005/balli/internal/persistence"
	"github.com/dmitrijs2005/balli/internal/persistence/txn"
	"github.com/dmitrijs2005/balli/internal/timex"
	"golang.org/x/sync/errgroup"
)

type Config struct {
	Tolerance    int
	GapThreshold time.Duration
	Retention    time.Duration
	// FetchTimeout bounds both source fetches together.
	FetchTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		Tolerance:    DefaultTolerance,
		GapThreshold: DefaultGapThreshold,
		Retention:    models.DefaultRetention,
		FetchTimeout: 30 * time.Second,
	}
}

var errNotConfigured = errors.New("source not configured")

// Engine fetches, validates, merges and stores glucose readings.
type Engine struct {
	official sources.Adapter
	share    sources.Adapter
	core     *persistence.Core
	cfg      Config
	log      logging.Logger
	metrics  *metrics.Collector
	now      timex.Clock
}

type Option func(*Engine)

func WithMetrics(c *metrics.Collector) Option { return func(e *Engine) { e.metrics = c } }
func WithClock(c timex.Clock) Option          { return func(e *Engine) { e.now = c } }

// NewEngine builds an engine. Either adapter may be nil when that source is
// not set up; it then counts as failed on every fetch.
func NewEngine(official, share sources.Adapter, core *persistence.Core, cfg Config, log logging.Logger, opts ...Option) *Engine {
	e := &Engine{official: official, share: share, core: core, cfg: cfg, log: log}
	for _, o := range opts {
		o(e)
	}
	return e
}

func (e *Engine) options(userID string) Options {
	return Options{
		UserID:       userID,
		Tolerance:    e.cfg.Tolerance,
		GapThreshold: e.cfg.GapThreshold,
		Retention:    e.cfg.Retention,
		Now:          e.now.Now(),
	}
}

// Fetch polls both sources concurrently for window and returns the merged
// series. A failing source never blocks the other. When neither source
// delivers readings, the stored series of the window is returned with
// Stale set; if the window holds nothing stored, the last known readings
// before its end are served instead. The returned error is only non-nil for invalid input or a
// failure to read storage.
func (e *Engine) Fetch(ctx context.Context, userID string, window models.TimeRange) (Series, error) {
	if userID == "" {
		return Series{}, common.E(common.KindValidation, "reconcile.fetch", errors.New("missing user id"))
	}
	if err := window.Validate(); err != nil {
		return Series{}, err
	}

	official, share, errs := e.poll(ctx, userID, window)
	series := Reconcile(official, share, window, e.options(userID))
	series.Errors = errs

	for _, ev := range series.Rejected {
		e.metrics.QualityEvent(string(ev.Reason))
		e.log.Warn(ctx, "reading rejected", "user_id", ev.UserID, "source", ev.Source,
			"ts", ev.Timestamp, "value", ev.Value, "reason", ev.Reason)
	}

	if len(official)+len(share) > 0 {
		if err := e.persist(ctx, userID, series); err != nil {
			// storage trouble must not hide fresh readings
			e.log.Error(ctx, "failed to store readings", "user_id", userID, "error", err)
		}
	}

	if series.Mode != ModeNoData {
		return series, nil
	}

	stored, err := e.Stored(ctx, userID, window)
	if err != nil {
		return series, err
	}
	if len(stored.Points) == 0 {
		if stored, err = e.lastKnown(ctx, userID, window); err != nil {
			return series, err
		}
	}
	stored.Rejected = series.Rejected
	stored.Errors = errs
	stored.Mode = ModeNoData
	stored.Stale = true
	e.log.Warn(ctx, "no fresh readings, serving stored series", "user_id", userID,
		"points", len(stored.Points), "official_error", errs[models.SourceOfficial], "share_error", errs[models.SourceShare])
	return stored, nil
}

// poll runs both adapters under one timeout. Each goroutine records its
// own error and returns nil so the group never cancels the sibling.
func (e *Engine) poll(ctx context.Context, userID string, window models.TimeRange) (official, share []models.GlucoseReading, errs map[models.Source]error) {
	if e.cfg.FetchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.FetchTimeout)
		defer cancel()
	}

	var offErr, shareErr error
	var g errgroup.Group
	g.Go(func() error {
		official, offErr = fetchOne(ctx, e.official, userID, window)
		return nil
	})
	g.Go(func() error {
		share, shareErr = fetchOne(ctx, e.share, userID, window)
		return nil
	})
	_ = g.Wait()

	errs = map[models.Source]error{}
	if offErr != nil {
		errs[models.SourceOfficial] = offErr
		official = nil
		e.log.Warn(ctx, "official source failed", "user_id", userID, "kind", common.KindOf(offErr), "error", offErr)
	}
	if shareErr != nil {
		errs[models.SourceShare] = shareErr
		share = nil
		e.log.Warn(ctx, "share source failed", "user_id", userID, "kind", common.KindOf(shareErr), "error", shareErr)
	}
	return official, share, errs
}

func fetchOne(ctx context.Context, a sources.Adapter, userID string, window models.TimeRange) ([]models.GlucoseReading, error) {
	if a == nil {
		return nil, errNotConfigured
	}
	rs, err := a.FetchReadings(ctx, userID, window)
	if err != nil && errors.Is(err, context.DeadlineExceeded) {
		return nil, common.E(common.KindNetwork, "reconcile."+string(a.Source()), fmt.Errorf("%w: %w", common.ErrTimeout, err))
	}
	return rs, err
}

// persist stores every accepted reading of both sources, disagreements
// included, and the quality events. Readings already stored are skipped.
func (e *Engine) persist(ctx context.Context, userID string, s Series) error {
	now := e.now.Now()
	err := e.core.Save(ctx, func(ctx context.Context, tx *txn.Tx) error {
		repo := readings.NewSQLiteRepository(tx.DB())
		if err := repo.EnsureUser(ctx, userID, now); err != nil {
			return err
		}
		tx.Touch(models.EntityUser, userID)
		for _, ev := range s.Rejected {
			if err := repo.InsertQualityEvent(ctx, ev); err != nil {
				return err
			}
		}
		if len(s.Rejected) > 0 {
			tx.TouchAll(models.EntityQualityEvent)
		}
		return nil
	})
	if err != nil {
		return err
	}

	res, err := txn.BatchInsert(ctx, e.core.Tx, models.EntityGlucoseReading, s.accepted,
		func(ctx context.Context, db dbx.DBTX, r models.GlucoseReading) (bool, error) {
			return readings.NewSQLiteRepository(db).InsertIfAbsent(ctx, r, now)
		}, txn.BatchOptions{})
	if err != nil {
		return err
	}
	e.log.Debug(ctx, "readings stored", "user_id", userID, "inserted", res.Inserted, "batches", res.Batches)
	return nil
}

// Stored reconciles the readings already in the local store. It goes
// through the query cache, so repeated views of the same window are cheap
// until new readings land.
func (e *Engine) Stored(ctx context.Context, userID string, window models.TimeRange) (Series, error) {
	rs, err := persistence.Fetch(ctx, e.core, readings.RangeQuery(userID, window), persistence.CachePolicyDefault, readings.Mapper)
	if err != nil {
		return Series{}, err
	}
	return e.reconcileStored(userID, rs, window), nil
}

// lastKnownLimit is three hours of five-minute readings per source.
const lastKnownLimit = 72

// lastKnown reconciles the newest stored readings before window.End. The
// returned series covers the span of those readings, not the window.
func (e *Engine) lastKnown(ctx context.Context, userID string, window models.TimeRange) (Series, error) {
	rs, err := persistence.Fetch(ctx, e.core, readings.RecentQuery(userID, window.End, lastKnownLimit), persistence.CachePolicyDefault, readings.Mapper)
	if err != nil {
		return Series{}, err
	}
	if len(rs) == 0 {
		return e.reconcileStored(userID, nil, window), nil
	}
	// newest first
	span := models.TimeRange{Start: rs[len(rs)-1].Timestamp, End: rs[0].Timestamp.Add(time.Minute)}
	return e.reconcileStored(userID, rs, span), nil
}

func (e *Engine) reconcileStored(userID string, rs []models.GlucoseReading, window models.TimeRange) Series {
	var official, share []models.GlucoseReading
	for _, r := range rs {
		if r.Source == models.SourceShare {
			share = append(share, r)
		} else {
			official = append(official, r)
		}
	}
	opts := e.options(userID)
	// stored rows passed validation on the way in; only the window applies now
	opts.Retention = 0
	return Reconcile(official, share, window, opts)
}
