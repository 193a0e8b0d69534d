package records

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/balli/internal/common"
	"github.com/dmitrijs2005/balli/internal/dbx"
	"github.com/dmitrijs2005/balli/internal/logging"
	"github.com/dmitrijs2005/balli/internal/metrics"
	"github.com/dmitrijs2005/balli/internal/server/models"
)

// PushResult counts what a push changed.
type PushResult struct {
	Applied int `json:"applied"`
	Ignored int `json:"ignored"`
}

type Service struct {
	db      *sql.DB
	repo    func(dbx.DBTX) Repository
	log     logging.Logger
	metrics *metrics.Collector
}

func NewService(db *sql.DB, log logging.Logger, m *metrics.Collector) *Service {
	return &Service{
		db:      db,
		repo:    func(tx dbx.DBTX) Repository { return NewPostgresRepository(tx) },
		log:     log,
		metrics: m,
	}
}

// Push stores recs of one user and category in a single transaction.
// Every record is validated first; one invalid record rejects the batch.
func (s *Service) Push(ctx context.Context, userID string, category models.Category, recs []models.Record) (PushResult, error) {
	var res PushResult
	if err := checkScope(userID, category); err != nil {
		return res, err
	}

	var errs []error
	for _, r := range recs {
		if err := r.Validate(); err != nil {
			errs = append(errs, err)
			continue
		}
		if r.UserID != userID || r.Category != category {
			errs = append(errs, common.E(common.KindValidation, "push", fmt.Errorf("%s: outside %s/%s", r.ID, userID, category)))
		}
	}
	if len(errs) > 0 {
		return res, errors.Join(errs...)
	}

	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := s.repo(tx)
		for _, r := range recs {
			applied, err := repo.Upsert(ctx, r)
			if err != nil {
				return err
			}
			if applied {
				res.Applied++
			} else {
				res.Ignored++
			}
		}
		return nil
	})
	if err != nil {
		return PushResult{}, err
	}

	s.metrics.SyncRecords(string(category), "received", res.Applied)
	s.log.Info(ctx, "records pushed", "user_id", userID, "category", category, "applied", res.Applied, "ignored", res.Ignored)
	return res, nil
}

// Pull returns every record of a user and category, tombstones included.
func (s *Service) Pull(ctx context.Context, userID string, category models.Category) ([]models.Record, error) {
	if err := checkScope(userID, category); err != nil {
		return nil, err
	}
	recs, err := s.repo(s.db).List(ctx, userID, category)
	if err != nil {
		return nil, err
	}
	s.metrics.SyncRecords(string(category), "served", len(recs))
	return recs, nil
}

// Ping reports whether the database is reachable.
func (s *Service) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func checkScope(userID string, category models.Category) error {
	if userID == "" {
		return common.E(common.KindValidation, "records", errors.New("missing user id"))
	}
	if !category.Valid() {
		return common.E(common.KindValidation, "records", fmt.Errorf("unknown category %q", category))
	}
	return nil
}
