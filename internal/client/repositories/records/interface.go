// Package records persists syncable memory records (facts, summaries,
// preferences, patterns) and the per-category sync state.
package records

import (
	"context"
	"time"

	"github.com/dmitrijs2005/balli/internal/client/models"
)

type Repository interface {
	// Upsert writes a local edit. The record becomes unsynced.
	Upsert(ctx context.Context, r models.SyncableRecord) error

	// ApplyRemote stores a record received from the remote store as synced.
	ApplyRemote(ctx context.Context, r models.SyncableRecord) error

	// Get returns the record or nil when it does not exist.
	Get(ctx context.Context, id string) (*models.SyncableRecord, error)

	ListUnsynced(ctx context.Context, userID string, category models.Category) ([]models.SyncableRecord, error)
	ListByCategory(ctx context.Context, userID string, category models.Category, includeDeleted bool) ([]models.SyncableRecord, error)

	// MarkSynced flags the record as acknowledged, but only when it was not
	// edited again after lastModifiedAt. It reports whether the flag was set.
	MarkSynced(ctx context.Context, id string, lastModifiedAt time.Time) (bool, error)

	GetSyncState(ctx context.Context, userID string, category models.Category) (*models.SyncState, error)
	SetSyncState(ctx context.Context, s models.SyncState) error
}
