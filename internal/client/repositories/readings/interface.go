package readings

import (
	"context"
	"time"

	"github.com/dmitrijs2005/balli/internal/client/models"
)

// Repository describes storage of readings, quality events and the users
// they belong to.
type Repository interface {
	// InsertIfAbsent stores r unless a reading with the same key exists and
	// reports whether a row was created.
	InsertIfAbsent(ctx context.Context, r models.GlucoseReading, fetchedAt time.Time) (bool, error)

	// ListRange returns the readings of a user in window, oldest first.
	ListRange(ctx context.Context, userID string, window models.TimeRange) ([]models.GlucoseReading, error)

	// ListBySource is ListRange restricted to one source.
	ListBySource(ctx context.Context, userID string, source models.Source, window models.TimeRange) ([]models.GlucoseReading, error)

	// Latest returns the newest reading of source, or nil.
	Latest(ctx context.Context, userID string, source models.Source) (*models.GlucoseReading, error)

	InsertQualityEvent(ctx context.Context, e models.DataQualityEvent) error
	ListQualityEvents(ctx context.Context, userID string, limit int) ([]models.DataQualityEvent, error)

	// EnsureUser creates the user row on first use.
	EnsureUser(ctx context.Context, userID string, now time.Time) error
}
