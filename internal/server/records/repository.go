// Package records stores memory records on the sync server and applies
// the same last-write-wins rule as the clients.
package records

import (
	"context"

	"github.com/dmitrijs2005/balli/internal/server/models"
)

type Repository interface {
	// Upsert stores rec unless a record with the same id is already at
	// least as recent or belongs to another user. It reports whether rec
	// was written.
	Upsert(ctx context.Context, rec models.Record) (bool, error)
	List(ctx context.Context, userID string, category models.Category) ([]models.Record, error)
}
