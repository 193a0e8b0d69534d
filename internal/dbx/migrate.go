package dbx

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"

	"github.com/pressly/goose/v3"
)

// gooseUp is a test seam.
var gooseUp = func(ctx context.Context, p *goose.Provider) ([]*goose.MigrationResult, error) {
	return p.Up(ctx)
}

// Migrate applies all pending goose migrations found at the root of fsys.
// It is idempotent.
func Migrate(ctx context.Context, db *sql.DB, dialect goose.Dialect, fsys fs.FS) error {
	p, err := goose.NewProvider(dialect, db, fsys)
	if err != nil {
		return fmt.Errorf("goose provider: %w", err)
	}
	if _, err := gooseUp(ctx, p); err != nil {
		return fmt.Errorf("goose up: %w", err)
	}
	return nil
}
