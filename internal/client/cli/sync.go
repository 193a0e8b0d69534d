package cli

import (
	"context"
)

// Sync runs one sync pass over every category and prints its report.
func (a *App) Sync(ctx context.Context) error {
	rep, err := a.syncer.Sync(ctx, a.cfg.UserID)
	for _, c := range rep.Categories {
		if c.Err != nil {
			a.printf("  %-11s failed: %v\n", c.Category, c.Err)
			continue
		}
		a.printf("  %-11s up %d, down %d (new %d, overwritten %d, kept %d, rejected %d)\n",
			c.Category, c.Uploaded, c.Downloaded, c.Created, c.Overwritten, c.KeptLocal, c.Rejected)
	}
	if err != nil {
		return err
	}
	a.printf("Sync done\n")
	return nil
}
